// Package commands implements the thinfleet command line.
package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"thinfleet/pkg/config"
	"thinfleet/pkg/models"
	"thinfleet/pkg/output"
)

// app carries the state shared by every subcommand of one invocation
type app struct {
	v   *viper.Viper
	cfg *config.Config
	out *output.Formatter
	svc *services
}

// failure is printed for business errors; the process still exits 0
type failure struct {
	Success bool             `json:"success"`
	Error   string           `json:"error"`
	Kind    models.ErrorKind `json:"error_kind"`
}

// NewRootCommand builds the command tree
func NewRootCommand() *cobra.Command {
	a := &app{v: viper.New()}

	root := &cobra.Command{
		Use:   "thinfleet",
		Short: "Thin-client fleet registry and deployment orchestrator",
		Long: `Registers thin-client devices and OS images and deploys images to devices
by network boot (pxe), removable media (usb) or the on-device agent (network).`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return a.close()
		},
	}

	root.PersistentFlags().String("config", "", "config file (default: ./thinfleet.yaml, /etc/thinfleet/thinfleet.yaml)")
	root.PersistentFlags().String("env-file", "", "environment file loaded before the process environment")
	root.PersistentFlags().String("log-level", "", "log level (trace|debug|info|warn|error)")
	output.AddFormatFlag(root)

	a.v.SetEnvPrefix("THINFLEET")
	a.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	a.v.AutomaticEnv()
	a.v.BindPFlag("config", root.PersistentFlags().Lookup("config"))
	a.v.BindPFlag("env_file", root.PersistentFlags().Lookup("env-file"))
	a.v.BindPFlag("log_level", root.PersistentFlags().Lookup("log-level"))
	a.v.BindPFlag("output", root.PersistentFlags().Lookup("output"))

	root.AddCommand(
		newRegisterDeviceCommand(a),
		newListCommand(a),
		newRegisterImageCommand(a),
		newListImagesCommand(a),
		newVerifyImageCommand(a),
		newDeployCommand(a),
		newCleanupCommand(a),
		newCompleteCommand(a),
		newAgentTokenCommand(a),
		newServeCommand(a),
	)

	return root
}

// Execute runs the command line and exits non-zero on usage or system errors
func Execute() {
	if err := NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func (a *app) setup(cmd *cobra.Command) error {
	configFile := a.v.GetString("config")
	if configFile == "" {
		configFile = config.FindConfigFile(config.ServiceName)
	}
	envFile := a.v.GetString("env_file")
	if envFile == "" {
		envFile = config.FindEnvironmentFile(config.ServiceName)
	}

	cfg, err := config.Load(configFile, envFile)
	if err != nil {
		return err
	}
	if level := a.v.GetString("log_level"); level != "" {
		cfg.Log.Level = level
	}
	a.cfg = cfg

	configureLogging(cmd.ErrOrStderr(), cfg.Log)

	format, err := output.ParseFormat(a.v.GetString("output"))
	if err != nil {
		return err
	}
	if format == output.FormatAuto {
		format = output.Detect(cmd.OutOrStdout())
	}
	a.out = output.New(format)
	a.out.SetWriter(cmd.OutOrStdout())

	log.Debug().
		Str("config_file", configFile).
		Str("env_file", envFile).
		Msg("Configuration loaded")
	return nil
}

func configureLogging(w io.Writer, cfg config.LogConfig) {
	if strings.EqualFold(cfg.Format, "json") {
		log.Logger = zerolog.New(w).With().Timestamp().Logger()
	} else {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen})
	}
	cfg.ConfigureZerolog()
}

// render prints a successful result
func (a *app) render(data any, text func(w io.Writer) error) error {
	return a.out.Output(data, text)
}

// fail prints a business failure as a structured result. Errors that are not
// classified are returned so the process exits non-zero.
func (a *app) fail(err error) error {
	kind := models.KindOf(err)
	if kind == models.KindInternal {
		return err
	}

	log.Debug().Err(err).Str("kind", string(kind)).Msg("Command failed")
	return a.render(failure{Success: false, Error: err.Error(), Kind: kind}, func(w io.Writer) error {
		_, err := fmt.Fprintf(w, "Error (%s): %s\n", kind, err.Error())
		return err
	})
}

func (a *app) close() error {
	if a.svc == nil {
		return nil
	}
	err := a.svc.Close()
	a.svc = nil
	return err
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
