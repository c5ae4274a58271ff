package commands

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"thinfleet/internal/agentapi"
	"thinfleet/internal/auth"
)

const shutdownTimeout = 10 * time.Second

func newServeCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the agent callback API",
		Long: `Serve heartbeats, command results and deployment completion reports from
device agents and boot images, plus read-only listings and Prometheus metrics.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.core()
			if err != nil {
				return err
			}

			var tokens *auth.JWTManager
			if a.cfg.AgentAPI.JWTSecret != "" {
				tokens = auth.NewJWTManager(a.cfg.AgentAPI.JWTSecret)
			} else {
				log.Warn().Msg("AGENT_JWT_SECRET is not set; agent endpoints accept unauthenticated requests")
			}

			api := agentapi.NewServer(svc.devices, svc.images, svc.orchestrator, svc.db.Commands, tokens)
			server := api.HTTPServer(a.cfg.ListenAddress())

			ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
			defer stop()

			errCh := make(chan error, 1)
			go func() {
				log.Info().
					Str("address", a.cfg.ListenAddress()).
					Bool("auth", tokens != nil).
					Msg("Starting agent API server")
				log.Info().Msgf("Health check: http://%s/health", a.cfg.ListenAddress())
				errCh <- server.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				if !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			case <-ctx.Done():
			}

			log.Info().Msg("Shutting down agent API server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		},
	}
}
