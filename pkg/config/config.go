package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"path"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// ServiceName prefixes service specific environment overrides (THINFLEET_...)
const ServiceName = "thinfleet"

// Config contains all configuration for the fleet manager
type Config struct {
	Log         LogConfig         `yaml:"log"`
	Database    DatabaseConfig    `yaml:"database"`
	Paths       PathsConfig       `yaml:"paths"`
	PXE         PXEConfig         `yaml:"pxe"`
	USB         USBConfig         `yaml:"usb"`
	Reservation ReservationConfig `yaml:"reservation"`
	Deploy      DeployConfig      `yaml:"deploy"`
	AgentAPI    AgentAPIConfig    `yaml:"agent_api"`
}

// LogConfig configures logging behavior
type LogConfig struct {
	Level  string `yaml:"level" env:"LOG_LEVEL" default:"info"`
	Format string `yaml:"format" env:"LOG_FORMAT" default:"console"`
	Debug  bool   `yaml:"debug" env:"DEBUG" default:"false"`
}

// ConfigureZerolog configures zerolog based on the log configuration
func (c *LogConfig) ConfigureZerolog() {
	level := zerolog.InfoLevel
	if c.Debug {
		level = zerolog.DebugLevel
	} else {
		switch strings.ToLower(c.Level) {
		case "trace":
			level = zerolog.TraceLevel
		case "debug":
			level = zerolog.DebugLevel
		case "info":
			level = zerolog.InfoLevel
		case "warn", "warning":
			level = zerolog.WarnLevel
		case "error":
			level = zerolog.ErrorLevel
		}
	}
	zerolog.SetGlobalLevel(level)
}

// DatabaseConfig configures the SQLite store
type DatabaseConfig struct {
	DSN   string `yaml:"dsn" env:"DATABASE_URL" default:"file:/var/lib/vdi/devices.db"`
	Debug bool   `yaml:"debug" env:"DATABASE_DEBUG" default:"false"`
}

// PathsConfig locates the directories read by the external boot and file servers
type PathsConfig struct {
	TFTPRoot string `yaml:"tftp_root" env:"TFTP_ROOT" default:"/var/lib/tftpboot"`
	HTTPRoot string `yaml:"http_root" env:"HTTP_ROOT" default:"/var/www/html/images"`
	// USBDir defaults to the system temp directory when empty
	USBDir string `yaml:"usb_dir" env:"USB_DIR"`
}

// PXEConfig shapes the generated pxelinux boot menu
type PXEConfig struct {
	ServerIP     string `yaml:"server_ip" env:"PXE_SERVER_IP" default:"192.168.100.1"`
	ImageURLPath string `yaml:"image_url_path" env:"PXE_IMAGE_URL_PATH" default:"/images"`
	Label        string `yaml:"label" env:"PXE_LABEL" default:"vdi-deploy"`
	Kernel       string `yaml:"kernel" env:"PXE_KERNEL" default:"images/deploy/vmlinuz"`
	Initrd       string `yaml:"initrd" env:"PXE_INITRD" default:"images/deploy/initrd.img"`
}

// USBConfig configures offline USB packages
type USBConfig struct {
	TargetDevice string `yaml:"target_device" env:"USB_TARGET_DEVICE" default:"/dev/sda"`
}

// ReservationConfig configures the dnsmasq reservation table
type ReservationConfig struct {
	Enabled       bool          `yaml:"enabled" env:"RESERVATION_ENABLED" default:"true"`
	File          string        `yaml:"file" env:"RESERVATION_FILE" default:"/etc/dnsmasq.d/vdi-devices.conf"`
	Lease         string        `yaml:"lease" env:"RESERVATION_LEASE" default:"24h"`
	ReloadCommand string        `yaml:"reload_command" env:"RESERVATION_RELOAD_COMMAND" default:"systemctl restart dnsmasq"`
	ReloadTimeout time.Duration `yaml:"reload_timeout" env:"RESERVATION_RELOAD_TIMEOUT" default:"30s"`
}

// DeployConfig tunes the orchestrator
type DeployConfig struct {
	VerifyImage bool `yaml:"verify_image" env:"DEPLOY_VERIFY_IMAGE" default:"true"`
	// LockTimeout bounds the wait for a device already being deployed; 0 waits for the caller's context
	LockTimeout time.Duration `yaml:"lock_timeout" env:"DEPLOY_LOCK_TIMEOUT" default:"0s"`
}

// AgentAPIConfig configures the agent callback HTTP API
type AgentAPIConfig struct {
	Host      string        `yaml:"host" env:"AGENT_API_HOST" default:"0.0.0.0"`
	Port      int           `yaml:"port" env:"AGENT_API_PORT" default:"8080"`
	JWTSecret string        `yaml:"-" env:"AGENT_JWT_SECRET"`
	TokenTTL  time.Duration `yaml:"token_ttl" env:"AGENT_TOKEN_TTL" default:"720h"`
}

// Load loads the configuration from defaults, configFile, envFile and the environment
func Load(configFile, envFile string) (*Config, error) {
	cfg := &Config{}

	loader := NewLoader(LoaderConfig{
		ConfigFile:      configFile,
		EnvironmentFile: envFile,
		ServiceName:     ServiceName,
	})

	if err := loader.Load(cfg); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if cfg.Paths.USBDir == "" {
		cfg.Paths.USBDir = os.TempDir()
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Default returns the configuration built from struct defaults only
func Default() *Config {
	cfg := &Config{}
	// defaults are static tags, they cannot fail to parse
	_ = NewLoader(LoaderConfig{}).setDefaults(cfg)
	cfg.Paths.USBDir = os.TempDir()
	return cfg
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Database.DSN == "" {
		return fmt.Errorf("database DSN is required")
	}

	if c.Paths.TFTPRoot == "" || c.Paths.HTTPRoot == "" {
		return fmt.Errorf("tftp_root and http_root are required")
	}

	if net.ParseIP(c.PXE.ServerIP) == nil {
		return fmt.Errorf("pxe server_ip %q is not an IP address", c.PXE.ServerIP)
	}

	if !strings.HasPrefix(c.PXE.ImageURLPath, "/") {
		return fmt.Errorf("pxe image_url_path must start with '/'")
	}

	if c.USB.TargetDevice == "" {
		return fmt.Errorf("usb target_device is required")
	}

	if c.Reservation.Enabled {
		if c.Reservation.File == "" {
			return fmt.Errorf("reservation file is required when reservations are enabled")
		}
		if c.Reservation.ReloadTimeout <= 0 {
			return fmt.Errorf("reservation reload_timeout must be positive")
		}
	}

	if c.Deploy.LockTimeout < 0 {
		return fmt.Errorf("deploy lock_timeout must not be negative")
	}

	if c.AgentAPI.Port < 1 || c.AgentAPI.Port > 65535 {
		return fmt.Errorf("agent api port must be between 1 and 65535")
	}

	if c.AgentAPI.JWTSecret != "" && len(c.AgentAPI.JWTSecret) < 32 {
		return fmt.Errorf("AGENT_JWT_SECRET must be at least 32 characters long")
	}

	return nil
}

// ListenAddress returns the address the agent API listens on
func (c *Config) ListenAddress() string {
	return net.JoinHostPort(c.AgentAPI.Host, fmt.Sprintf("%d", c.AgentAPI.Port))
}

// ImageURL returns the URL the external file server serves fileName under.
// The file name is escaped and IPv6 server addresses are bracketed.
func (p PXEConfig) ImageURL(fileName string) string {
	host := p.ServerIP
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	u := url.URL{
		Scheme: "http",
		Host:   host,
		Path:   path.Join(p.ImageURLPath, fileName),
	}
	return u.String()
}
