package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("", "")
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "/var/lib/tftpboot", cfg.Paths.TFTPRoot)
	assert.Equal(t, "/var/www/html/images", cfg.Paths.HTTPRoot)
	assert.Equal(t, os.TempDir(), cfg.Paths.USBDir)
	assert.Equal(t, "192.168.100.1", cfg.PXE.ServerIP)
	assert.Equal(t, "24h", cfg.Reservation.Lease)
	assert.Equal(t, 30*time.Second, cfg.Reservation.ReloadTimeout)
	assert.True(t, cfg.Reservation.Enabled)
	assert.True(t, cfg.Deploy.VerifyImage)
	assert.Equal(t, 8080, cfg.AgentAPI.Port)
	assert.Equal(t, 720*time.Hour, cfg.AgentAPI.TokenTTL)
}

func TestLoad_YAMLOverridesDefaults(t *testing.T) {
	path := writeFile(t, "thinfleet.yaml", `
log:
  level: debug
paths:
  tftp_root: /srv/tftp
  http_root: /srv/http/images
pxe:
  server_ip: 10.0.0.5
reservation:
  enabled: false
deploy:
  lock_timeout: 5s
`)

	cfg, err := Load(path, "")
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "/srv/tftp", cfg.Paths.TFTPRoot)
	assert.Equal(t, "/srv/http/images", cfg.Paths.HTTPRoot)
	assert.Equal(t, "10.0.0.5", cfg.PXE.ServerIP)
	assert.False(t, cfg.Reservation.Enabled)
	assert.Equal(t, 5*time.Second, cfg.Deploy.LockTimeout)
	// untouched sections keep their defaults
	assert.Equal(t, "/dev/sda", cfg.USB.TargetDevice)
}

func TestLoad_RejectsUnknownKeys(t *testing.T) {
	path := writeFile(t, "thinfleet.yaml", `
pxe:
  server_ip: 10.0.0.5
  sever_ip: 10.0.0.6
`)

	_, err := Load(path, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sever_ip")
}

func TestLoad_RejectsUnknownSection(t *testing.T) {
	path := writeFile(t, "thinfleet.yaml", "max_concurrent_deployments: 10\n")

	_, err := Load(path, "")
	require.Error(t, err)
}

func TestLoad_EmptyFile(t *testing.T) {
	path := writeFile(t, "thinfleet.yaml", "")

	cfg, err := Load(path, "")
	require.NoError(t, err)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoad_MissingFileIsOptional(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"), "")
	require.NoError(t, err)
	assert.NotNil(t, cfg)
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	t.Setenv("PXE_SERVER_IP", "10.1.1.1")
	t.Setenv("THINFLEET_TFTP_ROOT", "/env/tftp")
	t.Setenv("TFTP_ROOT", "/ignored")

	cfg, err := Load("", "")
	require.NoError(t, err)

	assert.Equal(t, "10.1.1.1", cfg.PXE.ServerIP)
	assert.Equal(t, "/env/tftp", cfg.Paths.TFTPRoot, "service specific variable wins")
}

func TestLoad_EnvironmentFile(t *testing.T) {
	envFile := writeFile(t, "thinfleet.env", `
# comment
RESERVATION_LEASE="12h"
`)
	t.Setenv("RESERVATION_LEASE", "")
	os.Unsetenv("RESERVATION_LEASE")

	cfg, err := Load("", envFile)
	require.NoError(t, err)
	assert.Equal(t, "12h", cfg.Reservation.Lease)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"bad server ip", func(c *Config) { c.PXE.ServerIP = "pxe-host" }, true},
		{"empty dsn", func(c *Config) { c.Database.DSN = "" }, true},
		{"relative url path", func(c *Config) { c.PXE.ImageURLPath = "images" }, true},
		{"port out of range", func(c *Config) { c.AgentAPI.Port = 70000 }, true},
		{"short jwt secret", func(c *Config) { c.AgentAPI.JWTSecret = "short" }, true},
		{"reservations off skip file check", func(c *Config) {
			c.Reservation.Enabled = false
			c.Reservation.File = ""
		}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestPXEConfig_ImageURL(t *testing.T) {
	tests := []struct {
		name     string
		serverIP string
		urlPath  string
		file     string
		want     string
	}{
		{"default", "192.168.100.1", "/images", "base.img", "http://192.168.100.1/images/base.img"},
		{"trailing slash", "192.168.100.1", "/srv/", "base.img", "http://192.168.100.1/srv/base.img"},
		{"space escaped", "192.168.100.1", "/images", "kiosk v2.img", "http://192.168.100.1/images/kiosk%20v2.img"},
		{"ipv6 server", "fd00::1", "/images", "base.img", "http://[fd00::1]/images/base.img"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.PXE.ServerIP = tt.serverIP
			cfg.PXE.ImageURLPath = tt.urlPath
			assert.Equal(t, tt.want, cfg.PXE.ImageURL(tt.file))
		})
	}
}
