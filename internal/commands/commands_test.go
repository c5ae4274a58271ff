package commands

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type cli struct {
	t      *testing.T
	root   string
	config string
}

func newCLI(t *testing.T) *cli {
	t.Helper()
	root := t.TempDir()

	cfg := fmt.Sprintf(`log:
  level: error
database:
  dsn: file:%[1]s/fleet.db
paths:
  tftp_root: %[1]s/tftpboot
  http_root: %[1]s/www/images
  usb_dir: %[1]s/usb
reservation:
  enabled: true
  file: %[1]s/dnsmasq.d/vdi-devices.conf
  reload_command: "true"
`, root)

	path := filepath.Join(root, "thinfleet.yaml")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0644))
	return &cli{t: t, root: root, config: path}
}

func (c *cli) run(args ...string) (string, error) {
	c.t.Helper()

	cmd := NewRootCommand()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(append([]string{"--config", c.config}, args...))

	err := cmd.Execute()
	return out.String(), err
}

func (c *cli) runJSON(args ...string) map[string]any {
	c.t.Helper()

	out, err := c.run(args...)
	require.NoError(c.t, err)

	var v map[string]any
	require.NoError(c.t, json.Unmarshal([]byte(out), &v), out)
	return v
}

func (c *cli) writeImage(name, content string) string {
	c.t.Helper()
	path := filepath.Join(c.t.TempDir(), name)
	require.NoError(c.t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestCLI_DeployScenario(t *testing.T) {
	c := newCLI(t)

	dev := c.runJSON("register-device", "--mac", "AA:BB:CC:DD:EE:FF", "--ip", "192.168.100.50")
	assert.Equal(t, true, dev["success"])
	assert.Equal(t, "aabbccddeeff", dev["device_id"])
	assert.Nil(t, dev["warnings"])

	reservations, err := os.ReadFile(filepath.Join(c.root, "dnsmasq.d", "vdi-devices.conf"))
	require.NoError(t, err)
	assert.Equal(t, "dhcp-host=aa:bb:cc:dd:ee:ff,192.168.100.50,24h\n", string(reservations))

	img := c.runJSON("register-image", "--path", c.writeImage("base.img", "kiosk"), "--metadata", `{"name":"kiosk","version":"2.0"}`)
	assert.Equal(t, true, img["success"])
	imageID := img["image_id"].(string)
	assert.True(t, strings.HasPrefix(imageID, "kiosk-2.0-"))

	res := c.runJSON("deploy", "--device-id", "aabbccddeeff", "--image-id", imageID)
	assert.Equal(t, true, res["success"])
	assert.Equal(t, "deploying", res["status"])
	assert.Equal(t, "pxe", res["method"])
	assert.Equal(t, filepath.Join(c.root, "tftpboot", "pxelinux.cfg", "01-aa-bb-cc-dd-ee-ff"), res["pxe_config"])
	assert.True(t, strings.HasSuffix(res["image_url"].(string), "/images/base.img"))

	list := c.runJSON("list", "--device-id", "aabbccddeeff")
	deployments := list["deployments"].([]any)
	require.Len(t, deployments, 1)

	done := c.runJSON("complete", "--deployment-id", res["deployment_id"].(string))
	assert.Equal(t, true, done["success"])

	devices := c.runJSON("list", "--status", "active")
	assert.Len(t, devices["devices"].([]any), 1)

	clean := c.runJSON("cleanup", "--device-id", "aabbccddeeff")
	assert.Equal(t, true, clean["removed"])

	clean = c.runJSON("cleanup", "--device-id", "aabbccddeeff")
	assert.Equal(t, true, clean["success"])
	assert.Equal(t, false, clean["removed"])

	verified := c.runJSON("verify-image", "--image-id", imageID)
	assert.Equal(t, true, verified["success"])

	images := c.runJSON("list-images")
	assert.Len(t, images["images"].([]any), 1)
}

func TestCLI_BusinessFailuresExitZero(t *testing.T) {
	c := newCLI(t)

	res := c.runJSON("deploy", "--device-id", "ghost", "--image-id", "none")
	assert.Equal(t, false, res["success"])
	assert.Equal(t, "not_found", res["error_kind"])

	res = c.runJSON("register-device", "--mac", "not-a-mac")
	assert.Equal(t, false, res["success"])
	assert.Equal(t, "validation", res["error_kind"])

	res = c.runJSON("register-image", "--path", filepath.Join(c.root, "missing.img"))
	assert.Equal(t, "not_found", res["error_kind"])

	c.runJSON("register-device", "--mac", "aa:bb:cc:dd:ee:ff")
	img := c.runJSON("register-image", "--path", c.writeImage("base.img", "x"))
	res = c.runJSON("deploy", "--device-id", "aabbccddeeff", "--image-id", img["image_id"].(string), "--method", "floppy")
	assert.Equal(t, "unsupported_method", res["error_kind"])
}

func TestCLI_MissingRequiredFlag(t *testing.T) {
	c := newCLI(t)

	_, err := c.run("deploy", "--device-id", "x")
	assert.Error(t, err)

	_, err = c.run("register-device")
	assert.Error(t, err)
}

func TestCLI_InvalidConfigFails(t *testing.T) {
	c := newCLI(t)
	require.NoError(t, os.WriteFile(c.config, []byte("bogus_section: 1\n"), 0644))

	_, err := c.run("list")
	assert.Error(t, err)
}

func TestCLI_TextOutput(t *testing.T) {
	c := newCLI(t)

	out, err := c.run("--output", "text", "register-device", "--mac", "aa:bb:cc:dd:ee:ff", "--hostname", "lobby")
	require.NoError(t, err)
	assert.Equal(t, "Registered device aabbccddeeff (aa:bb:cc:dd:ee:ff)\n", out)

	out, err = c.run("--output", "text", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "DEVICE ID")
	assert.Contains(t, out, "lobby")
}

func TestCLI_OutputFromEnvironment(t *testing.T) {
	c := newCLI(t)
	t.Setenv("THINFLEET_OUTPUT", "text")

	out, err := c.run("list-images")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "IMAGE ID"), out)
}

func TestCLI_AgentToken(t *testing.T) {
	c := newCLI(t)
	t.Setenv("AGENT_JWT_SECRET", "")
	c.runJSON("register-device", "--mac", "aa:bb:cc:dd:ee:ff")

	res := c.runJSON("agent-token", "--device-id", "aabbccddeeff")
	assert.Equal(t, false, res["success"], "no secret configured")

	t.Setenv("AGENT_JWT_SECRET", "0123456789abcdef0123456789abcdef")
	res = c.runJSON("agent-token", "--device-id", "aabbccddeeff", "--ttl", "1h")
	assert.Equal(t, true, res["success"])
	assert.NotEmpty(t, res["token"])

	res = c.runJSON("agent-token", "--device-id", "ghost")
	assert.Equal(t, "not_found", res["error_kind"])
}
