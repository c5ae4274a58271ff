package delivery

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"text/template"

	"github.com/rs/zerolog/log"

	"thinfleet/pkg/config"
	"thinfleet/pkg/fsutil"
	"thinfleet/pkg/models"
)

var pxeTemplate = template.Must(template.New("pxe").Parse(`DEFAULT {{.Label}}
LABEL {{.Label}}
    KERNEL {{.Kernel}}
    APPEND initrd={{.Initrd}} boot=live fetch={{.ImageURL}} quiet splash deployment_id={{.DeploymentID}}
`))

type pxeParams struct {
	Label        string
	Kernel       string
	Initrd       string
	ImageURL     string
	DeploymentID string
}

// PXE writes a per-device pxelinux entry that boots the deployment environment
type PXE struct {
	tftpRoot string
	httpRoot string
	opts     config.PXEConfig
}

// NewPXE creates the network boot strategy
func NewPXE(tftpRoot, httpRoot string, opts config.PXEConfig) *PXE {
	return &PXE{tftpRoot: tftpRoot, httpRoot: httpRoot, opts: opts}
}

// ConfigPath returns the pxelinux file read by a device with the given canonical MAC
func (p *PXE) ConfigPath(mac string) string {
	name := "01-" + strings.ReplaceAll(strings.ToLower(mac), ":", "-")
	return filepath.Join(p.tftpRoot, "pxelinux.cfg", name)
}

// Deliver publishes the image and writes the boot entry
func (p *PXE) Deliver(ctx context.Context, device *models.Device, image *models.Image, deploymentID string) (*models.DeliveryResult, error) {
	fileName, err := p.publish(image)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	url := p.opts.ImageURL(fileName)

	var buf bytes.Buffer
	err = pxeTemplate.Execute(&buf, pxeParams{
		Label:        p.opts.Label,
		Kernel:       p.opts.Kernel,
		Initrd:       p.opts.Initrd,
		ImageURL:     url,
		DeploymentID: deploymentID,
	})
	if err != nil {
		return nil, fmt.Errorf("render pxe config: %w", err)
	}

	path := p.ConfigPath(device.MACAddress)
	if err := fsutil.WriteFile(path, buf.Bytes(), 0644); err != nil {
		return nil, fmt.Errorf("write pxe config: %v: %w", err, models.ErrIO)
	}

	log.Info().
		Str("device_id", device.DeviceID).
		Str("deployment_id", deploymentID).
		Str("pxe_config", path).
		Msg("PXE config written")

	return &models.DeliveryResult{
		Method:    models.MethodPXE,
		PXEConfig: path,
		ImageURL:  url,
	}, nil
}

// publish makes sure the image is served from the HTTP root and returns its file name there
func (p *PXE) publish(image *models.Image) (string, error) {
	fileName := filepath.Base(image.FilePath)
	dest := filepath.Join(p.httpRoot, fileName)

	ok, err := fsutil.Exists(dest)
	if err != nil {
		return "", fmt.Errorf("stat %s: %v: %w", dest, err, models.ErrIO)
	}
	if ok {
		return fileName, nil
	}

	if _, err := fsutil.CopyFile(image.FilePath, dest, 0644); err != nil {
		return "", fmt.Errorf("publish image to %s: %v: %w", dest, err, models.ErrIO)
	}
	log.Info().Str("image_id", image.ImageID).Str("path", dest).Msg("Copied image to HTTP root")
	return fileName, nil
}

// Remove deletes the boot entry of the device. A missing file is not an error.
func (p *PXE) Remove(device *models.Device) (bool, error) {
	removed, err := fsutil.RemoveIfExists(p.ConfigPath(device.MACAddress))
	if err != nil {
		return false, fmt.Errorf("remove pxe config: %v: %w", err, models.ErrIO)
	}
	return removed, nil
}
