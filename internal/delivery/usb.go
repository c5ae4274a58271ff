package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"text/template"
	"time"

	"github.com/rs/zerolog/log"

	"thinfleet/pkg/fsutil"
	"thinfleet/pkg/models"
)

const (
	usbImageName  = "vdi-image.img"
	usbScriptName = "deploy.sh"
	usbInfoName   = "deployment-info.json"

	usbInstructions = "Copy package contents to USB drive and run deploy.sh on target device"
)

var deployScript = template.Must(template.New("deploy.sh").Parse(`#!/bin/bash
# USB deployment script for {{.DeviceID}}
# Generated: {{.Generated}}

DEVICE_ID="{{.DeviceID}}"
DEPLOYMENT_ID="{{.DeploymentID}}"
IMAGE_FILE="$(dirname "$0")/{{.ImageFile}}"
IMAGE_SHA256="{{.ImageSHA256}}"
TARGET_DEVICE="{{.TargetDevice}}"

echo "Starting USB deployment for device $DEVICE_ID"
echo "Deployment ID: $DEPLOYMENT_ID"

if command -v sha256sum >/dev/null 2>&1; then
    echo "Verifying image checksum..."
    echo "$IMAGE_SHA256  $IMAGE_FILE" | sha256sum -c - || { echo "Checksum mismatch"; exit 1; }
fi

echo "WARNING: This will erase all data on $TARGET_DEVICE"
read -p "Continue? (y/N): " -n 1 -r
echo
if [[ ! $REPLY =~ ^[Yy]$ ]]; then
    echo "Deployment cancelled"
    exit 1
fi

echo "Writing image to $TARGET_DEVICE..."
dd if="$IMAGE_FILE" of="$TARGET_DEVICE" bs=4M status=progress conv=fsync || exit 1

echo "Deployment completed successfully"
echo "Remove USB device and reboot to boot from installed image"
`))

type scriptParams struct {
	DeviceID     string
	DeploymentID string
	ImageFile    string
	ImageSHA256  string
	TargetDevice string
	Generated    string
}

// PackageInfo is written next to the image in a USB package
type PackageInfo struct {
	DeviceID     string    `json:"device_id"`
	DeploymentID string    `json:"deployment_id"`
	ImageName    string    `json:"image_name"`
	ImageVersion string    `json:"image_version"`
	ImageSHA256  string    `json:"image_sha256"`
	CreatedAt    time.Time `json:"created_at"`
}

// USB prepares an offline package that writes the image to the device's disk
type USB struct {
	dir          string
	targetDevice string
	now          func() time.Time
}

// NewUSB creates the removable media strategy writing packages under dir
func NewUSB(dir, targetDevice string) *USB {
	return &USB{dir: dir, targetDevice: targetDevice, now: time.Now}
}

// PackageDir returns the directory of the package for deploymentID
func (u *USB) PackageDir(deploymentID string) string {
	return filepath.Join(u.dir, "usb-deploy-"+deploymentID)
}

// Deliver builds the package in a temporary directory and renames it into place
func (u *USB) Deliver(ctx context.Context, device *models.Device, image *models.Image, deploymentID string) (*models.DeliveryResult, error) {
	if err := os.MkdirAll(u.dir, 0755); err != nil {
		return nil, fmt.Errorf("create %s: %v: %w", u.dir, err, models.ErrIO)
	}

	tmp, err := os.MkdirTemp(u.dir, ".usb-deploy-*")
	if err != nil {
		return nil, fmt.Errorf("create package directory: %v: %w", err, models.ErrIO)
	}
	defer os.RemoveAll(tmp)

	hash, err := fsutil.CopyFile(image.FilePath, filepath.Join(tmp, usbImageName), 0644)
	if err != nil {
		return nil, fmt.Errorf("copy image: %v: %w", err, models.ErrIO)
	}
	if hash != image.SHA256Hash {
		return nil, fmt.Errorf("image %s changed on disk: %w", image.ImageID, models.ErrIntegrity)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	now := u.now().UTC()

	var script bytes.Buffer
	err = deployScript.Execute(&script, scriptParams{
		DeviceID:     device.DeviceID,
		DeploymentID: deploymentID,
		ImageFile:    usbImageName,
		ImageSHA256:  image.SHA256Hash,
		TargetDevice: u.targetDevice,
		Generated:    now.Format(time.RFC3339),
	})
	if err != nil {
		return nil, fmt.Errorf("render deploy script: %w", err)
	}
	if err := fsutil.WriteFile(filepath.Join(tmp, usbScriptName), script.Bytes(), 0755); err != nil {
		return nil, fmt.Errorf("write deploy script: %v: %w", err, models.ErrIO)
	}

	info, err := json.MarshalIndent(PackageInfo{
		DeviceID:     device.DeviceID,
		DeploymentID: deploymentID,
		ImageName:    image.Name,
		ImageVersion: image.Version,
		ImageSHA256:  image.SHA256Hash,
		CreatedAt:    now,
	}, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode deployment info: %w", err)
	}
	if err := fsutil.WriteFile(filepath.Join(tmp, usbInfoName), info, 0644); err != nil {
		return nil, fmt.Errorf("write deployment info: %v: %w", err, models.ErrIO)
	}

	if err := os.Chmod(tmp, 0755); err != nil {
		return nil, fmt.Errorf("chmod package: %v: %w", err, models.ErrIO)
	}

	dest := u.PackageDir(deploymentID)
	if err := os.RemoveAll(dest); err != nil {
		return nil, fmt.Errorf("replace %s: %v: %w", dest, err, models.ErrIO)
	}
	if err := os.Rename(tmp, dest); err != nil {
		return nil, fmt.Errorf("move package into %s: %v: %w", dest, err, models.ErrIO)
	}

	log.Info().
		Str("device_id", device.DeviceID).
		Str("deployment_id", deploymentID).
		Str("package_directory", dest).
		Msg("USB package prepared")

	return &models.DeliveryResult{
		Method:           models.MethodUSB,
		PackageDirectory: dest,
		ImageHash:        image.SHA256Hash,
		Instructions:     usbInstructions,
	}, nil
}
