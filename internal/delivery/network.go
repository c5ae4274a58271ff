package delivery

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"thinfleet/pkg/config"
	"thinfleet/pkg/models"
)

const networkInstructions = "Image update queued; the device agent applies it on its next heartbeat"

// Network queues an update_image command that the device agent picks up on heartbeat
type Network struct {
	queue CommandQueue
	opts  config.PXEConfig
	now   func() time.Time
}

// NewNetwork creates the agent push strategy
func NewNetwork(queue CommandQueue, opts config.PXEConfig) *Network {
	return &Network{queue: queue, opts: opts, now: time.Now}
}

// Deliver enqueues the command carrying the image location and digest
func (n *Network) Deliver(ctx context.Context, device *models.Device, image *models.Image, deploymentID string) (*models.DeliveryResult, error) {
	url := n.opts.ImageURL(filepath.Base(image.FilePath))

	cmd := &models.Command{
		CommandID:    uuid.NewString(),
		DeviceID:     device.DeviceID,
		DeploymentID: deploymentID,
		Type:         models.CommandUpdateImage,
		Data: map[string]any{
			"image_url":     url,
			"image_hash":    image.SHA256Hash,
			"image_id":      image.ImageID,
			"deployment_id": deploymentID,
		},
		Status:    models.CommandPending,
		CreatedAt: n.now().UTC(),
	}

	if err := n.queue.Enqueue(ctx, cmd); err != nil {
		return nil, fmt.Errorf("queue update_image command: %w", err)
	}

	log.Info().
		Str("device_id", device.DeviceID).
		Str("deployment_id", deploymentID).
		Str("command_id", cmd.CommandID).
		Msg("Image update queued for agent")

	return &models.DeliveryResult{
		Method:       models.MethodNetwork,
		ImageURL:     url,
		ImageHash:    image.SHA256Hash,
		CommandID:    cmd.CommandID,
		Instructions: networkInstructions,
	}, nil
}
