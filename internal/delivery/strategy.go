// Package delivery implements the ways an image reaches a device: a network
// boot entry, an offline USB package, or a command for the on-device agent.
package delivery

import (
	"context"
	"fmt"

	"thinfleet/pkg/config"
	"thinfleet/pkg/models"
)

// Strategy delivers an image to a device for one deployment
type Strategy interface {
	Deliver(ctx context.Context, device *models.Device, image *models.Image, deploymentID string) (*models.DeliveryResult, error)
}

// CommandQueue accepts commands for later pickup by the device agent
type CommandQueue interface {
	Enqueue(ctx context.Context, command *models.Command) error
}

// Set holds one strategy per deployment method
type Set struct {
	PXE     *PXE
	USB     *USB
	Network *Network
}

// NewSet builds every strategy from cfg
func NewSet(cfg *config.Config, queue CommandQueue) *Set {
	return &Set{
		PXE:     NewPXE(cfg.Paths.TFTPRoot, cfg.Paths.HTTPRoot, cfg.PXE),
		USB:     NewUSB(cfg.Paths.USBDir, cfg.USB.TargetDevice),
		Network: NewNetwork(queue, cfg.PXE),
	}
}

// For returns the strategy for method
func (s *Set) For(method models.DeploymentMethod) (Strategy, error) {
	switch method {
	case models.MethodPXE:
		return s.PXE, nil
	case models.MethodUSB:
		return s.USB, nil
	case models.MethodNetwork:
		return s.Network, nil
	default:
		return nil, fmt.Errorf("%w: %q", models.ErrUnsupportedMethod, method)
	}
}
