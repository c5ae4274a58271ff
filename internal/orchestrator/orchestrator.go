// Package orchestrator runs deployments: it records each attempt, hands the
// image to a delivery strategy and moves the deployment and device through
// their states.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"thinfleet/internal/database"
	"thinfleet/internal/delivery"
	"thinfleet/internal/metrics"
	"thinfleet/pkg/config"
	"thinfleet/pkg/models"
)

const maxIDAttempts = 100

// Devices is the part of the device registry the orchestrator needs
type Devices interface {
	Get(ctx context.Context, deviceID string) (*models.Device, error)
	SetStatus(ctx context.Context, deviceID string, status models.DeviceStatus, currentImage, targetImage *string) error
}

// Images is the part of the image registry the orchestrator needs
type Images interface {
	Get(ctx context.Context, imageID string) (*models.Image, error)
	Verify(ctx context.Context, imageID string) (*models.Image, error)
}

// CleanupResult reports what Cleanup removed
type CleanupResult struct {
	Success   bool   `json:"success"`
	DeviceID  string `json:"device_id"`
	Removed   bool   `json:"removed"`
	PXEConfig string `json:"pxe_config,omitempty"`
}

// Orchestrator coordinates deployments
type Orchestrator struct {
	devices     Devices
	images      Images
	deployments database.DeploymentRepository
	strategies  *delivery.Set
	locks       *deviceLocks
	verify      bool
	now         func() time.Time
}

// Option configures an Orchestrator
type Option func(*Orchestrator)

// WithClock replaces the time source
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		o.now = now
	}
}

// New creates an orchestrator
func New(devices Devices, images Images, deployments database.DeploymentRepository, strategies *delivery.Set, cfg config.DeployConfig, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		devices:     devices,
		images:      images,
		deployments: deployments,
		strategies:  strategies,
		locks:       newDeviceLocks(cfg.LockTimeout),
		verify:      cfg.VerifyImage,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Deploy delivers imageID to deviceID with the given method.
//
// Unknown methods, missing devices or images and lock waits that end with ctx
// are returned as errors and leave no deployment row behind. Once the row
// exists, delivery failures are reported in the result with Success false.
func (o *Orchestrator) Deploy(ctx context.Context, deviceID, imageID, method string) (*models.DeploymentResult, error) {
	m, err := models.ParseMethod(method)
	if err != nil {
		return nil, err
	}
	strategy, err := o.strategies.For(m)
	if err != nil {
		return nil, err
	}

	unlock, err := o.locks.lock(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	device, err := o.devices.Get(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	image, err := o.images.Get(ctx, imageID)
	if err != nil {
		return nil, err
	}

	now := o.now().UTC()
	deployment := &models.Deployment{
		DeviceID:         device.DeviceID,
		ImageID:          image.ImageID,
		DeploymentMethod: m,
		Status:           models.DeploymentPending,
		CreatedAt:        now,
	}
	if err := o.create(ctx, deployment); err != nil {
		return nil, err
	}

	logger := log.With().
		Str("deployment_id", deployment.DeploymentID).
		Str("device_id", device.DeviceID).
		Str("image_id", image.ImageID).
		Str("method", string(m)).
		Logger()

	superseded, err := o.deployments.FailActive(ctx, device.DeviceID, deployment.DeploymentID,
		"superseded by "+deployment.DeploymentID, now)
	if err != nil {
		return nil, fmt.Errorf("failed to supersede previous deployments: %w", err)
	}
	if superseded > 0 {
		logger.Info().Int64("superseded", superseded).Msg("Previous deployments superseded")
	}

	var (
		result     *models.DeliveryResult
		deliverErr error
	)
	if o.verify {
		_, deliverErr = o.images.Verify(ctx, image.ImageID)
	}
	if deliverErr == nil {
		start := time.Now()
		result, deliverErr = strategy.Deliver(ctx, device, image, deployment.DeploymentID)
		metrics.DeliveryDuration.WithLabelValues(string(m)).Observe(time.Since(start).Seconds())
	}

	// The outcome is recorded even if the caller gave up meanwhile
	ctx = context.WithoutCancel(ctx)
	done := o.now().UTC()

	if deliverErr != nil {
		deployment.Status = models.DeploymentFailed
		deployment.ErrorMessage = deliverErr.Error()
		deployment.CompletedAt = &done
		if err := o.deployments.Update(ctx, deployment); err != nil {
			return nil, fmt.Errorf("failed to record deployment failure: %w", err)
		}
		if err := o.devices.SetStatus(ctx, device.DeviceID, models.DeviceStatusError, nil, nil); err != nil {
			logger.Warn().Err(err).Msg("Failed to mark device as errored")
		}

		metrics.DeploymentsTotal.WithLabelValues(string(m), string(deployment.Status)).Inc()
		logger.Error().Err(deliverErr).Msg("Deployment failed")

		return &models.DeploymentResult{
			Success:      false,
			DeploymentID: deployment.DeploymentID,
			Status:       string(deployment.Status),
			Error:        deliverErr.Error(),
			ErrorKind:    models.KindOf(deliverErr),
		}, nil
	}

	deployment.Status = models.DeploymentDeploying
	deployment.StartedAt = &done
	if err := o.deployments.Update(ctx, deployment); err != nil {
		return nil, fmt.Errorf("failed to record deployment start: %w", err)
	}
	target := image.ImageID
	if err := o.devices.SetStatus(ctx, device.DeviceID, models.DeviceStatusDeploying, nil, &target); err != nil {
		return nil, fmt.Errorf("failed to update device status: %w", err)
	}

	metrics.DeploymentsTotal.WithLabelValues(string(m), string(deployment.Status)).Inc()
	logger.Info().Msg("Deployment dispatched")

	return &models.DeploymentResult{
		Success:        true,
		DeploymentID:   deployment.DeploymentID,
		Status:         string(deployment.Status),
		DeliveryResult: result,
	}, nil
}

// create inserts deployment under a fresh id, adding a numeric suffix when
// another deployment of the same device started within the same second.
func (o *Orchestrator) create(ctx context.Context, deployment *models.Deployment) error {
	base := DeploymentID(deployment.CreatedAt, deployment.DeviceID)

	for n := 1; n <= maxIDAttempts; n++ {
		deployment.DeploymentID = base
		if n > 1 {
			deployment.DeploymentID = fmt.Sprintf("%s-%d", base, n)
		}

		inserted, err := o.deployments.Create(ctx, deployment)
		if err != nil {
			return fmt.Errorf("failed to create deployment: %w", err)
		}
		if inserted {
			return nil
		}
	}
	return fmt.Errorf("no free deployment id for %s", base)
}

// DeploymentID formats the id of a deployment started at t
func DeploymentID(t time.Time, deviceID string) string {
	prefix := deviceID
	if len(prefix) > 8 {
		prefix = prefix[:8]
	}
	return fmt.Sprintf("deploy-%s-%s", t.UTC().Format("20060102-150405"), prefix)
}

// Complete records the final outcome of a deployment. Reporting the outcome a
// deployment already has is a no-op; contradicting it is a validation error.
func (o *Orchestrator) Complete(ctx context.Context, deploymentID string, report models.CompletionReport) (*models.Deployment, error) {
	deployment, err := o.deployments.Get(ctx, deploymentID)
	if err != nil {
		return nil, err
	}

	unlock, err := o.locks.lock(ctx, deployment.DeviceID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	// Reload under the lock; a concurrent deploy may have superseded it
	deployment, err = o.deployments.Get(ctx, deploymentID)
	if err != nil {
		return nil, err
	}

	want := models.DeploymentFailed
	if report.Success {
		want = models.DeploymentCompleted
	}

	if deployment.Status.Terminal() {
		if deployment.Status == want {
			return deployment, nil
		}
		return nil, fmt.Errorf("deployment %s is already %s: %w", deploymentID, deployment.Status, models.ErrValidation)
	}
	if deployment.Status == models.DeploymentPending && report.Success {
		return nil, fmt.Errorf("deployment %s was never dispatched: %w", deploymentID, models.ErrValidation)
	}

	now := o.now().UTC()
	deployment.Status = want
	deployment.CompletedAt = &now
	if report.Success {
		deployment.Progress = 100
		deployment.ErrorMessage = ""
	} else {
		deployment.ErrorMessage = report.Error
		if deployment.ErrorMessage == "" {
			deployment.ErrorMessage = "deployment reported failure"
		}
	}

	if err := o.deployments.Update(ctx, deployment); err != nil {
		return nil, fmt.Errorf("failed to record deployment completion: %w", err)
	}

	if report.Success {
		current, cleared := deployment.ImageID, ""
		err = o.devices.SetStatus(ctx, deployment.DeviceID, models.DeviceStatusActive, &current, &cleared)
	} else {
		err = o.devices.SetStatus(ctx, deployment.DeviceID, models.DeviceStatusError, nil, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update device status: %w", err)
	}

	metrics.DeploymentCompletionsTotal.WithLabelValues(string(want)).Inc()
	log.Info().
		Str("deployment_id", deploymentID).
		Str("device_id", deployment.DeviceID).
		Str("status", string(want)).
		Msg("Deployment finished")

	return deployment, nil
}

// Cleanup removes the network boot entry of deviceID. It succeeds when there
// is nothing to remove, including for unknown devices.
func (o *Orchestrator) Cleanup(ctx context.Context, deviceID string) (*CleanupResult, error) {
	unlock, err := o.locks.lock(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	result := &CleanupResult{Success: true, DeviceID: deviceID}

	device, err := o.devices.Get(ctx, deviceID)
	if errors.Is(err, models.ErrNotFound) {
		log.Debug().Str("device_id", deviceID).Msg("Cleanup of unknown device")
		return result, nil
	}
	if err != nil {
		return nil, err
	}

	removed, err := o.strategies.PXE.Remove(device)
	if err != nil {
		return nil, err
	}
	result.Removed = removed
	if removed {
		result.PXEConfig = o.strategies.PXE.ConfigPath(device.MACAddress)
		log.Info().Str("device_id", deviceID).Str("pxe_config", result.PXEConfig).Msg("PXE config removed")
	}
	return result, nil
}

// GetDeployment returns a deployment by id
func (o *Orchestrator) GetDeployment(ctx context.Context, deploymentID string) (*models.Deployment, error) {
	return o.deployments.Get(ctx, deploymentID)
}

// ListDeployments returns deployments newest first
func (o *Orchestrator) ListDeployments(ctx context.Context, filter models.DeploymentFilter) ([]*models.Deployment, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, fmt.Errorf("unknown deployment status %q: %w", filter.Status, models.ErrValidation)
	}
	return o.deployments.List(ctx, filter)
}
