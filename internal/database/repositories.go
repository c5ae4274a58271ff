package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"thinfleet/pkg/models"
)

// DeviceRepository provides database operations for devices
type DeviceRepository interface {
	Get(ctx context.Context, deviceID string) (*models.Device, error)
	GetByMAC(ctx context.Context, mac string) (*models.Device, error)
	List(ctx context.Context, status models.DeviceStatus) ([]*models.Device, error)
	// Upsert inserts device or updates the row holding the same MAC in place.
	// It reports whether a new row was created.
	Upsert(ctx context.Context, device *models.Device) (*models.Device, bool, error)
	Touch(ctx context.Context, deviceID string, seen DeviceSeen) error
	UpdateState(ctx context.Context, deviceID string, state DeviceState) error
}

// DeviceSeen carries the attributes refreshed by an agent heartbeat.
// Empty fields leave the stored value untouched.
type DeviceSeen struct {
	At              time.Time
	IPAddress       string
	Hostname        string
	HardwareProfile map[string]any
}

// DeviceState carries the deployment driven attributes of a device
type DeviceState struct {
	Status       models.DeviceStatus
	CurrentImage *string
	TargetImage  *string
	At           time.Time
}

type deviceRepository struct {
	db *bun.DB
}

// NewDeviceRepository creates a new device repository
func NewDeviceRepository(db *bun.DB) DeviceRepository {
	return &deviceRepository{db: db}
}

func (r *deviceRepository) Get(ctx context.Context, deviceID string) (*models.Device, error) {
	device := new(Device)
	err := r.db.NewSelect().
		Model(device).
		Where("device_id = ?", deviceID).
		Scan(ctx)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("device %s: %w", deviceID, models.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	return device.ToModel(), nil
}

func (r *deviceRepository) GetByMAC(ctx context.Context, mac string) (*models.Device, error) {
	device := new(Device)
	err := r.db.NewSelect().
		Model(device).
		Where("mac_address = ?", mac).
		Scan(ctx)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("device with mac %s: %w", mac, models.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	return device.ToModel(), nil
}

func (r *deviceRepository) List(ctx context.Context, status models.DeviceStatus) ([]*models.Device, error) {
	var devices []*Device
	q := r.db.NewSelect().Model(&devices)
	if status != "" {
		q = q.Where("status = ?", string(status))
	}

	if err := q.Order("created_at DESC").OrderExpr("rowid DESC").Scan(ctx); err != nil {
		return nil, err
	}

	result := make([]*models.Device, len(devices))
	for i, d := range devices {
		result[i] = d.ToModel()
	}
	return result, nil
}

func (r *deviceRepository) Upsert(ctx context.Context, device *models.Device) (*models.Device, bool, error) {
	var (
		stored  *Device
		created bool
	)

	err := r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		existing := new(Device)
		err := tx.NewSelect().
			Model(existing).
			Where("mac_address = ?", device.MACAddress).
			Scan(ctx)

		if errors.Is(err, sql.ErrNoRows) {
			taken, err := tx.NewSelect().
				Model((*Device)(nil)).
				Where("device_id = ?", device.DeviceID).
				Exists(ctx)
			if err != nil {
				return err
			}
			if taken {
				return fmt.Errorf("device_id %s is already bound to another mac address: %w", device.DeviceID, models.ErrValidation)
			}

			row := DeviceFromModel(device)
			if row.Status == "" {
				row.Status = string(models.DeviceStatusRegistered)
			}
			if _, err := tx.NewInsert().Model(row).Exec(ctx); err != nil {
				return err
			}
			stored, created = row, true
			return nil
		}
		if err != nil {
			return err
		}

		if existing.DeviceID != device.DeviceID {
			return fmt.Errorf("mac address %s is already registered as device %s: %w",
				device.MACAddress, existing.DeviceID, models.ErrValidation)
		}

		mergeDevice(existing, device)
		if _, err := tx.NewUpdate().Model(existing).WherePK().Exec(ctx); err != nil {
			return err
		}
		stored = existing
		return nil
	})
	if err != nil {
		return nil, false, err
	}

	return stored.ToModel(), created, nil
}

// mergeDevice copies the attributes supplied by a re-registration onto the stored row
func mergeDevice(dst *Device, src *models.Device) {
	if src.IPAddress != "" {
		dst.IPAddress = src.IPAddress
	}
	if src.Hostname != "" {
		dst.Hostname = src.Hostname
	}
	if len(src.HardwareProfile) > 0 {
		dst.HardwareProfile = src.HardwareProfile
	}
	if src.Location != "" {
		dst.Location = src.Location
	}
	if src.AssignedUser != "" {
		dst.AssignedUser = src.AssignedUser
	}
	dst.LastSeen = src.LastSeen
	dst.UpdatedAt = src.UpdatedAt
}

func (r *deviceRepository) Touch(ctx context.Context, deviceID string, seen DeviceSeen) error {
	q := r.db.NewUpdate().
		Model((*Device)(nil)).
		Set("last_seen = ?", seen.At).
		Set("updated_at = ?", seen.At)
	if seen.IPAddress != "" {
		q = q.Set("ip_address = ?", seen.IPAddress)
	}
	if seen.Hostname != "" {
		q = q.Set("hostname = ?", seen.Hostname)
	}
	if len(seen.HardwareProfile) > 0 {
		profile, err := json.Marshal(seen.HardwareProfile)
		if err != nil {
			return fmt.Errorf("encode hardware profile: %w", models.ErrValidation)
		}
		q = q.Set("hardware_profile = ?", string(profile))
	}

	res, err := q.Where("device_id = ?", deviceID).Exec(ctx)
	if err != nil {
		return err
	}
	return expectRow(res, "device", deviceID)
}

func (r *deviceRepository) UpdateState(ctx context.Context, deviceID string, state DeviceState) error {
	q := r.db.NewUpdate().
		Model((*Device)(nil)).
		Set("status = ?", string(state.Status)).
		Set("updated_at = ?", state.At)
	if state.CurrentImage != nil {
		q = q.Set("current_image = ?", *state.CurrentImage)
	}
	if state.TargetImage != nil {
		q = q.Set("target_image = ?", *state.TargetImage)
	}

	res, err := q.Where("device_id = ?", deviceID).Exec(ctx)
	if err != nil {
		return err
	}
	return expectRow(res, "device", deviceID)
}

// ImageRepository provides database operations for images
type ImageRepository interface {
	Get(ctx context.Context, imageID string) (*models.Image, error)
	List(ctx context.Context) ([]*models.Image, error)
	// Upsert inserts image or refreshes the descriptive columns of an existing row
	Upsert(ctx context.Context, image *models.Image) (*models.Image, error)
}

type imageRepository struct {
	db *bun.DB
}

// NewImageRepository creates a new image repository
func NewImageRepository(db *bun.DB) ImageRepository {
	return &imageRepository{db: db}
}

func (r *imageRepository) Get(ctx context.Context, imageID string) (*models.Image, error) {
	image := new(Image)
	err := r.db.NewSelect().
		Model(image).
		Where("image_id = ?", imageID).
		Scan(ctx)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("image %s: %w", imageID, models.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	return image.ToModel(), nil
}

func (r *imageRepository) List(ctx context.Context) ([]*models.Image, error) {
	var images []*Image
	err := r.db.NewSelect().
		Model(&images).
		Order("created_at DESC").
		OrderExpr("rowid DESC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}

	result := make([]*models.Image, len(images))
	for i, img := range images {
		result[i] = img.ToModel()
	}
	return result, nil
}

func (r *imageRepository) Upsert(ctx context.Context, image *models.Image) (*models.Image, error) {
	stored := new(Image)

	err := r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		_, err := tx.NewInsert().
			Model(ImageFromModel(image)).
			On("CONFLICT (image_id) DO UPDATE").
			Set("description = EXCLUDED.description").
			Set("metadata = EXCLUDED.metadata").
			Set("file_path = EXCLUDED.file_path").
			Set("file_size = EXCLUDED.file_size").
			Exec(ctx)
		if err != nil {
			return err
		}

		return tx.NewSelect().
			Model(stored).
			Where("image_id = ?", image.ImageID).
			Scan(ctx)
	})
	if err != nil {
		return nil, err
	}

	return stored.ToModel(), nil
}

// DeploymentRepository provides database operations for deployments
type DeploymentRepository interface {
	Get(ctx context.Context, deploymentID string) (*models.Deployment, error)
	List(ctx context.Context, filter models.DeploymentFilter) ([]*models.Deployment, error)
	// Create inserts deployment unless its id is already taken; it reports whether the row was inserted
	Create(ctx context.Context, deployment *models.Deployment) (bool, error)
	Update(ctx context.Context, deployment *models.Deployment) error
	// FailActive marks every pending or deploying deployment of deviceID, except exceptID, as failed
	FailActive(ctx context.Context, deviceID, exceptID, message string, at time.Time) (int64, error)
}

type deploymentRepository struct {
	db *bun.DB
}

// NewDeploymentRepository creates a new deployment repository
func NewDeploymentRepository(db *bun.DB) DeploymentRepository {
	return &deploymentRepository{db: db}
}

func (r *deploymentRepository) Get(ctx context.Context, deploymentID string) (*models.Deployment, error) {
	deployment := new(Deployment)
	err := r.db.NewSelect().
		Model(deployment).
		Where("deployment_id = ?", deploymentID).
		Scan(ctx)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("deployment %s: %w", deploymentID, models.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	return deployment.ToModel(), nil
}

func (r *deploymentRepository) List(ctx context.Context, filter models.DeploymentFilter) ([]*models.Deployment, error) {
	var deployments []*Deployment
	q := r.db.NewSelect().Model(&deployments)
	if filter.DeviceID != "" {
		q = q.Where("device_id = ?", filter.DeviceID)
	}
	if filter.Status != "" {
		q = q.Where("status = ?", string(filter.Status))
	}

	if err := q.Order("created_at DESC").OrderExpr("rowid DESC").Scan(ctx); err != nil {
		return nil, err
	}

	result := make([]*models.Deployment, len(deployments))
	for i, d := range deployments {
		result[i] = d.ToModel()
	}
	return result, nil
}

func (r *deploymentRepository) Create(ctx context.Context, deployment *models.Deployment) (bool, error) {
	res, err := r.db.NewInsert().
		Model(DeploymentFromModel(deployment)).
		On("CONFLICT DO NOTHING").
		Exec(ctx)
	if err != nil {
		return false, err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *deploymentRepository) Update(ctx context.Context, deployment *models.Deployment) error {
	res, err := r.db.NewUpdate().
		Model(DeploymentFromModel(deployment)).
		WherePK().
		Exec(ctx)
	if err != nil {
		return err
	}
	return expectRow(res, "deployment", deployment.DeploymentID)
}

func (r *deploymentRepository) FailActive(ctx context.Context, deviceID, exceptID, message string, at time.Time) (int64, error) {
	res, err := r.db.NewUpdate().
		Model((*Deployment)(nil)).
		Set("status = ?", string(models.DeploymentFailed)).
		Set("error_message = ?", message).
		Set("completed_at = ?", at).
		Where("device_id = ?", deviceID).
		Where("deployment_id != ?", exceptID).
		Where("status IN (?)", bun.In([]string{
			string(models.DeploymentPending),
			string(models.DeploymentDeploying),
		})).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// CommandRepository provides database operations for queued agent commands
type CommandRepository interface {
	Get(ctx context.Context, commandID string) (*models.Command, error)
	Enqueue(ctx context.Context, command *models.Command) error
	// Dispatch returns the pending commands of deviceID, oldest first, and marks them dispatched
	Dispatch(ctx context.Context, deviceID string, at time.Time) ([]*models.Command, error)
	Finish(ctx context.Context, commandID string, status models.CommandStatus, result map[string]any, at time.Time) (*models.Command, error)
	List(ctx context.Context, deviceID string) ([]*models.Command, error)
}

type commandRepository struct {
	db *bun.DB
}

// NewCommandRepository creates a new command repository
func NewCommandRepository(db *bun.DB) CommandRepository {
	return &commandRepository{db: db}
}

func (r *commandRepository) Get(ctx context.Context, commandID string) (*models.Command, error) {
	command := new(AgentCommand)
	err := r.db.NewSelect().
		Model(command).
		Where("command_id = ?", commandID).
		Scan(ctx)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("command %s: %w", commandID, models.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	return command.ToModel(), nil
}

func (r *commandRepository) Enqueue(ctx context.Context, command *models.Command) error {
	row := CommandFromModel(command)
	if row.Status == "" {
		row.Status = string(models.CommandPending)
	}
	_, err := r.db.NewInsert().Model(row).Exec(ctx)
	return err
}

func (r *commandRepository) Dispatch(ctx context.Context, deviceID string, at time.Time) ([]*models.Command, error) {
	var commands []*AgentCommand

	err := r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		err := tx.NewSelect().
			Model(&commands).
			Where("device_id = ?", deviceID).
			Where("status = ?", string(models.CommandPending)).
			Order("created_at ASC").
			OrderExpr("rowid ASC").
			Scan(ctx)
		if err != nil || len(commands) == 0 {
			return err
		}

		ids := make([]string, len(commands))
		for i, c := range commands {
			ids[i] = c.CommandID
			c.Status = string(models.CommandDispatched)
			c.DispatchedAt = &at
		}

		_, err = tx.NewUpdate().
			Model((*AgentCommand)(nil)).
			Set("status = ?", string(models.CommandDispatched)).
			Set("dispatched_at = ?", at).
			Where("command_id IN (?)", bun.In(ids)).
			Exec(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}

	result := make([]*models.Command, len(commands))
	for i, c := range commands {
		result[i] = c.ToModel()
	}
	return result, nil
}

func (r *commandRepository) Finish(ctx context.Context, commandID string, status models.CommandStatus, result map[string]any, at time.Time) (*models.Command, error) {
	encoded, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("encode command result: %w", models.ErrValidation)
	}

	res, err := r.db.NewUpdate().
		Model((*AgentCommand)(nil)).
		Set("status = ?", string(status)).
		Set("result = ?", string(encoded)).
		Set("completed_at = ?", at).
		Where("command_id = ?", commandID).
		Exec(ctx)
	if err != nil {
		return nil, err
	}
	if err := expectRow(res, "command", commandID); err != nil {
		return nil, err
	}

	return r.Get(ctx, commandID)
}

func (r *commandRepository) List(ctx context.Context, deviceID string) ([]*models.Command, error) {
	var commands []*AgentCommand
	err := r.db.NewSelect().
		Model(&commands).
		Where("device_id = ?", deviceID).
		Order("created_at DESC").
		OrderExpr("rowid DESC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}

	result := make([]*models.Command, len(commands))
	for i, c := range commands {
		result[i] = c.ToModel()
	}
	return result, nil
}

func expectRow(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", kind, id, models.ErrNotFound)
	}
	return nil
}
