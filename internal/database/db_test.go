package database

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"thinfleet/pkg/models"
)

// setupTestDB creates an in-memory SQLite database for testing
func setupTestDB(t *testing.T) *BunDB {
	t.Helper()

	db, err := New(":memory:")
	require.NoError(t, err)

	t.Cleanup(func() {
		db.Close()
	})

	return db
}

func newDevice(id, mac string, at time.Time) *models.Device {
	return &models.Device{
		DeviceID:   id,
		MACAddress: mac,
		LastSeen:   at,
		CreatedAt:  at,
		UpdatedAt:  at,
	}
}

func TestBunDB_WithDebugOption(t *testing.T) {
	db1, err := New(":memory:", WithDebug(true))
	require.NoError(t, err)
	defer db1.Close()

	db2, err := New(":memory:", WithDebug(false))
	require.NoError(t, err)
	defer db2.Close()

	assert.NotNil(t, db1.Devices)
	assert.NotNil(t, db2.Commands)
}

func TestBunDB_MigrateIsRepeatable(t *testing.T) {
	db := setupTestDB(t)
	require.NoError(t, db.Migrate(context.Background()))
}

func TestDeviceRepository_Upsert(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	dev := newDevice("aabbccddeeff", "aa:bb:cc:dd:ee:ff", now)
	dev.IPAddress = "10.0.0.5"
	dev.Hostname = "kiosk-1"

	stored, created, err := db.Devices.Upsert(ctx, dev)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, models.DeviceStatusRegistered, stored.Status)

	// Same MAC again with a new IP updates in place
	again := newDevice("aabbccddeeff", "aa:bb:cc:dd:ee:ff", now.Add(time.Minute))
	again.IPAddress = "10.0.0.6"

	stored, created, err = db.Devices.Upsert(ctx, again)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "10.0.0.6", stored.IPAddress)
	assert.Equal(t, "kiosk-1", stored.Hostname, "empty fields keep the stored value")

	all, err := db.Devices.List(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestDeviceRepository_UpsertConflicts(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	_, _, err := db.Devices.Upsert(ctx, newDevice("kiosk-a", "aa:bb:cc:dd:ee:01", now))
	require.NoError(t, err)

	// Different id for a known MAC
	_, _, err = db.Devices.Upsert(ctx, newDevice("kiosk-b", "aa:bb:cc:dd:ee:01", now))
	assert.ErrorIs(t, err, models.ErrValidation)

	// Known id for a new MAC
	_, _, err = db.Devices.Upsert(ctx, newDevice("kiosk-a", "aa:bb:cc:dd:ee:02", now))
	assert.ErrorIs(t, err, models.ErrValidation)
}

func TestDeviceRepository_GetNotFound(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	_, err := db.Devices.Get(ctx, "missing")
	assert.ErrorIs(t, err, models.ErrNotFound)

	_, err = db.Devices.GetByMAC(ctx, "00:00:00:00:00:00")
	assert.ErrorIs(t, err, models.ErrNotFound)

	err = db.Devices.Touch(ctx, "missing", DeviceSeen{At: time.Now().UTC()})
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestDeviceRepository_TouchAndState(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	_, _, err := db.Devices.Upsert(ctx, newDevice("aabbccddeeff", "aa:bb:cc:dd:ee:ff", now))
	require.NoError(t, err)

	later := now.Add(time.Hour)
	err = db.Devices.Touch(ctx, "aabbccddeeff", DeviceSeen{
		At:              later,
		Hostname:        "kiosk-7",
		HardwareProfile: map[string]any{"cpu": "arm64"},
	})
	require.NoError(t, err)

	target := "kiosk-2.0-12345678"
	err = db.Devices.UpdateState(ctx, "aabbccddeeff", DeviceState{
		Status:      models.DeviceStatusDeploying,
		TargetImage: &target,
		At:          later,
	})
	require.NoError(t, err)

	dev, err := db.Devices.Get(ctx, "aabbccddeeff")
	require.NoError(t, err)
	assert.Equal(t, "kiosk-7", dev.Hostname)
	assert.Equal(t, "arm64", dev.HardwareProfile["cpu"])
	assert.Equal(t, models.DeviceStatusDeploying, dev.Status)
	assert.Equal(t, target, dev.TargetImage)
	assert.Empty(t, dev.CurrentImage)
	assert.WithinDuration(t, later, dev.LastSeen, time.Second)

	byStatus, err := db.Devices.List(ctx, models.DeviceStatusDeploying)
	require.NoError(t, err)
	assert.Len(t, byStatus, 1)

	byStatus, err = db.Devices.List(ctx, models.DeviceStatusActive)
	require.NoError(t, err)
	assert.Empty(t, byStatus)
}

func TestImageRepository_Upsert(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	img := &models.Image{
		ImageID:    "kiosk-2.0-0123abcd",
		Name:       "kiosk",
		Version:    "2.0",
		FilePath:   "/srv/images/base.img",
		FileSize:   42,
		SHA256Hash: "0123abcd" + "00000000000000000000000000000000000000000000000000000000",
		Metadata:   map[string]any{"name": "kiosk"},
		CreatedAt:  time.Now().UTC(),
	}

	stored, err := db.Images.Upsert(ctx, img)
	require.NoError(t, err)
	assert.Equal(t, img.ImageID, stored.ImageID)

	img.Description = "refreshed"
	img.Metadata = map[string]any{"name": "kiosk", "channel": "beta"}
	stored, err = db.Images.Upsert(ctx, img)
	require.NoError(t, err)
	assert.Equal(t, "refreshed", stored.Description)
	assert.Equal(t, "beta", stored.Metadata["channel"])

	all, err := db.Images.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	_, err = db.Images.Get(ctx, "nope")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestDeploymentRepository_Lifecycle(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	first := &models.Deployment{
		DeploymentID:     "deploy-20240101-120000-aabbccdd",
		DeviceID:         "aabbccddeeff",
		ImageID:          "kiosk-2.0-0123abcd",
		DeploymentMethod: models.MethodPXE,
		Status:           models.DeploymentPending,
		CreatedAt:        now,
	}
	inserted, err := db.Deployments.Create(ctx, first)
	require.NoError(t, err)
	assert.True(t, inserted)

	// Same id is not inserted twice
	inserted, err = db.Deployments.Create(ctx, first)
	require.NoError(t, err)
	assert.False(t, inserted)

	first.Status = models.DeploymentDeploying
	first.StartedAt = &now
	require.NoError(t, db.Deployments.Update(ctx, first))

	second := &models.Deployment{
		DeploymentID:     "deploy-20240101-120500-aabbccdd",
		DeviceID:         "aabbccddeeff",
		ImageID:          "kiosk-2.0-0123abcd",
		DeploymentMethod: models.MethodNetwork,
		Status:           models.DeploymentPending,
		CreatedAt:        now.Add(5 * time.Minute),
	}
	_, err = db.Deployments.Create(ctx, second)
	require.NoError(t, err)

	n, err := db.Deployments.FailActive(ctx, "aabbccddeeff", second.DeploymentID, "superseded by "+second.DeploymentID, now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err := db.Deployments.Get(ctx, first.DeploymentID)
	require.NoError(t, err)
	assert.Equal(t, models.DeploymentFailed, got.Status)
	assert.Contains(t, got.ErrorMessage, "superseded")
	require.NotNil(t, got.CompletedAt)

	list, err := db.Deployments.List(ctx, models.DeploymentFilter{DeviceID: "aabbccddeeff"})
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, second.DeploymentID, list[0].DeploymentID, "newest first")

	list, err = db.Deployments.List(ctx, models.DeploymentFilter{Status: models.DeploymentPending})
	require.NoError(t, err)
	require.Len(t, list, 1)

	err = db.Deployments.Update(ctx, &models.Deployment{DeploymentID: "missing", Status: models.DeploymentFailed})
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestCommandRepository_DispatchAndFinish(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	for i, id := range []string{"cmd-1", "cmd-2"} {
		err := db.Commands.Enqueue(ctx, &models.Command{
			CommandID: id,
			DeviceID:  "aabbccddeeff",
			Type:      models.CommandUpdateImage,
			Data:      map[string]any{"image_url": "http://example/images/base.img"},
			CreatedAt: now.Add(time.Duration(i) * time.Second),
		})
		require.NoError(t, err)
	}

	cmds, err := db.Commands.Dispatch(ctx, "aabbccddeeff", now)
	require.NoError(t, err)
	require.Len(t, cmds, 2)
	assert.Equal(t, "cmd-1", cmds[0].CommandID)
	assert.Equal(t, models.CommandDispatched, cmds[0].Status)

	// Dispatched commands are handed out once
	cmds, err = db.Commands.Dispatch(ctx, "aabbccddeeff", now)
	require.NoError(t, err)
	assert.Empty(t, cmds)

	done, err := db.Commands.Finish(ctx, "cmd-1", models.CommandCompleted, map[string]any{"success": true}, now)
	require.NoError(t, err)
	assert.Equal(t, models.CommandCompleted, done.Status)
	assert.Equal(t, true, done.Result["success"])
	require.NotNil(t, done.CompletedAt)

	_, err = db.Commands.Finish(ctx, "cmd-x", models.CommandFailed, nil, now)
	assert.ErrorIs(t, err, models.ErrNotFound)

	list, err := db.Commands.List(ctx, "aabbccddeeff")
	require.NoError(t, err)
	assert.Len(t, list, 2)
}
