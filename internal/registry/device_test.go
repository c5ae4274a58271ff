package registry

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"thinfleet/internal/database"
	"thinfleet/internal/reservation"
	"thinfleet/pkg/models"
)

func setupRegistry(t *testing.T, opts ...Option) (*Registry, *database.BunDB) {
	t.Helper()

	db, err := database.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return New(db.Devices, opts...), db
}

type recordingReserver struct {
	calls []string
	err   error
}

func (r *recordingReserver) Reserve(ctx context.Context, mac, ip string) error {
	r.calls = append(r.calls, mac+"="+ip)
	return r.err
}

func TestNormalizeMAC(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"AA:BB:CC:DD:EE:FF", "aa:bb:cc:dd:ee:ff", false},
		{" aa-bb-cc-dd-ee-ff ", "aa:bb:cc:dd:ee:ff", false},
		{"aabb.ccdd.eeff", "aa:bb:cc:dd:ee:ff", false},
		{"", "", true},
		{"not-a-mac", "", true},
		{"aa:bb:cc:dd:ee", "", true},
		// 20 byte infiniband addresses are not device identities here
		{"00:00:00:00:fe:80:00:00:00:00:00:00:02:00:5e:10:00:00:00:01", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := NormalizeMAC(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, models.ErrValidation)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	assert.Equal(t, "aabbccddeeff", DeviceIDFromMAC("aa:bb:cc:dd:ee:ff"))
}

func TestRegistry_RegisterDerivesID(t *testing.T) {
	reg, _ := setupRegistry(t)
	ctx := context.Background()

	res, err := reg.Register(ctx, DeviceInfo{MACAddress: "AA:BB:CC:DD:EE:FF"})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.True(t, res.Created)
	assert.Equal(t, "aabbccddeeff", res.DeviceID)
	assert.Equal(t, "aa:bb:cc:dd:ee:ff", res.MACAddress)

	dev, err := reg.Get(ctx, "aabbccddeeff")
	require.NoError(t, err)
	assert.Equal(t, models.DeviceStatusRegistered, dev.Status)
	assert.False(t, dev.LastSeen.IsZero())
}

func TestRegistry_RegisterSameMACUpdatesInPlace(t *testing.T) {
	reserver := &recordingReserver{}
	reg, _ := setupRegistry(t, WithReserver(reserver))
	ctx := context.Background()

	_, err := reg.Register(ctx, DeviceInfo{MACAddress: "aa:bb:cc:dd:ee:ff", IPAddress: "192.168.100.10"})
	require.NoError(t, err)

	res, err := reg.Register(ctx, DeviceInfo{MACAddress: "aa-bb-cc-dd-ee-ff", IPAddress: "192.168.100.20"})
	require.NoError(t, err)
	assert.False(t, res.Created)

	devices, err := reg.List(ctx, "")
	require.NoError(t, err)
	require.Len(t, devices, 1)
	assert.Equal(t, "192.168.100.20", devices[0].IPAddress)

	assert.Equal(t, []string{
		"aa:bb:cc:dd:ee:ff=192.168.100.10",
		"aa:bb:cc:dd:ee:ff=192.168.100.20",
	}, reserver.calls)
}

func TestRegistry_RegisterKeepsExplicitID(t *testing.T) {
	reg, _ := setupRegistry(t)
	ctx := context.Background()

	_, err := reg.Register(ctx, DeviceInfo{MACAddress: "aa:bb:cc:dd:ee:ff", DeviceID: "lobby-kiosk"})
	require.NoError(t, err)

	// Re-registration without an id keeps the bound one
	res, err := reg.Register(ctx, DeviceInfo{MACAddress: "aa:bb:cc:dd:ee:ff", Hostname: "lobby"})
	require.NoError(t, err)
	assert.Equal(t, "lobby-kiosk", res.DeviceID)

	// A different explicit id for the same MAC is refused
	_, err = reg.Register(ctx, DeviceInfo{MACAddress: "aa:bb:cc:dd:ee:ff", DeviceID: "other"})
	assert.ErrorIs(t, err, models.ErrValidation)

	// The id cannot move to another MAC
	_, err = reg.Register(ctx, DeviceInfo{MACAddress: "aa:bb:cc:dd:ee:01", DeviceID: "lobby-kiosk"})
	assert.ErrorIs(t, err, models.ErrValidation)
}

func TestRegistry_RegisterValidation(t *testing.T) {
	reg, db := setupRegistry(t)
	ctx := context.Background()

	tests := []DeviceInfo{
		{MACAddress: "zz:zz"},
		{MACAddress: "aa:bb:cc:dd:ee:ff", IPAddress: "300.1.1.1"},
		{MACAddress: "aa:bb:cc:dd:ee:ff", DeviceID: "../etc"},
	}
	for i, info := range tests {
		t.Run(fmt.Sprint(i), func(t *testing.T) {
			_, err := reg.Register(ctx, info)
			assert.Equal(t, models.KindValidation, models.KindOf(err))
		})
	}

	all, err := db.Devices.List(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestRegistry_ReservationFailureIsWarning(t *testing.T) {
	reserver := &recordingReserver{err: fmt.Errorf("reload: %w", models.ErrExternalEffect)}
	reg, _ := setupRegistry(t, WithReserver(reserver))

	res, err := reg.Register(context.Background(), DeviceInfo{MACAddress: "aa:bb:cc:dd:ee:ff", IPAddress: "10.0.0.2"})
	require.NoError(t, err)
	assert.True(t, res.Success)
	require.Len(t, res.Warnings, 1)
	assert.Equal(t, models.KindExternalEffect, res.Warnings[0].Kind)
}

func TestRegistry_ReservationWithoutIPIsSkipped(t *testing.T) {
	reserver := &recordingReserver{}
	reg, _ := setupRegistry(t, WithReserver(reserver))

	_, err := reg.Register(context.Background(), DeviceInfo{MACAddress: "aa:bb:cc:dd:ee:ff"})
	require.NoError(t, err)
	assert.Empty(t, reserver.calls)
}

func TestRegistry_WithReservationTable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vdi-devices.conf")
	table := reservation.NewTable(path, "24h", reservation.ReloaderFunc(func(ctx context.Context) error {
		return errors.New("no dnsmasq here")
	}))
	reg, _ := setupRegistry(t, WithReserver(table))

	res, err := reg.Register(context.Background(), DeviceInfo{MACAddress: "aa:bb:cc:dd:ee:ff", IPAddress: "10.0.0.2"})
	require.NoError(t, err)
	assert.Len(t, res.Warnings, 1)

	entries, err := table.Entries()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "10.0.0.2", entries[0].IP)
}

func TestRegistry_ListRejectsUnknownStatus(t *testing.T) {
	reg, _ := setupRegistry(t)

	_, err := reg.List(context.Background(), "sleeping")
	assert.ErrorIs(t, err, models.ErrValidation)
}

func TestRegistry_TouchAndSetStatus(t *testing.T) {
	clock := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	reg, _ := setupRegistry(t, WithClock(func() time.Time { return clock }))
	ctx := context.Background()

	_, err := reg.Register(ctx, DeviceInfo{MACAddress: "aa:bb:cc:dd:ee:ff", IPAddress: "10.0.0.2"})
	require.NoError(t, err)

	clock = clock.Add(time.Hour)
	require.NoError(t, reg.Touch(ctx, "aabbccddeeff", HeartbeatInfo{IPAddress: "garbage", Hostname: "kiosk-9"}))

	target := "kiosk-2.0-12345678"
	require.NoError(t, reg.SetStatus(ctx, "aabbccddeeff", models.DeviceStatusDeploying, nil, &target))

	dev, err := reg.Get(ctx, "aabbccddeeff")
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.2", dev.IPAddress)
	assert.Equal(t, "kiosk-9", dev.Hostname)
	assert.Equal(t, models.DeviceStatusDeploying, dev.Status)
	assert.Equal(t, target, dev.TargetImage)
	assert.True(t, clock.Equal(dev.LastSeen), "last_seen %s", dev.LastSeen)

	err = reg.SetStatus(ctx, "aabbccddeeff", models.DeviceStatus("bogus"), nil, nil)
	assert.ErrorIs(t, err, models.ErrValidation)

	err = reg.Touch(ctx, "missing", HeartbeatInfo{})
	assert.ErrorIs(t, err, models.ErrNotFound)
}
