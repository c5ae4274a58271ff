package commands

import (
	"fmt"

	"thinfleet/internal/database"
	"thinfleet/internal/delivery"
	"thinfleet/internal/images"
	"thinfleet/internal/orchestrator"
	"thinfleet/internal/registry"
	"thinfleet/internal/reservation"
	"thinfleet/pkg/config"
)

// services is the wired core used by the commands
type services struct {
	db           *database.BunDB
	devices      *registry.Registry
	images       *images.Registry
	orchestrator *orchestrator.Orchestrator
}

func newServices(cfg *config.Config) (*services, error) {
	db, err := database.New(cfg.Database.DSN, database.WithDebug(cfg.Database.Debug))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	var regOpts []registry.Option
	if cfg.Reservation.Enabled {
		table := reservation.NewTable(
			cfg.Reservation.File,
			cfg.Reservation.Lease,
			reservation.NewCommandReloader(cfg.Reservation.ReloadCommand, cfg.Reservation.ReloadTimeout),
		)
		regOpts = append(regOpts, registry.WithReserver(table))
	}

	devices := registry.New(db.Devices, regOpts...)
	imgs := images.New(db.Images, cfg.Paths.HTTPRoot)
	orch := orchestrator.New(devices, imgs, db.Deployments, delivery.NewSet(cfg, db.Commands), cfg.Deploy)

	return &services{
		db:           db,
		devices:      devices,
		images:       imgs,
		orchestrator: orch,
	}, nil
}

// Close releases the database
func (s *services) Close() error {
	return s.db.Close()
}

// core opens the services on first use
func (a *app) core() (*services, error) {
	if a.svc != nil {
		return a.svc, nil
	}
	svc, err := newServices(a.cfg)
	if err != nil {
		return nil, err
	}
	a.svc = svc
	return svc, nil
}
