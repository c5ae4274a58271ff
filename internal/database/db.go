package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
	"github.com/uptrace/bun/extra/bundebug"
)

// tables are created in this order by Migrate
var tables = []any{
	(*Device)(nil),
	(*Image)(nil),
	(*Deployment)(nil),
	(*AgentCommand)(nil),
}

var indexes = map[string]string{
	"idx_devices_mac_address":          "devices(mac_address)",
	"idx_devices_status":               "devices(status)",
	"idx_deployments_device_id":        "deployments(device_id)",
	"idx_deployments_status":           "deployments(status)",
	"idx_agent_commands_device_status": "agent_commands(device_id, status)",
}

// BunDB is the fleet store: one SQLite handle and a repository per table
type BunDB struct {
	db *bun.DB

	Devices     DeviceRepository
	Images      ImageRepository
	Deployments DeploymentRepository
	Commands    CommandRepository
}

// Option configures a BunDB before migrations run
type Option func(*BunDB)

// WithDebug logs every query through bundebug
func WithDebug(enabled bool) Option {
	return func(s *BunDB) {
		if !enabled {
			return
		}
		s.db.AddQueryHook(bundebug.NewQueryHook(bundebug.WithVerbose(true)))
		log.Info().Msg("SQL query logging enabled")
	}
}

// New opens the SQLite database at dsn and brings its schema up to date
func New(dsn string, opts ...Option) (*BunDB, error) {
	sqldb, err := sql.Open(sqliteshim.ShimName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", dsn, err)
	}
	// single writer; also keeps every query of a ":memory:" database on the same connection
	sqldb.SetMaxOpenConns(1)

	db := bun.NewDB(sqldb, sqlitedialect.New())
	store := &BunDB{
		db:          db,
		Devices:     NewDeviceRepository(db),
		Images:      NewImageRepository(db),
		Deployments: NewDeploymentRepository(db),
		Commands:    NewCommandRepository(db),
	}
	for _, opt := range opts {
		opt(store)
	}

	if err := store.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	log.Debug().Str("dsn", dsn).Int("tables", len(tables)).Msg("Fleet database ready")
	return store, nil
}

// Close closes the database connection
func (s *BunDB) Close() error {
	return s.db.Close()
}

// Migrate creates missing tables and indexes. It is safe to run repeatedly.
func (s *BunDB) Migrate(ctx context.Context) error {
	for _, model := range tables {
		if _, err := s.db.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("create table for %T: %w", model, err)
		}
	}

	for name, on := range indexes {
		stmt := fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s", name, on)
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create index %s: %w", name, err)
		}
	}
	return nil
}
