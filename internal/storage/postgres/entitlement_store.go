// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/JakeFAU/fetchgate/internal/media"
	"github.com/JakeFAU/fetchgate/internal/storage/postgres/migrations"
)

const defaultTable = "user_entitlements"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

var stepColumns = [media.GateSteps]string{"gate_step1", "gate_step2", "gate_step3"}

// gooseUp is a seam for testing goose.UpContext.
var gooseUp = func(ctx context.Context, db *sql.DB, dir string) error {
	return goose.UpContext(ctx, db, dir)
}

// EntitlementStoreConfig controls the Postgres connection pool used for entitlement rows.
type EntitlementStoreConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MaxConnLifetime time.Duration
	Migrate         bool
}

type queryCloser interface {
	QueryRow(context.Context, string, ...any) pgx.Row
	Ping(context.Context) error
	Close()
}

// EntitlementStore persists one row per user. Each operation is a single
// upsert statement, so concurrent updates for the same user serialize on the
// row lock and touch only their own columns.
type EntitlementStore struct {
	pool  queryCloser
	table string
}

// NewEntitlementStore creates a Postgres-backed EntitlementStore using the provided config.
func NewEntitlementStore(ctx context.Context, cfg EntitlementStoreConfig) (*EntitlementStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("storage.postgres.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if cfg.Migrate {
		if err := Migrate(ctx, pool); err != nil {
			pool.Close()
			return nil, err
		}
	}
	store, err := NewEntitlementStoreWithPool(pool, cfg.Table)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

// NewEntitlementStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewEntitlementStoreWithPool(pool queryCloser, table string) (*EntitlementStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = defaultTable
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &EntitlementStore{pool: pool, table: table}, nil
}

// Migrate applies the embedded goose migrations.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()

	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	if err := gooseUp(ctx, db, "."); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

// Close releases the underlying pool resources.
func (s *EntitlementStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Ping checks that the database is reachable.
func (s *EntitlementStore) Ping(ctx context.Context) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("entitlement store is not configured")
	}
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// Get returns the record for userID, inserting a default row if absent.
func (s *EntitlementStore) Get(ctx context.Context, userID string) (media.UserEntitlement, error) {
	query := fmt.Sprintf(`
INSERT INTO %s (user_id) VALUES ($1)
ON CONFLICT (user_id) DO UPDATE SET user_id = EXCLUDED.user_id
RETURNING %s`, s.table, returningColumns)
	return s.queryRecord(ctx, "get", query, userID)
}

// SetAdminGranted sets or clears the administrator override.
func (s *EntitlementStore) SetAdminGranted(
	ctx context.Context,
	userID string,
	granted bool,
) (media.UserEntitlement, error) {
	query := fmt.Sprintf(`
INSERT INTO %s (user_id, admin_granted) VALUES ($1, $2)
ON CONFLICT (user_id) DO UPDATE SET admin_granted = EXCLUDED.admin_granted, updated_at = now()
RETURNING %s`, s.table, returningColumns)
	return s.queryRecord(ctx, "set admin granted", query, userID, granted)
}

// SetGateStep records or clears one proof-step.
func (s *EntitlementStore) SetGateStep(
	ctx context.Context,
	userID string,
	step int,
	done bool,
) (media.UserEntitlement, error) {
	if err := media.ValidateStep(step); err != nil {
		return media.UserEntitlement{}, err
	}
	column := stepColumns[step-1]
	query := fmt.Sprintf(`
INSERT INTO %s (user_id, %s) VALUES ($1, $2)
ON CONFLICT (user_id) DO UPDATE SET %s = EXCLUDED.%s, updated_at = now()
RETURNING %s`, s.table, column, column, column, returningColumns)
	return s.queryRecord(ctx, "set gate step", query, userID, done)
}

// ResetGate clears all proof-steps.
func (s *EntitlementStore) ResetGate(ctx context.Context, userID string) (media.UserEntitlement, error) {
	query := fmt.Sprintf(`
INSERT INTO %s (user_id) VALUES ($1)
ON CONFLICT (user_id) DO UPDATE SET gate_step1 = FALSE, gate_step2 = FALSE, gate_step3 = FALSE, updated_at = now()
RETURNING %s`, s.table, returningColumns)
	return s.queryRecord(ctx, "reset gate", query, userID)
}

const returningColumns = "user_id, admin_granted, gate_step1, gate_step2, gate_step3"

func (s *EntitlementStore) queryRecord(
	ctx context.Context,
	op string,
	query string,
	args ...any,
) (media.UserEntitlement, error) {
	if s == nil || s.pool == nil {
		return media.UserEntitlement{}, &media.StorageError{Op: op, Err: fmt.Errorf("entitlement store is not configured")}
	}
	var rec media.UserEntitlement
	err := s.pool.QueryRow(ctx, query, args...).Scan(
		&rec.UserID,
		&rec.AdminGranted,
		&rec.GateSteps[0],
		&rec.GateSteps[1],
		&rec.GateSteps[2],
	)
	if err != nil {
		return media.UserEntitlement{}, &media.StorageError{Op: op, Err: err}
	}
	return rec, nil
}
