// Package badger persists entitlement records in an embedded Badger database.
package badger

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/timshannon/badgerhold/v4"

	"github.com/JakeFAU/fetchgate/internal/media"
)

type record struct {
	UserID       string
	AdminGranted bool
	GateSteps    [media.GateSteps]bool
	UpdatedAt    time.Time
}

// EntitlementStore keeps one badgerhold record per user. Read-modify-write
// cycles are serialized by a store-wide lock.
type EntitlementStore struct {
	mu    sync.Mutex
	store *badgerhold.Store
}

// Open creates (or reopens) the database under path.
func Open(path string) (*EntitlementStore, error) {
	if path == "" {
		return nil, fmt.Errorf("storage.badger.path is required")
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("create badger dir: %w", err)
	}

	options := badgerhold.DefaultOptions
	options.Dir = path
	options.ValueDir = path
	options.Logger = nil

	store, err := badgerhold.Open(options)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}
	return &EntitlementStore{store: store}, nil
}

// Close flushes and closes the database.
func (s *EntitlementStore) Close() error {
	if s == nil || s.store == nil {
		return nil
	}
	return s.store.Close()
}

// Get returns the record for userID, persisting a default one if absent.
func (s *EntitlementStore) Get(_ context.Context, userID string) (media.UserEntitlement, error) {
	return s.update("get", userID, func(*record) {})
}

// SetAdminGranted sets or clears the administrator override.
func (s *EntitlementStore) SetAdminGranted(
	_ context.Context,
	userID string,
	granted bool,
) (media.UserEntitlement, error) {
	return s.update("set admin granted", userID, func(rec *record) {
		rec.AdminGranted = granted
	})
}

// SetGateStep records or clears one proof-step.
func (s *EntitlementStore) SetGateStep(
	_ context.Context,
	userID string,
	step int,
	done bool,
) (media.UserEntitlement, error) {
	if err := media.ValidateStep(step); err != nil {
		return media.UserEntitlement{}, err
	}
	return s.update("set gate step", userID, func(rec *record) {
		rec.GateSteps[step-1] = done
	})
}

// ResetGate clears all proof-steps.
func (s *EntitlementStore) ResetGate(_ context.Context, userID string) (media.UserEntitlement, error) {
	return s.update("reset gate", userID, func(rec *record) {
		rec.GateSteps = [media.GateSteps]bool{}
	})
}

func (s *EntitlementStore) update(op, userID string, mutate func(*record)) (media.UserEntitlement, error) {
	if s == nil || s.store == nil {
		return media.UserEntitlement{}, &media.StorageError{Op: op, Err: errors.New("entitlement store is closed")}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var rec record
	err := s.store.Get(userID, &rec)
	switch {
	case errors.Is(err, badgerhold.ErrNotFound):
		rec = record{UserID: userID}
	case err != nil:
		return media.UserEntitlement{}, &media.StorageError{Op: op, Err: err}
	}

	mutate(&rec)
	rec.UpdatedAt = time.Now().UTC()
	if err := s.store.Upsert(userID, &rec); err != nil {
		return media.UserEntitlement{}, &media.StorageError{Op: op, Err: err}
	}

	return media.UserEntitlement{
		UserID:       rec.UserID,
		AdminGranted: rec.AdminGranted,
		GateSteps:    rec.GateSteps,
	}, nil
}
