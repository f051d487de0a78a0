// Package memory provides in-memory store implementations for development and tests.
package memory

import (
	"context"
	"sync"

	"github.com/JakeFAU/fetchgate/internal/media"
)

// EntitlementStore keeps entitlement records in a map guarded by a single lock.
// Records are lost on restart.
type EntitlementStore struct {
	mu      sync.Mutex
	records map[string]media.UserEntitlement
}

// NewEntitlementStore constructs an EntitlementStore.
func NewEntitlementStore() *EntitlementStore {
	return &EntitlementStore{
		records: make(map[string]media.UserEntitlement),
	}
}

// Get returns the record for userID, creating a default one if absent.
func (s *EntitlementStore) Get(_ context.Context, userID string) (media.UserEntitlement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load(userID), nil
}

// SetAdminGranted sets or clears the administrator override.
func (s *EntitlementStore) SetAdminGranted(
	_ context.Context,
	userID string,
	granted bool,
) (media.UserEntitlement, error) {
	return s.update(userID, func(rec *media.UserEntitlement) {
		rec.AdminGranted = granted
	}), nil
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
	return s.update(userID, func(rec *media.UserEntitlement) {
		rec.GateSteps[step-1] = done
	}), nil
}

// ResetGate clears all proof-steps.
func (s *EntitlementStore) ResetGate(_ context.Context, userID string) (media.UserEntitlement, error) {
	return s.update(userID, func(rec *media.UserEntitlement) {
		rec.GateSteps = [media.GateSteps]bool{}
	}), nil
}

func (s *EntitlementStore) update(userID string, mutate func(*media.UserEntitlement)) media.UserEntitlement {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.load(userID)
	mutate(&rec)
	s.records[userID] = rec
	return rec
}

// load must be called with mu held.
func (s *EntitlementStore) load(userID string) media.UserEntitlement {
	rec, ok := s.records[userID]
	if !ok {
		rec = media.UserEntitlement{UserID: userID}
		s.records[userID] = rec
	}
	return rec
}
