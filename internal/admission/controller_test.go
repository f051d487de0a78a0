package admission

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/fetchgate/internal/media"
	"github.com/JakeFAU/fetchgate/internal/storage/memory"
)

const (
	mib   = int64(1 << 20)
	admin = "admin-1"
)

type seqIDs struct {
	mu sync.Mutex
	n  int
}

func (s *seqIDs) NewID() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return fmt.Sprintf("token-%d", s.n), nil
}

type failingStore struct {
	media.EntitlementStore
}

func (failingStore) Get(context.Context, string) (media.UserEntitlement, error) {
	return media.UserEntitlement{}, &media.StorageError{Op: "get", Err: errors.New("disk on fire")}
}

func newController(store media.EntitlementStore, cfg Config) *Controller {
	if cfg.MaxFreeBytes == 0 {
		cfg.MaxFreeBytes = 20 * mib
	}
	cfg.AdministratorID = admin
	return New(store, &seqIDs{}, cfg, zap.NewNop())
}

func request(user string, size int64) media.FetchRequest {
	return media.FetchRequest{
		URL:                "https://youtube.com/shorts/" + user,
		RequesterID:        user,
		ChatID:             "chat-" + user,
		EstimatedSizeBytes: size,
		State:              media.StateReceived,
	}
}

func TestDecideAdmitsSmallRequestWithoutGate(t *testing.T) {
	t.Parallel()

	c := newController(memory.NewEntitlementStore(), Config{FreeTierInclusive: true})
	d := c.Decide(context.Background(), request("u1", 18*mib))

	require.NoError(t, d.Err)
	require.True(t, d.Admitted())
	require.Equal(t, media.TierFree, d.Request.Tier)
	require.Empty(t, d.Token)
	require.Zero(t, c.Pending())
}

func TestDecideFreeBoundary(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		inclusive bool
		wantState media.State
	}{
		{"inclusive admits exact threshold", true, media.StateAdmitted},
		{"exclusive gates exact threshold", false, media.StateGatePending},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := newController(memory.NewEntitlementStore(), Config{FreeTierInclusive: tt.inclusive})
			d := c.Decide(context.Background(), request("u", 20*mib))
			require.NoError(t, d.Err)
			require.Equal(t, tt.wantState, d.Request.State)
		})
	}
}

func TestGateFlowRequiresAllThreeSteps(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memory.NewEntitlementStore()
	c := newController(store, Config{FreeTierInclusive: true})

	d := c.Decide(ctx, request("u2", 45*mib))
	require.NoError(t, d.Err)
	require.Equal(t, media.StateGatePending, d.Request.State)
	require.NotEmpty(t, d.Token)
	require.Equal(t, 1, c.Pending())

	for _, step := range []int{2, 1, 2} {
		_, err := c.ConfirmStep(ctx, "u2", d.Token, step)
		require.NoError(t, err)
	}

	res, err := c.Verify(ctx, "u2", d.Token)
	require.NoError(t, err)
	require.False(t, res.Admitted)
	require.Equal(t, 2, res.Progress)
	require.Equal(t, 1, c.Pending())

	progress, err := c.ConfirmStep(ctx, "u2", d.Token, 3)
	require.NoError(t, err)
	require.Equal(t, 3, progress)

	res, err = c.Verify(ctx, "u2", d.Token)
	require.NoError(t, err)
	require.True(t, res.Admitted)
	require.Equal(t, media.StateAdmitted, res.Request.State)
	require.Equal(t, media.TierGate, res.Request.Tier)
	require.Equal(t, "https://youtube.com/shorts/u2", res.Request.URL)
	require.Zero(t, c.Pending())

	_, err = c.Verify(ctx, "u2", d.Token)
	require.ErrorIs(t, err, media.ErrUnknownToken)
}

func TestCompletedGateAdmitsLaterRequests(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memory.NewEntitlementStore()
	for step := 1; step <= media.GateSteps; step++ {
		_, err := store.SetGateStep(ctx, "u3", step, true)
		require.NoError(t, err)
	}
	c := newController(store, Config{FreeTierInclusive: true})

	d := c.Decide(ctx, request("u3", 300*mib))
	require.True(t, d.Admitted())
	require.Equal(t, media.TierGate, d.Request.Tier)
}

func TestAdminGrantBypassesGateUntilRevoked(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c := newController(memory.NewEntitlementStore(), Config{FreeTierInclusive: true})

	_, err := c.Grant(ctx, admin, "x")
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		d := c.Decide(ctx, request("x", 500*mib))
		require.True(t, d.Admitted())
		require.Equal(t, media.TierAdmin, d.Request.Tier)
	}

	_, err = c.Revoke(ctx, admin, "x")
	require.NoError(t, err)
	d := c.Decide(ctx, request("x", 500*mib))
	require.Equal(t, media.StateGatePending, d.Request.State)
}

func TestAdminOperationsRejectOtherCallers(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memory.NewEntitlementStore()
	c := newController(store, Config{})

	_, err := c.Grant(ctx, "intruder", "intruder")
	require.ErrorIs(t, err, media.ErrUnauthorized)
	_, err = c.Revoke(ctx, "intruder", "x")
	require.ErrorIs(t, err, media.ErrUnauthorized)
	_, err = c.ResetGate(ctx, "intruder", "x")
	require.ErrorIs(t, err, media.ErrUnauthorized)

	rec, err := store.Get(ctx, "intruder")
	require.NoError(t, err)
	require.False(t, rec.AdminGranted)

	unset := New(store, &seqIDs{}, Config{MaxFreeBytes: mib}, nil)
	_, err = unset.Grant(ctx, "", "x")
	require.ErrorIs(t, err, media.ErrUnauthorized)
}

func TestResetGateClearsProgress(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memory.NewEntitlementStore()
	c := newController(store, Config{})
	_, err := store.SetGateStep(ctx, "u", 1, true)
	require.NoError(t, err)

	rec, err := c.ResetGate(ctx, admin, "u")
	require.NoError(t, err)
	require.Zero(t, rec.Progress())
}

func TestStorageFailureRejects(t *testing.T) {
	t.Parallel()

	c := newController(failingStore{}, Config{FreeTierInclusive: true})
	d := c.Decide(context.Background(), request("u", 45*mib))

	require.Equal(t, media.StateRejected, d.Request.State)
	require.Equal(t, ReasonStorage, d.Reason)
	var storageErr *media.StorageError
	require.ErrorAs(t, d.Err, &storageErr)
	require.False(t, d.Admitted())
}

func TestStorageFailureDoesNotBlockFreeTier(t *testing.T) {
	t.Parallel()

	c := newController(failingStore{}, Config{FreeTierInclusive: true})
	d := c.Decide(context.Background(), request("u", mib))
	require.True(t, d.Admitted())
}

func TestUnknownSizePolicies(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	gated := newController(memory.NewEntitlementStore(), Config{UnknownSize: UnknownSizeGate})
	d := gated.Decide(ctx, request("u", 0))
	require.Equal(t, media.StateGatePending, d.Request.State)

	informed := newController(memory.NewEntitlementStore(), Config{UnknownSize: UnknownSizeInform})
	d = informed.Decide(ctx, request("u", 0))
	require.True(t, d.Admitted())
	require.Equal(t, media.TierUnknown, d.Request.Tier)
}

func TestDecideIsOneShot(t *testing.T) {
	t.Parallel()

	c := newController(memory.NewEntitlementStore(), Config{FreeTierInclusive: true})
	d := c.Decide(context.Background(), request("u", mib))
	again := c.Decide(context.Background(), d.Request)
	require.ErrorIs(t, again.Err, ErrAlreadyDecided)
}

func TestConfirmStepValidation(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c := newController(memory.NewEntitlementStore(), Config{})
	d := c.Decide(ctx, request("u", 45*mib))

	_, err := c.ConfirmStep(ctx, "u", d.Token, 4)
	require.ErrorIs(t, err, media.ErrInvalidStep)
	_, err = c.ConfirmStep(ctx, "someone-else", d.Token, 1)
	require.ErrorIs(t, err, media.ErrUnknownToken)
	_, err = c.ConfirmStep(ctx, "u", "bogus", 1)
	require.ErrorIs(t, err, media.ErrUnknownToken)
}

func TestWithdrawForgetsPendingRequest(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c := newController(memory.NewEntitlementStore(), Config{})
	d := c.Decide(ctx, request("u", 45*mib))
	require.Equal(t, 1, c.Pending())

	c.Withdraw(d.Token)
	require.Zero(t, c.Pending())
	_, err := c.ConfirmStep(ctx, "u", d.Token, 1)
	require.ErrorIs(t, err, media.ErrUnknownToken)
}

func TestLargeRequestNeverAdmittedWithoutEntitlement(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memory.NewEntitlementStore()
	c := newController(store, Config{FreeTierInclusive: true})

	for steps := 0; steps < media.GateSteps; steps++ {
		if steps > 0 {
			_, err := store.SetGateStep(ctx, "u", steps, true)
			require.NoError(t, err)
		}
		d := c.Decide(ctx, request("u", 21*mib))
		require.Equal(t, media.StateGatePending, d.Request.State, "progress %d", steps)
	}
}
