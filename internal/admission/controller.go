// Package admission decides whether a sized fetch request may run, and owns
// the three-step gate that unlocks oversized requests.
package admission

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/fetchgate/internal/media"
	"github.com/JakeFAU/fetchgate/internal/metrics"
)

// Unknown-size policies.
const (
	UnknownSizeGate   = "gate"
	UnknownSizeInform = "inform"
)

// ReasonStorage marks a rejection caused by an entitlement store failure.
const ReasonStorage = "storage"

// ErrAlreadyDecided is returned when a request that already carries a tier is
// decided again.
var ErrAlreadyDecided = errors.New("request already decided")

// Config holds the admission policy.
type Config struct {
	MaxFreeBytes      int64
	FreeTierInclusive bool
	UnknownSize       string
	AdministratorID   string
}

// Decision is the outcome of Decide.
type Decision struct {
	Request  media.FetchRequest
	Token    string
	Progress int
	Reason   string
	Err      error
}

// Admitted reports whether the request may be enqueued.
func (d Decision) Admitted() bool {
	return d.Request.State == media.StateAdmitted
}

// VerifyResult is the outcome of Verify.
type VerifyResult struct {
	Progress int
	Admitted bool
	Request  media.FetchRequest
}

// Controller applies the admission rules. Gate-pending requests are held in
// memory by correlation token until verified.
type Controller struct {
	store  media.EntitlementStore
	ids    media.IDGenerator
	cfg    Config
	logger *zap.Logger

	mu      sync.Mutex
	pending map[string]media.FetchRequest
}

// New constructs a Controller.
func New(store media.EntitlementStore, ids media.IDGenerator, cfg Config, logger *zap.Logger) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.UnknownSize == "" {
		cfg.UnknownSize = UnknownSizeGate
	}
	return &Controller{
		store:   store,
		ids:     ids,
		cfg:     cfg,
		logger:  logger,
		pending: make(map[string]media.FetchRequest),
	}
}

// Decide records a tier decision for a sized request. Rules, in order: a
// known size within the free allowance is admitted; an unknown size is
// admitted with a notice under the inform policy; an administrator grant
// admits; a completed gate admits; anything else waits on the gate. A store
// failure rejects the request.
func (c *Controller) Decide(ctx context.Context, req media.FetchRequest) Decision {
	if req.Tier != media.TierNone {
		return Decision{Request: req, Err: ErrAlreadyDecided}
	}
	req.State = media.StateSized

	if req.SizeKnown() && c.withinFreeAllowance(req.EstimatedSizeBytes) {
		return c.admit(req, media.TierFree)
	}
	if !req.SizeKnown() && c.cfg.UnknownSize == UnknownSizeInform {
		return c.admit(req, media.TierUnknown)
	}

	rec, err := c.store.Get(ctx, req.RequesterID)
	if err != nil {
		req.State = media.StateRejected
		metrics.ObserveAdmission(string(media.StateRejected))
		c.logger.Error("entitlement lookup failed, rejecting",
			zap.String("user_id", req.RequesterID),
			zap.String("url", req.URL),
			zap.Error(err),
		)
		return Decision{Request: req, Reason: ReasonStorage, Err: err}
	}
	if rec.AdminGranted {
		return c.admit(req, media.TierAdmin)
	}
	if rec.GateComplete() {
		return c.admit(req, media.TierGate)
	}

	token, err := c.ids.NewID()
	if err != nil {
		req.State = media.StateRejected
		metrics.ObserveAdmission(string(media.StateRejected))
		return Decision{Request: req, Err: fmt.Errorf("generate gate token: %w", err)}
	}
	req.State = media.StateGatePending

	c.mu.Lock()
	c.pending[token] = req
	c.mu.Unlock()

	metrics.ObserveAdmission(string(media.StateGatePending))
	c.logger.Info("request gated",
		zap.String("user_id", req.RequesterID),
		zap.String("url", req.URL),
		zap.Int64("estimated_size_bytes", req.EstimatedSizeBytes),
		zap.Int("progress", rec.Progress()),
	)
	return Decision{Request: req, Token: token, Progress: rec.Progress()}
}

func (c *Controller) withinFreeAllowance(size int64) bool {
	if c.cfg.FreeTierInclusive {
		return size <= c.cfg.MaxFreeBytes
	}
	return size < c.cfg.MaxFreeBytes
}

func (c *Controller) admit(req media.FetchRequest, tier media.Tier) Decision {
	req.State = media.StateAdmitted
	req.Tier = tier
	metrics.ObserveAdmission(string(tier))
	c.logger.Info("request admitted",
		zap.String("user_id", req.RequesterID),
		zap.String("url", req.URL),
		zap.String("tier", string(tier)),
	)
	return Decision{Request: req}
}

// ConfirmStep records proof-step for the requester of token and returns the
// resulting progress. Repeating a step is a no-op.
func (c *Controller) ConfirmStep(ctx context.Context, userID, token string, step int) (int, error) {
	if err := media.ValidateStep(step); err != nil {
		return 0, err
	}
	if _, err := c.lookup(userID, token); err != nil {
		return 0, err
	}
	rec, err := c.store.SetGateStep(ctx, userID, step, true)
	if err != nil {
		return 0, err
	}
	c.logger.Debug("gate step confirmed",
		zap.String("user_id", userID),
		zap.Int("step", step),
		zap.Int("progress", rec.Progress()),
	)
	return rec.Progress(), nil
}

// Verify admits the pending request behind token once every proof-step is
// recorded (or an administrator grant arrived meanwhile). Otherwise it only
// reports progress and the request stays pending.
func (c *Controller) Verify(ctx context.Context, userID, token string) (VerifyResult, error) {
	req, err := c.lookup(userID, token)
	if err != nil {
		return VerifyResult{}, err
	}
	rec, err := c.store.Get(ctx, userID)
	if err != nil {
		return VerifyResult{}, err
	}

	tier := media.TierNone
	switch {
	case rec.AdminGranted:
		tier = media.TierAdmin
	case rec.GateComplete():
		tier = media.TierGate
	default:
		return VerifyResult{Progress: rec.Progress(), Request: req}, nil
	}

	c.mu.Lock()
	_, stillPending := c.pending[token]
	delete(c.pending, token)
	c.mu.Unlock()
	if !stillPending {
		// A concurrent verify already admitted this request.
		return VerifyResult{}, media.ErrUnknownToken
	}

	decision := c.admit(req, tier)
	return VerifyResult{Progress: rec.Progress(), Admitted: true, Request: decision.Request}, nil
}

func (c *Controller) lookup(userID, token string) (media.FetchRequest, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	req, ok := c.pending[token]
	if !ok || req.RequesterID != userID {
		return media.FetchRequest{}, media.ErrUnknownToken
	}
	return req, nil
}

// Withdraw drops the pending request behind token, for a prompt that never
// reached its requester.
func (c *Controller) Withdraw(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.pending, token)
}

// Pending returns the number of requests waiting on the gate.
func (c *Controller) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// IsAdministrator reports whether userID is the configured administrator.
func (c *Controller) IsAdministrator(userID string) bool {
	return c.cfg.AdministratorID != "" && userID == c.cfg.AdministratorID
}

// Grant sets the administrator override for target.
func (c *Controller) Grant(ctx context.Context, callerID, target string) (media.UserEntitlement, error) {
	return c.adminOp(ctx, "grant", callerID, target, func(ctx context.Context) (media.UserEntitlement, error) {
		return c.store.SetAdminGranted(ctx, target, true)
	})
}

// Revoke clears the administrator override for target.
func (c *Controller) Revoke(ctx context.Context, callerID, target string) (media.UserEntitlement, error) {
	return c.adminOp(ctx, "revoke", callerID, target, func(ctx context.Context) (media.UserEntitlement, error) {
		return c.store.SetAdminGranted(ctx, target, false)
	})
}

// ResetGate clears target's gate progress.
func (c *Controller) ResetGate(ctx context.Context, callerID, target string) (media.UserEntitlement, error) {
	return c.adminOp(ctx, "reset gate", callerID, target, func(ctx context.Context) (media.UserEntitlement, error) {
		return c.store.ResetGate(ctx, target)
	})
}

// Entitlement returns userID's record.
func (c *Controller) Entitlement(ctx context.Context, userID string) (media.UserEntitlement, error) {
	return c.store.Get(ctx, userID)
}

func (c *Controller) adminOp(
	ctx context.Context,
	op string,
	callerID string,
	target string,
	apply func(context.Context) (media.UserEntitlement, error),
) (media.UserEntitlement, error) {
	if !c.IsAdministrator(callerID) {
		c.logger.Warn("unauthorized admin operation",
			zap.String("op", op),
			zap.String("user_id", callerID),
			zap.String("target", target),
		)
		return media.UserEntitlement{}, media.ErrUnauthorized
	}
	if target == "" {
		return media.UserEntitlement{}, fmt.Errorf("%s: target user id is required", op)
	}
	rec, err := apply(ctx)
	if err != nil {
		return media.UserEntitlement{}, err
	}
	c.logger.Info("admin operation applied",
		zap.String("op", op),
		zap.String("target", target),
		zap.Bool("admin_granted", rec.AdminGranted),
		zap.Int("progress", rec.Progress()),
	)
	return rec, nil
}
