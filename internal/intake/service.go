// Package intake turns inbound chat events into probe, admission, and
// enqueue calls, and reports every outcome back to the requester.
package intake

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/fetchgate/internal/admission"
	"github.com/JakeFAU/fetchgate/internal/media"
	"github.com/JakeFAU/fetchgate/internal/metrics"
)

// Prober inspects a URL without fetching it.
type Prober interface {
	Probe(ctx context.Context, url string, auth media.AuthContext) (media.Metadata, error)
}

// Enqueuer hands admitted jobs to the fetch queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, job media.FetchJob) (*media.Ticket, error)
}

// RateLimiter throttles requesters.
type RateLimiter interface {
	Allow(userID string) bool
}

// CallbackAnswerer acknowledges a button press. Messengers that support it
// get step confirmations as toasts instead of chat messages.
type CallbackAnswerer interface {
	AnswerCallback(ctx context.Context, callbackID, text string) error
}

// Config holds intake settings.
type Config struct {
	GateSteps      []media.GateStep
	MaxFreeBytes   int64
	EnqueueTimeout time.Duration
}

// Service is the single entry point for inbound messages and gate actions.
type Service struct {
	prober    Prober
	admission *admission.Controller
	queue     Enqueuer
	messenger media.Messenger
	auth      media.AuthProvider
	ids       media.IDGenerator
	clock     media.Clock
	limiter   RateLimiter
	urls      *URLFilter
	cfg       Config
	logger    *zap.Logger

	watchers sync.WaitGroup
}

// Deps bundles the collaborators of a Service.
type Deps struct {
	Prober    Prober
	Admission *admission.Controller
	Queue     Enqueuer
	Messenger media.Messenger
	Auth      media.AuthProvider
	IDs       media.IDGenerator
	Clock     media.Clock
	Limiter   RateLimiter
	URLs      *URLFilter
}

// New constructs a Service.
func New(deps Deps, cfg Config, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.EnqueueTimeout <= 0 {
		cfg.EnqueueTimeout = 5 * time.Second
	}
	return &Service{
		prober:    deps.Prober,
		admission: deps.Admission,
		queue:     deps.Queue,
		messenger: deps.Messenger,
		auth:      deps.Auth,
		ids:       deps.IDs,
		clock:     deps.Clock,
		limiter:   deps.Limiter,
		urls:      deps.URLs,
		cfg:       cfg,
		logger:    logger,
	}
}

// HandleMessage processes one text message. Errors the requester can act on
// are answered in chat and not returned.
func (s *Service) HandleMessage(ctx context.Context, msg media.InboundMessage) error {
	text := strings.TrimSpace(msg.Text)
	if strings.HasPrefix(text, "/") {
		return s.handleCommand(ctx, msg, text)
	}

	if s.limiter != nil && !s.limiter.Allow(msg.RequesterID) {
		metrics.ObserveRateLimited()
		return s.reply(ctx, msg.ChatID, textSlowDown)
	}

	link, err := s.urls.Extract(text)
	if err != nil {
		var validation *media.ValidationError
		if errors.As(err, &validation) {
			return s.reply(ctx, msg.ChatID, textSendLink)
		}
		return err
	}

	req := media.FetchRequest{
		URL:         link,
		RequesterID: msg.RequesterID,
		ChatID:      msg.ChatID,
		State:       media.StateReceived,
	}
	if s.auth != nil {
		req.Auth = s.auth.AuthContext(ctx)
	}

	meta, err := s.prober.Probe(ctx, link, req.Auth)
	if err != nil {
		return s.reply(ctx, msg.ChatID, probeFailureText(err))
	}
	req.Title = meta.Title
	req.EstimatedSizeBytes = meta.EstimatedSizeBytes

	decision := s.admission.Decide(ctx, req)
	switch decision.Request.State {
	case media.StateAdmitted:
		return s.submit(ctx, decision.Request)
	case media.StateGatePending:
		if err := s.messenger.SendGatePrompt(ctx, msg.ChatID, s.gatePrompt(decision)); err != nil {
			s.admission.Withdraw(decision.Token)
			return fmt.Errorf("send gate prompt: %w", err)
		}
		return nil
	default:
		if decision.Reason == admission.ReasonStorage {
			return s.reply(ctx, msg.ChatID, textStorageDown)
		}
		s.logger.Error("request rejected", zap.String("user_id", msg.RequesterID), zap.Error(decision.Err))
		return s.reply(ctx, msg.ChatID, textTryAgain)
	}
}

// HandleAction processes a gate button press.
func (s *Service) HandleAction(ctx context.Context, act media.InboundAction) error {
	switch act.Kind {
	case media.ActionStep:
		progress, err := s.admission.ConfirmStep(ctx, act.RequesterID, act.Token, act.Step)
		if err != nil {
			return s.acknowledge(ctx, act, actionFailureText(err))
		}
		return s.acknowledge(ctx, act, fmt.Sprintf("Step %d recorded (%d/%d).", act.Step, progress, media.GateSteps))

	case media.ActionVerify:
		res, err := s.admission.Verify(ctx, act.RequesterID, act.Token)
		if err != nil {
			return s.acknowledge(ctx, act, actionFailureText(err))
		}
		if !res.Admitted {
			return s.acknowledge(ctx, act, progressText(res.Progress))
		}
		s.answer(ctx, act, "Verified.")
		return s.submit(ctx, res.Request)

	default:
		return s.acknowledge(ctx, act, "Unknown action.")
	}
}

// Wait blocks until every outcome watcher has reported.
func (s *Service) Wait() {
	s.watchers.Wait()
}

func (s *Service) submit(ctx context.Context, req media.FetchRequest) error {
	id, err := s.ids.NewID()
	if err != nil {
		s.logger.Error("generate job id failed", zap.Error(err))
		return s.reply(ctx, req.ChatID, textTryAgain)
	}
	job := media.FetchJob{
		ID:          id,
		URL:         req.URL,
		RequesterID: req.RequesterID,
		ChatID:      req.ChatID,
		Title:       req.Title,
		Auth:        req.Auth,
		Submitted:   s.clock.Now(),
	}

	enqueueCtx, cancel := context.WithTimeout(ctx, s.cfg.EnqueueTimeout)
	defer cancel()
	ticket, err := s.queue.Enqueue(enqueueCtx, job)
	if err != nil {
		s.logger.Warn("enqueue failed", zap.String("job_id", id), zap.String("user_id", req.RequesterID), zap.Error(err))
		return s.reply(ctx, req.ChatID, textQueueFull)
	}
	// The job starts only once the queued notice is out.
	defer ticket.Release()
	s.logger.Info("job queued",
		zap.String("job_id", id),
		zap.String("user_id", req.RequesterID),
		zap.String("url", req.URL),
		zap.String("tier", string(req.Tier)),
	)

	s.watch(context.WithoutCancel(ctx), req.ChatID, ticket)

	text := textQueued
	if req.Tier == media.TierUnknown {
		text = textQueuedUnknownSize
	}
	return s.reply(ctx, req.ChatID, text)
}

// watch reports a failed job to its requester. Successful jobs already
// delivered their file.
func (s *Service) watch(ctx context.Context, chatID string, ticket *media.Ticket) {
	s.watchers.Add(1)
	go func() {
		defer s.watchers.Done()
		<-ticket.Done()
		outcome := ticket.Outcome()
		if outcome.Status != media.JobStatusFailed {
			return
		}
		if err := s.messenger.SendText(ctx, chatID, jobFailureText(outcome.Err)); err != nil {
			s.logger.Warn("failure report not sent", zap.String("job_id", ticket.JobID()), zap.Error(err))
		}
	}()
}

func (s *Service) gatePrompt(d admission.Decision) media.GatePrompt {
	limit := formatSize(s.cfg.MaxFreeBytes)
	lead := fmt.Sprintf("This video's size could not be determined, so it is not covered by the free limit of %s.", limit)
	if d.Request.SizeKnown() {
		lead = fmt.Sprintf("This video is %s, over the free limit of %s.", formatSize(d.Request.EstimatedSizeBytes), limit)
	}
	text := fmt.Sprintf(
		"%s\nComplete the %d steps below, then press Verify.\nProgress: %d/%d.",
		lead, media.GateSteps, d.Progress, media.GateSteps,
	)
	return media.GatePrompt{Text: text, Token: d.Token, Steps: s.cfg.GateSteps}
}

func (s *Service) acknowledge(ctx context.Context, act media.InboundAction, text string) error {
	if s.answer(ctx, act, text) {
		return nil
	}
	return s.reply(ctx, act.ChatID, text)
}

func (s *Service) answer(ctx context.Context, act media.InboundAction, text string) bool {
	answerer, ok := s.messenger.(CallbackAnswerer)
	if !ok || act.CallbackID == "" {
		return false
	}
	if err := answerer.AnswerCallback(ctx, act.CallbackID, text); err != nil {
		s.logger.Warn("answer callback failed", zap.String("user_id", act.RequesterID), zap.Error(err))
		return false
	}
	return true
}

func (s *Service) reply(ctx context.Context, chatID, text string) error {
	if err := s.messenger.SendText(ctx, chatID, text); err != nil {
		return fmt.Errorf("send text: %w", err)
	}
	return nil
}
