// Package dispatch runs the queue poller: it fetches due actions, claims
// them one at a time, invokes the registered handler and applies the
// retry state machine to failures.
package dispatch

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"matchbot/internal/eventbus"
	"matchbot/internal/storage"
	logx "matchbot/pkg/logx"
)

// Bus event types published per processed action.
const (
	EventCompleted = "action.completed"
	EventRetried   = "action.retried"
	EventFailed    = "action.failed"
)

// ActionEvent is the bus payload for one outcome.
type ActionEvent struct {
	ID      string
	Type    storage.ActionType
	ActorID string
	Retries int
	Error   string
	Took    time.Duration
}

type Config struct {
	// PollInterval between passes; default 1 minute.
	PollInterval time.Duration
	// BatchLimit caps actions fetched per pass; default 10.
	BatchLimit int
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = time.Minute
	}
	if c.BatchLimit <= 0 {
		c.BatchLimit = 10
	}
	return c
}

// Service is the dispatcher. Items within a pass run strictly sequentially;
// a slow external call delays the rest of the batch.
type Service struct {
	mu  sync.Mutex
	cfg Config
	log logx.Logger

	store storage.Store
	reg   *Registry
	bus   eventbus.Bus

	c         *cron.Cron
	runCtx    context.Context
	runCancel context.CancelFunc

	// passBusy skips a tick while the previous pass is still running.
	passBusy atomic.Bool

	now func() time.Time
}

func New(cfg Config, store storage.Store, reg *Registry, bus eventbus.Bus, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:   cfg.withDefaults(),
		log:   log,
		store: store,
		reg:   reg,
		bus:   bus,
		now:   time.Now,
	}
}

// Start begins polling. The first pass runs immediately; subsequent passes
// follow the configured interval.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return nil
	}

	s.runCtx, s.runCancel = context.WithCancel(ctx)
	runCtx := s.runCtx

	c := cron.New()
	spec := "@every " + s.cfg.PollInterval.String()
	if _, err := c.AddFunc(spec, func() { s.pass(runCtx) }); err != nil {
		s.runCancel()
		s.runCtx, s.runCancel = nil, nil
		return fmt.Errorf("schedule poll: %w", err)
	}
	s.c = c

	// The original service drained the queue once before entering the
	// cadence; keep that so restarts don't wait a full interval.
	go s.pass(runCtx)

	c.Start()
	s.log.Info("dispatcher started",
		logx.Duration("poll_interval", s.cfg.PollInterval),
		logx.Int("batch_limit", s.cfg.BatchLimit))
	return nil
}

func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	cancel := s.runCancel
	s.c = nil
	s.runCtx, s.runCancel = nil, nil
	s.mu.Unlock()

	if c == nil {
		return
	}
	stopCtx := c.Stop()
	if cancel != nil {
		cancel()
	}
	select {
	case <-stopCtx.Done():
	case <-ctx.Done():
	}
	s.log.Info("dispatcher stopped")
}

// pass fetches one batch of due actions and processes it sequentially.
func (s *Service) pass(ctx context.Context) {
	if !s.passBusy.CompareAndSwap(false, true) {
		s.log.Debug("previous pass still running, skipping tick")
		return
	}
	defer s.passBusy.Store(false)

	if ctx.Err() != nil {
		return
	}

	actions, err := s.store.Due(ctx, s.now(), s.cfg.BatchLimit)
	if err != nil {
		s.log.Error("fetching due actions", logx.Err(err))
		return
	}
	if len(actions) == 0 {
		s.log.Debug("no due actions")
		return
	}

	s.log.Info("due actions found", logx.Int("count", len(actions)))
	for _, a := range actions {
		if ctx.Err() != nil {
			return
		}
		s.processOne(ctx, a)
	}
}

func (s *Service) processOne(ctx context.Context, a storage.QueueAction) {
	start := s.now()
	log := s.log.With(
		logx.String("action", a.ID),
		logx.String("type", string(a.Type)),
		logx.String("actor", a.ActorID))

	claimed, err := s.store.Claim(ctx, a.ID)
	if err != nil {
		log.Error("claim failed", logx.Err(err))
		return
	}
	if !claimed {
		// Lost to another poller or no longer pending.
		log.Debug("claim lost, skipping")
		return
	}

	err = s.execute(ctx, a)
	took := s.now().Sub(start)

	if err == nil {
		if cerr := s.store.Complete(ctx, a.ID, s.now()); cerr != nil {
			log.Error("marking completed", logx.Err(cerr))
			return
		}
		log.Info("action completed", logx.Duration("took", took))
		s.publish(EventCompleted, a, a.RetryCount, "", took)
		return
	}

	s.applyFailure(ctx, a, err, took, log)
}

// execute invokes the handler with panic containment; a panicking handler
// is a failure, not a dead poller.
func (s *Service) execute(ctx context.Context, a storage.QueueAction) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("panic in handler",
				logx.String("action", a.ID),
				logx.Any("panic", r),
				logx.String("stack", string(debug.Stack())))
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()

	h, ok := s.reg.Lookup(a.Type)
	if !ok {
		return Permanent(fmt.Errorf("unknown action type: %s", a.Type))
	}
	return h.Execute(ctx, a)
}

// applyFailure runs the retry state machine for one failed attempt.
func (s *Service) applyFailure(ctx context.Context, a storage.QueueAction, herr error, took time.Duration, log logx.Logger) {
	if IsPermanent(herr) {
		if err := s.store.Fail(ctx, a.ID, a.RetryCount, herr.Error()); err != nil {
			log.Error("marking failed", logx.Err(err))
			return
		}
		log.Warn("action failed permanently", logx.Err(herr))
		s.publish(EventFailed, a, a.RetryCount, herr.Error(), took)
		return
	}

	retries := a.RetryCount + 1
	if retries >= storage.MaxRetries {
		if err := s.store.Fail(ctx, a.ID, retries, herr.Error()); err != nil {
			log.Error("marking failed", logx.Err(err))
			return
		}
		log.Warn("action failed after retries",
			logx.Int("retries", retries),
			logx.Err(herr))
		s.publish(EventFailed, a, retries, herr.Error(), took)
		return
	}

	next := s.now().Add(storage.RetryDelay)
	if err := s.store.Reschedule(ctx, a.ID, retries, next, herr.Error()); err != nil {
		log.Error("rescheduling", logx.Err(err))
		return
	}
	log.Warn("action rescheduled",
		logx.Int("retry", retries),
		logx.Int("max_retries", storage.MaxRetries),
		logx.Time("next", next),
		logx.Err(herr))
	s.publish(EventRetried, a, retries, herr.Error(), took)
}

func (s *Service) publish(typ string, a storage.QueueAction, retries int, errMsg string, took time.Duration) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{
		Type: typ,
		Data: ActionEvent{
			ID:      a.ID,
			Type:    a.Type,
			ActorID: a.ActorID,
			Retries: retries,
			Error:   errMsg,
			Took:    took,
		},
	})
}
