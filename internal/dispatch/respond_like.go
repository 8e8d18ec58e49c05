package dispatch

import (
	"context"
	"fmt"

	"matchbot/internal/decision"
	"matchbot/internal/storage"
	logx "matchbot/pkg/logx"
)

// Decider is the decision-engine surface the handler needs.
type Decider interface {
	Decide(ctx context.Context, actor, target storage.Profile) decision.Result
}

// RespondToLike answers a received like with a like or a pass.
type RespondToLike struct {
	store  storage.Store
	engine Decider
	log    logx.Logger
}

func NewRespondToLike(store storage.Store, engine Decider, log logx.Logger) *RespondToLike {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &RespondToLike{store: store, engine: engine, log: log}
}

func (h *RespondToLike) Execute(ctx context.Context, a storage.QueueAction) error {
	// Idempotence guard: at most one recorded decision per (actor, target)
	// pair, even when duplicate queue entries exist.
	done, err := h.store.HasOutcome(ctx, a.ActorID, a.TargetID)
	if err != nil {
		return fmt.Errorf("outcome lookup: %w", err)
	}
	if done {
		h.log.Info("already decided, skipping",
			logx.String("actor", a.ActorID),
			logx.String("target", a.TargetID))
		return nil
	}

	actor, ok, err := h.store.Profile(ctx, a.ActorID)
	if err != nil {
		return fmt.Errorf("actor profile: %w", err)
	}
	if !ok {
		return fmt.Errorf("actor profile %s not found", a.ActorID)
	}
	target, ok, err := h.store.Profile(ctx, a.TargetID)
	if err != nil {
		return fmt.Errorf("target profile: %w", err)
	}
	if !ok {
		return fmt.Errorf("target profile %s not found", a.TargetID)
	}

	res := h.engine.Decide(ctx, actor, target)

	h.log.Info("decision made",
		logx.String("actor", a.ActorID),
		logx.String("target", a.TargetID),
		logx.String("decision", string(res.Decision)),
		logx.Bool("fallback", res.Fallback))

	if err := h.store.InsertOutcome(ctx, storage.Outcome{
		ActorID:  a.ActorID,
		TargetID: a.TargetID,
		Action:   string(res.Decision),
	}); err != nil {
		return fmt.Errorf("record outcome: %w", err)
	}

	if err := h.store.SetDecision(ctx, a.ID, string(res.Decision), res.Reason, res.Model); err != nil {
		return fmt.Errorf("attach decision: %w", err)
	}

	if err := h.store.AppendActivity(ctx, storage.ActivityEntry{
		ActorID:  a.ActorID,
		TargetID: a.TargetID,
		Activity: string(res.Decision),
		Reason:   res.Reason,
		Model:    res.Model,
	}); err != nil {
		return fmt.Errorf("append activity: %w", err)
	}

	return nil
}
