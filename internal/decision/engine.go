// Package decision turns two profiles into a binary like/pass verdict,
// either by asking the inference endpoint or, when that fails, by a
// probability-weighted coin flip from the actor's configured response rate.
package decision

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"matchbot/internal/storage"
	logx "matchbot/pkg/logx"
)

type Decision string

const (
	DecisionLike Decision = "like"
	DecisionPass Decision = "pass"
)

// Result is the final verdict plus its provenance.
type Result struct {
	Decision Decision
	Reason   string
	Model    string
	Fallback bool
}

// Chatter is the inference surface the engine needs.
type Chatter interface {
	Chat(ctx context.Context, system, user string) (string, error)
	Model() string
}

// SettingsSource resolves per-actor configuration for the fallback rate.
// storage.Store satisfies it.
type SettingsSource interface {
	Settings(ctx context.Context, actorID string) (storage.ActorSettings, bool, error)
}

type Engine struct {
	llm      Chatter
	settings SettingsSource
	log      logx.Logger

	rand func() float64
	now  func() time.Time
}

func NewEngine(llm Chatter, settings SettingsSource, log logx.Logger) *Engine {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Engine{
		llm:      llm,
		settings: settings,
		log:      log,
		rand:     rand.Float64,
		now:      time.Now,
	}
}

// Decide asks the model to compare actor and target. It never returns an
// error: any inference failure resolves through the probabilistic fallback.
func (e *Engine) Decide(ctx context.Context, actor, target storage.Profile) Result {
	prompt := BuildPrompt(actor, target, e.now())

	text, err := e.llm.Chat(ctx, systemInstruction, prompt)
	if err != nil {
		e.log.Warn("inference failed, using fallback",
			logx.String("actor", actor.ID),
			logx.String("target", target.ID),
			logx.Err(err))
		return e.fallback(ctx, actor.ID, err)
	}

	verdict := ParseVerdict(text)
	d := DecisionPass
	if verdict == VerdictLike {
		d = DecisionLike
	}

	e.log.Debug("inference verdict",
		logx.String("actor", actor.ID),
		logx.String("target", target.ID),
		logx.String("verdict", verdict.String()))

	return Result{Decision: d, Reason: text, Model: e.llm.Model()}
}

// fallback draws a Bernoulli decision from the actor's response rate.
// Settings lookup problems degrade to the default rate; this path never fails.
func (e *Engine) fallback(ctx context.Context, actorID string, cause error) Result {
	responseRate := storage.DefaultResponseRate
	if e.settings != nil {
		if s, ok, err := e.settings.Settings(ctx, actorID); err == nil && ok {
			responseRate = s.ResponseRate
		}
	}

	d := DecisionPass
	if e.rand() < responseRate {
		d = DecisionLike
	}

	e.log.Info("fallback random decision",
		logx.String("actor", actorID),
		logx.String("decision", string(d)),
		logx.Float64("response_rate", responseRate))

	return Result{
		Decision: d,
		Reason:   fmt.Sprintf("random decision after inference failure (response_rate=%.2f): %v", responseRate, cause),
		Model:    e.llm.Model(),
		Fallback: true,
	}
}
