package decision

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"testing"

	"matchbot/internal/storage"
	logx "matchbot/pkg/logx"
)

type stubChatter struct {
	reply string
	err   error
	calls int
}

func (s *stubChatter) Chat(ctx context.Context, system, user string) (string, error) {
	s.calls++
	return s.reply, s.err
}

func (s *stubChatter) Model() string { return "test-model" }

type stubSettings struct {
	settings storage.ActorSettings
	ok       bool
	err      error
}

func (s *stubSettings) Settings(ctx context.Context, actorID string) (storage.ActorSettings, bool, error) {
	return s.settings, s.ok, s.err
}

func newTestEngine(llm Chatter, src SettingsSource) *Engine {
	return NewEngine(llm, src, logx.Nop())
}

func TestDecideFromInference(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		reply string
		want  Decision
	}{
		{name: "like", reply: "Decision: LIKE\nReason: both love hiking.", want: DecisionLike},
		{name: "pass", reply: "Decision: PASS\nReason: different lifestyles.", want: DecisionPass},
		{name: "ambiguous defaults to pass", reply: "Tough call, could go either way.", want: DecisionPass},
		{name: "both tokens default to pass", reply: "LIKE or PASS? Honestly both.", want: DecisionPass},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			e := newTestEngine(&stubChatter{reply: tt.reply}, &stubSettings{})
			res := e.Decide(context.Background(), storage.Profile{ID: "a"}, storage.Profile{ID: "b"})
			if res.Decision != tt.want {
				t.Fatalf("Decision = %s, want %s", res.Decision, tt.want)
			}
			if res.Fallback {
				t.Fatal("inference decision must not be marked fallback")
			}
			if res.Reason != tt.reply {
				t.Fatalf("Reason = %q, want the raw reply", res.Reason)
			}
			if res.Model != "test-model" {
				t.Fatalf("Model = %q", res.Model)
			}
		})
	}
}

func TestFallbackAlwaysLikesAtRateOne(t *testing.T) {
	t.Parallel()
	src := &stubSettings{settings: storage.ActorSettings{ResponseRate: 1.0}, ok: true}
	e := newTestEngine(&stubChatter{err: errors.New("timeout")}, src)

	for i := 0; i < 50; i++ {
		res := e.Decide(context.Background(), storage.Profile{ID: "a"}, storage.Profile{ID: "b"})
		if res.Decision != DecisionLike {
			t.Fatalf("draw %d: Decision = %s, want like at rate 1.0", i, res.Decision)
		}
		if !res.Fallback {
			t.Fatal("expected fallback result")
		}
	}
}

func TestFallbackUsesDefaultRateWhenSettingsMissing(t *testing.T) {
	t.Parallel()
	e := newTestEngine(&stubChatter{err: errors.New("boom")}, &stubSettings{ok: false})
	e.rand = func() float64 { return 0.69 } // just under the 0.7 default

	res := e.Decide(context.Background(), storage.Profile{ID: "a"}, storage.Profile{ID: "b"})
	if res.Decision != DecisionLike {
		t.Fatalf("Decision = %s, want like for draw below default rate", res.Decision)
	}

	e.rand = func() float64 { return 0.71 }
	res = e.Decide(context.Background(), storage.Profile{ID: "a"}, storage.Profile{ID: "b"})
	if res.Decision != DecisionPass {
		t.Fatalf("Decision = %s, want pass for draw above default rate", res.Decision)
	}
}

func TestFallbackSurvivesSettingsError(t *testing.T) {
	t.Parallel()
	src := &stubSettings{err: errors.New("db down")}
	e := newTestEngine(&stubChatter{err: errors.New("timeout")}, src)

	res := e.Decide(context.Background(), storage.Profile{ID: "a"}, storage.Profile{ID: "b"})
	if res.Decision != DecisionLike && res.Decision != DecisionPass {
		t.Fatalf("unexpected decision %q", res.Decision)
	}
	if !res.Fallback {
		t.Fatal("expected fallback result")
	}
}

func TestFallbackDistributionConvergesToRate(t *testing.T) {
	t.Parallel()
	const (
		n         = 2000
		rate      = 0.7
		tolerance = 0.05
	)

	src := &stubSettings{settings: storage.ActorSettings{ResponseRate: rate}, ok: true}
	e := newTestEngine(&stubChatter{err: errors.New("forced failure")}, src)
	rng := rand.New(rand.NewPCG(7, 13))
	e.rand = rng.Float64

	likes := 0
	for i := 0; i < n; i++ {
		if res := e.Decide(context.Background(), storage.Profile{ID: "a"}, storage.Profile{ID: "b"}); res.Decision == DecisionLike {
			likes++
		}
	}

	got := float64(likes) / n
	if math.Abs(got-rate) > tolerance {
		t.Fatalf("like fraction %.3f outside %.2f±%.2f", got, rate, tolerance)
	}
}
