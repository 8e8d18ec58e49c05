package dispatch

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"matchbot/internal/eventbus"
	"matchbot/internal/storage"
	logx "matchbot/pkg/logx"
)

func newTestService(store storage.Store, reg *Registry, bus eventbus.Bus) *Service {
	return New(Config{}, store, reg, bus, logx.Nop())
}

func fixedNow() time.Time {
	return time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
}

func pendingAction(id string, retries int) storage.QueueAction {
	return storage.QueueAction{
		ID:          id,
		ActorID:     "actor-1",
		TargetID:    "target-1",
		Type:        storage.ActionRespondToLike,
		Status:      storage.StatusPending,
		RetryCount:  retries,
		ScheduledAt: fixedNow().Add(-time.Minute),
	}
}

func TestProcessOneSuccess(t *testing.T) {
	t.Parallel()
	store := newFakeStore()
	reg := NewRegistry()
	reg.Register(storage.ActionRespondToLike, HandlerFunc(func(ctx context.Context, a storage.QueueAction) error {
		return nil
	}))

	s := newTestService(store, reg, nil)
	s.now = fixedNow

	a := pendingAction("a1", 0)
	_ = store.Enqueue(context.Background(), a)
	s.processOne(context.Background(), a)

	got := store.action("a1")
	if got.Status != storage.StatusCompleted {
		t.Fatalf("Status = %s, want completed", got.Status)
	}
	if !got.ExecutedAt.Equal(fixedNow()) {
		t.Fatalf("ExecutedAt = %v, want %v", got.ExecutedAt, fixedNow())
	}
	if got.RetryCount != 0 {
		t.Fatalf("RetryCount = %d, want 0", got.RetryCount)
	}
}

func TestProcessOneReschedulesFirstFailure(t *testing.T) {
	t.Parallel()
	store := newFakeStore()
	reg := NewRegistry()
	reg.Register(storage.ActionRespondToLike, HandlerFunc(func(ctx context.Context, a storage.QueueAction) error {
		return errors.New("inference store hiccup")
	}))

	s := newTestService(store, reg, nil)
	s.now = fixedNow

	a := pendingAction("a1", 0)
	_ = store.Enqueue(context.Background(), a)
	s.processOne(context.Background(), a)

	got := store.action("a1")
	if got.Status != storage.StatusPending {
		t.Fatalf("Status = %s, want pending", got.Status)
	}
	if got.RetryCount != 1 {
		t.Fatalf("RetryCount = %d, want 1", got.RetryCount)
	}
	want := fixedNow().Add(storage.RetryDelay)
	if !got.ScheduledAt.Equal(want) {
		t.Fatalf("ScheduledAt = %v, want %v", got.ScheduledAt, want)
	}
	if got.ErrorMessage == "" {
		t.Fatal("ErrorMessage not set")
	}
}

func TestProcessOneExhaustsRetries(t *testing.T) {
	t.Parallel()
	store := newFakeStore()
	reg := NewRegistry()
	reg.Register(storage.ActionRespondToLike, HandlerFunc(func(ctx context.Context, a storage.QueueAction) error {
		return errors.New("still broken")
	}))

	s := newTestService(store, reg, nil)
	s.now = fixedNow

	a := pendingAction("a1", storage.MaxRetries-1)
	scheduled := a.ScheduledAt
	_ = store.Enqueue(context.Background(), a)
	s.processOne(context.Background(), a)

	got := store.action("a1")
	if got.Status != storage.StatusFailed {
		t.Fatalf("Status = %s, want failed", got.Status)
	}
	if got.RetryCount != storage.MaxRetries {
		t.Fatalf("RetryCount = %d, want %d", got.RetryCount, storage.MaxRetries)
	}
	if !got.ScheduledAt.Equal(scheduled) {
		t.Fatalf("ScheduledAt mutated on terminal failure: %v", got.ScheduledAt)
	}
}

func TestUnknownActionTypeFailsImmediately(t *testing.T) {
	t.Parallel()
	store := newFakeStore()
	s := newTestService(store, NewRegistry(), nil)
	s.now = fixedNow

	a := pendingAction("a1", 0)
	a.Type = storage.ActionType("foo")
	_ = store.Enqueue(context.Background(), a)
	s.processOne(context.Background(), a)

	got := store.action("a1")
	if got.Status != storage.StatusFailed {
		t.Fatalf("Status = %s, want failed without retries", got.Status)
	}
	if got.RetryCount != 0 {
		t.Fatalf("RetryCount = %d, want 0 (no retry budget spent)", got.RetryCount)
	}
	if !strings.Contains(got.ErrorMessage, "unknown action type") {
		t.Fatalf("ErrorMessage = %q", got.ErrorMessage)
	}
}

func TestLostClaimSkipsHandler(t *testing.T) {
	t.Parallel()
	store := newFakeStore()
	store.refuseClaims = true

	called := false
	reg := NewRegistry()
	reg.Register(storage.ActionRespondToLike, HandlerFunc(func(ctx context.Context, a storage.QueueAction) error {
		called = true
		return nil
	}))

	s := newTestService(store, reg, nil)
	s.now = fixedNow

	a := pendingAction("a1", 0)
	_ = store.Enqueue(context.Background(), a)
	s.processOne(context.Background(), a)

	if called {
		t.Fatal("handler ran despite lost claim")
	}
	if got := store.action("a1"); got.Status != storage.StatusPending {
		t.Fatalf("Status = %s, want untouched pending", got.Status)
	}
}

func TestHandlerPanicIsRetried(t *testing.T) {
	t.Parallel()
	store := newFakeStore()
	reg := NewRegistry()
	reg.Register(storage.ActionRespondToLike, HandlerFunc(func(ctx context.Context, a storage.QueueAction) error {
		panic("nil map write")
	}))

	s := newTestService(store, reg, nil)
	s.now = fixedNow

	a := pendingAction("a1", 0)
	_ = store.Enqueue(context.Background(), a)
	s.processOne(context.Background(), a)

	got := store.action("a1")
	if got.Status != storage.StatusPending {
		t.Fatalf("Status = %s, want pending after panic", got.Status)
	}
	if got.RetryCount != 1 {
		t.Fatalf("RetryCount = %d, want 1", got.RetryCount)
	}
	if !strings.Contains(got.ErrorMessage, "handler panic") {
		t.Fatalf("ErrorMessage = %q", got.ErrorMessage)
	}
}

func TestErrorMessageTruncated(t *testing.T) {
	t.Parallel()
	store := newFakeStore()
	long := strings.Repeat("x", 2*storage.MaxErrorLen)
	reg := NewRegistry()
	reg.Register(storage.ActionRespondToLike, HandlerFunc(func(ctx context.Context, a storage.QueueAction) error {
		return errors.New(long)
	}))

	s := newTestService(store, reg, nil)
	s.now = fixedNow

	a := pendingAction("a1", 0)
	_ = store.Enqueue(context.Background(), a)
	s.processOne(context.Background(), a)

	if got := store.action("a1"); len(got.ErrorMessage) > storage.MaxErrorLen {
		t.Fatalf("ErrorMessage length = %d, want <= %d", len(got.ErrorMessage), storage.MaxErrorLen)
	}
}

func TestPassBatchLimitAndOrder(t *testing.T) {
	t.Parallel()
	store := newFakeStore()

	var order []string
	reg := NewRegistry()
	reg.Register(storage.ActionRespondToLike, HandlerFunc(func(ctx context.Context, a storage.QueueAction) error {
		order = append(order, a.ID)
		return nil
	}))

	s := newTestService(store, reg, nil)
	s.now = fixedNow

	// 12 due actions; only the oldest 10 may run, oldest first.
	for i := 0; i < 12; i++ {
		a := pendingAction(string(rune('a'+i)), 0)
		a.ScheduledAt = fixedNow().Add(-time.Duration(12-i) * time.Minute)
		_ = store.Enqueue(context.Background(), a)
	}

	s.pass(context.Background())

	if store.lastDueLimit != 10 {
		t.Fatalf("fetch limit = %d, want 10", store.lastDueLimit)
	}
	if len(order) != 10 {
		t.Fatalf("processed %d actions, want 10", len(order))
	}
	for i := 1; i < len(order); i++ {
		prev := store.action(order[i-1])
		cur := store.action(order[i])
		if prev.ScheduledAt.After(cur.ScheduledAt) {
			t.Fatalf("actions out of order: %s before %s", order[i-1], order[i])
		}
	}
}

func TestOutcomeEventsPublished(t *testing.T) {
	t.Parallel()
	store := newFakeStore()
	bus := eventbus.New()
	ch, unsub := bus.Subscribe(16)
	defer unsub()

	reg := NewRegistry()
	reg.Register(storage.ActionRespondToLike, HandlerFunc(func(ctx context.Context, a storage.QueueAction) error {
		return nil
	}))

	s := newTestService(store, reg, bus)
	s.now = fixedNow

	a := pendingAction("a1", 0)
	_ = store.Enqueue(context.Background(), a)
	s.processOne(context.Background(), a)

	select {
	case ev := <-ch:
		if ev.Type != EventCompleted {
			t.Fatalf("event type = %s, want %s", ev.Type, EventCompleted)
		}
		data, ok := ev.Data.(ActionEvent)
		if !ok || data.ID != "a1" {
			t.Fatalf("unexpected event payload: %#v", ev.Data)
		}
	case <-time.After(time.Second):
		t.Fatal("no event published")
	}
}
