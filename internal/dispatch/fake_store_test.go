package dispatch

import (
	"context"
	"sort"
	"sync"
	"time"

	"matchbot/internal/storage"
)

// fakeStore is an in-memory storage.Store for dispatcher and handler tests.
type fakeStore struct {
	mu sync.Mutex

	actions  map[string]*storage.QueueAction
	profiles map[string]storage.Profile
	settings map[string]storage.ActorSettings
	outcomes map[string]storage.Outcome
	activity []storage.ActivityEntry

	lastDueLimit int
	refuseClaims bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		actions:  map[string]*storage.QueueAction{},
		profiles: map[string]storage.Profile{},
		settings: map[string]storage.ActorSettings{},
		outcomes: map[string]storage.Outcome{},
	}
}

func pairKey(actorID, targetID string) string { return actorID + "|" + targetID }

func (f *fakeStore) Enqueue(ctx context.Context, a storage.QueueAction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if a.Status == "" {
		a.Status = storage.StatusPending
	}
	cp := a
	f.actions[a.ID] = &cp
	return nil
}

func (f *fakeStore) Due(ctx context.Context, now time.Time, limit int) ([]storage.QueueAction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastDueLimit = limit

	var due []storage.QueueAction
	for _, a := range f.actions {
		if a.Status == storage.StatusPending && !a.ScheduledAt.After(now) {
			due = append(due, *a)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].ScheduledAt.Before(due[j].ScheduledAt) })
	if len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (f *fakeStore) Claim(ctx context.Context, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.refuseClaims {
		return false, nil
	}
	a, ok := f.actions[id]
	if !ok || a.Status != storage.StatusPending {
		return false, nil
	}
	a.Status = storage.StatusProcessing
	return true, nil
}

func (f *fakeStore) Complete(ctx context.Context, id string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	a := f.actions[id]
	a.Status = storage.StatusCompleted
	a.ExecutedAt = at
	return nil
}

func (f *fakeStore) Reschedule(ctx context.Context, id string, retryCount int, at time.Time, errMsg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	a := f.actions[id]
	a.Status = storage.StatusPending
	a.RetryCount = retryCount
	a.ScheduledAt = at
	a.ErrorMessage = storage.TruncateError(errMsg)
	return nil
}

func (f *fakeStore) Fail(ctx context.Context, id string, retryCount int, errMsg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	a := f.actions[id]
	a.Status = storage.StatusFailed
	a.RetryCount = retryCount
	a.ErrorMessage = storage.TruncateError(errMsg)
	return nil
}

func (f *fakeStore) SetDecision(ctx context.Context, id, decision, reason, model string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	a := f.actions[id]
	if a.Payload == nil {
		a.Payload = map[string]string{}
	}
	a.Payload["decision"] = decision
	a.Payload["reason"] = reason
	a.Model = model
	a.RawResponse = reason
	return nil
}

func (f *fakeStore) Settings(ctx context.Context, actorID string) (storage.ActorSettings, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.settings[actorID]
	return s, ok, nil
}

func (f *fakeStore) Profile(ctx context.Context, id string) (storage.Profile, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.profiles[id]
	return p, ok, nil
}

func (f *fakeStore) HasOutcome(ctx context.Context, actorID, targetID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.outcomes[pairKey(actorID, targetID)]
	return ok, nil
}

func (f *fakeStore) InsertOutcome(ctx context.Context, o storage.Outcome) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.outcomes[pairKey(o.ActorID, o.TargetID)] = o
	return nil
}

func (f *fakeStore) AppendActivity(ctx context.Context, e storage.ActivityEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.activity = append(f.activity, e)
	return nil
}

func (f *fakeStore) TerminalCounts(ctx context.Context) (int64, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var completed, failed int64
	for _, a := range f.actions {
		switch a.Status {
		case storage.StatusCompleted:
			completed++
		case storage.StatusFailed:
			failed++
		}
	}
	return completed, failed, nil
}

func (f *fakeStore) Close() error { return nil }

func (f *fakeStore) action(id string) storage.QueueAction {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.actions[id]
}
