package dispatch

import (
	"context"

	"matchbot/internal/storage"
	logx "matchbot/pkg/logx"
)

// Handler executes one claimed queue action.
//
// A nil return completes the action. A PermanentError fails it immediately;
// any other error goes through the retry policy.
type Handler interface {
	Execute(ctx context.Context, a storage.QueueAction) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, a storage.QueueAction) error

func (f HandlerFunc) Execute(ctx context.Context, a storage.QueueAction) error { return f(ctx, a) }

// Registry maps action types to handlers. The set of keys is closed at
// construction time; lookups for anything else fail the action permanently.
type Registry struct {
	m map[storage.ActionType]Handler
}

func NewRegistry() *Registry {
	return &Registry{m: map[storage.ActionType]Handler{}}
}

func (r *Registry) Register(t storage.ActionType, h Handler) {
	r.m[t] = h
}

func (r *Registry) Lookup(t storage.ActionType) (Handler, bool) {
	h, ok := r.m[t]
	return h, ok
}

// Noop returns a placeholder handler that reports success without doing
// anything. send_chat_message and view_profile are declared in the schema
// but have no behavior yet.
func Noop(name string, log logx.Logger) Handler {
	return HandlerFunc(func(ctx context.Context, a storage.QueueAction) error {
		log.Debug("noop action", logx.String("handler", name), logx.String("action", a.ID))
		return nil
	})
}
