// Package hookbus dispatches a single parsed hook Event to its registered
// handler and guarantees a Verdict is always produced, even when the
// handler panics or returns an error (spec §4.5, §7: never block host
// progress on the kernel's own failure).
package hookbus

import (
	"context"

	"github.com/omc/kernel/internal/domain"
	"github.com/omc/kernel/internal/logging"
)

// Handler processes one Event and returns the Verdict to emit on stdout.
type Handler func(ctx context.Context, event *domain.Event, deps *Deps) (*domain.Verdict, error)

// Deps are the dependencies every handler is given. It is a plain struct
// rather than a God-interface so each handler only touches the fields it
// needs; Root and Logger are always set, the rest are filled in by whatever
// wiring cmd/omc-hook does for that event.
type Deps struct {
	Root   string
	Logger *logging.Logger
}

// Bus is the dispatch table keyed by HookEventName (spec §4.5).
type Bus struct {
	handlers map[domain.HookEventName]Handler
}

// New returns an empty Bus. Callers register handlers with Register.
func New() *Bus {
	return &Bus{handlers: make(map[domain.HookEventName]Handler)}
}

// Register binds a handler to an event name, overwriting any prior
// registration for that name.
func (b *Bus) Register(name domain.HookEventName, h Handler) {
	b.handlers[name] = h
}

// Dispatch looks up the handler for event.HookEventName and runs it under a
// single top-level recover. Any panic or returned error is downgraded to
// domain.Suppressed() rather than propagated — the kernel must never cause
// the host to stop making progress because of its own bug (spec §7).
// An event with no registered handler is also treated as Suppressed, not an
// error: unknown/future event names must be forward-compatible no-ops.
func (b *Bus) Dispatch(ctx context.Context, event *domain.Event, deps *Deps) (verdict *domain.Verdict) {
	handler, ok := b.handlers[event.HookEventName]
	if !ok {
		return domain.Suppressed()
	}

	defer func() {
		if r := recover(); r != nil {
			if deps != nil && deps.Logger != nil {
				deps.Logger.Printf("hookbus: recovered panic in %s handler: %v", event.HookEventName, r)
			}
			verdict = domain.Suppressed()
		}
	}()

	v, err := handler(ctx, event, deps)
	if err != nil {
		if deps != nil && deps.Logger != nil {
			deps.Logger.Printf("hookbus: %s handler error: %v", event.HookEventName, err)
		}
		return domain.Suppressed()
	}
	if v == nil {
		return domain.Allow()
	}
	return v
}
