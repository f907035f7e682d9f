// Package sdkstub provides an in-memory stand-in for the SDK under test.
// It records every target invocation in execution order so harness tests
// can assert on sequences, and can be told to fail specific operations to
// exercise the advance-on-failure contract.
package sdkstub

import (
	"context"
	"log/slog"
	"slices"
	"sync"

	"github.com/cadwell/turnstile"
)

// Call is one recorded target invocation.
type Call struct {
	Category string
	Op       turnstile.Op
	Params   turnstile.Params
}

// Module binds one or more categories to a shared recording target.
type Module struct {
	// Categories lists the command categories to register. Defaults to
	// {"session", "event"}.
	Categories []string

	// Fail maps operations to the error the stub returns for them, for
	// testing failure handling. May be nil.
	Fail map[turnstile.Op]error

	mu    sync.Mutex
	calls []Call

	logger *slog.Logger
}

func (m *Module) Name() string { return "sdkstub" }

func (m *Module) Init(_ context.Context, ic turnstile.InitContext) error {
	m.logger = ic.Logger
	cats := m.Categories
	if len(cats) == 0 {
		cats = []string{"session", "event"}
	}
	for _, c := range cats {
		ic.App.RegisterLane(c, &target{module: m, category: c})
	}
	return nil
}

// Calls returns a snapshot of recorded invocations in execution order.
func (m *Module) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.calls)
}

// CallsFor returns recorded invocations for a single category, in
// execution order.
func (m *Module) CallsFor(category string) []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Call
	for _, c := range m.calls {
		if c.Category == category {
			out = append(out, c)
		}
	}
	return out
}

// target implements turnstile.Target for one category.
type target struct {
	module   *Module
	category string
}

var _ turnstile.Target = (*target)(nil)

func (t *target) record(op turnstile.Op, p turnstile.Params) error {
	m := t.module
	m.mu.Lock()
	m.calls = append(m.calls, Call{Category: t.category, Op: op, Params: p})
	m.mu.Unlock()
	m.logger.Debug("target invoked", "category", t.category, "op", string(op))
	if err, ok := m.Fail[op]; ok {
		return err
	}
	return nil
}

func (t *target) StartSession(_ context.Context, p turnstile.Params) error {
	return t.record(turnstile.OpStartSession, p)
}

func (t *target) StopSession(_ context.Context, p turnstile.Params) error {
	return t.record(turnstile.OpStopSession, p)
}

func (t *target) TrackEvent(_ context.Context, p turnstile.Params) error {
	return t.record(turnstile.OpTrackEvent, p)
}

func (t *target) SetAttribution(_ context.Context, p turnstile.Params) error {
	return t.record(turnstile.OpSetAttribution, p)
}

func (t *target) ForgetUser(_ context.Context, p turnstile.Params) error {
	return t.record(turnstile.OpForgetUser, p)
}
