// Package turnstiletest provides helpers for spinning up a turnstile App in
// tests: temp data dirs, ephemeral ports, slogt logging, and progress-based
// waiting so that tests never sleep-poll.
package turnstiletest

import (
	"context"
	"testing"
	"time"

	"github.com/cadwell/turnstile"
	"github.com/neilotoole/slogt"
)

// Harness is a running test App.
type Harness struct {
	App *turnstile.App

	// BaseURL is the root of the App's HTTP API, e.g.
	// "http://127.0.0.1:49152".
	BaseURL string
}

// New creates and starts an App with the given modules registered. The App
// is shut down when t completes.
func New(t *testing.T, mods ...turnstile.Module) *Harness {
	t.Helper()
	return NewWithConfig(t, turnstile.Config{}, mods...)
}

// NewWithConfig is like New but lets the test override parts of the App
// configuration. DataDir, HTTPAddr, and Logger receive test defaults when
// unset.
func NewWithConfig(t *testing.T, cfg turnstile.Config, mods ...turnstile.Module) *Harness {
	t.Helper()

	if cfg.DataDir == "" {
		cfg.DataDir = t.TempDir()
	}
	if cfg.HTTPAddr == "" {
		cfg.HTTPAddr = "127.0.0.1:0"
	}
	if cfg.Logger == nil {
		cfg.Logger = slogt.New(t)
	}

	ctx, cancel := context.WithCancel(context.Background())

	app := turnstile.New(cfg)
	for _, m := range mods {
		app.RegisterModule(m)
	}
	if err := app.Start(ctx); err != nil {
		cancel()
		t.Fatalf("start app: %v", err)
	}

	t.Cleanup(func() {
		if err := app.Shutdown(context.Background()); err != nil {
			t.Logf("shutdown: %v", err)
		}
		cancel()
	})

	return &Harness{
		App:     app,
		BaseURL: "http://" + app.HTTPAddrForTest(),
	}
}

// WaitFor blocks until category's next-expected counter reaches n, failing
// the test after timeout.
func (h *Harness) WaitFor(t *testing.T, category string, n uint64, timeout time.Duration) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := h.App.WaitFor(ctx, category, n); err != nil {
		t.Fatalf("waiting for category %q to reach %d: %v", category, n, err)
	}
}

// Status returns the lane status for category, failing the test on error.
func (h *Harness) Status(t *testing.T, category string) turnstile.LaneStatus {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	st, err := h.App.LaneStatus(ctx, category)
	if err != nil {
		t.Fatalf("lane status for %q: %v", category, err)
	}
	return st
}
