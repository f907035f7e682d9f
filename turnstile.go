// Package turnstile is the command-ordering core of an SDK test harness. A
// test server delivers numbered invocations over an unreliable-ordering
// transport; turnstile buffers out-of-order arrivals and releases them for
// execution in strictly ascending sequence order, exactly once, one
// independent ordering domain (lane) per command category.
package turnstile

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Config holds the configuration for an [App].
type Config struct {
	// DataDir is the directory where the journal database is stored.
	DataDir string

	// HTTPAddr is the command ingress address (default "127.0.0.1:7600").
	HTTPAddr string

	// ExecTimeout bounds each target-interface call. Defaults to 10s.
	ExecTimeout time.Duration

	// ReportPath, if non-empty, is where Shutdown writes the JSON run
	// report.
	ReportPath string

	// Logger is the structured logger for the App. If nil, [slog.Default]
	// is used.
	Logger *slog.Logger
}

// App is the central coordinator. It wires together the journal, the
// per-category lanes, the HTTP ingress, and user-defined modules.
type App struct {
	config     Config
	runID      string
	startedAt  time.Time
	db         *sql.DB
	journal    *journal
	progress   *progressHub
	violations *violationLog
	lanes      map[string]*Lane
	dispatcher *Dispatcher
	modules    []Module

	httpServer *http.Server
	httpAddr   string // actual bound address from listener

	logger *slog.Logger

	// ctx is a context derived from the one passed to Start. It is
	// canceled during Shutdown to signal lane and module goroutines to
	// stop.
	ctx    context.Context
	cancel context.CancelFunc

	// wg tracks goroutines started via InitContext.Go so that Shutdown
	// can wait for them to finish.
	wg sync.WaitGroup
}

// New creates a new App with the given configuration.
func New(config Config) *App {
	if config.HTTPAddr == "" {
		config.HTTPAddr = "127.0.0.1:7600"
	}
	if config.ExecTimeout <= 0 {
		config.ExecTimeout = defaultExecTimeout
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &App{
		config:     config,
		runID:      uuid.NewString(),
		progress:   newProgressHub(),
		violations: newViolationLog(),
		lanes:      make(map[string]*Lane),
		logger:     logger,
	}
}

// RegisterModule registers a module to be initialized at startup.
func (a *App) RegisterModule(m Module) {
	a.modules = append(a.modules, m)
}

// RegisterLane creates the ordering lane for a category, bound to the given
// target. It must be called during module Init, before the lanes start, and
// panics if the category is already registered.
func (a *App) RegisterLane(category string, target Target) *Lane {
	if _, ok := a.lanes[category]; ok {
		panic(fmt.Sprintf("turnstile: category %q already registered", category))
	}
	l := newLane(
		category,
		target,
		a.logger.With("lane", category),
		a.config.ExecTimeout,
		a.journal,
		a.progress,
		a.violations,
	)
	a.lanes[category] = l
	return l
}

// RunID returns the unique identifier assigned to this run.
func (a *App) RunID() string { return a.runID }

// HTTPAddrForTest returns the actual bound HTTP address. This may differ
// from Config.HTTPAddr when using port 0.
//
// This should only be used in tests.
func (a *App) HTTPAddrForTest() string { return a.httpAddr }

// Start initializes the App: journal, modules, lanes, HTTP ingress. It
// returns once everything is running.
func (a *App) Start(ctx context.Context) error {
	a.ctx, a.cancel = context.WithCancel(ctx)
	a.startedAt = time.Now().UTC()

	// 1. Open the journal database and set PRAGMAs.
	if err := os.MkdirAll(a.config.DataDir, 0o700); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	dbPath := filepath.Join(a.config.DataDir, "turnstile.db")
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	a.db = db

	pragmas := []string{
		"PRAGMA busy_timeout=10000;",
		"PRAGMA journal_mode=WAL;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return fmt.Errorf("set pragma %q: %w", p, err)
		}
	}

	j, err := newJournal(db, a.runID)
	if err != nil {
		return fmt.Errorf("init journal: %w", err)
	}
	a.journal = j

	// 2. Init modules (they bind categories via RegisterLane).
	for _, m := range a.modules {
		ic := InitContext{
			App:    a,
			Logger: a.logger.With("module", m.Name()),
		}
		if err := m.Init(a.ctx, ic); err != nil {
			return fmt.Errorf("module %s init: %w", m.Name(), err)
		}
	}

	// 3. Build the dispatcher over the registered lanes and start their
	// run loops.
	a.dispatcher = newDispatcher(a.lanes, a.logger)
	for _, l := range a.lanes {
		l.start(a.ctx)
	}

	// 4. Start the HTTP ingress.
	if err := a.startHTTP(); err != nil {
		return fmt.Errorf("start HTTP: %w", err)
	}

	a.logger.Info("started", "run_id", a.runID, "http_addr", a.httpAddr, "lanes", len(a.lanes))
	return nil
}

// Schedule routes one incoming command. It is the in-process equivalent of
// POST /api/v1/commands: fire-and-forget, errors are never surfaced to the
// caller.
func (a *App) Schedule(category, name string, params Params, seq uint64) {
	a.dispatcher.Schedule(category, name, params, seq)
}

// Dispatcher returns the command dispatcher. It is non-nil after Start.
func (a *App) Dispatcher() *Dispatcher { return a.dispatcher }

// WaitFor blocks until category's next-expected counter reaches at least n,
// or ctx is canceled.
func (a *App) WaitFor(ctx context.Context, category string, n uint64) error {
	return a.progress.wait(ctx, category, n)
}

// LaneStatus returns the status snapshot for one category.
func (a *App) LaneStatus(ctx context.Context, category string) (LaneStatus, error) {
	l, ok := a.lanes[category]
	if !ok {
		return LaneStatus{}, fmt.Errorf("unknown category %q", category)
	}
	return l.Status(ctx)
}

// LaneStatuses returns status snapshots for every registered lane, sorted
// by category.
func (a *App) LaneStatuses(ctx context.Context) ([]LaneStatus, error) {
	cats := make([]string, 0, len(a.lanes))
	for c := range a.lanes {
		cats = append(cats, c)
	}
	slices.Sort(cats)

	statuses := make([]LaneStatus, 0, len(cats))
	for _, c := range cats {
		st, err := a.lanes[c].Status(ctx)
		if err != nil {
			return nil, err
		}
		statuses = append(statuses, st)
	}
	return statuses, nil
}

// Violations returns every protocol violation recorded so far.
func (a *App) Violations() []Violation {
	return a.violations.all()
}

// Journal returns the executed commands for a category in execution order.
func (a *App) Journal(category string) ([]JournalEntry, error) {
	return a.journal.entries(category)
}

// Shutdown gracefully stops the App. The HTTP ingress is drained first and
// the run report (if configured) is written while the lanes can still
// answer status queries.
func (a *App) Shutdown(ctx context.Context) error {
	var firstErr error
	saveErr := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if a.httpServer != nil {
		saveErr(a.httpServer.Shutdown(ctx))
	}
	if a.config.ReportPath != "" && a.dispatcher != nil {
		saveErr(a.WriteReport(ctx, a.config.ReportPath))
	}

	if a.cancel != nil {
		a.cancel()
	}
	a.wg.Wait()
	for _, l := range a.lanes {
		if l.started {
			<-l.done
		}
	}

	if a.db != nil {
		saveErr(a.db.Close())
	}
	return firstErr
}
