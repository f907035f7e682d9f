package turnstile

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"
)

// scheduleRequest is the wire shape of POST /api/v1/commands.
type scheduleRequest struct {
	Category string `json:"category"`
	Name     string `json:"name"`
	Seq      uint64 `json:"seq"`
	Params   Params `json:"params"`
}

func (a *App) startHTTP() error {
	r := chi.NewRouter()

	r.Post("/api/v1/commands", a.handleSchedule)
	r.Get("/api/v1/lanes", a.handleLanes)
	r.Get("/api/v1/lanes/{category}", a.handleLane)
	r.Post("/api/v1/lanes/{category}/reset", a.handleReset)
	r.Get("/api/v1/journal/{category}", a.handleJournal)
	r.Get("/api/v1/violations", a.handleViolations)

	a.httpServer = &http.Server{Handler: r}

	ln, err := net.Listen("tcp", a.config.HTTPAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", a.config.HTTPAddr, err)
	}
	a.httpAddr = ln.Addr().String()

	go func() {
		if err := a.httpServer.Serve(ln); err != http.ErrServerClosed {
			a.logger.Error("HTTP server error", "err", err)
			os.Exit(1)
		}
	}()
	return nil
}

// handleSchedule accepts one command and returns 202 immediately. Ordering
// errors never surface here; the submission contract is fire-and-forget.
func (a *App) handleSchedule(w http.ResponseWriter, r *http.Request) {
	var req scheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Category == "" || req.Name == "" {
		http.Error(w, "category and name are required", http.StatusBadRequest)
		return
	}

	a.dispatcher.Schedule(req.Category, req.Name, req.Params, req.Seq)
	w.WriteHeader(http.StatusAccepted)
}

func (a *App) handleLanes(w http.ResponseWriter, r *http.Request) {
	statuses, err := a.LaneStatuses(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, statuses)
}

func (a *App) handleLane(w http.ResponseWriter, r *http.Request) {
	category := chi.URLParam(r, "category")
	l, ok := a.lanes[category]
	if !ok {
		http.Error(w, "unknown category", http.StatusNotFound)
		return
	}
	st, err := l.Status(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, st)
}

func (a *App) handleReset(w http.ResponseWriter, r *http.Request) {
	category := chi.URLParam(r, "category")
	if _, ok := a.lanes[category]; !ok {
		http.Error(w, "unknown category", http.StatusNotFound)
		return
	}
	a.dispatcher.Reset(category)
	w.WriteHeader(http.StatusNoContent)
}

func (a *App) handleJournal(w http.ResponseWriter, r *http.Request) {
	entries, err := a.Journal(chi.URLParam(r, "category"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []JournalEntry{}
	}
	writeJSON(w, entries)
}

func (a *App) handleViolations(w http.ResponseWriter, r *http.Request) {
	vs := a.Violations()
	if vs == nil {
		vs = []Violation{}
	}
	writeJSON(w, vs)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
