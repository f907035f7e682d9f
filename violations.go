package turnstile

import (
	"slices"
	"sync"
	"time"
)

// ViolationKind identifies how a submission broke the sequencing protocol.
type ViolationKind string

const (
	// ViolationStale marks a command whose sequence number has already
	// been executed (seq < next expected).
	ViolationStale ViolationKind = "stale"

	// ViolationDuplicate marks a command whose sequence number is already
	// buffered. The original command is kept.
	ViolationDuplicate ViolationKind = "duplicate"
)

// Violation is one rejected submission. Violations are observable through
// [App.Violations], the HTTP API, and the run report, but are never
// surfaced to the submitting caller.
type Violation struct {
	Kind     ViolationKind `json:"kind"`
	Category string        `json:"category"`
	Op       string        `json:"op"`
	Seq      uint64        `json:"seq"`
	At       time.Time     `json:"at"`
}

// violationLog collects protocol violations across all lanes.
type violationLog struct {
	mu      sync.Mutex
	entries []Violation
	now     func() time.Time // test hook
}

func newViolationLog() *violationLog {
	return &violationLog{}
}

func (v *violationLog) timeNow() time.Time {
	if v.now != nil {
		return v.now()
	}
	return time.Now().UTC()
}

// record appends a violation and returns it.
func (v *violationLog) record(kind ViolationKind, category string, cmd Command) Violation {
	entry := Violation{
		Kind:     kind,
		Category: category,
		Op:       cmd.Name,
		Seq:      cmd.Seq,
		At:       v.timeNow(),
	}
	v.mu.Lock()
	v.entries = append(v.entries, entry)
	v.mu.Unlock()
	return entry
}

// all returns a snapshot of every recorded violation, in arrival order.
func (v *violationLog) all() []Violation {
	v.mu.Lock()
	defer v.mu.Unlock()
	return slices.Clone(v.entries)
}
