package turnstile

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

const (
	defaultExecTimeout = 10 * time.Second

	// laneInboxSize bounds how many control/submit messages may queue
	// before Submit applies backpressure to the transport goroutine.
	laneInboxSize = 128
)

// errUnknownOp marks a command whose name matches no Target method. The
// command is journalled as skipped and the counter advances so an unknown
// name cannot stall the sequence.
var errUnknownOp = errors.New("unknown operation")

type laneMsgKind int

const (
	msgSubmit laneMsgKind = iota
	msgReset
	msgStatus
)

type laneMsg struct {
	kind  laneMsgKind
	cmd   Command
	reply chan LaneStatus
}

// LaneStatus is a point-in-time snapshot of a lane's counters.
type LaneStatus struct {
	Category string `json:"category"`
	Next     uint64 `json:"next"`
	Pending  int    `json:"pending"`
	Executed uint64 `json:"executed"`
}

// Lane is the reordering buffer for a single category. Commands submitted in
// any order are released for execution in strictly ascending sequence order,
// each exactly once.
//
// A lane is a single-consumer actor: one goroutine owns the pending set and
// the next-expected counter, and every submission, reset, and status query
// arrives through one serialized inbox. Only one scan/execute chain ever
// runs at a time, without locks.
type Lane struct {
	category string
	target   Target
	logger   *slog.Logger
	timeout  time.Duration

	journal    *journal // may be nil
	progress   *progressHub
	violations *violationLog

	inbox   chan laneMsg
	done    chan struct{} // closed when the run loop exits
	started bool

	// Owned exclusively by the run loop.
	next     uint64
	pending  map[uint64]Command
	executed uint64

	// final is the last snapshot, written by the run loop immediately
	// before done is closed.
	final LaneStatus
}

func newLane(category string, target Target, logger *slog.Logger, timeout time.Duration, j *journal, p *progressHub, v *violationLog) *Lane {
	if timeout <= 0 {
		timeout = defaultExecTimeout
	}
	return &Lane{
		category:   category,
		target:     target,
		logger:     logger,
		timeout:    timeout,
		journal:    j,
		progress:   p,
		violations: v,
		inbox:      make(chan laneMsg, laneInboxSize),
		done:       make(chan struct{}),
		pending:    make(map[uint64]Command),
	}
}

// start launches the lane's run loop. The loop exits when ctx is canceled;
// commands still pending at that point are dropped.
func (l *Lane) start(ctx context.Context) {
	l.started = true
	go l.run(ctx)
}

func (l *Lane) run(ctx context.Context) {
	defer close(l.done)
	defer func() { l.final = l.snapshot() }()

	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-l.inbox:
			switch msg.kind {
			case msgSubmit:
				l.admit(ctx, msg.cmd)
			case msgReset:
				l.logger.Info("lane reset", "dropped", len(l.pending), "next", l.next)
				l.pending = make(map[uint64]Command)
				l.next = 0
				l.progress.signal(l.category, 0)
			case msgStatus:
				msg.reply <- l.snapshot()
			}
		}
	}
}

// Submit hands a command to the lane. It is fire-and-forget: ordering
// errors are recorded as protocol violations, never surfaced to the caller.
func (l *Lane) Submit(cmd Command) {
	select {
	case l.inbox <- laneMsg{kind: msgSubmit, cmd: cmd}:
	case <-l.done:
		// Lane stopped; the command is dropped.
	}
}

// Reset clears the pending set and rewinds the next-expected counter to
// zero. It is an administrative control message, not subject to sequence
// ordering. The journal, violation log, and lifetime executed counter are
// unaffected.
func (l *Lane) Reset() {
	select {
	case l.inbox <- laneMsg{kind: msgReset}:
	case <-l.done:
	}
}

// Status returns a snapshot of the lane's counters. The inbox is FIFO, so a
// Status round-trip also acts as a barrier for everything submitted before
// it. After the lane has stopped, Status returns the final snapshot.
func (l *Lane) Status(ctx context.Context) (LaneStatus, error) {
	reply := make(chan LaneStatus, 1)
	select {
	case l.inbox <- laneMsg{kind: msgStatus, reply: reply}:
	case <-l.done:
		return l.final, nil
	case <-ctx.Done():
		return LaneStatus{}, ctx.Err()
	}
	select {
	case st := <-reply:
		return st, nil
	case <-l.done:
		return l.final, nil
	case <-ctx.Done():
		return LaneStatus{}, ctx.Err()
	}
}

func (l *Lane) snapshot() LaneStatus {
	return LaneStatus{
		Category: l.category,
		Next:     l.next,
		Pending:  len(l.pending),
		Executed: l.executed,
	}
}

// admit applies the ordering protocol to one submitted command. Stale and
// duplicate sequence numbers are rejected explicitly rather than silently
// overwriting or re-executing.
func (l *Lane) admit(ctx context.Context, cmd Command) {
	switch {
	case cmd.Seq < l.next:
		v := l.violations.record(ViolationStale, l.category, cmd)
		l.logger.Error("stale sequence number", "op", cmd.Name, "seq", cmd.Seq, "next", l.next, "at", v.At)
	case hasSeq(l.pending, cmd.Seq):
		v := l.violations.record(ViolationDuplicate, l.category, cmd)
		l.logger.Error("duplicate sequence number", "op", cmd.Name, "seq", cmd.Seq, "at", v.At)
	case cmd.Seq == l.next:
		// Fast path: no buffering.
		l.execute(ctx, cmd)
		l.release(ctx)
	default:
		l.pending[cmd.Seq] = cmd
		l.release(ctx)
	}
}

func hasSeq(pending map[uint64]Command, seq uint64) bool {
	_, ok := pending[seq]
	return ok
}

// release repeatedly pops the pending command matching the next-expected
// sequence number. Each execution advances the counter and may unblock the
// next buffered command; commands with no predecessor yet simply stay in
// the pending set.
func (l *Lane) release(ctx context.Context) {
	for {
		cmd, ok := l.pending[l.next]
		if !ok {
			return
		}
		delete(l.pending, l.next)
		l.execute(ctx, cmd)
	}
}

// execute invokes the target operation for cmd and advances the
// next-expected counter. The counter advances regardless of outcome so that
// a failing or unrecognized operation cannot stall the stream.
func (l *Lane) execute(ctx context.Context, cmd Command) {
	start := time.Now()
	cctx, cancel := context.WithTimeout(ctx, l.timeout)
	err := l.invoke(cctx, cmd)
	cancel()
	latency := time.Since(start)

	outcome := outcomeOK
	switch {
	case errors.Is(err, errUnknownOp):
		outcome = outcomeSkipped
		l.logger.Warn("unrecognized operation", "op", cmd.Name, "seq", cmd.Seq)
	case err != nil:
		outcome = outcomeError
		l.logger.Warn("command failed", "op", cmd.Name, "seq", cmd.Seq, "err", err)
	}

	l.next++
	l.executed++

	if l.journal != nil {
		if jerr := l.journal.record(l.category, cmd, outcome, latency); jerr != nil {
			l.logger.Error("failed to journal command", "seq", cmd.Seq, "err", jerr)
		}
	}
	l.progress.signal(l.category, l.next)
}

// invoke maps the command name onto the target interface. The mapping is a
// closed set; anything else returns errUnknownOp without touching the
// target.
func (l *Lane) invoke(ctx context.Context, cmd Command) error {
	switch Op(cmd.Name) {
	case OpStartSession:
		return l.target.StartSession(ctx, cmd.Params)
	case OpStopSession:
		return l.target.StopSession(ctx, cmd.Params)
	case OpTrackEvent:
		return l.target.TrackEvent(ctx, cmd.Params)
	case OpSetAttribution:
		return l.target.SetAttribution(ctx, cmd.Params)
	case OpForgetUser:
		return l.target.ForgetUser(ctx, cmd.Params)
	default:
		return errUnknownOp
	}
}
