package turnstile

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/neilotoole/slogt"
)

// fakeTarget records the "mark" parameter of every successful invocation in
// execution order.
type fakeTarget struct {
	mu    sync.Mutex
	marks []string

	// fail maps ops to the error they should return. Failing calls do not
	// record a mark.
	fail map[Op]error

	// block, if non-nil, makes every call wait until the channel is closed
	// or the call context expires.
	block chan struct{}
}

func (f *fakeTarget) call(ctx context.Context, op Op, p Params) error {
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err, ok := f.fail[op]; ok {
		return err
	}
	f.mu.Lock()
	f.marks = append(f.marks, p.Get("mark"))
	f.mu.Unlock()
	return nil
}

func (f *fakeTarget) StartSession(ctx context.Context, p Params) error {
	return f.call(ctx, OpStartSession, p)
}
func (f *fakeTarget) StopSession(ctx context.Context, p Params) error {
	return f.call(ctx, OpStopSession, p)
}
func (f *fakeTarget) TrackEvent(ctx context.Context, p Params) error {
	return f.call(ctx, OpTrackEvent, p)
}
func (f *fakeTarget) SetAttribution(ctx context.Context, p Params) error {
	return f.call(ctx, OpSetAttribution, p)
}
func (f *fakeTarget) ForgetUser(ctx context.Context, p Params) error {
	return f.call(ctx, OpForgetUser, p)
}

var _ Target = (*fakeTarget)(nil)

func (f *fakeTarget) recorded() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.marks...)
}

type laneFixture struct {
	lane       *Lane
	target     *fakeTarget
	progress   *progressHub
	violations *violationLog
	cancel     context.CancelFunc
}

func startTestLane(t *testing.T, target *fakeTarget, timeout time.Duration) *laneFixture {
	t.Helper()
	hub := newProgressHub()
	vlog := newViolationLog()
	l := newLane("test", target, slogt.New(t), timeout, nil, hub, vlog)

	ctx, cancel := context.WithCancel(context.Background())
	l.start(ctx)
	t.Cleanup(func() {
		cancel()
		<-l.done
	})

	return &laneFixture{lane: l, target: target, progress: hub, violations: vlog, cancel: cancel}
}

// status round-trips through the lane's inbox, acting as a barrier for every
// submission before it.
func (f *laneFixture) status(t *testing.T) LaneStatus {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	st, err := f.lane.Status(ctx)
	if err != nil {
		t.Fatalf("lane status: %v", err)
	}
	return st
}

func trackCmd(seq uint64, mark string) Command {
	return Command{
		Name:   string(OpTrackEvent),
		Params: Params{"mark": {mark}},
		Seq:    seq,
	}
}

func assertMarks(t *testing.T, target *fakeTarget, want ...string) {
	t.Helper()
	got := target.recorded()
	if len(got) != len(want) {
		t.Fatalf("got %d invocations %v, want %d %v", len(got), got, len(want), want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("invocation %d: got %q, want %q (full order: %v)", i, got[i], want[i], got)
		}
	}
}

func TestLane_InOrderFastPath(t *testing.T) {
	f := startTestLane(t, &fakeTarget{}, time.Second)

	f.lane.Submit(trackCmd(0, "a"))
	f.lane.Submit(trackCmd(1, "b"))
	f.lane.Submit(trackCmd(2, "c"))

	st := f.status(t)
	if st.Next != 3 || st.Pending != 0 || st.Executed != 3 {
		t.Fatalf("unexpected status: %+v", st)
	}
	assertMarks(t, f.target, "a", "b", "c")
}

func TestLane_ReordersOutOfOrderArrivals(t *testing.T) {
	f := startTestLane(t, &fakeTarget{}, time.Second)

	f.lane.Submit(trackCmd(2, "s2"))
	f.lane.Submit(trackCmd(0, "s0"))
	f.lane.Submit(trackCmd(1, "s1"))

	st := f.status(t)
	if st.Next != 3 || st.Pending != 0 {
		t.Fatalf("unexpected status: %+v", st)
	}
	assertMarks(t, f.target, "s0", "s1", "s2")
}

func permutations(vals []uint64) [][]uint64 {
	if len(vals) <= 1 {
		return [][]uint64{append([]uint64(nil), vals...)}
	}
	var out [][]uint64
	for i := range vals {
		rest := make([]uint64, 0, len(vals)-1)
		rest = append(rest, vals[:i]...)
		rest = append(rest, vals[i+1:]...)
		for _, p := range permutations(rest) {
			out = append(out, append([]uint64{vals[i]}, p...))
		}
	}
	return out
}

func TestLane_AllArrivalOrdersExecuteAscending(t *testing.T) {
	marks := []string{"m0", "m1", "m2", "m3"}

	for _, perm := range permutations([]uint64{0, 1, 2, 3}) {
		f := startTestLane(t, &fakeTarget{}, time.Second)

		for _, seq := range perm {
			f.lane.Submit(trackCmd(seq, marks[seq]))
		}

		st := f.status(t)
		if st.Next != 4 || st.Pending != 0 || st.Executed != 4 {
			t.Fatalf("arrival order %v: unexpected status %+v", perm, st)
		}
		got := f.target.recorded()
		for i, m := range marks {
			if got[i] != m {
				t.Fatalf("arrival order %v: executed %v, want %v", perm, got, marks)
			}
		}
	}
}

func TestLane_BuffersUntilGapFilled(t *testing.T) {
	f := startTestLane(t, &fakeTarget{}, time.Second)

	f.lane.Submit(trackCmd(5, "later"))

	st := f.status(t)
	if st.Next != 0 {
		t.Fatalf("counter moved without predecessors: %+v", st)
	}
	if st.Pending != 1 || st.Executed != 0 {
		t.Fatalf("unexpected status: %+v", st)
	}
	assertMarks(t, f.target)
}

func TestLane_InterleavedRelease(t *testing.T) {
	f := startTestLane(t, &fakeTarget{}, time.Second)

	f.lane.Submit(trackCmd(1, "b"))
	f.lane.Submit(trackCmd(0, "a"))
	f.lane.Submit(trackCmd(3, "d"))
	f.lane.Submit(trackCmd(2, "c"))

	st := f.status(t)
	if st.Next != 4 || st.Pending != 0 {
		t.Fatalf("unexpected status: %+v", st)
	}
	assertMarks(t, f.target, "a", "b", "c", "d")
}

func TestLane_UnknownOpAdvancesCounter(t *testing.T) {
	f := startTestLane(t, &fakeTarget{}, time.Second)

	f.lane.Submit(Command{Name: "frobnicate", Seq: 0})
	f.lane.Submit(trackCmd(1, "after"))

	st := f.status(t)
	if st.Next != 2 || st.Executed != 2 {
		t.Fatalf("unknown op stalled the counter: %+v", st)
	}
	// The target was never invoked for the unknown name.
	assertMarks(t, f.target, "after")
}

func TestLane_TargetFailureAdvancesCounter(t *testing.T) {
	target := &fakeTarget{fail: map[Op]error{OpStartSession: errors.New("boom")}}
	f := startTestLane(t, target, time.Second)

	f.lane.Submit(Command{Name: string(OpStartSession), Seq: 0})
	f.lane.Submit(trackCmd(1, "after"))

	st := f.status(t)
	if st.Next != 2 || st.Executed != 2 {
		t.Fatalf("failed op stalled the counter: %+v", st)
	}
	assertMarks(t, target, "after")
}

func TestLane_DuplicatePendingRejected(t *testing.T) {
	f := startTestLane(t, &fakeTarget{}, time.Second)

	f.lane.Submit(trackCmd(2, "first"))
	f.lane.Submit(trackCmd(2, "second"))
	f.lane.Submit(trackCmd(0, "a"))
	f.lane.Submit(trackCmd(1, "b"))

	st := f.status(t)
	if st.Next != 3 || st.Pending != 0 {
		t.Fatalf("unexpected status: %+v", st)
	}
	// The original buffered command wins.
	assertMarks(t, f.target, "a", "b", "first")

	vs := f.violations.all()
	if len(vs) != 1 {
		t.Fatalf("expected 1 violation, got %d: %+v", len(vs), vs)
	}
	if vs[0].Kind != ViolationDuplicate || vs[0].Seq != 2 || vs[0].Category != "test" {
		t.Fatalf("unexpected violation: %+v", vs[0])
	}
}

func TestLane_StaleSeqRejected(t *testing.T) {
	f := startTestLane(t, &fakeTarget{}, time.Second)

	f.lane.Submit(trackCmd(0, "once"))
	f.lane.Submit(trackCmd(0, "again"))

	st := f.status(t)
	if st.Next != 1 || st.Executed != 1 {
		t.Fatalf("stale submission re-executed: %+v", st)
	}
	assertMarks(t, f.target, "once")

	vs := f.violations.all()
	if len(vs) != 1 {
		t.Fatalf("expected 1 violation, got %d: %+v", len(vs), vs)
	}
	if vs[0].Kind != ViolationStale || vs[0].Seq != 0 {
		t.Fatalf("unexpected violation: %+v", vs[0])
	}
}

func TestLane_ResetRewindsAndClearsPending(t *testing.T) {
	f := startTestLane(t, &fakeTarget{}, time.Second)

	f.lane.Submit(trackCmd(0, "a"))
	f.lane.Submit(trackCmd(1, "b"))
	f.lane.Submit(trackCmd(5, "orphan"))

	st := f.status(t)
	if st.Next != 2 || st.Pending != 1 {
		t.Fatalf("unexpected status before reset: %+v", st)
	}

	f.lane.Reset()

	st = f.status(t)
	if st.Next != 0 || st.Pending != 0 {
		t.Fatalf("reset did not rewind: %+v", st)
	}
	// Executed is a lifetime counter and survives the reset.
	if st.Executed != 2 {
		t.Fatalf("reset clobbered executed counter: %+v", st)
	}

	// Sequence numbers restart from zero.
	f.lane.Submit(trackCmd(0, "again"))
	st = f.status(t)
	if st.Next != 1 || st.Executed != 3 {
		t.Fatalf("unexpected status after resubmit: %+v", st)
	}
	assertMarks(t, f.target, "a", "b", "again")
}

func TestLane_ExecTimeoutAdvancesCounter(t *testing.T) {
	target := &fakeTarget{block: make(chan struct{})}
	f := startTestLane(t, target, 20*time.Millisecond)

	f.lane.Submit(trackCmd(0, "stuck"))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := f.progress.wait(ctx, "test", 1); err != nil {
		t.Fatalf("counter never advanced past the blocked call: %v", err)
	}

	st := f.status(t)
	if st.Next != 1 || st.Executed != 1 {
		t.Fatalf("unexpected status: %+v", st)
	}
	assertMarks(t, target)
}

func TestLane_StatusAfterStop(t *testing.T) {
	f := startTestLane(t, &fakeTarget{}, time.Second)

	f.lane.Submit(trackCmd(0, "a"))
	f.status(t)

	f.cancel()
	<-f.lane.done

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	st, err := f.lane.Status(ctx)
	if err != nil {
		t.Fatalf("status after stop: %v", err)
	}
	if st.Next != 1 || st.Executed != 1 {
		t.Fatalf("unexpected final status: %+v", st)
	}

	// Submissions after stop must not block.
	f.lane.Submit(trackCmd(1, "late"))
	f.lane.Reset()
}
