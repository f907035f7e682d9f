package turnstile

import (
	"log/slog"
	"slices"
)

// Dispatcher demultiplexes incoming commands into per-category lanes. Lanes
// are registered before the app starts, so the map is read-only here and
// routing needs no locking.
type Dispatcher struct {
	lanes  map[string]*Lane
	logger *slog.Logger
}

func newDispatcher(lanes map[string]*Lane, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{lanes: lanes, logger: logger}
}

// Schedule constructs a Command and forwards it to the lane registered for
// category. Commands for unregistered categories are silently dropped; this
// is documented behavior, keeping the client forward-compatible with
// command families it does not know.
func (d *Dispatcher) Schedule(category, name string, params Params, seq uint64) {
	l, ok := d.lanes[category]
	if !ok {
		d.logger.Debug("dropping command for unregistered category", "category", category, "op", name, "seq", seq)
		return
	}
	l.Submit(Command{Name: name, Params: params, Seq: seq})
}

// Reset clears the lane for category and rewinds its counter to zero.
// Resetting an unregistered category is a no-op.
func (d *Dispatcher) Reset(category string) {
	if l, ok := d.lanes[category]; ok {
		l.Reset()
	}
}

// Categories returns the registered categories in sorted order.
func (d *Dispatcher) Categories() []string {
	cats := make([]string, 0, len(d.lanes))
	for c := range d.lanes {
		cats = append(cats, c)
	}
	slices.Sort(cats)
	return cats
}
