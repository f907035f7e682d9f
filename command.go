package turnstile

// Op identifies which target-interface method a command invokes. The set of
// recognized operations is closed; wire names outside it take the unknown-op
// path in the lane (no target call, counter still advances).
type Op string

const (
	OpStartSession   Op = "start-session"
	OpStopSession    Op = "stop-session"
	OpTrackEvent     Op = "track-event"
	OpSetAttribution Op = "set-attribution"
	OpForgetUser     Op = "forget-user"
)

// Params carries the string-keyed, multi-valued parameters of a command in
// the shape they arrive on the wire.
type Params map[string][]string

// Get returns the first value for key, or "" if the key is absent.
func (p Params) Get(key string) string {
	vs := p[key]
	if len(vs) == 0 {
		return ""
	}
	return vs[0]
}

// Values returns all values for key in submission order.
func (p Params) Values(key string) []string {
	return p[key]
}

// Add appends a value to key. For builders and tests; a command's params
// must not be mutated after submission.
func (p Params) Add(key, value string) {
	p[key] = append(p[key], value)
}

// Command is a single numbered invocation from the test server. It is
// immutable once constructed.
type Command struct {
	// Name is the wire name of the operation, which may or may not map
	// to a recognized [Op].
	Name string

	// Params are the operation parameters, passed through verbatim.
	Params Params

	// Seq is the command's position in its category's execution order.
	Seq uint64
}
