package turnstile

import (
	"context"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// Scenario is a scripted command delivery, usually loaded from a YAML file.
// Steps are submitted in file order while their Seq fields encode the
// intended execution order, so a scenario can deliberately deliver out of
// order.
type Scenario struct {
	Name  string `yaml:"name"`
	Steps []Step `yaml:"steps"`
}

// Step is one scheduled command within a scenario.
type Step struct {
	Category string              `yaml:"category"`
	Op       string              `yaml:"op"`
	Seq      uint64              `yaml:"seq"`
	Params   map[string][]string `yaml:"params"`

	// DelayMS pauses before submitting this step, to mimic transport
	// jitter in recorded scenarios.
	DelayMS int `yaml:"delayMs"`
}

// LoadScenario reads and validates a YAML scenario file.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseScenario(data)
}

// ParseScenario parses a YAML scenario document. Unknown fields are
// rejected to catch typos in hand-written scenarios.
func ParseScenario(data []byte) (*Scenario, error) {
	var s Scenario
	if err := yaml.UnmarshalStrict(data, &s); err != nil {
		return nil, fmt.Errorf("parse scenario: %w", err)
	}
	if len(s.Steps) == 0 {
		return nil, fmt.Errorf("scenario %q has no steps", s.Name)
	}
	for i, st := range s.Steps {
		if st.Category == "" || st.Op == "" {
			return nil, fmt.Errorf("scenario %q: step %d: category and op are required", s.Name, i)
		}
	}
	return &s, nil
}

// Play submits every step through the dispatcher, honoring step delays.
func (s *Scenario) Play(ctx context.Context, d *Dispatcher) error {
	for i := range s.Steps {
		st := &s.Steps[i]
		if st.DelayMS > 0 {
			select {
			case <-time.After(time.Duration(st.DelayMS) * time.Millisecond):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		d.Schedule(st.Category, st.Op, Params(st.Params), st.Seq)
	}
	return nil
}
