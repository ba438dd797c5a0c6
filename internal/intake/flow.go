package intake

import (
	"fmt"
	"sync"
	"time"

	"github.com/MrWong99/intakevox/internal/config"
)

// Confirmation is the terminal step reached after the last recording step.
const Confirmation = config.ConfirmationStep

// Step is the per-screen policy of one recording step.
type Step struct {
	// Category names the step and prefixes its filenames.
	Category string

	// Next is the step reached after a successful submit.
	Next string

	// MinDuration is the shortest accepted recording in seconds.
	MinDuration int

	// AutoStop is the recording ceiling.
	AutoStop time.Duration
}

// Flow orders the recording steps. It is safe for concurrent use and may be
// replaced wholesale on config reload.
type Flow struct {
	mu    sync.RWMutex
	order []string
	steps map[string]Step
}

// NewFlow builds a flow from steps in order. An empty Next ends the flow at
// [Confirmation].
func NewFlow(steps []Step) (*Flow, error) {
	f := &Flow{}
	if err := f.Replace(steps); err != nil {
		return nil, err
	}
	return f, nil
}

// FlowFromConfig builds a flow from the configured steps.
func FlowFromConfig(steps []config.StepConfig) (*Flow, error) {
	return NewFlow(StepsFromConfig(steps))
}

// StepsFromConfig converts configured steps into flow steps.
func StepsFromConfig(steps []config.StepConfig) []Step {
	out := make([]Step, 0, len(steps))
	for _, s := range steps {
		out = append(out, Step{
			Category:    s.Category,
			Next:        s.Next,
			MinDuration: s.MinDuration,
			AutoStop:    s.AutoStop,
		})
	}
	return out
}

// Replace swaps the flow's steps after validating them. On error the flow
// is unchanged.
func (f *Flow) Replace(steps []Step) error {
	if len(steps) == 0 {
		return fmt.Errorf("intake: flow has no steps")
	}
	byName := make(map[string]Step, len(steps))
	order := make([]string, 0, len(steps))
	for _, s := range steps {
		if s.Category == "" || s.Category == Confirmation {
			return fmt.Errorf("intake: invalid step category %q", s.Category)
		}
		if _, dup := byName[s.Category]; dup {
			return fmt.Errorf("intake: duplicate step %q", s.Category)
		}
		if s.Next == "" {
			s.Next = Confirmation
		}
		byName[s.Category] = s
		order = append(order, s.Category)
	}
	for _, s := range byName {
		if s.Next == Confirmation {
			continue
		}
		if _, ok := byName[s.Next]; !ok {
			return fmt.Errorf("intake: step %q: next %q: %w", s.Category, s.Next, ErrUnknownStep)
		}
	}

	f.mu.Lock()
	f.order = order
	f.steps = byName
	f.mu.Unlock()
	return nil
}

// Step returns the step named category.
func (f *Flow) Step(category string) (Step, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	s, ok := f.steps[category]
	if !ok {
		return Step{}, fmt.Errorf("%w: %q", ErrUnknownStep, category)
	}
	return s, nil
}

// First returns the category of the first step.
func (f *Flow) First() string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.order[0]
}

// Steps returns the steps in configured order.
func (f *Flow) Steps() []Step {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]Step, 0, len(f.order))
	for _, c := range f.order {
		out = append(out, f.steps[c])
	}
	return out
}

// Next returns the step following category.
func (f *Flow) Next(category string) (string, error) {
	s, err := f.Step(category)
	if err != nil {
		return "", err
	}
	return s.Next, nil
}
