// Package gate applies the minimum-duration policy to finalized recordings.
package gate

import "fmt"

// DefaultMinimum is the shortest accepted recording, in whole seconds.
const DefaultMinimum = 3

// Verdict is the outcome of evaluating one recording.
type Verdict struct {
	Accepted       bool
	ElapsedSeconds int
	Minimum        int
}

// String implements [fmt.Stringer].
func (v Verdict) String() string {
	if v.Accepted {
		return fmt.Sprintf("accepted (%ds >= %ds)", v.ElapsedSeconds, v.Minimum)
	}
	return fmt.Sprintf("rejected (%ds < %ds)", v.ElapsedSeconds, v.Minimum)
}

// Label returns "accepted" or "rejected", for metrics attributes.
func (v Verdict) Label() string {
	if v.Accepted {
		return "accepted"
	}
	return "rejected"
}

// Gate rejects recordings shorter than Minimum seconds. The zero value uses
// [DefaultMinimum].
type Gate struct {
	Minimum int
}

// Evaluate returns the verdict for a recording of elapsed whole seconds.
// The boundary is inclusive: elapsed == Minimum is accepted.
func (g Gate) Evaluate(elapsed int) Verdict {
	minimum := g.Minimum
	if minimum <= 0 {
		minimum = DefaultMinimum
	}
	return Verdict{
		Accepted:       elapsed >= minimum,
		ElapsedSeconds: elapsed,
		Minimum:        minimum,
	}
}
