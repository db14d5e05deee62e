package runloop

import "fmt"

// SignalKind discriminates control-flow signals raised by script code.
type SignalKind string

const (
	// SignalRerun restarts the script immediately, discarding the partial
	// tree. Bounded by the runner's rerun limit.
	SignalRerun SignalKind = "RERUN"
	// SignalStop halts rendering early; the tree built so far is final.
	SignalStop SignalKind = "STOP"
	// SignalNavigate switches pages: the target is recorded as the
	// navigation control's pending value and the script restarts.
	SignalNavigate SignalKind = "NAVIGATE"
)

// Signal is a control-flow outcome returned by script code as an error value.
// Signals are consumed entirely by the execution loop and never surface past
// it; they are not failures.
type Signal struct {
	Kind   SignalKind
	Target string
}

// Error implements error so signals travel the script's return path.
func (s *Signal) Error() string {
	if s.Kind == SignalNavigate {
		return fmt.Sprintf("control signal %s(%s)", s.Kind, s.Target)
	}
	return fmt.Sprintf("control signal %s", s.Kind)
}

// Rerun returns the signal that restarts the script from the top, used after
// mutating shared state mid-run.
func Rerun() error { return &Signal{Kind: SignalRerun} }

// Stop returns the signal that halts rendering early. Elements placed after
// the stop call are never emitted; everything before it is kept.
func Stop() error { return &Signal{Kind: SignalStop} }

// Navigate returns the signal that switches to the named page.
func Navigate(page string) error { return &Signal{Kind: SignalNavigate, Target: page} }
