package sonar

import "time"

// Level represents the logical level of a pin (Low or High).
type Level bool

const (
	Low  Level = false
	High Level = true
)

func (l Level) String() string {
	if l {
		return "High"
	}
	return "Low"
}

// Mode represents the direction a pin is configured for.
type Mode uint8

const (
	Input Mode = iota
	Output
)

func (m Mode) String() string {
	switch m {
	case Input:
		return "input"
	case Output:
		return "output"
	default:
		return "unknown"
	}
}

// Edge represents the signal edge to trigger an interrupt.
type Edge uint8

const (
	NoEdge Edge = iota
	RisingEdge
	FallingEdge
	BothEdges
)

// PinRole is the part a pin plays in a ranging cycle.
type PinRole uint8

const (
	TriggerRole PinRole = iota
	EchoRole
)

func (r PinRole) String() string {
	if r == TriggerRole {
		return "trigger"
	}
	return "echo"
}

// Tick is a monotonic microsecond timestamp attached to an edge event.
// It is a 32-bit counter and wraps roughly every 71.6 minutes, so only the
// difference between two ticks is meaningful.
type Tick uint32

// Since returns the number of microseconds elapsed from earlier to t.
// The subtraction is modular, so a single wrap between the two ticks is
// handled correctly.
func (t Tick) Since(earlier Tick) uint32 {
	return uint32(t - earlier)
}

// EdgeFunc is called by a GPIO backend whenever a watched pin changes level.
type EdgeFunc func(pin int, level Level, tick Tick)

// Watcher is the handle returned by GPIO.Watch.
type Watcher interface {
	// Cancel stops edge notifications. It is safe to call more than once.
	Cancel() error
}

// GPIO represents the edge event collector the ranger is wired to.
type GPIO interface {
	// Mode returns the current direction of the pin.
	Mode(pin int) (Mode, error)
	// SetMode configures the pin as input or output.
	SetMode(pin int, m Mode) error
	// Watch registers fn to be called on the given edges of pin.
	// fn may be called from any goroutine.
	Watch(pin int, edge Edge, fn EdgeFunc) (Watcher, error)
	// Trigger drives pin to level for pulse, then back to the opposite level.
	Trigger(pin int, pulse time.Duration, level Level) error
}
