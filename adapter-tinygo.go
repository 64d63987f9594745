//go:build tinygo

package sonar

import (
	"errors"
	"time"

	"machine"
)

// tinygoGPIO implements GPIO with machine pins and pin change interrupts.
// The interrupt only queues the edge, handlers run on the queue's goroutine.
type tinygoGPIO struct {
	fanout *edgeFanout
	modes  map[int]Mode
}

func (g *tinygoGPIO) Mode(pin int) (Mode, error) {
	// machine.Pin cannot be queried, report what we configured last.
	return g.modes[pin], nil
}

func (g *tinygoGPIO) SetMode(pin int, m Mode) error {
	p := machine.Pin(pin)
	if m == Output {
		p.Configure(machine.PinConfig{Mode: machine.PinOutput})
		p.Low()
	} else {
		p.Configure(machine.PinConfig{Mode: machine.PinInputPulldown})
	}
	g.modes[pin] = m
	return nil
}

func (g *tinygoGPIO) Watch(pin int, edge Edge, fn EdgeFunc) (Watcher, error) {
	if g.modes[pin] == Output {
		return g.fanout.add(pin, edge, fn), nil
	}

	var mEdge machine.PinChange
	switch edge {
	case RisingEdge:
		mEdge = machine.PinRising
	case FallingEdge:
		mEdge = machine.PinFalling
	default:
		mEdge = machine.PinToggle
	}

	q := newEdgeQueue(fn)
	p := machine.Pin(pin)
	err := p.SetInterrupt(mEdge, func(mp machine.Pin) {
		q.push(int(mp), Level(mp.Get()), g.fanout.tick())
	})
	if err != nil {
		q.Cancel()
		return nil, err
	}
	return &tinygoWatch{pin: p, queue: q}, nil
}

func (g *tinygoGPIO) Trigger(pin int, pulse time.Duration, level Level) error {
	p := machine.Pin(pin)
	return g.fanout.pulse(pin, pulse, level, func(l Level) error {
		p.Set(bool(l))
		return nil
	})
}

type tinygoWatch struct {
	pin   machine.Pin
	queue *edgeQueue
}

func (w *tinygoWatch) Cancel() error {
	// A nil callback disables the interrupt
	err := w.pin.SetInterrupt(0, nil)
	if w.queue.dropped.Load() > 0 {
		globalLogger.Warn("Edges dropped while the queue was full")
	}
	return errors.Join(err, w.queue.Cancel())
}

// NewTinyGo creates a Ranger for TinyGo systems.
func NewTinyGo(c SensorConfig, trigger, echo machine.Pin) (*Ranger, error) {
	c.TriggerPin = int(trigger)
	c.EchoPin = int(echo)
	g := &tinygoGPIO{
		fanout: newEdgeFanout(),
		modes:  make(map[int]Mode),
	}
	return NewWithGPIO(c, g)
}
