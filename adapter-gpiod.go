//go:build linux && !tinygo

package sonar

import (
	"fmt"
	"sync"
	"time"

	"github.com/warthog618/gpiod"
)

// gpiodGPIO implements GPIO on the Linux GPIO character device. Input edges
// carry the kernel's event timestamp, which is not affected by goroutine
// scheduling delays.
type gpiodGPIO struct {
	chip   *gpiod.Chip
	fanout *edgeFanout

	mu    sync.Mutex
	lines map[int]*gpiod.Line
}

func openGPIOD(name string) (closableGPIO, error) {
	chip, err := gpiod.NewChip(name, gpiod.WithConsumer("sonar"))
	if err != nil {
		return nil, err
	}
	return newGPIOD(chip), nil
}

func newGPIOD(chip *gpiod.Chip) *gpiodGPIO {
	return &gpiodGPIO{
		chip:   chip,
		fanout: newEdgeFanout(),
		lines:  make(map[int]*gpiod.Line),
	}
}

func (g *gpiodGPIO) Mode(offset int) (Mode, error) {
	info, err := g.chip.LineInfo(offset)
	if err != nil {
		return Input, err
	}
	if info.Config.Direction == gpiod.LineDirectionOutput {
		return Output, nil
	}
	return Input, nil
}

// request replaces any line already held for offset with a new request.
// Callers must hold mu.
func (g *gpiodGPIO) request(offset int, opts ...gpiod.LineReqOption) (*gpiod.Line, error) {
	if l, ok := g.lines[offset]; ok {
		l.Close()
		delete(g.lines, offset)
	}
	l, err := g.chip.RequestLine(offset, opts...)
	if err != nil {
		return nil, err
	}
	g.lines[offset] = l
	return l, nil
}

func (g *gpiodGPIO) SetMode(offset int, m Mode) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if l, ok := g.lines[offset]; ok {
		if m == Output {
			return l.Reconfigure(gpiod.AsOutput(0))
		}
		return l.Reconfigure(gpiod.AsInput)
	}
	var err error
	if m == Output {
		_, err = g.request(offset, gpiod.AsOutput(0))
	} else {
		_, err = g.request(offset, gpiod.AsInput)
	}
	return err
}

func (g *gpiodGPIO) Watch(offset int, edge Edge, fn EdgeFunc) (Watcher, error) {
	if m, err := g.Mode(offset); err != nil {
		return nil, err
	} else if m == Output {
		return g.fanout.add(offset, edge, fn), nil
	}

	var edgeOpt gpiod.LineReqOption
	switch edge {
	case RisingEdge:
		edgeOpt = gpiod.WithRisingEdge
	case FallingEdge:
		edgeOpt = gpiod.WithFallingEdge
	default:
		edgeOpt = gpiod.WithBothEdges
	}

	w := &gpiodWatch{gpio: g, offset: offset}
	handler := func(evt gpiod.LineEvent) {
		w.mu.Lock()
		cancelled := w.cancelled
		w.mu.Unlock()
		if cancelled {
			return
		}
		level := Low
		if evt.Type == gpiod.LineEventRisingEdge {
			level = High
		}
		fn(evt.Offset, level, Tick(uint32(evt.Timestamp/time.Microsecond)))
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if _, err := g.request(offset,
		gpiod.AsInput,
		gpiod.WithPullDown,
		edgeOpt,
		gpiod.WithEventHandler(handler),
	); err != nil {
		return nil, err
	}
	return w, nil
}

func (g *gpiodGPIO) Trigger(offset int, pulse time.Duration, level Level) error {
	g.mu.Lock()
	l, ok := g.lines[offset]
	g.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: line %d not requested", ErrPinNotFound, offset)
	}
	return g.fanout.pulse(offset, pulse, level, func(lv Level) error {
		if lv == High {
			return l.SetValue(1)
		}
		return l.SetValue(0)
	})
}

// Close releases every requested line and the chip.
func (g *gpiodGPIO) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	for offset, l := range g.lines {
		l.Close()
		delete(g.lines, offset)
	}
	return g.chip.Close()
}

type gpiodWatch struct {
	gpio   *gpiodGPIO
	offset int

	mu        sync.Mutex
	cancelled bool
}

// Cancel re-requests the line as a plain input, which drops edge detection
// and the event handler.
func (w *gpiodWatch) Cancel() error {
	w.mu.Lock()
	if w.cancelled {
		w.mu.Unlock()
		return nil
	}
	w.cancelled = true
	w.mu.Unlock()

	g := w.gpio
	g.mu.Lock()
	defer g.mu.Unlock()
	_, err := g.request(w.offset, gpiod.AsInput)
	return err
}
