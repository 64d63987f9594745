//go:build !tinygo

package sonar

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/pin"
	"periph.io/x/host/v3"
)

// edgePollInterval bounds how long a watch goroutine blocks in WaitForEdge
// before checking whether it was cancelled.
const edgePollInterval = 100 * time.Millisecond

const (
	BackendPeriph = "periph"
	BackendGPIOD  = "gpiod"
)

// closableGPIO is a backend owning a resource that outlives its pins.
type closableGPIO interface {
	GPIO
	Close() error
}

// periphGPIO implements GPIO on top of periph.io pins.
type periphGPIO struct {
	lookup func(n int) gpio.PinIO
	fanout *edgeFanout

	mu    sync.Mutex
	pins  map[int]gpio.PinIO
	modes map[int]Mode
}

func newPeriphGPIO(lookup func(n int) gpio.PinIO) *periphGPIO {
	return &periphGPIO{
		lookup: lookup,
		fanout: newEdgeFanout(),
		pins:   make(map[int]gpio.PinIO),
		modes:  make(map[int]Mode),
	}
}

func (g *periphGPIO) pin(n int) (gpio.PinIO, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if p, ok := g.pins[n]; ok {
		return p, nil
	}
	p := g.lookup(n)
	if p == nil {
		return nil, fmt.Errorf("%w: GPIO%d", ErrPinNotFound, n)
	}
	g.pins[n] = p
	return p, nil
}

func (g *periphGPIO) Mode(n int) (Mode, error) {
	p, err := g.pin(n)
	if err != nil {
		return Input, err
	}
	g.mu.Lock()
	m, ok := g.modes[n]
	g.mu.Unlock()
	if ok {
		return m, nil
	}
	// Func reports e.g. "In/Low" or "Out/High"
	if pf, ok := p.(pin.PinFunc); ok && strings.HasPrefix(string(pf.Func()), "Out") {
		return Output, nil
	}
	return Input, nil
}

func (g *periphGPIO) SetMode(n int, m Mode) error {
	p, err := g.pin(n)
	if err != nil {
		return err
	}
	switch m {
	case Output:
		err = p.Out(gpio.Low)
	default:
		err = p.In(gpio.PullDown, gpio.NoEdge)
	}
	if err != nil {
		return err
	}
	g.mu.Lock()
	g.modes[n] = m
	g.mu.Unlock()
	return nil
}

func (g *periphGPIO) Watch(n int, edge Edge, fn EdgeFunc) (Watcher, error) {
	p, err := g.pin(n)
	if err != nil {
		return nil, err
	}
	if m, _ := g.Mode(n); m == Output {
		return g.fanout.add(n, edge, fn), nil
	}

	var pEdge gpio.Edge
	switch edge {
	case RisingEdge:
		pEdge = gpio.RisingEdge
	case FallingEdge:
		pEdge = gpio.FallingEdge
	case BothEdges:
		pEdge = gpio.BothEdges
	default:
		pEdge = gpio.NoEdge
	}

	// Ensure we are in input mode with the correct edge detection
	if err := p.In(gpio.PullDown, pEdge); err != nil {
		return nil, err
	}

	w := &periphWatch{
		pin:  p,
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	go func() {
		defer close(w.done)
		for {
			select {
			case <-w.stop:
				return
			default:
			}
			if !p.WaitForEdge(edgePollInterval) {
				continue
			}
			t := g.fanout.tick()
			level := Low
			if p.Read() == gpio.High {
				level = High
			}
			select {
			case <-w.stop:
				return
			default:
				fn(n, level, t)
			}
		}
	}()
	return w, nil
}

func (g *periphGPIO) Trigger(n int, pulse time.Duration, level Level) error {
	p, err := g.pin(n)
	if err != nil {
		return err
	}
	return g.fanout.pulse(n, pulse, level, func(l Level) error {
		if l == High {
			return p.Out(gpio.High)
		}
		return p.Out(gpio.Low)
	})
}

// periphWatch is a watch goroutine on an input pin.
type periphWatch struct {
	pin  gpio.PinIO
	stop chan struct{}
	done chan struct{}
	once sync.Once
}

func (w *periphWatch) Cancel() error {
	var err error
	w.once.Do(func() {
		close(w.stop)
		<-w.done
		// Disable edge detection
		err = w.pin.In(gpio.PullDown, gpio.NoEdge)
	})
	return err
}

// Config holds the configuration for the Linux drivers.
type Config struct {
	SensorConfig
	// Backend selects the edge collector, BackendPeriph or BackendGPIOD.
	// Defaults to BackendPeriph if not provided.
	Backend string
	// Chip is the GPIO character device used by BackendGPIOD.
	// Defaults to "gpiochip0" if not provided.
	Chip string
}

// New creates a Ranger for Linux systems.
// Pin numbers are BCM numbers for periph.io and line offsets for gpiod.
// It returns an error if the GPIO backend cannot be initialized.
func New(c Config) (*Ranger, error) {
	if c.Backend == "" {
		c.Backend = BackendPeriph
	}

	switch c.Backend {
	case BackendPeriph:
		if _, err := host.Init(); err != nil {
			return nil, fmt.Errorf("failed to initialize periph.io host: %w", err)
		}
		g := newPeriphGPIO(func(n int) gpio.PinIO {
			return gpioreg.ByName(fmt.Sprintf("GPIO%d", n))
		})
		return NewWithGPIO(c.SensorConfig, g)

	case BackendGPIOD:
		if c.Chip == "" {
			c.Chip = "gpiochip0"
		}
		g, err := openGPIOD(c.Chip)
		if err != nil {
			return nil, fmt.Errorf("failed to open %s: %w", c.Chip, err)
		}
		r, err := NewWithGPIO(c.SensorConfig, g)
		if err != nil {
			g.Close()
			return nil, err
		}
		r.closer = g
		return r, nil

	default:
		return nil, fmt.Errorf("%w: unknown backend %q", ErrPkg, c.Backend)
	}
}
