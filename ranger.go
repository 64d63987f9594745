package sonar

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"
)

var (
	ErrPkg         = errors.New("sonar")
	ErrClosed      = errors.New("ranger closed")
	ErrPinNotFound = errors.New("pin not found")
)

const (
	defaultTimeout    = 3 * time.Second
	defaultPulseWidth = 10 * time.Microsecond
)

type SensorConfig struct {
	// TriggerPin is the pin wired to the module's "Trig" input.
	TriggerPin int
	// EchoPin is the pin wired to the module's "Echo" output.
	EchoPin int
	// HeightMM is the mounting height of the sensor above the bottom of the
	// water table, in millimeters.
	HeightMM float64
	// Timeout bounds how long a read waits for the echo.
	// Defaults to 3s if not provided.
	Timeout time.Duration
	// PulseWidth is how long the trigger pin is held high.
	// Defaults to 10µs if not provided.
	PulseWidth time.Duration
}

// Ranger drives an ultrasonic ranger with separate trigger and echo pins.
//
// A pulse on the trigger starts a ping. Shortly afterwards the module
// transmits a burst and raises the echo pin, holding it high until the echo
// comes back (or the module gives up). The time between the echo's rising and
// falling edges is the sonar round trip time.
type Ranger struct {
	config   SensorConfig
	gpio     GPIO
	trigMode Mode
	echoMode Mode
	watchers []Watcher
	closer   io.Closer

	// readMu keeps a single ping in flight.
	readMu sync.Mutex
	// pulseMu is held across the active check and the trigger pulse, and by
	// Close while it deactivates, so no pulse follows a Close.
	pulseMu sync.Mutex

	// mu guards the edge state below, written from the GPIO backend's goroutine.
	mu       sync.Mutex
	active   bool
	armed    bool
	rising   bool // echoRise holds the tick of an unmatched echo rising edge
	echoRise Tick
	last     uint32
	pings    chan uint32
	closed   chan struct{}
}

// NewWithGPIO creates a Ranger on top of the provided GPIO backend.
// It saves the current mode of both pins, configures the trigger as output and
// the echo as input, and watches both pins for either edge.
func NewWithGPIO(c SensorConfig, gpio GPIO) (*Ranger, error) {
	if gpio == nil {
		return nil, fmt.Errorf("%w: GPIO backend not configured", ErrPkg)
	}
	if c.TriggerPin < 0 || c.EchoPin < 0 {
		return nil, fmt.Errorf("%w: pin numbers must not be negative", ErrPkg)
	}
	if c.TriggerPin == c.EchoPin {
		return nil, fmt.Errorf("%w: trigger and echo must be different pins (both %d)", ErrPkg, c.EchoPin)
	}
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}
	if c.PulseWidth <= 0 {
		c.PulseWidth = defaultPulseWidth
	}

	r := &Ranger{
		config: c,
		gpio:   gpio,
		pings:  make(chan uint32, 1),
		closed: make(chan struct{}),
	}

	var err error
	if r.trigMode, err = gpio.Mode(c.TriggerPin); err != nil {
		return nil, fmt.Errorf("%w: reading trigger pin mode: %w", ErrPkg, err)
	}
	if r.echoMode, err = gpio.Mode(c.EchoPin); err != nil {
		return nil, fmt.Errorf("%w: reading echo pin mode: %w", ErrPkg, err)
	}

	if err := gpio.SetMode(c.TriggerPin, Output); err != nil {
		return nil, fmt.Errorf("%w: setting trigger pin %d to output: %w", ErrPkg, c.TriggerPin, err)
	}
	if err := gpio.SetMode(c.EchoPin, Input); err != nil {
		r.restoreModes()
		return nil, fmt.Errorf("%w: setting echo pin %d to input: %w", ErrPkg, c.EchoPin, err)
	}

	r.active = true

	for _, pin := range []int{c.TriggerPin, c.EchoPin} {
		w, err := gpio.Watch(pin, BothEdges, r.handleEdge)
		if err != nil {
			r.mu.Lock()
			r.active = false
			r.mu.Unlock()
			r.cancelWatchers()
			r.restoreModes()
			role, _ := r.roleOf(pin)
			return nil, fmt.Errorf("%w: watching %s pin %d: %w", ErrPkg, role, pin, err)
		}
		r.watchers = append(r.watchers, w)
	}

	globalLogger.Info("Ranger initialized: " + r.String())
	return r, nil
}

func (r *Ranger) String() string {
	return fmt.Sprintf("Ranger(Trigger=%d, Echo=%d, Height=%.3fmm, Timeout=%s)",
		r.config.TriggerPin,
		r.config.EchoPin,
		r.config.HeightMM,
		r.config.Timeout,
	)
}

// handleEdge is the edge callback registered on both pins.
func (r *Ranger) handleEdge(pin int, level Level, tick Tick) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.active {
		return
	}

	role, ok := r.roleOf(pin)
	if !ok {
		return
	}

	switch role {
	case TriggerRole:
		if level == Low { // trigger sent
			r.armed = true
			r.rising = false
		}
	case EchoRole:
		if !r.armed {
			globalLogger.Debug("Ignoring echo edge outside of a ping")
			return
		}
		if level == High {
			r.echoRise = tick
			r.rising = true
			return
		}
		// armed stays set until the next trigger, a second falling edge is
		// dropped by the rising check.
		if r.rising {
			r.last = tick.Since(r.echoRise)
			r.rising = false
			r.publish(r.last)
		}
	}
}

func (r *Ranger) roleOf(pin int) (PinRole, bool) {
	switch pin {
	case r.config.TriggerPin:
		return TriggerRole, true
	case r.config.EchoPin:
		return EchoRole, true
	}
	return 0, false
}

// publish hands a completed round trip to the reader, replacing any value that
// was never consumed. Callers must hold mu.
func (r *Ranger) publish(micros uint32) {
	select {
	case <-r.pings:
	default:
	}
	r.pings <- micros
}

func (r *Ranger) isActive() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

// Read triggers a ping and returns the sonar round trip time in microseconds.
// If no echo arrives before the timeout it returns NoEcho and a nil error.
// After Close it returns ErrClosed.
// This method is concurrent safe; concurrent reads are serialized.
func (r *Ranger) Read(ctx context.Context) (uint32, error) {
	r.readMu.Lock()
	defer r.readMu.Unlock()

	if err := r.trigger(); err != nil {
		return 0, err
	}

	timer := time.NewTimer(r.config.Timeout)
	defer timer.Stop()

	select {
	case micros := <-r.pings:
		return micros, nil
	case <-timer.C:
		globalLogger.Warn("No echo received before timeout")
		return NoEcho, nil
	case <-r.closed:
		return 0, fmt.Errorf("%w: %w", ErrPkg, ErrClosed)
	case <-ctx.Done():
		return 0, fmt.Errorf("%w: %w", ErrPkg, ctx.Err())
	}
}

// trigger drops any completion left over from an abandoned ping and sends
// the trigger pulse, unless the Ranger has been closed.
func (r *Ranger) trigger() error {
	r.pulseMu.Lock()
	defer r.pulseMu.Unlock()

	r.mu.Lock()
	if !r.active {
		r.mu.Unlock()
		return fmt.Errorf("%w: %w", ErrPkg, ErrClosed)
	}
	select {
	case <-r.pings:
	default:
	}
	// Unlocked before the pulse, the trigger's own edges come back through
	// handleEdge.
	r.mu.Unlock()

	if err := r.gpio.Trigger(r.config.TriggerPin, r.config.PulseWidth, High); err != nil {
		return fmt.Errorf("%w: sending trigger pulse: %w", ErrPkg, err)
	}
	return nil
}

// ReadMM reads the round trip time and converts it to millimeters.
// A timed out read is retried once to ride out noise. If the retry also times
// out the distance derived from NoEcho is returned.
func (r *Ranger) ReadMM(ctx context.Context) (float64, error) {
	m, err := r.readMicros(ctx)
	if err != nil {
		return 0, err
	}
	return MicrosToMM(m), nil
}

func (r *Ranger) readMicros(ctx context.Context) (uint32, error) {
	micros, err := r.Read(ctx)
	if err != nil {
		return 0, err
	}
	if micros == NoEcho {
		globalLogger.Info("Retrying read after timeout")
		return r.Read(ctx)
	}
	return micros, nil
}

// WaterLevel subtracts distanceMM from the mounting height. The result is not
// clamped, so a distance larger than the height gives a negative level.
func (r *Ranger) WaterLevel(distanceMM float64) (float64, error) {
	if !r.isActive() {
		return 0, fmt.Errorf("%w: %w", ErrPkg, ErrClosed)
	}
	return r.config.HeightMM - distanceMM, nil
}

// ReadBoth returns the distance to the water table and the water level derived
// from that same distance.
func (r *Ranger) ReadBoth(ctx context.Context) (distanceMM, levelMM float64, err error) {
	m, err := r.Measure(ctx)
	if err != nil {
		return 0, 0, err
	}
	return m.DistanceMM, m.LevelMM, nil
}

// Measure performs one ranging cycle, with the same retry as ReadMM, and
// returns the full result. Use Measurement.NoEcho to detect a failed read.
func (r *Ranger) Measure(ctx context.Context) (Measurement, error) {
	micros, err := r.readMicros(ctx)
	if err != nil {
		return Measurement{}, err
	}
	distance := MicrosToMM(micros)
	level, err := r.WaterLevel(distance)
	if err != nil {
		return Measurement{}, err
	}
	return Measurement{
		Micros:     micros,
		DistanceMM: distance,
		LevelMM:    level,
	}, nil
}

// Close cancels the edge watches and returns both pins to the mode they had
// before the Ranger was created. A read in progress returns ErrClosed.
// Calling Close more than once is a no-op.
// This method is concurrent safe.
func (r *Ranger) Close() error {
	r.pulseMu.Lock()
	r.mu.Lock()
	if !r.active {
		r.mu.Unlock()
		r.pulseMu.Unlock()
		return nil
	}
	r.active = false
	close(r.closed)
	r.mu.Unlock()
	r.pulseMu.Unlock()

	// Wait for an in-flight read to observe the close before touching the pins
	r.readMu.Lock()
	defer r.readMu.Unlock()

	errs := []error{r.cancelWatchers(), r.restoreModes()}
	if r.closer != nil {
		if err := r.closer.Close(); err != nil {
			globalLogger.Warn("Failed to close GPIO backend")
			errs = append(errs, err)
		}
	}
	globalLogger.Info("Ranger closed, pins restored.")

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w: %w", ErrPkg, err)
	}
	return nil
}

func (r *Ranger) cancelWatchers() error {
	var errs []error
	for _, w := range r.watchers {
		if err := w.Cancel(); err != nil {
			errs = append(errs, err)
		}
	}
	r.watchers = nil
	return errors.Join(errs...)
}

func (r *Ranger) restoreModes() error {
	return errors.Join(
		r.gpio.SetMode(r.config.TriggerPin, r.trigMode),
		r.gpio.SetMode(r.config.EchoPin, r.echoMode),
	)
}
