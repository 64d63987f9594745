package sonar

import (
	"sync"
	"sync/atomic"
	"time"
)

// edgeQueueSize holds a few pings worth of edges. The echo pin changes twice
// per ping and the reader consumes them within microseconds.
const edgeQueueSize = 8

// edgeFanout delivers edges generated by the driver itself. Backends can only
// report edges on input pins, so level changes the driver makes on an output
// pin (the trigger) are fed back to its watchers from here.
type edgeFanout struct {
	epoch   time.Time
	mu      sync.Mutex
	watches map[int][]*softWatch
}

func newEdgeFanout() *edgeFanout {
	return &edgeFanout{
		epoch:   time.Now(),
		watches: make(map[int][]*softWatch),
	}
}

// tick returns the microseconds elapsed since the fanout was created,
// truncated to the 32-bit Tick range.
func (f *edgeFanout) tick() Tick {
	return Tick(uint32(time.Since(f.epoch) / time.Microsecond))
}

func (f *edgeFanout) add(pin int, edge Edge, fn EdgeFunc) *softWatch {
	w := &softWatch{fanout: f, pin: pin, edge: edge, fn: fn}
	f.mu.Lock()
	f.watches[pin] = append(f.watches[pin], w)
	f.mu.Unlock()
	return w
}

func (f *edgeFanout) notify(pin int, level Level) {
	t := f.tick()
	f.mu.Lock()
	ws := append([]*softWatch(nil), f.watches[pin]...)
	f.mu.Unlock()

	for _, w := range ws {
		if edgeMatches(w.edge, level) {
			w.fn(pin, level, t)
		}
	}
}

// pulse drives pin to level through out, holds it for width, then drives it
// back, reporting both transitions to the pin's watchers.
func (f *edgeFanout) pulse(pin int, width time.Duration, level Level, out func(Level) error) error {
	if err := out(level); err != nil {
		return err
	}
	f.notify(pin, level)
	time.Sleep(width)
	if err := out(!level); err != nil {
		return err
	}
	f.notify(pin, !level)
	return nil
}

type softWatch struct {
	fanout *edgeFanout
	pin    int
	edge   Edge
	fn     EdgeFunc
}

func (w *softWatch) Cancel() error {
	f := w.fanout
	f.mu.Lock()
	defer f.mu.Unlock()

	ws := f.watches[w.pin]
	for i, other := range ws {
		if other == w {
			f.watches[w.pin] = append(ws[:i:i], ws[i+1:]...)
			break
		}
	}
	if len(f.watches[w.pin]) == 0 {
		delete(f.watches, w.pin)
	}
	return nil
}

// edgeMatches reports whether a transition to level is selected by edge.
func edgeMatches(edge Edge, level Level) bool {
	switch edge {
	case BothEdges:
		return true
	case RisingEdge:
		return level == High
	case FallingEdge:
		return level == Low
	default:
		return false
	}
}

type edgeEvent struct {
	pin   int
	level Level
	tick  Tick
}

// edgeQueue moves edges out of interrupt context. push never blocks or locks,
// and a goroutine delivers the queued edges to fn in order.
type edgeQueue struct {
	events  chan edgeEvent
	stop    chan struct{}
	done    chan struct{}
	once    sync.Once
	dropped atomic.Uint32
}

func newEdgeQueue(fn EdgeFunc) *edgeQueue {
	q := &edgeQueue{
		events: make(chan edgeEvent, edgeQueueSize),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go func() {
		defer close(q.done)
		for {
			select {
			case <-q.stop:
				return
			case e := <-q.events:
				fn(e.pin, e.level, e.tick)
			}
		}
	}()
	return q
}

// push queues an edge, dropping it if the queue is full.
func (q *edgeQueue) push(pin int, level Level, tick Tick) {
	select {
	case q.events <- edgeEvent{pin, level, tick}:
	default:
		q.dropped.Add(1)
	}
}

// Cancel stops delivery and waits for the delivering goroutine to exit.
func (q *edgeQueue) Cancel() error {
	q.once.Do(func() { close(q.stop) })
	<-q.done
	return nil
}
