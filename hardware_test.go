package sonar

import (
	"testing"
	"time"

	qt "github.com/frankban/quicktest"
)

type edgeRecord struct {
	pin   int
	level Level
	tick  Tick
}

func TestFanoutPulse(t *testing.T) {
	c := qt.New(t)
	f := newEdgeFanout()

	var both, falling []edgeRecord
	f.add(7, BothEdges, func(pin int, l Level, tick Tick) {
		both = append(both, edgeRecord{pin, l, tick})
	})
	f.add(7, FallingEdge, func(pin int, l Level, tick Tick) {
		falling = append(falling, edgeRecord{pin, l, tick})
	})

	var driven []Level
	err := f.pulse(7, 10*time.Microsecond, High, func(l Level) error {
		driven = append(driven, l)
		return nil
	})
	c.Assert(err, qt.IsNil)
	c.Assert(driven, qt.DeepEquals, []Level{High, Low})

	c.Assert(both, qt.HasLen, 2)
	c.Assert(both[0].level, qt.Equals, High)
	c.Assert(both[1].level, qt.Equals, Low)
	c.Assert(both[1].tick.Since(both[0].tick) >= 10, qt.IsTrue)

	c.Assert(falling, qt.HasLen, 1)
	c.Assert(falling[0].pin, qt.Equals, 7)
	c.Assert(falling[0].level, qt.Equals, Low)
}

func TestFanoutCancel(t *testing.T) {
	c := qt.New(t)
	f := newEdgeFanout()

	calls := 0
	w := f.add(3, BothEdges, func(int, Level, Tick) { calls++ })
	other := f.add(4, BothEdges, func(int, Level, Tick) { calls += 10 })

	f.notify(3, High)
	c.Assert(calls, qt.Equals, 1)

	c.Assert(w.Cancel(), qt.IsNil)
	c.Assert(w.Cancel(), qt.IsNil)
	f.notify(3, Low)
	c.Assert(calls, qt.Equals, 1)

	f.notify(4, Low)
	c.Assert(calls, qt.Equals, 11)
	c.Assert(other.Cancel(), qt.IsNil)
	c.Assert(f.watches, qt.HasLen, 0)
}

func TestEdgeMatches(t *testing.T) {
	c := qt.New(t)
	c.Assert(edgeMatches(BothEdges, High), qt.IsTrue)
	c.Assert(edgeMatches(BothEdges, Low), qt.IsTrue)
	c.Assert(edgeMatches(RisingEdge, High), qt.IsTrue)
	c.Assert(edgeMatches(RisingEdge, Low), qt.IsFalse)
	c.Assert(edgeMatches(FallingEdge, Low), qt.IsTrue)
	c.Assert(edgeMatches(FallingEdge, High), qt.IsFalse)
	c.Assert(edgeMatches(NoEdge, High), qt.IsFalse)
}

func TestTickSince(t *testing.T) {
	c := qt.New(t)
	c.Assert(Tick(5830).Since(0), qt.Equals, uint32(5830))
	c.Assert(Tick(10).Since(Tick(0xFFFFFFF6)), qt.Equals, uint32(20))
}

func TestEdgeQueueDeliversInOrder(t *testing.T) {
	c := qt.New(t)
	got := make(chan edgeRecord, edgeQueueSize)
	q := newEdgeQueue(func(pin int, l Level, tick Tick) {
		got <- edgeRecord{pin, l, tick}
	})
	defer q.Cancel()

	want := []edgeRecord{{24, High, 1000}, {24, Low, 6830}, {23, Low, 7000}}
	for _, e := range want {
		q.push(e.pin, e.level, e.tick)
	}
	for _, e := range want {
		select {
		case r := <-got:
			c.Assert(r, qt.Equals, e)
		case <-time.After(2 * time.Second):
			c.Fatalf("edge %v not delivered", e)
		}
	}
	c.Assert(q.dropped.Load(), qt.Equals, uint32(0))
}

func TestEdgeQueuePushNeverBlocks(t *testing.T) {
	c := qt.New(t)
	entered := make(chan struct{}, 1)
	release := make(chan struct{})
	q := newEdgeQueue(func(int, Level, Tick) {
		select {
		case entered <- struct{}{}:
		default:
		}
		<-release
	})

	q.push(24, High, 1)
	<-entered

	// The handler is stuck, so the buffer fills and the rest are dropped.
	pushed := make(chan struct{})
	go func() {
		for i := 0; i < edgeQueueSize+3; i++ {
			q.push(24, Low, Tick(i))
		}
		close(pushed)
	}()
	select {
	case <-pushed:
	case <-time.After(2 * time.Second):
		c.Fatal("push blocked on a busy handler")
	}
	c.Assert(q.dropped.Load(), qt.Equals, uint32(3))

	close(release)
	c.Assert(q.Cancel(), qt.IsNil)
	c.Assert(q.Cancel(), qt.IsNil)
}

func TestEdgeQueueWhileRangerLocked(t *testing.T) {
	c := qt.New(t)
	r := newTestRanger(c, newMockGPIO(), SensorConfig{})
	q := newEdgeQueue(r.handleEdge)
	defer q.Cancel()

	// Edges arriving while the state lock is held must not block the sender.
	r.mu.Lock()
	done := make(chan struct{})
	go func() {
		q.push(trigPin, Low, 110)
		q.push(echoPin, High, 1000)
		q.push(echoPin, Low, 6830)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		r.mu.Unlock()
		c.Fatal("push blocked while the ranger was locked")
	}
	r.mu.Unlock()

	select {
	case d := <-r.pings:
		c.Assert(d, qt.Equals, uint32(5830))
	case <-time.After(2 * time.Second):
		c.Fatal("queued edges never reached the ranger")
	}
}
