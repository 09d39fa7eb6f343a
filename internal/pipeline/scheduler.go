package pipeline

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/KhawLiang/Staff-Detection/internal/capture"
)

// Scheduler runs one cycle per timer tick for interactive front-ends.
// Cycles never overlap: a tick that arrives while a cycle is running is dropped.
type Scheduler struct {
	controller *Controller
	clock      clock.Clock
	busy       atomic.Bool

	mu     sync.Mutex
	ticker *clock.Ticker
	quit   chan struct{}
	done   chan struct{}
}

// NewScheduler creates a Scheduler for c. A nil clock uses the wall clock.
func NewScheduler(c *Controller, clk clock.Clock) *Scheduler {
	if clk == nil {
		clk = clock.New()
	}
	return &Scheduler{controller: c, clock: clk}
}

// Interval returns the tick period for a frame rate.
func Interval(fps float64) time.Duration {
	if fps <= 0 {
		fps = capture.DefaultFPS
	}
	return time.Duration(float64(time.Second) / fps)
}

// Start starts the controller and arms the ticker at the session's frame rate.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.halt()

	if err := s.controller.Start(); err != nil {
		return err
	}

	snap, _ := s.controller.Session()
	s.ticker = s.clock.Ticker(Interval(snap.FPS))
	s.quit = make(chan struct{})
	s.done = make(chan struct{})

	go s.loop(s.ticker, s.quit, s.done)
	return nil
}

func (s *Scheduler) loop(ticker *clock.Ticker, quit, done chan struct{}) {
	defer close(done)
	defer ticker.Stop()

	for {
		select {
		case <-quit:
			return
		case <-ticker.C:
			s.Tick()
			if s.controller.State() != Running {
				return
			}
		}
	}
}

// Tick runs one cycle unless one is already in flight. It reports whether a cycle ran.
func (s *Scheduler) Tick() bool {
	if !s.busy.CompareAndSwap(false, true) {
		return false
	}
	defer s.busy.Store(false)

	s.controller.Cycle()
	return true
}

// Stop disarms the ticker, waits for the loop to exit and stops the controller.
// Stopping a session this scheduler ran that has already ended is not an error;
// any other call while the controller is not Running returns a *StateError.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	armed := s.done != nil
	s.halt()

	switch st := s.controller.State(); {
	case st == Running:
		return s.controller.Stop()
	case armed && st == Stopped:
		return nil
	default:
		return &StateError{Op: "stop", State: st}
	}
}

// halt stops the ticker loop if one is armed. Callers hold s.mu.
func (s *Scheduler) halt() {
	if s.done == nil {
		return
	}

	s.ticker.Stop()
	close(s.quit)
	<-s.done

	s.ticker = nil
	s.quit = nil
	s.done = nil
}
