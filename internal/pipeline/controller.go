// Package pipeline runs the acquire, detect, select, annotate and sink cycle over a
// video and owns the session lifecycle.
package pipeline

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gocv.io/x/gocv"

	"github.com/KhawLiang/Staff-Detection/internal/annotate"
	"github.com/KhawLiang/Staff-Detection/internal/capture"
	"github.com/KhawLiang/Staff-Detection/internal/detector"
	"github.com/KhawLiang/Staff-Detection/internal/sink"
)

// OpenSourceFunc opens a frame source for a path.
type OpenSourceFunc func(path string) (capture.Source, error)

// Config holds the collaborators and output settings of a Controller.
type Config struct {
	Detector      detector.Detector
	Annotator     *annotate.Annotator
	Presenter     sink.Presenter
	Postprocessor detector.Postprocessor
	Observer      SessionObserver

	OutputDir string
	Codec     string
	Extension string

	// OpenSource and OpenRecorder default to capture.OpenAny and sink.NewVideoRecorder.
	OpenSource   OpenSourceFunc
	OpenRecorder sink.OpenRecorderFunc
	Clock        clock.Clock
}

// Controller drives one session at a time through Idle, Ready, Running and Stopped.
// Load, Start, Cycle, Stop and Unload are serialized; State may be read at any time.
type Controller struct {
	config Config
	state  atomic.Int32

	mu      sync.Mutex
	source  capture.Source
	out     *sink.DualSink
	frameNo int

	sessMu  sync.RWMutex
	session *Session

	subsMu sync.RWMutex
	subs   []func(Event)
}

// New creates a Controller in the Idle state.
func New(config Config) *Controller {
	if config.Annotator == nil {
		config.Annotator = annotate.New(annotate.DefaultStyle())
	}
	if config.Presenter == nil {
		config.Presenter = sink.NopPresenter{}
	}
	if config.Codec == "" {
		config.Codec = sink.DefaultCodec
	}
	if config.Extension == "" {
		config.Extension = sink.DefaultExtension
	}
	if config.OpenSource == nil {
		config.OpenSource = capture.OpenAny
	}
	if config.OpenRecorder == nil {
		config.OpenRecorder = sink.NewVideoRecorder
	}
	if config.Clock == nil {
		config.Clock = clock.New()
	}
	return &Controller{config: config}
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	return State(c.state.Load())
}

func (c *Controller) setState(s State) {
	c.state.Store(int32(s))
}

// Session returns a snapshot of the current session. ok is false in Idle.
func (c *Controller) Session() (Session, bool) {
	c.sessMu.RLock()
	defer c.sessMu.RUnlock()

	if c.session == nil {
		return Session{}, false
	}
	return *c.session, true
}

func (c *Controller) updateSession(fn func(s *Session)) Session {
	c.sessMu.Lock()
	defer c.sessMu.Unlock()
	fn(c.session)
	return *c.session
}

// Subscribe registers fn to receive events. Events are delivered after the
// controller's lock is released, on the goroutine that caused them.
func (c *Controller) Subscribe(fn func(Event)) {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()
	c.subs = append(c.subs, fn)
}

func (c *Controller) publish(events []Event) {
	if len(events) == 0 {
		return
	}

	c.subsMu.RLock()
	subs := make([]func(Event), len(c.subs))
	copy(subs, c.subs)
	c.subsMu.RUnlock()

	for _, ev := range events {
		for _, fn := range subs {
			fn(ev)
		}
	}
}

// Load opens the video at path and moves Idle -> Ready.
// On an open failure the controller stays Idle and the *capture.OpenError is returned.
func (c *Controller) Load(path string) error {
	c.mu.Lock()
	ev, err := c.load(path)
	c.mu.Unlock()

	c.publish(ev)
	return err
}

func (c *Controller) load(path string) ([]Event, error) {
	if st := c.State(); st != Idle {
		return nil, &StateError{Op: "load", State: st}
	}
	if c.config.Detector == nil {
		return nil, ErrDetectorUnavailable
	}

	src, err := c.config.OpenSource(path)
	if err != nil {
		log.Printf("Failed to load %s: %v", path, err)
		return nil, err
	}

	width, height, fps := src.Dimensions()
	if fps <= 0 {
		fps = capture.DefaultFPS
	}

	s := &Session{
		ID:         uuid.NewString(),
		SourcePath: path,
		Width:      width,
		Height:     height,
		FPS:        fps,
	}

	c.source = src
	c.frameNo = 0
	c.sessMu.Lock()
	c.session = s
	c.sessMu.Unlock()
	c.setState(Ready)

	log.Printf("Loaded %s (%dx%d @ %.2f fps)", path, width, height, fps)
	return []Event{{Type: EventLoaded, State: Ready, Session: *s}}, nil
}

// Start opens the output file and moves Ready -> Running.
// On an encoder failure the controller stays Ready and the *sink.EncodeError is returned.
func (c *Controller) Start() error {
	c.mu.Lock()
	ev, err := c.start()
	c.mu.Unlock()

	c.publish(ev)
	return err
}

func (c *Controller) start() ([]Event, error) {
	if st := c.State(); st != Ready {
		return nil, &StateError{Op: "start", State: st}
	}

	snap, _ := c.Session()
	now := c.config.Clock.Now()
	path := sink.OutputPath(c.config.OutputDir, c.config.Extension, now)

	rec, err := c.config.OpenRecorder(path, c.config.Codec, snap.Width, snap.Height, snap.FPS)
	if err != nil {
		log.Printf("Failed to open output %s: %v", path, err)
		return nil, err
	}

	c.out = sink.NewDualSink(rec, c.config.Presenter)
	snap = c.updateSession(func(s *Session) {
		s.OutputPath = path
		s.StartedAt = now
	})
	c.setState(Running)

	if c.config.Observer != nil {
		if err := c.config.Observer.SessionStarted(snap); err != nil {
			log.Printf("Failed to record session start: %v", err)
		}
	}

	log.Printf("Detection started: session %s writing to %s", snap.ID, path)
	return []Event{{Type: EventStarted, State: Running, Session: snap}}, nil
}

// Cycle processes one frame. It returns false when the session ended during this call
// or is not running. Errors on a single frame never end the session; an error is
// returned only when the source or the recorder failed.
func (c *Controller) Cycle() (bool, error) {
	c.mu.Lock()
	ok, ev, err := c.cycle()
	c.mu.Unlock()

	c.publish(ev)
	return ok, err
}

func (c *Controller) cycle() (bool, []Event, error) {
	if st := c.State(); st != Running {
		return false, nil, &StateError{Op: "cycle", State: st}
	}

	frame, err := c.source.Read()
	if errors.Is(err, capture.ErrEndOfStream) {
		return false, c.end(ReasonExhausted, nil), nil
	}
	if err != nil {
		err = fmt.Errorf("read frame: %w", err)
		return false, c.end(ReasonError, err), err
	}
	defer frame.Close()

	c.frameNo++
	var events []Event

	var primary *detector.Detection
	dets, err := c.detect(*frame)
	if err != nil {
		ie := &InferenceError{Frame: c.frameNo, Err: err}
		log.Printf("Skipping detection: %v", ie)
		snap := c.updateSession(func(s *Session) { s.FramesSkipped++ })
		events = append(events, Event{Type: EventSkipped, State: Running, Session: snap, Err: ie})
	} else {
		if c.config.Postprocessor != nil {
			dets = c.config.Postprocessor(dets)
		}
		primary = detector.Best(dets)
	}

	target := *frame
	annotated, err := c.config.Annotator.Annotate(*frame, primary)
	defer annotated.Close()
	if err != nil {
		log.Printf("Skipping annotation on frame %d: %v", c.frameNo, err)
	} else {
		target = annotated
	}

	res := c.out.Write(target)
	if res.PresentErr != nil {
		log.Printf("Failed to present frame %d: %v", c.frameNo, res.PresentErr)
		c.updateSession(func(s *Session) { s.PresentErrors++ })
	}
	if res.RecordErr != nil {
		return false, append(events, c.end(ReasonError, res.RecordErr)...), res.RecordErr
	}

	c.updateSession(func(s *Session) { s.FramesWritten++ })
	return true, events, nil
}

// detect runs the detector, turning a panic into an error.
func (c *Controller) detect(frame gocv.Mat) (dets []detector.Detection, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("detector panic: %v", r)
		}
	}()
	return c.config.Detector.Detect(frame)
}

// Stop ends a running session. A cycle in progress completes first.
func (c *Controller) Stop() error {
	c.mu.Lock()
	if st := c.State(); st != Running {
		c.mu.Unlock()
		return &StateError{Op: "stop", State: st}
	}
	ev := c.end(ReasonStopped, nil)
	c.mu.Unlock()

	c.publish(ev)
	return ev[0].Err
}

// end releases the session's source and output and moves to Stopped.
// cause is the error that ended the session, if any.
func (c *Controller) end(reason string, cause error) []Event {
	var teardown error
	if c.out != nil {
		teardown = multierr.Append(teardown, c.out.Close())
		c.out = nil
	}
	if c.source != nil {
		teardown = multierr.Append(teardown, c.source.Close())
		c.source = nil
	}

	termErr := multierr.Append(cause, teardown)
	now := c.config.Clock.Now()
	snap := c.updateSession(func(s *Session) {
		s.EndedAt = now
		s.EndReason = reason
		s.Err = termErr
		if termErr != nil {
			s.Error = termErr.Error()
		}
	})
	c.setState(Stopped)

	switch reason {
	case ReasonExhausted:
		log.Printf("Video processing complete. Output video saved to %s (%d frames)", snap.OutputPath, snap.FramesWritten)
	case ReasonStopped:
		log.Printf("Detection stopped. %d frames saved to %s", snap.FramesWritten, snap.OutputPath)
	default:
		log.Printf("Detection aborted after %d frames: %v", snap.FramesWritten, termErr)
	}

	if c.config.Observer != nil {
		if err := c.config.Observer.SessionEnded(snap); err != nil {
			log.Printf("Failed to record session end: %v", err)
		}
	}

	return []Event{{Type: EventEnded, State: Stopped, Session: snap, Err: termErr}}
}

// Unload releases everything held by a Ready or Stopped controller and returns to Idle.
func (c *Controller) Unload() error {
	c.mu.Lock()
	ev, err := c.unload()
	c.mu.Unlock()

	c.publish(ev)
	return err
}

func (c *Controller) unload() ([]Event, error) {
	st := c.State()
	if st != Ready && st != Stopped {
		return nil, &StateError{Op: "unload", State: st}
	}

	var err error
	if c.source != nil {
		err = c.source.Close()
		c.source = nil
	}

	c.sessMu.Lock()
	snap := Session{}
	if c.session != nil {
		snap = *c.session
	}
	c.session = nil
	c.sessMu.Unlock()
	c.setState(Idle)

	if err != nil {
		log.Printf("Error closing source: %v", err)
	}
	return []Event{{Type: EventUnloaded, State: Idle, Session: snap}}, nil
}

// Close stops a running session and unloads, leaving the controller Idle.
// The detector and presenter are owned by the caller and stay open.
func (c *Controller) Close() error {
	var err error
	if c.State() == Running {
		if stopErr := c.Stop(); stopErr != nil && !errors.Is(stopErr, ErrInvalidState) {
			err = multierr.Append(err, stopErr)
		}
	}
	if st := c.State(); st == Ready || st == Stopped {
		err = multierr.Append(err, c.Unload())
	}
	return err
}
