package pipeline

import (
	"bytes"
	"context"
	"errors"
	"image"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"gocv.io/x/gocv"

	"github.com/KhawLiang/Staff-Detection/internal/capture"
	"github.com/KhawLiang/Staff-Detection/internal/detector"
	"github.com/KhawLiang/Staff-Detection/internal/sink"
	"github.com/KhawLiang/Staff-Detection/internal/testutil"
)

const testFrameSize = 64

// capturePresenter keeps a copy of every presented frame.
type capturePresenter struct {
	mu     sync.Mutex
	frames [][]byte
	err    error
}

func (p *capturePresenter) Present(frame gocv.Mat) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.frames = append(p.frames, frame.ToBytes())
	return p.err
}

func (p *capturePresenter) Close() error { return nil }

func (p *capturePresenter) Frames() [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.frames
}

// fakeObserver records session notifications.
type fakeObserver struct {
	mu      sync.Mutex
	started []Session
	ended   []Session
}

func (o *fakeObserver) SessionStarted(s Session) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.started = append(o.started, s)
	return nil
}

func (o *fakeObserver) SessionEnded(s Session) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.ended = append(o.ended, s)
	return nil
}

type panicDetector struct{}

func (panicDetector) Detect(gocv.Mat) ([]detector.Detection, error) { panic("model crashed") }
func (panicDetector) Close() error                                  { return nil }

type harness struct {
	controller *Controller
	source     *capture.MockSource
	frames     []*gocv.Mat
	detector   *detector.MockDetector
	presenter  *capturePresenter
	observer   *fakeObserver

	mu       sync.Mutex
	recorder *sink.MockRecorder
	recArgs  []any
}

func newHarness(t *testing.T, n int, fps float64) *harness {
	t.Helper()

	h := &harness{
		frames:    testutil.Sequence(n, testFrameSize, testFrameSize),
		detector:  detector.NewMockDetector(),
		presenter: &capturePresenter{},
		observer:  &fakeObserver{},
	}
	t.Cleanup(func() { testutil.CloseAll(h.frames) })

	h.source = capture.NewMockSource(h.frames, fps)
	h.controller = New(Config{
		Detector:  h.detector,
		Presenter: h.presenter,
		Observer:  h.observer,
		OutputDir: t.TempDir(),
		OpenSource: func(path string) (capture.Source, error) {
			return h.source, nil
		},
		OpenRecorder: func(path, codec string, width, height int, fps float64) (sink.Recorder, error) {
			h.mu.Lock()
			defer h.mu.Unlock()
			h.recorder = sink.NewMockRecorder(path)
			h.recArgs = []any{codec, width, height, fps}
			return h.recorder, nil
		},
	})
	return h
}

func (h *harness) rec() *sink.MockRecorder {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.recorder
}

func (h *harness) loadAndStart(t *testing.T) {
	t.Helper()
	if err := h.controller.Load("staff.mp4"); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if err := h.controller.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
}

func (h *harness) runToEnd(t *testing.T) {
	t.Helper()
	if err := RunLoop(context.Background(), h.controller); err != nil {
		t.Fatalf("RunLoop() error = %v", err)
	}
}

func TestController_ExhaustionWithoutDetections(t *testing.T) {
	h := newHarness(t, 10, 25)
	h.loadAndStart(t)
	h.runToEnd(t)

	if got := h.rec().Frames(); got != 10 {
		t.Errorf("recorded frames = %d, want 10", got)
	}

	presented := h.presenter.Frames()
	if len(presented) != 10 {
		t.Fatalf("presented frames = %d, want 10", len(presented))
	}
	for i, f := range presented {
		if !bytes.Equal(f, h.frames[i].ToBytes()) {
			t.Errorf("frame %d was modified without a detection", i)
		}
	}

	if h.controller.State() != Stopped {
		t.Errorf("State() = %v, want %v", h.controller.State(), Stopped)
	}
	s, ok := h.controller.Session()
	if !ok {
		t.Fatal("Session() ok = false after the session ended")
	}
	if s.EndReason != ReasonExhausted {
		t.Errorf("EndReason = %q, want %q", s.EndReason, ReasonExhausted)
	}
	if s.FramesWritten != 10 {
		t.Errorf("FramesWritten = %d, want 10", s.FramesWritten)
	}
	if s.Err != nil {
		t.Errorf("session error = %v, want nil", s.Err)
	}
}

func TestController_AnnotatesOnlyThePrimaryDetection(t *testing.T) {
	h := newHarness(t, 3, 25)
	h.detector.SetScript([][]detector.Detection{
		nil,
		{
			{Box: image.Rect(10, 10, 50, 50), Confidence: 0.9, ClassName: "staff"},
			{Box: image.Rect(0, 0, 20, 20), Confidence: 0.4, ClassName: "staff"},
		},
		{},
	})

	h.loadAndStart(t)
	h.runToEnd(t)

	presented := h.presenter.Frames()
	if len(presented) != 3 {
		t.Fatalf("presented frames = %d, want 3", len(presented))
	}
	if !bytes.Equal(presented[0], h.frames[0].ToBytes()) {
		t.Error("frame 1 should be unannotated")
	}
	if !bytes.Equal(presented[2], h.frames[2].ToBytes()) {
		t.Error("frame 3 should be unannotated")
	}

	// Frame 2: the 0.9 box is drawn, the 0.4 box is not
	mat, err := gocv.NewMatFromBytes(testFrameSize, testFrameSize, gocv.MatTypeCV8UC3, presented[1])
	if err != nil {
		t.Fatalf("NewMatFromBytes() error = %v", err)
	}
	defer mat.Close()

	edge := mat.GetVecbAt(30, 10)
	if !bytes.Equal(edge, []byte{0, 255, 0}) {
		t.Errorf("pixel on primary box edge = %v, want [0 255 0]", edge)
	}
	// (17, 20) lies on the right edge of the 0.4 box and inside the primary box
	inner := mat.GetVecbAt(17, 20)
	orig := h.frames[1].GetVecbAt(17, 20)
	if !bytes.Equal(inner, orig) {
		t.Errorf("pixel on secondary box edge = %v, want untouched %v", inner, orig)
	}
}

func TestController_StopMidSession(t *testing.T) {
	h := newHarness(t, 10, 25)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.detector.OnDetect(func(call int) {
		if call == 3 {
			cancel()
		}
	})

	h.loadAndStart(t)
	if err := RunLoop(ctx, h.controller); err != nil {
		t.Fatalf("RunLoop() error = %v", err)
	}

	if got := h.rec().Frames(); got != 4 {
		t.Errorf("recorded frames = %d, want 4", got)
	}
	if got := h.detector.Calls(); got != 4 {
		t.Errorf("detector calls = %d, want 4", got)
	}
	if h.controller.State() != Stopped {
		t.Errorf("State() = %v, want %v", h.controller.State(), Stopped)
	}

	s, _ := h.controller.Session()
	if s.EndReason != ReasonStopped {
		t.Errorf("EndReason = %q, want %q", s.EndReason, ReasonStopped)
	}

	// No further cycles run
	if ok, err := h.controller.Cycle(); ok || !errors.Is(err, ErrInvalidState) {
		t.Errorf("Cycle() after stop = (%v, %v), want (false, ErrInvalidState)", ok, err)
	}
	if got := h.rec().Frames(); got != 4 {
		t.Errorf("recorded frames after stop = %d, want 4", got)
	}
}

func TestController_LoadMissingFile(t *testing.T) {
	c := New(Config{Detector: detector.NewMockDetector()})

	err := c.Load("/nonexistent/video.mp4")

	var openErr *capture.OpenError
	if !errors.As(err, &openErr) {
		t.Fatalf("Load() error = %v, want *capture.OpenError", err)
	}
	if !errors.Is(err, capture.ErrNotFound) {
		t.Errorf("Load() error = %v, want ErrNotFound", err)
	}
	if c.State() != Idle {
		t.Errorf("State() = %v, want %v", c.State(), Idle)
	}
	if _, ok := c.Session(); ok {
		t.Error("Session() ok = true after a failed load")
	}
}

func TestController_LoadWithoutDetector(t *testing.T) {
	c := New(Config{})

	if err := c.Load("staff.mp4"); !errors.Is(err, ErrDetectorUnavailable) {
		t.Errorf("Load() error = %v, want ErrDetectorUnavailable", err)
	}
	if c.State() != Idle {
		t.Errorf("State() = %v, want %v", c.State(), Idle)
	}
}

func TestController_InvalidTransitions(t *testing.T) {
	tests := []struct {
		name  string
		setup func(t *testing.T, h *harness)
		op    func(c *Controller) error
		state State
	}{
		{
			name:  "start from idle",
			setup: func(t *testing.T, h *harness) {},
			op:    func(c *Controller) error { return c.Start() },
			state: Idle,
		},
		{
			name:  "stop from idle",
			setup: func(t *testing.T, h *harness) {},
			op:    func(c *Controller) error { return c.Stop() },
			state: Idle,
		},
		{
			name:  "unload from idle",
			setup: func(t *testing.T, h *harness) {},
			op:    func(c *Controller) error { return c.Unload() },
			state: Idle,
		},
		{
			name:  "cycle from idle",
			setup: func(t *testing.T, h *harness) {},
			op: func(c *Controller) error {
				_, err := c.Cycle()
				return err
			},
			state: Idle,
		},
		{
			name: "load twice",
			setup: func(t *testing.T, h *harness) {
				if err := h.controller.Load("a.mp4"); err != nil {
					t.Fatal(err)
				}
			},
			op:    func(c *Controller) error { return c.Load("b.mp4") },
			state: Ready,
		},
		{
			name:  "load while running",
			setup: func(t *testing.T, h *harness) { h.loadAndStart(t) },
			op:    func(c *Controller) error { return c.Load("b.mp4") },
			state: Running,
		},
		{
			name:  "unload while running",
			setup: func(t *testing.T, h *harness) { h.loadAndStart(t) },
			op:    func(c *Controller) error { return c.Unload() },
			state: Running,
		},
		{
			name: "start from stopped",
			setup: func(t *testing.T, h *harness) {
				h.loadAndStart(t)
				h.runToEnd(t)
			},
			op:    func(c *Controller) error { return c.Start() },
			state: Stopped,
		},
		{
			name: "stop from stopped",
			setup: func(t *testing.T, h *harness) {
				h.loadAndStart(t)
				h.runToEnd(t)
			},
			op:    func(c *Controller) error { return c.Stop() },
			state: Stopped,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, 2, 25)
			tt.setup(t, h)

			err := tt.op(h.controller)

			var stateErr *StateError
			if !errors.As(err, &stateErr) {
				t.Fatalf("error = %v, want *StateError", err)
			}
			if !errors.Is(err, ErrInvalidState) {
				t.Errorf("error = %v, want ErrInvalidState", err)
			}
			if stateErr.State != tt.state {
				t.Errorf("StateError.State = %v, want %v", stateErr.State, tt.state)
			}
			if got := h.controller.State(); got != tt.state {
				t.Errorf("State() = %v, want unchanged %v", got, tt.state)
			}
		})
	}
}

func TestController_TeardownExactlyOnce(t *testing.T) {
	h := newHarness(t, 3, 25)
	h.loadAndStart(t)
	h.runToEnd(t)

	rec := h.rec()
	if rec.Closes() != 1 {
		t.Errorf("recorder closed %d times, want 1", rec.Closes())
	}
	if !h.source.Closed() {
		t.Error("source not closed after exhaustion")
	}

	// Stop after the session ended is rejected and releases nothing again
	if err := h.controller.Stop(); !errors.Is(err, ErrInvalidState) {
		t.Errorf("Stop() error = %v, want ErrInvalidState", err)
	}
	if err := h.controller.Unload(); err != nil {
		t.Fatalf("Unload() error = %v", err)
	}
	if rec.Closes() != 1 {
		t.Errorf("recorder closed %d times after unload, want 1", rec.Closes())
	}
	if h.controller.State() != Idle {
		t.Errorf("State() = %v, want %v", h.controller.State(), Idle)
	}

	if len(h.observer.ended) != 1 {
		t.Errorf("observer saw %d session ends, want 1", len(h.observer.ended))
	}
}

func TestController_RecorderBoundToSourceFormat(t *testing.T) {
	tests := []struct {
		name    string
		fps     float64
		wantFPS float64
	}{
		{"reported rate", 12.5, 12.5},
		{"missing rate falls back", 0, capture.DefaultFPS},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, 1, tt.fps)
			h.loadAndStart(t)

			want := []any{sink.DefaultCodec, testFrameSize, testFrameSize, tt.wantFPS}
			if diff := cmp.Diff(want, h.recArgs); diff != "" {
				t.Errorf("recorder arguments mismatch (-want +got):\n%s", diff)
			}

			s, _ := h.controller.Session()
			if s.OutputPath != h.rec().Path() {
				t.Errorf("OutputPath = %q, want %q", s.OutputPath, h.rec().Path())
			}
		})
	}
}

func TestController_StartEncodeFailureStaysReady(t *testing.T) {
	h := newHarness(t, 2, 25)

	fail := true
	open := h.controller.config.OpenRecorder
	h.controller.config.OpenRecorder = func(path, codec string, w, ht int, fps float64) (sink.Recorder, error) {
		if fail {
			return nil, &sink.EncodeError{Op: "open", Path: path, Err: errors.New("codec unavailable")}
		}
		return open(path, codec, w, ht, fps)
	}

	if err := h.controller.Load("staff.mp4"); err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	err := h.controller.Start()
	var encErr *sink.EncodeError
	if !errors.As(err, &encErr) {
		t.Fatalf("Start() error = %v, want *sink.EncodeError", err)
	}
	if h.controller.State() != Ready {
		t.Errorf("State() = %v, want %v", h.controller.State(), Ready)
	}
	if h.source.Closed() {
		t.Error("source closed after a failed start")
	}

	fail = false
	if err := h.controller.Start(); err != nil {
		t.Fatalf("retry Start() error = %v", err)
	}
	h.runToEnd(t)
	if got := h.rec().Frames(); got != 2 {
		t.Errorf("recorded frames = %d, want 2", got)
	}
}

func TestController_RecorderFailureEndsSession(t *testing.T) {
	h := newHarness(t, 5, 25)
	h.loadAndStart(t)
	h.rec().FailAt(2, errors.New("disk full"))

	err := RunLoop(context.Background(), h.controller)

	var encErr *sink.EncodeError
	if !errors.As(err, &encErr) {
		t.Fatalf("RunLoop() error = %v, want *sink.EncodeError", err)
	}
	if h.controller.State() != Stopped {
		t.Errorf("State() = %v, want %v", h.controller.State(), Stopped)
	}

	s, _ := h.controller.Session()
	if s.EndReason != ReasonError {
		t.Errorf("EndReason = %q, want %q", s.EndReason, ReasonError)
	}
	if s.FramesWritten != 2 {
		t.Errorf("FramesWritten = %d, want 2", s.FramesWritten)
	}
	if s.Error == "" {
		t.Error("session Error is empty")
	}
	if !h.source.Closed() {
		t.Error("source not closed")
	}
	if h.rec().Closes() != 1 {
		t.Errorf("recorder closed %d times, want 1", h.rec().Closes())
	}
}

func TestController_InferenceErrorForwardsFrameUnannotated(t *testing.T) {
	h := newHarness(t, 3, 25)
	h.detector.SetDetections([]detector.Detection{
		{Box: image.Rect(10, 10, 50, 50), Confidence: 0.8, ClassName: "staff"},
	})
	h.detector.SetErrorAt(1, errors.New("model timeout"))

	var skipped []Event
	h.controller.Subscribe(func(ev Event) {
		if ev.Type == EventSkipped {
			skipped = append(skipped, ev)
		}
	})

	h.loadAndStart(t)
	h.runToEnd(t)

	if got := h.rec().Frames(); got != 3 {
		t.Errorf("recorded frames = %d, want 3", got)
	}

	presented := h.presenter.Frames()
	if bytes.Equal(presented[0], h.frames[0].ToBytes()) {
		t.Error("frame 1 should be annotated")
	}
	if !bytes.Equal(presented[1], h.frames[1].ToBytes()) {
		t.Error("frame 2 should be forwarded unannotated")
	}

	if len(skipped) != 1 {
		t.Fatalf("skipped events = %d, want 1", len(skipped))
	}
	var infErr *InferenceError
	if !errors.As(skipped[0].Err, &infErr) {
		t.Fatalf("skipped event error = %v, want *InferenceError", skipped[0].Err)
	}
	if infErr.Frame != 2 {
		t.Errorf("InferenceError.Frame = %d, want 2", infErr.Frame)
	}

	s, _ := h.controller.Session()
	if s.FramesSkipped != 1 {
		t.Errorf("FramesSkipped = %d, want 1", s.FramesSkipped)
	}
	if s.EndReason != ReasonExhausted {
		t.Errorf("EndReason = %q, want %q", s.EndReason, ReasonExhausted)
	}
}

func TestController_DetectorPanicIsContained(t *testing.T) {
	h := newHarness(t, 2, 25)
	h.controller.config.Detector = panicDetector{}

	h.loadAndStart(t)
	h.runToEnd(t)

	s, _ := h.controller.Session()
	if s.FramesWritten != 2 || s.FramesSkipped != 2 {
		t.Errorf("written/skipped = %d/%d, want 2/2", s.FramesWritten, s.FramesSkipped)
	}
}

func TestController_PresentationFailureIsTolerated(t *testing.T) {
	h := newHarness(t, 4, 25)
	h.presenter.err = errors.New("window closed")

	h.loadAndStart(t)
	h.runToEnd(t)

	s, _ := h.controller.Session()
	if s.FramesWritten != 4 {
		t.Errorf("FramesWritten = %d, want 4", s.FramesWritten)
	}
	if s.PresentErrors != 4 {
		t.Errorf("PresentErrors = %d, want 4", s.PresentErrors)
	}
	if s.EndReason != ReasonExhausted {
		t.Errorf("EndReason = %q, want %q", s.EndReason, ReasonExhausted)
	}
}

func TestController_PostprocessorRunsBeforeSelection(t *testing.T) {
	h := newHarness(t, 1, 25)
	h.controller.config.Postprocessor = detector.NewScoreFilter(0.5)
	h.detector.SetDetections([]detector.Detection{
		{Box: image.Rect(10, 10, 50, 50), Confidence: 0.4, ClassName: "staff"},
	})

	h.loadAndStart(t)
	h.runToEnd(t)

	if presented := h.presenter.Frames(); !bytes.Equal(presented[0], h.frames[0].ToBytes()) {
		t.Error("a detection below the minimum score should not be drawn")
	}
}

func TestController_EventsAndObserver(t *testing.T) {
	h := newHarness(t, 2, 25)

	var types []EventType
	h.controller.Subscribe(func(ev Event) {
		types = append(types, ev.Type)
		// Subscribers may read the controller
		h.controller.Session()
	})

	h.loadAndStart(t)
	h.runToEnd(t)
	if err := h.controller.Unload(); err != nil {
		t.Fatalf("Unload() error = %v", err)
	}

	want := []EventType{EventLoaded, EventStarted, EventEnded, EventUnloaded}
	if diff := cmp.Diff(want, types); diff != "" {
		t.Errorf("events mismatch (-want +got):\n%s", diff)
	}

	if len(h.observer.started) != 1 || len(h.observer.ended) != 1 {
		t.Fatalf("observer started/ended = %d/%d, want 1/1", len(h.observer.started), len(h.observer.ended))
	}
	if h.observer.started[0].ID != h.observer.ended[0].ID {
		t.Error("observer saw different session ids for start and end")
	}
	if h.observer.ended[0].FramesWritten != 2 {
		t.Errorf("observed FramesWritten = %d, want 2", h.observer.ended[0].FramesWritten)
	}
}

func TestController_CloseReleasesEverything(t *testing.T) {
	h := newHarness(t, 5, 25)
	h.loadAndStart(t)
	if _, err := h.controller.Cycle(); err != nil {
		t.Fatalf("Cycle() error = %v", err)
	}

	if err := h.controller.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	if h.controller.State() != Idle {
		t.Errorf("State() = %v, want %v", h.controller.State(), Idle)
	}
	if !h.source.Closed() {
		t.Error("source not closed")
	}
	if h.rec().Closes() != 1 {
		t.Errorf("recorder closed %d times, want 1", h.rec().Closes())
	}
	if h.detector.Closed() {
		t.Error("controller must not close the caller's detector")
	}
}

func TestStateString(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{Idle, "idle"},
		{Ready, "ready"},
		{Running, "running"},
		{Stopped, "stopped"},
		{State(9), "state(9)"},
	}

	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", int32(tt.state), got, tt.want)
		}
	}
}
