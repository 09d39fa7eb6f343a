package sink

import (
	"sync"

	"gocv.io/x/gocv"
)

// WriteResult reports the outcome of one DualSink write per target.
type WriteResult struct {
	RecordErr  error
	PresentErr error
}

// OK reports whether both targets accepted the frame.
func (r WriteResult) OK() bool {
	return r.RecordErr == nil && r.PresentErr == nil
}

// DualSink fans a frame out to the recorder and the presenter.
type DualSink struct {
	recorder  Recorder
	presenter Presenter
	once      sync.Once
	closeErr  error
}

// NewDualSink creates a DualSink. A nil presenter is replaced by NopPresenter.
func NewDualSink(recorder Recorder, presenter Presenter) *DualSink {
	if presenter == nil {
		presenter = NopPresenter{}
	}
	return &DualSink{
		recorder:  recorder,
		presenter: presenter,
	}
}

// Write delivers frame to both targets. A failure in one never prevents delivery
// to the other.
func (s *DualSink) Write(frame gocv.Mat) WriteResult {
	return WriteResult{
		RecordErr:  s.recorder.Write(frame),
		PresentErr: s.presenter.Present(frame),
	}
}

// Recorder returns the persistence target.
func (s *DualSink) Recorder() Recorder {
	return s.recorder
}

// Close finalizes the recorder exactly once. The presenter outlives the session and
// is closed by its owner.
func (s *DualSink) Close() error {
	s.once.Do(func() {
		s.closeErr = s.recorder.Close()
	})
	return s.closeErr
}
