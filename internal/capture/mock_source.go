package capture

import (
	"sync"

	"gocv.io/x/gocv"
)

// MockSource plays back in-memory frames for tests and demos.
type MockSource struct {
	frames []*gocv.Mat
	index  int
	width  int
	height int
	fps    float64
	closed bool
	mu     sync.Mutex
}

// NewMockSource creates a MockSource over frames. Width and height are taken from
// the first frame.
func NewMockSource(frames []*gocv.Mat, fps float64) *MockSource {
	s := &MockSource{
		frames: frames,
		fps:    fps,
	}
	if len(frames) > 0 {
		s.width = frames[0].Cols()
		s.height = frames[0].Rows()
	}
	return s
}

// Read returns a clone of the next frame so the originals are never modified.
func (s *MockSource) Read() (*gocv.Mat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrSourceClosed
	}
	if s.index >= len(s.frames) {
		return nil, ErrEndOfStream
	}

	frame := s.frames[s.index].Clone()
	s.index++

	return &frame, nil
}

// Dimensions returns the size of the first frame and the configured frame rate.
func (s *MockSource) Dimensions() (int, int, float64) {
	return s.width, s.height, s.fps
}

// Close stops playback. Read returns ErrSourceClosed afterwards.
func (s *MockSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Consumed returns how many frames have been read.
func (s *MockSource) Consumed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.index
}

// Closed reports whether Close has been called.
func (s *MockSource) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Reset restarts playback from the beginning and reopens the source.
func (s *MockSource) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.index = 0
	s.closed = false
}
