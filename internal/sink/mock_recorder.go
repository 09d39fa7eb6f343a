package sink

import (
	"sync"

	"gocv.io/x/gocv"
)

// MockRecorder is an in-memory Recorder for testing.
type MockRecorder struct {
	path    string
	frames  int
	closes  int
	failAt  int
	failErr error
	mu      sync.Mutex
}

// NewMockRecorder creates a MockRecorder reporting path as its output.
func NewMockRecorder(path string) *MockRecorder {
	return &MockRecorder{path: path, failAt: -1}
}

// FailAt makes the write with zero-based index n, and every later write, fail with err.
func (r *MockRecorder) FailAt(n int, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failAt = n
	r.failErr = err
}

// Write counts the frame.
func (r *MockRecorder) Write(frame gocv.Mat) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closes > 0 {
		return &EncodeError{Op: "write", Path: r.path, Err: ErrRecorderClosed}
	}
	if r.failAt >= 0 && r.frames >= r.failAt {
		return &EncodeError{Op: "write", Path: r.path, Err: r.failErr}
	}
	r.frames++
	return nil
}

// Close records the call.
func (r *MockRecorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closes++
	return nil
}

// Path returns the configured path.
func (r *MockRecorder) Path() string {
	return r.path
}

// Frames returns the number of accepted frames.
func (r *MockRecorder) Frames() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.frames
}

// Closes returns how many times Close was called.
func (r *MockRecorder) Closes() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closes
}
