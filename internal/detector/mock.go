package detector

import (
	"sync"

	"gocv.io/x/gocv"
)

// MockDetector is a test implementation of the Detector interface.
// It allows tests to control the detection results frame by frame.
type MockDetector struct {
	mu       sync.Mutex
	script   [][]Detection
	errs     map[int]error
	fallback []Detection
	err      error
	calls    int
	onDetect func(call int)
	closed   bool
}

// NewMockDetector creates a new MockDetector that detects nothing.
func NewMockDetector() *MockDetector {
	return &MockDetector{errs: make(map[int]error)}
}

// SetDetections sets the detections returned for every call without a scripted result.
func (m *MockDetector) SetDetections(dets []Detection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fallback = dets
}

// SetScript sets per-call results: call i (0-based) returns script[i].
func (m *MockDetector) SetScript(script [][]Detection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.script = script
}

// SetError sets the error returned by every call.
func (m *MockDetector) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// SetErrorAt makes call i (0-based) fail with err.
func (m *MockDetector) SetErrorAt(call int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errs[call] = err
}

// OnDetect registers a hook run at the start of every call with its 0-based index.
func (m *MockDetector) OnDetect(fn func(call int)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onDetect = fn
}

// Detect returns the pre-configured detections or error.
func (m *MockDetector) Detect(frame gocv.Mat) ([]Detection, error) {
	m.mu.Lock()
	call := m.calls
	m.calls++
	hook := m.onDetect
	m.mu.Unlock()

	if hook != nil {
		hook(call)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err, ok := m.errs[call]; ok {
		return nil, err
	}
	if m.err != nil {
		return nil, m.err
	}
	if call < len(m.script) {
		return m.script[call], nil
	}
	return m.fallback, nil
}

// Calls returns how many times Detect has been invoked.
func (m *MockDetector) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Close marks the detector closed.
func (m *MockDetector) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Closed reports whether Close has been called.
func (m *MockDetector) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}
