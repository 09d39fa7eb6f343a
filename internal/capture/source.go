// Package capture provides video file frame sources using GoCV (OpenCV).
package capture

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"gocv.io/x/gocv"
)

// DefaultFPS is used when a container does not report a usable frame rate.
const DefaultFPS = 30

var (
	// ErrNotFound is returned when the video path does not exist.
	ErrNotFound = errors.New("video not found")
	// ErrUnreadable is returned when the video exists but cannot be decoded.
	ErrUnreadable = errors.New("video unreadable")
	// ErrEndOfStream is returned by Read once every frame has been consumed.
	ErrEndOfStream = errors.New("end of stream")
	// ErrSourceClosed is returned when reading from a closed source.
	ErrSourceClosed = errors.New("source is closed")
)

// OpenError reports why a video could not be opened.
type OpenError struct {
	Path string
	Err  error
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("open %s: %v", e.Path, e.Err)
}

func (e *OpenError) Unwrap() error {
	return e.Err
}

// Source produces decoded frames from a video container.
type Source interface {
	// Read returns the next frame. The caller is responsible for closing the returned Mat.
	// Returns ErrEndOfStream once the source is exhausted.
	Read() (*gocv.Mat, error)

	// Dimensions reports the frame size and frame rate of the source.
	Dimensions() (width, height int, fps float64)

	// Close releases the underlying decoder. Safe to call more than once.
	Close() error
}

// VideoSource reads frames from a video file with gocv.VideoCapture.
type VideoSource struct {
	path    string
	capture *gocv.VideoCapture
	width   int
	height  int
	fps     float64
	mu      sync.Mutex
	done    bool
}

// Open opens the video file at path for decoding.
func Open(path string) (*VideoSource, error) {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, &OpenError{Path: path, Err: ErrNotFound}
		}
		return nil, &OpenError{Path: path, Err: fmt.Errorf("%w: %v", ErrUnreadable, err)}
	}

	capture, err := gocv.VideoCaptureFile(path)
	if err != nil {
		return nil, &OpenError{Path: path, Err: fmt.Errorf("%w: %v", ErrUnreadable, err)}
	}
	if !capture.IsOpened() {
		capture.Close()
		return nil, &OpenError{Path: path, Err: ErrUnreadable}
	}

	width := int(capture.Get(gocv.VideoCaptureFrameWidth))
	height := int(capture.Get(gocv.VideoCaptureFrameHeight))
	if width <= 0 || height <= 0 {
		capture.Close()
		return nil, &OpenError{Path: path, Err: fmt.Errorf("%w: no video stream", ErrUnreadable)}
	}

	return &VideoSource{
		path:    path,
		capture: capture,
		width:   width,
		height:  height,
		fps:     capture.Get(gocv.VideoCaptureFPS),
	}, nil
}

// Path returns the file the source was opened from.
func (s *VideoSource) Path() string {
	return s.path
}

// Read decodes the next frame. A failed or empty decode is treated as end of stream.
func (s *VideoSource) Read() (*gocv.Mat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.capture == nil {
		return nil, ErrSourceClosed
	}
	if s.done {
		return nil, ErrEndOfStream
	}

	mat := gocv.NewMat()
	if ok := s.capture.Read(&mat); !ok || mat.Empty() {
		mat.Close()
		s.done = true
		return nil, ErrEndOfStream
	}

	return &mat, nil
}

// Dimensions returns the width, height and frame rate reported by the container.
func (s *VideoSource) Dimensions() (int, int, float64) {
	return s.width, s.height, s.fps
}

// FrameCount returns the number of frames the container claims to hold.
// Some containers report 0 or an estimate.
func (s *VideoSource) FrameCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.capture == nil {
		return 0
	}
	return int(s.capture.Get(gocv.VideoCaptureFrameCount))
}

// Close releases the decoder.
func (s *VideoSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.capture == nil {
		return nil
	}

	err := s.capture.Close()
	s.capture = nil
	return err
}

// Preview returns the first frame of the video at path without keeping it open.
// The caller is responsible for closing the returned Mat.
func Preview(path string) (*gocv.Mat, error) {
	src, err := Open(path)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	frame, err := src.Read()
	if err != nil {
		if errors.Is(err, ErrEndOfStream) {
			return nil, &OpenError{Path: path, Err: fmt.Errorf("%w: no frames", ErrUnreadable)}
		}
		return nil, err
	}
	return frame, nil
}
