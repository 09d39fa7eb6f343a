// Package sink delivers annotated frames to the output video file and to a live presenter.
package sink

import (
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gocv.io/x/gocv"
)

// Default encoder settings.
const (
	DefaultCodec     = "mp4v"
	DefaultExtension = "mp4"
)

var (
	// ErrSizeMismatch is returned when a frame does not match the recorder's bound size.
	ErrSizeMismatch = errors.New("frame size does not match output size")
	// ErrRecorderClosed is returned when writing to a closed recorder.
	ErrRecorderClosed = errors.New("recorder is closed")
)

// EncodeError reports a failure to open or append to the output container.
type EncodeError struct {
	Op   string
	Path string
	Err  error
}

func (e *EncodeError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *EncodeError) Unwrap() error {
	return e.Err
}

// Recorder persists frames to an output container.
type Recorder interface {
	// Write appends a frame. It fails with an *EncodeError if the frame cannot be encoded.
	Write(frame gocv.Mat) error

	// Close flushes and finalizes the container. Only the first call has an effect.
	Close() error

	// Path returns the output file path.
	Path() string

	// Frames returns the number of frames written so far.
	Frames() int
}

// OpenRecorderFunc opens a recorder for a session.
type OpenRecorderFunc func(path, codec string, width, height int, fps float64) (Recorder, error)

// VideoRecorder appends frames to a video file with gocv.VideoWriter.
type VideoRecorder struct {
	path   string
	size   image.Point
	writer *gocv.VideoWriter
	frames int
	closed bool
	mu     sync.Mutex
}

// OpenRecorder creates the output file bound to the given codec, size and frame rate.
// Missing parent directories are created.
func OpenRecorder(path, codec string, width, height int, fps float64) (*VideoRecorder, error) {
	if width <= 0 || height <= 0 {
		return nil, &EncodeError{Op: "open", Path: path, Err: fmt.Errorf("invalid frame size %dx%d", width, height)}
	}
	if fps <= 0 {
		return nil, &EncodeError{Op: "open", Path: path, Err: fmt.Errorf("invalid frame rate %v", fps)}
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, &EncodeError{Op: "open", Path: path, Err: err}
		}
	}

	writer, err := gocv.VideoWriterFile(path, codec, fps, width, height, true)
	if err != nil {
		return nil, &EncodeError{Op: "open", Path: path, Err: err}
	}
	if !writer.IsOpened() {
		writer.Close()
		return nil, &EncodeError{Op: "open", Path: path, Err: fmt.Errorf("codec %s unavailable", codec)}
	}

	return &VideoRecorder{
		path:   path,
		size:   image.Pt(width, height),
		writer: writer,
	}, nil
}

// NewVideoRecorder adapts OpenRecorder to OpenRecorderFunc.
func NewVideoRecorder(path, codec string, width, height int, fps float64) (Recorder, error) {
	r, err := OpenRecorder(path, codec, width, height, fps)
	if err != nil {
		return nil, err
	}
	return r, nil
}

// Write appends frame to the container.
func (r *VideoRecorder) Write(frame gocv.Mat) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return &EncodeError{Op: "write", Path: r.path, Err: ErrRecorderClosed}
	}
	if frame.Cols() != r.size.X || frame.Rows() != r.size.Y {
		return &EncodeError{
			Op:   "write",
			Path: r.path,
			Err:  fmt.Errorf("%w: got %dx%d, want %dx%d", ErrSizeMismatch, frame.Cols(), frame.Rows(), r.size.X, r.size.Y),
		}
	}

	if err := r.writer.Write(frame); err != nil {
		return &EncodeError{Op: "write", Path: r.path, Err: err}
	}
	r.frames++
	return nil
}

// Close finalizes the container. Subsequent calls return nil.
func (r *VideoRecorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true

	if err := r.writer.Close(); err != nil {
		return &EncodeError{Op: "close", Path: r.path, Err: err}
	}
	return nil
}

// Path returns the output file path.
func (r *VideoRecorder) Path() string {
	return r.path
}

// Frames returns how many frames were written.
func (r *VideoRecorder) Frames() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.frames
}

// OutputPath names the output file for a session started at t:
// dir/output_YYYYMMDD_HHMMSS.ext
func OutputPath(dir, ext string, t time.Time) string {
	if ext == "" {
		ext = DefaultExtension
	}
	return filepath.Join(dir, fmt.Sprintf("output_%s.%s", t.Format("20060102_150405"), ext))
}
