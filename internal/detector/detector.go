// Package detector provides object detection backends and the best-detection selection policy.
package detector

import (
	"errors"
	"fmt"
	"image"

	"gocv.io/x/gocv"
)

// Backend names accepted by New.
const (
	BackendDNN     = "dnn"
	BackendProcess = "process"
	BackendHTTP    = "http"
	BackendMock    = "mock"
)

// ErrUnknownBackend is returned by New for an unsupported backend name.
var ErrUnknownBackend = errors.New("unknown detector backend")

// Detection is one candidate object found in a frame.
type Detection struct {
	// Box is the bounding box in frame pixels: Min is (x1, y1), Max is (x2, y2).
	Box        image.Rectangle `json:"box"`
	Confidence float64         `json:"confidence"`
	ClassID    int             `json:"class_id"`
	ClassName  string          `json:"class_name"`
}

// Detector defines the interface for object detection implementations.
type Detector interface {
	// Detect runs inference on a single frame and blocks until the result is complete.
	// Returns an empty slice if nothing is detected. No ordering is guaranteed.
	Detect(frame gocv.Mat) ([]Detection, error)

	// Close releases any resources held by the detector.
	Close() error
}

// Config holds configuration options for the detection backends.
type Config struct {
	// Backend selects the implementation: dnn, process, http or mock.
	Backend string `yaml:"backend"`

	// Model is the network file for the dnn backend (ONNX export of the fine-tuned
	// model) or the weights passed to the helper script for the process backend.
	Model string `yaml:"model"`

	// Names is a text file with one class name per line.
	Names string `yaml:"names"`

	// Confidence is the minimum score a detection needs to be reported (0.0-1.0).
	Confidence float64 `yaml:"confidence"`

	// NMS is the IoU threshold used for non-maximum suppression.
	NMS float64 `yaml:"nms"`

	// InputSize is the square network input size in pixels.
	InputSize int `yaml:"input_size"`

	// Script and Python configure the process backend.
	Script string `yaml:"script"`
	Python string `yaml:"python"`

	// Endpoint and TimeoutMs configure the http backend.
	Endpoint  string `yaml:"endpoint"`
	TimeoutMs int    `yaml:"timeout_ms"`
}

// DefaultConfig returns a Config with sensible default values.
func DefaultConfig() Config {
	return Config{
		Backend:    BackendDNN,
		Model:      "staff_detection/train2/weights/best.onnx",
		Confidence: 0.25,
		NMS:        0.45,
		InputSize:  640,
		Script:     "scripts/yolo_service.py",
		Endpoint:   "http://localhost:8001/detect",
		TimeoutMs:  5000,
	}
}

// New creates the detector selected by cfg.Backend.
func New(cfg Config) (Detector, error) {
	switch cfg.Backend {
	case BackendDNN, "":
		return NewDNNDetector(cfg)
	case BackendProcess:
		return NewProcessDetector(cfg)
	case BackendHTTP:
		return NewHTTPDetector(cfg)
	case BackendMock:
		return NewMockDetector(), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, cfg.Backend)
	}
}

// xyxy builds a Detection box from corner coordinates.
func xyxy(x1, y1, x2, y2 float64) image.Rectangle {
	return image.Rect(int(x1), int(y1), int(x2), int(y2))
}
