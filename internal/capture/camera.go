package capture

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"gocv.io/x/gocv"
)

// CameraPrefix marks a source path naming a capture device, as in "camera:0".
const CameraPrefix = "camera:"

// Resolution requested from capture devices.
const (
	DefaultCameraWidth  = 640
	DefaultCameraHeight = 480
)

// ErrCameraRead is returned when a device stops delivering frames.
var ErrCameraRead = errors.New("failed to read frame from camera")

// CameraPath returns the source path selecting device deviceID.
func CameraPath(deviceID int) string {
	return CameraPrefix + strconv.Itoa(deviceID)
}

// ParseCameraPath reports whether path names a capture device and which one.
func ParseCameraPath(path string) (int, bool) {
	rest, ok := strings.CutPrefix(path, CameraPrefix)
	if !ok {
		return 0, false
	}
	id, err := strconv.Atoi(rest)
	if err != nil || id < 0 {
		return 0, false
	}
	return id, true
}

// CameraSource reads frames from a live capture device. It never reports
// ErrEndOfStream; a session on a camera runs until it is stopped.
type CameraSource struct {
	deviceID int
	capture  *gocv.VideoCapture
	width    int
	height   int
	fps      float64
	mu       sync.Mutex
	closed   bool
}

// OpenCamera opens device deviceID at the default resolution.
func OpenCamera(deviceID int) (*CameraSource, error) {
	path := CameraPath(deviceID)

	capture, err := gocv.OpenVideoCapture(deviceID)
	if err != nil {
		return nil, &OpenError{Path: path, Err: fmt.Errorf("%w: %v", ErrUnreadable, err)}
	}
	if !capture.IsOpened() {
		capture.Close()
		return nil, &OpenError{Path: path, Err: ErrNotFound}
	}

	// Set resolution for performance
	capture.Set(gocv.VideoCaptureFrameWidth, DefaultCameraWidth)
	capture.Set(gocv.VideoCaptureFrameHeight, DefaultCameraHeight)

	width := int(capture.Get(gocv.VideoCaptureFrameWidth))
	height := int(capture.Get(gocv.VideoCaptureFrameHeight))
	if width <= 0 || height <= 0 {
		capture.Close()
		return nil, &OpenError{Path: path, Err: fmt.Errorf("%w: device reports no frame size", ErrUnreadable)}
	}

	return &CameraSource{
		deviceID: deviceID,
		capture:  capture,
		width:    width,
		height:   height,
		fps:      capture.Get(gocv.VideoCaptureFPS),
	}, nil
}

// Read grabs the next frame from the device.
// The caller is responsible for closing the returned Mat.
func (c *CameraSource) Read() (*gocv.Mat, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrSourceClosed
	}

	mat := gocv.NewMat()
	if ok := c.capture.Read(&mat); !ok || mat.Empty() {
		mat.Close()
		return nil, ErrCameraRead
	}

	return &mat, nil
}

// Dimensions returns the frame size the device delivers and the frame rate it
// reports, which is zero for devices that do not report one.
func (c *CameraSource) Dimensions() (int, int, float64) {
	return c.width, c.height, c.fps
}

// Close releases the device.
func (c *CameraSource) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	return c.capture.Close()
}

// OpenAny opens a capture device for paths like "camera:0" and a video file
// for anything else.
func OpenAny(path string) (Source, error) {
	if id, ok := ParseCameraPath(path); ok {
		return OpenCamera(id)
	}
	return Open(path)
}
