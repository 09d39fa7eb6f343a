package sink

import (
	"fmt"
	"image"
	"sync"

	"github.com/disintegration/imaging"
	"go.uber.org/multierr"
	"gocv.io/x/gocv"
)

// Presenter shows annotated frames to an operator.
type Presenter interface {
	Present(frame gocv.Mat) error
	Close() error
}

// NopPresenter discards frames. Used by headless runs without a window.
type NopPresenter struct{}

// Present discards the frame.
func (NopPresenter) Present(gocv.Mat) error { return nil }

// Close does nothing.
func (NopPresenter) Close() error { return nil }

// WindowPresenter shows frames in an OpenCV highgui window.
// The window must be created and used from the same OS thread.
type WindowPresenter struct {
	window  *gocv.Window
	waitMs  int
	quitKey int
	onQuit  func()
}

// NewWindowPresenter opens a window named title. After every frame it waits waitMs
// milliseconds for a key press and calls onQuit when quitKey is pressed.
func NewWindowPresenter(title string, waitMs int, quitKey rune, onQuit func()) *WindowPresenter {
	if waitMs <= 0 {
		waitMs = 1
	}
	return &WindowPresenter{
		window:  gocv.NewWindow(title),
		waitMs:  waitMs,
		quitKey: int(quitKey),
		onQuit:  onQuit,
	}
}

// Present displays frame and polls the keyboard once.
func (p *WindowPresenter) Present(frame gocv.Mat) error {
	if frame.Empty() {
		return fmt.Errorf("present: empty frame")
	}

	p.window.IMShow(frame)

	key := p.window.WaitKey(p.waitMs)
	if key >= 0 && key&0xFF == p.quitKey && p.onQuit != nil {
		p.onQuit()
	}
	return nil
}

// Close destroys the window.
func (p *WindowPresenter) Close() error {
	return p.window.Close()
}

// ChannelPresenter hands frames to a UI goroutine through a single-slot channel.
// Frames are converted from BGR to RGB and scaled to fit the display region while
// keeping the aspect ratio. When the consumer falls behind, the pending frame is
// replaced by the newest one so the producer never blocks.
type ChannelPresenter struct {
	frames chan image.Image
	width  int
	height int
	mu     sync.Mutex
	closed bool
}

// NewChannelPresenter creates a presenter that fits frames into width x height.
// A zero width or height disables scaling.
func NewChannelPresenter(width, height int) *ChannelPresenter {
	return &ChannelPresenter{
		frames: make(chan image.Image, 1),
		width:  width,
		height: height,
	}
}

// Frames returns the receive side of the handoff channel.
// It is closed when the presenter is closed.
func (p *ChannelPresenter) Frames() <-chan image.Image {
	return p.frames
}

// Present converts frame and offers it to the consumer.
func (p *ChannelPresenter) Present(frame gocv.Mat) error {
	img, err := ToDisplayImage(frame, p.width, p.height)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}

	select {
	case p.frames <- img:
		return nil
	default:
	}

	// Drop the stale frame and retry once
	select {
	case <-p.frames:
	default:
	}
	select {
	case p.frames <- img:
	default:
	}
	return nil
}

// Drain discards a frame the consumer has not received yet.
func (p *ChannelPresenter) Drain() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}
	select {
	case <-p.frames:
	default:
	}
}

// Close closes the handoff channel.
func (p *ChannelPresenter) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.closed {
		p.closed = true
		close(p.frames)
	}
	return nil
}

// ToDisplayImage converts a BGR frame to an RGB image scaled to fit width x height.
func ToDisplayImage(frame gocv.Mat, width, height int) (image.Image, error) {
	if frame.Empty() {
		return nil, fmt.Errorf("present: empty frame")
	}

	img, err := frame.ToImage()
	if err != nil {
		return nil, fmt.Errorf("present: convert frame: %w", err)
	}

	if width > 0 && height > 0 {
		return imaging.Fit(img, width, height, imaging.Linear), nil
	}
	return img, nil
}

// MultiPresenter forwards frames to several presenters.
type MultiPresenter []Presenter

// Present delivers frame to every presenter, even when some fail.
func (m MultiPresenter) Present(frame gocv.Mat) error {
	var err error
	for _, p := range m {
		err = multierr.Append(err, p.Present(frame))
	}
	return err
}

// Close closes every presenter.
func (m MultiPresenter) Close() error {
	var err error
	for _, p := range m {
		err = multierr.Append(err, p.Close())
	}
	return err
}
