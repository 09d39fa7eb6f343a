// Package ui provides the desktop window for loading a video and running detection on it.
package ui

import (
	"errors"
	"fmt"
	"image"
	"log"
	"sync"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/canvas"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/dialog"
	"fyne.io/fyne/v2/storage"
	"fyne.io/fyne/v2/widget"
	"gocv.io/x/gocv"

	"github.com/KhawLiang/Staff-Detection/internal/capture"
	"github.com/KhawLiang/Staff-Detection/internal/pipeline"
	"github.com/KhawLiang/Staff-Detection/internal/sink"
	"github.com/KhawLiang/Staff-Detection/internal/store"
)

// VideoExtensions are offered by the file dialog.
var VideoExtensions = []string{".mp4", ".avi", ".mov", ".mkv"}

// Config holds the collaborators of the window.
type Config struct {
	Title      string
	Controller *pipeline.Controller
	Scheduler  *pipeline.Scheduler
	// Presenter must be the controller's presenter so frames reach the preview.
	Presenter *sink.ChannelPresenter
	// Settings remembers the last loaded video. Optional.
	Settings *store.SettingsRepository
	// PreviewSize is the display region frames are fitted into.
	PreviewSize image.Point
	// OpenPreview returns the first frame of a video. Defaults to capture.Preview.
	OpenPreview func(path string) (*gocv.Mat, error)
}

// Window is the detection window: a preview, three buttons and a status bar.
type Window struct {
	config Config
	window fyne.Window

	preview     *canvas.Image
	noVideo     *widget.Label
	loadButton  *widget.Button
	startButton *widget.Button
	stopButton  *widget.Button
	statusLabel *widget.Label

	// updates carries first-frame previews and clears to consumeFrames, the
	// only goroutine that writes the preview.
	updates  chan image.Image
	consumed chan struct{}
	mu       sync.Mutex

	closeOnce sync.Once
	frames    sync.WaitGroup
}

// New builds the window on app. Call ShowAndRun to display it.
func New(app fyne.App, config Config) *Window {
	if config.Title == "" {
		config.Title = "Staff Detection"
	}
	if config.PreviewSize == (image.Point{}) {
		config.PreviewSize = image.Pt(640, 480)
	}
	if config.OpenPreview == nil {
		config.OpenPreview = capture.Preview
	}

	w := &Window{
		config:   config,
		window:   app.NewWindow(config.Title),
		updates:  make(chan image.Image),
		consumed: make(chan struct{}),
	}
	w.initUI()

	config.Controller.Subscribe(w.handleEvent)
	w.applyControls(config.Controller.State())

	w.frames.Add(1)
	go w.consumeFrames()

	w.window.SetOnClosed(w.shutdown)
	return w
}

func (w *Window) initUI() {
	w.preview = canvas.NewImageFromImage(nil)
	w.preview.FillMode = canvas.ImageFillContain
	w.preview.ScaleMode = canvas.ImageScaleFastest
	w.preview.SetMinSize(fyne.NewSize(float32(w.config.PreviewSize.X), float32(w.config.PreviewSize.Y)))

	w.noVideo = widget.NewLabel("No video loaded")
	w.noVideo.Alignment = fyne.TextAlignCenter

	w.loadButton = widget.NewButton("Load Video", w.showOpenDialog)
	w.startButton = widget.NewButton("Start Detection", w.start)
	w.stopButton = widget.NewButton("Stop Detection", w.stop)
	w.statusLabel = widget.NewLabel("Ready")

	buttons := container.NewGridWithColumns(3, w.loadButton, w.startButton, w.stopButton)
	content := container.NewBorder(
		nil,
		container.NewVBox(buttons, widget.NewSeparator(), w.statusLabel),
		nil, nil,
		container.NewStack(w.preview, w.noVideo),
	)

	w.window.SetContent(content)
}

// ShowAndRun displays the window and runs the application loop.
func (w *Window) ShowAndRun() {
	w.window.ShowAndRun()
}

// Window returns the underlying fyne window.
func (w *Window) Window() fyne.Window {
	return w.window
}

// PreviewImage returns the image shown in the preview, nil when empty.
func (w *Window) PreviewImage() image.Image {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.preview.Image
}

// Status returns the status bar text.
func (w *Window) Status() string {
	return w.statusLabel.Text
}

func (w *Window) showOpenDialog() {
	d := dialog.NewFileOpen(func(reader fyne.URIReadCloser, err error) {
		if err != nil {
			dialog.ShowError(err, w.window)
			return
		}
		if reader == nil {
			return
		}
		path := reader.URI().Path()
		reader.Close()
		w.Load(path)
	}, w.window)
	d.SetFilter(storage.NewExtensionFileFilter(VideoExtensions))
	d.Show()
}

// Load loads path into the controller and shows its first frame.
// A finished session is unloaded first.
func (w *Window) Load(path string) {
	c := w.config.Controller
	if c.State() == pipeline.Stopped {
		if err := c.Unload(); err != nil {
			w.setStatus(fmt.Sprintf("Failed to release the previous video: %v", err))
			return
		}
	}

	if err := c.Load(path); err != nil {
		w.setStatus(fmt.Sprintf("Failed to load video: %v", err))
		return
	}

	if w.config.Settings != nil {
		if err := w.config.Settings.Set(store.SettingLastVideo, path); err != nil {
			log.Printf("Failed to remember last video: %v", err)
		}
	}

	// Frames left over from the previous session must not replace the new preview.
	w.config.Presenter.Drain()
	w.showFirstFrame(path)
}

func (w *Window) showFirstFrame(path string) {
	frame, err := w.config.OpenPreview(path)
	if err != nil {
		log.Printf("No preview for %s: %v", path, err)
		return
	}
	defer frame.Close()

	img, err := sink.ToDisplayImage(*frame, w.config.PreviewSize.X, w.config.PreviewSize.Y)
	if err != nil {
		log.Printf("No preview for %s: %v", path, err)
		return
	}
	w.setPreview(img)
}

func (w *Window) start() {
	if err := w.config.Scheduler.Start(); err != nil {
		w.setStatus(fmt.Sprintf("Failed to start detection: %v", err))
	}
}

func (w *Window) stop() {
	if err := w.config.Scheduler.Stop(); err != nil {
		w.setStatus(fmt.Sprintf("Failed to stop detection: %v", err))
	}
}

// handleEvent runs on the goroutine that changed the controller.
func (w *Window) handleEvent(ev pipeline.Event) {
	if msg := pipeline.StatusMessage(ev); msg != "" {
		w.setStatus(msg)
	}
	w.applyControls(ev.State)

	if ev.Type == pipeline.EventUnloaded {
		w.setPreview(nil)
	}
}

func (w *Window) applyControls(s pipeline.State) {
	controls := pipeline.ControlsFor(s)
	setEnabled(w.loadButton, controls.Load)
	setEnabled(w.startButton, controls.Start)
	setEnabled(w.stopButton, controls.Stop)
}

func setEnabled(b *widget.Button, enabled bool) {
	if enabled {
		b.Enable()
	} else {
		b.Disable()
	}
}

func (w *Window) setStatus(msg string) {
	w.statusLabel.SetText(msg)
}

// setPreview hands img to consumeFrames. A nil image clears the preview.
func (w *Window) setPreview(img image.Image) {
	select {
	case w.updates <- img:
	case <-w.consumed:
	}
}

// consumeFrames shows presenter frames and preview updates until the presenter is closed.
func (w *Window) consumeFrames() {
	defer w.frames.Done()
	defer close(w.consumed)

	frames := w.config.Presenter.Frames()
	for {
		select {
		case img, ok := <-frames:
			if !ok {
				return
			}
			w.display(img)
		case img := <-w.updates:
			w.display(img)
		}
	}
}

func (w *Window) display(img image.Image) {
	w.mu.Lock()
	w.preview.Image = img
	w.mu.Unlock()
	w.preview.Refresh()

	if img == nil {
		w.noVideo.Show()
	} else {
		w.noVideo.Hide()
	}
}

// shutdown stops any running session and releases the controller.
func (w *Window) shutdown() {
	w.closeOnce.Do(func() {
		if err := w.config.Scheduler.Stop(); err != nil && !errors.Is(err, pipeline.ErrInvalidState) {
			log.Printf("Error stopping detection: %v", err)
		}
		if err := w.config.Controller.Close(); err != nil {
			log.Printf("Error releasing video: %v", err)
		}
		w.config.Presenter.Close()
		w.frames.Wait()
	})
}

// Close shuts the window down as if the operator closed it.
func (w *Window) Close() {
	w.shutdown()
}
