// Package tray provides a system tray interface for the staff detection server.
package tray

import (
	"sync"

	"github.com/getlantern/systray"

	"github.com/KhawLiang/Staff-Detection/internal/pipeline"
)

// Tray represents the system tray application.
type Tray struct {
	onStart   func()
	onStop    func()
	onPreview func()
	onQuit    func()
	mu        sync.RWMutex

	state  pipeline.State
	status string

	// Menu items stored for later updates
	menuStart  *systray.MenuItem
	menuStop   *systray.MenuItem
	menuStatus *systray.MenuItem
}

// New creates a new Tray instance in the idle state.
func New() *Tray {
	return &Tray{
		state:  pipeline.Idle,
		status: "No video loaded",
	}
}

// OnStart sets the callback function to be called when Start Detection is clicked.
func (t *Tray) OnStart(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onStart = fn
}

// OnStop sets the callback function to be called when Stop Detection is clicked.
func (t *Tray) OnStop(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onStop = fn
}

// OnPreview sets the callback function to be called when Open Preview is clicked.
func (t *Tray) OnPreview(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onPreview = fn
}

// OnQuit sets the callback function to be called when the quit menu item is clicked.
func (t *Tray) OnQuit(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onQuit = fn
}

// Run starts the system tray application.
// This function blocks until systray.Quit() is called.
func (t *Tray) Run() {
	systray.Run(t.onReady, t.onExit)
}

// onReady is called when the system tray is ready.
// It sets up the menu structure.
func (t *Tray) onReady() {
	systray.SetTitle("Staff")
	systray.SetTooltip("Staff Detection")

	t.mu.Lock()
	t.menuStatus = systray.AddMenuItem(t.status, "Current status")
	t.menuStatus.Disable()
	systray.AddSeparator()

	t.menuStart = systray.AddMenuItem("Start Detection", "Start processing the loaded video")
	t.menuStop = systray.AddMenuItem("Stop Detection", "Stop processing and save the output")
	t.applyLocked()
	t.mu.Unlock()
	systray.AddSeparator()

	menuPreview := systray.AddMenuItem("Open Preview...", "Open the live preview in a browser")
	systray.AddSeparator()

	menuQuit := systray.AddMenuItem("Quit", "Quit Staff Detection")

	// Handle menu item clicks in a separate goroutine
	go func() {
		for {
			select {
			case <-t.menuStart.ClickedCh:
				t.call(func() func() { return t.onStart })
			case <-t.menuStop.ClickedCh:
				t.call(func() func() { return t.onStop })
			case <-menuPreview.ClickedCh:
				t.call(func() func() { return t.onPreview })
			case <-menuQuit.ClickedCh:
				t.handleQuit()
				return
			}
		}
	}()
}

// Quit removes the tray icon and makes Run return. It does not call the OnQuit callback.
func (t *Tray) Quit() {
	systray.Quit()
}

// onExit is called when the system tray is about to exit.
func (t *Tray) onExit() {}

// call runs the callback selected by get outside the lock.
func (t *Tray) call(get func() func()) {
	t.mu.RLock()
	callback := get()
	t.mu.RUnlock()

	if callback != nil {
		callback()
	}
}

// handleQuit handles the quit menu item click.
func (t *Tray) handleQuit() {
	t.call(func() func() { return t.onQuit })
	systray.Quit()
}

// HandleEvent updates the menu from a controller event.
// It can be passed directly to Controller.Subscribe.
func (t *Tray) HandleEvent(ev pipeline.Event) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.state = ev.State
	if msg := pipeline.StatusMessage(ev); msg != "" {
		t.status = msg
	}
	t.applyLocked()
}

// applyLocked pushes the state to the menu items. Callers hold t.mu.
func (t *Tray) applyLocked() {
	if t.menuStatus != nil {
		t.menuStatus.SetTitle(t.status)
	}

	controls := pipeline.ControlsFor(t.state)
	setEnabled(t.menuStart, controls.Start)
	setEnabled(t.menuStop, controls.Stop)
}

func setEnabled(item *systray.MenuItem, enabled bool) {
	if item == nil {
		return
	}
	if enabled {
		item.Enable()
	} else {
		item.Disable()
	}
}

// State returns the last state seen by the tray.
func (t *Tray) State() pipeline.State {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state
}

// Status returns the current status line.
func (t *Tray) Status() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.status
}
