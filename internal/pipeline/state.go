package pipeline

import (
	"fmt"
	"time"
)

// State is the lifecycle state of a Controller.
type State int32

const (
	// Idle means no video is loaded.
	Idle State = iota
	// Ready means a video is loaded and the output is not yet open.
	Ready
	// Running means frames are being processed.
	Running
	// Stopped means the session ended and its resources are released.
	Stopped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Ready:
		return "ready"
	case Running:
		return "running"
	case Stopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Session end reasons.
const (
	ReasonExhausted = "exhausted"
	ReasonStopped   = "stopped"
	ReasonError     = "error"
)

// Session describes one load-to-unload run over a video.
type Session struct {
	ID            string    `json:"id"`
	SourcePath    string    `json:"source_path"`
	OutputPath    string    `json:"output_path,omitempty"`
	Width         int       `json:"width"`
	Height        int       `json:"height"`
	FPS           float64   `json:"fps"`
	FramesWritten int       `json:"frames_written"`
	FramesSkipped int       `json:"frames_skipped"`
	PresentErrors int       `json:"present_errors"`
	StartedAt     time.Time `json:"started_at,omitzero"`
	EndedAt       time.Time `json:"ended_at,omitzero"`
	EndReason     string    `json:"end_reason,omitempty"`
	Error         string    `json:"error,omitempty"`
	Err           error     `json:"-"`
}

// Duration returns how long the session ran, or zero if it never started or has not ended.
func (s Session) Duration() time.Duration {
	if s.StartedAt.IsZero() || s.EndedAt.IsZero() {
		return 0
	}
	return s.EndedAt.Sub(s.StartedAt)
}

// EventType identifies a controller notification.
type EventType string

const (
	EventLoaded   EventType = "loaded"
	EventStarted  EventType = "started"
	EventSkipped  EventType = "skipped"
	EventEnded    EventType = "ended"
	EventUnloaded EventType = "unloaded"
)

// Event is published to subscribers after every transition and skipped frame.
type Event struct {
	Type    EventType `json:"type"`
	State   State     `json:"state"`
	Session Session   `json:"session"`
	Err     error     `json:"-"`
}

// SessionObserver is told when sessions start and end. The history store implements it.
type SessionObserver interface {
	SessionStarted(s Session) error
	SessionEnded(s Session) error
}
