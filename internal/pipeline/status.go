package pipeline

import "fmt"

// Controls tells a front-end which operator actions are available.
type Controls struct {
	Load  bool
	Start bool
	Stop  bool
}

// ControlsFor returns the actions valid in state s. Loading is offered in Stopped
// because front-ends unload the finished session first.
func ControlsFor(s State) Controls {
	switch s {
	case Idle:
		return Controls{Load: true}
	case Ready:
		return Controls{Start: true}
	case Running:
		return Controls{Stop: true}
	case Stopped:
		return Controls{Load: true}
	default:
		return Controls{}
	}
}

// StatusMessage returns the operator status line for an event.
func StatusMessage(ev Event) string {
	switch ev.Type {
	case EventLoaded:
		return fmt.Sprintf("Video loaded: %s", ev.Session.SourcePath)
	case EventStarted:
		return "Detection started..."
	case EventSkipped:
		return fmt.Sprintf("Detection failed on a frame, continuing (%d skipped)", ev.Session.FramesSkipped)
	case EventEnded:
		switch ev.Session.EndReason {
		case ReasonExhausted:
			return fmt.Sprintf("Video processing complete. Output video saved successfully to %s", ev.Session.OutputPath)
		case ReasonStopped:
			return "Detection stopped."
		default:
			return fmt.Sprintf("Detection failed: %s", ev.Session.Error)
		}
	case EventUnloaded:
		return "No video loaded"
	default:
		return ""
	}
}
