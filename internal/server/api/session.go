package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/KhawLiang/Staff-Detection/internal/capture"
	"github.com/KhawLiang/Staff-Detection/internal/pipeline"
	"github.com/KhawLiang/Staff-Detection/internal/store"
)

// Runner starts and stops the processing of a loaded video.
// *pipeline.Scheduler implements it.
type Runner interface {
	Start() error
	Stop() error
}

// SessionHandler exposes the controller's load, start, stop and unload operations.
type SessionHandler struct {
	controller *pipeline.Controller
	runner     Runner
	settings   *store.SettingsRepository
}

// NewSessionHandler creates a SessionHandler. settings may be nil.
func NewSessionHandler(c *pipeline.Controller, runner Runner, settings *store.SettingsRepository) *SessionHandler {
	return &SessionHandler{
		controller: c,
		runner:     runner,
		settings:   settings,
	}
}

type loadRequest struct {
	Path string `json:"path"`
}

type sessionResponse struct {
	State     pipeline.State    `json:"state"`
	Session   *pipeline.Session `json:"session,omitempty"`
	LastVideo string            `json:"last_video,omitempty"`
}

// ServeHTTP routes /api/session and /api/session/{action}.
func (h *SessionHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	action := strings.TrimPrefix(r.URL.Path, "/api/session")
	action = strings.TrimPrefix(action, "/")

	if action == "" {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		writeJSON(w, http.StatusOK, h.snapshot())
		return
	}

	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var err error
	switch action {
	case "load":
		err = h.load(r)
	case "start":
		err = h.runner.Start()
	case "stop":
		err = h.runner.Stop()
	case "unload":
		err = h.controller.Unload()
	default:
		writeError(w, http.StatusNotFound, "Unknown action")
		return
	}

	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, h.snapshot())
}

// load handles POST /api/session/load. A finished session is unloaded first.
func (h *SessionHandler) load(r *http.Request) error {
	var req loadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return errBadRequest
	}
	if req.Path == "" {
		return errPathRequired
	}

	if h.controller.State() == pipeline.Stopped {
		if err := h.controller.Unload(); err != nil {
			return err
		}
	}

	if err := h.controller.Load(req.Path); err != nil {
		return err
	}

	if h.settings != nil {
		if err := h.settings.Set(store.SettingLastVideo, req.Path); err != nil {
			log.Printf("Failed to remember last video: %v", err)
		}
	}
	return nil
}

func (h *SessionHandler) snapshot() sessionResponse {
	resp := sessionResponse{State: h.controller.State()}
	if s, ok := h.controller.Session(); ok {
		resp.Session = &s
	}
	if h.settings != nil {
		if v, err := h.settings.Get(store.SettingLastVideo); err == nil {
			resp.LastVideo = v
		}
	}
	return resp
}

var (
	errBadRequest   = errors.New("invalid JSON")
	errPathRequired = errors.New("path is required")
)

// statusFor maps controller errors to HTTP status codes. Encoder failures and
// anything unexpected are 500.
func statusFor(err error) int {
	switch {
	case errors.Is(err, errBadRequest), errors.Is(err, errPathRequired):
		return http.StatusBadRequest
	case errors.Is(err, pipeline.ErrInvalidState):
		return http.StatusConflict
	case errors.Is(err, capture.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, capture.ErrUnreadable):
		return http.StatusUnprocessableEntity
	case errors.Is(err, pipeline.ErrDetectorUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
