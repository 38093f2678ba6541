package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/murmur/internal/models"
	"github.com/desertthunder/murmur/internal/shared"
	"github.com/desertthunder/murmur/internal/tasks"
)

// Source is the read side of the offline queue.
type Source interface {
	Refresh() error
	Status() models.Status
	OfflinePosts() []models.OfflinePost
	QueueItems() []models.QueueItem
	DeadLetters() []models.DeadLetter
}

// Drainer runs one drain of the queue.
type Drainer interface {
	Drain(ctx context.Context, progress chan<- tasks.ProgressUpdate) (*tasks.DrainResult, error)
}

// StatusHandler serves the queue read model. Drainer and Online are optional.
type StatusHandler struct {
	Source  Source
	Drainer Drainer
	Online  func() bool
	Logger  *log.Logger
}

// Routes returns the paths served by the handler.
func (h *StatusHandler) Routes() []string {
	return []string{"/status", "/queue", "/posts", "/dead-letter", "/drain"}
}

// Register adds the handler's routes to r with method filtering.
func (h *StatusHandler) Register(r Router) {
	r.Handle(http.MethodGet, "/status", http.HandlerFunc(h.status))
	r.Handle(http.MethodGet, "/queue", http.HandlerFunc(h.queue))
	r.Handle(http.MethodGet, "/posts", http.HandlerFunc(h.posts))
	r.Handle(http.MethodGet, "/dead-letter", http.HandlerFunc(h.deadLetters))
	r.Handle(http.MethodPost, "/drain", http.HandlerFunc(h.drain))
}

// ServeHTTP dispatches on path when the handler is mounted with [Router.Handler].
func (h *StatusHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	want := http.MethodGet
	if r.URL.Path == "/drain" {
		want = http.MethodPost
	}
	if r.Method != want {
		w.Header().Set("Allow", want)
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	switch r.URL.Path {
	case "/status":
		h.status(w, r)
	case "/queue":
		h.queue(w, r)
	case "/posts":
		h.posts(w, r)
	case "/dead-letter":
		h.deadLetters(w, r)
	case "/drain":
		h.drain(w, r)
	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

func (h *StatusHandler) refresh(w http.ResponseWriter) bool {
	if err := h.Source.Refresh(); err != nil {
		h.logger().Error("refresh failed", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return false
	}
	return true
}

func (h *StatusHandler) status(w http.ResponseWriter, r *http.Request) {
	if !h.refresh(w) {
		return
	}
	s := h.Source.Status()
	if h.Online != nil {
		s.Online = h.Online()
	}
	writeJSON(w, http.StatusOK, s)
}

func (h *StatusHandler) queue(w http.ResponseWriter, r *http.Request) {
	if h.refresh(w) {
		writeJSON(w, http.StatusOK, nonNil(h.Source.QueueItems()))
	}
}

func (h *StatusHandler) posts(w http.ResponseWriter, r *http.Request) {
	if h.refresh(w) {
		writeJSON(w, http.StatusOK, nonNil(h.Source.OfflinePosts()))
	}
}

func (h *StatusHandler) deadLetters(w http.ResponseWriter, r *http.Request) {
	if h.refresh(w) {
		writeJSON(w, http.StatusOK, nonNil(h.Source.DeadLetters()))
	}
}

type drainResponse struct {
	PostsSynced   int    `json:"postsSynced"`
	PostsFailed   int    `json:"postsFailed"`
	ItemsReplayed int    `json:"itemsReplayed"`
	ItemsFailed   int    `json:"itemsFailed"`
	ItemsDead     int    `json:"itemsDead"`
	Stopped       bool   `json:"stopped"`
	StopReason    string `json:"stopReason,omitempty"`
	Error         string `json:"error,omitempty"`
	Summary       string `json:"summary"`
}

func (h *StatusHandler) drain(w http.ResponseWriter, r *http.Request) {
	if h.Drainer == nil {
		writeError(w, http.StatusNotImplemented, "draining is not enabled")
		return
	}

	result, err := h.Drainer.Drain(r.Context(), nil)
	if errors.Is(err, shared.ErrDrainInProgress) {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	if result == nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := drainResponse{
		PostsSynced:   result.PostsSynced,
		PostsFailed:   result.PostsFailed,
		ItemsReplayed: result.ItemsReplayed,
		ItemsFailed:   result.ItemsFailed,
		ItemsDead:     result.ItemsDead,
		Stopped:       result.Stopped,
		StopReason:    result.StopReason,
		Summary:       result.Summary(),
	}
	status := http.StatusOK
	if err != nil {
		resp.Error = err.Error()
		status = http.StatusBadGateway
		if errors.Is(err, shared.ErrStorage) {
			status = http.StatusInternalServerError
		}
	}
	writeJSON(w, status, resp)
}

func (h *StatusHandler) logger() *log.Logger {
	if h.Logger == nil {
		return log.Default()
	}
	return h.Logger
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
