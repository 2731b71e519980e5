package notifications

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/bissquit/cafe-storefront/internal/pkg/ctxlog"
	"github.com/bissquit/cafe-storefront/internal/pkg/httputil"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

const (
	streamBuffer    = 16
	streamHeartbeat = 25 * time.Second
)

var errorMappings = []httputil.ErrorMapping{
	{Error: ErrNotificationNotFound, Status: http.StatusNotFound, Message: "notification not found"},
	{Error: ErrPerItemReadUnsupported, Status: http.StatusConflict, Message: "per-item read state is not supported, use read-all"},
	{Error: ErrClosed, Status: http.StatusServiceUnavailable, Message: "notification feed is shutting down"},
}

// Handler handles HTTP requests for the notification feed.
type Handler struct {
	feed *Aggregator
}

// NewHandler creates a new notifications handler.
func NewHandler(feed *Aggregator) *Handler {
	return &Handler{feed: feed}
}

// RegisterRoutes registers feed routes (require auth).
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/me/notifications", h.GetFeed)
	r.Post("/me/notifications/{id}/read", h.MarkAsRead)
	r.Post("/me/notifications/read-all", h.MarkAllAsRead)
}

// RegisterStreamRoutes registers the long-lived event stream (require auth, no request timeout).
func (h *Handler) RegisterStreamRoutes(r chi.Router) {
	r.Get("/me/notifications/stream", h.Stream)
}

// GetFeed handles GET /me/notifications.
func (h *Handler) GetFeed(w http.ResponseWriter, r *http.Request) {
	userID := httputil.GetUserID(r.Context())

	feed, err := h.feed.Snapshot(r.Context(), userID)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, feed)
}

// MarkAsRead handles POST /me/notifications/{id}/read.
func (h *Handler) MarkAsRead(w http.ResponseWriter, r *http.Request) {
	userID := httputil.GetUserID(r.Context())
	id := chi.URLParam(r, "id")

	if _, err := uuid.Parse(id); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid notification id")
		return
	}

	if err := h.feed.MarkAsRead(r.Context(), userID, id); err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	h.GetFeed(w, r)
}

// MarkAllAsRead handles POST /me/notifications/read-all.
func (h *Handler) MarkAllAsRead(w http.ResponseWriter, r *http.Request) {
	userID := httputil.GetUserID(r.Context())

	if err := h.feed.MarkAllAsRead(r.Context(), userID); err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	h.GetFeed(w, r)
}

// Stream handles GET /me/notifications/stream as server-sent events.
// The watch is released when the client goes away.
func (h *Handler) Stream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		httputil.Error(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	events, cancel := h.feed.Watch(streamBuffer)
	defer cancel()

	logger := ctxlog.FromContext(r.Context())

	// the server write timeout would otherwise cut the stream
	if err := http.NewResponseController(w).SetWriteDeadline(time.Time{}); err != nil && !errors.Is(err, http.ErrNotSupported) {
		logger.Warn("failed to clear stream write deadline", "error", err)
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	heartbeat := time.NewTicker(streamHeartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case item, ok := <-events:
			if !ok {
				return
			}
			data, err := json.Marshal(item)
			if err != nil {
				logger.Error("failed to encode notification event", "error", err)
				continue
			}
			if _, err := fmt.Fprintf(w, "id: %s\nevent: notification\ndata: %s\n\n", item.Key(), data); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
