package httputil

import (
	"context"
	"errors"
	"net/http"

	"github.com/bissquit/cafe-storefront/internal/pkg/ctxlog"
)

// ErrorMapping defines how a domain error maps to an HTTP response.
type ErrorMapping struct {
	Error   error
	Status  int
	Message string // if empty, uses err.Error()
}

type retryable interface {
	IsRetryable() bool
}

// HandleError maps a domain error to an HTTP response using provided mappings.
// Unmapped errors that report IsRetryable() become 503 with Retry-After; anything
// else is logged and returned as 500.
func HandleError(ctx context.Context, w http.ResponseWriter, err error, mappings []ErrorMapping) {
	for _, m := range mappings {
		if errors.Is(err, m.Error) {
			msg := m.Message
			if msg == "" {
				msg = err.Error()
			}
			Error(w, m.Status, msg)
			return
		}
	}

	var r retryable
	if errors.As(err, &r) && r.IsRetryable() {
		ctxlog.FromContext(ctx).Warn("backend call failed", "error", err)
		w.Header().Set("Retry-After", "1")
		Error(w, http.StatusServiceUnavailable, "service temporarily unavailable, retry later")
		return
	}

	ctxlog.FromContext(ctx).Error("internal error", "error", err)
	Error(w, http.StatusInternalServerError, "internal error")
}
