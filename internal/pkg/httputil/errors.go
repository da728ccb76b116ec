package httputil

import (
	"context"
	"errors"
	"net/http"

	"github.com/bissquit/alert-relay/internal/pkg/ctxlog"
)

// ErrorMapping ties a sentinel error to an HTTP status. An empty Message
// exposes err.Error() to the caller.
type ErrorMapping struct {
	Error   error
	Status  int
	Message string
}

func match(err error, mappings []ErrorMapping) (ErrorMapping, bool) {
	for _, m := range mappings {
		if errors.Is(err, m.Error) {
			return m, true
		}
	}
	return ErrorMapping{}, false
}

// StatusFor returns the status mapped to err, or 500.
func StatusFor(err error, mappings []ErrorMapping) int {
	if m, ok := match(err, mappings); ok {
		return m.Status
	}
	return http.StatusInternalServerError
}

// HandleError writes the error response mapped to err. Unmapped errors are
// logged and hidden behind a generic 500.
func HandleError(ctx context.Context, w http.ResponseWriter, err error, mappings []ErrorMapping) {
	m, ok := match(err, mappings)
	if !ok {
		ctxlog.FromContext(ctx).Error("internal error", "error", err)
		Error(w, http.StatusInternalServerError, "internal error")
		return
	}

	msg := m.Message
	if msg == "" {
		msg = err.Error()
	}
	Error(w, m.Status, msg)
}
