package recovery

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/pion/logging"
)

// RecoveryMiddleware recovers from panics and logs them
func RecoveryMiddleware(logger logging.LeveledLogger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				// Log the panic with full stack trace
				logger.Errorf("PANIC: %v\nStack trace:\n%s", err, debug.Stack())

				// Send error response if headers haven't been written
				if !isHeaderWritten(w) {
					http.Error(w, fmt.Sprintf("Internal server error: %v", err), http.StatusInternalServerError)
				}
			}
		}()

		next.ServeHTTP(w, r)
	})
}

// isHeaderWritten approximates whether response headers have been sent
func isHeaderWritten(w http.ResponseWriter) bool {
	// Only looks at the header map: a set Content-Type or Content-Length is
	// taken as a sign that a response was started. It cannot tell whether
	// WriteHeader was actually called.
	return w.Header().Get("Content-Type") != "" || w.Header().Get("Content-Length") != ""
}

// SafeCloser wraps a close operation to prevent panics
func SafeCloser(logger logging.LeveledLogger, fn func() error, name string) {
	defer func() {
		if err := recover(); err != nil {
			logger.Errorf("PANIC during %s close: %v", name, err)
		}
	}()

	if err := fn(); err != nil {
		logger.Errorf("Error closing %s: %v", name, err)
	}
}
