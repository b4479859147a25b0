package httpserver

import (
	"net/http"
	"time"
)

// New builds the API server. Write and idle timeouts stay above the
// router's per-request timeout so the middleware deadline fires first and
// produces a proper JSON error instead of a dropped connection.
func New(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      35 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}
}
