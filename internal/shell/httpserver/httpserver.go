package httpserver

import (
	"net/http"
	"time"
)

// New builds the shell's HTTP server with the timeouts it always runs with.
func New(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
