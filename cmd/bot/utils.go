package main

import (
	"errors"
	"io"
	"log"
	"net/http"
)

// newComponentLogger adapts a writer (typically a logrus level writer)
// into the stdlib logger the engine components take. Timestamps are
// omitted; the structured logger adds its own.
func newComponentLogger(w io.Writer) *log.Logger {
	return log.New(w, "", 0)
}

// isServerClosed reports the normal ListenAndServe return after a
// graceful Shutdown.
func isServerClosed(err error) bool {
	return errors.Is(err, http.ErrServerClosed)
}
