package lumahost

import (
	"fmt"
	"os"
)

// ErrorHandler receives non-fatal runtime errors raised outside the audio
// path. The audio callback never reports through this interface; its
// failures are converted to silent drops.
type ErrorHandler interface {
	HandleError(error)
}

// DefaultErrorHandler writes one short line per error to stderr.
type DefaultErrorHandler struct{}

// HandleError implements ErrorHandler.
func (DefaultErrorHandler) HandleError(err error) {
	fmt.Fprintf(os.Stderr, "lumahost: %v\n", err)
}

// LoggingErrorHandler forwards errors to a logger func and optionally to
// an underlying handler.
type LoggingErrorHandler struct {
	underlying ErrorHandler
	logger     func(error)
}

// NewLoggingErrorHandler creates a new logging error handler.
func NewLoggingErrorHandler(underlying ErrorHandler, logger func(error)) *LoggingErrorHandler {
	return &LoggingErrorHandler{underlying: underlying, logger: logger}
}

// HandleError implements ErrorHandler.
func (h *LoggingErrorHandler) HandleError(err error) {
	if h.logger != nil {
		h.logger(err)
	}
	if h.underlying != nil {
		h.underlying.HandleError(err)
	}
}

// PanicErrorHandler panics on any error. Useful in tests where a reported
// error means the test itself is broken.
type PanicErrorHandler struct{}

// HandleError implements ErrorHandler.
func (PanicErrorHandler) HandleError(err error) {
	panic(fmt.Sprintf("host error: %v", err))
}
