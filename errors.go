package goextract

import "errors"

var (
	// ErrUnsupportedTask is returned when the configured model cannot run
	// the requested task.
	ErrUnsupportedTask = errors.New("goextract: task not supported by this model")

	// ErrUnknownMode is returned for a mode name that is neither built in
	// nor configured.
	ErrUnknownMode = errors.New("goextract: unknown mode")

	// ErrUnknownMethod is returned when a mode names a method that does not
	// exist for its stage.
	ErrUnknownMethod = errors.New("goextract: unknown method")

	// ErrInvalidRequest is returned for malformed requests.
	ErrInvalidRequest = errors.New("goextract: invalid request")

	// ErrNoInput is returned when a request carries neither text nor a file.
	ErrNoInput = errors.New("goextract: no input text or file")

	// ErrExtractionFailed wraps a stage failure.
	ErrExtractionFailed = errors.New("goextract: extraction failed")

	// ErrNoStore is returned by operations that need the sqlite store when
	// the engine runs in memory.
	ErrNoStore = errors.New("goextract: no database configured")

	// ErrInvalidConfig is returned for invalid configuration values.
	ErrInvalidConfig = errors.New("goextract: invalid configuration")
)
