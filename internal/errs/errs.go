// Package errs defines the sentinel error kinds shared across the raweld
// reduction pipeline.
package errs

import "errors"

var (
	// ErrImageNotFound is returned when a requested frame does not exist
	// on disk, or the path is otherwise unreadable.
	ErrImageNotFound = errors.New("image not found")

	// ErrDecode is returned when a frame's binary layout is malformed.
	ErrDecode = errors.New("decode error")

	// ErrCorpusMalformed is returned when a raw corpus directory name or
	// sidecar file cannot be parsed.
	ErrCorpusMalformed = errors.New("raw corpus malformed")

	// ErrCenterNotFound is returned when the center finder has no valid
	// pixels to search over.
	ErrCenterNotFound = errors.New("center not found")

	// ErrNoFramesForDelay is returned when every scan for a time delay
	// failed to load or failed center correction.
	ErrNoFramesForDelay = errors.New("no surviving frames for time delay")

	// ErrStore is returned when the backing processed-dataset store
	// refuses to open or write.
	ErrStore = errors.New("store error")

	// ErrCancelled is returned when a Process run is cancelled before
	// completion.
	ErrCancelled = errors.New("processing cancelled")
)
