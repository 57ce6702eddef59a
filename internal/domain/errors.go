package domain

import "errors"

var (
	// ErrParse marks a snapshot file that could not be decoded.
	ErrParse = errors.New("snapshot parse error")

	// ErrEmptySnapshot marks an empty or whitespace-only snapshot file.
	ErrEmptySnapshot = errors.New("snapshot file is empty")

	// ErrEmptyRoster is returned when a prune is requested with no roster.
	// An empty roster means "unknown", never "everyone left".
	ErrEmptyRoster = errors.New("roster is empty, refusing to prune")
)
