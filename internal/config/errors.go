package config

import "errors"

var (
	// ErrMissingConfig means a required setting or credential is absent; the
	// process must not start.
	ErrMissingConfig = errors.New("missing required configuration")
	ErrInvalidConfig = errors.New("invalid configuration")
	ErrLoadConfig    = errors.New("load config failed")
)
