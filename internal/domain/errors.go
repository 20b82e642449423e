package domain

import "errors"

var (
	ErrInvalidConfig   = errors.New("client configuration is invalid")
	ErrNoModelSelected = errors.New("no model selected for launch")
	ErrNotConnected    = errors.New("platform agent is not connected")
	ErrUnsupported     = errors.New("client is not supported")
	ErrClosed          = errors.New("closed")
)
