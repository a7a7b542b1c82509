package dispatch

import "errors"

// Sentinel kinds for dispatch errors.
var (
	ErrClosed    = errors.New("dispatcher closed")
	ErrNoBrokers = errors.New("no kafka brokers configured")
	ErrNoTopic   = errors.New("no kafka topic configured")
)
