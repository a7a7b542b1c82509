package queue

import "errors"

// Enqueue rejection reasons, also used as metric labels.
var (
	ErrClosed = errors.New("queue closed")
	ErrFull   = errors.New("queue full")
)
