package pool

import "errors"

var (
	ErrClosed = errors.New("pool closed")
)
