package experiment

import "errors"

var (
	ErrUnknownDriver = errors.New("unknown driver")
	ErrUnknownMode   = errors.New("unknown mode")
	ErrInvalidConfig = errors.New("invalid config")
)
