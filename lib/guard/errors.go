package guard

import "errors"

var (
	ErrProbeFailed     = errors.New("could not determine session status")
	ErrAlreadyClosed   = errors.New("session closed before release")
	ErrOpenTransaction = errors.New("session released with an open transaction")
)
