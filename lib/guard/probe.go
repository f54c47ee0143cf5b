package guard

import (
	"fmt"
)

// Session is the view of a pooled connection the guard needs. Both methods must read local state
// only and return immediately.
type Session interface {
	// TxStatus returns the last ReadyForQuery indicator received from the server, or 0 if none.
	TxStatus() byte
	IsClosed() bool
}

// TransportErrer is implemented by sessions that remember a transport failure.
type TransportErrer interface {
	Err() error
}

// Probe reads the cached transaction status of s. It never sends anything to the server and never
// panics: a closed or broken session, or one whose accessors panic, yields StatusUnknown and an
// error wrapping ErrProbeFailed.
func Probe(s Session) (status Status, err error) {
	defer func() {
		if r := recover(); r != nil {
			status = StatusUnknown
			err = fmt.Errorf("%w: panic: %v", ErrProbeFailed, r)
		}
	}()

	if s == nil {
		return StatusUnknown, fmt.Errorf("%w: nil session", ErrProbeFailed)
	}
	if s.IsClosed() {
		return StatusUnknown, fmt.Errorf("%w: %w", ErrProbeFailed, ErrAlreadyClosed)
	}
	if e, ok := s.(TransportErrer); ok {
		if terr := e.Err(); terr != nil {
			return StatusUnknown, fmt.Errorf("%w: %w", ErrProbeFailed, terr)
		}
	}

	b := s.TxStatus()
	status, ok := ParseTxStatus(b)
	if !ok {
		return StatusUnknown, fmt.Errorf("%w: unexpected transaction status %q", ErrProbeFailed, b)
	}
	return status, nil
}

// isClosed reports s.IsClosed, treating a panic as not closed so the probe result decides.
func isClosed(s Session) (closed bool) {
	defer func() {
		if recover() != nil {
			closed = false
		}
	}()

	if s == nil {
		return false
	}
	return s.IsClosed()
}
