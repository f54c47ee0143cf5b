package guard

// Decide maps a probed status to a decision. Closed always wins, and anything other than a known
// idle session is discarded.
func Decide(status Status, closed bool) Decision {
	if closed {
		return Discard(status, ReasonClosed)
	}

	switch status {
	case StatusIdle:
		return Reuse(status)
	case StatusInTransaction, StatusInFailedTransaction:
		return Discard(status, ReasonOpenTransaction)
	default:
		return Discard(status, ReasonProbeFailed)
	}
}
