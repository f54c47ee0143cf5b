package guard

// Reason tags why a session was discarded. The zero value means the session was kept.
type Reason string

const (
	ReasonNone            Reason = ""
	ReasonClosed          Reason = "closed"
	ReasonOpenTransaction Reason = "open-transaction"
	ReasonProbeFailed     Reason = "probe-failed"
)

// Reasons lists every discard reason.
var Reasons = [...]Reason{
	ReasonClosed,
	ReasonOpenTransaction,
	ReasonProbeFailed,
}

func (T Reason) Err() error {
	switch T {
	case ReasonNone:
		return nil
	case ReasonClosed:
		return ErrAlreadyClosed
	case ReasonOpenTransaction:
		return ErrOpenTransaction
	default:
		return ErrProbeFailed
	}
}

// Outcome is the metric label for a decision: "reuse" or the discard reason.
func (T Reason) Outcome() string {
	if T == ReasonNone {
		return "reuse"
	}
	return string(T)
}

// Decision is either Reuse or Discard with a reason. Build one with Reuse or Discard.
type Decision struct {
	reason Reason
	status Status
}

func Reuse(status Status) Decision {
	return Decision{
		status: status,
	}
}

// Discard builds a discard decision. An empty reason is treated as ReasonProbeFailed so a
// discard can never be mistaken for a reuse.
func Discard(status Status, reason Reason) Decision {
	if reason == ReasonNone {
		reason = ReasonProbeFailed
	}
	return Decision{
		reason: reason,
		status: status,
	}
}

func (T Decision) IsReuse() bool {
	return T.reason == ReasonNone
}

func (T Decision) Reason() Reason {
	return T.reason
}

// Status is the probed status at the time of the decision.
func (T Decision) Status() Status {
	return T.status
}

func (T Decision) Err() error {
	return T.reason.Err()
}

func (T Decision) String() string {
	if T.IsReuse() {
		return "reuse"
	}
	return "discard(" + string(T.reason) + ")"
}
