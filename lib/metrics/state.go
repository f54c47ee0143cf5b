package metrics

type ConnState int

const (
	ConnStateIdle ConnState = iota
	ConnStateActive
	ConnStateGuarding
	ConnStateClosed

	ConnStateCount
)

var connStateString = [ConnStateCount]string{
	ConnStateIdle:     "idle",
	ConnStateActive:   "active",
	ConnStateGuarding: "guarding",
	ConnStateClosed:   "closed",
}

func (T ConnState) String() string {
	if T < 0 || T >= ConnStateCount {
		return "invalid"
	}
	return connStateString[T]
}
