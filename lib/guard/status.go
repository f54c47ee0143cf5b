package guard

// Status is the transaction status a server last reported for a session.
type Status int

const (
	StatusIdle Status = iota
	StatusInTransaction
	StatusInFailedTransaction
	StatusUnknown

	StatusCount
)

var statusString = [StatusCount]string{
	StatusIdle:                "idle",
	StatusInTransaction:       "in-transaction",
	StatusInFailedTransaction: "in-failed-transaction",
	StatusUnknown:             "unknown",
}

func (T Status) String() string {
	if T < 0 || T >= StatusCount {
		return statusString[StatusUnknown]
	}
	return statusString[T]
}

// Transaction status indicators carried by ReadyForQuery.
const (
	TxStatusIdle   byte = 'I'
	TxStatusInTx   byte = 'T'
	TxStatusFailed byte = 'E'
)

// ParseTxStatus maps a ReadyForQuery indicator to a Status. A zero byte means the server has not
// reported anything yet, which is the state of a freshly opened session.
func ParseTxStatus(b byte) (Status, bool) {
	switch b {
	case 0, TxStatusIdle:
		return StatusIdle, true
	case TxStatusInTx:
		return StatusInTransaction, true
	case TxStatusFailed:
		return StatusInFailedTransaction, true
	default:
		return StatusUnknown, false
	}
}
