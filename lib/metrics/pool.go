package metrics

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

type Pool struct {
	Conns map[uuid.UUID]Conn
}

func (T *Pool) Clear() {
	clear(T.Conns)
}

// Count returns how many connections are in state.
func (T *Pool) Count(state ConnState) int {
	var n int
	for _, conn := range T.Conns {
		if conn.State == state {
			n++
		}
	}
	return n
}

func (T *Pool) String() string {
	var counts [ConnStateCount]int
	for _, conn := range T.Conns {
		if conn.State >= 0 && conn.State < ConnStateCount {
			counts[conn.State]++
		}
	}

	var b strings.Builder
	for state, count := range counts {
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		_, _ = fmt.Fprintf(&b, "%s=%d", ConnState(state), count)
	}
	return b.String()
}
