package pgwire

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgproto3"
)

const (
	terminateTimeout = time.Second
	cancelTimeout    = 10 * time.Second
)

// Conn is a frontend session speaking the simple query protocol. It remembers the transaction
// status from the most recent ReadyForQuery so callers can inspect it without a round trip.
type Conn struct {
	conn     net.Conn
	frontend *pgproto3.Frontend
	// dialer opens the side connection for cancel requests
	dialer *Dialer

	processID  uint32
	secretKey  uint32
	parameters map[string]string

	txStatus atomic.Uint32
	closed   atomic.Bool

	err   error
	errMu sync.Mutex

	cancels sync.WaitGroup

	// mu serializes use of the frontend
	mu sync.Mutex
}

func NewConn(conn net.Conn) *Conn {
	return &Conn{
		conn:     conn,
		frontend: pgproto3.NewFrontend(conn, conn),
	}
}

// TxStatus returns the last ReadyForQuery indicator, or 0 before the first one arrives.
func (T *Conn) TxStatus() byte {
	return byte(T.txStatus.Load())
}

func (T *Conn) IsClosed() bool {
	return T.closed.Load()
}

// Err returns the first transport error seen on the connection. Once set, the connection is
// unusable.
func (T *Conn) Err() error {
	T.errMu.Lock()
	defer T.errMu.Unlock()

	return T.err
}

// fail records err as the connection's transport error. When ctx interrupted the operation, the
// query may still be running on the server, so a cancel request is sent for it in the background.
func (T *Conn) fail(ctx context.Context, err error) error {
	if deadline, ok := ctx.Deadline(); ok && errors.Is(err, os.ErrDeadlineExceeded) && !time.Now().Before(deadline) {
		// the socket deadline is ctx's deadline, so ctx is about to be done
		<-ctx.Done()
	}
	ctxErr := ctx.Err()
	if ctxErr != nil && !errors.Is(err, ctxErr) {
		err = fmt.Errorf("%w: %w", ctxErr, err)
	}

	T.errMu.Lock()
	defer T.errMu.Unlock()

	if T.err != nil {
		return err
	}
	T.err = err

	if ctxErr != nil {
		T.cancelAsync()
	}
	return err
}

func (T *Conn) cancelAsync() {
	if T.dialer == nil || T.processID == 0 {
		return
	}

	T.cancels.Add(1)
	go func() {
		defer T.cancels.Done()

		ctx, cancel := context.WithTimeout(context.Background(), cancelTimeout)
		defer cancel()
		_ = T.CancelRequest(ctx)
	}()
}

// CancelRequest asks the server to cancel whatever this session is running. The request travels
// on a new connection and the server does not report whether anything was canceled.
func (T *Conn) CancelRequest(ctx context.Context) error {
	if T.dialer == nil || T.processID == 0 {
		return ErrNoBackendKey
	}
	return T.dialer.Cancel(ctx, T.processID, T.secretKey)
}

func (T *Conn) ProcessID() uint32 {
	return T.processID
}

func (T *Conn) SecretKey() uint32 {
	return T.secretKey
}

// Parameters returns the ParameterStatus values reported during startup.
func (T *Conn) Parameters() map[string]string {
	return T.parameters
}

func (T *Conn) LocalAddr() net.Addr {
	return T.conn.LocalAddr()
}

func (T *Conn) RemoteAddr() net.Addr {
	return T.conn.RemoteAddr()
}

// watch applies ctx to the socket and returns a func that clears it again. Any deadline left on
// the socket is replaced, including a zero one for contexts without a deadline.
func (T *Conn) watch(ctx context.Context) func() {
	deadline, _ := ctx.Deadline()
	_ = T.conn.SetDeadline(deadline)

	if ctx.Done() == nil {
		return func() {}
	}

	fired := make(chan struct{})
	stop := context.AfterFunc(ctx, func() {
		defer close(fired)
		_ = T.conn.SetDeadline(time.Now())
	})
	return func() {
		if !stop() {
			// the callback is running or done, wait so its deadline is not left behind
			<-fired
		}
		_ = T.conn.SetDeadline(time.Time{})
	}
}

func (T *Conn) usable() error {
	if T.IsClosed() {
		return ErrClosed
	}
	if err := T.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrBroken, err)
	}
	return nil
}

func (T *Conn) receive(ctx context.Context) (pgproto3.BackendMessage, error) {
	msg, err := T.frontend.Receive()
	if err != nil {
		return nil, T.fail(ctx, err)
	}
	return msg, nil
}

func (T *Conn) send(ctx context.Context, msgs ...pgproto3.FrontendMessage) error {
	for _, msg := range msgs {
		T.frontend.Send(msg)
	}
	if err := T.frontend.Flush(); err != nil {
		return T.fail(ctx, err)
	}
	return nil
}

// query runs sql with the simple query protocol and reads until ReadyForQuery. Server errors are
// returned as *pgconn.PgError and leave the connection usable.
func (T *Conn) query(ctx context.Context, sql string, row func(*pgproto3.DataRow)) error {
	T.mu.Lock()
	defer T.mu.Unlock()

	if err := T.usable(); err != nil {
		return err
	}

	defer T.watch(ctx)()

	if err := T.send(ctx, &pgproto3.Query{String: sql}); err != nil {
		return err
	}

	var pgErr error
	for {
		msg, err := T.receive(ctx)
		if err != nil {
			return err
		}

		switch msg := msg.(type) {
		case *pgproto3.DataRow:
			if row != nil {
				row(msg)
			}
		case *pgproto3.ErrorResponse:
			if pgErr == nil {
				pgErr = pgconn.ErrorResponseToPgError(msg)
			}
		case *pgproto3.ReadyForQuery:
			T.txStatus.Store(uint32(msg.TxStatus))
			return pgErr
		case *pgproto3.CopyInResponse, *pgproto3.CopyOutResponse, *pgproto3.CopyBothResponse:
			return T.fail(ctx, ErrCopyNotSupported)
		default:
			// RowDescription, CommandComplete, EmptyQueryResponse, notices
		}
	}
}

// Exec runs sql and discards any rows.
func (T *Conn) Exec(ctx context.Context, sql string) error {
	return T.query(ctx, sql, nil)
}

// QueryValue runs sql and returns the first column of the first row as text. NULL reads as "".
func (T *Conn) QueryValue(ctx context.Context, sql string) (string, error) {
	var value string
	var found bool
	err := T.query(ctx, sql, func(row *pgproto3.DataRow) {
		if found || len(row.Values) == 0 {
			return
		}
		found = true
		value = string(row.Values[0])
	})
	if err != nil {
		return "", err
	}
	if !found {
		return "", ErrNoRows
	}
	return value, nil
}

// Close sends Terminate when the connection is not busy, waits for any cancel request in flight and
// closes the socket. It is safe to call more than once.
func (T *Conn) Close() error {
	if !T.closed.CompareAndSwap(false, true) {
		return nil
	}

	if T.mu.TryLock() {
		if T.Err() == nil {
			_ = T.conn.SetWriteDeadline(time.Now().Add(terminateTimeout))
			T.frontend.Send(&pgproto3.Terminate{})
			_ = T.frontend.Flush()
		}
		T.mu.Unlock()
	}

	// let a pending cancel reach the server while the session still exists
	T.cancels.Wait()

	return T.conn.Close()
}
