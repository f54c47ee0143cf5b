package pgwire

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgproto3"
)

type Dialer struct {
	// Network defaults to tcp
	Network string
	Address string

	User     string
	Password string
	// Database defaults to User
	Database string
	// Parameters are extra startup parameters such as application_name.
	Parameters map[string]string

	Timeout time.Duration

	// DialFunc replaces net.Dialer when set.
	DialFunc func(ctx context.Context, network, address string) (net.Conn, error)
}

// DialerFromURL builds a Dialer from a libpq style connection string. Only the first host is used
// and TLS settings are ignored.
func DialerFromURL(url string) (*Dialer, error) {
	config, err := pgconn.ParseConfig(url)
	if err != nil {
		return nil, err
	}

	network, address := pgconn.NetworkAddress(config.Host, config.Port)
	return &Dialer{
		Network:    network,
		Address:    address,
		User:       config.User,
		Password:   config.Password,
		Database:   config.Database,
		Parameters: config.RuntimeParams,
		Timeout:    config.ConnectTimeout,
	}, nil
}

func (T *Dialer) dial(ctx context.Context) (net.Conn, error) {
	network := T.Network
	if network == "" {
		network = "tcp"
	}

	dial := T.DialFunc
	if dial == nil {
		d := net.Dialer{Timeout: T.Timeout}
		dial = d.DialContext
	}

	nc, err := dial(ctx, network, T.Address)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", T.Address, err)
	}
	return nc, nil
}

func (T *Dialer) Dial(ctx context.Context) (*Conn, error) {
	nc, err := T.dial(ctx)
	if err != nil {
		return nil, err
	}

	c := NewConn(nc)
	c.dialer = T
	if err = c.startup(ctx, T); err != nil {
		c.cancels.Wait()
		_ = nc.Close()
		return nil, fmt.Errorf("startup failed: %w", err)
	}
	return c, nil
}

// Cancel sends a CancelRequest for the backend identified by processID and secretKey and waits for
// the server to hang up.
func (T *Dialer) Cancel(ctx context.Context, processID, secretKey uint32) error {
	nc, err := T.dial(ctx)
	if err != nil {
		return err
	}
	defer nc.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = nc.SetDeadline(deadline)
	}

	frontend := pgproto3.NewFrontend(nc, nc)
	frontend.Send(&pgproto3.CancelRequest{
		ProcessID: processID,
		SecretKey: secretKey,
	})
	if err = frontend.Flush(); err != nil {
		return fmt.Errorf("failed to send cancel request: %w", err)
	}

	// the server closes the connection without replying
	_, _ = nc.Read(make([]byte, 1))
	return nil
}

func (T *Conn) startup(ctx context.Context, options *Dialer) error {
	T.mu.Lock()
	defer T.mu.Unlock()

	defer T.watch(ctx)()

	database := options.Database
	if database == "" {
		database = options.User
	}

	params := make(map[string]string, len(options.Parameters)+2)
	for key, value := range options.Parameters {
		params[key] = value
	}
	params["user"] = options.User
	params["database"] = database

	err := T.send(ctx, &pgproto3.StartupMessage{
		ProtocolVersion: pgproto3.ProtocolVersionNumber,
		Parameters:      params,
	})
	if err != nil {
		return err
	}

	for {
		var done bool
		done, err = T.startup0(ctx, options)
		if err != nil {
			return err
		}
		if done {
			break
		}
	}

	for {
		var done bool
		done, err = T.startup1(ctx)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
	}
}

// startup0 handles one authentication message.
func (T *Conn) startup0(ctx context.Context, options *Dialer) (done bool, err error) {
	msg, err := T.receive(ctx)
	if err != nil {
		return false, err
	}

	switch msg := msg.(type) {
	case *pgproto3.AuthenticationOk:
		return true, nil
	case *pgproto3.AuthenticationCleartextPassword:
		return false, T.send(ctx, &pgproto3.PasswordMessage{Password: options.Password})
	case *pgproto3.AuthenticationMD5Password:
		return false, T.send(ctx, &pgproto3.PasswordMessage{
			Password: encodeMD5(options.User, options.Password, msg.Salt),
		})
	case *pgproto3.AuthenticationSASL:
		return false, T.authenticateSASL(ctx, msg.AuthMechanisms, options.Password)
	case *pgproto3.ErrorResponse:
		return false, pgconn.ErrorResponseToPgError(msg)
	default:
		return false, fmt.Errorf("%w: %T", ErrUnexpectedMessage, msg)
	}
}

// startup1 collects session information until the first ReadyForQuery.
func (T *Conn) startup1(ctx context.Context) (done bool, err error) {
	msg, err := T.receive(ctx)
	if err != nil {
		return false, err
	}

	switch msg := msg.(type) {
	case *pgproto3.BackendKeyData:
		T.processID = msg.ProcessID
		T.secretKey = msg.SecretKey
		return false, nil
	case *pgproto3.ParameterStatus:
		if T.parameters == nil {
			T.parameters = make(map[string]string)
		}
		T.parameters[msg.Name] = msg.Value
		return false, nil
	case *pgproto3.ReadyForQuery:
		T.txStatus.Store(uint32(msg.TxStatus))
		return true, nil
	case *pgproto3.ErrorResponse:
		return false, pgconn.ErrorResponseToPgError(msg)
	case *pgproto3.NoticeResponse:
		return false, nil
	default:
		return false, fmt.Errorf("%w: %T", ErrUnexpectedMessage, msg)
	}
}
