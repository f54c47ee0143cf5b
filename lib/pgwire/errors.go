package pgwire

import "errors"

var (
	ErrClosed            = errors.New("connection closed")
	ErrBroken            = errors.New("connection broken")
	ErrNoRows            = errors.New("no rows in result set")
	ErrUnexpectedMessage = errors.New("unexpected message from server")
	ErrAuthNotSupported  = errors.New("authentication method not supported")
	ErrCopyNotSupported  = errors.New("copy protocol is not supported")
	ErrNoBackendKey      = errors.New("server sent no backend key data")
)
