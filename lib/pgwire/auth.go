package pgwire

import (
	"context"
	"crypto/md5" //nolint:gosec // MD5 required for PostgreSQL authentication protocol
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"

	"gfx.cafe/ghalliday1/scram"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgproto3"
	"github.com/minio/sha256-simd"
)

const scramSHA256 = "SCRAM-SHA-256"

func encodeMD5(username, password string, salt [4]byte) string {
	hash := md5.New() //nolint:gosec // MD5 required for PostgreSQL authentication protocol
	hash.Write([]byte(password))
	hash.Write([]byte(username))
	inner := hex.EncodeToString(hash.Sum(nil))
	hash.Reset()

	hash.Write([]byte(inner))
	hash.Write(salt[:])

	var out strings.Builder
	out.Grow(3 + hex.EncodedLen(md5.Size))
	out.WriteString("md5")
	out.WriteString(hex.EncodeToString(hash.Sum(nil)))
	return out.String()
}

func (T *Conn) authenticateSASL(ctx context.Context, mechanisms []string, password string) error {
	if !slices.Contains(mechanisms, scramSHA256) {
		return fmt.Errorf("%w: sasl %v", ErrAuthNotSupported, mechanisms)
	}

	conversation := &scram.ClientConversation{
		Lookup: scram.ClientPasswordLookup(password, sha256.New),
	}
	initialResponse, err := conversation.Write(nil)
	if err != nil {
		return err
	}

	err = T.send(ctx, &pgproto3.SASLInitialResponse{
		AuthMechanism: scramSHA256,
		Data:          initialResponse,
	})
	if err != nil {
		return err
	}

	// challenge loop
	for {
		msg, err := T.receive(ctx)
		if err != nil {
			return err
		}

		switch msg := msg.(type) {
		case *pgproto3.AuthenticationSASLContinue:
			response, err := conversation.Write(msg.Data)
			if err != nil {
				return err
			}
			if err = T.send(ctx, &pgproto3.SASLResponse{Data: response}); err != nil {
				return err
			}
		case *pgproto3.AuthenticationSASLFinal:
			_, err = conversation.Write(msg.Data)
			if err != io.EOF {
				if err == nil {
					err = errors.New("expected EOF")
				}
				return err
			}
			return nil
		case *pgproto3.ErrorResponse:
			return pgconn.ErrorResponseToPgError(msg)
		default:
			return fmt.Errorf("%w: %T", ErrUnexpectedMessage, msg)
		}
	}
}
