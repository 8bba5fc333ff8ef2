package auth

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

// commandTimeout bounds the storage work of a single command
const commandTimeout = time.Second * 10

// Message is implemented by every command payload
type Message interface {
	Type() string
}

func contextCancelled(ctx context.Context, operation string) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during "+operation,
		)
	default:
		return nil
	}
}

// commandError keeps rich errors as they are so callers can match the
// sentinel values, anything else is wrapped as internal.
func commandError(err error, message string) error {
	if err == nil {
		return nil
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return richErr
	}

	return goerrors.Wrap(err, goerrors.CategoryInternal, message)
}
