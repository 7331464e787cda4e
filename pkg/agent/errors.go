package agent

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// RunFailure is the single error kind a turn produces. It covers network,
// auth, rate limit, malformed payload and timeout failures alike.
type RunFailure struct {
	Message string
	Err     error
}

func (e *RunFailure) Error() string {
	return e.Message
}

func (e *RunFailure) Unwrap() error {
	return e.Err
}

// IsRunFailure reports whether err is or wraps a *RunFailure
func IsRunFailure(err error) bool {
	var rf *RunFailure
	return errors.As(err, &rf)
}

// asRunFailure converts err into a *RunFailure. turnCtx decides whether the
// failure was caused by the turn timeout or by cancellation.
func asRunFailure(turnCtx context.Context, timeout time.Duration, err error) *RunFailure {
	var rf *RunFailure
	if errors.As(err, &rf) {
		return rf
	}

	switch {
	case errors.Is(turnCtx.Err(), context.DeadlineExceeded):
		return &RunFailure{
			Message: fmt.Sprintf("model did not respond within %s", timeout),
			Err:     err,
		}
	case errors.Is(turnCtx.Err(), context.Canceled):
		return &RunFailure{Message: "turn cancelled", Err: err}
	case err == nil:
		return &RunFailure{Message: "unknown failure"}
	default:
		return &RunFailure{Message: err.Error(), Err: err}
	}
}
