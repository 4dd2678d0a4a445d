package publisher

import (
	"errors"
	"fmt"
)

// ErrClosed is returned by Flush after Close completed.
var ErrClosed = errors.New("publisher: closed")

// SendError reports a destination that still failed after every attempt.
// Its records were requeued.
type SendError struct {
	Provider    string
	Destination string
	Attempts    int
	Requeued    int
	Err         error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("publisher: %s: send to %q failed after %d attempt(s), %d record(s) requeued: %v",
		e.Provider, e.Destination, e.Attempts, e.Requeued, e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }
