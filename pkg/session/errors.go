package session

import (
	"errors"
	"fmt"
)

// ErrBusy is returned by Start while another recording is in progress.
var ErrBusy = errors.New("a recording is already in progress")

// ValidationError reports malformed recording parameters. Nothing has been
// opened or created when it is returned.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}
