package shoutcast

import (
	"errors"
	"fmt"
)

var (
	// ErrNoMetadata is returned when the server does not answer with an
	// icy-metaint header, i.e. it does not interleave metadata.
	ErrNoMetadata = errors.New("stream does not provide icy metadata")

	// ErrInvalidMetaInt is returned when icy-metaint is not a positive integer.
	ErrInvalidMetaInt = errors.New("invalid icy-metaint")
)

// ProtocolError reports a server that cannot be used as an ICY metadata source.
type ProtocolError struct {
	URL string
	Err error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("icy handshake with %s: %v", e.URL, e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// NetworkError is a read failure in the middle of a stream.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }
