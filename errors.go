package vanet

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrMalformedFrame is returned when a datagram does not decode. The
	// datagram is dropped and the receive loop continues.
	ErrMalformedFrame = errors.New("malformed frame")
	// ErrUnknownPeer means an inbound packet named an address that is not
	// part of the declared fleet.
	ErrUnknownPeer = errors.New("unknown peer")
	// ErrDeliveryTimeout is a per-round missed acknowledgement.
	ErrDeliveryTimeout = errors.New("delivery timeout")
	// ErrPersistentDeliveryFailure aborts the run: the follower directly
	// behind the lead failed twice in a row or no forwarder could be found.
	ErrPersistentDeliveryFailure = errors.New("persistent delivery failure")
	// ErrRangeExceeded marks a frame that would not have reached this
	// vehicle. It is dropped silently.
	ErrRangeExceeded = errors.New("range exceeded")
)

// FatalError terminates a run. Kind is one of the sentinel errors above.
type FatalError struct {
	Kind error
	Msg  string
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *FatalError) Unwrap() error {
	return e.Kind
}

func Fatalf(kind error, format string, args ...interface{}) error {
	return &FatalError{
		Kind: kind,
		Msg:  fmt.Sprintf(format, args...),
	}
}

// IsFatal reports whether err, or anything it wraps, is a *FatalError.
func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}
