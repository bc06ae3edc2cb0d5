package channel

import "errors"

var (
	errChannelClosed = errors.New("event channel closed")
	errNotConnected  = errors.New("event channel not connected")
)

// ErrClosed reports whether err came from emitting on a closed channel.
func ErrClosed(err error) bool {
	return errors.Is(err, errChannelClosed)
}
