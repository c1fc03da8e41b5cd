package types

import "errors"

var (
	// ErrInvalidPayload is returned for malformed input, such as a merge
	// whose value is not an object
	ErrInvalidPayload = errors.New("invalid payload")

	// ErrTimeout is returned when a call received no response in time
	ErrTimeout = errors.New("request timed out")

	// ErrChannelUnavailable is returned when the transport could not be
	// established or was reset while the call was in flight
	ErrChannelUnavailable = errors.New("channel unavailable")

	// ErrUnsupportedOperation is returned for unknown RPC operations
	ErrUnsupportedOperation = errors.New("unsupported operation")
)
