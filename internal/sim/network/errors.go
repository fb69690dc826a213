package network

import (
	"errors"

	"chestnet.ai/internal/protocol"
)

var (
	ErrNotLinked     = errors.New("probe is not linked")
	ErrAlreadyLinked = errors.New("probe is already linked")
	ErrNoContainer   = errors.New("no container at target")
	ErrBadArgument   = errors.New("bad argument")
	ErrConflict      = errors.New("conflicting request")
)

// ErrorCode maps an operation error to its ACT_RESULT code.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotLinked), errors.Is(err, ErrNoContainer):
		return protocol.ErrInvalidTarget
	case errors.Is(err, ErrAlreadyLinked), errors.Is(err, ErrConflict):
		return protocol.ErrConflict
	case errors.Is(err, ErrBadArgument):
		return protocol.ErrBadRequest
	default:
		return protocol.ErrInternal
	}
}
