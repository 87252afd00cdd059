package crossfade

import (
	"errors"
	"fmt"

	"github.com/andresmejia3/crossfade/internal/types"
)

// Error classes, re-exported so callers only need this package.
var (
	ErrInvalidArgument = types.ErrInvalidArgument
	ErrInput           = types.ErrInput
	ErrAllocation      = types.ErrAllocation
	ErrOutput          = types.ErrOutput
)

// OutputPolicy decides what happens when an assembled frame cannot be encoded.
type OutputPolicy string

const (
	// AbortOnOutputError stops the run after the failing frame.
	AbortOnOutputError OutputPolicy = "abort"
	// SkipOnOutputError records the failure and keeps going with the next frame.
	SkipOnOutputError OutputPolicy = "skip"
)

// ParseOutputPolicy validates a policy name.
func ParseOutputPolicy(s string) (OutputPolicy, error) {
	switch p := OutputPolicy(s); p {
	case AbortOnOutputError, SkipOnOutputError:
		return p, nil
	case "":
		return AbortOnOutputError, nil
	}
	return "", fmt.Errorf("%w: unknown output error policy %q (use abort or skip)", ErrInvalidArgument, s)
}

// Error class codes carried in status and verdict messages.
const (
	classNone uint8 = iota
	classInvalidArgument
	classInput
	classAllocation
	classOutput
	classOther
)

func classOf(err error) uint8 {
	switch {
	case err == nil:
		return classNone
	case errors.Is(err, ErrInvalidArgument):
		return classInvalidArgument
	case errors.Is(err, ErrInput):
		return classInput
	case errors.Is(err, ErrAllocation):
		return classAllocation
	case errors.Is(err, ErrOutput):
		return classOutput
	}
	return classOther
}

var errRemote = errors.New("remote failure")

func errOfClass(class uint8) error {
	switch class {
	case classInvalidArgument:
		return ErrInvalidArgument
	case classInput:
		return ErrInput
	case classAllocation:
		return ErrAllocation
	case classOutput:
		return ErrOutput
	}
	return errRemote
}
