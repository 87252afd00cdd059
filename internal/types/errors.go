package types

import "errors"

// Error classes shared by every participant of a run. Wrap them with
// fmt.Errorf("...: %w", ...) and match them with errors.Is.
var (
	// ErrInvalidArgument is a configuration error detected before any communication.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrInput means the source image could not be decoded.
	ErrInput = errors.New("input error")
	// ErrAllocation means a participant could not obtain or fill a buffer.
	ErrAllocation = errors.New("allocation error")
	// ErrOutput means an assembled frame could not be encoded or written.
	ErrOutput = errors.New("output error")
)
