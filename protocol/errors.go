package protocol

import (
	"errors"
	"fmt"
)

// StatusError reports a status register value that does not match what an
// operation requires.
type StatusError struct {
	// Operation is the command whose outcome was checked
	Operation string

	// Status is the status register read after the command
	Status Status
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s failed: %s", e.Operation, describeStatus(e.Status))
}

// IsStatusError returns true if the error is or wraps a StatusError.
func IsStatusError(err error) bool {
	var se *StatusError
	return errors.As(err, &se)
}

// describeStatus returns a human-readable summary of the relevant bits.
func describeStatus(s Status) string {
	switch {
	case s.Fail():
		return fmt.Sprintf("device reported FAIL (0x%08X)", uint32(s))
	case s.Busy():
		return fmt.Sprintf("device still busy (0x%08X)", uint32(s))
	case !s.Done():
		return fmt.Sprintf("DONE not set (0x%08X)", uint32(s))
	case s.CfgEnabled():
		return fmt.Sprintf("still in configuration mode (0x%08X)", uint32(s))
	default:
		return fmt.Sprintf("unexpected status 0x%08X", uint32(s))
	}
}
