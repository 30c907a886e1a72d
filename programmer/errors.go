package programmer

import (
	"errors"
	"fmt"

	"github.com/moffa90/go-machxo2/protocol"
)

// Sentinel errors. Operations wrap them with context; use errors.Is.
var (
	// ErrNotInConfigMode is returned when an operation needs the
	// configuration interface open and it is not
	ErrNotInConfigMode = errors.New("configuration interface not open")

	// ErrUnsupportedOperation is returned for user flash access on a variant
	// without user flash
	ErrUnsupportedOperation = errors.New("operation not supported by device")

	// ErrPageRangeExceeded is returned when a page or page span does not fit
	// the sector
	ErrPageRangeExceeded = errors.New("page range exceeds sector")

	// ErrVerifyMismatch is returned when read back data differs
	ErrVerifyMismatch = errors.New("verify mismatch")

	// ErrBusyTimeout is returned when BUSY did not clear within the poll policy
	ErrBusyTimeout = errors.New("device busy timeout")

	// ErrFailFlag is returned when the device reports FAIL while polling
	ErrFailFlag = errors.New("device reported FAIL")

	// ErrDeviceMismatch is returned when an image targets another variant
	ErrDeviceMismatch = errors.New("image built for a different device")

	// ErrRefreshTimeout is returned when every refresh attempt failed
	ErrRefreshTimeout = errors.New("refresh did not boot the device")
)

// TransportError wraps a failed bus exchange.
type TransportError struct {
	// Op is the command that was being sent
	Op string

	// Err is the error returned by the Transport
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: transport error: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// VerifyError reports the first byte that differs during a verify.
type VerifyError struct {
	// Sector is the verified sector. Feature row mismatches use Page -1.
	Sector protocol.Sector

	// Page is the page index within the sector
	Page int

	// Offset is the byte offset within the page
	Offset int

	Expected byte
	Actual   byte
}

func (e *VerifyError) Error() string {
	if e.Page < 0 {
		return fmt.Sprintf("feature row verify mismatch at byte %d: expected 0x%02X, got 0x%02X",
			e.Offset, e.Expected, e.Actual)
	}
	return fmt.Sprintf("%s page %d verify mismatch at byte %d: expected 0x%02X, got 0x%02X",
		e.Sector, e.Page, e.Offset, e.Expected, e.Actual)
}

func (e *VerifyError) Unwrap() error {
	return ErrVerifyMismatch
}

// PhaseError reports which step of a programming sequence failed.
type PhaseError struct {
	Phase Phase
	Err   error
}

func (e *PhaseError) Error() string {
	return fmt.Sprintf("%s failed (code %d): %v", e.Phase, e.Phase.Code(), e.Err)
}

func (e *PhaseError) Unwrap() error {
	return e.Err
}

// ClearError reports the outcome of ClearDevice. Both steps are always
// attempted, so both results are kept.
type ClearError struct {
	// OpenErr is set if the configuration interface could not be opened; the
	// other steps are not attempted in that case
	OpenErr error

	// EraseErr is the result of erasing all sectors
	EraseErr error

	// RefreshErr is the result of the refresh after the erase
	RefreshErr error
}

func (e *ClearError) Error() string {
	if e.OpenErr != nil {
		return fmt.Sprintf("clear device: open: %v", e.OpenErr)
	}
	switch {
	case e.EraseErr != nil && e.RefreshErr != nil:
		return fmt.Sprintf("clear device: erase: %v; refresh: %v", e.EraseErr, e.RefreshErr)
	case e.EraseErr != nil:
		return fmt.Sprintf("clear device: erase: %v", e.EraseErr)
	default:
		return fmt.Sprintf("clear device: refresh: %v", e.RefreshErr)
	}
}

// Unwrap returns the step errors so errors.Is sees all of them.
func (e *ClearError) Unwrap() []error {
	var errs []error
	for _, err := range []error{e.OpenErr, e.EraseErr, e.RefreshErr} {
		if err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

// IsTransportError returns true if the error is or wraps a TransportError.
func IsTransportError(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}
