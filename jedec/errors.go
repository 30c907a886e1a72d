package jedec

import (
	"errors"
	"fmt"
)

// Sentinel errors matched by ParseError through errors.Is.
var (
	ErrMalformed         = errors.New("malformed record")
	ErrChecksum          = errors.New("checksum mismatch")
	ErrUnsupportedDevice = errors.New("unsupported device")
	ErrMisaligned        = errors.New("misaligned fuse address")
	ErrOverflow          = errors.New("fuse data overflow")
	ErrUnexpectedEOF     = errors.New("unexpected end of file")
)

// ErrorKind classifies a ParseError.
type ErrorKind int

const (
	KindMalformed ErrorKind = iota + 1
	KindChecksum
	KindUnsupportedDevice
	KindMisaligned
	KindOverflow
	KindUnexpectedEOF
)

func (k ErrorKind) sentinel() error {
	switch k {
	case KindMalformed:
		return ErrMalformed
	case KindChecksum:
		return ErrChecksum
	case KindUnsupportedDevice:
		return ErrUnsupportedDevice
	case KindMisaligned:
		return ErrMisaligned
	case KindOverflow:
		return ErrOverflow
	case KindUnexpectedEOF:
		return ErrUnexpectedEOF
	default:
		return nil
	}
}

func (k ErrorKind) String() string {
	if s := k.sentinel(); s != nil {
		return s.Error()
	}
	return fmt.Sprintf("ErrorKind(%d)", int(k))
}

// ParseError describes why a JEDEC file was rejected.
type ParseError struct {
	// Kind is the error class
	Kind ErrorKind

	// Line is the 1-based line number counted from the STX marker,
	// or 0 when the error is not tied to a line
	Line int

	// Msg is the detail message
	Msg string
}

func (e *ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("line %d: %s: %s", e.Line, e.Kind, e.Msg)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

// Unwrap returns the sentinel error of the kind.
func (e *ParseError) Unwrap() error {
	return e.Kind.sentinel()
}
