package protocol

import (
	"encoding/binary"
	"fmt"
)

// ParseRegister decodes a 32-bit register read. Registers are transferred
// most significant byte first.
func ParseRegister(data []byte) (uint32, error) {
	if len(data) != RegisterSize {
		return 0, fmt.Errorf("invalid register length: got %d bytes, expected %d", len(data), RegisterSize)
	}
	return binary.BigEndian.Uint32(data), nil
}

// ParseStatusResponse decodes a status register read.
func ParseStatusResponse(data []byte) (Status, error) {
	v, err := ParseRegister(data)
	if err != nil {
		return 0, fmt.Errorf("status register: %w", err)
	}
	return Status(v), nil
}

// ParseTraceIDResponse decodes a TraceID read.
func ParseTraceIDResponse(data []byte) ([TraceIDSize]byte, error) {
	var id [TraceIDSize]byte
	if len(data) != TraceIDSize {
		return id, fmt.Errorf("invalid TraceID length: got %d bytes, expected %d", len(data), TraceIDSize)
	}
	copy(id[:], data)
	return id, nil
}

// ParseFeatureRowResponse assembles a feature row from the feature and
// FEABITS reads.
func ParseFeatureRowResponse(feature, feabits []byte) (*FeatureRow, error) {
	if len(feature) != FeatureSize {
		return nil, fmt.Errorf("invalid feature row length: got %d bytes, expected %d", len(feature), FeatureSize)
	}
	if len(feabits) != FeabitsSize {
		return nil, fmt.Errorf("invalid FEABITS length: got %d bytes, expected %d", len(feabits), FeabitsSize)
	}

	fr := &FeatureRow{}
	copy(fr.Feature[:], feature)
	copy(fr.Feabits[:], feabits)
	return fr, nil
}

// CheckDone validates the status read after a set-DONE command.
func CheckDone(s Status) error {
	if !s.DoneOK() {
		return &StatusError{Operation: "set done", Status: s}
	}
	return nil
}

// CheckRefresh validates the status read after a refresh command.
func CheckRefresh(s Status) error {
	if !s.RefreshOK() {
		return &StatusError{Operation: "refresh", Status: s}
	}
	return nil
}
