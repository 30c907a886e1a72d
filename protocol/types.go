package protocol

import "fmt"

// CfgMode selects how the configuration interface is opened.
type CfgMode int

const (
	// Transparent keeps user logic running while flash is accessed
	Transparent CfgMode = iota

	// Offline halts user logic while flash is accessed
	Offline
)

func (m CfgMode) String() string {
	switch m {
	case Transparent:
		return "transparent"
	case Offline:
		return "offline"
	default:
		return fmt.Sprintf("CfgMode(%d)", int(m))
	}
}

// Sector selects one of the page-addressable flash sectors.
type Sector int

const (
	// SectorCfg is the configuration sector holding the design
	SectorCfg Sector = iota

	// SectorUFM is the user flash sector
	SectorUFM
)

func (s Sector) String() string {
	switch s {
	case SectorCfg:
		return "cfg"
	case SectorUFM:
		return "ufm"
	default:
		return fmt.Sprintf("Sector(%d)", int(s))
	}
}

// Status is the 32-bit configuration status register.
type Status uint32

// Done reports whether the DONE bit is set.
func (s Status) Done() bool { return s&StatusDone != 0 }

// Busy reports whether an operation is still in progress.
func (s Status) Busy() bool { return s&StatusBusy != 0 }

// Fail reports whether the last operation failed.
func (s Status) Fail() bool { return s&StatusFail != 0 }

// CfgEnabled reports whether the configuration interface is open.
func (s Status) CfgEnabled() bool { return s&StatusCfgEnabled != 0 }

// DoneOK reports whether DONE is set and neither FAIL nor BUSY.
func (s Status) DoneOK() bool { return s&doneCheckMask == StatusDone }

// RefreshOK reports whether only DONE is set among bits 8-13, i.e. the
// design booted and the device left configuration mode.
func (s Status) RefreshOK() bool { return s&refreshCheckMask == StatusDone }

func (s Status) String() string {
	return fmt.Sprintf("0x%08X [done=%t busy=%t fail=%t cfg=%t]",
		uint32(s), s.Done(), s.Busy(), s.Fail(), s.CfgEnabled())
}

// FeatureRow holds the feature row fuses and the FEABITS.
// These control device behavior; only write values parsed from a valid
// bitstream.
type FeatureRow struct {
	// Feature is the 64-bit feature row
	Feature [FeatureSize]byte

	// Feabits is the 16-bit FEABITS field
	Feabits [FeabitsSize]byte
}

// HardwareInfo holds the identification registers of a device.
type HardwareInfo struct {
	// DeviceID is the JTAG IDCODE
	DeviceID uint32

	// UserCode is the 32-bit USERCODE
	UserCode uint32

	// TraceID is the 64-bit unique TraceID
	TraceID [TraceIDSize]byte
}
