package protocol

import (
	"encoding/binary"
	"fmt"
)

// BuildCmd constructs a command frame from an opcode, a 24-bit operand and
// an optional write payload.
//
// Frame structure:
//
//	[OPCODE][ARG0][ARG1][ARG2][PAYLOAD...]
//
// The operand is sent most significant byte first. The payload must not
// exceed MaxPayloadSize bytes.
func BuildCmd(opcode byte, arg uint32, payload []byte) ([]byte, error) {
	if arg > 0xFFFFFF {
		return nil, fmt.Errorf("operand 0x%X exceeds 24 bits", arg)
	}
	if len(payload) > MaxPayloadSize {
		return nil, fmt.Errorf("payload length %d exceeds maximum %d bytes", len(payload), MaxPayloadSize)
	}

	frame := make([]byte, HeaderSize, HeaderSize+len(payload))
	frame[0] = opcode
	frame[1] = byte(arg >> 16)
	frame[2] = byte(arg >> 8)
	frame[3] = byte(arg)
	frame = append(frame, payload...)

	return frame, nil
}

// BuildOpenCmd constructs the command that enables configuration access in
// the given mode.
//
// Frame structure:
//
//	[0x74|0xC6][0x08][0x00][0x00]
func BuildOpenCmd(mode CfgMode) ([]byte, error) {
	switch mode {
	case Transparent:
		return BuildCmd(CmdOpenTransparent, openArg, nil)
	case Offline:
		return BuildCmd(CmdOpenOffline, openArg, nil)
	default:
		return nil, fmt.Errorf("invalid configuration mode %v", mode)
	}
}

// BuildCloseCmd constructs the command that disables configuration access.
func BuildCloseCmd() ([]byte, error) {
	return BuildCmd(CmdClose, 0, nil)
}

// BuildBypassCmd constructs the bypass command. Unlike every other command
// it is a single opcode byte without operands.
func BuildBypassCmd() ([]byte, error) {
	return []byte{CmdBypass}, nil
}

// BuildRefreshCmd constructs the command that reloads the design from flash.
func BuildRefreshCmd() ([]byte, error) {
	return BuildCmd(CmdRefresh, 0, nil)
}

// BuildSetDoneCmd constructs the command that programs the DONE bit.
func BuildSetDoneCmd() ([]byte, error) {
	return BuildCmd(CmdSetDone, 0, nil)
}

// BuildReadStatusCmd constructs a status register read.
// The response is RegisterSize bytes.
func BuildReadStatusCmd() ([]byte, error) {
	return BuildCmd(CmdReadStatus, 0, nil)
}

// BuildReadDeviceIDCmd constructs an IDCODE read.
// The response is RegisterSize bytes.
func BuildReadDeviceIDCmd() ([]byte, error) {
	return BuildCmd(CmdReadDeviceID, 0, nil)
}

// BuildReadUserCodeCmd constructs a USERCODE read.
// The response is RegisterSize bytes.
func BuildReadUserCodeCmd() ([]byte, error) {
	return BuildCmd(CmdReadUserCode, 0, nil)
}

// BuildReadTraceIDCmd constructs a TraceID read.
// The response is TraceIDSize bytes.
func BuildReadTraceIDCmd() ([]byte, error) {
	return BuildCmd(CmdReadTraceID, 0, nil)
}

// BuildSetUserCodeCmd constructs the command that programs the USERCODE.
//
// Frame structure:
//
//	[0xC2][0x00][0x00][0x00][UC3][UC2][UC1][UC0]
func BuildSetUserCodeCmd(code uint32) ([]byte, error) {
	payload := make([]byte, RegisterSize)
	binary.BigEndian.PutUint32(payload, code)
	return BuildCmd(CmdSetUserCode, 0, payload)
}

// BuildSetPageCmd constructs the command that sets the page pointer of a
// sector.
//
// Frame structure:
//
//	[0xB4][0x00][0x00][0x00][SEL][0x00][PAGE_H][PAGE_L]
//
// where SEL is 0x00 for the configuration sector and 0x40 for UFM.
// Range checking against the device geometry is the caller's job.
func BuildSetPageCmd(sector Sector, page int) ([]byte, error) {
	if page < 0 || page > 0xFFFF {
		return nil, fmt.Errorf("page %d does not fit the page address", page)
	}

	var sel byte
	switch sector {
	case SectorCfg:
		sel = pageSelectCfg
	case SectorUFM:
		sel = pageSelectUFM
	default:
		return nil, fmt.Errorf("invalid sector %v", sector)
	}

	payload := []byte{sel, 0x00, byte(page >> 8), byte(page)}
	return BuildCmd(CmdSetPageAddress, 0, payload)
}

// BuildEraseCmd constructs an erase of the sectors selected by mask
// (EraseSRAM, EraseFeatureRow, EraseCfg, EraseUFM). Bits outside EraseMask
// are dropped.
//
// Frame structure:
//
//	[0x0E][MASK][0x00][0x00]
func BuildEraseCmd(mask byte) ([]byte, error) {
	return BuildCmd(CmdErase, uint32(mask&EraseMask)<<16, nil)
}

// BuildResetAddressCmd constructs the command that moves the page pointer
// to page 0 of the sector.
func BuildResetAddressCmd(sector Sector) ([]byte, error) {
	switch sector {
	case SectorCfg:
		return BuildCmd(CmdCfgResetAddress, 0, nil)
	case SectorUFM:
		return BuildCmd(CmdUFMResetAddress, 0, nil)
	default:
		return nil, fmt.Errorf("invalid sector %v", sector)
	}
}

// BuildReadPageCmd constructs a single page read from the sector.
// The response is PageSize bytes.
func BuildReadPageCmd(sector Sector) ([]byte, error) {
	switch sector {
	case SectorCfg:
		return BuildCmd(CmdCfgReadPage, pageArg, nil)
	case SectorUFM:
		return BuildCmd(CmdUFMReadPage, pageArg, nil)
	default:
		return nil, fmt.Errorf("invalid sector %v", sector)
	}
}

// BuildWritePageCmd constructs a single page program of the sector.
//
// Frame structure:
//
//	[0x70|0xC9][0x00][0x00][0x01][DATA(16)]
func BuildWritePageCmd(sector Sector, data []byte) ([]byte, error) {
	if len(data) != PageSize {
		return nil, fmt.Errorf("page data must be exactly %d bytes, got %d", PageSize, len(data))
	}

	switch sector {
	case SectorCfg:
		return BuildCmd(CmdCfgWritePage, pageArg, data)
	case SectorUFM:
		return BuildCmd(CmdUFMWritePage, pageArg, data)
	default:
		return nil, fmt.Errorf("invalid sector %v", sector)
	}
}

// BuildFeatureWriteCmd constructs the feature row program command.
func BuildFeatureWriteCmd(fr *FeatureRow) ([]byte, error) {
	if fr == nil {
		return nil, fmt.Errorf("feature row cannot be nil")
	}
	return BuildCmd(CmdFeatureWrite, 0, fr.Feature[:])
}

// BuildFeabitsWriteCmd constructs the FEABITS program command.
func BuildFeabitsWriteCmd(fr *FeatureRow) ([]byte, error) {
	if fr == nil {
		return nil, fmt.Errorf("feature row cannot be nil")
	}
	return BuildCmd(CmdFeabitsWrite, 0, fr.Feabits[:])
}

// BuildFeatureReadCmd constructs the feature row read.
// The response is FeatureSize bytes.
func BuildFeatureReadCmd() ([]byte, error) {
	return BuildCmd(CmdFeatureRead, 0, nil)
}

// BuildFeabitsReadCmd constructs the FEABITS read.
// The response is FeabitsSize bytes.
func BuildFeabitsReadCmd() ([]byte, error) {
	return BuildCmd(CmdFeabitsRead, 0, nil)
}
