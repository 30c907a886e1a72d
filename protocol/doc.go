// Package protocol implements the wire format of the MachXO2 embedded
// configuration access (ECA) port.
//
// This package only builds command frames and decodes register reads; it
// performs no I/O. See the programmer package for the bus exchanges, settle
// delays and busy polling.
//
// # Protocol Overview
//
// Every command is an opcode followed by a 24-bit operand, optionally
// followed by a write payload of up to 28 bytes or by a read:
//
//	Write: [OPCODE][ARG0][ARG1][ARG2][PAYLOAD...]
//	Read:  [OPCODE][ARG0][ARG1][ARG2] <repeated start> [DATA...]
//
// Bypass (0xFF) is the only command sent as a bare opcode.
//
// # Command Builders
//
// Use the Build* functions to create command frames:
//
//	frame, err := protocol.BuildOpenCmd(protocol.Offline)
//	frame, err := protocol.BuildEraseCmd(protocol.EraseCfg | protocol.EraseUFM)
//	frame, err := protocol.BuildWritePageCmd(protocol.SectorCfg, page)
//
// # Response Parsers
//
// Register reads are big-endian:
//
//	sr, err := protocol.ParseStatusResponse(data)
//	if sr.Busy() {
//	    // poll again
//	}
//
// # Status Checks
//
// CheckDone and CheckRefresh apply the bit tests required after set-DONE and
// refresh and return a StatusError describing the offending bits:
//
//	if err := protocol.CheckRefresh(sr); err != nil {
//	    // err.Error() returns: "refresh failed: still in configuration mode (0x00000300)"
//	}
//
// # Reference
//
// Lattice TN1204 "MachXO2 Programming and Configuration Usage Guide" and
// TN1246 "Using User Flash Memory and Hardened Control Functions in MachXO2".
package protocol
