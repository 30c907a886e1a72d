package programmer

import (
	"fmt"
	"strings"

	"github.com/moffa90/go-machxo2/protocol"
)

// Mode selects what Program erases, programs and verifies.
// The sector bits double as the erase mask.
type Mode byte

const (
	// ModeSRAM erases the volatile configuration memory
	ModeSRAM Mode = protocol.EraseSRAM

	// ModeFeatureRow erases and programs the feature row
	ModeFeatureRow Mode = protocol.EraseFeatureRow

	// ModeCfg erases and programs the configuration sector
	ModeCfg Mode = protocol.EraseCfg

	// ModeUFM erases and programs the user flash sector
	ModeUFM Mode = protocol.EraseUFM

	// ModeTransparent keeps user logic running; clears ModeFeatureRow
	ModeTransparent Mode = 0x10

	// ModeVerify reads back every programmed page
	ModeVerify Mode = 0x20

	// ModeNoLoad programs in transparent mode and closes without refresh, so
	// the new design boots on the next power cycle
	ModeNoLoad Mode = 0x50
)

// Has reports whether all bits of f are set in m.
func (m Mode) Has(f Mode) bool {
	return m&f == f
}

// eraseMask returns the sectors to erase.
func (m Mode) eraseMask() byte {
	return byte(m) & protocol.EraseMask
}

func (m Mode) String() string {
	names := []struct {
		bit  Mode
		name string
	}{
		{ModeNoLoad, "noload"},
		{ModeTransparent, "transparent"},
		{ModeVerify, "verify"},
		{ModeUFM, "ufm"},
		{ModeCfg, "cfg"},
		{ModeFeatureRow, "featrow"},
		{ModeSRAM, "sram"},
	}

	var parts []string
	rest := m
	for _, n := range names {
		if rest.Has(n.bit) {
			parts = append(parts, n.name)
			rest &^= n.bit
		}
	}
	if rest != 0 {
		parts = append(parts, fmt.Sprintf("0x%02X", byte(rest)))
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}

// ParseMode parses a '|' or ',' separated list of mode names as produced by
// Mode.String.
func ParseMode(s string) (Mode, error) {
	var m Mode
	for _, f := range strings.FieldsFunc(s, func(r rune) bool { return r == '|' || r == ',' }) {
		switch strings.ToLower(strings.TrimSpace(f)) {
		case "sram":
			m |= ModeSRAM
		case "featrow", "feature":
			m |= ModeFeatureRow
		case "cfg":
			m |= ModeCfg
		case "ufm":
			m |= ModeUFM
		case "transparent":
			m |= ModeTransparent
		case "verify":
			m |= ModeVerify
		case "noload":
			m |= ModeNoLoad
		case "none", "":
		default:
			return 0, fmt.Errorf("unknown mode %q", f)
		}
	}
	return m, nil
}

// Phase identifies a step of Program.
type Phase int

const (
	PhaseOpen Phase = iota + 1
	PhaseErase
	PhaseCfgReset
	PhaseCfgWrite
	PhaseCfgVerifyReset
	PhaseCfgRead
	PhaseCfgVerify
	PhaseUFMReset
	PhaseUFMWrite
	PhaseUFMVerifyReset
	PhaseUFMRead
	PhaseUFMVerify
	PhaseFeatureWrite
	PhaseFeatureVerify
	PhaseFeabitsVerify
	PhaseSetDone
	PhaseClose
	PhaseRefresh
)

var phaseInfo = map[Phase]struct {
	name string
	code int
}{
	PhaseOpen:           {"open", -1},
	PhaseErase:          {"erase", -2},
	PhaseCfgReset:       {"cfg reset address", -11},
	PhaseCfgWrite:       {"cfg write", -12},
	PhaseCfgVerifyReset: {"cfg verify reset address", -13},
	PhaseCfgRead:        {"cfg read", -14},
	PhaseCfgVerify:      {"cfg verify", -15},
	PhaseUFMReset:       {"ufm reset address", -21},
	PhaseUFMWrite:       {"ufm write", -22},
	PhaseUFMVerifyReset: {"ufm verify reset address", -23},
	PhaseUFMRead:        {"ufm read", -24},
	PhaseUFMVerify:      {"ufm verify", -25},
	PhaseFeatureWrite:   {"feature row write", -31},
	PhaseFeatureVerify:  {"feature row verify", -32},
	PhaseFeabitsVerify:  {"feabits verify", -33},
	PhaseSetDone:        {"set done", -40},
	PhaseClose:          {"close", -41},
	PhaseRefresh:        {"refresh", -42},
}

// Code returns the stable numeric code of the phase. Codes are negative and
// grouped by sector: -1x configuration, -2x user flash, -3x feature row.
func (p Phase) Code() int {
	return phaseInfo[p].code
}

func (p Phase) String() string {
	if info, ok := phaseInfo[p]; ok {
		return info.name
	}
	return fmt.Sprintf("Phase(%d)", int(p))
}
