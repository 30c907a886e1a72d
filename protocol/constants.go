package protocol

// Command opcodes of the MachXO2 embedded configuration access port
// (TN1246, "sysCONFIG Programming Commands").
const (
	// CmdOpenTransparent enables configuration access while user logic runs
	CmdOpenTransparent = 0x74

	// CmdOpenOffline enables configuration access with user logic halted
	CmdOpenOffline = 0xC6

	// CmdClose disables configuration access
	CmdClose = 0x26

	// CmdRefresh reloads SRAM from flash and boots the design
	CmdRefresh = 0x79

	// CmdSetDone programs the DONE bit
	CmdSetDone = 0x5E

	// CmdReadStatus reads the 32-bit status register
	CmdReadStatus = 0x3C

	// CmdReadDeviceID reads the 32-bit IDCODE
	CmdReadDeviceID = 0xE0

	// CmdReadUserCode reads the 32-bit USERCODE
	CmdReadUserCode = 0xC0

	// CmdSetUserCode programs the 32-bit USERCODE
	CmdSetUserCode = 0xC2

	// CmdReadTraceID reads the 64-bit TraceID
	CmdReadTraceID = 0x19

	// CmdBypass releases the configuration port (no arguments)
	CmdBypass = 0xFF

	// CmdSetPageAddress sets the flash page pointer
	CmdSetPageAddress = 0xB4

	// CmdErase erases the sectors selected by the erase mask
	CmdErase = 0x0E

	// CmdCfgResetAddress moves the page pointer to configuration page 0
	CmdCfgResetAddress = 0x46

	// CmdCfgReadPage reads one configuration page and advances
	CmdCfgReadPage = 0x73

	// CmdCfgWritePage programs one configuration page and advances
	CmdCfgWritePage = 0x70

	// CmdUFMResetAddress moves the page pointer to UFM page 0
	CmdUFMResetAddress = 0x47

	// CmdUFMReadPage reads one UFM page and advances
	CmdUFMReadPage = 0xCA

	// CmdUFMWritePage programs one UFM page and advances
	CmdUFMWritePage = 0xC9

	// CmdFeatureWrite programs the 8 feature row bytes
	CmdFeatureWrite = 0xE4

	// CmdFeabitsWrite programs the 2 FEABITS bytes
	CmdFeabitsWrite = 0xF8

	// CmdFeatureRead reads the 8 feature row bytes
	CmdFeatureRead = 0xE7

	// CmdFeabitsRead reads the 2 FEABITS bytes
	CmdFeabitsRead = 0xFB
)

// Erase selection bits for CmdErase.
const (
	EraseSRAM       = 0x01
	EraseFeatureRow = 0x02
	EraseCfg        = 0x04
	EraseUFM        = 0x08

	// EraseMask keeps only the defined sector bits
	EraseMask = 0x0F
)

// Status register bits (big-endian 32-bit value).
const (
	StatusDone       = 0x00000100
	StatusCfgEnabled = 0x00000200
	StatusBusy       = 0x00001000
	StatusFail       = 0x00002000

	// doneCheckMask covers FAIL, BUSY and DONE for the set-DONE check
	doneCheckMask = StatusFail | StatusBusy | StatusDone

	// refreshCheckMask covers bits 8-13 for the post-refresh check
	refreshCheckMask = 0x00003F00
)

// Frame and payload sizes.
const (
	// HeaderSize is opcode plus three argument bytes
	HeaderSize = 4

	// MaxPayloadSize is the largest write payload after the header
	MaxPayloadSize = 28

	// PageSize is the size of one flash page
	PageSize = 16

	// RegisterSize is the size of the status, IDCODE and USERCODE registers
	RegisterSize = 4

	// TraceIDSize is the size of the TraceID register
	TraceIDSize = 8

	// FeatureSize is the number of feature row bytes
	FeatureSize = 8

	// FeabitsSize is the number of FEABITS bytes
	FeabitsSize = 2
)

// Argument values used by the reference command sequences.
const (
	// openArg is the operand of both open commands
	openArg = 0x080000

	// pageArg selects a single page for the page read/write commands
	pageArg = 0x000001

	// pageSelectCfg and pageSelectUFM are the first byte of the page address
	pageSelectCfg = 0x00
	pageSelectUFM = 0x40
)
