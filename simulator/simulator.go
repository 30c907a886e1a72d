// Package simulator models the configuration logic of a MachXO2 device in
// memory. A *Device implements the Tx method of programmer.Transport, so it
// can stand in for the I2C link in tests, examples and dry runs.
//
// The model keeps the configuration and user flash sectors, the feature
// row, USERCODE, the DONE bit and the configuration interface state. Erased
// flash reads as zero bits and programming ORs data into a page, so writing
// a page that was not erased shows up as a verify mismatch.
//
// A refresh always boots the device; the DONE behavior of a blank device is
// not modeled.
//
// Faults can be injected with SetFaults to exercise error paths.
package simulator

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/moffa90/go-machxo2/device"
	"github.com/moffa90/go-machxo2/jedec"
	"github.com/moffa90/go-machxo2/protocol"
)

// ErrInjected is returned by Tx for commands selected by Faults.TxErrorOpcode.
var ErrInjected = errors.New("simulated bus error")

// Faults selects misbehavior of the simulated device.
type Faults struct {
	// CorruptReads flips the lowest bit of the first byte of the next n
	// page reads
	CorruptReads int

	// RefreshFailures is how many refresh commands leave the device in
	// configuration mode
	RefreshFailures int

	// BusyPolls is how many status reads report BUSY after each erase or
	// program command
	BusyPolls int

	// FailOpcode makes every command with this opcode set the FAIL bit
	FailOpcode byte

	// TxErrorOpcode makes Tx return ErrInjected for this opcode
	TxErrorOpcode byte
}

// Device is a simulated MachXO2. It is safe for concurrent use.
type Device struct {
	mu sync.Mutex

	params   device.Params
	idCode   uint32
	userCode uint32
	traceID  [protocol.TraceIDSize]byte

	cfg     []byte
	ufm     []byte
	feature protocol.FeatureRow

	cfgEn bool
	done  bool
	fail  bool
	busy  int
	page  [2]int

	faults   Faults
	commands [][]byte
}

// Option configures a simulated Device.
type Option func(*Device)

// WithIDCode overrides the IDCODE. The default is the first IDCODE of the
// variant.
func WithIDCode(id uint32) Option {
	return func(d *Device) {
		d.idCode = id
	}
}

// WithTraceID sets the TraceID register.
func WithTraceID(id [protocol.TraceIDSize]byte) Option {
	return func(d *Device) {
		d.traceID = id
	}
}

// WithFaults sets the initial faults.
func WithFaults(f Faults) Option {
	return func(d *Device) {
		d.faults = f
	}
}

// New creates a blank simulated device with the given parameters. The
// device starts in user mode with DONE set.
//
// Example:
//
//	sim := simulator.New(device.DefaultTable().MustLookup(device.MachXO2_1200))
//	prog, _ := programmer.New(sim, device.MachXO2_1200)
func New(params device.Params, opts ...Option) *Device {
	d := &Device{
		params: params,
		idCode: params.IDCodes[0],
		cfg:    make([]byte, params.CfgBytes()),
		ufm:    make([]byte, params.UFMBytes()),
		done:   true,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// SetFaults replaces the injected faults.
func (d *Device) SetFaults(f Faults) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.faults = f
}

// LoadImage stores an image directly in flash, as if it had been
// programmed and booted.
func (d *Device) LoadImage(img *jedec.Image) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(img.CfgData) > len(d.cfg) || len(img.UFMData) > len(d.ufm) {
		return fmt.Errorf("image does not fit %s", d.params.Name)
	}
	clear(d.cfg)
	clear(d.ufm)
	copy(d.cfg, img.CfgData)
	copy(d.ufm, img.UFMData)
	d.feature = img.FeatureRow
	d.userCode = img.UserCode
	d.done = true
	return nil
}

// Flash returns a copy of a flash sector.
func (d *Device) Flash(sector protocol.Sector) []byte {
	d.mu.Lock()
	defer d.mu.Unlock()

	if sector == protocol.SectorUFM {
		return append([]byte(nil), d.ufm...)
	}
	return append([]byte(nil), d.cfg...)
}

// FeatureRow returns the programmed feature row.
func (d *Device) FeatureRow() protocol.FeatureRow {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.feature
}

// ConfigEnabled reports whether the configuration interface is open.
func (d *Device) ConfigEnabled() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cfgEn
}

// Status returns the current status register without consuming busy polls.
func (d *Device) Status() protocol.Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.status()
}

// Commands returns a copy of every command frame received so far.
func (d *Device) Commands() [][]byte {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([][]byte, len(d.commands))
	for i, c := range d.commands {
		out[i] = append([]byte(nil), c...)
	}
	return out
}

// Opcodes returns the opcode of every command received so far.
func (d *Device) Opcodes() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()

	ops := make([]byte, len(d.commands))
	for i, c := range d.commands {
		ops[i] = c[0]
	}
	return ops
}

// ResetLog forgets the recorded commands.
func (d *Device) ResetLog() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.commands = nil
}

// Tx executes one command frame and fills r with the response.
func (d *Device) Tx(w, r []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(w) == 0 {
		return errors.New("empty command")
	}
	d.commands = append(d.commands, append([]byte(nil), w...))

	op := w[0]
	if d.faults.TxErrorOpcode != 0 && op == d.faults.TxErrorOpcode {
		return fmt.Errorf("command 0x%02X: %w", op, ErrInjected)
	}
	if op != protocol.CmdBypass && len(w) < protocol.HeaderSize {
		return fmt.Errorf("command 0x%02X: short frame of %d bytes", op, len(w))
	}
	if d.faults.FailOpcode != 0 && op == d.faults.FailOpcode {
		d.fail = true
	}

	clear(r)
	return d.execute(op, w, r)
}

func (d *Device) execute(op byte, w, r []byte) error {
	var payload []byte
	if len(w) > protocol.HeaderSize {
		payload = w[protocol.HeaderSize:]
	}

	switch op {
	case protocol.CmdOpenTransparent, protocol.CmdOpenOffline:
		d.cfgEn = true
		d.fail = d.faults.FailOpcode == op
		d.page = [2]int{}
	case protocol.CmdClose:
		d.cfgEn = false
	case protocol.CmdBypass:
	case protocol.CmdRefresh:
		if d.faults.RefreshFailures > 0 {
			d.faults.RefreshFailures--
			return nil
		}
		d.cfgEn = false
		d.done = true
		d.fail = false
	case protocol.CmdReadStatus:
		sr := d.status()
		if d.busy > 0 {
			d.busy--
		}
		putRegister(r, uint32(sr))
	case protocol.CmdReadDeviceID:
		putRegister(r, d.idCode)
	case protocol.CmdReadUserCode:
		putRegister(r, d.userCode)
	case protocol.CmdReadTraceID:
		copy(r, d.traceID[:])
	default:
		return d.executeConfig(op, w, payload, r)
	}
	return nil
}

// executeConfig handles the commands that need the configuration interface.
func (d *Device) executeConfig(op byte, w, payload, r []byte) error {
	if !d.cfgEn {
		return fmt.Errorf("command 0x%02X rejected: configuration interface disabled", op)
	}

	switch op {
	case protocol.CmdSetDone:
		d.done = true
	case protocol.CmdSetUserCode:
		if len(payload) != protocol.RegisterSize {
			return fmt.Errorf("set usercode: payload of %d bytes", len(payload))
		}
		d.userCode |= binary.BigEndian.Uint32(payload)
	case protocol.CmdErase:
		d.erase(w[1])
	case protocol.CmdSetPageAddress:
		return d.setPage(payload)
	case protocol.CmdCfgResetAddress:
		d.page[protocol.SectorCfg] = 0
	case protocol.CmdUFMResetAddress:
		if len(d.ufm) == 0 {
			d.fail = true
			return nil
		}
		d.page[protocol.SectorUFM] = 0
	case protocol.CmdCfgReadPage:
		return d.readPage(protocol.SectorCfg, r)
	case protocol.CmdUFMReadPage:
		return d.readPage(protocol.SectorUFM, r)
	case protocol.CmdCfgWritePage:
		return d.writePage(protocol.SectorCfg, payload)
	case protocol.CmdUFMWritePage:
		return d.writePage(protocol.SectorUFM, payload)
	case protocol.CmdFeatureWrite:
		if len(payload) != protocol.FeatureSize {
			return fmt.Errorf("feature write: payload of %d bytes", len(payload))
		}
		for i := range payload {
			d.feature.Feature[i] |= payload[i]
		}
		d.busy = d.faults.BusyPolls
	case protocol.CmdFeabitsWrite:
		if len(payload) != protocol.FeabitsSize {
			return fmt.Errorf("feabits write: payload of %d bytes", len(payload))
		}
		for i := range payload {
			d.feature.Feabits[i] |= payload[i]
		}
		d.busy = d.faults.BusyPolls
	case protocol.CmdFeatureRead:
		copy(r, d.feature.Feature[:])
	case protocol.CmdFeabitsRead:
		copy(r, d.feature.Feabits[:])
	default:
		return fmt.Errorf("unknown command 0x%02X", op)
	}
	return nil
}

func (d *Device) erase(mask byte) {
	if mask&protocol.EraseCfg != 0 {
		clear(d.cfg)
		d.userCode = 0
		d.done = false
	}
	if mask&protocol.EraseUFM != 0 {
		clear(d.ufm)
	}
	if mask&protocol.EraseFeatureRow != 0 {
		d.feature = protocol.FeatureRow{}
	}
	d.busy = d.faults.BusyPolls
}

func (d *Device) setPage(payload []byte) error {
	if len(payload) != 4 {
		return fmt.Errorf("set page: payload of %d bytes", len(payload))
	}
	page := int(payload[2])<<8 | int(payload[3])
	sector := protocol.SectorCfg
	if payload[0] == 0x40 {
		sector = protocol.SectorUFM
	}
	if page >= d.pages(sector) {
		d.fail = true
		return nil
	}
	d.page[sector] = page
	return nil
}

func (d *Device) readPage(sector protocol.Sector, r []byte) error {
	data, err := d.current(sector)
	if err != nil {
		return err
	}
	copy(r, data)
	if d.faults.CorruptReads > 0 && len(r) > 0 {
		d.faults.CorruptReads--
		r[0] ^= 0x01
	}
	d.page[sector]++
	return nil
}

func (d *Device) writePage(sector protocol.Sector, payload []byte) error {
	if len(payload) != protocol.PageSize {
		return fmt.Errorf("write page: payload of %d bytes", len(payload))
	}
	data, err := d.current(sector)
	if err != nil {
		return err
	}
	for i := range payload {
		data[i] |= payload[i]
	}
	d.page[sector]++
	d.busy = d.faults.BusyPolls
	return nil
}

// current returns the page under the page pointer of a sector.
func (d *Device) current(sector protocol.Sector) ([]byte, error) {
	mem := d.cfg
	if sector == protocol.SectorUFM {
		mem = d.ufm
	}
	off := d.page[sector] * protocol.PageSize
	if off+protocol.PageSize > len(mem) {
		return nil, fmt.Errorf("%s page %d out of range", sector, d.page[sector])
	}
	return mem[off : off+protocol.PageSize], nil
}

func (d *Device) pages(sector protocol.Sector) int {
	if sector == protocol.SectorUFM {
		return d.params.UFMPages
	}
	return d.params.CfgPages
}

func (d *Device) status() protocol.Status {
	var sr protocol.Status
	if d.done {
		sr |= protocol.StatusDone
	}
	if d.cfgEn {
		sr |= protocol.StatusCfgEnabled
	}
	if d.busy > 0 {
		sr |= protocol.StatusBusy
	}
	if d.fail {
		sr |= protocol.StatusFail
	}
	return sr
}

func putRegister(r []byte, v uint32) {
	if len(r) >= protocol.RegisterSize {
		binary.BigEndian.PutUint32(r, v)
	}
}
