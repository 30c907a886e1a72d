package programmer

import (
	"fmt"
	"time"

	"github.com/moffa90/go-machxo2/device"
	"github.com/moffa90/go-machxo2/protocol"
)

// Device is a session with one MachXO2 configuration port. It issues single
// commands and tracks whether the configuration interface is open.
//
// Device is not safe for concurrent use. Callers must serialize access to
// one physical device.
type Device struct {
	tr      Transport
	variant device.Variant
	params  device.Params
	config  Config
	cfgEn   bool
}

// NewDevice creates a handle for a device of the given variant.
//
// Example:
//
//	bus, _ := transport.Open("", 0x40, 400*physic.KiloHertz)
//	dev, err := programmer.NewDevice(bus, device.MachXO2_1200)
func NewDevice(tr Transport, variant device.Variant, opts ...Option) (*Device, error) {
	if tr == nil {
		return nil, fmt.Errorf("transport cannot be nil")
	}

	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	params, err := cfg.Table.Lookup(variant)
	if err != nil {
		return nil, err
	}

	return &Device{
		tr:      tr,
		variant: variant,
		params:  params,
		config:  cfg,
	}, nil
}

// Detect reads the IDCODE of the device behind tr and resolves it through
// the configured table. The IDCODE is returned even if it is unknown.
func Detect(tr Transport, opts ...Option) (device.Variant, uint32, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	cmd, err := protocol.BuildReadDeviceIDCmd()
	if err != nil {
		return 0, 0, err
	}
	buf := make([]byte, protocol.RegisterSize)
	if err := tr.Tx(cmd, buf); err != nil {
		return 0, 0, &TransportError{Op: "read device id", Err: err}
	}
	id, err := protocol.ParseRegister(buf)
	if err != nil {
		return 0, 0, err
	}

	v, err := cfg.Table.ByIDCode(id)
	return v, id, err
}

// Variant returns the device variant of the handle.
func (d *Device) Variant() device.Variant {
	return d.variant
}

// Params returns the parameters of the device variant.
func (d *Device) Params() device.Params {
	return d.params
}

// ConfigEnabled reports whether the configuration interface is open.
func (d *Device) ConfigEnabled() bool {
	return d.cfgEn
}

// Open enables the configuration interface and waits until the device is
// no longer busy.
func (d *Device) Open(mode protocol.CfgMode) error {
	const op = "open"
	cmd, err := protocol.BuildOpenCmd(mode)
	if err != nil {
		return err
	}

	d.logDebug(op, "mode", mode.String())
	if err := d.write(op, cmd); err != nil {
		d.cfgEn = false
		return err
	}
	if err := d.waitNotBusy(op); err != nil {
		d.cfgEn = false
		return err
	}

	d.cfgEn = true
	return nil
}

// Close disables the configuration interface.
func (d *Device) Close() error {
	const op = "close"
	cmd, err := protocol.BuildCloseCmd()
	if err != nil {
		return err
	}

	d.logDebug(op)
	if err := d.write(op, cmd); err != nil {
		return err
	}
	d.cfgEn = false
	return nil
}

// Bypass releases the configuration port.
func (d *Device) Bypass() error {
	cmd, err := protocol.BuildBypassCmd()
	if err != nil {
		return err
	}
	d.logDebug("bypass")
	return d.write("bypass", cmd)
}

// ReadDeviceID reads the 32-bit IDCODE.
func (d *Device) ReadDeviceID() (uint32, error) {
	cmd, err := protocol.BuildReadDeviceIDCmd()
	if err != nil {
		return 0, err
	}
	return d.readRegister("read device id", cmd)
}

// ReadUserCode reads the 32-bit USERCODE.
func (d *Device) ReadUserCode() (uint32, error) {
	cmd, err := protocol.BuildReadUserCodeCmd()
	if err != nil {
		return 0, err
	}
	return d.readRegister("read usercode", cmd)
}

// ReadTraceID reads the 64-bit TraceID.
func (d *Device) ReadTraceID() ([protocol.TraceIDSize]byte, error) {
	const op = "read traceid"
	cmd, err := protocol.BuildReadTraceIDCmd()
	if err != nil {
		return [protocol.TraceIDSize]byte{}, err
	}
	data, err := d.read(op, cmd, protocol.TraceIDSize)
	if err != nil {
		return [protocol.TraceIDSize]byte{}, err
	}
	return protocol.ParseTraceIDResponse(data)
}

// ReadStatus reads the status register.
func (d *Device) ReadStatus() (protocol.Status, error) {
	cmd, err := protocol.BuildReadStatusCmd()
	if err != nil {
		return 0, err
	}
	v, err := d.readRegister("read status", cmd)
	return protocol.Status(v), err
}

// SetUserCode programs the USERCODE. The register must be erased first.
func (d *Device) SetUserCode(code uint32) error {
	const op = "set usercode"
	if err := d.requireCfg(op); err != nil {
		return err
	}
	cmd, err := protocol.BuildSetUserCodeCmd(code)
	if err != nil {
		return err
	}
	return d.write(op, cmd)
}

// SetPage moves the page pointer of a sector to page.
func (d *Device) SetPage(sector protocol.Sector, page int) error {
	const op = "set page"
	if err := d.requireSector(op, sector); err != nil {
		return err
	}
	if pages := d.sectorPages(sector); page < 0 || page >= pages {
		return fmt.Errorf("%s: %s page %d of %d: %w", op, sector, page, pages, ErrPageRangeExceeded)
	}

	cmd, err := protocol.BuildSetPageCmd(sector, page)
	if err != nil {
		return err
	}
	d.logDebug(op, "sector", sector.String(), "page", page)
	return d.write(op, cmd)
}

// Erase clears the sectors selected by mask to all zero bits and waits for
// completion. The wait is sized by the largest selected sector.
func (d *Device) Erase(mask byte) error {
	const op = "erase"
	if err := d.requireCfg(op); err != nil {
		return err
	}
	cmd, err := protocol.BuildEraseCmd(mask)
	if err != nil {
		return err
	}

	d.logDebug(op, "mask", fmt.Sprintf("0x%02X", mask&protocol.EraseMask))
	if err := d.write(op, cmd); err != nil {
		return err
	}

	switch {
	case mask&protocol.EraseCfg != 0:
		d.sleep(d.params.CfgErase)
	case mask&protocol.EraseUFM != 0:
		d.sleep(d.params.UFMErase)
	default:
		d.sleep(MinEraseDelay)
	}
	return d.waitNotBusy(op)
}

// ResetAddress moves the page pointer to page 0 of the sector.
func (d *Device) ResetAddress(sector protocol.Sector) error {
	const op = "reset address"
	if err := d.requireSector(op, sector); err != nil {
		return err
	}
	cmd, err := protocol.BuildResetAddressCmd(sector)
	if err != nil {
		return err
	}
	return d.write(op, cmd)
}

// ReadPage reads the current page of the sector. The page pointer advances.
func (d *Device) ReadPage(sector protocol.Sector) ([]byte, error) {
	const op = "read page"
	if err := d.requireSector(op, sector); err != nil {
		return nil, err
	}
	cmd, err := protocol.BuildReadPageCmd(sector)
	if err != nil {
		return nil, err
	}
	return d.read(op, cmd, protocol.PageSize)
}

// WritePage programs the current page of the sector and waits for
// completion. The page pointer advances.
func (d *Device) WritePage(sector protocol.Sector, data []byte) error {
	const op = "write page"
	if err := d.requireSector(op, sector); err != nil {
		return err
	}
	cmd, err := protocol.BuildWritePageCmd(sector, data)
	if err != nil {
		return err
	}
	if err := d.write(op, cmd); err != nil {
		return err
	}
	d.sleep(PageProgramDelay)
	return d.waitNotBusy(op)
}

// WriteFeatureRow programs the feature row and FEABITS. The feature row
// must be erased first; only write values parsed from a valid bitstream.
func (d *Device) WriteFeatureRow(fr *protocol.FeatureRow) error {
	const op = "write feature row"
	if err := d.requireCfg(op); err != nil {
		return err
	}

	feature, err := protocol.BuildFeatureWriteCmd(fr)
	if err != nil {
		return err
	}
	feabits, err := protocol.BuildFeabitsWriteCmd(fr)
	if err != nil {
		return err
	}

	if err := d.write(op, feature); err != nil {
		return err
	}
	d.sleep(PageProgramDelay)
	if err := d.write(op, feabits); err != nil {
		return err
	}
	d.sleep(PageProgramDelay)
	return d.waitNotBusy(op)
}

// ReadFeatureRow reads the feature row and FEABITS.
func (d *Device) ReadFeatureRow() (*protocol.FeatureRow, error) {
	const op = "read feature row"
	if err := d.requireCfg(op); err != nil {
		return nil, err
	}

	cmd, err := protocol.BuildFeatureReadCmd()
	if err != nil {
		return nil, err
	}
	feature, err := d.read(op, cmd, protocol.FeatureSize)
	if err != nil {
		return nil, err
	}

	cmd, err = protocol.BuildFeabitsReadCmd()
	if err != nil {
		return nil, err
	}
	feabits, err := d.read(op, cmd, protocol.FeabitsSize)
	if err != nil {
		return nil, err
	}

	return protocol.ParseFeatureRowResponse(feature, feabits)
}

// SetDone programs the DONE bit and checks that it took.
func (d *Device) SetDone() error {
	const op = "set done"
	if err := d.requireCfg(op); err != nil {
		return err
	}
	cmd, err := protocol.BuildSetDoneCmd()
	if err != nil {
		return err
	}
	if err := d.write(op, cmd); err != nil {
		return err
	}
	d.sleep(SetDoneDelay)

	sr, err := d.ReadStatus()
	if err != nil {
		return err
	}
	return protocol.CheckDone(sr)
}

// Refresh reloads the design from flash and boots it. On success the
// configuration interface is closed.
//
// The device may not acknowledge the command while it reconfigures, so a
// failed write is only logged; the status read afterwards decides.
func (d *Device) Refresh() error {
	const op = "refresh"
	cmd, err := protocol.BuildRefreshCmd()
	if err != nil {
		return err
	}
	if err := d.write(op, cmd); err != nil {
		d.logDebug("refresh not acknowledged", "error", err)
	}
	d.sleep(d.params.Refresh)

	sr, err := d.ReadStatus()
	if err != nil {
		return err
	}
	if err := protocol.CheckRefresh(sr); err != nil {
		return err
	}
	d.cfgEn = false
	return nil
}

// waitNotBusy polls the status register until BUSY clears.
func (d *Device) waitNotBusy(op string) error {
	for attempt := 0; attempt < d.config.Poll.Attempts; attempt++ {
		sr, err := d.ReadStatus()
		if err != nil {
			return err
		}
		if sr.Fail() {
			return fmt.Errorf("%s: %w (status %s)", op, ErrFailFlag, sr)
		}
		if !sr.Busy() {
			return nil
		}
		d.sleep(d.config.Poll.Interval)
	}
	return fmt.Errorf("%s: %w after %d polls", op, ErrBusyTimeout, d.config.Poll.Attempts)
}

func (d *Device) requireCfg(op string) error {
	if !d.cfgEn {
		return fmt.Errorf("%s: %w", op, ErrNotInConfigMode)
	}
	return nil
}

// requireSector checks the configuration interface and that the device has
// the sector.
func (d *Device) requireSector(op string, sector protocol.Sector) error {
	if err := d.requireCfg(op); err != nil {
		return err
	}
	if sector == protocol.SectorUFM && !d.params.HasUFM() {
		return fmt.Errorf("%s: %s has no user flash: %w", op, d.params.Name, ErrUnsupportedOperation)
	}
	return nil
}

func (d *Device) sectorPages(sector protocol.Sector) int {
	if sector == protocol.SectorUFM {
		return d.params.UFMPages
	}
	return d.params.CfgPages
}

func (d *Device) write(op string, cmd []byte) error {
	if err := d.tr.Tx(cmd, nil); err != nil {
		return &TransportError{Op: op, Err: err}
	}
	return nil
}

func (d *Device) read(op string, cmd []byte, n int) ([]byte, error) {
	buf := make([]byte, n)
	if err := d.tr.Tx(cmd, buf); err != nil {
		return nil, &TransportError{Op: op, Err: err}
	}
	return buf, nil
}

func (d *Device) readRegister(op string, cmd []byte) (uint32, error) {
	data, err := d.read(op, cmd, protocol.RegisterSize)
	if err != nil {
		return 0, err
	}
	return protocol.ParseRegister(data)
}

func (d *Device) sleep(dur time.Duration) {
	if dur > 0 {
		d.config.Sleeper(dur)
	}
}

// logDebug logs a debug message if a logger is configured.
func (d *Device) logDebug(msg string, keysAndValues ...interface{}) {
	if d.config.Logger != nil {
		d.config.Logger.Debug(msg, append([]interface{}{"addr", fmt.Sprintf("0x%02X", d.config.Address)}, keysAndValues...)...)
	}
}
