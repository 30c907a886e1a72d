package programmer

import (
	"context"
	"fmt"
	"time"

	"github.com/moffa90/go-machxo2/device"
	"github.com/moffa90/go-machxo2/jedec"
	"github.com/moffa90/go-machxo2/protocol"
)

// Programmer sequences device commands into whole-device operations:
// program and verify, factory-blank recovery and raw user flash transfers.
//
// Programmer is not safe for concurrent use.
type Programmer struct {
	dev    *Device
	config Config
}

// HardwareInfo holds the identification registers and the variant they
// resolve to.
type HardwareInfo struct {
	protocol.HardwareInfo

	// Variant is the variant matching DeviceID, valid if Known is true
	Variant device.Variant

	// Known reports whether DeviceID is in the device table
	Known bool
}

// New creates a Programmer for a device of the given variant.
//
// Example:
//
//	bus, _ := transport.Open("", 0x40, 400*physic.KiloHertz)
//	prog, err := programmer.New(bus, device.MachXO2_1200,
//	    programmer.WithProgressCallback(progressFunc),
//	)
func New(tr Transport, variant device.Variant, opts ...Option) (*Programmer, error) {
	dev, err := NewDevice(tr, variant, opts...)
	if err != nil {
		return nil, err
	}
	return &Programmer{dev: dev, config: dev.config}, nil
}

// Device returns the underlying device handle.
func (p *Programmer) Device() *Device {
	return p.dev
}

// Program erases, programs and optionally verifies the sectors selected by
// mode, then sets DONE and boots the new design:
//  1. Open the configuration interface (transparent or offline)
//  2. Erase the selected sectors
//  3. Program (and verify) the configuration sector
//  4. Program (and verify) the user flash sector
//  5. Program (and verify) the feature row
//  6. Set DONE
//  7. Refresh, or close only when ModeNoLoad is set
//
// In transparent mode the feature row is never touched. If any step up to
// set-DONE fails the interface is closed and bypassed and a *PhaseError is
// returned.
//
// The context is checked between pages. An erase or page write that has
// been issued always runs to completion.
//
// Example:
//
//	img, _ := jedec.Parse("design.jed")
//	err := prog.Program(ctx, img, programmer.ModeCfg|programmer.ModeUFM|programmer.ModeFeatureRow|programmer.ModeVerify)
func (p *Programmer) Program(ctx context.Context, img *jedec.Image, mode Mode) error {
	if img == nil {
		return fmt.Errorf("image cannot be nil")
	}
	if img.Device != p.dev.variant {
		return fmt.Errorf("%w: image is for %s, device is %s", ErrDeviceMismatch, img.Device, p.dev.variant)
	}
	if mode.Has(ModeUFM) && !p.dev.params.HasUFM() {
		return fmt.Errorf("program: %s has no user flash: %w", p.dev.params.Name, ErrUnsupportedOperation)
	}
	if err := p.checkImageFits(img, mode); err != nil {
		return err
	}

	cfgMode := protocol.Offline
	if mode.Has(ModeTransparent) {
		cfgMode = protocol.Transparent
		mode &^= ModeFeatureRow
	}

	run := newRun(p, img, mode)
	p.logInfo("programming", "device", p.dev.params.Name, "mode", mode.String(),
		"cfg_pages", img.CfgPages(), "ufm_pages", img.UFMPages())

	run.report(ProgressOpening, 0, 0)
	if err := p.dev.Open(cfgMode); err != nil {
		return &PhaseError{Phase: PhaseOpen, Err: err}
	}

	finalized := false
	defer func() {
		if !finalized {
			p.abort()
		}
	}()

	run.report(ProgressErasing, 0, 0)
	if err := p.dev.Erase(mode.eraseMask()); err != nil {
		return &PhaseError{Phase: PhaseErase, Err: err}
	}

	if mode.Has(ModeCfg) {
		if err := run.sector(ctx, protocol.SectorCfg, cfgPhases); err != nil {
			return err
		}
	}
	if mode.Has(ModeUFM) {
		if err := run.sector(ctx, protocol.SectorUFM, ufmPhases); err != nil {
			return err
		}
	}
	if mode.Has(ModeFeatureRow) {
		run.report(ProgressFeatureRow, 0, 0)
		if err := p.featureRow(img, mode.Has(ModeVerify)); err != nil {
			return err
		}
	}

	run.report(ProgressFinalizing, 0, 0)
	if err := p.dev.SetDone(); err != nil {
		return &PhaseError{Phase: PhaseSetDone, Err: err}
	}
	finalized = true

	if mode.Has(ModeNoLoad) {
		if err := p.dev.Close(); err != nil {
			return &PhaseError{Phase: PhaseClose, Err: err}
		}
	} else {
		run.report(ProgressRefreshing, 0, 0)
		if err := p.refresh(); err != nil {
			return &PhaseError{Phase: PhaseRefresh, Err: err}
		}
	}

	run.report(ProgressComplete, 0, 0)
	p.logInfo("programming complete",
		"bytes", run.written,
		"elapsed", time.Since(run.start).String(),
	)
	return nil
}

// checkImageFits rejects images whose selected sectors exceed the device.
func (p *Programmer) checkImageFits(img *jedec.Image, mode Mode) error {
	if mode.Has(ModeCfg) && img.CfgPages() > p.dev.params.CfgPages {
		return fmt.Errorf("program: %d cfg pages, device has %d: %w",
			img.CfgPages(), p.dev.params.CfgPages, ErrPageRangeExceeded)
	}
	if mode.Has(ModeUFM) && img.UFMPages() > p.dev.params.UFMPages {
		return fmt.Errorf("program: %d ufm pages, device has %d: %w",
			img.UFMPages(), p.dev.params.UFMPages, ErrPageRangeExceeded)
	}
	return nil
}

// featureRow writes and optionally verifies the feature row.
func (p *Programmer) featureRow(img *jedec.Image, verify bool) error {
	want := img.FeatureRow
	if err := p.dev.WriteFeatureRow(&want); err != nil {
		return &PhaseError{Phase: PhaseFeatureWrite, Err: err}
	}
	if !verify {
		return nil
	}

	got, err := p.dev.ReadFeatureRow()
	if err != nil {
		return &PhaseError{Phase: PhaseFeatureVerify, Err: err}
	}
	for i := range want.Feature {
		if got.Feature[i] != want.Feature[i] {
			return &PhaseError{Phase: PhaseFeatureVerify, Err: &VerifyError{
				Page: -1, Offset: i, Expected: want.Feature[i], Actual: got.Feature[i],
			}}
		}
	}
	for i := range want.Feabits {
		if got.Feabits[i] != want.Feabits[i] {
			return &PhaseError{Phase: PhaseFeabitsVerify, Err: &VerifyError{
				Page: -1, Offset: protocol.FeatureSize + i, Expected: want.Feabits[i], Actual: got.Feabits[i],
			}}
		}
	}
	return nil
}

// refresh boots the design, retrying up to RefreshAttempts times.
func (p *Programmer) refresh() error {
	var last error
	for attempt := 1; attempt <= p.config.RefreshAttempts; attempt++ {
		last = p.dev.Refresh()
		if last == nil {
			return nil
		}
		p.logDebug("refresh attempt failed", "attempt", attempt, "error", last)
	}
	return fmt.Errorf("%w after %d attempts: %w", ErrRefreshTimeout, p.config.RefreshAttempts, last)
}

// abort is the cleanup after a failed Program step. Errors are logged and
// otherwise ignored.
func (p *Programmer) abort() {
	if err := p.dev.Close(); err != nil {
		p.logError("cleanup close failed", "error", err)
	}
	if err := p.dev.Bypass(); err != nil {
		p.logError("cleanup bypass failed", "error", err)
	}
}

// ClearDevice erases the configuration, user flash and feature row sectors
// and refreshes, leaving the device factory blank with the configuration
// ports enabled. Use it to recover from a failed Program.
//
// The refresh is attempted even if the erase failed. The returned
// *ClearError keeps both results.
func (p *Programmer) ClearDevice(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p.logInfo("clearing device", "device", p.dev.params.Name)
	if err := p.dev.Open(protocol.Offline); err != nil {
		return &ClearError{OpenErr: err}
	}

	eraseErr := p.dev.Erase(protocol.EraseCfg | protocol.EraseUFM | protocol.EraseFeatureRow)
	if eraseErr != nil {
		p.logError("clear erase failed", "error", eraseErr)
	}
	refreshErr := p.dev.Refresh()

	if eraseErr != nil || refreshErr != nil {
		return &ClearError{EraseErr: eraseErr, RefreshErr: refreshErr}
	}
	return nil
}

// ReadUserFlash reads count pages starting at page start into out, which
// must hold count*16 bytes. A negative count reads up to the end of the
// sector. The configuration interface is always closed and bypassed
// afterwards.
func (p *Programmer) ReadUserFlash(ctx context.Context, start, count int, out []byte) error {
	if count < 0 {
		count = p.dev.params.UFMPages - start
	}
	if err := p.checkUFMRange(start, count); err != nil {
		return err
	}
	if len(out) < count*protocol.PageSize {
		return fmt.Errorf("read user flash: buffer holds %d bytes, need %d", len(out), count*protocol.PageSize)
	}

	return p.userFlash(ctx, ProgressReadingUFM, start, count, false, func(i int) error {
		data, err := p.dev.ReadPage(protocol.SectorUFM)
		if err != nil {
			return fmt.Errorf("read ufm page %d: %w", start+i, err)
		}
		copy(out[i*protocol.PageSize:], data)
		return nil
	})
}

// WriteUserFlash programs count pages from in starting at page start. If
// erase is set the whole user flash sector is erased first; otherwise the
// target pages must already be blank. A count of 0 with erase set only
// erases. The configuration interface is always closed and bypassed
// afterwards.
func (p *Programmer) WriteUserFlash(ctx context.Context, start, count int, in []byte, erase bool) error {
	if count < 0 {
		return fmt.Errorf("write user flash: negative page count %d", count)
	}
	if err := p.checkUFMRange(start, count); err != nil {
		return err
	}
	if len(in) < count*protocol.PageSize {
		return fmt.Errorf("write user flash: buffer holds %d bytes, need %d", len(in), count*protocol.PageSize)
	}

	return p.userFlash(ctx, ProgressWritingUFM, start, count, erase, func(i int) error {
		page := in[i*protocol.PageSize : (i+1)*protocol.PageSize]
		if err := p.dev.WritePage(protocol.SectorUFM, page); err != nil {
			return fmt.Errorf("write ufm page %d: %w", start+i, err)
		}
		return nil
	})
}

func (p *Programmer) checkUFMRange(start, count int) error {
	if !p.dev.params.HasUFM() {
		return fmt.Errorf("user flash: %s has no user flash: %w", p.dev.params.Name, ErrUnsupportedOperation)
	}
	if start < 0 || count < 0 || start+count > p.dev.params.UFMPages {
		return fmt.Errorf("user flash pages %d+%d, sector has %d: %w",
			start, count, p.dev.params.UFMPages, ErrPageRangeExceeded)
	}
	return nil
}

// userFlash runs a page loop over the user flash in transparent mode.
func (p *Programmer) userFlash(ctx context.Context, phase string, start, count int, erase bool, page func(i int) error) error {
	p.logInfo("user flash transfer", "phase", phase, "start", start, "pages", count, "erase", erase)

	if err := p.dev.Open(protocol.Transparent); err != nil {
		return err
	}
	defer func() {
		if cerr := p.dev.Close(); cerr != nil {
			p.logError("close failed", "error", cerr)
		}
		if berr := p.dev.Bypass(); berr != nil {
			p.logError("bypass failed", "error", berr)
		}
	}()

	if erase {
		if err := p.dev.Erase(protocol.EraseUFM); err != nil {
			return err
		}
		if err := p.dev.ResetAddress(protocol.SectorUFM); err != nil {
			return err
		}
	}
	if count == 0 {
		return nil
	}
	if err := p.dev.SetPage(protocol.SectorUFM, start); err != nil {
		return err
	}

	started := time.Now()
	for i := 0; i < count; i++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("cancelled: %w", err)
		}
		if err := page(i); err != nil {
			return err
		}
		p.reportProgress(Progress{
			Phase:        phase,
			CurrentPage:  i + 1,
			TotalPages:   count,
			Percentage:   float64(i+1) / float64(count) * 100,
			BytesWritten: (i + 1) * protocol.PageSize,
			ElapsedTime:  time.Since(started),
		})
	}
	return nil
}

// HardwareInfo reads the IDCODE, USERCODE and TraceID registers. The
// configuration interface does not need to be open.
func (p *Programmer) HardwareInfo(ctx context.Context) (*HardwareInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	info := &HardwareInfo{}
	var err error
	if info.DeviceID, err = p.dev.ReadDeviceID(); err != nil {
		return nil, err
	}
	if info.UserCode, err = p.dev.ReadUserCode(); err != nil {
		return nil, err
	}
	if info.TraceID, err = p.dev.ReadTraceID(); err != nil {
		return nil, err
	}

	if v, err := p.config.Table.ByIDCode(info.DeviceID); err == nil {
		info.Variant = v
		info.Known = true
	}
	return info, nil
}

// Status reads the status register.
func (p *Programmer) Status(ctx context.Context) (protocol.Status, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return p.dev.ReadStatus()
}

// VerifyImage compares the configuration and user flash sectors of the
// device with the image without programming anything. The configuration
// interface is opened in transparent mode and always closed and bypassed
// afterwards.
func (p *Programmer) VerifyImage(ctx context.Context, img *jedec.Image) error {
	if img == nil {
		return fmt.Errorf("image cannot be nil")
	}
	if img.Device != p.dev.variant {
		return fmt.Errorf("%w: image is for %s, device is %s", ErrDeviceMismatch, img.Device, p.dev.variant)
	}

	mode := ModeVerify
	if img.CfgPages() > 0 {
		mode |= ModeCfg
	}
	if img.UFMPages() > 0 && p.dev.params.HasUFM() {
		mode |= ModeUFM
	}
	if err := p.checkImageFits(img, mode); err != nil {
		return err
	}

	run := newRun(p, img, mode&^ModeVerify)
	run.report(ProgressOpening, 0, 0)
	if err := p.dev.Open(protocol.Transparent); err != nil {
		return &PhaseError{Phase: PhaseOpen, Err: err}
	}
	defer p.abort()

	if mode.Has(ModeCfg) {
		if err := run.verify(ctx, protocol.SectorCfg, cfgPhases); err != nil {
			return err
		}
	}
	if mode.Has(ModeUFM) {
		if err := run.verify(ctx, protocol.SectorUFM, ufmPhases); err != nil {
			return err
		}
	}

	run.report(ProgressComplete, 0, 0)
	return nil
}

// reportProgress calls the progress callback if configured.
func (p *Programmer) reportProgress(progress Progress) {
	if p.config.ProgressCallback != nil {
		p.config.ProgressCallback(progress)
	}
}

// logDebug logs a debug message if a logger is configured.
func (p *Programmer) logDebug(msg string, keysAndValues ...interface{}) {
	if p.config.Logger != nil {
		p.config.Logger.Debug(msg, keysAndValues...)
	}
}

// logInfo logs an info message if a logger is configured.
func (p *Programmer) logInfo(msg string, keysAndValues ...interface{}) {
	if p.config.Logger != nil {
		p.config.Logger.Info(msg, keysAndValues...)
	}
}

// logError logs an error message if a logger is configured.
func (p *Programmer) logError(msg string, keysAndValues ...interface{}) {
	if p.config.Logger != nil {
		p.config.Logger.Error(msg, keysAndValues...)
	}
}
