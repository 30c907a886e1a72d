package programmer

import (
	"context"
	"fmt"
	"time"

	"github.com/moffa90/go-machxo2/jedec"
	"github.com/moffa90/go-machxo2/protocol"
)

// sectorPhases maps the steps of one sector to their phases and progress
// names.
type sectorPhases struct {
	reset, write, verifyReset, read, verify Phase
	programming, verifying                  string
}

var (
	cfgPhases = sectorPhases{
		reset:       PhaseCfgReset,
		write:       PhaseCfgWrite,
		verifyReset: PhaseCfgVerifyReset,
		read:        PhaseCfgRead,
		verify:      PhaseCfgVerify,
		programming: ProgressProgrammingCfg,
		verifying:   ProgressVerifyingCfg,
	}
	ufmPhases = sectorPhases{
		reset:       PhaseUFMReset,
		write:       PhaseUFMWrite,
		verifyReset: PhaseUFMVerifyReset,
		read:        PhaseUFMRead,
		verify:      PhaseUFMVerify,
		programming: ProgressProgrammingUFM,
		verifying:   ProgressVerifyingUFM,
	}
)

// run tracks the progress of one Program or VerifyImage call.
type run struct {
	p          *Programmer
	img        *jedec.Image
	verifyPass bool
	start      time.Time
	total      int // page operations of the whole run
	done       int
	written    int
}

func newRun(p *Programmer, img *jedec.Image, mode Mode) *run {
	r := &run{p: p, img: img, verifyPass: mode.Has(ModeVerify), start: time.Now()}
	passes := 1
	if r.verifyPass {
		passes = 2
	}
	if mode.Has(ModeCfg) {
		r.total += passes * img.CfgPages()
	}
	if mode.Has(ModeUFM) {
		r.total += passes * img.UFMPages()
	}
	return r
}

func (r *run) report(phase string, current, total int) {
	pct := 100.0
	if r.total > 0 {
		pct = float64(r.done) / float64(r.total) * 100
	}
	if phase == ProgressComplete {
		pct = 100
	}
	r.p.reportProgress(Progress{
		Phase:        phase,
		CurrentPage:  current,
		TotalPages:   total,
		Percentage:   pct,
		BytesWritten: r.written,
		ElapsedTime:  time.Since(r.start),
	})
}

// sector programs every image page of a sector from page 0 and verifies it
// if requested.
func (r *run) sector(ctx context.Context, sector protocol.Sector, ph sectorPhases) error {
	dev := r.p.dev
	pages := len(r.img.Data(sector)) / protocol.PageSize

	if err := dev.ResetAddress(sector); err != nil {
		return &PhaseError{Phase: ph.reset, Err: err}
	}
	for i := 0; i < pages; i++ {
		if err := ctx.Err(); err != nil {
			return &PhaseError{Phase: ph.write, Err: fmt.Errorf("cancelled at page %d: %w", i, err)}
		}
		if err := dev.WritePage(sector, r.img.Page(sector, i)); err != nil {
			return &PhaseError{Phase: ph.write, Err: fmt.Errorf("page %d: %w", i, err)}
		}
		r.done++
		r.written += protocol.PageSize
		r.report(ph.programming, i+1, pages)
	}
	r.p.logDebug("sector programmed", "sector", sector.String(), "pages", pages)

	if r.verifyPass {
		return r.verify(ctx, sector, ph)
	}
	return nil
}

// verify reads every image page of a sector from page 0 and compares it.
func (r *run) verify(ctx context.Context, sector protocol.Sector, ph sectorPhases) error {
	dev := r.p.dev
	pages := len(r.img.Data(sector)) / protocol.PageSize

	if err := dev.ResetAddress(sector); err != nil {
		return &PhaseError{Phase: ph.verifyReset, Err: err}
	}
	for i := 0; i < pages; i++ {
		if err := ctx.Err(); err != nil {
			return &PhaseError{Phase: ph.read, Err: fmt.Errorf("cancelled at page %d: %w", i, err)}
		}
		got, err := dev.ReadPage(sector)
		if err != nil {
			return &PhaseError{Phase: ph.read, Err: fmt.Errorf("page %d: %w", i, err)}
		}
		want := r.img.Page(sector, i)
		for off := range want {
			if got[off] != want[off] {
				return &PhaseError{Phase: ph.verify, Err: &VerifyError{
					Sector: sector, Page: i, Offset: off, Expected: want[off], Actual: got[off],
				}}
			}
		}
		r.done++
		r.report(ph.verifying, i+1, pages)
	}
	r.p.logDebug("sector verified", "sector", sector.String(), "pages", pages)
	return nil
}
