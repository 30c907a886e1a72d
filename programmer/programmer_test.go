package programmer

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/moffa90/go-machxo2/device"
	"github.com/moffa90/go-machxo2/jedec"
	"github.com/moffa90/go-machxo2/protocol"
	"github.com/moffa90/go-machxo2/simulator"
)

// MockLogger records log messages for testing
type MockLogger struct {
	debugMsgs []string
	infoMsgs  []string
	errorMsgs []string
}

func (l *MockLogger) Debug(msg string, kv ...interface{}) {
	l.debugMsgs = append(l.debugMsgs, msg)
}

func (l *MockLogger) Info(msg string, kv ...interface{}) {
	l.infoMsgs = append(l.infoMsgs, msg)
}

func (l *MockLogger) Error(msg string, kv ...interface{}) {
	l.errorMsgs = append(l.errorMsgs, msg)
}

func noSleep(time.Duration) {}

// testImage builds an image with distinct, non-zero page contents.
func testImage(v device.Variant, cfgPages, ufmPages int) *jedec.Image {
	fill := func(n int, seed byte) []byte {
		data := make([]byte, n*protocol.PageSize)
		for i := range data {
			data[i] = seed + byte(i*7) | 0x01
		}
		return data
	}
	return &jedec.Image{
		Device:    v,
		PageCount: cfgPages + ufmPages,
		CfgData:   fill(cfgPages, 0x10),
		UFMData:   fill(ufmPages, 0x80),
		FeatureRow: protocol.FeatureRow{
			Feature: [8]byte{0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x40},
			Feabits: [2]byte{0x04, 0x20},
		},
		UserCode: 0x12345678,
	}
}

func newSimProgrammer(t *testing.T, v device.Variant, faults simulator.Faults, opts ...Option) (*Programmer, *simulator.Device) {
	t.Helper()
	sim := simulator.New(device.DefaultTable().MustLookup(v), simulator.WithFaults(faults))
	opts = append([]Option{WithSleeper(noSleep)}, opts...)
	prog, err := New(sim, v, opts...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return prog, sim
}

// tail returns the last n opcodes sent to the simulator.
func tail(sim *simulator.Device, n int) []byte {
	ops := sim.Opcodes()
	if len(ops) < n {
		return ops
	}
	return ops[len(ops)-n:]
}

func countOpcode(sim *simulator.Device, op byte) int {
	return bytes.Count(sim.Opcodes(), []byte{op})
}

// eraseMask returns the mask of the first erase command sent.
func eraseMask(t *testing.T, sim *simulator.Device) byte {
	t.Helper()
	for _, c := range sim.Commands() {
		if c[0] == protocol.CmdErase {
			return c[1]
		}
	}
	t.Fatal("no erase command sent")
	return 0
}

func phaseOf(t *testing.T, err error) Phase {
	t.Helper()
	var pe *PhaseError
	if !errors.As(err, &pe) {
		t.Fatalf("error %v is not a *PhaseError", err)
	}
	return pe.Phase
}

func TestNew(t *testing.T) {
	sim := simulator.New(device.DefaultTable().MustLookup(device.MachXO2_1200))

	tests := []struct {
		name    string
		tr      Transport
		variant device.Variant
		options []Option
		wantErr bool
	}{
		{
			name:    "with no options",
			tr:      sim,
			variant: device.MachXO2_1200,
		},
		{
			name:    "with options",
			tr:      sim,
			variant: device.MachXO2_1200,
			options: []Option{
				WithLogger(&MockLogger{}),
				WithProgressCallback(func(Progress) {}),
				WithRefreshAttempts(3),
				WithPollPolicy(PollPolicy{Interval: time.Millisecond, Attempts: 5}),
			},
		},
		{
			name:    "nil transport",
			variant: device.MachXO2_1200,
			wantErr: true,
		},
		{
			name:    "unknown variant",
			tr:      sim,
			variant: device.Variant(42),
			wantErr: true,
		},
		{
			name:    "variant missing from table",
			tr:      sim,
			variant: device.MachXO2_7000,
			options: []Option{WithTable(device.NewTable(map[device.Variant]device.Params{
				device.MachXO2_256: device.DefaultTable().MustLookup(device.MachXO2_256),
			}))},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prog, err := New(tt.tr, tt.variant, tt.options...)
			if (err != nil) != tt.wantErr {
				t.Fatalf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && prog.Device().Variant() != tt.variant {
				t.Errorf("Variant() = %v, want %v", prog.Device().Variant(), tt.variant)
			}
		})
	}
}

func TestProgramVerifyMismatch(t *testing.T) {
	prog, sim := newSimProgrammer(t, device.MachXO2_1200, simulator.Faults{CorruptReads: 1})
	img := testImage(device.MachXO2_1200, 4, 0)

	err := prog.Program(context.Background(), img, ModeCfg|ModeVerify)
	if err == nil {
		t.Fatal("Program() expected verify error")
	}

	if got := phaseOf(t, err); got != PhaseCfgVerify {
		t.Errorf("phase = %v, want %v", got, PhaseCfgVerify)
	}
	if code := phaseOf(t, err).Code(); code != -15 {
		t.Errorf("code = %d, want -15", code)
	}
	if !errors.Is(err, ErrVerifyMismatch) {
		t.Errorf("error %v does not wrap ErrVerifyMismatch", err)
	}

	var ve *VerifyError
	if !errors.As(err, &ve) {
		t.Fatalf("error %v is not a *VerifyError", err)
	}
	if ve.Sector != protocol.SectorCfg || ve.Page != 0 || ve.Offset != 0 {
		t.Errorf("mismatch at %s page %d byte %d, want cfg page 0 byte 0", ve.Sector, ve.Page, ve.Offset)
	}

	want := []byte{protocol.CmdClose, protocol.CmdBypass}
	if got := tail(sim, 2); !bytes.Equal(got, want) {
		t.Errorf("last commands = % X, want close and bypass % X", got, want)
	}
	if n := countOpcode(sim, protocol.CmdSetDone); n != 0 {
		t.Errorf("set done sent %d times after a failed verify", n)
	}
	if sim.ConfigEnabled() {
		t.Error("configuration interface left open")
	}
}

func TestProgramFull(t *testing.T) {
	var progress []Progress
	logger := &MockLogger{}
	prog, sim := newSimProgrammer(t, device.MachXO2_1200, simulator.Faults{BusyPolls: 2},
		WithLogger(logger),
		WithProgressCallback(func(p Progress) { progress = append(progress, p) }),
	)
	img := testImage(device.MachXO2_1200, 8, 3)

	err := prog.Program(context.Background(), img, ModeCfg|ModeUFM|ModeFeatureRow|ModeVerify)
	if err != nil {
		t.Fatalf("Program() error = %v", err)
	}

	if got := sim.Flash(protocol.SectorCfg)[:len(img.CfgData)]; !bytes.Equal(got, img.CfgData) {
		t.Error("cfg sector does not match the image")
	}
	if got := sim.Flash(protocol.SectorUFM)[:len(img.UFMData)]; !bytes.Equal(got, img.UFMData) {
		t.Error("ufm sector does not match the image")
	}
	if got := sim.FeatureRow(); got != img.FeatureRow {
		t.Errorf("feature row = %+v, want %+v", got, img.FeatureRow)
	}
	if mask := eraseMask(t, sim); mask != protocol.EraseCfg|protocol.EraseUFM|protocol.EraseFeatureRow {
		t.Errorf("erase mask = 0x%02X, want 0x0E", mask)
	}
	if ops := sim.Opcodes(); ops[0] != protocol.CmdOpenOffline {
		t.Errorf("first command = 0x%02X, want offline open", ops[0])
	}
	if n := countOpcode(sim, protocol.CmdRefresh); n != 1 {
		t.Errorf("refresh sent %d times, want 1", n)
	}
	if sim.ConfigEnabled() || prog.Device().ConfigEnabled() {
		t.Error("configuration interface still open after refresh")
	}
	if sr := sim.Status(); !sr.RefreshOK() {
		t.Errorf("status = %s, want booted", sr)
	}

	if len(progress) == 0 {
		t.Fatal("no progress reported")
	}
	last := progress[len(progress)-1]
	if last.Phase != ProgressComplete || last.Percentage != 100 {
		t.Errorf("last progress = %+v, want complete at 100%%", last)
	}
	if last.BytesWritten != len(img.CfgData)+len(img.UFMData) {
		t.Errorf("BytesWritten = %d, want %d", last.BytesWritten, len(img.CfgData)+len(img.UFMData))
	}
	phases := map[string]bool{}
	for i, p := range progress {
		phases[p.Phase] = true
		if i > 0 && p.Percentage < progress[i-1].Percentage {
			t.Errorf("percentage went backwards: %.1f after %.1f", p.Percentage, progress[i-1].Percentage)
		}
	}
	for _, ph := range []string{ProgressOpening, ProgressErasing, ProgressProgrammingCfg, ProgressVerifyingCfg,
		ProgressProgrammingUFM, ProgressVerifyingUFM, ProgressFeatureRow, ProgressFinalizing, ProgressRefreshing} {
		if !phases[ph] {
			t.Errorf("phase %q not reported", ph)
		}
	}

	if len(logger.infoMsgs) == 0 {
		t.Error("expected info log messages")
	}
}

func TestProgramModes(t *testing.T) {
	tests := []struct {
		name         string
		mode         Mode
		wantOpen     byte
		wantMask     byte
		wantFeature  bool
		wantRefresh  int
		wantLastOp   byte
		wantCfgAfter bool
	}{
		{
			name:        "offline cfg and feature row",
			mode:        ModeCfg | ModeFeatureRow,
			wantOpen:    protocol.CmdOpenOffline,
			wantMask:    protocol.EraseCfg | protocol.EraseFeatureRow,
			wantFeature: true,
			wantRefresh: 1,
			wantLastOp:  protocol.CmdReadStatus,
		},
		{
			name:        "transparent strips feature row",
			mode:        ModeTransparent | ModeCfg | ModeFeatureRow,
			wantOpen:    protocol.CmdOpenTransparent,
			wantMask:    protocol.EraseCfg,
			wantRefresh: 1,
			wantLastOp:  protocol.CmdReadStatus,
		},
		{
			name:        "noload closes without refresh",
			mode:        ModeNoLoad | ModeCfg | ModeFeatureRow,
			wantOpen:    protocol.CmdOpenTransparent,
			wantMask:    protocol.EraseCfg,
			wantRefresh: 0,
			wantLastOp:  protocol.CmdClose,
		},
		{
			name:        "sram bit is passed to erase",
			mode:        ModeSRAM | ModeCfg,
			wantOpen:    protocol.CmdOpenOffline,
			wantMask:    protocol.EraseSRAM | protocol.EraseCfg,
			wantRefresh: 1,
			wantLastOp:  protocol.CmdReadStatus,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prog, sim := newSimProgrammer(t, device.MachXO2_1200, simulator.Faults{})
			img := testImage(device.MachXO2_1200, 2, 0)

			if err := prog.Program(context.Background(), img, tt.mode); err != nil {
				t.Fatalf("Program() error = %v", err)
			}

			ops := sim.Opcodes()
			if ops[0] != tt.wantOpen {
				t.Errorf("open = 0x%02X, want 0x%02X", ops[0], tt.wantOpen)
			}
			if mask := eraseMask(t, sim); mask != tt.wantMask {
				t.Errorf("erase mask = 0x%02X, want 0x%02X", mask, tt.wantMask)
			}
			if got := countOpcode(sim, protocol.CmdFeatureWrite) > 0; got != tt.wantFeature {
				t.Errorf("feature row written = %v, want %v", got, tt.wantFeature)
			}
			if n := countOpcode(sim, protocol.CmdRefresh); n != tt.wantRefresh {
				t.Errorf("refresh sent %d times, want %d", n, tt.wantRefresh)
			}
			if last := ops[len(ops)-1]; last != tt.wantLastOp {
				t.Errorf("last command = 0x%02X, want 0x%02X", last, tt.wantLastOp)
			}
			if n := countOpcode(sim, protocol.CmdBypass); n != 0 {
				t.Errorf("bypass sent %d times on success", n)
			}
		})
	}
}

func TestProgramCfgOnlyKeepsOtherSectors(t *testing.T) {
	prog, sim := newSimProgrammer(t, device.MachXO2_1200, simulator.Faults{})

	resident := testImage(device.MachXO2_1200, 4, 3)
	if err := sim.LoadImage(resident); err != nil {
		t.Fatalf("LoadImage() error = %v", err)
	}
	ufmBefore := sim.Flash(protocol.SectorUFM)
	featureBefore := sim.FeatureRow()

	update := testImage(device.MachXO2_1200, 8, 3)
	for i := range update.UFMData {
		update.UFMData[i] = 0xFF
	}
	update.FeatureRow = protocol.FeatureRow{Feature: [8]byte{0xFF}, Feabits: [2]byte{0xFF, 0xFF}}

	if err := prog.Program(context.Background(), update, ModeCfg|ModeVerify); err != nil {
		t.Fatalf("Program() error = %v", err)
	}

	if got := sim.Flash(protocol.SectorCfg)[:len(update.CfgData)]; !bytes.Equal(got, update.CfgData) {
		t.Error("cfg sector does not match the new image")
	}
	if got := sim.Flash(protocol.SectorUFM); !bytes.Equal(got, ufmBefore) {
		t.Error("user flash changed by a cfg-only program")
	}
	if got := sim.FeatureRow(); got != featureBefore {
		t.Errorf("feature row = %+v, want unchanged %+v", got, featureBefore)
	}
	for _, op := range []byte{protocol.CmdUFMResetAddress, protocol.CmdFeatureWrite, protocol.CmdFeabitsWrite} {
		if n := countOpcode(sim, op); n != 0 {
			t.Errorf("opcode 0x%02X sent %d times", op, n)
		}
	}
}

func TestProgramRefreshRetry(t *testing.T) {
	t.Run("succeeds after retries", func(t *testing.T) {
		prog, sim := newSimProgrammer(t, device.MachXO2_256, simulator.Faults{RefreshFailures: 3})
		img := testImage(device.MachXO2_256, 2, 0)

		if err := prog.Program(context.Background(), img, ModeCfg); err != nil {
			t.Fatalf("Program() error = %v", err)
		}
		if n := countOpcode(sim, protocol.CmdRefresh); n != 4 {
			t.Errorf("refresh sent %d times, want 4", n)
		}
	})

	t.Run("gives up", func(t *testing.T) {
		prog, sim := newSimProgrammer(t, device.MachXO2_256, simulator.Faults{RefreshFailures: 100},
			WithRefreshAttempts(5))
		img := testImage(device.MachXO2_256, 2, 0)

		err := prog.Program(context.Background(), img, ModeCfg)
		if got := phaseOf(t, err); got != PhaseRefresh {
			t.Errorf("phase = %v, want %v", got, PhaseRefresh)
		}
		if !errors.Is(err, ErrRefreshTimeout) {
			t.Errorf("error %v does not wrap ErrRefreshTimeout", err)
		}
		var se *protocol.StatusError
		if !errors.As(err, &se) || se.Operation != "refresh" {
			t.Errorf("error %v does not wrap the last refresh status", err)
		}
		if n := countOpcode(sim, protocol.CmdRefresh); n != 5 {
			t.Errorf("refresh sent %d times, want 5", n)
		}
		if n := countOpcode(sim, protocol.CmdBypass); n != 0 {
			t.Errorf("bypass sent %d times after set done", n)
		}
	})
}

// statusAfterRefresh fails every status read once a refresh was sent.
type statusAfterRefresh struct {
	*simulator.Device
	refreshed bool
}

func (s *statusAfterRefresh) Tx(w, r []byte) error {
	switch {
	case w[0] == protocol.CmdRefresh:
		s.refreshed = true
	case s.refreshed && w[0] == protocol.CmdReadStatus:
		return errors.New("no acknowledge")
	}
	return s.Device.Tx(w, r)
}

func TestProgramRefreshTransportError(t *testing.T) {
	tr := &statusAfterRefresh{Device: simulator.New(device.DefaultTable().MustLookup(device.MachXO2_256))}
	prog, err := New(tr, device.MachXO2_256, WithSleeper(noSleep), WithRefreshAttempts(3))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	err = prog.Program(context.Background(), testImage(device.MachXO2_256, 2, 0), ModeCfg)
	if got := phaseOf(t, err); got != PhaseRefresh {
		t.Errorf("phase = %v, want %v", got, PhaseRefresh)
	}
	if !errors.Is(err, ErrRefreshTimeout) {
		t.Errorf("error %v does not wrap ErrRefreshTimeout", err)
	}
	if !IsTransportError(err) {
		t.Errorf("error %v does not wrap the transport failure", err)
	}
}

func TestProgramValidation(t *testing.T) {
	tests := []struct {
		name    string
		variant device.Variant
		img     *jedec.Image
		mode    Mode
		wantErr error
		errMsg  string
	}{
		{
			name:    "nil image",
			variant: device.MachXO2_1200,
			mode:    ModeCfg,
			errMsg:  "image cannot be nil",
		},
		{
			name:    "image for another variant",
			variant: device.MachXO2_1200,
			img:     testImage(device.MachXO2_2000, 2, 0),
			mode:    ModeCfg,
			wantErr: ErrDeviceMismatch,
		},
		{
			name:    "user flash on device without user flash",
			variant: device.MachXO2_256,
			img:     testImage(device.MachXO2_256, 2, 0),
			mode:    ModeCfg | ModeUFM,
			wantErr: ErrUnsupportedOperation,
		},
		{
			name:    "cfg data larger than sector",
			variant: device.MachXO2_256,
			img:     testImage(device.MachXO2_256, 576, 0),
			mode:    ModeCfg,
			wantErr: ErrPageRangeExceeded,
		},
		{
			name:    "ufm data larger than sector",
			variant: device.MachXO2_640,
			img:     testImage(device.MachXO2_640, 1, 192),
			mode:    ModeUFM,
			wantErr: ErrPageRangeExceeded,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prog, sim := newSimProgrammer(t, tt.variant, simulator.Faults{})

			err := prog.Program(context.Background(), tt.img, tt.mode)
			if err == nil {
				t.Fatal("Program() expected error")
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("Program() error = %v, want %v", err, tt.wantErr)
			}
			if tt.errMsg != "" && !strings.Contains(err.Error(), tt.errMsg) {
				t.Errorf("Program() error = %v, want containing %q", err, tt.errMsg)
			}
			if n := len(sim.Opcodes()); n != 0 {
				t.Errorf("%d commands sent before validation failed", n)
			}
		})
	}
}

func TestProgramPhaseErrors(t *testing.T) {
	tests := []struct {
		name      string
		faults    simulator.Faults
		opts      []Option
		mode      Mode
		wantPhase Phase
		wantErr   error
		transport bool
		cleanup   bool
	}{
		{
			name:      "open bus error",
			faults:    simulator.Faults{TxErrorOpcode: protocol.CmdOpenOffline},
			mode:      ModeCfg,
			wantPhase: PhaseOpen,
			transport: true,
		},
		{
			name:      "erase fail flag",
			faults:    simulator.Faults{FailOpcode: protocol.CmdErase},
			mode:      ModeCfg,
			wantPhase: PhaseErase,
			wantErr:   ErrFailFlag,
			cleanup:   true,
		},
		{
			name:      "erase busy timeout",
			faults:    simulator.Faults{BusyPolls: 10},
			opts:      []Option{WithPollPolicy(PollPolicy{Interval: time.Millisecond, Attempts: 3})},
			mode:      ModeCfg,
			wantPhase: PhaseErase,
			wantErr:   ErrBusyTimeout,
			cleanup:   true,
		},
		{
			name:      "cfg reset bus error",
			faults:    simulator.Faults{TxErrorOpcode: protocol.CmdCfgResetAddress},
			mode:      ModeCfg,
			wantPhase: PhaseCfgReset,
			transport: true,
			cleanup:   true,
		},
		{
			name:      "cfg write bus error",
			faults:    simulator.Faults{TxErrorOpcode: protocol.CmdCfgWritePage},
			mode:      ModeCfg,
			wantPhase: PhaseCfgWrite,
			transport: true,
			cleanup:   true,
		},
		{
			name:      "cfg read bus error",
			faults:    simulator.Faults{TxErrorOpcode: protocol.CmdCfgReadPage},
			mode:      ModeCfg | ModeVerify,
			wantPhase: PhaseCfgRead,
			transport: true,
			cleanup:   true,
		},
		{
			name:      "ufm write fail flag",
			faults:    simulator.Faults{FailOpcode: protocol.CmdUFMWritePage},
			mode:      ModeCfg | ModeUFM,
			wantPhase: PhaseUFMWrite,
			wantErr:   ErrFailFlag,
			cleanup:   true,
		},
		{
			name:      "ufm verify mismatch",
			faults:    simulator.Faults{CorruptReads: 1},
			mode:      ModeUFM | ModeVerify,
			wantPhase: PhaseUFMVerify,
			wantErr:   ErrVerifyMismatch,
			cleanup:   true,
		},
		{
			name:      "feature row write bus error",
			faults:    simulator.Faults{TxErrorOpcode: protocol.CmdFeatureWrite},
			mode:      ModeCfg | ModeFeatureRow,
			wantPhase: PhaseFeatureWrite,
			transport: true,
			cleanup:   true,
		},
		{
			name:      "feature row read bus error",
			faults:    simulator.Faults{TxErrorOpcode: protocol.CmdFeatureRead},
			mode:      ModeCfg | ModeFeatureRow | ModeVerify,
			wantPhase: PhaseFeatureVerify,
			transport: true,
			cleanup:   true,
		},
		{
			name:      "set done fail flag",
			faults:    simulator.Faults{FailOpcode: protocol.CmdSetDone},
			mode:      ModeCfg,
			wantPhase: PhaseSetDone,
			cleanup:   true,
		},
		{
			name:      "noload close bus error",
			faults:    simulator.Faults{TxErrorOpcode: protocol.CmdClose},
			mode:      ModeNoLoad | ModeCfg,
			wantPhase: PhaseClose,
			transport: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := &MockLogger{}
			opts := append([]Option{WithLogger(logger)}, tt.opts...)
			prog, sim := newSimProgrammer(t, device.MachXO2_1200, tt.faults, opts...)
			img := testImage(device.MachXO2_1200, 3, 2)

			err := prog.Program(context.Background(), img, tt.mode)
			if err == nil {
				t.Fatal("Program() expected error")
			}
			if got := phaseOf(t, err); got != tt.wantPhase {
				t.Errorf("phase = %v, want %v (error %v)", got, tt.wantPhase, err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("error %v does not wrap %v", err, tt.wantErr)
			}
			if tt.transport && !IsTransportError(err) {
				t.Errorf("error %v is not a transport error", err)
			}

			want := []byte{protocol.CmdClose, protocol.CmdBypass}
			gotCleanup := bytes.Equal(tail(sim, 2), want)
			if gotCleanup != tt.cleanup {
				t.Errorf("close and bypass issued = %v, want %v (commands % X)", gotCleanup, tt.cleanup, sim.Opcodes())
			}
		})
	}
}

func TestProgramCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	prog, sim := newSimProgrammer(t, device.MachXO2_1200, simulator.Faults{},
		WithProgressCallback(func(p Progress) {
			if p.Phase == ProgressProgrammingCfg && p.CurrentPage == 2 {
				cancel()
			}
		}),
	)
	img := testImage(device.MachXO2_1200, 10, 0)

	err := prog.Program(ctx, img, ModeCfg)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Program() error = %v, want context.Canceled", err)
	}
	if got := phaseOf(t, err); got != PhaseCfgWrite {
		t.Errorf("phase = %v, want %v", got, PhaseCfgWrite)
	}
	if n := countOpcode(sim, protocol.CmdCfgWritePage); n != 2 {
		t.Errorf("%d pages written, want 2", n)
	}
	want := []byte{protocol.CmdClose, protocol.CmdBypass}
	if got := tail(sim, 2); !bytes.Equal(got, want) {
		t.Errorf("last commands = % X, want % X", got, want)
	}
}

func TestClearDevice(t *testing.T) {
	t.Run("device without user flash", func(t *testing.T) {
		prog, sim := newSimProgrammer(t, device.MachXO2_256, simulator.Faults{})
		if err := sim.LoadImage(testImage(device.MachXO2_256, 4, 0)); err != nil {
			t.Fatal(err)
		}

		if err := prog.ClearDevice(context.Background()); err != nil {
			t.Fatalf("ClearDevice() error = %v", err)
		}
		if mask := eraseMask(t, sim); mask != protocol.EraseCfg|protocol.EraseUFM|protocol.EraseFeatureRow {
			t.Errorf("erase mask = 0x%02X, want 0x0E", mask)
		}
		if ops := sim.Opcodes(); ops[0] != protocol.CmdOpenOffline {
			t.Errorf("first command = 0x%02X, want offline open", ops[0])
		}
		if !bytes.Equal(sim.Flash(protocol.SectorCfg), make([]byte, 575*protocol.PageSize)) {
			t.Error("cfg sector not erased")
		}
		if prog.Device().ConfigEnabled() {
			t.Error("configuration interface still open")
		}
	})

	t.Run("erase failure is kept", func(t *testing.T) {
		prog, _ := newSimProgrammer(t, device.MachXO2_1200, simulator.Faults{FailOpcode: protocol.CmdErase})

		err := prog.ClearDevice(context.Background())
		var ce *ClearError
		if !errors.As(err, &ce) {
			t.Fatalf("ClearDevice() error = %v, want *ClearError", err)
		}
		if ce.EraseErr == nil {
			t.Error("EraseErr = nil, want the erase failure")
		}
		if ce.RefreshErr != nil {
			t.Errorf("RefreshErr = %v, want nil", ce.RefreshErr)
		}
		if !errors.Is(err, ErrFailFlag) {
			t.Errorf("error %v does not wrap ErrFailFlag", err)
		}
	})

	t.Run("both steps fail", func(t *testing.T) {
		prog, sim := newSimProgrammer(t, device.MachXO2_1200,
			simulator.Faults{FailOpcode: protocol.CmdErase, RefreshFailures: 1})

		err := prog.ClearDevice(context.Background())
		var ce *ClearError
		if !errors.As(err, &ce) {
			t.Fatalf("ClearDevice() error = %v, want *ClearError", err)
		}
		if ce.EraseErr == nil || ce.RefreshErr == nil {
			t.Errorf("ClearError = %+v, want both steps failed", ce)
		}
		if n := countOpcode(sim, protocol.CmdRefresh); n != 1 {
			t.Errorf("refresh sent %d times, want 1", n)
		}
	})

	t.Run("open failure", func(t *testing.T) {
		prog, sim := newSimProgrammer(t, device.MachXO2_1200,
			simulator.Faults{TxErrorOpcode: protocol.CmdOpenOffline})

		err := prog.ClearDevice(context.Background())
		var ce *ClearError
		if !errors.As(err, &ce) || ce.OpenErr == nil {
			t.Fatalf("ClearDevice() error = %v, want open failure", err)
		}
		if !IsTransportError(err) {
			t.Errorf("error %v is not a transport error", err)
		}
		if n := len(sim.Opcodes()); n != 1 {
			t.Errorf("%d commands sent, want only the open", n)
		}
	})
}

func TestUserFlashProgress(t *testing.T) {
	var progress []Progress
	prog, _ := newSimProgrammer(t, device.MachXO2_640, simulator.Faults{},
		WithProgressCallback(func(p Progress) { progress = append(progress, p) }))
	ctx := context.Background()

	tests := []struct {
		name  string
		run   func() error
		phase string
	}{
		{
			name:  "write",
			run:   func() error { return prog.WriteUserFlash(ctx, 0, 2, make([]byte, 2*protocol.PageSize), true) },
			phase: ProgressWritingUFM,
		},
		{
			name:  "read",
			run:   func() error { return prog.ReadUserFlash(ctx, 0, 2, make([]byte, 2*protocol.PageSize)) },
			phase: ProgressReadingUFM,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			progress = nil
			if err := tt.run(); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(progress) != 2 {
				t.Fatalf("got %d progress reports, want 2", len(progress))
			}
			for _, p := range progress {
				if p.Phase != tt.phase {
					t.Errorf("Phase = %q, want %q", p.Phase, tt.phase)
				}
			}
			if last := progress[1]; last.CurrentPage != 2 || last.Percentage != 100 {
				t.Errorf("last progress = %+v, want page 2 at 100%%", last)
			}
		})
	}
}

func TestUserFlash(t *testing.T) {
	prog, sim := newSimProgrammer(t, device.MachXO2_640, simulator.Faults{})
	ctx := context.Background()

	in := bytes.Repeat([]byte{0xDE, 0xAD, 0xBE, 0xEF}, 3*protocol.PageSize/4)
	if err := prog.WriteUserFlash(ctx, 2, 3, in, true); err != nil {
		t.Fatalf("WriteUserFlash() error = %v", err)
	}

	var setPage []byte
	for _, c := range sim.Commands() {
		if c[0] == protocol.CmdSetPageAddress {
			setPage = c
		}
	}
	wantSetPage := []byte{protocol.CmdSetPageAddress, 0, 0, 0, 0x40, 0x00, 0x00, 0x02}
	if !bytes.Equal(setPage, wantSetPage) {
		t.Errorf("set page = % X, want % X", setPage, wantSetPage)
	}
	if mask := eraseMask(t, sim); mask != protocol.EraseUFM {
		t.Errorf("erase mask = 0x%02X, want 0x08", mask)
	}
	want := []byte{protocol.CmdClose, protocol.CmdBypass}
	if got := tail(sim, 2); !bytes.Equal(got, want) {
		t.Errorf("last commands = % X, want % X", got, want)
	}

	out := make([]byte, 191*protocol.PageSize)
	if err := prog.ReadUserFlash(ctx, 0, -1, out); err != nil {
		t.Fatalf("ReadUserFlash() error = %v", err)
	}
	if !bytes.Equal(out[2*protocol.PageSize:5*protocol.PageSize], in) {
		t.Error("read back data does not match the written pages")
	}
	if !bytes.Equal(out[:2*protocol.PageSize], make([]byte, 2*protocol.PageSize)) {
		t.Error("pages before the written range are not blank")
	}
	if got := tail(sim, 2); !bytes.Equal(got, want) {
		t.Errorf("last commands = % X, want % X", got, want)
	}
	if n := countOpcode(sim, protocol.CmdCfgReadPage); n != 0 {
		t.Errorf("cfg read command used %d times for user flash", n)
	}

	if err := prog.ReadUserFlash(ctx, 3, 1, out); err != nil {
		t.Fatalf("ReadUserFlash(3, 1) error = %v", err)
	}
	if !bytes.Equal(out[:protocol.PageSize], in[protocol.PageSize:2*protocol.PageSize]) {
		t.Error("single page read returned the wrong page")
	}
}

func TestUserFlashErrors(t *testing.T) {
	tests := []struct {
		name    string
		variant device.Variant
		read    bool
		start   int
		count   int
		bufLen  int
		wantErr error
		errMsg  string
		noBus   bool
	}{
		{
			name:    "read on device without user flash",
			variant: device.MachXO2_256,
			read:    true,
			count:   1,
			bufLen:  16,
			wantErr: ErrUnsupportedOperation,
			noBus:   true,
		},
		{
			name:    "write on device without user flash",
			variant: device.MachXO2_256,
			count:   1,
			bufLen:  16,
			wantErr: ErrUnsupportedOperation,
			noBus:   true,
		},
		{
			name:    "read past end of sector",
			variant: device.MachXO2_640,
			read:    true,
			start:   190,
			count:   2,
			bufLen:  32,
			wantErr: ErrPageRangeExceeded,
			noBus:   true,
		},
		{
			name:    "write past end of sector",
			variant: device.MachXO2_640,
			start:   191,
			count:   1,
			bufLen:  16,
			wantErr: ErrPageRangeExceeded,
			noBus:   true,
		},
		{
			name:    "negative start",
			variant: device.MachXO2_640,
			read:    true,
			start:   -1,
			count:   1,
			bufLen:  16,
			wantErr: ErrPageRangeExceeded,
			noBus:   true,
		},
		{
			name:    "short buffer",
			variant: device.MachXO2_640,
			read:    true,
			count:   2,
			bufLen:  16,
			errMsg:  "buffer holds 16 bytes, need 32",
			noBus:   true,
		},
		{
			name:    "negative write count",
			variant: device.MachXO2_640,
			count:   -1,
			errMsg:  "negative page count",
			noBus:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prog, sim := newSimProgrammer(t, tt.variant, simulator.Faults{})
			buf := make([]byte, tt.bufLen)

			var err error
			if tt.read {
				err = prog.ReadUserFlash(context.Background(), tt.start, tt.count, buf)
			} else {
				err = prog.WriteUserFlash(context.Background(), tt.start, tt.count, buf, false)
			}
			if err == nil {
				t.Fatal("expected error")
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("error = %v, want %v", err, tt.wantErr)
			}
			if tt.errMsg != "" && !strings.Contains(err.Error(), tt.errMsg) {
				t.Errorf("error = %v, want containing %q", err, tt.errMsg)
			}
			if tt.noBus && len(sim.Opcodes()) != 0 {
				t.Errorf("commands sent: % X", sim.Opcodes())
			}
		})
	}
}

func TestUserFlashAlwaysCloses(t *testing.T) {
	prog, sim := newSimProgrammer(t, device.MachXO2_1200,
		simulator.Faults{TxErrorOpcode: protocol.CmdUFMReadPage})

	err := prog.ReadUserFlash(context.Background(), 0, 4, make([]byte, 64))
	if !IsTransportError(err) {
		t.Fatalf("ReadUserFlash() error = %v, want transport error", err)
	}
	want := []byte{protocol.CmdClose, protocol.CmdBypass}
	if got := tail(sim, 2); !bytes.Equal(got, want) {
		t.Errorf("last commands = % X, want % X", got, want)
	}
	if sim.ConfigEnabled() {
		t.Error("configuration interface left open")
	}
}

func TestUserFlashEraseOnly(t *testing.T) {
	prog, sim := newSimProgrammer(t, device.MachXO2_1200, simulator.Faults{})
	if err := sim.LoadImage(testImage(device.MachXO2_1200, 1, 4)); err != nil {
		t.Fatal(err)
	}

	if err := prog.WriteUserFlash(context.Background(), 0, 0, nil, true); err != nil {
		t.Fatalf("WriteUserFlash() error = %v", err)
	}
	if !bytes.Equal(sim.Flash(protocol.SectorUFM), make([]byte, 512*protocol.PageSize)) {
		t.Error("user flash not erased")
	}
	if n := countOpcode(sim, protocol.CmdUFMWritePage); n != 0 {
		t.Errorf("%d pages written, want 0", n)
	}
}

func TestHardwareInfo(t *testing.T) {
	trace := [protocol.TraceIDSize]byte{0x10, 0x20, 0x30, 0x40, 0x50, 0x60, 0x70, 0x80}
	sim := simulator.New(device.DefaultTable().MustLookup(device.MachXO2_7000), simulator.WithTraceID(trace))
	if err := sim.LoadImage(testImage(device.MachXO2_7000, 1, 0)); err != nil {
		t.Fatal(err)
	}
	prog, err := New(sim, device.MachXO2_7000, WithSleeper(noSleep))
	if err != nil {
		t.Fatal(err)
	}

	info, err := prog.HardwareInfo(context.Background())
	if err != nil {
		t.Fatalf("HardwareInfo() error = %v", err)
	}
	if info.DeviceID != 0x012B5043 {
		t.Errorf("DeviceID = 0x%08X, want 0x012B5043", info.DeviceID)
	}
	if info.UserCode != 0x12345678 {
		t.Errorf("UserCode = 0x%08X, want 0x12345678", info.UserCode)
	}
	if info.TraceID != trace {
		t.Errorf("TraceID = % X, want % X", info.TraceID, trace)
	}
	if !info.Known || info.Variant != device.MachXO2_7000 {
		t.Errorf("Variant = %v (known %v), want MachXO2-7000", info.Variant, info.Known)
	}

	unknown := simulator.New(device.DefaultTable().MustLookup(device.MachXO2_1200), simulator.WithIDCode(0x11111111))
	prog, _ = New(unknown, device.MachXO2_1200)
	info, err = prog.HardwareInfo(context.Background())
	if err != nil {
		t.Fatalf("HardwareInfo() error = %v", err)
	}
	if info.Known {
		t.Errorf("Known = true for IDCODE 0x%08X", info.DeviceID)
	}
}

func TestStatus(t *testing.T) {
	prog, _ := newSimProgrammer(t, device.MachXO2_1200, simulator.Faults{})

	sr, err := prog.Status(context.Background())
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if !sr.Done() || sr.Busy() || sr.Fail() {
		t.Errorf("Status() = %s, want DONE only", sr)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := prog.Status(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Status() with cancelled context error = %v", err)
	}
}

func TestVerifyImage(t *testing.T) {
	img := testImage(device.MachXO2_1200, 5, 2)

	t.Run("matching device", func(t *testing.T) {
		prog, sim := newSimProgrammer(t, device.MachXO2_1200, simulator.Faults{})
		if err := sim.LoadImage(img); err != nil {
			t.Fatal(err)
		}
		if err := prog.VerifyImage(context.Background(), img); err != nil {
			t.Fatalf("VerifyImage() error = %v", err)
		}
		if ops := sim.Opcodes(); ops[0] != protocol.CmdOpenTransparent {
			t.Errorf("first command = 0x%02X, want transparent open", ops[0])
		}
		if n := countOpcode(sim, protocol.CmdErase) + countOpcode(sim, protocol.CmdCfgWritePage); n != 0 {
			t.Error("VerifyImage modified flash")
		}
		want := []byte{protocol.CmdClose, protocol.CmdBypass}
		if got := tail(sim, 2); !bytes.Equal(got, want) {
			t.Errorf("last commands = % X, want % X", got, want)
		}
	})

	t.Run("blank device", func(t *testing.T) {
		prog, _ := newSimProgrammer(t, device.MachXO2_1200, simulator.Faults{})
		err := prog.VerifyImage(context.Background(), img)
		if got := phaseOf(t, err); got != PhaseCfgVerify {
			t.Errorf("phase = %v, want %v", got, PhaseCfgVerify)
		}
	})

	t.Run("other variant", func(t *testing.T) {
		prog, _ := newSimProgrammer(t, device.MachXO2_4000, simulator.Faults{})
		if err := prog.VerifyImage(context.Background(), img); !errors.Is(err, ErrDeviceMismatch) {
			t.Errorf("VerifyImage() error = %v, want ErrDeviceMismatch", err)
		}
	})
}

func BenchmarkProgram(b *testing.B) {
	img := testImage(device.MachXO2_1200, 256, 32)
	sim := simulator.New(device.DefaultTable().MustLookup(device.MachXO2_1200))
	prog, err := New(sim, device.MachXO2_1200, WithSleeper(noSleep))
	if err != nil {
		b.Fatal(err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := prog.Program(context.Background(), img, ModeCfg|ModeUFM|ModeVerify); err != nil {
			b.Fatal(err)
		}
		sim.ResetLog()
	}
}
