// Package programmer reprograms the flash of Lattice MachXO2 devices through
// the embedded configuration access port.
//
// # Overview
//
// The package has two layers:
//   - Device issues single configuration commands (open, erase, page
//     read/write, feature row, set DONE, refresh) and polls BUSY
//   - Programmer sequences them into whole-device operations and cleans up
//     after a failure
//
// # Basic Usage
//
//	// Open the I2C link to the device
//	bus, err := transport.Open("", 0x40, 400*physic.KiloHertz)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer bus.Close()
//
//	// Parse the bitstream
//	img, err := jedec.Parse("design.jed")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	// Create programmer for the variant the image was built for
//	prog, err := programmer.New(bus, img.Device)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	mode := programmer.ModeCfg | programmer.ModeUFM | programmer.ModeFeatureRow | programmer.ModeVerify
//	if err := prog.Program(context.Background(), img, mode); err != nil {
//	    log.Fatal(err)
//	}
//
// # Modes
//
// Mode selects the sectors to erase and program and how the device is
// opened:
//   - ModeCfg, ModeUFM, ModeFeatureRow, ModeSRAM select sectors
//   - ModeTransparent keeps user logic running and never touches the
//     feature row
//   - ModeVerify reads back every programmed page
//   - ModeNoLoad programs transparently and leaves the old design running
//     until the next power cycle
//
// # Recovery
//
// If Program fails the configuration interface is closed and the port
// released. A device left without a valid design can be returned to factory
// blank with ClearDevice and programmed again.
//
// # Error Handling
//
// Program returns a *PhaseError naming the step that failed; Phase.Code
// gives a stable numeric code. Underlying causes are matched with errors.Is
// and errors.As:
//   - ErrVerifyMismatch, wrapped by *VerifyError with sector, page and offset
//   - ErrBusyTimeout, ErrFailFlag from the status poll
//   - *TransportError for failed bus exchanges
//   - ErrNotInConfigMode, ErrUnsupportedOperation, ErrPageRangeExceeded
//   - ErrDeviceMismatch when the image targets another variant
//
// # Hardware Independence
//
// Everything goes through the Transport interface: one write, optionally
// followed by a read. The transport package implements it on periph.io I2C;
// the simulator package implements it in memory for tests.
package programmer
