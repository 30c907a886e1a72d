// Package transport connects the programmer to a MachXO2 configuration port
// over I2C using periph.io.
//
// Example:
//
//	bus, err := transport.Open("", 0x40, 400*physic.KiloHertz)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer bus.Close()
//
//	prog, err := programmer.New(bus, device.MachXO2_1200)
package transport

import (
	"fmt"
	"io"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/host/v3"
)

// DefaultAddress is the factory default I2C address of the configuration
// port.
const DefaultAddress = 0x40

// DefaultSpeed is the bus clock used when none is given.
const DefaultSpeed = 400 * physic.KiloHertz

// I2C is a programmer.Transport on one I2C device.
type I2C struct {
	bus i2c.Bus
	dev *i2c.Dev
}

// Open initializes the host drivers, opens the named I2C bus and sets its
// clock. An empty name selects the first bus found. A zero speed leaves the
// bus clock unchanged.
func Open(name string, addr uint16, speed physic.Frequency) (*I2C, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("initialize host drivers: %w", err)
	}

	bus, err := i2creg.Open(name)
	if err != nil {
		return nil, fmt.Errorf("open i2c bus %q: %w", name, err)
	}
	if speed > 0 {
		if err := bus.SetSpeed(speed); err != nil {
			bus.Close()
			return nil, fmt.Errorf("set i2c speed %s: %w", speed, err)
		}
	}
	return New(bus, addr), nil
}

// New wraps an already opened bus. Close closes the bus if it implements
// io.Closer.
func New(bus i2c.Bus, addr uint16) *I2C {
	return &I2C{
		bus: bus,
		dev: &i2c.Dev{Bus: bus, Addr: addr},
	}
}

// Tx writes w and, if r is not empty, reads len(r) bytes after a repeated
// start.
func (t *I2C) Tx(w, r []byte) error {
	if len(r) == 0 {
		r = nil
	}
	if err := t.dev.Tx(w, r); err != nil {
		return fmt.Errorf("i2c 0x%02X: %w", t.dev.Addr, err)
	}
	return nil
}

// Close releases the bus.
func (t *I2C) Close() error {
	if c, ok := t.bus.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func (t *I2C) String() string {
	return t.dev.String()
}
