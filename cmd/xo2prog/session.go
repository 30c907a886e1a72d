package main

import (
	"fmt"
	"time"

	"github.com/golang/glog"
	"periph.io/x/conn/v3/physic"

	"github.com/moffa90/go-machxo2/device"
	"github.com/moffa90/go-machxo2/programmer"
	"github.com/moffa90/go-machxo2/simulator"
	"github.com/moffa90/go-machxo2/transport"
)

// frequencyFlag adapts physic.Frequency to pflag.Value.
type frequencyFlag physic.Frequency

func (f *frequencyFlag) String() string {
	return physic.Frequency(*f).String()
}

func (f *frequencyFlag) Set(s string) error {
	var v physic.Frequency
	if err := v.Set(s); err != nil {
		return err
	}
	*f = frequencyFlag(v)
	return nil
}

func (f *frequencyFlag) Type() string {
	return "frequency"
}

// glogLogger routes programmer logs to glog. Debug messages need -v=1.
type glogLogger struct{}

func (glogLogger) Debug(msg string, kv ...interface{}) {
	if glog.V(1) {
		glog.InfoDepth(1, formatLog(msg, kv))
	}
}

func (glogLogger) Info(msg string, kv ...interface{}) {
	glog.InfoDepth(1, formatLog(msg, kv))
}

func (glogLogger) Error(msg string, kv ...interface{}) {
	glog.ErrorDepth(1, formatLog(msg, kv))
}

func formatLog(msg string, kv []interface{}) string {
	for i := 0; i+1 < len(kv); i += 2 {
		msg += fmt.Sprintf(" %v=%v", kv[i], kv[i+1])
	}
	return msg
}

// session is an open connection to one device.
type session struct {
	prog    *programmer.Programmer
	variant device.Variant
	sim     *simulator.Device
	close   func() error
}

// connect opens the bus (or a simulator) and resolves the device variant:
// the --device flag wins, then the image variant, then the IDCODE.
func (g *globalFlags) connect(imageVariant *device.Variant, opts ...programmer.Option) (*session, error) {
	table := device.DefaultTable()

	var (
		variant device.Variant
		known   bool
	)
	if g.device != "" {
		v, err := table.ByString(g.device)
		if err != nil {
			return nil, err
		}
		variant, known = v, true
	} else if imageVariant != nil {
		variant, known = *imageVariant, true
	}

	s := &session{close: func() error { return nil }}
	var tr programmer.Transport
	if g.simulate {
		if !known {
			variant = device.MachXO2_1200
		}
		s.sim = simulator.New(table.MustLookup(variant))
		tr = s.sim
		// Simulated flash completes immediately
		opts = append([]programmer.Option{programmer.WithSleeper(func(time.Duration) {})}, opts...)
		glog.V(1).Infof("using simulated %s", variant)
	} else {
		bus, err := transport.Open(g.bus, g.addr, physic.Frequency(g.speed))
		if err != nil {
			return nil, err
		}
		tr = bus
		s.close = bus.Close
		glog.V(1).Infof("opened %s at %s", bus, physic.Frequency(g.speed))
	}

	if !known {
		v, id, err := programmer.Detect(tr)
		if err != nil {
			s.close()
			return nil, fmt.Errorf("detect device (IDCODE 0x%08X): %w", id, err)
		}
		variant = v
		glog.Infof("detected %s (IDCODE 0x%08X)", variant, id)
	}

	opts = append([]programmer.Option{
		programmer.WithLogger(glogLogger{}),
		programmer.WithAddress(g.addr),
		programmer.WithTable(table),
	}, opts...)
	prog, err := programmer.New(tr, variant, opts...)
	if err != nil {
		s.close()
		return nil, err
	}
	s.prog = prog
	s.variant = variant
	return s, nil
}
