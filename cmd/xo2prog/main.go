// Command xo2prog programs Lattice MachXO2 devices over I2C.
//
// Usage:
//
//	xo2prog info design.jed
//	xo2prog program design.jed --mode cfg,ufm,featrow,verify
//	xo2prog clear
//	xo2prog hwinfo
//	xo2prog ufm read --count 4
//	xo2prog ufm write data.hex
//
// Logging uses glog; pass -v=1 for command level tracing and
// -logtostderr to see it on the terminal.
package main

import (
	"flag"
	"os"

	"github.com/golang/glog"
	"github.com/spf13/cobra"

	"github.com/moffa90/go-machxo2/transport"
)

// globalFlags are shared by every command that talks to a device.
type globalFlags struct {
	bus      string
	addr     uint16
	speed    frequencyFlag
	device   string
	simulate bool
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{
		addr:  transport.DefaultAddress,
		speed: frequencyFlag(transport.DefaultSpeed),
	}

	root := &cobra.Command{
		Use:           "xo2prog",
		Short:         "Program Lattice MachXO2 configuration flash over I2C",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(*cobra.Command, []string) {
			// glog refuses to log before the go flag set is parsed; cobra
			// has already filled in its values.
			flag.CommandLine.Parse(nil)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&g.bus, "bus", "", "I2C bus name (empty selects the first bus)")
	pf.Uint16Var(&g.addr, "addr", g.addr, "I2C address of the configuration port")
	pf.Var(&g.speed, "speed", "I2C bus clock, e.g. 100kHz or 400kHz")
	pf.StringVar(&g.device, "device", "", "device variant, e.g. MachXO2-1200 (default: detect from IDCODE)")
	pf.BoolVar(&g.simulate, "simulate", false, "use an in-memory simulated device instead of I2C")
	pf.AddGoFlagSet(flag.CommandLine)

	root.AddCommand(
		newInfoCmd(),
		newProgramCmd(g),
		newVerifyCmd(g),
		newClearCmd(g),
		newHwinfoCmd(g),
		newStatusCmd(g),
		newUFMCmd(g),
	)
	return root
}

func main() {
	defer glog.Flush()

	if err := newRootCmd().Execute(); err != nil {
		glog.Errorf("%v", err)
		glog.Flush()
		os.Stderr.WriteString("error: " + err.Error() + "\n")
		os.Exit(1)
	}
}
