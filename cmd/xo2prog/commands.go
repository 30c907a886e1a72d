package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/golang/glog"
	"github.com/spf13/cobra"

	"github.com/moffa90/go-machxo2/device"
	"github.com/moffa90/go-machxo2/jedec"
	"github.com/moffa90/go-machxo2/programmer"
)

// signalContext returns a context cancelled by Ctrl-C. Programming stops at
// the next page boundary.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt)
}

func newInfoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info <file.jed>",
		Short: "Parse a JEDEC bitstream and print its contents",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			img, err := jedec.Parse(args[0])
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), img.Summary())
			return nil
		},
	}
}

// progressPrinter prints one line per phase and every 10 percent.
func progressPrinter(cmd *cobra.Command) programmer.ProgressCallback {
	var (
		phase string
		step  = -1
	)
	out := cmd.ErrOrStderr()
	return func(p programmer.Progress) {
		s := int(p.Percentage / 10)
		if p.Phase == phase && s == step {
			return
		}
		phase, step = p.Phase, s
		fmt.Fprintf(out, "[%-15s] %5.1f%%  %d/%d pages  %s\n",
			p.Phase, p.Percentage, p.CurrentPage, p.TotalPages, p.ElapsedTime.Round(time.Millisecond))
	}
}

// defaultMode programs and verifies every sector the image carries that the
// device has.
func defaultMode(img *jedec.Image, params device.Params) programmer.Mode {
	mode := programmer.ModeCfg | programmer.ModeFeatureRow | programmer.ModeVerify
	if img.UFMPages() > 0 && params.HasUFM() {
		mode |= programmer.ModeUFM
	}
	return mode
}

func newProgramCmd(g *globalFlags) *cobra.Command {
	var (
		modeStr     string
		transparent bool
		noLoad      bool
		noVerify    bool
	)

	cmd := &cobra.Command{
		Use:   "program <file.jed>",
		Short: "Erase, program and verify the device from a JEDEC bitstream",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mode, err := programmer.ParseMode(modeStr)
			if err != nil {
				return err
			}

			img, err := jedec.Parse(args[0])
			if err != nil {
				return err
			}
			glog.Infof("loaded %s: %s, %d cfg pages, %d ufm pages",
				args[0], img.Device, img.CfgPages(), img.UFMPages())

			s, err := g.connect(&img.Device, programmer.WithProgressCallback(progressPrinter(cmd)))
			if err != nil {
				return err
			}
			defer s.close()

			if modeStr == "" {
				mode = defaultMode(img, s.prog.Device().Params())
			}
			if transparent {
				mode |= programmer.ModeTransparent
			}
			if noLoad {
				mode |= programmer.ModeNoLoad
			}
			if noVerify {
				mode &^= programmer.ModeVerify
			}

			ctx, cancel := signalContext()
			defer cancel()

			start := time.Now()
			if err := s.prog.Program(ctx, img, mode); err != nil {
				return fmt.Errorf("program %s: %w", args[0], err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "programmed %s (%s) in %s\n",
				s.variant, mode, time.Since(start).Round(time.Millisecond))
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&modeStr, "mode", "", "sectors and options: sram, featrow, cfg, ufm, transparent, verify, noload (default: cfg,featrow,verify and ufm if the image and device have user flash)")
	f.BoolVar(&transparent, "transparent", false, "keep user logic running; the feature row is not touched")
	f.BoolVar(&noLoad, "noload", false, "do not boot the new design until the next power cycle (implies --transparent)")
	f.BoolVar(&noVerify, "no-verify", false, "skip read back")
	return cmd
}

func newVerifyCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "verify <file.jed>",
		Short: "Compare the device flash with a JEDEC bitstream",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			img, err := jedec.Parse(args[0])
			if err != nil {
				return err
			}

			s, err := g.connect(&img.Device, programmer.WithProgressCallback(progressPrinter(cmd)))
			if err != nil {
				return err
			}
			defer s.close()

			ctx, cancel := signalContext()
			defer cancel()

			if err := s.prog.VerifyImage(ctx, img); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "verify OK")
			return nil
		},
	}
}

func newClearCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Erase configuration, user flash and feature row, leaving the device blank",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := g.connect(nil)
			if err != nil {
				return err
			}
			defer s.close()

			if err := s.prog.ClearDevice(context.Background()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s cleared\n", s.variant)
			return nil
		},
	}
}

func newHwinfoCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "hwinfo",
		Short: "Read the IDCODE, USERCODE and TraceID registers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := g.connect(nil)
			if err != nil {
				return err
			}
			defer s.close()

			info, err := s.prog.HardwareInfo(context.Background())
			if err != nil {
				return err
			}

			name := "unknown"
			if info.Known {
				name = info.Variant.String()
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "IDCODE:   0x%08X (%s)\n", info.DeviceID, name)
			fmt.Fprintf(out, "USERCODE: 0x%08X\n", info.UserCode)
			fmt.Fprintf(out, "TraceID:  % X\n", info.TraceID)
			return nil
		},
	}
}

func newStatusCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Read the configuration status register",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := g.connect(nil)
			if err != nil {
				return err
			}
			defer s.close()

			sr, err := s.prog.Status(context.Background())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "status: %s\n", sr)
			return nil
		},
	}
}
