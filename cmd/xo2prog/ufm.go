package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/marcinbor85/gohex"
	"github.com/spf13/cobra"
	"zappem.net/pub/debug/xxd"

	"github.com/moffa90/go-machxo2/device"
	"github.com/moffa90/go-machxo2/programmer"
)

// hexLineLength is the data bytes per Intel HEX record.
const hexLineLength = 16

func newUFMCmd(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ufm",
		Short: "Read or write the user flash sector",
	}
	cmd.AddCommand(newUFMReadCmd(g), newUFMWriteCmd(g))
	return cmd
}

func isHexFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".hex", ".ihex", ".ihx":
		return true
	}
	return false
}

func newUFMReadCmd(g *globalFlags) *cobra.Command {
	var (
		start int
		count int
		out   string
	)

	cmd := &cobra.Command{
		Use:   "read",
		Short: "Read user flash pages as a hex dump, binary or Intel HEX file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := g.connect(nil)
			if err != nil {
				return err
			}
			defer s.close()

			if count < 0 {
				count = s.prog.Device().Params().UFMPages - start
			}
			if count <= 0 {
				return fmt.Errorf("nothing to read from page %d", start)
			}
			data := make([]byte, count*device.PageSize)

			ctx, cancel := signalContext()
			defer cancel()
			if err := s.prog.ReadUserFlash(ctx, start, count, data); err != nil {
				return err
			}

			addr := start * device.PageSize
			switch {
			case out == "":
				xxd.Print(addr, data)
				return nil
			case isHexFile(out):
				return writeIntelHex(out, uint32(addr), data)
			default:
				return os.WriteFile(out, data, 0644)
			}
		},
	}

	f := cmd.Flags()
	f.IntVar(&start, "start", 0, "first page")
	f.IntVar(&count, "count", -1, "number of pages (default: to the end of the sector)")
	f.StringVarP(&out, "out", "o", "", "output file; .hex writes Intel HEX, anything else raw binary (default: hex dump)")
	return cmd
}

func newUFMWriteCmd(g *globalFlags) *cobra.Command {
	var (
		start   int
		noErase bool
	)

	cmd := &cobra.Command{
		Use:   "write <file>",
		Short: "Write a binary or Intel HEX file to user flash",
		Long: `Write a binary or Intel HEX file to user flash.

Intel HEX addresses are byte offsets into the user flash sector and select
the start page; binary files are written from --start. Data is padded with
zero bytes to whole pages.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			page, data, err := loadUFMFile(args[0], start)
			if err != nil {
				return err
			}

			s, err := g.connect(nil, programmer.WithProgressCallback(progressPrinter(cmd)))
			if err != nil {
				return err
			}
			defer s.close()

			ctx, cancel := signalContext()
			defer cancel()

			pages := len(data) / device.PageSize
			if err := s.prog.WriteUserFlash(ctx, page, pages, data, !noErase); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %d pages at page %d\n", pages, page)
			return nil
		},
	}

	f := cmd.Flags()
	f.IntVar(&start, "start", 0, "first page for binary files")
	f.BoolVar(&noErase, "no-erase", false, "do not erase the sector first; target pages must be blank")
	return cmd
}

// loadUFMFile returns the start page and page-padded data of a user flash
// image.
func loadUFMFile(path string, start int) (int, []byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, nil, err
	}

	data := raw
	if isHexFile(path) {
		mem := gohex.NewMemory()
		if err := mem.ParseIntelHex(bytes.NewReader(raw)); err != nil {
			return 0, nil, fmt.Errorf("parse %s: %w", path, err)
		}
		segments := mem.GetDataSegments()
		if len(segments) == 0 {
			return 0, nil, fmt.Errorf("%s: no data records", path)
		}

		first := segments[0].Address
		last := segments[len(segments)-1]
		end := last.Address + uint32(len(last.Data))
		if first%device.PageSize != 0 {
			return 0, nil, fmt.Errorf("%s: start address 0x%X is not page aligned", path, first)
		}
		start = int(first / device.PageSize)
		data = mem.ToBinary(first, end-first, 0x00)
	}

	if rem := len(data) % device.PageSize; rem != 0 {
		data = append(data, make([]byte, device.PageSize-rem)...)
	}
	return start, data, nil
}

func writeIntelHex(path string, addr uint32, data []byte) error {
	mem := gohex.NewMemory()
	if err := mem.AddBinary(addr, data); err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := mem.DumpIntelHex(f, hexLineLength); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
