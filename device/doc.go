// Package device holds the static parameter table for the supported
// Lattice MachXO2 variants.
//
// # Parameter Table
//
// Every variant has a fixed number of 16-byte flash pages in its
// configuration sector and user flash (UFM) sector, datasheet erase times
// for both sectors, a settle time after a refresh, and the two IDCODE
// values reported by the HC and ZE silicon of the same logical part:
//
//	tbl := device.DefaultTable()
//	p, err := tbl.Lookup(device.MachXO2_1200)
//	fmt.Printf("%s: %d cfg pages, %d UFM pages\n", p.Name, p.CfgPages, p.UFMPages)
//
// The table is immutable. It is passed to the bitstream parser and the
// programmer instead of being read from package state, so tests can supply
// their own rows.
//
// # Resolving a Variant
//
// JEDEC files name the part in a NOTE record, the device reports an IDCODE:
//
//	v, err := tbl.ByName("LCMXO2-1200HC-4TG144C")
//	v, err := tbl.ByIDCode(0x012BA043)
package device
