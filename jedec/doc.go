// Package jedec parses Lattice JEDEC (.jed) bitstreams for MachXO2 devices.
//
// # JEDEC File Format
//
// A JEDEC file is a sequence of '*' terminated records framed by an STX
// (0x02) and an ETX (0x03) control character. Everything before STX is
// ignored. The four hex digits following ETX are the file checksum: the
// 16-bit sum of every byte from STX up to and including ETX.
//
//	^B
//	NOTE DEVICE NAME:	LCMXO2-1200HC-4TG144C*
//	QF343936*
//	G0*
//	F0*
//	L000000
//	11111111111111111111111111111111...   (128 digits per line)
//	...
//	*
//	C2A4B*
//	E0000000000000000000000000000000000000000000000000000000000000000
//	0000010000100000*
//	UH00000000*
//	^C32B4
//
// Records interpreted by the parser:
//
//	NOTE DEVICE NAME  selects the device variant (part number LCMXO2-<size>[U])
//	QF<n>             declares n fuses (n/128 pages)
//	L<addr>           starts a run of fuse data at bit address addr
//	C<hex>            fuse checksum over all fuse bytes
//	E<64 bits>        feature row, followed by a line of 16 FEABITS and '*'
//	UH / UA / U       USERCODE as hex, four ASCII characters or 32 bits
//	G<n>              security fuse setting
//
// QP, F and other NOTE records are accepted and ignored.
//
// # Sectors
//
// Fuse data below the configuration page count of the device ends up in
// Image.CfgData, the rest in Image.UFMData. A run that crosses the boundary
// is split.
//
// # Usage
//
//	img, err := jedec.Parse("design.jed")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(img.Summary())
//
// Parse also accepts xz compressed files (design.jed.xz).
//
// # Error Handling
//
// Every failure is a *ParseError carrying the kind and the line number.
// No partial image is ever returned. Use errors.Is with the sentinels:
//
//	if errors.Is(err, jedec.ErrChecksum) {
//	    // corrupt file
//	}
package jedec
