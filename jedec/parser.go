package jedec

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/ulikunitz/xz"

	"github.com/moffa90/go-machxo2/device"
)

// Constants for JEDEC file parsing.
const (
	// FuseLineBits is the number of fuse digits on one data line (one page)
	FuseLineBits = device.PageSize * 8

	// FeatureBits is the number of digits of the E record
	FeatureBits = 64

	// FeabitsBits is the number of digits on the line following the E record
	FeabitsBits = 16

	// UserCodeBits is the number of digits of a binary USERCODE record
	UserCodeBits = 32

	// deviceNameNote is the NOTE record carrying the part number
	deviceNameNote = "NOTE DEVICE NAME"
)

// xzMagic is the header of an xz container.
var xzMagic = []byte{0xFD, '7', 'z', 'X', 'Z', 0x00}

// Option configures the parser.
type Option func(*parser)

// WithTable sets the device table used to resolve the device name and the
// configuration sector size. The default is device.DefaultTable().
func WithTable(t device.Table) Option {
	return func(p *parser) {
		p.table = t
	}
}

// Parse parses a JEDEC file from the given path. Files starting with the xz
// magic are decompressed on the fly.
//
// Example:
//
//	img, err := jedec.Parse("design.jed")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Printf("%d cfg pages\n", img.CfgPages())
func Parse(path string, opts ...Option) (*Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer func() { _ = f.Close() }()

	br := bufio.NewReader(f)
	magic, err := br.Peek(len(xzMagic))
	if err == nil && bytes.Equal(magic, xzMagic) {
		zr, err := xz.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("failed to open xz stream: %w", err)
		}
		return ParseReader(zr, opts...)
	}

	return ParseReader(br, opts...)
}

// ParseReader parses a JEDEC file from any io.Reader.
// This is useful for testing and reading from non-file sources.
func ParseReader(r io.Reader, opts ...Option) (*Image, error) {
	p := &parser{
		table: device.DefaultTable(),
		img:   &Image{},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p.run(bufio.NewReader(r))
}

type parseState int

const (
	stateStart parseState = iota
	stateFuses
	stateFeatureRow
)

// parser holds the state of one pass over a file. fuses is nil until the
// QF record has been seen.
type parser struct {
	table  device.Table
	state  parseState
	line   int
	img    *Image
	params device.Params
	named  bool

	fuses []byte
	pos   int

	runStart int
	runLen   int
	cfgSize  int
	ufmSize  int
}

func (p *parser) errorf(kind ErrorKind, format string, args ...interface{}) error {
	return &ParseError{Kind: kind, Line: p.line, Msg: fmt.Sprintf(format, args...)}
}

func (p *parser) run(r *bufio.Reader) (*Image, error) {
	// Skip the header up to STX
	for {
		c, err := r.ReadByte()
		if err == io.EOF {
			return nil, &ParseError{Kind: KindUnexpectedEOF, Msg: "no start of data marker"}
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read file: %w", err)
		}
		if c == stx {
			break
		}
	}

	sum := fileChecksum(stx)
	for {
		raw, err := r.ReadString('\n')
		if err != nil && err != io.EOF {
			return nil, fmt.Errorf("failed to read file: %w", err)
		}
		if raw == "" && err == io.EOF {
			p.line++
			return nil, p.errorf(KindUnexpectedEOF, "no end of data marker")
		}
		p.line++

		if i := strings.IndexByte(raw, etx); i >= 0 {
			sum.add(raw[:i+1])
			if err := p.handle(raw[:i]); err != nil {
				return nil, err
			}
			if err := p.checkFileChecksum(uint16(sum), raw[i+1:]); err != nil {
				return nil, err
			}
			return p.finish()
		}

		sum.add(raw)
		if err := p.handle(raw); err != nil {
			return nil, err
		}
	}
}

// handle dispatches one line to the current state. Blank lines are skipped.
func (p *parser) handle(raw string) error {
	line := strings.TrimRight(raw, " \t\r\n")
	if strings.TrimSpace(line) == "" {
		return nil
	}

	switch p.state {
	case stateFuses:
		return p.parseFuses(line)
	case stateFeatureRow:
		return p.parseFeatureRow(line)
	default:
		return p.parseField(line)
	}
}

// parseField handles a top level record.
func (p *parser) parseField(line string) error {
	switch line[0] {
	case 'N':
		if strings.HasPrefix(line, deviceNameNote) {
			return p.parseDeviceName(line)
		}
	case '*':
		// Stray terminator
	case 'Q':
		if strings.HasPrefix(line, "QF") {
			return p.parseFuseCount(line)
		}
		// QP pin count and unknown Q records are ignored
	case 'F':
		// Default fuse state, Lattice files always use F0
	case 'G':
		// Security fuse. Best effort: an unparsable value is ignored.
		if v, err := strconv.ParseUint(recordValue(line[1:]), 10, 32); err == nil {
			p.img.SecurityFuses = uint32(v)
		}
	case 'C':
		return p.parseFuseChecksum(line)
	case 'L':
		return p.parseFuseAddress(line)
	case 'E':
		bits, err := parseBits(line[1:], FeatureBits/8)
		if err != nil {
			return p.errorf(KindMalformed, "feature row: %v", err)
		}
		copy(p.img.FeatureRow.Feature[:], bits)
		p.state = stateFeatureRow
	case 'U':
		return p.parseUserCode(line)
	default:
		return p.errorf(KindMalformed, "invalid record %q", truncate(line))
	}
	return nil
}

func (p *parser) parseDeviceName(line string) error {
	v, err := p.table.ByName(line)
	if err != nil {
		return p.errorf(KindUnsupportedDevice, "%v", err)
	}
	params, err := p.table.Lookup(v)
	if err != nil {
		return p.errorf(KindUnsupportedDevice, "%v", err)
	}
	p.img.Device = v
	p.params = params
	p.named = true
	return nil
}

func (p *parser) parseFuseCount(line string) error {
	n, err := strconv.ParseUint(recordValue(line[2:]), 10, 32)
	if err != nil {
		return p.errorf(KindMalformed, "invalid fuse count %q", truncate(line))
	}
	if p.fuses != nil {
		return p.errorf(KindMalformed, "multiple QF records")
	}

	if limit := p.maxFuseBytes(); n/8 > uint64(limit) {
		return p.errorf(KindOverflow, "fuse count %d exceeds the largest device (%d bytes)", n, limit)
	}

	p.img.PageCount = int(n) / FuseLineBits
	p.fuses = make([]byte, n/8)
	return nil
}

// maxFuseBytes is the flash size of the largest device in the table.
func (p *parser) maxFuseBytes() int {
	limit := 0
	for _, v := range p.table.Variants() {
		params := p.table.MustLookup(v)
		if n := params.CfgBytes() + params.UFMBytes(); n > limit {
			limit = n
		}
	}
	return limit
}

func (p *parser) parseFuseChecksum(line string) error {
	want, err := strconv.ParseUint(recordValue(line[1:]), 16, 16)
	if err != nil {
		return p.errorf(KindMalformed, "invalid fuse checksum %q", truncate(line))
	}
	if got := fuseChecksum(p.fuses); got != uint16(want) {
		return p.errorf(KindChecksum, "fuse checksum: calculated 0x%04X, file has 0x%04X", got, want)
	}
	return nil
}

func (p *parser) parseFuseAddress(line string) error {
	addr, err := strconv.ParseUint(recordValue(line[1:]), 10, 32)
	if err != nil {
		return p.errorf(KindMalformed, "invalid fuse address %q", truncate(line))
	}
	if p.fuses == nil {
		return p.errorf(KindMalformed, "fuse data before QF record")
	}
	if !p.named {
		return p.errorf(KindMalformed, "fuse data before device name")
	}
	if addr%8 != 0 {
		return p.errorf(KindMisaligned, "fuse address %d is not byte aligned", addr)
	}

	start := int(addr / 8)
	if start >= p.img.PageCount*device.PageSize {
		return p.errorf(KindOverflow, "fuse address %d exceeds %d declared pages", addr, p.img.PageCount)
	}

	p.runStart = start
	p.runLen = 0
	p.pos = start
	p.state = stateFuses
	return nil
}

func (p *parser) parseUserCode(line string) error {
	if len(line) < 2 {
		return p.errorf(KindMalformed, "invalid USERCODE %q", line)
	}

	switch line[1] {
	case 'H':
		v, err := strconv.ParseUint(recordValue(line[2:]), 16, 32)
		if err != nil {
			return p.errorf(KindMalformed, "invalid USERCODE %q", truncate(line))
		}
		p.img.UserCode = uint32(v)
	case 'A':
		if len(line) < 6 {
			return p.errorf(KindMalformed, "invalid USERCODE %q", line)
		}
		p.img.UserCode = uint32(line[2])<<24 | uint32(line[3])<<16 | uint32(line[4])<<8 | uint32(line[5])
	case '0', '1':
		bits, err := parseBits(line[1:], UserCodeBits/8)
		if err != nil {
			return p.errorf(KindMalformed, "invalid USERCODE: %v", err)
		}
		p.img.UserCode = uint32(bits[0])<<24 | uint32(bits[1])<<16 | uint32(bits[2])<<8 | uint32(bits[3])
	default:
		return p.errorf(KindMalformed, "invalid USERCODE %q", truncate(line))
	}
	return nil
}

// parseFuses handles a line inside an L record run.
func (p *parser) parseFuses(line string) error {
	switch line[0] {
	case '0', '1':
		if p.pos+device.PageSize > len(p.fuses) {
			return p.errorf(KindOverflow, "fuse data exceeds %d declared pages", p.img.PageCount)
		}
		if len(line) != FuseLineBits {
			return p.errorf(KindMalformed, "fuse line has %d digits, expected %d", len(line), FuseLineBits)
		}
		bits, err := parseBits(line, device.PageSize)
		if err != nil {
			return p.errorf(KindMalformed, "%v", err)
		}
		copy(p.fuses[p.pos:], bits)
		p.pos += device.PageSize
		p.runLen += device.PageSize
	case '*':
		p.endRun()
		p.state = stateStart
	default:
		return p.errorf(KindMalformed, "invalid line in fuse data %q", truncate(line))
	}
	return nil
}

// endRun accounts the finished run to the configuration and UFM sectors,
// splitting it when it crosses the configuration page boundary.
func (p *parser) endRun() {
	boundary := p.params.CfgBytes()
	start, n := p.runStart, p.runLen

	if start < boundary {
		end := start + n
		if end > boundary {
			p.cfgSize = boundary
			n = end - boundary
			start = boundary
		} else if end > p.cfgSize {
			p.cfgSize = end
		}
	}
	if start >= boundary {
		if end := start + n - boundary; end > p.ufmSize {
			p.ufmSize = end
		}
	}
}

// parseFeatureRow handles the FEABITS line that follows an E record.
func (p *parser) parseFeatureRow(line string) error {
	bits, err := parseBits(line, FeabitsBits/8)
	if err != nil {
		return p.errorf(KindMalformed, "FEABITS: %v", err)
	}
	if len(line) <= FeabitsBits || line[FeabitsBits] != '*' {
		return p.errorf(KindMalformed, "FEABITS line not terminated")
	}
	copy(p.img.FeatureRow.Feabits[:], bits)
	p.state = stateStart
	return nil
}

func (p *parser) checkFileChecksum(sum uint16, rest string) error {
	digits := strings.TrimSpace(rest)
	if len(digits) > 4 {
		digits = digits[:4]
	}
	want, err := strconv.ParseUint(digits, 16, 16)
	if err != nil {
		return p.errorf(KindMalformed, "invalid file checksum %q", digits)
	}
	if uint16(want) != sum {
		return p.errorf(KindChecksum, "file checksum: calculated 0x%04X, file has 0x%04X", sum, want)
	}
	return nil
}

// finish validates the parser state at ETX and builds the image.
func (p *parser) finish() (*Image, error) {
	switch {
	case p.state == stateFuses:
		return nil, p.errorf(KindUnexpectedEOF, "end of data inside fuse run")
	case p.state == stateFeatureRow:
		return nil, p.errorf(KindUnexpectedEOF, "end of data before FEABITS")
	case !p.named:
		return nil, p.errorf(KindUnsupportedDevice, "no device name in file")
	case p.fuses == nil:
		return nil, p.errorf(KindMalformed, "no QF record in file")
	}

	boundary := p.params.CfgBytes()
	p.img.CfgData = p.sector(0, p.cfgSize)
	p.img.UFMData = p.sector(boundary, p.ufmSize)
	return p.img, nil
}

// sector copies n bytes at off out of the fuse buffer, padded with zeros to
// a whole number of pages.
func (p *parser) sector(off, n int) []byte {
	out := make([]byte, (n+device.PageSize-1)/device.PageSize*device.PageSize)
	if off < len(p.fuses) {
		copy(out, p.fuses[off:])
	}
	return out
}

// parseBits decodes n bytes from a string of '0' and '1' digits, most
// significant bit first. Extra characters after n*8 digits are ignored.
func parseBits(s string, n int) ([]byte, error) {
	if len(s) < n*8 {
		return nil, fmt.Errorf("expected %d binary digits, got %d", n*8, len(s))
	}
	out := make([]byte, n)
	for i := 0; i < n*8; i++ {
		switch s[i] {
		case '0':
		case '1':
			out[i/8] |= 0x80 >> (i % 8)
		default:
			return nil, fmt.Errorf("invalid binary digit %q at column %d", s[i], i+1)
		}
	}
	return out, nil
}

// recordValue returns the field value of a record body, stripping the '*'
// terminator and surrounding whitespace.
func recordValue(s string) string {
	if i := strings.IndexByte(s, '*'); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}

func truncate(s string) string {
	const maxLen = 40
	if len(s) > maxLen {
		return s[:maxLen] + "..."
	}
	return s
}

// IsParseError reports whether err is or wraps a *ParseError.
func IsParseError(err error) bool {
	var pe *ParseError
	return errors.As(err, &pe)
}
