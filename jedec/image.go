package jedec

import (
	"fmt"
	"strings"

	"github.com/moffa90/go-machxo2/device"
	"github.com/moffa90/go-machxo2/protocol"
)

// Image represents a complete parsed JEDEC bitstream.
// An Image is never modified after Parse returns it.
type Image struct {
	// Device is the variant named in the device name note
	Device device.Variant

	// PageCount is the number of 16-byte pages declared by the QF record
	PageCount int

	// CfgData holds the configuration sector pages (multiple of 16 bytes)
	CfgData []byte

	// UFMData holds the user flash pages (multiple of 16 bytes, may be empty)
	UFMData []byte

	// FeatureRow holds the feature row and FEABITS from the E record
	FeatureRow protocol.FeatureRow

	// UserCode is the 32-bit USERCODE (0 if the file has none)
	UserCode uint32

	// SecurityFuses is the G record value (0 if the file has none)
	SecurityFuses uint32
}

// CfgPages returns the number of configuration pages to program.
func (img *Image) CfgPages() int {
	return len(img.CfgData) / device.PageSize
}

// UFMPages returns the number of user flash pages to program.
func (img *Image) UFMPages() int {
	return len(img.UFMData) / device.PageSize
}

// Data returns the fuse bytes of a sector.
func (img *Image) Data(sector protocol.Sector) []byte {
	switch sector {
	case protocol.SectorCfg:
		return img.CfgData
	case protocol.SectorUFM:
		return img.UFMData
	default:
		return nil
	}
}

// Page returns page n of a sector. The returned slice aliases the image and
// must not be modified.
func (img *Image) Page(sector protocol.Sector, n int) []byte {
	data := img.Data(sector)
	off := n * device.PageSize
	if n < 0 || off+device.PageSize > len(data) {
		return nil
	}
	return data[off : off+device.PageSize : off+device.PageSize]
}

// Summary returns a multi-line human readable description of the image.
func (img *Image) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Device:        %s\n", img.Device)
	fmt.Fprintf(&b, "Page count:    %d\n", img.PageCount)
	fmt.Fprintf(&b, "Cfg data:      %d bytes (%d pages)\n", len(img.CfgData), img.CfgPages())
	fmt.Fprintf(&b, "UFM data:      %d bytes (%d pages)\n", len(img.UFMData), img.UFMPages())
	fmt.Fprintf(&b, "Feature row:   % X\n", img.FeatureRow.Feature)
	fmt.Fprintf(&b, "FEABITS:       % X\n", img.FeatureRow.Feabits)
	fmt.Fprintf(&b, "USERCODE:      0x%08X\n", img.UserCode)
	fmt.Fprintf(&b, "Security:      0x%08X\n", img.SecurityFuses)
	return b.String()
}
