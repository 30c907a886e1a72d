package device

import (
	"fmt"
	"time"
)

// PageSize is the size in bytes of one configuration or UFM flash page.
const PageSize = 16

// Variant identifies one member of the MachXO2 family.
type Variant int

// Supported variants. The U parts share a die with the next larger device
// and therefore its sector geometry.
const (
	MachXO2_256 Variant = iota
	MachXO2_640
	MachXO2_640U
	MachXO2_1200
	MachXO2_1200U
	MachXO2_2000
	MachXO2_2000U
	MachXO2_4000
	MachXO2_7000

	numVariants
)

// Variants returns all supported variants in table order.
func Variants() []Variant {
	vs := make([]Variant, 0, numVariants)
	for v := Variant(0); v < numVariants; v++ {
		vs = append(vs, v)
	}
	return vs
}

// Valid reports whether v is one of the supported variants.
func (v Variant) Valid() bool {
	return v >= 0 && v < numVariants
}

func (v Variant) String() string {
	if p, ok := defaultParams[v]; ok {
		return p.Name
	}
	return fmt.Sprintf("Variant(%d)", int(v))
}

// Params contains the device parameters needed for erasing and programming.
type Params struct {
	// Name is the printable part name, e.g. "MachXO2-1200"
	Name string

	// CfgPages is the number of pages in the configuration sector
	CfgPages int

	// UFMPages is the number of pages in the user flash sector (0 if none)
	UFMPages int

	// CfgErase is how long the configuration sector takes to erase
	CfgErase time.Duration

	// UFMErase is how long the user flash sector takes to erase
	UFMErase time.Duration

	// Refresh is the settle time after a refresh command
	Refresh time.Duration

	// IDCodes are the IDCODE values reported by the HC and ZE silicon
	IDCodes [2]uint32
}

// HasUFM reports whether the variant has a user flash sector.
func (p Params) HasUFM() bool {
	return p.UFMPages > 0
}

// CfgBytes returns the size of the configuration sector in bytes.
func (p Params) CfgBytes() int {
	return p.CfgPages * PageSize
}

// UFMBytes returns the size of the user flash sector in bytes.
func (p Params) UFMBytes() int {
	return p.UFMPages * PageSize
}

// Matches reports whether idcode is one of the IDCODEs of this variant.
func (p Params) Matches(idcode uint32) bool {
	return idcode == p.IDCodes[0] || idcode == p.IDCodes[1]
}

var defaultParams = map[Variant]Params{
	//                  Name            Cfg   UFM   Cfg erase               UFM erase               Refresh
	MachXO2_256:   {"MachXO2-256", 575, 0, 700 * time.Millisecond, 0, 1 * time.Millisecond, [2]uint32{0x012B0043, 0x012B8043}},
	MachXO2_640:   {"MachXO2-640", 1152, 191, 1100 * time.Millisecond, 600 * time.Millisecond, 1 * time.Millisecond, [2]uint32{0x012B1043, 0x012B9043}},
	MachXO2_640U:  {"MachXO2-640U", 2175, 512, 1400 * time.Millisecond, 700 * time.Millisecond, 1 * time.Millisecond, [2]uint32{0x012B2043, 0x012BA043}},
	MachXO2_1200:  {"MachXO2-1200", 2175, 512, 1400 * time.Millisecond, 700 * time.Millisecond, 1 * time.Millisecond, [2]uint32{0x012B2043, 0x012BA043}},
	MachXO2_1200U: {"MachXO2-1200U", 3200, 639, 1900 * time.Millisecond, 900 * time.Millisecond, 2 * time.Millisecond, [2]uint32{0x012B3043, 0x012BB043}},
	MachXO2_2000:  {"MachXO2-2000", 3200, 639, 1900 * time.Millisecond, 900 * time.Millisecond, 2 * time.Millisecond, [2]uint32{0x012B3043, 0x012BB043}},
	MachXO2_2000U: {"MachXO2-2000U", 5760, 767, 3100 * time.Millisecond, 1000 * time.Millisecond, 3 * time.Millisecond, [2]uint32{0x012B4043, 0x012BC043}},
	MachXO2_4000:  {"MachXO2-4000", 5760, 767, 3100 * time.Millisecond, 1000 * time.Millisecond, 3 * time.Millisecond, [2]uint32{0x012B4043, 0x012BC043}},
	MachXO2_7000:  {"MachXO2-7000", 9216, 2046, 4800 * time.Millisecond, 1600 * time.Millisecond, 4 * time.Millisecond, [2]uint32{0x012B5043, 0x012BD043}},
}
