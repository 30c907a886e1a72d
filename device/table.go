package device

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// ErrUnknownVariant is returned when a variant, part name or IDCODE is not
// in the table.
var ErrUnknownVariant = errors.New("unknown device variant")

// partNumber matches the family/size part of a Lattice ordering code such as
// "LCMXO2-1200HC-4TG144C" or "LCMXO2-640UHC-4TG100C".
var partNumber = regexp.MustCompile(`LCMXO2-(\d+)(U?)`)

// Table is an immutable lookup of device parameters keyed by Variant.
// The zero value is an empty table.
type Table struct {
	rows map[Variant]Params
}

// DefaultTable returns the parameter table for all supported MachXO2 parts.
func DefaultTable() Table {
	return NewTable(defaultParams)
}

// NewTable creates a table from the given rows. The map is copied.
func NewTable(rows map[Variant]Params) Table {
	t := Table{rows: make(map[Variant]Params, len(rows))}
	for v, p := range rows {
		t.rows[v] = p
	}
	return t
}

// Lookup returns the parameters of variant v.
func (t Table) Lookup(v Variant) (Params, error) {
	p, ok := t.rows[v]
	if !ok {
		return Params{}, fmt.Errorf("%w: %d", ErrUnknownVariant, int(v))
	}
	return p, nil
}

// MustLookup is like Lookup but panics if v is not in the table.
func (t Table) MustLookup(v Variant) Params {
	p, err := t.Lookup(v)
	if err != nil {
		panic(err)
	}
	return p
}

// Variants returns the variants present in the table, in ascending order.
func (t Table) Variants() []Variant {
	vs := make([]Variant, 0, len(t.rows))
	for v := range t.rows {
		vs = append(vs, v)
	}
	sort.Slice(vs, func(i, j int) bool { return vs[i] < vs[j] })
	return vs
}

// ByName resolves a Lattice part number, as found in the device name note
// of a JEDEC file, to a variant.
func (t Table) ByName(name string) (Variant, error) {
	m := partNumber.FindStringSubmatch(name)
	if m == nil {
		return 0, fmt.Errorf("%w: %q", ErrUnknownVariant, name)
	}
	want := "MachXO2-" + m[1] + m[2]
	for _, v := range t.Variants() {
		if t.rows[v].Name == want {
			return v, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownVariant, name)
}

// ByIDCode resolves a hardware IDCODE to a variant. U parts report the IDCODE
// of the larger device they are built on, so a row whose name has no U
// suffix wins over a U row with the same IDCODE.
func (t Table) ByIDCode(idcode uint32) (Variant, error) {
	found := false
	var shared Variant
	for _, v := range t.Variants() {
		if !t.rows[v].Matches(idcode) {
			continue
		}
		if !strings.HasSuffix(t.rows[v].Name, "U") {
			return v, nil
		}
		if !found {
			shared, found = v, true
		}
	}
	if found {
		return shared, nil
	}
	return 0, fmt.Errorf("%w: IDCODE 0x%08X", ErrUnknownVariant, idcode)
}

// ByString resolves either a table name ("MachXO2-1200") or a part number
// ("LCMXO2-1200HC") to a variant.
func (t Table) ByString(s string) (Variant, error) {
	for _, v := range t.Variants() {
		if t.rows[v].Name == s {
			return v, nil
		}
	}
	return t.ByName(s)
}
