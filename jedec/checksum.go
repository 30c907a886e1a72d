package jedec

// Control characters framing the JEDEC data.
const (
	stx = 0x02
	etx = 0x03
)

// reverseByte mirrors the bit order of b using the 64-bit multiply trick
// from the Stanford bit hacks collection. The arithmetic relies on uint64
// wraparound.
func reverseByte(b byte) byte {
	return byte((((uint64(b) * 0x80200802) & 0x0884422110) * 0x0101010101) >> 32)
}

// fuseChecksum computes the C record checksum. Fuses are stored MSB first
// per byte while the checksum sums them LSB first, hence the reversal.
func fuseChecksum(fuses []byte) uint16 {
	var sum uint16
	for _, b := range fuses {
		sum += uint16(reverseByte(b))
	}
	return sum
}

// fileChecksum accumulates the whole-file checksum.
type fileChecksum uint16

func (c *fileChecksum) add(s string) {
	for i := 0; i < len(s); i++ {
		*c += fileChecksum(s[i])
	}
}
