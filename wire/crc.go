// Copyright 2016 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

package wire

// The checksum used in CRC mode is the MSB-first CRC-32 with
// polynomial 0x04C11DB7, zero initial value and no final xor.
const crcPoly = 0x04C11DB7

var crcTable = func() (t [256]uint32) {
	for i := range t {
		c := uint32(i) << 24
		for j := 0; j < 8; j++ {
			if c&0x80000000 != 0 {
				c = c<<1 ^ crcPoly
			} else {
				c <<= 1
			}
		}
		t[i] = c
	}
	return
}()

// CRC32 checksums b.
func CRC32(b []byte) uint32 {
	var c uint32
	for _, x := range b {
		c = c<<8 ^ crcTable[byte(c>>24)^x]
	}
	return c
}

// Checksums returns the CRC of every buffer argument of an encoded
// message, in argument order.
func Checksums(bufs [][]byte) []uint32 {
	out := make([]uint32, len(bufs))
	for i, b := range bufs {
		out[i] = CRC32(b)
	}
	return out
}
