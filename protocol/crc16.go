package protocol

// crc16Poly is the CCITT polynomial used by the Horizon protocol.
const crc16Poly = 0x1021

var crc16Table = makeCRC16Table(crc16Poly)

func makeCRC16Table(poly uint16) [256]uint16 {
	var table [256]uint16
	for i := range table {
		crc := uint16(i) << 8
		for bit := 0; bit < 8; bit++ {
			if crc&0x8000 != 0 {
				crc = crc<<1 ^ poly
			} else {
				crc <<= 1
			}
		}
		table[i] = crc
	}
	return table
}

// CRC16 computes the CRC-16/CCITT checksum (initial value 0xFFFF, no reflection)
// one byte at a time from a lookup table.
func CRC16(data []byte) uint16 {
	crc := uint16(0xFFFF)
	for _, b := range data {
		crc = crc<<8 ^ crc16Table[byte(crc>>8)^b]
	}
	return crc
}

// XORChecksum folds data into a single byte. Kobuki frames carry it over the
// length byte and the payload.
func XORChecksum(data []byte) byte {
	var cs byte
	for _, b := range data {
		cs ^= b
	}
	return cs
}
