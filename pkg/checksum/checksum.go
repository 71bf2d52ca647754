package checksum

import (
	"hash/crc32"

	"github.com/sigurn/crc16"
)

// CRC-16-CCITT with poly 0x1021, init 0xFFFF, no reflection. Both the data
// packet and parity packet frames end with this checksum, so a receiver can
// validate either frame kind with the same primitive.
var crc16Table = crc16.MakeTable(crc16.CRC16_CCITT_FALSE)

func Crc16(data []byte) uint16 {
	return crc16.Checksum(data, crc16Table)
}

// Crc32 is the end-to-end stream checksum. IEEE polynomial, compatible with
// zlib.crc32 on the gateway side.
func Crc32(data []byte) uint32 {
	return crc32.ChecksumIEEE(data)
}
