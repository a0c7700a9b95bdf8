package tactile

import "github.com/sigurn/crc16"

var crcTable = crc16.MakeTable(crc16.CRC16_CCITT_FALSE)

// Checksum computes CRC-16/CCITT-FALSE (poly 0x1021, init 0xFFFF, no
// reflection, no final xor) over data.
func Checksum(data []byte) uint16 { return crc16.Checksum(data, crcTable) }
