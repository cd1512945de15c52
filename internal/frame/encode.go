package frame

import "encoding/binary"

// AppendRecord appends a length-exact record (counter + big-endian values) to b.
func AppendRecord(b []byte, counter uint8, values []int16) []byte {
	b = append(b, counter)
	for _, v := range values {
		b = binary.BigEndian.AppendUint16(b, uint16(v))
	}
	return b
}

// AppendPacket appends a sync-delimited serial packet to b.
func AppendPacket(b []byte, counter uint8, values []int16) []byte {
	b = append(b, SyncByte1, SyncByte2)
	b = AppendRecord(b, counter, values)
	return append(b, EndByte)
}
