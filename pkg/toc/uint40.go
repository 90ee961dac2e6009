package toc

// The length and offset fields of an entry record are 40-bit big-endian
// integers, zero-extended into int64 on the way in.

func Uint40(b []byte) int64 {
	_ = b[4]
	return int64(b[0])<<32 | int64(b[1])<<24 | int64(b[2])<<16 | int64(b[3])<<8 | int64(b[4])
}

func PutUint40(b []byte, v int64) {
	_ = b[4]
	b[0] = byte(v >> 32)
	b[1] = byte(v >> 24)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 8)
	b[4] = byte(v)
}
