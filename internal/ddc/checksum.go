package ddc

// Checksum folds b into seed with XOR.
func Checksum(seed byte, b []byte) byte {
	sum := seed
	for _, c := range b {
		sum ^= c
	}
	return sum
}

// AppendChecksum returns frame with its request checksum appended.
func AppendChecksum(frame []byte) []byte {
	return append(frame, Checksum(SeedRequest, frame))
}

// VerifyRequest reports whether a request frame, checksum included, folds
// to zero under the request seed.
func VerifyRequest(frame []byte) bool {
	return len(frame) > 0 && Checksum(SeedRequest, frame) == 0
}

// VerifyReply checks the reply frame that starts at off. The window covers
// the length byte, the body it announces and the trailing checksum; an
// announced length that overruns data is clamped to what is present.
func VerifyReply(data []byte, off int) bool {
	if off < 0 || len(data) < off+3 {
		return false
	}
	n := int(data[off+1] & 0x7F)
	if limit := len(data) - off - 3; n > limit {
		n = limit
	}
	return Checksum(SeedReply, data[off+1:off+1+n+2]) == 0
}
