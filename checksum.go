package solarmanv5

// checksum computes the V5 envelope's one-byte additive checksum: the sum
// of every byte in b, truncated to 8 bits. It is applied symmetrically on
// build (frame.go's buildRequest) and on verify (frame.go's
// ParseResponse), always over the byte range [1, len-2) of the full
// envelope — callers pass that slice in directly rather than the whole
// frame.
//
// checksum(nil) is 0.
func checksum(b []byte) byte {
	var sum byte
	for _, v := range b {
		sum += v
	}
	return sum
}
