package util

// CopyBytes returns a copy of src. The result is never nil.
func CopyBytes(src []byte) []byte {
	dst := make([]byte, len(src))
	copy(dst, src)
	return dst
}
