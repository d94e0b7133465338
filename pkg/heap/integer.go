package heap

// BoxInteger encodes i as an inline Ref. Integer literals are never stored
// in the arena: the top bit of the handle marks it as inline, and the
// remaining 63 bits hold the two's-complement payload.
//
// This, UnboxInteger and the isInteger tag test in heap.go are the only
// functions in the package that touch the tag bit directly -- every other
// call site goes through them, per DESIGN NOTES' guidance to centralise the sign-tagging trick behind a
// pair of encode/decode functions rather than inlining it everywhere.
func BoxInteger(i int64) Ref {
	return Ref((uint64(i) & (intTagBit - 1)) | intTagBit)
}

// UnboxInteger recovers the int64 payload of an inline integer Ref. Calling
// it on anything else is a programming error and panics, matching the
// source assertion it replaces.
func (c *Context) UnboxInteger(ref Ref) int64 {
	if !isInteger(ref) {
		panic("heap: UnboxInteger called on a non-integer value")
	}
	return signExtend(uint64(ref)&(intTagBit-1), 63)
}

// IsInteger reports whether ref is an inline integer.
func IsInteger(ref Ref) bool {
	return isInteger(ref)
}
