package heap

import "encoding/binary"

// hashTag values are the stable, on-the-wire tag byte HashInto emits ahead
// of a value's payload bytes. This byte -- not the in-process Type enum,
// which is free to be renumbered -- is what determines cache-key
// compatibility, so it is defined once here and never derived from Type.
type hashTag byte

const (
	hashTagNull hashTag = iota
	hashTagTrue
	hashTagFalse
	hashTagInteger
	hashTagString
	hashTagArray
)

// HashInto writes a content hash of ref into w: a single stable tag byte,
// then payload bytes, recursing element-by-element for collections (after
// flattening Concat-List children, so two collections that are element-wise
// equal but built through different Concat trees hash identically).
func (c *Context) HashInto(w interface{ Write([]byte) (int, error) }, ref Ref) {
	switch c.GetType(ref) {
	case TypeNull:
		w.Write([]byte{byte(hashTagNull)})
	case TypeBooleanTrue:
		w.Write([]byte{byte(hashTagTrue)})
	case TypeBooleanFalse:
		w.Write([]byte{byte(hashTagFalse)})
	case TypeInteger:
		var buf [9]byte
		buf[0] = byte(hashTagInteger)
		binary.LittleEndian.PutUint64(buf[1:], uint64(c.UnboxInteger(ref)))
		w.Write(buf[:])
	case TypeString, TypeStringPooled, TypeStringWrapped, TypeSubstring:
		w.Write([]byte{byte(hashTagString)})
		w.Write(c.stringBytes(ref))
	default:
		if c.GetType(ref).isCollection() {
			n := c.Size(ref)
			var lenBuf [5]byte
			lenBuf[0] = byte(hashTagArray)
			binary.LittleEndian.PutUint32(lenBuf[1:], uint32(n))
			w.Write(lenBuf[:])
			for i := 0; i < n; i++ {
				c.HashInto(w, c.ElementAt(ref, i))
			}
			return
		}
		panic("heap: HashInto called on a non-hashable value")
	}
}
