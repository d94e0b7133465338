package heap

import "encoding/binary"

// CreateString allocates an immutable string from bytes without interning.
// Used for runtime-computed strings (concatenation results, captured
// subprocess output, cache payloads) that are unlikely to recur verbatim.
func (c *Context) CreateString(data []byte) Ref {
	if len(data) == 0 {
		if c.EmptyString != Null {
			return c.EmptyString
		}
	}
	buf, ref := c.Alloc(TypeString, len(data))
	copy(buf, data)
	return ref
}

// CreateInternedString returns a pooled string value for s, reusing a
// previous Ref when one survives in the bounded LRU intern pool. Used for
// source-level string and identifier constants, which recur heavily across
// a single script. A pool miss -- including one caused by LRU eviction of
// an earlier entry -- simply allocates a fresh pooled-string slot: interning
// is an optimisation, not a correctness requirement.
func (c *Context) CreateInternedString(s string) Ref {
	if ref, ok := c.stringPool.Get(s); ok {
		return ref
	}
	idx := len(c.pooledStrings)
	c.pooledStrings = append(c.pooledStrings, s)
	buf, ref := c.Alloc(TypeStringPooled, 4)
	binary.LittleEndian.PutUint32(buf, uint32(idx))
	c.stringPool.Add(s, ref)
	return ref
}

// CreateWrappedString wraps externally-owned bytes without copying them
// into the arena, mirroring the (pointer, length) wrapped-string payload.
// Go has no raw pointers to arbitrary memory, so the wrapped slice itself
// is kept in a side table and the payload stores its index.
func (c *Context) CreateWrappedString(data []byte) Ref {
	idx := len(c.wrapped)
	c.wrapped = append(c.wrapped, data)
	buf, ref := c.Alloc(TypeStringWrapped, 4)
	binary.LittleEndian.PutUint32(buf, uint32(idx))
	return ref
}

// CreateSubstring returns an immutable view over [offset, offset+length) of
// parent without copying. Substring construction never copies, per the
// heap invariant.
func (c *Context) CreateSubstring(parent Ref, offset, length int) Ref {
	if length == 0 {
		return c.EmptyString
	}
	buf, ref := c.Alloc(TypeSubstring, 16)
	binary.LittleEndian.PutUint64(buf, uint64(parent))
	binary.LittleEndian.PutUint32(buf[8:], uint32(offset))
	binary.LittleEndian.PutUint32(buf[12:], uint32(length))
	return ref
}

// StringLength returns the rendered length of ref: the raw byte length for
// strings, or the default list rendering length "[a, b, c]" for
// collections (2 brackets + 2 separator bytes per gap + the sum of each
// element's own rendered length).
func (c *Context) StringLength(ref Ref) int {
	switch c.GetType(ref) {
	case TypeString, TypeStringWrapped, TypeStringPooled:
		return len(c.stringBytes(ref))
	case TypeSubstring:
		data := c.GetData(ref)
		length := int(binary.LittleEndian.Uint32(data[12:]))
		return length
	case TypeInteger:
		return len(formatInt(c.UnboxInteger(ref)))
	case TypeBooleanTrue:
		return 4
	case TypeBooleanFalse:
		return 5
	case TypeNull:
		return 4
	default:
		if c.GetType(ref).isCollection() {
			n := c.Size(ref)
			if n == 0 {
				return 2
			}
			total := 2 + 2*(n-1)
			for i := 0; i < n; i++ {
				total += c.StringLength(c.ElementAt(ref, i))
			}
			return total
		}
		return 0
	}
}

// WriteString renders ref's default textual form into dst, which must be
// at least StringLength(ref) bytes, and returns the number of bytes
// written.
func (c *Context) WriteString(ref Ref, dst []byte) int {
	switch c.GetType(ref) {
	case TypeString, TypeStringWrapped, TypeStringPooled, TypeSubstring:
		return copy(dst, c.stringBytes(ref))
	case TypeInteger:
		return copy(dst, formatInt(c.UnboxInteger(ref)))
	case TypeBooleanTrue:
		return copy(dst, "true")
	case TypeBooleanFalse:
		return copy(dst, "false")
	case TypeNull:
		return copy(dst, "null")
	default:
		if c.GetType(ref).isCollection() {
			n := c.Size(ref)
			w := 0
			dst[w] = '['
			w++
			for i := 0; i < n; i++ {
				if i > 0 {
					dst[w] = ','
					dst[w+1] = ' '
					w += 2
				}
				w += c.WriteString(c.ElementAt(ref, i), dst[w:])
			}
			dst[w] = ']'
			w++
			return w
		}
		return 0
	}
}

// Render returns ref's default textual form as a Go string. A thin
// convenience wrapper over StringLength/WriteString for call sites (native
// function dispatch, cache keys, diagnostics) that just want text and don't
// care about avoiding the one extra copy.
func (c *Context) Render(ref Ref) string {
	buf := make([]byte, c.StringLength(ref))
	c.WriteString(ref, buf)
	return string(buf)
}

// stringBytes returns the raw bytes behind any of the string-family types.
func (c *Context) stringBytes(ref Ref) []byte {
	switch c.GetType(ref) {
	case TypeString:
		return c.GetData(ref)
	case TypeStringWrapped:
		idx := binary.LittleEndian.Uint32(c.GetData(ref))
		return c.wrapped[idx]
	case TypeStringPooled:
		idx := binary.LittleEndian.Uint32(c.GetData(ref))
		return []byte(c.pooledStrings[idx])
	case TypeSubstring:
		data := c.GetData(ref)
		parent := Ref(binary.LittleEndian.Uint64(data))
		offset := int(binary.LittleEndian.Uint32(data[8:]))
		length := int(binary.LittleEndian.Uint32(data[12:]))
		parentBytes := c.stringBytes(parent)
		return parentBytes[offset : offset+length]
	default:
		panic("heap: stringBytes called on a non-string value")
	}
}

func formatInt(i int64) string {
	// Standard signed decimal formatting.
	if i == 0 {
		return "0"
	}
	neg := i < 0
	var buf [20]byte
	pos := len(buf)
	u := uint64(i)
	if neg {
		u = uint64(-i)
	}
	for u > 0 {
		pos--
		buf[pos] = byte('0' + u%10)
		u /= 10
	}
	if neg {
		pos--
		buf[pos] = '-'
	}
	return string(buf[pos:])
}
