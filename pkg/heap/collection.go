package heap

import "encoding/binary"

// CreateArray allocates a fixed-size Array from values.
func (c *Context) CreateArray(values []Ref) Ref {
	if len(values) == 0 {
		return c.EmptyList
	}
	buf, ref := c.Alloc(TypeArray, 4+8*len(values))
	binary.LittleEndian.PutUint32(buf, uint32(len(values)))
	for i, v := range values {
		binary.LittleEndian.PutUint64(buf[4+8*i:], uint64(v))
	}
	return ref
}

// CreateRange allocates an inclusive, ascending Integer-Range [lo, hi].
func (c *Context) CreateRange(lo, hi int64) Ref {
	if hi < lo {
		return c.EmptyList
	}
	buf, ref := c.Alloc(TypeRange, 16)
	binary.LittleEndian.PutUint64(buf, uint64(lo))
	binary.LittleEndian.PutUint64(buf[8:], uint64(hi))
	return ref
}

// Concat lazily concatenates two lists: no element is copied, the result
// is a Concat-List pointing at both operands.
func (c *Context) Concat(a, b Ref) Ref {
	if c.GetType(a) == TypeEmptyList {
		return b
	}
	if c.GetType(b) == TypeEmptyList {
		return a
	}
	buf, ref := c.Alloc(TypeConcatList, 4+16)
	binary.LittleEndian.PutUint32(buf, 2)
	binary.LittleEndian.PutUint64(buf[4:], uint64(a))
	binary.LittleEndian.PutUint64(buf[12:], uint64(b))
	return ref
}

// Size returns the number of elements a collection value holds when fully
// flattened (Concat-List children are traversed in order).
func (c *Context) Size(ref Ref) int {
	switch c.GetType(ref) {
	case TypeEmptyList:
		return 0
	case TypeArray:
		return int(binary.LittleEndian.Uint32(c.GetData(ref)))
	case TypeRange:
		data := c.GetData(ref)
		lo := int64(binary.LittleEndian.Uint64(data))
		hi := int64(binary.LittleEndian.Uint64(data[8:]))
		return int(hi-lo) + 1
	case TypeConcatList:
		total := 0
		for _, child := range c.concatChildren(ref) {
			total += c.Size(child)
		}
		return total
	default:
		panic("heap: Size called on a non-collection value")
	}
}

// ElementAt returns the i'th element (0-based) of a collection under its
// default iteration order, flattening Concat-List children as it goes.
func (c *Context) ElementAt(ref Ref, i int) Ref {
	switch c.GetType(ref) {
	case TypeArray:
		data := c.GetData(ref)
		return Ref(binary.LittleEndian.Uint64(data[4+8*i:]))
	case TypeRange:
		data := c.GetData(ref)
		lo := int64(binary.LittleEndian.Uint64(data))
		return BoxInteger(lo + int64(i))
	case TypeConcatList:
		for _, child := range c.concatChildren(ref) {
			n := c.Size(child)
			if i < n {
				return c.ElementAt(child, i)
			}
			i -= n
		}
		panic("heap: ElementAt index out of range")
	default:
		panic("heap: ElementAt called on a non-collection value")
	}
}

func (c *Context) concatChildren(ref Ref) []Ref {
	data := c.GetData(ref)
	n := int(binary.LittleEndian.Uint32(data))
	children := make([]Ref, n)
	for i := 0; i < n; i++ {
		children[i] = Ref(binary.LittleEndian.Uint64(data[4+8*i:]))
	}
	return children
}

// File returns a Ref naming path in the file index, creating an entry if
// this is the first reference to that path.
func (c *Context) File(path string) Ref {
	for i, p := range c.files {
		if p == path {
			buf, ref := c.Alloc(TypeFile, 4)
			binary.LittleEndian.PutUint32(buf, uint32(i))
			return ref
		}
	}
	idx := len(c.files)
	c.files = append(c.files, path)
	buf, ref := c.Alloc(TypeFile, 4)
	binary.LittleEndian.PutUint32(buf, uint32(idx))
	return ref
}

// FilePath returns the path a File value names.
func (c *Context) FilePath(ref Ref) string {
	idx := binary.LittleEndian.Uint32(c.GetData(ref))
	return c.files[idx]
}
