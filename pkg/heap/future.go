package heap

import "encoding/binary"

// CreateFuture allocates a box for a value not yet known. It returns the
// Future's Ref; SetFuture fulfils it later.
func (c *Context) CreateFuture() Ref {
	idx := len(c.futures)
	c.futures = append(c.futures, &futureBox{})
	buf, ref := c.Alloc(TypeFuture, 4)
	binary.LittleEndian.PutUint32(buf, uint32(idx))
	return ref
}

// createPendingFuture allocates a Future whose value is computed lazily by
// resolver once its operands become concrete. Used by And/Not to build
// composite path conditions over still-pending values (see branch.go).
func (c *Context) createPendingFuture(resolver func() (Ref, bool)) Ref {
	ref := c.CreateFuture()
	c.futureBoxOf(ref).resolver = resolver
	return ref
}

func (c *Context) futureBoxOf(ref Ref) *futureBox {
	idx := binary.LittleEndian.Uint32(c.GetData(ref))
	return c.futures[idx]
}

// SetFuture fulfils the future named by ref with value. A Future is
// fulfilled exactly once; calling this again on an already-fulfilled
// Future is a programming error.
func (c *Context) SetFuture(ref Ref, value Ref) {
	box := c.futureBoxOf(ref)
	if box.fulfilled {
		panic("heap: future already fulfilled")
	}
	box.fulfilled = true
	box.value = value
	box.resolver = nil
}

// TryWait returns the fulfilled value of ref if it is ready, otherwise the
// same Future reference unchanged. Non-Future values are returned as-is.
// A pending composite (created via And/Not over not-yet-concrete operands)
// is given a chance to resolve itself here.
func (c *Context) TryWait(ref Ref) Ref {
	if c.GetType(ref) != TypeFuture {
		return ref
	}
	box := c.futureBoxOf(ref)
	if box.fulfilled {
		return box.value
	}
	if box.resolver != nil {
		if value, ok := box.resolver(); ok {
			c.SetFuture(ref, value)
			return value
		}
	}
	return ref
}

// IsReady reports whether ref, if a Future, has been fulfilled. Non-Future
// values are always ready.
func (c *Context) IsReady(ref Ref) bool {
	return c.GetType(c.TryWait(ref)) != TypeFuture
}
