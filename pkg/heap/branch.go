package heap

// And and Not build boolean path conditions that may involve still-pending
// operands. If both operands are already concrete the result is computed
// immediately; otherwise a pending Future is returned whose resolver
// re-attempts the computation each time it is waited on (see stepBranch in
// pkg/vm, which combines a parent path condition with a branch predicate
// this way instead of choosing a side immediately).
func (c *Context) And(a, b Ref) Ref {
	ra, rb := c.TryWait(a), c.TryWait(b)
	if ra == c.False || rb == c.False {
		return c.False
	}
	if ra == c.True && rb == c.True {
		return c.True
	}
	return c.createPendingFuture(func() (Ref, bool) {
		ra, rb := c.TryWait(a), c.TryWait(b)
		if ra == c.False || rb == c.False {
			return c.False, true
		}
		if ra == c.True && rb == c.True {
			return c.True, true
		}
		return Null, false
	})
}

// Not negates a (possibly still-pending) boolean value.
func (c *Context) Not(a Ref) Ref {
	ra := c.TryWait(a)
	switch ra {
	case c.True:
		return c.False
	case c.False:
		return c.True
	}
	return c.createPendingFuture(func() (Ref, bool) {
		ra := c.TryWait(a)
		switch ra {
		case c.True:
			return c.False, true
		case c.False:
			return c.True, true
		}
		return Null, false
	})
}

// Bool converts a Go bool into the True/False singleton.
func (c *Context) Bool(b bool) Ref {
	if b {
		return c.True
	}
	return c.False
}
