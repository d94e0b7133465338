package heap

// Equals implements structural equality for strings and collections and
// reference equality for everything else (booleans, null, files, futures).
// A collection never equals a non-collection; two collections are equal
// only if their flattened sizes match and every element compares equal
// under iteration order.
func (c *Context) Equals(a, b Ref) bool {
	if a == b {
		return true
	}
	ta, tb := c.GetType(a), c.GetType(b)
	if ta == TypeInteger || tb == TypeInteger {
		return ta == TypeInteger && tb == TypeInteger && c.UnboxInteger(a) == c.UnboxInteger(b)
	}
	aColl, bColl := ta.isCollection(), tb.isCollection()
	if aColl != bColl {
		return false
	}
	if aColl {
		n := c.Size(a)
		if n != c.Size(b) {
			return false
		}
		for i := 0; i < n; i++ {
			if !c.Equals(c.ElementAt(a, i), c.ElementAt(b, i)) {
				return false
			}
		}
		return true
	}
	if isStringType(ta) && isStringType(tb) {
		return string(c.stringBytes(a)) == string(c.stringBytes(b))
	}
	return false
}

func isStringType(t Type) bool {
	switch t {
	case TypeString, TypeStringPooled, TypeStringWrapped, TypeSubstring:
		return true
	default:
		return false
	}
}
