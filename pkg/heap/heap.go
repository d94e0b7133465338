// Package heap implements the parsed-value heap: a tagged, content-addressed
// arena that holds every runtime value the linker, virtual machine, and
// cache operate on.
//
// Values are referenced by Ref, an opaque handle. A Ref is either an inline
// integer (the top bit of the handle marks this) or an offset into a single
// contiguous byte arena allocated once at Context construction and released
// together at teardown -- there is no intra-run reclamation, matching the
// arena-style lifecycle the interpreter relies on.
//
// Every arena object carries an 8-byte prolog (4-byte size, 4-byte type tag)
// ahead of its payload. Collections (Array, Integer-Range, Concat-List) are
// trees: a Concat-List's children may themselves be collections, and
// iteration flattens them in order.
package heap

import (
	"encoding/binary"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Ref is an opaque value handle: either an inline integer or an offset into
// the arena. Ref(0) is the Null singleton -- no real object ever occupies
// arena offset 0 (an 8-byte pad is reserved there at Context construction).
type Ref uint64

// Null is the zero reference; the sole value for which no arena object
// exists.
const Null Ref = 0

const intTagBit = uint64(1) << 63

// Type identifies the payload shape of a heap object.
type Type uint32

const (
	// TypeNull is reported for the Null singleton, which has no arena
	// object and hence no real type tag.
	TypeNull Type = iota
	TypeInteger
	TypeBooleanTrue
	TypeBooleanFalse
	TypeString
	TypeStringPooled
	TypeStringWrapped
	TypeSubstring
	TypeFile
	TypeEmptyList
	TypeArray
	TypeRange
	TypeConcatList
	TypeFuture
)

func (t Type) String() string {
	switch t {
	case TypeNull:
		return "Null"
	case TypeInteger:
		return "Integer"
	case TypeBooleanTrue:
		return "True"
	case TypeBooleanFalse:
		return "False"
	case TypeString:
		return "String"
	case TypeStringPooled:
		return "StringPooled"
	case TypeStringWrapped:
		return "StringWrapped"
	case TypeSubstring:
		return "Substring"
	case TypeFile:
		return "File"
	case TypeEmptyList:
		return "EmptyList"
	case TypeArray:
		return "Array"
	case TypeRange:
		return "Range"
	case TypeConcatList:
		return "ConcatList"
	case TypeFuture:
		return "Future"
	default:
		return "Unknown"
	}
}

// isCollection reports whether t is one of the collection types, whose
// elements are reachable via Size/ElementAt.
func (t Type) isCollection() bool {
	switch t {
	case TypeEmptyList, TypeArray, TypeRange, TypeConcatList:
		return true
	default:
		return false
	}
}

// IsCollection is the exported form of isCollection, for callers outside
// the package (the VM's ADD/indexing dispatch) that need to tell a
// collection value apart from a scalar one.
func (t Type) IsCollection() bool { return t.isCollection() }

const prologSize = 8

// futureBox is the mutable cell backing a Future value. A resolver is used
// for symbolic path-condition composites (And/Not over still-pending
// operands, see branch.go): TryWait calls it to attempt resolution without
// the producer having to know about every dependent.
type futureBox struct {
	fulfilled bool
	value     Ref
	resolver  func() (Ref, bool)
}

// Context is the explicit, single composite state bag that replaces the
// original interpreter's process-wide globals (string pool, file index,
// heap arena): it is constructed once per CLI invocation, after linking,
// and passed explicitly to the VM, which hands it on to the work queue's
// native handlers. The parser, linker and cache do not use it.
type Context struct {
	arena []byte

	stringPool    *lru.Cache[string, Ref]
	pooledStrings []string

	wrapped [][]byte
	files   []string
	futures []*futureBox

	Null        Ref
	True        Ref
	False       Ref
	EmptyString Ref
	EmptyList   Ref
	Newline     Ref
}

// arenaCapacity is the fixed capacity reserved for the value arena. Because
// Go slices returned by Alloc must stay valid for the lifetime of the
// Context, the arena never reallocates past this capacity; exceeding it is
// heap exhaustion, a fatal condition (see Alloc).
const arenaCapacity = 64 << 20

// NewContext allocates a fresh value heap with its singleton values
// installed.
func NewContext() *Context {
	pool, err := lru.New[string, Ref](4096)
	if err != nil {
		// Only returns an error for a non-positive size, which is
		// a programming error, not a runtime condition.
		panic(fmt.Sprintf("heap: string pool: %v", err))
	}

	c := &Context{
		arena:      make([]byte, prologSize, arenaCapacity),
		stringPool: pool,
	}

	c.Null = Null
	c.True = c.allocSingleton(TypeBooleanTrue)
	c.False = c.allocSingleton(TypeBooleanFalse)
	c.EmptyList = c.allocSingleton(TypeEmptyList)
	c.EmptyString = c.CreateString(nil)
	c.Newline = c.CreateString([]byte("\n"))
	return c
}

func (c *Context) allocSingleton(t Type) Ref {
	_, ref := c.Alloc(t, 0)
	return ref
}

// Alloc reserves size bytes for a new object of type t and returns a
// writable slice over its payload plus the object's final Ref. The
// returned slice stays valid for the Context's lifetime: the arena is
// pre-sized to arenaCapacity and never reallocated, so earlier Alloc
// results are never invalidated by later ones.
//
// Running out of arena space is fatal, mirroring the original
// allocator's "Out of memory" abort -- there is no recovery path for a
// build tool mid-link.
func (c *Context) Alloc(t Type, size int) ([]byte, Ref) {
	offset := len(c.arena)
	need := prologSize + size
	if offset+need > cap(c.arena) {
		panic("heap: out of memory")
	}
	c.arena = c.arena[:offset+need]
	binary.LittleEndian.PutUint32(c.arena[offset:], uint32(size))
	binary.LittleEndian.PutUint32(c.arena[offset+4:], uint32(t))
	return c.arena[offset+prologSize : offset+need], Ref(offset)
}

// GetType returns the type tag of ref.
func (c *Context) GetType(ref Ref) Type {
	if ref == Null {
		return TypeNull
	}
	if isInteger(ref) {
		return TypeInteger
	}
	return Type(binary.LittleEndian.Uint32(c.arena[ref+4:]))
}

// GetSize returns the payload size in bytes of ref.
func (c *Context) GetSize(ref Ref) int {
	if ref == Null || isInteger(ref) {
		return 0
	}
	return int(binary.LittleEndian.Uint32(c.arena[ref:]))
}

// GetData returns the raw payload bytes of ref. The slice is a view into
// the arena and must not be retained past the Context's lifetime.
func (c *Context) GetData(ref Ref) []byte {
	size := c.GetSize(ref)
	return c.arena[int(ref)+prologSize : int(ref)+prologSize+size]
}

func isInteger(ref Ref) bool {
	return uint64(ref)&intTagBit != 0
}

// signExtend sign-extends the low `bits` bits of value to a full int64, per
// DESIGN NOTES' call to make the integer-literal tagging scheme's sign
// extension an explicit, documented operation rather than an implicit
// reinterpret cast.
func signExtend(value uint64, bits uint) int64 {
	shift := 64 - bits
	return int64(value<<shift) >> shift
}
