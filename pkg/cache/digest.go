package cache

import "golang.org/x/crypto/blake2b"

// DigestSize is the number of bytes of hash don keeps per cache entry.
// Grounded on original_source/src/cache.c's CACHE_DIGEST_SIZE (30, chosen
// there so it divides evenly by 5 for base32 filename encoding); this
// port has no base32 filename requirement, but keeps the same size so a
// Digest is directly comparable in spirit -- resolving spec.md's Open
// Question between Blake2b and Blue Midnight Wish in Blake2b's favour,
// since golang.org/x/crypto (already in the module's dependency graph via
// the ProbeChain-go-probe example) ships a Blake2b implementation and no
// BMW one. See DESIGN.md.
const DigestSize = 30

// Digest is a truncated Blake2b-512 sum identifying one cache entry: the
// HashInto encoding of each exec argument value, in the order
// pkg/workqueue's exec handler assembles them. No file contents are read
// into it.
type Digest [DigestSize]byte

// Sum computes the Digest of data.
func Sum(data []byte) Digest {
	full := blake2b.Sum512(data)
	var d Digest
	copy(d[:], full[:DigestSize])
	return d
}
