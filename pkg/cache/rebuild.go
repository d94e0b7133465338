package cache

import (
	"encoding/binary"
	"fmt"

	"github.com/spf13/afero"
)

// headerSize is the fixed 8-byte header every index file starts with:
// a 4-byte little-endian sequence number used to tell index files apart
// by age, followed by a 4-byte little-endian tag identifying the file as
// a don cache index.
const headerSize = 8

// tag is the fixed magic value at the start of every index file,
// grounded on original_source/src/cache.c's TAG (0x646f6e00, which reads
// "don\0" most significant byte first; written little-endian it is the
// bytes 00 6e 6f 64).
const tag uint32 = 0x646f6e00

// slotFilenames names the three index-file slots. Exactly one is normally
// "live" (carries a nonzero sequence number) at any given time; the other
// two are spare targets the rebuild protocol writes into.
var slotFilenames = [3]string{"index.0", "index.1", "index.2"}

// Plan is the pure decision a rebuild makes from the three index files'
// headers alone, before touching their contents: which slot (if any) to
// load old entries from, which spare slot becomes the new write target,
// and which slots (if any) are stale and should be deleted.
//
// Splitting this out from Open, which applies the plan, mirrors original_source/src/cache.c's
// CacheInit, which inspects only info{1,2,3}.header.sequenceNumber before
// deciding what to do -- the header read is a few bytes per file, cheap
// enough to do eagerly, while the entries themselves are mmap'd lazily.
type Plan struct {
	ReadSlot     int // -1 if there is no existing index to load
	WriteSlot    int
	DeleteSlots  []int
	NextSequence uint32
}

func readHeader(fs afero.Fs, dir string) [3]uint32 {
	var seqs [3]uint32
	for i, name := range slotFilenames {
		f, err := fs.Open(dir + "/" + name)
		if err != nil {
			continue
		}
		buf := make([]byte, headerSize)
		n, _ := f.Read(buf)
		f.Close()
		if n < headerSize {
			continue
		}
		if binary.LittleEndian.Uint32(buf[4:]) != tag {
			continue
		}
		seqs[i] = binary.LittleEndian.Uint32(buf[:4])
	}
	return seqs
}

// PlanRebuild inspects the cache directory's three index-file headers and
// decides how to recover, following original_source/src/cache.c's
// CacheInit state machine:
//
//   - no file has a sequence number: cold start, write into slot 0.
//   - exactly one does: normal startup; read it, write the rebuilt index
//     into one of the two empty slots.
//   - exactly two do: a previous shutdown was interrupted after writing
//     its new index but before deleting the old one. Both are valid;
//     pick the newer as the read source and rebuild into the empty slot;
//     the older of the two is marked for deletion, which Open carries out
//     before loading the read source.
//   - all three do (shouldn't happen from a clean run, but a crash can
//     leave extra partial state): keep only the newest, as if exactly one
//     were present, and mark the other two for deletion.
func PlanRebuild(fs afero.Fs, dir string) Plan {
	seqs := readHeader(fs, dir)

	present := func(i int) bool { return seqs[i] != 0 }
	newest := func(a, b int) int {
		if seqs[a] >= seqs[b] {
			return a
		}
		return b
	}

	switch {
	case present(0) && present(1) && present(2):
		// spec.md §4.6 step 2 describes recovering from this state by
		// deleting only the strictly-largest sequence number and rebuilding
		// from the remaining pair. This port instead keeps the newest and
		// deletes both others: each Close already rewrites a full superset
		// index (see cache.go), so the newest slot alone already carries
		// every surviving entry the other two would contribute.
		n := newest(newest(0, 1), 2)
		var del []int
		for i := 0; i < 3; i++ {
			if i != n {
				del = append(del, i)
			}
		}
		// Both non-newest slots are being deleted; reuse the first as the
		// write target once it's gone.
		return Plan{ReadSlot: n, WriteSlot: del[0], DeleteSlots: del, NextSequence: seqs[n] + 1}

	case present(0) && present(1):
		n := newest(0, 1)
		old := 1 - n
		return Plan{ReadSlot: n, WriteSlot: 2, DeleteSlots: []int{old}, NextSequence: seqs[n] + 1}

	case present(0) && present(2):
		n := newest(0, 2)
		old := 2 - n
		return Plan{ReadSlot: n, WriteSlot: 1, DeleteSlots: []int{old}, NextSequence: seqs[n] + 1}

	case present(1) && present(2):
		n := newest(1, 2)
		old := 3 - n
		return Plan{ReadSlot: n, WriteSlot: 0, DeleteSlots: []int{old}, NextSequence: seqs[n] + 1}

	case present(0):
		return Plan{ReadSlot: 0, WriteSlot: 1, NextSequence: seqs[0] + 1}
	case present(1):
		return Plan{ReadSlot: 1, WriteSlot: 0, NextSequence: seqs[1] + 1}
	case present(2):
		return Plan{ReadSlot: 2, WriteSlot: 0, NextSequence: seqs[2] + 1}

	default:
		return Plan{ReadSlot: -1, WriteSlot: 0, NextSequence: 1}
	}
}

func slotPath(dir string, slot int) string {
	return fmt.Sprintf("%s/%s", dir, slotFilenames[slot])
}
