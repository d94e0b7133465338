// Package cache implements don's persistent content-addressed build cache:
// a digest of a command's inputs maps to the output it produced last time,
// so an unchanged command can be skipped entirely on the next run.
//
// The on-disk format and rebuild protocol are grounded directly on
// original_source/src/cache.c's CacheInit/CacheGet/CacheSetUptodate/
// CacheDispose. Index entries accumulate in memory across a run (newEntries
// there, c.pending here) and are only consolidated into a file at Close,
// mirroring the C implementation's crash semantics: a run that is killed
// mid-way loses its new cache entries but never corrupts the three index
// files on disk.
package cache

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"sort"

	"github.com/edsrzf/mmap-go"
	"github.com/spf13/afero"
)

// tableSize bounds the in-memory open-addressing hash table. The C
// implementation grows table[] lazily past 0x10000 entries (left as a
// TODO there); this port fixes the same starting size and simply refuses
// new entries once full rather than rehashing, which is adequate for the
// single-build-run lifetimes this cache serves.
const tableSize = 0x10000

type tableSlot struct {
	hash    Digest
	present bool
	offset  int // byte offset of the entry within the logical oldEntries+pending stream
}

// entry is one record in the serialized index: a digest followed by its
// cached payload. Unlike cache.c's Entry, this port drops the
// dependency-staleness bookkeeping (FileHasChanged over tracked paths):
// an entry records no dependencies, and its key is the digest of exec's
// argument values alone. A change to a file whose contents are not
// carried in those arguments does not change the digest, so such an
// entry still hits. It also collapses spec.md §3's
// separate dependencies[]/out/err fields into a single data blob: the
// work queue models a cached command's result as one in-heap string, not
// a file artifact with distinct stdout/stderr streams, so there is
// nothing left to store per entry beyond the rendered payload (see
// DESIGN.md).
type entry struct {
	hash Digest
	data []byte
}

func (e entry) size() int {
	return DigestSize + 4 + len(e.data)
}

func encodeEntry(e entry) []byte {
	buf := make([]byte, e.size())
	copy(buf, e.hash[:])
	binary.LittleEndian.PutUint32(buf[DigestSize:], uint32(len(e.data)))
	copy(buf[DigestSize+4:], e.data)
	return buf
}

// decodeEntry reads one entry starting at data[0] and returns it along
// with its encoded size.
func decodeEntry(data []byte) (entry, int) {
	length := binary.LittleEndian.Uint32(data[DigestSize : DigestSize+4])
	start := DigestSize + 4
	e := entry{data: data[start : start+int(length)]}
	copy(e.hash[:], data[:DigestSize])
	return e, e.size()
}

// Cache is an open build cache for the duration of one don run.
type Cache struct {
	fs  afero.Fs
	dir string

	plan Plan

	oldEntries []byte     // the mmap'd contents of plan.ReadSlot's index, sans header
	oldMap     mmap.MMap  // kept only to unmap on Close
	readFile   afero.File // kept open until Close deletes it
	table      []tableSlot
	entryCount int

	pending   []entry      // new entries written this run (analogous to newEntries)
	removedAt map[int]bool // byte offsets, within oldEntries, superseded by a pending entry
}

// Open prepares the cache directory for use, running the tri-file rebuild
// protocol (PlanRebuild) and loading whichever index file survives it into
// memory. dir is created if it does not already exist.
func Open(fs afero.Fs, dir string) (*Cache, error) {
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cache: creating %s: %w", dir, err)
	}

	plan := PlanRebuild(fs, dir)

	c := &Cache{
		fs:        fs,
		dir:       dir,
		plan:      plan,
		table:     make([]tableSlot, tableSize),
		removedAt: make(map[int]bool),
	}

	for _, slot := range plan.DeleteSlots {
		_ = fs.Remove(slotPath(dir, slot))
	}

	if plan.ReadSlot >= 0 {
		if err := c.loadReadSlot(); err != nil {
			return nil, err
		}
	}

	return c, nil
}

// loadReadSlot mmaps plan.ReadSlot's file (skipping its header) and
// indexes every entry it contains into the in-memory hash table, exactly
// as cache.c's loadIndex/buildTable do for the surviving index file.
func (c *Cache) loadReadSlot() error {
	path := slotPath(c.dir, c.plan.ReadSlot)
	f, err := c.fs.Open(path)
	if err != nil {
		// The header scan said this slot looked valid; if it vanished
		// between then and now, treat the cache as empty rather than
		// fail the whole build over a stale index.
		return nil
	}

	osFile, ok := f.(*os.File)
	if !ok {
		// afero's in-memory filesystem (used by tests) can't be mmap'd;
		// fall back to a plain read so the cache still behaves correctly,
		// just without the real implementation's zero-copy read path.
		return c.loadReadSlotByCopy(f)
	}

	m, err := mmap.Map(osFile, mmap.RDONLY, 0)
	if err != nil {
		f.Close()
		return c.reopenAndCopy(path)
	}

	if len(m) <= headerSize {
		m.Unmap()
		f.Close()
		return nil
	}

	c.oldMap = m
	c.readFile = f
	c.oldEntries = m[headerSize:]
	c.buildTable(c.oldEntries)
	return nil
}

// loadReadSlotByCopy is the non-mmap fallback used against filesystems
// (notably afero's MemMapFs) that don't expose an *os.File descriptor.
func (c *Cache) loadReadSlotByCopy(f afero.File) error {
	defer f.Close()
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(f); err != nil {
		return fmt.Errorf("cache: reading index: %w", err)
	}
	data := buf.Bytes()
	if len(data) <= headerSize {
		return nil
	}
	c.oldEntries = data[headerSize:]
	c.buildTable(c.oldEntries)
	return nil
}

func (c *Cache) reopenAndCopy(path string) error {
	reopened, err := c.fs.Open(path)
	if err != nil {
		return fmt.Errorf("cache: reopening index: %w", err)
	}
	return c.loadReadSlotByCopy(reopened)
}

func (c *Cache) buildTable(data []byte) {
	for i := 0; i < len(data); {
		e, n := decodeEntry(data[i:])
		c.insert(e.hash, i)
		i += n
	}
}

func tableIndex(hash Digest) int {
	return int(binary.LittleEndian.Uint64(hash[:8])) & (tableSize - 1)
}

// insert records hash at byte offset within the logical old-entries
// stream, following the open-addressing probe sequence table.c's
// buildTable/CacheSetUptodate use (linear probe, wrap on collision). An
// existing entry for the same hash is marked superseded via removedAt.
//
// removedAt is a set, not a list: spec.md's Open Question on
// find_slot's duplicate-key behavior under non-monotonic removed-entry
// offsets is resolved here by making a repeated offset a safe no-op
// instead of asserting strict monotonicity the way cache.c's BVAddSize
// would if fed the same offset twice.
func (c *Cache) insert(hash Digest, offset int) {
	for i := tableIndex(hash); ; i = (i + 1) & (tableSize - 1) {
		slot := &c.table[i]
		if !slot.present {
			slot.present = true
			slot.hash = hash
			slot.offset = offset
			c.entryCount++
			return
		}
		if slot.hash == hash {
			if slot.offset < len(c.oldEntries) {
				c.removedAt[slot.offset] = true
			}
			slot.offset = offset
			return
		}
	}
}

// Get looks up digest in the cache. ok reports whether an entry exists at
// all; when it does, payload is the data recorded by the most recent
// SetUptodate call for digest, in a previous run or earlier in this one.
func (c *Cache) Get(digest Digest) (payload []byte, ok bool) {
	for i := tableIndex(digest); ; i = (i + 1) & (tableSize - 1) {
		slot := &c.table[i]
		if !slot.present {
			return nil, false
		}
		if slot.hash == digest {
			if slot.offset < len(c.oldEntries) {
				e, _ := decodeEntry(c.oldEntries[slot.offset:])
				return e.data, true
			}
			// Looked up again within the same run, after a prior
			// SetUptodate for this digest.
			for i := len(c.pending) - 1; i >= 0; i-- {
				if c.pending[i].hash == digest {
					return c.pending[i].data, true
				}
			}
			return nil, false
		}
	}
}

// SetUptodate records the result of a command so a future run with the
// same digest can skip re-running it.
func (c *Cache) SetUptodate(digest Digest, payload []byte) error {
	if c.entryCount >= tableSize-1 {
		return fmt.Errorf("cache: table full")
	}
	pendingOffset := len(c.oldEntries)
	for _, p := range c.pending {
		pendingOffset += p.size()
	}
	c.insert(digest, pendingOffset)
	c.pending = append(c.pending, entry{hash: digest, data: append([]byte(nil), payload...)})
	return nil
}

// Close consolidates this run's new entries together with whatever old
// entries survived (minus any superseded by a new one) into the planned
// write-target file, then deletes the old read-source file -- the same
// two-step shutdown original_source/src/cache.c's CacheDispose performs,
// chosen deliberately so a crash between the steps still leaves exactly
// one recoverable index (handled by PlanRebuild's two-files-present case).
func (c *Cache) Close() error {
	removed := make([]int, 0, len(c.removedAt))
	for offset := range c.removedAt {
		removed = append(removed, offset)
	}
	sort.Ints(removed)

	writePath := slotPath(c.dir, c.plan.WriteSlot)
	f, err := c.fs.Create(writePath)
	if err != nil {
		return fmt.Errorf("cache: creating %s: %w", writePath, err)
	}
	defer f.Close()

	var header [headerSize]byte
	binary.LittleEndian.PutUint32(header[:4], c.plan.NextSequence)
	binary.LittleEndian.PutUint32(header[4:], tag)
	if _, err := f.Write(header[:]); err != nil {
		return fmt.Errorf("cache: writing header: %w", err)
	}

	if err := writeSurvivingEntries(f, c.oldEntries, removed); err != nil {
		return err
	}
	for _, e := range c.pending {
		if _, err := f.Write(encodeEntry(e)); err != nil {
			return fmt.Errorf("cache: writing entry: %w", err)
		}
	}

	if c.oldMap != nil {
		c.oldMap.Unmap()
	}
	if c.readFile != nil {
		c.readFile.Close()
	}
	if c.plan.ReadSlot >= 0 {
		_ = c.fs.Remove(slotPath(c.dir, c.plan.ReadSlot))
	}

	return nil
}

// writeSurvivingEntries copies oldEntries to w verbatim, skipping any
// entry whose start offset appears in the sorted removed list --
// mirroring cache.c's writeIndex, which splices around removed runs
// instead of rebuilding the buffer from scratch.
func writeSurvivingEntries(w afero.File, oldEntries []byte, removed []int) error {
	if len(removed) == 0 {
		if len(oldEntries) == 0 {
			return nil
		}
		_, err := w.Write(oldEntries)
		return err
	}

	removedIdx := 0
	writeStart := 0
	i := 0
	for i < len(oldEntries) {
		_, n := decodeEntry(oldEntries[i:])
		if removedIdx < len(removed) && removed[removedIdx] == i {
			if i != writeStart {
				if _, err := w.Write(oldEntries[writeStart:i]); err != nil {
					return err
				}
			}
			removedIdx++
			writeStart = i + n
		}
		i += n
	}
	if writeStart != len(oldEntries) {
		if _, err := w.Write(oldEntries[writeStart:]); err != nil {
			return err
		}
	}
	return nil
}
