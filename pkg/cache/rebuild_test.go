package cache

import (
	"encoding/binary"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

func writeHeader(t *testing.T, fs afero.Fs, dir string, slot int, seq uint32) {
	t.Helper()
	var buf [headerSize]byte
	binary.LittleEndian.PutUint32(buf[:4], seq)
	binary.LittleEndian.PutUint32(buf[4:], tag)
	require.NoError(t, afero.WriteFile(fs, slotPath(dir, slot), buf[:], 0o644))
}

func TestPlanRebuildColdStart(t *testing.T) {
	fs := afero.NewMemMapFs()
	plan := PlanRebuild(fs, "/cache")
	require.Equal(t, -1, plan.ReadSlot)
	require.Equal(t, 0, plan.WriteSlot)
	require.Empty(t, plan.DeleteSlots)
	require.Equal(t, uint32(1), plan.NextSequence)
}

func TestPlanRebuildOneSlotPresentPicksAnEmptySpare(t *testing.T) {
	for _, tc := range []struct {
		slot, wantWrite int
	}{
		{0, 1},
		{1, 0},
		{2, 0},
	} {
		fs := afero.NewMemMapFs()
		writeHeader(t, fs, "/cache", tc.slot, 7)
		plan := PlanRebuild(fs, "/cache")
		require.Equal(t, tc.slot, plan.ReadSlot)
		require.Equal(t, tc.wantWrite, plan.WriteSlot)
		require.Empty(t, plan.DeleteSlots)
		require.Equal(t, uint32(8), plan.NextSequence)
	}
}

func TestPlanRebuildTwoSlotsPresentPicksNewestAndDeletesOlder(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeHeader(t, fs, "/cache", 0, 5)
	writeHeader(t, fs, "/cache", 1, 9)
	plan := PlanRebuild(fs, "/cache")
	require.Equal(t, 1, plan.ReadSlot)
	require.Equal(t, 2, plan.WriteSlot)
	require.Equal(t, []int{0}, plan.DeleteSlots)
	require.Equal(t, uint32(10), plan.NextSequence)
}

func TestPlanRebuildThreeSlotsPresentKeepsOnlyNewest(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeHeader(t, fs, "/cache", 0, 3)
	writeHeader(t, fs, "/cache", 1, 11)
	writeHeader(t, fs, "/cache", 2, 7)
	plan := PlanRebuild(fs, "/cache")
	require.Equal(t, 1, plan.ReadSlot)
	require.ElementsMatch(t, []int{0, 2}, plan.DeleteSlots)
	require.Equal(t, uint32(12), plan.NextSequence)
	require.Contains(t, plan.DeleteSlots, plan.WriteSlot)
}

func TestPlanRebuildIgnoresFileWithWrongTag(t *testing.T) {
	fs := afero.NewMemMapFs()
	var buf [headerSize]byte
	binary.LittleEndian.PutUint32(buf[:4], 4)
	binary.LittleEndian.PutUint32(buf[4:], 0xdeadbeef)
	require.NoError(t, afero.WriteFile(fs, slotPath("/cache", 0), buf[:], 0o644))
	plan := PlanRebuild(fs, "/cache")
	require.Equal(t, -1, plan.ReadSlot)
}
