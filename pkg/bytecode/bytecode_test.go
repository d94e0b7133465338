package bytecode

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeWordRoundTrip(t *testing.T) {
	cases := []struct {
		op  Opcode
		arg int32
	}{
		{OpAdd, 0},
		{OpCopy, 12345},
		{OpCopy, -12345},
		{OpJump, -1},
		{OpInvoke, (1 << 23) - 1},
	}
	for _, c := range cases {
		word := EncodeWord(c.op, c.arg)
		op, arg := DecodeWord(word)
		require.Equal(t, c.op, op)
		require.Equal(t, c.arg, arg)
	}
}

func TestConstantSlotRoundTrip(t *testing.T) {
	for _, i := range []int{0, 1, 41} {
		slot := EncodeConstantSlot(i)
		require.True(t, IsConstantSlot(slot))
		require.Equal(t, i, DecodeConstantIndex(slot))
	}
}

func TestFieldSlotRoundTrip(t *testing.T) {
	for _, i := range []int{0, 1, 7} {
		slot := EncodeFieldSlot(i)
		require.False(t, IsConstantSlot(slot))
		require.Equal(t, i, DecodeFieldIndex(slot))
	}
}

func TestFieldAndConstantSlotsNeverCollide(t *testing.T) {
	for ci := 0; ci < 100; ci++ {
		for fi := 0; fi < 100; fi++ {
			require.NotEqual(t, EncodeConstantSlot(ci), EncodeFieldSlot(fi))
		}
	}
}

func TestDisassembleMentionsFunctionAndConstant(t *testing.T) {
	prog := &Program{
		Instructions: []uint32{
			EncodeWord(OpFunction, 1),
			EncodeWord(OpStoreConstant, EncodeConstantSlot(0)),
			EncodeWord(OpReturn, 0),
		},
		Lines:     []int32{1, 1, 1},
		Constants: []Constant{{Kind: ConstString, Str: "hi"}},
		Functions: []*Function{{Name: "greet", Entry: 0, LocalCount: 1}},
	}
	out := Disassemble(prog)
	require.Contains(t, out, "function greet (0)")
	require.Contains(t, out, "STORE_CONSTANT")
	require.Contains(t, out, `"hi"`)
}
