package zmachine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zrun/zobject"
)

func TestArithmeticOpcodes(t *testing.T) {
	// add 5 3 -> G0; sub 5 3 -> G1; mul 250 250 -> G2 (62500 fits in 16 bits)
	z, _ := newStoryBuilder(3).
		code(0x14, 5, 3, 0x10).
		code(0x15, 5, 3, 0x11).
		code(0x16, 250, 250, 0x12).
		code(0xBA).
		build(t)
	runToQuit(t, z)

	assert.Equal(t, uint16(8), global(z, 0))
	assert.Equal(t, uint16(2), global(z, 1))
	assert.Equal(t, uint16(62500), global(z, 2))
}

func TestSignedDivisionInvariant(t *testing.T) {
	pairs := []struct{ a, b int16 }{
		{7, 2}, {-7, 2}, {7, -2}, {-7, -2}, {13, 5}, {-13, -5}, {1, 30000}, {-32767, 3},
	}

	for _, pair := range pairs {
		b := newStoryBuilder(3)
		aHi, aLo := uint8(uint16(pair.a)>>8), uint8(uint16(pair.a))
		bHi, bLo := uint8(uint16(pair.b)>>8), uint8(uint16(pair.b))
		// Variable-form div and mod with large constant operands
		b.code(0xD7, 0x0F, aHi, aLo, bHi, bLo, 0x10)
		b.code(0xD8, 0x0F, aHi, aLo, bHi, bLo, 0x11)
		b.code(0xBA)

		z, _ := b.build(t)
		runToQuit(t, z)

		q := int16(global(z, 0))
		r := int16(global(z, 1))
		assert.Equal(t, pair.a, q*pair.b+r, "(a/b)*b + a%%b should equal a for %d/%d", pair.a, pair.b)
		if r != 0 {
			assert.Equal(t, r < 0, pair.a < 0, "remainder sign follows the dividend for %d/%d", pair.a, pair.b)
		}
	}
}

func TestDivisionByZeroIsFatalButModIsNot(t *testing.T) {
	z, _ := newStoryBuilder(3).code(0x17, 7, 0, 0x10).build(t)
	assert.Panics(t, func() { z.StepMachine() })

	// mod by zero returns the dividend
	z2, _ := newStoryBuilder(3).code(0x18, 7, 0, 0x10, 0xBA).build(t)
	runToQuit(t, z2)
	assert.Equal(t, uint16(7), global(z2, 0))
}

func TestBranchOffsets(t *testing.T) {
	// je 5 5 with a single byte branch-on-true offset of 5
	z, _ := newStoryBuilder(3).code(0x01, 5, 5, 0xC5).build(t)
	step(t, z, 1)
	assert.Equal(t, uint32(testCodeBase+4+5-2), z.callStack.peek().pc)

	// je 5 6: no branch, fall through
	z, _ = newStoryBuilder(3).code(0x01, 5, 6, 0xC5).build(t)
	step(t, z, 1)
	assert.Equal(t, uint32(testCodeBase+4), z.callStack.peek().pc)

	// branch-on-false polarity
	z, _ = newStoryBuilder(3).code(0x01, 5, 6, 0x45).build(t)
	step(t, z, 1)
	assert.Equal(t, uint32(testCodeBase+4+5-2), z.callStack.peek().pc)

	// jz 0 with a two byte negative offset (-1)
	z, _ = newStoryBuilder(3).code(0x80, 0x00, 0x00, 0xBF, 0xFF).build(t)
	step(t, z, 1)
	assert.Equal(t, uint32(testCodeBase+5-1-2), z.callStack.peek().pc)
}

func TestJeWithMultipleOperands(t *testing.T) {
	// Variable form je 3, 7, 3: matches the third operand
	z, _ := newStoryBuilder(3).code(0xC1, 0x57, 3, 7, 3, 0xC4).build(t)
	step(t, z, 1)
	assert.Equal(t, uint32(testCodeBase+6+4-2), z.callStack.peek().pc)
}

func TestJumpIsSignedAndRelative(t *testing.T) {
	// jump +5: new PC is the post-operand PC plus offset minus 2
	z, _ := newStoryBuilder(3).code(0x8C, 0x00, 0x05).build(t)
	step(t, z, 1)
	assert.Equal(t, uint32(testCodeBase+3+5-2), z.callStack.peek().pc)

	// jump -4 goes backwards
	z, _ = newStoryBuilder(3).code(0x8C, 0xFF, 0xFC).build(t)
	step(t, z, 1)
	assert.Equal(t, uint32(testCodeBase+3-4-2), z.callStack.peek().pc)
}

func TestIncChkWrapsModularButComparesSigned(t *testing.T) {
	// inc_chk G0 100: 0x7fff wraps to 0x8000 which is negative, no branch
	z, _ := newStoryBuilder(3).
		setGlobal(0, 0x7FFF).
		code(0x05, 0x10, 100, 0xC5).
		build(t)
	step(t, z, 1)

	assert.Equal(t, uint16(0x8000), global(z, 0))
	assert.Equal(t, uint32(testCodeBase+4), z.callStack.peek().pc, "branch should not be taken")
}

func TestDecChkComparesSigned(t *testing.T) {
	// dec_chk G0 5 with G0 = 3: 2 < 5 so branch
	z, _ := newStoryBuilder(3).
		setGlobal(0, 3).
		code(0x04, 0x10, 5, 0xC5).
		build(t)
	step(t, z, 1)

	assert.Equal(t, uint16(2), global(z, 0))
	assert.Equal(t, uint32(testCodeBase+4+5-2), z.callStack.peek().pc)
}

func TestStackPushPull(t *testing.T) {
	// push 42; push 7; pull G0; pull G1
	z, _ := newStoryBuilder(3).
		code(0xE8, 0x7F, 42).
		code(0xE8, 0x7F, 7).
		code(0xE9, 0x7F, 0x10).
		code(0xE9, 0x7F, 0x11).
		code(0xBA).
		build(t)
	runToQuit(t, z)

	assert.Equal(t, uint16(7), global(z, 0))
	assert.Equal(t, uint16(42), global(z, 1))
}

func TestStackUnderflowIsFatal(t *testing.T) {
	z, _ := newStoryBuilder(3).code(0xE9, 0x7F, 0x10).build(t)
	assert.Panics(t, func() { z.StepMachine() })
}

func TestLoadAndStoreIndirect(t *testing.T) {
	// store G0 <- 99 then load G0 -> G1
	z, _ := newStoryBuilder(3).
		code(0x0D, 0x10, 99).
		code(0x9E, 0x10, 0x11). // load: 1OP with small constant operand
		code(0xBA).
		build(t)
	runToQuit(t, z)

	assert.Equal(t, uint16(99), global(z, 0))
	assert.Equal(t, uint16(99), global(z, 1))
}

func TestCallSeedsLocalsFromArgsAndDefaults(t *testing.T) {
	b := newStoryBuilder(3)
	packed := b.routine(0x0900, 2, []uint16{0x1111, 0x2222},
		0x2D, 0x10, 0x01, // store G0 <- local 1
		0x2D, 0x11, 0x02, // store G1 <- local 2
		0x9B, 99, // ret 99
	)
	b.code(0xE0, 0x0F, uint8(packed>>8), uint8(packed), 0xAA, 0xAA, 0x12)
	b.code(0xBA)

	z, _ := b.build(t)
	runToQuit(t, z)

	assert.Equal(t, uint16(0xAAAA), global(z, 0), "first local overridden by the argument")
	assert.Equal(t, uint16(0x2222), global(z, 1), "second local keeps its v3 default")
	assert.Equal(t, uint16(99), global(z, 2), "return value reaches the store variable")
}

func TestCallZeroStoresZeroWithoutCalling(t *testing.T) {
	z, _ := newStoryBuilder(3).
		setGlobal(0, 0x1234).
		code(0xE0, 0x3F, 0x00, 0x00, 0x10).
		code(0xBA).
		build(t)
	runToQuit(t, z)

	assert.Equal(t, uint16(0), global(z, 0))
}

func TestCallV5LocalsStartAtZero(t *testing.T) {
	b := newStoryBuilder(5)
	packed := b.routine(0x0900, 2, nil,
		0x2D, 0x10, 0x02, // store G0 <- local 2
		0x9B, 1,
	)
	b.code(0xE0, 0x3F, uint8(packed>>8), uint8(packed), 0x11)
	b.code(0xBA)

	z, _ := b.build(t)
	runToQuit(t, z)

	assert.Equal(t, uint16(0), global(z, 0))
}

func TestProcedureCallDiscardsReturnValue(t *testing.T) {
	b := newStoryBuilder(5)
	packed := b.routine(0x0900, 0, nil, 0x9B, 77) // ret 77

	// call_1n is 1OP:15 with a large constant operand; G0 must stay put
	b.setGlobal(0, 0x5555)
	b.code(0x8F, uint8(packed>>8), uint8(packed))
	b.code(0xBA)

	z, _ := b.build(t)
	runToQuit(t, z)

	assert.Equal(t, uint16(0x5555), global(z, 0))
}

func TestThrowUnwindsToCatchFrame(t *testing.T) {
	z, _ := newStoryBuilder(5).code(0xBA).build(t)

	// The base frame's PC points at a store byte for G0 so the unwound
	// return has somewhere to land
	z.Core.WriteByte(0x0500, 0x10)
	z.callStack.peek().pc = 0x0500

	z.callStack.push(CallStackFrame{pc: 0x0900, routineType: function, frameNumber: 1})
	z.callStack.push(CallStackFrame{pc: 0x0910, routineType: procedure, frameNumber: 2})
	z.callStack.push(CallStackFrame{pc: 0x0920, routineType: procedure, frameNumber: 3})

	z.throwValue(7, 1)

	assert.Equal(t, 1, z.callStack.depth())
	assert.Equal(t, uint16(7), global(z, 0))
	assert.Equal(t, uint32(0x0501), z.callStack.peek().pc)
}

func TestThrowToDeadFrameIsFatal(t *testing.T) {
	z, _ := newStoryBuilder(5).code(0xBA).build(t)
	z.callStack.push(CallStackFrame{frameNumber: 1, routineType: procedure})

	assert.Panics(t, func() { z.throwValue(0, 42) })
}

func TestCatchStoresFrameNumber(t *testing.T) {
	b := newStoryBuilder(5)
	packed := b.routine(0x0900, 0, nil,
		0xB9, 0x10, // catch -> G0
		0x9B, 1, // ret 1
	)
	b.code(0xE0, 0x3F, uint8(packed>>8), uint8(packed), 0x11)
	b.code(0xBA)

	z, _ := b.build(t)
	runToQuit(t, z)

	assert.Equal(t, uint16(1), global(z, 0), "the called routine runs in frame 1")
}

func TestPopDiscardsOnV3(t *testing.T) {
	z, _ := newStoryBuilder(3).
		code(0xE8, 0x7F, 42). // push 42
		code(0xB9).           // pop
		code(0xBA).
		build(t)
	runToQuit(t, z)

	assert.Empty(t, z.callStack.peek().routineStack)
}

func TestObjectTreeRemoval(t *testing.T) {
	z, _ := newStoryBuilder(3).objectTree().code(0xBA).build(t)

	// Middle of the sibling chain: 7 -> 8 -> 9 becomes 7 -> 9
	z.RemoveObject(8)

	obj3 := zobject.GetObject(3, &z.Core, z.Alphabets)
	obj7 := zobject.GetObject(7, &z.Core, z.Alphabets)
	obj8 := zobject.GetObject(8, &z.Core, z.Alphabets)

	assert.Equal(t, uint16(7), obj3.Child)
	assert.Equal(t, uint16(9), obj7.Sibling)
	assert.Equal(t, uint16(0), obj8.Parent)
	assert.Equal(t, uint16(0), obj8.Sibling)
}

func TestObjectTreeRemoveFirstChild(t *testing.T) {
	z, _ := newStoryBuilder(3).objectTree().code(0xBA).build(t)

	z.RemoveObject(7)

	obj3 := zobject.GetObject(3, &z.Core, z.Alphabets)
	assert.Equal(t, uint16(8), obj3.Child)
}

func TestRemoveObjectWithCorruptChainIsFatal(t *testing.T) {
	z, _ := newStoryBuilder(3).objectTree().code(0xBA).build(t)

	// Break the chain: 8 claims parent 3 but 3's children no longer reach it
	obj7 := zobject.GetObject(7, &z.Core, z.Alphabets)
	obj7.SetSibling(0, &z.Core)

	assert.Panics(t, func() { z.RemoveObject(8) })
}

func TestInsertObjPrependsChild(t *testing.T) {
	// insert_obj 9 5: object 9 moves under object 5
	z, _ := newStoryBuilder(3).objectTree().code(0x0E, 9, 5, 0xBA).build(t)
	runToQuit(t, z)

	obj5 := zobject.GetObject(5, &z.Core, z.Alphabets)
	obj8 := zobject.GetObject(8, &z.Core, z.Alphabets)
	obj9 := zobject.GetObject(9, &z.Core, z.Alphabets)

	assert.Equal(t, uint16(9), obj5.Child)
	assert.Equal(t, uint16(5), obj9.Parent)
	assert.Equal(t, uint16(0), obj9.Sibling, "object 5 had no children before")
	assert.Equal(t, uint16(0), obj8.Sibling, "old chain no longer lists 9")
}

func TestInsertObjSameParentMovesToFront(t *testing.T) {
	// insert_obj 8 3 with 8 already a child of 3: it still moves to the
	// front, 7 -> 8 -> 9 becomes 8 -> 7 -> 9
	z, _ := newStoryBuilder(3).objectTree().code(0x0E, 8, 3, 0xBA).build(t)
	runToQuit(t, z)

	obj3 := zobject.GetObject(3, &z.Core, z.Alphabets)
	obj7 := zobject.GetObject(7, &z.Core, z.Alphabets)
	obj8 := zobject.GetObject(8, &z.Core, z.Alphabets)

	assert.Equal(t, uint16(8), obj3.Child)
	assert.Equal(t, uint16(7), obj8.Sibling)
	assert.Equal(t, uint16(3), obj8.Parent)
	assert.Equal(t, uint16(9), obj7.Sibling)
}

func TestInsertObjAlreadyFirstChildIsStable(t *testing.T) {
	// Reinserting the current first child must not link it to itself
	z, _ := newStoryBuilder(3).objectTree().code(0xBA).build(t)

	z.MoveObject(7, 3)

	obj3 := zobject.GetObject(3, &z.Core, z.Alphabets)
	obj7 := zobject.GetObject(7, &z.Core, z.Alphabets)

	assert.Equal(t, uint16(7), obj3.Child)
	assert.Equal(t, uint16(8), obj7.Sibling)
	assert.Equal(t, uint16(3), obj7.Parent)
}

func TestPutPropAndGetPropOpcodes(t *testing.T) {
	// put_prop 5 17 0xBEEF; get_prop 5 17 -> G0: one-byte property keeps the
	// low byte only
	z, _ := newStoryBuilder(3).objectTree().
		code(0xE3, 0x53, 5, 17, 0xBE, 0xEF).
		code(0x11, 5, 17, 0x10).
		code(0xBA).
		build(t)
	runToQuit(t, z)

	assert.Equal(t, uint16(0x00EF), global(z, 0))
}

func TestAttributeOpcodes(t *testing.T) {
	// set_attr 5 6; test_attr 5 6 takes its branch
	z, _ := newStoryBuilder(3).objectTree().
		code(0x0B, 5, 6).       // set_attr
		code(0x0A, 5, 6, 0xC5). // test_attr ?+5
		build(t)
	step(t, z, 2)
	assert.Equal(t, uint32(testCodeBase+7+5-2), z.callStack.peek().pc)

	obj5 := zobject.GetObject(5, &z.Core, z.Alphabets)
	assert.True(t, obj5.TestAttribute(6, &z.Core))
}

func TestGetSiblingChildParentOpcodes(t *testing.T) {
	// get_child 3 -> G0 ?+2, get_sibling 7 -> G1 ?+2, get_parent 8 -> G2
	z, _ := newStoryBuilder(3).objectTree().
		code(0x92, 3, 0x10, 0xC2).
		code(0x91, 7, 0x11, 0xC2).
		code(0x93, 8, 0x12).
		code(0xBA).
		build(t)
	runToQuit(t, z)

	assert.Equal(t, uint16(7), global(z, 0))
	assert.Equal(t, uint16(8), global(z, 1))
	assert.Equal(t, uint16(3), global(z, 2))
}

func TestRandomPredictableMode(t *testing.T) {
	// random -42 -> G0 then three random 100 -> G1..G3
	buildSequence := func() (uint16, [3]uint16) {
		z, _ := newStoryBuilder(3).
			code(0xE7, 0x3F, 0xFF, 0xD6, 0x10).
			code(0xE7, 0x7F, 100, 0x11).
			code(0xE7, 0x7F, 100, 0x12).
			code(0xE7, 0x7F, 100, 0x13).
			code(0xBA).
			build(t)
		runToQuit(t, z)
		return global(z, 0), [3]uint16{global(z, 1), global(z, 2), global(z, 3)}
	}

	seedResult1, seq1 := buildSequence()
	seedResult2, seq2 := buildSequence()

	assert.Equal(t, uint16(0), seedResult1, "seeding returns 0")
	assert.Equal(t, seq1, seq2, "identical seeds give identical sequences")
	for _, v := range seq1 {
		assert.GreaterOrEqual(t, v, uint16(1))
		assert.LessOrEqual(t, v, uint16(100))
	}
}

func TestVerifyChecksum(t *testing.T) {
	z, _ := newStoryBuilder(3).code(0xBA).build(t)
	assert.True(t, z.verifyChecksum())

	// A header checksum that doesn't match the file fails verify
	z.Core.FileChecksum = 0x1234
	assert.False(t, z.verifyChecksum())
}

func TestVerifyIgnoresRuntimeWrites(t *testing.T) {
	z, _ := newStoryBuilder(3).code(0xBA).build(t)

	z.Core.WriteHalfWord(testGlobalsBase, 0xFFFF)
	assert.True(t, z.verifyChecksum(), "verify reads the file as shipped")
}

func TestUnassignedOpcodesAreFatal(t *testing.T) {
	// 2OP:0 is unassigned
	z, _ := newStoryBuilder(3).code(0x00, 0, 0).build(t)
	assert.Panics(t, func() { z.StepMachine() })

	// 0xbe is the extended marker which doesn't exist before v5
	z, _ = newStoryBuilder(3).code(0xBE, 0x02, 0x3F, 0, 0).build(t)
	assert.Panics(t, func() { z.StepMachine() })

	// throw doesn't exist before v5
	z, _ = newStoryBuilder(3).code(0x1C, 1, 1).build(t)
	assert.Panics(t, func() { z.StepMachine() })

	// v6-only extended opcodes are unsupported
	z, _ = newStoryBuilder(5).code(0xBE, 0x05, 0xFF).build(t)
	assert.Panics(t, func() { z.StepMachine() })
}

func TestOutOfRangeLocalsReadAsZero(t *testing.T) {
	z, _ := newStoryBuilder(3).code(0xBA).build(t)

	assert.Equal(t, uint16(0), z.readVariable(3, false))
	assert.NotPanics(t, func() { z.writeVariable(3, 1, false) })
}

func TestNotComplementWidth(t *testing.T) {
	// v3 1OP not with a small constant complements at byte width
	z, _ := newStoryBuilder(3).code(0x9F, 0x0F, 0x10, 0xBA).build(t)
	runToQuit(t, z)
	assert.Equal(t, uint16(0x00F0), global(z, 0))

	// and at word width for a large constant
	z, _ = newStoryBuilder(3).code(0x8F, 0x00, 0x0F, 0x10, 0xBA).build(t)
	runToQuit(t, z)
	assert.Equal(t, uint16(0xFFF0), global(z, 0))
}

func TestShifts(t *testing.T) {
	// log_shift 0x8000 >> 1 is logical
	z, _ := newStoryBuilder(5).
		code(0xBE, 0x02, 0x0F, 0x80, 0x00, 0xFF, 0xFF, 0x10).
		code(0xBE, 0x03, 0x0F, 0x80, 0x00, 0xFF, 0xFF, 0x11).
		code(0xBA).
		build(t)
	runToQuit(t, z)

	assert.Equal(t, uint16(0x4000), global(z, 0), "logical right shift")
	assert.Equal(t, uint16(0xC000), global(z, 1), "arithmetic right shift keeps the sign")
}

func TestPrintDecodesInlineString(t *testing.T) {
	// print "hi" then quit
	z, c := newStoryBuilder(3).code(0xB2, 0xB5, 0xC5, 0xBA).build(t)
	runToQuit(t, z)

	assert.Equal(t, "hi", c.drainText())
}

func TestPrintNumIsSigned(t *testing.T) {
	z, c := newStoryBuilder(3).code(0xE6, 0x3F, 0xFF, 0xFE, 0xBA).build(t)
	runToQuit(t, z)

	assert.Equal(t, "-2", c.drainText())
}

func TestMemoryOutputStream(t *testing.T) {
	streamHi, streamLo := uint8(testStreamTable>>8), uint8(testStreamTable)

	z, c := newStoryBuilder(3).
		code(0xF3, 0x4F, 3, streamHi, streamLo). // output_stream 3 table
		code(0xB2, 0xB5, 0xC5).                  // print "hi"
		code(0xF3, 0x3F, 0xFF, 0xFD).            // output_stream -3
		code(0xBA).
		build(t)
	runToQuit(t, z)

	assert.Equal(t, uint16(2), z.Core.ReadHalfWord(testStreamTable), "length word holds bytes written")
	assert.Equal(t, uint8('h'), z.Core.ReadByte(testStreamTable+2))
	assert.Equal(t, uint8('i'), z.Core.ReadByte(testStreamTable+3))
	assert.Empty(t, c.drainText(), "stream 3 swallows output from other streams")
}

func TestLoadRomRejectsVersionSix(t *testing.T) {
	bytes := make([]uint8, 0x100)
	bytes[0] = 6

	_, err := LoadRom(bytes, nil, nil, nil)
	require.Error(t, err)
}

func TestScanTableOpcodeStoresAndBranches(t *testing.T) {
	// scan_table 30 0x0500 2 -> G0 ?+4; the match sits in the second word
	z, _ := newStoryBuilder(3).
		code(0xF7, 0x47, 30, 0x05, 0x00, 2, 0x10, 0xC4).
		code(0xBA).
		build(t)
	z.Core.WriteHalfWord(0x0500+2, 30)
	step(t, z, 1)

	assert.Equal(t, uint16(0x0502), global(z, 0))
	assert.Equal(t, uint32(testCodeBase+8+4-2), z.callStack.peek().pc, "branch taken on a hit")
}
