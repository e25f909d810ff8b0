package zmachine

import "encoding/binary"

// Save state layout, all integers big-endian 32 bit:
//
//	state  := frame(current) ; numSuspended ; frames oldest first ; dynamic memory
//	frame  := pc ; locals[15] ; numLocals ; routineType ; numValuesPassed ;
//	          frameNumber ; stackSize ; stack values bottom to top
//
// The format only needs to round-trip with this interpreter; it is not
// Quetzal.

type SaveState struct {
	dynamicMemory []uint8
	callStack     CallStack
}

func (z *ZMachine) captureState() SaveState {
	return SaveState{
		dynamicMemory: z.Core.Dump(0, z.Core.DynamicMemorySize()),
		callStack:     z.callStack.copy(),
	}
}

// applyState replaces dynamic memory and the call stack. The transcript bit
// of flags2 deliberately survives the restore (spec 6.1.2).
func (z *ZMachine) applyState(state SaveState) bool {
	if uint32(len(state.dynamicMemory)) != z.Core.DynamicMemorySize() {
		return false // saved from a different story file
	}

	transcriptBit := z.Core.ReadByte(0x11) & 0b0000_0001

	z.Core.Load(0, state.dynamicMemory)
	z.callStack = state.callStack.copy()

	z.Core.WriteByte(0x11, (z.Core.ReadByte(0x11)&^uint8(0b0000_0001))|transcriptBit)
	return true
}

func appendI32(data []byte, v uint32) []byte {
	return binary.BigEndian.AppendUint32(data, v)
}

func (f *CallStackFrame) serialize(data []byte) []byte {
	data = appendI32(data, f.pc)
	for _, local := range f.locals {
		data = appendI32(data, uint32(local))
	}
	data = appendI32(data, uint32(f.numLocals))
	data = appendI32(data, uint32(f.routineType))
	data = appendI32(data, uint32(f.numValuesPassed))
	data = appendI32(data, f.frameNumber)
	data = appendI32(data, uint32(len(f.routineStack)))
	for _, v := range f.routineStack {
		data = appendI32(data, uint32(v))
	}
	return data
}

type stateReader struct {
	data []byte
	pos  int
	ok   bool
}

func (r *stateReader) i32() uint32 {
	if r.pos+4 > len(r.data) {
		r.ok = false
		return 0
	}
	v := binary.BigEndian.Uint32(r.data[r.pos : r.pos+4])
	r.pos += 4
	return v
}

func (r *stateReader) frame() CallStackFrame {
	var frame CallStackFrame

	frame.pc = r.i32()
	for i := range frame.locals {
		frame.locals[i] = uint16(r.i32())
	}
	frame.numLocals = uint8(r.i32())
	frame.routineType = RoutineType(r.i32())
	frame.numValuesPassed = int(r.i32())
	frame.frameNumber = r.i32()

	stackSize := r.i32()
	if !r.ok || stackSize > uint32(len(r.data)-r.pos)/4 {
		r.ok = false
		return frame
	}
	frame.routineStack = make([]uint16, stackSize)
	for i := range frame.routineStack {
		frame.routineStack[i] = uint16(r.i32())
	}

	return frame
}

func (s *SaveState) serialize() []byte {
	var data []byte

	current := s.callStack.frames[len(s.callStack.frames)-1]
	data = current.serialize(data)

	suspended := s.callStack.frames[:len(s.callStack.frames)-1]
	data = appendI32(data, uint32(len(suspended)))
	for i := range suspended {
		data = suspended[i].serialize(data)
	}

	return append(data, s.dynamicMemory...)
}

func deserializeSaveState(data []byte) (SaveState, bool) {
	r := stateReader{data: data, ok: true}

	current := r.frame()
	numSuspended := r.i32()
	if !r.ok || numSuspended > uint32(len(data)) {
		return SaveState{}, false
	}

	frames := make([]CallStackFrame, 0, numSuspended+1)
	for i := uint32(0); i < numSuspended; i++ {
		frames = append(frames, r.frame())
	}
	frames = append(frames, current)

	if !r.ok {
		return SaveState{}, false
	}

	dynamicMemory := make([]uint8, len(data)-r.pos)
	copy(dynamicMemory, data[r.pos:])

	return SaveState{
		dynamicMemory: dynamicMemory,
		callStack:     CallStack{frames: frames},
	}, true
}

// ExportSaveState serializes the full machine state for the display layer to
// write to a file.
func (z *ZMachine) ExportSaveState() []byte {
	state := z.captureState()
	return state.serialize()
}

// ImportSaveState replaces machine state with a previously exported one.
func (z *ZMachine) ImportSaveState(data []byte) bool {
	state, ok := deserializeSaveState(data)
	if !ok {
		return false
	}
	return z.applyState(state)
}

// readSaveFilename reads the length-prefixed ASCII string (not a Z-string)
// naming an auxiliary file (spec 7.6).
func (z *ZMachine) readSaveFilename(address uint32) string {
	if address == 0 {
		return ""
	}

	length := z.Core.ReadByte(address)
	name := make([]byte, length)
	for i := uint32(0); i < uint32(length); i++ {
		name[i] = z.Core.ReadByte(address + 1 + i)
	}
	return string(name)
}

func (z *ZMachine) requestSave(req Save) bool {
	z.outputChannel <- req
	resp, ok := (<-z.saveRestoreChannel).(SaveResponse)
	return ok && resp.Success
}

func (z *ZMachine) requestRestore(req Restore) ([]byte, bool) {
	z.outputChannel <- req
	resp, ok := (<-z.saveRestoreChannel).(RestoreResponse)
	if !ok || !resp.Success {
		return nil, false
	}
	return resp.Data, true
}

// opSave implements the save opcode. In v4+ the store byte is consumed
// before the state is captured, so a later restore resumes just past it; in
// v1-3 the state is captured with the PC on the branch argument and both
// sides branch (spec 5.4 and the save/restore entries of chapter 15).
func (z *ZMachine) opSave(frame *CallStackFrame) {
	if z.Core.Version >= 4 {
		storeVar := z.readIncPC(frame)
		state := z.captureState()
		success := z.requestSave(Save{Data: state.serialize()})
		result := uint16(0)
		if success {
			result = 1
		}
		z.writeVariable(storeVar, result, false)
	} else {
		state := z.captureState()
		success := z.requestSave(Save{Data: state.serialize()})
		z.handleBranch(frame, success)
	}
}

// opRestore implements the restore opcode. On success execution resumes at
// the save point: v1-3 take the save's branch as true, v4+ write 2 to the
// save's store variable, found at PC-1 of the restored frame. On failure the
// restore's own branch/store signals 0.
func (z *ZMachine) opRestore(frame *CallStackFrame) {
	data, success := z.requestRestore(Restore{})

	if success && !z.ImportSaveState(data) {
		success = false
	}

	if !success {
		if z.Core.Version >= 4 {
			z.storeResult(frame, 0)
		} else {
			z.handleBranch(frame, false)
		}
		return
	}

	restoredFrame := z.callStack.peek()
	if z.Core.Version >= 4 {
		storeVar := z.Core.ReadByte(restoredFrame.pc - 1)
		z.writeVariable(storeVar, 2, false)
	} else {
		z.handleBranch(restoredFrame, true)
	}
}

// opSaveAux saves a memory region to an auxiliary file (ext save with
// operands).
func (z *ZMachine) opSaveAux(frame *CallStackFrame, table uint16, numBytes uint16, nameAddr uint16) {
	storeVar := z.readIncPC(frame)

	success := z.requestSave(Save{
		Data:          z.Core.Dump(uint32(table), uint32(numBytes)),
		Address:       uint32(table),
		NumBytes:      uint32(numBytes),
		SuggestedName: z.readSaveFilename(uint32(nameAddr)),
	})

	result := uint16(0)
	if success {
		result = 1
	}
	z.writeVariable(storeVar, result, false)
}

// opRestoreAux loads a memory region from an auxiliary file, storing the
// number of bytes read.
func (z *ZMachine) opRestoreAux(frame *CallStackFrame, table uint16, numBytes uint16, nameAddr uint16) {
	data, success := z.requestRestore(Restore{
		Address:       uint32(table),
		NumBytes:      uint32(numBytes),
		SuggestedName: z.readSaveFilename(uint32(nameAddr)),
	})

	if !success {
		z.storeResult(frame, 0)
		return
	}

	if len(data) > int(numBytes) {
		data = data[:numBytes]
	}
	z.Core.Load(uint32(table), data)
	z.storeResult(frame, uint16(len(data)))
}

// opSaveUndo captures an in-memory snapshot, same store conventions as a
// file save.
func (z *ZMachine) opSaveUndo(frame *CallStackFrame) {
	storeVar := z.readIncPC(frame)
	state := z.captureState()
	z.undoSnapshot = &state
	z.writeVariable(storeVar, 1, false)
}

// opRestoreUndo rewinds to the undo snapshot; 0 when there isn't one.
func (z *ZMachine) opRestoreUndo(frame *CallStackFrame) {
	if z.undoSnapshot == nil || !z.applyState(*z.undoSnapshot) {
		z.storeResult(frame, 0)
		return
	}

	restoredFrame := z.callStack.peek()
	storeVar := z.Core.ReadByte(restoredFrame.pc - 1)
	z.writeVariable(storeVar, 2, false)
}
