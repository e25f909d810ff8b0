// Package zmachine is the execution engine: the fetch/decode/dispatch loop,
// the call stack, the output streams and the save state machinery. The
// display layer lives elsewhere and is driven over channels.
package zmachine

import (
	"fmt"
	"strings"

	"github.com/golang/glog"

	"zrun/dictionary"
	"zrun/zcore"
	"zrun/zobject"
	"zrun/zstring"
)

type ZMachine struct {
	Core        zcore.Core
	Alphabets   *zstring.Alphabets
	callStack   CallStack
	dict        *dictionary.Dictionary
	screenModel ScreenModel
	streams     Streams
	rng         randomSource

	outputChannel      chan<- any
	inputChannel       <-chan InputResponse
	saveRestoreChannel <-chan SaveRestoreResponse

	undoSnapshot *SaveState

	// set while an interrupt routine frame is live; retValue raises the done
	// flag when that frame returns so the nested decode loop can unwind
	interruptDone   bool
	interruptResult uint16

	quitRequested    bool
	restartRequested bool

	currentInstructionPC uint32 // address of the opcode being executed, for diagnostics
}

// LoadRom builds a machine around a story file. The channels connect it to
// the display layer: output messages flow out, typed input and save/restore
// results flow back.
func LoadRom(storyFile []uint8, inputChannel <-chan InputResponse, saveRestoreChannel <-chan SaveRestoreResponse, outputChannel chan<- any) (*ZMachine, error) {
	core, err := zcore.LoadCore(storyFile)
	if err != nil {
		return nil, err
	}

	machine := ZMachine{
		Core:               core,
		inputChannel:       inputChannel,
		saveRestoreChannel: saveRestoreChannel,
		outputChannel:      outputChannel,
		streams:            newStreams(),
		rng:                newRandomSource(),
	}

	machine.Core.SetDefaultColors(2, 9) // white on black per the colour table
	machine.Alphabets = zstring.LoadAlphabets(&machine.Core)
	machine.dict = dictionary.ParseDictionary(uint32(machine.Core.DictionaryBase), &machine.Core)
	machine.screenModel = newScreenModel(White, Black)

	machine.callStack.push(machine.initialFrame())

	return &machine, nil
}

// initialFrame synthesizes the frame the story starts in: no locals, PC from
// the header. (V6 would call a main routine instead but is rejected at load.)
func (z *ZMachine) initialFrame() CallStackFrame {
	return CallStackFrame{
		pc:           uint32(z.Core.FirstInstruction),
		routineStack: make([]uint16, 0),
		routineType:  procedure,
	}
}

// reset reinitialises everything for the restart opcode. The story bytes are
// rewound (transcript bit preserved), the stack drops to a fresh initial
// frame and the display is told to clear.
func (z *ZMachine) reset() {
	z.Core.Restart()
	z.Alphabets = zstring.LoadAlphabets(&z.Core)
	z.dict = dictionary.ParseDictionary(uint32(z.Core.DictionaryBase), &z.Core)
	z.callStack = CallStack{}
	z.callStack.push(z.initialFrame())
	z.streams = newStreams()
	z.screenModel = newScreenModel(White, Black)
	z.restartRequested = false
	z.interruptDone = false

	z.outputChannel <- Restart(true)
	z.outputChannel <- z.screenModel
}

// Run drives the decode loop until quit. Fatal machine faults surface as a
// RuntimeError message rather than a crashed goroutine.
func (z *ZMachine) Run() {
	defer func() {
		if r := recover(); r != nil {
			z.outputChannel <- RuntimeError(fmt.Sprintf("%v", r))
		}
	}()

	// Let the display layer draw an initial empty screen
	z.outputChannel <- z.screenModel

	for {
		if z.restartRequested {
			z.reset()
			continue
		}

		if !z.StepMachine() {
			break
		}
	}

	z.outputChannel <- Quit(true)
}

func (z *ZMachine) readIncPC(frame *CallStackFrame) uint8 {
	v := z.Core.ReadByte(frame.pc)
	frame.pc++
	return v
}

func (z *ZMachine) readHalfWordIncPC(frame *CallStackFrame) uint16 {
	v := z.Core.ReadHalfWord(frame.pc)
	frame.pc += 2
	return v
}

// readVariable resolves variable numbers: 0 is the routine stack, 1-15 the
// current frame's locals, 16-255 the globals. The seven opcodes that take
// indirect variable references read the stack top in place rather than
// popping (verified against the praxix test suite).
func (z *ZMachine) readVariable(v uint8, indirect bool) uint16 {
	currentCallFrame := z.callStack.peek()

	switch {
	case v == 0:
		if indirect {
			return currentCallFrame.peekStack()
		}
		return currentCallFrame.pop()
	case v < 16:
		if v > currentCallFrame.numLocals {
			// Out of range locals read as zero rather than faulting; some
			// story files do this during startup
			glog.V(1).Infof("read of local %d but routine only has %d (PC=0x%x)", v, currentCallFrame.numLocals, z.currentInstructionPC)
			return 0
		}
		return currentCallFrame.locals[v-1]
	default:
		return z.Core.ReadHalfWord(uint32(z.Core.GlobalVariableBase) + 2*(uint32(v)-16))
	}
}

func (z *ZMachine) writeVariable(v uint8, value uint16, indirect bool) {
	currentCallFrame := z.callStack.peek()

	switch {
	case v == 0:
		// Indirect writes replace the top of the stack in place
		if indirect {
			_ = currentCallFrame.pop()
		}
		currentCallFrame.push(value)
	case v < 16:
		if v > currentCallFrame.numLocals {
			glog.V(1).Infof("write of local %d but routine only has %d (PC=0x%x)", v, currentCallFrame.numLocals, z.currentInstructionPC)
			return
		}
		currentCallFrame.locals[v-1] = value
	default:
		z.Core.WriteHalfWord(uint32(z.Core.GlobalVariableBase)+2*(uint32(v)-16), value)
	}
}

// storeResult reads the store-variable byte at the PC and writes the result
// there (spec 4.6).
func (z *ZMachine) storeResult(frame *CallStackFrame, value uint16) {
	z.writeVariable(z.readIncPC(frame), value, false)
}

// handleBranch reads the 1 or 2 byte branch argument and applies it when the
// test matches its polarity. Offsets 0 and 1 return false/true from the
// current routine instead of branching (spec 4.7).
func (z *ZMachine) handleBranch(frame *CallStackFrame, result bool) {
	branchArg1 := z.readIncPC(frame)

	branchReversed := (branchArg1>>7)&1 == 0
	singleByte := (branchArg1>>6)&1 == 1
	offset := int32(branchArg1 & 0b11_1111)

	if !singleByte {
		// 14 bit signed offset from both bytes
		offset = int32(int16((uint16(branchArg1&0b11_1111)<<8|uint16(z.readIncPC(frame)))<<2) >> 2)
	}

	if result != branchReversed {
		switch offset {
		case 0:
			z.retValue(0)
		case 1:
			z.retValue(1)
		default:
			frame.pc = uint32(int32(frame.pc) + offset - 2)
		}
	}
}

// call implements the whole call opcode family. The first operand is the
// packed routine address, the rest are arguments.
func (z *ZMachine) call(opcode *Opcode, routineType RoutineType) {
	packed := opcode.operands[0].Value(z)

	args := make([]uint16, 0, len(opcode.operands)-1)
	for _, operand := range opcode.operands[1:] {
		args = append(args, operand.Value(z))
	}

	z.callRoutine(uint32(packed), args, routineType)
}

// callRoutine pushes a frame for the routine at the given packed address.
// Calling address 0 does nothing except store 0 when a result was expected
// (spec 6.4.3).
func (z *ZMachine) callRoutine(packed uint32, args []uint16, routineType RoutineType) {
	if packed == 0 {
		if routineType == function {
			z.storeResult(z.callStack.peek(), 0)
		}
		return
	}

	routineAddress := z.Core.UnpackRoutineAddress(packed)
	numLocals := z.Core.ReadByte(routineAddress)
	routineAddress++

	if numLocals > 15 {
		panic(fmt.Sprintf("routine at 0x%x declares %d locals", routineAddress-1, numLocals))
	}

	frame := CallStackFrame{
		routineStack: make([]uint16, 0),
		routineType:  routineType,
		numLocals:    numLocals,
		frameNumber:  z.callStack.peek().frameNumber + 1,
	}

	// V1-4 routines carry initial values for their locals; V5+ locals start
	// at zero and the code begins right after the count byte
	if z.Core.Version < 5 {
		for i := 0; i < int(numLocals); i++ {
			frame.locals[i] = z.Core.ReadHalfWord(routineAddress)
			routineAddress += 2
		}
	}
	frame.pc = routineAddress

	argCount := len(args)
	if argCount > int(numLocals) {
		argCount = int(numLocals)
	}
	copy(frame.locals[:argCount], args[:argCount])
	frame.numValuesPassed = argCount

	z.callStack.push(frame)
}

// retValue returns from the current routine. What happens to the value
// depends on how the routine was called: functions store it, procedures
// discard it, interrupts hand it to the nested decode loop.
func (z *ZMachine) retValue(val uint16) {
	oldFrame := z.callStack.pop()

	switch oldFrame.routineType {
	case function:
		newFrame := z.callStack.peek()
		z.storeResult(newFrame, val)
	case procedure:
		// return value discarded
	case interrupt:
		z.interruptDone = true
		z.interruptResult = val
	}
}

// throwValue unwinds to the frame whose catch cookie matches and returns
// from it (spec 6.3.4).
func (z *ZMachine) throwValue(val uint16, frameNumber uint16) {
	z.callStack.unwindTo(uint32(frameNumber))
	z.retValue(val)
}

// callInterruptRoutine runs a routine to completion inside the current
// instruction by re-entering the decode loop until the interrupt frame
// returns. Nested timed interrupts just stack further frames.
func (z *ZMachine) callInterruptRoutine(packed uint16) uint16 {
	if packed == 0 {
		return 0
	}

	savedDone := z.interruptDone
	z.interruptDone = false
	z.callRoutine(uint32(packed), nil, interrupt)

	for !z.interruptDone && !z.quitRequested && !z.restartRequested {
		if !z.StepMachine() {
			break
		}
	}

	result := z.interruptResult
	z.interruptDone = savedDone
	return result
}

// showStatus sends the v1-3 status line: the short name of the object in
// global 0 plus score/turns (or hours/minutes for time games) from globals 1
// and 2 (spec 8.2).
func (z *ZMachine) showStatus() {
	locationId := z.readVariable(16, false)
	placeName := ""
	if locationId != 0 {
		placeName = zobject.GetObject(locationId, &z.Core, z.Alphabets).Name
	}

	z.outputChannel <- StatusBar{
		PlaceName:   placeName,
		Score:       int(int16(z.readVariable(17, false))),
		Moves:       int(z.readVariable(18, false)),
		IsTimeBased: z.Core.StatusBarTimeBased,
	}
}

// verifyChecksum recomputes the header checksum: the sum of all bytes from
// 0x40 to the end of the file, mod 0x10000, over the file as shipped rather
// than live memory (spec verify).
func (z *ZMachine) verifyChecksum() bool {
	fileLength := z.Core.FileLength()
	actualChecksum := uint16(0)

	for ix := uint32(0x40); ix < fileLength; ix++ {
		actualChecksum += uint16(z.Core.PristineByte(ix))
	}

	return actualChecksum == z.Core.FileChecksum
}

// RemoveObject unlinks an object from the tree, zeroing its parent and
// sibling links. A parentless object just has its sibling cleared.
func (z *ZMachine) RemoveObject(objId uint16) {
	object := zobject.GetObject(objId, &z.Core, z.Alphabets)
	if object.Parent != 0 {
		oldParent := zobject.GetObject(object.Parent, &z.Core, z.Alphabets)

		if oldParent.Child == object.Id {
			oldParent.SetChild(object.Sibling, &z.Core)
		} else {
			// Walk the sibling chain to the link before this object
			currObjId := oldParent.Child
			for {
				if currObjId == 0 {
					panic(fmt.Sprintf("corrupted object table: object %d not among children of its parent %d", object.Id, object.Parent))
				}

				currObj := zobject.GetObject(currObjId, &z.Core, z.Alphabets)
				if currObj.Sibling == object.Id {
					currObj.SetSibling(object.Sibling, &z.Core)
					break
				}
				currObjId = currObj.Sibling
			}
		}

		object.SetParent(0, &z.Core)
	}

	object.SetSibling(0, &z.Core)
}

// MoveObject reparents an object, prepending it to the new parent's child
// list. This holds even when the object is already a child of the target:
// insert_obj always makes it the first child.
func (z *ZMachine) MoveObject(objId uint16, newParent uint16) {
	object := zobject.GetObject(objId, &z.Core, z.Alphabets)

	z.RemoveObject(object.Id)

	// Read the destination only after the unlink: if the object was already
	// among its children the child pointer may just have changed
	destinationObject := zobject.GetObject(newParent, &z.Core, z.Alphabets)

	object.SetSibling(destinationObject.Child, &z.Core)
	object.SetParent(destinationObject.Id, &z.Core)
	destinationObject.SetChild(object.Id, &z.Core)
}

// printZString decodes and outputs the string at a byte address.
func (z *ZMachine) printZString(address uint32) {
	text, _ := zstring.Decode(&z.Core, address, z.Alphabets)
	z.appendText(text)
}

// parseCustomDictionary wraps a user dictionary handed to the tokenise
// opcode. These may be unsorted (negative entry count) and aren't cached.
func (z *ZMachine) parseCustomDictionary(baseAddress uint32) *dictionary.Dictionary {
	return dictionary.ParseDictionary(baseAddress, &z.Core)
}

func lowercaseInput(s string) string {
	return strings.ToLower(s)
}
