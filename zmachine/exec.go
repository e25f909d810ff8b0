package zmachine

import (
	"fmt"
	"strconv"

	"zrun/zobject"
	"zrun/zstring"
	"zrun/ztable"
)

// StepMachine fetches, decodes and executes one instruction. It returns
// false when the machine should stop (quit). Every opcode byte either lands
// on a case below or panics as unsupported; nothing is silently skipped.
func (z *ZMachine) StepMachine() bool {
	z.currentInstructionPC = z.callStack.peek().pc
	opcode := ParseOpcode(z)
	frame := z.callStack.peek()

	switch opcode.operandCount {
	case OP0:
		switch opcode.opcodeNumber {
		case 0: // RTRUE
			z.retValue(1)

		case 1: // RFALSE
			z.retValue(0)

		case 2: // PRINT
			text, bytesRead := zstring.Decode(&z.Core, frame.pc, z.Alphabets)
			frame.pc += bytesRead
			z.appendText(text)

		case 3: // PRINT_RET
			text, bytesRead := zstring.Decode(&z.Core, frame.pc, z.Alphabets)
			frame.pc += bytesRead
			z.appendText(text)
			z.appendText("\n")
			z.retValue(1)

		case 4: // NOP

		case 5: // SAVE (v1-4; v5+ moved it to ext)
			if z.Core.Version >= 5 {
				panic(fmt.Sprintf("illegal 0OP save on v%d at 0x%x", z.Core.Version, z.currentInstructionPC))
			}
			z.opSave(frame)

		case 6: // RESTORE (v1-4)
			if z.Core.Version >= 5 {
				panic(fmt.Sprintf("illegal 0OP restore on v%d at 0x%x", z.Core.Version, z.currentInstructionPC))
			}
			z.opRestore(frame)

		case 7: // RESTART
			z.restartRequested = true

		case 8: // RET_POPPED
			v := frame.pop()
			z.retValue(v)

		case 9: // POP / CATCH
			if z.Core.Version >= 5 {
				// CATCH stores the cookie a later throw unwinds to
				z.storeResult(frame, uint16(frame.frameNumber))
			} else {
				_ = frame.pop()
			}

		case 10: // QUIT
			z.quitRequested = true
			return false

		case 11: // NEW_LINE
			z.appendText("\n")

		case 12: // SHOW_STATUS (a no-op from v4 on)
			if z.Core.Version <= 3 {
				z.showStatus()
			}

		case 13: // VERIFY
			z.handleBranch(frame, z.verifyChecksum())

		case 15: // PIRACY - interpreters are asked to be gullible and branch
			z.handleBranch(frame, true)

		default:
			panic(fmt.Sprintf("opcode not implemented 0x%x at 0x%x", opcode.opcodeByte, z.currentInstructionPC))
		}

	case OP1:
		switch opcode.opcodeNumber {
		case 0: // JZ
			z.handleBranch(frame, opcode.operands[0].Value(z) == 0)

		case 1: // GET_SIBLING
			sibling := zobject.GetObject(opcode.operands[0].Value(z), &z.Core, z.Alphabets).Sibling
			z.storeResult(frame, sibling)
			z.handleBranch(frame, sibling != 0)

		case 2: // GET_CHILD
			child := zobject.GetObject(opcode.operands[0].Value(z), &z.Core, z.Alphabets).Child
			z.storeResult(frame, child)
			z.handleBranch(frame, child != 0)

		case 3: // GET_PARENT
			z.storeResult(frame, zobject.GetObject(opcode.operands[0].Value(z), &z.Core, z.Alphabets).Parent)

		case 4: // GET_PROP_LEN
			addr := opcode.operands[0].Value(z)
			z.storeResult(frame, zobject.GetPropertyLength(&z.Core, uint32(addr)))

		case 5: // INC
			v := uint8(opcode.operands[0].Value(z))
			z.writeVariable(v, z.readVariable(v, true)+1, true)

		case 6: // DEC
			v := uint8(opcode.operands[0].Value(z))
			z.writeVariable(v, z.readVariable(v, true)-1, true)

		case 7: // PRINT_ADDR
			z.printZString(uint32(opcode.operands[0].Value(z)))

		case 8: // CALL_1S
			z.call(&opcode, function)

		case 9: // REMOVE_OBJ
			z.RemoveObject(opcode.operands[0].Value(z))

		case 10: // PRINT_OBJ
			obj := zobject.GetObject(opcode.operands[0].Value(z), &z.Core, z.Alphabets)
			z.appendText(obj.Name)

		case 11: // RET
			z.retValue(opcode.operands[0].Value(z))

		case 12: // JUMP
			offset := int16(opcode.operands[0].Value(z))
			frame.pc = uint32(int32(frame.pc) + int32(offset) - 2)

		case 13: // PRINT_PADDR
			z.printZString(z.Core.UnpackStringAddress(uint32(opcode.operands[0].Value(z))))

		case 14: // LOAD
			v := uint8(opcode.operands[0].Value(z))
			z.storeResult(frame, z.readVariable(v, true))

		case 15: // NOT on v1-4, CALL_1N from v5
			if z.Core.Version < 5 {
				z.storeResult(frame, opcode.operands[0].Complement(z))
			} else {
				z.call(&opcode, procedure)
			}

		default:
			panic(fmt.Sprintf("opcode not implemented 0x%x at 0x%x", opcode.opcodeByte, z.currentInstructionPC))
		}

	case OP2:
		switch opcode.opcodeNumber {
		case 1: // JE - branch if the first operand equals any other
			a := opcode.operands[0].Value(z)
			branch := false
			for _, b := range opcode.operands[1:] {
				if a == b.Value(z) {
					branch = true
				}
			}
			z.handleBranch(frame, branch)

		case 2: // JL
			a := int16(opcode.operands[0].Value(z))
			b := int16(opcode.operands[1].Value(z))
			z.handleBranch(frame, a < b)

		case 3: // JG
			a := int16(opcode.operands[0].Value(z))
			b := int16(opcode.operands[1].Value(z))
			z.handleBranch(frame, a > b)

		case 4: // DEC_CHK - decrement in place then compare signed
			v := uint8(opcode.operands[0].Value(z))
			newValue := z.readVariable(v, true) - 1
			z.writeVariable(v, newValue, true)
			z.handleBranch(frame, int16(newValue) < int16(opcode.operands[1].Value(z)))

		case 5: // INC_CHK
			v := uint8(opcode.operands[0].Value(z))
			newValue := z.readVariable(v, true) + 1
			z.writeVariable(v, newValue, true)
			z.handleBranch(frame, int16(newValue) > int16(opcode.operands[1].Value(z)))

		case 6: // JIN
			obj := zobject.GetObject(opcode.operands[0].Value(z), &z.Core, z.Alphabets)
			z.handleBranch(frame, obj.Parent == opcode.operands[1].Value(z))

		case 7: // TEST - all flag bits set
			bitmap := opcode.operands[0].Value(z)
			flags := opcode.operands[1].Value(z)
			z.handleBranch(frame, bitmap&flags == flags)

		case 8: // OR
			z.storeResult(frame, opcode.operands[0].Value(z)|opcode.operands[1].Value(z))

		case 9: // AND
			z.storeResult(frame, opcode.operands[0].Value(z)&opcode.operands[1].Value(z))

		case 10: // TEST_ATTR
			obj := zobject.GetObject(opcode.operands[0].Value(z), &z.Core, z.Alphabets)
			z.handleBranch(frame, obj.TestAttribute(opcode.operands[1].Value(z), &z.Core))

		case 11: // SET_ATTR
			obj := zobject.GetObject(opcode.operands[0].Value(z), &z.Core, z.Alphabets)
			obj.SetAttribute(opcode.operands[1].Value(z), &z.Core)

		case 12: // CLEAR_ATTR
			obj := zobject.GetObject(opcode.operands[0].Value(z), &z.Core, z.Alphabets)
			obj.ClearAttribute(opcode.operands[1].Value(z), &z.Core)

		case 13: // STORE
			z.writeVariable(uint8(opcode.operands[0].Value(z)), opcode.operands[1].Value(z), true)

		case 14: // INSERT_OBJ
			z.MoveObject(opcode.operands[0].Value(z), opcode.operands[1].Value(z))

		case 15: // LOADW - array address arithmetic wraps at 16 bits
			z.storeResult(frame, z.Core.ReadHalfWord(uint32(opcode.operands[0].Value(z)+2*opcode.operands[1].Value(z))))

		case 16: // LOADB
			z.storeResult(frame, uint16(z.Core.ReadByte(uint32(opcode.operands[0].Value(z)+opcode.operands[1].Value(z)))))

		case 17: // GET_PROP
			obj := zobject.GetObject(opcode.operands[0].Value(z), &z.Core, z.Alphabets)
			prop := obj.GetProperty(uint8(opcode.operands[1].Value(z)), &z.Core)
			z.storeResult(frame, prop.Value(&z.Core))

		case 18: // GET_PROP_ADDR
			obj := zobject.GetObject(opcode.operands[0].Value(z), &z.Core, z.Alphabets)
			prop := obj.GetProperty(uint8(opcode.operands[1].Value(z)), &z.Core)
			z.storeResult(frame, uint16(prop.DataAddress))

		case 19: // GET_NEXT_PROP
			obj := zobject.GetObject(opcode.operands[0].Value(z), &z.Core, z.Alphabets)
			z.storeResult(frame, uint16(obj.GetNextProperty(uint8(opcode.operands[1].Value(z)), &z.Core)))

		case 20: // ADD
			z.storeResult(frame, opcode.operands[0].Value(z)+opcode.operands[1].Value(z))

		case 21: // SUB
			z.storeResult(frame, opcode.operands[0].Value(z)-opcode.operands[1].Value(z))

		case 22: // MUL
			z.storeResult(frame, opcode.operands[0].Value(z)*opcode.operands[1].Value(z))

		case 23: // DIV - signed, truncating toward zero
			numerator := int16(opcode.operands[0].Value(z))
			denominator := int16(opcode.operands[1].Value(z))
			if denominator == 0 {
				panic(fmt.Sprintf("division by zero at 0x%x", z.currentInstructionPC))
			}
			z.storeResult(frame, uint16(numerator/denominator))

		case 24: // MOD - sign follows the dividend; mod by zero yields the dividend
			numerator := int16(opcode.operands[0].Value(z))
			denominator := int16(opcode.operands[1].Value(z))
			if denominator == 0 {
				z.storeResult(frame, uint16(numerator))
			} else {
				z.storeResult(frame, uint16(numerator%denominator))
			}

		case 25: // CALL_2S
			if z.Core.Version < 4 {
				panic(fmt.Sprintf("illegal call_2s on v%d at 0x%x", z.Core.Version, z.currentInstructionPC))
			}
			z.call(&opcode, function)

		case 26: // CALL_2N
			if z.Core.Version < 5 {
				panic(fmt.Sprintf("illegal call_2n on v%d at 0x%x", z.Core.Version, z.currentInstructionPC))
			}
			z.call(&opcode, procedure)

		case 27: // SET_COLOUR
			if z.Core.Version < 5 {
				panic(fmt.Sprintf("illegal set_colour on v%d at 0x%x", z.Core.Version, z.currentInstructionPC))
			}
			z.setColor(opcode.operands[0].Value(z), opcode.operands[1].Value(z))

		case 28: // THROW
			if z.Core.Version < 5 {
				panic(fmt.Sprintf("illegal throw on v%d at 0x%x", z.Core.Version, z.currentInstructionPC))
			}
			z.throwValue(opcode.operands[0].Value(z), opcode.operands[1].Value(z))

		default: // 0, 29, 30, 31 are unassigned
			panic(fmt.Sprintf("opcode not implemented 0x%x at 0x%x", opcode.opcodeByte, z.currentInstructionPC))
		}

	case VAR:
		if opcode.opcodeForm == extForm {
			z.stepExtended(&opcode, frame)
		} else {
			z.stepVar(&opcode, frame)
		}
	}

	return !z.quitRequested
}

func (z *ZMachine) stepVar(opcode *Opcode, frame *CallStackFrame) {
	switch opcode.opcodeNumber {
	case 0: // CALL / CALL_VS
		z.call(opcode, function)

	case 1: // STOREW
		address := opcode.operands[0].Value(z) + 2*opcode.operands[1].Value(z)
		z.Core.WriteHalfWord(uint32(address), opcode.operands[2].Value(z))

	case 2: // STOREB
		address := opcode.operands[0].Value(z) + opcode.operands[1].Value(z)
		z.Core.WriteByte(uint32(address), uint8(opcode.operands[2].Value(z)))

	case 3: // PUT_PROP
		obj := zobject.GetObject(opcode.operands[0].Value(z), &z.Core, z.Alphabets)
		obj.PutProperty(uint8(opcode.operands[1].Value(z)), opcode.operands[2].Value(z), &z.Core)

	case 4: // SREAD / AREAD
		z.read(opcode, frame)

	case 5: // PRINT_CHAR
		z.printZSCII(opcode.operands[0].Value(z))

	case 6: // PRINT_NUM
		z.appendText(strconv.Itoa(int(int16(opcode.operands[0].Value(z)))))

	case 7: // RANDOM
		n := int16(opcode.operands[0].Value(z))
		result := uint16(0)

		switch {
		case n > 0:
			result = z.rng.Next(uint16(n))
		case n == 0:
			z.rng.Reseed()
		default:
			// Negative seeds a predictable sequence (spec 2.4.2)
			z.rng.Seed(int64(-n))
		}

		z.storeResult(frame, result)

	case 8: // PUSH
		frame.push(opcode.operands[0].Value(z))

	case 9: // PULL
		z.writeVariable(uint8(opcode.operands[0].Value(z)), frame.pop(), true)

	case 10: // SPLIT_WINDOW
		z.screenModel.UpperWindowHeight = int(opcode.operands[0].Value(z))
		z.outputChannel <- z.screenModel

	case 11: // SET_WINDOW
		z.screenModel.LowerWindowActive = opcode.operands[0].Value(z) == 0
		if !z.screenModel.LowerWindowActive {
			// Entering the upper window homes its cursor (spec 8.7.2)
			z.screenModel.UpperWindowCursorX = 1
			z.screenModel.UpperWindowCursorY = 1
		}
		z.outputChannel <- z.screenModel

	case 12: // CALL_VS2
		z.call(opcode, function)

	case 13: // ERASE_WINDOW
		window := int16(opcode.operands[0].Value(z))

		if window == -1 {
			// Unsplit and clear
			z.screenModel.LowerWindowActive = true
			z.screenModel.UpperWindowHeight = 0
			z.outputChannel <- z.screenModel
		}
		z.outputChannel <- EraseWindowRequest(window)

	case 14: // ERASE_LINE
		if opcode.operands[0].Value(z) == 1 {
			z.outputChannel <- EraseLineRequest(true)
		}

	case 15: // SET_CURSOR
		line := opcode.operands[0].Value(z)
		col := opcode.operands[1].Value(z)

		// The cursor can only be placed in the upper window on v1-5
		if !z.screenModel.LowerWindowActive {
			z.screenModel.UpperWindowCursorX = int(col)
			z.screenModel.UpperWindowCursorY = int(line)
			z.outputChannel <- z.screenModel
		}

	case 16: // GET_CURSOR
		baddr := uint32(opcode.operands[0].Value(z))
		row, col := 1, 1
		if !z.screenModel.LowerWindowActive {
			row = z.screenModel.UpperWindowCursorY
			col = z.screenModel.UpperWindowCursorX
		}
		z.Core.WriteHalfWord(baddr, uint16(row))
		z.Core.WriteHalfWord(baddr+2, uint16(col))

	case 17: // SET_TEXT_STYLE
		if z.Core.Version < 4 {
			panic(fmt.Sprintf("illegal set_text_style on v%d at 0x%x", z.Core.Version, z.currentInstructionPC))
		}

		mask := TextStyle(opcode.operands[0].Value(z))
		if z.screenModel.LowerWindowActive {
			z.screenModel.LowerWindowTextStyle = mask
		} else {
			z.screenModel.UpperWindowTextStyle = mask
		}
		z.outputChannel <- z.screenModel

	case 18: // BUFFER_MODE - output isn't word-buffered here, nothing to do

	case 19: // OUTPUT_STREAM
		stream := int16(opcode.operands[0].Value(z))
		tableAddress := uint16(0)
		if len(opcode.operands) > 1 {
			tableAddress = opcode.operands[1].Value(z)
		}
		z.selectStream(stream, tableAddress)

	case 20: // INPUT_STREAM
		z.outputChannel <- InputStreamRequest(int(opcode.operands[0].Value(z)))

	case 21: // SOUND_EFFECT
		req := SoundEffectRequest{SoundNumber: 1}
		if len(opcode.operands) > 0 {
			req.SoundNumber = opcode.operands[0].Value(z)
		}
		if len(opcode.operands) > 1 {
			req.Effect = opcode.operands[1].Value(z)
		}
		if len(opcode.operands) > 2 {
			req.Volume = opcode.operands[2].Value(z)
		}
		if len(opcode.operands) > 3 {
			req.Routine = opcode.operands[3].Value(z)
		}
		z.outputChannel <- req

	case 22: // READ_CHAR
		z.readChar(opcode, frame)

	case 23: // SCAN_TABLE
		test := opcode.operands[0].Value(z)
		tableAddress := opcode.operands[1].Value(z)
		length := opcode.operands[2].Value(z)
		form := uint16(0x82)
		if len(opcode.operands) == 4 {
			form = opcode.operands[3].Value(z)
		}

		result := ztable.ScanTable(&z.Core, test, uint32(tableAddress), length, form)
		z.storeResult(frame, uint16(result))
		z.handleBranch(frame, result != 0)

	case 24: // NOT (v5+; earlier versions have it as 1OP)
		z.storeResult(frame, opcode.operands[0].Complement(z))

	case 25: // CALL_VN
		z.call(opcode, procedure)

	case 26: // CALL_VN2
		z.call(opcode, procedure)

	case 27: // TOKENISE
		textAddr := opcode.operands[0].Value(z)
		parseAddr := opcode.operands[1].Value(z)
		dictionaryToUse := z.dict
		skipUnknown := false

		if len(opcode.operands) > 2 {
			if customAddr := opcode.operands[2].Value(z); customAddr != 0 {
				dictionaryToUse = z.parseCustomDictionary(uint32(customAddr))
			}
			if len(opcode.operands) > 3 {
				skipUnknown = opcode.operands[3].Value(z) != 0
			}
		}

		z.Tokenise(uint32(textAddr), uint32(parseAddr), dictionaryToUse, skipUnknown)

	case 28: // ENCODE_TEXT
		z.encodeText(opcode.operands[0].Value(z), opcode.operands[1].Value(z), opcode.operands[2].Value(z), opcode.operands[3].Value(z))

	case 29: // COPY_TABLE
		ztable.CopyTable(&z.Core, opcode.operands[0].Value(z), opcode.operands[1].Value(z), int16(opcode.operands[2].Value(z)))

	case 30: // PRINT_TABLE
		addr := opcode.operands[0].Value(z)
		width := opcode.operands[1].Value(z)
		height := uint16(1)
		skip := uint16(0)
		if len(opcode.operands) > 2 {
			height = opcode.operands[2].Value(z)
			if len(opcode.operands) > 3 {
				skip = opcode.operands[3].Value(z)
			}
		}
		z.appendText(ztable.PrintTable(&z.Core, uint32(addr), width, height, skip))

	case 31: // CHECK_ARG_COUNT
		arg := opcode.operands[0].Value(z)
		z.handleBranch(frame, arg <= uint16(frame.numValuesPassed))

	default:
		panic(fmt.Sprintf("opcode not implemented 0x%x at 0x%x", opcode.opcodeByte, z.currentInstructionPC))
	}
}

func (z *ZMachine) stepExtended(opcode *Opcode, frame *CallStackFrame) {
	switch opcode.opcodeNumber {
	case 0x00: // SAVE - with operands it saves an auxiliary table instead
		if len(opcode.operands) > 0 {
			nameAddr := uint16(0)
			if len(opcode.operands) > 2 {
				nameAddr = opcode.operands[2].Value(z)
			}
			z.opSaveAux(frame, opcode.operands[0].Value(z), opcode.operands[1].Value(z), nameAddr)
		} else {
			z.opSave(frame)
		}

	case 0x01: // RESTORE
		if len(opcode.operands) > 0 {
			nameAddr := uint16(0)
			if len(opcode.operands) > 2 {
				nameAddr = opcode.operands[2].Value(z)
			}
			z.opRestoreAux(frame, opcode.operands[0].Value(z), opcode.operands[1].Value(z), nameAddr)
		} else {
			z.opRestore(frame)
		}

	case 0x02: // LOG_SHIFT - logical in both directions
		num := opcode.operands[0].Value(z)
		places := int16(opcode.operands[1].Value(z))
		var result uint16
		if places >= 0 {
			result = num << uint16(places)
		} else {
			result = num >> uint16(-places)
		}
		z.storeResult(frame, result)

	case 0x03: // ART_SHIFT - right shifts preserve the sign of the operand
		num := opcode.operands[0].SignedValue(z)
		places := int16(opcode.operands[1].Value(z))
		var result uint16
		if places >= 0 {
			result = uint16(num) << uint16(places)
		} else {
			result = uint16(num >> uint16(-places))
		}
		z.storeResult(frame, result)

	case 0x04: // SET_FONT
		previous := z.screenModel.SetFont(Font(opcode.operands[0].Value(z)))
		z.outputChannel <- z.screenModel
		z.storeResult(frame, uint16(previous))

	case 0x09: // SAVE_UNDO
		z.opSaveUndo(frame)

	case 0x0a: // RESTORE_UNDO
		z.opRestoreUndo(frame)

	case 0x0b: // PRINT_UNICODE
		z.appendText(string(rune(opcode.operands[0].Value(z))))

	case 0x0c: // CHECK_UNICODE - anything can be printed, input is a maybe
		_ = opcode.operands[0].Value(z)
		z.storeResult(frame, 0b11)

	case 0x0d: // SET_TRUE_COLOUR
		z.setTrueColor(opcode.operands[0].Value(z), opcode.operands[1].Value(z))

	default:
		// The rest of the extended set is v6 graphics, mouse and menus
		panic(fmt.Sprintf("unsupported ext opcode 0x%x at 0x%x", opcode.opcodeByte, z.currentInstructionPC))
	}
}

// printZSCII outputs one ZSCII character. 0 is a legal no-op, 13 a newline.
func (z *ZMachine) printZSCII(chr uint16) {
	switch {
	case chr == 0:
	case chr == 13:
		z.appendText("\n")
	default:
		z.appendText(string(rune(chr)))
	}
}

// setColor applies the set_colour opcode to the active window.
func (z *ZMachine) setColor(fg uint16, bg uint16) {
	foreground := z.screenModel.ColorByNumber(fg, true)
	background := z.screenModel.ColorByNumber(bg, false)

	if z.screenModel.LowerWindowActive {
		if fg != 0 {
			z.screenModel.LowerWindowForeground = foreground
		}
		if bg != 0 {
			z.screenModel.LowerWindowBackground = background
		}
	} else {
		if fg != 0 {
			z.screenModel.UpperWindowForeground = foreground
		}
		if bg != 0 {
			z.screenModel.UpperWindowBackground = background
		}
	}

	z.outputChannel <- z.screenModel
}

// setTrueColor applies 15 bit bbbbbgggggrrrrr colours; -1 resets to the
// default, -2 keeps the current colour.
func (z *ZMachine) setTrueColor(fg uint16, bg uint16) {
	fromTrue := func(v uint16) Color {
		return Color{
			r: int(v&0b11111) * 255 / 31,
			g: int((v>>5)&0b11111) * 255 / 31,
			b: int((v>>10)&0b11111) * 255 / 31,
		}
	}

	if z.screenModel.LowerWindowActive {
		switch int16(fg) {
		case -1:
			z.screenModel.LowerWindowForeground = z.screenModel.DefaultLowerWindowForeground
		case -2:
		default:
			z.screenModel.LowerWindowForeground = fromTrue(fg)
		}
		switch int16(bg) {
		case -1:
			z.screenModel.LowerWindowBackground = z.screenModel.DefaultLowerWindowBackground
		case -2:
		default:
			z.screenModel.LowerWindowBackground = fromTrue(bg)
		}
	} else {
		switch int16(fg) {
		case -1:
			z.screenModel.UpperWindowForeground = z.screenModel.DefaultUpperWindowForeground
		case -2:
		default:
			z.screenModel.UpperWindowForeground = fromTrue(fg)
		}
		switch int16(bg) {
		case -1:
			z.screenModel.UpperWindowBackground = z.screenModel.DefaultUpperWindowBackground
		case -2:
		default:
			z.screenModel.UpperWindowBackground = fromTrue(bg)
		}
	}

	z.outputChannel <- z.screenModel
}
