package zmachine

type OperandType int
type OpcodeForm int
type OperandCount int

const (
	largeConstant OperandType = 0b00
	smallConstant OperandType = 0b01
	variable      OperandType = 0b10
	omitted       OperandType = 0b11
)

const (
	longForm  OpcodeForm = 0b00
	extForm   OpcodeForm = 0b01
	shortForm OpcodeForm = 0b10
	varForm   OpcodeForm = 0b11
)

const (
	OP0 OperandCount = iota
	OP1 OperandCount = iota
	OP2 OperandCount = iota
	VAR OperandCount = iota
)

// Operand is a tagged value. Almost every instruction treats operands as
// 16 bit unsigned words; the tag only matters to not and art_shift, where
// the width of a small constant changes the complement and the sign bit.
type Operand struct {
	operandType OperandType
	value       uint16 // constant value, or the variable number to resolve
}

func (operand *Operand) Value(z *ZMachine) uint16 {
	switch operand.operandType {
	case largeConstant, smallConstant:
		return operand.value
	case variable:
		return z.readVariable(uint8(operand.value), false)
	default:
		return 0
	}
}

// SignedValue interprets the operand at its declared width: small constants
// sign-extend from bit 7, everything else from bit 15.
func (operand *Operand) SignedValue(z *ZMachine) int16 {
	v := operand.Value(z)
	if operand.operandType == smallConstant {
		return int16(int8(v))
	}
	return int16(v)
}

// Complement inverts the operand at its declared width.
func (operand *Operand) Complement(z *ZMachine) uint16 {
	v := operand.Value(z)
	if operand.operandType == smallConstant {
		return uint16(^uint8(v))
	}
	return ^v
}

type Opcode struct {
	opcodeByte   uint8
	operandCount OperandCount
	opcodeForm   OpcodeForm
	opcodeNumber uint8
	operands     []Operand
}

func parseVariableOperands(z *ZMachine, frame *CallStackFrame, opcode *Opcode) {
	operandTypeByte := z.readIncPC(frame)
	operandTypeByteExtendedCall := uint8(0)
	maxOperands := 4

	// call_vs2 and call_vn2 take a second type byte for up to 8 operands
	if opcode.opcodeForm == varForm && opcode.operandCount == VAR && (opcode.opcodeNumber == 12 || opcode.opcodeNumber == 26) {
		operandTypeByteExtendedCall = z.readIncPC(frame)
		maxOperands = 8
	}

	for ix := 0; ix < maxOperands; ix++ {
		var operandType OperandType
		if ix < 4 {
			operandType = OperandType((operandTypeByte >> (2 * (3 - ix))) & 0b11)
		} else {
			operandType = OperandType((operandTypeByteExtendedCall >> (2 * (7 - ix))) & 0b11)
		}

		if operandType == omitted { // end of the operand list
			break
		}

		switch operandType {
		case smallConstant, variable:
			opcode.operands = append(opcode.operands, Operand{operandType: operandType, value: uint16(z.readIncPC(frame))})
		case largeConstant:
			opcode.operands = append(opcode.operands, Operand{operandType: operandType, value: z.readHalfWordIncPC(frame)})
		}
	}
}

// ParseOpcode fetches and decodes the instruction at the PC, leaving the PC
// on the first byte after the operands (spec 4.3-4.5).
func ParseOpcode(z *ZMachine) Opcode {
	frame := z.callStack.peek()
	opcodeByte := z.readIncPC(frame)
	opcode := Opcode{
		opcodeForm: OpcodeForm(opcodeByte >> 6),
		opcodeByte: opcodeByte,
	}

	if opcodeByte == 0xbe && z.Core.Version >= 5 {
		// Extended form: the real opcode number is in the next byte, operands
		// as in variable form
		opcode.opcodeByte = z.readIncPC(frame)
		opcode.opcodeNumber = opcode.opcodeByte
		opcode.opcodeForm = extForm
		opcode.operandCount = VAR

		parseVariableOperands(z, frame, &opcode)
	} else if opcode.opcodeForm == varForm {
		opcode.opcodeNumber = opcodeByte & 0b1_1111 // 5 bits
		opcode.operandCount = VAR
		if ((opcodeByte >> 5) & 1) == 0 {
			opcode.operandCount = OP2
		}

		parseVariableOperands(z, frame, &opcode)
	} else if opcode.opcodeForm == shortForm {
		opcode.opcodeNumber = opcodeByte & 0b1111 // 4 bits
		operandType := OperandType((opcodeByte >> 4) & 0b11)

		switch operandType {
		case largeConstant:
			opcode.operands = append(opcode.operands, Operand{operandType: operandType, value: z.readHalfWordIncPC(frame)})
			opcode.operandCount = OP1
		case smallConstant, variable:
			opcode.operands = append(opcode.operands, Operand{operandType: operandType, value: uint16(z.readIncPC(frame))})
			opcode.operandCount = OP1
		case omitted:
			opcode.operandCount = OP0
		}
	} else { // long form
		opcode.opcodeNumber = opcodeByte & 0b1_1111 // 5 bits
		opcode.opcodeForm = longForm
		opcode.operandCount = OP2

		// Bits 6 and 5 say whether each operand is a variable reference or a
		// small constant
		operand1Type := smallConstant
		operand2Type := smallConstant
		if (opcodeByte>>6)&0b1 == 0b1 {
			operand1Type = variable
		}
		if (opcodeByte>>5)&0b1 == 0b1 {
			operand2Type = variable
		}

		for _, operandType := range []OperandType{operand1Type, operand2Type} {
			opcode.operands = append(opcode.operands, Operand{operandType: operandType, value: uint16(z.readIncPC(frame))})
		}
	}

	return opcode
}
