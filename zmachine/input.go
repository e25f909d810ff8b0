package zmachine

import (
	"time"

	"github.com/golang/glog"

	"zrun/dictionary"
	"zrun/zstring"
)

// timeoutAfter is time.After behind a seam so tests can force the timed
// input path without waiting on a real clock.
var timeoutAfter = func(d time.Duration) <-chan time.Time {
	return time.After(d)
}

// terminatingCharacters builds the set of keys that end line input: return,
// plus whatever function keys the story lists in its terminating character
// table on v5+ (spec 10.7).
func (z *ZMachine) terminatingCharacters() []uint8 {
	validTerminators := []uint8{13}

	if z.Core.Version >= 5 && z.Core.TerminatingCharTableBase != 0 {
		ptr := uint32(z.Core.TerminatingCharTableBase)
		for {
			b := z.Core.ReadByte(ptr)
			if b == 0 {
				break
			} else if b == 255 {
				// 255 means every function key terminates
				validTerminators = []uint8{13}
				for c := uint8(129); c <= 154; c++ {
					validTerminators = append(validTerminators, c)
				}
				validTerminators = append(validTerminators, 252, 253, 254)
				break
			} else if (b >= 129 && b <= 154) || (b >= 252 && b <= 254) {
				validTerminators = append(validTerminators, b)
			}

			ptr++
		}
	}

	return validTerminators
}

// awaitInput blocks until the display layer delivers input. With a timed
// read the wait is bounded: each expiry dispatches the interrupt routine
// through a nested decode loop, and a non-zero return from it aborts the
// read (spec 7.1a of the concurrency model).
func (z *ZMachine) awaitInput(timeTenths uint16, routine uint16) (InputResponse, bool) {
	if timeTenths == 0 || routine == 0 {
		return <-z.inputChannel, false
	}

	for {
		select {
		case resp := <-z.inputChannel:
			return resp, false
		case <-timeoutAfter(time.Duration(timeTenths) * 100 * time.Millisecond):
			interruptResult := z.callInterruptRoutine(routine)
			if z.quitRequested || z.restartRequested || interruptResult != 0 {
				return InputResponse{}, true
			}
			// Interrupt asked to keep waiting; re-arm the timer for another
			// full period
		}
	}
}

// read implements sread/aread (spec 15, opcode read). The text buffer fills
// with the typed line, the optional parse buffer with its tokenisation.
func (z *ZMachine) read(opcode *Opcode, frame *CallStackFrame) {
	if z.Core.Version <= 3 {
		z.showStatus()
	}

	textBufferAddr := uint32(opcode.operands[0].Value(z))
	parseBufferAddr := uint32(0)
	if len(opcode.operands) > 1 {
		parseBufferAddr = uint32(opcode.operands[1].Value(z))
	}

	timeTenths, routine := uint16(0), uint16(0)
	if z.Core.Version >= 4 && len(opcode.operands) > 3 {
		timeTenths = opcode.operands[2].Value(z)
		routine = opcode.operands[3].Value(z)
	}

	maxChars := int(z.Core.ReadByte(textBufferAddr))

	z.outputChannel <- InputRequest{
		Kind:             LineInput,
		MaxChars:         maxChars,
		TimeTenths:       timeTenths,
		ValidTerminators: z.terminatingCharacters(),
	}

	resp, aborted := z.awaitInput(timeTenths, routine)
	if z.quitRequested || z.restartRequested {
		return
	}

	// The interrupt routine may have grown the frame stack's backing array;
	// re-resolve the active frame before touching it again
	frame = z.callStack.peek()

	if aborted {
		z.outputChannel <- Running
		if z.Core.Version >= 5 {
			z.storeResult(frame, 0)
		}
		return
	}

	z.recordInput(resp.Text)

	text := []byte(lowercaseInput(resp.Text))
	for ix, chr := range text {
		// Anything unprintable lands in the buffer as a space
		if !((chr >= 32 && chr <= 126) || (chr >= 155 && chr <= 251)) {
			text[ix] = 32
		}
	}

	if z.Core.Version >= 5 {
		// Length-prefixed, appended after any pre-typed characters
		existing := uint32(z.Core.ReadByte(textBufferAddr + 1))
		room := maxChars - int(existing)
		if room < 0 {
			room = 0
		}
		if len(text) > room {
			text = text[:room]
		}
		for ix, chr := range text {
			z.Core.WriteByte(textBufferAddr+2+existing+uint32(ix), chr)
		}
		z.Core.WriteByte(textBufferAddr+1, uint8(existing)+uint8(len(text)))
	} else {
		// NUL-terminated from the second byte
		if len(text) > maxChars {
			text = text[:maxChars]
		}
		for ix, chr := range text {
			z.Core.WriteByte(textBufferAddr+1+uint32(ix), chr)
		}
		z.Core.WriteByte(textBufferAddr+1+uint32(len(text)), 0)
	}

	if parseBufferAddr != 0 {
		z.Tokenise(textBufferAddr, parseBufferAddr, z.dict, false)
	}

	if z.Core.Version >= 5 {
		terminator := resp.TerminatingKey
		if terminator == 0 {
			terminator = 13
		}
		z.storeResult(frame, uint16(terminator))
	}
}

// readChar implements read_char, returning a single ZSCII key code.
func (z *ZMachine) readChar(opcode *Opcode, frame *CallStackFrame) {
	timeTenths, routine := uint16(0), uint16(0)
	if len(opcode.operands) > 2 {
		timeTenths = opcode.operands[1].Value(z)
		routine = opcode.operands[2].Value(z)
	}

	z.outputChannel <- InputRequest{Kind: CharInput, TimeTenths: timeTenths}

	resp, aborted := z.awaitInput(timeTenths, routine)
	if z.quitRequested || z.restartRequested {
		return
	}

	frame = z.callStack.peek()

	if aborted {
		z.outputChannel <- Running
		z.storeResult(frame, 0)
		return
	}

	chr := uint16(resp.TerminatingKey)
	if len(resp.Text) > 0 {
		chr = uint16(resp.Text[0])
	}
	z.storeResult(frame, chr)
}

type inputToken struct {
	text     []uint8
	position uint32 // offset of the first character from the text buffer address
}

// splitInput breaks the typed line into tokens. Spaces separate without
// being tokens; dictionary separator characters separate and are tokens of
// their own (spec 13.6.1).
func splitInput(text []uint8, base uint32, dict *dictionary.Dictionary) []inputToken {
	var tokens []inputToken
	start := -1

	for i, chr := range text {
		if chr == ' ' || dict.IsSeparator(chr) {
			if start >= 0 {
				tokens = append(tokens, inputToken{text: text[start:i], position: base + uint32(start)})
				start = -1
			}
			if dict.IsSeparator(chr) {
				tokens = append(tokens, inputToken{text: text[i : i+1], position: base + uint32(i)})
			}
		} else if start < 0 {
			start = i
		}
	}

	if start >= 0 {
		tokens = append(tokens, inputToken{text: text[start:], position: base + uint32(start)})
	}

	return tokens
}

// Tokenise fills the parse buffer at baddr2 from the text buffer at baddr1:
// per token a word of dictionary address (0 if unknown), a length byte and
// the position within the text buffer. With skipUnknown set, records for
// unrecognised words are left untouched (spec 13.6.3).
func (z *ZMachine) Tokenise(baddr1 uint32, baddr2 uint32, dict *dictionary.Dictionary, skipUnknown bool) {
	var text []uint8
	var textBase uint32

	if z.Core.Version >= 5 {
		chrCount := uint32(z.Core.ReadByte(baddr1 + 1))
		text = z.Core.ReadSlice(baddr1+2, baddr1+2+chrCount)
		textBase = 2
	} else {
		// NUL-terminated
		end := baddr1 + 1
		for z.Core.ReadByte(end) != 0 {
			end++
		}
		text = z.Core.ReadSlice(baddr1+1, end)
		textBase = 1
	}

	tokens := splitInput(text, textBase, dict)

	maxTokens := int(z.Core.ReadByte(baddr2))
	if len(tokens) > maxTokens {
		glog.V(1).Infof("parse buffer only holds %d tokens, dropping %d", maxTokens, len(tokens)-maxTokens)
		tokens = tokens[:maxTokens]
	}

	z.Core.WriteByte(baddr2+1, uint8(len(tokens)))

	recordPtr := baddr2 + 2
	for _, token := range tokens {
		encoded := zstring.Encode([]rune(string(token.text)), &z.Core, z.Alphabets)
		dictionaryAddress := dict.Find(&z.Core, encoded)

		if dictionaryAddress != 0 || !skipUnknown {
			z.Core.WriteHalfWord(recordPtr, dictionaryAddress)
			z.Core.WriteByte(recordPtr+2, uint8(len(token.text)))
			z.Core.WriteByte(recordPtr+3, uint8(token.position))
		}

		recordPtr += 4
	}
}

// encodeText implements the encode_text opcode: encode length characters of
// ZSCII at baddr+from into dictionary form at the destination (spec 15).
func (z *ZMachine) encodeText(baddr uint16, length uint16, from uint16, dest uint16) {
	raw := z.Core.ReadSlice(uint32(baddr)+uint32(from), uint32(baddr)+uint32(from)+uint32(length))
	encoded := zstring.Encode([]rune(string(raw)), &z.Core, z.Alphabets)

	for ix, b := range encoded {
		z.Core.WriteByte(uint32(dest)+uint32(ix), b)
	}
}
