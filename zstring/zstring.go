// Package zstring decodes and encodes the packed 5-bit character strings used
// everywhere in a story file (spec chapter 3).
package zstring

import (
	"strings"

	"zrun/zcore"
)

func shiftUp(from alphabet) alphabet   { return (from + 1) % 3 }
func shiftDown(from alphabet) alphabet { return (from + 2) % 3 }

// Decode reads a Z-string starting at address and returns the text along with
// the number of bytes consumed (always even). Decoding stops at the first
// word with its top bit set.
func Decode(core *zcore.Core, address uint32, alphabets *Alphabets) (string, uint32) {
	return decode(core, address, alphabets, false)
}

func decode(core *zcore.Core, address uint32, alphabets *Alphabets, insideAbbreviation bool) (string, uint32) {
	version := core.Version

	// First unpack the words into a stream of 5 bit z-characters, three per
	// word, stopping on the end-of-string flag.
	var zchars []uint8
	bytesRead := uint32(0)
	for {
		halfWord := core.ReadHalfWord(address + bytesRead)
		bytesRead += 2

		zchars = append(zchars, uint8((halfWord>>10)&0b11111), uint8((halfWord>>5)&0b11111), uint8(halfWord&0b11111))

		if halfWord&0x8000 != 0 || address+bytesRead >= core.MemoryLength() {
			break
		}
	}

	var sb strings.Builder
	locked := a0
	current := a0

	for i := 0; i < len(zchars); i++ {
		zchr := zchars[i]

		if zchr >= 6 {
			if current == a2 && zchr == 6 {
				// ZSCII escape: the next two z-chars hold a 10 bit character code
				if i+2 < len(zchars) {
					code := uint16(zchars[i+1])<<5 | uint16(zchars[i+2])
					i += 2
					if r := zsciiToRune(code, core); r != 0 {
						sb.WriteRune(r)
					}
				} else {
					i = len(zchars) // truncated escape at end of string
				}
			} else if r := alphabets.lookup(current, zchr); r != 0 {
				sb.WriteRune(r)
			}
			current = locked
			continue
		}

		switch zchr {
		case 0:
			sb.WriteRune(' ')
			current = locked

		case 1:
			if version == 1 {
				sb.WriteRune('\n')
				current = locked
			} else {
				i += expandAbbreviation(core, alphabets, &sb, zchars, i, insideAbbreviation)
				current = locked
			}

		case 2, 3:
			if version >= 3 {
				i += expandAbbreviation(core, alphabets, &sb, zchars, i, insideAbbreviation)
				current = locked
			} else if zchr == 2 {
				current = shiftUp(locked)
			} else {
				current = shiftDown(locked)
			}

		case 4, 5:
			delta := shiftUp
			if zchr == 5 {
				delta = shiftDown
			}

			if version >= 3 {
				// Temporary shift only, never locking (spec 3.2.3)
				current = delta(locked)
			} else {
				locked = delta(locked)
				current = locked
			}
		}
	}

	return sb.String(), bytesRead
}

// expandAbbreviation decodes abbreviation (set, index) inline and returns how
// many extra z-chars were consumed (the selector). Abbreviations never nest
// (spec 3.3).
func expandAbbreviation(core *zcore.Core, alphabets *Alphabets, sb *strings.Builder, zchars []uint8, i int, insideAbbreviation bool) int {
	if i+1 >= len(zchars) {
		return 0 // truncated abbreviation at end of string
	}

	set := zchars[i]
	index := zchars[i+1]

	if !insideAbbreviation {
		entry := uint32(core.AbbreviationTableBase) + (uint32(set-1)*32+uint32(index))*2
		stringAddress := 2 * uint32(core.ReadHalfWord(entry))

		expansion, _ := decode(core, stringAddress, alphabets, true)
		sb.WriteString(expansion)
	}

	return 1
}

// encodeZChars converts text to an unbounded z-character stream following the
// output rules of spec 3.7.
func encodeZChars(text []rune, core *zcore.Core, alphabets *Alphabets) []uint8 {
	version := core.Version
	var zchars []uint8

	shiftFor := func(row alphabet) uint8 {
		// v3+ uses the temporary shifts 4/5; v1-2 use 2/3
		if version >= 3 {
			return 3 + uint8(row)
		}
		return 1 + uint8(row)
	}

	for _, r := range text {
		switch {
		case r == ' ':
			zchars = append(zchars, 0)

		case r == '\n' && version == 1:
			zchars = append(zchars, 1)

		default:
			if row, zc, ok := alphabets.find(r); ok {
				if row != a0 {
					zchars = append(zchars, shiftFor(row))
				}
				zchars = append(zchars, zc)
				continue
			}

			// Fall back to a ZSCII escape sequence in alphabet 2
			code, ok := runeToZscii(r, core)
			if !ok {
				code = '?'
			}
			zchars = append(zchars, shiftFor(a2), 6, uint8((code>>5)&0b11111), uint8(code&0b11111))
		}
	}

	return zchars
}

// Encode produces the fixed-width encoded form used for dictionary words:
// two words (6 z-chars) in v1-3, three words (9 z-chars) in v4+, truncated or
// padded with z-char 5 as needed (spec 3.7).
func Encode(text []rune, core *zcore.Core, alphabets *Alphabets) []uint8 {
	width := 6
	if core.Version >= 4 {
		width = 9
	}

	zchars := encodeZChars(text, core, alphabets)
	if len(zchars) > width {
		zchars = zchars[:width]
	}
	for len(zchars) < width {
		zchars = append(zchars, 5)
	}

	return packZChars(zchars)
}

// EncodeFull packs the whole text without truncation, padding the final word
// with z-char 5. Used by tests and tools that need a round-trippable stream.
func EncodeFull(text []rune, core *zcore.Core, alphabets *Alphabets) []uint8 {
	zchars := encodeZChars(text, core, alphabets)
	for len(zchars) == 0 || len(zchars)%3 != 0 {
		zchars = append(zchars, 5)
	}

	return packZChars(zchars)
}

func packZChars(zchars []uint8) []uint8 {
	encoded := make([]uint8, 0, len(zchars)/3*2)
	for i := 0; i < len(zchars); i += 3 {
		halfWord := uint16(zchars[i])<<10 | uint16(zchars[i+1])<<5 | uint16(zchars[i+2])
		if i+3 >= len(zchars) {
			halfWord |= 0x8000 // end of string flag on the final word
		}
		encoded = append(encoded, uint8(halfWord>>8), uint8(halfWord))
	}

	return encoded
}
