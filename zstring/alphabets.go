package zstring

import "zrun/zcore"

// The three default alphabet rows, indexed by z-char minus 6 (spec 3.5.3).
// A2 entry 0 is the ZSCII escape in every version and entry 1 is newline from
// v2 onwards; v1 has its own table with no newline and a '<'.
var defaultA0 = [26]rune{'a', 'b', 'c', 'd', 'e', 'f', 'g', 'h', 'i', 'j', 'k', 'l', 'm', 'n', 'o', 'p', 'q', 'r', 's', 't', 'u', 'v', 'w', 'x', 'y', 'z'}
var defaultA1 = [26]rune{'A', 'B', 'C', 'D', 'E', 'F', 'G', 'H', 'I', 'J', 'K', 'L', 'M', 'N', 'O', 'P', 'Q', 'R', 'S', 'T', 'U', 'V', 'W', 'X', 'Y', 'Z'}
var defaultA2 = [26]rune{0, '\n', '0', '1', '2', '3', '4', '5', '6', '7', '8', '9', '.', ',', '!', '?', '_', '#', '\'', '"', '/', '\\', '-', ':', '(', ')'}
var defaultA2V1 = [26]rune{0, '0', '1', '2', '3', '4', '5', '6', '7', '8', '9', '.', ',', '!', '?', '_', '#', '\'', '"', '/', '\\', '<', '-', ':', '(', ')'}

type alphabet int

const (
	a0 alphabet = 0
	a1 alphabet = 1
	a2 alphabet = 2
)

type Alphabets struct {
	Version uint8
	rows    [3][26]rune
}

// LoadAlphabets builds the alphabet set for a story, reading the custom
// alphabet table from the header on v5+ when one is present (spec 3.5.5).
func LoadAlphabets(core *zcore.Core) *Alphabets {
	alphabets := Alphabets{Version: core.Version}

	if core.Version == 1 {
		alphabets.rows = [3][26]rune{defaultA0, defaultA1, defaultA2V1}
		return &alphabets
	}

	alphabets.rows = [3][26]rune{defaultA0, defaultA1, defaultA2}

	if core.Version >= 5 && core.AlphabetTableBase != 0 {
		// 78 bytes, three rows of 26 covering z-chars 6-31
		for row := 0; row < 3; row++ {
			for ix := 0; ix < 26; ix++ {
				zscii := core.ReadByte(uint32(core.AlphabetTableBase) + uint32(row*26+ix))
				alphabets.rows[row][ix] = zsciiToRune(uint16(zscii), core)
			}
		}

		// A2 positions 0 and 1 keep their fixed meanings whatever the table says
		alphabets.rows[a2][0] = 0
		alphabets.rows[a2][1] = '\n'
	}

	return &alphabets
}

func (a *Alphabets) lookup(row alphabet, zchr uint8) rune {
	return a.rows[row][zchr-6]
}

// find returns the row and z-char encoding r, or ok=false if r needs the
// ZSCII escape sequence instead.
func (a *Alphabets) find(r rune) (alphabet, uint8, bool) {
	for row := a0; row <= a2; row++ {
		for ix, candidate := range a.rows[row] {
			if row == a2 && ix == 0 {
				continue // escape position, not a real character
			}
			if candidate == r {
				return row, uint8(ix + 6), true
			}
		}
	}

	return a0, 0, false
}
