// Package dictionary looks up encoded words in a story's dictionary, either
// the main one from the header or a custom table handed to tokenise
// (spec chapter 13).
package dictionary

import (
	"bytes"

	"zrun/zcore"
)

type Dictionary struct {
	BaseAddress uint32
	Separators  []uint8 // word separator ZSCII codes from the header
	EntryLength uint8
	EntryCount  int16 // negative means the entries are unsorted (spec 13.5)
	entriesBase uint32
}

// ParseDictionary reads the dictionary header at baseAddress. Entries
// themselves stay in memory and are searched in place.
func ParseDictionary(baseAddress uint32, core *zcore.Core) *Dictionary {
	numSeparators := core.ReadByte(baseAddress)
	separators := make([]uint8, numSeparators)
	copy(separators, core.ReadSlice(baseAddress+1, baseAddress+1+uint32(numSeparators)))

	entryLength := core.ReadByte(baseAddress + 1 + uint32(numSeparators))
	entryCount := int16(core.ReadHalfWord(baseAddress + 2 + uint32(numSeparators)))

	return &Dictionary{
		BaseAddress: baseAddress,
		Separators:  separators,
		EntryLength: entryLength,
		EntryCount:  entryCount,
		entriesBase: baseAddress + 4 + uint32(numSeparators),
	}
}

// encodedWordLength is the fixed width of the encoded word at the start of
// each entry: 4 bytes on v1-3, 6 on v4+.
func encodedWordLength(core *zcore.Core) uint32 {
	if core.Version >= 4 {
		return 6
	}
	return 4
}

// Find returns the byte address of the entry whose encoded word matches, or 0
// when the word isn't in the dictionary. Sorted dictionaries are searched by
// bisection on the encoded bytes, unsorted ones linearly.
func (d *Dictionary) Find(core *zcore.Core, encoded []uint8) uint16 {
	wordLength := encodedWordLength(core)
	if uint32(d.EntryLength) < wordLength || d.EntryCount == 0 {
		return 0
	}

	entry := func(ix int32) []uint8 {
		address := d.entriesBase + uint32(ix)*uint32(d.EntryLength)
		return core.ReadSlice(address, address+wordLength)
	}

	if d.EntryCount < 0 {
		for ix := int32(0); ix < int32(-d.EntryCount); ix++ {
			if bytes.Equal(entry(ix), encoded) {
				return uint16(d.entriesBase + uint32(ix)*uint32(d.EntryLength))
			}
		}
		return 0
	}

	lo, hi := int32(0), int32(d.EntryCount)-1
	for lo <= hi {
		mid := (lo + hi) / 2
		switch bytes.Compare(encoded, entry(mid)) {
		case 0:
			return uint16(d.entriesBase + uint32(mid)*uint32(d.EntryLength))
		case -1:
			hi = mid - 1
		default:
			lo = mid + 1
		}
	}

	return 0
}

// IsSeparator reports whether a byte is one of the dictionary's word
// separator characters. Space always separates but is never a token itself.
func (d *Dictionary) IsSeparator(chr uint8) bool {
	for _, separator := range d.Separators {
		if chr == separator {
			return true
		}
	}
	return false
}
