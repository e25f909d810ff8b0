// Package ztable implements the table-scanning opcodes: scan_table,
// copy_table and print_table.
package ztable

import (
	"strings"

	"zrun/zcore"
)

// ScanTable searches length entries starting at baddr for the value test.
// The form byte gives the entry stride in its low 7 bits and whether to
// compare words (bit 7 set) or bytes. Returns the matching address or 0.
func ScanTable(core *zcore.Core, test uint16, baddr uint32, length uint16, form uint16) uint32 {
	fieldSize := form & 0b0111_1111
	checkWord := form&0b1000_0000 != 0
	if fieldSize == 0 {
		return 0 // zero stride would loop forever, treat as not found
	}

	ptr := baddr
	for i := uint16(0); i < length; i++ {
		if checkWord {
			if core.ReadHalfWord(ptr) == test {
				return ptr
			}
		} else if uint16(core.ReadByte(ptr)) == test {
			// Byte entries widen to u16 for the comparison so word-sized test
			// values rightly never match
			return ptr
		}

		ptr += uint32(fieldSize)
	}

	return 0
}

// CopyTable copies size bytes from first to second. second of 0 zeroes the
// source table instead. A negative size forces a forwards byte-at-a-time copy
// which corrupts overlapping regions, as stories sometimes rely on.
func CopyTable(core *zcore.Core, first uint16, second uint16, size int16) {
	sizeAbs := uint32(size)
	if size < 0 {
		sizeAbs = uint32(-int32(size))
	}

	switch {
	case second == 0:
		for i := uint32(0); i < sizeAbs; i++ {
			core.WriteByte(uint32(first)+i, 0)
		}

	case size >= 0:
		// Copy via a scratch buffer so overlapping tables don't corrupt
		tmp := core.Dump(uint32(first), sizeAbs)
		core.Load(uint32(second), tmp)

	default:
		for i := uint32(0); i < sizeAbs; i++ {
			core.WriteByte(uint32(second)+i, core.ReadByte(uint32(first)+i))
		}
	}
}

// PrintTable renders a width x height block of ZSCII text, skipping skip
// bytes between rows.
func PrintTable(core *zcore.Core, baddr uint32, width uint16, height uint16, skip uint16) string {
	var sb strings.Builder

	ptr := baddr
	for row := uint16(0); row < height; row++ {
		if row != 0 {
			sb.WriteByte('\n')
		}
		for col := uint16(0); col < width; col++ {
			sb.WriteByte(core.ReadByte(ptr))
			ptr++
		}
		ptr += uint32(skip)
	}

	return sb.String()
}
