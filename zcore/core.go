// Package zcore holds the raw story file image and the header fields parsed
// out of it. All other components read and write the machine's memory through
// this type.
package zcore

import (
	"encoding/binary"
	"fmt"
)

// Core is the flat memory image of a loaded story file. Word access is
// big-endian throughout. Any access beyond the file length is a fatal memory
// fault.
type Core struct {
	bytes                            []uint8
	pristine                         []uint8 // untouched copy of the story file, for restart and verify
	Version                          uint8
	FlagByte1                        uint8
	StatusBarTimeBased               bool
	ReleaseNumber                    uint16
	HighMemoryBase                   uint16
	FirstInstruction                 uint16
	DictionaryBase                   uint16
	ObjectTableBase                  uint16
	GlobalVariableBase               uint16
	StaticMemoryBase                 uint16
	AbbreviationTableBase            uint16
	FileChecksum                     uint16
	RoutinesOffset                   uint16
	StringOffset                     uint16
	TerminatingCharTableBase         uint16
	AlphabetTableBase                uint16
	ExtensionTableBase               uint16
	UnicodeExtensionTableBaseAddress uint16
}

// LoadCore validates the header and wraps the story file bytes. Versions 1-5
// and 7-8 are supported; version 6 needs a graphical screen model this
// interpreter doesn't have.
func LoadCore(storyBytes []uint8) (Core, error) {
	if len(storyBytes) < 0x40 {
		return Core{}, fmt.Errorf("story file too small to hold a header (%d bytes)", len(storyBytes))
	}

	version := storyBytes[0]
	if version == 6 {
		return Core{}, fmt.Errorf("version 6 story files are not supported")
	}
	if version == 0 || version > 8 {
		return Core{}, fmt.Errorf("unsupported story file version %d", version)
	}

	pristine := make([]uint8, len(storyBytes))
	copy(pristine, storyBytes)

	bytes := make([]uint8, len(storyBytes))
	copy(bytes, storyBytes)

	core := Core{
		bytes:    bytes,
		pristine: pristine,
	}
	core.parseHeader()
	core.stampHeader()

	return core, nil
}

// parseHeader caches the fixed-offset header fields (spec 11.1).
func (core *Core) parseHeader() {
	bytes := core.bytes

	extensionTableBase := binary.BigEndian.Uint16(bytes[0x36:0x38])
	unicodeExtensionTableBase := uint16(0)
	if extensionTableBase != 0 && int(extensionTableBase)+8 <= len(bytes) {
		if binary.BigEndian.Uint16(bytes[extensionTableBase:extensionTableBase+2]) >= 3 {
			unicodeExtensionTableBase = binary.BigEndian.Uint16(bytes[extensionTableBase+6 : extensionTableBase+8])
		}
	}

	core.Version = bytes[0x00]
	core.FlagByte1 = bytes[0x01]
	core.StatusBarTimeBased = bytes[0x01]&0b0000_0010 != 0
	core.ReleaseNumber = binary.BigEndian.Uint16(bytes[0x02:0x04])
	core.HighMemoryBase = binary.BigEndian.Uint16(bytes[0x04:0x06])
	core.FirstInstruction = binary.BigEndian.Uint16(bytes[0x06:0x08])
	core.DictionaryBase = binary.BigEndian.Uint16(bytes[0x08:0x0a])
	core.ObjectTableBase = binary.BigEndian.Uint16(bytes[0x0a:0x0c])
	core.GlobalVariableBase = binary.BigEndian.Uint16(bytes[0x0c:0x0e])
	core.StaticMemoryBase = binary.BigEndian.Uint16(bytes[0x0e:0x10])
	core.AbbreviationTableBase = binary.BigEndian.Uint16(bytes[0x18:0x1a])
	core.FileChecksum = binary.BigEndian.Uint16(bytes[0x1c:0x1e])
	core.RoutinesOffset = binary.BigEndian.Uint16(bytes[0x28:0x2a])
	core.StringOffset = binary.BigEndian.Uint16(bytes[0x2a:0x2c])
	core.TerminatingCharTableBase = binary.BigEndian.Uint16(bytes[0x2e:0x30])
	core.AlphabetTableBase = binary.BigEndian.Uint16(bytes[0x34:0x36])
	core.ExtensionTableBase = extensionTableBase
	core.UnicodeExtensionTableBaseAddress = unicodeExtensionTableBase
}

// stampHeader writes the interpreter's capabilities into the header so the
// story knows what it is running on (spec 11.1.3).
func (core *Core) stampHeader() {
	bytes := core.bytes

	// Interpreter number/version exist from v4, the screen and font
	// dimension fields from v5; earlier versions reserve those bytes
	if core.Version >= 4 {
		bytes[0x1e] = 0x6 // Interpreter number - IBM PC chosen as closest match
		bytes[0x1f] = 0x1 // Interpreter version - nobody cares
	}

	if core.Version >= 5 {
		// Screen dimensions - games may use these for layout calculations.
		// Typical terminal dimensions (80x25 characters, 1x1 units per char).
		bytes[0x20] = 25 // Screen height (lines)
		bytes[0x21] = 80 // Screen width (characters)
		bytes[0x22] = 0  // Screen width (units) - high byte
		bytes[0x23] = 80 // Screen width (units) - low byte
		bytes[0x24] = 0  // Screen height (units) - high byte
		bytes[0x25] = 25 // Screen height (units) - low byte
		bytes[0x26] = 1  // Font height (units)
		bytes[0x27] = 1  // Font width (units)
	}

	// Claim standard revision 1.1
	bytes[0x32] = 0x1
	bytes[0x33] = 0x1

	if core.Version <= 3 {
		// Split screen available, status line available
		bytes[0x01] |= 0b0010_0000
		bytes[0x01] &^= 0b0001_0000
	} else {
		// Colors (0x01), bold (0x04), italic (0x08), fixed-width (0x10),
		// split screen (0x20), timed input (0x80)
		bytes[0x01] |= 0b1011_1101
	}

	core.FlagByte1 = bytes[0x01]
}

// Restart rewinds memory to the freshly loaded image. The transcript bit of
// flags2 survives a restart (spec 6.1.3).
func (core *Core) Restart() {
	transcriptBit := core.bytes[0x11] & 0b0000_0001

	copy(core.bytes, core.pristine)
	core.parseHeader()
	core.stampHeader()

	core.bytes[0x11] = (core.bytes[0x11] &^ 0b0000_0001) | transcriptBit
}

func (core *Core) fault(format string, a ...any) {
	panic(fmt.Sprintf(format, a...))
}

func (core *Core) checkRange(address uint32, length uint32) {
	if address+length > uint32(len(core.bytes)) || address+length < address {
		core.fault("memory fault: access at 0x%x (+%d) beyond file size 0x%x", address, length, len(core.bytes))
	}
}

func (core *Core) ReadByte(address uint32) uint8 {
	core.checkRange(address, 1)
	return core.bytes[address]
}

func (core *Core) ReadHalfWord(address uint32) uint16 {
	core.checkRange(address, 2)
	return binary.BigEndian.Uint16(core.bytes[address : address+2])
}

func (core *Core) WriteByte(address uint32, value uint8) {
	core.checkRange(address, 1)
	core.bytes[address] = value
}

func (core *Core) WriteHalfWord(address uint32, value uint16) {
	core.checkRange(address, 2)
	binary.BigEndian.PutUint16(core.bytes[address:address+2], value)
}

// ReadSlice returns a view of memory in [startAddress, endAddress). Callers
// must not hold it across writes.
func (core *Core) ReadSlice(startAddress uint32, endAddress uint32) []uint8 {
	if endAddress < startAddress {
		core.fault("memory fault: inverted slice bounds 0x%x..0x%x", startAddress, endAddress)
	}
	core.checkRange(startAddress, endAddress-startAddress)
	return core.bytes[startAddress:endAddress]
}

// Dump copies a memory range out, for the save state serializer.
func (core *Core) Dump(startAddress uint32, length uint32) []uint8 {
	core.checkRange(startAddress, length)
	out := make([]uint8, length)
	copy(out, core.bytes[startAddress:startAddress+length])
	return out
}

// Load copies bytes back into memory at the given address.
func (core *Core) Load(startAddress uint32, data []uint8) {
	core.checkRange(startAddress, uint32(len(data)))
	copy(core.bytes[startAddress:startAddress+uint32(len(data))], data)
}

// PristineByte reads from the original file image, untouched by any store
// instruction. Verify checksums against this, not live memory.
func (core *Core) PristineByte(address uint32) uint8 {
	if address >= uint32(len(core.pristine)) {
		core.fault("memory fault: pristine access at 0x%x beyond file size 0x%x", address, len(core.pristine))
	}
	return core.pristine[address]
}

func (core *Core) MemoryLength() uint32 {
	return uint32(len(core.bytes))
}

// FileLength decodes header word 0x1a which stores the file length scaled
// down by a version-dependent divisor (spec 11.1.6).
func (core *Core) FileLength() uint32 {
	var multiplier uint32
	switch {
	case core.Version <= 3:
		multiplier = 2
	case core.Version <= 5:
		multiplier = 4
	default:
		multiplier = 8
	}

	length := uint32(binary.BigEndian.Uint16(core.bytes[0x1a:0x1c])) * multiplier

	// Some older files leave the length field zero; fall back to the real size
	if length == 0 || length > uint32(len(core.bytes)) {
		length = uint32(len(core.bytes))
	}

	return length
}

// UnpackRoutineAddress converts a packed routine address to a byte address
// (spec 1.2.3).
func (core *Core) UnpackRoutineAddress(packed uint32) uint32 {
	return core.unpack(packed, uint32(core.RoutinesOffset))
}

// UnpackStringAddress converts a packed string address to a byte address.
func (core *Core) UnpackStringAddress(packed uint32) uint32 {
	return core.unpack(packed, uint32(core.StringOffset))
}

func (core *Core) unpack(packed uint32, offset uint32) uint32 {
	switch {
	case core.Version < 4:
		return 2 * packed
	case core.Version < 6:
		return 4 * packed
	case core.Version < 8:
		return 4*packed + 8*offset
	default:
		return 8 * packed
	}
}

// TranscriptActive reports bit 0 of flags2, which the story toggles to turn
// the printer transcript on and off.
func (core *Core) TranscriptActive() bool {
	return core.bytes[0x11]&0b0000_0001 != 0
}

// DynamicMemorySize is the extent of writable memory, everything below the
// static memory base.
func (core *Core) DynamicMemorySize() uint32 {
	return uint32(core.StaticMemoryBase)
}

func (core *Core) SetDefaultColors(background uint8, foreground uint8) {
	core.bytes[0x2c] = background
	core.bytes[0x2d] = foreground
}
