package zstring

import "zrun/zcore"

// defaultExtraCharacters is the standard translation of ZSCII codes 155-223
// (spec 3.8.5.3). Codes above that range are undefined by default.
var defaultExtraCharacters = map[rune]uint8{
	'ä': 155, 'ö': 156, 'ü': 157, 'Ä': 158, 'Ö': 159, 'Ü': 160,
	'ß': 161, '»': 162, '«': 163, 'ë': 164, 'ï': 165, 'ÿ': 166,
	'Ë': 167, 'Ï': 168, 'á': 169, 'é': 170, 'í': 171, 'ó': 172,
	'ú': 173, 'ý': 174, 'Á': 175, 'É': 176, 'Í': 177, 'Ó': 178,
	'Ú': 179, 'Ý': 180, 'à': 181, 'è': 182, 'ì': 183, 'ò': 184,
	'ù': 185, 'À': 186, 'È': 187, 'Ì': 188, 'Ò': 189, 'Ù': 190,
	'â': 191, 'ê': 192, 'î': 193, 'ô': 194, 'û': 195, 'Â': 196,
	'Ê': 197, 'Î': 198, 'Ô': 199, 'Û': 200, 'å': 201, 'Å': 202,
	'ø': 203, 'Ø': 204, 'ã': 205, 'ñ': 206, 'õ': 207, 'Ã': 208,
	'Ñ': 209, 'Õ': 210, 'æ': 211, 'Æ': 212, 'ç': 213, 'Ç': 214,
	'þ': 215, 'ð': 216, 'Þ': 217, 'Ð': 218, '£': 219, 'œ': 220,
	'Œ': 221, '¡': 222, '¿': 223,
}

// extraCharacterTable returns the active ZSCII 155+ translation, preferring a
// unicode extension table in the header extension block when the story
// provides one.
func extraCharacterTable(core *zcore.Core) map[rune]uint8 {
	if core.UnicodeExtensionTableBaseAddress == 0 {
		return defaultExtraCharacters
	}

	table := make(map[rune]uint8)
	count := core.ReadByte(uint32(core.UnicodeExtensionTableBaseAddress))
	for i := 0; i < int(count); i++ {
		r := rune(core.ReadHalfWord(uint32(core.UnicodeExtensionTableBaseAddress) + 1 + uint32(i*2)))
		table[r] = uint8(155 + i)
	}

	return table
}

// zsciiToRune converts a ZSCII output code to a printable rune. Unmapped
// codes come back as 0 and are dropped by the decoder.
func zsciiToRune(code uint16, core *zcore.Core) rune {
	switch {
	case code == 0:
		return 0
	case code == 13:
		return '\n'
	case code >= 32 && code <= 126:
		return rune(code)
	case code >= 155 && code <= 255:
		for r, zscii := range extraCharacterTable(core) {
			if uint16(zscii) == code {
				return r
			}
		}
	}

	return 0
}

// runeToZscii converts a printable rune to its ZSCII code, if one exists.
func runeToZscii(r rune, core *zcore.Core) (uint8, bool) {
	switch {
	case r == '\n':
		return 13, true
	case r >= 32 && r <= 126:
		return uint8(r), true
	}

	code, ok := extraCharacterTable(core)[r]
	return code, ok
}
