package zmachine

import (
	"fmt"
	"strings"
)

type TextStyle int

const (
	Roman        TextStyle = 0b0000_0000
	ReverseVideo TextStyle = 0b0000_0001
	Bold         TextStyle = 0b0000_0010
	Italic       TextStyle = 0b0000_0100
	FixedPitch   TextStyle = 0b0000_1000
)

type Color struct {
	r int
	g int
	b int
}

func (c Color) ToHex() string {
	return fmt.Sprintf("#%02x%02x%02x", c.r, c.g, c.b)
}

var (
	Black = Color{0, 0, 0}
	White = Color{255, 255, 255}
)

// Font represents the available Z-machine fonts. Only the normal and fixed
// pitch fonts are honoured; pictures and character graphics are not.
type Font uint16

const (
	FontNormal     Font = 1
	FontPicture    Font = 2
	FontCharGraphs Font = 3
	FontFixedPitch Font = 4
)

// ScreenModel is the engine's view of the two-window display (spec chapter
// 8, very deliberately not the v6 model). The display layer renders from it.
type ScreenModel struct {
	LowerWindowActive bool
	CurrentFont       Font

	UpperWindowHeight            int
	UpperWindowForeground        Color
	UpperWindowBackground        Color
	DefaultUpperWindowForeground Color
	DefaultUpperWindowBackground Color
	UpperWindowCursorX           int
	UpperWindowCursorY           int
	UpperWindowTextStyle         TextStyle

	DefaultLowerWindowForeground Color
	DefaultLowerWindowBackground Color
	LowerWindowForeground        Color
	LowerWindowBackground        Color
	LowerWindowTextStyle         TextStyle
}

// ColorByNumber maps a Z-machine colour number to a concrete colour
// (spec 8.3.1).
func (m *ScreenModel) ColorByNumber(i uint16, isForeground bool) Color {
	switch i {
	case 0: // current
		if isForeground {
			return m.LowerWindowForeground
		}
		return m.LowerWindowBackground
	case 1: // default
		if isForeground {
			if m.LowerWindowActive {
				return m.DefaultLowerWindowForeground
			}
			return m.DefaultUpperWindowForeground
		}
		if m.LowerWindowActive {
			return m.DefaultLowerWindowBackground
		}
		return m.DefaultUpperWindowBackground
	case 2:
		return Color{0, 0, 0}
	case 3:
		return Color{255, 0, 0}
	case 4:
		return Color{0, 255, 0}
	case 5:
		return Color{255, 255, 0}
	case 6:
		return Color{0, 0, 255}
	case 7:
		return Color{255, 0, 255}
	case 8:
		return Color{0, 255, 255}
	case 9:
		return Color{255, 255, 255}
	case 10:
		return Color{192, 192, 192}
	case 11:
		return Color{128, 128, 128}
	case 12:
		return Color{64, 64, 64}
	default:
		return Color{0, 0, 0}
	}
}

// AdvanceUpperCursor tracks the cursor through text written to the upper
// window.
func (m *ScreenModel) AdvanceUpperCursor(s string) {
	lines := strings.Split(s, "\n")
	m.UpperWindowCursorY += len(lines) - 1
	if len(lines) > 1 {
		m.UpperWindowCursorX = 1
	}
	m.UpperWindowCursorX += len(lines[len(lines)-1])
}

// SetFont returns the previous font number, or 0 when the requested font
// isn't available (spec 8.1).
func (m *ScreenModel) SetFont(font Font) Font {
	if font != FontNormal && font != FontFixedPitch {
		return 0
	}

	previous := m.CurrentFont
	m.CurrentFont = font
	return previous
}

func newScreenModel(foregroundColor Color, backgroundColor Color) ScreenModel {
	return ScreenModel{
		LowerWindowActive:            true,
		CurrentFont:                  FontNormal,
		UpperWindowHeight:            0,
		DefaultUpperWindowForeground: foregroundColor,
		DefaultUpperWindowBackground: backgroundColor,
		UpperWindowForeground:        foregroundColor,
		UpperWindowBackground:        backgroundColor,
		UpperWindowCursorX:           1,
		UpperWindowCursorY:           1,
		UpperWindowTextStyle:         Roman,
		DefaultLowerWindowForeground: foregroundColor,
		DefaultLowerWindowBackground: backgroundColor,
		LowerWindowForeground:        foregroundColor,
		LowerWindowBackground:        backgroundColor,
		LowerWindowTextStyle:         Roman,
	}
}
