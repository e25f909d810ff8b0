package main

import (
	"flag"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/golang/glog"
	"github.com/muesli/reflow/wordwrap"

	"zrun/storypicker"
	"zrun/zmachine"
)

var (
	romFilePath  string
	baseAppStyle lipgloss.Style
)

type textUpdateMessage string
type eraseLineRequest zmachine.EraseLineRequest
type eraseWindowRequest zmachine.EraseWindowRequest
type statusBarMessage zmachine.StatusBar
type screenModelMessage zmachine.ScreenModel
type inputRequestMessage zmachine.InputRequest
type saveRequestMessage zmachine.Save
type restoreRequestMessage zmachine.Restore
type restartMessage bool
type runtimeErrorMessage zmachine.RuntimeError
type warningMessage zmachine.Warning
type soundEffectMessage zmachine.SoundEffectRequest
type transcriptMessage zmachine.TranscriptText
type commandScriptMessage zmachine.CommandScriptText

// keyToZChar maps Bubble Tea key messages to ZSCII input codes
// (spec 10.5.2.1): cursor keys 129-132, F1-F12 133-144, plus escape, return
// and backspace/delete. Keypad codes 145-154 are never produced; any other key
// maps to 0.
func keyToZChar(msg tea.KeyMsg) uint8 {
	switch msg.Type {
	case tea.KeyUp:
		return 129
	case tea.KeyDown:
		return 130
	case tea.KeyLeft:
		return 131
	case tea.KeyRight:
		return 132
	case tea.KeyF1:
		return 133
	case tea.KeyF2:
		return 134
	case tea.KeyF3:
		return 135
	case tea.KeyF4:
		return 136
	case tea.KeyF5:
		return 137
	case tea.KeyF6:
		return 138
	case tea.KeyF7:
		return 139
	case tea.KeyF8:
		return 140
	case tea.KeyF9:
		return 141
	case tea.KeyF10:
		return 142
	case tea.KeyF11:
		return 143
	case tea.KeyF12:
		return 144
	case tea.KeyEscape:
		return 27
	case tea.KeyEnter:
		return 13
	case tea.KeyBackspace, tea.KeyDelete:
		return 8
	default:
		return 0
	}
}

func isValidTerminator(keyCode uint8, validTerminators []uint8) bool {
	if keyCode == 0 {
		return false
	}
	return slices.Contains(validTerminators, keyCode)
}

type runningStoryState int

const (
	appRunning             runningStoryState = iota
	appWaitingForInput     runningStoryState = iota
	appWaitingForCharacter runningStoryState = iota
)

type runStoryModel struct {
	outputChannel            <-chan any
	sendChannel              chan<- zmachine.InputResponse
	saveRestoreChannel       chan<- zmachine.SaveRestoreResponse
	zMachine                 *zmachine.ZMachine
	romFilePath              string
	statusBar                zmachine.StatusBar
	screenModel              zmachine.ScreenModel
	lowerWindowTextPreStyled string
	lowerWindowText          string
	upperWindowText          []string
	upperWindowStyle         [][]lipgloss.Style
	appState                 runningStoryState
	validTerminators         []uint8
	inputBox                 textinput.Model
	width                    int
	height                   int
	backgroundStyle          lipgloss.Style
	statusBarStyle           lipgloss.Style
	upperWindowStyleCurrent  lipgloss.Style
	lowerWindowStyle         lipgloss.Style
	runtimeError             string
}

func (m runStoryModel) Init() tea.Cmd {
	return tea.Batch(
		waitForInterpreter(m.outputChannel),
		runInterpreter(m.zMachine),
		tea.Sequence(
			tea.SetWindowTitle(filepath.Base(m.romFilePath)),
			tea.WindowSize(),
		),
	)
}

func runInterpreter(z *zmachine.ZMachine) tea.Cmd {
	return func() tea.Msg {
		z.Run()
		return nil
	}
}

func (m runStoryModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.resizeUpperWindow()

	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			os.Exit(0)
		}

		switch m.appState {
		case appWaitingForCharacter:
			m.appState = appRunning
			if len(msg.Runes) > 0 {
				m.sendChannel <- zmachine.InputResponse{Text: string(msg.Runes[0])}
			} else {
				m.sendChannel <- zmachine.InputResponse{TerminatingKey: keyToZChar(msg)}
			}
		case appWaitingForInput:
			keyCode := keyToZChar(msg)
			if msg.Type == tea.KeyEnter || isValidTerminator(keyCode, m.validTerminators) {
				m.appState = appRunning
				m.lowerWindowText += m.inputBox.Value() + "\n"
				terminatingKey := uint8(13)
				if msg.Type != tea.KeyEnter {
					terminatingKey = keyCode
				}
				m.sendChannel <- zmachine.InputResponse{Text: m.inputBox.Value(), TerminatingKey: terminatingKey}
				m.inputBox.SetValue("")
			}
		}

	case textUpdateMessage:
		if m.screenModel.LowerWindowActive {
			// Anything below the split is append-only scrolling text
			m.lowerWindowText += string(msg)
		} else {
			m.writeUpperWindow(string(msg))
		}
		return m, waitForInterpreter(m.outputChannel)

	case inputRequestMessage:
		switch zmachine.InputRequest(msg).Kind {
		case zmachine.LineInput:
			m.appState = appWaitingForInput
			m.validTerminators = msg.ValidTerminators
		case zmachine.CharInput:
			m.appState = appWaitingForCharacter
		}
		return m, waitForInterpreter(m.outputChannel)

	case zmachine.StateChangeRequest:
		// The engine cancels an input wait itself when a timed interrupt
		// aborts the read
		if msg == zmachine.Running {
			m.appState = appRunning
			m.inputBox.SetValue("")
		}
		return m, waitForInterpreter(m.outputChannel)

	case saveRequestMessage:
		m.saveRestoreChannel <- zmachine.SaveResponse{Success: m.writeSaveFile(zmachine.Save(msg))}
		return m, waitForInterpreter(m.outputChannel)

	case restoreRequestMessage:
		data, err := os.ReadFile(m.saveFilename(msg.SuggestedName))
		if err != nil {
			m.saveRestoreChannel <- zmachine.RestoreResponse{Success: false}
		} else {
			m.saveRestoreChannel <- zmachine.RestoreResponse{Success: true, Data: data}
		}
		return m, waitForInterpreter(m.outputChannel)

	case statusBarMessage:
		m.statusBar = zmachine.StatusBar(msg)
		return m, waitForInterpreter(m.outputChannel)

	case screenModelMessage:
		m.applyScreenModel(zmachine.ScreenModel(msg))
		return m, waitForInterpreter(m.outputChannel)

	case restartMessage:
		// The engine reset itself; throw away everything on screen
		m.lowerWindowText = ""
		m.lowerWindowTextPreStyled = ""
		for row := range m.upperWindowText {
			m.upperWindowText[row] = strings.Repeat(" ", m.width)
			m.upperWindowStyle[row] = slices.Repeat([]lipgloss.Style{baseAppStyle}, m.width)
		}
		m.statusBar = zmachine.StatusBar{}
		m.appState = appRunning
		return m, waitForInterpreter(m.outputChannel)

	case eraseLineRequest:
		m.eraseLine()
		return m, waitForInterpreter(m.outputChannel)

	case eraseWindowRequest:
		m.eraseWindow(int(msg))
		return m, waitForInterpreter(m.outputChannel)

	case transcriptMessage:
		m.appendAuxFile(".transcript", string(msg))
		return m, waitForInterpreter(m.outputChannel)

	case commandScriptMessage:
		m.appendAuxFile(".commands", string(msg)+"\n")
		return m, waitForInterpreter(m.outputChannel)

	case zmachine.InputStreamRequest:
		if int(msg) != 0 {
			glog.Warningf("input stream %d requested but only the keyboard is supported", int(msg))
		}
		return m, waitForInterpreter(m.outputChannel)

	case runtimeErrorMessage:
		m.runtimeError = string(msg)
		return m, tea.Quit

	case warningMessage:
		fmt.Fprintf(os.Stderr, "%s\n", msg)
		return m, waitForInterpreter(m.outputChannel)

	case soundEffectMessage:
		// Only the two standard bleeps; anything fancier is quietly dropped
		if msg.SoundNumber == 1 || msg.SoundNumber == 2 {
			fmt.Print("\a")
		}
		return m, waitForInterpreter(m.outputChannel)
	}

	if m.appState == appWaitingForInput {
		m.inputBox, cmd = m.inputBox.Update(msg)
	}

	return m, cmd
}

// resizeUpperWindow keeps the upper window grid exactly terminal-sized.
func (m *runStoryModel) resizeUpperWindow() {
	if m.height < len(m.upperWindowText) {
		m.upperWindowText = m.upperWindowText[:m.height]
		m.upperWindowStyle = m.upperWindowStyle[:m.height]
	} else {
		for range int(math.Min(float64(m.height-len(m.upperWindowText)), float64(m.screenModel.UpperWindowHeight))) {
			m.upperWindowText = append(m.upperWindowText, strings.Repeat(" ", m.width))
			m.upperWindowStyle = append(m.upperWindowStyle, slices.Repeat([]lipgloss.Style{baseAppStyle}, m.width))
		}
	}

	for ix, row := range m.upperWindowText {
		if m.width < len(row) {
			m.upperWindowText[ix] = row[:m.width]
			m.upperWindowStyle[ix] = m.upperWindowStyle[ix][:m.width]
		} else if m.width > len(row) {
			m.upperWindowText[ix] = row + strings.Repeat(" ", m.width-len(row))
			for ii := len(row); ii < m.width; ii++ {
				m.upperWindowStyle[ix] = append(m.upperWindowStyle[ix], baseAppStyle)
			}
		}
	}
}

// writeUpperWindow overwrites characters at the upper window cursor,
// splitting on newlines.
func (m *runStoryModel) writeUpperWindow(text string) {
	segments := strings.Split(text, "\n")
	cursorX := m.screenModel.UpperWindowCursorX - 1
	cursorY := m.screenModel.UpperWindowCursorY - 1

	for segIdx, segment := range segments {
		if cursorY >= 0 && cursorY < len(m.upperWindowText) {
			row := m.upperWindowText[cursorY]

			if cursorY < len(m.upperWindowStyle) {
				for i := 0; i < len(segment) && cursorX+i < len(m.upperWindowStyle[cursorY]); i++ {
					m.upperWindowStyle[cursorY][cursorX+i] = m.upperWindowStyleCurrent
				}
			}

			if cursorX >= 0 && cursorX < len(row) {
				before := row[:cursorX]
				afterStart := cursorX + len(segment)
				after := ""
				if afterStart < len(row) {
					after = row[afterStart:]
				}
				fullText := before + segment + after
				if len(fullText) > m.width {
					fullText = fullText[:m.width]
				}
				m.upperWindowText[cursorY] = fullText
			}
		}

		if segIdx < len(segments)-1 {
			cursorY++
			cursorX = 0
		}
	}
}

func (m *runStoryModel) eraseLine() {
	if m.screenModel.LowerWindowActive {
		return // can't erase within append-only text
	}

	line := m.screenModel.UpperWindowCursorY - 1
	start := m.screenModel.UpperWindowCursorX - 1
	if line >= 0 && line < len(m.upperWindowText) && start >= 0 && start < len(m.upperWindowText[line]) {
		row := m.upperWindowText[line]
		m.upperWindowText[line] = row[:start] + strings.Repeat(" ", len(row)-start)
	}
}

func (m *runStoryModel) eraseWindow(window int) {
	clearUpper := func(rows int) {
		for row := 0; row < rows && row < len(m.upperWindowText); row++ {
			m.upperWindowText[row] = strings.Repeat(" ", m.width)
			m.upperWindowStyle[row] = slices.Repeat([]lipgloss.Style{baseAppStyle}, m.width)
		}
	}

	switch window {
	case -2, -1: // clear the whole screen (-1 also unsplit, done engine-side)
		m.lowerWindowText = ""
		m.lowerWindowTextPreStyled = ""
		clearUpper(len(m.upperWindowText))
	case 0:
		m.lowerWindowText = ""
		m.lowerWindowTextPreStyled = ""
	case 1:
		clearUpper(m.screenModel.UpperWindowHeight)
	default:
		glog.Warningf("unexpected erase_window value %d", window)
	}
}

func (m *runStoryModel) applyScreenModel(model zmachine.ScreenModel) {
	m.screenModel = model

	if len(m.upperWindowText) != model.UpperWindowHeight {
		if len(m.upperWindowText) > model.UpperWindowHeight {
			m.upperWindowText = m.upperWindowText[:model.UpperWindowHeight]
			m.upperWindowStyle = m.upperWindowStyle[:model.UpperWindowHeight]
		} else {
			for range model.UpperWindowHeight - len(m.upperWindowText) {
				m.upperWindowText = append(m.upperWindowText, strings.Repeat(" ", m.width))
				m.upperWindowStyle = append(m.upperWindowStyle, slices.Repeat([]lipgloss.Style{baseAppStyle}, m.width))
			}
		}
	}

	// Flush lower window text into the prestyled buffer on each model change
	// so style switches take effect at the right boundary
	prerenderLowerWindowText(m)

	m.lowerWindowStyle = m.lowerWindowStyle.
		Background(lipgloss.Color(model.LowerWindowBackground.ToHex())).
		Foreground(lipgloss.Color(model.LowerWindowForeground.ToHex())).
		Bold(model.LowerWindowTextStyle&zmachine.Bold != 0).
		Italic(model.LowerWindowTextStyle&zmachine.Italic != 0).
		Reverse(model.LowerWindowTextStyle&zmachine.ReverseVideo != 0).
		Inline(true)
	m.upperWindowStyleCurrent = m.upperWindowStyleCurrent.
		Background(lipgloss.Color(model.UpperWindowBackground.ToHex())).
		Foreground(lipgloss.Color(model.UpperWindowForeground.ToHex())).
		Bold(model.UpperWindowTextStyle&zmachine.Bold != 0).
		Italic(model.UpperWindowTextStyle&zmachine.Italic != 0).
		Reverse(model.UpperWindowTextStyle&zmachine.ReverseVideo != 0)
	m.statusBarStyle = m.lowerWindowStyle.Reverse(true)
	m.backgroundStyle = m.backgroundStyle.
		Background(lipgloss.Color(model.DefaultLowerWindowBackground.ToHex())).
		Foreground(lipgloss.Color(model.DefaultLowerWindowForeground.ToHex()))
}

func prerenderLowerWindowText(m *runStoryModel) {
	if m.lowerWindowText != "" {
		lines := strings.Split(m.lowerWindowText, "\n")
		for ix, line := range lines {
			lines[ix] = m.lowerWindowStyle.Render(line)
		}
		m.lowerWindowTextPreStyled += strings.Join(lines, "\n")
		m.lowerWindowText = ""
	}
}

// saveFilename derives the save file path: the suggested name if the story
// gave one, otherwise the ROM path with a .sav extension.
func (m runStoryModel) saveFilename(suggested string) string {
	if suggested != "" {
		return suggested
	}
	if m.romFilePath == "" {
		return "story.sav"
	}

	base := m.romFilePath
	ext := filepath.Ext(base)
	if len(ext) >= 2 && (ext[1] == 'z' || ext[1] == 'Z') {
		base = base[:len(base)-len(ext)]
	}
	return base + ".sav"
}

func (m runStoryModel) writeSaveFile(req zmachine.Save) bool {
	err := os.WriteFile(m.saveFilename(req.SuggestedName), req.Data, 0644)
	if err != nil {
		glog.Warningf("save failed: %v", err)
	}
	return err == nil
}

// appendAuxFile appends transcript or command script output next to the ROM.
func (m runStoryModel) appendAuxFile(suffix string, text string) {
	name := strings.TrimSuffix(m.romFilePath, filepath.Ext(m.romFilePath)) + suffix
	f, err := os.OpenFile(name, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		glog.Warningf("can't append to %s: %v", name, err)
		return
	}
	defer f.Close() // nolint:errcheck
	f.WriteString(text) // nolint:errcheck
}

func createStatusLine(width int, placeName string, scoreOrHours int, movesOrMinutes int, isTimeBasedGame bool) string {
	rightHandSide := fmt.Sprintf("Score: %d    Moves %d", scoreOrHours, movesOrMinutes)
	if isTimeBasedGame {
		rightHandSide = fmt.Sprintf("Time: %d:%02d", scoreOrHours, movesOrMinutes)
	}

	// Too narrow to show both sides; keep as much of the numbers as fits
	if len(rightHandSide) >= width {
		return rightHandSide[:width]
	}

	if len(placeName)+len(rightHandSide)+1 >= width {
		return fmt.Sprintf("%s %s", placeName[:width-len(rightHandSide)-1], rightHandSide)
	}

	return placeName + strings.Repeat(" ", width-len(placeName)-len(rightHandSide)) + rightHandSide
}

func (m runStoryModel) View() string {
	if m.runtimeError != "" {
		errorStyle := lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF0000")).
			Bold(true)
		return fmt.Sprintf("\n%s\n\n%s\n", errorStyle.Render("Z-Machine Error:"), m.runtimeError)
	}

	// Wait for the first WindowSizeMsg before drawing anything
	if m.width == 0 || m.height == 0 {
		return "Initializing..."
	}

	s := strings.Builder{}
	lowerWindowHeight := m.height

	if m.statusBar.PlaceName != "" {
		s.WriteString(m.statusBarStyle.Render(createStatusLine(m.width, m.statusBar.PlaceName, m.statusBar.Score, m.statusBar.Moves, m.statusBar.IsTimeBased)))
		s.WriteString(m.lowerWindowStyle.Render("\n"))
		lowerWindowHeight -= 2
	} else {
		lowerWindowHeight -= m.screenModel.UpperWindowHeight
		s.WriteString(m.renderUpperWindow())
	}

	prerenderLowerWindowText(&m)
	wordWrappedBody := wordwrap.String(m.lowerWindowTextPreStyled, m.width)

	lines := strings.Split(wordWrappedBody, "\n")
	if len(lines) > lowerWindowHeight-2 {
		lines = lines[len(lines)-lowerWindowHeight+2:]
	}
	s.WriteString(strings.Join(lines, "\n"))

	if m.appState == appWaitingForInput {
		s.WriteString(m.lowerWindowStyle.Render("\n" + m.inputBox.View()))
	}

	return m.backgroundStyle.
		Width(m.width).
		Height(m.height).
		Render(s.String())
}

// renderUpperWindow flattens the styled character grid, batching runs of
// identical style to keep the ANSI overhead down.
func (m runStoryModel) renderUpperWindow() string {
	var text strings.Builder
	var currentText strings.Builder
	var currentStyle lipgloss.Style

	for row, styleRow := range m.upperWindowStyle {
		rowRunes := []rune(m.upperWindowText[row])
		for col, chrStyle := range styleRow {
			if col >= len(rowRunes) {
				break
			}
			if chrStyle.GetBackground() != currentStyle.GetBackground() ||
				chrStyle.GetForeground() != currentStyle.GetForeground() ||
				chrStyle.GetBold() != currentStyle.GetBold() ||
				chrStyle.GetItalic() != currentStyle.GetItalic() ||
				chrStyle.GetReverse() != currentStyle.GetReverse() {
				if currentText.Len() > 0 {
					text.WriteString(currentStyle.Render(currentText.String()))
					currentText.Reset()
				}
				currentStyle = chrStyle
			}
			currentText.WriteRune(rowRunes[col])
		}
		currentText.WriteByte('\n')
	}
	if currentText.Len() > 0 {
		text.WriteString(currentStyle.Render(currentText.String()))
	}

	return text.String()
}

func waitForInterpreter(sub <-chan any) tea.Cmd {
	return func() tea.Msg {
		msg := <-sub
		switch msg := msg.(type) {
		case zmachine.InputRequest:
			return inputRequestMessage(msg)
		case zmachine.Save:
			return saveRequestMessage(msg)
		case zmachine.Restore:
			return restoreRequestMessage(msg)
		case zmachine.StateChangeRequest:
			return msg
		case zmachine.EraseWindowRequest:
			return eraseWindowRequest(msg)
		case zmachine.EraseLineRequest:
			return eraseLineRequest(msg)
		case zmachine.StatusBar:
			return statusBarMessage(msg)
		case zmachine.ScreenModel:
			return screenModelMessage(msg)
		case string:
			return textUpdateMessage(msg)
		case zmachine.TranscriptText:
			return transcriptMessage(msg)
		case zmachine.CommandScriptText:
			return commandScriptMessage(msg)
		case zmachine.InputStreamRequest:
			return msg
		case zmachine.Quit:
			return tea.Quit()
		case zmachine.Restart:
			return restartMessage(true)
		case zmachine.RuntimeError:
			return runtimeErrorMessage(msg)
		case zmachine.Warning:
			return warningMessage(msg)
		case zmachine.SoundEffectRequest:
			return soundEffectMessage(msg)
		default:
			return runtimeErrorMessage(zmachine.RuntimeError("invalid message type sent from interpreter"))
		}
	}
}

func newApplicationModel(zMachine *zmachine.ZMachine, inputChannel chan<- zmachine.InputResponse, saveRestoreChannel chan<- zmachine.SaveRestoreResponse, outputChannel <-chan any, romBytes []byte, romPath string) tea.Model {
	ti := textinput.New()
	ti.Focus()
	ti.CharLimit = 156
	ti.Width = 20
	ti.Prompt = ""

	return runStoryModel{
		outputChannel:           outputChannel,
		sendChannel:             inputChannel,
		saveRestoreChannel:      saveRestoreChannel,
		zMachine:                zMachine,
		romFilePath:             romPath,
		appState:                appRunning,
		validTerminators:        []uint8{13},
		inputBox:                ti,
		upperWindowStyleCurrent: lipgloss.NewStyle(),
		lowerWindowStyle:        lipgloss.NewStyle(),
		statusBarStyle:          lipgloss.NewStyle(),
		backgroundStyle:         lipgloss.NewStyle(),
	}
}

func main() {
	flag.StringVar(&romFilePath, "rom", "", "path of a z-machine story file; omit to browse the IF-Archive")
	flag.Parse()

	var model tea.Model

	if romFilePath != "" {
		romFileBytes, err := os.ReadFile(romFilePath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "can't read story file: %v\n", err)
			os.Exit(1)
		}

		outputChannel := make(chan any)
		inputChannel := make(chan zmachine.InputResponse)
		saveRestoreChannel := make(chan zmachine.SaveRestoreResponse)
		zMachine, err := zmachine.LoadRom(romFileBytes, inputChannel, saveRestoreChannel, outputChannel)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			os.Exit(1)
		}

		model = newApplicationModel(zMachine, inputChannel, saveRestoreChannel, outputChannel, romFileBytes, romFilePath)
	} else {
		cacheDir, err := os.UserCacheDir()
		if err != nil {
			cacheDir = "."
		}
		model = storypicker.New(newApplicationModel, filepath.Join(cacheDir, "zrun"))
	}

	tui := tea.NewProgram(model)
	if _, err := tui.Run(); err != nil {
		fmt.Println("Error running program:", err)
		os.Exit(1)
	}
}
