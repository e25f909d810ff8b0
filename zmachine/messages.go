package zmachine

// The engine talks to its display layer over a channel of these message
// types; the display replies on the input and save/restore channels. The
// engine blocks only inside read/read_char and save/restore exchanges.

// StatusBar carries the v1-3 status line contents: the current location name
// and either score/turns or hours/minutes depending on the game type.
type StatusBar struct {
	PlaceName   string
	Score       int
	Moves       int
	IsTimeBased bool
}

// Quit tells the display the machine has halted for good.
type Quit bool

// Restart tells the display the machine reset itself; screen contents should
// be cleared but the process keeps running.
type Restart bool

// RuntimeError is a fatal machine fault. The display shows it and terminates.
type RuntimeError string

// Warning is a non-fatal oddity worth surfacing without stopping the story.
type Warning string

type EraseWindowRequest int

type EraseLineRequest bool

type StateChangeRequest int

const (
	Running          StateChangeRequest = iota
	WaitForInput     StateChangeRequest = iota
	WaitForCharacter StateChangeRequest = iota
)

type InputKind int

const (
	LineInput InputKind = iota
	CharInput InputKind = iota
)

// InputRequest asks the display for a line or single character. A non-zero
// TimeTenths means the engine may also stop waiting on its own when a timed
// interrupt routine aborts the read.
type InputRequest struct {
	Kind             InputKind
	MaxChars         int
	TimeTenths       uint16
	ValidTerminators []uint8
}

// InputResponse carries typed text back to the engine. TerminatingKey is the
// ZSCII code of the key that ended the input (13 for return).
type InputResponse struct {
	Text           string
	TerminatingKey uint8
}

// TranscriptText is output for the printer transcript (stream 2).
type TranscriptText string

// CommandScriptText is a line of player input for the command script
// (stream 4).
type CommandScriptText string

// InputStreamRequest selects where input comes from: 0 keyboard, 1 command
// file.
type InputStreamRequest int

type SoundEffectRequest struct {
	SoundNumber uint16
	Effect      uint16
	Volume      uint16
	Routine     uint16
}

// Save asks the display layer to write Data somewhere durable. Address and
// NumBytes are zero for a full game save; non-zero for an auxiliary table
// save.
type Save struct {
	Data          []byte
	Address       uint32
	NumBytes      uint32
	SuggestedName string
}

// Restore asks the display layer to read a previously saved file.
type Restore struct {
	Address       uint32
	NumBytes      uint32
	SuggestedName string
}

type SaveRestoreResponse interface {
	isSaveRestoreResponse()
}

type SaveResponse struct {
	Success bool
}

func (SaveResponse) isSaveRestoreResponse() {}

type RestoreResponse struct {
	Success bool
	Data    []byte
}

func (RestoreResponse) isSaveRestoreResponse() {}
