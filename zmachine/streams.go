package zmachine

import "github.com/golang/glog"

// The four output streams of spec 7.1: screen, printer transcript, a
// redirection table in memory, and the command script of player inputs.
// Stream 3 is a stack: selecting it again nests up to 16 levels deep and
// while any level is active no other stream receives output.

const maxMemoryStreamDepth = 16

type MemoryStreamData struct {
	baseAddress uint32
	ptr         uint32
}

type Streams struct {
	Screen           bool
	Transcript       bool
	Memory           bool
	MemoryStreamData []MemoryStreamData
	CommandScript    bool
}

func newStreams() Streams {
	return Streams{Screen: true}
}

// selectStream handles the output_stream opcode: positive selects, negative
// deselects. Stream 3 needs the table address operand.
func (z *ZMachine) selectStream(stream int16, tableAddress uint16) {
	switch stream {
	case 1, -1:
		z.streams.Screen = stream > 0

	case 2, -2:
		z.streams.Transcript = stream > 0
		// Selecting stream 2 is equivalent to setting the transcript bit, and
		// the story may use either mechanism (7.1.1.2)
		flags2 := z.Core.ReadByte(0x11)
		if stream > 0 {
			z.Core.WriteByte(0x11, flags2|0b0000_0001)
		} else {
			z.Core.WriteByte(0x11, flags2&^uint8(0b0000_0001))
		}

	case 3:
		if len(z.streams.MemoryStreamData) >= maxMemoryStreamDepth {
			panic("output stream 3 nested more than 16 deep")
		}
		z.streams.Memory = true
		z.streams.MemoryStreamData = append(z.streams.MemoryStreamData, MemoryStreamData{
			baseAddress: uint32(tableAddress),
			ptr:         uint32(tableAddress) + 2, // past the size word, filled in on deselect
		})

	case -3:
		if !z.streams.Memory {
			glog.V(1).Info("deselect of output stream 3 with no stream active")
			return
		}

		// Store the number of bytes written into the table's size word then
		// pop back to any enclosing stream 3
		currentActiveStream := z.streams.MemoryStreamData[len(z.streams.MemoryStreamData)-1]
		z.Core.WriteHalfWord(currentActiveStream.baseAddress, uint16(currentActiveStream.ptr-currentActiveStream.baseAddress-2))

		z.streams.MemoryStreamData = z.streams.MemoryStreamData[:len(z.streams.MemoryStreamData)-1]
		if len(z.streams.MemoryStreamData) == 0 {
			z.streams.Memory = false
		}

	case 4, -4:
		z.streams.CommandScript = stream > 0

	default:
		glog.Warningf("output_stream with unknown stream %d", stream)
	}
}

// appendText sends story output to every selected stream. While stream 3 is
// selected no text goes anywhere else (7.1.2.2).
func (z *ZMachine) appendText(s string) {
	if z.streams.Memory {
		currentMemoryStream := &z.streams.MemoryStreamData[len(z.streams.MemoryStreamData)-1]
		for _, r := range s {
			zscii := uint8(13)
			if r != '\n' {
				zscii = uint8(r)
			}
			z.Core.WriteByte(currentMemoryStream.ptr, zscii)
			currentMemoryStream.ptr++
		}
		return
	}

	if z.streams.Screen {
		z.outputChannel <- s

		// Writes to the upper window move its cursor; the display layer needs
		// the updated screen model to place them
		if !z.screenModel.LowerWindowActive {
			z.screenModel.AdvanceUpperCursor(s)
			z.outputChannel <- z.screenModel
		}
	}

	if z.streams.Transcript || z.Core.TranscriptActive() {
		z.outputChannel <- TranscriptText(s)
	}
}

// recordInput echoes a player command to the transcript and command script
// streams (7.1.1.1, 7.5).
func (z *ZMachine) recordInput(line string) {
	if z.streams.Transcript || z.Core.TranscriptActive() {
		z.outputChannel <- TranscriptText(line + "\n")
	}
	if z.streams.CommandScript {
		z.outputChannel <- CommandScriptText(line)
	}
}
