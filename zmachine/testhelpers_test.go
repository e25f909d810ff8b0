package zmachine

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

// Synthetic story image layout used across the machine tests. Everything
// below staticBase is dynamic memory.
const (
	testAbbrevBase  = 0x0040
	testGlobalsBase = 0x0100
	testObjectBase  = 0x0300
	testDictBase    = 0x0600
	testTextBuffer  = 0x0700
	testParseBuffer = 0x0780
	testStreamTable = 0x07c0
	testStaticBase  = 0x0800
	testCodeBase    = 0x0800
	testFileSize    = 0x1000
)

type storyBuilder struct {
	version uint8
	bytes   []uint8
	codePtr uint32
}

func newStoryBuilder(version uint8) *storyBuilder {
	b := &storyBuilder{
		version: version,
		bytes:   make([]uint8, testFileSize),
		codePtr: testCodeBase,
	}

	b.bytes[0x00] = version
	b.putWord(0x04, testStaticBase) // high memory base
	b.putWord(0x06, testCodeBase)   // initial PC
	b.putWord(0x08, testDictBase)
	b.putWord(0x0a, testObjectBase)
	b.putWord(0x0c, testGlobalsBase)
	b.putWord(0x0e, testStaticBase)
	b.putWord(0x18, testAbbrevBase)

	// An empty dictionary: no separators, 7 byte entries, no entries
	b.bytes[testDictBase] = 0
	b.bytes[testDictBase+1] = 7
	b.putWord(testDictBase+2, 0)

	return b
}

func (b *storyBuilder) putWord(addr uint32, v uint16) {
	binary.BigEndian.PutUint16(b.bytes[addr:addr+2], v)
}

// code appends instruction bytes at the initial PC.
func (b *storyBuilder) code(instructions ...uint8) *storyBuilder {
	copy(b.bytes[b.codePtr:], instructions)
	b.codePtr += uint32(len(instructions))
	return b
}

// routine places a routine at addr and returns its packed address.
func (b *storyBuilder) routine(addr uint32, numLocals uint8, defaults []uint16, body ...uint8) uint16 {
	ptr := addr
	b.bytes[ptr] = numLocals
	ptr++

	if b.version < 5 {
		for i := uint8(0); i < numLocals; i++ {
			var value uint16
			if int(i) < len(defaults) {
				value = defaults[i]
			}
			b.putWord(ptr, value)
			ptr += 2
		}
	}

	copy(b.bytes[ptr:], body)

	divisor := uint32(2)
	if b.version >= 4 {
		divisor = 4
	}
	return uint16(addr / divisor)
}

func (b *storyBuilder) setGlobal(n int, v uint16) *storyBuilder {
	b.putWord(testGlobalsBase+uint32(n)*2, v)
	return b
}

// lookDictionary installs a one-word dictionary containing "look" with a
// comma separator.
func (b *storyBuilder) lookDictionary() *storyBuilder {
	wordLength := 4
	encoded := []uint8{0x46, 0x94, 0xC0, 0xA5} // "look" in v1-3 form
	if b.version >= 4 {
		wordLength = 6
		encoded = []uint8{0x46, 0x94, 0x40, 0xA5, 0x94, 0xA5}
	}

	b.bytes[testDictBase] = 1
	b.bytes[testDictBase+1] = ','
	b.bytes[testDictBase+2] = uint8(wordLength + 3)
	b.putWord(testDictBase+3, 1)
	copy(b.bytes[testDictBase+5:], encoded)

	return b
}

// objectTree installs a v3 object table: object 3 holds children 7 -> 8 -> 9
// and object 5 carries prop 17 (len 1) and prop 5 (len 2).
func (b *storyBuilder) objectTree() *storyBuilder {
	if b.version >= 4 {
		panic("test object table is v1-3 only")
	}

	entry := func(n uint32) uint32 { return testObjectBase + 31*2 + (n-1)*9 }

	propTable := uint32(0x0400)
	for n := uint32(1); n <= 9; n++ {
		b.putWord(entry(n)+7, uint16(propTable))
		b.bytes[propTable] = 0 // no short name
		b.bytes[propTable+1] = 0
		if n == 5 {
			copy(b.bytes[propTable:], []uint8{
				0x00,
				0x11, 0x42, // prop 17, len 1
				0x25, 0xBE, 0xAD, // prop 5, len 2
				0x00,
			})
		}
		propTable += 0x10
	}

	b.bytes[entry(3)+6] = 7 // child
	b.bytes[entry(7)+4] = 3 // parent
	b.bytes[entry(7)+5] = 8 // sibling
	b.bytes[entry(8)+4] = 3
	b.bytes[entry(8)+5] = 9
	b.bytes[entry(9)+4] = 3

	return b
}

type testChannels struct {
	out chan any
	in  chan InputResponse
	sr  chan SaveRestoreResponse
}

// drainText collects every plain text message sent so far.
func (c *testChannels) drainText() string {
	text := ""
	for {
		select {
		case msg := <-c.out:
			if s, ok := msg.(string); ok {
				text += s
			}
		default:
			return text
		}
	}
}

// build finalises the image (length and checksum) and loads a machine from
// it with roomy buffered channels.
func (b *storyBuilder) build(t *testing.T) (*ZMachine, *testChannels) {
	t.Helper()

	divisor := uint32(2)
	switch {
	case b.version >= 6:
		divisor = 8
	case b.version >= 4:
		divisor = 4
	}
	b.putWord(0x1a, uint16(testFileSize/divisor))

	checksum := uint16(0)
	for _, v := range b.bytes[0x40:] {
		checksum += uint16(v)
	}
	b.putWord(0x1c, checksum)

	channels := &testChannels{
		out: make(chan any, 1000),
		in:  make(chan InputResponse, 10),
		sr:  make(chan SaveRestoreResponse, 10),
	}

	z, err := LoadRom(b.bytes, channels.in, channels.sr, channels.out)
	require.NoError(t, err)
	return z, channels
}

// step runs exactly n instructions.
func step(t *testing.T, z *ZMachine, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		require.True(t, z.StepMachine(), "machine stopped at step %d", i)
	}
}

// runToQuit steps the machine until quit, bounded to catch runaways.
func runToQuit(t *testing.T, z *ZMachine) {
	t.Helper()
	for i := 0; i < 10000; i++ {
		if !z.StepMachine() {
			return
		}
	}
	t.Fatal("machine never quit")
}

func global(z *ZMachine, n int) uint16 {
	return z.Core.ReadHalfWord(testGlobalsBase + uint32(n)*2)
}
