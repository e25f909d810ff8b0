package zobject_test

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zrun/zcore"
	"zrun/zobject"
	"zrun/zstring"
)

const objectTableBase = 0x0100

// buildV3Story lays out a three-object v3 table:
//
//	object 1 "cat" with props 11 (len 2, 0x88e5) and 6 (len 1, 0x85)
//	object 2 with prop 17 (len 1, 0x42) and no name
//	object 3 empty
//
// Property 9's default is 0x0005.
func buildV3Story(t *testing.T) *zcore.Core {
	t.Helper()

	bytes := make([]uint8, 0x400)
	bytes[0x00] = 3
	binary.BigEndian.PutUint16(bytes[0x0a:0x0c], objectTableBase)
	binary.BigEndian.PutUint16(bytes[0x0e:0x10], 0x0400)

	binary.BigEndian.PutUint16(bytes[objectTableBase+(9-1)*2:], 0x0005) // prop 9 default

	entry := func(n int) int { return objectTableBase + 31*2 + (n-1)*9 }

	// Object 1: attributes 2, 3 and 19 set
	copy(bytes[entry(1):], []uint8{0b0011_0000, 0x00, 0b0001_0000, 0x00, 0, 0, 0, 0x02, 0x00})
	// Object 2 and 3: no attributes, no links
	copy(bytes[entry(2):], []uint8{0, 0, 0, 0, 0, 0, 0, 0x02, 0x30})
	copy(bytes[entry(3):], []uint8{0, 0, 0, 0, 0, 0, 0, 0x02, 0x60})

	// Object 1 property table: name "cat", then props descending
	copy(bytes[0x0200:], []uint8{
		0x01, 0xA0, 0xD9, // name, one word
		0x2B, 0x88, 0xE5, // prop 11, len 2
		0x06, 0x85, // prop 6, len 1
		0x00,
	})
	copy(bytes[0x0230:], []uint8{
		0x00,       // empty name
		0x11, 0x42, // prop 17, len 1
		0x00,
	})
	copy(bytes[0x0260:], []uint8{0x00, 0x00})

	core, err := zcore.LoadCore(bytes)
	require.NoError(t, err)
	return &core
}

func TestObjectRetrievalV3(t *testing.T) {
	core := buildV3Story(t)
	alphabets := zstring.LoadAlphabets(core)

	obj := zobject.GetObject(1, core, alphabets)
	assert.Equal(t, "cat", obj.Name)
	assert.Equal(t, uint16(0), obj.Parent)
	assert.Equal(t, uint16(0x0200), obj.PropertyPointer)
}

func TestZerothObjectRetrievalPanics(t *testing.T) {
	core := buildV3Story(t)
	alphabets := zstring.LoadAlphabets(core)

	assert.Panics(t, func() { zobject.GetObject(0, core, alphabets) })
}

func TestPropertyRetrievalV3(t *testing.T) {
	core := buildV3Story(t)
	alphabets := zstring.LoadAlphabets(core)
	obj := zobject.GetObject(1, core, alphabets)

	prop11 := obj.GetProperty(11, core)
	assert.Equal(t, uint8(2), prop11.Length)
	assert.Equal(t, uint16(0x88E5), prop11.Value(core))
	assert.Equal(t, uint16(2), zobject.GetPropertyLength(core, prop11.DataAddress))

	prop6 := obj.GetProperty(6, core)
	assert.Equal(t, uint8(1), prop6.Length)
	assert.Equal(t, uint16(0x85), prop6.Value(core))
	assert.Equal(t, uint16(1), zobject.GetPropertyLength(core, prop6.DataAddress))

	// Absent property falls back to the defaults table
	prop9 := obj.GetProperty(9, core)
	assert.Equal(t, uint32(0), prop9.DataAddress)
	assert.Equal(t, uint16(0x0005), prop9.Value(core))

	// get_prop_len of address 0 is 0 by special case
	assert.Equal(t, uint16(0), zobject.GetPropertyLength(core, 0))
}

func TestPutPropertyV3(t *testing.T) {
	core := buildV3Story(t)
	alphabets := zstring.LoadAlphabets(core)
	obj := zobject.GetObject(2, core, alphabets)

	// A word written to a one-byte property keeps only the low byte
	obj.PutProperty(17, 0xBEEF, core)
	assert.Equal(t, uint16(0x00EF), obj.GetProperty(17, core).Value(core))

	// Writing a property the object doesn't have is a silent no-op
	before := core.Dump(0, core.MemoryLength())
	obj.PutProperty(9, 0x1234, core)
	assert.Equal(t, before, core.Dump(0, core.MemoryLength()))
}

func TestGetNextPropertyV3(t *testing.T) {
	core := buildV3Story(t)
	alphabets := zstring.LoadAlphabets(core)
	obj := zobject.GetObject(1, core, alphabets)

	assert.Equal(t, uint8(11), obj.GetNextProperty(0, core))
	assert.Equal(t, uint8(6), obj.GetNextProperty(11, core))
	assert.Equal(t, uint8(0), obj.GetNextProperty(6, core))

	empty := zobject.GetObject(3, core, alphabets)
	assert.Equal(t, uint8(0), empty.GetNextProperty(0, core))

	assert.Panics(t, func() { obj.GetNextProperty(9, core) }, "get_next_prop of an absent property is an error")
}

func TestAttributesV3(t *testing.T) {
	core := buildV3Story(t)
	alphabets := zstring.LoadAlphabets(core)
	obj := zobject.GetObject(1, core, alphabets)

	for _, attr := range []uint16{2, 3, 19} {
		assert.True(t, obj.TestAttribute(attr, core), "attribute %d should be set", attr)
	}
	for _, attr := range []uint16{1, 4, 10} {
		assert.False(t, obj.TestAttribute(attr, core), "attribute %d should be clear", attr)
	}

	// Set and clear are idempotent
	obj.SetAttribute(10, core)
	obj.SetAttribute(10, core)
	assert.True(t, obj.TestAttribute(10, core))

	obj.ClearAttribute(10, core)
	obj.ClearAttribute(10, core)
	assert.False(t, obj.TestAttribute(10, core))

	// Setting one attribute doesn't disturb its neighbours
	assert.True(t, obj.TestAttribute(2, core))
	assert.True(t, obj.TestAttribute(19, core))

	assert.Panics(t, func() { obj.TestAttribute(32, core) }, "only 32 attributes exist on v3")
}

func buildV4Story(t *testing.T) *zcore.Core {
	t.Helper()

	bytes := make([]uint8, 0x400)
	bytes[0x00] = 4
	binary.BigEndian.PutUint16(bytes[0x0a:0x0c], objectTableBase)
	binary.BigEndian.PutUint16(bytes[0x0e:0x10], 0x0400)

	entry := objectTableBase + 63*2 // first object, 14 byte entries

	// Attribute 40 set (byte 5, top bit); parent 0x0102, sibling 0x0203,
	// child 0x0304
	copy(bytes[entry:], []uint8{
		0, 0, 0, 0, 0, 0b1000_0000,
		0x01, 0x02,
		0x02, 0x03,
		0x03, 0x04,
		0x02, 0x00,
	})

	copy(bytes[0x0200:], []uint8{
		0x00,             // empty name
		0x9E, 0x83,       // prop 30, two size bytes, len 3
		0xAA, 0xBB, 0xCC, // prop 30 data
		0x42, 0x12, 0x34, // prop 2, len 2 from bit 6
		0x00,
	})

	core, err := zcore.LoadCore(bytes)
	require.NoError(t, err)
	return &core
}

func TestObjectLayoutV4(t *testing.T) {
	core := buildV4Story(t)
	alphabets := zstring.LoadAlphabets(core)
	obj := zobject.GetObject(1, core, alphabets)

	assert.Equal(t, uint16(0x0102), obj.Parent)
	assert.Equal(t, uint16(0x0203), obj.Sibling)
	assert.Equal(t, uint16(0x0304), obj.Child)

	assert.True(t, obj.TestAttribute(40, core))
	assert.False(t, obj.TestAttribute(41, core))
	assert.Panics(t, func() { obj.TestAttribute(48, core) })

	prop30 := obj.GetProperty(30, core)
	assert.Equal(t, uint8(3), prop30.Length)
	assert.Equal(t, uint8(2), prop30.PropertyHeaderLength)
	assert.Equal(t, uint16(3), zobject.GetPropertyLength(core, prop30.DataAddress))
	assert.Panics(t, func() { prop30.Value(core) }, "get_prop can't read properties longer than a word")

	prop2 := obj.GetProperty(2, core)
	assert.Equal(t, uint8(2), prop2.Length)
	assert.Equal(t, uint16(0x1234), prop2.Value(core))
}

func TestPropertyLengthZeroMeans64(t *testing.T) {
	core := buildV4Story(t)

	// A v4+ size byte pair with a stored length of 0 means 64 (12.4.2.1.1)
	core.WriteByte(0x0300, 0x80|20)
	core.WriteByte(0x0301, 0x80)
	assert.Equal(t, uint16(64), zobject.GetPropertyLength(core, 0x0302))
}

func TestLinkWritersV3(t *testing.T) {
	core := buildV3Story(t)
	alphabets := zstring.LoadAlphabets(core)
	obj := zobject.GetObject(2, core, alphabets)

	obj.SetParent(3, core)
	obj.SetSibling(1, core)
	obj.SetChild(1, core)

	reread := zobject.GetObject(2, core, alphabets)
	assert.Equal(t, uint16(3), reread.Parent)
	assert.Equal(t, uint16(1), reread.Sibling)
	assert.Equal(t, uint16(1), reread.Child)
}
