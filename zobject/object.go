// Package zobject reads and writes the object database embedded in a story
// file: the parent/sibling/child tree, attribute flags and property lists
// (spec chapter 12).
package zobject

import (
	"fmt"

	"zrun/zcore"
	"zrun/zstring"
)

type Object struct {
	BaseAddress     uint32
	Id              uint16
	Name            string
	Parent          uint16 // uint8 on v1-3
	Sibling         uint16 // uint8 on v1-3
	Child           uint16 // uint8 on v1-3
	PropertyPointer uint16
}

// MaxAttributes is 32 on v1-3 and 48 on v4+ (spec 12.3).
func MaxAttributes(version uint8) uint16 {
	if version >= 4 {
		return 48
	}
	return 32
}

// entryAddress locates an object entry: the object table starts with the
// property defaults (31 or 63 words), then 9 or 14 byte entries, 1-based.
func entryAddress(objId uint16, core *zcore.Core) uint32 {
	if core.Version >= 4 {
		return uint32(core.ObjectTableBase) + 63*2 + uint32(objId-1)*14
	}
	return uint32(core.ObjectTableBase) + 31*2 + uint32(objId-1)*9
}

func GetObject(objId uint16, core *zcore.Core, alphabets *zstring.Alphabets) Object {
	if objId == 0 {
		panic("attempt to access object 0, it doesn't exist")
	}

	objectBase := entryAddress(objId, core)

	var parent, sibling, child, propertyPtr uint16
	if core.Version >= 4 {
		parent = core.ReadHalfWord(objectBase + 6)
		sibling = core.ReadHalfWord(objectBase + 8)
		child = core.ReadHalfWord(objectBase + 10)
		propertyPtr = core.ReadHalfWord(objectBase + 12)
	} else {
		parent = uint16(core.ReadByte(objectBase + 4))
		sibling = uint16(core.ReadByte(objectBase + 5))
		child = uint16(core.ReadByte(objectBase + 6))
		propertyPtr = core.ReadHalfWord(objectBase + 7)
	}

	// The property list starts with the short name: a word count byte then
	// that many words of Z-string
	name := ""
	if nameLength := core.ReadByte(uint32(propertyPtr)); nameLength > 0 {
		name, _ = zstring.Decode(core, uint32(propertyPtr)+1, alphabets)
	}

	return Object{
		BaseAddress:     objectBase,
		Id:              objId,
		Name:            name,
		Parent:          parent,
		Sibling:         sibling,
		Child:           child,
		PropertyPointer: propertyPtr,
	}
}

// Attribute bits are numbered from the most significant bit of the first
// attribute byte: bit a lives in byte a/8, bit 7-(a%8).
func (o *Object) TestAttribute(attribute uint16, core *zcore.Core) bool {
	if attribute >= MaxAttributes(core.Version) {
		panic(fmt.Sprintf("attribute %d out of range for object %d", attribute, o.Id))
	}

	b := core.ReadByte(o.BaseAddress + uint32(attribute/8))
	return b&(1<<(7-attribute%8)) != 0
}

func (o *Object) SetAttribute(attribute uint16, core *zcore.Core) {
	if attribute >= MaxAttributes(core.Version) {
		panic(fmt.Sprintf("attribute %d out of range for object %d", attribute, o.Id))
	}

	address := o.BaseAddress + uint32(attribute/8)
	core.WriteByte(address, core.ReadByte(address)|1<<(7-attribute%8))
}

func (o *Object) ClearAttribute(attribute uint16, core *zcore.Core) {
	if attribute >= MaxAttributes(core.Version) {
		panic(fmt.Sprintf("attribute %d out of range for object %d", attribute, o.Id))
	}

	address := o.BaseAddress + uint32(attribute/8)
	core.WriteByte(address, core.ReadByte(address)&^(1<<(7-attribute%8)))
}

func (o *Object) SetParent(parent uint16, core *zcore.Core) {
	if core.Version >= 4 {
		core.WriteHalfWord(o.BaseAddress+6, parent)
	} else {
		core.WriteByte(o.BaseAddress+4, uint8(parent))
	}
	o.Parent = parent
}

func (o *Object) SetSibling(sibling uint16, core *zcore.Core) {
	if core.Version >= 4 {
		core.WriteHalfWord(o.BaseAddress+8, sibling)
	} else {
		core.WriteByte(o.BaseAddress+5, uint8(sibling))
	}
	o.Sibling = sibling
}

func (o *Object) SetChild(child uint16, core *zcore.Core) {
	if core.Version >= 4 {
		core.WriteHalfWord(o.BaseAddress+10, child)
	} else {
		core.WriteByte(o.BaseAddress+6, uint8(child))
	}
	o.Child = child
}
