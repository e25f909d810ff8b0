package zobject

import (
	"fmt"

	"zrun/zcore"
)

type Property struct {
	Id                   uint8
	Length               uint8
	PropertyHeaderLength uint8
	Address              uint32
	DataAddress          uint32 // 0 when the property is absent and defaults apply
}

// GetPropertyLength works back from the address of a property's first data
// byte to its length, using the flags on the size byte(s) before it.
func GetPropertyLength(core *zcore.Core, dataAddress uint32) uint16 {
	if dataAddress == 0 {
		return 0 // required by some story files which call get_prop_len on a missing property
	}

	sizeByte := core.ReadByte(dataAddress - 1)
	if core.Version <= 3 {
		return uint16(sizeByte>>5) + 1
	} else if sizeByte&0b1000_0000 != 0 {
		length := uint16(sizeByte & 0b11_1111)
		if length == 0 {
			length = 64 // 12.4.2.1.1: a stored length of 0 means 64
		}
		return length
	} else {
		return uint16((sizeByte>>6)&1) + 1
	}
}

// parseProperty decodes the property block starting at propertyAddr.
func parseProperty(core *zcore.Core, propertyAddr uint32) Property {
	sizeByte := core.ReadByte(propertyAddr)
	headerLength := uint8(1)
	var id, length uint8

	if core.Version <= 3 {
		id = sizeByte & 0b1_1111
		length = (sizeByte >> 5) + 1
	} else if sizeByte&0b1000_0000 != 0 {
		id = sizeByte & 0b11_1111
		headerLength = 2
		length = core.ReadByte(propertyAddr+1) & 0b11_1111
		if length == 0 {
			length = 64
		}
	} else {
		id = sizeByte & 0b11_1111
		length = ((sizeByte >> 6) & 1) + 1
	}

	return Property{
		Id:                   id,
		Length:               length,
		PropertyHeaderLength: headerLength,
		Address:              propertyAddr,
		DataAddress:          propertyAddr + uint32(headerLength),
	}
}

// firstPropertyAddress skips the object short name to the first property block.
func (o *Object) firstPropertyAddress(core *zcore.Core) uint32 {
	nameLength := core.ReadByte(uint32(o.PropertyPointer))
	return uint32(o.PropertyPointer) + 1 + uint32(nameLength)*2
}

// GetProperty finds a property on the object. A missing property comes back
// with DataAddress 0 and the value taken from the defaults table at the start
// of the object table (spec 12.2).
func (o *Object) GetProperty(propertyId uint8, core *zcore.Core) Property {
	currentPtr := o.firstPropertyAddress(core)

	for core.ReadByte(currentPtr) != 0 {
		property := parseProperty(core, currentPtr)

		if property.Id == propertyId {
			return property
		}

		currentPtr = property.DataAddress + uint32(property.Length)
	}

	return Property{Id: propertyId}
}

// DefaultPropertyValue reads the defaults table entry for a property.
func DefaultPropertyValue(propertyId uint8, core *zcore.Core) uint16 {
	return core.ReadHalfWord(uint32(core.ObjectTableBase) + 2*uint32(propertyId-1))
}

// Value reads the property as a 16-bit value: the single byte for length 1,
// the big-endian word for length 2, the default when absent. Longer
// properties cannot be read this way (spec 12.4).
func (p *Property) Value(core *zcore.Core) uint16 {
	if p.DataAddress == 0 {
		return DefaultPropertyValue(p.Id, core)
	}

	switch p.Length {
	case 1:
		return uint16(core.ReadByte(p.DataAddress))
	case 2:
		return core.ReadHalfWord(p.DataAddress)
	default:
		panic(fmt.Sprintf("can't read property %d of object with length %d as a value", p.Id, p.Length))
	}
}

// PutProperty writes a property value in place: the low byte for length 1
// properties, the full word for length 2. Writing a property the object
// doesn't have is a silent no-op.
func (o *Object) PutProperty(propertyId uint8, value uint16, core *zcore.Core) {
	property := o.GetProperty(propertyId, core)
	if property.DataAddress == 0 {
		return
	}

	switch property.Length {
	case 1:
		core.WriteByte(property.DataAddress, uint8(value))
	default:
		core.WriteHalfWord(property.DataAddress, value)
	}
}

// GetNextProperty returns the number of the property following propertyId in
// the object's (descending-numbered) list, or of the first property when
// propertyId is 0; 0 means no more properties.
func (o *Object) GetNextProperty(propertyId uint8, core *zcore.Core) uint8 {
	if propertyId == 0 {
		currentPtr := o.firstPropertyAddress(core)
		if core.ReadByte(currentPtr) == 0 {
			return 0
		}
		return parseProperty(core, currentPtr).Id
	}

	property := o.GetProperty(propertyId, core)
	if property.DataAddress == 0 {
		panic(fmt.Sprintf("get_next_prop on property %d which object %d doesn't have", propertyId, o.Id))
	}

	nextPtr := property.DataAddress + uint32(property.Length)
	if core.ReadByte(nextPtr) == 0 {
		return 0
	}
	return parseProperty(core, nextPtr).Id
}
