package codec

import (
	"encoding/binary"
	"fmt"
)

// Kind is the wire type of a layout field.
type Kind uint8

const (
	Uint8 Kind = iota + 1
	Int8
	Uint16
	Int16
	Uint32
	Int32
	Bytes
)

func (k Kind) String() string {
	switch k {
	case Uint8:
		return "uint8"
	case Int8:
		return "int8"
	case Uint16:
		return "uint16"
	case Int16:
		return "int16"
	case Uint32:
		return "uint32"
	case Int32:
		return "int32"
	case Bytes:
		return "bytes"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Endian selects the byte order of a multi-byte field.
type Endian uint8

const (
	BigEndian Endian = iota
	LittleEndian
)

func (e Endian) order() binary.ByteOrder {
	if e == LittleEndian {
		return binary.LittleEndian
	}
	return binary.BigEndian
}

// Field is one entry of a fixed C-struct-like layout.
type Field struct {
	Name   string
	Kind   Kind
	Endian Endian
	// Len is the width of a Bytes field; ignored for numeric kinds.
	Len int
}

// Size returns the encoded width of the field in bytes.
func (f Field) Size() int {
	switch f.Kind {
	case Uint8, Int8:
		return 1
	case Uint16, Int16:
		return 2
	case Uint32, Int32:
		return 4
	case Bytes:
		return f.Len
	default:
		return 0
	}
}

func (f Field) bounds() (lo, hi int64) {
	switch f.Kind {
	case Uint8:
		return 0, 0xFF
	case Int8:
		return -1 << 7, 1<<7 - 1
	case Uint16:
		return 0, 0xFFFF
	case Int16:
		return -1 << 15, 1<<15 - 1
	case Uint32:
		return 0, 0xFFFFFFFF
	case Int32:
		return -1 << 31, 1<<31 - 1
	}
	return 0, 0
}

// Layout is an ordered list of fields with no padding between them.
type Layout []Field

// Size returns the total encoded width of the layout.
func (l Layout) Size() int {
	n := 0
	for _, f := range l {
		n += f.Size()
	}
	return n
}

// Names returns the field names in wire order.
func (l Layout) Names() []string {
	names := make([]string, len(l))
	for i, f := range l {
		names[i] = f.Name
	}
	return names
}

func U8(name string) Field    { return Field{Name: name, Kind: Uint8} }
func I8(name string) Field    { return Field{Name: name, Kind: Int8} }
func U16BE(name string) Field { return Field{Name: name, Kind: Uint16, Endian: BigEndian} }
func U16LE(name string) Field { return Field{Name: name, Kind: Uint16, Endian: LittleEndian} }
func U32BE(name string) Field { return Field{Name: name, Kind: Uint32, Endian: BigEndian} }
func U32LE(name string) Field { return Field{Name: name, Kind: Uint32, Endian: LittleEndian} }
func I32LE(name string) Field { return Field{Name: name, Kind: Int32, Endian: LittleEndian} }

// Raw declares a fixed-width byte field.
func Raw(name string, n int) Field { return Field{Name: name, Kind: Bytes, Len: n} }
