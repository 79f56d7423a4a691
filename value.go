// Copyright 2024 Bjørn Erik Pedersen
// SPDX-License-Identifier: MIT

package autorotate

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

// DataType is a TIFF field type.
type DataType uint16

const (
	TypeByte      DataType = 1
	TypeASCII     DataType = 2
	TypeShort     DataType = 3
	TypeLong      DataType = 4
	TypeRational  DataType = 5
	TypeSByte     DataType = 6
	TypeUndefined DataType = 7
	TypeSShort    DataType = 8
	TypeSLong     DataType = 9
	TypeSRational DataType = 10
	TypeFloat     DataType = 11
	TypeDouble    DataType = 12
	// TypeIFD is used by some writers for sub-IFD pointers.
	TypeIFD DataType = 13
)

// Size returns the size in bytes of one value of this type, or 0 if the type is unknown.
func (t DataType) Size() int {
	switch t {
	case TypeByte, TypeASCII, TypeSByte, TypeUndefined:
		return 1
	case TypeShort, TypeSShort:
		return 2
	case TypeLong, TypeSLong, TypeFloat, TypeIFD:
		return 4
	case TypeRational, TypeSRational, TypeDouble:
		return 8
	default:
		return 0
	}
}

// Kind is the variant of a Value.
type Kind int

const (
	KindInt Kind = iota + 1
	KindRational
	KindString
	KindBytes
)

func (k Kind) String() string {
	switch k {
	case KindInt:
		return "int"
	case KindRational:
		return "rational"
	case KindString:
		return "string"
	case KindBytes:
		return "bytes"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

func (t DataType) kind() Kind {
	switch t {
	case TypeByte, TypeShort, TypeLong, TypeSByte, TypeSShort, TypeSLong, TypeIFD:
		return KindInt
	case TypeRational, TypeSRational:
		return KindRational
	case TypeASCII:
		return KindString
	default:
		// UNDEFINED, FLOAT and DOUBLE are kept as raw bytes in the source byte order.
		return KindBytes
	}
}

// Rat is a rational number as stored in EXIF.
// It is not normalized, so it round trips exactly.
type Rat struct {
	Num int64
	Den int64
}

// String returns the string representation of the rational number.
// If the denominator is 1, the string will be the numerator only.
func (r Rat) String() string {
	if r.Den == 1 {
		return strconv.FormatInt(r.Num, 10)
	}
	return fmt.Sprintf("%d/%d", r.Num, r.Den)
}

// Value is a tag value. Which field is set is given by Kind.
type Value struct {
	// Type is the TIFF type the value was stored with.
	Type DataType

	Ints  []int64
	Rats  []Rat
	Str   string // the raw ASCII bytes, including any NUL padding
	Bytes []byte
}

// Kind returns the variant of v.
func (v Value) Kind() Kind {
	return v.Type.kind()
}

// Count returns the number of values as written in the IFD entry.
func (v Value) Count() int {
	switch v.Kind() {
	case KindInt:
		return len(v.Ints)
	case KindRational:
		return len(v.Rats)
	case KindString:
		return len(v.Str)
	default:
		return len(v.Bytes) / v.Type.Size()
	}
}

// Int returns the first value of an integer tag.
func (v Value) Int() (int64, bool) {
	if v.Kind() != KindInt || len(v.Ints) == 0 {
		return 0, false
	}
	return v.Ints[0], true
}

// Shorts returns a SHORT value.
func Shorts(vals ...int64) Value {
	return Value{Type: TypeShort, Ints: vals}
}

// Longs returns a LONG value.
func Longs(vals ...int64) Value {
	return Value{Type: TypeLong, Ints: vals}
}

// ASCII returns a NUL terminated ASCII value.
func ASCII(s string) Value {
	return Value{Type: TypeASCII, Str: s + "\x00"}
}

// String renders v for diagnostics.
func (v Value) String() string {
	switch v.Kind() {
	case KindInt:
		return joinValues(v.Ints, func(i int64) string { return strconv.FormatInt(i, 10) })
	case KindRational:
		return joinValues(v.Rats, Rat.String)
	case KindString:
		return printableString(decodeASCII(v.Str))
	default:
		if len(v.Bytes) > 16 {
			return fmt.Sprintf("(Binary data %d bytes)", len(v.Bytes))
		}
		return joinValues(v.Bytes, func(b byte) string { return strconv.Itoa(int(b)) })
	}
}

func joinValues[T any](vals []T, f func(T) string) string {
	var sb strings.Builder
	for i, v := range vals {
		if i > 0 {
			sb.WriteString(" ")
		}
		sb.WriteString(f(v))
	}
	return sb.String()
}

// EXIF ASCII should be 7-bit, but many writers store Latin-1.
func decodeASCII(s string) string {
	s = strings.TrimRight(s, "\x00")
	if utf8.ValidString(s) {
		return s
	}
	d, err := charmap.ISO8859_1.NewDecoder().String(s)
	if err != nil {
		return s
	}
	return d
}

func printableString(s string) string {
	ss := strings.Map(func(r rune) rune {
		if unicode.IsGraphic(r) {
			return r
		}
		return -1
	}, s)

	return strings.TrimSpace(ss)
}

// decodeValue converts the raw bytes of an IFD entry.
func decodeValue(typ DataType, count int, b []byte, order binary.ByteOrder) Value {
	v := Value{Type: typ}
	switch typ.kind() {
	case KindInt:
		v.Ints = make([]int64, count)
		for i := range v.Ints {
			switch typ {
			case TypeByte:
				v.Ints[i] = int64(b[i])
			case TypeSByte:
				v.Ints[i] = int64(int8(b[i]))
			case TypeShort:
				v.Ints[i] = int64(order.Uint16(b[i*2:]))
			case TypeSShort:
				v.Ints[i] = int64(int16(order.Uint16(b[i*2:])))
			case TypeLong, TypeIFD:
				v.Ints[i] = int64(order.Uint32(b[i*4:]))
			case TypeSLong:
				v.Ints[i] = int64(int32(order.Uint32(b[i*4:])))
			}
		}
	case KindRational:
		v.Rats = make([]Rat, count)
		for i := range v.Rats {
			n, d := order.Uint32(b[i*8:]), order.Uint32(b[i*8+4:])
			if typ == TypeSRational {
				v.Rats[i] = Rat{Num: int64(int32(n)), Den: int64(int32(d))}
			} else {
				v.Rats[i] = Rat{Num: int64(n), Den: int64(d)}
			}
		}
	case KindString:
		v.Str = string(b[:count])
	default:
		v.Bytes = append([]byte(nil), b[:count*typ.Size()]...)
	}
	return v
}

// encodeValue is the inverse of decodeValue.
func encodeValue(v Value, order binary.ByteOrder) []byte {
	size := v.Type.Size()
	b := make([]byte, v.Count()*size)
	switch v.Kind() {
	case KindInt:
		for i, n := range v.Ints {
			switch size {
			case 1:
				b[i] = byte(n)
			case 2:
				order.PutUint16(b[i*2:], uint16(n))
			case 4:
				order.PutUint32(b[i*4:], uint32(n))
			}
		}
	case KindRational:
		for i, r := range v.Rats {
			order.PutUint32(b[i*8:], uint32(r.Num))
			order.PutUint32(b[i*8+4:], uint32(r.Den))
		}
	case KindString:
		copy(b, v.Str)
	default:
		copy(b, v.Bytes)
	}
	return b
}
