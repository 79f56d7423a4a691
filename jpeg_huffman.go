// Copyright 2024 Bjørn Erik Pedersen
// SPDX-License-Identifier: MIT

package autorotate

import (
	"errors"
)

const (
	huffClassDC = 0
	huffClassAC = 1

	maxHuffTables = 4
)

// errHuffmanSymbol is returned when a table has no code for a symbol that needs encoding.
var errHuffmanSymbol = errors.New("symbol not in Huffman table")

// huffTable is a Huffman table as stored in a DHT segment,
// with the lookup table used for decoding and the code table used for encoding.
type huffTable struct {
	counts [16]byte
	values []byte

	// lookup is indexed by the next 16 bits of the stream.
	// Each entry is code length<<8 | symbol; a length of 0 means no such code.
	lookup []uint16

	codes [256]uint16
	sizes [256]uint8
}

func newHuffTable(counts [16]byte, values []byte) (*huffTable, error) {
	h := &huffTable{
		counts: counts,
		values: values,
		lookup: make([]uint16, 1<<16),
	}

	// Generate the codes as described in Annex C of the JPEG spec.
	var code uint32
	k := 0
	for i := 0; i < 16; i++ {
		size := uint(i + 1)
		for j := 0; j < int(counts[i]); j++ {
			if code >= 1<<size {
				return nil, newInvalidFormatErrorf("invalid Huffman table")
			}
			sym := values[k]
			if h.sizes[sym] == 0 {
				h.codes[sym] = uint16(code)
				h.sizes[sym] = uint8(size)
			}
			entry := uint16(size)<<8 | uint16(sym)
			lo := code << (16 - size)
			hi := (code + 1) << (16 - size)
			for x := lo; x < hi; x++ {
				h.lookup[x] = entry
			}
			code++
			k++
		}
		code <<= 1
	}

	return h, nil
}

// encode writes the code for sym.
func (h *huffTable) encode(w *bitWriter, sym byte) error {
	size := h.sizes[sym]
	if size == 0 {
		return errHuffmanSymbol
	}
	w.emit(uint32(h.codes[sym]), uint(size))
	return nil
}

// appendDHT appends the table definition as it appears in a DHT payload.
func (h *huffTable) appendDHT(b []byte, class, id int) []byte {
	b = append(b, byte(class<<4|id))
	b = append(b, h.counts[:]...)
	return append(b, h.values...)
}

// huffTables holds the tables in effect, indexed by class and destination.
type huffTables [2][maxHuffTables]*huffTable

// parseDHT reads the tables defined in a DHT payload into tables.
func parseDHT(payload []byte, tables *huffTables) error {
	for len(payload) > 0 {
		if len(payload) < 17 {
			return newInvalidFormatErrorf("DHT segment too short")
		}
		class, id := int(payload[0]>>4), int(payload[0]&0x0f)
		if class > huffClassAC || id >= maxHuffTables {
			return newInvalidFormatErrorf("invalid DHT class %d or destination %d", class, id)
		}
		var counts [16]byte
		copy(counts[:], payload[1:17])
		n := 0
		for _, c := range counts {
			n += int(c)
		}
		if n > 256 || len(payload) < 17+n {
			return newInvalidFormatErrorf("invalid DHT length")
		}
		values := append([]byte(nil), payload[17:17+n]...)
		h, err := newHuffTable(counts, values)
		if err != nil {
			return err
		}
		tables[class][id] = h
		payload = payload[17+n:]
	}
	return nil
}

// The standard tables from Annex K.3 of the JPEG spec.
var (
	stdCountsDCLuma = [16]byte{0, 1, 5, 1, 1, 1, 1, 1, 1, 0, 0, 0, 0, 0, 0, 0}
	stdValuesDCLuma = []byte{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11}

	stdCountsACLuma = [16]byte{0, 2, 1, 3, 3, 2, 4, 3, 5, 5, 4, 4, 0, 0, 1, 125}
	stdValuesACLuma = []byte{
		0x01, 0x02, 0x03, 0x00, 0x04, 0x11, 0x05, 0x12,
		0x21, 0x31, 0x41, 0x06, 0x13, 0x51, 0x61, 0x07,
		0x22, 0x71, 0x14, 0x32, 0x81, 0x91, 0xa1, 0x08,
		0x23, 0x42, 0xb1, 0xc1, 0x15, 0x52, 0xd1, 0xf0,
		0x24, 0x33, 0x62, 0x72, 0x82, 0x09, 0x0a, 0x16,
		0x17, 0x18, 0x19, 0x1a, 0x25, 0x26, 0x27, 0x28,
		0x29, 0x2a, 0x34, 0x35, 0x36, 0x37, 0x38, 0x39,
		0x3a, 0x43, 0x44, 0x45, 0x46, 0x47, 0x48, 0x49,
		0x4a, 0x53, 0x54, 0x55, 0x56, 0x57, 0x58, 0x59,
		0x5a, 0x63, 0x64, 0x65, 0x66, 0x67, 0x68, 0x69,
		0x6a, 0x73, 0x74, 0x75, 0x76, 0x77, 0x78, 0x79,
		0x7a, 0x83, 0x84, 0x85, 0x86, 0x87, 0x88, 0x89,
		0x8a, 0x92, 0x93, 0x94, 0x95, 0x96, 0x97, 0x98,
		0x99, 0x9a, 0xa2, 0xa3, 0xa4, 0xa5, 0xa6, 0xa7,
		0xa8, 0xa9, 0xaa, 0xb2, 0xb3, 0xb4, 0xb5, 0xb6,
		0xb7, 0xb8, 0xb9, 0xba, 0xc2, 0xc3, 0xc4, 0xc5,
		0xc6, 0xc7, 0xc8, 0xc9, 0xca, 0xd2, 0xd3, 0xd4,
		0xd5, 0xd6, 0xd7, 0xd8, 0xd9, 0xda, 0xe1, 0xe2,
		0xe3, 0xe4, 0xe5, 0xe6, 0xe7, 0xe8, 0xe9, 0xea,
		0xf1, 0xf2, 0xf3, 0xf4, 0xf5, 0xf6, 0xf7, 0xf8,
		0xf9, 0xfa,
	}

	stdCountsDCChroma = [16]byte{0, 3, 1, 1, 1, 1, 1, 1, 1, 1, 1, 0, 0, 0, 0, 0}
	stdValuesDCChroma = []byte{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11}

	stdCountsACChroma = [16]byte{0, 2, 1, 2, 4, 4, 3, 4, 7, 5, 4, 4, 0, 1, 2, 119}
	stdValuesACChroma = []byte{
		0x00, 0x01, 0x02, 0x03, 0x11, 0x04, 0x05, 0x21,
		0x31, 0x06, 0x12, 0x41, 0x51, 0x07, 0x61, 0x71,
		0x13, 0x22, 0x32, 0x81, 0x08, 0x14, 0x42, 0x91,
		0xa1, 0xb1, 0xc1, 0x09, 0x23, 0x33, 0x52, 0xf0,
		0x15, 0x62, 0x72, 0xd1, 0x0a, 0x16, 0x24, 0x34,
		0xe1, 0x25, 0xf1, 0x17, 0x18, 0x19, 0x1a, 0x26,
		0x27, 0x28, 0x29, 0x2a, 0x35, 0x36, 0x37, 0x38,
		0x39, 0x3a, 0x43, 0x44, 0x45, 0x46, 0x47, 0x48,
		0x49, 0x4a, 0x53, 0x54, 0x55, 0x56, 0x57, 0x58,
		0x59, 0x5a, 0x63, 0x64, 0x65, 0x66, 0x67, 0x68,
		0x69, 0x6a, 0x73, 0x74, 0x75, 0x76, 0x77, 0x78,
		0x79, 0x7a, 0x82, 0x83, 0x84, 0x85, 0x86, 0x87,
		0x88, 0x89, 0x8a, 0x92, 0x93, 0x94, 0x95, 0x96,
		0x97, 0x98, 0x99, 0x9a, 0xa2, 0xa3, 0xa4, 0xa5,
		0xa6, 0xa7, 0xa8, 0xa9, 0xaa, 0xb2, 0xb3, 0xb4,
		0xb5, 0xb6, 0xb7, 0xb8, 0xb9, 0xba, 0xc2, 0xc3,
		0xc4, 0xc5, 0xc6, 0xc7, 0xc8, 0xc9, 0xca, 0xd2,
		0xd3, 0xd4, 0xd5, 0xd6, 0xd7, 0xd8, 0xd9, 0xda,
		0xe2, 0xe3, 0xe4, 0xe5, 0xe6, 0xe7, 0xe8, 0xe9,
		0xea, 0xf2, 0xf3, 0xf4, 0xf5, 0xf6, 0xf7, 0xf8,
		0xf9, 0xfa,
	}
)

// standardHuffTables returns the Annex K tables: destination 0 for luma, 1 for chroma.
func standardHuffTables() (*huffTables, error) {
	specs := []struct {
		class, id int
		counts    [16]byte
		values    []byte
	}{
		{huffClassDC, 0, stdCountsDCLuma, stdValuesDCLuma},
		{huffClassAC, 0, stdCountsACLuma, stdValuesACLuma},
		{huffClassDC, 1, stdCountsDCChroma, stdValuesDCChroma},
		{huffClassAC, 1, stdCountsACChroma, stdValuesACChroma},
	}
	var tables huffTables
	for _, s := range specs {
		h, err := newHuffTable(s.counts, s.values)
		if err != nil {
			return nil, err
		}
		tables[s.class][s.id] = h
	}
	return &tables, nil
}

// appendStandardDHT appends a DHT payload holding all four tables in t, as returned by standardHuffTables.
func appendStandardDHT(b []byte, t *huffTables) []byte {
	for id := 0; id < 2; id++ {
		for class := huffClassDC; class <= huffClassAC; class++ {
			b = t[class][id].appendDHT(b, class, id)
		}
	}
	return b
}
