// Copyright 2024 Bjørn Erik Pedersen
// SPDX-License-Identifier: MIT

package autorotate

import (
	"encoding/binary"
	"maps"
)

// The order directories are laid out in when encoding.
var encodeOrder = []IFD{IFD0, IFDExif, IFDGPS, IFDInterop, IFD1}

// Encode serializes t to a TIFF block in t.ByteOrder.
// Directory pointers and the thumbnail offset and length are recomputed;
// all other values are written with their original type and count.
func (t *Tree) Encode() ([]byte, error) {
	order := t.ByteOrder
	if order == nil {
		order = binary.BigEndian
	}

	// Work on copies so the pointer fixups below do not leak into t.
	dirs := make(map[IFD]Directory, len(t.Dirs))
	for ifd, d := range t.Dirs {
		dirs[ifd] = maps.Clone(d)
	}
	if _, found := dirs[IFD0]; !found {
		dirs[IFD0] = make(Directory)
	}

	// Sub-IFDs are only reachable through their parent.
	for _, sub := range subIFDs {
		if _, found := dirs[sub.parent]; !found {
			delete(dirs, sub.child)
		}
	}
	for _, sub := range subIFDs {
		if _, found := dirs[sub.child]; found {
			dirs[sub.parent][sub.tag] = Longs(0)
		} else if parent, found := dirs[sub.parent]; found {
			delete(parent, sub.tag)
		}
	}

	thumbnail := t.Thumbnail
	if d, found := dirs[IFD1]; found {
		if thumbnail != nil {
			d[TagJPEGInterchangeFormat] = Longs(0)
			d[TagJPEGInterchangeFormatLength] = Longs(int64(len(thumbnail)))
		} else {
			delete(d, TagJPEGInterchangeFormat)
			delete(d, TagJPEGInterchangeFormatLength)
		}
	} else {
		thumbnail = nil
	}

	// Compute the layout.
	offsets := make(map[IFD]uint32)
	size := uint32(tiffHeaderSize)
	for _, ifd := range encodeOrder {
		d, found := dirs[ifd]
		if !found {
			continue
		}
		offsets[ifd] = size
		size += dirSize(d)
	}
	thumbnailOffset := size
	size += uint32(len(thumbnail))

	// Now that the offsets are known, fill in the pointers.
	for _, sub := range subIFDs {
		if off, found := offsets[sub.child]; found {
			dirs[sub.parent][sub.tag] = Longs(int64(off))
		}
	}
	if thumbnail != nil {
		dirs[IFD1][TagJPEGInterchangeFormat] = Longs(int64(thumbnailOffset))
	}

	b := make([]byte, size)
	if order == binary.LittleEndian {
		binary.BigEndian.PutUint16(b, byteOrderLittleEndian)
	} else {
		binary.BigEndian.PutUint16(b, byteOrderBigEndian)
	}
	order.PutUint16(b[2:], meaningOfLife)
	order.PutUint32(b[4:], offsets[IFD0])

	for _, ifd := range encodeOrder {
		d, found := dirs[ifd]
		if !found {
			continue
		}
		var next uint32
		if ifd == IFD0 {
			// IFD1 is linked from IFD0; the sub-IFDs are reached through pointer tags.
			next = offsets[IFD1]
		}
		if err := encodeDir(b, offsets[ifd], d, next, order); err != nil {
			return nil, err
		}
	}
	copy(b[thumbnailOffset:], thumbnail)

	return b, nil
}

// Segment returns the APP1 payload for t, including the Exif header.
func (t *Tree) Segment() ([]byte, error) {
	b, err := t.Encode()
	if err != nil {
		return nil, err
	}
	payload := append(append(make([]byte, 0, len(exifHeader)+len(b)), exifHeader...), b...)
	if len(payload) > maxSegmentPayload {
		return nil, newUnsupportedErrorf("EXIF block of %d bytes does not fit in an APP1 segment", len(payload))
	}
	return payload, nil
}

func valueLen(v Value) uint32 {
	return uint32(v.Count() * v.Type.Size())
}

// dirSize returns the size of the directory including its out-of-line values.
func dirSize(d Directory) uint32 {
	size := 2 + 12*uint32(len(d)) + 4
	for _, v := range d {
		if n := valueLen(v); n > 4 {
			// Values start on a word boundary.
			size += n + n&1
		}
	}
	return size
}

func encodeDir(b []byte, offset uint32, d Directory, next uint32, order binary.ByteOrder) error {
	tags := d.Tags()
	order.PutUint16(b[offset:], uint16(len(tags)))
	entry := offset + 2
	data := entry + 12*uint32(len(tags)) + 4
	for _, tag := range tags {
		v := d[tag]
		if v.Type.Size() == 0 {
			return newUnsupportedErrorf("tag 0x%04x has unknown type %d", tag, v.Type)
		}
		vb := encodeValue(v, order)
		order.PutUint16(b[entry:], tag)
		order.PutUint16(b[entry+2:], uint16(v.Type))
		order.PutUint32(b[entry+4:], uint32(v.Count()))
		if len(vb) <= 4 {
			copy(b[entry+8:entry+12], vb)
		} else {
			order.PutUint32(b[entry+8:], data)
			copy(b[data:], vb)
			data += uint32(len(vb)) + uint32(len(vb)&1)
		}
		entry += 12
	}
	order.PutUint32(b[entry:], next)
	return nil
}
