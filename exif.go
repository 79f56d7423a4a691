// Copyright 2024 Bjørn Erik Pedersen
// SPDX-License-Identifier: MIT

package autorotate

import (
	"encoding/binary"
	"fmt"
	"sort"
)

// IFD identifies a directory in the EXIF tree.
type IFD int

const (
	// IFD0 is the primary image directory.
	IFD0 IFD = iota
	// IFDExif is the Exif sub-IFD.
	IFDExif
	// IFDGPS is the GPS sub-IFD.
	IFDGPS
	// IFDInterop is the Interoperability sub-IFD of IFDExif.
	IFDInterop
	// IFD1 is the thumbnail directory.
	IFD1
)

func (i IFD) String() string {
	switch i {
	case IFD0:
		return "IFD0"
	case IFDExif:
		return "Exif"
	case IFDGPS:
		return "GPS"
	case IFDInterop:
		return "Interop"
	case IFD1:
		return "IFD1"
	default:
		return fmt.Sprintf("IFD(%d)", int(i))
	}
}

// Tag IDs the package reads or writes.
const (
	TagOrientation                 = 0x0112
	TagExifIFDPointer              = 0x8769
	TagGPSIFDPointer               = 0x8825
	TagInteropIFDPointer           = 0xa005
	TagJPEGInterchangeFormat       = 0x0201
	TagJPEGInterchangeFormatLength = 0x0202
	TagPixelXDimension             = 0xa002
	TagPixelYDimension             = 0xa003
)

const (
	byteOrderBigEndian    = 0x4d4d
	byteOrderLittleEndian = 0x4949
	meaningOfLife         = 42
	tiffHeaderSize        = 8
)

// subIFDs lists the pointer tags and the directories they point to.
var subIFDs = []struct {
	parent IFD
	tag    uint16
	child  IFD
}{
	{IFD0, TagExifIFDPointer, IFDExif},
	{IFD0, TagGPSIFDPointer, IFDGPS},
	{IFDExif, TagInteropIFDPointer, IFDInterop},
}

// Directory maps tag ID to value.
type Directory map[uint16]Value

// Tags returns the tag IDs in ascending order, which is the order they are stored in.
func (d Directory) Tags() []uint16 {
	tags := make([]uint16, 0, len(d))
	for tag := range d {
		tags = append(tags, tag)
	}
	sort.Slice(tags, func(i, j int) bool { return tags[i] < tags[j] })
	return tags
}

// Tree is a decoded EXIF block.
type Tree struct {
	ByteOrder binary.ByteOrder
	Dirs      map[IFD]Directory
	// Thumbnail holds the bytes referenced by the IFD1 JPEGInterchangeFormat tags, if any.
	Thumbnail []byte
}

// Get returns the value of tag in dir.
func (t *Tree) Get(dir IFD, tag uint16) (Value, bool) {
	v, found := t.Dirs[dir][tag]
	return v, found
}

// Set sets the value of tag in dir, creating the directory if needed.
func (t *Tree) Set(dir IFD, tag uint16, v Value) {
	d, found := t.Dirs[dir]
	if !found {
		d = make(Directory)
		t.Dirs[dir] = d
	}
	d[tag] = v
}

// Delete removes tag from dir.
func (t *Tree) Delete(dir IFD, tag uint16) {
	delete(t.Dirs[dir], tag)
}

// Orientation returns the raw value of the IFD0 orientation tag.
// It returns false if the tag is absent.
// A value that is not an integer is reported as 0, which is not a valid orientation.
func (t *Tree) Orientation() (int, bool) {
	v, found := t.Get(IFD0, TagOrientation)
	if !found {
		return 0, false
	}
	i, ok := v.Int()
	if !ok {
		return 0, true
	}
	return int(i), true
}

// ParseExif decodes the first EXIF APP1 segment in the JPEG data.
// The data is not modified and the returned Tree shares no memory with it.
func ParseExif(data []byte) (*Tree, error) {
	_, _, payload, err := findExif(data)
	if err != nil {
		return nil, err
	}
	return decodeTIFF(payload[len(exifHeader):])
}

const (
	defaultLimitNumTags   = 5000
	defaultLimitValueSize = maxBufSize
)

type exifDecoder struct {
	*streamReader
	tree *Tree

	numTags   int
	valueSize int
	visited   map[uint32]bool
}

func decodeTIFF(b []byte) (tree *Tree, err error) {
	d := &exifDecoder{
		streamReader: newStreamReader(b, binary.BigEndian),
		tree:         &Tree{Dirs: make(map[IFD]Directory)},
		visited:      make(map[uint32]bool),
	}
	defer func() {
		err = d.recoverStop(recover(), err)
		if err != nil {
			tree = nil
		}
	}()

	if err := d.decode(); err != nil {
		return nil, err
	}
	return d.tree, nil
}

func (e *exifDecoder) decode() error {
	byteOrderTag := e.read2()

	switch byteOrderTag {
	case byteOrderBigEndian:
		e.byteOrder = binary.BigEndian
	case byteOrderLittleEndian:
		e.byteOrder = binary.LittleEndian
	default:
		return newInvalidFormatErrorf("invalid TIFF byte order 0x%x", byteOrderTag)
	}
	e.tree.ByteOrder = e.byteOrder

	if id := e.read2(); id != meaningOfLife {
		return newInvalidFormatErrorf("invalid TIFF header")
	}

	// Main image.
	ifd0Offset := e.read4()
	if ifd0Offset < tiffHeaderSize {
		return newInvalidFormatErrorf("invalid IFD0 offset %d", ifd0Offset)
	}

	ifd1Offset, err := e.decodeIFD(IFD0, ifd0Offset)
	if err != nil {
		return err
	}

	if ifd1Offset == 0 {
		// No thumbnail.
		return nil
	}

	if _, err := e.decodeIFD(IFD1, ifd1Offset); err != nil {
		return err
	}

	return e.decodeThumbnail()
}

// decodeIFD reads the directory at offset and any sub-IFDs it points to.
// It returns the offset of the next IFD in the chain.
func (e *exifDecoder) decodeIFD(ifd IFD, offset uint32) (uint32, error) {
	if e.visited[offset] {
		return 0, newInvalidFormatErrorf("IFD loop at offset %d", offset)
	}
	e.visited[offset] = true

	dir := make(Directory)
	e.tree.Dirs[ifd] = dir

	e.seek(int64(offset))
	numTags := int(e.read2())
	e.numTags += numTags
	if e.numTags > defaultLimitNumTags {
		return 0, newInvalidFormatErrorf("too many tags")
	}

	for i := 0; i < numTags; i++ {
		tag, v, err := e.decodeTag()
		if err != nil {
			return 0, fmt.Errorf("%s: %w", ifd, err)
		}
		dir[tag] = v
	}

	next := e.read4()

	for _, sub := range subIFDs {
		if sub.parent != ifd {
			continue
		}
		v, found := dir[sub.tag]
		if !found {
			continue
		}
		subOffset, ok := v.Int()
		if !ok || subOffset < tiffHeaderSize {
			return 0, newInvalidFormatErrorf("invalid %s pointer", sub.child)
		}
		if _, err := e.decodeIFD(sub.child, uint32(subOffset)); err != nil {
			return 0, err
		}
	}

	return next, nil
}

// A tag is represented in 12 bytes:
//   - 2 bytes for the tag ID
//   - 2 bytes for the data type
//   - 4 bytes for the number of data values of the specified type
//   - 4 bytes for the value itself, if it fits, otherwise for a pointer to another location where the data may be found.
func (e *exifDecoder) decodeTag() (uint16, Value, error) {
	tagID := e.read2()
	typ := DataType(e.read2())
	count := e.read4()

	size := typ.Size()
	if size == 0 {
		return 0, Value{}, newInvalidFormatErrorf("unknown EXIF type %d for tag 0x%04x", typ, tagID)
	}

	valLen := uint64(size) * uint64(count)
	if valLen > defaultLimitValueSize || e.valueSize+int(valLen) > defaultLimitValueSize {
		return 0, Value{}, newInvalidFormatErrorf("tag 0x%04x value of %d bytes exceeds limit", tagID, valLen)
	}
	e.valueSize += int(valLen)

	var b []byte
	if valLen <= 4 {
		b = append([]byte(nil), e.readBytesVolatile(4)...)
	} else {
		valueOffset := e.read4()
		b = e.readBytesAt(int64(valueOffset), int(valLen))
	}

	return tagID, decodeValue(typ, int(count), b, e.byteOrder), nil
}

func (e *exifDecoder) decodeThumbnail() error {
	dir := e.tree.Dirs[IFD1]
	offsetv, hasOffset := dir[TagJPEGInterchangeFormat]
	lengthv, hasLength := dir[TagJPEGInterchangeFormatLength]
	if !hasOffset || !hasLength {
		return nil
	}
	offset, ok1 := offsetv.Int()
	length, ok2 := lengthv.Int()
	if !ok1 || !ok2 {
		return newInvalidFormatErrorf("invalid thumbnail pointer")
	}
	e.tree.Thumbnail = e.readBytesAt(offset, int(length))
	return nil
}
