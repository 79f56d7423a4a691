// Copyright 2024 Bjørn Erik Pedersen
// SPDX-License-Identifier: MIT

package autorotate

import (
	"bytes"
	"encoding/binary"
	"errors"
)

// JPEG markers, without the 0xff prefix.
const (
	markerSOF0  = 0xc0
	markerSOF1  = 0xc1
	markerSOF2  = 0xc2
	markerDHT   = 0xc4
	markerJPG   = 0xc8
	markerSOF15 = 0xcf
	markerDAC   = 0xcc
	markerRST0  = 0xd0
	markerRST7  = 0xd7
	markerSOI   = 0xd8
	markerEOI   = 0xd9
	markerSOS   = 0xda
	markerDQT   = 0xdb
	markerDNL   = 0xdc
	markerDRI   = 0xdd
	markerAPP0  = 0xe0
	markerAPP1  = 0xe1
	markerAPP14 = 0xee
	markerAPP15 = 0xef
	markerCOM   = 0xfe
	markerTEM   = 0x01
)

// The payload of a segment is limited by its 16-bit length field, which includes itself.
const maxSegmentPayload = 0xffff - 2

var exifHeader = []byte("Exif\x00\x00")

var errStopWalking = errors.New("stop walking")

func isSOF(m byte) bool {
	return m >= markerSOF0 && m <= markerSOF15 && m != markerDHT && m != markerDAC && m != markerJPG
}

func isRST(m byte) bool {
	return m >= markerRST0 && m <= markerRST7
}

// walkHeader calls fn for every marker segment up to and including the first SOS.
// start is the offset of the 0xff prefix; end is the offset just past the payload.
// Returning errStopWalking from fn stops the walk without error.
func walkHeader(data []byte, fn func(marker byte, start, end int, payload []byte) error) error {
	if len(data) < 2 || data[0] != 0xff || data[1] != markerSOI {
		return newInvalidFormatErrorf("not a JPEG file")
	}
	pos := 2
	for {
		marker, start, next, err := readMarker(data, pos)
		if err != nil {
			return err
		}
		if marker == markerEOI {
			return newInvalidFormatErrorf("no image data before EOI")
		}
		payload, end, err := readPayload(data, next)
		if err != nil {
			return err
		}
		if err := fn(marker, start, end, payload); err != nil {
			if err == errStopWalking {
				return nil
			}
			return err
		}
		if marker == markerSOS {
			return nil
		}
		pos = end
	}
}

// readMarker finds the marker at pos, skipping fill bytes.
func readMarker(data []byte, pos int) (marker byte, start, next int, err error) {
	if pos >= len(data) || data[pos] != 0xff {
		return 0, 0, 0, newInvalidFormatErrorf("expected marker at offset %d", pos)
	}
	for pos+1 < len(data) && data[pos+1] == 0xff {
		pos++
	}
	if pos+1 >= len(data) {
		return 0, 0, 0, newInvalidFormatErrorf("truncated marker at offset %d", pos)
	}
	marker = data[pos+1]
	if marker == 0 || marker == markerTEM || isRST(marker) || marker == markerSOI {
		return 0, 0, 0, newInvalidFormatErrorf("unexpected marker 0x%x at offset %d", marker, pos)
	}
	return marker, pos, pos + 2, nil
}

func readPayload(data []byte, pos int) (payload []byte, end int, err error) {
	if pos+2 > len(data) {
		return nil, 0, newInvalidFormatErrorf("truncated segment length at offset %d", pos)
	}
	// Read the 16-bit length of the segment. The value includes the 2 bytes for the
	// length itself, so we subtract 2 to get the number of remaining bytes.
	length := int(binary.BigEndian.Uint16(data[pos:]))
	if length < 2 {
		return nil, 0, newInvalidFormatErrorf("invalid segment length %d at offset %d", length, pos)
	}
	end = pos + length
	if end > len(data) {
		return nil, 0, newInvalidFormatErrorf("segment at offset %d exceeds file size", pos)
	}
	return data[pos+2 : end], end, nil
}

// findExif returns the position of the first EXIF APP1 segment.
func findExif(data []byte) (start, end int, payload []byte, err error) {
	start = -1
	err = walkHeader(data, func(marker byte, s, e int, p []byte) error {
		if marker == markerAPP1 && bytes.HasPrefix(p, exifHeader) {
			start, end, payload = s, e, p
			return errStopWalking
		}
		return nil
	})
	if err == nil && start == -1 {
		err = newInvalidFormatErrorf("no EXIF data found")
	}
	return
}

// segment is a marker segment. For SOS, ecs holds the entropy coded data that follows the header.
type segment struct {
	marker byte
	data   []byte
	ecs    []byte
}

// container is a JPEG file split into segments.
type container struct {
	segments []segment
	// trailer holds any bytes after EOI, e.g. MPF images.
	trailer []byte
}

func parseContainer(data []byte) (*container, error) {
	if len(data) < 2 || data[0] != 0xff || data[1] != markerSOI {
		return nil, newInvalidFormatErrorf("not a JPEG file")
	}
	c := &container{}
	pos := 2
	for {
		marker, _, next, err := readMarker(data, pos)
		if err != nil {
			return nil, err
		}
		if marker == markerEOI {
			c.trailer = data[next:]
			return c, nil
		}
		payload, end, err := readPayload(data, next)
		if err != nil {
			return nil, err
		}
		s := segment{marker: marker, data: payload}
		if marker == markerSOS {
			ecsEnd, terminated := findECSEnd(data, end)
			s.ecs = data[end:ecsEnd]
			if !terminated {
				// Entropy coded data running to the end of the file is common
				// in truncated camera files. Treat it as an implicit EOI.
				c.segments = append(c.segments, s)
				return c, nil
			}
			end = ecsEnd
		}
		c.segments = append(c.segments, s)
		pos = end
	}
}

// findECSEnd returns the offset of the first marker that is not a restart marker.
// If the data ends first, it returns the offset of any trailing fill bytes and false.
func findECSEnd(data []byte, pos int) (int, bool) {
	for i := pos; i < len(data)-1; i++ {
		if data[i] != 0xff {
			continue
		}
		next := data[i+1]
		if next == 0x00 || isRST(next) {
			i++
			continue
		}
		if next == 0xff {
			// Fill byte.
			continue
		}
		return i, true
	}
	end := len(data)
	for end > pos && data[end-1] == 0xff {
		end--
	}
	return end, false
}

// first returns the first segment with the given marker.
func (c *container) first(match func(marker byte) bool) *segment {
	for i := range c.segments {
		if match(c.segments[i].marker) {
			return &c.segments[i]
		}
	}
	return nil
}

func (c *container) bytes() []byte {
	size := 4 + len(c.trailer)
	for _, s := range c.segments {
		size += 4 + len(s.data) + len(s.ecs)
	}
	b := make([]byte, 0, size)
	b = append(b, 0xff, markerSOI)
	for _, s := range c.segments {
		b = appendSegment(b, s.marker, s.data)
		b = append(b, s.ecs...)
	}
	b = append(b, 0xff, markerEOI)
	return append(b, c.trailer...)
}

func appendSegment(b []byte, marker byte, payload []byte) []byte {
	b = append(b, 0xff, marker)
	b = binary.BigEndian.AppendUint16(b, uint16(len(payload)+2))
	return append(b, payload...)
}

// replaceExif returns a copy of data with the first EXIF APP1 payload replaced.
// If data has no EXIF segment, one is inserted after SOI and any APP0 segment.
func replaceExif(data, payload []byte) ([]byte, error) {
	if len(payload) > maxSegmentPayload {
		return nil, newUnsupportedErrorf("EXIF block of %d bytes does not fit in an APP1 segment", len(payload))
	}
	start, end, _, err := findExif(data)
	if err != nil {
		// Insert.
		start = -1
		err = walkHeader(data, func(marker byte, s, e int, _ []byte) error {
			if marker != markerAPP0 {
				start = s
				return errStopWalking
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
		if start == -1 {
			start = 2
		}
		end = start
	}

	b := make([]byte, 0, len(data)-(end-start)+len(payload)+4)
	b = append(b, data[:start]...)
	b = appendSegment(b, markerAPP1, payload)
	return append(b, data[end:]...), nil
}
