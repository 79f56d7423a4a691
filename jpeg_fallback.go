// Copyright 2024 Bjørn Erik Pedersen
// SPDX-License-Identifier: MIT

package autorotate

import (
	"bytes"
	"fmt"
	"image"

	"github.com/disintegration/imaging"
)

// reencode decodes the image in c, applies o to the pixels and encodes it again at the given quality.
// The APPn and COM segments of c are copied to the new file.
func reencode(c *container, o op, quality int) (transformed, error) {
	img, err := imaging.Decode(bytes.NewReader(c.bytes()), imaging.AutoOrientation(false))
	if err != nil {
		return transformed{}, fmt.Errorf("decode: %w", err)
	}

	img = transformImage(img, o)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
		return transformed{}, fmt.Errorf("encode: %w", err)
	}

	enc, err := parseContainer(buf.Bytes())
	if err != nil {
		return transformed{}, err
	}

	out := &container{trailer: c.trailer}
	for _, s := range c.segments {
		if isMetadataSegment(s) {
			out.segments = append(out.segments, s)
		}
	}
	for _, s := range enc.segments {
		if !isMetadataSegment(s) {
			out.segments = append(out.segments, s)
		}
	}

	b := img.Bounds()
	return transformed{data: out.bytes(), width: b.Dx(), height: b.Dy()}, nil
}

// isMetadataSegment reports whether s is carried over when the image data is re-encoded.
// The Adobe APP14 segment describes the color transform of the old image data, so it is dropped.
func isMetadataSegment(s segment) bool {
	if s.marker == markerCOM {
		return true
	}
	if s.marker == markerAPP14 && bytes.HasPrefix(s.data, []byte("Adobe")) {
		return false
	}
	return s.marker >= markerAPP0 && s.marker <= markerAPP15
}

// transformImage applies o to img. Note that imaging rotates counter-clockwise.
func transformImage(img image.Image, o op) image.Image {
	switch o {
	case opFlipH:
		return imaging.FlipH(img)
	case opFlipV:
		return imaging.FlipV(img)
	case opTranspose:
		return imaging.Transpose(img)
	case opTransverse:
		return imaging.Transverse(img)
	case opRotate90:
		return imaging.Rotate270(img)
	case opRotate180:
		return imaging.Rotate180(img)
	case opRotate270:
		return imaging.Rotate90(img)
	}
	return img
}
