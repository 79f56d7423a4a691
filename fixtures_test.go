// Copyright 2024 Bjørn Erik Pedersen
// SPDX-License-Identifier: MIT

package autorotate

import (
	"bytes"
	"encoding/binary"
	"image"
	"image/color"
	"image/jpeg"
	"testing"

	qt "github.com/frankban/quicktest"
)

// newTestImage returns an image with gradients running in different directions,
// so any wrong flip or rotation changes most pixels.
func newTestImage(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{
				R: uint8(x * 255 / max(1, w-1)),
				G: uint8(y * 255 / max(1, h-1)),
				B: uint8((w - 1 - x + y) * 255 / max(1, w+h-2)),
				A: 255,
			})
		}
	}
	return img
}

func newTestGray(w, h int) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetGray(x, y, color.Gray{Y: uint8((2*x + y) * 255 / max(1, 2*(w-1)+h-1))})
		}
	}
	return img
}

func encodeTestJPEG(tb testing.TB, img image.Image) []byte {
	tb.Helper()
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
		tb.Fatal(err)
	}
	return buf.Bytes()
}

// newTestTree returns a tree with tags in all directories and a thumbnail.
func newTestTree(tb testing.TB, orientation, w, h int) *Tree {
	tb.Helper()
	t := &Tree{ByteOrder: binary.LittleEndian, Dirs: make(map[IFD]Directory)}
	t.Set(IFD0, 0x010f, ASCII("Test Camera"))
	t.Set(IFD0, TagOrientation, Shorts(int64(orientation)))
	t.Set(IFD0, 0x011a, Value{Type: TypeRational, Rats: []Rat{{Num: 72, Den: 1}}})
	t.Set(IFD0, 0x0131, Value{Type: TypeASCII, Str: "Bj\xf8rn's editor\x00"})
	t.Set(IFDExif, 0x9003, ASCII("2024:05:06 07:08:09"))
	t.Set(IFDExif, 0x9204, Value{Type: TypeSRational, Rats: []Rat{{Num: -1, Den: 3}}})
	t.Set(IFDExif, 0x927c, Value{Type: TypeUndefined, Bytes: []byte("MakerNote\x00\x01\x02\x03\x04")})
	t.Set(IFDExif, TagPixelXDimension, Longs(int64(w)))
	t.Set(IFDExif, TagPixelYDimension, Shorts(int64(h)))
	t.Set(IFDGPS, 0x0000, Value{Type: TypeByte, Ints: []int64{2, 3, 0, 0}})
	t.Set(IFDGPS, 0x0002, Value{Type: TypeRational, Rats: []Rat{{Num: 52, Den: 1}, {Num: 0, Den: 1}, {Num: 50, Den: 1}}})
	t.Set(IFDInterop, 0x0001, ASCII("R98"))
	t.Set(IFD1, 0x0103, Shorts(6))
	t.Thumbnail = encodeTestJPEG(tb, newTestImage(16, 8))
	return t
}

// withTree returns a copy of the JPEG file data with t as its EXIF block.
func withTree(tb testing.TB, data []byte, t *Tree) []byte {
	tb.Helper()
	payload, err := t.Segment()
	if err != nil {
		tb.Fatal(err)
	}
	b, err := replaceExif(data, payload)
	if err != nil {
		tb.Fatal(err)
	}
	return b
}

// newTestJPEG returns a w x h color JPEG with the given orientation.
func newTestJPEG(tb testing.TB, w, h, orientation int) []byte {
	tb.Helper()
	return withTree(tb, encodeTestJPEG(tb, newTestImage(w, h)), newTestTree(tb, orientation, w, h))
}

// insertAfterSOI returns a copy of data with a segment inserted right after SOI.
func insertAfterSOI(data []byte, marker byte, payload []byte) []byte {
	b := append([]byte(nil), data[:2]...)
	b = appendSegment(b, marker, payload)
	return append(b, data[2:]...)
}

// srcPoint returns the source pixel that o moves to (x, y) in the destination.
func srcPoint(o op, x, y, w, h int) (int, int) {
	switch o {
	case opFlipH:
		return w - 1 - x, y
	case opFlipV:
		return x, h - 1 - y
	case opTranspose:
		return y, x
	case opTransverse:
		return w - 1 - y, h - 1 - x
	case opRotate90:
		return y, h - 1 - x
	case opRotate180:
		return w - 1 - x, h - 1 - y
	case opRotate270:
		return w - 1 - y, x
	}
	return x, y
}

// assertTransformed checks that the image in dst is the image in src transformed by o,
// allowing each color channel to differ by tolerance.
func assertTransformed(c *qt.C, src, dst []byte, o op, tolerance int) {
	c.Helper()
	si, err := jpeg.Decode(bytes.NewReader(src))
	c.Assert(err, qt.IsNil)
	di, err := jpeg.Decode(bytes.NewReader(dst))
	c.Assert(err, qt.IsNil)

	w, h := si.Bounds().Dx(), si.Bounds().Dy()
	dw, dh := w, h
	if o.transposes() {
		dw, dh = h, w
	}
	c.Assert(di.Bounds().Dx(), qt.Equals, dw)
	c.Assert(di.Bounds().Dy(), qt.Equals, dh)

	var maxDiff int
	for y := 0; y < dh; y++ {
		for x := 0; x < dw; x++ {
			sx, sy := srcPoint(o, x, y, w, h)
			r1, g1, b1, _ := si.At(sx, sy).RGBA()
			r2, g2, b2, _ := di.At(x, y).RGBA()
			maxDiff = max(maxDiff, channelDiff(r1, r2), channelDiff(g1, g2), channelDiff(b1, b2))
		}
	}
	c.Assert(maxDiff <= tolerance, qt.IsTrue, qt.Commentf("%s: max channel difference %d", o, maxDiff))
}

func channelDiff(a, b uint32) int {
	d := int(a>>8) - int(b>>8)
	if d < 0 {
		return -d
	}
	return d
}

// allSpecs returns the transform for each orientation 2..8.
func allSpecs() map[Orientation]TransformSpec {
	m := make(map[Orientation]TransformSpec)
	for o := OrientationFlipH; o <= OrientationRotate270; o++ {
		m[o] = orientationTransforms[o]
	}
	return m
}
