// Copyright 2024 Bjørn Erik Pedersen
// SPDX-License-Identifier: MIT

package autorotate

import (
	"bytes"
	"errors"
	"fmt"
	"image/jpeg"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	qt "github.com/frankban/quicktest"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/rwcarlsen/goexif/exif"
)

func TestRotate(t *testing.T) {
	c := qt.New(t)

	for orientation, spec := range allSpecs() {
		c.Run(spec.String(), func(c *qt.C) {
			data := newTestJPEG(c, 64, 32, int(orientation))
			res, err := Rotate(data, Options{})
			c.Assert(err, qt.IsNil)
			c.Assert(res.Orientation, qt.Equals, orientation)
			c.Assert(res.Lossless, qt.IsTrue)

			o := spec.op()
			assertTransformed(c, data, res.Data, o, 8)

			w, h := 64, 32
			if spec.SwapsDimensions() {
				w, h = h, w
			}
			c.Assert([]int{res.Width, res.Height}, qt.DeepEquals, []int{w, h})

			tree, err := ParseExif(res.Data)
			c.Assert(err, qt.IsNil)
			got, ok := tree.Orientation()
			c.Assert(ok, qt.IsTrue)
			c.Assert(got, qt.Equals, 1)
			px, _ := tree.Get(IFDExif, TagPixelXDimension)
			py, _ := tree.Get(IFDExif, TagPixelYDimension)
			x, _ := px.Int()
			y, _ := py.Int()
			c.Assert([]int64{x, y}, qt.DeepEquals, []int64{int64(w), int64(h)})
		})
	}
}

func TestRotateLargeImage(t *testing.T) {
	if testing.Short() {
		t.Skip("skip in short mode")
	}
	c := qt.New(t)

	data := newTestJPEG(c, 1000, 1500, 6)
	res, err := Rotate(data, Options{})
	c.Assert(err, qt.IsNil)
	c.Assert(res.Orientation, qt.Equals, OrientationRotate90)
	c.Assert([]int{res.Width, res.Height}, qt.DeepEquals, []int{1500, 1000})
	// 1500 is not a multiple of the MCU height.
	c.Assert(res.Lossless, qt.IsFalse)

	cfg, err := jpeg.DecodeConfig(bytes.NewReader(res.Data))
	c.Assert(err, qt.IsNil)
	c.Assert([]int{cfg.Width, cfg.Height}, qt.DeepEquals, []int{1500, 1000})

	_, err = Rotate(res.Data, Options{})
	c.Assert(err, qt.ErrorIs, CorrectOrientation)
}

func TestRotateTwice(t *testing.T) {
	c := qt.New(t)

	res, err := Rotate(newTestJPEG(c, 64, 32, 8), Options{})
	c.Assert(err, qt.IsNil)
	res, err = Rotate(res.Data, Options{})
	c.Assert(err, qt.ErrorIs, CorrectOrientation)
	c.Assert(res, qt.DeepEquals, Result{})
}

func TestRotateMissingEOI(t *testing.T) {
	c := qt.New(t)

	for _, size := range []struct{ w, h int }{{64, 32}, {50, 30}} {
		data := newTestJPEG(c, size.w, size.h, 6)
		c.Assert(bytes.HasSuffix(data, []byte{0xff, markerEOI}), qt.IsTrue)

		want, err := Rotate(data, Options{})
		c.Assert(err, qt.IsNil)
		got, err := Rotate(data[:len(data)-2], Options{})
		c.Assert(err, qt.IsNil)
		c.Assert(got, qt.DeepEquals, want)
		c.Assert(bytes.HasSuffix(got.Data, []byte{0xff, markerEOI}), qt.IsTrue)
	}
}

func TestRotateErrors(t *testing.T) {
	c := qt.New(t)

	plain := encodeTestJPEG(c, newTestImage(32, 32))
	withOrientation := func(v Value) []byte {
		tree := newTestTree(c, 1, 32, 32)
		tree.Set(IFD0, TagOrientation, v)
		return withTree(c, plain, tree)
	}
	noOrientation := newTestTree(c, 1, 32, 32)
	noOrientation.Delete(IFD0, TagOrientation)

	for _, test := range []struct {
		name string
		data []byte
		opts Options
		kind ErrorKind
	}{
		{"Empty", nil, Options{}, ReadExif},
		{"Not a JPEG", []byte("GIF89a"), Options{}, ReadExif},
		{"No EXIF", plain, Options{}, ReadExif},
		{"Broken EXIF", jpegWithRawExif(c, []byte("II*\x00\x08")), Options{}, ReadExif},
		{"No orientation", withTree(c, plain, noOrientation), Options{}, NoOrientation},
		{"Orientation not an integer", withOrientation(ASCII("6")), Options{}, UnknownOrientation},
		{"Orientation rational", withOrientation(Value{Type: TypeRational, Rats: []Rat{{Num: 6, Den: 1}}}), Options{}, UnknownOrientation},
		{"Orientation 0", withOrientation(Shorts(0)), Options{}, UnknownOrientation},
		{"Orientation 9", withOrientation(Shorts(9)), Options{}, UnknownOrientation},
		{"Orientation 255", withOrientation(Longs(255)), Options{}, UnknownOrientation},
		{"Orientation 1", withOrientation(Shorts(1)), Options{}, CorrectOrientation},
		{"No frame", removeSegments(c, newTestJPEG(c, 32, 32, 6), isSOF), Options{}, RotateFile},
		{"Lossless impossible", newTestJPEG(c, 50, 30, 2), Options{RequireLossless: true}, RotateFile},
	} {
		c.Run(test.name, func(c *qt.C) {
			res, err := Rotate(test.data, test.opts)
			c.Assert(err, qt.IsNotNil)
			c.Assert(res, qt.DeepEquals, Result{})
			c.Assert(err, qt.ErrorIs, test.kind)
			c.Assert(KindOf(err), qt.Equals, test.kind)
			var e *Error
			c.Assert(errors.As(err, &e), qt.IsTrue)
			c.Assert(e.Kind, qt.Equals, test.kind)
		})
	}
}

func TestRotateKeepsSegments(t *testing.T) {
	c := qt.New(t)

	data := newTestJPEG(c, 64, 32, 3)
	data = insertAfterSOI(data, markerCOM, []byte("a comment"))
	data = insertAfterSOI(data, markerAPP0+2, []byte("ICC_PROFILE\x00\x01\x01not really"))
	data = append(data, []byte("MPF trailer")...)

	res, err := Rotate(data, Options{})
	c.Assert(err, qt.IsNil)

	src := mustParseContainer(c, data)
	dst := mustParseContainer(c, res.Data)
	for i, marker := range []byte{markerAPP0 + 2, markerCOM} {
		c.Assert(dst.segments[i].marker, qt.Equals, marker)
		c.Assert(dst.segments[i].data, qt.DeepEquals, src.segments[i].data)
	}
	c.Assert(dst.segments[2].marker, qt.Equals, byte(markerAPP1))
	c.Assert(string(dst.trailer), qt.Equals, "MPF trailer")
}

func TestRotateKeepsTags(t *testing.T) {
	c := qt.New(t)

	for _, size := range []struct{ w, h int }{{64, 32}, {50, 30}} {
		for orientation, spec := range allSpecs() {
			c.Run(fmt.Sprintf("%dx%d/%s", size.w, size.h, spec), func(c *qt.C) {
				data := newTestJPEG(c, size.w, size.h, int(orientation))
				res, err := Rotate(data, Options{})
				c.Assert(err, qt.IsNil)
				assertKeepsTags(c, data, res.Data, spec)
			})
		}
	}
}

func assertKeepsTags(c *qt.C, data, rotated []byte, spec TransformSpec) {
	c.Helper()

	before, err := ParseExif(data)
	c.Assert(err, qt.IsNil)
	after, err := ParseExif(rotated)
	c.Assert(err, qt.IsNil)

	c.Assert(after.ByteOrder, qt.Equals, before.ByteOrder)
	c.Assert(after.Thumbnail, qt.DeepEquals, before.Thumbnail)

	// Offsets change when the block is written again.
	ignore := cmpopts.IgnoreMapEntries(func(tag uint16, _ Value) bool {
		switch tag {
		case TagOrientation, TagPixelXDimension, TagPixelYDimension,
			TagExifIFDPointer, TagGPSIFDPointer, TagInteropIFDPointer,
			TagJPEGInterchangeFormat:
			return true
		}
		return false
	})
	c.Assert(cmp.Diff(before.Dirs, after.Dirs, cmpopts.EquateEmpty(), ignore), qt.Equals, "")

	px, _ := before.Get(IFDExif, TagPixelXDimension)
	py, _ := before.Get(IFDExif, TagPixelYDimension)
	if spec.SwapsDimensions() {
		px, py = py, px
	}
	got, _ := after.Get(IFDExif, TagPixelXDimension)
	c.Assert(got, eq, px)
	got, _ = after.Get(IFDExif, TagPixelYDimension)
	c.Assert(got, eq, py)
}

func TestRotateExifReadableByOthers(t *testing.T) {
	c := qt.New(t)

	res, err := Rotate(newTestJPEG(c, 64, 32, 6), Options{})
	c.Assert(err, qt.IsNil)

	x, err := exif.Decode(bytes.NewReader(res.Data))
	c.Assert(err, qt.IsNil)

	tag, err := x.Get(exif.Orientation)
	c.Assert(err, qt.IsNil)
	v, err := tag.Int(0)
	c.Assert(err, qt.IsNil)
	c.Assert(v, qt.Equals, 1)

	tag, err = x.Get(exif.PixelXDimension)
	c.Assert(err, qt.IsNil)
	v, err = tag.Int(0)
	c.Assert(err, qt.IsNil)
	c.Assert(v, qt.Equals, 32)

	tag, err = x.Get(exif.Make)
	c.Assert(err, qt.IsNil)
	s, err := tag.StringVal()
	c.Assert(err, qt.IsNil)
	c.Assert(s, qt.Equals, "Test Camera")

	thumb, err := x.JpegThumbnail()
	c.Assert(err, qt.IsNil)
	cfg, err := jpeg.DecodeConfig(bytes.NewReader(thumb))
	c.Assert(err, qt.IsNil)
	c.Assert([]int{cfg.Width, cfg.Height}, qt.DeepEquals, []int{16, 8})
}

func TestRotateWarnf(t *testing.T) {
	c := qt.New(t)

	var warnings []string
	opts := Options{
		Quality: 85,
		Warnf: func(format string, args ...any) {
			warnings = append(warnings, format)
		},
	}

	res, err := Rotate(newTestJPEG(c, 64, 32, 6), opts)
	c.Assert(err, qt.IsNil)
	c.Assert(res.Lossless, qt.IsTrue)
	c.Assert(warnings, qt.HasLen, 0)

	data := newTestJPEG(c, 50, 30, 6)
	res, err = Rotate(data, opts)
	c.Assert(err, qt.IsNil)
	c.Assert(res.Lossless, qt.IsFalse)
	c.Assert(warnings, qt.HasLen, 1)
	assertTransformed(c, data, res.Data, opRotate90, 32)
}

func TestRotateDoesNotModifySource(t *testing.T) {
	c := qt.New(t)

	for _, data := range [][]byte{newTestJPEG(c, 64, 32, 7), newTestJPEG(c, 50, 30, 7)} {
		orig := append([]byte(nil), data...)
		res, err := Rotate(data, Options{})
		c.Assert(err, qt.IsNil)
		c.Assert(data, qt.DeepEquals, orig)

		// The result shares no memory with the source.
		for i := range res.Data {
			res.Data[i] = 0
		}
		c.Assert(data, qt.DeepEquals, orig)
	}
}

func TestRotatePath(t *testing.T) {
	c := qt.New(t)

	dir := c.TempDir()
	filename := filepath.Join(dir, "image.jpg")
	data := newTestJPEG(c, 64, 32, 6)
	c.Assert(os.WriteFile(filename, data, 0o600), qt.IsNil)

	res, err := RotatePath(filename, Options{})
	c.Assert(err, qt.IsNil)
	c.Assert(res.Orientation, qt.Equals, OrientationRotate90)

	// RotatePath does not write.
	b, err := os.ReadFile(filename)
	c.Assert(err, qt.IsNil)
	c.Assert(b, qt.DeepEquals, data)

	c.Assert(WriteFile(filename, res.Data), qt.IsNil)
	b, err = os.ReadFile(filename)
	c.Assert(err, qt.IsNil)
	c.Assert(b, qt.DeepEquals, res.Data)

	fi, err := os.Stat(filename)
	c.Assert(err, qt.IsNil)
	c.Assert(fi.Mode().Perm(), qt.Equals, fs.FileMode(0o600))

	entries, err := os.ReadDir(dir)
	c.Assert(err, qt.IsNil)
	c.Assert(entries, qt.HasLen, 1)

	_, err = RotatePath(filename, Options{})
	c.Assert(err, qt.ErrorIs, CorrectOrientation)

	_, err = RotatePath(filepath.Join(dir, "missing.jpg"), Options{})
	c.Assert(err, qt.ErrorIs, ReadFile)
	c.Assert(err, qt.ErrorIs, fs.ErrNotExist)
}

func TestWriteFileNew(t *testing.T) {
	c := qt.New(t)

	filename := filepath.Join(c.TempDir(), "new.jpg")
	c.Assert(WriteFile(filename, []byte("data")), qt.IsNil)
	fi, err := os.Stat(filename)
	c.Assert(err, qt.IsNil)
	c.Assert(fi.Mode().Perm(), qt.Equals, fs.FileMode(0o644))

	c.Assert(WriteFile(filepath.Join(c.TempDir(), "missing", "new.jpg"), []byte("data")), qt.IsNotNil)
}

func TestErrorKind(t *testing.T) {
	c := qt.New(t)

	c.Assert(ReadExif.String(), qt.Equals, "ReadExif")
	c.Assert(ErrorKind(42).String(), qt.Equals, "ErrorKind(42)")
	c.Assert(CorrectOrientation.Error(), qt.Equals, "autorotate: orientation is already correct")

	err := &Error{Kind: RotateFile, Err: errors.New("boom")}
	c.Assert(err.Error(), qt.Equals, "autorotate: could not rotate image: boom")
	c.Assert(errors.Is(err, RotateFile), qt.IsTrue)
	c.Assert(errors.Is(err, ReadFile), qt.IsFalse)
	c.Assert(IsKind(err, RotateFile), qt.IsTrue)
	c.Assert(KindOf(errors.New("other")), qt.Equals, ErrorKind(0))
	c.Assert(KindOf(NoOrientation), qt.Equals, NoOrientation)

	c.Assert(newError(RotateFile, err), qt.Equals, err)
	c.Assert(newError(RotateFile, NoOrientation).Kind, qt.Equals, NoOrientation)
	c.Assert(newError(ReadExif, errInvalidFormat).Err, qt.Equals, errInvalidFormat)
}

func TestOptionsDefaults(t *testing.T) {
	c := qt.New(t)

	for _, test := range []struct {
		quality, expect int
	}{
		{0, 100},
		{-5, 1},
		{1, 1},
		{75, 75},
		{300, 100},
	} {
		opts := Options{Quality: test.quality}.withDefaults()
		c.Assert(opts.Quality, qt.Equals, test.expect)
		c.Assert(opts.Warnf, qt.IsNotNil)
	}
}

func BenchmarkRotate(b *testing.B) {
	for _, test := range []struct {
		name string
		w, h int
	}{
		{"Lossless", 1024, 768},
		{"Reencode", 1000, 750},
	} {
		b.Run(test.name, func(b *testing.B) {
			data := newTestJPEG(b, test.w, test.h, 6)
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				if _, err := Rotate(data, Options{}); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}
