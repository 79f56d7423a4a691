// Copyright 2024 Bjørn Erik Pedersen
// SPDX-License-Identifier: MIT

// Package autorotate rotates JPEG images so that they display upright without the help of the EXIF orientation tag.
//
// The image data is transformed in the DCT domain when possible, so no quality is lost,
// and the EXIF orientation is set to normal. All other metadata is kept.
package autorotate

import (
	"fmt"
	"os"
	"path/filepath"
)

// Options for Rotate.
type Options struct {
	// Quality is the JPEG quality used when the image must be decoded and re-encoded.
	// Valid values are 1 to 100. Default value is 100.
	Quality int

	// If set, images that cannot be transformed losslessly fail with RotateFile instead of being re-encoded.
	RequireLossless bool

	// Warnf will be called for each warning.
	Warnf func(string, ...any)
}

const defaultQuality = 100

func (o Options) withDefaults() Options {
	switch {
	case o.Quality == 0:
		o.Quality = defaultQuality
	case o.Quality < 1:
		o.Quality = 1
	case o.Quality > 100:
		o.Quality = 100
	}
	if o.Warnf == nil {
		o.Warnf = func(string, ...any) {}
	}
	return o
}

// Result is the result of a successful Rotate.
type Result struct {
	// Data is the rotated JPEG file.
	Data []byte

	// Orientation is the orientation of the source image.
	Orientation Orientation

	// Width and Height are the dimensions of the rotated image.
	Width  int
	Height int

	// Lossless is set if the image data was transformed without re-encoding.
	Lossless bool
}

// Rotate returns a copy of the JPEG file src with the image data rotated according to its EXIF orientation,
// and the orientation tag set to normal.
// src is not modified.
// All errors returned are of type *Error; no Result is returned on error.
func Rotate(src []byte, opts Options) (result Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = Result{}
			err = &Error{Kind: RotateFile, Err: fmt.Errorf("unexpected panic: %v", r)}
		}
	}()

	opts = opts.withDefaults()

	tree, err := ParseExif(src)
	if err != nil {
		return Result{}, newError(ReadExif, err)
	}

	orientation, ok := tree.Orientation()
	spec, err := Classify(orientation, ok)
	if err != nil {
		return Result{}, newError(UnknownOrientation, err)
	}

	t, err := transformJPEG(src, spec, opts)
	if err != nil {
		return Result{}, newError(RotateFile, err)
	}

	Rewrite(tree, spec)
	payload, err := tree.Segment()
	if err != nil {
		return Result{}, newError(RotateFile, err)
	}
	data, err := replaceExif(t.data, payload)
	if err != nil {
		return Result{}, newError(RotateFile, err)
	}

	return Result{
		Data:        data,
		Orientation: Orientation(orientation),
		Width:       t.width,
		Height:      t.height,
		Lossless:    t.lossless,
	}, nil
}

// RotatePath reads filename and passes its content to Rotate.
// The file is not modified; see WriteFile.
func RotatePath(filename string, opts Options) (Result, error) {
	src, err := os.ReadFile(filename)
	if err != nil {
		return Result{}, newError(ReadFile, err)
	}
	return Rotate(src, opts)
}

// WriteFile replaces filename with data.
// The data is written to a temporary file in the same directory which is then renamed,
// so readers see either the old or the new content.
// The mode of an existing file is preserved.
func WriteFile(filename string, data []byte) (err error) {
	mode := os.FileMode(0o644)
	if fi, err := os.Stat(filename); err == nil {
		mode = fi.Mode().Perm()
	}

	f, err := os.CreateTemp(filepath.Dir(filename), "."+filepath.Base(filename)+".*")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			f.Close()
			os.Remove(f.Name())
		}
	}()

	if _, err := f.Write(data); err != nil {
		return err
	}
	if err := f.Sync(); err != nil {
		return err
	}
	if err := f.Chmod(mode); err != nil {
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(f.Name(), filename)
}
