// Copyright 2024 Bjørn Erik Pedersen
// SPDX-License-Identifier: MIT

package autorotate

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a failed Rotate call.
// ErrorKind implements error, so errors.Is(err, CorrectOrientation) works on any error returned from this package.
type ErrorKind int

const (
	// ReadFile means the source bytes could not be obtained.
	ReadFile ErrorKind = iota + 1
	// ReadExif means the source is not a structurally valid JPEG with an EXIF block.
	ReadExif
	// NoOrientation means the EXIF block has no orientation tag.
	NoOrientation
	// UnknownOrientation means the orientation tag is outside 1..8.
	UnknownOrientation
	// CorrectOrientation means the orientation tag is already 1.
	// The source is left as is, and no buffer is returned.
	CorrectOrientation
	// RotateFile means the image data could not be transformed.
	RotateFile
)

func (k ErrorKind) String() string {
	switch k {
	case ReadFile:
		return "ReadFile"
	case ReadExif:
		return "ReadExif"
	case NoOrientation:
		return "NoOrientation"
	case UnknownOrientation:
		return "UnknownOrientation"
	case CorrectOrientation:
		return "CorrectOrientation"
	case RotateFile:
		return "RotateFile"
	default:
		return fmt.Sprintf("ErrorKind(%d)", int(k))
	}
}

func (k ErrorKind) Error() string {
	switch k {
	case ReadFile:
		return "autorotate: could not read file"
	case ReadExif:
		return "autorotate: could not read EXIF data"
	case NoOrientation:
		return "autorotate: no orientation tag found"
	case UnknownOrientation:
		return "autorotate: unknown orientation"
	case CorrectOrientation:
		return "autorotate: orientation is already correct"
	case RotateFile:
		return "autorotate: could not rotate image"
	default:
		return fmt.Sprintf("autorotate: %s", k.String())
	}
}

// Error is the error type returned from Rotate and RotatePath.
type Error struct {
	Kind ErrorKind
	// Err is the underlying cause, if any.
	Err error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Kind.Error()
	}
	return fmt.Sprintf("%s: %s", e.Kind.Error(), e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is the ErrorKind of e.
func (e *Error) Is(target error) bool {
	k, ok := target.(ErrorKind)
	return ok && k == e.Kind
}

// KindOf returns the ErrorKind of err, or 0 if err is not from this package.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	var k ErrorKind
	if errors.As(err, &k) {
		return k
	}
	return 0
}

// IsKind reports whether err is of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}

func newError(kind ErrorKind, err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		// Already classified by an earlier stage.
		return e
	}
	if k, ok := err.(ErrorKind); ok {
		return &Error{Kind: k}
	}
	return &Error{Kind: kind, Err: err}
}

var (
	// errInvalidFormat signals a structurally broken container or EXIF block.
	errInvalidFormat = errors.New("invalid format")
	// errUnsupported signals valid input that the lossless engine cannot handle.
	errUnsupported = errors.New("unsupported format")

	// Internal error to signal that we should stop any further reading.
	errStop = errors.New("stop")
)

func newInvalidFormatErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errInvalidFormat, fmt.Sprintf(format, args...))
}

func newUnsupportedErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errUnsupported, fmt.Sprintf(format, args...))
}

func isInvalidFormat(err error) bool {
	return errors.Is(err, errInvalidFormat)
}
