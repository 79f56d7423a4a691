// Copyright 2024 Bjørn Erik Pedersen
// SPDX-License-Identifier: MIT

package autorotate

import (
	"bytes"
	"encoding/binary"
	"io"
)

// 10 MB should be plenty for image metadata.
const maxBufSize = 10 * 1024 * 1024

// streamReader is a wrapper around a Reader that provides methods to read binary data.
// Read errors panic with errStop; use recoverStop at the API edge.
// Note that this is not thread safe.
type streamReader struct {
	r         io.ReadSeeker
	size      int64
	byteOrder binary.ByteOrder

	buf []byte

	readErr error
}

func newStreamReader(b []byte, byteOrder binary.ByteOrder) *streamReader {
	return &streamReader{
		r:         bytes.NewReader(b),
		size:      int64(len(b)),
		byteOrder: byteOrder,
	}
}

func (e *streamReader) allocateBuf(length int) {
	if length > cap(e.buf) {
		e.buf = make([]byte, length)
	}
}

func (e *streamReader) pos() int64 {
	n, _ := e.r.Seek(0, io.SeekCurrent)
	return n
}

func (e *streamReader) read2() uint16 {
	const n = 2
	e.readNIntoBuf(n)
	return e.byteOrder.Uint16(e.buf[:n])
}

func (e *streamReader) read4() uint32 {
	const n = 4
	e.readNIntoBuf(n)
	return e.byteOrder.Uint32(e.buf[:n])
}

// readBytes reads n bytes into a newly allocated slice.
func (e *streamReader) readBytes(n int) []byte {
	if n < 0 || n > maxBufSize {
		e.stop(newInvalidFormatErrorf("length %d exceeds max %d", n, maxBufSize))
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(e.r, b); err != nil {
		e.stop(err)
	}
	return b
}

// readBytesVolatile reads a slice of bytes from the stream
// which is not guaranteed to be valid after the next read.
func (e *streamReader) readBytesVolatile(n int) []byte {
	e.readNIntoBuf(n)
	return e.buf[:n]
}

// readBytesAt reads n bytes at the absolute offset, preserving the current position.
func (e *streamReader) readBytesAt(offset int64, n int) []byte {
	if offset < 0 || offset+int64(n) > e.size {
		e.stop(newInvalidFormatErrorf("value at offset %d with length %d is out of bounds", offset, n))
	}
	var b []byte
	e.preservePos(func() {
		e.seek(offset)
		b = e.readBytes(n)
	})
	return b
}

func (e *streamReader) readNIntoBuf(n int) {
	e.allocateBuf(n)
	if _, err := io.ReadFull(e.r, e.buf[:n]); err != nil {
		e.stop(err)
	}
}

func (e *streamReader) preservePos(f func()) {
	pos := e.pos()
	f()
	e.seek(pos)
}

func (e *streamReader) seek(pos int64) {
	if pos < 0 || pos > e.size {
		e.stop(newInvalidFormatErrorf("seek to %d is out of bounds", pos))
	}
	if _, err := e.r.Seek(pos, io.SeekStart); err != nil {
		e.stop(err)
	}
}

func (e *streamReader) stop(err error) {
	if err == io.EOF {
		err = io.ErrUnexpectedEOF
	}
	if err != nil {
		e.readErr = err
	}
	panic(errStop)
}

// recoverStop converts a panic from stop into an error.
// Use it in a deferred function: defer func() { err = e.recoverStop(recover(), err) }().
func (e *streamReader) recoverStop(r any, err error) error {
	if r == nil {
		return err
	}
	if r == errStop {
		if e.readErr != nil {
			if isInvalidFormat(e.readErr) {
				return e.readErr
			}
			return newInvalidFormatErrorf("%v", e.readErr)
		}
		return errInvalidFormat
	}
	panic(r)
}
