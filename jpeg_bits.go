// Copyright 2024 Bjørn Erik Pedersen
// SPDX-License-Identifier: MIT

package autorotate

// Bitstream handling for entropy coded segments.

// bitReader reads bits from an entropy coded segment, removing the 0xff00 byte stuffing.
// When a marker or the end of data is reached it feeds zero bits; consumed bits
// beyond the real data are detected with overrun.
type bitReader struct {
	data []byte
	pos  int

	// acc holds n valid bits, left aligned.
	acc uint32
	n   uint

	markerHit bool

	// Number of real data bits read into acc, and number of bits consumed.
	real, consumed int
}

func (r *bitReader) fill() {
	for r.n <= 24 {
		var b byte
		if !r.markerHit && r.pos < len(r.data) {
			b = r.data[r.pos]
			if b == 0xff {
				if r.pos+1 < len(r.data) && r.data[r.pos+1] == 0x00 {
					// Stuffed 0xff00: consume 0x00 and treat 0xff as data.
					r.pos += 2
					r.real += 8
				} else {
					// Marker; leave it for restart.
					r.markerHit = true
					b = 0
				}
			} else {
				r.pos++
				r.real += 8
			}
		}
		r.acc |= uint32(b) << (24 - r.n)
		r.n += 8
	}
}

func (r *bitReader) consume(n uint) {
	r.acc <<= n
	r.n -= n
	r.consumed += int(n)
}

// decodeHuffman decodes one symbol using h.
func (r *bitReader) decodeHuffman(h *huffTable) (byte, error) {
	r.fill()
	e := h.lookup[r.acc>>16]
	size := uint(e >> 8)
	if size == 0 {
		return 0, newInvalidFormatErrorf("invalid Huffman code")
	}
	r.consume(size)
	return byte(e), nil
}

// receiveExtend reads s bits and sign extends them as described in F.2.2.1 of the JPEG spec.
func (r *bitReader) receiveExtend(s uint) int32 {
	if s == 0 {
		return 0
	}
	r.fill()
	v := int32(r.acc >> (32 - s))
	r.consume(s)
	if v < 1<<(s-1) {
		v += -(1 << s) + 1
	}
	return v
}

func (r *bitReader) overrun() bool {
	return r.consumed > r.real
}

// restart discards the remaining bits of the interval and skips the expected RSTn marker.
func (r *bitReader) restart(n int) error {
	r.acc, r.n = 0, 0
	r.real, r.consumed = 0, 0
	r.markerHit = false
	// Skip to the marker, then any fill bytes.
	for r.pos < len(r.data) && !(r.data[r.pos] == 0xff && r.pos+1 < len(r.data) && r.data[r.pos+1] != 0x00) {
		r.pos++
	}
	for r.pos+1 < len(r.data) && r.data[r.pos+1] == 0xff {
		r.pos++
	}
	if r.pos+1 >= len(r.data) || r.data[r.pos+1] != byte(markerRST0+n%8) {
		return newInvalidFormatErrorf("missing restart marker RST%d", n%8)
	}
	r.pos += 2
	return nil
}

// bitWriter writes bits with 0xff byte stuffing.
type bitWriter struct {
	buf []byte
	// acc holds n pending bits, left aligned.
	acc uint32
	n   uint
}

// emit writes the low size bits of code.
func (w *bitWriter) emit(code uint32, size uint) {
	if size == 0 {
		return
	}
	code &= 1<<size - 1
	w.acc |= code << (32 - w.n - size)
	w.n += size
	for w.n >= 8 {
		b := byte(w.acc >> 24)
		w.buf = append(w.buf, b)
		if b == 0xff {
			w.buf = append(w.buf, 0x00)
		}
		w.acc <<= 8
		w.n -= 8
	}
}

// flush pads the last byte with 1 bits.
func (w *bitWriter) flush() {
	if w.n > 0 {
		w.emit(0xff, 8-w.n)
	}
}

// restart flushes and writes the RSTn marker.
func (w *bitWriter) restart(n int) {
	w.flush()
	w.buf = append(w.buf, 0xff, byte(markerRST0+n%8))
}
