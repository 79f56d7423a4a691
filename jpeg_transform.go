// Copyright 2024 Bjørn Erik Pedersen
// SPDX-License-Identifier: MIT

package autorotate

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// transformed is the output of transformJPEG.
type transformed struct {
	data          []byte
	width, height int
	lossless      bool
}

// transformJPEG applies spec to the image data in the JPEG file data.
// Baseline and extended sequential Huffman frames are transformed in the DCT domain.
// Progressive frames, and frames where the transform would move partial MCUs,
// are decoded and re-encoded unless opts.RequireLossless is set.
func transformJPEG(data []byte, spec TransformSpec, opts Options) (transformed, error) {
	o := spec.op()
	c, err := parseContainer(data)
	if err != nil {
		return transformed{}, err
	}
	sof := c.first(isSOF)
	if sof == nil {
		return transformed{}, newInvalidFormatErrorf("no frame header")
	}
	if c.first(func(m byte) bool { return m == markerDNL }) != nil {
		return transformed{}, newUnsupportedErrorf("DNL segment")
	}

	switch sof.marker {
	case markerSOF0, markerSOF1:
	case markerSOF2:
		return fallback(c, o, opts, "progressive JPEG")
	default:
		return transformed{}, newUnsupportedErrorf("frame type 0x%x", sof.marker)
	}

	f, err := parseSOF(sof.marker, sof.data)
	if err != nil {
		return transformed{}, err
	}

	if reason := f.misalignment(o); reason != "" {
		return fallback(c, o, opts, reason)
	}

	b, err := transformLossless(c, f, o)
	if err != nil {
		return transformed{}, err
	}
	t := transformed{data: b, width: f.width, height: f.height, lossless: true}
	if o.transposes() {
		t.width, t.height = t.height, t.width
	}
	return t, nil
}

func fallback(c *container, o op, opts Options, reason string) (transformed, error) {
	if opts.RequireLossless {
		return transformed{}, newUnsupportedErrorf("lossless %s not possible: %s", o, reason)
	}
	opts.Warnf("%s: re-encoding at quality %d", reason, opts.Quality)
	return reencode(c, o, opts.Quality)
}

// misalignment returns why o cannot be done by moving whole blocks, or "" if it can.
func (f *frame) misalignment(o op) string {
	mx, my := o.mirrorsSource()
	iw, ih := 8*f.hmax, 8*f.vmax
	if mx && f.width%iw != 0 {
		return fmt.Sprintf("width %d is not a multiple of %d", f.width, iw)
	}
	if my && f.height%ih != 0 {
		return fmt.Sprintf("height %d is not a multiple of %d", f.height, ih)
	}
	return ""
}

func transformLossless(c *container, f *frame, o op) ([]byte, error) {
	ecsLen := 0
	for _, s := range c.segments {
		ecsLen += len(s.ecs)
	}
	if err := f.allocate(ecsLen); err != nil {
		return nil, err
	}

	var tables huffTables
	restartInterval := 0
	numFrames, numScans := 0, 0
	for _, s := range c.segments {
		switch s.marker {
		case markerDHT:
			if err := parseDHT(s.data, &tables); err != nil {
				return nil, err
			}
		case markerDRI:
			ri, err := parseDRI(s.data)
			if err != nil {
				return nil, err
			}
			restartInterval = ri
		case markerDQT:
			if _, err := transposeDQT(s.data); err != nil {
				return nil, err
			}
		case markerSOS:
			sc, err := parseSOS(s.data, f)
			if err != nil {
				return nil, err
			}
			if err := f.decodeScan(sc, &tables, s.ecs, restartInterval); err != nil {
				return nil, err
			}
			numScans++
		default:
			if isSOF(s.marker) {
				numFrames++
				if numFrames > 1 {
					return nil, newUnsupportedErrorf("multiple frames")
				}
			}
		}
	}
	if numScans == 0 {
		return nil, newInvalidFormatErrorf("no scans")
	}

	dst := f.transform(o)

	out, err := encodeTransformed(c, dst, o, nil)
	if errors.Is(err, errHuffmanSymbol) {
		// The new DC differences need codes the original tables do not have.
		std, err2 := standardHuffTables()
		if err2 != nil {
			return nil, err2
		}
		out, err = encodeTransformed(c, dst, o, std)
	}
	if err != nil {
		return nil, err
	}
	return out.bytes(), nil
}

// encodeTransformed builds the output container from c with the image data replaced by dst.
// If std is set, all Huffman tables are replaced by std.
func encodeTransformed(c *container, dst *frame, o op, std *huffTables) (*container, error) {
	out := &container{
		segments: make([]segment, 0, len(c.segments)+1),
		trailer:  c.trailer,
	}
	var tables huffTables
	restartInterval := 0
	stdWritten := false
	for _, s := range c.segments {
		switch {
		case s.marker == markerDHT:
			if std != nil {
				continue
			}
			if err := parseDHT(s.data, &tables); err != nil {
				return nil, err
			}
		case s.marker == markerDRI:
			restartInterval, _ = parseDRI(s.data)
		case s.marker == markerDQT:
			if o.transposes() {
				b, err := transposeDQT(s.data)
				if err != nil {
					return nil, err
				}
				s.data = b
			}
		case isSOF(s.marker):
			s.data = dst.appendSOF(nil)
		case s.marker == markerSOS:
			if std != nil {
				if !stdWritten {
					out.segments = append(out.segments, segment{marker: markerDHT, data: appendStandardDHT(nil, std)})
					stdWritten = true
				}
				s.data = standardSOS(s.data, dst)
				tables = *std
			}
			sc, err := parseSOS(s.data, dst)
			if err != nil {
				return nil, err
			}
			s.ecs, err = dst.encodeScan(sc, &tables, restartInterval)
			if err != nil {
				return nil, err
			}
		}
		out.segments = append(out.segments, s)
	}
	return out, nil
}

func parseDRI(p []byte) (int, error) {
	if len(p) != 2 {
		return 0, newInvalidFormatErrorf("invalid DRI segment")
	}
	return int(binary.BigEndian.Uint16(p)), nil
}

// standardSOS returns a copy of the scan header p that selects the standard tables:
// the first frame component uses the luma tables, all others the chroma tables.
func standardSOS(p []byte, f *frame) []byte {
	b := append([]byte(nil), p...)
	n := int(b[0])
	for i := 0; i < n && 2+2*i < len(b); i++ {
		if b[1+2*i] == f.comps[0].id {
			b[2+2*i] = 0x00
		} else {
			b[2+2*i] = 0x11
		}
	}
	return b
}

// transposeDQT returns a copy of the DQT payload p with every table transposed.
func transposeDQT(p []byte) ([]byte, error) {
	b := append([]byte(nil), p...)
	for pos := 0; pos < len(b); {
		precision, id := b[pos]>>4, b[pos]&0x0f
		if precision > 1 || id > 3 {
			return nil, newInvalidFormatErrorf("invalid DQT table 0x%x", b[pos])
		}
		size := 1 + int(precision)
		pos++
		if pos+64*size > len(b) {
			return nil, newInvalidFormatErrorf("DQT segment too short")
		}
		var natural [64]uint16
		for k := 0; k < 64; k++ {
			natural[zigzag[k]] = readQuant(b[pos+k*size:], size)
		}
		for k := 0; k < 64; k++ {
			z := zigzag[k]
			u, v := z%8, z/8
			writeQuant(b[pos+k*size:], size, natural[u*8+v])
		}
		pos += 64 * size
	}
	return b, nil
}

func readQuant(b []byte, size int) uint16 {
	if size == 2 {
		return binary.BigEndian.Uint16(b)
	}
	return uint16(b[0])
}

func writeQuant(b []byte, size int, q uint16) {
	if size == 2 {
		binary.BigEndian.PutUint16(b, q)
		return
	}
	b[0] = byte(q)
}

// transform returns a new frame holding the blocks of f moved and transformed by o.
func (f *frame) transform(o op) *frame {
	dst := &frame{
		marker: f.marker,
		width:  f.width,
		height: f.height,
		comps:  make([]component, len(f.comps)),
		hmax:   f.hmax,
		vmax:   f.vmax,
		mcusX:  f.mcusX,
		mcusY:  f.mcusY,
	}
	tr := o.transposes()
	if tr {
		dst.width, dst.height = f.height, f.width
		dst.hmax, dst.vmax = f.vmax, f.hmax
		dst.mcusX, dst.mcusY = f.mcusY, f.mcusX
	}

	for i := range f.comps {
		sc := &f.comps[i]
		dc := &dst.comps[i]
		*dc = component{
			id:       sc.id,
			sampling: sc.sampling,
			h:        sc.h,
			v:        sc.v,
			tq:       sc.tq,
			bw:       sc.bw,
			bh:       sc.bh,
		}
		if tr {
			dc.sampling = sc.sampling<<4 | sc.sampling>>4
			dc.h, dc.v = sc.v, sc.h
			dc.bw, dc.bh = sc.bh, sc.bw
		}
		dc.blocks = make([]block, len(sc.blocks))

		w, h := sc.bw, sc.bh
		for y := 0; y < dc.bh; y++ {
			for x := 0; x < dc.bw; x++ {
				var sx, sy int
				switch o {
				case opFlipH:
					sx, sy = w-1-x, y
				case opFlipV:
					sx, sy = x, h-1-y
				case opTranspose:
					sx, sy = y, x
				case opTransverse:
					sx, sy = w-1-y, h-1-x
				case opRotate90:
					sx, sy = y, h-1-x
				case opRotate180:
					sx, sy = w-1-x, h-1-y
				case opRotate270:
					sx, sy = w-1-y, x
				default:
					sx, sy = x, y
				}
				transformBlock(&dc.blocks[y*dc.bw+x], &sc.blocks[sy*sc.bw+sx], o)
			}
		}
	}
	return dst
}

// transformBlock sets dst to the coefficients of src transformed by o.
// Mirroring an axis negates the odd frequencies along it.
func transformBlock(dst, src *block, o op) {
	for v := 0; v < 8; v++ {
		for u := 0; u < 8; u++ {
			var c int16
			switch o {
			case opTranspose, opTransverse, opRotate90, opRotate270:
				c = src[u*8+v]
			default:
				c = src[v*8+u]
			}
			var negate bool
			switch o {
			case opFlipH, opRotate90:
				negate = u&1 == 1
			case opFlipV, opRotate270:
				negate = v&1 == 1
			case opRotate180, opTransverse:
				negate = (u+v)&1 == 1
			}
			if negate {
				c = -c
			}
			dst[v*8+u] = c
		}
	}
}
