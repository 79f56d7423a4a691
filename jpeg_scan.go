// Copyright 2024 Bjørn Erik Pedersen
// SPDX-License-Identifier: MIT

package autorotate

import (
	"encoding/binary"
	"math"
	"math/bits"
)

// zigzag maps zig-zag order to natural order.
var zigzag = [64]int{
	0, 1, 8, 16, 9, 2, 3, 10,
	17, 24, 32, 25, 18, 11, 4, 5,
	12, 19, 26, 33, 40, 48, 41, 34,
	27, 20, 13, 6, 7, 14, 21, 28,
	35, 42, 49, 56, 57, 50, 43, 36,
	29, 22, 15, 23, 30, 37, 44, 51,
	58, 59, 52, 45, 38, 31, 39, 46,
	53, 60, 61, 54, 47, 55, 62, 63,
}

// block holds the quantized DCT coefficients of an 8x8 block in natural order, row by row.
type block [64]int16

type component struct {
	id byte
	// sampling is the sampling factor byte as stored in the frame header.
	sampling byte
	// h and v are the sampling factors used for the block layout.
	h, v int
	tq   byte

	// The block grid covers whole MCUs.
	bw, bh  int
	blocks  []block
	decoded bool
}

// frame is a decoded baseline or extended sequential frame.
type frame struct {
	marker        byte
	width, height int
	comps         []component
	hmax, vmax    int
	mcusX, mcusY  int
}

func parseSOF(marker byte, p []byte) (*frame, error) {
	if len(p) < 6 {
		return nil, newInvalidFormatErrorf("SOF segment too short")
	}
	if p[0] != 8 {
		return nil, newUnsupportedErrorf("%d-bit precision", p[0])
	}
	f := &frame{
		marker: marker,
		height: int(binary.BigEndian.Uint16(p[1:])),
		width:  int(binary.BigEndian.Uint16(p[3:])),
		hmax:   1,
		vmax:   1,
	}
	if f.height == 0 {
		return nil, newUnsupportedErrorf("image height defined by DNL")
	}
	if f.width == 0 {
		return nil, newInvalidFormatErrorf("zero image width")
	}
	n := int(p[5])
	if n < 1 || n > 4 {
		return nil, newUnsupportedErrorf("%d components", n)
	}
	if len(p) != 6+3*n {
		return nil, newInvalidFormatErrorf("invalid SOF length")
	}
	f.comps = make([]component, n)
	for i := range f.comps {
		c := &f.comps[i]
		c.id = p[6+3*i]
		c.sampling = p[7+3*i]
		c.h, c.v = int(c.sampling>>4), int(c.sampling&0x0f)
		c.tq = p[8+3*i]
		if c.h < 1 || c.h > 4 || c.v < 1 || c.v > 4 {
			return nil, newInvalidFormatErrorf("invalid sampling factors 0x%x", c.sampling)
		}
		if c.tq > 3 {
			return nil, newInvalidFormatErrorf("invalid quantization table %d", c.tq)
		}
		for j := 0; j < i; j++ {
			if f.comps[j].id == c.id {
				return nil, newInvalidFormatErrorf("duplicate component id %d", c.id)
			}
		}
	}
	if n == 1 {
		// A single component is never interleaved, so its MCU is one block whatever the header says.
		f.comps[0].h, f.comps[0].v = 1, 1
	}
	for _, c := range f.comps {
		f.hmax = max(f.hmax, c.h)
		f.vmax = max(f.vmax, c.v)
	}
	f.mcusX = ceilDiv(f.width, 8*f.hmax)
	f.mcusY = ceilDiv(f.height, 8*f.vmax)
	for i := range f.comps {
		c := &f.comps[i]
		c.bw = f.mcusX * c.h
		c.bh = f.mcusY * c.v
	}
	return f, nil
}

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}

// allocate allocates the block grids.
// Every coded block takes at least two bits, which bounds the grid size by the amount of entropy coded data.
func (f *frame) allocate(ecsLen int) error {
	total := 0
	limit := 4*ecsLen + 64
	for _, c := range f.comps {
		total += c.bw * c.bh
		// Grid padding that non-interleaved scans do not code.
		limit += 4 * (c.bw + c.bh)
	}
	if total > limit {
		return newInvalidFormatErrorf("%dx%d image does not match %d bytes of scan data", f.width, f.height, ecsLen)
	}
	for i := range f.comps {
		c := &f.comps[i]
		c.blocks = make([]block, c.bw*c.bh)
	}
	return nil
}

// appendSOF appends the frame header payload.
func (f *frame) appendSOF(b []byte) []byte {
	b = append(b, 8)
	b = binary.BigEndian.AppendUint16(b, uint16(f.height))
	b = binary.BigEndian.AppendUint16(b, uint16(f.width))
	b = append(b, byte(len(f.comps)))
	for _, c := range f.comps {
		b = append(b, c.id, c.sampling, c.tq)
	}
	return b
}

// codedBlocks returns the size of the block area a non-interleaved scan of c codes.
func (f *frame) codedBlocks(c *component) (w, h int) {
	compW := ceilDiv(f.width*c.h, f.hmax)
	compH := ceilDiv(f.height*c.v, f.vmax)
	return ceilDiv(compW, 8), ceilDiv(compH, 8)
}

// scan is a parsed scan header.
type scan struct {
	// comps holds indices into frame.comps.
	comps  []int
	dc, ac []int
}

func parseSOS(p []byte, f *frame) (*scan, error) {
	if len(p) < 1 {
		return nil, newInvalidFormatErrorf("SOS segment too short")
	}
	n := int(p[0])
	if n < 1 || n > len(f.comps) || len(p) != 1+2*n+3 {
		return nil, newInvalidFormatErrorf("invalid SOS segment")
	}
	s := &scan{
		comps: make([]int, n),
		dc:    make([]int, n),
		ac:    make([]int, n),
	}
	for i := 0; i < n; i++ {
		id := p[1+2*i]
		ci := -1
		for j, c := range f.comps {
			if c.id == id {
				ci = j
				break
			}
		}
		if ci == -1 {
			return nil, newInvalidFormatErrorf("scan references unknown component %d", id)
		}
		for j := 0; j < i; j++ {
			if s.comps[j] == ci {
				return nil, newInvalidFormatErrorf("duplicate component %d in scan", id)
			}
		}
		s.comps[i] = ci
		s.dc[i] = int(p[2+2*i] >> 4)
		s.ac[i] = int(p[2+2*i] & 0x0f)
		if s.dc[i] >= maxHuffTables || s.ac[i] >= maxHuffTables {
			return nil, newInvalidFormatErrorf("invalid Huffman table selector")
		}
	}
	ss, se, a := p[1+2*n], p[2+2*n], p[3+2*n]
	if ss != 0 || se != 63 || a != 0 {
		return nil, newUnsupportedErrorf("scan with spectral selection %d..%d, approximation 0x%x", ss, se, a)
	}
	return s, nil
}

// units returns the number of MCUs in the scan.
func (f *frame) units(s *scan) int {
	if len(s.comps) == 1 {
		w, h := f.codedBlocks(&f.comps[s.comps[0]])
		return w * h
	}
	return f.mcusX * f.mcusY
}

// eachBlock calls fn for every block in the given MCU of s, in coding order.
// i is the index of the block's component in the scan.
func (f *frame) eachBlock(s *scan, unit int, fn func(i int, b *block) error) error {
	if len(s.comps) == 1 {
		c := &f.comps[s.comps[0]]
		w, _ := f.codedBlocks(c)
		x, y := unit%w, unit/w
		return fn(0, &c.blocks[y*c.bw+x])
	}
	mx, my := unit%f.mcusX, unit/f.mcusX
	for i, ci := range s.comps {
		c := &f.comps[ci]
		for v := 0; v < c.v; v++ {
			for h := 0; h < c.h; h++ {
				x, y := mx*c.h+h, my*c.v+v
				if err := fn(i, &c.blocks[y*c.bw+x]); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func (s *scan) tables(tables *huffTables) (dc, ac []*huffTable, err error) {
	dc = make([]*huffTable, len(s.comps))
	ac = make([]*huffTable, len(s.comps))
	for i := range s.comps {
		dc[i], ac[i] = tables[huffClassDC][s.dc[i]], tables[huffClassAC][s.ac[i]]
		if dc[i] == nil || ac[i] == nil {
			return nil, nil, newInvalidFormatErrorf("scan uses undefined Huffman table")
		}
	}
	return dc, ac, nil
}

// decodeScan decodes the entropy coded data of scan s into the block grids.
func (f *frame) decodeScan(s *scan, tables *huffTables, ecs []byte, restartInterval int) error {
	dc, ac, err := s.tables(tables)
	if err != nil {
		return err
	}
	for _, ci := range s.comps {
		c := &f.comps[ci]
		if c.decoded {
			return newInvalidFormatErrorf("component %d coded twice", c.id)
		}
		c.decoded = true
	}

	r := &bitReader{data: ecs}
	preds := make([]int32, len(s.comps))
	rst := 0
	units := f.units(s)
	for u := 0; u < units; u++ {
		if restartInterval > 0 && u > 0 && u%restartInterval == 0 {
			if err := r.restart(rst); err != nil {
				return err
			}
			rst++
			clear(preds)
		}
		err := f.eachBlock(s, u, func(i int, b *block) error {
			return decodeBlock(r, dc[i], ac[i], &preds[i], b)
		})
		if err != nil {
			return err
		}
		if r.overrun() {
			return newInvalidFormatErrorf("unexpected end of scan data")
		}
	}
	return nil
}

func decodeBlock(r *bitReader, dc, ac *huffTable, pred *int32, b *block) error {
	t, err := r.decodeHuffman(dc)
	if err != nil {
		return err
	}
	if t > 16 {
		return newInvalidFormatErrorf("invalid DC magnitude category %d", t)
	}
	*pred += r.receiveExtend(uint(t))
	if *pred < math.MinInt16 || *pred > math.MaxInt16 {
		return newInvalidFormatErrorf("DC coefficient out of range")
	}
	b[0] = int16(*pred)

	for k := 1; k < 64; {
		rs, err := r.decodeHuffman(ac)
		if err != nil {
			return err
		}
		run, size := int(rs>>4), uint(rs&0x0f)
		if size == 0 {
			if run != 15 {
				// EOB.
				break
			}
			k += 16
			continue
		}
		k += run
		if k > 63 {
			return newInvalidFormatErrorf("AC coefficient index out of range")
		}
		b[zigzag[k]] = int16(r.receiveExtend(size))
		k++
	}
	return nil
}

// encodeScan encodes the block grids for scan s.
func (f *frame) encodeScan(s *scan, tables *huffTables, restartInterval int) ([]byte, error) {
	dc, ac, err := s.tables(tables)
	if err != nil {
		return nil, err
	}
	w := &bitWriter{}
	preds := make([]int32, len(s.comps))
	rst := 0
	units := f.units(s)
	for u := 0; u < units; u++ {
		if restartInterval > 0 && u > 0 && u%restartInterval == 0 {
			w.restart(rst)
			rst++
			clear(preds)
		}
		err := f.eachBlock(s, u, func(i int, b *block) error {
			return encodeBlock(w, dc[i], ac[i], &preds[i], b)
		})
		if err != nil {
			return nil, err
		}
	}
	w.flush()
	return w.buf, nil
}

func encodeBlock(w *bitWriter, dc, ac *huffTable, pred *int32, b *block) error {
	diff := int32(b[0]) - *pred
	*pred = int32(b[0])
	if err := emitCoefficient(w, dc, 0, diff, 16); err != nil {
		return err
	}

	run := 0
	for k := 1; k < 64; k++ {
		v := int32(b[zigzag[k]])
		if v == 0 {
			run++
			continue
		}
		for run > 15 {
			if err := ac.encode(w, 0xf0); err != nil {
				return err
			}
			run -= 16
		}
		if err := emitCoefficient(w, ac, run, v, 15); err != nil {
			return err
		}
		run = 0
	}
	if run > 0 {
		return ac.encode(w, 0x00)
	}
	return nil
}

// emitCoefficient writes the Huffman code for run and the magnitude category of v, followed by the bits of v.
func emitCoefficient(w *bitWriter, h *huffTable, run int, v int32, maxSize int) error {
	a := v
	if a < 0 {
		a = -a
		v--
	}
	size := bits.Len32(uint32(a))
	if size > maxSize {
		return newUnsupportedErrorf("coefficient %d out of range", a)
	}
	if err := h.encode(w, byte(run<<4|size)); err != nil {
		return err
	}
	w.emit(uint32(v), uint(size))
	return nil
}
