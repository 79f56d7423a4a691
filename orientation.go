// Copyright 2024 Bjørn Erik Pedersen
// SPDX-License-Identifier: MIT

package autorotate

import "fmt"

// Orientation is the EXIF orientation code (tag 0x0112).
type Orientation int

// The EXIF orientation codes. The name describes the correction needed to display the raster upright.
const (
	OrientationNormal Orientation = iota + 1
	OrientationFlipH
	OrientationRotate180
	OrientationFlipV
	OrientationTranspose
	OrientationRotate90
	OrientationTransverse
	OrientationRotate270

	numOrientations = 9
)

// TransformSpec describes a geometric correction.
// Rotation (clockwise, in degrees) is applied first, then the optional horizontal mirror.
type TransformSpec struct {
	Rotation int
	Mirror   bool
}

// SwapsDimensions reports whether the transform swaps width and height.
func (t TransformSpec) SwapsDimensions() bool {
	return t.Rotation == 90 || t.Rotation == 270
}

func (t TransformSpec) String() string {
	if t.Mirror {
		return fmt.Sprintf("rotate %d + mirror", t.Rotation)
	}
	return fmt.Sprintf("rotate %d", t.Rotation)
}

// orientationTransforms is indexed by orientation code.
// The array length bounds the keys at compile time; TestOrientationTableIsComplete checks that no code in 2..8 is left zero.
var orientationTransforms = [numOrientations]TransformSpec{
	OrientationNormal:     {Rotation: 0},
	OrientationFlipH:      {Rotation: 0, Mirror: true},
	OrientationRotate180:  {Rotation: 180},
	OrientationFlipV:      {Rotation: 180, Mirror: true},
	OrientationTranspose:  {Rotation: 90, Mirror: true},
	OrientationRotate90:   {Rotation: 90},
	OrientationTransverse: {Rotation: 270, Mirror: true},
	OrientationRotate270:  {Rotation: 270},
}

// Classify returns the transform needed for the given orientation value.
// ok is false if the orientation tag is absent.
func Classify(orientation int, ok bool) (TransformSpec, error) {
	switch {
	case !ok:
		return TransformSpec{}, NoOrientation
	case orientation == int(OrientationNormal):
		return TransformSpec{}, CorrectOrientation
	case orientation > int(OrientationNormal) && orientation < numOrientations:
		return orientationTransforms[orientation], nil
	default:
		return TransformSpec{}, &Error{Kind: UnknownOrientation, Err: fmt.Errorf("orientation %d", orientation)}
	}
}

// op is one of the seven canonical lossless operations.
type op int

const (
	opNone op = iota
	opFlipH
	opFlipV
	opTranspose
	opTransverse
	opRotate90
	opRotate180
	opRotate270
)

func (t TransformSpec) op() op {
	switch t {
	case TransformSpec{Rotation: 0, Mirror: true}:
		return opFlipH
	case TransformSpec{Rotation: 90}:
		return opRotate90
	case TransformSpec{Rotation: 90, Mirror: true}:
		return opTranspose
	case TransformSpec{Rotation: 180}:
		return opRotate180
	case TransformSpec{Rotation: 180, Mirror: true}:
		return opFlipV
	case TransformSpec{Rotation: 270}:
		return opRotate270
	case TransformSpec{Rotation: 270, Mirror: true}:
		return opTransverse
	}
	return opNone
}

func (o op) String() string {
	switch o {
	case opFlipH:
		return "flipH"
	case opFlipV:
		return "flipV"
	case opTranspose:
		return "transpose"
	case opTransverse:
		return "transverse"
	case opRotate90:
		return "rotate90"
	case opRotate180:
		return "rotate180"
	case opRotate270:
		return "rotate270"
	}
	return "none"
}

// transposes reports whether the op swaps the axes.
func (o op) transposes() bool {
	return o == opTranspose || o == opTransverse || o == opRotate90 || o == opRotate270
}

// mirrorsSource reports which source axes get mirrored.
// Block reordering along a mirrored axis is only exact when that axis is a multiple of the iMCU size.
func (o op) mirrorsSource() (x, y bool) {
	switch o {
	case opFlipH, opRotate270:
		return true, false
	case opFlipV, opRotate90:
		return false, true
	case opRotate180, opTransverse:
		return true, true
	}
	return false, false
}
