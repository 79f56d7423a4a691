// Copyright 2024 Bjørn Erik Pedersen
// SPDX-License-Identifier: MIT

package autorotate

// Rewrite updates t in place to describe an image that has been transformed by spec:
// the orientation is set to normal, and the Exif pixel dimensions are swapped if the transform swaps the axes.
// The thumbnail and its IFD1 tags are left alone; regenerating it is up to the caller.
func Rewrite(t *Tree, spec TransformSpec) {
	orientation := Shorts(int64(OrientationNormal))
	if old, found := t.Get(IFD0, TagOrientation); found && old.Kind() == KindInt && old.Type.Size() > 1 {
		// Keep the stored type, which is SHORT in any well formed file.
		orientation.Type = old.Type
	}
	t.Set(IFD0, TagOrientation, orientation)

	if !spec.SwapsDimensions() {
		return
	}

	x, hasX := t.Get(IFDExif, TagPixelXDimension)
	y, hasY := t.Get(IFDExif, TagPixelYDimension)
	t.Delete(IFDExif, TagPixelXDimension)
	t.Delete(IFDExif, TagPixelYDimension)
	if hasY {
		t.Set(IFDExif, TagPixelXDimension, y)
	}
	if hasX {
		t.Set(IFDExif, TagPixelYDimension, x)
	}
}
