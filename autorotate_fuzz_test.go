// Copyright 2024 Bjørn Erik Pedersen
// SPDX-License-Identifier: MIT

package autorotate

import (
	"strings"
	"testing"
)

func FuzzRotate(f *testing.F) {
	f.Add(newTestJPEG(f, 64, 32, 6))
	f.Add(newTestJPEG(f, 48, 32, 5))
	f.Add(withRestartInterval(f, newTestJPEG(f, 32, 32, 8), 1))
	f.Add(withTree(f, newStripedGray(f), newTestTree(f, 6, 64, 64)))
	f.Add(withTree(f, encodeTestJPEG(f, newTestGray(24, 16)), newTestTree(f, 3, 24, 16)))
	f.Add(jpegWithRawExif(f, rawTIFF(8, rawEntry{tag: TagOrientation, typ: uint16(TypeShort), count: 1, value: 6})))

	f.Fuzz(func(t *testing.T, data []byte) {
		fuzzRotateBytes(t, data)
	})
}

func fuzzRotateBytes(t *testing.T, data []byte) {
	// Re-encoding decodes the full image, which the fuzzer can make arbitrarily large.
	res, err := Rotate(data, Options{RequireLossless: true})
	if err != nil {
		if KindOf(err) == 0 {
			t.Fatalf("unclassified error in Rotate: %v %T", err, err)
		}
		if strings.Contains(err.Error(), "unexpected panic") {
			t.Fatalf("panic in Rotate: %v", err)
		}
		if res.Data != nil {
			t.Fatal("data returned with error")
		}
		return
	}
	tree, err := ParseExif(res.Data)
	if err != nil {
		t.Fatalf("failed to read EXIF written by Rotate: %v", err)
	}
	if orientation, _ := tree.Orientation(); orientation != 1 {
		t.Fatalf("got orientation %d", orientation)
	}
}
