// Package features flattens keypoint sets into fixed-width vectors.
package features

import "github.com/care/posetrack/internal/types"

// Layout describes the vector shape a classifier expects
type Layout struct {
	// Width is the exact vector length
	Width int
	// IncludeScores encodes (x, y, score) per joint instead of (x, y)
	IncludeScores bool
}

// Capabilities is the subset of a classifier the encoder needs to know about
type Capabilities interface {
	InputWidth() int
	IncludeScores() bool
}

// LayoutFor reads the layout from the active classifier
func LayoutFor(c Capabilities) Layout {
	return Layout{Width: c.InputWidth(), IncludeScores: c.IncludeScores()}
}

// Encode flattens ks in joint order and truncates from the end or zero-pads
// on the right to exactly layout.Width values. Never fails: an empty set
// yields an all-zero vector.
func Encode(ks types.KeypointSet, layout Layout) types.FeatureVector {
	if layout.Width <= 0 {
		return types.FeatureVector{}
	}

	out := make(types.FeatureVector, layout.Width)
	i := 0
	for _, j := range ks {
		if i >= layout.Width {
			break
		}
		i = put(out, i, j.X)
		i = put(out, i, j.Y)
		if layout.IncludeScores {
			i = put(out, i, j.Score)
		}
	}
	return out
}

func put(dst types.FeatureVector, i int, v float64) int {
	if i < len(dst) {
		dst[i] = float32(v)
	}
	return i + 1
}
