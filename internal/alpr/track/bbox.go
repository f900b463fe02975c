package track

import "math"

// BBox is an axis-aligned bounding box in pixel coordinates,
// (X1, Y1) top-left, (X2, Y2) bottom-right.
type BBox struct {
	X1, Y1, X2, Y2 float64
}

// Width returns the box width.
func (b BBox) Width() float64 { return b.X2 - b.X1 }

// Height returns the box height.
func (b BBox) Height() float64 { return b.Y2 - b.Y1 }

// Area returns the box area.
func (b BBox) Area() float64 { return b.Width() * b.Height() }

// Center returns the box centre point.
func (b BBox) Center() (cx, cy float64) {
	return (b.X1 + b.X2) / 2, (b.Y1 + b.Y2) / 2
}

// AspectRatio returns width/height, or 0 for a degenerate box.
func (b BBox) AspectRatio() float64 {
	h := b.Height()
	if h <= 0 {
		return 0
	}
	return b.Width() / h
}

// Valid reports whether the box has positive area, finite coordinates,
// and no negative corner. Degenerate or malformed oracle output fails
// here and is treated as "no detection", never as an error.
func (b BBox) Valid() bool {
	for _, v := range [4]float64{b.X1, b.Y1, b.X2, b.Y2} {
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			return false
		}
	}
	return b.X2 > b.X1 && b.Y2 > b.Y1
}

// InFrame reports whether the box lies inside a width×height frame.
// Zero dimensions disable the bounds check (unknown frame size).
func (b BBox) InFrame(width, height float64) bool {
	if width <= 0 || height <= 0 {
		return true
	}
	return b.X1 < width && b.Y1 < height && b.X2 <= width && b.Y2 <= height
}

// Contains reports whether inner lies entirely within b.
func (b BBox) Contains(inner BBox) bool {
	return inner.X1 > b.X1 && inner.Y1 > b.Y1 && inner.X2 < b.X2 && inner.Y2 < b.Y2
}

// IOU returns the intersection-over-union of two boxes in [0, 1].
func IOU(a, b BBox) float64 {
	ix1 := math.Max(a.X1, b.X1)
	iy1 := math.Max(a.Y1, b.Y1)
	ix2 := math.Min(a.X2, b.X2)
	iy2 := math.Min(a.Y2, b.Y2)

	iw := ix2 - ix1
	ih := iy2 - iy1
	if iw <= 0 || ih <= 0 {
		return 0
	}

	inter := iw * ih
	union := a.Area() + b.Area() - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

// Detection is a single oracle output for one frame: a bounding box with
// the detector's confidence and class id. Detections are ephemeral and
// only live for one association cycle.
type Detection struct {
	Box        BBox
	Confidence float64
	ClassID    int
}
