// Package editor provides validated, interactive adjustment of the four
// boundary corners. All mutation goes through Move; an edit that would break
// the simple-polygon invariant or leave the image bounds is rejected as a
// no-op.
package editor

import (
	"image"

	"github.com/photoprep/photoprep/pkg/geometry"
)

// Corner names one of the four draggable boundary points.
type Corner int

const (
	TopLeft Corner = iota
	TopRight
	BottomLeft
	BottomRight
)

func (c Corner) String() string {
	switch c {
	case TopLeft:
		return "topLeft"
	case TopRight:
		return "topRight"
	case BottomLeft:
		return "bottomLeft"
	case BottomRight:
		return "bottomRight"
	}
	return "unknown"
}

// Editor holds the current corner set for one image.
type Editor struct {
	quad   geometry.Quad
	bounds image.Rectangle
}

// New creates an editor seeded with a detected quad. A quad that is not
// simple falls back to full-frame corners.
func New(quad geometry.Quad, bounds image.Rectangle) *Editor {
	e := &Editor{bounds: bounds}
	if !e.SetQuad(quad) {
		e.ResetToBounds()
	}
	return e
}

// NewFullFrame creates an editor with default full-image corners.
func NewFullFrame(bounds image.Rectangle) *Editor {
	e := &Editor{bounds: bounds}
	e.ResetToBounds()
	return e
}

// Quad returns a copy of the current corner set.
func (e *Editor) Quad() geometry.Quad {
	return e.quad
}

// ResetToBounds restores the default full-image corners.
func (e *Editor) ResetToBounds() {
	e.quad = geometry.FromRect(e.bounds)
}

// SetQuad replaces the corner set wholesale. Returns false and leaves the
// editor unchanged when the quad is degenerate or self-intersecting.
func (e *Editor) SetQuad(q geometry.Quad) bool {
	clamped := geometry.Quad{
		TopLeft:     e.clamp(q.TopLeft),
		TopRight:    e.clamp(q.TopRight),
		BottomLeft:  e.clamp(q.BottomLeft),
		BottomRight: e.clamp(q.BottomRight),
	}
	if !clamped.IsSimple() {
		return false
	}
	e.quad = clamped
	return true
}

// Move applies a drag delta to one named corner. The result is clamped to the
// image bounds and rejected (no-op, false) if it would make the quadrilateral
// self-intersecting or degenerate.
func (e *Editor) Move(corner Corner, dx, dy float64) bool {
	candidate := e.quad
	var p *geometry.Point
	switch corner {
	case TopLeft:
		p = &candidate.TopLeft
	case TopRight:
		p = &candidate.TopRight
	case BottomLeft:
		p = &candidate.BottomLeft
	case BottomRight:
		p = &candidate.BottomRight
	default:
		return false
	}
	*p = e.clamp(geometry.Point{X: p.X + dx, Y: p.Y + dy})

	if !candidate.IsSimple() {
		return false
	}
	e.quad = candidate
	return true
}

func (e *Editor) clamp(p geometry.Point) geometry.Point {
	minX, minY := float64(e.bounds.Min.X), float64(e.bounds.Min.Y)
	maxX, maxY := float64(e.bounds.Max.X), float64(e.bounds.Max.Y)
	if p.X < minX {
		p.X = minX
	}
	if p.X > maxX {
		p.X = maxX
	}
	if p.Y < minY {
		p.Y = minY
	}
	if p.Y > maxY {
		p.Y = maxY
	}
	return p
}
