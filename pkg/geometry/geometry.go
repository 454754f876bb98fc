// Package geometry implements the pure-math kernel of the pipeline: corner
// ordering, homography computation and perspective warping. All functions are
// deterministic given identical numeric input and perform no I/O.
package geometry

import (
	"image"
	"math"
)

// Point is a 2D point in image-pixel coordinates.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Quad is the canonically labeled quadrilateral boundary of a photo.
type Quad struct {
	TopLeft     Point `json:"topLeft"`
	TopRight    Point `json:"topRight"`
	BottomLeft  Point `json:"bottomLeft"`
	BottomRight Point `json:"bottomRight"`
}

// minQuadArea is the smallest area (in px²) still considered non-degenerate.
const minQuadArea = 1.0

// FromRect returns the quad covering an axis-aligned rectangle.
func FromRect(r image.Rectangle) Quad {
	return Quad{
		TopLeft:     Point{float64(r.Min.X), float64(r.Min.Y)},
		TopRight:    Point{float64(r.Max.X), float64(r.Min.Y)},
		BottomLeft:  Point{float64(r.Min.X), float64(r.Max.Y)},
		BottomRight: Point{float64(r.Max.X), float64(r.Max.Y)},
	}
}

// Points returns the corners in perimeter order TL, TR, BR, BL.
func (q Quad) Points() [4]Point {
	return [4]Point{q.TopLeft, q.TopRight, q.BottomRight, q.BottomLeft}
}

// Area returns the quad area via the shoelace formula.
func (q Quad) Area() float64 {
	p := q.Points()
	var sum float64
	for i := 0; i < 4; i++ {
		j := (i + 1) % 4
		sum += p[i].X*p[j].Y - p[j].X*p[i].Y
	}
	return math.Abs(sum) / 2
}

// IsSimple reports whether the quad is a simple (non-self-intersecting)
// polygon with non-degenerate area.
func (q Quad) IsSimple() bool {
	if q.Area() < minQuadArea {
		return false
	}
	p := q.Points()
	// Opposite edges of a simple quad never cross.
	if segmentsCross(p[0], p[1], p[2], p[3]) {
		return false
	}
	if segmentsCross(p[1], p[2], p[3], p[0]) {
		return false
	}
	return true
}

// Bounds returns the axis-aligned bounding box of the quad.
func (q Quad) Bounds() image.Rectangle {
	p := q.Points()
	minX, minY := p[0].X, p[0].Y
	maxX, maxY := p[0].X, p[0].Y
	for _, pt := range p[1:] {
		minX = math.Min(minX, pt.X)
		minY = math.Min(minY, pt.Y)
		maxX = math.Max(maxX, pt.X)
		maxY = math.Max(maxY, pt.Y)
	}
	return image.Rect(int(math.Floor(minX)), int(math.Floor(minY)),
		int(math.Ceil(maxX)), int(math.Ceil(maxY)))
}

// Scale returns the quad with every coordinate multiplied by the factors.
func (q Quad) Scale(sx, sy float64) Quad {
	s := func(p Point) Point { return Point{p.X * sx, p.Y * sy} }
	return Quad{
		TopLeft:     s(q.TopLeft),
		TopRight:    s(q.TopRight),
		BottomLeft:  s(q.BottomLeft),
		BottomRight: s(q.BottomRight),
	}
}

// OrderCorners canonicalizes four raw points into the labeled quad. The
// top-left corner minimizes x+y and the bottom-right maximizes it; of the two
// remaining points the top-right maximizes x-y. Ties break lexicographically
// so the function is total, deterministic and idempotent.
func OrderCorners(pts [4]Point) Quad {
	used := [4]bool{}

	pick := func(better func(a, b Point) bool) int {
		best := -1
		for i, p := range pts {
			if used[i] {
				continue
			}
			if best < 0 || better(p, pts[best]) {
				best = i
			}
		}
		used[best] = true
		return best
	}

	lexLess := func(a, b Point) bool {
		if a.X != b.X {
			return a.X < b.X
		}
		return a.Y < b.Y
	}
	sumLess := func(a, b Point) bool {
		sa, sb := a.X+a.Y, b.X+b.Y
		if sa != sb {
			return sa < sb
		}
		return lexLess(a, b)
	}
	diffGreater := func(a, b Point) bool {
		da, db := a.X-a.Y, b.X-b.Y
		if da != db {
			return da > db
		}
		return lexLess(a, b)
	}

	tl := pick(sumLess)
	br := pick(func(a, b Point) bool { return sumLess(b, a) })
	tr := pick(diffGreater)
	bl := pick(func(a, b Point) bool { return true })

	return Quad{
		TopLeft:     pts[tl],
		TopRight:    pts[tr],
		BottomLeft:  pts[bl],
		BottomRight: pts[br],
	}
}

func cross(o, a, b Point) float64 {
	return (a.X-o.X)*(b.Y-o.Y) - (a.Y-o.Y)*(b.X-o.X)
}

// segmentsCross reports a proper crossing of segments ab and cd.
func segmentsCross(a, b, c, d Point) bool {
	d1 := cross(a, b, c)
	d2 := cross(a, b, d)
	d3 := cross(c, d, a)
	d4 := cross(c, d, b)
	return ((d1 > 0 && d2 < 0) || (d1 < 0 && d2 > 0)) &&
		((d3 > 0 && d4 < 0) || (d3 < 0 && d4 > 0))
}
