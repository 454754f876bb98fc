package geometry

import (
	"errors"
	"image"
	"image/color"
	"math"
	"testing"

	"github.com/photoprep/photoprep/pkg/fault"
)

func almostEqual(a, b Point, tol float64) bool {
	return math.Abs(a.X-b.X) <= tol && math.Abs(a.Y-b.Y) <= tol
}

func TestOrderCornersLabels(t *testing.T) {
	pts := [4]Point{
		{90, 110}, // bottom right
		{10, 100}, // bottom left
		{12, 8},   // top left
		{95, 15},  // top right
	}

	q := OrderCorners(pts)

	if q.TopLeft != (Point{12, 8}) {
		t.Errorf("top left = %+v", q.TopLeft)
	}
	if q.TopRight != (Point{95, 15}) {
		t.Errorf("top right = %+v", q.TopRight)
	}
	if q.BottomLeft != (Point{10, 100}) {
		t.Errorf("bottom left = %+v", q.BottomLeft)
	}
	if q.BottomRight != (Point{90, 110}) {
		t.Errorf("bottom right = %+v", q.BottomRight)
	}
}

func TestOrderCornersIdempotent(t *testing.T) {
	base := [4]Point{{5, 5}, {200, 10}, {190, 150}, {8, 160}}

	// Every input permutation must resolve to the same labeling, and
	// re-ordering the canonical result must be a fixed point.
	perms := [][4]int{
		{0, 1, 2, 3}, {3, 2, 1, 0}, {1, 3, 0, 2}, {2, 0, 3, 1}, {1, 0, 3, 2},
	}
	want := OrderCorners(base)
	for _, p := range perms {
		in := [4]Point{base[p[0]], base[p[1]], base[p[2]], base[p[3]]}
		got := OrderCorners(in)
		if got != want {
			t.Errorf("permutation %v: got %+v want %+v", p, got, want)
		}
		again := OrderCorners(got.pointsArray())
		if again != got {
			t.Errorf("not idempotent: %+v -> %+v", got, again)
		}
	}
}

func (q Quad) pointsArray() [4]Point {
	return [4]Point{q.BottomRight, q.TopLeft, q.BottomLeft, q.TopRight}
}

func TestQuadIsSimple(t *testing.T) {
	good := Quad{
		TopLeft: Point{0, 0}, TopRight: Point{100, 0},
		BottomLeft: Point{0, 100}, BottomRight: Point{100, 100},
	}
	if !good.IsSimple() {
		t.Error("rectangle reported as non-simple")
	}

	// Bowtie: top right and bottom right swapped.
	bowtie := Quad{
		TopLeft: Point{0, 0}, TopRight: Point{100, 100},
		BottomLeft: Point{0, 100}, BottomRight: Point{100, 0},
	}
	if bowtie.IsSimple() {
		t.Error("self-intersecting quad reported as simple")
	}

	tiny := Quad{
		TopLeft: Point{10, 10}, TopRight: Point{10.1, 10},
		BottomLeft: Point{10, 10.1}, BottomRight: Point{10.1, 10.1},
	}
	if tiny.IsSimple() {
		t.Error("near-zero-area quad reported as simple")
	}
}

func TestPerspectiveTransformMapsCorners(t *testing.T) {
	src := Quad{
		TopLeft: Point{20, 10}, TopRight: Point{300, 30},
		BottomLeft: Point{10, 220}, BottomRight: Point{310, 240},
	}
	m, err := PerspectiveTransform(src, 400, 300)
	if err != nil {
		t.Fatalf("PerspectiveTransform failed: %v", err)
	}

	cases := []struct {
		in   Point
		want Point
	}{
		{src.TopLeft, Point{0, 0}},
		{src.TopRight, Point{400, 0}},
		{src.BottomRight, Point{400, 300}},
		{src.BottomLeft, Point{0, 300}},
	}
	for _, c := range cases {
		got := m.Apply(c.in)
		if !almostEqual(got, c.want, 1e-6) {
			t.Errorf("Apply(%+v) = %+v, want %+v", c.in, got, c.want)
		}
	}
}

func TestPerspectiveRoundTrip(t *testing.T) {
	src := Quad{
		TopLeft: Point{15, 25}, TopRight: Point{280, 12},
		BottomLeft: Point{30, 200}, BottomRight: Point{270, 230},
	}
	m, err := PerspectiveTransform(src, 320, 240)
	if err != nil {
		t.Fatalf("PerspectiveTransform failed: %v", err)
	}
	inv, err := m.Inverse()
	if err != nil {
		t.Fatalf("Inverse failed: %v", err)
	}

	dst := [4]Point{{0, 0}, {320, 0}, {320, 240}, {0, 240}}
	srcPts := src.Points()
	for i, d := range dst {
		back := inv.Apply(d)
		if !almostEqual(back, srcPts[i], 1e-6) {
			t.Errorf("corner %d: round trip gave %+v, want %+v", i, back, srcPts[i])
		}
	}
}

func TestPerspectiveTransformDegenerate(t *testing.T) {
	// All four corners on one line.
	collinear := Quad{
		TopLeft: Point{0, 0}, TopRight: Point{10, 10},
		BottomLeft: Point{20, 20}, BottomRight: Point{30, 30},
	}
	_, err := PerspectiveTransform(collinear, 100, 100)
	if err == nil {
		t.Fatal("expected error for collinear corners")
	}
	var fe *fault.Error
	if !errors.As(err, &fe) || fe.Kind != fault.KindGeometry {
		t.Errorf("expected geometry fault, got %v", err)
	}

	coincident := Quad{
		TopLeft: Point{5, 5}, TopRight: Point{5, 5},
		BottomLeft: Point{5, 5}, BottomRight: Point{5, 5},
	}
	if _, err := PerspectiveTransform(coincident, 100, 100); err == nil {
		t.Error("expected error for coincident corners")
	}
}

func makeQuadrantImage(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var c color.NRGBA
			switch {
			case x < w/2 && y < h/2:
				c = color.NRGBA{255, 0, 0, 255}
			case x >= w/2 && y < h/2:
				c = color.NRGBA{0, 255, 0, 255}
			case x < w/2:
				c = color.NRGBA{0, 0, 255, 255}
			default:
				c = color.NRGBA{255, 255, 0, 255}
			}
			img.SetNRGBA(x, y, c)
		}
	}
	return img
}

func TestWarpIdentity(t *testing.T) {
	src := makeQuadrantImage(64, 64)
	quad := FromRect(src.Bounds())
	m, err := PerspectiveTransform(quad, 64, 64)
	if err != nil {
		t.Fatalf("PerspectiveTransform failed: %v", err)
	}

	out, err := Warp(src, m, 64, 64, BorderReplicate)
	if err != nil {
		t.Fatalf("Warp failed: %v", err)
	}

	probes := []image.Point{{10, 10}, {50, 10}, {10, 50}, {50, 50}}
	for _, p := range probes {
		want := src.NRGBAAt(p.X, p.Y)
		got := out.NRGBAAt(p.X, p.Y)
		if want != got {
			t.Errorf("pixel %v: got %v want %v", p, got, want)
		}
	}
}

func TestWarpConstantBorder(t *testing.T) {
	src := makeQuadrantImage(32, 32)

	// A quad hanging off the left edge of the source maps some destination
	// pixels outside the image.
	quad := Quad{
		TopLeft: Point{-20, 0}, TopRight: Point{12, 0},
		BottomLeft: Point{-20, 32}, BottomRight: Point{12, 32},
	}
	m, err := PerspectiveTransform(quad, 32, 32)
	if err != nil {
		t.Fatalf("PerspectiveTransform failed: %v", err)
	}

	out, err := Warp(src, m, 32, 32, BorderConstant)
	if err != nil {
		t.Fatalf("Warp failed: %v", err)
	}
	if got := out.NRGBAAt(2, 16); got != (color.NRGBA{}) {
		t.Errorf("expected zero fill outside source, got %v", got)
	}

	rep, err := Warp(src, m, 32, 32, BorderReplicate)
	if err != nil {
		t.Fatalf("Warp failed: %v", err)
	}
	if got := rep.NRGBAAt(2, 8); got != src.NRGBAAt(0, 8) {
		t.Errorf("expected replicated edge pixel, got %v", got)
	}
}

func TestWarpRejectsEmptyOutput(t *testing.T) {
	src := makeQuadrantImage(8, 8)
	if _, err := Warp(src, Identity(), 0, 8, BorderConstant); err == nil {
		t.Error("expected error for empty output size")
	}
}

func BenchmarkWarp(b *testing.B) {
	src := makeQuadrantImage(640, 480)
	quad := Quad{
		TopLeft: Point{20, 10}, TopRight: Point{600, 30},
		BottomLeft: Point{30, 460}, BottomRight: Point{620, 470},
	}
	m, _ := PerspectiveTransform(quad, 640, 480)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		Warp(src, m, 640, 480, BorderReplicate)
	}
}
