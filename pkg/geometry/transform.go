package geometry

import (
	"math"

	"github.com/photoprep/photoprep/pkg/fault"
)

// Matrix3 is a row-major 3x3 homography matrix.
type Matrix3 [9]float64

// Identity returns the identity matrix.
func Identity() Matrix3 {
	return Matrix3{1, 0, 0, 0, 1, 0, 0, 0, 1}
}

// Apply maps a point through the homography, including the perspective divide.
func (m Matrix3) Apply(p Point) Point {
	w := m[6]*p.X + m[7]*p.Y + m[8]
	if w == 0 {
		w = 1e-12
	}
	return Point{
		X: (m[0]*p.X + m[1]*p.Y + m[2]) / w,
		Y: (m[3]*p.X + m[4]*p.Y + m[5]) / w,
	}
}

// Inverse returns the inverse matrix, or a geometry error when the matrix is
// singular.
func (m Matrix3) Inverse() (Matrix3, error) {
	a, b, c := m[0], m[1], m[2]
	d, e, f := m[3], m[4], m[5]
	g, h, i := m[6], m[7], m[8]

	det := a*(e*i-f*h) - b*(d*i-f*g) + c*(d*h-e*g)
	if math.Abs(det) < 1e-12 {
		return Matrix3{}, fault.New(fault.KindGeometry, "singular_matrix",
			"perspective matrix is not invertible")
	}

	inv := Matrix3{
		e*i - f*h, c*h - b*i, b*f - c*e,
		f*g - d*i, a*i - c*g, c*d - a*f,
		d*h - e*g, b*g - a*h, a*e - b*d,
	}
	for k := range inv {
		inv[k] /= det
	}
	return inv, nil
}

// PerspectiveTransform solves the planar homography mapping the source quad
// onto the axis-aligned rectangle (0,0)-(dstW,dstH). Collinear or coincident
// corners fail with a geometry error; callers fall back to a rectangular crop.
func PerspectiveTransform(src Quad, dstW, dstH float64) (Matrix3, error) {
	if dstW <= 0 || dstH <= 0 {
		return Matrix3{}, fault.Newf(fault.KindGeometry, "invalid_target",
			"target rectangle %gx%g is empty", dstW, dstH)
	}
	if !src.IsSimple() {
		return Matrix3{}, fault.New(fault.KindGeometry, "degenerate_quad",
			"source corners do not form a simple quadrilateral")
	}

	srcPts := src.Points()
	dstPts := [4]Point{{0, 0}, {dstW, 0}, {dstW, dstH}, {0, dstH}}

	// Eight equations in the eight unknowns a..h (i is fixed to 1):
	//   u = (a x + b y + c) / (g x + h y + 1)
	//   v = (d x + e y + f) / (g x + h y + 1)
	var sys [8][9]float64
	for k := 0; k < 4; k++ {
		x, y := srcPts[k].X, srcPts[k].Y
		u, v := dstPts[k].X, dstPts[k].Y
		sys[2*k] = [9]float64{x, y, 1, 0, 0, 0, -u * x, -u * y, u}
		sys[2*k+1] = [9]float64{0, 0, 0, x, y, 1, -v * x, -v * y, v}
	}

	h, err := solve8(sys)
	if err != nil {
		return Matrix3{}, err
	}
	return Matrix3{h[0], h[1], h[2], h[3], h[4], h[5], h[6], h[7], 1}, nil
}

// solve8 performs Gaussian elimination with partial pivoting on an augmented
// 8x9 system.
func solve8(a [8][9]float64) ([8]float64, error) {
	var x [8]float64
	for col := 0; col < 8; col++ {
		pivot := col
		for row := col + 1; row < 8; row++ {
			if math.Abs(a[row][col]) > math.Abs(a[pivot][col]) {
				pivot = row
			}
		}
		if math.Abs(a[pivot][col]) < 1e-10 {
			return x, fault.New(fault.KindGeometry, "degenerate_quad",
				"corner configuration is collinear or coincident")
		}
		a[col], a[pivot] = a[pivot], a[col]

		for row := col + 1; row < 8; row++ {
			factor := a[row][col] / a[col][col]
			for k := col; k < 9; k++ {
				a[row][k] -= factor * a[col][k]
			}
		}
	}
	for row := 7; row >= 0; row-- {
		sum := a[row][8]
		for k := row + 1; k < 8; k++ {
			sum -= a[row][k] * x[k]
		}
		x[row] = sum / a[row][row]
	}
	return x, nil
}
