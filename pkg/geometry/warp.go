package geometry

import (
	"image"

	"github.com/disintegration/imaging"

	"github.com/photoprep/photoprep/pkg/fault"
)

// BorderPolicy controls how destination pixels that map outside the source
// image are filled.
type BorderPolicy int

const (
	// BorderConstant fills out-of-bounds samples with zero (transparent black).
	BorderConstant BorderPolicy = iota
	// BorderReplicate clamps samples to the nearest edge pixel.
	BorderReplicate
)

// Warp resamples the source image through the inverse of the given forward
// matrix (source quad -> destination rectangle) into an outW x outH raster
// using bilinear interpolation. The input image is never mutated.
func Warp(img image.Image, m Matrix3, outW, outH int, border BorderPolicy) (*image.NRGBA, error) {
	if outW <= 0 || outH <= 0 {
		return nil, fault.Newf(fault.KindGeometry, "invalid_target",
			"output size %dx%d is empty", outW, outH)
	}
	inv, err := m.Inverse()
	if err != nil {
		return nil, err
	}

	src := imaging.Clone(img)
	srcW, srcH := src.Bounds().Dx(), src.Bounds().Dy()
	if srcW == 0 || srcH == 0 {
		return nil, fault.New(fault.KindGeometry, "empty_source", "source image is empty")
	}

	dst := image.NewNRGBA(image.Rect(0, 0, outW, outH))
	for y := 0; y < outH; y++ {
		for x := 0; x < outW; x++ {
			sp := inv.Apply(Point{float64(x) + 0.5, float64(y) + 0.5})
			r, g, b, a, ok := sampleBilinear(src, sp.X-0.5, sp.Y-0.5, border)
			if !ok {
				continue // constant border, pixel stays zero
			}
			i := dst.PixOffset(x, y)
			dst.Pix[i+0] = r
			dst.Pix[i+1] = g
			dst.Pix[i+2] = b
			dst.Pix[i+3] = a
		}
	}
	return dst, nil
}

// sampleBilinear samples the source at fractional coordinates. With a
// constant border it reports ok=false for samples fully outside the image;
// with replicate it clamps to the edge.
func sampleBilinear(src *image.NRGBA, fx, fy float64, border BorderPolicy) (r, g, b, a uint8, ok bool) {
	w, h := src.Bounds().Dx(), src.Bounds().Dy()

	if border == BorderConstant {
		if fx < -1 || fy < -1 || fx > float64(w) || fy > float64(h) {
			return 0, 0, 0, 255, false
		}
	}

	x0 := int(floorf(fx))
	y0 := int(floorf(fy))
	dx := fx - float64(x0)
	dy := fy - float64(y0)

	var acc [4]float64
	for _, s := range [4]struct {
		ox, oy int
		weight float64
	}{
		{0, 0, (1 - dx) * (1 - dy)},
		{1, 0, dx * (1 - dy)},
		{0, 1, (1 - dx) * dy},
		{1, 1, dx * dy},
	} {
		px := clampInt(x0+s.ox, 0, w-1)
		py := clampInt(y0+s.oy, 0, h-1)
		i := src.PixOffset(px, py)
		acc[0] += float64(src.Pix[i+0]) * s.weight
		acc[1] += float64(src.Pix[i+1]) * s.weight
		acc[2] += float64(src.Pix[i+2]) * s.weight
		acc[3] += float64(src.Pix[i+3]) * s.weight
	}
	return uint8(acc[0] + 0.5), uint8(acc[1] + 0.5), uint8(acc[2] + 0.5), uint8(acc[3] + 0.5), true
}

func floorf(v float64) float64 {
	f := float64(int(v))
	if v < 0 && v != f {
		f--
	}
	return f
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
