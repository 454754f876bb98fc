// Package detector locates the quadrilateral boundary of a physical photo
// inside a captured frame. Absence of a boundary is a normal outcome, not an
// error: callers fall back to full-frame corners and manual placement.
package detector

import (
	"image"
	"math"

	"github.com/disintegration/imaging"

	"github.com/photoprep/photoprep/pkg/geometry"
)

// Config holds detection tuning parameters.
type Config struct {
	// MaxDetectDim bounds the working resolution; larger frames are
	// downscaled for detection and the quad is rescaled afterwards.
	MaxDetectDim int
	// MinAreaRatio is the minimum fraction of the frame the candidate
	// region must cover.
	MinAreaRatio float64
	// MinFillRatio is the minimum fraction of the candidate quad that the
	// detected region must fill; lower values mean the region is not
	// four-sided within tolerance.
	MinFillRatio float64
}

// Detector proposes an initial photo boundary for a captured frame.
type Detector struct {
	config Config
}

// New creates a Detector with default configuration.
func New() *Detector {
	return &Detector{
		config: Config{
			MaxDetectDim: 512,
			MinAreaRatio: 0.08,
			MinFillRatio: 0.75,
		},
	}
}

// NewWithConfig creates a Detector with custom configuration.
func NewWithConfig(config Config) *Detector {
	if config.MaxDetectDim <= 0 {
		config.MaxDetectDim = 512
	}
	return &Detector{config: config}
}

// Detect analyzes a frame and returns at most one candidate boundary with a
// confidence score in [0,1]. ok is false when no plausible boundary exists.
func (d *Detector) Detect(img image.Image) (geometry.Quad, float64, bool) {
	bounds := img.Bounds()
	origW, origH := bounds.Dx(), bounds.Dy()
	if origW < 8 || origH < 8 {
		return geometry.Quad{}, 0, false
	}

	work := img
	if origW > d.config.MaxDetectDim || origH > d.config.MaxDetectDim {
		if origW >= origH {
			work = imaging.Resize(img, d.config.MaxDetectDim, 0, imaging.Lanczos)
		} else {
			work = imaging.Resize(img, 0, d.config.MaxDetectDim, imaging.Lanczos)
		}
	}
	wb := work.Bounds()
	w, h := wb.Dx(), wb.Dy()

	gray := grayscale(work)
	stretchContrast(gray)

	threshold := otsuThreshold(gray)
	foregroundBright := borderMean(gray, w, h) <= mean(gray)

	mask := make([]bool, len(gray))
	for i, v := range gray {
		if foregroundBright {
			mask[i] = v > threshold
		} else {
			mask[i] = v < threshold
		}
	}

	component, area := largestComponent(mask, w, h)
	if area < int(d.config.MinAreaRatio*float64(w*h)) {
		return geometry.Quad{}, 0, false
	}

	quad, ok := cornerQuad(component, w)
	if !ok || !quad.IsSimple() {
		return geometry.Quad{}, 0, false
	}

	// A region that fills little of its corner quad is not four-sided
	// within tolerance.
	fill := float64(area) / quad.Area()
	if fill > 1 {
		fill = 1
	}
	if fill < d.config.MinFillRatio {
		return geometry.Quad{}, 0, false
	}

	coverage := float64(area) / float64(w*h)
	confidence := fill * (0.5 + 0.5*math.Min(1, coverage/0.5))

	sx := float64(origW) / float64(w)
	sy := float64(origH) / float64(h)
	return quad.Scale(sx, sy), confidence, true
}

// grayscale extracts a single intensity channel using the Rec. 601 luma
// weights.
func grayscale(img image.Image) []uint8 {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	out := make([]uint8, w*h)

	i := 0
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r, g, b, _ := img.At(x, y).RGBA()
			out[i] = uint8((299*r + 587*g + 114*b) / 1000 >> 8)
			i++
		}
	}
	return out
}

// stretchContrast rescales intensities to span the full [0,255] range.
func stretchContrast(gray []uint8) {
	lo, hi := uint8(255), uint8(0)
	for _, v := range gray {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	if hi <= lo {
		return
	}
	scale := 255.0 / float64(hi-lo)
	for i, v := range gray {
		gray[i] = uint8(float64(v-lo)*scale + 0.5)
	}
}

// otsuThreshold picks the intensity threshold maximizing inter-class
// variance.
func otsuThreshold(gray []uint8) uint8 {
	var hist [256]int
	for _, v := range gray {
		hist[v]++
	}

	total := len(gray)
	var sum float64
	for t, c := range hist {
		sum += float64(t) * float64(c)
	}

	var sumB, wB float64
	bestVar, best := -1.0, 127
	for t := 0; t < 256; t++ {
		wB += float64(hist[t])
		if wB == 0 {
			continue
		}
		wF := float64(total) - wB
		if wF == 0 {
			break
		}
		sumB += float64(t) * float64(hist[t])
		mB := sumB / wB
		mF := (sum - sumB) / wF
		v := wB * wF * (mB - mF) * (mB - mF)
		if v > bestVar {
			bestVar = v
			best = t
		}
	}
	return uint8(best)
}

func mean(gray []uint8) float64 {
	var sum int
	for _, v := range gray {
		sum += int(v)
	}
	return float64(sum) / float64(len(gray))
}

// borderMean samples the frame edges; a bright border means the photo is the
// darker region.
func borderMean(gray []uint8, w, h int) float64 {
	band := int(math.Max(2, float64(min(w, h))*0.02))
	var sum, count int
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if x >= band && x < w-band && y >= band && y < h-band {
				continue
			}
			sum += int(gray[y*w+x])
			count++
		}
	}
	return float64(sum) / float64(count)
}

// largestComponent flood-fills the mask and returns the pixel indices of the
// largest 4-connected region.
func largestComponent(mask []bool, w, h int) ([]int, int) {
	visited := make([]bool, len(mask))
	var best []int

	stack := make([]int, 0, 1024)
	for start := range mask {
		if !mask[start] || visited[start] {
			continue
		}
		var component []int
		stack = append(stack[:0], start)
		visited[start] = true
		for len(stack) > 0 {
			idx := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			component = append(component, idx)

			push := func(n int) {
				if mask[n] && !visited[n] {
					visited[n] = true
					stack = append(stack, n)
				}
			}
			x, y := idx%w, idx/w
			if x > 0 {
				push(idx - 1)
			}
			if x < w-1 {
				push(idx + 1)
			}
			if y > 0 {
				push(idx - w)
			}
			if y < h-1 {
				push(idx + w)
			}
		}
		if len(component) > len(best) {
			best = component
		}
	}
	return best, len(best)
}

// cornerQuad derives corner candidates from the extreme points of the region:
// x+y extremes give the main diagonal, x-y extremes the other.
func cornerQuad(component []int, w int) (geometry.Quad, bool) {
	if len(component) < 4 {
		return geometry.Quad{}, false
	}

	toPoint := func(idx int) geometry.Point {
		return geometry.Point{X: float64(idx % w), Y: float64(idx / w)}
	}

	tl, br, tr, bl := component[0], component[0], component[0], component[0]
	for _, idx := range component[1:] {
		p := toPoint(idx)
		if p.X+p.Y < sumOf(toPoint(tl)) {
			tl = idx
		}
		if p.X+p.Y > sumOf(toPoint(br)) {
			br = idx
		}
		if p.X-p.Y > diffOf(toPoint(tr)) {
			tr = idx
		}
		if p.X-p.Y < diffOf(toPoint(bl)) {
			bl = idx
		}
	}

	quad := geometry.OrderCorners([4]geometry.Point{
		toPoint(tl), toPoint(tr), toPoint(bl), toPoint(br),
	})
	return quad, true
}

func sumOf(p geometry.Point) float64  { return p.X + p.Y }
func diffOf(p geometry.Point) float64 { return p.X - p.Y }

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
