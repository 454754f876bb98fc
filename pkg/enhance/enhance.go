// Package enhance executes the perspective correction and quality pass that
// produces the canonical asset to transmit: warp against the accepted corner
// set, a mild contrast/denoise pass, and re-encoding to the configured output
// format. Every operation returns a new buffer; the caller's image is never
// mutated.
package enhance

import (
	"image"
	"math"

	"github.com/disintegration/imaging"

	"github.com/photoprep/photoprep/pkg/codec"
	"github.com/photoprep/photoprep/pkg/geometry"
)

// Config holds corrector tuning parameters.
type Config struct {
	// MaxOutputDim caps the longest side of the corrected output.
	MaxOutputDim int
	// JPEGQuality applies to jpeg and webp encoding.
	JPEGQuality int
	// Contrast is the percentage passed to the contrast equalization pass.
	Contrast float64
	// Sharpen is the sigma of the mild sharpening pass; 0 disables it.
	Sharpen float64
	// Format is the canonical output format: jpeg, png or webp.
	Format string
}

// Corrector performs the de-skew and enhancement stage.
type Corrector struct {
	config Config
}

// New creates a Corrector with default configuration.
func New() *Corrector {
	return &Corrector{
		config: Config{
			MaxOutputDim: 2048,
			JPEGQuality:  90,
			Contrast:     8,
			Sharpen:      0.4,
			Format:       "jpeg",
		},
	}
}

// NewWithConfig creates a Corrector with custom configuration.
func NewWithConfig(config Config) *Corrector {
	if config.MaxOutputDim <= 0 {
		config.MaxOutputDim = 2048
	}
	if config.JPEGQuality <= 0 {
		config.JPEGQuality = 90
	}
	return &Corrector{config: config}
}

// OutputSize derives the corrected raster size from the quad's edge lengths,
// preserving its aspect ratio and capping the longest side at MaxOutputDim.
func (c *Corrector) OutputSize(quad geometry.Quad) (int, int) {
	top := distance(quad.TopLeft, quad.TopRight)
	bottom := distance(quad.BottomLeft, quad.BottomRight)
	left := distance(quad.TopLeft, quad.BottomLeft)
	right := distance(quad.TopRight, quad.BottomRight)

	w := (top + bottom) / 2
	h := (left + right) / 2
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}

	maxDim := float64(c.config.MaxOutputDim)
	if w > maxDim || h > maxDim {
		scale := maxDim / math.Max(w, h)
		w *= scale
		h *= scale
	}
	return int(w + 0.5), int(h + 0.5)
}

// Correct warps the accepted quad onto an axis-aligned rectangle. Degenerate
// corner configurations surface a geometry error; callers fall back to the
// unwarped original.
func (c *Corrector) Correct(img image.Image, quad geometry.Quad) (*image.NRGBA, error) {
	outW, outH := c.OutputSize(quad)
	m, err := geometry.PerspectiveTransform(quad, float64(outW), float64(outH))
	if err != nil {
		return nil, err
	}
	return geometry.Warp(img, m, outW, outH, geometry.BorderReplicate)
}

// Enhance applies the deterministic quality pass: light denoise via
// sharpening of a contrast-equalized clone. The input is not modified.
func (c *Corrector) Enhance(img image.Image) *image.NRGBA {
	out := imaging.AdjustContrast(img, c.config.Contrast)
	if c.config.Sharpen > 0 {
		out = imaging.Sharpen(out, c.config.Sharpen)
	}
	return out
}

// OutputMIME returns the MIME type of the canonical output format.
func (c *Corrector) OutputMIME() string {
	switch c.config.Format {
	case "png":
		return "image/png"
	case "webp":
		return "image/webp"
	}
	return "image/jpeg"
}

// Encode re-encodes the corrected image to the canonical output format.
func (c *Corrector) Encode(img image.Image) ([]byte, error) {
	return codec.Encode(img, c.config.Format, c.config.JPEGQuality)
}

// Process runs the full correct-enhance-encode stage and reports the output
// dimensions alongside the encoded bytes.
func (c *Corrector) Process(img image.Image, quad geometry.Quad) ([]byte, int, int, error) {
	corrected, err := c.Correct(img, quad)
	if err != nil {
		return nil, 0, 0, err
	}
	enhanced := c.Enhance(corrected)
	data, err := c.Encode(enhanced)
	if err != nil {
		return nil, 0, 0, err
	}
	b := enhanced.Bounds()
	return data, b.Dx(), b.Dy(), nil
}

func distance(a, b geometry.Point) float64 {
	return math.Hypot(b.X-a.X, b.Y-a.Y)
}
