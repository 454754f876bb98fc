// Package vision abstracts boundary detection behind a runtime interface so
// the pipeline can run against the built-in detector or a remote vision model
// without caring which one answered.
package vision

import (
	"context"
	"image"

	"github.com/photoprep/photoprep/pkg/detector"
	"github.com/photoprep/photoprep/pkg/geometry"
)

// Boundary is one detection outcome. Found is false when the runtime ran
// successfully but saw no document-like region; Quad and Confidence are
// meaningless in that case.
type Boundary struct {
	Quad       geometry.Quad
	Confidence float64
	Found      bool
}

// Runtime locates the boundary of the dominant photo in a frame. Runtimes
// return an error only for operational failures; "nothing detected" is a
// successful result with Found false.
type Runtime interface {
	FindBoundary(ctx context.Context, img image.Image) (Boundary, error)
}

// Native runs the in-process detector. It never fails operationally.
type Native struct {
	det *detector.Detector
}

// NewNative wraps the built-in detector as a runtime. A nil detector gets the
// default configuration.
func NewNative(det *detector.Detector) *Native {
	if det == nil {
		det = detector.New()
	}
	return &Native{det: det}
}

func (n *Native) FindBoundary(ctx context.Context, img image.Image) (Boundary, error) {
	if err := ctx.Err(); err != nil {
		return Boundary{}, err
	}
	quad, confidence, found := n.det.Detect(img)
	return Boundary{Quad: quad, Confidence: confidence, Found: found}, nil
}
