// Package photoprep prepares physical-photo captures for remote restoration:
// it detects the photo's boundary inside a frame, lets the caller adjust the
// four corners, de-skews and enhances the region, validates the result, and
// uploads it with bounded retry while exposing a deterministic state machine.
//
// Basic usage:
//
//	package main
//
//	import (
//		"context"
//		"fmt"
//		"log"
//
//		"github.com/photoprep/photoprep"
//	)
//
//	func main() {
//		pp, err := photoprep.NewWithOptions(photoprep.Options{
//			Endpoint: "https://api.example.com",
//		})
//		if err != nil {
//			log.Fatal(err)
//		}
//
//		result, err := pp.ProcessFile(context.Background(), "photo.jpg")
//		if err != nil {
//			log.Fatal(err)
//		}
//
//		fmt.Printf("uploaded as %s (%s)\n", result.UploadID, result.StorageKey)
//	}
//
// The heavy lifting lives in the sub-packages:
//
// 1. Geometry (pkg/geometry): corner ordering, homographies, warp sampling
// 2. Detector (pkg/detector) and vision runtimes (pkg/vision): boundary proposals
// 3. Editor (pkg/editor): validated corner adjustment
// 4. Enhance (pkg/enhance): perspective correction and the quality pass
// 5. Upload (pkg/upload): resilient multipart transport with retry policies
// 6. Pipeline (pkg/pipeline): the session and its observable state machine
package photoprep

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/photoprep/photoprep/internal/utils"
	"github.com/photoprep/photoprep/pkg/detector"
	"github.com/photoprep/photoprep/pkg/enhance"
	"github.com/photoprep/photoprep/pkg/pipeline"
	"github.com/photoprep/photoprep/pkg/upload"
	"github.com/photoprep/photoprep/pkg/validate"
	"github.com/photoprep/photoprep/pkg/vision"
)

// Version of the photoprep library
const Version = "1.0.0"

// Options configures a Pipeline. Zero-value fields fall back to the built-in
// defaults, so Options{Endpoint: "..."} is a complete configuration.
type Options struct {
	Endpoint string
	APIKey   string

	Rules        validate.Rules
	Detector     detector.Config
	Enhance      enhance.Config
	Policy       upload.Policy
	PollInterval time.Duration

	Logger   zerolog.Logger
	Observer pipeline.Observer
}

// Pipeline is the high-level facade bundling the vision runtime, the
// corrector and the upload session.
type Pipeline struct {
	opts    Options
	session *pipeline.Session
}

// New creates a Pipeline with default options. The upload endpoint defaults
// to a local service; production callers use NewWithOptions.
func New() (*Pipeline, error) {
	return NewWithOptions(Options{})
}

// NewWithOptions creates a Pipeline. The built-in detector serves as the
// vision runtime; callers needing a model runtime construct a
// pipeline.Session directly.
func NewWithOptions(opts Options) (*Pipeline, error) {
	if opts.Endpoint == "" {
		opts.Endpoint = "http://localhost:8080"
	}

	client, err := upload.NewClient(opts.Endpoint, opts.APIKey, opts.Logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create upload client: %w", err)
	}

	det := detector.New()
	if opts.Detector != (detector.Config{}) {
		det = detector.NewWithConfig(opts.Detector)
	}
	corrector := enhance.New()
	if opts.Enhance != (enhance.Config{}) {
		corrector = enhance.NewWithConfig(opts.Enhance)
	}

	session := pipeline.NewSession(pipeline.Deps{
		Runtime:      vision.NewNative(det),
		Corrector:    corrector,
		Client:       client,
		Rules:        opts.Rules,
		Policy:       opts.Policy,
		PollInterval: opts.PollInterval,
		Logger:       opts.Logger,
		Observer:     opts.Observer,
	})

	return &Pipeline{opts: opts, session: session}, nil
}

// Session exposes the underlying session for corner editing, progress
// observation and cancellation.
func (p *Pipeline) Session() *pipeline.Session {
	return p.session
}

// State returns the current state snapshot.
func (p *Pipeline) State() pipeline.State {
	return p.session.State()
}

// Reset cancels in-flight work and returns the session to idle.
func (p *Pipeline) Reset() {
	p.session.Reset()
}

// LoadAsset reads a file from disk into a pipeline asset, guessing the MIME
// type from the extension.
func LoadAsset(path string) (pipeline.Asset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return pipeline.Asset{}, fmt.Errorf("failed to read image: %w", err)
	}
	return pipeline.Asset{
		Data:     data,
		FileName: filepath.Base(path),
		MIMEType: utils.GuessMIMEType(path),
	}, nil
}

// ProcessFile runs the whole pass for one file with the detected corners
// accepted as-is: select, detect, correct, enhance, upload, poll.
func (p *Pipeline) ProcessFile(ctx context.Context, path string) (*upload.Result, error) {
	asset, err := LoadAsset(path)
	if err != nil {
		return nil, err
	}
	if err := p.session.SelectFile(ctx, asset); err != nil {
		return nil, err
	}
	if err := p.session.ConfirmAndUpload(ctx); err != nil {
		return nil, err
	}
	return p.session.State().UploadResult, nil
}

// GetVersion returns the library version
func GetVersion() string {
	return Version
}
