package pipeline

import (
	"context"
	"errors"
	"image"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/photoprep/photoprep/pkg/codec"
	"github.com/photoprep/photoprep/pkg/editor"
	"github.com/photoprep/photoprep/pkg/enhance"
	"github.com/photoprep/photoprep/pkg/fault"
	"github.com/photoprep/photoprep/pkg/geometry"
	"github.com/photoprep/photoprep/pkg/upload"
	"github.com/photoprep/photoprep/pkg/validate"
	"github.com/photoprep/photoprep/pkg/vision"
)

// ErrSessionReset is returned by an in-flight operation whose result arrived
// after the session was reset. The stale result is dropped, never applied.
var ErrSessionReset = errors.New("session was reset")

// Deps are the collaborators a session is constructed with. Zero-valued
// fields get working defaults, except Client which is required for uploads.
type Deps struct {
	Runtime      vision.Runtime
	Rules        validate.Rules
	Corrector    *enhance.Corrector
	Client       *upload.Client
	Policy       upload.Policy
	PollInterval time.Duration
	Logger       zerolog.Logger
	Observer     Observer
}

// Session orchestrates one capture-to-upload pass. Its blocking methods are
// meant to be called sequentially from the interactive layer; Reset may be
// called concurrently to cancel whatever is in flight. CPU-bound work runs on
// worker goroutines and results are marshalled back over channels, each
// guarded by a generation token so a completion from before a reset can never
// touch state.
type Session struct {
	id           string
	machine      *Machine
	runtime      vision.Runtime
	rules        validate.Rules
	corrector    *enhance.Corrector
	client       *upload.Client
	policy       upload.Policy
	pollInterval time.Duration
	logger       zerolog.Logger

	mu         sync.Mutex
	generation uint64
	cancel     context.CancelFunc
	asset      *Asset
	img        image.Image
	editor     *editor.Editor
}

// NewSession creates a session. The observer, if any, must not call back into
// the session's mutating methods.
func NewSession(deps Deps) *Session {
	if deps.Runtime == nil {
		deps.Runtime = vision.NewNative(nil)
	}
	if deps.Corrector == nil {
		deps.Corrector = enhance.New()
	}
	if deps.Rules.MaxSizeBytes == 0 && len(deps.Rules.AllowedTypes) == 0 {
		deps.Rules = validate.DefaultRules()
	}
	if deps.Policy.MaxAttempts == 0 {
		deps.Policy = upload.DefaultPolicy
	}

	id := uuid.NewString()
	return &Session{
		id:           id,
		machine:      NewMachine(deps.Observer),
		runtime:      deps.Runtime,
		rules:        deps.Rules,
		corrector:    deps.Corrector,
		client:       deps.Client,
		policy:       deps.Policy,
		pollInterval: deps.PollInterval,
		logger:       deps.Logger.With().Str("component", "pipeline").Str("session", id).Logger(),
	}
}

// ID returns the session identifier attached to upload metadata.
func (s *Session) ID() string { return s.id }

// State returns the current snapshot.
func (s *Session) State() State { return s.machine.Snapshot() }

// begin arms a fresh cancellable context for a blocking operation and captures
// the generation it belongs to. Any previous in-flight context is cancelled.
func (s *Session) begin(ctx context.Context) (context.Context, uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.beginLocked(ctx)
}

func (s *Session) beginLocked(ctx context.Context) (context.Context, uint64) {
	if s.cancel != nil {
		s.cancel()
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	return ctx, s.generation
}

// ifCurrent runs fn under the session lock only when gen is still the live
// generation. Machine mutations from async completions all pass through here.
func (s *Session) ifCurrent(gen uint64, fn func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.generation != gen {
		return false
	}
	fn()
	return true
}

// Reset returns the session to idle, invalidating any in-flight work and any
// pending retry timer.
func (s *Session) Reset() {
	s.mu.Lock()
	s.generation++
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.asset = nil
	s.img = nil
	s.editor = nil
	s.machine.Reset()
	s.mu.Unlock()
}

// SelectFile validates and decodes the chosen file, runs boundary detection,
// and lands in the cropping state with proposed or full-frame corners. A
// missing boundary is a normal outcome, not an error.
func (s *Session) SelectFile(ctx context.Context, asset Asset) error {
	ctx, gen := s.begin(ctx)
	a := &asset

	s.ifCurrent(gen, func() { s.machine.toSelecting(a) })

	if res := validate.ValidateFile(asset.FileName, int64(len(asset.Data)), asset.MIMEType, s.rules); !res.Valid {
		err := fault.New(fault.KindValidation, "invalid_file", res.FirstError()).WithRetryable(false)
		s.ifCurrent(gen, func() { s.machine.fail(err) })
		return err
	}

	s.ifCurrent(gen, func() { s.machine.setStep("decoding image") })

	type decoded struct {
		img image.Image
		err error
	}
	decodeCh := make(chan decoded, 1)
	go func() {
		img, _, err := codec.Decode(asset.Data)
		decodeCh <- decoded{img, err}
	}()

	var img image.Image
	select {
	case <-ctx.Done():
		return ctx.Err()
	case d := <-decodeCh:
		if d.err != nil {
			s.ifCurrent(gen, func() { s.machine.fail(d.err) })
			return d.err
		}
		img = d.img
	}

	bounds := img.Bounds()
	if res := validate.ValidateDimensions(bounds.Dx(), bounds.Dy(), s.rules); !res.Valid {
		err := fault.New(fault.KindValidation, "invalid_dimensions", res.FirstError()).WithRetryable(false)
		s.ifCurrent(gen, func() { s.machine.fail(err) })
		return err
	}

	s.ifCurrent(gen, func() { s.machine.setStep("detecting boundary") })

	type detected struct {
		boundary vision.Boundary
		err      error
	}
	detectCh := make(chan detected, 1)
	go func() {
		boundary, err := s.runtime.FindBoundary(ctx, img)
		detectCh <- detected{boundary, err}
	}()

	var boundary vision.Boundary
	select {
	case <-ctx.Done():
		return ctx.Err()
	case d := <-detectCh:
		if d.err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			// detection trouble means manual corner placement, same as no hit
			s.logger.Warn().Err(d.err).Msg("boundary detection failed, falling back to full frame")
		} else {
			boundary = d.boundary
		}
	}

	var ed *editor.Editor
	if boundary.Found {
		ed = editor.New(boundary.Quad, bounds)
	} else {
		ed = editor.NewFullFrame(bounds)
	}

	committed := s.ifCurrent(gen, func() {
		s.asset = a
		s.img = img
		s.editor = ed
		s.machine.toCropping(ed.Quad(), boundary.Found, boundary.Confidence)
	})
	if !committed {
		return ErrSessionReset
	}

	s.logger.Info().
		Str("file", asset.FileName).
		Bool("boundary", boundary.Found).
		Float64("confidence", boundary.Confidence).
		Msg("file selected")
	return nil
}

// MoveCorner applies a drag delta to one corner. An edit breaking the
// simple-polygon invariant is rejected as a no-op with ok false. The returned
// quad is the set in effect after the call either way.
func (s *Session) MoveCorner(corner editor.Corner, dx, dy float64) (geometry.Quad, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.editor == nil {
		return geometry.Quad{}, false
	}
	ok := s.editor.Move(corner, dx, dy)
	quad := s.editor.Quad()
	if ok {
		s.machine.setCorners(quad)
	}
	return quad, ok
}

// SetCropArea replaces the corner set with an axis-aligned rectangle, the
// simple-cropping fallback when no boundary was detected or wanted.
func (s *Session) SetCropArea(area image.Rectangle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.editor == nil || s.img == nil {
		return fault.New(fault.KindValidation, "no_file_selected", "no file selected").WithRetryable(false)
	}
	clipped := area.Intersect(s.img.Bounds())
	if clipped.Empty() {
		return fault.New(fault.KindGeometry, "empty_crop", "crop area lies outside the image").WithRetryable(false)
	}
	if !s.editor.SetQuad(geometry.FromRect(clipped)) {
		return fault.New(fault.KindGeometry, "degenerate_crop", "crop area is degenerate").WithRetryable(false)
	}
	s.machine.setCorners(s.editor.Quad())
	return nil
}

// ConfirmAndUpload accepts the current corners and drives the remaining
// stages: correct, enhance, upload with retry, then remote job polling.
func (s *Session) ConfirmAndUpload(ctx context.Context) error {
	s.mu.Lock()
	if s.asset == nil || s.editor == nil {
		s.mu.Unlock()
		return fault.New(fault.KindValidation, "no_file_selected", "no file selected").WithRetryable(false)
	}
	asset, img, quad := s.asset, s.img, s.editor.Quad()
	ctx, gen := s.beginLocked(ctx)
	s.mu.Unlock()

	return s.processAndUpload(ctx, gen, asset, img, quad)
}

// Retry re-runs the correction and upload stages for the already selected
// asset. Without one it fails locally, no network call is made.
func (s *Session) Retry(ctx context.Context) error {
	s.mu.Lock()
	if s.asset == nil {
		s.mu.Unlock()
		return fault.New(fault.KindValidation, "no_file_selected", "No file selected for retry").WithRetryable(false)
	}
	asset, img := s.asset, s.img
	var quad geometry.Quad
	if s.editor != nil {
		quad = s.editor.Quad()
	} else {
		quad = geometry.FromRect(img.Bounds())
	}
	ctx, gen := s.beginLocked(ctx)
	s.mu.Unlock()

	return s.processAndUpload(ctx, gen, asset, img, quad)
}

func (s *Session) processAndUpload(ctx context.Context, gen uint64, asset *Asset, img image.Image, quad geometry.Quad) error {
	s.ifCurrent(gen, func() { s.machine.toUploading("correcting perspective") })

	type processed struct {
		data []byte
		w, h int
		err  error
	}
	processCh := make(chan processed, 1)
	go func() {
		data, w, h, err := s.corrector.Process(img, quad)
		processCh <- processed{data, w, h, err}
	}()

	var payload []byte
	var width, height int
	contentType := s.corrector.OutputMIME()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case p := <-processCh:
		if p.err != nil {
			// correction trouble falls back to the unwarped validated original
			s.logger.Warn().Err(p.err).Msg("correction failed, uploading original")
			b := img.Bounds()
			payload, width, height = asset.Data, b.Dx(), b.Dy()
			contentType = asset.MIMEType
		} else {
			payload, width, height = p.data, p.w, p.h
		}
	}

	if res := validate.ValidateDimensions(width, height, s.rules); !res.Valid {
		err := fault.New(fault.KindValidation, "invalid_dimensions", res.FirstError()).WithRetryable(false)
		s.ifCurrent(gen, func() { s.machine.fail(err) })
		return err
	}

	s.ifCurrent(gen, func() {
		s.machine.setCorrected(payload)
		s.machine.setStep("uploading")
	})

	meta := upload.AssetMetadata{
		FileName:    asset.FileName,
		ContentType: contentType,
		Width:       width,
		Height:      height,
		SessionID:   s.id,
	}

	var result *upload.Result
	op := func(ctx context.Context) error {
		r, err := s.client.SubmitAsset(ctx, payload, meta, func(sent, total int64) {
			if total > 0 {
				s.ifCurrent(gen, func() { s.machine.setProgress(int(sent * 90 / total)) })
			}
		})
		if err != nil {
			return err
		}
		result = r
		return nil
	}
	onRetry := func(attempt int, delay time.Duration, err error) {
		s.logger.Warn().Err(err).Int("attempt", attempt).Dur("delay", delay).Msg("upload attempt failed, retrying")
		s.ifCurrent(gen, func() { s.machine.beginAttempt() })
	}

	if err := upload.ExecuteWithRetry(ctx, op, s.policy, onRetry); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.ifCurrent(gen, func() { s.machine.fail(err) })
		return err
	}

	s.ifCurrent(gen, func() {
		s.machine.setProgress(90)
		s.machine.toProcessing(result)
	})

	if result.JobID == "" {
		if !s.ifCurrent(gen, func() { s.machine.toComplete(result) }) {
			return ErrSessionReset
		}
		return nil
	}

	status, err := s.client.WaitForJob(ctx, result.JobID, s.pollInterval)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.ifCurrent(gen, func() { s.machine.fail(err) })
		return err
	}
	if status.Status == upload.JobFailed {
		err := fault.New(fault.KindProcessing, "remote_processing_failed", status.Error).WithRetryable(false)
		s.ifCurrent(gen, func() { s.machine.fail(err) })
		return err
	}

	result.ProcessingStatus = string(status.Status)
	if status.ResultRef != "" {
		result.ThumbnailRef = status.ResultRef
	}
	if !s.ifCurrent(gen, func() { s.machine.toComplete(result) }) {
		return ErrSessionReset
	}

	s.logger.Info().Str("upload_id", result.UploadID).Msg("session complete")
	return nil
}
