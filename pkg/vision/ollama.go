package vision

import (
	"context"
	"encoding/json"
	"fmt"
	"image"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/ollama/ollama/api"
	"github.com/rs/zerolog"

	"github.com/photoprep/photoprep/pkg/codec"
	"github.com/photoprep/photoprep/pkg/geometry"
)

// boundaryPrompt instructs the vision model to locate the physical photo in
// the frame and answer with corner coordinates only.
const boundaryPrompt = `You are a photo boundary locator. The image shows a physical photograph lying on a surface.

Return JSON only:
{
  "found": true,
  "confidence": 0.0,
  "corners": {
    "topLeft": {"x": 0.0, "y": 0.0},
    "topRight": {"x": 0.0, "y": 0.0},
    "bottomLeft": {"x": 0.0, "y": 0.0},
    "bottomRight": {"x": 0.0, "y": 0.0}
  }
}

HARD RULES
- All coordinates are normalized to [0,1] (NOT pixels).
- The four corners must outline the edges of the physical photograph, not the whole frame.
- confidence is your certainty in [0,1].
- If no photograph is visible, return {"found": false, "confidence": 0.0}.
- JSON only. No markdown, no code fences, no comments, no trailing commas.`

const defaultModelTimeout = 300 * time.Second

// Ollama asks a multimodal model running on an Ollama server for the photo
// boundary. Model answers that cannot be parsed count as "nothing detected"
// rather than errors, so callers fall back the same way they would for a
// low-confidence native detection.
type Ollama struct {
	client *api.Client
	model  string
	logger zerolog.Logger
}

// NewOllama creates a runtime backed by an Ollama server. Any path on the URL
// is ignored; only scheme and host are used.
func NewOllama(serverURL, model string, logger zerolog.Logger) (*Ollama, error) {
	parsed, err := url.Parse(serverURL)
	if err != nil {
		return nil, fmt.Errorf("invalid ollama URL: %w", err)
	}
	base := &url.URL{Scheme: parsed.Scheme, Host: parsed.Host}

	return &Ollama{
		client: api.NewClient(base, http.DefaultClient),
		model:  model,
		logger: logger.With().Str("component", "vision").Str("model", model).Logger(),
	}, nil
}

func (o *Ollama) FindBoundary(ctx context.Context, img image.Image) (Boundary, error) {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultModelTimeout)
		defer cancel()
	}

	jpeg, err := codec.Encode(img, "jpeg", 85)
	if err != nil {
		return Boundary{}, fmt.Errorf("failed to encode frame for model: %w", err)
	}

	streamFalse := false
	req := &api.ChatRequest{
		Model: o.model,
		Messages: []api.Message{
			{
				Role:    "user",
				Content: boundaryPrompt,
				Images:  []api.ImageData{api.ImageData(jpeg)},
			},
		},
		Stream: &streamFalse,
	}

	var content string
	err = o.client.Chat(ctx, req, func(resp api.ChatResponse) error {
		content = resp.Message.Content
		return nil
	})
	if err != nil {
		return Boundary{}, fmt.Errorf("ollama chat error: %w", err)
	}

	boundary, ok := parseBoundary(content, img.Bounds())
	if !ok {
		o.logger.Debug().Str("response", truncate(content, 200)).Msg("model answer did not yield a usable boundary")
		return Boundary{}, nil
	}
	return boundary, nil
}

type cornerPayload struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type boundaryPayload struct {
	Found      bool    `json:"found"`
	Confidence float64 `json:"confidence"`
	Corners    struct {
		TopLeft     cornerPayload `json:"topLeft"`
		TopRight    cornerPayload `json:"topRight"`
		BottomLeft  cornerPayload `json:"bottomLeft"`
		BottomRight cornerPayload `json:"bottomRight"`
	} `json:"corners"`
}

// parseBoundary turns a model answer into a validated boundary. It tolerates
// code fences, comments, trailing commas and pixel-space coordinates, and
// reports ok=false for anything that cannot become a simple quad.
func parseBoundary(raw string, bounds image.Rectangle) (Boundary, bool) {
	raw = sanitizeModelJSON(raw)
	if !strings.HasPrefix(raw, "{") {
		return Boundary{}, false
	}

	var payload boundaryPayload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return Boundary{}, false
	}
	if !payload.Found {
		return Boundary{}, false
	}

	w := float64(bounds.Dx())
	h := float64(bounds.Dy())
	if w <= 0 || h <= 0 {
		return Boundary{}, false
	}

	quad := geometry.OrderCorners([4]geometry.Point{
		toPixels(payload.Corners.TopLeft, w, h),
		toPixels(payload.Corners.TopRight, w, h),
		toPixels(payload.Corners.BottomLeft, w, h),
		toPixels(payload.Corners.BottomRight, w, h),
	})
	if !quad.IsSimple() {
		return Boundary{}, false
	}

	confidence := payload.Confidence
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}
	return Boundary{Quad: quad, Confidence: confidence, Found: true}, true
}

// toPixels maps a model coordinate into frame space. Values in [0,1] are
// treated as normalized; anything larger is assumed to already be pixels.
func toPixels(c cornerPayload, w, h float64) geometry.Point {
	x, y := c.X, c.Y
	if x <= 1 && y <= 1 {
		x *= w
		y *= h
	}
	return geometry.Point{X: clampf(x, 0, w-1), Y: clampf(y, 0, h-1)}
}

func clampf(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

var (
	reBlockComment  = regexp.MustCompile(`(?s)/\*.*?\*/`)
	reLineComment   = regexp.MustCompile(`(?m)^\s*//.*$`)
	reInlineComment = regexp.MustCompile(`(?m)//.*$`)
	reTrailingComma = regexp.MustCompile(`,(\s*[}\]])`)
)

// sanitizeModelJSON strips code fences, comments and trailing commas, then
// keeps only the outermost object.
func sanitizeModelJSON(raw string) string {
	raw = strings.TrimSpace(raw)

	if strings.HasPrefix(raw, "```") {
		if i := strings.Index(raw, "\n"); i >= 0 {
			raw = raw[i+1:]
		}
		if j := strings.LastIndex(raw, "```"); j >= 0 {
			raw = raw[:j]
		}
	}
	raw = strings.Trim(strings.TrimSpace(raw), "`")

	raw = reBlockComment.ReplaceAllString(raw, "")
	raw = reLineComment.ReplaceAllString(raw, "")
	raw = reInlineComment.ReplaceAllString(raw, "")
	raw = reTrailingComma.ReplaceAllString(raw, "$1")

	if start := strings.Index(raw, "{"); start >= 0 {
		if end := strings.LastIndex(raw, "}"); end > start {
			raw = raw[start : end+1]
		}
	}
	return strings.TrimSpace(raw)
}
