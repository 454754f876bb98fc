package vision

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/photoprep/photoprep/pkg/codec"
)

// OpenAI-compatible message format used by llama.cpp servers.
type chatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"` // string or []contentPart
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Stream      bool          `json:"stream"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// LlamaCpp asks a multimodal model behind a llama.cpp server (or any
// OpenAI-compatible chat endpoint) for the photo boundary. Like the Ollama
// runtime, unusable answers count as "nothing detected".
type LlamaCpp struct {
	baseURL    string
	model      string
	httpClient *http.Client
	logger     zerolog.Logger
}

// NewLlamaCpp creates a runtime backed by an OpenAI-compatible server. An
// empty URL targets the default local llama.cpp port.
func NewLlamaCpp(serverURL, model string, logger zerolog.Logger) *LlamaCpp {
	if serverURL == "" {
		serverURL = "http://localhost:8080"
	}
	return &LlamaCpp{
		baseURL:    strings.TrimSuffix(serverURL, "/"),
		model:      model,
		httpClient: &http.Client{Timeout: 5 * time.Minute},
		logger:     logger.With().Str("component", "vision").Str("model", model).Logger(),
	}
}

func (l *LlamaCpp) FindBoundary(ctx context.Context, img image.Image) (Boundary, error) {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultModelTimeout)
		defer cancel()
	}

	jpeg, err := codec.Encode(img, "jpeg", 85)
	if err != nil {
		return Boundary{}, fmt.Errorf("failed to encode frame for model: %w", err)
	}

	req := chatRequest{
		Model: l.model,
		Messages: []chatMessage{
			{
				Role: "user",
				Content: []contentPart{
					{Type: "text", Text: boundaryPrompt},
					{Type: "image_url", ImageURL: &imageURL{
						URL: "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(jpeg),
					}},
				},
			},
		},
		Temperature: 0.2,
		MaxTokens:   1024,
	}

	body, err := json.Marshal(req)
	if err != nil {
		return Boundary{}, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, l.baseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return Boundary{}, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := l.httpClient.Do(httpReq)
	if err != nil {
		return Boundary{}, fmt.Errorf("llama.cpp request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return Boundary{}, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return Boundary{}, fmt.Errorf("llama.cpp server returned status %d: %s", resp.StatusCode, string(respBody))
	}

	var parsed chatResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return Boundary{}, fmt.Errorf("failed to parse response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return Boundary{}, fmt.Errorf("no choices in response")
	}

	content := extractText(parsed.Choices[0].Message.Content)
	boundary, ok := parseBoundary(content, img.Bounds())
	if !ok {
		l.logger.Debug().Str("response", truncate(content, 200)).Msg("model answer did not yield a usable boundary")
		return Boundary{}, nil
	}
	return boundary, nil
}

// extractText handles both the plain-string and content-part answer shapes.
func extractText(content any) string {
	switch c := content.(type) {
	case string:
		return c
	case []any:
		for _, item := range c {
			part, ok := item.(map[string]any)
			if !ok {
				continue
			}
			if text, ok := part["text"].(string); ok && text != "" {
				return text
			}
		}
	}
	return ""
}
