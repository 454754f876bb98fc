package upload

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/photoprep/photoprep/pkg/fault"
)

// Client is the transport boundary to the remote restoration service. It is
// constructed explicitly and passed in, one instance per app session, with no
// process-wide singleton.
type Client struct {
	baseURL    *url.URL
	apiKey     string
	httpClient *http.Client
	logger     zerolog.Logger
}

// NewClient creates a transport client for the given service URL.
func NewClient(rawURL, apiKey string, logger zerolog.Logger) (*Client, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid service URL: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("unsupported URL scheme: %s (only http and https are supported)", parsed.Scheme)
	}

	return &Client{
		baseURL:    &url.URL{Scheme: parsed.Scheme, Host: parsed.Host},
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 120 * time.Second},
		logger:     logger.With().Str("component", "upload").Logger(),
	}, nil
}

// SetHTTPClient overrides the underlying HTTP client, mainly for tests.
func (c *Client) SetHTTPClient(hc *http.Client) {
	c.httpClient = hc
}

// AssetMetadata accompanies the asset bytes on submission.
type AssetMetadata struct {
	FileName    string
	ContentType string
	Width       int
	Height      int
	SessionID   string
}

// Result describes a successfully stored asset. It is created only after a
// successful transport call and immutable thereafter.
type Result struct {
	UploadID         string `json:"uploadId"`
	StorageKey       string `json:"storageKey"`
	ThumbnailRef     string `json:"thumbnailRef,omitempty"`
	OriginalFileName string `json:"originalFileName"`
	FileSizeBytes    int64  `json:"fileSizeBytes"`
	Width            int    `json:"width"`
	Height           int    `json:"height"`
	ProcessingStatus string `json:"processingStatus"`
	JobID            string `json:"jobId,omitempty"`
}

// ProgressFunc receives transfer progress as bytes sent out of total.
type ProgressFunc func(sent, total int64)

// SubmitAsset transmits the asset as a multipart request and decodes the
// stored-asset descriptor. Non-2xx responses carry the status and body as
// error detail; connectivity failures classify as network errors.
func (c *Client) SubmitAsset(ctx context.Context, data []byte, meta AssetMetadata, progress ProgressFunc) (*Result, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fields := map[string]string{
		"fileName":    meta.FileName,
		"contentType": meta.ContentType,
		"width":       strconv.Itoa(meta.Width),
		"height":      strconv.Itoa(meta.Height),
		"sessionId":   meta.SessionID,
	}
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			return nil, fault.Newf(fault.KindUpload, "request_build_failed",
				"failed to build upload request: %v", err).WithRetryable(false)
		}
	}
	part, err := mw.CreateFormFile("file", meta.FileName)
	if err != nil {
		return nil, fault.Newf(fault.KindUpload, "request_build_failed",
			"failed to build upload request: %v", err).WithRetryable(false)
	}
	if _, err := part.Write(data); err != nil {
		return nil, fault.Newf(fault.KindUpload, "request_build_failed",
			"failed to build upload request: %v", err).WithRetryable(false)
	}
	if err := mw.Close(); err != nil {
		return nil, fault.Newf(fault.KindUpload, "request_build_failed",
			"failed to build upload request: %v", err).WithRetryable(false)
	}

	endpoint := c.baseURL.JoinPath("/v1/uploads").String()
	reader := &progressReader{r: &body, total: int64(body.Len()), fn: progress}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, reader)
	if err != nil {
		return nil, fault.Newf(fault.KindUpload, "request_build_failed",
			"failed to create request: %v", err).WithRetryable(false)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.ContentLength = reader.total
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	c.logger.Debug().Str("file", meta.FileName).Int64("bytes", reader.total).Msg("submitting asset")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fault.Newf(fault.KindNetwork, "connection_failed",
			"failed to reach upload service: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, statusError(resp)
	}

	var result Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fault.Newf(fault.KindUpload, "bad_response",
			"upload service returned an unreadable response: %v", err)
	}

	c.logger.Info().Str("upload_id", result.UploadID).Str("key", result.StorageKey).Msg("asset stored")
	return &result, nil
}

// statusError maps a non-2xx response onto the error taxonomy, preserving
// status and body as detail.
func statusError(resp *http.Response) error {
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))

	var e *fault.Error
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		e = fault.New(fault.KindPermission, "upload_unauthorized",
			"upload service rejected the credentials")
	case resp.StatusCode == http.StatusRequestEntityTooLarge:
		e = fault.New(fault.KindValidation, "payload_too_large",
			"upload service rejected the file size")
	case resp.StatusCode == http.StatusInsufficientStorage:
		e = fault.New(fault.KindStorage, "quota_exceeded",
			"upload service is out of storage capacity")
	case resp.StatusCode >= 500:
		e = fault.Newf(fault.KindUpload, "server_error",
			"upload failed with status %d", resp.StatusCode)
	case resp.StatusCode == http.StatusTooManyRequests:
		e = fault.Newf(fault.KindUpload, "rate_limited",
			"upload throttled with status %d", resp.StatusCode)
	default:
		e = fault.Newf(fault.KindUpload, "rejected",
			"upload rejected with status %d", resp.StatusCode).WithRetryable(false)
	}
	return e.WithDetail("status", resp.StatusCode).WithDetail("body", string(snippet))
}

func newGetRequest(ctx context.Context, endpoint, apiKey string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fault.Newf(fault.KindUpload, "request_build_failed",
			"failed to create request: %v", err).WithRetryable(false)
	}
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}
	return req, nil
}

// progressReader reports bytes consumed by the HTTP transport.
type progressReader struct {
	r     io.Reader
	total int64
	sent  int64
	fn    ProgressFunc
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.sent += int64(n)
		if p.fn != nil {
			p.fn(p.sent, p.total)
		}
	}
	return n, err
}
