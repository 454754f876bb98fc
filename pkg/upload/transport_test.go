package upload

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/photoprep/photoprep/pkg/fault"
)

func testClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewClient(server.URL, "test-key", zerolog.Nop())
	require.NoError(t, err)
	client.SetHTTPClient(server.Client())
	return client, server
}

func TestNewClientRejectsBadURL(t *testing.T) {
	_, err := NewClient("ftp://example.com", "", zerolog.Nop())
	assert.Error(t, err)
}

func TestSubmitAssetSuccess(t *testing.T) {
	client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/uploads", r.URL.Path)
		require.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "photo.jpg", r.FormValue("fileName"))
		assert.Equal(t, "image/jpeg", r.FormValue("contentType"))

		file, header, err := r.FormFile("file")
		require.NoError(t, err)
		defer file.Close()
		assert.Equal(t, "photo.jpg", header.Filename)

		json.NewEncoder(w).Encode(Result{
			UploadID:         "up-1",
			StorageKey:       "assets/up-1.jpg",
			OriginalFileName: "photo.jpg",
			FileSizeBytes:    4,
			ProcessingStatus: "pending",
			JobID:            "job-1",
		})
	}))

	var progressCalls atomic.Int32
	var lastSent, total int64
	result, err := client.SubmitAsset(context.Background(), []byte("data"), AssetMetadata{
		FileName:    "photo.jpg",
		ContentType: "image/jpeg",
		Width:       1024,
		Height:      768,
		SessionID:   "sess-1",
	}, func(sent, t int64) {
		progressCalls.Add(1)
		lastSent, total = sent, t
	})

	require.NoError(t, err)
	assert.Equal(t, "up-1", result.UploadID)
	assert.Equal(t, "assets/up-1.jpg", result.StorageKey)
	assert.Equal(t, "job-1", result.JobID)

	assert.Positive(t, progressCalls.Load())
	assert.Equal(t, total, lastSent, "progress must reach the total byte count")
}

func TestSubmitAssetStatusMapping(t *testing.T) {
	cases := []struct {
		status    int
		wantKind  fault.Kind
		retryable bool
	}{
		{http.StatusUnauthorized, fault.KindPermission, false},
		{http.StatusForbidden, fault.KindPermission, false},
		{http.StatusRequestEntityTooLarge, fault.KindValidation, false},
		{http.StatusInsufficientStorage, fault.KindStorage, false},
		{http.StatusInternalServerError, fault.KindUpload, true},
		{http.StatusBadGateway, fault.KindUpload, true},
		{http.StatusTooManyRequests, fault.KindUpload, true},
		{http.StatusBadRequest, fault.KindUpload, false},
	}

	for _, c := range cases {
		client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "nope", c.status)
		}))

		_, err := client.SubmitAsset(context.Background(), []byte("x"), AssetMetadata{FileName: "a.jpg"}, nil)
		require.Error(t, err, "status %d", c.status)

		var fe *fault.Error
		require.ErrorAs(t, err, &fe, "status %d", c.status)
		assert.Equal(t, c.wantKind, fe.Kind, "status %d", c.status)
		assert.Equal(t, c.retryable, fe.Retryable, "status %d", c.status)
		assert.Equal(t, c.status, fe.Details["status"])
		assert.Contains(t, fe.Details["body"], "nope", "body is preserved as detail")
	}
}

func TestSubmitAssetNetworkError(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	client, err := NewClient(server.URL, "", zerolog.Nop())
	require.NoError(t, err)
	server.Close() // connection refused from here on

	_, err = client.SubmitAsset(context.Background(), []byte("x"), AssetMetadata{FileName: "a.jpg"}, nil)
	require.Error(t, err)
	assert.Equal(t, fault.KindNetwork, fault.KindOf(err))
}

func TestSubmitAssetUnderRetryPolicy(t *testing.T) {
	var calls atomic.Int32
	client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "temporarily unavailable", http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(Result{UploadID: "up-2", ProcessingStatus: "pending"})
	}))

	policy := fastPolicy(3, fault.KindNetwork, fault.KindUpload)
	var result *Result
	err := ExecuteWithRetry(context.Background(), func(ctx context.Context) error {
		r, err := client.SubmitAsset(ctx, []byte("x"), AssetMetadata{FileName: "a.jpg"}, nil)
		if err != nil {
			return err
		}
		result = r
		return nil
	}, policy, nil)

	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, "up-2", result.UploadID)
}

func TestJobStatusAndWait(t *testing.T) {
	var polls atomic.Int32
	client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/jobs/job-9", r.URL.Path)
		status := JobStatus{JobID: "job-9", Status: JobProcessing}
		if polls.Add(1) >= 3 {
			status.Status = JobCompleted
			status.ResultRef = "results/job-9"
		}
		json.NewEncoder(w).Encode(status)
	}))

	status, err := client.WaitForJob(context.Background(), "job-9", 5*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, JobCompleted, status.Status)
	assert.Equal(t, "results/job-9", status.ResultRef)
	assert.Equal(t, int32(3), polls.Load())
}

func TestWaitForJobCancellation(t *testing.T) {
	fetch := func(ctx context.Context, jobID string) (*JobStatus, error) {
		return &JobStatus{JobID: jobID, Status: JobPending}, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := WaitForJob(ctx, fetch, "job-1", time.Hour)
		done <- err
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.True(t, errors.Is(err, context.Canceled))
	case <-time.After(2 * time.Second):
		t.Fatal("WaitForJob did not honor cancellation")
	}
}

func TestWaitForJobFailure(t *testing.T) {
	fetch := func(ctx context.Context, jobID string) (*JobStatus, error) {
		return &JobStatus{JobID: jobID, Status: JobFailed, Error: "model error"}, nil
	}

	status, err := WaitForJob(context.Background(), fetch, "job-2", time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, JobFailed, status.Status)
	assert.Equal(t, "model error", status.Error)
}
