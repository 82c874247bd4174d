package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/maauso/genstudio-api/internal/generation"
	"github.com/maauso/genstudio-api/internal/job"
	"github.com/maauso/genstudio-api/internal/pipeline"
	"github.com/maauso/genstudio-api/internal/provider"
	"github.com/maauso/genstudio-api/internal/reconciler"
)

// mockGenerations implements GenerationService for testing.
type mockGenerations struct {
	mock.Mock
}

func (m *mockGenerations) Create(ctx context.Context, in generation.Input) (*job.Job, error) {
	args := m.Called(ctx, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*job.Job), args.Error(1)
}

func (m *mockGenerations) Get(ctx context.Context, id string) (*job.Job, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*job.Job), args.Error(1)
}

func (m *mockGenerations) List(ctx context.Context, f job.Filter) ([]*job.Job, error) {
	args := m.Called(ctx, f)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*job.Job), args.Error(1)
}

func (m *mockGenerations) CheckStatus(ctx context.Context, id string) (*job.Job, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*job.Job), args.Error(1)
}

func (m *mockGenerations) Delete(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

func (m *mockGenerations) BulkDelete(ctx context.Context, ids []string) (generation.BulkDeleteResult, error) {
	args := m.Called(ctx, ids)
	return args.Get(0).(generation.BulkDeleteResult), args.Error(1)
}

// mockNotices implements NoticeHandler for testing.
type mockNotices struct {
	mock.Mock
}

func (m *mockNotices) HandleNotice(ctx context.Context, providerName string, n provider.Notice) (*job.Job, error) {
	args := m.Called(ctx, providerName, n)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*job.Job), args.Error(1)
}

// mockPipelines implements PipelineRunner for testing.
type mockPipelines struct {
	mock.Mock
}

func (m *mockPipelines) Run(ctx context.Context, req pipeline.Request) (*pipeline.Result, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*pipeline.Result), args.Error(1)
}

func (m *mockPipelines) GetRun(ctx context.Context, runID string) (*pipeline.Result, error) {
	args := m.Called(ctx, runID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*pipeline.Result), args.Error(1)
}

func (m *mockPipelines) Merge(ctx context.Context, jobIDs []string) (*pipeline.MergeResult, error) {
	args := m.Called(ctx, jobIDs)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*pipeline.MergeResult), args.Error(1)
}

func (m *mockPipelines) StageCatalogue() []pipeline.Stage {
	return m.Called().Get(0).([]pipeline.Stage)
}

func (m *mockPipelines) UploadReference(ctx context.Context, data []byte, contentType string) (string, error) {
	args := m.Called(ctx, data, contentType)
	return args.String(0), args.Error(1)
}

type testServer struct {
	handler     http.Handler
	generations *mockGenerations
	notices     *mockNotices
	pipelines   *mockPipelines
}

func newTestServer(t *testing.T, cfg Config, opts ...HandlerOption) *testServer {
	t.Helper()
	registry := provider.NewRegistry()
	require.NoError(t, registry.Register(provider.NewKlingAdapter(nil, nil, "")))

	ts := &testServer{
		generations: &mockGenerations{},
		notices:     &mockNotices{},
		pipelines:   &mockPipelines{},
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	h := NewHandlers(ts.generations, ts.notices, ts.pipelines, registry, logger, opts...)
	ts.handler = NewRouter(h, logger, cfg)
	return ts
}

func (ts *testServer) do(t *testing.T, method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		r = strings.NewReader(b)
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		r = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func sampleJob(status job.Status) *job.Job {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	j := job.New(provider.NameKling, provider.Request{
		Kind:   provider.KindTextToVideo,
		Model:  "kling-v2-6",
		Prompt: "A golden retriever playing piano",
		Params: provider.Params{Duration: "5s", AspectRatio: "16:9"},
	}, now)
	j.Status = status
	return j
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, DefaultConfig())

	rec := ts.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decodeBody[HealthResponse](t, rec).Status)
	assert.NotEmpty(t, rec.Header().Get(RequestIDHeader))
}

func TestRequestIDIsEchoed(t *testing.T) {
	ts := newTestServer(t, DefaultConfig())

	rec := ts.do(t, http.MethodGet, "/health", nil, RequestIDHeader, "req-123")
	assert.Equal(t, "req-123", rec.Header().Get(RequestIDHeader))
}

func TestModels(t *testing.T) {
	ts := newTestServer(t, DefaultConfig())

	rec := ts.do(t, http.MethodGet, "/models", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeBody[ModelsResponse](t, rec)
	require.NotEmpty(t, resp.Models)
	assert.Equal(t, provider.NameKling, resp.Models[0].Provider)
}

func TestCreateGeneration(t *testing.T) {
	ts := newTestServer(t, DefaultConfig())
	created := sampleJob(job.StatusInProgress)

	ts.generations.On("Create", mock.Anything, mock.MatchedBy(func(in generation.Input) bool {
		return in.Kind == provider.KindTextToVideo &&
			in.Model == "Kling 2.6" &&
			in.Prompt == "A golden retriever playing piano" &&
			in.Params.Duration == "5s" &&
			in.Params.AspectRatio == "16:9"
	})).Return(created, nil)

	rec := ts.do(t, http.MethodPost, "/generations", CreateGenerationRequest{
		Kind:        "text-to-video",
		Prompt:      "A golden retriever playing piano",
		ModelName:   "Kling 2.6",
		Duration:    "5s",
		AspectRatio: "16:9",
	})

	require.Equal(t, http.StatusAccepted, rec.Code)
	resp := decodeBody[CreateGenerationResponse](t, rec)
	assert.Equal(t, created.ID, resp.JobID)
	assert.Equal(t, "in_progress", resp.Status)
	ts.generations.AssertExpectations(t)
}

func TestCreateGeneration_Rejections(t *testing.T) {
	tests := []struct {
		name     string
		body     any
		err      error
		wantCode string
	}{
		{name: "invalid json", body: "{not json", wantCode: "INVALID_JSON"},
		{name: "missing kind", body: CreateGenerationRequest{Prompt: "x"}, wantCode: "VALIDATION_ERROR"},
		{name: "bad image url", body: CreateGenerationRequest{Kind: "image-to-video", ImageURL: "not a url"}, wantCode: "VALIDATION_ERROR"},
		{name: "strength out of range", body: map[string]any{"kind": "image-to-image", "prompt": "x", "strength": 1.5}, wantCode: "VALIDATION_ERROR"},
		{name: "prompt required", body: CreateGenerationRequest{Kind: "text-to-video"}, err: generation.ErrPromptRequired, wantCode: "VALIDATION_ERROR"},
		{name: "unknown model", body: CreateGenerationRequest{Kind: "text-to-video", Prompt: "x", ModelName: "kling"}, err: provider.ErrUnknownModel, wantCode: "UNKNOWN_MODEL"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t, DefaultConfig())
			if tt.err != nil {
				ts.generations.On("Create", mock.Anything, mock.Anything).Return(nil, tt.err)
			}

			rec := ts.do(t, http.MethodPost, "/generations", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, tt.wantCode, decodeBody[ErrorResponse](t, rec).Code)
			if tt.err == nil {
				ts.generations.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
			}
		})
	}
}

func TestGetGeneration(t *testing.T) {
	ts := newTestServer(t, DefaultConfig())
	done := sampleJob(job.StatusCompleted)
	done.VideoURL = "https://store.example.com/generations/" + done.ID + "/video.mp4"
	done.ThumbnailURL = "https://store.example.com/generations/" + done.ID + "/thumbnail.jpg"

	ts.generations.On("Get", mock.Anything, done.ID).Return(done, nil)
	ts.generations.On("Get", mock.Anything, "missing").Return(nil, job.ErrJobNotFound)

	rec := ts.do(t, http.MethodGet, "/generations/"+done.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeBody[GenerationResponse](t, rec)
	assert.Equal(t, "completed", resp.Status)
	assert.Equal(t, done.VideoURL, resp.VideoURL)
	assert.Equal(t, done.ThumbnailURL, resp.ThumbnailURL)
	assert.Equal(t, "5s", resp.Duration)

	rec = ts.do(t, http.MethodGet, "/generations/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetGeneration_FailedCarriesCodeAndMessage(t *testing.T) {
	ts := newTestServer(t, DefaultConfig())
	failed := sampleJob(job.StatusFailed)
	failed.ErrorCode = provider.CodeQuotaExceeded
	failed.ErrorMessage = "Account balance not enough"

	ts.generations.On("Get", mock.Anything, failed.ID).Return(failed, nil)

	resp := decodeBody[GenerationResponse](t, ts.do(t, http.MethodGet, "/generations/"+failed.ID, nil))
	assert.Equal(t, "QUOTA_EXCEEDED", resp.ErrorCode)
	assert.Equal(t, "Account balance not enough", resp.ErrorMessage)
}

func TestCheckGeneration(t *testing.T) {
	ts := newTestServer(t, DefaultConfig())
	j := sampleJob(job.StatusCompleted)
	ts.generations.On("CheckStatus", mock.Anything, j.ID).Return(j, nil)

	rec := ts.do(t, http.MethodPost, "/generations/"+j.ID+"/check", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "completed", decodeBody[GenerationResponse](t, rec).Status)
	ts.generations.AssertExpectations(t)
}

func TestListGenerations(t *testing.T) {
	ts := newTestServer(t, DefaultConfig())
	jobs := []*job.Job{sampleJob(job.StatusCompleted), sampleJob(job.StatusCompleted)}

	ts.generations.On("List", mock.Anything, job.Filter{Status: job.StatusCompleted, Kind: provider.KindTextToVideo, Limit: 10}).
		Return(jobs, nil)

	rec := ts.do(t, http.MethodGet, "/generations?status=completed&kind=text-to-video&limit=10", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeBody[ListGenerationsResponse](t, rec)
	assert.Equal(t, 2, resp.Count)
	assert.Len(t, resp.Generations, 2)

	for _, bad := range []string{"?status=done", "?kind=audio", "?limit=0", "?limit=abc"} {
		rec := ts.do(t, http.MethodGet, "/generations"+bad, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, bad)
	}
}

func TestDeleteGeneration(t *testing.T) {
	ts := newTestServer(t, DefaultConfig())
	ts.generations.On("Delete", mock.Anything, "job-1").Return(nil)
	ts.generations.On("Delete", mock.Anything, "missing").Return(job.ErrJobNotFound)

	assert.Equal(t, http.StatusNoContent, ts.do(t, http.MethodDelete, "/generations/job-1", nil).Code)
	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodDelete, "/generations/missing", nil).Code)
}

func TestBulkDeleteGenerations(t *testing.T) {
	ts := newTestServer(t, DefaultConfig())
	ts.generations.On("BulkDelete", mock.Anything, []string{"a", "b"}).
		Return(generation.BulkDeleteResult{Deleted: []string{"a"}, NotFound: []string{"b"}}, nil)

	rec := ts.do(t, http.MethodPost, "/generations/bulk-delete", BulkDeleteRequest{IDs: []string{"a", "b"}})
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeBody[BulkDeleteResponse](t, rec)
	assert.Equal(t, []string{"a"}, resp.Deleted)
	assert.Equal(t, []string{"b"}, resp.NotFound)

	rec = ts.do(t, http.MethodPost, "/generations/bulk-delete", BulkDeleteRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWebhook(t *testing.T) {
	ts := newTestServer(t, DefaultConfig())
	done := sampleJob(job.StatusCompleted)

	ts.notices.On("HandleNotice", mock.Anything, "veo", provider.Notice{
		Handle: "operations/abc",
		State:  provider.StateSucceeded,
		Artifacts: provider.Artifacts{
			VideoURL:     "https://provider.example.com/v.mp4",
			ImageURL:     "https://provider.example.com/v.mp4",
			ThumbnailURL: "https://provider.example.com/t.jpg",
		},
	}).Return(done, nil)

	rec := ts.do(t, http.MethodPost, "/webhooks/veo", WebhookRequest{
		ProviderJobHandle: "operations/abc",
		Status:            "completed",
		ArtifactURL:       "https://provider.example.com/v.mp4",
		ThumbnailURL:      "https://provider.example.com/t.jpg",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decodeBody[WebhookResponse](t, rec).Ack)
	ts.notices.AssertExpectations(t)
}

func TestWebhook_UnknownHandle(t *testing.T) {
	ts := newTestServer(t, DefaultConfig())
	ts.notices.On("HandleNotice", mock.Anything, "veo", mock.Anything).Return(nil, reconciler.ErrUnknownHandle)

	rec := ts.do(t, http.MethodPost, "/webhooks/veo", WebhookRequest{ProviderJobHandle: "nope", Status: "failed", Error: "boom"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestWebhook_Token(t *testing.T) {
	ts := newTestServer(t, DefaultConfig(), WithWebhookToken("s3cret"))
	ts.notices.On("HandleNotice", mock.Anything, "veo", mock.Anything).Return(sampleJob(job.StatusFailed), nil)

	body := WebhookRequest{ProviderJobHandle: "operations/abc", Status: "failed"}
	assert.Equal(t, http.StatusUnauthorized, ts.do(t, http.MethodPost, "/webhooks/veo", body).Code)
	assert.Equal(t, http.StatusUnauthorized, ts.do(t, http.MethodPost, "/webhooks/veo", body, "X-Webhook-Token", "wrong").Code)
	assert.Equal(t, http.StatusOK, ts.do(t, http.MethodPost, "/webhooks/veo", body, "X-Webhook-Token", "s3cret").Code)
	ts.notices.AssertNumberOfCalls(t, "HandleNotice", 1)
}

func TestKlingCallback(t *testing.T) {
	ts := newTestServer(t, DefaultConfig())
	done := sampleJob(job.StatusCompleted)

	ts.notices.On("HandleNotice", mock.Anything, provider.NameKling, mock.MatchedBy(func(n provider.Notice) bool {
		return n.Handle == "text2video:task-42" &&
			n.State == provider.StateSucceeded &&
			n.Artifacts.VideoURL == "https://cdn.klingai.example/v.mp4"
	})).Return(done, nil)

	payload := `{"task_id":"task-42","task_status":"succeed","task_result":{"videos":[{"id":"v1","url":"https://cdn.klingai.example/v.mp4","duration":"5"}]}}`
	rec := ts.do(t, http.MethodPost, "/webhooks/kling?endpoint=text2video", payload)
	require.Equal(t, http.StatusOK, rec.Code)
	ts.notices.AssertExpectations(t)

	rec = ts.do(t, http.MethodPost, "/webhooks/kling", payload)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "callback without endpoint")
}

func TestRunPipeline(t *testing.T) {
	ts := newTestServer(t, DefaultConfig())
	full := &pipeline.Result{RunID: "run-1", VideoURL: "https://store.example.com/run-1.mp4"}
	partial := &pipeline.Result{RunID: "run-2", Failure: &pipeline.Failure{Unit: pipeline.UnitStage, Order: 4, Reason: "blocked"}}

	ts.pipelines.On("Run", mock.Anything, mock.MatchedBy(func(r pipeline.Request) bool {
		return r.ReferenceImageURL == "https://uploads.example.com/ok.png"
	})).Return(full, nil)
	ts.pipelines.On("Run", mock.Anything, mock.MatchedBy(func(r pipeline.Request) bool {
		return r.ReferenceImageURL == "https://uploads.example.com/partial.png"
	})).Return(partial, nil)

	rec := ts.do(t, http.MethodPost, "/pipelines/construction", RunPipelineRequest{ReferenceImageURL: "https://uploads.example.com/ok.png"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "run-1", decodeBody[pipeline.Result](t, rec).RunID)

	rec = ts.do(t, http.MethodPost, "/pipelines/construction", RunPipelineRequest{ReferenceImageURL: "https://uploads.example.com/partial.png"})
	require.Equal(t, http.StatusMultiStatus, rec.Code)
	got := decodeBody[pipeline.Result](t, rec)
	require.NotNil(t, got.Failure)
	assert.Equal(t, 4, got.Failure.Order)

	rec = ts.do(t, http.MethodPost, "/pipelines/construction", RunPipelineRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRunPipeline_Upload(t *testing.T) {
	ts := newTestServer(t, DefaultConfig())
	png := []byte("\x89PNG\r\n\x1a\n0000")

	ts.pipelines.On("UploadReference", mock.Anything, png, "image/png").Return("https://store.example.com/ref.png", nil)
	ts.pipelines.On("Run", mock.Anything, pipeline.Request{
		ReferenceImageURL: "https://store.example.com/ref.png",
		ImageModel:        "Nano Banana",
		Intermediates:     true,
	}).Return(&pipeline.Result{RunID: "run-3"}, nil)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("model_name", "Nano Banana"))
	require.NoError(t, mw.WriteField("intermediates", "true"))
	part, err := mw.CreateFormFile("image", "house.png")
	require.NoError(t, err)
	_, err = part.Write(png)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/pipelines/construction", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	ts.pipelines.AssertExpectations(t)
}

func TestPipelineStagesAndRuns(t *testing.T) {
	ts := newTestServer(t, DefaultConfig())
	ts.pipelines.On("StageCatalogue").Return(pipeline.Stages())
	ts.pipelines.On("GetRun", mock.Anything, "run-1").Return(&pipeline.Result{RunID: "run-1"}, nil)
	ts.pipelines.On("GetRun", mock.Anything, "nope").Return(nil, pipeline.ErrRunNotFound)

	rec := ts.do(t, http.MethodGet, "/pipelines/stages", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	stages := decodeBody[StagesResponse](t, rec)
	assert.Len(t, stages.Stages, len(pipeline.DefaultStages))
	assert.Equal(t, pipeline.Preamble, stages.Preamble)

	assert.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/pipelines/run-1", nil).Code)
	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodGet, "/pipelines/nope", nil).Code)
}

func TestMergePipeline(t *testing.T) {
	ts := newTestServer(t, DefaultConfig())
	ids := []string{"a", "b", "c"}
	ts.pipelines.On("Merge", mock.Anything, ids).Return(&pipeline.MergeResult{
		ID: "merge-1", JobIDs: ids, VideoURL: "https://store.example.com/m.mp4",
		ThumbnailURL: "https://store.example.com/m.jpg", DurationSeconds: 15,
	}, nil)
	ts.pipelines.On("Merge", mock.Anything, []string{"a", "pending"}).
		Return(nil, errors.Join(pipeline.ErrNotMergeable, errors.New("pending")))

	rec := ts.do(t, http.MethodPost, "/pipelines/merge", MergeRequest{OrderedJobIDs: ids})
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeBody[pipeline.MergeResult](t, rec)
	assert.InDelta(t, 15.0, resp.DurationSeconds, 0.001)
	assert.NotEmpty(t, resp.ThumbnailURL)

	rec = ts.do(t, http.MethodPost, "/pipelines/merge", MergeRequest{OrderedJobIDs: []string{"a", "pending"}})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = ts.do(t, http.MethodPost, "/pipelines/merge", MergeRequest{OrderedJobIDs: []string{"a"}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestArtifactsAreServed(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "generations", "j1"), 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "generations", "j1", "video.mp4"), []byte("mp4"), 0o600))

	ts := newTestServer(t, Config{ArtifactsDir: dir})
	rec := ts.do(t, http.MethodGet, "/artifacts/generations/j1/video.mp4", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "mp4", rec.Body.String())

	ts = newTestServer(t, DefaultConfig())
	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodGet, "/artifacts/generations/j1/video.mp4", nil).Code)
}

func TestRecoveryMiddleware(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := RecoveryMiddleware(logger)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "INTERNAL_ERROR", decodeBody[ErrorResponse](t, rec).Code)
}

func TestCORSMiddleware(t *testing.T) {
	ts := newTestServer(t, Config{AllowedOrigins: []string{"https://studio.example.com"}})

	req := httptest.NewRequest(http.MethodOptions, "/generations", nil)
	req.Header.Set("Origin", "https://studio.example.com")
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://studio.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
}
