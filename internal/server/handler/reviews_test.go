package handler_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sevigo/review-pipeline/internal/config"
	"github.com/sevigo/review-pipeline/internal/core"
	"github.com/sevigo/review-pipeline/internal/server/handler"
)

type fakeService struct {
	submitted []core.Submission
	submitErr error
	jobs      map[string]core.ReviewJob
	reason    string
}

func (f *fakeService) Submit(_ context.Context, sub core.Submission) (string, error) {
	if f.submitErr != nil {
		return "", f.submitErr
	}
	f.submitted = append(f.submitted, sub)
	return "01JOB", nil
}

func (f *fakeService) Status(_ context.Context, id string) (core.ReviewJob, error) {
	job, ok := f.jobs[id]
	if !ok {
		return core.ReviewJob{}, core.Permanent(core.ErrNotFound, nil, "job "+id)
	}
	return job, nil
}

func (f *fakeService) Cancel(_ context.Context, id, reason string) (core.ReviewJob, error) {
	job, ok := f.jobs[id]
	if !ok {
		return core.ReviewJob{}, core.Permanent(core.ErrNotFound, nil, "job "+id)
	}
	f.reason = reason
	job.CancelRequested, job.CancelReason = true, reason
	return job, nil
}

func testConfig() *config.Config {
	return &config.Config{AI: config.AIConfig{
		Provider:       "deepseek",
		OpenAIAPIKey:   "sk-openai",
		OpenAIBaseURL:  "https://api.openai.com/v1",
		DeepSeekAPIKey: "sk-deepseek",
	}}
}

func newRouter(svc handler.ReviewService) http.Handler {
	h := handler.NewReviewsHandler(testConfig(), svc, slog.New(slog.NewTextHandler(io.Discard, nil)))
	r := chi.NewRouter()
	r.Post("/reviews", h.Submit)
	r.Get("/reviews/{id}", h.Status)
	r.Post("/reviews/{id}/cancel", h.Cancel)
	return r
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestReviewsHandler_Submit(t *testing.T) {
	tests := []struct {
		name         string
		body         string
		submitErr    error
		wantCode     int
		wantProvider core.ProviderConfig
	}{
		{
			name:     "default provider",
			body:     `{"account_id":"acct-1","plan_tier":"Pro","repo":"acme/api","pr_number":7,"github_token":"ghp_x"}`,
			wantCode: http.StatusAccepted,
		},
		{
			name:     "provider override",
			body:     `{"account_id":"acct-1","repo":"acme/api","pr_number":7,"provider":"openai","model":"gpt-4o"}`,
			wantCode: http.StatusAccepted,
			wantProvider: core.ProviderConfig{
				Kind: core.ProviderOpenAI, Model: "gpt-4o", APIKey: "sk-openai", BaseURL: "https://api.openai.com/v1",
			},
		},
		{
			name:     "model only keeps configured provider",
			body:     `{"account_id":"acct-1","repo":"acme/api","pr_number":7,"model":"deepseek-reasoner"}`,
			wantCode: http.StatusAccepted,
			wantProvider: core.ProviderConfig{
				Kind: core.ProviderDeepSeek, Model: "deepseek-reasoner", APIKey: "sk-deepseek",
			},
		},
		{
			name:     "unknown provider",
			body:     `{"account_id":"acct-1","repo":"acme/api","pr_number":7,"provider":"mystery"}`,
			wantCode: http.StatusBadRequest,
		},
		{
			name:     "malformed body",
			body:     `{"account_id":`,
			wantCode: http.StatusBadRequest,
		},
		{
			name:      "validation error from scheduler",
			body:      `{"repo":"acme/api","pr_number":7}`,
			submitErr: core.NewValidationError("account id cannot be empty"),
			wantCode:  http.StatusBadRequest,
		},
		{
			name:      "store failure",
			body:      `{"account_id":"acct-1","repo":"acme/api","pr_number":7}`,
			submitErr: core.Transient(nil, "database unavailable"),
			wantCode:  http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &fakeService{submitErr: tt.submitErr}
			rec := do(t, newRouter(svc), http.MethodPost, "/reviews", tt.body)
			require.Equal(t, tt.wantCode, rec.Code, rec.Body.String())
			if tt.wantCode != http.StatusAccepted {
				return
			}

			var resp handler.SubmitResponse
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
			assert.Equal(t, "01JOB", resp.ID)
			assert.Equal(t, core.StatusQueued, resp.Status)

			require.Len(t, svc.submitted, 1)
			sub := svc.submitted[0]
			assert.Equal(t, "acct-1", sub.AccountID)
			assert.Equal(t, "acme/api", sub.RepoFullName)
			assert.Equal(t, 7, sub.PRNumber)
			assert.Equal(t, tt.wantProvider, sub.Provider)
		})
	}
}

func TestReviewsHandler_SubmitNormalisesInput(t *testing.T) {
	svc := &fakeService{}
	rec := do(t, newRouter(svc), http.MethodPost, "/reviews",
		`{"account_id":" acct-1 ","plan_tier":" Team ","repo":" acme/api ","pr_number":3,"github_token":"ghp_x"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, svc.submitted, 1)
	assert.Equal(t, core.Submission{
		AccountID:    "acct-1",
		PlanTier:     "team",
		RepoFullName: "acme/api",
		PRNumber:     3,
		Token:        "ghp_x",
	}, svc.submitted[0])
}

func TestReviewsHandler_Status(t *testing.T) {
	svc := &fakeService{jobs: map[string]core.ReviewJob{
		"01JOB": {ID: "01JOB", RepoFullName: "acme/api", PRNumber: 7, Status: core.StatusReviewing, Attempts: 2, Token: "secret"},
	}}
	h := newRouter(svc)

	rec := do(t, h, http.MethodGet, "/reviews/01JOB", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "secret")

	var job core.ReviewJob
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&job))
	assert.Equal(t, core.StatusReviewing, job.Status)
	assert.Equal(t, 2, job.Attempts)

	rec = do(t, h, http.MethodGet, "/reviews/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestReviewsHandler_Cancel(t *testing.T) {
	svc := &fakeService{jobs: map[string]core.ReviewJob{
		"01JOB": {ID: "01JOB", Status: core.StatusQueued},
	}}
	h := newRouter(svc)

	rec := do(t, h, http.MethodPost, "/reviews/01JOB/cancel", `{"reason":"superseded"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "superseded", svc.reason)

	var job core.ReviewJob
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&job))
	assert.True(t, job.CancelRequested)

	rec = do(t, h, http.MethodPost, "/reviews/01JOB/cancel", "")
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Empty(t, svc.reason)

	rec = do(t, h, http.MethodPost, "/reviews/missing/cancel", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
