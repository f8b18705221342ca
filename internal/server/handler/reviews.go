// Package handler provides the HTTP handlers of the review pipeline API.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/sevigo/review-pipeline/internal/config"
	"github.com/sevigo/review-pipeline/internal/core"
)

// ReviewService is the part of the scheduler the API depends on.
type ReviewService interface {
	Submit(ctx context.Context, sub core.Submission) (string, error)
	Status(ctx context.Context, id string) (core.ReviewJob, error)
	Cancel(ctx context.Context, id, reason string) (core.ReviewJob, error)
}

// ReviewsHandler admits review jobs and reports their status.
type ReviewsHandler struct {
	cfg     *config.Config
	reviews ReviewService
	logger  *slog.Logger
}

// NewReviewsHandler creates a handler backed by reviews.
func NewReviewsHandler(cfg *config.Config, reviews ReviewService, logger *slog.Logger) *ReviewsHandler {
	return &ReviewsHandler{
		cfg:     cfg,
		reviews: reviews,
		logger:  logger,
	}
}

// SubmitRequest is the body of POST /api/v1/reviews.
type SubmitRequest struct {
	AccountID   string `json:"account_id"`
	PlanTier    string `json:"plan_tier"`
	Repo        string `json:"repo"`
	PRNumber    int    `json:"pr_number"`
	GitHubToken string `json:"github_token,omitempty"`
	Provider    string `json:"provider,omitempty"`
	Model       string `json:"model,omitempty"`
}

// SubmitResponse is returned once a job is queued.
type SubmitResponse struct {
	ID     string      `json:"id"`
	Status core.Status `json:"status"`
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Submit handles POST /api/v1/reviews.
func (h *ReviewsHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var req SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	sub, err := h.submission(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	id, err := h.reviews.Submit(r.Context(), sub)
	if err != nil {
		h.fail(w, err, "failed to queue review job", "repo", req.Repo, "pr", req.PRNumber)
		return
	}

	h.logger.Info("review job accepted", "job_id", id, "repo", sub.RepoFullName, "pr", sub.PRNumber)
	writeJSON(w, http.StatusAccepted, SubmitResponse{ID: id, Status: core.StatusQueued})
}

// Status handles GET /api/v1/reviews/{id}.
func (h *ReviewsHandler) Status(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	job, err := h.reviews.Status(r.Context(), id)
	if err != nil {
		h.fail(w, err, "failed to load review job", "job_id", id)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// Cancel handles POST /api/v1/reviews/{id}/cancel. The body is optional.
func (h *ReviewsHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req cancelRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	job, err := h.reviews.Cancel(r.Context(), id, req.Reason)
	if err != nil {
		h.fail(w, err, "failed to cancel review job", "job_id", id)
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}

// submission maps the request onto a scheduler submission. An explicit
// provider or model replaces the configured default for this job only.
func (h *ReviewsHandler) submission(req SubmitRequest) (core.Submission, error) {
	sub := core.Submission{
		AccountID:    strings.TrimSpace(req.AccountID),
		PlanTier:     core.PlanTier(strings.ToLower(strings.TrimSpace(req.PlanTier))),
		RepoFullName: strings.TrimSpace(req.Repo),
		PRNumber:     req.PRNumber,
		Token:        req.GitHubToken,
	}
	if req.Provider == "" && req.Model == "" {
		return sub, nil
	}

	name := req.Provider
	if name == "" {
		name = h.cfg.AI.Provider
	}
	kind, err := config.ParseProviderKind(name)
	if err != nil {
		return core.Submission{}, err
	}
	sub.Provider = h.cfg.ProviderFor(kind, req.Model)
	return sub, nil
}

func (h *ReviewsHandler) fail(w http.ResponseWriter, err error, msg string, args ...any) {
	switch {
	case errors.Is(err, core.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, core.ErrNotFound):
		writeError(w, http.StatusNotFound, "review job not found")
	default:
		h.logger.Error(msg, append(args, "error", err)...)
		writeError(w, http.StatusInternalServerError, msg)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, errorResponse{Error: msg})
}
