package jobs

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/sevigo/review-pipeline/internal/core"
	"github.com/sevigo/review-pipeline/internal/llm"
	"github.com/sevigo/review-pipeline/internal/metrics"
)

const (
	noChangesSummary = "No changes to review."
	partialNote      = "> [!NOTE]\n> **Partial review.** This pull request exceeded the review size limit, so only part of the change was analysed.\n\n"
)

// OutcomeKind is the result of one attempt as seen by the scheduler.
type OutcomeKind int

const (
	// OutcomeCompleted means the job succeeded and can be acknowledged.
	OutcomeCompleted OutcomeKind = iota
	// OutcomeRetry means the attempt hit a transient failure.
	OutcomeRetry
	// OutcomeFailed means the job cannot succeed.
	OutcomeFailed
	// OutcomeSkipped means another attempt owns the job; nothing changed.
	OutcomeSkipped
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeCompleted:
		return "completed"
	case OutcomeRetry:
		return "retry"
	case OutcomeFailed:
		return "failed"
	case OutcomeSkipped:
		return "skipped"
	}
	return "unknown"
}

// Outcome is returned by Executor.Run.
type Outcome struct {
	Kind OutcomeKind
	Err  error
}

// outcomeFor maps an error onto the outcome the scheduler applies.
func outcomeFor(err error) Outcome {
	switch {
	case err == nil:
		return Outcome{Kind: OutcomeCompleted}
	case errors.Is(err, core.ErrDuplicateAttempt):
		return Outcome{Kind: OutcomeSkipped, Err: err}
	case core.IsRetryable(err):
		return Outcome{Kind: OutcomeRetry, Err: err}
	default:
		return Outcome{Kind: OutcomeFailed, Err: err}
	}
}

// ProviderResolver returns the AI backend for a provider configuration.
type ProviderResolver interface {
	Resolve(ctx context.Context, cfg core.ProviderConfig) (llm.Provider, error)
}

// ExecutorDeps are the collaborators of an Executor. Credentials is
// optional.
type ExecutorDeps struct {
	Store       core.JobStore
	Fetcher     core.ContextFetcher
	Sink        core.DeliverySink
	Gate        core.QuotaGate
	Ledger      core.DeliveryLedger
	Locker      core.Locker
	Rules       core.RulesSource
	Providers   ProviderResolver
	Tokens      llm.TokenCounter
	Credentials func(core.ProviderConfig) core.ProviderConfig
}

// ExecutorConfig bounds a single attempt. Zero limits disable the
// corresponding truncation.
type ExecutorConfig struct {
	FetchTimeout    time.Duration
	ReviewTimeout   time.Duration
	DeliverTimeout  time.Duration
	MaxDiffBytes    int
	MaxContextBytes int
	MaxPromptTokens int
	LockTTL         time.Duration
}

// Executor runs one attempt of a review job through validation, the plan
// gate, context fetching, the AI call and delivery.
type Executor struct {
	ExecutorDeps
	cfg    ExecutorConfig
	logger *slog.Logger
	now    func() time.Time
}

// NewExecutor panics when a required collaborator is missing.
func NewExecutor(deps ExecutorDeps, cfg ExecutorConfig, logger *slog.Logger) *Executor {
	switch {
	case deps.Store == nil:
		panic("job store cannot be nil")
	case deps.Fetcher == nil:
		panic("context fetcher cannot be nil")
	case deps.Sink == nil:
		panic("delivery sink cannot be nil")
	case deps.Gate == nil:
		panic("quota gate cannot be nil")
	case deps.Ledger == nil:
		panic("delivery ledger cannot be nil")
	case deps.Locker == nil:
		panic("locker cannot be nil")
	case deps.Rules == nil:
		panic("rules source cannot be nil")
	case deps.Providers == nil:
		panic("provider resolver cannot be nil")
	case logger == nil:
		panic("logger cannot be nil")
	}
	if deps.Tokens == nil {
		deps.Tokens = llm.EstimateCounter{}
	}
	if deps.Credentials == nil {
		deps.Credentials = func(pc core.ProviderConfig) core.ProviderConfig { return pc }
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 10 * time.Minute
	}
	return &Executor{ExecutorDeps: deps, cfg: cfg, logger: logger, now: time.Now}
}

// Run executes one attempt of job, which must be the copy returned by
// ClaimNext. Run updates job in place; the scheduler persists the final
// status according to the returned Outcome.
func (e *Executor) Run(ctx context.Context, job *core.ReviewJob) Outcome {
	logger := e.logger.With("job_id", job.ID, "repo", job.RepoFullName, "pr", job.PRNumber, "attempt", job.Attempts)

	lockToken, ok, err := e.Locker.TryLock(ctx, "job:"+job.ID, e.cfg.LockTTL)
	if err != nil {
		return Outcome{Kind: OutcomeRetry, Err: err}
	}
	if !ok {
		logger.Warn("another attempt holds the job lock, skipping")
		return Outcome{Kind: OutcomeSkipped, Err: core.ErrDuplicateAttempt}
	}
	defer func() {
		if err := e.Locker.Unlock(context.WithoutCancel(ctx), "job:"+job.ID, lockToken); err != nil {
			logger.Warn("failed to release job lock", "error", err)
		}
	}()

	if err := e.refresh(ctx, job); err != nil {
		if errors.Is(err, core.ErrDuplicateAttempt) {
			logger.Warn("job lease is no longer held, skipping")
		}
		return outcomeFor(err)
	}
	if job.CancelRequested {
		return Outcome{Kind: OutcomeFailed, Err: core.Permanent(core.ErrCancelled, nil, job.CancelReason)}
	}

	if err := validateJob(job); err != nil {
		logger.Warn("rejecting invalid review request", "error", err)
		return Outcome{Kind: OutcomeFailed, Err: err}
	}

	if err := e.admit(ctx, job); err != nil {
		return outcomeFor(err)
	}

	out := e.review(ctx, job, logger)
	if out.Err != nil {
		logger.Warn("review attempt did not complete", "outcome", out.Kind.String(), "error", out.Err)
	}
	return out
}

// refresh reloads the stored job and confirms this attempt still holds
// its lease. Fields that are never persisted are kept from job.
func (e *Executor) refresh(ctx context.Context, job *core.ReviewJob) error {
	stored, err := e.Store.Get(ctx, job.ID)
	if err != nil {
		return err
	}
	if stored.LeaseToken != job.LeaseToken || stored.Attempts != job.Attempts {
		return core.Permanent(core.ErrDuplicateAttempt, nil, "lease taken over by a newer attempt")
	}
	// Every claim leaves the job queued; any other status means this lease
	// has already been run.
	if stored.Status != core.StatusQueued {
		return core.Permanent(core.ErrDuplicateAttempt, nil, "attempt already ran, job is "+string(stored.Status))
	}
	token, apiKey := job.Token, job.Provider.APIKey
	*job = *stored
	job.Token = token
	if job.Provider.APIKey == "" {
		job.Provider.APIKey = apiKey
	}
	return nil
}

// admit takes the job's quota unit. It runs once per job: the reservation
// is persisted and later attempts reuse it.
func (e *Executor) admit(ctx context.Context, job *core.ReviewJob) error {
	if job.Quota != nil {
		return nil
	}
	r, err := e.Gate.TryConsume(ctx, job.Requester.AccountID, job.Requester.PlanTier)
	if err != nil {
		if errors.Is(err, core.ErrQuotaExceeded) {
			metrics.QuotaDenied(string(job.Requester.PlanTier))
		}
		return err
	}
	job.Quota = &r
	job.UpdatedAt = e.now()
	if err := e.Store.Save(ctx, job); err != nil {
		if rbErr := e.Gate.Rollback(context.WithoutCancel(ctx), r); rbErr != nil {
			e.logger.Error("failed to roll back quota after save error", "job_id", job.ID, "error", rbErr)
		}
		job.Quota = nil
		return err
	}
	return nil
}

func (e *Executor) review(ctx context.Context, job *core.ReviewJob, logger *slog.Logger) Outcome {
	target := job.Target()

	if err := e.advance(ctx, job, core.StatusFetching); err != nil {
		return outcomeFor(err)
	}
	rc, err := e.fetch(ctx, job, target)
	if err != nil {
		return outcomeFor(err)
	}
	if rc.IsEmpty() {
		logger.Info("pull request has no changes")
		job.Summary = noChangesSummary
		job.CommentCount = 0
		return Outcome{Kind: OutcomeCompleted}
	}

	if rules, err := e.Rules.Rules(ctx, job.Requester.AccountID); err != nil {
		logger.Warn("failed to load account rules, reviewing without them", "error", err)
	} else {
		rc.Rules = rules
	}
	e.fit(rc)
	if rc.Truncated {
		logger.Info("review context truncated to fit limits", "diff_bytes", len(rc.Diff), "files", len(rc.Files))
	}

	provider, err := e.Providers.Resolve(ctx, e.Credentials(job.Provider))
	if err != nil {
		return outcomeFor(err)
	}
	if err := e.advance(ctx, job, core.StatusReviewing); err != nil {
		return outcomeFor(err)
	}
	result, err := e.invoke(ctx, provider, job, target, rc)
	if err != nil {
		return outcomeFor(err)
	}
	if rc.Truncated {
		result.Summary = partialNote + result.Summary
	}

	if err := e.advance(ctx, job, core.StatusDelivering); err != nil {
		return outcomeFor(err)
	}
	if err := e.deliver(ctx, job, target, result, logger); err != nil {
		return outcomeFor(err)
	}
	job.Summary = result.Summary
	job.CommentCount = len(result.Comments)
	return Outcome{Kind: OutcomeCompleted}
}

// advance persists the move to next. A job reclaimed mid-flight is already
// back in queued, so the walk always starts from there.
func (e *Executor) advance(ctx context.Context, job *core.ReviewJob, next core.Status) error {
	if err := job.Transition(next, e.now()); err != nil {
		return err
	}
	return e.Store.Save(ctx, job)
}

func (e *Executor) fetch(ctx context.Context, job *core.ReviewJob, target core.Target) (*core.ReviewContext, error) {
	fctx, cancel := withTimeout(ctx, e.cfg.FetchTimeout)
	defer cancel()

	start := e.now()
	rc, err := e.Fetcher.FetchContext(fctx, target, job.Token)
	metrics.ObserveStep("fetch", time.Since(start), err == nil)
	if err != nil {
		return nil, timedOut(fctx, err, "fetching pull request context")
	}
	return rc, nil
}

func (e *Executor) invoke(ctx context.Context, p llm.Provider, job *core.ReviewJob, target core.Target, rc *core.ReviewContext) (*core.AIReviewResult, error) {
	rctx, cancel := withTimeout(ctx, e.cfg.ReviewTimeout)
	defer cancel()

	start := e.now()
	result, err := p.Review(rctx, llm.ReviewRequest{
		Target:    target,
		Diff:      rc.Diff,
		Files:     rc.Files,
		Rules:     rc.Rules,
		Model:     job.Provider.Model,
		Truncated: rc.Truncated,
	})
	metrics.ObserveStep("review", time.Since(start), err == nil)
	if err != nil {
		return nil, timedOut(rctx, err, "waiting for "+p.Name())
	}
	return result, nil
}

// deliver posts result at most once per job. The ledger slot is released
// only when the sink proves nothing was posted. A slot left unconfirmed by
// an earlier attempt is resumed: the sink looks for the job's marker and
// posts only when it is absent.
func (e *Executor) deliver(ctx context.Context, job *core.ReviewJob, target core.Target, result *core.AIReviewResult, logger *slog.Logger) error {
	delivered, err := e.Ledger.Delivered(ctx, job.ID)
	if err != nil {
		return err
	}
	if delivered {
		logger.Info("review was delivered by an earlier attempt")
		return nil
	}
	ok, err := e.Ledger.Reserve(ctx, job.ID)
	if err != nil {
		return err
	}
	if !ok {
		logger.Info("resuming delivery left unconfirmed by an earlier attempt")
	}

	dctx, cancel := withTimeout(ctx, e.cfg.DeliverTimeout)
	defer cancel()

	start := e.now()
	err = e.Sink.Deliver(dctx, target, job.ID, job.Token, result)
	metrics.ObserveStep("deliver", time.Since(start), err == nil)

	bg := context.WithoutCancel(ctx)
	if err != nil {
		var ce *core.Error
		if !errors.As(err, &ce) && dctx.Err() != nil {
			err = core.Uncertain(err, "delivery timed out")
		}
		if errors.Is(err, core.ErrDeliveryUncertain) {
			return err
		}
		if relErr := e.Ledger.Release(bg, job.ID); relErr != nil {
			logger.Error("failed to release delivery slot", "error", relErr)
		}
		return err
	}
	if err := e.Ledger.Confirm(bg, job.ID); err != nil {
		logger.Error("failed to confirm delivery; slot stays reserved", "error", err)
	}
	logger.Info("review delivered", "comments", len(result.Comments))
	return nil
}

// Release returns a quota unit taken by an attempt of a job that ended
// without a review.
func (e *Executor) Release(ctx context.Context, r core.Reservation) error {
	return e.Gate.Rollback(ctx, r)
}

// fit trims the review context to the configured byte and token limits.
// Files beyond the byte budget are skipped in path order. For the token
// budget the largest files go first, and the diff is cut at a line
// boundary only when no file content is left.
func (e *Executor) fit(rc *core.ReviewContext) {
	if limit := e.cfg.MaxDiffBytes; limit > 0 && len(rc.Diff) > limit {
		rc.Diff = truncateAtLine(rc.Diff, limit)
		rc.Truncated = true
	}

	paths := make([]string, 0, len(rc.Files))
	for p := range rc.Files {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	if limit := e.cfg.MaxContextBytes; limit > 0 {
		total := 0
		for _, p := range paths {
			if total+len(rc.Files[p]) > limit {
				delete(rc.Files, p)
				rc.Truncated = true
				continue
			}
			total += len(rc.Files[p])
		}
	}

	limit := e.cfg.MaxPromptTokens
	if limit <= 0 {
		return
	}
	count := func() int {
		n := e.Tokens.CountTokens(rc.Diff)
		for _, body := range rc.Files {
			n += e.Tokens.CountTokens(body)
		}
		return n
	}
	n := count()
	for n > limit && len(rc.Files) > 0 {
		largest := ""
		for p, body := range rc.Files {
			if largest == "" || len(body) > len(rc.Files[largest]) {
				largest = p
			}
		}
		delete(rc.Files, largest)
		rc.Truncated = true
		n = count()
	}
	if n > limit {
		rc.Diff = truncateAtLine(rc.Diff, len(rc.Diff)*limit/n)
		rc.Truncated = true
	}
}

// truncateAtLine cuts s to at most n bytes, ending at a line boundary, or
// at a rune boundary when the kept part holds no newline.
func truncateAtLine(s string, n int) string {
	if len(s) <= n {
		return s
	}
	if i := strings.LastIndexByte(s[:n], '\n'); i > 0 {
		return s[:i+1]
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

// timedOut classifies an unclassified error from a step whose own deadline
// expired as transient.
func timedOut(stepCtx context.Context, err error, what string) error {
	var ce *core.Error
	if errors.As(err, &ce) {
		return err
	}
	if errors.Is(stepCtx.Err(), context.DeadlineExceeded) {
		return core.Transient(err, what+": step timed out")
	}
	return err
}
