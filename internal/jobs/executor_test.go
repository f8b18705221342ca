package jobs

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/sevigo/review-pipeline/internal/core"
	"github.com/sevigo/review-pipeline/internal/llm"
	"github.com/sevigo/review-pipeline/internal/quota"
	"github.com/sevigo/review-pipeline/internal/rules"
	"github.com/sevigo/review-pipeline/internal/storage"
	"github.com/sevigo/review-pipeline/mocks"
)

const sampleDiff = "diff --git a/a.go b/a.go\n--- a/a.go\n+++ b/a.go\n@@ -1,2 +1,3 @@\n package a\n+func A() {}\n"

var sampleTarget = core.Target{Owner: "acme", Repo: "api", Number: 7}

// recordingStore remembers every status written to a job.
type recordingStore struct {
	*storage.MemoryJobStore
	mu       sync.Mutex
	statuses map[string][]core.Status
}

func (s *recordingStore) Save(ctx context.Context, job *core.ReviewJob) error {
	if err := s.MemoryJobStore.Save(ctx, job); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses[job.ID] = append(s.statuses[job.ID], job.Status)
	return nil
}

func (s *recordingStore) history(id string) []core.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]core.Status(nil), s.statuses[id]...)
}

type fakeProvider struct {
	mu     sync.Mutex
	calls  int
	last   llm.ReviewRequest
	review func(ctx context.Context, req llm.ReviewRequest) (*core.AIReviewResult, error)
}

func (p *fakeProvider) Name() string { return "fake" }

func (p *fakeProvider) Review(ctx context.Context, req llm.ReviewRequest) (*core.AIReviewResult, error) {
	p.mu.Lock()
	p.calls++
	p.last = req
	p.mu.Unlock()
	if p.review == nil {
		return &core.AIReviewResult{Summary: "Looks good."}, nil
	}
	return p.review(ctx, req)
}

func (p *fakeProvider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

type fakeResolver struct {
	mu       sync.Mutex
	provider *fakeProvider
	seen     []core.ProviderConfig
}

func (r *fakeResolver) Resolve(_ context.Context, cfg core.ProviderConfig) (llm.Provider, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = append(r.seen, cfg)
	return r.provider, nil
}

type harness struct {
	store    *recordingStore
	gate     *quota.MemoryGate
	ledger   *storage.MemoryLedger
	fetcher  *mocks.MockContextFetcher
	sink     *mocks.MockDeliverySink
	provider *fakeProvider
	resolver *fakeResolver
	exec     *Executor
	sched    *Scheduler
	clock    time.Time
}

func newHarness(t *testing.T, limits quota.Limits) *harness {
	t.Helper()
	ctrl := gomock.NewController(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	if limits == nil {
		limits = quota.Limits{"free": 10, "pro": 100}
	}
	src, err := rules.Parse([]byte("default:\n  custom_instructions:\n    - Be concise.\n"))
	require.NoError(t, err)

	h := &harness{
		store:    &recordingStore{MemoryJobStore: storage.NewMemoryJobStore(), statuses: map[string][]core.Status{}},
		gate:     quota.NewMemoryGate(limits),
		ledger:   storage.NewMemoryLedger(time.Hour),
		fetcher:  mocks.NewMockContextFetcher(ctrl),
		sink:     mocks.NewMockDeliverySink(ctrl),
		provider: &fakeProvider{},
		clock:    time.Now(),
	}
	h.resolver = &fakeResolver{provider: h.provider}
	h.exec = NewExecutor(ExecutorDeps{
		Store:     h.store,
		Fetcher:   h.fetcher,
		Sink:      h.sink,
		Gate:      h.gate,
		Ledger:    h.ledger,
		Locker:    storage.NewMemoryLocker(),
		Rules:     src,
		Providers: h.resolver,
		Credentials: func(pc core.ProviderConfig) core.ProviderConfig {
			pc.APIKey = "sk-config"
			return pc
		},
	}, ExecutorConfig{
		FetchTimeout:    time.Second,
		ReviewTimeout:   time.Second,
		DeliverTimeout:  time.Second,
		MaxDiffBytes:    1 << 20,
		MaxContextBytes: 1 << 20,
	}, logger)
	h.sched = NewScheduler(h.store, h.exec, SchedulerConfig{
		Workers:         2,
		MaxAttempts:     4,
		Backoff:         Backoff{Base: time.Millisecond, Max: 10 * time.Millisecond},
		PollInterval:    5 * time.Millisecond,
		LeaseTTL:        time.Minute,
		DefaultProvider: core.ProviderConfig{Kind: core.ProviderOpenAI, Model: "gpt-4o-mini"},
	}, logger)
	return h
}

func (h *harness) submit(t *testing.T, repo string) string {
	t.Helper()
	id, err := h.sched.Submit(context.Background(), core.Submission{
		AccountID:    "acct",
		PlanTier:     "pro",
		RepoFullName: repo,
		PRNumber:     7,
		Token:        "tok",
	})
	require.NoError(t, err)
	return id
}

// drain claims and processes jobs synchronously until none is eligible.
// The clock jumps ahead on every claim so retry delays never block.
func (h *harness) drain(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < 50; i++ {
		h.clock = h.clock.Add(time.Hour)
		job, err := h.store.ClaimNext(ctx, h.clock, time.Minute)
		if errors.Is(err, core.ErrNotFound) {
			return
		}
		require.NoError(t, err)
		h.sched.process(ctx, 0, job)
	}
	t.Fatal("jobs did not settle")
}

func (h *harness) job(t *testing.T, id string) core.ReviewJob {
	t.Helper()
	job, err := h.sched.Status(context.Background(), id)
	require.NoError(t, err)
	return job
}

func changes() *core.ReviewContext {
	return &core.ReviewContext{
		Diff:    sampleDiff,
		Files:   map[string]string{"a.go": "package a\n\nfunc A() {}\n"},
		HeadSHA: "abc123",
	}
}

func TestExecutor_HappyPath(t *testing.T) {
	h := newHarness(t, nil)
	id := h.submit(t, "acme/api")

	h.fetcher.EXPECT().FetchContext(gomock.Any(), sampleTarget, "tok").Return(changes(), nil)
	h.provider.review = func(_ context.Context, req llm.ReviewRequest) (*core.AIReviewResult, error) {
		return &core.AIReviewResult{
			Summary:  "One issue.",
			Comments: []core.Comment{{Path: "a.go", Line: 3, Severity: "Low", Body: "Document A."}},
		}, nil
	}
	h.sink.EXPECT().Deliver(gomock.Any(), sampleTarget, id, "tok", gomock.Any()).Return(nil)

	h.drain(t)

	job := h.job(t, id)
	assert.Equal(t, core.StatusCompleted, job.Status)
	assert.Equal(t, 1, job.Attempts)
	assert.Equal(t, "One issue.", job.Summary)
	assert.Equal(t, 1, job.CommentCount)
	assert.Empty(t, job.LastError)
	assert.Equal(t, []core.Status{
		core.StatusQueued, // quota reservation
		core.StatusFetching,
		core.StatusReviewing,
		core.StatusDelivering,
		core.StatusCompleted,
	}, h.store.history(id))

	assert.Equal(t, "- Be concise.", h.provider.last.Rules)
	assert.Equal(t, "gpt-4o-mini", h.provider.last.Model)
	require.Len(t, h.resolver.seen, 1)
	assert.Equal(t, "sk-config", h.resolver.seen[0].APIKey)

	used, err := h.gate.Used(context.Background(), "acct")
	require.NoError(t, err)
	assert.Equal(t, int64(1), used)
	delivered, err := h.ledger.Delivered(context.Background(), id)
	require.NoError(t, err)
	assert.True(t, delivered)
}

func TestExecutor_TransientFailuresExhaustAttempts(t *testing.T) {
	h := newHarness(t, nil)
	id := h.submit(t, "acme/api")

	h.fetcher.EXPECT().FetchContext(gomock.Any(), sampleTarget, "tok").
		Return(nil, core.Transient(errors.New("connection reset"), "getting pull request")).
		Times(4)

	h.drain(t)

	job := h.job(t, id)
	assert.Equal(t, core.StatusFailed, job.Status)
	assert.Equal(t, 4, job.Attempts)
	assert.True(t, job.DeadLettered)
	assert.Contains(t, job.LastError, "giving up after 4 attempts")
	assert.Zero(t, h.provider.Calls())

	used, err := h.gate.Used(context.Background(), "acct")
	require.NoError(t, err)
	assert.Zero(t, used, "quota must be returned when the job fails")
}

func TestExecutor_PermanentFailureRollsBackQuota(t *testing.T) {
	h := newHarness(t, nil)
	id := h.submit(t, "acme/api")

	h.fetcher.EXPECT().FetchContext(gomock.Any(), sampleTarget, "tok").Return(changes(), nil)
	h.provider.review = func(context.Context, llm.ReviewRequest) (*core.AIReviewResult, error) {
		return nil, core.Permanent(core.ErrPermanentProvider, errors.New("401"), "bad key")
	}

	h.drain(t)

	job := h.job(t, id)
	assert.Equal(t, core.StatusFailed, job.Status)
	assert.Equal(t, 1, job.Attempts)
	assert.False(t, job.DeadLettered)
	used, err := h.gate.Used(context.Background(), "acct")
	require.NoError(t, err)
	assert.Zero(t, used)
}

func TestExecutor_InvalidRepoNeverFetches(t *testing.T) {
	h := newHarness(t, nil)
	id := h.submit(t, "not-a-repo")

	h.drain(t)

	job := h.job(t, id)
	assert.Equal(t, core.StatusFailed, job.Status)
	assert.Equal(t, 1, job.Attempts)
	assert.Contains(t, job.LastError, core.ErrValidation.Error())
	assert.NotContains(t, h.store.history(id), core.StatusFetching)

	used, err := h.gate.Used(context.Background(), "acct")
	require.NoError(t, err)
	assert.Zero(t, used)
}

func TestExecutor_PullRequestNotFound(t *testing.T) {
	h := newHarness(t, nil)
	id := h.submit(t, "acme/api")

	h.fetcher.EXPECT().FetchContext(gomock.Any(), sampleTarget, "tok").
		Return(nil, core.Permanent(core.ErrNotFound, errors.New("404"), "getting pull request")).
		Times(1)

	h.drain(t)

	job := h.job(t, id)
	assert.Equal(t, core.StatusFailed, job.Status)
	assert.Equal(t, 1, job.Attempts)
	assert.Contains(t, job.LastError, core.ErrNotFound.Error())
}

func TestExecutor_EmptyDiffSkipsProvider(t *testing.T) {
	h := newHarness(t, nil)
	id := h.submit(t, "acme/api")

	h.fetcher.EXPECT().FetchContext(gomock.Any(), sampleTarget, "tok").
		Return(&core.ReviewContext{Diff: "diff --git a/x b/x\n--- a/x\n+++ b/x\n", HeadSHA: "abc"}, nil)

	h.drain(t)

	job := h.job(t, id)
	assert.Equal(t, core.StatusCompleted, job.Status)
	assert.True(t, strings.EqualFold(job.Summary, "no changes to review."))
	assert.Zero(t, h.provider.Calls())
	assert.NotContains(t, h.store.history(id), core.StatusReviewing)
}

func TestExecutor_MalformedCommentIsDropped(t *testing.T) {
	h := newHarness(t, nil)
	id := h.submit(t, "acme/api")

	h.fetcher.EXPECT().FetchContext(gomock.Any(), sampleTarget, "tok").Return(changes(), nil)
	h.provider.review = func(context.Context, llm.ReviewRequest) (*core.AIReviewResult, error) {
		result, warnings := llm.ParseReview(`{"summary": "Two findings.", "comments": [
			{"path": "a.go", "line": 3, "body": "Exported function lacks a doc comment."},
			{"path": "a.go", "body": "No line given."}
		]}`)
		require.Len(t, warnings, 1)
		return result, nil
	}
	h.sink.EXPECT().Deliver(gomock.Any(), sampleTarget, id, "tok", gomock.Any()).
		DoAndReturn(func(_ context.Context, _ core.Target, _, _ string, result *core.AIReviewResult) error {
			require.Len(t, result.Comments, 1)
			assert.Equal(t, 3, result.Comments[0].Line)
			return nil
		})

	h.drain(t)

	job := h.job(t, id)
	assert.Equal(t, core.StatusCompleted, job.Status)
	assert.Equal(t, 1, job.CommentCount)
}

func TestExecutor_QuotaExceeded(t *testing.T) {
	h := newHarness(t, quota.Limits{"pro": 1})
	ids := []string{h.submit(t, "acme/api"), h.submit(t, "acme/api")}

	h.fetcher.EXPECT().FetchContext(gomock.Any(), sampleTarget, "tok").Return(changes(), nil).Times(1)
	h.sink.EXPECT().Deliver(gomock.Any(), sampleTarget, gomock.Any(), "tok", gomock.Any()).Return(nil).Times(1)

	h.drain(t)

	statuses := map[core.Status]int{}
	for _, id := range ids {
		job := h.job(t, id)
		statuses[job.Status]++
		assert.Equal(t, 1, job.Attempts)
		if job.Status == core.StatusFailed {
			assert.Contains(t, job.LastError, core.ErrQuotaExceeded.Error())
		}
	}
	assert.Equal(t, map[core.Status]int{core.StatusCompleted: 1, core.StatusFailed: 1}, statuses)

	used, err := h.gate.Used(context.Background(), "acct")
	require.NoError(t, err)
	assert.Equal(t, int64(1), used)
}

func TestExecutor_QuotaTakenOncePerJob(t *testing.T) {
	h := newHarness(t, nil)
	id := h.submit(t, "acme/api")

	h.fetcher.EXPECT().FetchContext(gomock.Any(), sampleTarget, "tok").Return(changes(), nil).Times(2)
	gomock.InOrder(
		h.sink.EXPECT().Deliver(gomock.Any(), sampleTarget, id, "tok", gomock.Any()).
			Return(core.Transient(errors.New("rate limited"), "posting review")),
		h.sink.EXPECT().Deliver(gomock.Any(), sampleTarget, id, "tok", gomock.Any()).Return(nil),
	)

	h.drain(t)

	job := h.job(t, id)
	assert.Equal(t, core.StatusCompleted, job.Status)
	assert.Equal(t, 2, job.Attempts)
	used, err := h.gate.Used(context.Background(), "acct")
	require.NoError(t, err)
	assert.Equal(t, int64(1), used)
}

func TestExecutor_DeliveryTimeoutIsRetriedAndPostedOnce(t *testing.T) {
	tests := []struct {
		name             string
		postedBeforeHang bool
	}{
		{name: "review landed before the deadline", postedBeforeHang: true},
		{name: "review never reached the platform", postedBeforeHang: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, nil)
			h.exec.cfg.DeliverTimeout = 20 * time.Millisecond
			id := h.submit(t, "acme/api")

			// The sink behaves like the marker lookup: it posts only when no
			// review for the job is present yet.
			posts, calls := 0, 0
			h.fetcher.EXPECT().FetchContext(gomock.Any(), sampleTarget, "tok").Return(changes(), nil).Times(2)
			h.sink.EXPECT().Deliver(gomock.Any(), sampleTarget, id, "tok", gomock.Any()).
				DoAndReturn(func(ctx context.Context, _ core.Target, _, _ string, _ *core.AIReviewResult) error {
					calls++
					if calls == 1 {
						if tt.postedBeforeHang {
							posts++
						}
						<-ctx.Done()
						return ctx.Err()
					}
					if posts == 0 {
						posts++
					}
					return nil
				}).Times(2)

			h.drain(t)

			job := h.job(t, id)
			assert.Equal(t, core.StatusCompleted, job.Status)
			assert.Equal(t, 2, job.Attempts)
			assert.Equal(t, 1, posts)
			assert.Equal(t, 2, h.provider.Calls())

			delivered, err := h.ledger.Delivered(context.Background(), id)
			require.NoError(t, err)
			assert.True(t, delivered)
			used, err := h.gate.Used(context.Background(), "acct")
			require.NoError(t, err)
			assert.Equal(t, int64(1), used)
		})
	}
}

func TestExecutor_UncertainDeliveryKeepsQuotaWhenGivingUp(t *testing.T) {
	h := newHarness(t, nil)
	id := h.submit(t, "acme/api")

	h.fetcher.EXPECT().FetchContext(gomock.Any(), sampleTarget, "tok").Return(changes(), nil).Times(4)
	h.sink.EXPECT().Deliver(gomock.Any(), sampleTarget, id, "tok", gomock.Any()).
		Return(core.Uncertain(errors.New("502"), "posting review")).
		Times(4)

	h.drain(t)

	job := h.job(t, id)
	assert.Equal(t, core.StatusFailed, job.Status)
	assert.True(t, job.DeadLettered)
	assert.Contains(t, job.LastError, core.ErrDeliveryUncertain.Error())

	used, err := h.gate.Used(context.Background(), "acct")
	require.NoError(t, err)
	assert.Equal(t, int64(1), used, "a review that may have been posted stays charged")
	ok, err := h.ledger.Reserve(context.Background(), id)
	require.NoError(t, err)
	assert.False(t, ok, "delivery slot stays held after an uncertain outcome")
}

func TestExecutor_LostLeaseDoesNotRefundTwice(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	_, err := h.gate.TryConsume(ctx, "acct", "pro")
	require.NoError(t, err, "unit held by another review of the same account")
	id := h.submit(t, "acme/api")

	notFound := core.Permanent(core.ErrNotFound, errors.New("404"), "getting pull request")
	var reclaimed *core.ReviewJob
	gomock.InOrder(
		h.fetcher.EXPECT().FetchContext(gomock.Any(), sampleTarget, "tok").
			DoAndReturn(func(context.Context, core.Target, string) (*core.ReviewContext, error) {
				var err error
				reclaimed, err = h.store.ClaimNext(ctx, time.Now().Add(2*time.Minute), time.Minute)
				require.NoError(t, err)
				return nil, notFound
			}),
		h.fetcher.EXPECT().FetchContext(gomock.Any(), sampleTarget, gomock.Any()).Return(nil, notFound),
	)

	first, err := h.store.ClaimNext(ctx, time.Now(), time.Minute)
	require.NoError(t, err)
	h.sched.process(ctx, 0, first)
	require.NotNil(t, reclaimed)
	h.sched.process(ctx, 0, reclaimed)

	job := h.job(t, id)
	assert.Equal(t, core.StatusFailed, job.Status)
	assert.Equal(t, 2, job.Attempts)
	used, err := h.gate.Used(ctx, "acct")
	require.NoError(t, err)
	assert.Equal(t, int64(1), used)
}

func TestExecutor_DuplicateDispatchDeliversOnce(t *testing.T) {
	h := newHarness(t, nil)
	id := h.submit(t, "acme/api")
	ctx := context.Background()

	claimed, err := h.store.ClaimNext(ctx, time.Now(), time.Minute)
	require.NoError(t, err)

	entered := make(chan struct{})
	release := make(chan struct{})
	h.fetcher.EXPECT().FetchContext(gomock.Any(), sampleTarget, "tok").Return(changes(), nil).Times(1)
	h.sink.EXPECT().Deliver(gomock.Any(), sampleTarget, id, "tok", gomock.Any()).
		DoAndReturn(func(context.Context, core.Target, string, string, *core.AIReviewResult) error {
			close(entered)
			<-release
			return nil
		}).Times(1)

	first := make(chan Outcome, 1)
	go func() { first <- h.exec.Run(ctx, claimed.Clone()) }()
	<-entered

	// A second worker holding the same lease while the first is delivering.
	concurrent := h.exec.Run(ctx, claimed.Clone())
	assert.Equal(t, OutcomeSkipped, concurrent.Kind)

	close(release)
	assert.Equal(t, OutcomeCompleted, (<-first).Kind)

	// Replaying the same claim after the attempt finished is also a no-op.
	replay := h.exec.Run(ctx, claimed.Clone())
	assert.Equal(t, OutcomeSkipped, replay.Kind)
}

func TestExecutor_StaleLeaseIsSkipped(t *testing.T) {
	h := newHarness(t, nil)
	h.submit(t, "acme/api")
	ctx := context.Background()

	claimed, err := h.store.ClaimNext(ctx, time.Now(), time.Minute)
	require.NoError(t, err)
	stale := claimed.Clone()
	stale.LeaseToken = "from-an-old-claim"

	out := h.exec.Run(ctx, stale)
	assert.Equal(t, OutcomeSkipped, out.Kind)
	assert.ErrorIs(t, out.Err, core.ErrDuplicateAttempt)
}

func TestExecutor_CancelledBeforeFirstAttempt(t *testing.T) {
	h := newHarness(t, nil)
	id := h.submit(t, "acme/api")

	_, err := h.sched.Cancel(context.Background(), id, "closed by author")
	require.NoError(t, err)

	h.drain(t)

	job := h.job(t, id)
	assert.Equal(t, core.StatusFailed, job.Status)
	assert.Contains(t, job.LastError, "closed by author")
	assert.True(t, job.CancelRequested)
}

func TestExecutor_CancelDuringAttemptStopsRetries(t *testing.T) {
	h := newHarness(t, nil)
	id := h.submit(t, "acme/api")

	h.fetcher.EXPECT().FetchContext(gomock.Any(), sampleTarget, "tok").
		DoAndReturn(func(context.Context, core.Target, string) (*core.ReviewContext, error) {
			_, err := h.sched.Cancel(context.Background(), id, "")
			require.NoError(t, err)
			return nil, core.Transient(errors.New("timeout"), "getting pull request")
		}).Times(1)

	h.drain(t)

	job := h.job(t, id)
	assert.Equal(t, core.StatusFailed, job.Status)
	assert.Equal(t, 1, job.Attempts)
	assert.Contains(t, job.LastError, core.ErrCancelled.Error())
}

func TestExecutor_CancelDuringRetryDelay(t *testing.T) {
	h := newHarness(t, nil)
	h.sched.cfg.Backoff = Backoff{Base: time.Hour, Max: time.Hour}
	ctx := context.Background()
	id := h.submit(t, "acme/api")

	h.fetcher.EXPECT().FetchContext(gomock.Any(), sampleTarget, "tok").
		Return(nil, core.Transient(errors.New("connection reset"), "getting pull request")).
		Times(1)
	claimed, err := h.store.ClaimNext(ctx, time.Now(), time.Minute)
	require.NoError(t, err)
	h.sched.process(ctx, 0, claimed)
	require.Equal(t, core.StatusQueued, h.job(t, id).Status)

	got, err := h.sched.Cancel(ctx, id, "superseded by a new push")
	require.NoError(t, err)
	assert.Equal(t, core.StatusFailed, got.Status)

	job := h.job(t, id)
	assert.Equal(t, core.StatusFailed, job.Status)
	assert.Equal(t, 1, job.Attempts)
	assert.Contains(t, job.LastError, "superseded by a new push")

	again, err := h.sched.Cancel(ctx, id, "")
	require.NoError(t, err)
	assert.Equal(t, core.StatusFailed, again.Status)

	used, err := h.gate.Used(ctx, "acct")
	require.NoError(t, err)
	assert.Zero(t, used)
}

func TestExecutor_ProviderTimeoutIsTransient(t *testing.T) {
	h := newHarness(t, nil)
	h.exec.cfg.ReviewTimeout = 10 * time.Millisecond
	id := h.submit(t, "acme/api")

	h.fetcher.EXPECT().FetchContext(gomock.Any(), sampleTarget, "tok").Return(changes(), nil)
	h.provider.review = func(ctx context.Context, _ llm.ReviewRequest) (*core.AIReviewResult, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	claimed, err := h.store.ClaimNext(context.Background(), time.Now(), time.Minute)
	require.NoError(t, err)

	out := h.exec.Run(context.Background(), claimed)
	assert.Equal(t, OutcomeRetry, out.Kind)
	assert.ErrorIs(t, out.Err, core.ErrTransientIO)
	assert.Equal(t, id, claimed.ID)
}

func TestExecutor_TruncatedReviewIsFlagged(t *testing.T) {
	h := newHarness(t, nil)
	h.exec.cfg.MaxContextBytes = 5
	id := h.submit(t, "acme/api")

	h.fetcher.EXPECT().FetchContext(gomock.Any(), sampleTarget, "tok").Return(changes(), nil)
	h.sink.EXPECT().Deliver(gomock.Any(), sampleTarget, id, "tok", gomock.Any()).
		DoAndReturn(func(_ context.Context, _ core.Target, _, _ string, result *core.AIReviewResult) error {
			assert.True(t, strings.HasPrefix(result.Summary, partialNote))
			return nil
		})

	h.drain(t)

	assert.True(t, h.provider.last.Truncated)
	assert.Empty(t, h.provider.last.Files)
	assert.Equal(t, core.StatusCompleted, h.job(t, id).Status)
}

func TestExecutor_Fit(t *testing.T) {
	bigDiff := strings.Repeat("+line of code\n", 100)
	tests := []struct {
		name          string
		cfg           ExecutorConfig
		files         map[string]string
		wantTruncated bool
		wantFiles     []string
		maxDiff       int
	}{
		{
			name:      "within limits",
			cfg:       ExecutorConfig{MaxDiffBytes: 1 << 20, MaxContextBytes: 1 << 20},
			files:     map[string]string{"a.go": "aaaa", "b.go": "bb"},
			wantFiles: []string{"a.go", "b.go"},
			maxDiff:   len(bigDiff),
		},
		{
			name:          "diff cut at line boundary",
			cfg:           ExecutorConfig{MaxDiffBytes: 100, MaxContextBytes: 1 << 20},
			files:         map[string]string{},
			wantTruncated: true,
			wantFiles:     []string{},
			maxDiff:       100,
		},
		{
			name:          "files dropped past byte budget",
			cfg:           ExecutorConfig{MaxDiffBytes: 1 << 20, MaxContextBytes: 5},
			files:         map[string]string{"a.go": "aaaa", "b.go": "bb"},
			wantTruncated: true,
			wantFiles:     []string{"a.go"},
			maxDiff:       len(bigDiff),
		},
		{
			name:          "largest file dropped for token budget",
			cfg:           ExecutorConfig{MaxDiffBytes: 1 << 20, MaxContextBytes: 1 << 20, MaxPromptTokens: (len(bigDiff) + 90) / 3},
			files:         map[string]string{"big.go": strings.Repeat("x", 600), "small.go": strings.Repeat("y", 60)},
			wantTruncated: true,
			wantFiles:     []string{"small.go"},
			maxDiff:       len(bigDiff),
		},
		{
			name:          "diff shortened when no files remain",
			cfg:           ExecutorConfig{MaxDiffBytes: 1 << 20, MaxContextBytes: 1 << 20, MaxPromptTokens: 100},
			files:         map[string]string{"a.go": "package a"},
			wantTruncated: true,
			wantFiles:     []string{},
			maxDiff:       300,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := &Executor{ExecutorDeps: ExecutorDeps{Tokens: llm.EstimateCounter{}}, cfg: tt.cfg}
			rc := &core.ReviewContext{Diff: bigDiff, Files: tt.files}
			e.fit(rc)

			assert.Equal(t, tt.wantTruncated, rc.Truncated)
			assert.LessOrEqual(t, len(rc.Diff), tt.maxDiff)
			assert.True(t, strings.HasSuffix(rc.Diff, "\n"))
			got := make([]string, 0, len(rc.Files))
			for p := range rc.Files {
				got = append(got, p)
			}
			assert.ElementsMatch(t, tt.wantFiles, got)
		})
	}
}

func TestTruncateAtLine(t *testing.T) {
	tests := []struct {
		name string
		in   string
		n    int
		want string
	}{
		{name: "short input kept", in: "a\nb\n", n: 10, want: "a\nb\n"},
		{name: "cut at newline", in: "one\ntwo\nthree\n", n: 10, want: "one\ntwo\n"},
		{name: "no newline ascii", in: "abcdef", n: 4, want: "abcd"},
		{name: "no newline splits rune", in: "ééé", n: 3, want: "é"},
		{name: "cut inside first rune", in: "€", n: 2, want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := truncateAtLine(tt.in, tt.n)
			assert.Equal(t, tt.want, got)
			assert.True(t, utf8.ValidString(got))
		})
	}
}

func TestOutcomeFor(t *testing.T) {
	assert.Equal(t, OutcomeCompleted, outcomeFor(nil).Kind)
	assert.Equal(t, OutcomeRetry, outcomeFor(errors.New("unclassified")).Kind)
	assert.Equal(t, OutcomeRetry, outcomeFor(core.Transient(nil, "x")).Kind)
	assert.Equal(t, OutcomeFailed, outcomeFor(core.NewValidationError("bad")).Kind)
	assert.Equal(t, OutcomeSkipped, outcomeFor(core.Permanent(core.ErrDuplicateAttempt, nil, "")).Kind)
	assert.Equal(t, OutcomeRetry, outcomeFor(core.Uncertain(nil, "posting review")).Kind)
}
