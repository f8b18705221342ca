package core

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// PlanTier identifies the billing plan of the requesting account.
type PlanTier string

// Target identifies the pull request under review.
type Target struct {
	Owner  string `json:"owner"`
	Repo   string `json:"repo"`
	Number int    `json:"number"`
}

// FullName returns the "owner/repo" form of the target repository.
func (t Target) FullName() string {
	return t.Owner + "/" + t.Repo
}

func (t Target) String() string {
	return fmt.Sprintf("%s#%d", t.FullName(), t.Number)
}

// Requester identifies who asked for the review and under which plan.
type Requester struct {
	AccountID string   `json:"account_id"`
	PlanTier  PlanTier `json:"plan_tier"`
}

// Reservation records one consumed quota unit so it can be returned later.
type Reservation struct {
	AccountID string `json:"account_id"`
	Period    string `json:"period"`
}

// Submission is what the admission layer hands to the scheduler.
type Submission struct {
	AccountID    string
	PlanTier     PlanTier
	RepoFullName string
	PRNumber     int
	Token        string
	// Provider overrides the default backend when its Kind is set.
	Provider ProviderConfig
}

// ReviewJob is one queued pull-request review request.
//
// A job is mutated only by the worker holding its lease. Token and the
// provider API key are never serialised.
type ReviewJob struct {
	ID           string         `json:"id"`
	RepoFullName string         `json:"repo_full_name"`
	PRNumber     int            `json:"pr_number"`
	Requester    Requester      `json:"requester"`
	Token        string         `json:"-"`
	Provider     ProviderConfig `json:"provider"`
	Status       Status         `json:"status"`
	Attempts     int            `json:"attempts"`
	LastError    string         `json:"last_error,omitempty"`
	Summary      string         `json:"summary,omitempty"`
	CommentCount int            `json:"comment_count"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`

	AvailableAt     time.Time    `json:"available_at"`
	LeaseToken      string       `json:"-"`
	LeaseExpiresAt  time.Time    `json:"-"`
	Quota           *Reservation `json:"-"`
	CancelRequested bool         `json:"cancel_requested,omitempty"`
	CancelReason    string       `json:"cancel_reason,omitempty"`
	DeadLettered    bool         `json:"dead_lettered,omitempty"`
}

// Target splits RepoFullName into owner and repo. It does not validate;
// malformed names yield empty parts.
func (j *ReviewJob) Target() Target {
	owner, repo, _ := strings.Cut(j.RepoFullName, "/")
	return Target{Owner: owner, Repo: repo, Number: j.PRNumber}
}

// Transition moves the job to next, refusing moves the lifecycle forbids.
func (j *ReviewJob) Transition(next Status, now time.Time) error {
	if !j.Status.CanTransition(next) {
		return fmt.Errorf("illegal status transition %s -> %s for job %s", j.Status, next, j.ID)
	}
	j.Status = next
	j.UpdatedAt = now
	return nil
}

// Clone returns a copy that shares no mutable state with j.
func (j *ReviewJob) Clone() *ReviewJob {
	c := *j
	if j.Quota != nil {
		q := *j.Quota
		c.Quota = &q
	}
	return &c
}

// ReviewContext is the transient input of a single attempt.
type ReviewContext struct {
	Diff      string
	Files     map[string]string
	Rules     string
	HeadSHA   string
	Truncated bool
}

// IsEmpty reports whether the diff contains no changed lines. "---" and
// "+++" lines are file headers only outside a hunk; inside one they are
// removed or added lines.
func (c *ReviewContext) IsEmpty() bool {
	oldLeft, newLeft := 0, 0
	for _, line := range strings.Split(c.Diff, "\n") {
		if oldLeft > 0 || newLeft > 0 {
			switch {
			case strings.HasPrefix(line, "+"), strings.HasPrefix(line, "-"):
				return false
			case strings.HasPrefix(line, `\`):
				// "\ No newline at end of file"
			default:
				oldLeft--
				newLeft--
			}
			continue
		}
		switch {
		case strings.HasPrefix(line, "@@"):
			var ok bool
			if oldLeft, newLeft, ok = hunkLengths(line); !ok {
				return false
			}
		case strings.HasPrefix(line, "+++"), strings.HasPrefix(line, "---"):
		case strings.HasPrefix(line, "+"), strings.HasPrefix(line, "-"):
			return false
		}
	}
	return true
}

// hunkLengths reads the old and new line counts of a "@@ -a,b +c,d @@"
// header. An omitted count means one line.
func hunkLengths(header string) (int, int, bool) {
	fields := strings.Fields(header)
	if len(fields) < 3 {
		return 0, 0, false
	}
	oldLen, okOld := rangeLength(fields[1], "-")
	newLen, okNew := rangeLength(fields[2], "+")
	return oldLen, newLen, okOld && okNew
}

func rangeLength(r, sign string) (int, bool) {
	r, ok := strings.CutPrefix(r, sign)
	if !ok {
		return 0, false
	}
	_, count, found := strings.Cut(r, ",")
	if !found {
		return 1, true
	}
	n, err := strconv.Atoi(count)
	return n, err == nil
}
