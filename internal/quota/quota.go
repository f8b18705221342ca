// Package quota implements the plan gate: a per-account monthly counter of
// review units checked against the account's plan allowance.
package quota

import (
	"fmt"
	"time"

	"github.com/sevigo/review-pipeline/internal/core"
)

// Unlimited is the limit value of tiers without an allowance.
const Unlimited = -1

// Limits maps plan tiers to monthly review allowances.
type Limits map[core.PlanTier]int

// For returns the allowance of tier. Unknown tiers get the free allowance.
func (l Limits) For(tier core.PlanTier) int {
	if n, ok := l[tier]; ok {
		return n
	}
	return l["free"]
}

// Period returns the billing period containing t, as "YYYY-MM" in UTC.
func Period(t time.Time) string {
	return t.UTC().Format("2006-01")
}

func periodEnd(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month()+1, 1, 0, 0, 0, 0, time.UTC)
}

func denied(accountID string, tier core.PlanTier, limit int) error {
	return core.Permanent(core.ErrQuotaExceeded, nil,
		fmt.Sprintf("account %s used all %d reviews of the %s plan", accountID, limit, tier))
}
