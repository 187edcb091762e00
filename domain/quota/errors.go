package quota

import (
	"fmt"
	"time"

	"github.com/shrinkix/quotagate/domain/plan"
)

// ExceededError is returned when a hard-mode evaluation denies a request.
type ExceededError struct {
	Reason  string
	Cadence plan.Cadence
	Used    int64
	Limit   int64
	ResetAt time.Time
}

func (e *ExceededError) Error() string {
	if e.Reason == ReasonDailyLimit {
		return fmt.Sprintf("daily limit reached (%d/%d)", e.Used, e.Limit)
	}
	return fmt.Sprintf("monthly limit reached and no credits available (%d/%d)", e.Used, e.Limit)
}

// ExpiredError is returned when an account's absolute plan expiry has passed.
type ExpiredError struct {
	ExpiredAt time.Time
}

func (e *ExpiredError) Error() string {
	return fmt.Sprintf("plan expired at %s", e.ExpiredAt.UTC().Format(time.RFC3339))
}
