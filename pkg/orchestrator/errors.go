package orchestrator

import (
	"fmt"
	"time"
)

// BudgetCause names the limit that ended a turn early.
type BudgetCause string

const (
	CauseRounds  BudgetCause = "rounds"
	CauseTimeout BudgetCause = "timeout"
)

// LoopBudgetExceeded records a turn that was forced to END before the
// reasoning model produced a final answer. It is not returned as an error;
// it travels on the Answer next to the best-effort content.
type LoopBudgetExceeded struct {
	Rounds  int
	Limit   int
	Cause   BudgetCause
	Timeout time.Duration
}

func (e *LoopBudgetExceeded) Error() string {
	if e.Cause == CauseTimeout {
		return fmt.Sprintf("loop budget exceeded: turn timeout of %s reached after %d rounds", e.Timeout, e.Rounds)
	}
	return fmt.Sprintf("loop budget exceeded: %d of %d rounds used", e.Rounds, e.Limit)
}

// Warning is the user-facing truncation notice.
func (e *LoopBudgetExceeded) Warning() string {
	if e.Cause == CauseTimeout {
		return fmt.Sprintf("Research stopped after the %s time limit; this answer may be incomplete.", e.Timeout)
	}
	return fmt.Sprintf("Research stopped after %d tool rounds; this answer may be incomplete.", e.Rounds)
}
