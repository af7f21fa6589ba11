package telemetry

import (
	"fmt"

	"github.com/latchvision/latchvision/internal/errs"
	"github.com/latchvision/latchvision/pkg/oracle"
)

// ShedRateGate is the maximum tolerated Candidate Oracle shed rate
// before the run is considered a performance-contract breach
// (spec.md §4.2: "Gate: shed_rate ≤ 5%, depth ≤ 64").
const ShedRateGate = 0.05

// EvaluateSLO checks the end-of-run Metrics and the Oracle's queue
// stats against the performance contract (spec.md §4.1/§4.2) and
// returns a typed error when either is violated. This runs once, at
// end-of-run, to decide the process exit code — it never runs mid-loop;
// the Controller already adapts stride continuously while the run is
// in progress (spec.md §7).
func EvaluateSLO(m Metrics, budgetMs float64, queueStats oracle.Metrics) error {
	if m.P95 > budgetMs {
		return errs.BudgetBreach(fmt.Sprintf("sustained p95 %.2fms exceeds budget %.2fms", m.P95, budgetMs))
	}
	if queueStats.ShedRate > ShedRateGate {
		return errs.BudgetBreach(fmt.Sprintf("oracle shed_rate %.4f exceeds gate %.4f", queueStats.ShedRate, ShedRateGate))
	}
	if queueStats.MaxLen > 0 && queueStats.CurrentDepth > queueStats.MaxLen {
		return errs.BudgetBreach(fmt.Sprintf("oracle depth %d exceeds maxlen %d", queueStats.CurrentDepth, queueStats.MaxLen))
	}
	if lo, hi := m.UnknownRateBand[0], m.UnknownRateBand[1]; m.UnknownRate < lo || m.UnknownRate > hi {
		return errs.Data(fmt.Sprintf("unknown_rate %.4f outside band [%.4f, %.4f]", m.UnknownRate, lo, hi), nil)
	}
	return nil
}
