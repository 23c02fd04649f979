package syncengine

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

// PerformanceSummary renders the Result's phase timings as a table:
// each phase's duration, operation count, and parallel efficiency
// (the ratio of theoretical-sequential cost to actual wall-clock).
func (r *Result) PerformanceSummary() string {
	var b strings.Builder
	b.WriteString("Performance Summary\n")
	fmt.Fprintf(&b, "%-16s %10s %8s %12s\n", "Phase", "Duration", "Ops", "Efficiency")

	var total time.Duration
	for _, p := range r.Phases {
		total += p.Duration
	}

	for _, p := range r.Phases {
		efficiency := "n/a"
		if p.OperationCount > 1 && p.Duration > 0 && p.OperationTime > 0 {
			efficiency = fmt.Sprintf("%.1fx", float64(p.OperationTime)/float64(p.Duration))
		}
		fmt.Fprintf(&b, "%-16s %10s %8s %12s\n", p.Name, p.Duration.Round(time.Millisecond), humanize.Comma(int64(p.OperationCount)), efficiency)
	}

	fmt.Fprintf(&b, "\ntotal: %s, created=%d updated=%d reset=%d removed=%d quarantined=%d skipped=%d\n",
		total.Round(time.Millisecond),
		r.countAction(ActionCreate),
		r.countAction(ActionUpdate),
		r.countAction(ActionReset),
		r.countAction(ActionRemove),
		r.countAction(ActionQuarantine),
		r.countAction(ActionSkip),
	)
	return b.String()
}
