package checks

import (
	"context"
	"strings"
	"time"

	"github.com/cosmicwatch/neowatch/internal/monitoring"
)

const defaultJobMaxAge = 7 * time.Hour

// Jobs verifies that scheduled jobs recorded on module keep succeeding within
// their expected interval. maxAge holds per-job windows; jobs without an entry
// use a 7h window. Failing jobs degrade readiness but never take it down.
func Jobs(module *monitoring.Module, maxAge map[string]time.Duration) monitoring.Check {
	return monitoring.NewCheck("jobs", func(ctx context.Context) monitoring.ProbeResult {
		start := time.Now()
		summary := module.Snapshot()

		if len(summary.Jobs) == 0 {
			return monitoring.ProbeResult{
				Status:   monitoring.StatusUp,
				Details:  "no jobs recorded",
				Duration: time.Since(start),
			}
		}

		status := monitoring.StatusUp
		var problems []string

		for _, job := range summary.Jobs {
			if job.ConsecutiveFailures > 0 {
				status = monitoring.StatusDegraded
				msg := job.Job + ": failing"
				if job.LastError != "" {
					msg += " (" + job.LastError + ")"
				}
				problems = append(problems, msg)
				continue
			}

			window, ok := maxAge[job.Job]
			if !ok || window <= 0 {
				window = defaultJobMaxAge
			}
			if !job.LastRunAt.IsZero() && start.Sub(job.LastRunAt) > window {
				status = monitoring.StatusDegraded
				problems = append(problems, job.Job+": stale run "+job.LastRunAt.UTC().Format(time.RFC3339))
			}
		}

		return monitoring.ProbeResult{
			Status:   status,
			Details:  strings.Join(problems, "; "),
			Duration: time.Since(start),
		}
	})
}
