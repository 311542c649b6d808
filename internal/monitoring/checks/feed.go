package checks

import (
	"context"
	"fmt"
	"time"

	"github.com/cosmicwatch/neowatch/internal/feed"
	"github.com/cosmicwatch/neowatch/internal/monitoring"
)

// FeedStatus exposes the outcome of the most recent upstream calls.
type FeedStatus interface {
	Status() feed.Status
}

// Feed reports the upstream NEO feed as degraded when its last call failed.
// It never calls the upstream itself so probes do not spend the API quota.
func Feed(source FeedStatus) monitoring.Check {
	return monitoring.NewCheck("feed", func(ctx context.Context) monitoring.ProbeResult {
		start := time.Now()
		if source == nil {
			return monitoring.ProbeResult{
				Status:   monitoring.StatusDown,
				Details:  "feed client not configured",
				Duration: time.Since(start),
			}
		}

		status := source.Status()
		switch {
		case status.LastSuccess.IsZero() && status.LastFailure.IsZero():
			return monitoring.ProbeResult{
				Status:   monitoring.StatusUp,
				Details:  "no upstream calls yet",
				Duration: time.Since(start),
			}
		case status.LastFailure.After(status.LastSuccess):
			return monitoring.ProbeResult{
				Status:   monitoring.StatusDegraded,
				Details:  fmt.Sprintf("last call failed at %s: %s", status.LastFailure.UTC().Format(time.RFC3339), status.LastError),
				Duration: time.Since(start),
			}
		}

		return monitoring.ProbeResult{
			Status:   monitoring.StatusUp,
			Duration: time.Since(start),
		}
	})
}
