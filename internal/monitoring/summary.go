package monitoring

import "time"

// Summary surfaces the dispatch engine's runtime state for operators.
type Summary struct {
	GeneratedAt time.Time       `json:"generated_at"`
	Realtime    RealtimeSummary `json:"realtime"`
	Jobs        []JobSummary    `json:"jobs"`
}

type FailureRecord struct {
	Stream   string    `json:"stream"`
	Type     string    `json:"type"`
	Message  string    `json:"message"`
	Occurred time.Time `json:"occurred_at"`
}

type RealtimeSummary struct {
	ConnectedUsers int64          `json:"connected_users"`
	Failures       uint64         `json:"failures"`
	LastFailure    *FailureRecord `json:"last_failure,omitempty"`
}

// JobSummary describes the recent history of one scheduled job.
type JobSummary struct {
	Job                 string        `json:"job"`
	LastStatus          string        `json:"last_status"`
	LastRunAt           time.Time     `json:"last_run_at"`
	LastDuration        time.Duration `json:"last_duration"`
	LastError           string        `json:"last_error,omitempty"`
	ConsecutiveFailures uint64        `json:"consecutive_failures"`
	ConsecutiveSuccess  uint64        `json:"consecutive_success"`
	LastSuccessAt       time.Time     `json:"last_success_at"`
	TotalRuns           uint64        `json:"total_runs"`
}

// Snapshot returns a point-in-time summary from the current module when configured.
func Snapshot() Summary {
	return CurrentModule().Snapshot()
}

func emptySummary() Summary {
	return Summary{GeneratedAt: time.Now(), Jobs: []JobSummary{}}
}
