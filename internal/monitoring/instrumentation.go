package monitoring

import (
	"strings"
	"time"
)

// Job results recorded by RecordJobRun.
const (
	ResultOK    = "ok"
	ResultError = "error"
	ResultIdle  = "idle"
)

// RecordJobRun records the completion of a scheduled job such as a dispatch
// tick or a cache purge.
func RecordJobRun(job, result, message string, duration time.Duration) {
	module := CurrentModule()
	if module == nil {
		return
	}
	jobID := normalizeLabel(job)
	if jobID == "" {
		jobID = "unknown"
	}
	result = normalizeLabel(result)
	if result == "" {
		result = ResultOK
	}
	module.stats.jobEntry(jobID).record(result, strings.TrimSpace(message), duration, time.Now())
}

// RecordRealtimeConnection adjusts the connected user count by delta.
func RecordRealtimeConnection(delta int64) {
	module := CurrentModule()
	if module == nil || delta == 0 {
		return
	}
	module.stats.recordRealtimeConnection(delta)
}

// RecordRealtimeFailure snapshots a realtime failure occurrence.
func RecordRealtimeFailure(stream, failureType, message string) {
	module := CurrentModule()
	if module == nil {
		return
	}
	stream = normalizeLabel(stream)
	if stream == "" {
		stream = "unknown"
	}
	failureType = normalizeLabel(failureType)
	if failureType == "" {
		failureType = "unknown"
	}
	module.stats.recordRealtimeFailure(FailureRecord{
		Stream:   stream,
		Type:     failureType,
		Message:  strings.TrimSpace(message),
		Occurred: time.Now(),
	})
}

func normalizeLabel(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}
