package monitoring

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

type statStore struct {
	realtimeConnections atomic.Int64
	realtimeFailures    atomic.Uint64
	realtimeLastFailure atomic.Value // *FailureRecord

	jobs sync.Map // string -> *jobStats
}

func newStatStore() *statStore {
	store := &statStore{}
	store.realtimeLastFailure.Store((*FailureRecord)(nil))
	return store
}

func (s *statStore) summary() Summary {
	lastFailure, _ := s.realtimeLastFailure.Load().(*FailureRecord)

	jobs := []JobSummary{}
	s.jobs.Range(func(key, value any) bool {
		jobs = append(jobs, value.(*jobStats).snapshot(key.(string)))
		return true
	})
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].Job < jobs[j].Job })

	return Summary{
		GeneratedAt: time.Now(),
		Realtime: RealtimeSummary{
			ConnectedUsers: s.realtimeConnections.Load(),
			Failures:       s.realtimeFailures.Load(),
			LastFailure:    lastFailure,
		},
		Jobs: jobs,
	}
}

func (s *statStore) recordRealtimeConnection(delta int64) {
	if s.realtimeConnections.Add(delta) < 0 {
		s.realtimeConnections.Store(0)
	}
}

func (s *statStore) recordRealtimeFailure(record FailureRecord) {
	s.realtimeFailures.Add(1)
	cloned := record
	s.realtimeLastFailure.Store(&cloned)
}

func (s *statStore) jobEntry(job string) *jobStats {
	value, ok := s.jobs.Load(job)
	if ok {
		return value.(*jobStats)
	}
	actual, _ := s.jobs.LoadOrStore(job, &jobStats{})
	return actual.(*jobStats)
}

type jobStats struct {
	mu                   sync.Mutex
	lastStatus           string
	lastError            string
	lastRun              time.Time
	lastDuration         time.Duration
	lastSuccess          time.Time
	consecutiveFailures  uint64
	consecutiveSuccesses uint64
	totalRuns            uint64
}

func (j *jobStats) snapshot(job string) JobSummary {
	j.mu.Lock()
	defer j.mu.Unlock()

	return JobSummary{
		Job:                 job,
		LastStatus:          j.lastStatus,
		LastRunAt:           j.lastRun,
		LastDuration:        j.lastDuration,
		LastError:           j.lastError,
		ConsecutiveFailures: j.consecutiveFailures,
		ConsecutiveSuccess:  j.consecutiveSuccesses,
		LastSuccessAt:       j.lastSuccess,
		TotalRuns:           j.totalRuns,
	}
}

func (j *jobStats) record(result, message string, duration time.Duration, now time.Time) {
	if duration < 0 {
		duration = 0
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	j.lastStatus = result
	j.lastError = message
	j.lastRun = now
	j.lastDuration = duration
	j.totalRuns++

	if result == ResultError {
		j.consecutiveFailures++
		j.consecutiveSuccesses = 0
		return
	}
	j.consecutiveFailures = 0
	j.consecutiveSuccesses++
	j.lastSuccess = now
}
