package neo

import (
	"sort"
	"time"
)

// UTCMidnight truncates t to the start of its UTC calendar day.
func UTCMidnight(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseDate parses a YYYY-MM-DD string as a UTC date.
func ParseDate(value string) (time.Time, error) {
	return time.ParseInLocation(DateLayout, value, time.UTC)
}

// DaysUntil returns the whole number of calendar days between the UTC day of
// now and date. Past dates yield negative values.
func DaysUntil(date string, now time.Time) (int, error) {
	day, err := ParseDate(date)
	if err != nil {
		return 0, err
	}
	return int(day.Sub(UTCMidnight(now)).Hours() / 24), nil
}

// Annotate classifies every approach, orders them chronologically and selects
// the next approach on or after the current UTC day. Without one the record is
// LOW with no next approach.
func (r *AsteroidRecord) Annotate(now time.Time) {
	if r == nil {
		return
	}

	for i := range r.CloseApproaches {
		a := &r.CloseApproaches[i]
		a.RiskTier = Classify(r.IsHazardous, a.MissDistance.AU, r.Diameter.MaxKM)
	}
	sort.SliceStable(r.CloseApproaches, func(i, j int) bool {
		return r.CloseApproaches[i].Date < r.CloseApproaches[j].Date
	})

	r.NextApproach = nil
	r.RiskTier = RiskLow

	today := UTCMidnight(now).Format(DateLayout)
	for i := range r.CloseApproaches {
		if r.CloseApproaches[i].Date >= today {
			next := r.CloseApproaches[i]
			r.NextApproach = &next
			r.RiskTier = next.RiskTier
			return
		}
	}
}

// AnnotateReported classifies the approaches and treats the earliest one as
// the record's approach regardless of the current date. Feed buckets report
// the approach on the queried day, which may already be in the past.
func (r *AsteroidRecord) AnnotateReported() {
	if r == nil {
		return
	}

	for i := range r.CloseApproaches {
		a := &r.CloseApproaches[i]
		a.RiskTier = Classify(r.IsHazardous, a.MissDistance.AU, r.Diameter.MaxKM)
	}
	sort.SliceStable(r.CloseApproaches, func(i, j int) bool {
		return r.CloseApproaches[i].Date < r.CloseApproaches[j].Date
	})

	r.NextApproach = nil
	r.RiskTier = RiskLow
	if len(r.CloseApproaches) > 0 {
		next := r.CloseApproaches[0]
		r.NextApproach = &next
		r.RiskTier = next.RiskTier
	}
}
