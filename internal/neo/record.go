// Package neo holds the near-Earth-object domain model and the risk rules
// applied to it.
package neo

import "time"

// DateLayout is the calendar format used for every close-approach date.
const DateLayout = "2006-01-02"

// Diameter is the estimated diameter range in kilometres.
type Diameter struct {
	MinKM float64 `json:"min"`
	MaxKM float64 `json:"max"`
}

type Velocity struct {
	KMPerSecond float64 `json:"km_per_second"`
	KMPerHour   float64 `json:"km_per_hour"`
}

type MissDistance struct {
	KM    float64 `json:"km"`
	Lunar float64 `json:"lunar"`
	AU    float64 `json:"au"`
}

// CloseApproach is a single predicted pass of an object near a body.
type CloseApproach struct {
	Date         string       `json:"date"`
	Velocity     Velocity     `json:"relative_velocity"`
	MissDistance MissDistance `json:"miss_distance"`
	OrbitingBody string       `json:"orbiting_body"`
	RiskTier     RiskTier     `json:"risk_level"`
}

// OrbitalElements carries the osculating elements reported for an object.
// Only detail lookups populate it.
type OrbitalElements struct {
	OrbitID                string  `json:"orbit_id"`
	EpochOsculation        float64 `json:"epoch_osculation"`
	Eccentricity           float64 `json:"eccentricity"`
	SemiMajorAxisAU        float64 `json:"semi_major_axis"`
	InclinationDeg         float64 `json:"inclination"`
	AscendingNodeLongitude float64 `json:"ascending_node_longitude"`
	PerihelionArgument     float64 `json:"perihelion_argument"`
	MeanAnomaly            float64 `json:"mean_anomaly"`
	MeanMotion             float64 `json:"mean_motion"`
	PerihelionTime         float64 `json:"perihelion_time"`
	AphelionDistanceAU     float64 `json:"aphelion_distance"`
	PerihelionDistanceAU   float64 `json:"perihelion_distance"`
	OrbitalPeriodDays      float64 `json:"orbital_period_days"`
	PeriodYears            float64 `json:"period_yr"`
}

// AsteroidRecord is the normalized view of one object. Records are built once
// per fetch and replaced wholesale on the next one.
type AsteroidRecord struct {
	ID                string           `json:"id"`
	Name              string           `json:"name"`
	NasaJPLURL        string           `json:"nasa_jpl_url"`
	AppURL            string           `json:"app_url"`
	AbsoluteMagnitude float64          `json:"absolute_magnitude"`
	Diameter          Diameter         `json:"estimated_diameter_km"`
	IsHazardous       bool             `json:"is_potentially_hazardous"`
	IsSentryObject    bool             `json:"is_sentry_object"`
	CloseApproaches   []CloseApproach  `json:"close_approaches"`
	NextApproach      *CloseApproach   `json:"next_approach"`
	RiskTier          RiskTier         `json:"risk_level"`
	Orbit             *OrbitalElements `json:"orbital_data,omitempty"`
	CachedAt          time.Time        `json:"cached_at"`
}

// AppPath is the in-app route for an object.
func AppPath(id string) string {
	return "/asteroid/" + id
}
