package feed

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/cosmicwatch/neowatch/internal/neo"
)

// number decodes NeoWs numeric fields, which arrive either as JSON numbers or
// as quoted decimal strings.
type number float64

func (n *number) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*n = 0
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if s == "" {
			*n = 0
			return nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return fmt.Errorf("parse number %q: %w", s, err)
		}
		*n = number(f)
		return nil
	}
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	*n = number(f)
	return nil
}

type rawApproach struct {
	Date             string `json:"close_approach_date"`
	RelativeVelocity struct {
		KMPerSecond number `json:"kilometers_per_second"`
		KMPerHour   number `json:"kilometers_per_hour"`
	} `json:"relative_velocity"`
	MissDistance struct {
		Astronomical number `json:"astronomical"`
		Lunar        number `json:"lunar"`
		Kilometers   number `json:"kilometers"`
	} `json:"miss_distance"`
	OrbitingBody string `json:"orbiting_body"`
}

type rawOrbit struct {
	OrbitID                string `json:"orbit_id"`
	EpochOsculation        number `json:"epoch_osculation"`
	Eccentricity           number `json:"eccentricity"`
	SemiMajorAxis          number `json:"semi_major_axis"`
	Inclination            number `json:"inclination"`
	AscendingNodeLongitude number `json:"ascending_node_longitude"`
	OrbitalPeriod          number `json:"orbital_period"`
	PerihelionDistance     number `json:"perihelion_distance"`
	PerihelionArgument     number `json:"perihelion_argument"`
	AphelionDistance       number `json:"aphelion_distance"`
	PerihelionTime         number `json:"perihelion_time"`
	MeanAnomaly            number `json:"mean_anomaly"`
	MeanMotion             number `json:"mean_motion"`
}

type rawObject struct {
	ID                string `json:"id"`
	Name              string `json:"name"`
	NasaJPLURL        string `json:"nasa_jpl_url"`
	AbsoluteMagnitude number `json:"absolute_magnitude_h"`
	EstimatedDiameter struct {
		Kilometers struct {
			Min number `json:"estimated_diameter_min"`
			Max number `json:"estimated_diameter_max"`
		} `json:"kilometers"`
	} `json:"estimated_diameter"`
	IsHazardous    bool          `json:"is_potentially_hazardous_asteroid"`
	IsSentryObject bool          `json:"is_sentry_object"`
	Approaches     []rawApproach `json:"close_approach_data"`
	OrbitalData    *rawOrbit     `json:"orbital_data"`
}

type rawFeed struct {
	ElementCount int                    `json:"element_count"`
	Objects      map[string][]rawObject `json:"near_earth_objects"`
}

const daysPerYear = 365.25

func (o rawObject) toRecord(now time.Time) neo.AsteroidRecord {
	rec := neo.AsteroidRecord{
		ID:                o.ID,
		Name:              o.Name,
		NasaJPLURL:        o.NasaJPLURL,
		AppURL:            neo.AppPath(o.ID),
		AbsoluteMagnitude: float64(o.AbsoluteMagnitude),
		Diameter: neo.Diameter{
			MinKM: float64(o.EstimatedDiameter.Kilometers.Min),
			MaxKM: float64(o.EstimatedDiameter.Kilometers.Max),
		},
		IsHazardous:     o.IsHazardous,
		IsSentryObject:  o.IsSentryObject,
		CloseApproaches: make([]neo.CloseApproach, 0, len(o.Approaches)),
		CachedAt:        now.UTC(),
	}

	for _, a := range o.Approaches {
		rec.CloseApproaches = append(rec.CloseApproaches, neo.CloseApproach{
			Date: a.Date,
			Velocity: neo.Velocity{
				KMPerSecond: float64(a.RelativeVelocity.KMPerSecond),
				KMPerHour:   float64(a.RelativeVelocity.KMPerHour),
			},
			MissDistance: neo.MissDistance{
				KM:    float64(a.MissDistance.Kilometers),
				Lunar: float64(a.MissDistance.Lunar),
				AU:    float64(a.MissDistance.Astronomical),
			},
			OrbitingBody: a.OrbitingBody,
		})
	}

	if orb := o.OrbitalData; orb != nil {
		rec.Orbit = &neo.OrbitalElements{
			OrbitID:                orb.OrbitID,
			EpochOsculation:        float64(orb.EpochOsculation),
			Eccentricity:           float64(orb.Eccentricity),
			SemiMajorAxisAU:        float64(orb.SemiMajorAxis),
			InclinationDeg:         float64(orb.Inclination),
			AscendingNodeLongitude: float64(orb.AscendingNodeLongitude),
			PerihelionArgument:     float64(orb.PerihelionArgument),
			MeanAnomaly:            float64(orb.MeanAnomaly),
			MeanMotion:             float64(orb.MeanMotion),
			PerihelionTime:         float64(orb.PerihelionTime),
			AphelionDistanceAU:     float64(orb.AphelionDistance),
			PerihelionDistanceAU:   float64(orb.PerihelionDistance),
			OrbitalPeriodDays:      float64(orb.OrbitalPeriod),
			PeriodYears:            float64(orb.OrbitalPeriod) / daysPerYear,
		}
	}

	return rec
}

// decodeFeed flattens the date-bucketed feed into records ordered by date.
// Each record keeps only the approach reported for its bucket.
func decodeFeed(body []byte, now time.Time) ([]neo.AsteroidRecord, error) {
	var payload rawFeed
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decode feed: %w", err)
	}

	dates := make([]string, 0, len(payload.Objects))
	for date := range payload.Objects {
		dates = append(dates, date)
	}
	sort.Strings(dates)

	records := make([]neo.AsteroidRecord, 0, payload.ElementCount)
	for _, date := range dates {
		for _, obj := range payload.Objects[date] {
			if len(obj.Approaches) > 1 {
				obj.Approaches = obj.Approaches[:1]
			}
			rec := obj.toRecord(now)
			rec.AnnotateReported()
			records = append(records, rec)
		}
	}
	return records, nil
}

func decodeObject(body []byte, now time.Time) (*neo.AsteroidRecord, error) {
	var obj rawObject
	if err := json.Unmarshal(body, &obj); err != nil {
		return nil, fmt.Errorf("decode object: %w", err)
	}
	if obj.ID == "" {
		return nil, fmt.Errorf("decode object: missing id")
	}

	rec := obj.toRecord(now)
	rec.Annotate(now)
	return &rec, nil
}
