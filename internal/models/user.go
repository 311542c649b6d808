package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Default alert preference values applied to new users.
const (
	DefaultDaysBeforeApproach = 7
	DefaultMaxMissDistanceAU  = 0.2
	DefaultMinDiameterKM      = 0.3
)

// DefaultNotifyRiskLevels is the tier set new users are subscribed to.
var DefaultNotifyRiskLevels = []string{"HIGH"}

// AlertPreferences tunes which watched objects produce alerts for a user.
type AlertPreferences struct {
	DaysBeforeApproach int                         `gorm:"not null" json:"days_before_approach"`
	MaxMissDistanceAU  float64                     `gorm:"not null" json:"max_miss_distance_au"`
	MinDiameterKM      float64                     `gorm:"not null" json:"min_diameter_km"`
	NotifyRiskLevels   datatypes.JSONSlice[string] `json:"notify_risk_levels"`
	// EmailNotifications is nil until the user chooses; only an explicit false
	// opts out of the digest.
	EmailNotifications *bool `json:"email_notifications"`
}

// DefaultAlertPreferences returns the preferences assigned to new users.
func DefaultAlertPreferences() AlertPreferences {
	return AlertPreferences{
		DaysBeforeApproach: DefaultDaysBeforeApproach,
		MaxMissDistanceAU:  DefaultMaxMissDistanceAU,
		MinDiameterKM:      DefaultMinDiameterKM,
		NotifyRiskLevels:   append(datatypes.JSONSlice[string]{}, DefaultNotifyRiskLevels...),
	}
}

// EmailEnabled reports whether the digest channel may mail this user.
func (p AlertPreferences) EmailEnabled() bool {
	return p.EmailNotifications == nil || *p.EmailNotifications
}

// User is an alert subscriber. Identity is issued elsewhere; the engine only
// needs the contact address and alert settings.
type User struct {
	ID          string `gorm:"primaryKey;size:64" json:"id"`
	Email       string `gorm:"uniqueIndex;not null" json:"email"`
	DisplayName string `json:"display_name"`

	Preferences AlertPreferences `gorm:"embedded;embeddedPrefix:alert_" json:"preferences"`

	Watchlist []WatchlistEntry  `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE" json:"-"`
	Alerted   []AlertedAsteroid `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE" json:"-"`

	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

// BeforeCreate assigns an id and applies the default preferences when none
// were set. DaysBeforeApproach is at least 1 for any set of preferences, so
// zero marks them unset; explicit zero thresholds are kept.
func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.Preferences.DaysBeforeApproach == 0 {
		email := u.Preferences.EmailNotifications
		u.Preferences = DefaultAlertPreferences()
		u.Preferences.EmailNotifications = email
	}
	if u.Preferences.NotifyRiskLevels == nil {
		u.Preferences.NotifyRiskLevels = append(datatypes.JSONSlice[string]{}, DefaultNotifyRiskLevels...)
	}
	return nil
}
