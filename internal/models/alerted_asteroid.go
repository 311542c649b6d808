package models

import "time"

// AlertedAsteroid records that a user has been alerted about an object. Rows
// are only ever inserted; the pair (user, asteroid) is unique.
type AlertedAsteroid struct {
	BaseModel
	UserID     string    `gorm:"size:64;not null;uniqueIndex:idx_alerted_user_asteroid" json:"user_id"`
	AsteroidID string    `gorm:"size:32;not null;uniqueIndex:idx_alerted_user_asteroid" json:"asteroid_id"`
	Channel    string    `gorm:"size:16;not null" json:"channel"`
	RiskLevel  string    `gorm:"size:8" json:"risk_level"`
	AlertedAt  time.Time `gorm:"not null" json:"alerted_at"`
}

func (AlertedAsteroid) TableName() string {
	return "alerted_asteroids"
}
