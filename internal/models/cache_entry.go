package models

import (
	"time"
)

// CacheEntry is a cached value stored in the database when Redis is unavailable.
// A zero ExpiresAt never expires.
type CacheEntry struct {
	Key       string    `gorm:"column:cache_key;primaryKey;size:256"`
	Value     []byte    `gorm:"not null"`
	ExpiresAt time.Time `gorm:"index"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (CacheEntry) TableName() string {
	return "cache_entries"
}
