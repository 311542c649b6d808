package models

// WatchlistEntry links a user to an object they follow.
type WatchlistEntry struct {
	BaseModel
	UserID     string `gorm:"size:64;not null;uniqueIndex:idx_watchlist_user_asteroid" json:"user_id"`
	AsteroidID string `gorm:"size:32;not null;uniqueIndex:idx_watchlist_user_asteroid" json:"asteroid_id"`
	Name       string `json:"name,omitempty"`
}

func (WatchlistEntry) TableName() string {
	return "watchlist_entries"
}
