package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/cosmicwatch/neowatch/internal/models"
	"github.com/cosmicwatch/neowatch/internal/neo"
	apperrors "github.com/cosmicwatch/neowatch/pkg/errors"
	"github.com/cosmicwatch/neowatch/pkg/validator"
)

var (
	// ErrUserNotFound indicates the requested user does not exist.
	ErrUserNotFound = apperrors.New("USER_NOT_FOUND", "User not found", http.StatusNotFound)
	// ErrUserExists is returned when the e-mail address is already registered.
	ErrUserExists = apperrors.New("USER_EXISTS", "A user with this email already exists", http.StatusConflict)
	// ErrUserDeleted is returned for an account awaiting the deleted-user sweep.
	ErrUserDeleted = apperrors.New("USER_DELETED", "This account has been deleted", http.StatusGone)
)

// CreateUserInput describes the fields accepted when creating a user.
type CreateUserInput struct {
	ID          string `validate:"omitempty,max=64"`
	Email       string `validate:"required,email"`
	DisplayName string `validate:"max=128"`
	Preferences *models.AlertPreferences
}

// UpdatePreferencesInput carries a partial preferences update. Nil fields are
// left unchanged.
type UpdatePreferencesInput struct {
	DaysBeforeApproach *int     `json:"days_before_approach" validate:"omitempty,min=1,max=365"`
	MaxMissDistanceAU  *float64 `json:"max_miss_distance_au" validate:"omitempty,gte=0"`
	MinDiameterKM      *float64 `json:"min_diameter_km" validate:"omitempty,gte=0"`
	NotifyRiskLevels   []string `json:"notify_risk_levels" validate:"omitempty,dive,oneof=LOW MEDIUM HIGH"`
	EmailNotifications *bool    `json:"email_notifications"`
}

// Subscriber is the slice of a user the dispatch loops work with.
type Subscriber struct {
	ID          string
	Email       string
	DisplayName string
	Preferences models.AlertPreferences
	Watchlist   []string
}

// UserService owns the user records the alert engine reads: preferences,
// watchlist and contact address.
type UserService struct {
	db *gorm.DB
}

// NewUserService constructs a UserService instance.
func NewUserService(db *gorm.DB) (*UserService, error) {
	if db == nil {
		return nil, errors.New("user service: db is required")
	}
	return &UserService{db: db}, nil
}

// Create provisions a user with default preferences unless some are given.
func (s *UserService) Create(ctx context.Context, input CreateUserInput) (*models.User, error) {
	ctx = ensureContext(ctx)
	input.Email = strings.ToLower(strings.TrimSpace(input.Email))
	input.DisplayName = strings.TrimSpace(input.DisplayName)
	if err := validator.ValidateStruct(input); err != nil {
		return nil, apperrors.NewBadRequest(validator.Describe(err))
	}

	user := &models.User{
		ID:          strings.TrimSpace(input.ID),
		Email:       input.Email,
		DisplayName: input.DisplayName,
	}
	if input.Preferences == nil {
		user.Preferences = models.DefaultAlertPreferences()
	} else {
		if input.Preferences.DaysBeforeApproach < 1 ||
			input.Preferences.MaxMissDistanceAU < 0 ||
			input.Preferences.MinDiameterKM < 0 {
			return nil, apperrors.NewBadRequest("alert preferences are out of range")
		}
		user.Preferences = *input.Preferences
	}

	if err := s.db.WithContext(ctx).Create(user).Error; err != nil {
		if isUniqueConstraintError(err) {
			return nil, ErrUserExists
		}
		return nil, fmt.Errorf("user service: create user: %w", err)
	}
	return user, nil
}

// Get loads a user by id.
func (s *UserService) Get(ctx context.Context, id string) (*models.User, error) {
	ctx = ensureContext(ctx)
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, apperrors.NewBadRequest("user id is required")
	}

	var user models.User
	if err := s.db.WithContext(ctx).First(&user, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("user service: get user: %w", err)
	}
	return &user, nil
}

// Ensure returns the user for a verified token subject, creating the record
// on first sight.
func (s *UserService) Ensure(ctx context.Context, id, email, displayName string) (*models.User, error) {
	user, err := s.Get(ctx, id)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, ErrUserNotFound) {
		return nil, err
	}

	user, err = s.Create(ctx, CreateUserInput{ID: id, Email: email, DisplayName: displayName})
	if errors.Is(err, ErrUserExists) {
		// lost a race with a concurrent first request, or the id belongs to
		// a deleted account that has not been swept yet
		user, err = s.Get(ctx, id)
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrUserDeleted
		}
	}
	return user, err
}

// Delete soft-deletes a user. The account stops receiving alerts at once; its
// watchlist and alerted rows are removed by the maintenance sweep, which also
// frees the id for re-provisioning.
func (s *UserService) Delete(ctx context.Context, id string) error {
	ctx = ensureContext(ctx)
	id = strings.TrimSpace(id)
	if id == "" {
		return apperrors.NewBadRequest("user id is required")
	}

	res := s.db.WithContext(ctx).Delete(&models.User{}, "id = ?", id)
	if res.Error != nil {
		return fmt.Errorf("user service: delete user: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrUserNotFound
	}
	return nil
}

// Preferences returns the alert preferences of a user.
func (s *UserService) Preferences(ctx context.Context, id string) (models.AlertPreferences, error) {
	user, err := s.Get(ctx, id)
	if err != nil {
		return models.DefaultAlertPreferences(), err
	}
	return user.Preferences, nil
}

// UpdatePreferences applies a partial update and returns the stored result.
func (s *UserService) UpdatePreferences(ctx context.Context, id string, input UpdatePreferencesInput) (models.AlertPreferences, error) {
	ctx = ensureContext(ctx)

	if input.NotifyRiskLevels != nil {
		levels := make([]string, 0, len(input.NotifyRiskLevels))
		for _, level := range input.NotifyRiskLevels {
			levels = append(levels, strings.ToUpper(strings.TrimSpace(level)))
		}
		input.NotifyRiskLevels = levels
	}
	if err := validator.ValidateStruct(input); err != nil {
		return models.AlertPreferences{}, apperrors.NewBadRequest(validator.Describe(err))
	}

	var prefs models.AlertPreferences
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var user models.User
		if err := tx.First(&user, "id = ?", strings.TrimSpace(id)).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrUserNotFound
			}
			return err
		}

		if input.DaysBeforeApproach != nil {
			user.Preferences.DaysBeforeApproach = *input.DaysBeforeApproach
		}
		if input.MaxMissDistanceAU != nil {
			user.Preferences.MaxMissDistanceAU = *input.MaxMissDistanceAU
		}
		if input.MinDiameterKM != nil {
			user.Preferences.MinDiameterKM = *input.MinDiameterKM
		}
		if input.NotifyRiskLevels != nil {
			user.Preferences.NotifyRiskLevels = datatypes.JSONSlice[string](uniqueTiers(input.NotifyRiskLevels))
		}
		if input.EmailNotifications != nil {
			enabled := *input.EmailNotifications
			user.Preferences.EmailNotifications = &enabled
		}

		if err := tx.Model(&user).Select(
			"alert_days_before_approach",
			"alert_max_miss_distance_au",
			"alert_min_diameter_km",
			"alert_notify_risk_levels",
			"alert_email_notifications",
		).Updates(&user).Error; err != nil {
			return err
		}
		prefs = user.Preferences
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return models.AlertPreferences{}, ErrUserNotFound
		}
		return models.AlertPreferences{}, fmt.Errorf("user service: update preferences: %w", err)
	}
	return prefs, nil
}

// Watchlist returns the watchlist entries of a user, oldest first.
func (s *UserService) Watchlist(ctx context.Context, userID string) ([]models.WatchlistEntry, error) {
	ctx = ensureContext(ctx)
	if _, err := s.Get(ctx, userID); err != nil {
		return nil, err
	}

	var entries []models.WatchlistEntry
	if err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at ASC").
		Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("user service: list watchlist: %w", err)
	}
	return entries, nil
}

// AddToWatchlist follows an object. Adding the same object twice fails with
// ErrWatchlistDuplicate.
func (s *UserService) AddToWatchlist(ctx context.Context, userID, asteroidID, name string) (*models.WatchlistEntry, error) {
	ctx = ensureContext(ctx)
	asteroidID = strings.TrimSpace(asteroidID)
	if asteroidID == "" {
		return nil, apperrors.NewBadRequest("asteroid id is required")
	}
	if _, err := s.Get(ctx, userID); err != nil {
		return nil, err
	}

	entry := &models.WatchlistEntry{
		UserID:     userID,
		AsteroidID: asteroidID,
		Name:       strings.TrimSpace(name),
	}
	if err := s.db.WithContext(ctx).Create(entry).Error; err != nil {
		if isUniqueConstraintError(err) {
			return nil, apperrors.ErrWatchlistDuplicate
		}
		return nil, fmt.Errorf("user service: add watchlist entry: %w", err)
	}
	return entry, nil
}

// RemoveFromWatchlist unfollows an object. The alerted set is left untouched.
func (s *UserService) RemoveFromWatchlist(ctx context.Context, userID, asteroidID string) error {
	ctx = ensureContext(ctx)
	res := s.db.WithContext(ctx).
		Where("user_id = ? AND asteroid_id = ?", userID, strings.TrimSpace(asteroidID)).
		Delete(&models.WatchlistEntry{})
	if res.Error != nil {
		return fmt.Errorf("user service: remove watchlist entry: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return apperrors.ErrWatchlistMissing
	}
	return nil
}

// ListSubscribers returns users with a non-empty watchlist. When ids is
// non-nil only those users are considered.
func (s *UserService) ListSubscribers(ctx context.Context, ids []string) ([]Subscriber, error) {
	ctx = ensureContext(ctx)

	query := s.db.WithContext(ctx).
		Preload("Watchlist", func(db *gorm.DB) *gorm.DB { return db.Order("created_at ASC") }).
		Where("EXISTS (SELECT 1 FROM watchlist_entries w WHERE w.user_id = users.id)").
		Order("users.id")
	if ids != nil {
		ids = normaliseIDs(ids)
		if len(ids) == 0 {
			return nil, nil
		}
		query = query.Where("users.id IN ?", ids)
	}

	var users []models.User
	if err := query.Find(&users).Error; err != nil {
		return nil, fmt.Errorf("user service: list subscribers: %w", err)
	}

	subscribers := make([]Subscriber, 0, len(users))
	for _, u := range users {
		watchlist := make([]string, 0, len(u.Watchlist))
		for _, entry := range u.Watchlist {
			watchlist = append(watchlist, entry.AsteroidID)
		}
		subscribers = append(subscribers, Subscriber{
			ID:          u.ID,
			Email:       u.Email,
			DisplayName: u.DisplayName,
			Preferences: u.Preferences,
			Watchlist:   watchlist,
		})
	}
	return subscribers, nil
}

func uniqueTiers(levels []string) []string {
	out := make([]string, 0, len(levels))
	for _, tier := range neo.AllRiskTiers {
		for _, level := range levels {
			if level == string(tier) {
				out = append(out, level)
				break
			}
		}
	}
	return out
}
