package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/cosmicwatch/neowatch/internal/services"
	"github.com/cosmicwatch/neowatch/pkg/errors"
	"github.com/cosmicwatch/neowatch/pkg/response"
)

// UserHandler exposes the current user's profile, watchlist and alert preferences.
type UserHandler struct {
	users     *services.UserService
	watchlist *services.WatchlistService
}

// NewUserHandler constructs a user handler.
func NewUserHandler(users *services.UserService, watchlist *services.WatchlistService) (*UserHandler, error) {
	if users == nil || watchlist == nil {
		return nil, errors.New("HANDLER_MISCONFIGURED", "user and watchlist services are required", http.StatusInternalServerError)
	}
	return &UserHandler{users: users, watchlist: watchlist}, nil
}

type addWatchlistRequest struct {
	AsteroidID string `json:"asteroid_id" validate:"required,max=32"`
}

// Profile returns the current user.
func (h *UserHandler) Profile(c *gin.Context) {
	user, ok := currentUser(c, h.users)
	if !ok {
		return
	}
	response.Success(c, http.StatusOK, user)
}

// DeleteProfile deletes the current user's account.
func (h *UserHandler) DeleteProfile(c *gin.Context) {
	user, ok := currentUser(c, h.users)
	if !ok {
		return
	}
	if err := h.users.Delete(requestContext(c), user.ID); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"id": user.ID, "deleted": true})
}

// Watchlist returns the followed objects resolved through the feed cache.
func (h *UserHandler) Watchlist(c *gin.Context) {
	user, ok := currentUser(c, h.users)
	if !ok {
		return
	}

	view, err := h.watchlist.View(requestContext(c), user.ID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.SuccessWithMeta(c, http.StatusOK, view, &response.Meta{
		Count:   len(view.Entries),
		Partial: view.Partial,
	})
}

// AddToWatchlist follows an object given in the path or as {"asteroid_id": "..."}.
func (h *UserHandler) AddToWatchlist(c *gin.Context) {
	user, ok := currentUser(c, h.users)
	if !ok {
		return
	}

	asteroidID := strings.TrimSpace(c.Param("asteroidId"))
	if asteroidID == "" {
		var req addWatchlistRequest
		if !bindAndValidate(c, &req) {
			return
		}
		asteroidID = strings.TrimSpace(req.AsteroidID)
	}

	entry, err := h.watchlist.Add(requestContext(c), user.ID, asteroidID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusCreated, entry)
}

// RemoveFromWatchlist unfollows an object.
func (h *UserHandler) RemoveFromWatchlist(c *gin.Context) {
	user, ok := currentUser(c, h.users)
	if !ok {
		return
	}

	asteroidID := strings.TrimSpace(c.Param("asteroidId"))
	if err := h.watchlist.Remove(requestContext(c), user.ID, asteroidID); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"asteroid_id": asteroidID, "removed": true})
}

// Preferences returns the current alert preferences.
func (h *UserHandler) Preferences(c *gin.Context) {
	user, ok := currentUser(c, h.users)
	if !ok {
		return
	}
	response.Success(c, http.StatusOK, user.Preferences)
}

// UpdatePreferences applies a partial preferences update. Validation happens
// in the service after risk levels are normalised.
func (h *UserHandler) UpdatePreferences(c *gin.Context) {
	user, ok := currentUser(c, h.users)
	if !ok {
		return
	}

	var input services.UpdatePreferencesInput
	if err := c.ShouldBindJSON(&input); err != nil {
		response.Error(c, errors.NewBadRequest("invalid JSON payload"))
		return
	}

	prefs, err := h.users.UpdatePreferences(requestContext(c), user.ID, input)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, prefs)
}
