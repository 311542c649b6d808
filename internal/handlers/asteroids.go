package handlers

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cosmicwatch/neowatch/internal/cache"
	"github.com/cosmicwatch/neowatch/internal/services"
	"github.com/cosmicwatch/neowatch/pkg/errors"
	"github.com/cosmicwatch/neowatch/pkg/response"
)

const feedCacheControl = "public, max-age=300"

// AsteroidHandler serves the NEO feed, object details and the alert preview.
type AsteroidHandler struct {
	asteroids *services.AsteroidService
	alerts    *services.AlertService
	users     *services.UserService
	now       func() time.Time
}

// NewAsteroidHandler constructs an asteroid handler. alerts and users are
// only needed by Alerts.
func NewAsteroidHandler(asteroids *services.AsteroidService, alerts *services.AlertService, users *services.UserService) (*AsteroidHandler, error) {
	if asteroids == nil {
		return nil, errors.New("HANDLER_MISCONFIGURED", "asteroid service is required", http.StatusInternalServerError)
	}
	return &AsteroidHandler{asteroids: asteroids, alerts: alerts, users: users, now: time.Now}, nil
}

// Feed lists the objects approaching on a day or within a range of up to a week.
func (h *AsteroidHandler) Feed(c *gin.Context) {
	window, err := services.ParseDateRange(
		c.Query("date"),
		firstQuery(c, "start_date", "startDate"),
		firstQuery(c, "end_date", "endDate"),
		h.now(),
	)
	if err != nil {
		response.Error(c, err)
		return
	}

	raw, err := h.asteroids.GetRangeRaw(requestContext(c), window)
	if err != nil {
		response.Error(c, err)
		return
	}
	if notModified(c, raw) {
		return
	}

	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		response.Error(c, errors.ErrInternalServer.WithInternal(err))
		return
	}

	response.SuccessWithMeta(c, http.StatusOK, json.RawMessage(raw), &response.Meta{
		Count:     len(items),
		StartDate: window.Start.Format(time.DateOnly),
		EndDate:   window.End.Format(time.DateOnly),
	})
}

// Get returns one object with its close approaches and orbital elements.
func (h *AsteroidHandler) Get(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	record, err := h.asteroids.GetEntity(requestContext(c), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	raw, err := json.Marshal(record)
	if err != nil {
		response.Error(c, errors.ErrInternalServer.WithInternal(err))
		return
	}
	if notModified(c, raw) {
		return
	}
	response.Success(c, http.StatusOK, json.RawMessage(raw))
}

// Alerts previews the alerts the current user has not received yet. It never
// marks anything as alerted.
func (h *AsteroidHandler) Alerts(c *gin.Context) {
	if h.alerts == nil || h.users == nil {
		response.Error(c, errors.ErrInternalServer)
		return
	}
	user, ok := currentUser(c, h.users)
	if !ok {
		return
	}

	alerts, err := h.alerts.AlertsFor(requestContext(c), user.ID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.SuccessWithMeta(c, http.StatusOK, alerts, &response.Meta{Count: len(alerts)})
}

// notModified sets the cache validators for raw and answers 304 when the
// client already holds it.
func notModified(c *gin.Context, raw []byte) bool {
	etag := cache.ComputeETag(raw)
	c.Header("ETag", etag)
	c.Header("Cache-Control", feedCacheControl)
	if cache.ETagMatches(c.GetHeader("If-None-Match"), etag) {
		c.Status(http.StatusNotModified)
		return true
	}
	return false
}

func firstQuery(c *gin.Context, keys ...string) string {
	for _, key := range keys {
		if value := strings.TrimSpace(c.Query(key)); value != "" {
			return value
		}
	}
	return ""
}
