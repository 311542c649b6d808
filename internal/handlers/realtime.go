package handlers

import (
	"strings"

	"github.com/gin-gonic/gin"

	iauth "github.com/cosmicwatch/neowatch/internal/auth"
	"github.com/cosmicwatch/neowatch/internal/realtime"
	"github.com/cosmicwatch/neowatch/internal/services"
	"github.com/cosmicwatch/neowatch/pkg/errors"
	"github.com/cosmicwatch/neowatch/pkg/response"
)

// RealtimeHandler upgrades HTTP connections into authenticated alert streams.
type RealtimeHandler struct {
	hub            *realtime.Hub
	jwt            *iauth.JWTService
	users          *services.UserService
	allowedStreams map[string]struct{}
}

// NewRealtimeHandler constructs a realtime handler restricted to streams. If no
// streams are provided the alert and system streams are accepted.
func NewRealtimeHandler(hub *realtime.Hub, jwt *iauth.JWTService, users *services.UserService, streams ...string) *RealtimeHandler {
	if len(streams) == 0 {
		streams = []string{realtime.StreamAlerts, realtime.StreamSystem}
	}
	allowed := make(map[string]struct{}, len(streams))
	for _, stream := range streams {
		if stream = normalizeStream(stream); stream != "" {
			allowed[stream] = struct{}{}
		}
	}

	return &RealtimeHandler{
		hub:            hub,
		jwt:            jwt,
		users:          users,
		allowedStreams: allowed,
	}
}

// Stream validates the caller and hands the connection to the hub. Browsers
// cannot set headers on websocket requests, so the token may come as a query
// parameter.
func (h *RealtimeHandler) Stream(c *gin.Context) {
	if h.jwt == nil || h.hub == nil {
		response.Error(c, errors.ErrNotFound)
		return
	}

	token := strings.TrimSpace(c.Query("token"))
	if token == "" {
		token = strings.TrimSpace(c.Query("access_token"))
	}
	if token == "" {
		token = iauth.BearerToken(c.GetHeader("Authorization"))
	}
	if token == "" {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	claims, err := h.jwt.ValidateAccessToken(token)
	if err != nil {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	userID := strings.TrimSpace(claims.UserID)
	if userID == "" {
		response.Error(c, errors.ErrUnauthorized)
		return
	}
	if h.users != nil {
		user, err := h.users.Ensure(requestContext(c), userID, claims.Email, claims.Name)
		if err != nil {
			response.Error(c, err)
			return
		}
		userID = user.ID
	}

	streams := gatherStreams(c)
	for _, stream := range streams {
		if _, ok := h.allowedStreams[stream]; !ok {
			response.Error(c, errors.ErrNotFound.WithMessage("unknown stream "+stream))
			return
		}
	}

	h.hub.Serve(userID, streams, c.Writer, c.Request)
}

func gatherStreams(c *gin.Context) []string {
	var streams []string

	for _, queryStream := range c.QueryArray("stream") {
		if normalized := normalizeStream(queryStream); normalized != "" {
			streams = append(streams, normalized)
		}
	}

	if raw := c.Query("streams"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			if normalized := normalizeStream(part); normalized != "" {
				streams = append(streams, normalized)
			}
		}
	}

	return uniqueStreams(streams)
}

func normalizeStream(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}

func uniqueStreams(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	var out []string
	for _, value := range values {
		if _, ok := seen[value]; ok {
			continue
		}
		seen[value] = struct{}{}
		out = append(out, value)
	}
	return out
}
