package handlers

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/cosmicwatch/neowatch/internal/middleware"
	"github.com/cosmicwatch/neowatch/internal/models"
	"github.com/cosmicwatch/neowatch/internal/services"
	"github.com/cosmicwatch/neowatch/pkg/errors"
	"github.com/cosmicwatch/neowatch/pkg/response"
)

// requestContext safely returns the request context with a background fallback for tests.
func requestContext(c *gin.Context) context.Context {
	if c == nil {
		return context.Background()
	}
	if req := c.Request; req != nil {
		return req.Context()
	}
	return context.Background()
}

// currentUser resolves the authenticated user, provisioning the record the
// first time a token subject is seen. On failure the error response has
// already been written.
func currentUser(c *gin.Context, users *services.UserService) (*models.User, bool) {
	claims, ok := middleware.Claims(c)
	if !ok || claims.UserID == "" {
		response.Error(c, errors.ErrUnauthorized)
		return nil, false
	}

	user, err := users.Ensure(requestContext(c), claims.UserID, claims.Email, claims.Name)
	if err != nil {
		response.Error(c, err)
		return nil, false
	}
	return user, true
}
