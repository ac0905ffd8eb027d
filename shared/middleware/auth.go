package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/patternvault/backend/shared/logging"
)

const userIDKey = "userId"

// AccessVerifier validates an access token and returns the user id it bears.
type AccessVerifier interface {
	VerifyAccess(token string) (int64, error)
}

func AuthMiddleware(verifier AccessVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.JSON(http.StatusUnauthorized, gin.H{
				"message": "Authentication credentials were not provided",
			})
			c.Abort()
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
			c.JSON(http.StatusUnauthorized, gin.H{
				"message": "Invalid authorization header format",
			})
			c.Abort()
			return
		}

		userID, err := verifier.VerifyAccess(parts[1])
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{
				"message": "Invalid or expired token",
			})
			c.Abort()
			return
		}

		c.Set(userIDKey, userID)
		c.Next()
	}
}

func GetUserID(c *gin.Context) (int64, bool) {
	v, exists := c.Get(userIDKey)
	if !exists {
		return 0, false
	}
	id, ok := v.(int64)
	return id, ok
}

// ActiveUserChecker reports whether a user may still act.
type ActiveUserChecker interface {
	IsActive(ctx context.Context, userID int64) (bool, error)
}

// RequireActiveUser rejects tokens whose user was removed or deactivated
// after the token was issued. It must run after AuthMiddleware.
func RequireActiveUser(checker ActiveUserChecker, log logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := GetUserID(c)
		if !ok {
			RespondWithError(c, http.StatusUnauthorized, "Authentication credentials were not provided")
			c.Abort()
			return
		}
		active, err := checker.IsActive(c.Request.Context(), userID)
		if err != nil {
			log.Error(c.Request.Context(), "failed to check user", "user_id", userID, "error", err)
			RespondWithError(c, http.StatusInternalServerError, "Failed to authenticate")
			c.Abort()
			return
		}
		if !active {
			RespondWithError(c, http.StatusUnauthorized, "User is inactive or deleted")
			c.Abort()
			return
		}
		c.Next()
	}
}
