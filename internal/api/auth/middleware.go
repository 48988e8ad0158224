package auth

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// ContextKey represents keys for context values
type ContextKey string

const (
	// ActorContextKey holds the verified token subject for the request.
	ActorContextKey ContextKey = "actor"
)

// RequireAuth creates authentication middleware. It validates the Bearer
// token and stores the verified subject in the request context; handlers
// read it back with GetActor. Auth failures are plain HTTP 401s, never
// domain-envelope errors.
func RequireAuth(secret string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			// Extract token from Authorization header
			authHeader := c.Request().Header.Get("Authorization")
			if authHeader == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "Authorization header required")
			}

			// Check Bearer token format
			tokenParts := strings.Split(authHeader, " ")
			if len(tokenParts) != 2 || tokenParts[0] != "Bearer" {
				return echo.NewHTTPError(http.StatusUnauthorized, "Invalid authorization header format")
			}

			subject, err := VerifyToken(secret, tokenParts[1])
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "Invalid or expired token")
			}

			c.Set(string(ActorContextKey), subject)

			return next(c)
		}
	}
}

// GetActor extracts the verified actor from echo context. It returns the
// empty string on routes that did not pass through RequireAuth.
func GetActor(c echo.Context) string {
	actorInterface := c.Get(string(ActorContextKey))
	if actorInterface == nil {
		return ""
	}
	actor, ok := actorInterface.(string)
	if !ok {
		return ""
	}
	return actor
}
