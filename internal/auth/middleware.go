package auth

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// ContextUserKey is the echo context key the middleware stores the resolved
// user id under.
const ContextUserKey = "user_id"

// Middleware returns an echo middleware that requires a valid bearer token
// on every request and injects the resolved user id into the context.
func Middleware(verifier TokenVerifier) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			// CORS preflight never carries credentials.
			if c.Request().Method == http.MethodOptions {
				return next(c)
			}

			authHeader := c.Request().Header.Get("Authorization")
			if authHeader == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing authorization header")
			}

			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || parts[0] != "Bearer" {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid authorization header format")
			}

			userID, err := verifier.Resolve(c.Request().Context(), parts[1])
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
			}

			c.Set(ContextUserKey, userID)
			return next(c)
		}
	}
}

// UserID extracts the resolved user id from the request context. It returns
// an empty string when the middleware did not run.
func UserID(c echo.Context) string {
	userID, _ := c.Get(ContextUserKey).(string)
	return userID
}
