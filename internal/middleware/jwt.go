package middleware // reusable HTTP middleware shared across route groups

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/peakform/coaching-platform/internal/utils"
)

// JWTAuth returns an Echo middleware that validates a Bearer access token
// and injects the subject (username) and role claims into the request
// context. Secret and algorithm must match the ones the codec was
// configured with at startup. Handlers behind this middleware read the
// caller via c.Get("username") and c.Get("role").
func JWTAuth(secret, alg string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			auth := c.Request().Header.Get("Authorization")
			if !strings.HasPrefix(auth, "Bearer ") {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "missing bearer token"})
			}
			raw := strings.TrimPrefix(auth, "Bearer ")

			// ParseAccessToken folds every failure (signature, structure,
			// algorithm, expiry) into one error, so the response cannot leak
			// which check failed.
			claims, err := utils.ParseAccessToken(secret, alg, raw)
			if err != nil {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid token"})
			}

			c.Set("username", claims.Subject)
			c.Set("role", claims.Role)
			return next(c)
		}
	}
}
