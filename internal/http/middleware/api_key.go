package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/jmehdipour/isp-billing/internal/config"
	echo "github.com/labstack/echo/v4"
)

const (
	RoleOwner    = "isp_owner"
	RoleOperator = "operator"

	ctxKeyName = "api_key_name"
	ctxRole    = "api_key_role"
)

// KeyNameFromCtx returns the name of the authenticated API key.
func KeyNameFromCtx(c echo.Context) (string, bool) {
	v, ok := c.Get(ctxKeyName).(string)
	return v, ok && v != ""
}

// RoleFromCtx returns the role of the authenticated API key.
func RoleFromCtx(c echo.Context) string {
	v, _ := c.Get(ctxRole).(string)
	return v
}

// APIKeyMiddleware authenticates requests using X-API-Key header against the configured keys.
// On success it stores the key name and role in context.
func APIKeyMiddleware(keys []config.APIKey) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			key := strings.TrimSpace(c.Request().Header.Get("X-API-Key"))
			if key == "" {
				return c.JSON(http.StatusUnauthorized, map[string]string{"error": "missing api key"})
			}
			for _, k := range keys {
				if k.Key != "" && subtle.ConstantTimeCompare([]byte(k.Key), []byte(key)) == 1 {
					c.Set(ctxKeyName, k.Name)
					c.Set(ctxRole, k.Role)
					return next(c)
				}
			}
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "invalid api key"})
		}
	}
}

// RequireRole rejects callers whose key does not carry one of roles.
func RequireRole(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			role := RoleFromCtx(c)
			for _, r := range roles {
				if r == role {
					return next(c)
				}
			}
			return c.JSON(http.StatusForbidden, map[string]string{"error": "forbidden"})
		}
	}
}
