package server

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"modelgate/internal/core"
)

// credential extracts the client key from a request. Clients written for the
// Messages API send x-api-key; everything else sends a bearer token. When both
// are present the Authorization header wins.
func credential(r *http.Request) (string, string) {
	if h := r.Header.Get("Authorization"); h != "" {
		token, ok := strings.CutPrefix(h, "Bearer ")
		if !ok {
			return "", "invalid authorization header format, expected 'Bearer <token>'"
		}
		return token, ""
	}
	if key := r.Header.Get("x-api-key"); key != "" {
		return key, ""
	}
	return "", "missing credentials: send 'Authorization: Bearer <key>' or 'x-api-key: <key>'"
}

// AuthMiddleware rejects requests that do not present masterKey. An empty
// masterKey disables authentication. Paths in publicPaths are always served.
func AuthMiddleware(masterKey string, publicPaths []string, logger *slog.Logger) echo.MiddlewareFunc {
	public := make(map[string]struct{}, len(publicPaths))
	for _, p := range publicPaths {
		public[p] = struct{}{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	want := []byte(masterKey)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if masterKey == "" {
				return next(c)
			}
			req := c.Request()
			if _, ok := public[req.URL.Path]; ok {
				return next(c)
			}

			key, problem := credential(req)
			if problem == "" && subtle.ConstantTimeCompare([]byte(key), want) != 1 {
				problem = "invalid master key"
			}
			if problem != "" {
				logger.WarnContext(req.Context(), "request rejected",
					"path", req.URL.Path,
					"remote_ip", c.RealIP(),
					"request_id", core.GetRequestID(req.Context()),
					"reason", problem,
				)
				return c.JSON(http.StatusUnauthorized, map[string]interface{}{
					"error": map[string]interface{}{
						"type":    "authentication_error",
						"message": problem,
					},
				})
			}
			return next(c)
		}
	}
}
