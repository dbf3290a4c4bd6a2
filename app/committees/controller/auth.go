package controller

import (
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

const sessionCookie = "cm_session"

// bearer returns the Authorization bearer token, if any.
func bearer(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimPrefix(authHeader, "Bearer ")
	}
	return ""
}

// ValidateToken checks if the Authorization header carries the static admin token.
func (c *Controller) ValidateToken(r *http.Request) bool {
	token := bearer(r)
	return token != "" && c.App.AdminToken != "" && token == c.App.AdminToken
}

// parseSession validates an HS256 session JWT from the bearer header or the session cookie.
func (c *Controller) parseSession(r *http.Request) (jwt.MapClaims, bool) {
	if len(c.App.JWTSecret) == 0 {
		return nil, false
	}
	raw := bearer(r)
	if raw == "" {
		cookie, err := r.Cookie(sessionCookie)
		if err != nil {
			return nil, false
		}
		raw = cookie.Value
	}
	tok, err := jwt.Parse(raw, func(t *jwt.Token) (any, error) { return c.App.JWTSecret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !tok.Valid {
		return nil, false
	}
	claims, ok := tok.Claims.(jwt.MapClaims)
	return claims, ok
}

// RequireAuth middleware
func (c *Controller) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if c.ValidateToken(r) {
			next.ServeHTTP(w, r)
			return
		}
		if _, ok := c.parseSession(r); ok {
			next.ServeHTTP(w, r)
			return
		}
		writeError(w, http.StatusUnauthorized, "unauthorized")
	})
}

// currentUser returns the username associated with the request when available.
// API tokens are treated as admin-equivalent and return "api-token".
func (c *Controller) currentUser(r *http.Request) string {
	if c.ValidateToken(r) {
		return "api-token"
	}
	if claims, ok := c.parseSession(r); ok {
		if sub, _ := claims["sub"].(string); sub != "" {
			return sub
		}
	}
	return "unknown"
}
