package ginserver

import (
	"errors"
	"log/slog"
	"net/http"
	"net/url"

	gin "github.com/gin-gonic/gin"

	domainauth "petadopt/internal/domain/auth"
)

const (
	principalContextKey = "petadopt.principal"
	cookieAccessToken   = "accessToken"
)

// AuthMiddleware rejects requests without a valid access token and stores the identity on
// the context for handlers.
type AuthMiddleware struct {
	Verifier domainauth.Verifier
	Logger   *slog.Logger
}

func (m AuthMiddleware) Handle(c *gin.Context) {
	token := bearerToken(c)
	if token == "" {
		abort(c, http.StatusUnauthorized, "No token provided")
		return
	}
	if m.Verifier == nil {
		abort(c, http.StatusUnauthorized, "Unauthorized")
		return
	}
	identity, err := m.Verifier.Verify(c.Request.Context(), domainauth.Token(token))
	if err != nil || identity == nil || identity.UserID == "" {
		if m.Logger != nil {
			m.Logger.Debug("token validation failed", "error", err, "request_id", c.GetString("request_id"))
		}
		if errors.Is(err, domainauth.ErrTokenExpired) {
			abort(c, http.StatusUnauthorized, "Token expired")
			return
		}
		abort(c, http.StatusUnauthorized, "Unauthorized")
		return
	}
	setPrincipal(c, *identity)
	c.Next()
}

// bearerToken reads the Authorization header and falls back to the accessToken cookie.
func bearerToken(c *gin.Context) string {
	if t := domainauth.StripBearer(c.GetHeader("Authorization")); t != "" {
		return t
	}
	raw, err := c.Cookie(cookieAccessToken)
	if err != nil {
		return ""
	}
	if decoded, err := url.QueryUnescape(raw); err == nil {
		raw = decoded
	}
	return domainauth.StripBearer(raw)
}

func setPrincipal(c *gin.Context, id domainauth.Identity) {
	c.Set(principalContextKey, id)
}

func currentPrincipal(c *gin.Context) (domainauth.Identity, bool) {
	val, exists := c.Get(principalContextKey)
	if !exists {
		return domainauth.Identity{}, false
	}
	id, ok := val.(domainauth.Identity)
	return id, ok && id.UserID != ""
}

func requirePrincipal(c *gin.Context) (domainauth.Identity, bool) {
	id, ok := currentPrincipal(c)
	if !ok {
		fail(c, http.StatusUnauthorized, "Unauthorized")
		return domainauth.Identity{}, false
	}
	return id, true
}
