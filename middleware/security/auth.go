package security

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/gutche/yappin/service/storage"
	"github.com/gutche/yappin/tools/errs"
)

// Context keys downstream handlers read the resolved identity from.
const (
	CtxUserIDKey   = "userID"
	CtxUsernameKey = "username"
)

// BearerToken pulls the reconnect token from the Authorization header or
// the token query parameter (the websocket handshake can't set headers
// from browsers, so the query form is accepted everywhere).
func BearerToken(r *http.Request) string {
	if authz := strings.TrimSpace(r.Header.Get("Authorization")); authz != "" {
		if strings.HasPrefix(strings.ToLower(authz), "bearer ") {
			return strings.TrimSpace(authz[len("bearer "):])
		}
	}
	return strings.TrimSpace(r.URL.Query().Get("token"))
}

// SessionAuth guards HTTP endpoints with the shared session store: a
// request bearing a known reconnect token acts as its session's user.
func SessionAuth(sessions storage.SessionStore, timeout time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := BearerToken(c.Request)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errs.ErrAuthFailure)
			return
		}
		ctx, cancel := context.WithTimeout(c.Request.Context(), timeout)
		defer cancel()
		rec, ok, err := sessions.Lookup(ctx, token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, errs.ErrStoreUnavailable)
			return
		}
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errs.ErrAuthFailure)
			return
		}
		c.Set(CtxUserIDKey, rec.UserID)
		c.Set(CtxUsernameKey, rec.Username)
		c.Next()
	}
}
