package obs

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func TestRequestIDIsEchoedOrGenerated(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Middleware{}.RequestID())
	var seen string
	r.GET("/x", func(c *gin.Context) {
		seen = RequestIDFromContext(c.Request.Context())
		c.Status(http.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("X-Request-ID", "abc")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, "abc", w.Header().Get("X-Request-ID"))
	assert.Equal(t, "abc", seen)

	req = httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("X-Request-ID", strings.Repeat("z", 100))
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Len(t, w.Header().Get("X-Request-ID"), 36)
	assert.Equal(t, w.Header().Get("X-Request-ID"), seen)
}

func TestLevelFor(t *testing.T) {
	assert.Equal(t, slog.LevelError, levelFor("/api/chat", 500))
	assert.Equal(t, slog.LevelWarn, levelFor("/api/chat", 404))
	assert.Equal(t, slog.LevelDebug, levelFor("/livez", 200))
	assert.Equal(t, slog.LevelInfo, levelFor("/api/chat", 200))
}
