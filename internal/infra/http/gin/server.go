package ginserver

import (
	"net/http"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	gin "github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"petadopt/internal/infra/config"
	"petadopt/internal/infra/obs"
)

type ChatHTTP interface {
	ListConversations(c *gin.Context)
	Start(c *gin.Context)
	ListMessages(c *gin.Context)
	Send(c *gin.Context)
	MarkRead(c *gin.Context)
}

type Handlers struct {
	Chat           ChatHTTP
	Realtime       http.Handler
	AuthMiddleware gin.HandlerFunc
}

func NewServer(cfg config.Config, obsMW obs.Middleware, health obs.HealthHandlers, h Handlers) *http.Server {
	return &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           NewRouter(cfg, obsMW, health, h),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

func NewRouter(cfg config.Config, obsMW obs.Middleware, health obs.HealthHandlers, h Handlers) *gin.Engine {
	mode := configureGinMode(cfg.Env)
	if obsMW.Logger != nil {
		obsMW.Logger.Info("gin initialized", "mode", mode)
	}
	useJSONFieldNames()

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(obsMW.RequestID())
	router.Use(obsMW.LoggerMiddleware())
	router.Use(cors.New(corsConfig(cfg.CORSOrigins)))

	registerDocsRoutes(router)

	router.GET("/livez", health.Livez)
	router.GET("/readyz", health.Readyz)
	router.GET("/health", health.Livez)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/api/_ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})

	// The websocket handshake authenticates itself and must answer 401 before any upgrade.
	if h.Realtime != nil {
		router.GET("/ws", gin.WrapH(h.Realtime))
	}

	if h.Chat != nil {
		chat := router.Group("/api/chat")
		if h.AuthMiddleware != nil {
			chat.Use(h.AuthMiddleware)
		}
		chat.GET("", h.Chat.ListConversations)
		chat.POST("/start", h.Chat.Start)
		chat.GET("/:id/messages", h.Chat.ListMessages)
		chat.POST("/:id/send", h.Chat.Send)
		chat.POST("/:id/read", h.Chat.MarkRead)
	}

	router.NoRoute(func(c *gin.Context) {
		fail(c, http.StatusNotFound, "Route not found")
	})
	return router
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "Idempotency-Key", "X-Request-ID"},
		ExposeHeaders:    []string{"Content-Length", "Content-Type", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	for _, origin := range origins {
		if origin == "*" {
			cfg.AllowCredentials = false
			cfg.AllowAllOrigins = true
			return cfg
		}
	}
	cfg.AllowOrigins = origins
	if len(cfg.AllowOrigins) == 0 {
		cfg.AllowAllOrigins = true
		cfg.AllowCredentials = false
	}
	return cfg
}

var jsonNamesOnce sync.Once

// useJSONFieldNames makes binding errors report the json name of a field.
func useJSONFieldNames() {
	jsonNamesOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		v.RegisterTagNameFunc(func(f reflect.StructField) string {
			name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
			if name == "-" || name == "" {
				return f.Name
			}
			return name
		})
	})
}

func configureGinMode(env string) string {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "debug":
		gin.SetMode(gin.DebugMode)
		return gin.DebugMode
	case "test", "testing":
		gin.SetMode(gin.TestMode)
		return gin.TestMode
	default:
		gin.SetMode(gin.ReleaseMode)
		return gin.ReleaseMode
	}
}
