package server

import (
	"log/slog"
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	slogGin "github.com/samber/slog-gin"

	libraryHandler "github.com/openshelf/openshelf/internal/server/handlers/library"
	"github.com/openshelf/openshelf/internal/server/middlewares"
	"github.com/openshelf/openshelf/internal/version"
)

func SetupRoutes(svc *Services, config *Config) http.Handler {
	r := gin.New()

	libraryH := libraryHandler.New(svc.Library)

	httpLogger := slog.Default().WithGroup("http")
	r.Use(slogGin.NewWithConfig(httpLogger, slogGin.Config{
		DefaultLevel:     slog.LevelInfo,
		ClientErrorLevel: slog.LevelWarn,
		ServerErrorLevel: slog.LevelError,
		WithRequestID:    true,
	}))
	r.Use(gin.Recovery())
	// file bodies are hash-verified by clients; compressing them would only
	// burn CPU and break range offsets
	r.Use(gzip.Gzip(gzip.BestSpeed, gzip.WithExcludedPathsRegexs([]string{
		`^/api/v1/libraries/[^/]+/files/.*`,
	})))
	r.Use(cors.Default())
	r.Use(middlewares.RateLimiter(config.RateLimit))

	r.GET("/", IndexHandler)
	r.GET("/healthz", HealthHandler)

	v1 := r.Group("/api/v1")
	{
		v1.GET("/libraries", libraryH.List)
		v1.GET("/libraries/:id", libraryH.Get)
		v1.GET("/libraries/:id/digest", libraryH.Digest)
		v1.GET("/libraries/:id/manifest", libraryH.Manifest)
		v1.GET("/libraries/:id/files/*path", libraryH.File)
		v1.POST("/libraries/rescan", libraryH.Rescan)
	}

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "not found",
		})
	})

	r.NoMethod(func(c *gin.Context) {
		c.JSON(http.StatusMethodNotAllowed, gin.H{
			"error": "method not allowed",
		})
	})

	return r.Handler()
}

func IndexHandler(ctx *gin.Context) {
	ctx.String(http.StatusOK, version.DetailedWithApp())
}

func HealthHandler(ctx *gin.Context) {
	ctx.PureJSON(http.StatusOK, gin.H{
		"status": "ok",
	})
}

func init() {
	gin.SetMode(gin.ReleaseMode)
}
