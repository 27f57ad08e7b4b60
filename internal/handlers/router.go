package handlers

import (
	"time"

	ginGzip "github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	constants "github.com/CodeAndHammer/heungbuja/internal/constants"
	middleware "github.com/CodeAndHammer/heungbuja/internal/middleware"
	util "github.com/CodeAndHammer/heungbuja/internal/util"
)

type RouterOptions struct {
	TrustedProxies []string
	SongCacheAge   time.Duration
	Limiter        *middleware.RateLimiter
}

func NewRouter(app *App, opts RouterOptions) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	if !app.IsProduction {
		router.Use(gin.Logger())
	}

	router.Use(middleware.RequestID())
	router.Use(middleware.SecurityHeaders())
	router.Use(ginGzip.Gzip(ginGzip.DefaultCompression,
		ginGzip.WithExcludedExtensions([]string{".mp3", ".mp4", ".png", ".jpg", ".jpeg"}),
		ginGzip.WithExcludedPaths([]string{constants.RouteGameSocket, constants.RouteMedia})))
	router.Use(middleware.CacheHeaders([]string{constants.RouteGameSongs}, opts.SongCacheAge))

	if err := router.SetTrustedProxies(opts.TrustedProxies); err != nil {
		util.LogWarn("Failed to set trusted proxies: %v", err)
	}

	limited := func(h func(*App, *gin.Context)) []gin.HandlerFunc {
		handler := func(c *gin.Context) { h(app, c) }
		if opts.Limiter == nil {
			return []gin.HandlerFunc{handler}
		}
		return []gin.HandlerFunc{opts.Limiter.Middleware(), handler}
	}
	plain := func(h func(*App, *gin.Context)) gin.HandlerFunc {
		return func(c *gin.Context) { h(app, c) }
	}

	router.POST(constants.RouteGameStart, limited(StartHandler)...)
	router.POST(constants.RouteGameEnd, limited(EndHandler)...)
	router.POST(constants.RouteGameInterrupt, limited(InterruptHandler)...)
	router.POST(constants.RouteGameEmergency, plain(EmergencyHandler))
	router.GET(constants.RouteGameSongs, plain(SongsHandler))
	router.GET(constants.RouteGameSocket, plain(SocketHandler))
	if app.Media != nil && app.MediaDir != "" {
		router.GET(constants.RouteMedia+"/*key", plain(MediaHandler))
	}
	router.GET(constants.RouteHealthz, plain(HealthzHandler))
	router.GET(constants.RouteMetrics, gin.WrapH(promhttp.Handler()))

	return router
}
