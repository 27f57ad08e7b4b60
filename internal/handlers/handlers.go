package handlers

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	catalog "github.com/CodeAndHammer/heungbuja/internal/catalog"
	choreo "github.com/CodeAndHammer/heungbuja/internal/choreo"
	constants "github.com/CodeAndHammer/heungbuja/internal/constants"
	media "github.com/CodeAndHammer/heungbuja/internal/media"
	models "github.com/CodeAndHammer/heungbuja/internal/models"
	session "github.com/CodeAndHammer/heungbuja/internal/session"
	util "github.com/CodeAndHammer/heungbuja/internal/util"
)

type Games interface {
	Start(ctx context.Context, req models.StartRequest) (*models.StartOutcome, error)
	SongListing(ctx context.Context) ([]models.SongListing, error)
	ActiveWorkers() int
}

type Finisher interface {
	End(ctx context.Context, sessionID string) (*models.EndResponse, error)
	Interrupt(ctx context.Context, sessionID, reason string) error
	RequestEmergencyStop(ctx context.Context, sessionID string) error
}

type Sockets interface {
	Serve(w http.ResponseWriter, r *http.Request, sessionID string) error
	Connections() int
}

type Pinger interface {
	Ping(ctx context.Context) error
}

type RateLimiter interface {
	Size() int
}

type App struct {
	Games        Games
	Finisher     Finisher
	Sockets      Sockets
	Redis        Pinger
	Media        *media.Signer
	MediaDir     string
	Limiters     RateLimiter
	IsProduction bool
	StartTime    time.Time
}

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// respondError maps service errors onto a status and a machine readable code.
func respondError(c *gin.Context, err error) {
	status, code := http.StatusInternalServerError, constants.ErrorCodeInternal
	switch {
	case errors.Is(err, session.ErrSessionNotFound):
		status, code = http.StatusNotFound, constants.ErrorCodeSessionNotFound
	case errors.Is(err, catalog.ErrSongNotFound):
		status, code = http.StatusNotFound, constants.ErrorCodeSongNotFound
	case errors.Is(err, session.ErrInterruptConflict):
		status, code = http.StatusConflict, constants.ErrorCodeInterruptConflict
	case errors.Is(err, choreo.ErrChoreographyDataMissing):
		status, code = http.StatusUnprocessableEntity, constants.ErrorCodeChoreographyDataMissing
	}

	log := util.Ctx(c.Request.Context())
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
	} else {
		log.Info().Err(err).Str("path", c.FullPath()).Int("status", status).Msg("request rejected")
	}
	c.AbortWithStatusJSON(status, errorBody{Error: err.Error(), Code: code})
}

func badRequest(c *gin.Context, err error) {
	c.AbortWithStatusJSON(http.StatusBadRequest, errorBody{Error: err.Error(), Code: constants.ErrorCodeInvalidRequest})
}

func StartHandler(app *App, c *gin.Context) {
	var req models.StartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	out, err := app.Games.Start(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	if out.Session == nil {
		c.JSON(http.StatusOK, gin.H{"songs": out.Songs})
		return
	}
	c.JSON(http.StatusOK, out.Session)
}

func SongsHandler(app *App, c *gin.Context) {
	songs, err := app.Games.SongListing(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"songs": songs})
}

func EndHandler(app *App, c *gin.Context) {
	var req models.EndRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	resp, err := app.Finisher.End(c.Request.Context(), req.SessionID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func InterruptHandler(app *App, c *gin.Context) {
	var req models.InterruptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		reason = constants.InterruptReasonUser
	}

	if err := app.Finisher.Interrupt(c.Request.Context(), req.SessionID, reason); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessionId": req.SessionID, "status": constants.StatusInterrupted})
}

func EmergencyHandler(app *App, c *gin.Context) {
	var req models.EmergencyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	if err := app.Finisher.RequestEmergencyStop(c.Request.Context(), req.SessionID); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"sessionId": req.SessionID, "status": constants.StatusEmergencyInterrupt})
}

func SocketHandler(app *App, c *gin.Context) {
	sessionID := c.Query("sessionId")
	if sessionID == "" {
		badRequest(c, errors.New("sessionId is required"))
		return
	}
	if err := app.Sockets.Serve(c.Writer, c.Request, sessionID); err != nil {
		util.Ctx(c.Request.Context()).Warn().Err(err).Str("session_id", sessionID).Msg("websocket closed with error")
	}
}

// MediaHandler serves a media object from disk once its signed URL checks out.
func MediaHandler(app *App, c *gin.Context) {
	key := strings.TrimLeft(c.Param("key"), "/")
	if err := app.Media.Verify(key, c.Query("expires"), c.Query("sig")); err != nil {
		c.AbortWithStatusJSON(http.StatusForbidden, errorBody{Error: err.Error(), Code: constants.ErrorCodeForbidden})
		return
	}

	path := filepath.Join(app.MediaDir, filepath.FromSlash(filepath.Clean("/"+key)))
	if _, err := os.Stat(path); err != nil {
		c.AbortWithStatus(http.StatusNotFound)
		return
	}
	c.File(path)
}

func HealthzHandler(app *App, c *gin.Context) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	status, httpStatus := "ok", http.StatusOK
	redisStatus := "ok"
	if app.Redis != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := app.Redis.Ping(ctx); err != nil {
			util.LogWarn("Health check redis ping failed: %v", err)
			status, httpStatus, redisStatus = "degraded", http.StatusServiceUnavailable, "unreachable"
		}
	}

	limiterCount := 0
	if app.Limiters != nil {
		limiterCount = app.Limiters.Size()
	}

	c.JSON(httpStatus, gin.H{
		"status":          status,
		"env":             map[bool]string{true: "production", false: "development"}[app.IsProduction],
		"redis":           redisStatus,
		"active_workers":  app.Games.ActiveWorkers(),
		"connections":     app.Sockets.Connections(),
		"active_limiters": limiterCount,
		"memory_alloc_mb": m.Alloc / 1024 / 1024,
		"memory_sys_mb":   m.Sys / 1024 / 1024,
		"memory_gc_count": m.NumGC,
		"uptime":          util.FormatUptime(time.Since(app.StartTime)),
		"timestamp":       time.Now().UTC().Format(time.RFC3339),
	})
}
