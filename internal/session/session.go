package session

import (
	"context"
	"errors"
	"time"

	config "github.com/CodeAndHammer/heungbuja/internal/config"
	game "github.com/CodeAndHammer/heungbuja/internal/game"
	judge "github.com/CodeAndHammer/heungbuja/internal/judge"
	models "github.com/CodeAndHammer/heungbuja/internal/models"
	results "github.com/CodeAndHammer/heungbuja/internal/results"
	store "github.com/CodeAndHammer/heungbuja/internal/store"
)

var (
	ErrSessionNotFound   = store.ErrSessionNotFound
	ErrStateNotFound     = store.ErrStateNotFound
	ErrInterruptConflict = errors.New("session is already being finalized")

	// errNoChange aborts a session update without writing anything.
	errNoChange = errors.New("no change")
)

// Store is the keyed, TTL-bound home of live session data.
type Store interface {
	SaveState(ctx context.Context, state *models.GameState, ttl time.Duration) error
	GetState(ctx context.Context, sessionID string) (*models.GameState, error)
	SaveSession(ctx context.Context, session *models.GameSession, ttl time.Duration) error
	GetSession(ctx context.Context, sessionID string) (*models.GameSession, error)
	UpdateSession(ctx context.Context, sessionID string, ttl time.Duration, fn func(*models.GameSession) error) (*models.GameSession, error)
	DeleteSession(ctx context.Context, sessionID string) error
	SessionIDs(ctx context.Context) ([]string, error)

	AcquireLock(ctx context.Context, sessionID string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, sessionID string) error
	AcquireLease(ctx context.Context, sessionID string, ttl time.Duration) (string, bool, error)
	ReleaseLease(ctx context.Context, sessionID, token string) error
	LeaseHeld(ctx context.Context, sessionID string) (bool, error)

	SetStatus(ctx context.Context, sessionID, status string, ttl time.Duration) error
	GetStatus(ctx context.Context, sessionID string) (string, error)
	ClearStatus(ctx context.Context, sessionID string) error
	SetActivity(ctx context.Context, userID, sessionID string, ttl time.Duration) error
	ClearActivity(ctx context.Context, userID, sessionID string) error
}

// ResultStore is the durable record of finished and running games.
type ResultStore interface {
	CreateResult(ctx context.Context, r *models.GameResult) error
	GetResult(ctx context.Context, sessionID string) (*models.GameResult, error)
	FinalizeResult(ctx context.Context, f results.Finalization) (bool, error)
	MarkInterrupted(ctx context.Context, sessionID, reason string, at time.Time) (bool, error)
	SaveInferenceLog(ctx context.Context, l *models.InferenceLog) error
	PlayCounts(ctx context.Context) (map[string]int, error)
}

type Judge interface {
	Submit(req judge.Request, done func(judge.Result))
}

type Notifier interface {
	Feedback(ctx context.Context, sessionID string, judgment int, timestamp float64) error
	LevelDecision(ctx context.Context, sessionID string, level int, characterVideoURL string) error
	Interrupted(ctx context.Context, sessionID, message string) error
}

type MediaSigner interface {
	URL(objectKey string) string
}

type Options struct {
	LatencyOffset float64
	WindowBeats   float64
	StaleEpsilon  float64
	JudgeEveryN   int

	SessionTTL        time.Duration
	StallThreshold    time.Duration
	WatchdogInterval  time.Duration
	WatchdogParallel  int
	FinalizeLockTTL   time.Duration
	LeaseTTL          time.Duration
	WorkerIdleTimeout time.Duration
	WorkerQueueSize   int

	Levels             game.LevelSelector
	ExcludeAbsentVerse bool
	SongListLimit      int

	Now func() time.Time
}

func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		LatencyOffset:      cfg.LatencyOffset,
		WindowBeats:        cfg.WindowBeats,
		StaleEpsilon:       cfg.StaleEpsilon,
		JudgeEveryN:        cfg.JudgeEveryN,
		SessionTTL:         cfg.SessionTTL,
		StallThreshold:     cfg.StallThreshold,
		WatchdogInterval:   cfg.WatchdogInterval,
		WatchdogParallel:   cfg.WatchdogParallel,
		FinalizeLockTTL:    cfg.FinalizeLockTTL,
		LeaseTTL:           cfg.LeaseTTL,
		WorkerIdleTimeout:  cfg.WorkerIdleTimeout,
		WorkerQueueSize:    cfg.WorkerQueueSize,
		Levels:             game.NewLevelSelector(cfg.Level3MinScore, cfg.Level2MinScore),
		ExcludeAbsentVerse: cfg.ExcludeAbsentVerse,
		SongListLimit:      cfg.SongListLimit,
	}
}

// DefaultOptions mirrors the configuration defaults.
func DefaultOptions() Options {
	return Options{
		LatencyOffset:      0.2,
		WindowBeats:        1,
		StaleEpsilon:       0.1,
		JudgeEveryN:        1,
		SessionTTL:         30 * time.Minute,
		StallThreshold:     time.Second,
		WatchdogInterval:   time.Second,
		WatchdogParallel:   16,
		FinalizeLockTTL:    10 * time.Second,
		LeaseTTL:           5 * time.Second,
		WorkerIdleTimeout:  30 * time.Second,
		WorkerQueueSize:    64,
		Levels:             game.DefaultLevelSelector(),
		ExcludeAbsentVerse: true,
		SongListLimit:      5,
	}
}

func (o *Options) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now()
}
