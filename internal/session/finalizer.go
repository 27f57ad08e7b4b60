package session

import (
	"context"
	"errors"

	"github.com/samber/lo"

	catalog "github.com/CodeAndHammer/heungbuja/internal/catalog"
	constants "github.com/CodeAndHammer/heungbuja/internal/constants"
	game "github.com/CodeAndHammer/heungbuja/internal/game"
	models "github.com/CodeAndHammer/heungbuja/internal/models"
	results "github.com/CodeAndHammer/heungbuja/internal/results"
	store "github.com/CodeAndHammer/heungbuja/internal/store"
	util "github.com/CodeAndHammer/heungbuja/internal/util"
)

// Finalizer moves a session to its terminal status exactly once. End and
// Interrupt share one acquire-once lock per session.
type Finalizer struct {
	store    Store
	results  ResultStore
	notifier Notifier
	catalog  *catalog.Catalog
	opts     Options
}

func NewFinalizer(s Store, r ResultStore, n Notifier, c *catalog.Catalog, opts Options) *Finalizer {
	ensureMetrics()
	return &Finalizer{store: s, results: r, notifier: n, catalog: c, opts: opts}
}

// live loads both halves of a session. It returns ErrSessionNotFound when
// the session half is gone.
func (f *Finalizer) live(ctx context.Context, sessionID string) (*models.GameState, *models.GameSession, error) {
	s, err := f.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, nil, err
	}
	state, err := f.store.GetState(ctx, sessionID)
	if err != nil && !errors.Is(err, store.ErrStateNotFound) {
		return nil, nil, err
	}
	return state, s, nil
}

func (f *Finalizer) lock(ctx context.Context, sessionID string) error {
	ok, err := f.store.AcquireLock(ctx, sessionID, f.opts.FinalizeLockTTL)
	if err != nil {
		return err
	}
	if !ok {
		return ErrInterruptConflict
	}
	return nil
}

func (f *Finalizer) unlock(sessionID string) {
	ctx, cancel := context.WithTimeout(context.Background(), callbackTimeout)
	defer cancel()
	if err := f.store.ReleaseLock(ctx, sessionID); err != nil {
		util.Session(sessionID).Warn().Err(err).Msg("failed to release finalize lock")
	}
}

// End completes a session and returns its score. When the live session is
// already gone the durable result is returned instead.
func (f *Finalizer) End(ctx context.Context, sessionID string) (*models.EndResponse, error) {
	if err := f.lock(ctx, sessionID); err != nil {
		return nil, err
	}
	defer f.unlock(sessionID)

	state, s, err := f.live(ctx, sessionID)
	if errors.Is(err, store.ErrSessionNotFound) {
		return f.fromDurable(ctx, sessionID)
	}
	if err != nil {
		return nil, err
	}

	summary := game.Summarize(s, f.opts.ExcludeAbsentVerse)
	scores := game.ActionAverages(f.catalog.ActionName, s.Verse1Judgments, s.Verse2Judgments)
	if err := f.persist(ctx, s, summary, scores, constants.StatusCompleted, ""); err != nil {
		return nil, err
	}
	f.teardown(ctx, state, sessionID)
	sessionsEnded.WithLabelValues(constants.StatusCompleted).Inc()

	util.Session(sessionID).Info().Float64("final_score", summary.FinalScore).Msg("game session completed")
	return &models.EndResponse{
		SessionID:      sessionID,
		FinalScore:     summary.FinalScore,
		Message:        summary.Message,
		Verse1Avg:      summary.Verse1Avg,
		Verse2Avg:      summary.Verse2Avg,
		ChosenLevel:    s.ChosenLevel,
		ScoresByAction: game.ActionScoreMap(scores),
	}, nil
}

func (f *Finalizer) fromDurable(ctx context.Context, sessionID string) (*models.EndResponse, error) {
	r, err := f.results.GetResult(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if r == nil || r.Status == constants.StatusInProgress {
		return nil, ErrSessionNotFound
	}
	final := lo.FromPtr(r.FinalScore)
	return &models.EndResponse{
		SessionID:      sessionID,
		FinalScore:     final,
		Message:        game.ResultMessage(final),
		Verse1Avg:      r.Verse1Avg,
		Verse2Avg:      r.Verse2Avg,
		ChosenLevel:    r.ChosenLevel,
		ScoresByAction: game.ActionScoreMap(r.ScoresByAction),
	}, nil
}

// Interrupt stops a session abnormally. A session whose live state already
// expired only has its durable record closed.
func (f *Finalizer) Interrupt(ctx context.Context, sessionID, reason string) error {
	if err := f.lock(ctx, sessionID); err != nil {
		return err
	}
	defer f.unlock(sessionID)

	log := util.Session(sessionID)
	state, s, err := f.live(ctx, sessionID)
	if errors.Is(err, store.ErrSessionNotFound) {
		marked, mErr := f.results.MarkInterrupted(ctx, sessionID, reason, f.opts.now())
		if mErr != nil {
			return mErr
		}
		if err := f.store.ClearStatus(ctx, sessionID); err != nil {
			log.Warn().Err(err).Msg("failed to clear session status")
		}
		if !marked {
			return ErrSessionNotFound
		}
		sessionsEnded.WithLabelValues(constants.StatusInterrupted).Inc()
		log.Info().Str("reason", reason).Msg("orphaned game result marked interrupted")
		return nil
	}
	if err != nil {
		return err
	}

	summary := game.Summarize(s, f.opts.ExcludeAbsentVerse)
	scores := game.ActionAverages(f.catalog.ActionName, s.Verse1Judgments, s.Verse2Judgments)
	if err := f.persist(ctx, s, summary, scores, constants.StatusInterrupted, reason); err != nil {
		return err
	}
	f.teardown(ctx, state, sessionID)
	sessionsEnded.WithLabelValues(constants.StatusInterrupted).Inc()

	if err := f.notifier.Interrupted(ctx, sessionID, constants.InterruptMessage); err != nil {
		log.Warn().Err(err).Msg("failed to push interrupt notification")
	}
	log.Info().Str("reason", reason).Msg("game session interrupted")
	return nil
}

// RequestEmergencyStop raises the out-of-band flag the watchdog acts on.
func (f *Finalizer) RequestEmergencyStop(ctx context.Context, sessionID string) error {
	if _, err := f.store.GetSession(ctx, sessionID); err != nil {
		return err
	}
	return f.store.SetStatus(ctx, sessionID, constants.StatusEmergencyInterrupt, f.opts.SessionTTL)
}

func (f *Finalizer) persist(ctx context.Context, s *models.GameSession, summary game.Summary, scores []models.ActionScore, status, reason string) error {
	stats := []models.VerseStats{game.VerseStatistics(1, s.Verse1Judgments)}
	if summary.Verse2Avg != nil {
		stats = append(stats, game.VerseStatistics(2, s.Verse2Judgments))
	}

	ok, err := f.results.FinalizeResult(ctx, results.Finalization{
		SessionID:       s.SessionID,
		Status:          status,
		EndTime:         f.opts.now(),
		Verse1Avg:       summary.Verse1Avg,
		Verse2Avg:       summary.Verse2Avg,
		FinalScore:      lo.ToPtr(summary.FinalScore),
		ChosenLevel:     s.ChosenLevel,
		InterruptReason: reason,
		ScoresByAction:  scores,
		VerseStats:      stats,
	})
	if err != nil {
		return err
	}
	if !ok {
		util.Session(s.SessionID).Warn().Str("status", status).Msg("durable result was missing or already terminal")
	}
	return nil
}

func (f *Finalizer) teardown(ctx context.Context, state *models.GameState, sessionID string) {
	log := util.Session(sessionID)
	if err := f.store.DeleteSession(ctx, sessionID); err != nil {
		log.Error().Err(err).Msg("failed to delete session")
	}
	if err := f.store.ClearStatus(ctx, sessionID); err != nil {
		log.Warn().Err(err).Msg("failed to clear session status")
	}
	if state != nil {
		if err := f.store.ClearActivity(ctx, state.UserID, sessionID); err != nil {
			log.Warn().Err(err).Msg("failed to clear user activity")
		}
	}
}
