package session

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	game "github.com/CodeAndHammer/heungbuja/internal/game"
	judge "github.com/CodeAndHammer/heungbuja/internal/judge"
	models "github.com/CodeAndHammer/heungbuja/internal/models"
	store "github.com/CodeAndHammer/heungbuja/internal/store"
	util "github.com/CodeAndHammer/heungbuja/internal/util"
)

const callbackTimeout = 5 * time.Second

// closedWindow is a buffered window handed to the judge once the session
// update that closed it has committed.
type closedWindow struct {
	verse   int
	event   models.ActionEvent
	samples []models.BufferedSample
}

func activeTimeline(state *models.GameState, s *models.GameSession) (models.ActionTimeline, int) {
	if s.ChosenLevel == nil {
		return state.Verse1Timeline, 1
	}
	return state.Verse2Timelines[*s.ChosenLevel], 2
}

func (c *Coordinator) window(state *models.GameState, ev models.ActionEvent) (float64, float64) {
	start := ev.Time - c.opts.LatencyOffset
	return start, start + c.opts.WindowBeats*60/state.BPM
}

// insertSample keeps the buffer ordered by time; a sample with the same time
// replaces the earlier one.
func insertSample(buf []models.BufferedSample, s models.BufferedSample) []models.BufferedSample {
	i, found := slices.BinarySearchFunc(buf, s.Time, func(b models.BufferedSample, t float64) int {
		switch {
		case b.Time < t:
			return -1
		case b.Time > t:
			return 1
		default:
			return 0
		}
	})
	if found {
		buf[i] = s
		return buf
	}
	return slices.Insert(buf, i, s)
}

// ProcessSample applies one movement sample to its session. Callers must
// serialize samples of the same session; Submit does that through the
// per-session workers.
func (c *Coordinator) ProcessSample(ctx context.Context, sample models.Sample) error {
	state, err := c.store.GetState(ctx, sample.SessionID)
	if err != nil {
		return err
	}
	return c.processWithState(ctx, state, sample)
}

func (c *Coordinator) processWithState(ctx context.Context, state *models.GameState, sample models.Sample) error {
	var closed *closedWindow
	now := c.opts.now()

	_, err := c.store.UpdateSession(ctx, sample.SessionID, c.opts.SessionTTL, func(s *models.GameSession) error {
		closed = nil
		timeline, verse := activeTimeline(state, s)
		if s.NextActionIndex >= len(timeline) {
			return errNoChange
		}
		s.LastSampleReceivedAt = now.UnixMilli()

		t := sample.CurrentPlayTime
		ev := timeline[s.NextActionIndex]
		start, end := c.window(state, ev)
		buffered := models.BufferedSample{Time: t, Frame: sample.Frame, Pose: sample.Pose}

		switch {
		case t < start-c.opts.StaleEpsilon:
			s.Buffer = nil
		case t < start:
		case t <= end:
			s.Buffer = insertSample(s.Buffer, buffered)
		default:
			closed = c.closeWindow(s, verse, ev)
			if s.NextActionIndex < len(timeline) {
				nextStart, nextEnd := c.window(state, timeline[s.NextActionIndex])
				if t >= nextStart && t <= nextEnd {
					s.Buffer = insertSample(s.Buffer, buffered)
				}
			}
		}
		return nil
	})
	if errors.Is(err, errNoChange) {
		return nil
	}
	if err != nil {
		return err
	}
	if closed != nil {
		c.dispatch(sample.SessionID, closed)
	}
	return nil
}

// closeWindow advances past the current action. A non-empty buffer becomes a
// judgment request unless the throttle skips this window.
func (c *Coordinator) closeWindow(s *models.GameSession, verse int, ev models.ActionEvent) *closedWindow {
	var closed *closedWindow
	if len(s.Buffer) > 0 {
		// windows 1, N+1, 2N+1... are judged
		every := max(c.opts.JudgeEveryN, 1)
		if s.JudgmentCounter%every == 0 {
			closed = &closedWindow{verse: verse, event: ev, samples: s.Buffer}
		}
		s.JudgmentCounter++
	}
	s.NextActionIndex++
	s.Buffer = nil
	return closed
}

func judgeRequest(w *closedWindow) judge.Request {
	req := judge.Request{ActionCode: w.event.ActionCode, ActionName: w.event.ActionName}
	for _, s := range w.samples {
		switch {
		case len(s.Pose) > 0:
			req.PoseFrames = append(req.PoseFrames, s.Pose)
		case s.Frame != "":
			req.Frames = append(req.Frames, s.Frame)
		}
	}
	if len(req.PoseFrames) > 0 {
		req.Frames = nil
	}
	return req
}

func (c *Coordinator) dispatch(sessionID string, w *closedWindow) {
	c.judge.Submit(judgeRequest(w), func(res judge.Result) {
		ctx, cancel := context.WithTimeout(context.Background(), callbackTimeout)
		defer cancel()
		c.handleJudgment(ctx, sessionID, w, res)
	})
}

// handleJudgment always pushes feedback first. The judgment is then recorded
// only if the session still exists.
func (c *Coordinator) handleJudgment(ctx context.Context, sessionID string, w *closedWindow, res judge.Result) {
	log := util.Session(sessionID)
	if err := c.notifier.Feedback(ctx, sessionID, res.Judgment, w.event.Time); err != nil {
		log.Warn().Err(err).Msg("failed to push feedback")
	}

	err := c.ApplyJudgment(ctx, sessionID, w.verse, models.Judgment{ActionCode: w.event.ActionCode, Value: res.Judgment})
	switch {
	case errors.Is(err, store.ErrSessionNotFound):
		log.Debug().Msg("session gone before judgment landed")
	case err != nil:
		log.Error().Err(err).Msg("failed to record judgment")
	}

	entry := &models.InferenceLog{
		SessionID:         sessionID,
		Verse:             w.verse,
		TargetActionCode:  w.event.ActionCode,
		TargetActionName:  w.event.ActionName,
		PredictedLabel:    res.PredictedLabel,
		Confidence:        res.Confidence,
		TargetProbability: res.TargetProbability,
		Judgment:          res.Judgment,
		FrameCount:        res.FrameCount,
		ResponseTimeMs:    res.Elapsed.Milliseconds(),
		InferenceTimeMs:   res.InferenceTimeMs,
		Success:           res.Err == nil,
		CreatedAt:         c.opts.now(),
	}
	if res.Err != nil {
		entry.ErrorMessage = res.Err.Error()
		log.Warn().Err(res.Err).Int("action_code", w.event.ActionCode).Msg("judgment fell back to 0")
	}
	if err := c.results.SaveInferenceLog(ctx, entry); err != nil {
		log.Warn().Err(err).Msg("failed to save inference log")
	}
}

// ApplyJudgment appends a judgment to the given verse. A missing session is
// reported as store.ErrSessionNotFound and leaves nothing behind.
func (c *Coordinator) ApplyJudgment(ctx context.Context, sessionID string, verse int, j models.Judgment) error {
	_, err := c.store.UpdateSession(ctx, sessionID, c.opts.SessionTTL, func(s *models.GameSession) error {
		if verse == 2 {
			s.Verse2Judgments = append(s.Verse2Judgments, j)
		} else {
			s.Verse1Judgments = append(s.Verse1Judgments, j)
		}
		return nil
	})
	return err
}

// StallOutcome describes what a stall resolution did.
type StallOutcome int

const (
	StallNone StallOutcome = iota
	StallFlushed
	StallDecided
)

func (c *Coordinator) stalled(s *models.GameSession, now time.Time) bool {
	if s.ChosenLevel != nil || s.LastSampleReceivedAt == 0 {
		return false
	}
	return now.Sub(time.UnixMilli(s.LastSampleReceivedAt)) > c.opts.StallThreshold
}

// ResolveStall handles a session whose sample stream stopped during verse1.
// Unfinished verse1 windows are closed first (judging a buffered one) and the
// level is decided on a later call, so the last judgment has time to land.
// Once verse1 is done the level is chosen exactly once and pushed.
func (c *Coordinator) ResolveStall(ctx context.Context, sessionID string) (StallOutcome, error) {
	state, err := c.store.GetState(ctx, sessionID)
	if err != nil {
		return StallNone, err
	}

	var (
		outcome StallOutcome
		closed  *closedWindow
		level   int
	)
	now := c.opts.now()
	_, err = c.store.UpdateSession(ctx, sessionID, c.opts.SessionTTL, func(s *models.GameSession) error {
		outcome, closed = StallNone, nil
		if !c.stalled(s, now) {
			return errNoChange
		}

		if s.NextActionIndex < len(state.Verse1Timeline) {
			closed = c.closeWindow(s, 1, state.Verse1Timeline[s.NextActionIndex])
			s.NextActionIndex = len(state.Verse1Timeline)
			outcome = StallFlushed
			return nil
		}

		level = c.opts.Levels.Select(game.VerseAverage(s.Verse1Judgments))
		s.ChosenLevel = &level
		s.NextActionIndex = 0
		s.Buffer = nil
		s.LastSampleReceivedAt = 0
		outcome = StallDecided
		return nil
	})
	if errors.Is(err, errNoChange) {
		return StallNone, nil
	}
	if err != nil {
		return StallNone, err
	}

	log := util.Session(sessionID)
	switch outcome {
	case StallFlushed:
		if closed != nil {
			c.dispatch(sessionID, closed)
		}
		log.Info().Msg("verse1 stream stalled, closed remaining windows")
	case StallDecided:
		levelDecisions.WithLabelValues(fmt.Sprint(level)).Inc()
		videoURL := state.VideoURLs[fmt.Sprintf(videoKeyLevelFormat, level)]
		if err := c.notifier.LevelDecision(ctx, sessionID, level, videoURL); err != nil {
			log.Warn().Err(err).Msg("failed to push level decision")
		}
		log.Info().Int("level", level).Msg("verse2 level decided")
	}
	return outcome, nil
}
