package session

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	catalog "github.com/CodeAndHammer/heungbuja/internal/catalog"
	constants "github.com/CodeAndHammer/heungbuja/internal/constants"
	judge "github.com/CodeAndHammer/heungbuja/internal/judge"
	models "github.com/CodeAndHammer/heungbuja/internal/models"
)

func TestStartBuildsSession(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	resp := h.start(t, "1")
	assert.NotEmpty(t, resp.SessionID)
	assert.Equal(t, "Test Song", resp.SongTitle)
	assert.Equal(t, "https://cdn.test/audio/1.mp3", resp.AudioURL)
	assert.Equal(t, 60.0, resp.BPM)

	require.Len(t, resp.Verse1Timeline, 4)
	assert.Equal(t, []int{1, 2, 1, 2}, codes(resp.Verse1Timeline))
	require.Len(t, resp.Verse2Timelines, 3)
	assert.Equal(t, []int{2, 2}, codes(resp.Verse2Timelines[1]))
	assert.Len(t, resp.Verse2Timelines[3], 4)

	assert.Equal(t, 4.0, resp.SectionInfo[constants.SectionVerse2])
	assert.Equal(t, []string{"A", "A", "A", "A"}, resp.SectionPatterns.Verse1)
	assert.Equal(t, "https://cdn.test/video/a.mp4", resp.VideoURLs["verse1"])
	assert.Equal(t, "https://cdn.test/video/pattern_b.mp4", resp.VideoURLs["verse2_level1"])
	assert.Equal(t, "https://cdn.test/video/break.mp4", resp.VideoURLs["intro"])
	// the grid is too short for a camera segment
	assert.Equal(t, models.SegmentRange{}, resp.SegmentInfo.Verse1Cam)

	s := h.session(t, resp.SessionID)
	assert.Zero(t, s.NextActionIndex)
	assert.Nil(t, s.ChosenLevel)

	status, err := h.store.GetStatus(ctx, resp.SessionID)
	require.NoError(t, err)
	assert.Equal(t, constants.StatusInProgress, status)

	activity, err := h.store.GetActivity(ctx, "u1")
	require.NoError(t, err)
	assert.Contains(t, activity, resp.SessionID)

	r, err := h.results.GetResult(ctx, resp.SessionID)
	require.NoError(t, err)
	require.NotNil(t, r)
	assert.Equal(t, constants.StatusInProgress, r.Status)
}

func codes(tl models.ActionTimeline) []int {
	out := make([]int, 0, len(tl))
	for _, ev := range tl {
		out = append(out, ev.ActionCode)
	}
	return out
}

func TestStartUnknownSong(t *testing.T) {
	h := newHarness(t, nil)
	_, err := h.coordinator.Start(context.Background(), models.StartRequest{UserID: "u1", SongID: "404"})
	assert.True(t, errors.Is(err, catalog.ErrSongNotFound))
}

func TestStartWithoutSongListsByPlayCount(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.SongListLimit = 1 })
	h.start(t, "2")
	h.start(t, "2")
	h.start(t, "1")

	out, err := h.coordinator.Start(context.Background(), models.StartRequest{UserID: "u1"})
	require.NoError(t, err)
	assert.Nil(t, out.Session)
	require.Len(t, out.Songs, 1)
	assert.Equal(t, "2", out.Songs[0].SongID)
	assert.Equal(t, 2, out.Songs[0].PlayCount)
}

func TestSampleBeforeWindowDoesNotAdvance(t *testing.T) {
	h := newHarness(t, nil)
	id := h.start(t, "1").SessionID

	h.sample(t, id, 0.5, "a")
	h.sample(t, id, 0.9, "b") // closes action 0, buffered for action 1

	// action 1 opens at 0.8: 0.75 is early but inside the stale margin
	h.sample(t, id, 0.75, "early")
	s := h.session(t, id)
	assert.Equal(t, 1, s.NextActionIndex)
	require.Len(t, s.Buffer, 1)
	assert.Equal(t, 0.9, s.Buffer[0].Time)

	// well before the window the buffer is stale
	h.sample(t, id, 0.5, "stale")
	s = h.session(t, id)
	assert.Equal(t, 1, s.NextActionIndex)
	assert.Empty(t, s.Buffer)
}

func TestWindowClosesAndDispatches(t *testing.T) {
	h := newHarness(t, nil)
	id := h.start(t, "1").SessionID

	h.sample(t, id, 0.1, "f1")
	h.sample(t, id, 0.5, "f3")
	h.sample(t, id, 0.3, "f2")
	s := h.session(t, id)
	assert.Equal(t, 0, s.NextActionIndex)
	require.Len(t, s.Buffer, 3)
	assert.Empty(t, h.judge.sent())

	h.sample(t, id, 0.9, "next")

	sent := h.judge.sent()
	require.Len(t, sent, 1)
	assert.Equal(t, 1, sent[0].ActionCode)
	assert.Equal(t, "clap", sent[0].ActionName)
	assert.Equal(t, []string{"f1", "f2", "f3"}, sent[0].Frames)

	s = h.session(t, id)
	assert.Equal(t, 1, s.NextActionIndex)
	require.Len(t, s.Buffer, 1)
	assert.Equal(t, "next", s.Buffer[0].Frame)
	assert.Equal(t, []models.Judgment{{ActionCode: 1, Value: 3}}, s.Verse1Judgments)

	feedback := h.notifier.ofKind(constants.MessageTypeFeedback)
	require.Len(t, feedback, 1)
	assert.Equal(t, 3, feedback[0].judgment)
	assert.Equal(t, 0.0, feedback[0].timestamp)

	logs := h.results.inferenceLogs()
	require.Len(t, logs, 1)
	assert.True(t, logs[0].Success)
	assert.Equal(t, 3, logs[0].FrameCount)
}

func TestEmptyWindowIsNotJudged(t *testing.T) {
	h := newHarness(t, nil)
	id := h.start(t, "1").SessionID

	h.sample(t, id, 1.9, "late")
	assert.Empty(t, h.judge.sent())
	assert.Equal(t, 1, h.session(t, id).NextActionIndex)
}

func TestThrottleSkipsWindows(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.JudgeEveryN = 2 })
	id := h.start(t, "1").SessionID

	h.sample(t, id, 0.5, "a")
	h.sample(t, id, 1.0, "b")
	h.sample(t, id, 1.9, "c")

	sent := h.judge.sent()
	require.Len(t, sent, 1)
	assert.Equal(t, 1, sent[0].ActionCode, "first closed window is judged")

	s := h.session(t, id)
	assert.Equal(t, 2, s.NextActionIndex)
	assert.Equal(t, 2, s.JudgmentCounter)
	assert.Len(t, s.Verse1Judgments, 1)
}

func TestThrottleJudgesEveryNthWindow(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.JudgeEveryN = 3 })
	id := h.start(t, "1").SessionID

	for _, at := range []float64{0.5, 1.0, 1.9, 2.9, 3.9} {
		h.sample(t, id, at, "f")
	}

	sent := h.judge.sent()
	require.Len(t, sent, 2)
	assert.Equal(t, 1, sent[0].ActionCode)
	assert.Equal(t, 2, sent[1].ActionCode)

	s := h.session(t, id)
	assert.Equal(t, 4, s.NextActionIndex)
	assert.Equal(t, 4, s.JudgmentCounter)
	assert.Len(t, s.Verse1Judgments, 2)
}

func TestPoseFramesPreferred(t *testing.T) {
	req := judgeRequest(&closedWindow{
		event: models.ActionEvent{ActionCode: 2, ActionName: "hit"},
		samples: []models.BufferedSample{
			{Time: 1, Frame: "f"},
			{Time: 2, Pose: [][]float64{{0.1, 0.2}}},
		},
	})
	assert.Nil(t, req.Frames)
	assert.Len(t, req.PoseFrames, 1)
	assert.Equal(t, 1, req.FrameCount())
}

func TestJudgeTimeoutRecordsZero(t *testing.T) {
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	defer slow.Close()

	h := newHarness(t, nil)
	client := judge.NewClient(judge.Options{BaseURL: slow.URL, Timeout: 20 * time.Millisecond, Workers: 1, QueueSize: 4})
	client.Start()
	defer client.Close()
	h.coordinator.judge = client

	id := h.start(t, "1").SessionID
	h.sample(t, id, 0.5, "a")
	h.sample(t, id, 0.9, "b")

	require.Eventually(t, func() bool {
		return len(h.session(t, id).Verse1Judgments) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, h.session(t, id).Verse1Judgments[0].Value)

	feedback := h.notifier.ofKind(constants.MessageTypeFeedback)
	require.Len(t, feedback, 1)
	assert.Equal(t, 0, feedback[0].judgment)

	require.Eventually(t, func() bool { return len(h.results.inferenceLogs()) == 1 }, time.Second, 10*time.Millisecond)
	assert.False(t, h.results.inferenceLogs()[0].Success)
}

func TestJudgmentAfterDeletionIsDropped(t *testing.T) {
	h := newHarness(t, nil)
	h.judge.hold = true
	id := h.start(t, "1").SessionID

	h.sample(t, id, 0.5, "a")
	h.sample(t, id, 0.9, "b")
	require.NoError(t, h.store.DeleteSession(context.Background(), id))

	h.judge.release()

	assert.Len(t, h.notifier.ofKind(constants.MessageTypeFeedback), 1)
	_, err := h.store.GetSession(context.Background(), id)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestSamplesPastTimelineAreIgnored(t *testing.T) {
	h := newHarness(t, nil)
	id := h.start(t, "1").SessionID

	for _, at := range []float64{0.5, 1.5, 2.5, 3.5, 3.9} {
		h.sample(t, id, at, "x")
	}
	s := h.session(t, id)
	assert.Equal(t, 4, s.NextActionIndex)
	last := s.LastSampleReceivedAt

	h.clock.Advance(500 * time.Millisecond)
	h.sample(t, id, 4.5, "x")
	assert.Equal(t, last, h.session(t, id).LastSampleReceivedAt)
	assert.Nil(t, h.session(t, id).ChosenLevel)
}

func TestLevelDecidedOnceAfterVerse1(t *testing.T) {
	h := newHarness(t, nil)
	h.judge.setJudgment(1)
	ctx := context.Background()
	id := h.start(t, "1").SessionID

	h.sample(t, id, 0.5, "x")
	h.sample(t, id, 1.5, "x")

	// not quiet long enough yet
	outcome, err := h.coordinator.ResolveStall(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StallNone, outcome)

	h.clock.Advance(2 * time.Second)
	outcome, err = h.coordinator.ResolveStall(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StallFlushed, outcome)
	assert.Empty(t, h.notifier.ofKind(constants.MessageTypeLevelDecision))

	s := h.session(t, id)
	assert.Equal(t, 4, s.NextActionIndex)
	assert.Len(t, s.Verse1Judgments, 2)

	outcome, err = h.coordinator.ResolveStall(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StallDecided, outcome)

	outcome, err = h.coordinator.ResolveStall(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StallNone, outcome)

	decisions := h.notifier.ofKind(constants.MessageTypeLevelDecision)
	require.Len(t, decisions, 1)
	// two judgments of 1 average 33.3, which is level 2
	assert.Equal(t, 2, decisions[0].level)
	assert.Equal(t, "https://cdn.test/video/a.mp4", decisions[0].videoURL)

	s = h.session(t, id)
	require.NotNil(t, s.ChosenLevel)
	assert.Equal(t, 2, *s.ChosenLevel)
	assert.Zero(t, s.NextActionIndex)
	assert.Zero(t, s.LastSampleReceivedAt)

	// verse2 samples now follow the level 2 timeline
	h.sample(t, id, 4.1, "v2")
	h.sample(t, id, 4.9, "v2")
	s = h.session(t, id)
	assert.Equal(t, 1, s.NextActionIndex)
	assert.Equal(t, []models.Judgment{{ActionCode: 1, Value: 1}}, s.Verse2Judgments)
}

func TestSubmitSerializesPerSession(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.WorkerIdleTimeout = 50 * time.Millisecond })
	id := h.start(t, "1").SessionID

	times := []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7}
	for _, at := range times {
		h.coordinator.Submit(models.Sample{SessionID: id, CurrentPlayTime: at, Frame: "f"})
	}
	h.coordinator.Submit(models.Sample{CurrentPlayTime: 0.1})
	h.coordinator.Submit(models.Sample{SessionID: "unknown", CurrentPlayTime: 0.1})

	require.Eventually(t, func() bool {
		return len(h.session(t, id).Buffer) == len(times)
	}, time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool { return h.coordinator.ActiveWorkers() == 0 }, time.Second, 10*time.Millisecond)
}
