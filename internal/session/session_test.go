package session

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	catalog "github.com/CodeAndHammer/heungbuja/internal/catalog"
	choreo "github.com/CodeAndHammer/heungbuja/internal/choreo"
	constants "github.com/CodeAndHammer/heungbuja/internal/constants"
	judge "github.com/CodeAndHammer/heungbuja/internal/judge"
	models "github.com/CodeAndHammer/heungbuja/internal/models"
	results "github.com/CodeAndHammer/heungbuja/internal/results"
	store "github.com/CodeAndHammer/heungbuja/internal/store"
)

// One beat per second from t=0. Verse1 is beats 1-4, verse2 beats 5-8.
const testCatalog = `
actions:
  1: clap
  2: hit
patterns:
  - id: A
    sequence: [1, 2]
    video: video/a.mp4
  - id: B
    sequence: [2, 0]
songs:
  - id: "1"
    title: Test Song
    artist: Tester
    audio: audio/1.mp3
    duration: 8
    grid: {bpm: 60, count: 8}
    sections:
      - {label: verse1, startBeat: 1, endBeat: 4}
      - {label: verse2, startBeat: 5, endBeat: 8}
    verse1: {patterns: [A], repeat: 1}
    verse2:
      1: {patterns: [B], repeat: 1}
      2: {patterns: [A], repeat: 1}
      3: {patterns: [A], repeat: 1}
  - id: "2"
    title: Other Song
    artist: Tester
    grid: {bpm: 60, count: 8}
    sections:
      - {label: verse1, startBeat: 1, endBeat: 4}
      - {label: verse2, startBeat: 5, endBeat: 8}
    verse1: {patterns: [B], repeat: 1}
    verse2:
      1: {patterns: [B], repeat: 1}
      2: {patterns: [B], repeat: 1}
      3: {patterns: [B], repeat: 1}
`

type fakeJudge struct {
	mu       sync.Mutex
	judgment int
	hold     bool
	requests []judge.Request
	pending  []func()
}

func (j *fakeJudge) Submit(req judge.Request, done func(judge.Result)) {
	j.mu.Lock()
	j.requests = append(j.requests, req)
	res := judge.Result{ActionCode: req.ActionCode, Judgment: j.judgment, FrameCount: req.FrameCount()}
	if j.hold {
		j.pending = append(j.pending, func() { done(res) })
		j.mu.Unlock()
		return
	}
	j.mu.Unlock()
	done(res)
}

func (j *fakeJudge) setJudgment(v int) {
	j.mu.Lock()
	j.judgment = v
	j.mu.Unlock()
}

func (j *fakeJudge) release() {
	j.mu.Lock()
	pending := j.pending
	j.pending = nil
	j.mu.Unlock()
	for _, f := range pending {
		f()
	}
}

func (j *fakeJudge) sent() []judge.Request {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]judge.Request(nil), j.requests...)
}

type pushed struct {
	kind      string
	sessionID string
	judgment  int
	timestamp float64
	level     int
	videoURL  string
}

type recordingNotifier struct {
	mu   sync.Mutex
	msgs []pushed
}

func (n *recordingNotifier) add(p pushed) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.msgs = append(n.msgs, p)
	return nil
}

func (n *recordingNotifier) Feedback(_ context.Context, sessionID string, judgment int, timestamp float64) error {
	return n.add(pushed{kind: constants.MessageTypeFeedback, sessionID: sessionID, judgment: judgment, timestamp: timestamp})
}

func (n *recordingNotifier) LevelDecision(_ context.Context, sessionID string, level int, url string) error {
	return n.add(pushed{kind: constants.MessageTypeLevelDecision, sessionID: sessionID, level: level, videoURL: url})
}

func (n *recordingNotifier) Interrupted(_ context.Context, sessionID, _ string) error {
	return n.add(pushed{kind: constants.MessageTypeGameInterrupted, sessionID: sessionID})
}

func (n *recordingNotifier) ofKind(kind string) []pushed {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []pushed
	for _, m := range n.msgs {
		if m.kind == kind {
			out = append(out, m)
		}
	}
	return out
}

// memoryResults is an in-memory ResultStore. When gate is set FinalizeResult
// signals entered and then waits on gate.
type memoryResults struct {
	mu      sync.Mutex
	results map[string]*models.GameResult
	logs    []models.InferenceLog
	entered chan struct{}
	gate    chan struct{}
}

func newMemoryResults() *memoryResults {
	return &memoryResults{results: make(map[string]*models.GameResult)}
}

func (m *memoryResults) CreateResult(_ context.Context, r *models.GameResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *r
	cp.ID = int64(len(m.results) + 1)
	cp.Status = constants.StatusInProgress
	m.results[r.SessionID] = &cp
	return nil
}

func (m *memoryResults) GetResult(_ context.Context, sessionID string) (*models.GameResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.results[sessionID]
	if !ok {
		return nil, nil
	}
	cp := *r
	return &cp, nil
}

func (m *memoryResults) FinalizeResult(_ context.Context, f results.Finalization) (bool, error) {
	if m.gate != nil {
		m.entered <- struct{}{}
		<-m.gate
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.results[f.SessionID]
	if !ok || r.Status != constants.StatusInProgress {
		return false, nil
	}
	end := f.EndTime
	r.Status = f.Status
	r.EndTime = &end
	r.Verse1Avg = f.Verse1Avg
	r.Verse2Avg = f.Verse2Avg
	r.FinalScore = f.FinalScore
	r.ChosenLevel = f.ChosenLevel
	r.InterruptReason = f.InterruptReason
	r.ScoresByAction = f.ScoresByAction
	r.VerseStats = f.VerseStats
	return true, nil
}

func (m *memoryResults) MarkInterrupted(_ context.Context, sessionID, reason string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.results[sessionID]
	if !ok || r.Status != constants.StatusInProgress {
		return false, nil
	}
	r.Status = constants.StatusInterrupted
	r.InterruptReason = reason
	r.EndTime = &at
	return true, nil
}

func (m *memoryResults) SaveInferenceLog(_ context.Context, l *models.InferenceLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logs = append(m.logs, *l)
	return nil
}

func (m *memoryResults) PlayCounts(_ context.Context) (map[string]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := make(map[string]int)
	for _, r := range m.results {
		counts[r.SongID]++
	}
	return counts, nil
}

func (m *memoryResults) inferenceLogs() []models.InferenceLog {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.InferenceLog(nil), m.logs...)
}

type fakeSigner struct{}

func (fakeSigner) URL(key string) string {
	if key == "" {
		return ""
	}
	return "https://cdn.test/" + strings.TrimPrefix(key, "/")
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type harness struct {
	store       *store.RedisStore
	redis       *miniredis.Miniredis
	results     *memoryResults
	judge       *fakeJudge
	notifier    *recordingNotifier
	clock       *testClock
	coordinator *Coordinator
	finalizer   *Finalizer
	watchdog    *Watchdog
}

func newHarness(t *testing.T, tweak func(*Options)) *harness {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	cat, err := catalog.Parse([]byte(testCatalog))
	require.NoError(t, err)

	h := &harness{
		store:    store.NewRedisStore(client),
		redis:    mr,
		results:  newMemoryResults(),
		judge:    &fakeJudge{judgment: 3},
		notifier: &recordingNotifier{},
		clock:    &testClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)},
	}
	opts := DefaultOptions()
	opts.Now = h.clock.Now
	if tweak != nil {
		tweak(&opts)
	}
	h.coordinator = NewCoordinator(h.store, h.results, h.judge, h.notifier, choreo.NewCompiler(cat), fakeSigner{}, opts)
	h.finalizer = NewFinalizer(h.store, h.results, h.notifier, cat, opts)
	h.watchdog = NewWatchdog(h.coordinator, h.finalizer, h.store, opts)
	t.Cleanup(h.coordinator.Shutdown)
	return h
}

func (h *harness) start(t *testing.T, songID string) *models.StartResponse {
	t.Helper()
	out, err := h.coordinator.Start(context.Background(), models.StartRequest{UserID: "u1", SongID: songID})
	require.NoError(t, err)
	require.NotNil(t, out.Session)
	return out.Session
}

func (h *harness) sample(t *testing.T, sessionID string, at float64, frame string) {
	t.Helper()
	require.NoError(t, h.coordinator.ProcessSample(context.Background(), models.Sample{
		SessionID:       sessionID,
		CurrentPlayTime: at,
		Frame:           frame,
	}))
}

func (h *harness) session(t *testing.T, sessionID string) *models.GameSession {
	t.Helper()
	s, err := h.store.GetSession(context.Background(), sessionID)
	require.NoError(t, err)
	return s
}
