package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	models "github.com/CodeAndHammer/heungbuja/internal/models"
)

type memoryBroker struct {
	mu   sync.Mutex
	subs map[string][]chan []byte
	sent []models.PushMessage
}

func newMemoryBroker() *memoryBroker {
	return &memoryBroker{subs: make(map[string][]chan []byte)}
}

func (b *memoryBroker) Publish(_ context.Context, sessionID string, message any) error {
	data, err := json.Marshal(message)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if m, ok := message.(models.PushMessage); ok {
		b.sent = append(b.sent, m)
	}
	for _, ch := range b.subs[sessionID] {
		ch <- data
	}
	return nil
}

func (b *memoryBroker) Subscribe(ctx context.Context, sessionID string) (<-chan []byte, error) {
	ch := make(chan []byte, 16)
	b.mu.Lock()
	b.subs[sessionID] = append(b.subs[sessionID], ch)
	b.mu.Unlock()
	return ch, nil
}

func (b *memoryBroker) subscribers(sessionID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[sessionID])
}

type sinkFunc func(models.Sample)

func (f sinkFunc) Submit(s models.Sample) { f(s) }

func TestNotifierMessageShapes(t *testing.T) {
	b := newMemoryBroker()
	n := NewNotifier(b)
	ctx := context.Background()

	require.NoError(t, n.Feedback(ctx, "s1", 0, 12.4))
	require.NoError(t, n.LevelDecision(ctx, "s1", 2, "http://x/v.mp4"))
	require.NoError(t, n.Interrupted(ctx, "s1", "stopped"))

	require.Len(t, b.sent, 3)
	assert.Equal(t, "FEEDBACK", b.sent[0].Type)
	assert.Equal(t, models.FeedbackData{Judgment: 0, Timestamp: 12.4}, b.sent[0].Data)
	assert.Equal(t, "LEVEL_DECISION", b.sent[1].Type)
	assert.Equal(t, models.LevelDecisionData{NextLevel: 2, CharacterVideoURL: "http://x/v.mp4"}, b.sent[1].Data)
	assert.Equal(t, "GAME_INTERRUPTED", b.sent[2].Type)
}

func TestHubForwardsBothWays(t *testing.T) {
	b := newMemoryBroker()
	samples := make(chan models.Sample, 4)
	hub := NewHub(b, sinkFunc(func(s models.Sample) { samples <- s }))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = hub.Serve(w, r, r.URL.Query().Get("sessionId"))
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?sessionId=s1"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return b.subscribers("s1") == 1 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, hub.Connections())

	// malformed, anonymous and foreign samples are dropped
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{garbage`)))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"currentPlayTime":1.0}`)))
	require.NoError(t, conn.WriteJSON(models.Sample{SessionID: "other", CurrentPlayTime: 2.0, Frame: "xyz"}))
	require.NoError(t, conn.WriteJSON(models.Sample{SessionID: "s1", CurrentPlayTime: 3.2, Frame: "abc"}))

	select {
	case s := <-samples:
		assert.Equal(t, "s1", s.SessionID)
		assert.Equal(t, 3.2, s.CurrentPlayTime)
	case <-time.After(time.Second):
		t.Fatal("sample not forwarded")
	}
	assert.Empty(t, samples)

	require.NoError(t, NewNotifier(b).Feedback(context.Background(), "s1", 3, 1.2))
	_ = conn.SetReadDeadline(time.Now().Add(time.Second))
	var msg struct {
		Type string              `json:"type"`
		Data models.FeedbackData `json:"data"`
	}
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "FEEDBACK", msg.Type)
	assert.Equal(t, 3, msg.Data.Judgment)
}
