package session

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/samber/lo"

	catalog "github.com/CodeAndHammer/heungbuja/internal/catalog"
	choreo "github.com/CodeAndHammer/heungbuja/internal/choreo"
	constants "github.com/CodeAndHammer/heungbuja/internal/constants"
	models "github.com/CodeAndHammer/heungbuja/internal/models"
	util "github.com/CodeAndHammer/heungbuja/internal/util"
)

const (
	introVideoKey       = "video/break.mp4"
	camOffsetBeats      = 32
	camLengthBeats      = 16 * 6
	videoKeyVerse1      = "verse1"
	videoKeyLevelFormat = "verse2_level%d"
)

// Coordinator owns the lifecycle of live game sessions from start until a
// level decision; the Finalizer takes over at the end.
type Coordinator struct {
	store    Store
	results  ResultStore
	judge    Judge
	notifier Notifier
	compiler *choreo.Compiler
	media    MediaSigner
	opts     Options

	workers *workerPool
}

func NewCoordinator(s Store, r ResultStore, j Judge, n Notifier, c *choreo.Compiler, m MediaSigner, opts Options) *Coordinator {
	ensureMetrics()
	co := &Coordinator{
		store:    s,
		results:  r,
		judge:    j,
		notifier: n,
		compiler: c,
		media:    m,
		opts:     opts,
	}
	co.workers = newWorkerPool(co, opts.WorkerQueueSize, opts.WorkerIdleTimeout)
	return co
}

func (c *Coordinator) catalog() *catalog.Catalog {
	return c.compiler.Catalog()
}

// Start begins a session for the requested song, or lists songs to pick from
// when no song was given.
func (c *Coordinator) Start(ctx context.Context, req models.StartRequest) (*models.StartOutcome, error) {
	if req.SongID == "" {
		songs, err := c.SongListing(ctx)
		if err != nil {
			return nil, err
		}
		return &models.StartOutcome{Songs: songs}, nil
	}

	song, err := c.catalog().Song(req.SongID)
	if err != nil {
		return nil, err
	}

	verse1, err := c.compiler.Compile(song.ID, constants.Verse1, 0)
	if err != nil {
		return nil, err
	}
	verse2 := make(map[int]models.ActionTimeline, constants.MaxLevel)
	verse2Patterns := make(map[int][]string, constants.MaxLevel)
	for level := constants.MinLevel; level <= constants.MaxLevel; level++ {
		if verse2[level], err = c.compiler.Compile(song.ID, constants.Verse2, level); err != nil {
			return nil, err
		}
		if verse2Patterns[level], err = c.compiler.PatternSequence(song.ID, constants.Verse2, level); err != nil {
			return nil, err
		}
	}
	verse1Patterns, err := c.compiler.PatternSequence(song.ID, constants.Verse1, 0)
	if err != nil {
		return nil, err
	}

	now := c.opts.now()
	sessionID := uuid.NewString()
	audioURL := c.media.URL(song.AudioKey)
	videoURLs := c.videoURLs(song)

	state := &models.GameState{
		SessionID:       sessionID,
		UserID:          req.UserID,
		SongID:          song.ID,
		BPM:             song.BPM,
		Duration:        song.Duration,
		Sections:        song.Sections,
		Verse1Timeline:  verse1,
		Verse2Timelines: verse2,
		AudioURL:        audioURL,
		VideoURLs:       videoURLs,
		CreatedAt:       now,
	}
	live := &models.GameSession{
		SessionID: sessionID,
		StartedAt: now,
	}

	if err := c.store.SaveState(ctx, state, c.opts.SessionTTL); err != nil {
		return nil, err
	}
	if err := c.store.SaveSession(ctx, live, c.opts.SessionTTL); err != nil {
		return nil, err
	}
	if err := c.store.SetActivity(ctx, req.UserID, sessionID, c.opts.SessionTTL); err != nil {
		return nil, err
	}
	if err := c.store.SetStatus(ctx, sessionID, constants.StatusInProgress, c.opts.SessionTTL); err != nil {
		return nil, err
	}
	if err := c.results.CreateResult(ctx, &models.GameResult{
		SessionID: sessionID,
		UserID:    req.UserID,
		SongID:    song.ID,
		StartTime: now,
	}); err != nil {
		return nil, err
	}
	sessionsStarted.Inc()
	util.Ctx(ctx).Info().Str("session_id", sessionID).Str("song_id", song.ID).Str("user_id", req.UserID).Msg("game session started")

	times := beatTimes(song)
	return &models.StartOutcome{Session: &models.StartResponse{
		SessionID:         sessionID,
		SongTitle:         song.Title,
		SongArtist:        song.Artist,
		AudioURL:          audioURL,
		VideoURLs:         videoURLs,
		BPM:               song.BPM,
		Duration:          song.Duration,
		SectionInfo:       sectionInfo(song, times),
		SectionBoundaries: song.Sections,
		SegmentInfo: models.SegmentInfo{
			Verse1Cam: camRange(song, constants.SectionVerse1, times),
			Verse2Cam: camRange(song, constants.SectionVerse2, times),
		},
		Verse1Timeline:  verse1,
		Verse2Timelines: verse2,
		SectionPatterns: models.SectionPatterns{Verse1: verse1Patterns, Verse2: verse2Patterns},
		Lyrics:          song.Lyrics,
	}}, nil
}

// SongListing returns the most played songs first, ties broken by id.
func (c *Coordinator) SongListing(ctx context.Context) ([]models.SongListing, error) {
	counts, err := c.results.PlayCounts(ctx)
	if err != nil {
		return nil, err
	}
	listing := lo.Map(c.catalog().Songs(), func(s *catalog.Song, _ int) models.SongListing {
		return models.SongListing{SongID: s.ID, Title: s.Title, Artist: s.Artist, PlayCount: counts[s.ID]}
	})
	sort.SliceStable(listing, func(i, j int) bool {
		return listing[i].PlayCount > listing[j].PlayCount
	})
	if limit := c.opts.SongListLimit; limit > 0 && len(listing) > limit {
		listing = listing[:limit]
	}
	return listing, nil
}

func (c *Coordinator) patternVideoKey(patternID string) string {
	if p, ok := c.catalog().Pattern(patternID); ok && p.VideoKey != "" {
		return p.VideoKey
	}
	return "video/pattern_" + strings.ToLower(patternID) + ".mp4"
}

func (c *Coordinator) videoURLs(song *catalog.Song) map[string]string {
	urls := map[string]string{"intro": c.media.URL(introVideoKey)}
	if len(song.Verse1.PatternSequence) > 0 {
		urls[videoKeyVerse1] = c.media.URL(c.patternVideoKey(song.Verse1.PatternSequence[0]))
	}
	for level, a := range song.Verse2Levels {
		if len(a.PatternSequence) > 0 {
			urls[fmt.Sprintf(videoKeyLevelFormat, level)] = c.media.URL(c.patternVideoKey(a.PatternSequence[0]))
		}
	}
	return urls
}

func beatTimes(song *catalog.Song) map[int]float64 {
	return lo.SliceToMap(song.Beats, func(b models.Beat) (int, float64) { return b.Index, b.Time })
}

func sectionInfo(song *catalog.Song, times map[int]float64) map[string]float64 {
	return lo.SliceToMap(song.Sections, func(s models.Section) (string, float64) {
		return s.Label, times[s.StartBeat]
	})
}

func camRange(song *catalog.Song, label string, times map[int]float64) models.SegmentRange {
	sec, ok := song.Section(label)
	if !ok {
		return models.SegmentRange{}
	}
	start := sec.StartBeat + camOffsetBeats
	return models.SegmentRange{StartTime: times[start], EndTime: times[start+camLengthBeats]}
}

// Submit hands a sample to its session's worker without blocking.
func (c *Coordinator) Submit(sample models.Sample) {
	if sample.SessionID == "" {
		return
	}
	c.workers.dispatch(sample)
}

// ActiveWorkers reports how many per-session workers are running.
func (c *Coordinator) ActiveWorkers() int {
	return c.workers.size()
}

// Shutdown stops all session workers.
func (c *Coordinator) Shutdown() {
	c.workers.close()
}
