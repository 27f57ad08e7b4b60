package choreo

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	catalog "github.com/CodeAndHammer/heungbuja/internal/catalog"
	constants "github.com/CodeAndHammer/heungbuja/internal/constants"
	models "github.com/CodeAndHammer/heungbuja/internal/models"
)

var ErrChoreographyDataMissing = errors.New("choreography data missing")

func missing(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrChoreographyDataMissing, fmt.Sprintf(format, args...))
}

// CompileTimeline expands a verse assignment over a section of the beat grid.
// The pattern sequence is concatenated RepeatCount times and the merged cycle
// is wrapped until the section's last beat. Beats whose action code is zero
// produce no event.
func CompileTimeline(
	beats models.BeatGrid,
	section models.Section,
	assignment models.VerseAssignment,
	patterns map[string]models.Pattern,
	actionName func(code int) string,
) (models.ActionTimeline, error) {
	cycle, err := mergeCycle(assignment, patterns)
	if err != nil {
		return nil, err
	}

	times := beatTimes(beats)
	timeline := make(models.ActionTimeline, 0, section.EndBeat-section.StartBeat+1)
	for beat := section.StartBeat; beat <= section.EndBeat; beat++ {
		t, ok := times[beat]
		if !ok {
			return nil, missing("beat %d of section %q", beat, section.Label)
		}
		code := cycle[(beat-section.StartBeat)%len(cycle)]
		if code == 0 {
			continue
		}
		timeline = append(timeline, models.ActionEvent{
			Time:       t,
			ActionCode: code,
			ActionName: actionName(code),
		})
	}
	// a verse without actions never finishes, so the level decision could not fire
	if len(timeline) == 0 {
		return nil, missing("section %q has no actions", section.Label)
	}
	return timeline, nil
}

// CompilePatternSequence produces one pattern id per beat of the section using
// the same merge and wrap rule as CompileTimeline.
func CompilePatternSequence(section models.Section, assignment models.VerseAssignment) ([]string, error) {
	repeat := max(assignment.RepeatCount, 1)
	merged := make([]string, 0, len(assignment.PatternSequence)*repeat)
	for i := 0; i < repeat; i++ {
		merged = append(merged, assignment.PatternSequence...)
	}
	if len(merged) == 0 {
		return nil, missing("empty pattern sequence for section %q", section.Label)
	}
	if section.EndBeat < section.StartBeat {
		return nil, missing("section %q has no beats", section.Label)
	}

	count := section.EndBeat - section.StartBeat + 1
	out := make([]string, count)
	for i := 0; i < count; i++ {
		out[i] = merged[i%len(merged)]
	}
	return out, nil
}

func mergeCycle(assignment models.VerseAssignment, patterns map[string]models.Pattern) ([]int, error) {
	repeat := max(assignment.RepeatCount, 1)
	var cycle []int
	for i := 0; i < repeat; i++ {
		for _, id := range assignment.PatternSequence {
			p, ok := patterns[id]
			if !ok {
				return nil, missing("pattern %q", id)
			}
			cycle = append(cycle, p.Sequence...)
		}
	}
	if len(cycle) == 0 {
		return nil, missing("empty merged pattern cycle")
	}
	return cycle, nil
}

func beatTimes(beats models.BeatGrid) map[int]float64 {
	out := make(map[int]float64, len(beats))
	for _, b := range beats {
		out[b.Index] = b.Time
	}
	return out
}

type cacheKey struct {
	songID string
	verse  string
	level  int
}

// Compiler compiles timelines from the catalog and caches them per
// (song, verse, level).
type Compiler struct {
	catalog *catalog.Catalog

	mu    sync.RWMutex
	cache map[cacheKey]models.ActionTimeline
}

func NewCompiler(c *catalog.Catalog) *Compiler {
	return &Compiler{
		catalog: c,
		cache:   make(map[cacheKey]models.ActionTimeline),
	}
}

// Compile returns the timeline for a verse. Level is ignored for verse1.
func (c *Compiler) Compile(songID, verse string, level int) (models.ActionTimeline, error) {
	if verse == constants.Verse1 {
		level = 0
	}
	key := cacheKey{songID: songID, verse: verse, level: level}

	c.mu.RLock()
	cached, ok := c.cache[key]
	c.mu.RUnlock()
	if ok {
		return slices.Clone(cached), nil
	}

	song, err := c.catalog.Song(songID)
	if err != nil {
		return nil, err
	}
	section, assignment, err := c.resolve(song, verse, level)
	if err != nil {
		return nil, err
	}
	timeline, err := CompileTimeline(song.Beats, section, assignment, c.catalog.PatternMap(), c.catalog.ActionName)
	if err != nil {
		return nil, fmt.Errorf("song %s %s level %d: %w", songID, verse, level, err)
	}

	c.mu.Lock()
	c.cache[key] = timeline
	c.mu.Unlock()
	return slices.Clone(timeline), nil
}

// PatternSequence returns the per-beat pattern ids for a verse.
func (c *Compiler) PatternSequence(songID, verse string, level int) ([]string, error) {
	song, err := c.catalog.Song(songID)
	if err != nil {
		return nil, err
	}
	section, assignment, err := c.resolve(song, verse, level)
	if err != nil {
		return nil, err
	}
	return CompilePatternSequence(section, assignment)
}

func (c *Compiler) resolve(song *catalog.Song, verse string, level int) (models.Section, models.VerseAssignment, error) {
	section, ok := song.Section(verse)
	if !ok {
		return models.Section{}, models.VerseAssignment{}, missing("section %q in song %s", verse, song.ID)
	}
	switch verse {
	case constants.Verse1:
		return section, song.Verse1, nil
	case constants.Verse2:
		assignment, ok := song.Verse2(level)
		if !ok {
			return models.Section{}, models.VerseAssignment{}, missing("verse2 level %d in song %s", level, song.ID)
		}
		return section, assignment, nil
	default:
		return models.Section{}, models.VerseAssignment{}, missing("unknown verse %q", verse)
	}
}

func (c *Compiler) Catalog() *catalog.Catalog {
	return c.catalog
}
