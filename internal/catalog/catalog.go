package catalog

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/samber/lo"
	"gopkg.in/yaml.v3"

	models "github.com/CodeAndHammer/heungbuja/internal/models"
)

var ErrSongNotFound = errors.New("song not found")

// GridSpec is a compact description of an evenly spaced beat grid.
type GridSpec struct {
	BPM         float64 `yaml:"bpm"`
	OffsetSec   float64 `yaml:"offset"`
	Count       int     `yaml:"count"`
	BeatsPerBar int     `yaml:"beatsPerBar"`
}

type Song struct {
	ID           string                         `yaml:"id"`
	Title        string                         `yaml:"title"`
	Artist       string                         `yaml:"artist"`
	AudioKey     string                         `yaml:"audio"`
	Duration     float64                        `yaml:"duration"`
	BPM          float64                        `yaml:"bpm"`
	Grid         *GridSpec                      `yaml:"grid"`
	Beats        models.BeatGrid                `yaml:"beats"`
	Sections     []models.Section               `yaml:"sections"`
	Verse1       models.VerseAssignment         `yaml:"verse1"`
	Verse2Levels map[int]models.VerseAssignment `yaml:"verse2"`
	Lyrics       []models.LyricLine             `yaml:"lyrics"`
}

type Catalog struct {
	Actions  map[int]string   `yaml:"actions"`
	Patterns []models.Pattern `yaml:"patterns"`
	SongList []*Song          `yaml:"songs"`

	songs    map[string]*Song
	patterns map[string]models.Pattern
}

func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog %s: %w", path, err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	if err := c.index(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Catalog) index() error {
	c.songs = make(map[string]*Song, len(c.SongList))
	c.patterns = make(map[string]models.Pattern, len(c.Patterns))

	for _, p := range c.Patterns {
		if p.ID == "" {
			return fmt.Errorf("pattern without id")
		}
		if _, dup := c.patterns[p.ID]; dup {
			return fmt.Errorf("duplicate pattern %q", p.ID)
		}
		c.patterns[p.ID] = p
	}

	for _, s := range c.SongList {
		if s.ID == "" {
			return fmt.Errorf("song without id")
		}
		if _, dup := c.songs[s.ID]; dup {
			return fmt.Errorf("duplicate song %q", s.ID)
		}
		if len(s.Beats) == 0 && s.Grid != nil {
			s.Beats = ExpandGrid(*s.Grid)
		}
		if s.BPM == 0 && s.Grid != nil {
			s.BPM = s.Grid.BPM
		}
		if err := validateSong(s); err != nil {
			return fmt.Errorf("song %q: %w", s.ID, err)
		}
		c.songs[s.ID] = s
	}
	return nil
}

func validateSong(s *Song) error {
	if s.BPM <= 0 {
		return fmt.Errorf("bpm must be positive")
	}
	for i := 1; i < len(s.Beats); i++ {
		if s.Beats[i].Time <= s.Beats[i-1].Time {
			return fmt.Errorf("beat %d time %.3f is not after beat %d time %.3f",
				s.Beats[i].Index, s.Beats[i].Time, s.Beats[i-1].Index, s.Beats[i-1].Time)
		}
	}
	dups := lo.FindDuplicatesBy(s.Sections, func(sec models.Section) string { return sec.Label })
	if len(dups) > 0 {
		return fmt.Errorf("section %q declared more than once", dups[0].Label)
	}
	return nil
}

// ExpandGrid builds a beat grid with 1-based indices from a compact grid.
func ExpandGrid(g GridSpec) models.BeatGrid {
	if g.BPM <= 0 || g.Count <= 0 {
		return nil
	}
	perBar := g.BeatsPerBar
	if perBar <= 0 {
		perBar = 4
	}
	step := 60.0 / g.BPM
	beats := make(models.BeatGrid, 0, g.Count)
	for i := 0; i < g.Count; i++ {
		beats = append(beats, models.Beat{
			Index:     i + 1,
			Bar:       i/perBar + 1,
			BeatInBar: i%perBar + 1,
			Time:      g.OffsetSec + float64(i)*step,
		})
	}
	return beats
}

func (c *Catalog) Song(id string) (*Song, error) {
	s, ok := c.songs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSongNotFound, id)
	}
	return s, nil
}

// Songs returns every song ordered by id.
func (c *Catalog) Songs() []*Song {
	out := lo.Values(c.songs)
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (c *Catalog) Pattern(id string) (models.Pattern, bool) {
	p, ok := c.patterns[id]
	return p, ok
}

func (c *Catalog) PatternMap() map[string]models.Pattern {
	return c.patterns
}

func (c *Catalog) ActionName(code int) string {
	if name, ok := c.Actions[code]; ok {
		return name
	}
	return fmt.Sprintf("action-%d", code)
}

func (s *Song) Section(label string) (models.Section, bool) {
	return lo.Find(s.Sections, func(sec models.Section) bool { return sec.Label == label })
}

// BeatTime returns the time of the beat with the given index.
func (s *Song) BeatTime(index int) (float64, bool) {
	b, ok := lo.Find(s.Beats, func(b models.Beat) bool { return b.Index == index })
	return b.Time, ok
}

func (s *Song) Verse2(level int) (models.VerseAssignment, bool) {
	v, ok := s.Verse2Levels[level]
	return v, ok
}
