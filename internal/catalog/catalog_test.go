package catalog

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleCatalog = `
actions:
  1: clap
  2: hit
patterns:
  - id: P1
    sequence: [1, 0, 2, 0]
songs:
  - id: "7"
    title: test
    bpm: 100
    beats:
      - {i: 1, bar: 1, beat: 1, t: 0.0}
      - {i: 2, bar: 1, beat: 2, t: 0.6}
      - {i: 3, bar: 1, beat: 3, t: 1.2}
    sections:
      - {label: verse1, startBeat: 1, endBeat: 3}
    verse1: {patterns: [P1], repeat: 1}
    verse2:
      2: {patterns: [P1], repeat: 3}
`

func TestParse(t *testing.T) {
	c, err := Parse([]byte(sampleCatalog))
	require.NoError(t, err)

	s, err := c.Song("7")
	require.NoError(t, err)
	assert.Equal(t, 100.0, s.BPM)
	assert.Len(t, s.Beats, 3)
	assert.Equal(t, []string{"P1"}, s.Verse1.PatternSequence)

	v2, ok := s.Verse2(2)
	require.True(t, ok)
	assert.Equal(t, 3, v2.RepeatCount)

	sec, ok := s.Section("verse1")
	require.True(t, ok)
	assert.Equal(t, 3, sec.EndBeat)

	bt, ok := s.BeatTime(2)
	require.True(t, ok)
	assert.Equal(t, 0.6, bt)

	assert.Equal(t, "clap", c.ActionName(1))
	assert.Equal(t, "action-9", c.ActionName(9))

	p, ok := c.Pattern("P1")
	require.True(t, ok)
	assert.Equal(t, []int{1, 0, 2, 0}, p.Sequence)
}

func TestSongNotFound(t *testing.T) {
	c, err := Parse([]byte(sampleCatalog))
	require.NoError(t, err)
	_, err = c.Song("missing")
	assert.True(t, errors.Is(err, ErrSongNotFound))
}

func TestParseRejectsNonIncreasingBeats(t *testing.T) {
	data := `
songs:
  - id: a
    bpm: 60
    beats:
      - {i: 1, t: 1.0}
      - {i: 2, t: 1.0}
`
	_, err := Parse([]byte(data))
	assert.Error(t, err)
}

func TestParseRejectsDuplicateSection(t *testing.T) {
	data := `
songs:
  - id: a
    grid: {bpm: 60, count: 8}
    sections:
      - {label: verse1, startBeat: 1, endBeat: 4}
      - {label: verse1, startBeat: 5, endBeat: 8}
`
	_, err := Parse([]byte(data))
	assert.Error(t, err)
}

func TestExpandGrid(t *testing.T) {
	beats := ExpandGrid(GridSpec{BPM: 100, OffsetSec: 0.5, Count: 6, BeatsPerBar: 4})
	require.Len(t, beats, 6)
	assert.Equal(t, 1, beats[0].Index)
	assert.InDelta(t, 0.5, beats[0].Time, 1e-9)
	assert.InDelta(t, 0.5+5*0.6, beats[5].Time, 1e-9)
	assert.Equal(t, 2, beats[4].Bar)
	assert.Equal(t, 1, beats[4].BeatInBar)
	assert.Equal(t, 2, beats[5].BeatInBar)

	assert.Nil(t, ExpandGrid(GridSpec{BPM: 0, Count: 4}))
}

func TestLoadBundledCatalog(t *testing.T) {
	c, err := Load(filepath.Join("..", "..", "data", "catalog.yaml"))
	require.NoError(t, err)
	songs := c.Songs()
	require.Len(t, songs, 2)
	assert.Equal(t, "1", songs[0].ID)
	for _, s := range songs {
		for level := 1; level <= 3; level++ {
			_, ok := s.Verse2(level)
			assert.True(t, ok, "song %s level %d", s.ID, level)
		}
	}
}
