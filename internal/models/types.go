package models

import (
	"time"
)

type Beat struct {
	Index     int     `json:"i" yaml:"i"`
	Bar       int     `json:"bar" yaml:"bar"`
	BeatInBar int     `json:"beat" yaml:"beat"`
	Time      float64 `json:"t" yaml:"t"`
}

type BeatGrid []Beat

type Section struct {
	Label     string `json:"label" yaml:"label"`
	StartBeat int    `json:"startBeat" yaml:"startBeat"`
	EndBeat   int    `json:"endBeat" yaml:"endBeat"`
}

// Pattern is a fixed-length array of per-beat action codes. Code 0 means no
// action is expected on that beat.
type Pattern struct {
	ID          string `json:"patternId" yaml:"id"`
	Description string `json:"description,omitempty" yaml:"description"`
	Sequence    []int  `json:"sequence" yaml:"sequence"`
	VideoKey    string `json:"videoKey,omitempty" yaml:"video"`
}

type VerseAssignment struct {
	PatternSequence []string `json:"patternSequence" yaml:"patterns"`
	RepeatCount     int      `json:"eachRepeat" yaml:"repeat"`
}

type ActionEvent struct {
	Time       float64 `json:"time"`
	ActionCode int     `json:"actionCode"`
	ActionName string  `json:"actionName"`
}

type ActionTimeline []ActionEvent

type LyricLine struct {
	Start float64 `json:"start" yaml:"start"`
	End   float64 `json:"end" yaml:"end"`
	Text  string  `json:"text" yaml:"text"`
}

// GameState is written once at session start and only read afterwards.
type GameState struct {
	SessionID       string                 `json:"sessionId"`
	UserID          string                 `json:"userId"`
	SongID          string                 `json:"songId"`
	BPM             float64                `json:"bpm"`
	Duration        float64                `json:"duration"`
	Sections        []Section              `json:"sections"`
	Verse1Timeline  ActionTimeline         `json:"verse1Timeline"`
	Verse2Timelines map[int]ActionTimeline `json:"verse2Timelines"`
	AudioURL        string                 `json:"audioUrl"`
	VideoURLs       map[string]string      `json:"videoUrls"`
	CreatedAt       time.Time              `json:"createdAt"`
}

// BufferedSample is one movement sample held for the current action window.
type BufferedSample struct {
	Time  float64     `json:"t"`
	Frame string      `json:"frame,omitempty"`
	Pose  [][]float64 `json:"pose,omitempty"`
}

type Judgment struct {
	ActionCode int `json:"actionCode"`
	Value      int `json:"judgment"`
}

// GameSession is the mutable half of a session. It carries no behaviour; the
// session package owns every mutation and the store bumps Version on commit.
type GameSession struct {
	SessionID            string           `json:"sessionId"`
	Version              int64            `json:"version"`
	NextActionIndex      int              `json:"nextActionIndex"`
	Verse1Judgments      []Judgment       `json:"verse1Judgments"`
	Verse2Judgments      []Judgment       `json:"verse2Judgments"`
	ChosenLevel          *int             `json:"chosenLevel,omitempty"`
	Buffer               []BufferedSample `json:"buffer"`
	JudgmentCounter      int              `json:"judgmentCounter"`
	LastSampleReceivedAt int64            `json:"lastSampleReceivedAt"`
	StartedAt            time.Time        `json:"startedAt"`
}

type ActionScore struct {
	ActionCode int     `json:"actionCode"`
	ActionName string  `json:"actionName"`
	Average    float64 `json:"average"`
}

type VerseStats struct {
	Verse        int     `json:"verse"`
	PerfectCount int     `json:"perfectCount"`
	GoodCount    int     `json:"goodCount"`
	BadCount     int     `json:"badCount"`
	FailCount    int     `json:"failCount"`
	CorrectCount int     `json:"correctCount"`
	TotalCount   int     `json:"totalCount"`
	Average      float64 `json:"average"`
}

type GameResult struct {
	ID              int64         `json:"id"`
	SessionID       string        `json:"sessionId"`
	UserID          string        `json:"userId"`
	SongID          string        `json:"songId"`
	Status          string        `json:"status"`
	StartTime       time.Time     `json:"startTime"`
	EndTime         *time.Time    `json:"endTime,omitempty"`
	Verse1Avg       *float64      `json:"verse1Avg,omitempty"`
	Verse2Avg       *float64      `json:"verse2Avg,omitempty"`
	FinalScore      *float64      `json:"finalScore,omitempty"`
	ChosenLevel     *int          `json:"chosenLevel,omitempty"`
	InterruptReason string        `json:"interruptReason,omitempty"`
	ScoresByAction  []ActionScore `json:"scoresByAction,omitempty"`
	VerseStats      []VerseStats  `json:"verseStats,omitempty"`
}

type InferenceLog struct {
	SessionID         string    `json:"sessionId"`
	Verse             int       `json:"verse"`
	TargetActionCode  int       `json:"targetActionCode"`
	TargetActionName  string    `json:"targetActionName"`
	PredictedLabel    string    `json:"predictedLabel"`
	Confidence        float64   `json:"confidence"`
	TargetProbability float64   `json:"targetProbability"`
	Judgment          int       `json:"judgment"`
	FrameCount        int       `json:"frameCount"`
	ResponseTimeMs    int64     `json:"responseTimeMs"`
	InferenceTimeMs   float64   `json:"inferenceTimeMs"`
	Success           bool      `json:"success"`
	ErrorMessage      string    `json:"errorMessage,omitempty"`
	CreatedAt         time.Time `json:"createdAt"`
}
