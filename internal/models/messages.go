package models

// Sample is one inbound movement sample. Exactly one of Frame (base64 image)
// or Pose (33 landmarks of x,y) is expected.
type Sample struct {
	SessionID       string      `json:"sessionId"`
	CurrentPlayTime float64     `json:"currentPlayTime"`
	Frame           string      `json:"frame,omitempty"`
	Pose            [][]float64 `json:"poseData,omitempty"`
}

type StartRequest struct {
	UserID string `json:"userId" binding:"required"`
	SongID string `json:"songId"`
}

type SongListing struct {
	SongID    string `json:"songId"`
	Title     string `json:"title"`
	Artist    string `json:"artist"`
	PlayCount int    `json:"playCount"`
}

type SegmentRange struct {
	StartTime float64 `json:"startTime"`
	EndTime   float64 `json:"endTime"`
}

type SegmentInfo struct {
	Verse1Cam SegmentRange `json:"verse1cam"`
	Verse2Cam SegmentRange `json:"verse2cam"`
}

type SectionPatterns struct {
	Verse1 []string         `json:"verse1"`
	Verse2 map[int][]string `json:"verse2"`
}

type StartResponse struct {
	SessionID         string                 `json:"sessionId"`
	SongTitle         string                 `json:"songTitle"`
	SongArtist        string                 `json:"songArtist"`
	AudioURL          string                 `json:"audioUrl"`
	VideoURLs         map[string]string      `json:"videoUrls"`
	BPM               float64                `json:"bpm"`
	Duration          float64                `json:"duration"`
	SectionInfo       map[string]float64     `json:"sectionInfo"`
	SectionBoundaries []Section              `json:"sectionBoundaries"`
	SegmentInfo       SegmentInfo            `json:"segmentInfo"`
	Verse1Timeline    ActionTimeline         `json:"verse1Timeline"`
	Verse2Timelines   map[int]ActionTimeline `json:"verse2Timelines"`
	SectionPatterns   SectionPatterns        `json:"sectionPatterns"`
	Lyrics            []LyricLine            `json:"lyrics,omitempty"`
}

// StartOutcome is either a started session or a song listing when no song
// was requested.
type StartOutcome struct {
	Session *StartResponse `json:"session,omitempty"`
	Songs   []SongListing  `json:"songs,omitempty"`
}

type EndRequest struct {
	SessionID string `json:"sessionId" binding:"required"`
}

type EndResponse struct {
	SessionID      string             `json:"sessionId"`
	FinalScore     float64            `json:"finalScore"`
	Message        string             `json:"message"`
	Verse1Avg      *float64           `json:"verse1Avg,omitempty"`
	Verse2Avg      *float64           `json:"verse2Avg,omitempty"`
	ChosenLevel    *int               `json:"chosenLevel,omitempty"`
	ScoresByAction map[string]float64 `json:"scoresByAction"`
}

type InterruptRequest struct {
	SessionID string `json:"sessionId" binding:"required"`
	Reason    string `json:"reason"`
}

type EmergencyRequest struct {
	SessionID string `json:"sessionId" binding:"required"`
}

// PushMessage is the envelope for every notification on a session topic.
type PushMessage struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

type FeedbackData struct {
	Judgment  int     `json:"judgment"`
	Timestamp float64 `json:"timestamp"`
}

type LevelDecisionData struct {
	NextLevel         int    `json:"nextLevel"`
	CharacterVideoURL string `json:"characterVideoUrl"`
}

type InterruptedData struct {
	Message string `json:"message"`
}
