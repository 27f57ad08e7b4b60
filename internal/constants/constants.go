package constants

const (
	Verse1 = "verse1"
	Verse2 = "verse2"
)

const (
	MinLevel = 1
	MaxLevel = 3
)

const (
	SectionIntro  = "intro"
	SectionVerse1 = "verse1"
	SectionBreak  = "break"
	SectionVerse2 = "verse2"
)

const (
	StatusInProgress         = "IN_PROGRESS"
	StatusCompleted          = "COMPLETED"
	StatusInterrupted        = "INTERRUPTED"
	StatusEmergencyInterrupt = "EMERGENCY_INTERRUPT"
)

const (
	MessageTypeFeedback        = "FEEDBACK"
	MessageTypeLevelDecision   = "LEVEL_DECISION"
	MessageTypeGameInterrupted = "GAME_INTERRUPTED"
)

const (
	KeyPrefixGameState     = "game_state:"
	KeyPrefixGameSession   = "game_session:"
	KeyPrefixUserActivity  = "user:activity:"
	KeyPrefixSessionStatus = "session:status:"
	KeyPrefixFinalizeLock  = "session:interrupt:lock:"
	KeyPrefixLease         = "session:lease:"
	ChannelPrefixTopic     = "game:topic:"
)

const (
	ActivityGame = "GAME"
)

const (
	RouteGameStart     = "/api/game/start"
	RouteGameEnd       = "/api/game/end"
	RouteGameInterrupt = "/api/game/interrupt"
	RouteGameEmergency = "/api/game/emergency"
	RouteGameSongs     = "/api/game/songs"
	RouteGameSocket    = "/ws/game"
	RouteHealthz       = "/healthz"
	RouteMetrics       = "/metrics"
	RouteMedia         = "/media"
)

const (
	ErrorCodeInvalidRequest          = "invalid_request"
	ErrorCodeSessionNotFound         = "session_not_found"
	ErrorCodeSongNotFound            = "song_not_found"
	ErrorCodeInterruptConflict       = "interrupt_conflict"
	ErrorCodeChoreographyDataMissing = "choreography_data_missing"
	ErrorCodeInternal                = "internal_error"
	ErrorCodeRateLimited             = "rate_limited"
	ErrorCodeForbidden               = "forbidden"
)

const (
	InterruptReasonEmergency = "EMERGENCY"
	InterruptReasonUser      = "USER_CANCEL"
	InterruptMessage         = "게임이 중단되었습니다"
)

type contextKey string

const (
	RequestIDKey contextKey = "request_id"
)
