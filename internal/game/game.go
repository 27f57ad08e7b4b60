package game

import (
	"sort"

	"github.com/samber/lo"

	constants "github.com/CodeAndHammer/heungbuja/internal/constants"
	models "github.com/CodeAndHammer/heungbuja/internal/models"
	util "github.com/CodeAndHammer/heungbuja/internal/util"
)

const maxJudgment = 3

const (
	JudgmentFail    = 0
	JudgmentBad     = 1
	JudgmentGood    = 2
	JudgmentPerfect = 3
)

// LevelSelector maps a verse1 average onto a verse2 difficulty level.
type LevelSelector struct {
	Level3Min float64
	Level2Min float64
}

func NewLevelSelector(level3Min, level2Min float64) LevelSelector {
	return LevelSelector{Level3Min: level3Min, Level2Min: level2Min}
}

func DefaultLevelSelector() LevelSelector {
	return NewLevelSelector(50, 30)
}

func (s LevelSelector) Select(score float64) int {
	switch {
	case score >= s.Level3Min:
		return 3
	case score >= s.Level2Min:
		return 2
	default:
		return constants.MinLevel
	}
}

// VerseAverage is the mean of judgments rescaled to 0..100. An empty verse
// averages 0.
func VerseAverage(judgments []models.Judgment) float64 {
	if len(judgments) == 0 {
		return 0
	}
	total := lo.SumBy(judgments, func(j models.Judgment) float64 {
		return float64(j.Value) / maxJudgment * 100
	})
	return total / float64(len(judgments))
}

// FinalScore averages the verse scores that are present.
func FinalScore(verseAverages ...*float64) float64 {
	present := lo.Compact(verseAverages)
	if len(present) == 0 {
		return 0
	}
	return lo.SumBy(present, func(v *float64) float64 { return *v }) / float64(len(present))
}

// Summary holds the rounded scores of one session.
type Summary struct {
	Verse1Avg  *float64
	Verse2Avg  *float64
	FinalScore float64
	Message    string
}

// Verse2Started reports whether the session ever reached verse2.
func Verse2Started(s *models.GameSession) bool {
	return s.ChosenLevel != nil || len(s.Verse2Judgments) > 0
}

// Summarize scores a session. When excludeAbsent is set a verse2 that never
// started is left out of the final mean instead of counting as zero.
func Summarize(s *models.GameSession, excludeAbsent bool) Summary {
	v1 := VerseAverage(s.Verse1Judgments)
	var v2 *float64
	if Verse2Started(s) || !excludeAbsent {
		v := VerseAverage(s.Verse2Judgments)
		v2 = &v
	}

	final := FinalScore(&v1, v2)
	summary := Summary{
		Verse1Avg:  lo.ToPtr(util.Round2(v1)),
		FinalScore: util.Round2(final),
	}
	if v2 != nil {
		summary.Verse2Avg = lo.ToPtr(util.Round2(*v2))
	}
	summary.Message = ResultMessage(summary.FinalScore)
	return summary
}

func ResultMessage(finalScore float64) string {
	switch {
	case finalScore == 100:
		return "완벽한 무대였습니다! 소름 돋았어요!"
	case finalScore >= 90:
		return "실력이 수준급이시네요!"
	case finalScore >= 80:
		return "체조교실 좀 다녀보신 솜씨네요!"
	case finalScore >= 70:
		return "멋져요! 다음 곡은 더 잘하실 수 있을 거예요!"
	default:
		return "다음 기회에 더 멋진 무대 기대할게요!"
	}
}

func VerseStatistics(verse int, judgments []models.Judgment) models.VerseStats {
	counts := lo.CountValuesBy(judgments, func(j models.Judgment) int { return j.Value })
	stats := models.VerseStats{
		Verse:        verse,
		PerfectCount: counts[JudgmentPerfect],
		GoodCount:    counts[JudgmentGood],
		BadCount:     counts[JudgmentBad],
		FailCount:    counts[JudgmentFail],
		TotalCount:   len(judgments),
		Average:      util.Round2(VerseAverage(judgments)),
	}
	stats.CorrectCount = stats.PerfectCount + stats.GoodCount
	return stats
}

// ActionAverages groups judgments from every verse by action code and returns
// the rescaled average per action, ordered by code.
func ActionAverages(name func(code int) string, verses ...[]models.Judgment) []models.ActionScore {
	byCode := lo.GroupBy(lo.Flatten(verses), func(j models.Judgment) int { return j.ActionCode })
	codes := lo.Keys(byCode)
	sort.Ints(codes)

	return lo.Map(codes, func(code int, _ int) models.ActionScore {
		return models.ActionScore{
			ActionCode: code,
			ActionName: name(code),
			Average:    util.Round2(VerseAverage(byCode[code])),
		}
	})
}

// ActionScoreMap keys action averages by display name.
func ActionScoreMap(scores []models.ActionScore) map[string]float64 {
	return lo.SliceToMap(scores, func(s models.ActionScore) (string, float64) {
		return s.ActionName, s.Average
	})
}
