package results

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	constants "github.com/CodeAndHammer/heungbuja/internal/constants"
	models "github.com/CodeAndHammer/heungbuja/internal/models"
)

// Store persists game results and inference logs.
type Store struct {
	db *DB
}

func NewStore(db *DB) *Store {
	return &Store{db: db}
}

// Finalization is everything written when a session reaches a terminal
// status.
type Finalization struct {
	SessionID       string
	Status          string
	EndTime         time.Time
	Verse1Avg       *float64
	Verse2Avg       *float64
	FinalScore      *float64
	ChosenLevel     *int
	InterruptReason string
	ScoresByAction  []models.ActionScore
	VerseStats      []models.VerseStats
}

func (s *Store) CreateResult(ctx context.Context, r *models.GameResult) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO game_results (session_id, user_id, song_id, status, start_time)
		VALUES (?, ?, ?, ?, ?)
	`, r.SessionID, r.UserID, r.SongID, constants.StatusInProgress, r.StartTime.UnixMilli())
	if err != nil {
		return fmt.Errorf("insert game result: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("game result id: %w", err)
	}
	r.ID = id
	r.Status = constants.StatusInProgress
	return nil
}

// GetResult loads a result with its breakdowns. It returns nil, nil when the
// session has no durable record.
func (s *Store) GetResult(ctx context.Context, sessionID string) (*models.GameResult, error) {
	var (
		r           models.GameResult
		startMs     int64
		endMs       sql.NullInt64
		v1, v2, fin sql.NullFloat64
		level       sql.NullInt64
		reason      sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, session_id, user_id, song_id, status, start_time, end_time,
		       verse1_avg, verse2_avg, final_score, chosen_level, interrupt_reason
		FROM game_results WHERE session_id = ?
	`, sessionID).Scan(&r.ID, &r.SessionID, &r.UserID, &r.SongID, &r.Status, &startMs, &endMs,
		&v1, &v2, &fin, &level, &reason)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get game result: %w", err)
	}

	r.StartTime = time.UnixMilli(startMs)
	if endMs.Valid {
		t := time.UnixMilli(endMs.Int64)
		r.EndTime = &t
	}
	r.Verse1Avg = nullFloat(v1)
	r.Verse2Avg = nullFloat(v2)
	r.FinalScore = nullFloat(fin)
	if level.Valid {
		l := int(level.Int64)
		r.ChosenLevel = &l
	}
	r.InterruptReason = reason.String

	if r.ScoresByAction, err = s.actionScores(ctx, r.ID); err != nil {
		return nil, err
	}
	if r.VerseStats, err = s.verseStats(ctx, r.ID); err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *Store) actionScores(ctx context.Context, resultID int64) ([]models.ActionScore, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT action_code, action_name, average FROM score_by_action
		WHERE result_id = ? ORDER BY action_code
	`, resultID)
	if err != nil {
		return nil, fmt.Errorf("list action scores: %w", err)
	}
	defer rows.Close()

	var out []models.ActionScore
	for rows.Next() {
		var a models.ActionScore
		if err := rows.Scan(&a.ActionCode, &a.ActionName, &a.Average); err != nil {
			return nil, fmt.Errorf("scan action score: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *Store) verseStats(ctx context.Context, resultID int64) ([]models.VerseStats, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT verse, perfect_count, good_count, bad_count, fail_count, correct_count, total_count, average
		FROM verse_stats WHERE result_id = ? ORDER BY verse
	`, resultID)
	if err != nil {
		return nil, fmt.Errorf("list verse stats: %w", err)
	}
	defer rows.Close()

	var out []models.VerseStats
	for rows.Next() {
		var v models.VerseStats
		if err := rows.Scan(&v.Verse, &v.PerfectCount, &v.GoodCount, &v.BadCount, &v.FailCount,
			&v.CorrectCount, &v.TotalCount, &v.Average); err != nil {
			return nil, fmt.Errorf("scan verse stats: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// FinalizeResult moves an IN_PROGRESS result to its terminal status and
// writes the breakdowns in one transaction. It reports false when the result
// was missing or already terminal.
func (s *Store) FinalizeResult(ctx context.Context, f Finalization) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin finalize: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE game_results
		SET status = ?, end_time = ?, verse1_avg = ?, verse2_avg = ?, final_score = ?,
		    chosen_level = ?, interrupt_reason = ?
		WHERE session_id = ? AND status = ?
	`, f.Status, f.EndTime.UnixMilli(), f.Verse1Avg, f.Verse2Avg, f.FinalScore,
		f.ChosenLevel, nullString(f.InterruptReason), f.SessionID, constants.StatusInProgress)
	if err != nil {
		return false, fmt.Errorf("update game result: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return false, nil
	}

	var resultID int64
	if err := tx.QueryRowContext(ctx, `SELECT id FROM game_results WHERE session_id = ?`, f.SessionID).Scan(&resultID); err != nil {
		return false, fmt.Errorf("lookup game result id: %w", err)
	}

	for _, a := range f.ScoresByAction {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO score_by_action (result_id, action_code, action_name, average) VALUES (?, ?, ?, ?)
		`, resultID, a.ActionCode, a.ActionName, a.Average); err != nil {
			return false, fmt.Errorf("insert action score: %w", err)
		}
	}
	for _, v := range f.VerseStats {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO verse_stats (result_id, verse, perfect_count, good_count, bad_count, fail_count, correct_count, total_count, average)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, resultID, v.Verse, v.PerfectCount, v.GoodCount, v.BadCount, v.FailCount, v.CorrectCount, v.TotalCount, v.Average); err != nil {
			return false, fmt.Errorf("insert verse stats: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit finalize: %w", err)
	}
	return true, nil
}

// MarkInterrupted closes an orphaned IN_PROGRESS result whose live session is
// already gone.
func (s *Store) MarkInterrupted(ctx context.Context, sessionID, reason string, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE game_results SET status = ?, end_time = ?, interrupt_reason = ?
		WHERE session_id = ? AND status = ?
	`, constants.StatusInterrupted, at.UnixMilli(), nullString(reason), sessionID, constants.StatusInProgress)
	if err != nil {
		return false, fmt.Errorf("mark interrupted: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

func (s *Store) SaveInferenceLog(ctx context.Context, l *models.InferenceLog) error {
	created := l.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO inference_logs (session_id, verse, target_action_code, target_action_name,
			predicted_label, confidence, target_probability, judgment, frame_count,
			response_time_ms, success, error_message, created_at, inference_time_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, l.SessionID, l.Verse, l.TargetActionCode, l.TargetActionName,
		nullString(l.PredictedLabel), l.Confidence, l.TargetProbability, l.Judgment, l.FrameCount,
		l.ResponseTimeMs, l.Success, nullString(l.ErrorMessage), created.UnixMilli(), l.InferenceTimeMs)
	if err != nil {
		return fmt.Errorf("insert inference log: %w", err)
	}
	return nil
}

// InferenceLogs returns the logs of one session in insertion order.
func (s *Store) InferenceLogs(ctx context.Context, sessionID string) ([]models.InferenceLog, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, verse, target_action_code, target_action_name, predicted_label,
		       confidence, target_probability, judgment, frame_count, response_time_ms,
		       success, error_message, created_at
		FROM inference_logs WHERE session_id = ? ORDER BY id
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list inference logs: %w", err)
	}
	defer rows.Close()

	var out []models.InferenceLog
	for rows.Next() {
		var (
			l         models.InferenceLog
			predicted sql.NullString
			errMsg    sql.NullString
			createdMs int64
		)
		if err := rows.Scan(&l.SessionID, &l.Verse, &l.TargetActionCode, &l.TargetActionName, &predicted,
			&l.Confidence, &l.TargetProbability, &l.Judgment, &l.FrameCount, &l.ResponseTimeMs,
			&l.Success, &errMsg, &createdMs); err != nil {
			return nil, fmt.Errorf("scan inference log: %w", err)
		}
		l.PredictedLabel = predicted.String
		l.ErrorMessage = errMsg.String
		l.CreatedAt = time.UnixMilli(createdMs)
		out = append(out, l)
	}
	return out, rows.Err()
}

// PlayCounts returns how many sessions were started per song.
func (s *Store) PlayCounts(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT song_id, COUNT(*) FROM game_results GROUP BY song_id`)
	if err != nil {
		return nil, fmt.Errorf("count plays: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var (
			songID string
			n      int
		)
		if err := rows.Scan(&songID, &n); err != nil {
			return nil, fmt.Errorf("scan play count: %w", err)
		}
		out[songID] = n
	}
	return out, rows.Err()
}

func nullFloat(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
