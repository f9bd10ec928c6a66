package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"adaptive-quiz-service/internal/domain"
	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
)

const uniqueViolation = "23505"

// Store is the durable app.Store backed by Postgres. Every answer commit runs
// in one transaction guarded by the user's state_version.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) CreateUser(ctx context.Context, user domain.User, state domain.UserState) error {
	return s.pool.BeginFunc(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `INSERT INTO users (id, username, created_at) VALUES ($1, $2, $3)`,
			user.ID, user.Username, user.CreatedAt)
		if err != nil {
			if isUniqueViolation(err) {
				return domain.ErrUsernameTaken
			}
			return fmt.Errorf("insert user: %w", err)
		}
		recent := state.RecentAnswers
		if recent == nil {
			recent = []bool{}
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO user_states (user_id, current_difficulty, momentum, streak, max_streak, recent_answers,
				last_answer_at, last_question_id, state_version, total_score, total_answered, total_correct)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
			user.ID, state.CurrentDifficulty, state.Momentum, state.Streak, state.MaxStreak, recent,
			state.LastAnswerAt, state.LastQuestionID, state.StateVersion, state.TotalScore,
			state.TotalAnswered, state.TotalCorrect)
		if err != nil {
			return fmt.Errorf("insert user state: %w", err)
		}
		if _, err := tx.Exec(ctx, `INSERT INTO leaderboard_score (user_id, username, total_score) VALUES ($1, $2, $3)`,
			user.ID, user.Username, state.TotalScore); err != nil {
			return fmt.Errorf("insert score row: %w", err)
		}
		if _, err := tx.Exec(ctx, `INSERT INTO leaderboard_streak (user_id, username, max_streak) VALUES ($1, $2, $3)`,
			user.ID, user.Username, state.MaxStreak); err != nil {
			return fmt.Errorf("insert streak row: %w", err)
		}
		return nil
	})
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (domain.User, error) {
	var user domain.User
	err := s.pool.QueryRow(ctx, `SELECT id, username, created_at FROM users WHERE username=$1`, username).
		Scan(&user.ID, &user.Username, &user.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.User{}, domain.ErrUserNotFound
	}
	if err != nil {
		return domain.User{}, fmt.Errorf("load user: %w", err)
	}
	return user, nil
}

func (s *Store) GetUserState(ctx context.Context, userID string) (domain.UserState, error) {
	state := domain.UserState{UserID: userID}
	var lastAnswerAt *time.Time
	err := s.pool.QueryRow(ctx, `
		SELECT u.username, s.current_difficulty, s.momentum, s.streak, s.max_streak, s.recent_answers,
			s.last_answer_at, s.last_question_id, s.state_version, s.total_score, s.total_answered, s.total_correct
		FROM user_states s JOIN users u ON u.id = s.user_id
		WHERE s.user_id=$1`, userID).
		Scan(&state.Username, &state.CurrentDifficulty, &state.Momentum, &state.Streak, &state.MaxStreak,
			&state.RecentAnswers, &lastAnswerAt, &state.LastQuestionID, &state.StateVersion, &state.TotalScore,
			&state.TotalAnswered, &state.TotalCorrect)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.UserState{}, domain.ErrUserNotFound
	}
	if err != nil {
		return domain.UserState{}, fmt.Errorf("load user state: %w", err)
	}
	if state.RecentAnswers == nil {
		state.RecentAnswers = []bool{}
	}
	state.LastAnswerAt = lastAnswerAt
	return state, nil
}

const answerColumns = `idempotency_key, user_id, question_id, difficulty, chosen_option, correct, score_delta,
	streak_at_answer, streak_reset, inactivity_decay, answered_at`

func (s *Store) GetAnswer(ctx context.Context, idempotencyKey string) (domain.AnswerRecord, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+answerColumns+` FROM answer_logs WHERE idempotency_key=$1`, idempotencyKey)
	rec, err := scanAnswer(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.AnswerRecord{}, domain.ErrAnswerNotFound
	}
	if err != nil {
		return domain.AnswerRecord{}, fmt.Errorf("load answer: %w", err)
	}
	return rec, nil
}

// RecentAnswers returns the newest answers first.
func (s *Store) RecentAnswers(ctx context.Context, userID string, limit int) ([]domain.AnswerRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `SELECT `+answerColumns+` FROM answer_logs WHERE user_id=$1
		ORDER BY answered_at DESC, id DESC LIMIT $2`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("query answers: %w", err)
	}
	defer rows.Close()

	out := make([]domain.AnswerRecord, 0, limit)
	for rows.Next() {
		rec, err := scanAnswer(rows)
		if err != nil {
			return nil, fmt.Errorf("scan answer: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// CommitAnswer writes the answer log row first so that a concurrent commit
// with the same idempotency key fails on the unique index, then applies the
// compare-and-set on state_version and refreshes both leaderboard rows.
func (s *Store) CommitAnswer(ctx context.Context, commit domain.AnswerCommit) error {
	rec := commit.Record
	state := commit.State
	return s.pool.BeginFunc(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `INSERT INTO answer_logs (`+answerColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
			rec.IdempotencyKey, rec.UserID, rec.QuestionID, rec.Difficulty, rec.ChosenOption, rec.Correct,
			rec.ScoreDelta, rec.StreakAtAnswer, rec.StreakReset, rec.InactivityDecay, rec.AnsweredAt)
		if err != nil {
			if isUniqueViolation(err) {
				return domain.ErrDuplicateAnswer
			}
			return fmt.Errorf("insert answer: %w", err)
		}

		recent := state.RecentAnswers
		if recent == nil {
			recent = []bool{}
		}
		tag, err := tx.Exec(ctx, `
			UPDATE user_states SET current_difficulty=$3, momentum=$4, streak=$5, max_streak=$6, recent_answers=$7,
				last_answer_at=$8, last_question_id=$9, state_version=$10, total_score=$11, total_answered=$12,
				total_correct=$13, updated_at=now()
			WHERE user_id=$1 AND state_version=$2`,
			state.UserID, commit.ExpectedVersion, state.CurrentDifficulty, state.Momentum, state.Streak,
			state.MaxStreak, recent, state.LastAnswerAt, state.LastQuestionID, state.StateVersion,
			state.TotalScore, state.TotalAnswered, state.TotalCorrect)
		if err != nil {
			return fmt.Errorf("update user state: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return domain.ErrStateConflict
		}

		if _, err := tx.Exec(ctx, `
			INSERT INTO leaderboard_score (user_id, username, total_score, updated_at) VALUES ($1, $2, $3, now())
			ON CONFLICT (user_id) DO UPDATE SET total_score=EXCLUDED.total_score, updated_at=now()`,
			state.UserID, state.Username, state.TotalScore); err != nil {
			return fmt.Errorf("upsert score row: %w", err)
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO leaderboard_streak (user_id, username, max_streak, updated_at) VALUES ($1, $2, $3, now())
			ON CONFLICT (user_id) DO UPDATE SET max_streak=EXCLUDED.max_streak, updated_at=now()`,
			state.UserID, state.Username, state.MaxStreak); err != nil {
			return fmt.Errorf("upsert streak row: %w", err)
		}
		return nil
	})
}

func (s *Store) TopByScore(ctx context.Context, limit int) ([]domain.LeaderboardEntry, error) {
	return s.top(ctx, `SELECT user_id, username, total_score FROM leaderboard_score
		ORDER BY total_score DESC, username ASC LIMIT $1`, limit)
}

func (s *Store) TopByStreak(ctx context.Context, limit int) ([]domain.LeaderboardEntry, error) {
	return s.top(ctx, `SELECT user_id, username, max_streak::bigint FROM leaderboard_streak
		ORDER BY max_streak DESC, username ASC LIMIT $1`, limit)
}

func (s *Store) RankByScore(ctx context.Context, userID string) (int, error) {
	return s.rank(ctx, `SELECT (SELECT COUNT(*) FROM leaderboard_score o WHERE o.total_score > me.total_score) + 1
		FROM leaderboard_score me WHERE me.user_id=$1`, userID)
}

func (s *Store) RankByStreak(ctx context.Context, userID string) (int, error) {
	return s.rank(ctx, `SELECT (SELECT COUNT(*) FROM leaderboard_streak o WHERE o.max_streak > me.max_streak) + 1
		FROM leaderboard_streak me WHERE me.user_id=$1`, userID)
}

func (s *Store) top(ctx context.Context, query string, limit int) ([]domain.LeaderboardEntry, error) {
	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query leaderboard: %w", err)
	}
	defer rows.Close()

	var entries []domain.LeaderboardEntry
	for rows.Next() {
		var e domain.LeaderboardEntry
		if err := rows.Scan(&e.UserID, &e.Username, &e.Value); err != nil {
			return nil, fmt.Errorf("scan leaderboard: %w", err)
		}
		e.Rank = len(entries) + 1
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *Store) rank(ctx context.Context, query, userID string) (int, error) {
	var rank int64
	err := s.pool.QueryRow(ctx, query, userID).Scan(&rank)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, domain.ErrUserNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("rank: %w", err)
	}
	return int(rank), nil
}

func scanAnswer(row pgx.Row) (domain.AnswerRecord, error) {
	var rec domain.AnswerRecord
	err := row.Scan(&rec.IdempotencyKey, &rec.UserID, &rec.QuestionID, &rec.Difficulty, &rec.ChosenOption,
		&rec.Correct, &rec.ScoreDelta, &rec.StreakAtAnswer, &rec.StreakReset, &rec.InactivityDecay, &rec.AnsweredAt)
	return rec, err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
