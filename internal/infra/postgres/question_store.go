package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"adaptive-quiz-service/internal/domain"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
)

// QuestionStore loads and stores questions in Postgres; choices are JSONB.
// It serves as both the question loader behind the caches and the pool.
type QuestionStore struct {
	pool *pgxpool.Pool
}

func NewQuestionStore(pool *pgxpool.Pool) *QuestionStore {
	return &QuestionStore{pool: pool}
}

const questionColumns = `id, difficulty, prompt, choices, correct_index, category, ai_generated`

func (s *QuestionStore) LoadQuestion(ctx context.Context, questionID string) (domain.Question, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+questionColumns+` FROM questions WHERE id=$1`, questionID)
	q, err := scanQuestion(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Question{}, domain.ErrQuestionNotFound
	}
	if err != nil {
		return domain.Question{}, fmt.Errorf("load question: %w", err)
	}
	return q, nil
}

// ListByDifficulty returns up to limit questions (all when limit <= 0),
// skipping excludeID. AI-generated lists come back in random order.
func (s *QuestionStore) ListByDifficulty(ctx context.Context, difficulty int, aiGenerated bool, excludeID string, limit int) ([]domain.Question, error) {
	order := "id"
	if aiGenerated {
		order = "random()"
	}
	query := `SELECT ` + questionColumns + ` FROM questions
		WHERE difficulty=$1 AND ai_generated=$2 AND id <> $3 ORDER BY ` + order
	args := []interface{}{difficulty, aiGenerated, excludeID}
	if limit > 0 {
		query += ` LIMIT $4`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}
	defer rows.Close()

	var out []domain.Question
	for rows.Next() {
		q, err := scanQuestion(rows)
		if err != nil {
			return nil, fmt.Errorf("scan question: %w", err)
		}
		out = append(out, q)
	}
	return out, rows.Err()
}

func (s *QuestionStore) CountByDifficulty(ctx context.Context, difficulty int, aiGenerated bool) (int, error) {
	var n int64
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM questions WHERE difficulty=$1 AND ai_generated=$2`,
		difficulty, aiGenerated).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count questions: %w", err)
	}
	return int(n), nil
}

// SaveQuestion inserts q; an existing id is left untouched.
func (s *QuestionStore) SaveQuestion(ctx context.Context, q domain.Question) error {
	choices, err := json.Marshal(q.Choices)
	if err != nil {
		return fmt.Errorf("marshal choices: %w", err)
	}
	_, err = s.pool.Exec(ctx, `INSERT INTO questions (`+questionColumns+`)
		VALUES ($1, $2, $3, $4::jsonb, $5, $6, $7) ON CONFLICT (id) DO NOTHING`,
		q.ID, q.Difficulty, q.Prompt, string(choices), q.CorrectIndex, q.Category, q.AIGenerated)
	if err != nil {
		return fmt.Errorf("save question: %w", err)
	}
	return nil
}

func scanQuestion(row pgx.Row) (domain.Question, error) {
	var (
		q   domain.Question
		raw []byte
	)
	if err := row.Scan(&q.ID, &q.Difficulty, &q.Prompt, &raw, &q.CorrectIndex, &q.Category, &q.AIGenerated); err != nil {
		return domain.Question{}, err
	}
	if err := json.Unmarshal(raw, &q.Choices); err != nil {
		return domain.Question{}, fmt.Errorf("unmarshal choices: %w", err)
	}
	return q, nil
}
