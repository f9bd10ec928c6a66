package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"adaptive-quiz-service/internal/domain"
	"adaptive-quiz-service/internal/infra/postgres/migrations"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/migrate"
)

// OpenBun opens a bun handle for migrations and bulk seeding.
func OpenBun(dsn string) *bun.DB {
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	return bun.NewDB(sqldb, pgdialect.New())
}

// Migrate applies every pending migration and returns the applied group.
func Migrate(ctx context.Context, db *bun.DB) (*migrate.MigrationGroup, error) {
	migrator := migrate.NewMigrator(db, migrations.Migrations)
	if err := migrator.Init(ctx); err != nil {
		return nil, fmt.Errorf("migrator init: %w", err)
	}
	group, err := migrator.Migrate(ctx)
	if err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return group, nil
}

type questionRow struct {
	bun.BaseModel `bun:"table:questions"`

	ID           string   `bun:"id,pk"`
	Difficulty   int      `bun:"difficulty"`
	Prompt       string   `bun:"prompt"`
	Choices      []string `bun:"choices,type:jsonb"`
	CorrectIndex int      `bun:"correct_index"`
	Category     string   `bun:"category"`
	AIGenerated  bool     `bun:"ai_generated"`
}

// SeedQuestions bulk inserts questions, skipping ids that already exist, and
// returns how many rows were inserted.
func SeedQuestions(ctx context.Context, db *bun.DB, questions []domain.Question) (int64, error) {
	if len(questions) == 0 {
		return 0, nil
	}
	rows := make([]questionRow, len(questions))
	for i, q := range questions {
		rows[i] = questionRow{
			ID:           q.ID,
			Difficulty:   q.Difficulty,
			Prompt:       q.Prompt,
			Choices:      q.Choices,
			CorrectIndex: q.CorrectIndex,
			Category:     q.Category,
			AIGenerated:  q.AIGenerated,
		}
	}
	res, err := db.NewInsert().Model(&rows).On("CONFLICT (id) DO NOTHING").Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("seed questions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("seed questions rows affected: %w", err)
	}
	return n, nil
}
