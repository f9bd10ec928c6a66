package app

import (
	"context"
	"fmt"
	"time"

	"adaptive-quiz-service/internal/domain"
)

// UserRepository owns users and their adaptive state.
type UserRepository interface {
	CreateUser(ctx context.Context, user domain.User, state domain.UserState) error
	GetUserByUsername(ctx context.Context, username string) (domain.User, error)
	GetUserState(ctx context.Context, userID string) (domain.UserState, error)
}

// AnswerLog is the append-only record of accepted answers.
type AnswerLog interface {
	GetAnswer(ctx context.Context, idempotencyKey string) (domain.AnswerRecord, error)
	RecentAnswers(ctx context.Context, userID string, limit int) ([]domain.AnswerRecord, error)
}

// LeaderboardRepository reads the denormalized score and streak projections.
type LeaderboardRepository interface {
	TopByScore(ctx context.Context, limit int) ([]domain.LeaderboardEntry, error)
	TopByStreak(ctx context.Context, limit int) ([]domain.LeaderboardEntry, error)
	// RankByScore is 1 + the number of users with a strictly greater score.
	RankByScore(ctx context.Context, userID string) (int, error)
	RankByStreak(ctx context.Context, userID string) (int, error)
}

// Store is the durable store. CommitAnswer applies an AnswerCommit as one
// transaction: it fails with domain.ErrDuplicateAnswer when the idempotency
// key exists and with domain.ErrStateConflict when the stored stateVersion no
// longer equals ExpectedVersion. Nothing is written in either case.
type Store interface {
	UserRepository
	AnswerLog
	LeaderboardRepository
	CommitAnswer(ctx context.Context, commit domain.AnswerCommit) error
}

// QuestionRepository resolves questions by id (from cache/backing store).
type QuestionRepository interface {
	GetQuestion(ctx context.Context, questionID string) (domain.Question, error)
}

// QuestionPool lists and stores questions per difficulty.
type QuestionPool interface {
	ListByDifficulty(ctx context.Context, difficulty int, aiGenerated bool, excludeID string, limit int) ([]domain.Question, error)
	CountByDifficulty(ctx context.Context, difficulty int, aiGenerated bool) (int, error)
	SaveQuestion(ctx context.Context, q domain.Question) error
}

// Cache is a best-effort transient cache. Values are JSON encoded by implementations.
type Cache interface {
	Get(ctx context.Context, key string, dst interface{}) (bool, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

// RateLimiter consumes one request from the user's budget.
type RateLimiter interface {
	Allow(ctx context.Context, userID string) (domain.RateLimitResult, error)
}

// FeedbackGenerator produces AI feedback for an answer. Callers fall back to
// static text on any error.
type FeedbackGenerator interface {
	Feedback(ctx context.Context, correct bool, streak, difficulty int, prompt string) (string, error)
	Explanation(ctx context.Context, prompt, correctChoice, userChoice string) (string, error)
}

// QuestionGenerator creates new pool questions.
type QuestionGenerator interface {
	GenerateQuestion(ctx context.Context, difficulty int, category string) (domain.Question, error)
}

const (
	leaderboardScoreKey  = "leaderboard:score"
	leaderboardStreakKey = "leaderboard:streak"
	// leaderboardCacheSize rows are cached and sliced per request limit.
	leaderboardCacheSize = 100
)

func userMetricsKey(userID string) string {
	return "user:state:" + userID
}

func idempotencyCacheKey(key string) string {
	return "idempotency:" + key
}

func questionPoolKey(difficulty int) string {
	return fmt.Sprintf("questions:pool:%d", difficulty)
}
