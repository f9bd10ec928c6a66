package app

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strconv"
	"time"

	"adaptive-quiz-service/internal/adaptive"
	"adaptive-quiz-service/internal/domain"
	"adaptive-quiz-service/internal/logger"
	"adaptive-quiz-service/internal/metrics"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

const (
	// PoolTarget is the number of AI questions kept per difficulty.
	PoolTarget = 10
	// PoolRefillThreshold triggers a background refill below this many AI questions.
	PoolRefillThreshold = 5
	refillBatchSize     = 3
	aiCandidates        = 10
	poolCacheTTL        = 10 * time.Minute
)

// Question sources reported to clients.
const (
	SourceAI        = "ai"
	SourceSeed      = "seed"
	SourceGenerated = "generated"
)

// QuestionService serves the next question at a user's difficulty and keeps
// the AI question pool topped up.
type QuestionService struct {
	store     UserRepository
	pool      QuestionPool
	cache     Cache
	limiter   RateLimiter
	generator QuestionGenerator
	log       *logger.Logger
	now       func() time.Time
	refills   singleflight.Group
}

// QuestionDeps are the collaborators of QuestionService. Cache, Limiter and
// Generator are optional; without a generator the pool is never refilled.
type QuestionDeps struct {
	Users     UserRepository
	Pool      QuestionPool
	Cache     Cache
	Limiter   RateLimiter
	Generator QuestionGenerator
	Logger    *logger.Logger
}

func NewQuestionService(deps QuestionDeps) *QuestionService {
	log := deps.Logger
	if log == nil {
		log = logger.Nop()
	}
	return &QuestionService{
		store:     deps.Users,
		pool:      deps.Pool,
		cache:     deps.Cache,
		limiter:   deps.Limiter,
		generator: deps.Generator,
		log:       log,
		now:       time.Now,
	}
}

// WithClock replaces the time source used for pending decay reporting.
func (s *QuestionService) WithClock(now func() time.Time) *QuestionService {
	s.now = now
	return s
}

// Next picks a question at the user's current difficulty. It never mutates
// adaptive state; pending inactivity decay is only reported.
func (s *QuestionService) Next(ctx context.Context, userID string) (domain.NextQuestion, error) {
	if userID == "" {
		return domain.NextQuestion{}, fmt.Errorf("%w: userId is required", domain.ErrInvalidInput)
	}
	if err := checkRateLimit(ctx, s.limiter, userID, s.log); err != nil {
		return domain.NextQuestion{}, err
	}

	state, err := s.store.GetUserState(ctx, userID)
	if err != nil {
		return domain.NextQuestion{}, err
	}

	q, source, err := s.pick(ctx, state.CurrentDifficulty, state.LastQuestionID)
	if err != nil {
		return domain.NextQuestion{}, err
	}

	return domain.NextQuestion{
		QuestionID:        q.ID,
		Difficulty:        q.Difficulty,
		Prompt:            q.Prompt,
		Choices:           q.Choices,
		Category:          q.Category,
		StateVersion:      state.StateVersion,
		CurrentScore:      state.TotalScore,
		CurrentStreak:     state.Streak,
		MaxStreak:         state.MaxStreak,
		CurrentDifficulty: state.CurrentDifficulty,
		Momentum:          state.Momentum,
		PendingDecay:      adaptive.Inactive(state.LastAnswerAt, s.now()),
		Source:            source,
	}, nil
}

// pick prefers AI pool questions, then seeded ones, then a synchronously
// generated question. The previous question is skipped when possible.
func (s *QuestionService) pick(ctx context.Context, difficulty int, lastQuestionID string) (domain.Question, string, error) {
	aiQuestions, err := s.pool.ListByDifficulty(ctx, difficulty, true, lastQuestionID, aiCandidates)
	if err != nil {
		s.log.Warn("list ai questions failed", "difficulty", difficulty, "error", err)
	}
	if len(aiQuestions) > 0 {
		s.TriggerRefill(difficulty)
		return aiQuestions[rand.Intn(len(aiQuestions))], SourceAI, nil
	}

	seeded, err := s.seedPool(ctx, difficulty)
	if err != nil {
		return domain.Question{}, "", err
	}
	if len(seeded) > 0 {
		candidates := make([]domain.Question, 0, len(seeded))
		for _, q := range seeded {
			if q.ID != lastQuestionID {
				candidates = append(candidates, q)
			}
		}
		if len(candidates) == 0 {
			candidates = seeded
		}
		s.TriggerRefill(difficulty)
		return candidates[rand.Intn(len(candidates))], SourceSeed, nil
	}

	if s.generator == nil {
		return domain.Question{}, "", domain.ErrNoQuestions
	}
	s.log.Warn("question pool empty, generating synchronously", "difficulty", difficulty)
	q, err := s.generate(ctx, difficulty)
	if err != nil {
		return domain.Question{}, "", fmt.Errorf("%w: %v", domain.ErrNoQuestions, err)
	}
	return q, SourceGenerated, nil
}

func (s *QuestionService) seedPool(ctx context.Context, difficulty int) ([]domain.Question, error) {
	key := questionPoolKey(difficulty)
	if s.cache != nil {
		var cached []domain.Question
		if ok, err := s.cache.Get(ctx, key, &cached); err == nil && ok {
			return cached, nil
		}
	}
	seeded, err := s.pool.ListByDifficulty(ctx, difficulty, false, "", 0)
	if err != nil {
		return nil, fmt.Errorf("list seed questions: %w", err)
	}
	if s.cache != nil && len(seeded) > 0 {
		if err := s.cache.Set(ctx, key, seeded, poolCacheTTL); err != nil {
			s.log.Warn("cache seed pool failed", "difficulty", difficulty, "error", err)
		}
	}
	return seeded, nil
}

// TriggerRefill starts a background refill for difficulty without blocking.
// Concurrent triggers for the same difficulty share one refill.
func (s *QuestionService) TriggerRefill(difficulty int) {
	if s.generator == nil {
		return
	}
	go func() {
		_, err, _ := s.refills.Do(strconv.Itoa(difficulty), func() (interface{}, error) {
			return s.Refill(context.Background(), difficulty)
		})
		if err != nil {
			s.log.Warn("background pool refill failed", "difficulty", difficulty, "error", err)
		}
	}()
}

// Refill tops the AI pool for difficulty up to PoolTarget when it has fallen
// below PoolRefillThreshold. It returns the number of questions added.
func (s *QuestionService) Refill(ctx context.Context, difficulty int) (int, error) {
	if s.generator == nil {
		return 0, nil
	}
	count, err := s.pool.CountByDifficulty(ctx, difficulty, true)
	if err != nil {
		return 0, fmt.Errorf("count pool: %w", err)
	}
	if count >= PoolRefillThreshold {
		return 0, nil
	}

	needed := PoolTarget - count
	added := 0
	for i := 0; i < needed; i += refillBatchSize {
		batch := refillBatchSize
		if needed-i < batch {
			batch = needed - i
		}
		results := make([]bool, batch)
		g, gctx := errgroup.WithContext(ctx)
		for j := 0; j < batch; j++ {
			j := j
			g.Go(func() error {
				if _, err := s.generate(gctx, difficulty); err != nil {
					s.log.Warn("pool question generation failed", "difficulty", difficulty, "error", err)
					return nil
				}
				results[j] = true
				return nil
			})
		}
		_ = g.Wait()
		for _, ok := range results {
			if ok {
				added++
			}
		}
	}
	s.log.Info("question pool refilled", "difficulty", difficulty, "added", added, "had", count)
	return added, nil
}

// RefillAll runs Refill for every difficulty level in turn.
func (s *QuestionService) RefillAll(ctx context.Context) (int, error) {
	total := 0
	for d := domain.MinDifficulty; d <= domain.MaxDifficulty; d++ {
		added, err := s.Refill(ctx, d)
		if err != nil {
			return total, err
		}
		total += added
	}
	return total, nil
}

func (s *QuestionService) generate(ctx context.Context, difficulty int) (domain.Question, error) {
	q, err := s.generator.GenerateQuestion(ctx, difficulty, "")
	if err != nil {
		metrics.PoolRefillTotal.WithLabelValues("failed").Inc()
		metrics.AIFallbackTotal.WithLabelValues("question").Inc()
		return domain.Question{}, err
	}
	if err := ValidateQuestion(q); err != nil {
		metrics.PoolRefillTotal.WithLabelValues("invalid").Inc()
		return domain.Question{}, err
	}
	q.Difficulty = difficulty
	q.AIGenerated = true
	if err := s.pool.SaveQuestion(ctx, q); err != nil {
		metrics.PoolRefillTotal.WithLabelValues("failed").Inc()
		return domain.Question{}, fmt.Errorf("save question: %w", err)
	}
	metrics.PoolRefillTotal.WithLabelValues("ok").Inc()
	return q, nil
}

// ValidateQuestion enforces the question shape: an id, a prompt, exactly four
// choices and a correct index among them.
func ValidateQuestion(q domain.Question) error {
	switch {
	case q.ID == "":
		return errors.New("question id is empty")
	case q.Prompt == "":
		return errors.New("question prompt is empty")
	case len(q.Choices) != 4:
		return fmt.Errorf("question has %d choices, want 4", len(q.Choices))
	case q.CorrectIndex < 0 || q.CorrectIndex > 3:
		return fmt.Errorf("correct index %d out of range", q.CorrectIndex)
	}
	return nil
}
