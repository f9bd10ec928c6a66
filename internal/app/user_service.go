package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"adaptive-quiz-service/internal/adaptive"
	"adaptive-quiz-service/internal/domain"
	"adaptive-quiz-service/internal/logger"
	"adaptive-quiz-service/internal/scoring"
	"github.com/google/uuid"
)

const (
	minUsernameLength = 2
	metricsHistory    = 50
	performanceWindow = 10
)

// UserService registers players and reports their progress.
type UserService struct {
	store Store
	cache Cache
	ttl   time.Duration
	log   *logger.Logger
	now   func() time.Time
}

func NewUserService(store Store, cache Cache, ttl time.Duration, log *logger.Logger) *UserService {
	if log == nil {
		log = logger.Nop()
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &UserService{store: store, cache: cache, ttl: ttl, log: log, now: time.Now}
}

// Register creates a user with default adaptive state and zeroed leaderboard rows.
func (s *UserService) Register(ctx context.Context, username string) (domain.User, error) {
	clean := strings.ToLower(strings.TrimSpace(username))
	if len(clean) < minUsernameLength {
		return domain.User{}, fmt.Errorf("%w: username must be at least %d characters", domain.ErrInvalidInput, minUsernameLength)
	}
	user := domain.User{
		ID:        uuid.NewString(),
		Username:  clean,
		CreatedAt: s.now().UTC(),
	}
	if err := s.store.CreateUser(ctx, user, domain.NewUserState(user.ID, clean)); err != nil {
		return domain.User{}, err
	}
	s.log.Info("user registered", "user_id", user.ID)
	return user, nil
}

// Login resolves an existing username.
func (s *UserService) Login(ctx context.Context, username string) (domain.User, error) {
	clean := strings.ToLower(strings.TrimSpace(username))
	if clean == "" {
		return domain.User{}, fmt.Errorf("%w: username is required", domain.ErrInvalidInput)
	}
	return s.store.GetUserByUsername(ctx, clean)
}

// State returns the current persisted adaptive state.
func (s *UserService) State(ctx context.Context, userID string) (domain.UserState, error) {
	if userID == "" {
		return domain.UserState{}, fmt.Errorf("%w: userId is required", domain.ErrInvalidInput)
	}
	return s.store.GetUserState(ctx, userID)
}

// Metrics reports accuracy, a difficulty histogram over the last 50 answers and
// the last 10 answers. Results are cached until the next committed answer.
func (s *UserService) Metrics(ctx context.Context, userID string) (domain.UserMetrics, error) {
	if userID == "" {
		return domain.UserMetrics{}, fmt.Errorf("%w: userId is required", domain.ErrInvalidInput)
	}
	key := userMetricsKey(userID)
	if s.cache != nil {
		var cached domain.UserMetrics
		if ok, err := s.cache.Get(ctx, key, &cached); err == nil && ok {
			return cached, nil
		}
	}

	state, err := s.store.GetUserState(ctx, userID)
	if err != nil {
		return domain.UserMetrics{}, err
	}
	recent, err := s.store.RecentAnswers(ctx, userID, metricsHistory)
	if err != nil {
		return domain.UserMetrics{}, fmt.Errorf("recent answers: %w", err)
	}
	window := recent
	if len(window) > performanceWindow {
		window = window[:performanceWindow]
	}

	m := domain.UserMetrics{
		CurrentDifficulty:   state.CurrentDifficulty,
		DifficultyLabel:     adaptive.Label(state.CurrentDifficulty),
		Streak:              state.Streak,
		MaxStreak:           state.MaxStreak,
		TotalScore:          state.TotalScore,
		TotalAnswered:       state.TotalAnswered,
		TotalCorrect:        state.TotalCorrect,
		Accuracy:            scoring.Accuracy(state.TotalCorrect, state.TotalAnswered),
		Momentum:            state.Momentum,
		DifficultyHistogram: scoring.DifficultyHistogram(recent),
		RecentPerformance:   window,
		LastAnswerAt:        state.LastAnswerAt,
	}
	if s.cache != nil {
		if err := s.cache.Set(ctx, key, m, s.ttl); err != nil {
			s.log.Warn("cache user metrics failed", "user_id", userID, "error", err)
		}
	}
	return m, nil
}
