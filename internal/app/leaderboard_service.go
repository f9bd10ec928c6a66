package app

import (
	"context"
	"fmt"
	"time"

	"adaptive-quiz-service/internal/domain"
	"adaptive-quiz-service/internal/logger"
)

const (
	DefaultLeaderboardLimit = 20
	MaxLeaderboardLimit     = 100
)

// LeaderboardService reads the score and streak leaderboards.
type LeaderboardService struct {
	store LeaderboardRepository
	cache Cache
	hub   *LeaderboardHub
	ttl   time.Duration
	log   *logger.Logger
}

func NewLeaderboardService(store LeaderboardRepository, cache Cache, hub *LeaderboardHub, ttl time.Duration, log *logger.Logger) *LeaderboardService {
	if log == nil {
		log = logger.Nop()
	}
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	return &LeaderboardService{store: store, cache: cache, hub: hub, ttl: ttl, log: log}
}

// TopByScore returns the top users by total score, plus userID's row when given.
func (s *LeaderboardService) TopByScore(ctx context.Context, limit int, userID string) (domain.Leaderboard, error) {
	return s.top(ctx, limit, userID, leaderboardScoreKey, s.store.TopByScore, s.store.RankByScore)
}

// TopByStreak returns the top users by max streak, plus userID's row when given.
func (s *LeaderboardService) TopByStreak(ctx context.Context, limit int, userID string) (domain.Leaderboard, error) {
	return s.top(ctx, limit, userID, leaderboardStreakKey, s.store.TopByStreak, s.store.RankByStreak)
}

// Subscribe streams committed leaderboard changes. The caller must invoke cancel.
func (s *LeaderboardService) Subscribe(_ context.Context) (<-chan domain.LeaderboardUpdate, func(), error) {
	if s.hub == nil {
		return nil, nil, fmt.Errorf("leaderboard updates not enabled")
	}
	ch, cancel := s.hub.Subscribe()
	return ch, cancel, nil
}

type topFunc func(ctx context.Context, limit int) ([]domain.LeaderboardEntry, error)
type rankFunc func(ctx context.Context, userID string) (int, error)

func (s *LeaderboardService) top(ctx context.Context, limit int, userID, key string, load topFunc, rank rankFunc) (domain.Leaderboard, error) {
	limit = clampLimit(limit)

	var entries []domain.LeaderboardEntry
	cached := false
	if s.cache != nil {
		if ok, err := s.cache.Get(ctx, key, &entries); err == nil && ok {
			cached = true
		}
	}
	if !cached {
		loaded, err := load(ctx, leaderboardCacheSize)
		if err != nil {
			return domain.Leaderboard{}, fmt.Errorf("load leaderboard: %w", err)
		}
		entries = loaded
		if s.cache != nil {
			if err := s.cache.Set(ctx, key, entries, s.ttl); err != nil {
				s.log.Warn("cache leaderboard failed", "key", key, "error", err)
			}
		}
	}
	if len(entries) > limit {
		entries = entries[:limit]
	}
	if entries == nil {
		entries = []domain.LeaderboardEntry{}
	}

	board := domain.Leaderboard{Entries: entries, Total: len(entries)}
	if userID == "" {
		return board, nil
	}
	for i := range entries {
		if entries[i].UserID == userID {
			row := entries[i]
			board.UserRank = &row
			return board, nil
		}
	}
	r, err := rank(ctx, userID)
	if err != nil {
		s.log.Warn("user rank lookup failed", "user_id", userID, "error", err)
		return board, nil
	}
	if r > 0 {
		board.UserRank = &domain.LeaderboardEntry{UserID: userID, Rank: r}
	}
	return board, nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultLeaderboardLimit
	}
	if limit > MaxLeaderboardLimit {
		return MaxLeaderboardLimit
	}
	return limit
}
