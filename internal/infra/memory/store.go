package memory

import (
	"context"
	"sort"
	"sync"

	"adaptive-quiz-service/internal/domain"
)

// Store is an in-memory implementation of app.Store. A single mutex makes
// every commit atomic; idempotency keys and state versions are checked before
// anything is written.
type Store struct {
	mu         sync.RWMutex
	users      map[string]domain.User
	byUsername map[string]string
	states     map[string]domain.UserState
	answers    map[string]domain.AnswerRecord
	answerLog  map[string][]string
	scores     map[string]int64
	streaks    map[string]int
}

func NewStore() *Store {
	return &Store{
		users:      make(map[string]domain.User),
		byUsername: make(map[string]string),
		states:     make(map[string]domain.UserState),
		answers:    make(map[string]domain.AnswerRecord),
		answerLog:  make(map[string][]string),
		scores:     make(map[string]int64),
		streaks:    make(map[string]int),
	}
}

func (s *Store) CreateUser(_ context.Context, user domain.User, state domain.UserState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byUsername[user.Username]; ok {
		return domain.ErrUsernameTaken
	}
	s.users[user.ID] = user
	s.byUsername[user.Username] = user.ID
	s.states[user.ID] = cloneState(state)
	s.scores[user.ID] = state.TotalScore
	s.streaks[user.ID] = state.MaxStreak
	return nil
}

func (s *Store) GetUserByUsername(_ context.Context, username string) (domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byUsername[username]
	if !ok {
		return domain.User{}, domain.ErrUserNotFound
	}
	return s.users[id], nil
}

func (s *Store) GetUserState(_ context.Context, userID string) (domain.UserState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.states[userID]
	if !ok {
		return domain.UserState{}, domain.ErrUserNotFound
	}
	return cloneState(state), nil
}

func (s *Store) GetAnswer(_ context.Context, idempotencyKey string) (domain.AnswerRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.answers[idempotencyKey]
	if !ok {
		return domain.AnswerRecord{}, domain.ErrAnswerNotFound
	}
	return rec, nil
}

// RecentAnswers returns the newest answers first.
func (s *Store) RecentAnswers(_ context.Context, userID string, limit int) ([]domain.AnswerRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := s.answerLog[userID]
	out := make([]domain.AnswerRecord, 0, len(keys))
	for i := len(keys) - 1; i >= 0; i-- {
		out = append(out, s.answers[keys[i]])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *Store) CommitAnswer(_ context.Context, commit domain.AnswerCommit) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.answers[commit.Record.IdempotencyKey]; ok {
		return domain.ErrDuplicateAnswer
	}
	current, ok := s.states[commit.State.UserID]
	if !ok {
		return domain.ErrUserNotFound
	}
	if current.StateVersion != commit.ExpectedVersion {
		return domain.ErrStateConflict
	}

	s.states[commit.State.UserID] = cloneState(commit.State)
	s.answers[commit.Record.IdempotencyKey] = commit.Record
	s.answerLog[commit.State.UserID] = append(s.answerLog[commit.State.UserID], commit.Record.IdempotencyKey)
	s.scores[commit.State.UserID] = commit.State.TotalScore
	s.streaks[commit.State.UserID] = commit.State.MaxStreak
	return nil
}

func (s *Store) TopByScore(_ context.Context, limit int) ([]domain.LeaderboardEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.topLocked(limit, func(id string) int64 { return s.scores[id] }), nil
}

func (s *Store) TopByStreak(_ context.Context, limit int) ([]domain.LeaderboardEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.topLocked(limit, func(id string) int64 { return int64(s.streaks[id]) }), nil
}

func (s *Store) RankByScore(_ context.Context, userID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rankLocked(userID, func(id string) int64 { return s.scores[id] })
}

func (s *Store) RankByStreak(_ context.Context, userID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rankLocked(userID, func(id string) int64 { return int64(s.streaks[id]) })
}

// topLocked orders by value desc, then username; rank is the position.
func (s *Store) topLocked(limit int, value func(string) int64) []domain.LeaderboardEntry {
	entries := make([]domain.LeaderboardEntry, 0, len(s.users))
	for id, user := range s.users {
		entries = append(entries, domain.LeaderboardEntry{UserID: id, Username: user.Username, Value: value(id)})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Value != entries[j].Value {
			return entries[i].Value > entries[j].Value
		}
		return entries[i].Username < entries[j].Username
	})
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	for i := range entries {
		entries[i].Rank = i + 1
	}
	return entries
}

func (s *Store) rankLocked(userID string, value func(string) int64) (int, error) {
	if _, ok := s.users[userID]; !ok {
		return 0, domain.ErrUserNotFound
	}
	mine := value(userID)
	greater := 0
	for id := range s.users {
		if value(id) > mine {
			greater++
		}
	}
	return greater + 1, nil
}

func cloneState(state domain.UserState) domain.UserState {
	state.RecentAnswers = append([]bool{}, state.RecentAnswers...)
	if state.LastAnswerAt != nil {
		at := *state.LastAnswerAt
		state.LastAnswerAt = &at
	}
	return state
}
