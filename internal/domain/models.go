package domain

import "time"

// Difficulty bounds shared by the adaptive engine, the question pool and the histograms.
const (
	MinDifficulty = 1
	MaxDifficulty = 10
)

// User is a registered quiz player.
type User struct {
	ID        string    `json:"userId"`
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"createdAt"`
}

// UserState is the adaptive state owned by a user record. It is mutated only by
// the answer coordinator, once per accepted answer.
type UserState struct {
	UserID            string     `json:"userId"`
	Username          string     `json:"username"`
	CurrentDifficulty int        `json:"currentDifficulty"`
	Momentum          float64    `json:"momentum"`
	Streak            int        `json:"streak"`
	MaxStreak         int        `json:"maxStreak"`
	RecentAnswers     []bool     `json:"recentAnswers"`
	LastAnswerAt      *time.Time `json:"lastAnswerAt,omitempty"`
	LastQuestionID    string     `json:"lastQuestionId,omitempty"`
	StateVersion      int        `json:"stateVersion"`
	TotalScore        int64      `json:"totalScore"`
	TotalAnswered     int        `json:"totalAnswered"`
	TotalCorrect      int        `json:"totalCorrect"`
}

// NewUserState returns the registration defaults for a user.
func NewUserState(userID, username string) UserState {
	return UserState{
		UserID:            userID,
		Username:          username,
		CurrentDifficulty: MinDifficulty,
		RecentAnswers:     []bool{},
		StateVersion:      1,
	}
}

// Question is a multiple-choice question with exactly four choices.
type Question struct {
	ID           string   `json:"id"`
	Difficulty   int      `json:"difficulty"`
	Prompt       string   `json:"prompt"`
	Choices      []string `json:"choices"`
	CorrectIndex int      `json:"correctIndex"`
	Category     string   `json:"category"`
	AIGenerated  bool     `json:"aiGenerated"`
}

// AnswerRecord is the immutable log entry written once per accepted submission.
type AnswerRecord struct {
	IdempotencyKey  string    `json:"idempotencyKey"`
	UserID          string    `json:"userId"`
	QuestionID      string    `json:"questionId"`
	Difficulty      int       `json:"difficulty"`
	ChosenOption    int       `json:"chosenOption"`
	Correct         bool      `json:"correct"`
	ScoreDelta      int       `json:"scoreDelta"`
	StreakAtAnswer  int       `json:"streakAtAnswer"`
	StreakReset     bool      `json:"streakReset"`
	InactivityDecay bool      `json:"inactivityDecay"`
	AnsweredAt      time.Time `json:"answeredAt"`
}

// AnswerCommit is the all-or-nothing unit persisted by the durable store: the
// new user state (guarded by ExpectedVersion), the answer record and both
// leaderboard projections derived from State.
type AnswerCommit struct {
	ExpectedVersion int
	State           UserState
	Record          AnswerRecord
}

// AnswerRequest is a single answer submission.
type AnswerRequest struct {
	UserID               string
	QuestionID           string
	ChosenOption         int
	ExpectedStateVersion *int
	IdempotencyKey       string
}

// AnswerOutcome is returned for accepted and duplicate submissions alike.
type AnswerOutcome struct {
	Correct               bool    `json:"correct"`
	CorrectAnswer         int     `json:"correctAnswer"`
	NewDifficulty         int     `json:"newDifficulty"`
	NewStreak             int     `json:"newStreak"`
	MaxStreak             int     `json:"maxStreak"`
	ScoreDelta            int     `json:"scoreDelta"`
	TotalScore            int64   `json:"totalScore"`
	Momentum              float64 `json:"momentum"`
	StateVersion          int     `json:"stateVersion"`
	StreakReset           bool    `json:"streakReset"`
	InactivityDecay       bool    `json:"inactivityDecay"`
	LeaderboardRankScore  int     `json:"leaderboardRankScore"`
	LeaderboardRankStreak int     `json:"leaderboardRankStreak"`
	Duplicate             bool    `json:"duplicate,omitempty"`
	AIFeedback            string  `json:"aiFeedback,omitempty"`
	AIExplanation         *string `json:"aiExplanation"`
}

// LeaderboardEntry is one ranked row of the score or streak leaderboard. Value
// holds the total score or the max streak depending on the board.
type LeaderboardEntry struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	Value    int64  `json:"value"`
	Rank     int    `json:"rank"`
}

// Leaderboard is a ranked view plus, optionally, the requesting user's row.
type Leaderboard struct {
	Entries  []LeaderboardEntry `json:"leaderboard"`
	UserRank *LeaderboardEntry  `json:"userRank"`
	Total    int                `json:"total"`
}

// LeaderboardUpdate is pushed to live subscribers after each committed answer.
type LeaderboardUpdate struct {
	UserID     string    `json:"userId"`
	Username   string    `json:"username"`
	TotalScore int64     `json:"totalScore"`
	MaxStreak  int       `json:"maxStreak"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// NextQuestion is what a player sees before answering. The correct index is withheld.
type NextQuestion struct {
	QuestionID        string   `json:"questionId"`
	Difficulty        int      `json:"difficulty"`
	Prompt            string   `json:"prompt"`
	Choices           []string `json:"choices"`
	Category          string   `json:"category"`
	StateVersion      int      `json:"stateVersion"`
	CurrentScore      int64    `json:"currentScore"`
	CurrentStreak     int      `json:"currentStreak"`
	MaxStreak         int      `json:"maxStreak"`
	CurrentDifficulty int      `json:"currentDifficulty"`
	Momentum          float64  `json:"momentum"`
	PendingDecay      bool     `json:"pendingDecay"`
	Source            string   `json:"source"`
}

// HistogramBucket counts answers at one difficulty.
type HistogramBucket struct {
	Total   int `json:"total"`
	Correct int `json:"correct"`
}

// UserMetrics summarizes a user's progress.
type UserMetrics struct {
	CurrentDifficulty   int                     `json:"currentDifficulty"`
	DifficultyLabel     string                  `json:"difficultyLabel"`
	Streak              int                     `json:"streak"`
	MaxStreak           int                     `json:"maxStreak"`
	TotalScore          int64                   `json:"totalScore"`
	TotalAnswered       int                     `json:"totalAnswered"`
	TotalCorrect        int                     `json:"totalCorrect"`
	Accuracy            float64                 `json:"accuracy"`
	Momentum            float64                 `json:"momentum"`
	DifficultyHistogram map[int]HistogramBucket `json:"difficultyHistogram"`
	RecentPerformance   []AnswerRecord          `json:"recentPerformance"`
	LastAnswerAt        *time.Time              `json:"lastAnswerAt,omitempty"`
}

// RateLimitResult is the verdict of a rate limiter check.
type RateLimitResult struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}
