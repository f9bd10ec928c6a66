// Package adaptive implements the momentum-based hysteresis that moves a
// player's difficulty. Difficulty falls on every wrong answer but rises only
// after sustained proof of mastery.
package adaptive

import (
	"math"
	"time"

	"adaptive-quiz-service/internal/domain"
)

const (
	MomentumGainOnCorrect = 0.15
	MomentumLossOnWrong   = 0.30
	MomentumThreshold     = 0.60
	MinStreakToIncrease   = 2
	MinWindowAccuracy     = 0.6
	WindowSize            = 10

	InactivityThreshold = 30 * time.Minute
	InactivityDecay     = 0.2

	momentumMin = 0.0
	momentumMax = 1.0
)

// State is the subset of a user's state the machine reads.
type State struct {
	Difficulty    int
	Momentum      float64
	Streak        int
	MaxStreak     int
	RecentAnswers []bool
	LastAnswerAt  *time.Time
}

// Result is the state after one answer.
type Result struct {
	Difficulty      int
	Momentum        float64
	Streak          int
	MaxStreak       int
	RecentAnswers   []bool
	StreakReset     bool
	InactivityDecay bool
}

// FromUser extracts the adaptive state from a persisted user state.
func FromUser(u domain.UserState) State {
	return State{
		Difficulty:    u.CurrentDifficulty,
		Momentum:      u.Momentum,
		Streak:        u.Streak,
		MaxStreak:     u.MaxStreak,
		RecentAnswers: u.RecentAnswers,
		LastAnswerAt:  u.LastAnswerAt,
	}
}

// Inactive reports whether the gap since the last answer triggers decay at now.
func Inactive(lastAnswerAt *time.Time, now time.Time) bool {
	return lastAnswerAt != nil && now.Sub(*lastAnswerAt) > InactivityThreshold
}

// Next computes the state after answering at now. Steps run in a fixed order,
// each consuming the previous step's output. The input is not modified.
func Next(s State, correct bool, now time.Time) Result {
	streak := s.Streak
	maxStreak := s.MaxStreak
	momentum := s.Momentum
	res := Result{}

	// Decay applies before the answer is evaluated.
	if Inactive(s.LastAnswerAt, now) {
		streak = 0
		momentum = math.Max(momentumMin, momentum-InactivityDecay)
		res.InactivityDecay = true
	}

	if correct {
		streak++
		if streak > maxStreak {
			maxStreak = streak
		}
		momentum = math.Min(momentumMax, momentum+MomentumGainOnCorrect)
	} else {
		if streak > 0 {
			res.StreakReset = true
		}
		streak = 0
		momentum = math.Max(momentumMin, momentum-MomentumLossOnWrong)
	}

	window := appendWindow(s.RecentAnswers, correct)
	accuracy := windowAccuracy(window)

	difficulty := s.Difficulty
	if correct {
		if momentum >= MomentumThreshold && streak >= MinStreakToIncrease && accuracy >= MinWindowAccuracy {
			difficulty = clamp(difficulty + 1)
		}
	} else {
		difficulty = clamp(difficulty - 1)
	}

	res.Difficulty = difficulty
	res.Momentum = math.Round(momentum*1000) / 1000
	res.Streak = streak
	res.MaxStreak = maxStreak
	res.RecentAnswers = window
	return res
}

func appendWindow(recent []bool, correct bool) []bool {
	start := 0
	if n := len(recent) + 1; n > WindowSize {
		start = n - WindowSize
	}
	window := make([]bool, 0, WindowSize)
	window = append(window, recent[start:]...)
	return append(window, correct)
}

func windowAccuracy(window []bool) float64 {
	if len(window) == 0 {
		return 0
	}
	hits := 0
	for _, ok := range window {
		if ok {
			hits++
		}
	}
	return float64(hits) / float64(len(window))
}

func clamp(d int) int {
	if d < domain.MinDifficulty {
		return domain.MinDifficulty
	}
	if d > domain.MaxDifficulty {
		return domain.MaxDifficulty
	}
	return d
}

// Label is a human readable band for a difficulty.
func Label(difficulty int) string {
	switch {
	case difficulty <= 2:
		return "Beginner"
	case difficulty <= 4:
		return "Easy"
	case difficulty <= 6:
		return "Medium"
	case difficulty <= 8:
		return "Hard"
	default:
		return "Expert"
	}
}
