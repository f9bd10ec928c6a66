// Package scoring computes points awarded per answer and derived accuracy figures.
package scoring

import (
	"math"

	"adaptive-quiz-service/internal/domain"
)

const (
	// MaxStreakMultiplier caps the streak bonus at 3x.
	MaxStreakMultiplier = 3.0
	streakIncrement     = 0.1
	pointsPerDifficulty = 10
)

// BaseScore is the unmultiplied reward for a question: 10 to 100 points.
func BaseScore(difficulty int) int {
	return difficulty * pointsPerDifficulty
}

// StreakMultiplier starts at 1.0 and grows by 0.1 per streak step up to MaxStreakMultiplier.
func StreakMultiplier(streak int) float64 {
	return math.Min(1+float64(streak)*streakIncrement, MaxStreakMultiplier)
}

// Delta returns the points earned for one answer. streakAfterAnswer is the
// streak including this answer. Wrong answers never cost points.
func Delta(difficulty, streakAfterAnswer int, correct bool) int {
	if !correct {
		return 0
	}
	return int(math.Round(float64(BaseScore(difficulty)) * StreakMultiplier(streakAfterAnswer)))
}

// Accuracy returns correct/answered as a percentage with two decimals.
func Accuracy(correct, answered int) float64 {
	if answered == 0 {
		return 0
	}
	return math.Round(float64(correct)/float64(answered)*10000) / 100
}

// DifficultyHistogram buckets answers by difficulty. Every level from
// MinDifficulty to MaxDifficulty is present; out of range records are skipped.
func DifficultyHistogram(records []domain.AnswerRecord) map[int]domain.HistogramBucket {
	histogram := make(map[int]domain.HistogramBucket, domain.MaxDifficulty)
	for d := domain.MinDifficulty; d <= domain.MaxDifficulty; d++ {
		histogram[d] = domain.HistogramBucket{}
	}
	for _, rec := range records {
		bucket, ok := histogram[rec.Difficulty]
		if !ok {
			continue
		}
		bucket.Total++
		if rec.Correct {
			bucket.Correct++
		}
		histogram[rec.Difficulty] = bucket
	}
	return histogram
}
