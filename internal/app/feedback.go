package app

import "fmt"

var wrongAnswerFallbacks = []string{
	"Don't sweat it! Try again!",
	"Close! You'll get the next one!",
	"Learning moment! Keep going!",
}

// FallbackFeedback is the static message used when AI feedback is unavailable.
func FallbackFeedback(correct bool, streak, difficulty int) string {
	if correct {
		switch {
		case streak >= 5:
			return fmt.Sprintf("%d-streak! You're unstoppable!", streak)
		case streak >= 3:
			return fmt.Sprintf("Nice! %d in a row!", streak)
		default:
			return "Correct! Keep it up!"
		}
	}
	if difficulty < 0 {
		difficulty = 0
	}
	return wrongAnswerFallbacks[difficulty%len(wrongAnswerFallbacks)]
}
