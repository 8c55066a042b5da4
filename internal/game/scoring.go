package game

import "math"

// Scoring constants. A correct answer earns the base plus a speed bonus
// that decays linearly over the question's time limit.
const (
	ScoreBase     = 1000
	ScoreMaxBonus = 500
)

// CalculateScore returns the points awarded for one answer.
//
// Wrong answers score 0. Correct answers score base + bonus where the
// bonus shrinks linearly from ScoreMaxBonus at responseTime 0 to zero at
// the time limit. A negative response time counts as 0 (full bonus);
// response times at or past the limit earn the base only.
func CalculateScore(correct bool, responseTimeMs int64, timeLimitSec int) int {
	if !correct {
		return 0
	}
	if responseTimeMs < 0 {
		responseTimeMs = 0
	}
	limitMs := float64(timeLimitSec) * 1000
	if limitMs <= 0 {
		return ScoreBase
	}
	bonus := ScoreMaxBonus * (1 - float64(responseTimeMs)/limitMs)
	if bonus < 0 {
		bonus = 0
	}
	return ScoreBase + int(math.Round(bonus))
}
