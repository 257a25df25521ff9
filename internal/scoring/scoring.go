// Package scoring holds the pure point arithmetic for all session kinds.
// Nothing here touches registries, storage or the event bus; callers apply
// the returned deltas inside their own atomic steps.
package scoring

import (
	"github.com/shopspring/decimal"

	"github.com/victornm/harrow/internal/answer"
	"github.com/victornm/harrow/internal/domain"
)

// GroupBasePoints is the base award for a correct group-game answer before
// multipliers.
var GroupBasePoints = decimal.NewFromInt(10)

var three = decimal.NewFromInt(3)

// ApplyChallengeAnswer records a classified answer on the scoreboard using
// the challenge preset and returns the applied point delta. Challenge totals
// have no floor and may go negative.
func ApplyChallengeAnswer(board *domain.PlayerScoreboard, cfg domain.ChallengeConfig, sig answer.Signal) int {
	switch sig {
	case answer.SignalAffirmative:
		board.Correct++
		board.Points += cfg.CorrectPoints
		return cfg.CorrectPoints
	case answer.SignalNegative:
		board.Wrong++
		board.Points += cfg.WrongPoints
		return cfg.WrongPoints
	}
	return 0
}

// ApplyGroupAnswer scores a group-game answer and returns the point delta
// (negative for a high-risk loss). On a correct answer the streak increments
// before the tier multiplier is read. The high-risk flag is consumed the
// moment any answer is scored, win or lose, and the score never drops below
// zero.
func ApplyGroupAnswer(p *domain.GamePlayer, correct bool) decimal.Decimal {
	if correct {
		p.Streak++
		points := GroupBasePoints.Mul(domain.StreakMultiplier(p.Streak))
		if p.HighRisk {
			points = points.Mul(three)
			p.HighRisk = false
		}
		p.Score = p.Score.Add(points)
		return points
	}

	var lost decimal.Decimal
	if p.HighRisk {
		lost = GroupBasePoints.Mul(three)
		p.Score = p.Score.Sub(lost)
		if p.Score.IsNegative() {
			p.Score = decimal.Zero
		}
		p.HighRisk = false
	}
	p.Streak = 0
	return lost.Neg()
}

// SoloScore computes the fixed solo tally score: the classic preset formula
// regardless of any challenge config.
func SoloScore(correct, total int) int {
	return correct*4 - (total-correct)*1
}

// SoloPercentage computes correct/total as a percentage. Callers validate
// total > 0 before reaching this.
func SoloPercentage(correct, total int) float64 {
	return float64(correct) / float64(total) * 100
}
