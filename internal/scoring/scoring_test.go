package scoring_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/victornm/harrow/internal/answer"
	"github.com/victornm/harrow/internal/domain"
	"github.com/victornm/harrow/internal/scoring"
)

func TestApplyChallengeAnswer(t *testing.T) {
	presets := []string{"classic", "speed", "precision", "survival"}

	for _, name := range presets {
		name := name
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			cfg, ok := domain.ChallengeConfigByName(name)
			require.True(t, ok)

			const n, m = 7, 5
			board := &domain.PlayerScoreboard{UserID: "u1"}
			for i := 0; i < n; i++ {
				scoring.ApplyChallengeAnswer(board, cfg, answer.SignalAffirmative)
			}
			for i := 0; i < m; i++ {
				scoring.ApplyChallengeAnswer(board, cfg, answer.SignalNegative)
			}

			assert.Equal(t, n, board.Correct)
			assert.Equal(t, m, board.Wrong)
			assert.Equal(t, n*cfg.CorrectPoints+m*cfg.WrongPoints, board.Points)
		})
	}

	t.Run("none signal mutates nothing", func(t *testing.T) {
		t.Parallel()

		cfg, _ := domain.ChallengeConfigByName("classic")
		board := &domain.PlayerScoreboard{UserID: "u1", Points: 4, Correct: 1}
		delta := scoring.ApplyChallengeAnswer(board, cfg, answer.SignalNone)

		assert.Zero(t, delta)
		assert.Equal(t, &domain.PlayerScoreboard{UserID: "u1", Points: 4, Correct: 1}, board)
	})

	t.Run("totals may go negative", func(t *testing.T) {
		t.Parallel()

		cfg, _ := domain.ChallengeConfigByName("precision")
		board := &domain.PlayerScoreboard{UserID: "u1"}
		scoring.ApplyChallengeAnswer(board, cfg, answer.SignalNegative)
		scoring.ApplyChallengeAnswer(board, cfg, answer.SignalNegative)

		assert.Equal(t, -10, board.Points)
	})
}

func TestStreakMultiplier(t *testing.T) {
	tests := map[string]struct {
		streak int
		want   string
	}{
		"baseline":           {streak: 0, want: "1"},
		"below first tier":   {streak: 4, want: "1"},
		"first tier":         {streak: 5, want: "1.5"},
		"below second tier":  {streak: 7, want: "1.5"},
		"second tier":        {streak: 8, want: "2.5"},
		"below third tier":   {streak: 10, want: "2.5"},
		"third tier":         {streak: 11, want: "3"},
		"beyond third tier":  {streak: 40, want: "3"},
	}

	for name, tt := range tests {
		tt := tt
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			got := domain.StreakMultiplier(tt.streak)
			assert.True(t, got.Equal(decimal.RequireFromString(tt.want)),
				"streak %d: want %s, got %s", tt.streak, tt.want, got)
		})
	}

	t.Run("monotonic in streak", func(t *testing.T) {
		t.Parallel()

		prev := domain.StreakMultiplier(0)
		for streak := 1; streak <= 20; streak++ {
			cur := domain.StreakMultiplier(streak)
			assert.True(t, cur.GreaterThanOrEqual(prev), "multiplier dropped at streak %d", streak)
			prev = cur
		}
	})
}

func TestApplyGroupAnswer(t *testing.T) {
	type (
		inputs struct {
			player  *domain.GamePlayer
			correct bool
		}

		outputs struct {
			delta  decimal.Decimal
			player *domain.GamePlayer
		}
	)

	tests := map[string]struct {
		arrange func() inputs
		assert  func(t *testing.T, out outputs)
	}{
		"first correct answer scores base points": {
			arrange: func() inputs {
				return inputs{
					player:  &domain.GamePlayer{UserID: "u1", HighRiskUses: domain.HighRiskUses},
					correct: true,
				}
			},

			assert: func(t *testing.T, out outputs) {
				assert.True(t, out.delta.Equal(decimal.NewFromInt(10)))
				assert.True(t, out.player.Score.Equal(decimal.NewFromInt(10)))
				assert.Equal(t, 1, out.player.Streak)
			},
		},

		"streak increments before the tier is read": {
			arrange: func() inputs {
				return inputs{
					// Streak 4 going in: this answer is the 5th, so the
					// 1.5x tier already applies to it.
					player:  &domain.GamePlayer{UserID: "u1", Streak: 4, Score: decimal.NewFromInt(40)},
					correct: true,
				}
			},

			assert: func(t *testing.T, out outputs) {
				assert.True(t, out.delta.Equal(decimal.NewFromInt(15)))
				assert.True(t, out.player.Score.Equal(decimal.NewFromInt(55)))
				assert.Equal(t, 5, out.player.Streak)
			},
		},

		"high risk triples a win and is consumed": {
			arrange: func() inputs {
				return inputs{
					player:  &domain.GamePlayer{UserID: "u1", HighRisk: true},
					correct: true,
				}
			},

			assert: func(t *testing.T, out outputs) {
				assert.True(t, out.delta.Equal(decimal.NewFromInt(30)))
				assert.False(t, out.player.HighRisk)
			},
		},

		"high risk penalizes a loss and is consumed": {
			arrange: func() inputs {
				return inputs{
					player:  &domain.GamePlayer{UserID: "u1", HighRisk: true, Score: decimal.NewFromInt(100), Streak: 6},
					correct: false,
				}
			},

			assert: func(t *testing.T, out outputs) {
				assert.True(t, out.delta.Equal(decimal.NewFromInt(-30)))
				assert.True(t, out.player.Score.Equal(decimal.NewFromInt(70)))
				assert.False(t, out.player.HighRisk)
				assert.Equal(t, 0, out.player.Streak)
			},
		},

		"score is floored at zero on a high risk loss": {
			arrange: func() inputs {
				return inputs{
					player:  &domain.GamePlayer{UserID: "u1", HighRisk: true, Score: decimal.NewFromInt(20)},
					correct: false,
				}
			},

			assert: func(t *testing.T, out outputs) {
				assert.True(t, out.player.Score.Equal(decimal.Zero))
			},
		},

		"plain wrong answer resets the streak without penalty": {
			arrange: func() inputs {
				return inputs{
					player:  &domain.GamePlayer{UserID: "u1", Score: decimal.NewFromInt(50), Streak: 9},
					correct: false,
				}
			},

			assert: func(t *testing.T, out outputs) {
				assert.True(t, out.delta.IsZero())
				assert.True(t, out.player.Score.Equal(decimal.NewFromInt(50)))
				assert.Equal(t, 0, out.player.Streak)
				assert.True(t, out.player.StreakMultiplier().Equal(decimal.NewFromInt(1)))
			},
		},
	}

	for name, tt := range tests {
		tt := tt
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			in := tt.arrange()
			delta := scoring.ApplyGroupAnswer(in.player, in.correct)

			tt.assert(t, outputs{delta: delta, player: in.player})
		})
	}
}

func TestApplyGroupAnswer_HighRiskConsumedExactlyOnce(t *testing.T) {
	for _, correct := range []bool{true, false} {
		p := &domain.GamePlayer{UserID: "u1", HighRisk: true, Score: decimal.NewFromInt(100)}
		scoring.ApplyGroupAnswer(p, correct)
		require.False(t, p.HighRisk, "flag must read false after any scored answer (correct=%v)", correct)

		// The next answer scores without the high-risk multiplier.
		before := p.Score
		delta := scoring.ApplyGroupAnswer(p, true)
		require.True(t, p.Score.Equal(before.Add(delta)))
		require.True(t, delta.LessThanOrEqual(decimal.NewFromInt(15)), "multiplier must not linger, got %s", delta)
	}
}

func TestSoloScoring(t *testing.T) {
	tests := map[string]struct {
		correct, total int
		wantScore      int
		wantPercentage float64
	}{
		"perfect":        {correct: 50, total: 50, wantScore: 200, wantPercentage: 100},
		"documented":     {correct: 45, total: 50, wantScore: 130, wantPercentage: 90},
		"zero correct":   {correct: 0, total: 10, wantScore: -10, wantPercentage: 0},
		"single question": {correct: 1, total: 1, wantScore: 4, wantPercentage: 100},
	}

	for name, tt := range tests {
		tt := tt
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tt.wantScore, scoring.SoloScore(tt.correct, tt.total))
			assert.InDelta(t, tt.wantPercentage, scoring.SoloPercentage(tt.correct, tt.total), 1e-9)
		})
	}
}
