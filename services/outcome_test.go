package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetermineWinner(t *testing.T) {
	cases := []struct {
		choice1, choice2 string
		winner           int
		result           string
	}{
		{ChoiceRock, ChoiceScissors, 1, ResultWin},
		{ChoiceScissors, ChoicePaper, 1, ResultWin},
		{ChoicePaper, ChoiceRock, 1, ResultWin},
		{ChoiceRock, ChoicePaper, 2, ResultWin},
		{ChoiceScissors, ChoiceRock, 2, ResultWin},
		{ChoicePaper, ChoiceScissors, 2, ResultWin},
		{ChoiceRock, ChoiceRock, 0, ResultDraw},
		{ChoiceScissors, ChoiceScissors, 0, ResultDraw},
		{ChoicePaper, ChoicePaper, 0, ResultDraw},
	}

	for _, tc := range cases {
		t.Run(tc.choice1+"_vs_"+tc.choice2, func(t *testing.T) {
			winner, result, err := DetermineWinner(tc.choice1, tc.choice2)
			require.NoError(t, err)
			assert.Equal(t, tc.winner, winner)
			assert.Equal(t, tc.result, result)
		})
	}
}

func TestDetermineWinnerInvalidChoice(t *testing.T) {
	_, _, err := DetermineWinner("lizard", ChoiceRock)
	assert.ErrorIs(t, err, ErrInvalidChoice)

	_, _, err = DetermineWinner(ChoiceRock, "spock")
	assert.ErrorIs(t, err, ErrInvalidChoice)

	_, _, err = DetermineWinner("", "")
	assert.ErrorIs(t, err, ErrInvalidChoice)
}

func TestCalculateStakeDistribution(t *testing.T) {
	payout, commission := CalculateStakeDistribution(100, 0.05)
	assert.Equal(t, int64(190), payout)
	assert.Equal(t, int64(10), commission)

	payout, commission = CalculateStakeDistribution(100, 0.1)
	assert.Equal(t, int64(180), payout)
	assert.Equal(t, int64(20), commission)

	payout, commission = CalculateStakeDistribution(100, 0)
	assert.Equal(t, int64(200), payout)
	assert.Equal(t, int64(0), commission)

	// commission truncates, never rounds
	payout, commission = CalculateStakeDistribution(33, 0.05)
	assert.Equal(t, int64(3), commission) // floor(66 * 0.05) = floor(3.3)
	assert.Equal(t, int64(63), payout)
}

func TestCalculateStakeDistributionZeroSum(t *testing.T) {
	for stake := int64(0); stake <= 500; stake += 7 {
		for _, rate := range []float64{0, 0.01, 0.05, 0.1, 0.25, 0.5, 0.99} {
			payout, commission := CalculateStakeDistribution(stake, rate)
			assert.Equal(t, stake*2, payout+commission,
				"pot must be fully distributed for stake=%d rate=%v", stake, rate)
			assert.GreaterOrEqual(t, payout, int64(0))
			assert.GreaterOrEqual(t, commission, int64(0))
		}
	}
}

func TestValidateStake(t *testing.T) {
	assert.True(t, ValidateStake(100, 50))
	assert.True(t, ValidateStake(100, 100))
	assert.False(t, ValidateStake(50, 100))
	assert.False(t, ValidateStake(0, 10))
	assert.False(t, ValidateStake(100, 0))
	assert.False(t, ValidateStake(100, -10))
}

func TestChoiceEmoji(t *testing.T) {
	assert.Equal(t, "✊", ChoiceEmoji(ChoiceRock))
	assert.Equal(t, "✌️", ChoiceEmoji(ChoiceScissors))
	assert.Equal(t, "✋", ChoiceEmoji(ChoicePaper))
	assert.Equal(t, "❓", ChoiceEmoji("lizard"))
}

func TestResultMessage(t *testing.T) {
	msg := ResultMessage(1, "Alice", "Bob", ChoiceRock, ChoiceScissors, "")
	assert.Contains(t, msg, "Alice wins!")
	assert.Contains(t, msg, "✊")
	assert.Contains(t, msg, "✌️")

	msg = ResultMessage(2, "Alice", "Bob", ChoiceScissors, ChoiceRock, "")
	assert.Contains(t, msg, "Bob wins!")

	msg = ResultMessage(0, "Alice", "Bob", ChoicePaper, ChoicePaper, "")
	assert.Contains(t, msg, "Draw!")

	// promise is addressed to the loser
	msg = ResultMessage(1, "Alice", "Bob", ChoiceRock, ChoiceScissors, "buys coffee")
	assert.Contains(t, msg, "Now Bob: buys coffee")

	// no promise callout on a draw
	msg = ResultMessage(0, "Alice", "Bob", ChoiceRock, ChoiceRock, "buys coffee")
	assert.NotContains(t, msg, "buys coffee")
}
