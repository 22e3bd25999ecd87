package services

import (
	"fmt"
)

// Recognized choice symbols.
const (
	ChoiceRock     = "rock"
	ChoiceScissors = "scissors"
	ChoicePaper    = "paper"
)

const (
	ResultWin  = "win"
	ResultDraw = "draw"
)

// winningRules maps each choice to the choice it beats.
var winningRules = map[string]string{
	ChoiceRock:     ChoiceScissors,
	ChoiceScissors: ChoicePaper,
	ChoicePaper:    ChoiceRock,
}

// IsValidChoice reports whether the symbol is one of rock/scissors/paper.
func IsValidChoice(choice string) bool {
	_, ok := winningRules[choice]
	return ok
}

// DetermineWinner resolves two choices to a winner and result type.
// winner is 1, 2, or 0 for a draw. Pure and deterministic.
func DetermineWinner(choice1, choice2 string) (int, string, error) {
	if !IsValidChoice(choice1) || !IsValidChoice(choice2) {
		return 0, "", ErrInvalidChoice
	}
	if choice1 == choice2 {
		return 0, ResultDraw, nil
	}
	if winningRules[choice1] == choice2 {
		return 1, ResultWin, nil
	}
	return 2, ResultWin, nil
}

// CalculateStakeDistribution splits the pot between winner and platform.
// Commission is truncated, never rounded, so winnerPayout + commission
// always equals the full pot of 2*stake.
func CalculateStakeDistribution(stakeAmount int64, commissionRate float64) (winnerPayout, commission int64) {
	totalStake := stakeAmount * 2
	commission = int64(float64(totalStake) * commissionRate)
	winnerPayout = totalStake - commission
	return winnerPayout, commission
}

// ValidateStake reports whether the balance covers a positive stake.
func ValidateStake(userBalance, stakeAmount int64) bool {
	return userBalance >= stakeAmount && stakeAmount > 0
}

// ChoiceEmoji returns the emoji shown for a choice in result messages.
func ChoiceEmoji(choice string) string {
	switch choice {
	case ChoiceRock:
		return "✊"
	case ChoiceScissors:
		return "✌️"
	case ChoicePaper:
		return "✋"
	}
	return "❓"
}

// ResultMessage builds the human-readable match summary carried on the
// match_completed event. If a promise was attached and someone lost, the
// loser is reminded of it.
func ResultMessage(winnerNum int, player1Name, player2Name, choice1, choice2, promise string) string {
	emoji1 := ChoiceEmoji(choice1)
	emoji2 := ChoiceEmoji(choice2)

	var result string
	switch winnerNum {
	case 1:
		result = fmt.Sprintf("🎉 %s wins!\n\n%s %s vs %s %s", player1Name, player1Name, emoji1, emoji2, player2Name)
	case 2:
		result = fmt.Sprintf("🎉 %s wins!\n\n%s %s vs %s %s", player2Name, player1Name, emoji1, emoji2, player2Name)
	default:
		result = fmt.Sprintf("🤝 Draw!\n\n%s %s vs %s %s", player1Name, emoji1, emoji2, player2Name)
	}

	if promise != "" && winnerNum != 0 {
		loser := player2Name
		if winnerNum == 2 {
			loser = player1Name
		}
		result += fmt.Sprintf("\n\n📝 Now %s: %s", loser, promise)
	}
	return result
}
