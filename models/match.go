package models

import (
	"time"
)

const (
	MatchStatusWaiting    = "waiting"
	MatchStatusInProgress = "in_progress"
	MatchStatusCompleted  = "completed"
	MatchStatusCancelled  = "cancelled"
	MatchStatusTimeout    = "timeout"
)

// Match records a single rock-paper-scissors contest between two players.
// Status transitions are owned exclusively by the match service; once a
// terminal status (completed/cancelled/timeout) is written it never changes.
type Match struct {
	ID        string  `gorm:"primaryKey" json:"id"` // UUID, generated at creation
	Player1ID string  `gorm:"index;not null" json:"player1_id"`
	Player2ID *string `gorm:"index" json:"player2_id,omitempty"` // nil until joined

	// Game data
	Player1Choice *string `gorm:"type:varchar(20)" json:"player1_choice,omitempty"`
	Player2Choice *string `gorm:"type:varchar(20)" json:"player2_choice,omitempty"`
	Promise       string  `gorm:"type:varchar(200)" json:"promise,omitempty"` // free-text stakes ("loser buys coffee")

	// Stakes — symmetric, both players commit the same amount
	StakeAmount int64 `gorm:"default:0" json:"stake_amount"`

	Status   string  `gorm:"type:varchar(16);index;default:'waiting'" json:"status"`
	WinnerID *string `gorm:"index" json:"winner_id,omitempty"`

	CreatedAt   time.Time  `json:"created_at" gorm:"index;autoCreateTime"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// IsTerminal reports whether the match has reached a final status.
func (m *Match) IsTerminal() bool {
	switch m.Status {
	case MatchStatusCompleted, MatchStatusCancelled, MatchStatusTimeout:
		return true
	}
	return false
}
