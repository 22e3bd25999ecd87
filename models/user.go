package models

import (
	"time"
)

const (
	UserStatusActive   = "active"
	UserStatusBanned   = "banned"
	UserStatusInactive = "inactive"
)

// SystemAccountExternalID is the reserved identity of the commission account.
const SystemAccountExternalID = "SYSTEM"

// User is a player account. Created on first contact, never deleted.
// StarsBalance may only be written through the TransactionService.
type User struct {
	ID         string `gorm:"primaryKey" json:"id"`
	ExternalID string `gorm:"uniqueIndex;not null" json:"external_id"` // stable identity from the auth gateway
	Username   string `gorm:"index" json:"username"`
	FullName   string `json:"full_name"`

	// Game stats
	TotalGames int64 `gorm:"default:0" json:"total_games"`
	Wins       int64 `gorm:"default:0" json:"wins"`
	Losses     int64 `gorm:"default:0" json:"losses"`
	Draws      int64 `gorm:"default:0" json:"draws"`

	// Economy — integer stars, non-negative at all times
	StarsBalance int64 `gorm:"not null;default:0" json:"stars_balance"`

	Status     string    `gorm:"type:varchar(16);default:'active'" json:"status"`
	LastActive time.Time `json:"last_active"`

	Timestamps
}

// WinRate returns the win percentage over all settled games.
func (u *User) WinRate() float64 {
	if u.TotalGames == 0 {
		return 0
	}
	return float64(u.Wins) / float64(u.TotalGames) * 100
}

// DisplayName prefers the full name, falling back to the username.
func (u *User) DisplayName() string {
	if u.FullName != "" {
		return u.FullName
	}
	return u.Username
}

// Timestamps adds GORM auto-times
type Timestamps struct {
	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}
