package models

import (
	"time"
)

const (
	TransactionTypeMatchStake  = "match_stake"    // stake escrowed when a match starts
	TransactionTypeMatchWin    = "match_win"      // winner payout (pot minus commission)
	TransactionTypeCommission  = "commission"     // platform cut, credited to the system account
	TransactionTypeRefund      = "match_refund"   // stake returned on timeout/cancel/draw
	TransactionTypeChestBuy    = "chest_purchase" // chest bought from the shop
	TransactionTypeChestReward = "chest_reward"   // stars rolled out of a chest
)

// Transaction is an append-only ledger row. Invariant:
// BalanceAfter = BalanceBefore + Amount, and BalanceAfter >= 0.
type Transaction struct {
	ID     string `gorm:"primaryKey" json:"id"`
	UserID string `gorm:"index;not null" json:"user_id"`

	Type   string `gorm:"type:varchar(32);not null" json:"type"`
	Amount int64  `json:"amount"` // signed: positive credit, negative debit

	BalanceBefore int64 `json:"balance_before"`
	BalanceAfter  int64 `json:"balance_after"`
	Commission    int64 `gorm:"default:0" json:"commission"`

	MatchID     *string `gorm:"index" json:"match_id,omitempty"`
	Description string  `gorm:"type:varchar(255)" json:"description"`

	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
}
