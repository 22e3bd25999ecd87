package services

import (
	"errors"
	"fmt"
	"sort"

	"rps-arena-system/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// TransactionService owns every balance mutation. No other component writes
// a user's stars_balance directly.
type TransactionService struct {
	DB *gorm.DB
}

func NewTransactionService(db *gorm.DB) *TransactionService {
	return &TransactionService{DB: db}
}

// CreateTransaction appends a ledger row and moves the user's balance inside
// the caller's transaction. The caller must already hold the row lock on the
// user. Fails with ErrInsufficientBalance if the balance would go negative,
// leaving the prior balance untouched.
func (s *TransactionService) CreateTransaction(
	tx *gorm.DB,
	user *models.User,
	txType string,
	amount int64,
	matchID *string,
	commission int64,
	description string,
) (*models.Transaction, error) {
	balanceBefore := user.StarsBalance
	newBalance := balanceBefore + amount
	if newBalance < 0 {
		return nil, fmt.Errorf("%w: current %d, required %d", ErrInsufficientBalance, balanceBefore, -amount)
	}

	if err := tx.Model(&models.User{}).Where("id = ?", user.ID).
		Update("stars_balance", newBalance).Error; err != nil {
		return nil, err
	}
	user.StarsBalance = newBalance

	transaction := &models.Transaction{
		ID:            uuid.NewString(),
		UserID:        user.ID,
		Type:          txType,
		Amount:        amount,
		BalanceBefore: balanceBefore,
		BalanceAfter:  newBalance,
		Commission:    commission,
		MatchID:       matchID,
		Description:   description,
	}
	if err := tx.Create(transaction).Error; err != nil {
		return nil, err
	}
	return transaction, nil
}

// lockUsersTx fetches the given users under row locks, always in ascending
// id order so concurrent settlements sharing a user cannot deadlock.
func (s *TransactionService) lockUsersTx(tx *gorm.DB, ids ...string) (map[string]*models.User, error) {
	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)

	q := tx.Order("id")
	if tx.Dialector.Name() == "postgres" {
		// sqlite (tests) has no row locks; its writes serialize on the db lock
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}

	var users []models.User
	if err := q.Where("id IN ?", sorted).Find(&users).Error; err != nil {
		return nil, err
	}

	byID := make(map[string]*models.User, len(users))
	for i := range users {
		byID[users[i].ID] = &users[i]
	}
	for _, id := range ids {
		if _, ok := byID[id]; !ok {
			return nil, fmt.Errorf("%w: user %s", ErrNotFound, id)
		}
	}
	return byID, nil
}

// EscrowStakesTx debits the stake from both players when a match starts.
// Both rows are locked in fixed order; either debit failing rolls the whole
// join back.
func (s *TransactionService) EscrowStakesTx(tx *gorm.DB, player1ID, player2ID string, stakeAmount int64, matchID string) error {
	users, err := s.lockUsersTx(tx, player1ID, player2ID)
	if err != nil {
		return err
	}
	for _, id := range []string{player1ID, player2ID} {
		_, err := s.CreateTransaction(tx, users[id], models.TransactionTypeMatchStake,
			-stakeAmount, &matchID, 0, fmt.Sprintf("Stake for match %s", matchID))
		if err != nil {
			return err
		}
	}
	return nil
}

// SettleMatchTx pays out a decided match. The loser's stake was already
// escrowed at join, so settlement credits the winner with the full pot minus
// commission and credits the commission to the system account if one exists.
// The system account row is the most contended in the whole service, so it
// goes through the same ordered lockUsersTx as the players; a plain read
// here would let two settlements clobber each other's commission credit.
func (s *TransactionService) SettleMatchTx(tx *gorm.DB, winnerID, loserID string, winnerPayout, commission int64, matchID string) error {
	ids := []string{winnerID, loserID}

	var systemID string
	if commission > 0 {
		var system models.User
		err := tx.Select("id").
			Where("external_id = ?", models.SystemAccountExternalID).
			First(&system).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			// no system account configured; the commission stays burned
		case err != nil:
			return err
		default:
			systemID = system.ID
			ids = append(ids, systemID)
		}
	}

	users, err := s.lockUsersTx(tx, ids...)
	if err != nil {
		return err
	}

	_, err = s.CreateTransaction(tx, users[winnerID], models.TransactionTypeMatchWin,
		winnerPayout, &matchID, commission, fmt.Sprintf("Won match %s", matchID))
	if err != nil {
		return err
	}

	if systemID != "" {
		_, err = s.CreateTransaction(tx, users[systemID], models.TransactionTypeCommission,
			commission, &matchID, 0, fmt.Sprintf("Commission from match %s", matchID))
		if err != nil {
			return err
		}
	}
	return nil
}

// RefundStakeTx credits an escrowed stake back to a player. Used on timeout
// reclamation and for draws with stakes.
func (s *TransactionService) RefundStakeTx(tx *gorm.DB, userID string, stakeAmount int64, matchID, reason string) (*models.Transaction, error) {
	users, err := s.lockUsersTx(tx, userID)
	if err != nil {
		return nil, err
	}
	return s.CreateTransaction(tx, users[userID], models.TransactionTypeRefund,
		stakeAmount, &matchID, 0, fmt.Sprintf("Stake refund: %s", reason))
}

// Record applies a standalone balance mutation in its own transaction.
func (s *TransactionService) Record(userID, txType string, amount int64, matchID *string, description string) (*models.Transaction, error) {
	var transaction *models.Transaction
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		users, err := s.lockUsersTx(tx, userID)
		if err != nil {
			return err
		}
		transaction, err = s.CreateTransaction(tx, users[userID], txType, amount, matchID, 0, description)
		return err
	})
	if err != nil {
		return nil, err
	}
	return transaction, nil
}
