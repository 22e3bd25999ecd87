package services

import (
	"context"
	"errors"
	"log"
	"sort"
	"time"

	"rps-arena-system/cache"
	"rps-arena-system/models"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// MatchConfig carries the coordinator's timing and economics knobs.
type MatchConfig struct {
	JoinWindow     time.Duration // how long a waiting match stays joinable
	ChoiceWindow   time.Duration // per-choice submission deadline
	MatchTimeout   time.Duration // overall abandonment deadline
	CommissionRate float64       // platform cut of the pot, in [0,1)
}

// MatchService orchestrates the match lifecycle: creation, joining, choice
// collection and settlement. The durable match row is the source of truth;
// the redis projection is a hot-path mirror. All status transitions happen
// through conditional updates so multiple service instances can run behind
// the same store.
type MatchService struct {
	DB     *gorm.DB
	Cache  *cache.MatchCache
	Users  *UserService
	Txns   *TransactionService
	Events *EventBroker
	Config MatchConfig
}

func NewMatchService(db *gorm.DB, matchCache *cache.MatchCache, users *UserService, txns *TransactionService, events *EventBroker, cfg MatchConfig) *MatchService {
	return &MatchService{
		DB:     db,
		Cache:  matchCache,
		Users:  users,
		Txns:   txns,
		Events: events,
		Config: cfg,
	}
}

func requesterID(c *fiber.Ctx) string {
	id, _ := c.Locals("user_id").(string)
	return id
}

// CreateMatch opens a new match in waiting state.
// POST /matches
func (s *MatchService) CreateMatch(c *fiber.Ctx) error {
	externalID := requesterID(c)
	if externalID == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "missing user identity"})
	}

	var req struct {
		Username    string `json:"username"`
		FullName    string `json:"full_name"`
		Promise     string `json:"promise"`
		StakeAmount int64  `json:"stake_amount"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid JSON", "details": err.Error()})
	}
	if req.StakeAmount < 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "stake_amount must be non-negative"})
	}

	user, err := s.Users.GetOrCreateUser(externalID, req.Username, req.FullName)
	if err != nil {
		log.Printf("DB Error resolving user %s: %v", externalID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "database error"})
	}

	if req.StakeAmount > 0 && !ValidateStake(user.StarsBalance, req.StakeAmount) {
		return respondError(c, ErrInsufficientBalance)
	}

	match := &models.Match{
		ID:          uuid.NewString(),
		Player1ID:   user.ID,
		Promise:     req.Promise,
		StakeAmount: req.StakeAmount,
		Status:      models.MatchStatusWaiting,
	}
	if err := s.DB.Create(match).Error; err != nil {
		log.Printf("DB Error creating match: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to create match"})
	}

	proj := &cache.MatchProjection{
		MatchID:           match.ID,
		Player1ID:         user.ID,
		Player1ExternalID: user.ExternalID,
		Player1Name:       user.DisplayName(),
		Promise:           req.Promise,
		StakeAmount:       req.StakeAmount,
		Status:            models.MatchStatusWaiting,
		CreatedAt:         time.Now().UTC(),
	}
	if err := s.Cache.SaveProjection(c.Context(), proj, s.Config.JoinWindow); err != nil {
		// durable row exists; the projection rebuilds on the next lookup
		log.Printf("⚠️  Cache write failed for match %s: %v", match.ID, err)
	}

	return c.JSON(fiber.Map{
		"match_id":        match.ID,
		"status":          models.MatchStatusWaiting,
		"timeout_seconds": int(s.Config.JoinWindow.Seconds()),
	})
}

// loadProjection returns the live projection, rebuilding it from the durable
// row when the cache entry is gone but the match is still joinable.
func (s *MatchService) loadProjection(ctx context.Context, matchID string) (*cache.MatchProjection, error) {
	proj, err := s.Cache.GetProjection(ctx, matchID)
	if err == nil {
		return proj, nil
	}
	if !errors.Is(err, cache.ErrMiss) {
		return nil, err
	}

	var match models.Match
	if dbErr := s.DB.First(&match, "id = ?", matchID).Error; dbErr != nil {
		if errors.Is(dbErr, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, dbErr
	}
	if match.Status != models.MatchStatusWaiting {
		return nil, ErrMatchNotAvailable
	}
	if time.Since(match.CreatedAt) > s.Config.JoinWindow {
		return nil, ErrNotFound
	}

	var creator models.User
	if dbErr := s.DB.First(&creator, "id = ?", match.Player1ID).Error; dbErr != nil {
		return nil, dbErr
	}

	proj = &cache.MatchProjection{
		MatchID:           match.ID,
		Player1ID:         creator.ID,
		Player1ExternalID: creator.ExternalID,
		Player1Name:       creator.DisplayName(),
		Promise:           match.Promise,
		StakeAmount:       match.StakeAmount,
		Status:            match.Status,
		CreatedAt:         match.CreatedAt,
	}
	remaining := s.Config.JoinWindow - time.Since(match.CreatedAt)
	if cacheErr := s.Cache.SaveProjection(ctx, proj, remaining); cacheErr != nil {
		log.Printf("⚠️  Cache rebuild failed for match %s: %v", matchID, cacheErr)
	}
	return proj, nil
}

// JoinMatch binds a second player and starts the match. The durable join is
// a conditional update guarded by status and an empty player2 slot, so two
// concurrent joins can never both succeed. Stakes are escrowed from both
// players in the same transaction.
// POST /matches/:id/join
func (s *MatchService) JoinMatch(c *fiber.Ctx) error {
	externalID := requesterID(c)
	if externalID == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "missing user identity"})
	}
	matchID := c.Params("id")

	var req struct {
		Username string `json:"username"`
		FullName string `json:"full_name"`
	}
	if err := c.BodyParser(&req); err != nil && !errors.Is(err, fiber.ErrUnprocessableEntity) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid JSON"})
	}

	proj, err := s.loadProjection(c.Context(), matchID)
	if err != nil {
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrMatchNotAvailable) {
			return respondError(c, err)
		}
		log.Printf("Error loading match %s: %v", matchID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to load match"})
	}

	if proj.Status != models.MatchStatusWaiting {
		return respondError(c, ErrMatchNotAvailable)
	}
	if proj.Player1ExternalID == externalID {
		return respondError(c, ErrSelfJoin)
	}

	user, err := s.Users.GetOrCreateUser(externalID, req.Username, req.FullName)
	if err != nil {
		log.Printf("DB Error resolving user %s: %v", externalID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "database error"})
	}

	if proj.StakeAmount > 0 && !ValidateStake(user.StarsBalance, proj.StakeAmount) {
		return respondError(c, ErrInsufficientBalance)
	}

	startedAt := time.Now().UTC()
	err = s.DB.Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Match{}).
			Where("id = ? AND status = ? AND player2_id IS NULL", matchID, models.MatchStatusWaiting).
			Updates(map[string]any{
				"player2_id": user.ID,
				"status":     models.MatchStatusInProgress,
				"started_at": startedAt,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			// someone else joined first, or the match left waiting state
			return ErrMatchNotAvailable
		}

		if proj.StakeAmount > 0 {
			return s.Txns.EscrowStakesTx(tx, proj.Player1ID, user.ID, proj.StakeAmount, matchID)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrMatchNotAvailable) || errors.Is(err, ErrInsufficientBalance) {
			return respondError(c, err)
		}
		log.Printf("DB Error joining match %s: %v", matchID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to join match"})
	}

	proj.Player2ID = user.ID
	proj.Player2ExternalID = user.ExternalID
	proj.Player2Name = user.DisplayName()
	proj.Status = models.MatchStatusInProgress
	proj.StartedAt = &startedAt
	if err := s.Cache.SaveProjection(c.Context(), proj, s.Config.ChoiceWindow); err != nil {
		log.Printf("⚠️  Cache write failed for match %s: %v", matchID, err)
	}

	s.Events.Publish(matchID, EventMatchStarted, map[string]any{
		"match_id":     matchID,
		"player2_name": proj.Player2Name,
	})

	return c.JSON(fiber.Map{
		"match_id":        matchID,
		"status":          models.MatchStatusInProgress,
		"timeout_seconds": int(s.Config.ChoiceWindow.Seconds()),
	})
}

// MakeChoice records a player's symbol and settles the match once both are in.
// POST /matches/:id/choice
func (s *MatchService) MakeChoice(c *fiber.Ctx) error {
	externalID := requesterID(c)
	if externalID == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "missing user identity"})
	}
	matchID := c.Params("id")

	var req struct {
		Choice string `json:"choice"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid JSON"})
	}
	if !IsValidChoice(req.Choice) {
		return respondError(c, ErrInvalidChoice)
	}

	// Mid-collection state lives only in the cache; if it is gone the match
	// can no longer accept choices.
	proj, err := s.Cache.GetProjection(c.Context(), matchID)
	if err != nil {
		if errors.Is(err, cache.ErrMiss) {
			return respondError(c, ErrNotFound)
		}
		log.Printf("Cache error for match %s: %v", matchID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "cache unavailable"})
	}

	if proj.Status != models.MatchStatusInProgress {
		return respondError(c, ErrMatchNotAvailable)
	}

	var slot int
	switch externalID {
	case proj.Player1ExternalID:
		slot = 1
	case proj.Player2ExternalID:
		slot = 2
	default:
		return respondError(c, ErrNotParticipant)
	}

	stored, err := s.Cache.PutChoice(c.Context(), matchID, slot, req.Choice, s.Config.ChoiceWindow)
	if err != nil {
		log.Printf("Cache error storing choice for match %s: %v", matchID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "cache unavailable"})
	}
	if !stored {
		return respondError(c, ErrChoiceAlreadySubmitted)
	}

	choice1, choice2, err := s.Cache.GetChoices(c.Context(), matchID)
	if err != nil {
		log.Printf("Cache error reading choices for match %s: %v", matchID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "cache unavailable"})
	}

	if choice1 == "" || choice2 == "" {
		// First of the pair: extend the match deadline so the prompt player
		// is not punished for the opponent stalling. The stored choice has
		// to outlive the grace period too.
		if err := s.Cache.RefreshTTL(c.Context(), matchID, s.Config.MatchTimeout); err != nil && !errors.Is(err, cache.ErrMiss) {
			log.Printf("⚠️  TTL refresh failed for match %s: %v", matchID, err)
		}
		if err := s.Cache.ExtendChoice(c.Context(), matchID, slot, s.Config.MatchTimeout); err != nil && !errors.Is(err, cache.ErrMiss) {
			log.Printf("⚠️  Choice TTL refresh failed for match %s: %v", matchID, err)
		}

		playerName := proj.Player1Name
		if slot == 2 {
			playerName = proj.Player2Name
		}
		s.Events.Publish(matchID, EventChoiceMade, map[string]any{
			"player_num":  slot,
			"player_name": playerName,
		})

		return c.JSON(fiber.Map{
			"status":      "waiting_for_opponent",
			"your_choice": req.Choice,
		})
	}

	result, err := s.settleMatch(c.Context(), proj, choice1, choice2)
	if err != nil {
		if errors.Is(err, ErrConcurrencyConflict) {
			// The opposing submission won the settlement race; it will emit
			// the completed event. Nothing left to do here.
			return c.JSON(fiber.Map{
				"status":      "settling",
				"your_choice": req.Choice,
			})
		}
		if errors.Is(err, ErrInsufficientBalance) {
			// Settlement aborted whole; the match stays in_progress for the
			// timeout worker to reclaim.
			return respondError(c, err)
		}
		log.Printf("Settlement error for match %s: %v", matchID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "settlement failed"})
	}

	return c.JSON(result)
}

// settleMatch resolves the outcome and persists choices, terminal status,
// stats and all ledger rows as one durable transaction. The in_progress →
// completed transition is a conditional update: exactly one of two racing
// submissions can win it, the loser gets ErrConcurrencyConflict.
func (s *MatchService) settleMatch(ctx context.Context, proj *cache.MatchProjection, choice1, choice2 string) (fiber.Map, error) {
	matchID := proj.MatchID

	winnerNum, resultType, err := DetermineWinner(choice1, choice2)
	if err != nil {
		return nil, err
	}

	var winnerUserID, winnerExternalID, winnerName *string
	switch winnerNum {
	case 1:
		winnerUserID = &proj.Player1ID
		winnerExternalID = &proj.Player1ExternalID
		winnerName = &proj.Player1Name
	case 2:
		winnerUserID = &proj.Player2ID
		winnerExternalID = &proj.Player2ExternalID
		winnerName = &proj.Player2Name
	}

	completedAt := time.Now().UTC()
	err = s.DB.Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Match{}).
			Where("id = ? AND status = ?", matchID, models.MatchStatusInProgress).
			Updates(map[string]any{
				"player1_choice": choice1,
				"player2_choice": choice2,
				"status":         models.MatchStatusCompleted,
				"winner_id":      winnerUserID,
				"completed_at":   completedAt,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrConcurrencyConflict
		}

		if err := s.applyStatsTx(tx, proj.Player1ID, proj.Player2ID, winnerNum); err != nil {
			return err
		}

		if proj.StakeAmount > 0 {
			if winnerNum == 0 {
				// draw: hand both escrowed stakes back
				for _, playerID := range []string{proj.Player1ID, proj.Player2ID} {
					if _, err := s.Txns.RefundStakeTx(tx, playerID, proj.StakeAmount, matchID, "Draw"); err != nil {
						return err
					}
				}
				return nil
			}
			winnerPayout, commission := CalculateStakeDistribution(proj.StakeAmount, s.Config.CommissionRate)
			loserID := proj.Player2ID
			if winnerNum == 2 {
				loserID = proj.Player1ID
			}
			return s.Txns.SettleMatchTx(tx, *winnerUserID, loserID, winnerPayout, commission, matchID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	resultMessage := ResultMessage(winnerNum, proj.Player1Name, proj.Player2Name, choice1, choice2, proj.Promise)

	result := fiber.Map{
		"match_id":       matchID,
		"status":         models.MatchStatusCompleted,
		"player1_choice": choice1,
		"player2_choice": choice2,
		"winner_id":      winnerExternalID,
		"winner_name":    winnerName,
		"result_type":    resultType,
		"result_message": resultMessage,
	}

	s.Events.Publish(matchID, EventMatchCompleted, map[string]any{
		"match_id":       matchID,
		"player1_choice": choice1,
		"player2_choice": choice2,
		"winner_id":      deref(winnerExternalID),
		"winner_name":    deref(winnerName),
		"result_type":    resultType,
		"result_message": resultMessage,
	})

	if err := s.Cache.Purge(ctx, matchID); err != nil {
		log.Printf("⚠️  Cache purge failed for match %s: %v", matchID, err)
	}

	return result, nil
}

// applyStatsTx bumps the aggregate counters for both players. Updates run in
// ascending user-id order, same as the ledger's row locks; settlements of two
// matches between the same pair in swapped roles must never lock X,Y vs Y,X.
func (s *MatchService) applyStatsTx(tx *gorm.DB, player1ID, player2ID string, winnerNum int) error {
	type delta struct {
		userID string
		column string
	}
	deltas := []delta{
		{player1ID, "draws"},
		{player2ID, "draws"},
	}
	switch winnerNum {
	case 1:
		deltas = []delta{{player1ID, "wins"}, {player2ID, "losses"}}
	case 2:
		deltas = []delta{{player1ID, "losses"}, {player2ID, "wins"}}
	}
	sort.Slice(deltas, func(i, j int) bool { return deltas[i].userID < deltas[j].userID })

	for _, d := range deltas {
		if err := tx.Model(&models.User{}).Where("id = ?", d.userID).
			Updates(map[string]any{
				"total_games": gorm.Expr("total_games + 1"),
				d.column:      gorm.Expr(d.column + " + 1"),
			}).Error; err != nil {
			return err
		}
	}
	return nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// GetMatchStatus reports match state, preferring the cache projection and
// falling back to the durable record — a completed or timed-out match must
// stay queryable after its cache entry expires. Both paths answer with the
// same field set; callers never see which store served them.
// GET /matches/:id/status
func (s *MatchService) GetMatchStatus(c *fiber.Ctx) error {
	matchID := c.Params("id")

	proj, err := s.Cache.GetProjection(c.Context(), matchID)
	if err == nil {
		// cache entries exist only for live matches, so no winner yet
		return c.JSON(fiber.Map{
			"match_id":     proj.MatchID,
			"status":       proj.Status,
			"stake_amount": proj.StakeAmount,
			"promise":      proj.Promise,
			"player1_name": proj.Player1Name,
			"player2_name": proj.Player2Name,
			"winner_id":    nil,
			"winner_name":  nil,
			"created_at":   proj.CreatedAt,
			"started_at":   proj.StartedAt,
			"completed":    false,
		})
	}
	if !errors.Is(err, cache.ErrMiss) {
		log.Printf("⚠️  Cache read failed for match %s, falling back to db: %v", matchID, err)
	}

	var match models.Match
	if err := s.DB.First(&match, "id = ?", matchID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return respondError(c, ErrNotFound)
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "database error"})
	}

	playerIDs := []string{match.Player1ID}
	if match.Player2ID != nil {
		playerIDs = append(playerIDs, *match.Player2ID)
	}
	var players []models.User
	if err := s.DB.Where("id IN ?", playerIDs).Find(&players).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "database error"})
	}
	byID := make(map[string]*models.User, len(players))
	for i := range players {
		byID[players[i].ID] = &players[i]
	}

	var player1Name, player2Name string
	var winnerExternalID, winnerName any
	if u := byID[match.Player1ID]; u != nil {
		player1Name = u.DisplayName()
	}
	if match.Player2ID != nil {
		if u := byID[*match.Player2ID]; u != nil {
			player2Name = u.DisplayName()
		}
	}
	if match.WinnerID != nil {
		if u := byID[*match.WinnerID]; u != nil {
			winnerExternalID = u.ExternalID
			winnerName = u.DisplayName()
		}
	}

	return c.JSON(fiber.Map{
		"match_id":     match.ID,
		"status":       match.Status,
		"stake_amount": match.StakeAmount,
		"promise":      match.Promise,
		"player1_name": player1Name,
		"player2_name": player2Name,
		"winner_id":    winnerExternalID,
		"winner_name":  winnerName,
		"created_at":   match.CreatedAt,
		"started_at":   match.StartedAt,
		"completed":    match.Status == models.MatchStatusCompleted,
	})
}
