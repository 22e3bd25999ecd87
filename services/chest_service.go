package services

import (
	"errors"
	"fmt"
	"log"
	"math/rand"

	"rps-arena-system/models"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ChestReward is one rolled prize.
type ChestReward struct {
	Stars  int64  `json:"stars"`
	Rarity string `json:"rarity"`
	Label  string `json:"label"`
}

// RewardTable decides what falls out of a chest. The drop configuration is a
// collaborator concern; the service only moves the money.
type RewardTable interface {
	Roll(chest *models.Chest) []ChestReward
}

type ChestService struct {
	DB      *gorm.DB
	Txns    *TransactionService
	Users   *UserService
	Rewards RewardTable
}

func NewChestService(db *gorm.DB, txns *TransactionService, users *UserService, rewards RewardTable) *ChestService {
	if rewards == nil {
		rewards = defaultRewardTable{}
	}
	return &ChestService{DB: db, Txns: txns, Users: users, Rewards: rewards}
}

// defaultRewardTable rolls a star amount within the chest's bounds and tags
// it with a rarity by how close to the ceiling the roll landed.
type defaultRewardTable struct{}

func (defaultRewardTable) Roll(chest *models.Chest) []ChestReward {
	span := chest.MaxStars - chest.MinStars
	stars := chest.MinStars
	if span > 0 {
		stars += rand.Int63n(span + 1)
	}

	rarity := models.RarityCommon
	if span > 0 {
		switch ratio := float64(stars-chest.MinStars) / float64(span); {
		case ratio > 0.98:
			rarity = models.RarityLegendary
		case ratio > 0.90:
			rarity = models.RarityEpic
		case ratio > 0.70:
			rarity = models.RarityRare
		}
	}

	return []ChestReward{{
		Stars:  stars,
		Rarity: rarity,
		Label:  fmt.Sprintf("%d ⭐", stars),
	}}
}

// ListChests returns the active chest catalog.
// GET /chests
func (s *ChestService) ListChests(c *fiber.Ctx) error {
	var chests []models.Chest
	if err := s.DB.Where("is_active = ?", true).Order("price_stars").Find(&chests).Error; err != nil {
		log.Printf("DB Error listing chests: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "database error"})
	}
	return c.JSON(chests)
}

// OpenChest buys a chest and rolls its rewards. The purchase debit and every
// reward credit land in one ledger transaction, so a failed roll cannot eat
// the purchase price.
// POST /chests/:id/open
func (s *ChestService) OpenChest(c *fiber.Ctx) error {
	externalID := requesterID(c)
	if externalID == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "missing user identity"})
	}
	chestID := c.Params("id")

	var chest models.Chest
	if err := s.DB.First(&chest, "id = ? AND is_active = ?", chestID, true).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "chest not found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "database error"})
	}

	user, err := s.Users.GetOrCreateUser(externalID, "", "")
	if err != nil {
		log.Printf("DB Error resolving user %s: %v", externalID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "database error"})
	}

	rewards := s.Rewards.Roll(&chest)

	err = s.DB.Transaction(func(tx *gorm.DB) error {
		locked, err := s.Txns.lockUsersTx(tx, user.ID)
		if err != nil {
			return err
		}
		account := locked[user.ID]

		_, err = s.Txns.CreateTransaction(tx, account, models.TransactionTypeChestBuy,
			-chest.PriceStars, nil, 0, fmt.Sprintf("Opened chest: %s", chest.Name))
		if err != nil {
			return err
		}

		for _, reward := range rewards {
			if reward.Stars <= 0 {
				continue
			}
			_, err = s.Txns.CreateTransaction(tx, account, models.TransactionTypeChestReward,
				reward.Stars, nil, 0, fmt.Sprintf("Chest reward: %s", reward.Label))
			if err != nil {
				return err
			}
		}
		user.StarsBalance = account.StarsBalance
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrInsufficientBalance) {
			return respondError(c, err)
		}
		log.Printf("DB Error opening chest %s: %v", chestID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to open chest"})
	}

	return c.JSON(fiber.Map{
		"chest":         fiber.Map{"id": chest.ID, "name": chest.Name},
		"rewards":       rewards,
		"stars_balance": user.StarsBalance,
	})
}

// EnsureDefaultChests seeds the starter catalog on first boot.
func (s *ChestService) EnsureDefaultChests() error {
	var count int64
	if err := s.DB.Model(&models.Chest{}).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	defaults := []models.Chest{
		{ID: uuid.NewString(), Name: "Wooden Chest", Description: "A modest pile of stars", PriceStars: 50, MinStars: 10, MaxStars: 100},
		{ID: uuid.NewString(), Name: "Silver Chest", Description: "Better odds, better stars", PriceStars: 200, MinStars: 50, MaxStars: 400},
		{ID: uuid.NewString(), Name: "Golden Chest", Description: "For the high rollers", PriceStars: 500, MinStars: 100, MaxStars: 1200},
	}
	for i := range defaults {
		defaults[i].IsActive = true
		if err := s.DB.Create(&defaults[i]).Error; err != nil {
			return err
		}
	}
	log.Println("✅ Default chest catalog seeded")
	return nil
}
