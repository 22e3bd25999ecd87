package services

import (
	"errors"
	"log"
	"strconv"
	"time"

	"rps-arena-system/models"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type UserService struct {
	DB *gorm.DB
}

func NewUserService(db *gorm.DB) *UserService {
	return &UserService{DB: db}
}

// GetOrCreateUser resolves a gateway identity to a durable user row,
// creating it on first contact and refreshing display data on every call.
func (s *UserService) GetOrCreateUser(externalID, username, fullName string) (*models.User, error) {
	var user models.User
	err := s.DB.Where("external_id = ?", externalID).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		user = models.User{
			ID:         uuid.NewString(),
			ExternalID: externalID,
			Username:   username,
			FullName:   fullName,
			Status:     models.UserStatusActive,
			LastActive: time.Now().UTC(),
		}
		if err := s.DB.Create(&user).Error; err != nil {
			return nil, err
		}
		return &user, nil
	}
	if err != nil {
		return nil, err
	}

	updates := map[string]any{"last_active": time.Now().UTC()}
	if username != "" {
		updates["username"] = username
	}
	if fullName != "" {
		updates["full_name"] = fullName
	}
	if err := s.DB.Model(&user).Updates(updates).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

// EnsureSystemAccount creates the commission account if it is missing.
func (s *UserService) EnsureSystemAccount() error {
	var count int64
	if err := s.DB.Model(&models.User{}).
		Where("external_id = ?", models.SystemAccountExternalID).
		Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return nil
	}
	system := models.User{
		ID:         uuid.NewString(),
		ExternalID: models.SystemAccountExternalID,
		Username:   "system",
		FullName:   "Commission Account",
		Status:     models.UserStatusActive,
		LastActive: time.Now().UTC(),
	}
	if err := s.DB.Create(&system).Error; err != nil {
		return err
	}
	log.Println("✅ Commission account created")
	return nil
}

// GetUserInfo returns a player's profile, stats and balance.
// GET /users/:external_id
func (s *UserService) GetUserInfo(c *fiber.Ctx) error {
	externalID := c.Params("external_id")

	var user models.User
	if err := s.DB.Where("external_id = ?", externalID).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "user not found"})
		}
		log.Printf("DB Error fetching user %s: %v", externalID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "database error"})
	}

	return c.JSON(fiber.Map{
		"external_id":   user.ExternalID,
		"username":      user.Username,
		"full_name":     user.FullName,
		"total_games":   user.TotalGames,
		"wins":          user.Wins,
		"losses":        user.Losses,
		"draws":         user.Draws,
		"win_rate":      user.WinRate(),
		"stars_balance": user.StarsBalance,
		"created_at":    user.CreatedAt,
	})
}

// GetUserTransactions returns a player's ledger history, newest first.
// GET /users/:external_id/transactions?limit=50
func (s *UserService) GetUserTransactions(c *fiber.Ctx) error {
	externalID := c.Params("external_id")

	limit, err := strconv.Atoi(c.Query("limit", "50"))
	if err != nil || limit <= 0 || limit > 200 {
		limit = 50
	}

	var user models.User
	if err := s.DB.Where("external_id = ?", externalID).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "user not found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "database error"})
	}

	var transactions []models.Transaction
	if err := s.DB.Where("user_id = ?", user.ID).
		Order("created_at DESC").
		Limit(limit).
		Find(&transactions).Error; err != nil {
		log.Printf("DB Error fetching transactions for %s: %v", externalID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "database error"})
	}

	return c.JSON(fiber.Map{
		"external_id":  externalID,
		"transactions": transactions,
	})
}
