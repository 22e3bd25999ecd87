package services

import (
	"errors"

	"github.com/gofiber/fiber/v2"
)

// Core error taxonomy. Handlers translate these to HTTP statuses; callers
// inside the module dispatch with errors.Is.
var (
	ErrNotFound               = errors.New("match not found or expired")
	ErrInvalidChoice          = errors.New("invalid choice")
	ErrMatchNotAvailable      = errors.New("match is not available")
	ErrSelfJoin               = errors.New("cannot play against yourself")
	ErrNotParticipant         = errors.New("you are not a participant in this match")
	ErrChoiceAlreadySubmitted = errors.New("choice already made")
	ErrInsufficientBalance    = errors.New("insufficient balance")
	ErrConcurrencyConflict    = errors.New("lost a concurrent update race")
)

// httpStatusFor maps a taxonomy error to its HTTP status.
func httpStatusFor(err error) int {
	switch {
	case errors.Is(err, ErrNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, ErrNotParticipant):
		return fiber.StatusForbidden
	case errors.Is(err, ErrConcurrencyConflict):
		return fiber.StatusConflict
	case errors.Is(err, ErrInvalidChoice),
		errors.Is(err, ErrMatchNotAvailable),
		errors.Is(err, ErrSelfJoin),
		errors.Is(err, ErrChoiceAlreadySubmitted),
		errors.Is(err, ErrInsufficientBalance):
		return fiber.StatusBadRequest
	}
	return fiber.StatusInternalServerError
}

// respondError writes the standard JSON error shape for a taxonomy error.
func respondError(c *fiber.Ctx, err error) error {
	return c.Status(httpStatusFor(err)).JSON(fiber.Map{"error": err.Error()})
}
