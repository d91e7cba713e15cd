package handlers

import (
	"errors"

	"foodgram/domain"

	"github.com/gofiber/fiber/v2"
)

// errStatus maps domain errors onto HTTP statuses: missing entities and
// relations are 404, duplicate relations 409, permission failures 403,
// everything else is a plain validation 400.
func errStatus(err error) int {
	switch {
	case errors.Is(err, domain.ErrRecipeNotFound),
		errors.Is(err, domain.ErrUserNotFound),
		errors.Is(err, domain.ErrTagNotFound),
		errors.Is(err, domain.ErrIngredientNotFound),
		errors.Is(err, domain.ErrNotFavorited),
		errors.Is(err, domain.ErrNotInCart),
		errors.Is(err, domain.ErrNotSubscribed):
		return fiber.StatusNotFound
	case errors.Is(err, domain.ErrAlreadyFavorited),
		errors.Is(err, domain.ErrAlreadyInCart),
		errors.Is(err, domain.ErrAlreadySubscribed),
		errors.Is(err, domain.ErrEmailAlreadyUsed),
		errors.Is(err, domain.ErrUsernameAlreadyUsed):
		return fiber.StatusConflict
	case errors.Is(err, domain.ErrNotRecipeAuthor),
		errors.Is(err, domain.ErrUserNotAllowed):
		return fiber.StatusForbidden
	default:
		return fiber.StatusBadRequest
	}
}

// viewerID returns the authenticated caller, or "" on anonymous requests that
// passed through the optional auth middleware.
func viewerID(c *fiber.Ctx) string {
	if id, ok := c.Locals("user_id").(string); ok {
		return id
	}
	return ""
}
