package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/noah-isme/readmaster-api/internal/utils"
)

// RequireRole rejects requests whose token role is outside the allowed set.
// Roles compare case-insensitively; an empty role never matches.
func RequireRole(roles ...string) fiber.Handler {
	allowed := make(map[string]struct{}, len(roles))
	for _, role := range roles {
		if normalized := normalizeRoleString(role); normalized != "" {
			allowed[normalized] = struct{}{}
		}
	}

	return func(c *fiber.Ctx) error {
		role, _ := c.Locals("user_role").(string)
		if _, ok := allowed[normalizeRoleString(role)]; !ok {
			return utils.SendErrorCode(c, fiber.StatusForbidden, utils.CodeForbidden, "role not permitted")
		}
		return c.Next()
	}
}

func normalizeRoleString(role string) string {
	return strings.ToLower(strings.TrimSpace(role))
}
