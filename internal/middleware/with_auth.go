package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/noah-isme/readmaster-api/internal/utils"
)

// Role groups accepted by WithAuth.
const (
	AuthRoleAny     = "any"
	AuthRoleStaff   = "staff"
	AuthRoleStudent = "student"
)

var authRoleGroups = map[string][]string{
	AuthRoleStaff:   {"teacher", "admin"},
	AuthRoleStudent: {"student"},
}

// AuthOptions configures the WithAuth helper.
type AuthOptions struct {
	Role        string
	RequireUser bool
}

// WithAuth guards handler behind an authenticated caller and, unless Role is
// AuthRoleAny, a matching role group. A named role outside the groups must
// match exactly. Any role other than AuthRoleAny implies RequireUser.
func WithAuth(handler fiber.Handler, opts AuthOptions) fiber.Handler {
	group := normalizeRoleString(opts.Role)
	if group == "" {
		group = AuthRoleAny
	}
	requireUser := opts.RequireUser || group != AuthRoleAny

	accepted := map[string]struct{}{}
	if members, ok := authRoleGroups[group]; ok {
		for _, member := range members {
			accepted[member] = struct{}{}
		}
	} else {
		accepted[group] = struct{}{}
	}

	return func(c *fiber.Ctx) error {
		userID, _ := c.Locals("user_id").(string)
		if requireUser && strings.TrimSpace(userID) == "" {
			return utils.SendError(c, fiber.StatusUnauthorized, "authentication required")
		}
		if group == AuthRoleAny {
			return handler(c)
		}

		role, _ := c.Locals("user_role").(string)
		if _, ok := accepted[normalizeRoleString(role)]; !ok {
			return utils.SendError(c, fiber.StatusForbidden, "insufficient permissions")
		}
		return handler(c)
	}
}
