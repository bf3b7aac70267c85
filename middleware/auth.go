// middleware/auth.go
package middleware

import (
	"log"
	"strings"

	"github.com/gofiber/fiber/v2"
)

// UserContextMiddleware extracts the user identity and roles set by Gateway.
// The core treats X-User-ID as opaque and already authenticated; binding it
// to a real principal is the Gateway's job, not ours.
func UserContextMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID := c.Get("X-User-ID")
		rolesStr := c.Get("X-User-Roles")

		// Enforce user context on secured paths (/s/ and /s/admin/)
		path := c.Path()
		isSecured := strings.HasPrefix(path, "/s/")
		if isSecured && userID == "" {
			log.Printf("❌ [USER_CTX] X-User-ID required but missing on secured route: %s", path)
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "missing X-User-ID — request must come through gateway with auth context",
			})
		}

		var roles []string
		if rolesStr != "" {
			for _, r := range strings.Split(rolesStr, ",") {
				r = strings.TrimSpace(r)
				if r != "" {
					roles = append(roles, r)
				}
			}
		}

		// Attach to ctx for handlers
		c.Locals("user_id", userID)
		c.Locals("user_roles", roles)

		return c.Next()
	}
}

// RequireRole guards admin routes: the Gateway must have forwarded the role
// in X-User-Roles.
func RequireRole(role string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		roles, _ := c.Locals("user_roles").([]string)
		for _, r := range roles {
			if r == role {
				return c.Next()
			}
		}
		log.Printf("🚫 [USER_CTX] Missing role %q for %s", role, c.Path())
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"error": "insufficient role for this operation",
		})
	}
}
