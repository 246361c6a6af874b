package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/boardforge/api/pkg/response"
)

// Identity headers injected by the edge gateway after ForwardAuth. The
// gateway strips any client-supplied X-User-* headers, so their presence
// here means the request was authenticated upstream.
const (
	HeaderUserID    = "X-User-Id"
	HeaderUserEmail = "X-User-Email"
	HeaderUserName  = "X-User-Name"
)

// GatewayAuthMiddleware trusts the gateway's identity headers and exposes
// them as context locals. The user id becomes the owner tag on generated
// packs; pack deletion and rate limiting key off it.
func GatewayAuthMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID := strings.TrimSpace(c.Get(HeaderUserID))
		if userID == "" {
			return response.Unauthorized(c, "Missing user identity headers")
		}

		c.Locals("userId", userID)
		c.Locals("email", c.Get(HeaderUserEmail))
		c.Locals("name", c.Get(HeaderUserName))

		return c.Next()
	}
}
