package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/Skeyelab/annualreview.com/internal/pkg/session"
	"github.com/Skeyelab/annualreview.com/internal/pkg/usercontext"
)

// UserContextMiddleware resolves the session principal for every request and
// stores it in Locals so controllers never touch the session store directly.
func UserContextMiddleware(c *fiber.Ctx) error {
	// Goth keeps its own fiber session store for OAuth state; skip the app
	// session on /auth/* to prevent cross-store collisions.
	if strings.HasPrefix(c.Path(), "/auth/") {
		return c.Next()
	}

	anonymous := usercontext.UserContext{IsLoggedIn: false, IsAdmin: false}

	sess, err := session.GetSessionStore().Get(c)
	if err != nil {
		c.Locals(usercontext.ContextKey, anonymous)
		return c.Next()
	}

	userID, ok := sess.Get(usercontext.KeyUserID).(uint)
	if !ok || userID == 0 {
		c.Locals(usercontext.ContextKey, anonymous)
		return c.Next()
	}

	username, _ := sess.Get(usercontext.KeyUsername).(string)
	isAdmin, _ := sess.Get(usercontext.KeyIsAdmin).(bool)

	c.Locals(usercontext.ContextKey, usercontext.UserContext{
		UserID:     userID,
		Username:   username,
		IsLoggedIn: true,
		IsAdmin:    isAdmin,
	})
	return c.Next()
}
