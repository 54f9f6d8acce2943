package controllers

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/Skeyelab/annualreview.com/app/models"
	"github.com/Skeyelab/annualreview.com/app/repository"
	"github.com/Skeyelab/annualreview.com/internal/pkg/session"
	"github.com/Skeyelab/annualreview.com/internal/pkg/usercontext"
)

// AuthController handles local registration, login and logout.
type AuthController struct {
	users repository.UserRepository

	// sessions writes the principal after a successful auth; tests swap it
	// out so handlers run without the redis session store.
	sessions func(c *fiber.Ctx, user *models.User) error
}

func NewAuthController(users repository.UserRepository) *AuthController {
	return &AuthController{users: users, sessions: createUserSession}
}

type registerRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// HandleRegister creates a local account and logs it in.
func (ac *AuthController) HandleRegister(c *fiber.Ctx) error {
	var req registerRequest
	if err := c.BodyParser(&req); err != nil {
		return jsonError(c, fiber.StatusBadRequest, "invalid_payload", "request body must be a JSON object")
	}

	user, err := models.CreateUser(strings.TrimSpace(req.Username), strings.TrimSpace(req.Email), req.Password)
	if err != nil {
		return jsonError(c, fiber.StatusBadRequest, "invalid_user", err.Error())
	}

	if err := ac.users.Create(user); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return jsonError(c, fiber.StatusConflict, "email_taken", "an account with this email already exists")
		}
		log.Errorf("[Auth] Failed to create user %s: %v", user.Email, err)
		return jsonError(c, fiber.StatusInternalServerError, "registration_failed", "could not create account")
	}

	if err := ac.sessions(c, user); err != nil {
		log.Errorf("[Auth] Session creation failed for user %d: %v", user.ID, err)
		return jsonError(c, fiber.StatusInternalServerError, "session_failed", "could not create session")
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"id":       user.ID,
		"username": user.Name,
		"email":    user.Email,
	})
}

// HandleLogin authenticates against the local password hash.
func (ac *AuthController) HandleLogin(c *fiber.Ctx) error {
	var req loginRequest
	if err := c.BodyParser(&req); err != nil {
		return jsonError(c, fiber.StatusBadRequest, "invalid_payload", "request body must be a JSON object")
	}

	user, err := ac.users.GetByEmail(strings.TrimSpace(req.Email))
	if err != nil || !models.CheckPasswordHash(req.Password, user.Password) {
		return jsonError(c, fiber.StatusUnauthorized, "invalid_credentials", "email or password is incorrect")
	}
	if user.Status != models.STATUS_ACTIVE {
		return jsonError(c, fiber.StatusForbidden, "account_disabled", "this account is disabled")
	}

	if err := ac.sessions(c, user); err != nil {
		log.Errorf("[Auth] Session creation failed for user %d: %v", user.ID, err)
		return jsonError(c, fiber.StatusInternalServerError, "session_failed", "could not create session")
	}

	if err := ac.users.TouchLastLogin(user.ID); err != nil {
		log.Warnf("[Auth] Could not update last login for user %d: %v", user.ID, err)
	}

	return c.JSON(fiber.Map{
		"id":       user.ID,
		"username": user.Name,
		"email":    user.Email,
	})
}

// HandleLogout destroys the current session.
func (ac *AuthController) HandleLogout(c *fiber.Ctx) error {
	sess, err := session.GetSessionStore().Get(c)
	if err == nil {
		if err := sess.Destroy(); err != nil {
			log.Warnf("[Auth] Session destroy failed: %v", err)
		}
	}
	return c.JSON(fiber.Map{"status": "ok"})
}

// HandleMe returns the resolved principal of the current session.
func (ac *AuthController) HandleMe(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)

	user, err := ac.users.GetByID(userCtx.UserID)
	if err != nil {
		return jsonError(c, fiber.StatusNotFound, "not_found", "user not found")
	}

	return c.JSON(fiber.Map{
		"id":               user.ID,
		"username":         user.Name,
		"email":            user.Email,
		"avatar_url":       user.AvatarURL,
		"generation_count": user.GenerationCount,
	})
}

// createUserSession writes the principal into the app session store.
func createUserSession(c *fiber.Ctx, user *models.User) error {
	sess, err := session.GetSessionStore().Get(c)
	if err != nil {
		return err
	}

	sess.Set(usercontext.AuthKey, true)
	sess.Set(usercontext.KeyUserID, user.ID)
	sess.Set(usercontext.KeyUsername, user.Name)
	sess.Set(usercontext.KeyIsAdmin, user.Role == models.ROLE_ADMIN)

	return sess.Save()
}
