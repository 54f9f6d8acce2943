package controllers

import (
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/markbates/goth"
	gothfiber "github.com/shareed2k/goth_fiber"

	"github.com/Skeyelab/annualreview.com/app/models"
	"github.com/Skeyelab/annualreview.com/app/repository"
	"github.com/google/uuid"
)

// OAuthController completes the GitHub OAuth flow and links provider
// identities to local users.
type OAuthController struct {
	users repository.UserRepository
}

func NewOAuthController(users repository.UserRepository) *OAuthController {
	return &OAuthController{users: users}
}

// HandleOAuthCallback finishes the provider handshake, finds or creates the
// local user and opens an app session.
func (oc *OAuthController) HandleOAuthCallback(c *fiber.Ctx) error {
	gothUser, err := gothfiber.CompleteUserAuth(c)
	if err != nil {
		log.Warnf("[OAuth] Callback failed: %v", err)
		return c.Redirect("/?login=failed")
	}

	user, err := oc.findOrCreateUser(gothUser)
	if err != nil {
		log.Errorf("[OAuth] Could not resolve user for %s/%s: %v", gothUser.Provider, gothUser.UserID, err)
		return c.Redirect("/?login=failed")
	}

	if err := createUserSession(c, user); err != nil {
		log.Errorf("[OAuth] Session creation failed for user %d: %v", user.ID, err)
		return c.Redirect("/?login=failed")
	}

	if err := oc.users.TouchLastLogin(user.ID); err != nil {
		log.Warnf("[OAuth] Could not update last login for user %d: %v", user.ID, err)
	}

	return c.Redirect("/")
}

func (oc *OAuthController) findOrCreateUser(gothUser goth.User) (*models.User, error) {
	// Existing provider link wins.
	if pa, err := oc.users.GetProviderAccount(gothUser.Provider, gothUser.UserID); err == nil {
		if user, err := oc.users.GetByID(pa.UserID); err == nil {
			return user, nil
		}
	}

	// Match on verified email next, so a local account gains the link.
	email := strings.TrimSpace(gothUser.Email)
	var user *models.User
	if email != "" {
		if existing, err := oc.users.GetByEmail(email); err == nil {
			user = existing
		}
	}

	if user == nil {
		name := gothUser.Name
		if name == "" {
			name = gothUser.NickName
		}
		if name == "" {
			name = fmt.Sprintf("%s-user-%s", gothUser.Provider, gothUser.UserID)
		}
		if email == "" {
			email = fmt.Sprintf("%s-%s@users.noreply.annualreview.com", gothUser.Provider, gothUser.UserID)
		}

		// OAuth-only accounts still get a password hash so the column's
		// validation holds; it is random and never usable for login.
		created, err := models.CreateUser(name, email, uuid.NewString())
		if err != nil {
			return nil, err
		}
		created.AvatarURL = gothUser.AvatarURL
		if err := oc.users.Create(created); err != nil {
			return nil, err
		}
		user = created
	}

	pa := &models.ProviderAccount{
		UserID:         user.ID,
		Provider:       gothUser.Provider,
		ProviderUserID: gothUser.UserID,
		AccessToken:    gothUser.AccessToken,
		RefreshToken:   gothUser.RefreshToken,
	}
	if !gothUser.ExpiresAt.IsZero() {
		expires := gothUser.ExpiresAt
		pa.ExpiresAt = &expires
	}
	if err := oc.users.SaveProviderAccount(pa); err != nil {
		return nil, err
	}

	return user, nil
}
