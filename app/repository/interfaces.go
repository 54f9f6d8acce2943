package repository

import (
	"gorm.io/gorm"

	"github.com/Skeyelab/annualreview.com/app/models"
)

// UserRepository defines the database operations for users and their linked
// OAuth provider accounts.
type UserRepository interface {
	Create(user *models.User) error
	GetByID(id uint) (*models.User, error)
	GetByEmail(email string) (*models.User, error)
	GetProviderAccount(provider, providerUserID string) (*models.ProviderAccount, error)
	SaveProviderAccount(pa *models.ProviderAccount) error
	TouchLastLogin(userID uint) error
}

// Repositories holds all repository instances
type Repositories struct {
	User UserRepository
}

// NewRepositories creates all repositories with the given database connection
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		User: NewUserRepository(db),
	}
}
