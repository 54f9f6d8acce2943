package repository

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/Skeyelab/annualreview.com/app/models"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:" + filepath.Join(t.TempDir(), "repo.db") + "?_busy_timeout=5000"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.User{}, &models.ProviderAccount{}))
	return db
}

func TestFactoryReturnsSingletonRepositories(t *testing.T) {
	factory := NewFactory(newTestDB(t))

	first := factory.GetRepositories()
	second := factory.GetRepositories()

	require.NotNil(t, first)
	assert.Same(t, first, second)
	assert.Same(t, first.User, factory.GetUserRepository())
}

func TestFactoryRepositoriesAreUsable(t *testing.T) {
	factory := NewFactory(newTestDB(t))
	users := factory.GetUserRepository()

	user, err := models.CreateUser("jordan", "jordan@example.com", "s3cret-pass")
	require.NoError(t, err)
	require.NoError(t, users.Create(user))

	got, err := users.GetByEmail("jordan@example.com")
	require.NoError(t, err)
	assert.Equal(t, user.ID, got.ID)
}
