package database

import (
	"fmt"
	"log"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/Skeyelab/annualreview.com/app/models"
	"github.com/Skeyelab/annualreview.com/internal/pkg/env"
)

const maxRetries = 5
const retryDelay = 5 * time.Second

// Connect opens the MySQL connection and runs auto-migration. The returned
// handle is owned by the caller: it is wired into the services at startup
// and released with Close at shutdown. There is no package-level singleton.
func Connect() (*gorm.DB, error) {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		env.GetEnv("DB_USER", ""),
		env.GetEnv("DB_PASSWORD", ""),
		env.GetEnv("DB_HOST", "127.0.0.1"),
		env.GetEnv("DB_PORT", "3306"),
		env.GetEnv("DB_NAME", ""),
	)

	var db *gorm.DB
	var err error
	for i := 0; i < maxRetries; i++ {
		db, err = gorm.Open(mysql.New(mysql.Config{
			DSN:                      dsn,
			DefaultStringSize:        256,
			DisableDatetimePrecision: true,
			DontSupportRenameIndex:   true,
			DontSupportRenameColumn:  true,
		}), &gorm.Config{
			// Duplicate-key violations surface as gorm.ErrDuplicatedKey so
			// controllers can map them to 409.
			TranslateError: true,
		})
		if err == nil {
			if merr := Migrate(db); merr != nil {
				return nil, merr
			}
			return db, nil
		}

		log.Printf("Failed to connect to database (try %d/%d): %v", i+1, maxRetries, err)
		if i < maxRetries-1 {
			time.Sleep(retryDelay)
		}
	}

	return nil, err
}

// Migrate applies the GORM auto-migrations for all application models.
// cmd/migrate carries the versioned SQL migrations for production rollouts;
// auto-migration keeps dev and test databases in sync.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.User{},
		&models.ProviderAccount{},
		&models.CreditAccount{},
		&models.CreditEvent{},
	)
}

// Close releases the underlying connection pool.
func Close(db *gorm.DB) error {
	if db == nil {
		return nil
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
