package ledger

import (
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/Skeyelab/annualreview.com/app/models"
)

// Repository provides the DB operations used by the ledger service.
type Repository interface {
	AwardOnce(event *models.CreditEvent) (bool, error)
	Balance(userID uint) (uint, error)
	DecrementIfPositive(userID uint) (bool, error)
	Reset() error
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a ledger repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

// AwardOnce inserts the credit event and increments the owner's balance in
// one transaction. The insert uses ON CONFLICT DO NOTHING on the payment
// reference: a zero RowsAffected means the event was already processed and
// the balance must not be touched again. Returns whether this call was the
// first for the reference.
func (r *gormRepository) AwardOnce(event *models.CreditEvent) (bool, error) {
	created := false
	err := r.db.Transaction(func(tx *gorm.DB) error {
		res := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "payment_ref"}},
			DoNothing: true,
		}).Create(event)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		created = true

		account := &models.CreditAccount{UserID: event.UserID, Remaining: event.Credits}
		return tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"remaining": gorm.Expr("remaining + ?", event.Credits),
			}),
		}).Create(account).Error
	})
	if err != nil {
		return false, err
	}
	return created, nil
}

func (r *gormRepository) Balance(userID uint) (uint, error) {
	var account models.CreditAccount
	err := r.db.Where("user_id = ?", userID).First(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return account.Remaining, nil
}

// DecrementIfPositive performs the conditional read-modify-write as a single
// UPDATE guarded by remaining > 0. Two concurrent calls on a balance of 1
// can never both see RowsAffected > 0.
func (r *gormRepository) DecrementIfPositive(userID uint) (bool, error) {
	res := r.db.Model(&models.CreditAccount{}).
		Where("user_id = ? AND remaining > 0", userID).
		UpdateColumn("remaining", gorm.Expr("remaining - 1"))
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// Reset clears all ledger rows. Test isolation only.
func (r *gormRepository) Reset() error {
	if err := r.db.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&models.CreditEvent{}).Error; err != nil {
		return err
	}
	return r.db.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&models.CreditAccount{}).Error
}
