package ledger

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/Skeyelab/annualreview.com/app/models"
)

func newTestService(t *testing.T) *Service {
	t.Helper()

	dsn := "file:" + filepath.Join(t.TempDir(), "ledger.db") + "?_busy_timeout=5000"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	// SQLite allows a single writer; serialize at the pool so concurrent
	// test goroutines exercise the conditional SQL rather than driver busy
	// errors.
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(&models.CreditAccount{}, &models.CreditEvent{}))
	return NewServiceFromDB(db)
}

func TestAwardIsIdempotent(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.Award(ctx, 1, "cs_test_1", 5))
	require.NoError(t, svc.Award(ctx, 1, "cs_test_1", 5))

	balance, err := svc.Balance(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, uint(5), balance)
}

func TestAwardAccumulatesAcrossPurchases(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.Award(ctx, 1, "cs_test_1", 5))
	require.NoError(t, svc.Award(ctx, 1, "cs_test_2", 5))

	balance, err := svc.Balance(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, uint(10), balance)
}

func TestAwardDefaultsToBundleSize(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.Award(ctx, 1, "cs_test_1", 0))

	balance, err := svc.Balance(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, uint(DefaultBundleSize), balance)
}

func TestBalanceUnknownUserIsZero(t *testing.T) {
	svc := newTestService(t)

	balance, err := svc.Balance(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, uint(0), balance)
}

func TestDeductStopsAtZero(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.Award(ctx, 1, "cs_test_1", 2))

	for i := 0; i < 2; i++ {
		ok, err := svc.Deduct(ctx, 1)
		require.NoError(t, err)
		assert.True(t, ok)
	}

	ok, err := svc.Deduct(ctx, 1)
	require.NoError(t, err)
	assert.False(t, ok, "deduct on empty balance must fail, not go negative")

	balance, err := svc.Balance(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, uint(0), balance)
}

func TestDeductUnknownUser(t *testing.T) {
	svc := newTestService(t)

	ok, err := svc.Deduct(context.Background(), 99)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestConcurrentDeductExactlyOnce(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.Award(ctx, 1, "cs_test_1", 1))

	const attempts = 5
	results := make(chan bool, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := svc.Deduct(ctx, 1)
			assert.NoError(t, err)
			results <- ok
		}()
	}
	wg.Wait()
	close(results)

	successes := 0
	for ok := range results {
		if ok {
			successes++
		}
	}
	assert.Equal(t, 1, successes)

	balance, err := svc.Balance(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, uint(0), balance)
}

func TestConcurrentAwardSameReference(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	const attempts = 5
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, svc.Award(ctx, 1, "cs_test_1", 5))
		}()
	}
	wg.Wait()

	balance, err := svc.Balance(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, uint(5), balance, "racing awards for one reference must increment once")
}

func TestReset(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.Award(ctx, 1, "cs_test_1", 5))
	require.NoError(t, svc.Reset(ctx))

	balance, err := svc.Balance(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, uint(0), balance)

	// A reference seen before the reset may be replayed afterwards.
	require.NoError(t, svc.Award(ctx, 1, "cs_test_1", 5))
	balance, err = svc.Balance(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, uint(5), balance)
}
