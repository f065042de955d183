package testutil

import (
	"os"
	"sync"
	"testing"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	"github.com/yungbote/arbor-backend/internal/data/db"
	"github.com/yungbote/arbor-backend/internal/platform/logger"
)

var (
	dbOnce sync.Once
	dbConn *gorm.DB
	dbErr  error

	logOnce sync.Once
	logg    *logger.Logger
	logErr  error
)

func Logger(tb testing.TB) *logger.Logger {
	tb.Helper()
	logOnce.Do(func() {
		logg, logErr = logger.New("test")
	})
	if logErr != nil {
		tb.Fatalf("failed to init logger: %v", logErr)
	}
	return logg
}

// DB returns the shared test database. TEST_POSTGRES_DSN selects a real
// postgres; without it the suite runs on a shared in-memory sqlite, which
// every repo query supports by construction.
func DB(tb testing.TB) *gorm.DB {
	tb.Helper()

	dbOnce.Do(func() {
		cfg := &gorm.Config{
			DisableForeignKeyConstraintWhenMigrating: true,
			Logger:                                   gormLogger.Default.LogMode(gormLogger.Silent),
		}

		dsn := os.Getenv("TEST_POSTGRES_DSN")
		if dsn != "" {
			dbConn, dbErr = gorm.Open(postgres.Open(dsn), cfg)
		} else {
			dbConn, dbErr = gorm.Open(sqlite.Open("file::memory:?cache=shared"), cfg)
		}
		if dbErr != nil {
			return
		}

		if dsn == "" {
			// The shared cache evaporates when the last connection closes;
			// pin one for the life of the test binary.
			sqlDB, err := dbConn.DB()
			if err != nil {
				dbErr = err
				return
			}
			sqlDB.SetMaxIdleConns(1)
		}

		if err := db.AutoMigrateAll(dbConn); err != nil {
			dbErr = err
			return
		}
		if err := db.EnsureTreeIndexes(dbConn); err != nil {
			dbErr = err
			return
		}
	})

	if dbErr != nil {
		tb.Fatalf("failed to init test db: %v", dbErr)
	}
	return dbConn
}

func Tx(tb testing.TB, db *gorm.DB) *gorm.DB {
	tb.Helper()
	tx := db.Begin()
	if tx.Error != nil {
		tb.Fatalf("begin tx: %v", tx.Error)
	}
	tb.Cleanup(func() {
		_ = tx.Rollback().Error
	})
	return tx
}
