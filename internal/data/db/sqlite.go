package db

import (
	"fmt"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/yungbote/arbor-backend/internal/platform/logger"
	"github.com/yungbote/arbor-backend/internal/utils"
)

// SQLiteService is the local/dev storage backend. The schema and every raw
// query in the repos stay portable between it and postgres.
type SQLiteService struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewSQLiteService(logg *logger.Logger) (*SQLiteService, error) {
	serviceLog := logg.With("service", "SQLiteService")

	path := utils.GetEnv("SQLITE_PATH", "arbor.db", logg)

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
		Logger:                                   newGormLogger(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite at %s: %w", path, err)
	}

	// Single writer at a time; readers should wait instead of failing fast.
	if err := db.Exec(`PRAGMA busy_timeout = 5000;`).Error; err != nil {
		return nil, fmt.Errorf("set busy_timeout: %w", err)
	}

	return &SQLiteService{db: db, log: serviceLog}, nil
}

func (s *SQLiteService) DB() *gorm.DB { return s.db }

func (s *SQLiteService) AutoMigrateAll() error {
	s.log.Info("Auto migrating sqlite tables...")
	if err := AutoMigrateAll(s.db); err != nil {
		s.log.Error("Auto migration failed", "error", err)
		return err
	}
	if err := EnsureTreeIndexes(s.db); err != nil {
		s.log.Error("Tree index migration failed", "error", err)
		return err
	}
	return nil
}
