package database

import (
	"fmt"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/letters/backend/internal/letters"
	"github.com/MarcoPoloResearchLab/letters/backend/internal/users"
	sqlite "github.com/glebarez/sqlite"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

const (
	DialectSQLite   = "sqlite"
	DialectPostgres = "postgres"
)

// Dialect reports which driver serves the DSN. postgres:// and postgresql://
// URLs select PostgreSQL; anything else is a SQLite path.
func Dialect(dsn string) string {
	lowered := strings.ToLower(strings.TrimSpace(dsn))
	if strings.HasPrefix(lowered, "postgres://") || strings.HasPrefix(lowered, "postgresql://") {
		return DialectPostgres
	}
	return DialectSQLite
}

// Open connects to the configured database, migrates the schema and drops
// expired login sessions.
func Open(dsn string, logger *zap.Logger) (*gorm.DB, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("database dsn is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	dialect := Dialect(dsn)
	var dialector gorm.Dialector
	switch dialect {
	case DialectPostgres:
		dialector = postgres.New(postgres.Config{DriverName: "postgres", DSN: dsn})
	default:
		dialector = sqlite.Open(dsn)
	}

	db, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		return nil, err
	}

	if dialect == DialectSQLite {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}

	if err := Migrate(db, logger); err != nil {
		return nil, err
	}

	purged, err := PurgeExpiredSessions(db, time.Now())
	if err != nil {
		logger.Warn("expired session purge failed", zap.Error(err))
	} else if purged > 0 {
		logger.Info("expired sessions purged", zap.Int64("count", purged))
	}

	logger.Info("database initialized", zap.String("dialect", dialect))
	return db, nil
}

// Migrate creates or updates the schema and applies pending data migrations.
func Migrate(db *gorm.DB, logger *zap.Logger) error {
	if err := db.AutoMigrate(&letters.Letter{}, &users.Profile{}, &users.Session{}, &migrationRecord{}); err != nil {
		return err
	}
	return applyMigrations(db, logger)
}

// PurgeExpiredSessions deletes sessions that expired before now.
func PurgeExpiredSessions(db *gorm.DB, now time.Time) (int64, error) {
	result := db.Where("expires_at <= ?", now.UTC()).Delete(&users.Session{})
	return result.RowsAffected, result.Error
}
