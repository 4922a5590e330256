package database

import (
	"fmt"
	"strings"

	"github.com/Hakan2211/course-platform/internal/notes"
	"github.com/Hakan2211/course-platform/internal/progress"
	"github.com/Hakan2211/course-platform/internal/users"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const (
	// DriverSQLite selects the embedded pure-Go SQLite database.
	DriverSQLite = "sqlite"
	// DriverPostgres selects a hosted Postgres database.
	DriverPostgres = "postgres"
)

// OpenConfig selects the backing database.
type OpenConfig struct {
	Driver string
	Path   string
	DSN    string
	Logger *zap.Logger
}

// Open establishes a connection for the configured driver and performs schema migrations.
func Open(cfg OpenConfig) (*gorm.DB, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	dialector, target, err := dialectorFor(cfg)
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(dialector, &gorm.Config{Logger: gormlogger.Discard})
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", cfg.Driver, err)
	}

	if strings.EqualFold(cfg.Driver, DriverSQLite) {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}

	if err := db.AutoMigrate(&users.User{}, &notes.Note{}, &progress.LessonProgress{}, &migrationRecord{}); err != nil {
		return nil, fmt.Errorf("auto migrate: %w", err)
	}

	if err := applyMigrations(db, logger); err != nil {
		return nil, fmt.Errorf("apply migrations: %w", err)
	}

	logger.Info("database initialized", zap.String("driver", cfg.Driver), zap.String("target", target))
	return db, nil
}

func dialectorFor(cfg OpenConfig) (gorm.Dialector, string, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case DriverSQLite:
		if strings.TrimSpace(cfg.Path) == "" {
			return nil, "", fmt.Errorf("database path is required")
		}
		return sqlite.Open(cfg.Path), cfg.Path, nil
	case DriverPostgres:
		if strings.TrimSpace(cfg.DSN) == "" {
			return nil, "", fmt.Errorf("database dsn is required")
		}
		return postgres.Open(cfg.DSN), "postgres", nil
	default:
		return nil, "", fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}
