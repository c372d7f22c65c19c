package database

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"immotech/server/internal/models"
)

// Database is the SQLite-backed store.
type Database struct {
	db     *gorm.DB
	logger *logrus.Logger
}

// NewDatabase opens (or creates) the SQLite database at dbPath.
func NewDatabase(dbPath string, logger *logrus.Logger) (*Database, error) {
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
		logger.SetOutput(os.Stdout)
	}

	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: gormlogger.New(logger, gormlogger.Config{
			SlowThreshold:             500 * time.Millisecond,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
		}),
		NowFunc:        func() time.Time { return time.Now().UTC() },
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite allows a single writer; serialise access instead of failing with "database is locked".
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database handle: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	// Enable foreign keys
	if err := db.Exec("PRAGMA foreign_keys = ON").Error; err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	return &Database{db: db, logger: logger}, nil
}

// NewTestDB returns a migrated, private in-memory database.
func NewTestDB() (*Database, error) {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	d, err := NewDatabase(fmt.Sprintf("file:%s?mode=memory&cache=shared", models.NewID()), logger)
	if err != nil {
		return nil, err
	}
	if err := d.RunMigrations(); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *Database) GetDB() *gorm.DB {
	return d.db
}

func (d *Database) Close() error {
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// backendErr tags a driver failure so callers can tell it apart from missing data.
func backendErr(op string, err error) error {
	return fmt.Errorf("failed to %s: %w: %w", op, models.ErrBackend, err)
}

// lookupErr maps gorm's not-found error onto models.ErrNotFound.
func lookupErr(op string, err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%s: %w", op, models.ErrNotFound)
	}
	return backendErr(op, err)
}
