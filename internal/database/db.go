package database

import (
	"errors"
	"fmt"
	"log/slog"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// DB is the global database instance
var DB *gorm.DB

// Connect establishes a connection to the PostgreSQL database
func Connect(dsn string, logLevel logger.LogLevel) error {
	var err error

	DB, err = gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logLevel),
	})
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established", "driver", "postgres")
	return nil
}

// OpenSQLite opens a SQLite database file, used by the operator CLI against local snapshots
func OpenSQLite(path string, logLevel logger.LogLevel) error {
	var err error

	DB, err = gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logLevel),
	})
	if err != nil {
		return fmt.Errorf("failed to open sqlite database: %w", err)
	}

	// SQLite serialises writers; a single connection avoids SQLITE_BUSY inside merge transactions
	sqlDB, err := DB.DB()
	if err != nil {
		return fmt.Errorf("failed to get sqlite handle: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	slog.Info("database connection established", "driver", "sqlite", "path", path)
	return nil
}

// Models lists every table managed by AutoMigrate
func Models() []interface{} {
	return []interface{}{
		&Incident{},
		&MergeSuggestion{},
		&IncidentMerge{},
		&DedupJobSettings{},
	}
}

// AutoMigrate runs database migrations
func AutoMigrate() error {
	slog.Info("running database migrations")

	if err := DB.AutoMigrate(Models()...); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	slog.Info("database migrations completed")
	return nil
}

// InitializeDefaults creates default records if they don't exist
func InitializeDefaults() error {
	if _, err := GetOrCreateDedupJobSettings(DB); err != nil {
		return fmt.Errorf("failed to create default dedup job settings: %w", err)
	}
	return nil
}

// GetDB returns the database instance
func GetDB() *gorm.DB {
	return DB
}

// Close closes the database connection
func Close() error {
	sqlDB, err := DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// GetOrCreateDedupJobSettings retrieves or creates the job settings (singleton).
// Accepts a db parameter so callers can pass a transaction or a test database.
func GetOrCreateDedupJobSettings(db *gorm.DB) (*DedupJobSettings, error) {
	var settings DedupJobSettings
	result := db.First(&settings)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		settings = *NewDefaultDedupJobSettings()
		if err := db.Create(&settings).Error; err != nil {
			return nil, err
		}
	} else if result.Error != nil {
		return nil, result.Error
	}
	return &settings, nil
}

// UpdateDedupJobSettings saves the job settings.
func UpdateDedupJobSettings(db *gorm.DB, settings *DedupJobSettings) error {
	return db.Save(settings).Error
}
