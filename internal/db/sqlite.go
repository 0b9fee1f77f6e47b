package db

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/glebarez/sqlite"
	"github.com/pysugar/filedesk/internal/db/models"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// APIKeyConfigKey names the Setting row holding the admin API key.
const APIKeyConfigKey = "admin_api_key"

// InitDB opens the SQLite database at dbPath and runs migrations.
func InitDB(dbPath string, logLevel string) (*gorm.DB, error) {
	if dir := filepath.Dir(dbPath); dir != "." && dir != "/" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	dsn := dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
	database, err := open(dsn, parseLogLevel(logLevel))
	if err != nil {
		return nil, err
	}

	ensureAPIKey(database)
	log.Printf("📦 Database ready: %s", dbPath)
	return database, nil
}

// OpenMemory opens a private in-memory database, used by tests and dry runs.
func OpenMemory(name string) (*gorm.DB, error) {
	return open(fmt.Sprintf("file:%s?mode=memory&cache=shared&_pragma=busy_timeout(5000)", name), logger.Silent)
}

func open(dsn string, level logger.LogLevel) (*gorm.DB, error) {
	database, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(level),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite allows a single writer; one connection keeps transactions from
	// tripping over each other with SQLITE_BUSY.
	sqlDB, err := database.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	if err := database.AutoMigrate(&models.Account{}, &models.File{}, &models.Setting{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return database, nil
}

func parseLogLevel(level string) logger.LogLevel {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "info":
		return logger.Info
	case "warn", "warning":
		return logger.Warn
	case "error":
		return logger.Error
	default:
		return logger.Silent
	}
}

// ensureAPIKey generates the admin API key on first run.
func ensureAPIKey(database *gorm.DB) {
	var setting models.Setting
	if err := database.Where("key = ?", APIKeyConfigKey).First(&setting).Error; err == nil {
		return
	}
	apiKey := newAPIKey()
	database.Create(&models.Setting{Key: APIKeyConfigKey, Value: apiKey})
	log.Printf("🔑 Generated admin API key: %s", apiKey)
}

// GetAPIKey retrieves the admin API key; empty when none is stored.
func GetAPIKey(database *gorm.DB) string {
	var setting models.Setting
	database.Where("key = ?", APIKeyConfigKey).First(&setting)
	return setting.Value
}

// RegenerateAPIKey replaces the admin API key and returns the new value.
func RegenerateAPIKey(database *gorm.DB) string {
	apiKey := newAPIKey()
	database.Where(models.Setting{Key: APIKeyConfigKey}).
		Assign(models.Setting{Value: apiKey}).
		FirstOrCreate(&models.Setting{})
	log.Printf("🔑 Regenerated admin API key")
	return apiKey
}

func newAPIKey() string {
	keyBytes := make([]byte, 16)
	rand.Read(keyBytes)
	return "fd-" + hex.EncodeToString(keyBytes)
}
