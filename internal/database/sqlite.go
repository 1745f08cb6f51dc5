package database

import (
	"errors"
	"fmt"
	"strings"

	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/MarcoPoloResearchLab/mediadiary/internal/documents"
)

var errMissingPath = errors.New("database path is required")

// diaryTables lists every model the document API persists.
var diaryTables = []any{
	&documents.Document{},
	&documents.DocumentChange{},
	&migrationRecord{},
}

// OpenSQLite opens the document database at path, creates the diary tables and
// runs pending data migrations. In-memory DSNs are passed through untouched.
func OpenSQLite(path string, logger *zap.Logger) (*gorm.DB, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errMissingPath
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	db, err := gorm.Open(sqlite.Open(sqliteDSN(path)), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", path, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// sqlite allows one writer; the documents service serializes through this connection.
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(diaryTables...); err != nil {
		return nil, fmt.Errorf("migrate diary schema: %w", err)
	}
	if err := applyMigrations(db, logger); err != nil {
		return nil, fmt.Errorf("apply data migrations: %w", err)
	}

	logger.Info("document database ready", zap.String("path", path))
	return db, nil
}

func sqliteDSN(path string) string {
	if strings.HasPrefix(path, "file:") || strings.Contains(path, ":memory:") {
		return path
	}
	return path + "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
}
