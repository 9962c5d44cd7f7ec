package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"talon-console/config"
	"talon-console/core/utils"

	_ "modernc.org/sqlite"
)

// NewDB opens the configured database. SQLite backs the default single-node
// deployment; postgres is available for shared installs via TALON_DB_URL.
func NewDB(cfg *config.AppConfig, logger *utils.Logger) (*sql.DB, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.DBDriver))
	if driver == "" {
		if strings.TrimSpace(cfg.DBURL) != "" {
			driver = "postgres"
		} else {
			driver = "sqlite"
		}
	}
	switch driver {
	case "postgres", "pg":
		if strings.TrimSpace(cfg.DBURL) == "" {
			return nil, errors.New("TALON_DB_URL is required for postgres")
		}
		db, err := sql.Open(postgresDriverName, cfg.DBURL)
		if err != nil {
			if logger != nil {
				logger.Errorf("db open failed: %v", err)
			}
			return nil, err
		}
		if logger != nil {
			logger.Printf("db open postgres")
		}
		return db, nil
	case "sqlite":
		path := strings.TrimSpace(cfg.DBPath)
		if path == "" {
			return nil, errors.New("db_path is required for sqlite")
		}
		db, err := sql.Open("sqlite", path)
		if err != nil {
			if logger != nil {
				logger.Errorf("db open failed: %v", err)
			}
			return nil, err
		}
		// modernc sqlite serializes writes; one connection avoids
		// SQLITE_BUSY churn under concurrent handlers.
		db.SetMaxOpenConns(1)
		if logger != nil {
			logger.Printf("db open sqlite at %s", path)
		}
		return db, nil
	default:
		return nil, errors.New("unsupported db driver: " + driver)
	}
}

// Migrate applies pending schema migrations for the configured engine.
func Migrate(ctx context.Context, db *sql.DB, cfg *config.AppConfig, logger *utils.Logger) error {
	return applyGooseMigrations(ctx, db, dialectFor(cfg), logger)
}

func dialectFor(cfg *config.AppConfig) string {
	driver := strings.ToLower(strings.TrimSpace(cfg.DBDriver))
	if driver == "" && strings.TrimSpace(cfg.DBURL) != "" {
		driver = "postgres"
	}
	if driver == "postgres" || driver == "pg" {
		return "postgres"
	}
	return "sqlite3"
}
