package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/lib/pq"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type Config struct {
	Type string // sqlite, mysql or postgres
	DSN  string
}

// NewGormDB opens the configured database. gorm errors are translated so
// callers can match gorm.ErrDuplicatedKey.
func NewGormDB(cfg Config) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.Type {
	case "mysql":
		if cfg.DSN == "" {
			return nil, errors.New("mysql requires a DSN")
		}
		dialector = mysql.Open(cfg.DSN)
	case "postgres":
		if cfg.DSN == "" {
			return nil, errors.New("postgres requires a DSN")
		}
		dialector = postgres.New(postgres.Config{
			DriverName: "postgres",
			DSN:        cfg.DSN,
		})
	case "sqlite", "":
		dsn := cfg.DSN
		if dsn == "" {
			dsn = "cardflow.db"
		}
		if dir := filepath.Dir(dsn); dir != "." && !isMemoryDSN(dsn) {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database type: %s", cfg.Type)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         NewSlogLogger(200 * time.Millisecond),
		TranslateError: true,
		NowFunc:        func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if cfg.Type == "sqlite" || cfg.Type == "" {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("failed to get sql.DB: %w", err)
		}
		// sqlite allows one writer; a single connection turns lock
		// contention into queueing.
		sqlDB.SetMaxOpenConns(1)
	}
	slog.Info("database connection established", "type", cfg.Type)
	return db, nil
}

// NewMemoryDB opens a private in-memory sqlite database named name.
func NewMemoryDB(name string) (*gorm.DB, error) {
	return NewGormDB(Config{
		Type: "sqlite",
		DSN:  fmt.Sprintf("file:%s?mode=memory&cache=shared", name),
	})
}

func isMemoryDSN(dsn string) bool {
	return dsn == ":memory:" || strings.HasPrefix(dsn, "file:")
}

// AutoMigrate performs auto-migration for the given models.
func AutoMigrate(db *gorm.DB, models ...any) error {
	if err := db.AutoMigrate(models...); err != nil {
		return fmt.Errorf("failed to auto-migrate database: %w", err)
	}
	return nil
}

// Ping checks the underlying connection. It backs the health endpoints.
func Ping(ctx context.Context, db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// SlogLogger forwards gorm's logging to slog. Queries are logged at debug,
// slow queries at warn and failures at error.
type SlogLogger struct {
	slowThreshold time.Duration
	level         logger.LogLevel
}

func NewSlogLogger(slowThreshold time.Duration) *SlogLogger {
	return &SlogLogger{slowThreshold: slowThreshold, level: logger.Info}
}

func (l *SlogLogger) LogMode(level logger.LogLevel) logger.Interface {
	nl := *l
	nl.level = level
	return &nl
}

func (l *SlogLogger) Info(ctx context.Context, msg string, args ...any) {
	if l.level >= logger.Info {
		slog.InfoContext(ctx, fmt.Sprintf(msg, args...))
	}
}

func (l *SlogLogger) Warn(ctx context.Context, msg string, args ...any) {
	if l.level >= logger.Warn {
		slog.WarnContext(ctx, fmt.Sprintf(msg, args...))
	}
}

func (l *SlogLogger) Error(ctx context.Context, msg string, args ...any) {
	if l.level >= logger.Error {
		slog.ErrorContext(ctx, fmt.Sprintf(msg, args...))
	}
}

func (l *SlogLogger) Trace(ctx context.Context, begin time.Time, fc func() (sql string, rowsAffected int64), err error) {
	if l.level <= logger.Silent {
		return
	}
	elapsed := time.Since(begin)
	switch {
	case err != nil && !errors.Is(err, gorm.ErrRecordNotFound) && !errors.Is(err, sql.ErrNoRows):
		query, rows := fc()
		slog.ErrorContext(ctx, "query failed", "sql", query, "rows", rows, "duration", elapsed, "error", err)
	case l.slowThreshold > 0 && elapsed > l.slowThreshold:
		query, rows := fc()
		slog.WarnContext(ctx, "slow query", "sql", query, "rows", rows, "duration", elapsed)
	case l.level >= logger.Info:
		query, rows := fc()
		slog.DebugContext(ctx, "query", "sql", query, "rows", rows, "duration", elapsed)
	}
}
