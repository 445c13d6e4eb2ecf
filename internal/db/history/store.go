// Package history provides the bounded session history store for pomod.
package history

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3" // SQLite driver for the GORM dialector
	"github.com/pomodui/pomod/pkg/models"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Config holds history store configuration.
type Config struct {
	Path     string          // Path to the SQLite database file
	Cap      int             // Maximum retained records; oldest evicted first
	LogLevel logger.LogLevel // GORM log level (logger.Silent for production)
}

// Store persists session records with FIFO eviction at the configured cap.
type Store struct {
	db    *gorm.DB
	sqlDB *sql.DB
	cap   int
}

// DailyCount is the number of completed work sessions on one calendar day.
type DailyCount struct {
	Date  string `json:"date"`
	Count int64  `json:"count"`
}

// CategoryCount is the number of completed work sessions per category label.
type CategoryCount struct {
	Category string `json:"category"`
	Count    int64  `json:"count"`
}

// NewStore opens the history database, runs migrations, and applies pragmas.
func NewStore(cfg Config) (*Store, error) {
	dsn := cfg.Path + "?_foreign_keys=ON"

	sqlDB, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db, err := gorm.Open(sqlite.Dialector{
		Conn: sqlDB,
	}, &gorm.Config{
		Logger:      logger.Default.LogMode(cfg.LogLevel),
		PrepareStmt: true,
	})
	if err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("open gorm: %w", err)
	}

	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetConnMaxLifetime(0)

	if err := runMigrations(db); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	if _, err := sqlDB.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := sqlDB.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	recordCap := cfg.Cap
	if recordCap <= 0 {
		recordCap = 1000
	}

	return &Store{db: db, sqlDB: sqlDB, cap: recordCap}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.sqlDB.Close()
}

// Cap returns the configured record cap.
func (s *Store) Cap() int {
	return s.cap
}

// Append stores a record, then evicts the oldest records beyond the cap.
// Eviction is strictly FIFO on insertion order.
func (s *Store) Append(ctx context.Context, rec *models.SessionRecord) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(rec).Error; err != nil {
			return err
		}

		var count int64
		if err := tx.Model(&models.SessionRecord{}).Count(&count).Error; err != nil {
			return err
		}
		if excess := count - int64(s.cap); excess > 0 {
			const evict = `
				DELETE FROM session_records WHERE id IN (
					SELECT id FROM session_records
					ORDER BY created_at_epoch ASC, id ASC
					LIMIT ?
				)
			`
			if err := tx.Exec(evict, excess).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// List returns the most recent records, newest first. A limit of zero or less
// returns everything.
func (s *Store) List(ctx context.Context, limit int) ([]*models.SessionRecord, error) {
	var records []*models.SessionRecord
	q := s.db.WithContext(ctx).Order("created_at_epoch DESC, id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}

// All returns every record in insertion order, oldest first. Used by export.
func (s *Store) All(ctx context.Context) ([]*models.SessionRecord, error) {
	var records []*models.SessionRecord
	err := s.db.WithContext(ctx).
		Order("created_at_epoch ASC, id ASC").
		Find(&records).Error
	if err != nil {
		return nil, err
	}
	return records, nil
}

// Count returns the total number of retained records.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.SessionRecord{}).Count(&count).Error
	return count, err
}

// CountSince returns the number of sessions started at or after the given
// unix-millisecond epoch.
func (s *Store) CountSince(ctx context.Context, epoch int64) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&models.SessionRecord{}).
		Where("start_epoch >= ?", epoch).
		Count(&count).Error
	return count, err
}

// DailyCounts returns per-day session counts for days at or after fromDate
// (calendar day, "2006-01-02"). Days with no sessions are omitted.
func (s *Store) DailyCounts(ctx context.Context, fromDate string) ([]DailyCount, error) {
	var counts []DailyCount
	err := s.db.WithContext(ctx).
		Model(&models.SessionRecord{}).
		Select("date, COUNT(*) as count").
		Where("date >= ?", fromDate).
		Group("date").
		Order("date ASC").
		Scan(&counts).Error
	if err != nil {
		return nil, err
	}
	return counts, nil
}

// CategoryBreakdown returns session counts grouped by category label,
// largest first. Uncategorized sessions appear under the empty label.
func (s *Store) CategoryBreakdown(ctx context.Context) ([]CategoryCount, error) {
	var counts []CategoryCount
	err := s.db.WithContext(ctx).
		Model(&models.SessionRecord{}).
		Select("category, COUNT(*) as count").
		Group("category").
		Order("count DESC, category ASC").
		Scan(&counts).Error
	if err != nil {
		return nil, err
	}
	return counts, nil
}

// Clear deletes the entire history.
func (s *Store) Clear(ctx context.Context) error {
	return s.db.WithContext(ctx).Exec("DELETE FROM session_records").Error
}
