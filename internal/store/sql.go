package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/cornchan/cornchan/internal/models"
	"github.com/cornchan/cornchan/pkg/config"
	"github.com/cornchan/cornchan/pkg/logging"
)

// zapWriter adapts zap.Logger to logger.Writer interface
type zapWriter struct {
	logger *zap.Logger
}

func (w *zapWriter) Printf(format string, args ...interface{}) {
	w.logger.Sugar().Infof(format, args...)
}

// SQLStore keeps the hash tables in a single kv_entries table and counters in
// a counters table. It works on PostgreSQL and SQLite.
type SQLStore struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewSQL opens cfg.DatabaseURL. postgres:// and postgresql:// URLs use the
// PostgreSQL driver, sqlite:// URLs the pure Go SQLite driver.
func NewSQL(cfg *config.StoreConfig, logLevel string) (*SQLStore, error) {
	var (
		dialector gorm.Dialector
		isSQLite  bool
	)
	switch {
	case strings.HasPrefix(cfg.DatabaseURL, "postgres://"), strings.HasPrefix(cfg.DatabaseURL, "postgresql://"):
		dialector = postgres.Open(cfg.DatabaseURL)
	case strings.HasPrefix(cfg.DatabaseURL, "sqlite://"):
		dialector = sqlite.Open(strings.TrimPrefix(cfg.DatabaseURL, "sqlite://"))
		isSQLite = true
	default:
		return nil, fmt.Errorf("database_url must start with postgres:// or sqlite://")
	}

	var gormLogLevel logger.LogLevel
	switch strings.ToUpper(logLevel) {
	case "DEBUG":
		gormLogLevel = logger.Info
	case "INFO":
		gormLogLevel = logger.Warn
	case "WARN", "WARNING":
		gormLogLevel = logger.Error
	case "ERROR":
		gormLogLevel = logger.Silent
	default:
		gormLogLevel = logger.Warn
	}

	gormLogger := logger.New(
		&zapWriter{logger: logging.GetLogger()},
		logger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormLogLevel,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)

	db, err := gorm.Open(dialector, &gorm.Config{Logger: gormLogger})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}
	if isSQLite {
		// one connection keeps a :memory: database shared and serializes writers
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxIdleConns(10)
		if cfg.PoolSize > 0 {
			sqlDB.SetMaxOpenConns(cfg.PoolSize)
		}
		sqlDB.SetConnMaxLifetime(time.Hour)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return NewSQLFromDB(db)
}

// NewSQLFromDB migrates the schema on db and wraps it
func NewSQLFromDB(db *gorm.DB) (*SQLStore, error) {
	if err := db.AutoMigrate(&models.KVEntry{}, &models.Counter{}); err != nil {
		return nil, fmt.Errorf("failed to migrate store schema: %w", err)
	}

	logging.GetLogger().Info("Database connection established", zap.String("dialect", db.Dialector.Name()))

	return &SQLStore{
		db:     db,
		logger: logging.WithComponent("sql-store"),
	}, nil
}

// Put upserts key into table
func (s *SQLStore) Put(ctx context.Context, table, key string, value []byte) error {
	entry := models.KVEntry{Table: table, Key: []byte(key), Value: value}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "table_name"}, {Name: "entry_key"}},
			DoUpdates: clause.AssignmentColumns([]string{"value"}),
		}).
		Create(&entry).Error
	if err != nil {
		return unavailable("put "+table, err)
	}
	return nil
}

// Get reads key from table
func (s *SQLStore) Get(ctx context.Context, table, key string) ([]byte, error) {
	var entry models.KVEntry
	err := s.db.WithContext(ctx).
		Where("table_name = ? AND entry_key = ?", table, []byte(key)).
		First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, unavailable("get "+table, err)
	}
	return entry.Value, nil
}

// Delete removes key from table
func (s *SQLStore) Delete(ctx context.Context, table, key string) error {
	err := s.db.WithContext(ctx).
		Where("table_name = ? AND entry_key = ?", table, []byte(key)).
		Delete(&models.KVEntry{}).Error
	if err != nil {
		return unavailable("delete "+table, err)
	}
	return nil
}

// Scan narrows the rows by the pattern's literal prefix in SQL and applies the
// full glob in Go.
func (s *SQLStore) Scan(ctx context.Context, table, match string) ([]Entry, error) {
	re, err := compileGlob(match)
	if err != nil {
		return nil, fmt.Errorf("invalid match pattern %q: %w", match, err)
	}

	q := s.db.WithContext(ctx).Where("table_name = ?", table)
	if prefix := literalPrefix(match); prefix != "" {
		q = q.Where("entry_key >= ?", []byte(prefix))
		if upper := prefixUpperBound(prefix); upper != nil {
			q = q.Where("entry_key < ?", upper)
		}
	}

	var rows []models.KVEntry
	if err := q.Find(&rows).Error; err != nil {
		return nil, unavailable("scan "+table, err)
	}

	entries := make([]Entry, 0, len(rows))
	for _, row := range rows {
		if re.Match(row.Key) {
			entries = append(entries, Entry{Key: string(row.Key), Value: row.Value})
		}
	}

	s.logger.Debug("scan finished",
		zap.String("table", table),
		zap.String("match", match),
		zap.Int("candidates", len(rows)),
		zap.Int("entries", len(entries)))

	return entries, nil
}

// Increment adds delta to counter inside a transaction. The UPDATE takes the
// row lock so concurrent increments never observe the same value.
func (s *SQLStore) Increment(ctx context.Context, counter string, delta int64) (int64, error) {
	var c models.Counter
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).
			Create(&models.Counter{Name: counter}).Error; err != nil {
			return err
		}
		if err := tx.Model(&models.Counter{}).
			Where("name = ?", counter).
			UpdateColumn("value", gorm.Expr("value + ?", delta)).Error; err != nil {
			return err
		}
		return tx.Where("name = ?", counter).First(&c).Error
	})
	if err != nil {
		return 0, unavailable("increment "+counter, err)
	}
	return c.Value, nil
}

// Health pings the database
func (s *SQLStore) Health(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close closes the database connection
func (s *SQLStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
