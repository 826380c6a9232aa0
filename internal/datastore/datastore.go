// Package datastore persists notification logs, watermarks, incident history
// and validation requests with GORM on SQLite or MySQL.
package datastore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-sql-driver/mysql"
	gormmysql "gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/poachwatch/poachwatch/internal/conf"
	"github.com/poachwatch/poachwatch/internal/errors"
	"github.com/poachwatch/poachwatch/internal/logger"
	"github.com/poachwatch/poachwatch/internal/notification"
	"github.com/poachwatch/poachwatch/internal/observability/metrics"
)

const connectTimeout = "5s"

// Store is an open database.
type Store struct {
	db      *gorm.DB
	driver  string
	metrics *metrics.DatastoreMetrics
	log     logger.Logger
	now     func() time.Time
}

// Open connects with the configured driver and migrates the schema.
func Open(settings conf.DatastoreSettings, m *metrics.DatastoreMetrics, log logger.Logger) (*Store, error) {
	log = logger.OrDiscard(log).Module("datastore")

	var dialector gorm.Dialector
	switch settings.Driver {
	case conf.DriverSQLite:
		path := settings.SQLite.Path
		if path != ":memory:" {
			if dir := filepath.Dir(path); dir != "." {
				if err := os.MkdirAll(dir, 0o750); err != nil {
					return nil, dbError(err, "create_database_dir", errors.PriorityHigh, "path", dir)
				}
			}
		}
		dialector = sqlite.Open(path)
	case conf.DriverMySQL:
		dialector = gormmysql.Open(MySQLDSN(settings))
	default:
		return nil, errors.Newf("unsupported datastore driver %q", settings.Driver).
			Component("datastore").
			Category(errors.CategoryConfiguration).
			Build()
	}
	return open(dialector, settings.Driver, settings.SlowThreshold, m, log)
}

// OpenSQLite opens a SQLite database at path, ":memory:" included.
func OpenSQLite(path string, m *metrics.DatastoreMetrics, log logger.Logger) (*Store, error) {
	var s conf.DatastoreSettings
	s.Driver = conf.DriverSQLite
	s.SQLite.Path = path
	return Open(s, m, log)
}

// MySQLDSN builds a DSN through mysql.Config so credentials are escaped.
func MySQLDSN(settings conf.DatastoreSettings) string {
	cfg := mysql.Config{
		User:      settings.MySQL.Username,
		Passwd:    settings.MySQL.Password,
		Net:       "tcp",
		Addr:      settings.MySQL.Host + ":" + strconv.Itoa(settings.MySQL.Port),
		DBName:    settings.MySQL.Database,
		ParseTime: true,
		Loc:       time.UTC,
		Params: map[string]string{
			"charset":      "utf8mb4",
			"timeout":      connectTimeout,
			"readTimeout":  connectTimeout,
			"writeTimeout": connectTimeout,
		},
		AllowNativePasswords: true,
	}
	return cfg.FormatDSN()
}

func open(dialector gorm.Dialector, driver string, slow time.Duration, m *metrics.DatastoreMetrics, log logger.Logger) (*Store, error) {
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:  logger.NewGormLoggerAdapter(log, slow),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, dbError(err, "open", errors.PriorityCritical, "driver", driver)
	}

	if driver == conf.DriverSQLite {
		// One connection serializes write transactions and keeps :memory: a single database.
		sqlDB, err := db.DB()
		if err != nil {
			return nil, dbError(err, "open", errors.PriorityCritical, "driver", driver)
		}
		sqlDB.SetMaxOpenConns(1)
		if err := db.Exec("PRAGMA foreign_keys = ON").Error; err != nil {
			return nil, dbError(err, "pragma", errors.PriorityMedium, "driver", driver)
		}
	}

	s := &Store{db: db, driver: driver, metrics: m, log: log, now: time.Now}
	if err := s.migrate(); err != nil {
		_ = s.Close()
		return nil, err
	}
	log.Info("datastore opened", logger.String("driver", driver))
	return s, nil
}

func (s *Store) migrate() error {
	start := time.Now()
	if err := s.db.AutoMigrate(&NotificationRecord{}, &Watermark{}, &PoachingIncident{}, &ValidationRecord{}); err != nil {
		return dbError(err, "auto_migrate", errors.PriorityCritical, "driver", s.driver)
	}
	for _, role := range notification.Roles {
		err := s.db.Clauses(clause.OnConflict{DoNothing: true}).
			Create(&Watermark{Role: string(role), UpdatedAt: time.Now().UTC()}).Error
		if err != nil {
			return dbError(err, "seed_watermark", errors.PriorityCritical, "role", string(role))
		}
	}
	s.log.Debug("schema migrated", logger.Duration("elapsed", time.Since(start)))
	return nil
}

// Notifications returns the notification.Store view of the database.
func (s *Store) Notifications() *NotificationStore {
	return &NotificationStore{s: s}
}

// DB exposes the GORM handle for maintenance commands.
func (s *Store) DB() *gorm.DB {
	return s.db
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return dbError(err, "ping", errors.PriorityMedium)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return dbError(err, "ping", errors.PriorityMedium, "driver", s.driver)
	}
	return nil
}

// Close closes the connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return dbError(err, "close", errors.PriorityLow)
	}
	if err := sqlDB.Close(); err != nil {
		return dbError(err, "close", errors.PriorityLow, "driver", s.driver)
	}
	return nil
}

// lockRow adds FOR UPDATE where the dialect supports it. SQLite transactions
// are already serialized by the single connection.
func (s *Store) lockRow(tx *gorm.DB) *gorm.DB {
	if s.driver == conf.DriverMySQL {
		return tx.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return tx
}

func (s *Store) observe(operation string, start time.Time, err error) {
	s.metrics.RecordOperation(operation, start, err)
}

func (s *Store) String() string {
	return fmt.Sprintf("datastore(%s)", s.driver)
}
