package database

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jgoulah/plugshare/pkg/models"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	_ "modernc.org/sqlite"
)

// DB wraps the database connection
type DB struct {
	conn *gorm.DB
}

// Open connects to the configured driver and initializes the schema
func Open(driver, dsn string) (*DB, error) {
	var dialector gorm.Dialector
	switch strings.ToLower(driver) {
	case "", "sqlite":
		if dsn == "" {
			dsn = "data.db"
		}
		// modernc registers itself as "sqlite"; the gorm dialect only needs the driver name
		dialector = sqlite.New(sqlite.Config{DriverName: "sqlite", DSN: sqliteDSN(dsn)})
	case "postgres", "postgresql":
		dialector = postgres.New(postgres.Config{DSN: dsn, PreferSimpleProtocol: true})
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", driver)
	}

	conn, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	return New(conn)
}

// New wraps an existing gorm connection and migrates the schema
func New(conn *gorm.DB) (*DB, error) {
	db := &DB{conn: conn}
	if err := db.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing schema: %w", err)
	}
	return db, nil
}

// Close closes the database connection
func (db *DB) Close() error {
	sqlDB, err := db.conn.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// initSchema creates the necessary tables
func (db *DB) initSchema() error {
	return db.conn.AutoMigrate(
		&models.Device{},
		&models.UsageRecord{},
		&models.ActiveDevice{},
		&models.BillingSetting{},
	)
}

func (db *DB) dialect() string {
	return db.conn.Dialector.Name()
}

// dayExpr truncates start_date to a UTC calendar day rendered as YYYY-MM-DD
func (db *DB) dayExpr() string {
	if db.dialect() == "postgres" {
		return "to_char(date_trunc('day', start_date AT TIME ZONE 'UTC'), 'YYYY-MM-DD')"
	}
	return "strftime('%Y-%m-%d', start_date)"
}

// sqliteDSN adds the default pragmas and stores times as SQLite datetime text, which
// strftime and lexical comparison both understand
func sqliteDSN(dsn string) string {
	var params []string
	if !strings.Contains(dsn, "_pragma=") {
		params = append(params, "_pragma=foreign_keys(1)", "_pragma=busy_timeout(5000)")
	}
	if !strings.Contains(dsn, "_time_format=") {
		params = append(params, "_time_format=sqlite")
	}
	if len(params) == 0 {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + strings.Join(params, "&")
}

// IsConstraintViolation reports whether err came from a unique, foreign key or check constraint
func IsConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) || errors.Is(err, gorm.ErrForeignKeyViolated) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "constraint failed") ||
		strings.Contains(msg, "violates unique constraint") ||
		strings.Contains(msg, "violates foreign key constraint") ||
		strings.Contains(msg, "violates check constraint") ||
		strings.Contains(msg, "SQLSTATE 23")
}
