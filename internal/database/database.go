package database

import (
	"fmt"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/webnote/internal/workspaces"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const (
	schemeSQLite     = "sqlite"
	schemePostgres   = "postgres"
	slowQueryWarning = 200 * time.Millisecond
)

// Target describes which engine a database URL points at.
type Target struct {
	Driver string
	DSN    string
}

// ParseURL maps a database URL onto a driver and DSN.
// postgres:// and postgresql:// select PostgreSQL; sqlite:///path, sqlite://path
// and bare paths select SQLite.
func ParseURL(rawURL string) (Target, error) {
	trimmed := strings.TrimSpace(rawURL)
	if trimmed == "" {
		return Target{}, fmt.Errorf("database url is required")
	}

	lower := strings.ToLower(trimmed)
	switch {
	case strings.HasPrefix(lower, "postgres://"), strings.HasPrefix(lower, "postgresql://"):
		return Target{Driver: schemePostgres, DSN: trimmed}, nil
	case strings.HasPrefix(lower, "sqlite:///"):
		return sqliteTarget(trimmed[len("sqlite:///"):])
	case strings.HasPrefix(lower, "sqlite://"):
		return sqliteTarget(trimmed[len("sqlite://"):])
	case strings.Contains(trimmed, "://"):
		return Target{}, fmt.Errorf("unsupported database url scheme: %s", trimmed)
	default:
		return sqliteTarget(trimmed)
	}
}

func sqliteTarget(path string) (Target, error) {
	if path == "" {
		return Target{}, fmt.Errorf("sqlite database path is required")
	}
	separator := "?"
	if strings.Contains(path, "?") {
		separator = "&"
	}
	dsn := path
	if !strings.Contains(path, "foreign_keys") {
		dsn = path + separator + "_pragma=foreign_keys(1)"
	}
	return Target{Driver: schemeSQLite, DSN: dsn}, nil
}

// Open establishes the database connection described by rawURL and migrates the schema.
func Open(rawURL string, logger *zap.Logger) (*gorm.DB, error) {
	target, err := ParseURL(rawURL)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	gormConfig := &gorm.Config{
		Logger: gormlogger.New(zap.NewStdLog(logger.Named("gorm")), gormlogger.Config{
			SlowThreshold:             slowQueryWarning,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
		}),
	}

	var dialector gorm.Dialector
	switch target.Driver {
	case schemePostgres:
		dialector = postgres.Open(target.DSN)
	default:
		dialector = sqlite.Open(target.DSN)
	}

	db, err := gorm.Open(dialector, gormConfig)
	if err != nil {
		return nil, err
	}

	if target.Driver == schemeSQLite {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}

	if err := Migrate(db); err != nil {
		return nil, err
	}

	logger.Info("database initialized", zap.String("driver", target.Driver))
	return db, nil
}

// Migrate creates or updates the workspace and snapshot tables.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&workspaces.Workspace{}, &workspaces.Snapshot{})
}
