package store

import (
	"os"
	"path/filepath"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const memoryPath = ":memory:"

// Store holds connection history for the target and the relay. Both record
// from their connection goroutines, so writes are serialised on one
// connection.
type Store struct {
	DB *gorm.DB
}

// New opens (creating if needed) the history database at path. ":memory:"
// gives a private in-memory database.
func New(path string, quiet bool) (*Store, error) {
	cfg := &gorm.Config{}
	if quiet {
		cfg.Logger = logger.Default.LogMode(logger.Silent)
	}

	db, err := gorm.Open(sqlite.Open(dsn(path)), cfg)
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// One connection also keeps :memory: shared.
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := db.AutoMigrate(&Connection{}); err != nil {
		sqlDB.Close()
		return nil, err
	}
	return &Store{DB: db}, nil
}

// dsn creates the database directory. The file is opened in WAL mode with a
// busy timeout; `history` commands read it while a server writes.
func dsn(path string) string {
	if path == memoryPath {
		return path
	}
	os.MkdirAll(filepath.Dir(path), 0o755)
	return path + "?_journal_mode=WAL&_busy_timeout=5000"
}

func (s *Store) Close() error {
	sqlDB, err := s.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
