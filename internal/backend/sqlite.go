package backend

import (
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	// Import the sqlite driver that requires no CGO deps
	_ "modernc.org/sqlite"
)

const sqliteDBName = "medivrit_sqlite.db"

// SQLiteStore is a local stand-in for the hosted backend, used for dry runs
// and tests. It keeps the directory and consent tables next to the exercise tables.
type SQLiteStore struct {
	sqlStore
}

// NewSQLiteStore opens (creating if needed) the database in dir.
func NewSQLiteStore(dir string) (*SQLiteStore, error) {
	db, err := sqliteConnect(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &SQLiteStore{
		sqlStore: sqlStore{
			db:            db,
			dialect:       DialectSQLite,
			accountsTable: "auth_users",
		},
	}

	err = s.Init()
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return s, nil
}

// Init creates the directory and consent tables if they do not already exist.
func (s *SQLiteStore) Init() error {
	_, err := s.db.Exec(sqliteDirectorySchema)
	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// sqliteConnect sets up the database connection and directory.
func sqliteConnect(dbPath string) (*sql.DB, error) {
	err := os.MkdirAll(dbPath, 0750)
	if err != nil {
		return nil, err
	}

	fullPath := filepath.Join(dbPath, sqliteDBName)
	params := url.Values{}
	params.Add("_pragma", "journal_mode=WAL")
	params.Add("_pragma", "synchronous=NORMAL")
	params.Add("_pragma", "busy_timeout=5000")

	db, err := sql.Open("sqlite", fmt.Sprintf("%s?%s", fullPath, params.Encode()))
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(1)

	return db, db.Ping()
}
