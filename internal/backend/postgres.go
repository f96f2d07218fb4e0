package backend

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

const postgresPingTimeout = 10 * time.Second

// PostgresStore talks to the backend database directly instead of through
// the REST API. The auth directory is read from auth.users.
type PostgresStore struct {
	sqlStore
}

// NewPostgresStore connects to databaseURL and verifies the connection.
func NewPostgresStore(databaseURL string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), postgresPingTimeout)
	defer cancel()

	err = db.PingContext(ctx)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database %s: %w", Redact(databaseURL), err)
	}

	return &PostgresStore{
		sqlStore: sqlStore{
			db:            db,
			dialect:       DialectPostgres,
			accountsTable: "auth.users",
		},
	}, nil
}
