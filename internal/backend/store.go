package backend

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/med-ivrit/medivrit-ops/internal/exercise"
)

const (
	exercisesTable = "soap_exercises"
	resultsTable   = "soap_test_results"
	consentTable   = "user_consent"

	sqliteScheme    = "sqlite://"
	defaultHTTPWait = 30 * time.Second
)

// Dialect selects which schema text a backend understands.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

// Account is a user record from the auth provider's directory.
type Account struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// Store defines what the provisioning and reminder pipelines need from the backend.
type Store interface {
	// Dialect reports the SQL dialect ExecSQL expects.
	Dialect() Dialect
	// ExecSQL runs one or more schema statements.
	ExecSQL(ctx context.Context, statements string) error
	// UpsertExercises writes rows keyed by id in a single call and returns how many rows the backend confirmed.
	UpsertExercises(ctx context.Context, rows []exercise.Row) (int, error)
	// CountExercises counts exercise rows, optionally scoped to a SOAP section. An empty section counts everything.
	CountExercises(ctx context.Context, section string) (int, error)
	// PendingConsent returns the user ids that have not accepted the terms.
	PendingConsent(ctx context.Context) ([]string, error)
	// ListAccounts returns one page of the auth directory. Pages start at 1.
	ListAccounts(ctx context.Context, page, perPage int) ([]Account, error)
	// Ping verifies the backend is reachable.
	Ping(ctx context.Context) error
	// Close releases connections held by the store.
	Close() error
}

// New opens the store matching the scheme of rawURL:
// http(s) for the hosted REST API, postgres for a direct database connection
// and sqlite for a local database directory.
func New(rawURL, key string) (Store, error) {
	var (
		store Store
		err   error
	)

	switch {
	case strings.HasPrefix(rawURL, sqliteScheme):
		store, err = NewSQLiteStore(strings.TrimPrefix(rawURL, sqliteScheme))
	case IsPostgres(rawURL):
		store, err = NewPostgresStore(rawURL)
	case IsREST(rawURL):
		store, err = NewRESTStore(rawURL, key, &http.Client{Timeout: defaultHTTPWait})
	default:
		return nil, fmt.Errorf("unsupported backend url %q", Redact(rawURL))
	}

	if err != nil {
		return nil, err
	}

	return store, nil
}

// Supported reports whether New knows how to open rawURL.
func Supported(rawURL string) bool {
	if strings.HasPrefix(rawURL, sqliteScheme) {
		return strings.TrimPrefix(rawURL, sqliteScheme) != ""
	}
	return IsPostgres(rawURL) || IsREST(rawURL)
}

// IsREST reports whether rawURL points at the hosted REST API, which needs an API key.
func IsREST(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// IsPostgres reports whether rawURL is a postgres connection string.
func IsPostgres(rawURL string) bool {
	return strings.HasPrefix(rawURL, "postgres://") || strings.HasPrefix(rawURL, "postgresql://")
}

// Redact strips credentials from a url before it is logged or returned in errors.
func Redact(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "<invalid url>"
	}
	return u.Redacted()
}
