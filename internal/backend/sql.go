package backend

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"github.com/med-ivrit/medivrit-ops/internal/exercise"
)

const upsertExerciseQuery = `INSERT INTO soap_exercises (id, language, soap_section, backstory, task, sentence, word_bank, validation, timing, difficulty)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (id) DO UPDATE SET
    language = excluded.language,
    soap_section = excluded.soap_section,
    backstory = excluded.backstory,
    task = excluded.task,
    sentence = excluded.sentence,
    word_bank = excluded.word_bank,
    validation = excluded.validation,
    timing = excluded.timing,
    difficulty = excluded.difficulty`

// sqlStore implements Store on top of database/sql. Queries are written with
// '?' placeholders and rebound for the dialect.
type sqlStore struct {
	db            *sql.DB
	dialect       Dialect
	accountsTable string
}

// Dialect reports the SQL dialect of the connection.
func (s *sqlStore) Dialect() Dialect {
	return s.dialect
}

// ExecSQL runs schema statements as a single batch.
func (s *sqlStore) ExecSQL(ctx context.Context, statements string) error {
	_, err := s.db.ExecContext(ctx, statements)
	if err != nil {
		return fmt.Errorf("failed to execute schema statements: %w", err)
	}
	return nil
}

// UpsertExercises writes all rows in one transaction. Either every row is
// written or none is.
func (s *sqlStore) UpsertExercises(ctx context.Context, rows []exercise.Row) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin upsert: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, s.rebind(upsertExerciseQuery))
	if err != nil {
		return 0, fmt.Errorf("failed to prepare upsert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	written := 0
	for _, r := range rows {
		res, err := stmt.ExecContext(ctx,
			r.ID,
			r.Language,
			r.SOAPSection,
			string(r.Backstory),
			string(r.Task),
			string(r.Sentence),
			string(r.WordBank),
			string(r.Validation),
			string(r.Timing),
			string(r.Difficulty),
		)
		if err != nil {
			return 0, fmt.Errorf("failed to upsert exercise %q: %w", r.ID, err)
		}

		n, err := res.RowsAffected()
		if err != nil {
			return 0, err
		}
		written += int(n)
	}

	err = tx.Commit()
	if err != nil {
		return 0, fmt.Errorf("failed to commit upsert: %w", err)
	}

	return written, nil
}

// CountExercises counts exercise rows, optionally within one section.
func (s *sqlStore) CountExercises(ctx context.Context, section string) (int, error) {
	query := "SELECT COUNT(*) FROM " + exercisesTable
	var args []any
	if section != "" {
		query += " WHERE soap_section = ?"
		args = append(args, section)
	}

	var count int
	err := s.db.QueryRowContext(ctx, s.rebind(query), args...).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count exercises: %w", err)
	}

	return count, nil
}

// PendingConsent returns the user ids that have not accepted the terms.
func (s *sqlStore) PendingConsent(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind("SELECT user_id FROM "+consentTable+" WHERE terms_accepted = ?"), false)
	if err != nil {
		return nil, fmt.Errorf("failed to query consent: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		err := rows.Scan(&id)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	return ids, rows.Err()
}

// ListAccounts returns one page of accounts in creation order.
func (s *sqlStore) ListAccounts(ctx context.Context, page, perPage int) ([]Account, error) {
	if page < 1 || perPage < 1 {
		return nil, fmt.Errorf("invalid page %d (per page %d)", page, perPage)
	}

	query := fmt.Sprintf("SELECT id, email FROM %s ORDER BY created_at, id LIMIT ? OFFSET ?", s.accountsTable)

	rows, err := s.db.QueryContext(ctx, s.rebind(query), perPage, (page-1)*perPage)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	accounts := []Account{}
	for rows.Next() {
		var (
			a     Account
			email sql.NullString
		)
		err := rows.Scan(&a.ID, &email)
		if err != nil {
			return nil, err
		}
		a.Email = email.String
		accounts = append(accounts, a)
	}

	return accounts, rows.Err()
}

// Ping verifies the database connection is alive.
func (s *sqlStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close terminates the database connection.
func (s *sqlStore) Close() error {
	return s.db.Close()
}

// rebind rewrites '?' placeholders to '$n' for postgres.
func (s *sqlStore) rebind(query string) string {
	if s.dialect != DialectPostgres {
		return query
	}

	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}

	return b.String()
}
