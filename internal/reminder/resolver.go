package reminder

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/med-ivrit/medivrit-ops/internal/backend"
)

// DefaultPageSize is the number of directory accounts requested per page.
const DefaultPageSize = 50

// Directory is the part of the backend the resolver reads from.
type Directory interface {
	PendingConsent(ctx context.Context) ([]string, error)
	ListAccounts(ctx context.Context, page, perPage int) ([]backend.Account, error)
}

// Recipient is a user who has not accepted the terms yet.
type Recipient struct {
	UserID string `json:"userId" yaml:"userId"`
	Email  string `json:"email" yaml:"email"`
}

// Resolver finds the users who registered but never accepted the terms.
type Resolver struct {
	Source   Directory
	PageSize int
	Logger   *slog.Logger
}

// Resolve intersects the pending consent rows with the auth directory.
// The directory is only read when at least one consent row is pending.
// Recipients are returned in directory order, once each.
func (r *Resolver) Resolve(ctx context.Context) ([]Recipient, error) {
	log := r.Logger.With("component", "resolver")

	pending, err := r.Source.PendingConsent(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch pending consent: %w", err)
	}

	if len(pending) == 0 {
		log.Info("No users with pending terms acceptance")
		return []Recipient{}, nil
	}

	wanted := lo.SliceToMap(pending, func(id string) (string, struct{}) {
		return canonicalID(id), struct{}{}
	})
	log.Debug("Fetched pending consent", "users", len(wanted))

	accounts, err := r.accounts(ctx)
	if err != nil {
		return nil, err
	}

	matched := lo.Filter(accounts, func(a backend.Account, _ int) bool {
		_, ok := wanted[canonicalID(a.ID)]
		return ok
	})
	matched = lo.UniqBy(matched, func(a backend.Account) string {
		return canonicalID(a.ID)
	})

	recipients := make([]Recipient, 0, len(matched))
	for _, a := range matched {
		if strings.TrimSpace(a.Email) == "" {
			log.Warn("Skipping user without an email address", "user_id", a.ID)
			continue
		}
		recipients = append(recipients, Recipient{UserID: a.ID, Email: strings.TrimSpace(a.Email)})
	}

	log.Info("Resolved reminder recipients", "pending", len(wanted), "directory", len(accounts), "recipients", len(recipients))

	return recipients, nil
}

// accounts reads the directory page by page until a short page comes back.
func (r *Resolver) accounts(ctx context.Context) ([]backend.Account, error) {
	perPage := r.PageSize
	if perPage < 1 {
		perPage = DefaultPageSize
	}

	var (
		all  []backend.Account
		seen = map[string]struct{}{}
	)

	for page := 1; ; page++ {
		batch, err := r.Source.ListAccounts(ctx, page, perPage)
		if err != nil {
			return nil, fmt.Errorf("failed to list users (page %d): %w", page, err)
		}

		fresh := 0
		for _, a := range batch {
			id := canonicalID(a.ID)
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			fresh++
		}
		all = append(all, batch...)

		r.Logger.Debug("Fetched directory page", "component", "resolver", "page", page, "accounts", len(batch))

		// A provider that ignores paging keeps returning the same accounts.
		if len(batch) < perPage || fresh == 0 {
			return all, nil
		}
	}
}

// canonicalID normalizes user ids so both sides of the join compare equal
// regardless of case or formatting.
func canonicalID(id string) string {
	parsed, err := uuid.Parse(strings.TrimSpace(id))
	if err != nil {
		return strings.ToLower(strings.TrimSpace(id))
	}
	return parsed.String()
}
