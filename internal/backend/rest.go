package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/supabase-community/postgrest-go"

	"github.com/med-ivrit/medivrit-ops/internal/exercise"
)

const (
	restPrefix = "rest/v1"
	authPrefix = "auth/v1"

	// consentPageSize matches the default PostgREST max-rows.
	consentPageSize = 1000
)

// Error is an error response from the REST or auth API. Status is zero when
// the PostgREST client did not expose it.
type Error struct {
	Status  int
	Code    string
	Message string
}

func (e *Error) Error() string {
	prefix := "backend returned an error"
	if e.Status != 0 {
		prefix = fmt.Sprintf("backend returned HTTP %d", e.Status)
	}
	if e.Code != "" {
		return fmt.Sprintf("%s (%s): %s", prefix, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", prefix, e.Message)
}

// apiError covers both the PostgREST and the auth server error bodies.
type apiError struct {
	Code             json.RawMessage `json:"code"`
	Message          string          `json:"message"`
	Msg              string          `json:"msg"`
	Err              string          `json:"error"`
	ErrorDescription string          `json:"error_description"`
	Hint             string          `json:"hint"`
}

// RESTStore talks to the hosted backend. Table and rpc calls go through
// postgrest-go; the auth admin listing is a plain HTTP call.
type RESTStore struct {
	baseURL *url.URL
	key     string
	client  *http.Client
}

// NewRESTStore returns a store for the project at baseURL authenticated with key.
func NewRESTStore(baseURL, key string, client *http.Client) (*RESTStore, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid backend url: %w", err)
	}

	if key == "" {
		return nil, errors.New("backend key is required for the REST API")
	}

	if client == nil {
		client = &http.Client{Timeout: defaultHTTPWait}
	}

	return &RESTStore{
		baseURL: u,
		key:     key,
		client:  client,
	}, nil
}

// Dialect reports postgres; schema statements run through the exec_sql function.
func (s *RESTStore) Dialect() Dialect {
	return DialectPostgres
}

// ExecSQL runs statements through the exec_sql remote procedure.
func (s *RESTStore) ExecSQL(ctx context.Context, statements string) error {
	c, cancel := s.postgrest(ctx)
	defer cancel()

	result := c.Rpc("exec_sql", "", map[string]string{"sql": statements})
	if c.ClientError != nil {
		return fmt.Errorf("exec_sql: %w", c.ClientError)
	}

	// Rpc hands back the body whatever the status, so look for an error payload.
	var e postgrest.ExecuteError
	if json.Unmarshal([]byte(result), &e) == nil && (e.Code != "" || e.Message != "") {
		msg := e.Message
		if e.Hint != "" {
			msg += " (hint: " + e.Hint + ")"
		}
		return &Error{Code: e.Code, Message: msg}
	}

	return nil
}

// UpsertExercises posts every row in one request, merging on id.
func (s *RESTStore) UpsertExercises(ctx context.Context, rows []exercise.Row) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	c, cancel := s.postgrest(ctx)
	defer cancel()

	var written []json.RawMessage
	_, err := c.From(exercisesTable).Upsert(rows, "id", "representation", "").ExecuteTo(&written)
	if err != nil {
		return 0, fmt.Errorf("failed to upsert exercises: %w", err)
	}

	return len(written), nil
}

// CountExercises asks for an exact count without transferring rows.
func (s *RESTStore) CountExercises(ctx context.Context, section string) (int, error) {
	c, cancel := s.postgrest(ctx)
	defer cancel()

	q := c.From(exercisesTable).Select("id", "exact", true)
	if section != "" {
		q = q.Eq("soap_section", section)
	}

	_, count, err := q.Execute()
	if err != nil {
		return 0, fmt.Errorf("failed to count exercises: %w", err)
	}

	return int(count), nil
}

// PendingConsent returns the user ids with terms_accepted = false, reading
// the table a page at a time so a server-side row cap cannot truncate it.
func (s *RESTStore) PendingConsent(ctx context.Context) ([]string, error) {
	c, cancel := s.postgrest(ctx)
	defer cancel()

	var ids []string
	for offset := 0; ; {
		var rows []struct {
			UserID string `json:"user_id"`
		}
		total, err := c.From(consentTable).
			Select("user_id", "exact", false).
			Eq("terms_accepted", "false").
			Order("user_id", &postgrest.OrderOpts{Ascending: true}).
			Range(offset, offset+consentPageSize-1, "").
			ExecuteTo(&rows)
		if err != nil {
			return nil, fmt.Errorf("failed to read consent rows at offset %d: %w", offset, err)
		}

		for _, r := range rows {
			ids = append(ids, r.UserID)
		}
		offset += len(rows)

		// total is zero when the server withheld the count; fall back to a short page.
		if len(rows) == 0 || (total > 0 && int64(offset) >= total) || (total == 0 && len(rows) < consentPageSize) {
			break
		}
	}

	if ids == nil {
		ids = []string{}
	}

	return ids, nil
}

// ListAccounts returns one page of the auth admin user listing. It requires a service role key.
func (s *RESTStore) ListAccounts(ctx context.Context, page, perPage int) ([]Account, error) {
	if page < 1 || perPage < 1 {
		return nil, fmt.Errorf("invalid page %d (per page %d)", page, perPage)
	}

	query := url.Values{}
	query.Set("page", strconv.Itoa(page))
	query.Set("per_page", strconv.Itoa(perPage))

	body, err := s.do(ctx, http.MethodGet, authPrefix+"/admin/users", query)
	if err != nil {
		return nil, err
	}

	var listing struct {
		Users []Account `json:"users"`
	}
	err = json.Unmarshal(body, &listing)
	if err != nil {
		return nil, fmt.Errorf("failed to decode user listing: %w", err)
	}

	if listing.Users == nil {
		listing.Users = []Account{}
	}

	return listing.Users, nil
}

// Ping checks the auth server health endpoint.
func (s *RESTStore) Ping(ctx context.Context) error {
	_, err := s.do(ctx, http.MethodGet, authPrefix+"/health", nil)
	return err
}

// Close releases idle connections.
func (s *RESTStore) Close() error {
	s.client.CloseIdleConnections()
	return nil
}

// bearer reports whether the key is a legacy JWT. Newer secret keys are not
// valid bearer tokens and go in the apikey header alone.
func (s *RESTStore) bearer() bool {
	return strings.Count(s.key, ".") == 2
}

// postgrest returns a PostgREST client bound to ctx and the store's HTTP
// client. The cancel func releases the per-call timeout.
func (s *RESTStore) postgrest(ctx context.Context) (*postgrest.Client, context.CancelFunc) {
	cancel := context.CancelFunc(func() {})
	if s.client.Timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, s.client.Timeout)
	}

	c := postgrest.NewClient(s.baseURL.JoinPath(restPrefix).String(), "public", nil)
	c.SetApiKey(s.key)
	if s.bearer() {
		c.SetAuthToken(s.key)
	}

	next := s.client.Transport
	if next == nil {
		next = http.DefaultTransport
	}
	c.Transport.Parent = contextTransport{ctx: ctx, next: next}

	return c, cancel
}

// contextTransport attaches ctx to requests built by clients that take none.
type contextTransport struct {
	ctx  context.Context
	next http.RoundTripper
}

func (t contextTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	return t.next.RoundTrip(req.WithContext(t.ctx))
}

// do sends an auth API request and returns the body. Non-2xx responses are
// returned as *Error.
func (s *RESTStore) do(ctx context.Context, method, path string, query url.Values) ([]byte, error) {
	u := s.baseURL.JoinPath(path)
	if query != nil {
		u.RawQuery = query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), nil)
	if err != nil {
		return nil, err
	}

	req.Header.Set("apikey", s.key)
	if s.bearer() {
		req.Header.Set("Authorization", "Bearer "+s.key)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return data, parseError(resp.StatusCode, data)
	}

	return data, nil
}

func parseError(status int, body []byte) error {
	e := &Error{Status: status}

	var payload apiError
	if json.Unmarshal(bytes.TrimSpace(body), &payload) != nil {
		e.Message = strings.TrimSpace(string(body))
		if e.Message == "" {
			e.Message = http.StatusText(status)
		}
		return e
	}

	if len(payload.Code) > 0 && string(payload.Code) != "null" {
		e.Code = strings.Trim(string(payload.Code), `"`)
	}
	for _, msg := range []string{payload.Message, payload.Msg, payload.ErrorDescription, payload.Err} {
		if msg != "" {
			e.Message = msg
			break
		}
	}
	if e.Message == "" {
		e.Message = http.StatusText(status)
	}
	if payload.Hint != "" {
		e.Message += " (hint: " + payload.Hint + ")"
	}

	return e
}
