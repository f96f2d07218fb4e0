package reminder

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/med-ivrit/medivrit-ops/internal/logging"
)

// MockMailer records every send and fails for the addresses in Fail.
type MockMailer struct {
	mu    sync.Mutex
	Fail  map[string]error
	Panic string
	Sent  []string
	At    []time.Time

	OnSend func(to string)
}

func (m *MockMailer) Send(_ context.Context, to string, _ Message) error {
	m.mu.Lock()
	m.Sent = append(m.Sent, to)
	m.At = append(m.At, time.Now())
	m.mu.Unlock()

	if m.OnSend != nil {
		m.OnSend(to)
	}
	if to == m.Panic {
		panic("connection reset")
	}
	return m.Fail[to]
}

func recipients(emails ...string) []Recipient {
	out := make([]Recipient, 0, len(emails))
	for _, e := range emails {
		out = append(out, Recipient{UserID: strings.Split(e, "@")[0], Email: e})
	}
	return out
}

func TestDispatcher_Deliver(t *testing.T) {
	ctx := context.Background()

	t.Run("delivered", func(t *testing.T) {
		d := &Dispatcher{Mailer: &MockMailer{}, Logger: logging.Discard()}

		res := d.Deliver(ctx, Recipient{UserID: "a", Email: "a@example.com"})
		assert.Equal(t, StatusDelivered, res.Status)
		assert.Empty(t, res.Reason)
	})

	t.Run("smtp failure is a result not an error", func(t *testing.T) {
		mailer := &MockMailer{Fail: map[string]error{"a@example.com": errors.New("535 authentication failed")}}
		d := &Dispatcher{Mailer: mailer, Logger: logging.Discard()}

		res := d.Deliver(ctx, Recipient{UserID: "a", Email: "a@example.com"})
		assert.Equal(t, StatusFailed, res.Status)
		assert.Contains(t, res.Reason, "535")
	})

	t.Run("panic is recovered", func(t *testing.T) {
		d := &Dispatcher{Mailer: &MockMailer{Panic: "a@example.com"}, Logger: logging.Discard()}

		var res Result
		assert.NotPanics(t, func() {
			res = d.Deliver(ctx, Recipient{UserID: "a", Email: "a@example.com"})
		})
		assert.Equal(t, StatusFailed, res.Status)
		assert.Contains(t, res.Reason, "connection reset")
	})
}

func TestDispatcher_Dispatch(t *testing.T) {
	ctx := context.Background()

	t.Run("failure does not stop the batch", func(t *testing.T) {
		mailer := &MockMailer{Fail: map[string]error{"b@example.com": errors.New("smtp: timeout")}}
		d := &Dispatcher{Mailer: mailer, Logger: logging.Discard()}

		summary := d.Dispatch(ctx, recipients("a@example.com", "b@example.com", "c@example.com"))

		assert.Equal(t, []string{"a@example.com", "b@example.com", "c@example.com"}, mailer.Sent)
		assert.Equal(t, 2, summary.Delivered)
		assert.Equal(t, 1, summary.Failed)
		assert.Zero(t, summary.Skipped)
		assert.Equal(t, StatusFailed, summary.Results[1].Status)
		assert.ErrorIs(t, summary.Err(), ErrDeliveryFailed)
	})

	t.Run("all delivered", func(t *testing.T) {
		d := &Dispatcher{Mailer: &MockMailer{}, Logger: logging.Discard()}

		summary := d.Dispatch(ctx, recipients("a@example.com"))
		assert.NoError(t, summary.Err())
		assert.Equal(t, 1, summary.Delivered)
	})

	t.Run("empty batch", func(t *testing.T) {
		mailer := &MockMailer{}
		d := &Dispatcher{Mailer: mailer, Delay: time.Hour, Logger: logging.Discard()}

		summary := d.Dispatch(ctx, nil)
		assert.NoError(t, summary.Err())
		assert.Empty(t, summary.Results)
		assert.Empty(t, mailer.Sent)
	})

	t.Run("waits between sends", func(t *testing.T) {
		mailer := &MockMailer{}
		delay := 30 * time.Millisecond
		d := &Dispatcher{Mailer: mailer, Delay: delay, Logger: logging.Discard()}

		start := time.Now()
		d.Dispatch(ctx, recipients("a@example.com", "b@example.com", "c@example.com"))

		require.Len(t, mailer.At, 3)
		assert.Less(t, mailer.At[0].Sub(start), delay, "first send must not wait")
		assert.GreaterOrEqual(t, mailer.At[1].Sub(mailer.At[0]), delay)
		assert.GreaterOrEqual(t, mailer.At[2].Sub(mailer.At[1]), delay)
	})

	t.Run("cancellation skips the rest", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		mailer := &MockMailer{OnSend: func(to string) {
			if to == "a@example.com" {
				cancel()
			}
		}}
		d := &Dispatcher{Mailer: mailer, Delay: time.Hour, Logger: logging.Discard()}

		summary := d.Dispatch(ctx, recipients("a@example.com", "b@example.com", "c@example.com"))

		assert.Equal(t, []string{"a@example.com"}, mailer.Sent)
		assert.Equal(t, 1, summary.Delivered)
		assert.Equal(t, 2, summary.Skipped)
		assert.Equal(t, StatusSkipped, summary.Results[2].Status)
		assert.ErrorIs(t, summary.Err(), ErrDeliveryFailed)
	})
}

func TestNewMessage(t *testing.T) {
	msg, err := NewMessage(DefaultSubject, TemplateData{AppName: DefaultAppName, AppURL: DefaultAppURL})
	require.NoError(t, err)

	assert.Equal(t, DefaultSubject, msg.Subject)
	assert.Contains(t, msg.HTML, `href="https://med-ivrit.netlify.app"`)
	assert.Contains(t, msg.HTML, "Complete Your Med-Ivrit Registration")
	assert.Contains(t, msg.HTML, "Complete Registration Now")

	escaped, err := NewMessage("x", TemplateData{AppName: "<b>App</b>", AppURL: "javascript:alert(1)"})
	require.NoError(t, err)
	assert.NotContains(t, escaped.HTML, "<b>App</b>")
	assert.NotContains(t, escaped.HTML, "javascript:alert")
}

func TestShoutrrrMailer_URL(t *testing.T) {
	m := &ShoutrrrMailer{SMTP: SMTPConfig{
		Host:     "smtp.gmail.com",
		Port:     465,
		Username: "team@med-ivrit.example",
		Password: "app pass/word",
		FromName: "Med-Ivrit",
	}}

	raw := m.URL("user@example.com", DefaultSubject)
	u, err := url.Parse(raw)
	require.NoError(t, err)

	assert.Equal(t, "smtp", u.Scheme)
	assert.Equal(t, "smtp.gmail.com:465", u.Host)
	assert.Equal(t, "team@med-ivrit.example", u.User.Username())
	password, _ := u.User.Password()
	assert.Equal(t, "app pass/word", password)

	q := u.Query()
	assert.Equal(t, "team@med-ivrit.example", q.Get("fromaddress"))
	assert.Equal(t, "Med-Ivrit", q.Get("fromname"))
	assert.Equal(t, "user@example.com", q.Get("toaddresses"))
	assert.Equal(t, DefaultSubject, q.Get("subject"))
	assert.Equal(t, "ImplicitTLS", q.Get("encryption"))
	assert.Equal(t, "Yes", q.Get("usehtml"))

	m.SMTP.Port = 587
	u, err = url.Parse(m.URL("user@example.com", "hi"))
	require.NoError(t, err)
	assert.Equal(t, "Auto", u.Query().Get("encryption"))

	assert.NoError(t, m.Verify())
}

func TestShoutrrrMailer_SendCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	m := &ShoutrrrMailer{SMTP: SMTPConfig{Host: "127.0.0.1", Port: 1, Username: "a@example.com", Password: "x"}}
	assert.ErrorIs(t, m.Send(ctx, "b@example.com", Message{}), context.Canceled)
}
