package reminder

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strconv"

	"github.com/nicholas-fedor/shoutrrr"
	"github.com/nicholas-fedor/shoutrrr/pkg/router"
)

const implicitTLSPort = 465

// Mailer delivers one message to one address.
type Mailer interface {
	Send(ctx context.Context, to string, msg Message) error
}

// SMTPConfig holds the account used to send reminders.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	// FromAddress defaults to Username.
	FromAddress string
	FromName    string
}

// ShoutrrrMailer sends through shoutrrr's smtp service. Every Send opens and
// closes its own SMTP session.
type ShoutrrrMailer struct {
	SMTP SMTPConfig
}

// URL builds the shoutrrr smtp url for one message.
func (m *ShoutrrrMailer) URL(to, subject string) string {
	from := m.SMTP.FromAddress
	if from == "" {
		from = m.SMTP.Username
	}

	encryption := "Auto"
	if m.SMTP.Port == implicitTLSPort {
		encryption = "ImplicitTLS"
	}

	query := url.Values{}
	query.Set("fromaddress", from)
	if m.SMTP.FromName != "" {
		query.Set("fromname", m.SMTP.FromName)
	}
	query.Set("toaddresses", to)
	query.Set("subject", subject)
	query.Set("auth", "Plain")
	query.Set("encryption", encryption)
	query.Set("usehtml", "Yes")

	u := url.URL{
		Scheme:   "smtp",
		User:     url.UserPassword(m.SMTP.Username, m.SMTP.Password),
		Host:     net.JoinHostPort(m.SMTP.Host, strconv.Itoa(m.SMTP.Port)),
		Path:     "/",
		RawQuery: query.Encode(),
	}

	return u.String()
}

// Verify checks that the configured account forms a url shoutrrr can route.
func (m *ShoutrrrMailer) Verify() error {
	serviceRouter := router.ServiceRouter{}
	_, err := serviceRouter.Locate(m.URL(m.SMTP.Username, DefaultSubject))
	if err != nil {
		return fmt.Errorf("invalid smtp settings: %w", err)
	}
	return nil
}

// Send delivers msg to a single address.
func (m *ShoutrrrMailer) Send(ctx context.Context, to string, msg Message) error {
	err := ctx.Err()
	if err != nil {
		return err
	}

	sender, err := shoutrrr.CreateSender(m.URL(to, msg.Subject))
	if err != nil {
		return fmt.Errorf("failed to create smtp sender: %w", err)
	}

	errs := sender.Send(msg.HTML, nil)
	for _, sendErr := range errs {
		if sendErr != nil {
			return fmt.Errorf("smtp delivery failed: %w", sendErr)
		}
	}

	return nil
}
