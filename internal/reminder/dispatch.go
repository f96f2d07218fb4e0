package reminder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// DefaultDelay keeps the send rate under the mail provider's limit.
const DefaultDelay = 3 * time.Second

// ErrDeliveryFailed is returned by Summary.Err when at least one send failed.
var ErrDeliveryFailed = errors.New("reminder delivery failed")

// Status is the outcome of one delivery attempt.
type Status string

const (
	StatusDelivered Status = "delivered"
	StatusFailed    Status = "failed"
	StatusSkipped   Status = "skipped"
)

// Result records what happened to one recipient.
type Result struct {
	Recipient Recipient `json:"recipient" yaml:"recipient"`
	Status    Status    `json:"status" yaml:"status"`
	Reason    string    `json:"reason,omitempty" yaml:"reason,omitempty"`
}

// Summary tallies a batch of deliveries.
type Summary struct {
	Results   []Result `json:"results" yaml:"results"`
	Delivered int      `json:"delivered" yaml:"delivered"`
	Failed    int      `json:"failed" yaml:"failed"`
	Skipped   int      `json:"skipped" yaml:"skipped"`
}

// Err reports ErrDeliveryFailed when any recipient was not reached.
func (s Summary) Err() error {
	if s.Failed == 0 && s.Skipped == 0 {
		return nil
	}
	return fmt.Errorf("%w: %d failed, %d skipped of %d", ErrDeliveryFailed, s.Failed, s.Skipped, len(s.Results))
}

func (s *Summary) add(r Result) {
	s.Results = append(s.Results, r)
	switch r.Status {
	case StatusDelivered:
		s.Delivered++
	case StatusFailed:
		s.Failed++
	case StatusSkipped:
		s.Skipped++
	}
}

// Dispatcher sends the same message to a list of recipients, one at a time.
type Dispatcher struct {
	Mailer  Mailer
	Message Message
	// Delay is the pause between two sends.
	Delay  time.Duration
	Logger *slog.Logger
}

// Deliver attempts a single send. Failures are reported in the result.
func (d *Dispatcher) Deliver(ctx context.Context, to Recipient) (result Result) {
	log := d.Logger.With("component", "dispatcher", "email", to.Email)
	result = Result{Recipient: to}

	defer func() {
		if r := recover(); r != nil {
			log.Error("Email send panicked", "panic", r)
			result.Status = StatusFailed
			result.Reason = fmt.Sprintf("panic: %v", r)
		}
	}()

	err := d.Mailer.Send(ctx, to.Email, d.Message)
	if err != nil {
		log.Error("Failed to send email", "error", err)
		result.Status = StatusFailed
		result.Reason = err.Error()
		return result
	}

	log.Info("Email sent successfully")
	result.Status = StatusDelivered
	return result
}

// Dispatch sends in order and waits Delay between sends. A failed send never
// stops the batch. Once ctx is done the remaining recipients are skipped.
func (d *Dispatcher) Dispatch(ctx context.Context, recipients []Recipient) Summary {
	summary := Summary{Results: make([]Result, 0, len(recipients))}

	for i, to := range recipients {
		if i > 0 && !d.wait(ctx) {
			d.skipRest(&summary, recipients[i:], ctx.Err())
			break
		}
		if ctx.Err() != nil {
			d.skipRest(&summary, recipients[i:], ctx.Err())
			break
		}

		summary.add(d.Deliver(ctx, to))
	}

	d.Logger.Info("Finished sending reminders",
		"component", "dispatcher",
		"delivered", summary.Delivered,
		"failed", summary.Failed,
		"skipped", summary.Skipped,
	)

	return summary
}

func (d *Dispatcher) wait(ctx context.Context) bool {
	if d.Delay <= 0 {
		return ctx.Err() == nil
	}

	timer := time.NewTimer(d.Delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (d *Dispatcher) skipRest(summary *Summary, rest []Recipient, cause error) {
	d.Logger.Warn("Stopping reminders early", "component", "dispatcher", "remaining", len(rest), "error", cause)
	for _, to := range rest {
		summary.add(Result{Recipient: to, Status: StatusSkipped, Reason: cause.Error()})
	}
}
