package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/med-ivrit/medivrit-ops/internal/backend"
	"github.com/med-ivrit/medivrit-ops/internal/config"
	"github.com/med-ivrit/medivrit-ops/internal/metrics"
	"github.com/med-ivrit/medivrit-ops/internal/reminder"
)

// Constants for Viper keys
const (
	remindBackendURLKey     = "remind.backend-url"
	remindBackendKeyKey     = "remind.backend-key"
	remindSMTPHostKey       = "remind.smtp-host"
	remindSMTPPortKey       = "remind.smtp-port"
	remindSMTPUsernameKey   = "remind.smtp-username"
	remindSMTPPasswordKey   = "remind.smtp-password"
	remindFromNameKey       = "remind.from-name"
	remindSubjectKey        = "remind.subject"
	remindAppNameKey        = "remind.app-name"
	remindAppURLKey         = "remind.app-url"
	remindDelayKey          = "remind.delay"
	remindPageSizeKey       = "remind.page-size"
	remindDryRunKey         = "remind.dry-run"
	remindTestRecipientKey  = "remind.test-recipient"
	remindLogFormatKey      = "remind.log-format"
	remindLogLevelKey       = "remind.log-level"
	remindOutputKey         = "remind.output"
	remindColorKey          = "remind.color"
	remindPushgatewayURLKey = "remind.pushgateway-url"
)

// newMailer builds the mailer used by the remind command. Tests replace it.
var newMailer = func(smtp reminder.SMTPConfig) reminder.Mailer {
	return &reminder.ShoutrrrMailer{SMTP: smtp}
}

// remindResult is what the remind command reports.
type remindResult struct {
	DryRun     bool                 `json:"dryRun" yaml:"dryRun"`
	Recipients []reminder.Recipient `json:"recipients" yaml:"recipients"`
	Summary    *reminder.Summary    `json:"summary,omitempty" yaml:"summary,omitempty"`
}

var remindCmd = &cobra.Command{
	Use:   "remind",
	Short: "Email users who registered but never accepted the terms",
	Long: `Finds users whose consent row has terms_accepted = false, looks up their email in
the auth directory and sends each of them the registration reminder.

Emails are sent one at a time with --delay between them. A failed send is reported
and the batch moves on; the command exits non-zero if any send failed.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := remindConfig()

		err := cfg.Validate()
		if err != nil {
			return err
		}

		logger, err := setupOutput(cmd, cfg.Output, cfg.Logging)
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		progress := progressWriter(cmd, cfg.Output)

		info := [][2]string{
			{"smtp", fmt.Sprintf("%s:%d", cfg.SMTPHost, cfg.SMTPPort)},
			{"delay", cfg.Delay.String()},
			{"dry run", strconv.FormatBool(cfg.DryRun)},
		}
		if cfg.TestRecipient != "" {
			info = append([][2]string{{"test to", cfg.TestRecipient}}, info...)
		} else {
			info = append([][2]string{{"backend", backend.Redact(cfg.BackendURL)}}, info...)
		}
		printBanner(progress, "Registration reminders", info)

		msg, err := reminder.NewMessage(cfg.Subject, reminder.TemplateData{AppName: cfg.AppName, AppURL: cfg.AppURL})
		if err != nil {
			return err
		}

		reporter := metrics.NewReporter(cfg.PushgatewayURL, "medivrit_remind", logger)
		defer pushMetrics(ctx, reporter, logger)

		var recipients []reminder.Recipient
		if cfg.TestRecipient != "" {
			recipients = []reminder.Recipient{{Email: cfg.TestRecipient}}
		} else {
			store, err := backend.New(cfg.BackendURL, cfg.BackendKey)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			resolver := &reminder.Resolver{Source: store, PageSize: cfg.PageSize, Logger: logger}
			recipients, err = resolver.Resolve(ctx)
			if err != nil {
				return err
			}
		}

		result := remindResult{DryRun: cfg.DryRun, Recipients: recipients}

		if len(recipients) == 0 {
			_, _ = fmt.Fprintln(progress, "No users found.")
			reporter.Succeeded()
			if structured(cfg.Output) {
				formatOutput(cmd, cfg.Output, result, false)
			}
			return nil
		}

		if cfg.DryRun {
			_, _ = fmt.Fprintf(progress, "Would send emails to %d users:\n", len(recipients))
			for _, r := range recipients {
				_, _ = fmt.Fprintf(progress, "  %s\n", r.Email)
			}
			if structured(cfg.Output) {
				formatOutput(cmd, cfg.Output, result, false)
			}
			return nil
		}

		mailer := newMailer(reminder.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			FromName: cfg.FromName,
		})
		if v, ok := mailer.(interface{ Verify() error }); ok {
			err := v.Verify()
			if err != nil {
				return err
			}
		}

		_, _ = fmt.Fprintf(progress, "Sending emails to %d users...\n\n", len(recipients))

		dispatcher := &reminder.Dispatcher{Mailer: mailer, Message: msg, Delay: cfg.Delay, Logger: logger}
		summary := dispatcher.Dispatch(ctx, recipients)
		result.Summary = &summary

		reporter.Reminders(string(reminder.StatusDelivered), summary.Delivered)
		reporter.Reminders(string(reminder.StatusFailed), summary.Failed)
		reporter.Reminders(string(reminder.StatusSkipped), summary.Skipped)

		runErr := summary.Err()
		if runErr == nil {
			reporter.Succeeded()
		}

		if structured(cfg.Output) {
			formatOutput(cmd, cfg.Output, result, runErr != nil)
		} else {
			_, _ = fmt.Fprintf(progress, "\nDone ✅ %d sent, %d failed, %d skipped\n", summary.Delivered, summary.Failed, summary.Skipped)
		}

		return runErr
	},
}

func remindConfig() config.Reminder {
	return config.Reminder{
		BackendURL:     viper.GetString(remindBackendURLKey),
		BackendKey:     viper.GetString(remindBackendKeyKey),
		SMTPHost:       viper.GetString(remindSMTPHostKey),
		SMTPPort:       viper.GetInt(remindSMTPPortKey),
		SMTPUsername:   viper.GetString(remindSMTPUsernameKey),
		SMTPPassword:   viper.GetString(remindSMTPPasswordKey),
		FromName:       viper.GetString(remindFromNameKey),
		Subject:        viper.GetString(remindSubjectKey),
		AppName:        viper.GetString(remindAppNameKey),
		AppURL:         viper.GetString(remindAppURLKey),
		Delay:          viper.GetDuration(remindDelayKey),
		PageSize:       viper.GetInt(remindPageSizeKey),
		DryRun:         viper.GetBool(remindDryRunKey),
		TestRecipient:  viper.GetString(remindTestRecipientKey),
		PushgatewayURL: viper.GetString(remindPushgatewayURLKey),
		Logging: config.Logging{
			LogLevel:  viper.GetString(remindLogLevelKey),
			LogFormat: viper.GetString(remindLogFormatKey),
		},
		Output: config.Output{
			Format: viper.GetString(remindOutputKey),
			Color:  viper.GetBool(remindColorKey),
		},
	}
}

func remindFlags() []flagDef {
	flags := []flagDef{
		{Name: "backend-url", Shorthand: "u", Type: "string", Default: "", Usage: "Backend holding consent rows and the user directory: the project REST url, a postgres:// connection string or sqlite://<dir>.", ViperKey: remindBackendURLKey, Aliases: []string{"SUPABASE_URL", "VITE_SUPABASE_URL"}},
		{Name: "backend-key", Shorthand: "k", Type: "string", Default: "", Usage: "Service role key for a REST backend. Listing users requires admin access.", ViperKey: remindBackendKeyKey, Aliases: []string{"SUPABASE_SERVICE_ROLE_KEY"}},
		{Name: "smtp-host", Type: "string", Default: "smtp.gmail.com", Usage: "SMTP server.", ViperKey: remindSMTPHostKey},
		{Name: "smtp-port", Type: "int", Default: 465, Usage: "SMTP port. Port 465 uses implicit TLS.", ViperKey: remindSMTPPortKey},
		{Name: "smtp-username", Type: "string", Default: "", Usage: "SMTP account, also used as the sender address.", ViperKey: remindSMTPUsernameKey, Aliases: []string{"GMAIL_ADDRESS"}},
		{Name: "smtp-password", Type: "string", Default: "", Usage: "SMTP password or app password.", ViperKey: remindSMTPPasswordKey, Aliases: []string{"GMAIL_APP_PASSWORD"}},
		{Name: "from-name", Type: "string", Default: reminder.DefaultAppName, Usage: "Display name of the sender.", ViperKey: remindFromNameKey},
		{Name: "subject", Type: "string", Default: reminder.DefaultSubject, Usage: "Email subject.", ViperKey: remindSubjectKey},
		{Name: "app-name", Type: "string", Default: reminder.DefaultAppName, Usage: "Application name shown in the email.", ViperKey: remindAppNameKey},
		{Name: "app-url", Type: "string", Default: reminder.DefaultAppURL, Usage: "Registration link in the email.", ViperKey: remindAppURLKey},
		{Name: "delay", Shorthand: "d", Type: "duration", Default: reminder.DefaultDelay, Usage: "Pause between two emails, to stay under the provider's rate limit.", ViperKey: remindDelayKey},
		{Name: "page-size", Type: "int", Default: reminder.DefaultPageSize, Usage: "Users fetched per directory page.", ViperKey: remindPageSizeKey},
		{Name: "dry-run", Type: "bool", Default: false, Usage: "Resolve and print recipients without sending.", ViperKey: remindDryRunKey},
		{Name: "test-recipient", Shorthand: "t", Type: "string", Default: "", Usage: "Send a single reminder to this address and skip the backend.", ViperKey: remindTestRecipientKey},
	}

	flags = append(flags, loggingFlags("remind")...)
	return append(flags, outputFlags("remind")...)
}

func init() {
	rootCmd.AddCommand(remindCmd)
	bindFlags(remindCmd, remindFlags())
}
