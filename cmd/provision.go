package cmd

import (
	"bufio"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/med-ivrit/medivrit-ops/internal/backend"
	"github.com/med-ivrit/medivrit-ops/internal/config"
	"github.com/med-ivrit/medivrit-ops/internal/metrics"
	"github.com/med-ivrit/medivrit-ops/internal/provision"
)

// Constants for Viper keys
const (
	provisionBackendURLKey     = "provision.backend-url"
	provisionBackendKeyKey     = "provision.backend-key"
	provisionExercisesFileKey  = "provision.exercises-file"
	provisionResetKey          = "provision.reset"
	provisionSkipSchemaKey     = "provision.skip-schema"
	provisionYesKey            = "provision.yes"
	provisionStrictKey         = "provision.strict"
	provisionLogFormatKey      = "provision.log-format"
	provisionLogLevelKey       = "provision.log-level"
	provisionOutputKey         = "provision.output"
	provisionColorKey          = "provision.color"
	provisionPushgatewayURLKey = "provision.pushgateway-url"

	defaultExercisesFile = "public/data/soapExercises.json"
)

var provisionCmd = &cobra.Command{
	Use:   "provision",
	Short: "Create the exercise tables and upload exercises from JSON",
	Long: `Creates the soap_exercises and soap_test_results tables with their indexes and
access rules, upserts every exercise from the JSON file and verifies the stored counts.

Tables are only dropped and recreated with --reset, which discards every stored row.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := provisionConfig()

		err := cfg.Validate()
		if err != nil {
			return err
		}

		logger, err := setupOutput(cmd, cfg.Output, cfg.Logging)
		if err != nil {
			return err
		}

		progress := progressWriter(cmd, cfg.Output)
		printBanner(progress, "SOAP Exercises - Database Setup & Upload", [][2]string{
			{"backend", backend.Redact(cfg.BackendURL)},
			{"file", cfg.ExercisesFile},
			{"reset", strconv.FormatBool(cfg.Reset)},
		})

		store, err := backend.New(cfg.BackendURL, cfg.BackendKey)
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()

		p := &provision.Provisioner{Store: store, Logger: logger, Out: progress}
		stdin := bufio.NewReader(cmd.InOrStdin())

		report, runErr := p.Run(cmd.Context(), provision.Options{
			ExercisesFile: cfg.ExercisesFile,
			Reset:         cfg.Reset,
			SkipSchema:    cfg.SkipSchema,
			Strict:        cfg.Strict,
			Confirm: func() bool {
				if cfg.AssumeYes {
					return true
				}
				_, _ = fmt.Fprint(progress, "\nDo you want to continue with data upload? (y/n): ")
				answer, _ := stdin.ReadString('\n')
				return strings.EqualFold(strings.TrimSpace(answer), "y")
			},
		})

		reporter := metrics.NewReporter(cfg.PushgatewayURL, "medivrit_provision", logger)
		reporter.Upserted(report.Uploaded)
		for _, s := range report.Sections {
			reporter.Stored(s.Section, s.Count)
		}
		if runErr == nil {
			reporter.Succeeded()
		}
		pushMetrics(cmd.Context(), reporter, logger)

		if structured(cfg.Output) {
			formatOutput(cmd, cfg.Output, report, runErr != nil)
		} else if runErr == nil {
			_, _ = fmt.Fprintln(progress, "🎉 All done! Your SOAP exercises are ready to use.")
		}

		return runErr
	},
}

func provisionConfig() config.Provision {
	return config.Provision{
		BackendURL:     viper.GetString(provisionBackendURLKey),
		BackendKey:     viper.GetString(provisionBackendKeyKey),
		ExercisesFile:  viper.GetString(provisionExercisesFileKey),
		Reset:          viper.GetBool(provisionResetKey),
		SkipSchema:     viper.GetBool(provisionSkipSchemaKey),
		AssumeYes:      viper.GetBool(provisionYesKey),
		Strict:         viper.GetBool(provisionStrictKey),
		PushgatewayURL: viper.GetString(provisionPushgatewayURLKey),
		Logging: config.Logging{
			LogLevel:  viper.GetString(provisionLogLevelKey),
			LogFormat: viper.GetString(provisionLogFormatKey),
		},
		Output: config.Output{
			Format: viper.GetString(provisionOutputKey),
			Color:  viper.GetBool(provisionColorKey),
		},
	}
}

func provisionFlags() []flagDef {
	flags := []flagDef{
		{Name: "backend-url", Shorthand: "u", Type: "string", Default: "", Usage: "Backend to provision: the project REST url, a postgres:// connection string or sqlite://<dir>.", ViperKey: provisionBackendURLKey, Aliases: []string{"SUPABASE_URL", "VITE_SUPABASE_URL"}},
		{Name: "backend-key", Shorthand: "k", Type: "string", Default: "", Usage: "API key for a REST backend.", ViperKey: provisionBackendKeyKey, Aliases: []string{"VITE_SUPABASE_ANON_KEY", "SUPABASE_SERVICE_ROLE_KEY"}},
		{Name: "exercises-file", Shorthand: "e", Type: "string", Default: defaultExercisesFile, Usage: "JSON document holding {\"exercises\": [...]}.", ViperKey: provisionExercisesFileKey},
		{Name: "reset", Type: "bool", Default: false, Usage: "Drop and recreate both tables before uploading. Deletes every stored row.", ViperKey: provisionResetKey},
		{Name: "skip-schema", Type: "bool", Default: false, Usage: "Skip table creation and only upload.", ViperKey: provisionSkipSchemaKey},
		{Name: "yes", Shorthand: "y", Type: "bool", Default: false, Usage: "Continue with the upload without asking when table creation fails.", ViperKey: provisionYesKey},
		{Name: "strict", Type: "bool", Default: false, Usage: "Fail when the stored total differs from the number of exercises in the file.", ViperKey: provisionStrictKey},
	}

	flags = append(flags, loggingFlags("provision")...)
	return append(flags, outputFlags("provision")...)
}

func init() {
	rootCmd.AddCommand(provisionCmd)
	bindFlags(provisionCmd, provisionFlags())
}
