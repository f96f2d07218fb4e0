package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/med-ivrit/medivrit-ops/internal/config"
)

// rootCmd represents the base command when called without any subcommands
var (
	cfgFile string
	envFile string
	project = "medivrit-ops"

	// Set at build time with -ldflags
	version = "dev"
	commit  = "none"
	date    = "unknown"

	rootCmd = &cobra.Command{
		Use:          project,
		Short:        "Provision Med-Ivrit exercise tables and send registration reminders",
		Version:      version,
		SilenceUsage: true,
	}
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version information",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Printf("%s %s (commit: %s, built: %s)\n", project, version, commit, date)
	},
}

// define config opts to be used by cobra + viper for configuration
type flagDef struct {
	Name      string
	Shorthand string
	Type      string // "bool", "string", "stringArray", "int", "duration"
	Default   interface{}
	Usage     string
	ViperKey  string
	// Aliases are extra environment variables accepted for this flag,
	// checked after the prefixed name.
	Aliases []string
}

// registerFlagTypes registers flags on the provided cobra command according
// to the provided definitions.
func registerFlagTypes(cmd *cobra.Command, defs []flagDef) {
	for _, d := range defs {
		switch d.Type {
		case "bool":
			cmd.Flags().BoolP(d.Name, d.Shorthand, d.Default.(bool), d.Usage)
		case "duration":
			cmd.Flags().DurationP(d.Name, d.Shorthand, d.Default.(time.Duration), d.Usage)
		case "int":
			cmd.Flags().IntP(d.Name, d.Shorthand, d.Default.(int), d.Usage)
		case "string":
			cmd.Flags().StringP(d.Name, d.Shorthand, d.Default.(string), d.Usage)
		case "stringArray":
			cmd.Flags().StringArrayP(d.Name, d.Shorthand, d.Default.([]string), d.Usage)
		}
	}
}

// bindFlags registers defs on cmd and binds each one to its viper key, its
// prefixed environment variable and any aliases.
func bindFlags(cmd *cobra.Command, defs []flagDef) {
	registerFlagTypes(cmd, defs)
	bindViper(cmd, defs)

	for _, d := range defs {
		f := cmd.Flags().Lookup(d.Name)
		if strings.Contains(f.Usage, "env:") {
			continue
		}
		envs := append([]string{config.EnvName(d.Name)}, d.Aliases...)
		f.Usage = fmt.Sprintf("%s (env: %s)", f.Usage, strings.Join(envs, ", "))
	}
}

func bindViper(cmd *cobra.Command, defs []flagDef) {
	for _, d := range defs {
		_ = viper.BindPFlag(d.ViperKey, cmd.Flags().Lookup(d.Name))
		_ = viper.BindEnv(append([]string{d.ViperKey, config.EnvName(d.Name)}, d.Aliases...)...)
	}
}

func loggingFlags(prefix string) []flagDef {
	return []flagDef{
		{Name: "log-format", Shorthand: "f", Type: "string", Default: "text", Usage: "Logging format. Supported values are 'text' and 'json'.", ViperKey: prefix + ".log-format"},
		{Name: "log-level", Shorthand: "l", Type: "string", Default: "info", Usage: "Logging level.", ViperKey: prefix + ".log-level"},
	}
}

func outputFlags(prefix string) []flagDef {
	return []flagDef{
		{Name: "output", Shorthand: "o", Type: "string", Default: "text", Usage: "Result format. Supported values are 'text', 'json' and 'yaml'.", ViperKey: prefix + ".output"},
		{Name: "color", Type: "bool", Default: true, Usage: "Colorize output.", ViperKey: prefix + ".color"},
		{Name: "pushgateway-url", Type: "string", Default: "", Usage: "Prometheus Pushgateway to report the run to. Disabled when empty.", ViperKey: prefix + ".pushgateway-url"},
	}
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := rootCmd.ExecuteContext(ctx)
	if err != nil {
		stop()
		os.Exit(1)
	}
}

// initConfig loads the .env file and the config file if present.
func initConfig() {
	// Variables already set in the environment win over the .env file.
	_ = godotenv.Load(envFile)

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, _ := os.UserHomeDir()
		if home != "" {
			viper.AddConfigPath(home)
		}
		viper.AddConfigPath(".")
		viper.SetConfigName(project)
		viper.SetConfigType("yaml")
	}

	// Silently ignore missing config file; flags and env vars still work.
	_ = viper.ReadInConfig()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (default: ./medivrit-ops.yaml or ~/medivrit-ops.yaml)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Dotenv file to load before reading the environment.")

	rootCmd.AddCommand(versionCmd)
}
