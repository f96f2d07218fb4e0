package cmd

import (
	"bytes"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
)

// setupViper clears viper and flag state so values do not leak between tests.
func setupViper() {
	viper.Reset()

	for _, c := range []struct {
		cmd  *cobra.Command
		defs []flagDef
	}{
		{provisionCmd, provisionFlags()},
		{remindCmd, remindFlags()},
	} {
		c.cmd.Flags().VisitAll(func(f *pflag.Flag) {
			_ = f.Value.Set(f.DefValue)
			f.Changed = false // Tell cobra this flag wasn't explicitly set
		})
		bindViper(c.cmd, c.defs)
	}
}

// executeCommand is a helper to run cobra commands and capture output
func executeCommand(args ...string) (string, error) {
	setupViper()

	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetIn(strings.NewReader(""))
	rootCmd.SetArgs(args)

	err := rootCmd.Execute()
	return buf.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := executeCommand("version")
	assert.NoError(t, err)
	assert.Contains(t, out, "medivrit-ops dev")
}

func TestFlagUsageNamesEnv(t *testing.T) {
	f := provisionCmd.Flags().Lookup("backend-url")
	assert.Contains(t, f.Usage, "(env: MEDIVRIT_BACKEND_URL, SUPABASE_URL, VITE_SUPABASE_URL)")

	f = remindCmd.Flags().Lookup("backend-key")
	assert.Contains(t, f.Usage, "(env: MEDIVRIT_BACKEND_KEY, SUPABASE_SERVICE_ROLE_KEY)")
	assert.NotContains(t, f.Usage, "ANON")
}

func TestProvisionFlags(t *testing.T) {
	setupViper()

	err := provisionCmd.ParseFlags([]string{
		"--backend-url", "sqlite://./data",
		"--exercises-file", "x.json",
		"--reset",
		"-l", "debug",
		"-o", "yaml",
	})
	assert.NoError(t, err)

	cfg := provisionConfig()
	assert.Equal(t, "sqlite://./data", cfg.BackendURL)
	assert.Equal(t, "x.json", cfg.ExercisesFile)
	assert.True(t, cfg.Reset)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "yaml", cfg.Format)
	assert.True(t, cfg.Color)
}

func TestProvisionEnvVariables(t *testing.T) {
	setupViper()

	t.Setenv("VITE_SUPABASE_URL", "https://abc.supabase.co")
	t.Setenv("VITE_SUPABASE_ANON_KEY", "anon")
	t.Setenv("MEDIVRIT_EXERCISES_FILE", "data.json")

	cfg := provisionConfig()
	assert.Equal(t, "https://abc.supabase.co", cfg.BackendURL)
	assert.Equal(t, "anon", cfg.BackendKey)
	assert.Equal(t, "data.json", cfg.ExercisesFile)
	assert.Equal(t, defaultExercisesFile, provisionCmd.Flags().Lookup("exercises-file").DefValue)

	// The prefixed name wins over the aliases.
	t.Setenv("MEDIVRIT_BACKEND_URL", "sqlite://./local")
	assert.Equal(t, "sqlite://./local", provisionConfig().BackendURL)
}

func TestRemindEnvVariables(t *testing.T) {
	setupViper()

	t.Setenv("SUPABASE_URL", "https://abc.supabase.co")
	t.Setenv("SUPABASE_SERVICE_ROLE_KEY", "service")
	t.Setenv("VITE_SUPABASE_ANON_KEY", "anon")
	t.Setenv("GMAIL_ADDRESS", "team@med-ivrit.example")
	t.Setenv("GMAIL_APP_PASSWORD", "secret")
	t.Setenv("MEDIVRIT_DELAY", "5s")

	cfg := remindConfig()
	assert.Equal(t, "https://abc.supabase.co", cfg.BackendURL)
	assert.Equal(t, "service", cfg.BackendKey, "the anon key must never be used for the directory")
	assert.Equal(t, "team@med-ivrit.example", cfg.SMTPUsername)
	assert.Equal(t, "secret", cfg.SMTPPassword)
	assert.Equal(t, "5s", cfg.Delay.String())
	assert.Equal(t, 465, cfg.SMTPPort)
	assert.Equal(t, "smtp.gmail.com", cfg.SMTPHost)
}
