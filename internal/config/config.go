package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-playground/validator/v10"
	"github.com/golang-jwt/jwt/v5"
	"github.com/samber/lo"

	"github.com/med-ivrit/medivrit-ops/internal/backend"
)

// EnvPrefix is prepended to every setting when read from the environment.
const EnvPrefix = "MEDIVRIT"

const serviceRole = "service_role"

// ErrInvalidConfig wraps every configuration validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// Logging configures the charmbracelet logger.
type Logging struct {
	LogLevel  string `flag:"log-level" validate:"omitempty,loglevel"`
	LogFormat string `flag:"log-format" validate:"omitempty,oneof=text json"`
}

// Output configures how results are written to stdout.
type Output struct {
	Format string `flag:"output" validate:"omitempty,oneof=text json yaml"`
	Color  bool   `flag:"color"`
}

// Provision holds everything the provision command needs.
type Provision struct {
	BackendURL     string `flag:"backend-url" validate:"required,backendurl"`
	BackendKey     string `flag:"backend-key"`
	ExercisesFile  string `flag:"exercises-file" validate:"required"`
	Reset          bool   `flag:"reset"`
	SkipSchema     bool   `flag:"skip-schema"`
	AssumeYes      bool   `flag:"yes"`
	Strict         bool   `flag:"strict"`
	PushgatewayURL string `flag:"pushgateway-url" validate:"omitempty,url"`

	Logging
	Output
}

// Reminder holds everything the remind command needs.
type Reminder struct {
	BackendURL     string        `flag:"backend-url" validate:"omitempty,backendurl"`
	BackendKey     string        `flag:"backend-key"`
	SMTPHost       string        `flag:"smtp-host" validate:"required,hostname_rfc1123"`
	SMTPPort       int           `flag:"smtp-port" validate:"min=1,max=65535"`
	SMTPUsername   string        `flag:"smtp-username" validate:"omitempty,email"`
	SMTPPassword   string        `flag:"smtp-password"`
	FromName       string        `flag:"from-name"`
	Subject        string        `flag:"subject" validate:"required"`
	AppName        string        `flag:"app-name" validate:"required"`
	AppURL         string        `flag:"app-url" validate:"required,url"`
	Delay          time.Duration `flag:"delay"`
	PageSize       int           `flag:"page-size" validate:"min=1,max=1000"`
	DryRun         bool          `flag:"dry-run"`
	TestRecipient  string        `flag:"test-recipient" validate:"omitempty,email"`
	PushgatewayURL string        `flag:"pushgateway-url" validate:"omitempty,url"`

	Logging
	Output
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())

	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		return f.Tag.Get("flag")
	})

	_ = v.RegisterValidation("backendurl", func(fl validator.FieldLevel) bool {
		return backend.Supported(fl.Field().String())
	})

	_ = v.RegisterValidation("loglevel", func(fl validator.FieldLevel) bool {
		_, err := log.ParseLevel(fl.Field().String())
		return err == nil
	})

	v.RegisterStructValidation(provisionStructLevel, Provision{})
	v.RegisterStructValidation(reminderStructLevel, Reminder{})

	return v
}

// Validate checks every setting and reports all problems at once.
func (p Provision) Validate() error {
	return check(p)
}

// Validate checks every setting and reports all problems at once.
func (r Reminder) Validate() error {
	return check(r)
}

func provisionStructLevel(sl validator.StructLevel) {
	p := sl.Current().Interface().(Provision)

	if backend.IsREST(p.BackendURL) && p.BackendKey == "" {
		sl.ReportError(p.BackendKey, "backend-key", "BackendKey", "required_for_rest", "")
	}
}

func reminderStructLevel(sl validator.StructLevel) {
	r := sl.Current().Interface().(Reminder)

	// A test send goes to one fixed address and never touches the backend.
	if r.TestRecipient == "" {
		if r.BackendURL == "" {
			sl.ReportError(r.BackendURL, "backend-url", "BackendURL", "required", "")
		}
		if backend.IsREST(r.BackendURL) {
			if r.BackendKey == "" {
				sl.ReportError(r.BackendKey, "backend-key", "BackendKey", "required_for_rest", "")
			} else if !IsServiceRoleKey(r.BackendKey) {
				sl.ReportError(r.BackendKey, "backend-key", "BackendKey", serviceRole, "")
			}
		}
	}

	if !r.DryRun {
		if r.SMTPUsername == "" {
			sl.ReportError(r.SMTPUsername, "smtp-username", "SMTPUsername", "required", "")
		}
		if r.SMTPPassword == "" {
			sl.ReportError(r.SMTPPassword, "smtp-password", "SMTPPassword", "required", "")
		}
	}

	if r.Delay < 0 {
		sl.ReportError(r.Delay, "delay", "Delay", "min", "0")
	}
}

// IsServiceRoleKey reports whether key grants admin access. Legacy keys are
// JWTs carrying a role claim; newer secret keys are opaque and prefixed.
func IsServiceRoleKey(key string) bool {
	if strings.HasPrefix(key, "sb_secret_") {
		return true
	}

	claims := jwt.MapClaims{}
	_, _, err := jwt.NewParser().ParseUnverified(key, claims)
	if err != nil {
		return false
	}

	role, _ := claims["role"].(string)
	return role == serviceRole
}

// EnvName returns the primary environment variable for a flag.
func EnvName(flag string) string {
	return EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(flag, "-", "_"))
}

func check(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}

	var ve validator.ValidationErrors
	if !errors.As(err, &ve) {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	msgs := lo.Map([]validator.FieldError(ve), func(fe validator.FieldError, _ int) string {
		return describe(fe)
	})

	return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(lo.Uniq(msgs), "; "))
}

func describe(fe validator.FieldError) string {
	name := fe.Field()
	setting := fmt.Sprintf("--%s (env: %s)", name, EnvName(name))

	switch fe.Tag() {
	case "required":
		return setting + " is required"
	case "required_for_rest":
		return setting + " is required when the backend is a REST API url"
	case serviceRole:
		return setting + " must be a service role key to list users"
	case "backendurl":
		return fmt.Sprintf("%s must be an http(s), postgres or sqlite url", setting)
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s]", setting, fe.Param())
	case "loglevel":
		return setting + " is not a valid log level"
	case "min":
		return fmt.Sprintf("%s must be at least %s", setting, fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s", setting, fe.Param())
	}

	return fmt.Sprintf("%s failed on validation: %s", setting, fe.Tag())
}
