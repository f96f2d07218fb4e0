package provision

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/fatih/color"

	"github.com/med-ivrit/medivrit-ops/internal/backend"
	"github.com/med-ivrit/medivrit-ops/internal/exercise"
)

var (
	// ErrSchemaFailed is returned when the table definitions could not be applied.
	ErrSchemaFailed = errors.New("table creation failed")
	// ErrCountMismatch is returned in strict mode when the verified total differs from the file.
	ErrCountMismatch = errors.New("verified row count does not match the exercises file")
)

const rule = "================================================================================"

// Options controls a provisioning run.
type Options struct {
	ExercisesFile string
	// Reset drops and recreates the tables, discarding every stored row.
	Reset      bool
	SkipSchema bool
	Strict     bool
	// Confirm is asked whether to continue with the upload after table
	// creation failed. A nil Confirm stops the run.
	Confirm func() bool
}

// SectionCount is the number of exercises stored for one SOAP section.
type SectionCount struct {
	Section string `json:"section" yaml:"section"`
	Count   int    `json:"count" yaml:"count"`
}

// Report summarizes a provisioning run.
type Report struct {
	TablesCreated bool           `json:"tablesCreated" yaml:"tablesCreated"`
	Reset         bool           `json:"reset" yaml:"reset"`
	Found         int            `json:"found" yaml:"found"`
	Uploaded      int            `json:"uploaded" yaml:"uploaded"`
	Total         int            `json:"total" yaml:"total"`
	Sections      []SectionCount `json:"sections" yaml:"sections"`
	Verified      bool           `json:"verified" yaml:"verified"`
}

// Mismatch reports whether the stored total differs from the rows in the file.
func (r Report) Mismatch() bool {
	return r.Verified && r.Total != r.Found
}

// Provisioner creates the exercise tables and loads them from a JSON file.
type Provisioner struct {
	Store  backend.Store
	Logger *slog.Logger
	// Out receives human-readable progress and the manual fallback SQL.
	Out io.Writer
}

// Run creates the tables, uploads the exercises and verifies the counts.
func (p *Provisioner) Run(ctx context.Context, opts Options) (Report, error) {
	report := Report{Reset: opts.Reset}

	if !opts.SkipSchema {
		err := p.CreateTables(ctx, opts.Reset)
		switch {
		case err == nil:
			report.TablesCreated = true
		case errors.Is(err, ErrSchemaFailed):
			p.warn("Table creation failed. Please create tables manually and try again.")
			p.warn("You can still proceed to upload data if tables already exist.")
			if opts.Confirm == nil || !opts.Confirm() {
				return report, err
			}
			p.Logger.Warn("Continuing with upload after failed table creation")
		default:
			return report, err
		}
	}

	found, uploaded, err := p.Upload(ctx, opts.ExercisesFile)
	report.Found = found
	if err != nil {
		return report, err
	}
	report.Uploaded = uploaded

	// Verification only reports; a failure here does not undo the upload.
	total, sections, err := p.Verify(ctx)
	if err != nil {
		p.fail("Error verifying data: %v", err)
		p.Logger.Error("Verification failed", "error", err)
		return report, nil
	}
	report.Total = total
	report.Sections = sections
	report.Verified = true

	if report.Mismatch() {
		p.Logger.Warn("Stored exercise count differs from the exercises file", "file", report.Found, "stored", report.Total)
		if opts.Strict {
			return report, fmt.Errorf("%w: file has %d, backend has %d", ErrCountMismatch, report.Found, report.Total)
		}
	}

	return report, nil
}

// CreateTables applies both table definitions. On failure the statements are
// written to Out so they can be run by hand, and ErrSchemaFailed is returned.
func (p *Provisioner) CreateTables(ctx context.Context, reset bool) error {
	log := p.Logger.With("component", "schema")
	defs := backend.Schema(p.Store.Dialect())

	p.printf("\n📦 Creating database tables...\n")
	if reset {
		log.Warn("Dropping and recreating tables, existing rows will be lost")
	}

	for _, def := range defs {
		p.printf("  Creating %s table...\n", def.Table)

		err := p.Store.ExecSQL(ctx, def.SQL(reset))
		if err != nil {
			log.Error("Failed to create table", "table", def.Table, "error", err)
			p.fail("Error creating tables: %v", err)
			p.manualFallback(defs, reset)
			return fmt.Errorf("%w: %s: %w", ErrSchemaFailed, def.Table, err)
		}

		p.ok("  ✓ %s table created", def.Table)
		log.Debug("Table created", "table", def.Table, "reset", reset)
	}

	p.ok("✅ Tables created successfully!\n")
	return nil
}

// Upload loads the exercises file and upserts every row in one call. It
// returns how many exercises the file held and how many rows the backend
// confirmed.
func (p *Provisioner) Upload(ctx context.Context, path string) (int, int, error) {
	log := p.Logger.With("component", "upload")

	p.printf("📤 Uploading exercises from JSON file...\n")

	exercises, err := exercise.Load(path)
	if err != nil {
		p.fail("Error: %v", err)
		return 0, 0, err
	}
	p.printf("  Found %d exercises in JSON file\n", len(exercises))

	rows, err := exercise.ToRows(exercises)
	if err != nil {
		p.fail("Error uploading exercises: %v", err)
		return len(exercises), 0, err
	}

	p.printf("  Uploading %d exercises...\n", len(rows))
	written, err := p.Store.UpsertExercises(ctx, rows)
	if err != nil {
		p.fail("Error uploading exercises: %v", err)
		return len(exercises), 0, fmt.Errorf("failed to upload exercises: %w", err)
	}

	log.Info("Uploaded exercises", "found", len(exercises), "written", written)
	p.ok("✅ Successfully uploaded %d exercises!\n", written)

	return len(exercises), written, nil
}

// Verify counts all stored exercises and the exercises in each SOAP section.
func (p *Provisioner) Verify(ctx context.Context) (int, []SectionCount, error) {
	p.printf("🔍 Verifying uploaded data...\n")

	total, err := p.Store.CountExercises(ctx, "")
	if err != nil {
		return 0, nil, err
	}
	p.printf("  Total exercises in database: %d\n", total)

	sections := make([]SectionCount, 0, len(exercise.Sections))
	for _, section := range exercise.Sections {
		n, err := p.Store.CountExercises(ctx, section)
		if err != nil {
			return 0, nil, err
		}
		sections = append(sections, SectionCount{Section: section, Count: n})
		p.printf("  - %s: %d\n", section, n)
	}

	p.ok("✅ Data verification complete!\n")
	return total, sections, nil
}

func (p *Provisioner) manualFallback(defs []backend.Definition, reset bool) {
	p.printf("\nNote: You may need to run this SQL manually in the SQL editor:\n")
	p.printf("\n%s\n", rule)
	for i, def := range defs {
		if i > 0 {
			p.printf("\n%s\n", rule)
		}
		p.printf("%s\n", strings.TrimSpace(def.SQL(reset)))
	}
	p.printf("%s\n\n", rule)
}

func (p *Provisioner) printf(format string, args ...any) {
	if p.Out == nil {
		return
	}
	_, _ = fmt.Fprintf(p.Out, format, args...)
}

func (p *Provisioner) ok(format string, args ...any) {
	if p.Out == nil {
		return
	}
	_, _ = color.New(color.FgGreen).Fprintf(p.Out, format+"\n", args...)
}

func (p *Provisioner) warn(format string, args ...any) {
	if p.Out == nil {
		return
	}
	_, _ = color.New(color.FgYellow).Fprintf(p.Out, "⚠️  "+format+"\n", args...)
}

func (p *Provisioner) fail(format string, args ...any) {
	if p.Out == nil {
		return
	}
	_, _ = color.New(color.FgRed).Fprintf(p.Out, "❌ "+format+"\n", args...)
}
