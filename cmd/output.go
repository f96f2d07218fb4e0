package cmd

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"time"

	"github.com/fatih/color"
	"github.com/hokaccha/go-prettyjson"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/med-ivrit/medivrit-ops/internal/config"
	"github.com/med-ivrit/medivrit-ops/internal/logging"
	"github.com/med-ivrit/medivrit-ops/internal/metrics"
)

const logo = ` __  __          _   ___               _ _
|  \/  | ___  __| | |_ _|_   ___ __(_) |_
| |\/| |/ -_)/ _' |  | |\ \ / / '__| |  _|
|_|  |_|\___|\__,_| |___|\_V /|_|  |_|\__|`

// formatOutput handles conversion and writing to the command's designated output
func formatOutput(cmd *cobra.Command, out config.Output, data interface{}, isError bool) {
	var s string

	switch out.Format {
	case "yaml":
		b, _ := yaml.Marshal(data)
		if out.Color {
			if isError {
				s = color.RedString(string(b))
			} else {
				s = color.CyanString(string(b))
			}
		} else {
			s = string(b)
		}

	case "json":
		fallthrough
	default:
		if out.Color {
			b, _ := prettyjson.Marshal(data)
			s = string(b)
		} else {
			b, _ := json.MarshalIndent(data, "", "  ")
			s = string(b)
		}
	}

	cmd.Println(s)
}

// structured reports whether results go to stdout as json or yaml. Progress
// lines then move to stderr so stdout stays parseable.
func structured(out config.Output) bool {
	return out.Format == "json" || out.Format == "yaml"
}

// progressWriter is where human-readable progress lines go.
func progressWriter(cmd *cobra.Command, out config.Output) io.Writer {
	if structured(out) {
		return cmd.ErrOrStderr()
	}
	return cmd.OutOrStdout()
}

func setupOutput(cmd *cobra.Command, out config.Output, l config.Logging) (*slog.Logger, error) {
	color.NoColor = !out.Color
	return logging.New(cmd.ErrOrStderr(), l.LogLevel, l.LogFormat)
}

func printBanner(w io.Writer, title string, info [][2]string) {
	accent := color.New(color.FgHiCyan, color.Bold)
	name := color.New(color.FgHiWhite, color.Bold)
	label := color.New(color.FgHiBlack)
	val := color.New(color.FgHiGreen)

	_, _ = accent.Fprintln(w, logo)
	_, _ = name.Fprintf(w, "  %s\n\n", title)

	for _, kv := range info {
		_, _ = label.Fprintf(w, "  %-10s", kv[0])
		_, _ = val.Fprintln(w, kv[1])
	}

	_, _ = io.WriteString(w, "\n")
}

const metricsPushTimeout = 10 * time.Second

// pushMetrics reports the run. The push outlives a canceled ctx so an
// interrupted run is still recorded.
func pushMetrics(ctx context.Context, reporter *metrics.Reporter, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), metricsPushTimeout)
	defer cancel()

	err := reporter.Push(ctx)
	if err != nil {
		logger.Warn("Could not report metrics", "error", err)
	}
}
