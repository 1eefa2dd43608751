package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/goodtune/tabtime/internal/config"
	"github.com/goodtune/tabtime/internal/storage"
	"github.com/goodtune/tabtime/internal/timeutil"
	"github.com/goodtune/tabtime/internal/usage"
)

var (
	usageJSON  bool
	clearForce bool
)

var usageCmd = &cobra.Command{
	Use:   "usage [date]",
	Short: "Show time spent per site for a day",
	Long:  `Show time spent per site for a local date (YYYY-MM-DD). Defaults to today.`,
	Args:  cobra.MaximumNArgs(1),
	RunE:  runUsage,
}

var exportCmd = &cobra.Command{
	Use:   "export FILE",
	Short: "Export all usage records as JSON",
	Long:  `Export every usage record as a JSON array. Use - for standard output.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runExport,
}

var restoreCmd = &cobra.Command{
	Use:   "restore FILE",
	Short: "Replace all usage records from a JSON export",
	Args:  cobra.ExactArgs(1),
	RunE:  runRestore,
}

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete all usage records and the open session",
	RunE:  runClear,
}

func init() {
	usageCmd.Flags().BoolVar(&usageJSON, "json", false, "Print the result as JSON")
	clearCmd.Flags().BoolVarP(&clearForce, "yes", "y", false, "Do not ask for confirmation")

	rootCmd.AddCommand(usageCmd, exportCmd, restoreCmd, clearCmd)
}

// cliLogger keeps command output clean; only problems reach stderr.
func cliLogger() zerolog.Logger {
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		Level(zerolog.WarnLevel).
		With().Timestamp().Logger()
}

// withBackend loads configuration, opens a backend and runs fn against it.
func withBackend(cmd *cobra.Command, fn func(ctx context.Context, b backend) error) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	b, err := openBackend(ctx, cfg, cliLogger())
	if err != nil {
		return err
	}
	defer func() { _ = b.Close() }()

	return fn(ctx, b)
}

func runUsage(cmd *cobra.Command, args []string) error {
	date := ""
	if len(args) == 1 {
		date = args[0]
		if _, err := time.Parse(timeutil.DateLayout, date); err != nil {
			return fmt.Errorf("date must be YYYY-MM-DD, got %q", date)
		}
	}

	return withBackend(cmd, func(ctx context.Context, b backend) error {
		stats, err := b.Usage(ctx, date)
		if err != nil {
			return err
		}
		if usageJSON {
			return writeRecords(cmd.OutOrStdout(), stats)
		}
		printUsage(cmd.OutOrStdout(), stats)
		return nil
	})
}

// printUsage renders stats with the busiest site first.
func printUsage(w io.Writer, stats *usage.Stats) {
	cyan := color.New(color.FgCyan, color.Bold)
	yellow := color.New(color.FgYellow)

	_, _ = cyan.Fprintf(w, "Usage for %s\n", stats.Date)
	if len(stats.Sites) == 0 {
		_, _ = fmt.Fprintln(w, "  no activity recorded")
		return
	}

	sites := make([]storage.DailyUsage, len(stats.Sites))
	copy(sites, stats.Sites)
	sort.SliceStable(sites, func(i, j int) bool {
		if sites[i].Seconds != sites[j].Seconds {
			return sites[i].Seconds > sites[j].Seconds
		}
		return sites[i].SiteKey < sites[j].SiteKey
	})

	width := 0
	for _, s := range sites {
		width = max(width, len(s.SiteKey))
	}
	for _, s := range sites {
		_, _ = fmt.Fprintf(w, "  %-*s  %s\n", width, s.SiteKey, timeutil.SummaryString(s.Seconds))
	}
	_, _ = fmt.Fprintln(w, "  "+strings.Repeat("-", width+14))
	_, _ = yellow.Fprintf(w, "  %-*s  %s\n", width, "total", timeutil.SummaryString(stats.TotalSeconds))
}

func runExport(cmd *cobra.Command, args []string) error {
	return withBackend(cmd, func(ctx context.Context, b backend) error {
		records, err := b.Export(ctx)
		if err != nil {
			return err
		}
		if records == nil {
			records = []storage.DailyUsage{}
		}

		if args[0] == "-" {
			return writeRecords(cmd.OutOrStdout(), records)
		}

		f, err := os.Create(args[0])
		if err != nil {
			return fmt.Errorf("failed to create export file: %w", err)
		}
		if err := writeRecords(f, records); err != nil {
			_ = f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return fmt.Errorf("failed to write export file: %w", err)
		}

		_, _ = color.New(color.FgGreen).Fprintf(cmd.OutOrStdout(), "✅ Exported %d record(s) to %s\n", len(records), args[0])
		return nil
	})
}

func runRestore(cmd *cobra.Command, args []string) error {
	records, err := readRecords(args[0])
	if err != nil {
		return err
	}

	return withBackend(cmd, func(ctx context.Context, b backend) error {
		if err := b.Restore(ctx, records); err != nil {
			return fmt.Errorf("failed to restore: %w", err)
		}
		_, _ = color.New(color.FgGreen).Fprintf(cmd.OutOrStdout(), "✅ Restored %d record(s) from %s\n", len(records), args[0])
		return nil
	})
}

func runClear(cmd *cobra.Command, args []string) error {
	if !clearForce {
		return fmt.Errorf("refusing to delete all usage data without --yes")
	}
	return withBackend(cmd, func(ctx context.Context, b backend) error {
		if err := b.ClearAll(ctx); err != nil {
			return fmt.Errorf("failed to clear: %w", err)
		}
		_, _ = color.New(color.FgRed, color.Bold).Fprintln(cmd.OutOrStdout(), "All usage data deleted")
		return nil
	})
}

func writeRecords(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to encode records: %w", err)
	}
	return nil
}

// readRecords loads and validates an export file.
func readRecords(path string) ([]storage.DailyUsage, error) {
	var r io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open restore file: %w", err)
		}
		defer func() { _ = f.Close() }()
		r = f
	}

	var records []storage.DailyUsage
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&records); err != nil {
		return nil, fmt.Errorf("failed to parse restore file: %w", err)
	}
	for i, record := range records {
		if err := storage.ValidateDailyUsage(record); err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
	}
	return records, nil
}
