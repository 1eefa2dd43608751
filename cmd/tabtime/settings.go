package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/goodtune/tabtime/internal/settings"
)

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Inspect and change user settings",
	Long: `Inspect and change user settings.

Keys:
  pomodoro_enabled   true or false
  pomodoro_interval  seconds, a duration such as 25m, or HH:MM:SS
  site_limits        site=duration pairs separated by commas, or a JSON object of seconds
  show_changelog     true or false
  install_date       YYYY-MM-DD, recorded on first start`,
}

var settingsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List every setting",
	Args:  cobra.NoArgs,
	RunE:  runSettingsList,
}

var settingsGetCmd = &cobra.Command{
	Use:   "get KEY",
	Short: "Print one setting",
	Args:  cobra.ExactArgs(1),
	RunE:  runSettingsGet,
}

var settingsSetCmd = &cobra.Command{
	Use:   "set KEY VALUE",
	Short: "Change one setting",
	Example: `  tabtime settings set pomodoro_enabled true
  tabtime settings set pomodoro_interval 30m
  tabtime settings set site_limits "youtube.com=1h, news.ycombinator.com=20m"`,
	Args: cobra.MinimumNArgs(2),
	RunE: runSettingsSet,
}

func init() {
	settingsCmd.AddCommand(settingsListCmd, settingsGetCmd, settingsSetCmd)
	rootCmd.AddCommand(settingsCmd)
}

func runSettingsList(cmd *cobra.Command, args []string) error {
	return withBackend(cmd, func(ctx context.Context, b backend) error {
		values, err := b.All(ctx)
		if err != nil {
			return err
		}
		printSettings(cmd.OutOrStdout(), values)
		return nil
	})
}

// printSettings lists keys in their fixed order, dimming unset ones.
func printSettings(w io.Writer, values map[settings.Key]any) {
	cyan := color.New(color.FgCyan, color.Bold)
	faint := color.New(color.Faint)

	for _, key := range settings.Keys() {
		value, ok := values[key]
		if !ok {
			_, _ = faint.Fprintf(w, "%-18s (not set)\n", key)
			continue
		}
		_, _ = cyan.Fprintf(w, "%-18s", key)
		_, _ = fmt.Fprintf(w, " %s\n", settings.Format(key, value))
	}
}

func runSettingsGet(cmd *cobra.Command, args []string) error {
	key, err := settings.ParseKey(args[0])
	if err != nil {
		return err
	}
	return withBackend(cmd, func(ctx context.Context, b backend) error {
		value, err := b.Get(ctx, key)
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintln(cmd.OutOrStdout(), settings.Format(key, value))
		return nil
	})
}

func runSettingsSet(cmd *cobra.Command, args []string) error {
	key, err := settings.ParseKey(args[0])
	if err != nil {
		return err
	}
	raw := strings.Join(args[1:], " ")

	// Reject bad input before touching the store
	if _, err := settings.ParseValue(key, raw); err != nil {
		return err
	}

	return withBackend(cmd, func(ctx context.Context, b backend) error {
		if err := b.SetString(ctx, key, raw); err != nil {
			return err
		}
		value, err := b.Get(ctx, key)
		if err != nil {
			return err
		}
		_, _ = color.New(color.FgGreen).Fprintf(cmd.OutOrStdout(), "✅ %s = %s\n", key, settings.Format(key, value))
		return nil
	})
}
