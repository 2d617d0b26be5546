// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pdiddy/scad2stl/internal/history"
	"github.com/pdiddy/scad2stl/pkg/types"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List or export the conversion history",
	Long: `History reads the SQLite log of conversion attempts kept in history.dir
when history.enabled is set. Only a digest and the size of each source are
stored, never the source itself.`,
}

// --- list subcommand ---

var historyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent conversions, newest first",
	RunE:  runHistoryList,
}

func runHistoryList(cmd *cobra.Command, args []string) error {
	store, err := openHistory()
	if err != nil {
		return err
	}
	defer store.Close()

	opts, err := listOptsFromFlags(cmd)
	if err != nil {
		return err
	}
	records, err := store.List(cmd.Context(), opts)
	if err != nil {
		return err
	}

	jsonOutput, _ := cmd.Flags().GetBool("json")
	return formatHistory(os.Stdout, records, jsonOutput)
}

func formatHistory(w io.Writer, records []types.ConversionRecord, jsonOutput bool) error {
	if jsonOutput {
		if records == nil {
			records = []types.ConversionRecord{}
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(records)
	}

	if len(records) == 0 {
		fmt.Fprintln(w, "No conversions recorded.")
		return nil
	}

	fmt.Fprintf(w, "%-5s  %-20s  %-9s  %-9s  %8s  %7s  %s\n",
		"ID", "Started", "Backend", "Status", "Duration", "Facets", "Message")
	fmt.Fprintln(w, strings.Repeat("-", 100))

	for _, r := range records {
		msg := r.Message
		if len(msg) > 40 {
			msg = msg[:37] + "..."
		}
		fmt.Fprintf(w, "%-5d  %-20s  %-9s  %-9s  %8s  %7d  %s\n",
			r.ID, r.StartedAt.Local().Format(time.DateTime), r.Backend, r.Status,
			r.Duration.Round(time.Millisecond), r.Facets, msg)
	}

	fmt.Fprintf(w, "\n%d conversions\n", len(records))
	return nil
}

// --- export subcommand ---

var historyExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the conversion history to YAML or JSON",
	Long: `Export writes every recorded conversion (or a filtered subset) with a
summary by status. Without --output the file is written to
history.dir/export.yaml or export.json; "--output -" writes to stdout.`,
	RunE: runHistoryExport,
}

func runHistoryExport(cmd *cobra.Command, args []string) error {
	formatFlag, _ := cmd.Flags().GetString("format")
	format, err := history.ParseFormat(formatFlag)
	if err != nil {
		return err
	}

	store, err := openHistory()
	if err != nil {
		return err
	}
	defer store.Close()

	opts, err := listOptsFromFlags(cmd)
	if err != nil {
		return err
	}

	output, _ := cmd.Flags().GetString("output")
	switch output {
	case "":
		path, err := store.ExportFile(cmd.Context(), format, opts)
		if err != nil {
			return err
		}
		fmt.Printf("Exported to %s\n", path)
		return nil
	case "-":
		return store.WriteExport(cmd.Context(), os.Stdout, format, opts)
	}

	f, err := os.Create(output)
	if err != nil {
		return err
	}
	if err := store.WriteExport(cmd.Context(), f, format, opts); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	fmt.Printf("Exported to %s\n", output)
	return nil
}

// --- shared helpers ---

func openHistory() (*history.Store, error) {
	cfg, err := loadConfig(viper.GetViper())
	if err != nil {
		return nil, err
	}
	return history.NewStore(cfg.History, logger)
}

func listOptsFromFlags(cmd *cobra.Command) (history.ListOptions, error) {
	limit, _ := cmd.Flags().GetInt("limit")
	status, _ := cmd.Flags().GetString("status")
	since, _ := cmd.Flags().GetDuration("since")

	opts := history.ListOptions{
		Limit:  limit,
		Status: types.ConversionStatus(status),
	}
	switch opts.Status {
	case "", types.ConversionDone, types.ConversionEmpty, types.ConversionFailed:
	default:
		return opts, fmt.Errorf("unknown status %q: use converted, empty, or failed", status)
	}
	if since > 0 {
		opts.Since = time.Now().Add(-since)
	}
	return opts, nil
}

func init() {
	historyCmd.PersistentFlags().String("status", "", "filter by status: converted, empty, failed")
	historyCmd.PersistentFlags().Duration("since", 0, "only conversions started within this duration, e.g. 24h")

	historyListCmd.Flags().Int("limit", 0, "maximum records (0 = history.max_results)")
	historyListCmd.Flags().Bool("json", false, "output records as JSON")

	historyExportCmd.Flags().String("format", "yaml", "export format: yaml or json")
	historyExportCmd.Flags().StringP("output", "o", "", "output file, or - for stdout")
	historyExportCmd.Flags().Int("limit", 0, "maximum records to export (0 = all)")

	historyCmd.AddCommand(historyListCmd)
	historyCmd.AddCommand(historyExportCmd)

	rootCmd.AddCommand(historyCmd)
}
