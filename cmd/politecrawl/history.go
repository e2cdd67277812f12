package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/nao1215/politecrawl/internal/config"
	"github.com/nao1215/politecrawl/internal/database"
)

// defaultHistoryLimit is the number of sessions listed without --limit.
const defaultHistoryLimit = 20

// NewHistoryCmd creates the history command.
// This command reads sessions stored in the database by 'politecrawl crawl'.
func NewHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history [session-id]",
		Short: "List stored crawl sessions",
		Long: `History lists the crawl sessions stored in the database, newest first.

Given a session ID, it prints the stored report of that session in the
same formats as 'politecrawl crawl'.

Examples:
  # List the 20 most recent sessions
  politecrawl history

  # List every stored session
  politecrawl history --limit 0

  # Show the report of one session as JSON
  politecrawl history --json 0b6a3c9e-8f5d-4c1a-9b7e-2d3f4a5b6c7d`,
		Args: cobra.MaximumNArgs(1),
		RunE: runHistoryCmd,
	}

	cmd.Flags().IntP("limit", "l", defaultHistoryLimit,
		"Maximum number of sessions to list (0 lists all)")
	cmd.Flags().String("db-dir", config.XDGDataDir(),
		"Directory holding the crawl database")

	// Output format flags
	cmd.Flags().BoolP("json", "j", false,
		"Output the session report in JSON format")
	cmd.Flags().BoolP("markdown", "m", false,
		"Output the session report in Markdown format")

	return cmd
}

// runHistoryCmd executes the history command.
func runHistoryCmd(cmd *cobra.Command, args []string) error {
	v, err := newViper(cmd)
	if err != nil {
		return err
	}

	jsonOutput := v.GetBool("json")
	markdownOutput := v.GetBool("markdown")
	if jsonOutput && markdownOutput {
		return config.ErrConflictingReportFormats
	}

	dbDir := v.GetString("db-dir")
	if dbDir == "" {
		return config.ErrNoDBDir
	}

	db, err := database.Open(dbDir, database.DefaultOptions())
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	out := cmd.OutOrStdout()

	if len(args) == 1 {
		return showSession(ctx, db, out, args[0], jsonOutput, markdownOutput, v.GetBool("verbose"))
	}
	return listSessions(ctx, db, out, v.GetInt("limit"))
}

// listSessions prints stored sessions as a table.
func listSessions(ctx context.Context, db *database.CrawlDB, out io.Writer, limit int) error {
	sessions, err := db.ListSessions(ctx, limit)
	if err != nil {
		return fmt.Errorf("failed to list sessions: %w", err)
	}

	if len(sessions) == 0 {
		fmt.Fprintln(out, "No crawl sessions found in the database.")
		fmt.Fprintln(out, "\nUse 'politecrawl crawl <url>' to start a crawl.")
		return nil
	}

	fmt.Fprintf(out, "Crawl sessions (%d):\n\n", len(sessions))

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "  ID\tStarted\tDuration\tStatus\tPages\tTarget")
	for _, meta := range sessions {
		fmt.Fprintf(tw, "  %s\t%s\t%s\t%s\t%d\t%s\n",
			meta.ID,
			meta.StartedAt.Local().Format("2006-01-02 15:04:05"),
			formatDuration(meta.StartedAt, meta.FinishedAt),
			meta.Status,
			meta.PagesScanned,
			meta.Target,
		)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	fmt.Fprintln(out, "\nUse 'politecrawl history <id>' to show the report of a session.")
	return nil
}

// showSession prints the stored report of one session.
func showSession(ctx context.Context, db *database.CrawlDB, out io.Writer, id string, jsonOutput, markdownOutput, verbose bool) error {
	r, err := db.GetSession(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to load session: %w", err)
	}
	if r == nil {
		return fmt.Errorf("session not found: %s", id)
	}

	_, err = newReportWriter(out, jsonOutput, markdownOutput, verbose).Write(r)
	return err
}

// formatDuration returns the wall time of a session, or "-" while unknown.
func formatDuration(started, finished time.Time) string {
	if started.IsZero() || finished.IsZero() || finished.Before(started) {
		return "-"
	}
	return finished.Sub(started).Round(time.Second).String()
}
