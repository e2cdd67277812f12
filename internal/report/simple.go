package report

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/nao1215/politecrawl/internal/model"
)

// SimpleWriter outputs human-readable text reports for terminal display.
type SimpleWriter struct {
	baseWriter

	// verbose lists every page instead of the first maxPages.
	verbose bool

	// maxPages is the number of pages listed when not verbose.
	maxPages int
}

// SimpleWriterOption configures a SimpleWriter.
type SimpleWriterOption func(*SimpleWriter)

// WithVerbose lists every page of the session.
func WithVerbose(verbose bool) SimpleWriterOption {
	return func(w *SimpleWriter) {
		w.verbose = verbose
	}
}

// WithMaxPages sets how many pages are listed when not verbose.
func WithMaxPages(n int) SimpleWriterOption {
	return func(w *SimpleWriter) {
		if n >= 0 {
			w.maxPages = n
		}
	}
}

// NewSimpleWriter creates a SimpleWriter that outputs to the given writer.
func NewSimpleWriter(output io.Writer, opts ...SimpleWriterOption) *SimpleWriter {
	w := &SimpleWriter{
		baseWriter: newBaseWriter(output),
		maxPages:   20,
	}

	for _, opt := range opts {
		opt(w)
	}

	return w
}

// Write outputs the report in human-readable format.
func (w *SimpleWriter) Write(report *model.SessionReport) (int, error) {
	var sb strings.Builder

	w.writeHeader(&sb, report)
	w.writeStats(&sb, report)
	w.writeOptions(&sb, report)
	w.writePages(&sb, report)
	w.writeFooter(&sb)

	return w.output.Write([]byte(sb.String()))
}

// writeHeader writes the report header with session information.
func (w *SimpleWriter) writeHeader(sb *strings.Builder, report *model.SessionReport) {
	sb.WriteString("\n")
	sb.WriteString(strings.Repeat("=", 70))
	sb.WriteString("\n")
	sb.WriteString("                       POLITECRAWL REPORT\n")
	sb.WriteString(strings.Repeat("=", 70))
	sb.WriteString("\n\n")

	fmt.Fprintf(sb, "Target:         %s\n", report.Target)
	fmt.Fprintf(sb, "Session:        %s\n", report.SessionID)
	fmt.Fprintf(sb, "Started:        %s\n", report.StartedAt.Format(dateFormat))
	if !report.FinishedAt.IsZero() {
		fmt.Fprintf(sb, "Finished:       %s\n", report.FinishedAt.Format(dateFormat))
	}

	switch report.Status() {
	case "stopped":
		sb.WriteString("Status:         STOPPED (partial results)\n")
	case "failed":
		sb.WriteString("Status:         FAILED - no page could be fetched\n")
	default:
		sb.WriteString("Status:         Complete\n")
	}
	if report.RenderNotice != "" {
		fmt.Fprintf(sb, "Renderer:       %s\n", report.RenderNotice)
	}

	sb.WriteString("\n")
}

// writeStats writes the final statistics.
func (w *SimpleWriter) writeStats(sb *strings.Builder, report *model.SessionReport) {
	s := report.Stats

	sb.WriteString(strings.Repeat("-", 70))
	sb.WriteString("\n")
	sb.WriteString("STATISTICS\n")
	sb.WriteString(strings.Repeat("-", 70))
	sb.WriteString("\n")

	fmt.Fprintf(sb, "  Pages scanned:   %d\n", s.PagesScanned)
	fmt.Fprintf(sb, "  Links found:     %d\n", s.LinksFound)
	fmt.Fprintf(sb, "  Media files:     %d\n", s.MediaFiles)
	fmt.Fprintf(sb, "  Total data:      %.2f KB\n", s.TotalData)
	fmt.Fprintf(sb, "  Succeeded:       %d\n", s.SuccessCount)
	fmt.Fprintf(sb, "  Failed:          %d\n", s.FailureCount)
	fmt.Fprintf(sb, "  Skipped:         %d\n", s.SkippedCount)
	fmt.Fprintf(sb, "  Success rate:    %.2f%%\n", s.SuccessRate)
	fmt.Fprintf(sb, "  Elapsed:         %s\n", formatElapsed(s.ElapsedTime))
	fmt.Fprintf(sb, "  Pages/second:    %.2f\n", s.PagesPerSecond)
	sb.WriteString("\n")
}

// writeOptions writes the session options in key order.
func (w *SimpleWriter) writeOptions(sb *strings.Builder, report *model.SessionReport) {
	if !w.verbose || len(report.Options) == 0 {
		return
	}

	sb.WriteString("OPTIONS\n")
	keys := make([]string, 0, len(report.Options))
	for k := range report.Options {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(sb, "  %-22s %v\n", k+":", report.Options[k])
	}
	sb.WriteString("\n")
}

// writePages lists the fetched pages.
func (w *SimpleWriter) writePages(sb *strings.Builder, report *model.SessionReport) {
	if len(report.Pages) == 0 {
		sb.WriteString("No pages were fetched.\n\n")
		return
	}

	sb.WriteString("PAGES\n")
	pages := report.Pages
	if !w.verbose && len(pages) > w.maxPages {
		pages = pages[:w.maxPages]
	}
	for _, p := range pages {
		marker := " "
		if p.IsDynamic {
			marker = "*"
		}
		title := p.Title
		if title == "" {
			title = "-"
		}
		fmt.Fprintf(sb, "  %s [%d] d=%d %s  %s\n", marker, p.StatusCode, p.Depth, p.URL, truncateString(title, 40))
	}
	if rest := len(report.Pages) - len(pages); rest > 0 {
		fmt.Fprintf(sb, "  ... and %d more (use --verbose to list all)\n", rest)
	}
	sb.WriteString("\n")
}

// writeFooter writes the report footer.
func (w *SimpleWriter) writeFooter(sb *strings.Builder) {
	sb.WriteString(strings.Repeat("=", 70))
	sb.WriteString("\n")
}
