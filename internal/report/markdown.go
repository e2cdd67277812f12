package report

import (
	"fmt"
	"io"
	"strconv"

	"github.com/nao1215/markdown"
	"github.com/nao1215/markdown/mermaid/piechart"

	"github.com/nao1215/politecrawl/internal/model"
)

// MarkdownWriter outputs reports in Markdown format.
// This format is designed for documentation and sharing.
type MarkdownWriter struct {
	baseWriter
}

// NewMarkdownWriter creates a MarkdownWriter that outputs to the given writer.
func NewMarkdownWriter(output io.Writer) *MarkdownWriter {
	return &MarkdownWriter{
		baseWriter: newBaseWriter(output),
	}
}

// Write outputs the report in Markdown format.
func (w *MarkdownWriter) Write(report *model.SessionReport) (int, error) {
	md := markdown.NewMarkdown(w.output)

	w.writeHeader(md, report)
	w.writeStats(md, report)
	w.writePages(md, report)
	w.writeFooter(md)

	return len(md.String()), md.Build()
}

// writeHeader writes the report header with session information.
func (w *MarkdownWriter) writeHeader(md *markdown.Markdown, report *model.SessionReport) {
	md.H1("Crawl Report")
	md.PlainText("")

	rows := [][]string{
		{"Target", "`" + report.Target + "`"},
		{"Session", "`" + report.SessionID + "`"},
		{"Started", report.StartedAt.Format(dateFormat)},
	}
	if !report.FinishedAt.IsZero() {
		rows = append(rows, []string{"Finished", report.FinishedAt.Format(dateFormat)})
	}
	rows = append(rows, []string{"Status", w.getStatusText(report)})

	md.Table(markdown.TableSet{
		Header: []string{"Property", "Value"},
		Rows:   rows,
	})
	md.PlainText("")

	if report.RenderNotice != "" {
		md.Note("Dynamic rendering was unavailable: " + report.RenderNotice)
		md.PlainText("")
	}
}

// getStatusText returns the status text based on report state.
func (w *MarkdownWriter) getStatusText(report *model.SessionReport) string {
	switch report.Status() {
	case "stopped":
		return "⚠️ Stopped (partial results)"
	case "failed":
		return "❌ Failed"
	default:
		return "✅ Complete"
	}
}

// writeStats writes the statistics table, chart and alert.
func (w *MarkdownWriter) writeStats(md *markdown.Markdown, report *model.SessionReport) {
	s := report.Stats

	md.H2("Statistics")
	md.PlainText("")

	md.Table(markdown.TableSet{
		Header: []string{"Metric", "Value"},
		Rows: [][]string{
			{"Pages scanned", strconv.FormatInt(s.PagesScanned, 10)},
			{"Links found", strconv.FormatInt(s.LinksFound, 10)},
			{"Media files", strconv.FormatInt(s.MediaFiles, 10)},
			{"Total data", fmt.Sprintf("%.2f KB", s.TotalData)},
			{"Succeeded", strconv.FormatInt(s.SuccessCount, 10)},
			{"Failed", strconv.FormatInt(s.FailureCount, 10)},
			{"Skipped", strconv.FormatInt(s.SkippedCount, 10)},
			{"Success rate", fmt.Sprintf("%.2f%%", s.SuccessRate)},
			{"Elapsed", formatElapsed(s.ElapsedTime)},
			{"Pages/second", fmt.Sprintf("%.2f", s.PagesPerSecond)},
		},
	})
	md.PlainText("")

	if s.SuccessCount+s.FailureCount+s.SkippedCount > 0 {
		w.writePieChart(md, s)
	}
	w.writeAlert(md, report)
}

// writePieChart writes a mermaid pie chart of request outcomes.
func (w *MarkdownWriter) writePieChart(md *markdown.Markdown, s model.FinalStats) {
	chart := piechart.NewPieChart(
		io.Discard,
		piechart.WithTitle("Request Outcomes"),
		piechart.WithShowData(true),
	)

	if s.SuccessCount > 0 {
		chart.LabelAndIntValue("Succeeded", uint64(s.SuccessCount))
	}
	if s.FailureCount > 0 {
		chart.LabelAndIntValue("Failed", uint64(s.FailureCount))
	}
	if s.SkippedCount > 0 {
		chart.LabelAndIntValue("Skipped", uint64(s.SkippedCount))
	}

	md.PlainText("")
	md.CodeBlocks(markdown.SyntaxHighlightMermaid, chart.String())
	md.PlainText("")
}

// writeAlert writes an alert summarizing how the session went.
func (w *MarkdownWriter) writeAlert(md *markdown.Markdown, report *model.SessionReport) {
	s := report.Stats
	switch {
	case report.Status() == "failed":
		md.Cautionf("No page could be fetched. %d request(s) failed.", s.FailureCount)
	case report.StoppedEarly:
		md.Warningf("The session was stopped early after %d page(s).", s.PagesScanned)
	case s.FailureCount > 0:
		md.Importantf("%d request(s) failed after all retries.", s.FailureCount)
	default:
		md.Tip("Every request succeeded.")
	}
	md.PlainText("")
}

// writePages writes the table of fetched pages.
func (w *MarkdownWriter) writePages(md *markdown.Markdown, report *model.SessionReport) {
	md.H2("Pages")
	md.PlainText("")

	if len(report.Pages) == 0 {
		md.PlainText("No pages were fetched.")
		md.PlainText("")
		return
	}

	rows := make([][]string, len(report.Pages))
	for i, p := range report.Pages {
		title := p.Title
		if title == "" {
			title = "-"
		}
		rendered := "static"
		if p.IsDynamic {
			rendered = "dynamic"
		}
		rows[i] = []string{
			truncateString(p.URL, 60),
			truncateString(title, 40),
			strconv.Itoa(p.StatusCode),
			strconv.Itoa(p.Depth),
			strconv.Itoa(p.Links),
			strconv.Itoa(p.WordCount),
			rendered,
		}
	}

	md.Table(markdown.TableSet{
		Header: []string{"URL", "Title", "Status", "Depth", "Links", "Words", "Fetch"},
		Rows:   rows,
	})
	md.PlainText("")
}

// writeFooter writes the report footer.
func (w *MarkdownWriter) writeFooter(md *markdown.Markdown) {
	md.HorizontalRule()
	md.PlainText("")
	md.PlainTextf("*Report generated by [politecrawl](https://github.com/nao1215/politecrawl)*")
}
