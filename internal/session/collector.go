package session

import (
	"sync"

	"github.com/nao1215/politecrawl/internal/model"
)

// pageCollector keeps a summary of every page emitted during the session
// for the final report.
type pageCollector struct {
	mu    sync.Mutex
	pages []model.PageSummary
}

func newPageCollector() *pageCollector {
	return &pageCollector{pages: make([]model.PageSummary, 0)}
}

func (c *pageCollector) EmitStats(model.StatsSnapshot) {}

func (c *pageCollector) EmitPage(p model.PageEnvelope) {
	if p.Page == nil {
		return
	}
	c.mu.Lock()
	c.pages = append(c.pages, p.Page.Summary())
	c.mu.Unlock()
}

func (c *pageCollector) EmitLog(model.LogEvent) {}

func (c *pageCollector) EmitSessionEnd(string, model.FinalStats) {}

// Summaries returns a copy of the collected summaries.
func (c *pageCollector) Summaries() []model.PageSummary {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]model.PageSummary, len(c.pages))
	copy(out, c.pages)
	return out
}
