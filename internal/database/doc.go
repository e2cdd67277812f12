// Package database provides SQLite-based storage for politecrawl.
//
// CrawlDB stores:
//   - crawl sessions with their final report
//   - pages, keyed by URL, with their analysis
//   - outbound links and media references per page
//   - robots.txt bodies and the per-domain allow decision
//
// It uses modernc.org/sqlite, a CGO-free driver, with WAL mode and a
// single connection since SQLite serializes writers anyway.
package database
