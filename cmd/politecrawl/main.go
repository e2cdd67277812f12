// Package main provides the entry point for the politecrawl CLI.
//
// politecrawl is a polite, resilient web crawler. It honours robots.txt
// and per-host crawl delays, retries failed fetches with backoff, and can
// render JavaScript-heavy pages in a headless browser.
//
// Usage:
//
//	politecrawl crawl <url>
//	politecrawl history [session-id]
//
// See --help for all available options.
package main

// main is the entry point for politecrawl.
func main() {
	Execute()
}
