// Package crawler provides the building blocks used by the page pipeline
// to fetch and read a single page.
//
// # Components
//
//   - Fetcher: static HTTP GET with a timeout, a body size limit and
//     charset decoding
//   - Parser: HTML parser that extracts links, media and document metadata
//   - Sanitize: strips scripts and unsafe attributes before analysis
//   - NormalizeURL, ShouldFollow, SameHost: URL helpers used by link policy
//
// # Usage
//
//	f := crawler.NewFetcher(crawler.WithUserAgent("politecrawl/1.0"))
//	res, err := f.Fetch(ctx, "https://example.com/", config.SiteConfig{})
//
// The package does not schedule anything. Queueing, politeness and retries
// belong to the scheduler and the pipeline.
package crawler
