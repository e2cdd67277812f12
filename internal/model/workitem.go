package model

import (
	"net/url"
	"strings"
)

// WorkItem is one URL waiting to be processed.
// Only RetryCount changes over the lifetime of an item, and only through Retry.
type WorkItem struct {
	// URL is the absolute URL to fetch.
	URL string `json:"url"`

	// Depth is the number of link hops from the seed. The seed has depth 0.
	Depth int `json:"depth"`

	// RetryCount is the number of times this item has been rescheduled.
	RetryCount int `json:"retryCount"`

	// ParentURL is the page the URL was discovered on. Empty for the seed.
	ParentURL string `json:"parentUrl,omitempty"`
}

// NewSeed returns the work item for the seed URL.
func NewSeed(rawURL string) WorkItem {
	return WorkItem{URL: rawURL}
}

// Child returns the item for a link discovered on this item's page.
func (w WorkItem) Child(rawURL string) WorkItem {
	return WorkItem{URL: rawURL, Depth: w.Depth + 1, ParentURL: w.URL}
}

// Retry returns a copy of the item with RetryCount incremented.
func (w WorkItem) Retry() WorkItem {
	w.RetryCount++
	return w
}

// Domain returns the lower-cased host name of the item URL.
// An unparsable URL yields an empty domain.
func (w WorkItem) Domain() string {
	return HostOf(w.URL)
}

// HostOf returns the lower-cased host name of rawURL without port.
func HostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}
