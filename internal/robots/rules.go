package robots

import (
	"net/url"
	"time"

	"github.com/temoto/robotstxt"
)

// Status describes where a Rules value came from.
type Status int

const (
	// StatusParsed rules were parsed from a robots.txt body.
	StatusParsed Status = iota
	// StatusPermissive rules were synthesized after a failed lookup and allow everything.
	StatusPermissive
	// StatusUnknown rules were synthesized after a failed lookup in strict mode
	// and allow nothing.
	StatusUnknown
)

// String returns the status name.
func (s Status) String() string {
	switch s {
	case StatusParsed:
		return "parsed"
	case StatusPermissive:
		return "permissive"
	case StatusUnknown:
		return "unknown"
	default:
		return "invalid"
	}
}

// Rules is the robots.txt policy of one domain.
// The zero value allows everything.
type Rules struct {
	domain string
	status Status
	data   *robotstxt.RobotsData
}

// Parse builds parsed rules for domain from a robots.txt body.
func Parse(domain string, body []byte) (*Rules, error) {
	data, err := robotstxt.FromBytes(body)
	if err != nil {
		return nil, err
	}
	return &Rules{domain: domain, status: StatusParsed, data: data}, nil
}

// Permissive returns rules that allow every URL.
func Permissive(domain string) *Rules {
	return &Rules{domain: domain, status: StatusPermissive}
}

// Unknown returns rules that allow no URL.
func Unknown(domain string) *Rules {
	return &Rules{domain: domain, status: StatusUnknown}
}

// Domain returns the domain the rules belong to.
func (r *Rules) Domain() string {
	return r.domain
}

// Status returns where the rules came from.
func (r *Rules) Status() Status {
	return r.status
}

// Allowed reports whether agent may fetch rawURL.
func (r *Rules) Allowed(rawURL, agent string) bool {
	if r == nil {
		return true
	}
	switch r.status {
	case StatusUnknown:
		return false
	case StatusPermissive:
		return true
	}
	if r.data == nil {
		return true
	}

	path := "/"
	if u, err := url.Parse(rawURL); err == nil {
		path = u.EscapedPath()
		if path == "" {
			path = "/"
		}
		if u.RawQuery != "" {
			path += "?" + u.RawQuery
		}
	}
	return r.data.TestAgent(path, agent)
}

// CrawlDelay returns the Crawl-delay declared for agent, or zero.
func (r *Rules) CrawlDelay(agent string) time.Duration {
	if r == nil || r.data == nil {
		return 0
	}
	group := r.data.FindGroup(agent)
	if group == nil {
		return 0
	}
	return group.CrawlDelay
}
