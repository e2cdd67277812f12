package crawler

import (
	"net/url"
	"path/filepath"
	"strings"

	"github.com/nao1215/politecrawl/internal/config"
)

// NormalizeURL returns the canonical form of rawURL used as the visited
// key. It reports false for URLs that cannot be crawled: unparsable,
// without host, or with a scheme other than http and https.
//
// The fragment is dropped, scheme and host are lower-cased and an empty
// path becomes "/".
func NormalizeURL(rawURL string) (string, bool) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", false
	}

	u.Scheme = strings.ToLower(u.Scheme)
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", false
	}
	if u.Host == "" {
		return "", false
	}

	u.Fragment = ""
	u.RawFragment = ""
	u.Host = strings.ToLower(u.Host)
	if u.Path == "" {
		u.Path = "/"
	}

	return u.String(), true
}

// SameHost reports whether two URLs share a host name, ignoring case and port.
func SameHost(a, b string) bool {
	ua, err := url.Parse(a)
	if err != nil {
		return false
	}
	ub, err := url.Parse(b)
	if err != nil {
		return false
	}
	return ua.Hostname() != "" && strings.EqualFold(ua.Hostname(), ub.Hostname())
}

// ShouldFollow checks if a URL should be crawled based on the ignore and
// follow patterns of site.
//
// Logic:
//  1. If URL matches any ignore pattern, skip it (return false)
//  2. If follow patterns are set and URL matches none, skip it (return false)
//  3. Otherwise, crawl it (return true)
func ShouldFollow(targetURL string, site config.SiteConfig) bool {
	u, err := url.Parse(targetURL)
	if err != nil {
		return false
	}

	path := u.Path
	if path == "" {
		path = "/"
	}

	for _, pattern := range site.IgnorePatterns {
		if matchPattern(pattern, path) {
			return false
		}
	}

	if len(site.FollowPatterns) > 0 {
		for _, pattern := range site.FollowPatterns {
			if matchPattern(pattern, path) {
				return true
			}
		}
		return false
	}

	return true
}

// matchPattern checks if a path matches a glob pattern.
// Patterns can use:
//   - * to match any sequence of non-separator characters
//   - ? to match any single character
//
// Examples:
//   - "/admin/*" matches "/admin/dashboard", "/admin/users/edit"
//   - "*.pdf" matches "/docs/file.pdf"
//   - "/api/v?" matches "/api/v1", "/api/v2"
func matchPattern(pattern, path string) bool {
	if strings.HasSuffix(pattern, "/*") {
		prefix := strings.TrimSuffix(pattern, "/*")
		if strings.HasPrefix(path, prefix+"/") || path == prefix {
			return true
		}
	}

	if strings.HasPrefix(pattern, "*.") {
		if strings.HasSuffix(path, strings.TrimPrefix(pattern, "*")) {
			return true
		}
	}

	matched, err := filepath.Match(pattern, path)
	if err != nil {
		return false
	}
	if matched {
		return true
	}

	// Bare filename patterns such as "report-*" match the last segment.
	if strings.Contains(pattern, "*") && !strings.Contains(pattern, "/") {
		matched, err := filepath.Match(pattern, filepath.Base(path))
		if err == nil && matched {
			return true
		}
	}

	return false
}
