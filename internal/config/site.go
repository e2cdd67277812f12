package config

import (
	"sort"
	"strings"
)

// SiteConfig holds site-specific crawl settings.
// Sites are keyed by a substring of the URL, usually the host name.
type SiteConfig struct {
	// Cookie is an HTTP cookie header sent to this site.
	// Format: "name=value" or "name1=value1; name2=value2"
	Cookie string `yaml:"cookie,omitempty"`

	// Headers are custom HTTP headers sent to this site.
	Headers map[string]string `yaml:"headers,omitempty"`

	// IgnorePatterns are URL path globs that are never enqueued.
	IgnorePatterns []string `yaml:"ignorePatterns,omitempty"`

	// FollowPatterns restrict enqueued URLs to matching paths when non-empty.
	FollowPatterns []string `yaml:"followPatterns,omitempty"`

	// WaitSelector is a CSS selector the renderer waits for after navigation.
	WaitSelector string `yaml:"waitSelector,omitempty"`

	// JSHeavy makes the renderer wait for network idle with a longer timeout.
	JSHeavy bool `yaml:"jsHeavy,omitempty"`
}

// Cookie is a single cookie injected by the renderer.
type Cookie struct {
	Name   string `yaml:"name"`
	Value  string `yaml:"value"`
	Domain string `yaml:"domain,omitempty"`
	Path   string `yaml:"path,omitempty"`
}

// CookieRule injects cookies into every URL that contains Match.
// It is used for consent cookies that otherwise hide the real page
// behind an interstitial.
type CookieRule struct {
	Match   string   `yaml:"match"`
	Cookies []Cookie `yaml:"cookies"`
}

// File represents the structure of the .politecrawl site profile.
type File struct {
	// Sites maps a URL substring to its site-specific configuration.
	Sites map[string]SiteConfig `yaml:"sites,omitempty"`

	// Defaults apply to every site unless overridden.
	Defaults SiteConfig `yaml:"defaults,omitempty"`

	// Cookies is the table of cookies injected by URL substring match.
	Cookies []CookieRule `yaml:"cookies,omitempty"`
}

// builtinJSHeavy lists hosts that render their content client side.
var builtinJSHeavy = []string{
	"twitter.com",
	"x.com",
	"instagram.com",
	"facebook.com",
	"linkedin.com",
	"reddit.com",
	"medium.com",
	"tiktok.com",
}

// DefaultFile returns the built-in profile used when no file is found.
func DefaultFile() *File {
	f := &File{
		Sites: make(map[string]SiteConfig, len(builtinJSHeavy)),
		Cookies: []CookieRule{
			{
				Match: "google.",
				Cookies: []Cookie{
					{Name: "CONSENT", Value: "YES+cb", Domain: ".google.com", Path: "/"},
				},
			},
			{
				Match: "youtube.com",
				Cookies: []Cookie{
					{Name: "CONSENT", Value: "YES+cb", Domain: ".youtube.com", Path: "/"},
				},
			},
		},
	}
	for _, host := range builtinJSHeavy {
		f.Sites[host] = SiteConfig{JSHeavy: true}
	}
	return f
}

// Merge overlays other on f. Entries in other win on key collisions.
func (cf *File) Merge(other *File) *File {
	if other == nil {
		return cf
	}
	out := &File{
		Sites:    make(map[string]SiteConfig, len(cf.Sites)+len(other.Sites)),
		Defaults: mergeSiteConfig(cf.Defaults, other.Defaults),
		Cookies:  append(append([]CookieRule{}, cf.Cookies...), other.Cookies...),
	}
	for k, v := range cf.Sites {
		out.Sites[k] = v
	}
	for k, v := range other.Sites {
		out.Sites[k] = v
	}
	return out
}

// GetSiteConfig returns the configuration for an exact site key merged over the defaults.
func (cf *File) GetSiteConfig(site string) SiteConfig {
	result := cf.Defaults
	if siteConfig, ok := cf.Sites[site]; ok {
		result = mergeSiteConfig(result, siteConfig)
	}
	return result
}

// Match returns the configuration for rawURL. Every site key contained in
// rawURL is applied over the defaults, shortest key first, so the most
// specific entry wins.
func (cf *File) Match(rawURL string) SiteConfig {
	if cf == nil {
		return SiteConfig{}
	}
	lower := strings.ToLower(rawURL)

	keys := make([]string, 0, len(cf.Sites))
	for k := range cf.Sites {
		if k != "" && strings.Contains(lower, strings.ToLower(k)) {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		if len(keys[i]) != len(keys[j]) {
			return len(keys[i]) < len(keys[j])
		}
		return keys[i] < keys[j]
	})

	result := cf.Defaults
	for _, k := range keys {
		result = mergeSiteConfig(result, cf.Sites[k])
	}
	return result
}

// CookiesFor returns every cookie whose rule matches rawURL.
func (cf *File) CookiesFor(rawURL string) []Cookie {
	if cf == nil {
		return nil
	}
	lower := strings.ToLower(rawURL)
	var out []Cookie
	for _, rule := range cf.Cookies {
		if rule.Match != "" && strings.Contains(lower, strings.ToLower(rule.Match)) {
			out = append(out, rule.Cookies...)
		}
	}
	return out
}

// mergeSiteConfig merges default config with site-specific overrides.
func mergeSiteConfig(defaults, override SiteConfig) SiteConfig {
	result := defaults

	if override.Cookie != "" {
		result.Cookie = override.Cookie
	}
	if len(override.Headers) > 0 {
		headers := make(map[string]string, len(result.Headers)+len(override.Headers))
		for k, v := range result.Headers {
			headers[k] = v
		}
		for k, v := range override.Headers {
			headers[k] = v
		}
		result.Headers = headers
	}
	if len(override.IgnorePatterns) > 0 {
		result.IgnorePatterns = override.IgnorePatterns
	}
	if len(override.FollowPatterns) > 0 {
		result.FollowPatterns = override.FollowPatterns
	}
	if override.WaitSelector != "" {
		result.WaitSelector = override.WaitSelector
	}
	if override.JSHeavy {
		result.JSHeavy = true
	}

	return result
}
