package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the default site profile file name.
const DefaultConfigFile = ".politecrawl"

// xdgProfileName is the profile name inside the XDG config directory.
const xdgProfileName = "config.yaml"

var (
	// ErrConfigNotFound is returned when the site profile does not exist.
	ErrConfigNotFound = errors.New("configuration file not found")

	// ErrInvalidProfile is returned when a site profile parses but cannot be used.
	ErrInvalidProfile = errors.New("invalid site profile")
)

// LoadConfigFile reads and checks a site profile. Unknown keys are
// rejected so that a misspelled option does not silently do nothing.
func LoadConfigFile(path string) (*File, error) {
	data, err := os.ReadFile(path) //nolint:gosec // User-provided config path is intentional
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrConfigNotFound
		}
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	var cf File
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cf); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	if err := cf.check(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if cf.Sites == nil {
		cf.Sites = make(map[string]SiteConfig)
	}
	return &cf, nil
}

// check rejects entries that could never match or would break a request.
func (cf *File) check() error {
	if err := checkSite("defaults", cf.Defaults); err != nil {
		return err
	}
	for key, site := range cf.Sites {
		if strings.TrimSpace(key) == "" {
			return fmt.Errorf("%w: empty site key", ErrInvalidProfile)
		}
		if err := checkSite("sites."+key, site); err != nil {
			return err
		}
	}
	for i, rule := range cf.Cookies {
		if strings.TrimSpace(rule.Match) == "" {
			return fmt.Errorf("%w: cookies[%d]: match is required", ErrInvalidProfile, i)
		}
		for j, c := range rule.Cookies {
			if strings.TrimSpace(c.Name) == "" {
				return fmt.Errorf("%w: cookies[%d].cookies[%d]: name is required", ErrInvalidProfile, i, j)
			}
		}
	}
	return nil
}

func checkSite(where string, site SiteConfig) error {
	for _, patterns := range [][]string{site.IgnorePatterns, site.FollowPatterns} {
		for _, p := range patterns {
			if _, err := filepath.Match(p, ""); err != nil {
				return fmt.Errorf("%w: %s: bad pattern %q: %w", ErrInvalidProfile, where, p, err)
			}
		}
	}
	for name := range site.Headers {
		if strings.TrimSpace(name) == "" || strings.ContainsAny(name, " :\r\n") {
			return fmt.Errorf("%w: %s: bad header name %q", ErrInvalidProfile, where, name)
		}
	}
	return nil
}

// ProfileSearchPaths lists where a site profile is looked for when no
// path is given: the working directory, the home directory, then the XDG
// config directory.
func ProfileSearchPaths() []string {
	var paths []string
	if cwd, err := os.Getwd(); err == nil {
		paths = append(paths, filepath.Join(cwd, DefaultConfigFile))
	}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, DefaultConfigFile))
	}
	return append(paths, filepath.Join(XDGConfigDir(), xdgProfileName))
}

// FindConfigFile returns configPath when it exists, or the first existing
// entry of ProfileSearchPaths when configPath is empty. It returns an
// empty string when nothing is found.
func FindConfigFile(configPath string) string {
	candidates := ProfileSearchPaths()
	if configPath != "" {
		candidates = []string{configPath}
	}
	for _, p := range candidates {
		if info, err := os.Stat(p); err == nil && !info.IsDir() {
			return p
		}
	}
	return ""
}
