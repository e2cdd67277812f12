// Package config provides configuration structures for politecrawl.
// It defines the command line configuration, the clamped options of a crawl
// session, and the YAML site profile that carries per-site cookies, headers
// and rendering hints.
package config
