package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// envPrefix is the prefix of environment variables that override flags.
const envPrefix = "POLITECRAWL"

// NewRootCmd creates the root command for politecrawl.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "politecrawl",
		Short: "A polite, resilient web crawler",
		Long: `politecrawl crawls a website from a single seed URL.

It honours robots.txt and per-host crawl delays, bounds the number of
concurrent requests, retries failed fetches with exponential backoff,
and can render JavaScript-heavy pages in a headless browser.

Every flag can also be set through an environment variable named
POLITECRAWL_<FLAG>, for example POLITECRAWL_MAX_PAGES=500.`,
		Version:       getVersion(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Global flags that apply to all commands
	cmd.PersistentFlags().BoolP("verbose", "v", false, "Enable verbose logging")

	cmd.AddCommand(NewCrawlCmd())
	cmd.AddCommand(NewHistoryCmd())
	cmd.AddCommand(NewInitCmd())
	cmd.AddCommand(NewVersionCmd())

	return cmd
}

// Execute runs the root command.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// newViper binds the flags of cmd, including inherited ones, to a viper
// instance that also reads POLITECRAWL_* environment variables.
// A flag given on the command line wins over the environment.
func newViper(cmd *cobra.Command) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return nil, fmt.Errorf("failed to bind flags: %w", err)
	}
	if err := v.BindPFlags(cmd.InheritedFlags()); err != nil {
		return nil, fmt.Errorf("failed to bind flags: %w", err)
	}
	return v, nil
}
