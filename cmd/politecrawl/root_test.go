package main

import (
	"testing"

	"github.com/spf13/cobra"
)

// TestNewRootCmd tests the root command creation.
func TestNewRootCmd(t *testing.T) {
	t.Parallel()

	cmd := NewRootCmd()

	t.Run("has correct use", func(t *testing.T) {
		t.Parallel()
		if cmd.Use != "politecrawl" {
			t.Errorf("expected use 'politecrawl', got %q", cmd.Use)
		}
	})

	t.Run("has descriptions", func(t *testing.T) {
		t.Parallel()
		if cmd.Short == "" {
			t.Error("expected non-empty short description")
		}
		if cmd.Long == "" {
			t.Error("expected non-empty long description")
		}
	})

	t.Run("has version", func(t *testing.T) {
		t.Parallel()
		if cmd.Version == "" {
			t.Error("expected non-empty version")
		}
	})

	t.Run("has verbose flag", func(t *testing.T) {
		t.Parallel()
		flag := cmd.PersistentFlags().Lookup("verbose")
		if flag == nil {
			t.Fatal("expected verbose flag")
		}
		if flag.Shorthand != "v" {
			t.Errorf("expected shorthand 'v', got %q", flag.Shorthand)
		}
		if flag.DefValue != "false" {
			t.Errorf("expected default 'false', got %q", flag.DefValue)
		}
	})

	t.Run("has subcommands", func(t *testing.T) {
		t.Parallel()
		want := map[string]bool{
			"crawl <url>":          false,
			"history [session-id]": false,
			"init":                 false,
			"version":              false,
		}
		for _, sub := range cmd.Commands() {
			if _, ok := want[sub.Use]; ok {
				want[sub.Use] = true
			}
		}
		for use, found := range want {
			if !found {
				t.Errorf("expected %q subcommand", use)
			}
		}
	})

	t.Run("silences usage and errors", func(t *testing.T) {
		t.Parallel()
		if !cmd.SilenceUsage {
			t.Error("expected SilenceUsage to be true")
		}
		if !cmd.SilenceErrors {
			t.Error("expected SilenceErrors to be true")
		}
	})
}

// TestNewViper tests flag and environment binding.
// It cannot run in parallel because it sets environment variables.
func TestNewViper(t *testing.T) {
	newCmd := func() *cobra.Command {
		cmd := &cobra.Command{Use: "test"}
		cmd.Flags().Int("max-pages", 100, "")
		cmd.Flags().String("user-agent", "default-agent", "")
		return cmd
	}

	t.Run("flag defaults", func(t *testing.T) {
		v, err := newViper(newCmd())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got := v.GetInt("max-pages"); got != 100 {
			t.Errorf("expected 100, got %d", got)
		}
	})

	t.Run("environment overrides default", func(t *testing.T) {
		t.Setenv("POLITECRAWL_MAX_PAGES", "7")
		t.Setenv("POLITECRAWL_USER_AGENT", "env-agent")

		v, err := newViper(newCmd())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got := v.GetInt("max-pages"); got != 7 {
			t.Errorf("expected 7, got %d", got)
		}
		if got := v.GetString("user-agent"); got != "env-agent" {
			t.Errorf("expected env-agent, got %q", got)
		}
	})

	t.Run("explicit flag overrides environment", func(t *testing.T) {
		t.Setenv("POLITECRAWL_MAX_PAGES", "7")

		cmd := newCmd()
		if err := cmd.Flags().Set("max-pages", "42"); err != nil {
			t.Fatal(err)
		}
		v, err := newViper(cmd)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got := v.GetInt("max-pages"); got != 42 {
			t.Errorf("expected 42, got %d", got)
		}
	})
}
