package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeTestYAML(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write test yaml: %v", err)
	}
	return path
}

// --- Load tests ---

func TestLoad_FullConfig(t *testing.T) {
	t.Setenv("TEST_HUMBUG_KEY", "k-secret")

	path := writeTestYAML(t, `
humbug:
  site: https://humbug.example.com
  email: bot@example.com
  api_key_env: TEST_HUMBUG_KEY
  stream: tweets
  rc_file: /etc/humbugrc
twitter:
  id: relaybot
  limit: 30
  state_file: /var/lib/tweetstream/twitterrc
journal:
  enabled: false
  path: /var/lib/tweetstream/journal.db
  retain_days: 7
privacy:
  redact:
    enabled: true
    patterns:
      - "(?i)token"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Humbug.Site != "https://humbug.example.com" {
		t.Errorf("site = %q", cfg.Humbug.Site)
	}
	if cfg.Humbug.Email != "bot@example.com" {
		t.Errorf("email = %q", cfg.Humbug.Email)
	}
	if cfg.Humbug.APIKey != "k-secret" {
		t.Errorf("api key = %q, want resolved from env", cfg.Humbug.APIKey)
	}
	if cfg.Humbug.Stream != "tweets" {
		t.Errorf("stream = %q", cfg.Humbug.Stream)
	}
	if cfg.Humbug.RCFile != "/etc/humbugrc" {
		t.Errorf("rc_file = %q", cfg.Humbug.RCFile)
	}
	if cfg.Twitter.ID != "relaybot" || cfg.Twitter.Limit != 30 {
		t.Errorf("twitter = %+v", cfg.Twitter)
	}
	if cfg.Twitter.StateFile != "/var/lib/tweetstream/twitterrc" {
		t.Errorf("state_file = %q", cfg.Twitter.StateFile)
	}
	if cfg.Journal.On() {
		t.Error("journal should be disabled")
	}
	if cfg.Journal.RetainDays != 7 {
		t.Errorf("retain_days = %d", cfg.Journal.RetainDays)
	}
	if !cfg.Privacy.Redact.Enabled || len(cfg.Privacy.Redact.Patterns) != 1 {
		t.Errorf("redact = %+v", cfg.Privacy.Redact)
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(writeTestYAML(t, "humbug:\n  stream: tweets\n"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Twitter.Limit != DefaultLimit {
		t.Errorf("limit = %d, want %d", cfg.Twitter.Limit, DefaultLimit)
	}
	if cfg.Twitter.StateFile != DefaultStatePath {
		t.Errorf("state_file = %q", cfg.Twitter.StateFile)
	}
	if cfg.Humbug.RCFile != DefaultHumbugRC {
		t.Errorf("rc_file = %q", cfg.Humbug.RCFile)
	}
	if !cfg.Journal.On() {
		t.Error("journal should default to enabled")
	}
	if cfg.Journal.Path != DefaultJournalPath || cfg.Journal.RetainDays != DefaultRetainDays {
		t.Errorf("journal = %+v", cfg.Journal)
	}
	if cfg.Humbug.Site != "" {
		t.Errorf("site should stay empty so the credential store can supply it, got %q", cfg.Humbug.Site)
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.Twitter.Limit != DefaultLimit || !cfg.Journal.On() {
		t.Errorf("default = %+v", cfg)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("err = %v, want ErrNotExist", err)
	}
}

func TestLoad_EmptyPath(t *testing.T) {
	if _, err := Load("  "); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	if _, err := Load(writeTestYAML(t, "humbug: [unterminated")); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestLoad_ValidationErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{name: "negative limit", content: "twitter:\n  limit: -1\n", want: "twitter.limit"},
		{name: "negative retain", content: "journal:\n  retain_days: -3\n", want: "journal.retain_days"},
		{name: "bad site", content: "humbug:\n  site: humbughq.com\n", want: "humbug.site"},
		{name: "redact without patterns", content: "privacy:\n  redact:\n    enabled: true\n", want: "privacy.redact"},
	}
	for _, tt := range tests {
		_, err := Load(writeTestYAML(t, tt.content))
		if err == nil {
			t.Errorf("%s: expected error", tt.name)
			continue
		}
		if !strings.Contains(err.Error(), tt.want) {
			t.Errorf("%s: error %q does not mention %q", tt.name, err, tt.want)
		}
	}
}

func TestExpandPath(t *testing.T) {
	got, err := ExpandPath("~/x.yaml")
	if err != nil {
		t.Fatalf("expand: %v", err)
	}
	if strings.HasPrefix(got, "~") {
		t.Errorf("not expanded: %s", got)
	}

	got, err = ExpandPath("/abs/path")
	if err != nil || got != "/abs/path" {
		t.Errorf("absolute path changed: %q, %v", got, err)
	}
}
