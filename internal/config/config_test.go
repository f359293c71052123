package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/newsrelay/newsrelay/internal/feeds"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("DISCORD_TOKEN", "token")
	t.Setenv("OPENROUTER_API_KEY", "key")
	t.Setenv("NEWS_CHANNEL_ID", "100")
	t.Setenv("TARGET_CHANNEL_ID", "200")
	t.Setenv("AUTO_NEWS_CHANNEL_ID", "300")
}

func TestFromEnv_Defaults(t *testing.T) {
	setRequired(t)
	cfg := FromEnv()

	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if cfg.CommandPrefix != "/" || cfg.DedupFile != "posted_links.json" {
		t.Errorf("unexpected defaults %+v", cfg)
	}
	if cfg.PollInterval != 2*time.Minute || cfg.MaxEntriesPerFeed != 6 || cfg.PublishDelay != time.Second {
		t.Errorf("unexpected poll defaults %v %d %v", cfg.PollInterval, cfg.MaxEntriesPerFeed, cfg.PublishDelay)
	}
	if cfg.RewriteModel != "gpt-4o-mini" || cfg.RewriteTemperature != 0.5 || cfg.RewriteTimeout != time.Minute {
		t.Errorf("unexpected rewrite defaults %+v", cfg)
	}
	if cfg.ImageFetchTimeout != 8*time.Second || cfg.HTTPAddr != ":8080" {
		t.Errorf("unexpected defaults %+v", cfg)
	}
}

func TestFromEnv_Overrides(t *testing.T) {
	setRequired(t)
	t.Setenv("COMMAND_PREFIX", "!")
	t.Setenv("POLL_INTERVAL", "90s")
	t.Setenv("MAX_ENTRIES_PER_FEED", "3")
	t.Setenv("PUBLISH_DELAY", "not-a-duration")
	t.Setenv("LOG_CHANNEL_ID", " 400 ")

	cfg := FromEnv()
	if cfg.CommandPrefix != "!" || cfg.PollInterval != 90*time.Second || cfg.MaxEntriesPerFeed != 3 {
		t.Errorf("overrides not applied: %+v", cfg)
	}
	if cfg.PublishDelay != time.Second {
		t.Errorf("invalid duration should keep the default, got %v", cfg.PublishDelay)
	}
	if cfg.LogChannelID != "400" {
		t.Errorf("values should be trimmed, got %q", cfg.LogChannelID)
	}
}

func TestValidate_Missing(t *testing.T) {
	setRequired(t)
	t.Setenv("DISCORD_TOKEN", "")
	t.Setenv("AUTO_NEWS_CHANNEL_ID", "")

	err := FromEnv().Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !strings.Contains(err.Error(), "DISCORD_TOKEN") || !strings.Contains(err.Error(), "AUTO_NEWS_CHANNEL_ID") {
		t.Errorf("error should name every missing variable: %v", err)
	}
}

func TestValidate_BadTimezone(t *testing.T) {
	setRequired(t)
	t.Setenv("TIMEZONE", "Mars/Olympus")
	if err := FromEnv().Validate(); err == nil {
		t.Error("expected timezone error")
	}
}

func TestLoadFeedFile(t *testing.T) {
	dir := t.TempDir()

	cfg := &Config{FeedsFile: filepath.Join(dir, "missing.yml")}
	if err := cfg.LoadFeedFile(); err != nil {
		t.Fatalf("missing file should not fail: %v", err)
	}
	if len(cfg.Feeds) != len(feeds.DefaultSources) {
		t.Errorf("expected built-in feeds, got %d", len(cfg.Feeds))
	}

	path := filepath.Join(dir, "feeds.yml")
	content := `feeds:
  - name: Wire
    url: https://wire.example/rss
  - url: https://other.example/atom
filter:
  banned_terms: [casino]
  insufficient_phrases: ["no comment"]
  min_tokens: 4
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	cfg = &Config{FeedsFile: path}
	if err := cfg.LoadFeedFile(); err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(cfg.Feeds) != 2 || cfg.Feeds[0].Name != "Wire" || cfg.Feeds[1].Name != "https://other.example/atom" {
		t.Errorf("unexpected feeds %+v", cfg.Feeds)
	}
	if cfg.Filter.MinTokens != 4 || cfg.Filter.BannedTerms[0] != "casino" || cfg.Filter.InsufficientPhrases[0] != "no comment" {
		t.Errorf("unexpected filter %+v", cfg.Filter)
	}
}

func TestParseFeedFile_Invalid(t *testing.T) {
	bad := []string{
		"feeds: [",
		"feeds:\n  - name: NoURL\n",
		"unknown_key: true\n",
		"filter:\n  min_tokens: -1\n",
	}
	for _, data := range bad {
		if _, err := ParseFeedFile([]byte(data)); err == nil {
			t.Errorf("expected error for %q", data)
		}
	}
}

func TestGetEnvStringSlice(t *testing.T) {
	t.Setenv("LIST", " a, ,b ")
	got := GetEnvStringSlice("LIST", nil)
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("unexpected slice %v", got)
	}
	t.Setenv("LIST", " , ")
	if got := GetEnvStringSlice("LIST", []string{"x"}); len(got) != 1 || got[0] != "x" {
		t.Errorf("blank list should keep default, got %v", got)
	}
}
