// Package config loads the relay configuration from the environment, an
// optional .env file and the YAML feed file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"

	"github.com/newsrelay/newsrelay/internal/feeds"
	"github.com/newsrelay/newsrelay/internal/filter"
)

// Config is the full runtime configuration.
type Config struct {
	DiscordToken      string
	RewriteAPIKey     string
	NewsChannelID     string
	TargetChannelID   string
	AutoNewsChannelID string
	LogChannelID      string
	CommandPrefix     string

	FeedsFile         string
	DedupFile         string
	PollInterval      time.Duration
	MaxEntriesPerFeed int
	PublishDelay      time.Duration
	FeedTimeout       time.Duration
	ImageFetchTimeout time.Duration
	UserAgent         string

	RewriteURL         string
	RewriteModel       string
	RewriteTemperature float64
	RewriteTimeout     time.Duration

	Timezone          string
	TimezoneLabel     string
	FooterNote        string
	TitlePlaceholder  string
	SourcePlaceholder string
	CancelTokens      []string

	HTTPAddr string
	LogFile  string
	LogLevel string

	Feeds  []feeds.Source
	Filter filter.Rules
}

// FeedFile is the YAML layout of FEEDS_FILE.
type FeedFile struct {
	Feeds  []feeds.Source `yaml:"feeds"`
	Filter filter.Rules   `yaml:"filter"`
}

// Load reads .env (when present) and the environment, then the feed file.
func Load() (*Config, error) {
	// A missing .env is fine: variables may come from the environment.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %v", err)
	}

	cfg := FromEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.LoadFeedFile(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromEnv builds a Config from environment variables and defaults.
func FromEnv() *Config {
	return &Config{
		DiscordToken:      GetEnvString("DISCORD_TOKEN", ""),
		RewriteAPIKey:     GetEnvString("OPENROUTER_API_KEY", ""),
		NewsChannelID:     GetEnvString("NEWS_CHANNEL_ID", ""),
		TargetChannelID:   GetEnvString("TARGET_CHANNEL_ID", ""),
		AutoNewsChannelID: GetEnvString("AUTO_NEWS_CHANNEL_ID", ""),
		LogChannelID:      GetEnvString("LOG_CHANNEL_ID", ""),
		CommandPrefix:     GetEnvString("COMMAND_PREFIX", "/"),

		FeedsFile:         GetEnvString("FEEDS_FILE", "config/feeds.yml"),
		DedupFile:         GetEnvString("DEDUP_FILE", "posted_links.json"),
		PollInterval:      GetEnvDuration("POLL_INTERVAL", 2*time.Minute),
		MaxEntriesPerFeed: GetEnvInt("MAX_ENTRIES_PER_FEED", 6),
		PublishDelay:      GetEnvDuration("PUBLISH_DELAY", time.Second),
		FeedTimeout:       GetEnvDuration("FEED_TIMEOUT", 30*time.Second),
		ImageFetchTimeout: GetEnvDuration("IMAGE_FETCH_TIMEOUT", 8*time.Second),
		UserAgent:         GetEnvString("USER_AGENT", "NewsRelay/1.0"),

		RewriteURL:         GetEnvString("REWRITE_URL", "https://openrouter.ai/api/v1"),
		RewriteModel:       GetEnvString("REWRITE_MODEL", "gpt-4o-mini"),
		RewriteTemperature: GetEnvFloat("REWRITE_TEMPERATURE", 0.5),
		RewriteTimeout:     GetEnvDuration("REWRITE_TIMEOUT", 60*time.Second),

		Timezone:          GetEnvString("TIMEZONE", "Europe/Moscow"),
		TimezoneLabel:     GetEnvString("TIMEZONE_LABEL", "MSK"),
		FooterNote:        GetEnvString("FOOTER_NOTE", "Want your company's news here? Apply via feedback."),
		TitlePlaceholder:  GetEnvString("TITLE_PLACEHOLDER", "News"),
		SourcePlaceholder: GetEnvString("SOURCE_PLACEHOLDER", "Unknown source"),
		CancelTokens:      GetEnvStringSlice("CANCEL_TOKENS", []string{"отмена", "cancel"}),

		HTTPAddr: GetEnvString("HTTP_ADDR", ":8080"),
		LogFile:  GetEnvString("LOG_FILE", ""),
		LogLevel: GetEnvString("LOG_LEVEL", "info"),
	}
}

// Validate checks the settings the process cannot start without.
func (c *Config) Validate() error {
	required := []struct {
		name, value string
	}{
		{"DISCORD_TOKEN", c.DiscordToken},
		{"OPENROUTER_API_KEY", c.RewriteAPIKey},
		{"NEWS_CHANNEL_ID", c.NewsChannelID},
		{"TARGET_CHANNEL_ID", c.TargetChannelID},
		{"AUTO_NEWS_CHANNEL_ID", c.AutoNewsChannelID},
	}

	var missing []string
	for _, r := range required {
		if r.value == "" {
			missing = append(missing, r.name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
	}

	if c.CommandPrefix == "" {
		return errors.New("COMMAND_PREFIX must not be empty")
	}
	if _, err := c.Location(); err != nil {
		return fmt.Errorf("invalid TIMEZONE %q: %v", c.Timezone, err)
	}
	return nil
}

// Location resolves the configured display timezone.
func (c *Config) Location() (*time.Location, error) {
	return time.LoadLocation(c.Timezone)
}

// LoadFeedFile reads FeedsFile. A missing file keeps the built-in feeds and
// default filter rules; a file that exists but does not parse is an error.
func (c *Config) LoadFeedFile() error {
	c.Feeds = feeds.DefaultSources

	data, err := os.ReadFile(c.FeedsFile)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to read feeds file: %v", err)
	}

	ff, err := ParseFeedFile(data)
	if err != nil {
		return fmt.Errorf("failed to parse %s: %v", c.FeedsFile, err)
	}
	if len(ff.Feeds) > 0 {
		c.Feeds = ff.Feeds
	}
	c.Filter = ff.Filter
	return nil
}

// ParseFeedFile decodes and checks a feed file.
func ParseFeedFile(data []byte) (*FeedFile, error) {
	var ff FeedFile
	if err := yaml.UnmarshalStrict(data, &ff); err != nil {
		return nil, err
	}
	for i, f := range ff.Feeds {
		if strings.TrimSpace(f.URL) == "" {
			return nil, fmt.Errorf("feed %d (%q) has no url", i+1, f.Name)
		}
		if strings.TrimSpace(f.Name) == "" {
			ff.Feeds[i].Name = f.URL
		}
	}
	if ff.Filter.MinTokens < 0 {
		return nil, errors.New("filter.min_tokens must not be negative")
	}
	return &ff, nil
}
