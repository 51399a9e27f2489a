package config

import (
	"fmt"
	"os"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Vodeneev/valueradar/internal/pkg/logging"
)

const DefaultReference = "pinnacle"

type Config struct {
	// Reference is the benchmark bookmaker whose prices anchor fair value.
	Reference string                  `yaml:"reference"`
	Sources   map[string]SourceConfig `yaml:"sources"`
	Analyzer  AnalyzerConfig          `yaml:"analyzer"`
	Matcher   MatcherConfig           `yaml:"matcher"`
	Server    ServerConfig            `yaml:"server"`
	Telegram  TelegramConfig          `yaml:"telegram"`
	Postgres  PostgresConfig          `yaml:"postgres"`
	Redis     RedisConfig             `yaml:"redis"`
	Logging   logging.Config          `yaml:"logging"`
}

type SourceConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
}

// ExtraPercentStep maps a half-open reference-odds bracket (From, To] to a
// margin correction factor.
type ExtraPercentStep struct {
	From    float64 `yaml:"from"`
	To      float64 `yaml:"to"`
	Percent float64 `yaml:"percent"`
}

type AnalyzerConfig struct {
	Margin          float64            `yaml:"margin"`
	MinOdds         float64            `yaml:"min_odds"`
	MaxOdds         float64            `yaml:"max_odds"`
	ExtraPercents   []ExtraPercentStep `yaml:"extra_percents"`
	LiveMaxAge      time.Duration      `yaml:"live_max_age"`
	PrematchMaxAge  time.Duration      `yaml:"prematch_max_age"`
	AnalyzeInterval time.Duration      `yaml:"analyze_interval"`
	CleanupInterval time.Duration      `yaml:"cleanup_interval"`
}

// PassThresholds holds the fuzzy-similarity acceptance thresholds of one
// matching pass. Low is used when the corroborating odds-shape check passes.
type PassThresholds struct {
	High int `yaml:"high"`
	Low  int `yaml:"low"`
}

type MatcherConfig struct {
	Interval        time.Duration  `yaml:"interval"`
	ReportInterval  time.Duration  `yaml:"report_interval"`
	MappingsDir     string         `yaml:"mappings_dir"`
	RefreshInterval time.Duration  `yaml:"refresh_interval"`
	LeaguePass      PassThresholds `yaml:"league_pass"`
	NoLeaguePass    PassThresholds `yaml:"no_league_pass"`
	DayPass         PassThresholds `yaml:"day_pass"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
}

type TelegramConfig struct {
	BotToken string `yaml:"bot_token"`
	ChatID   int64  `yaml:"chat_id"`
}

type PostgresConfig struct {
	DSN string `yaml:"dsn"`
}

type RedisConfig struct {
	Addr        string        `yaml:"addr"`
	Password    string        `yaml:"password"`
	DB          int           `yaml:"db"`
	SnapshotTTL time.Duration `yaml:"snapshot_ttl"`
}

func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.applyDefaults()
	return &config, nil
}

func (c *Config) applyDefaults() {
	if c.Reference == "" {
		c.Reference = DefaultReference
	}

	a := &c.Analyzer
	if a.Margin <= 0 {
		a.Margin = 1.08
	}
	if a.MinOdds <= 0 {
		a.MinOdds = 1.1
	}
	if a.MaxOdds <= 0 {
		a.MaxOdds = 3.7
	}
	if len(a.ExtraPercents) == 0 {
		a.ExtraPercents = []ExtraPercentStep{
			{From: 2.29, To: 2.75, Percent: 1.03},
			{From: 2.75, To: 3.2, Percent: 1.04},
			{From: 3.2, To: 3.7, Percent: 1.05},
		}
	}
	if a.LiveMaxAge <= 0 {
		a.LiveMaxAge = 3 * time.Second
	}
	if a.PrematchMaxAge <= 0 {
		a.PrematchMaxAge = 30 * time.Second
	}
	if a.AnalyzeInterval <= 0 {
		a.AnalyzeInterval = 2 * time.Second
	}
	if a.CleanupInterval <= 0 {
		a.CleanupInterval = 2 * time.Second
	}

	m := &c.Matcher
	if m.Interval <= 0 {
		m.Interval = time.Minute
	}
	if m.ReportInterval <= 0 {
		m.ReportInterval = 20 * time.Minute
	}
	if m.MappingsDir == "" {
		m.MappingsDir = "bookmaker_mappings"
	}
	if m.RefreshInterval <= 0 {
		m.RefreshInterval = time.Minute
	}
	if m.LeaguePass == (PassThresholds{}) {
		m.LeaguePass = PassThresholds{High: 85, Low: 62}
	}
	if m.NoLeaguePass == (PassThresholds{}) {
		m.NoLeaguePass = PassThresholds{High: 90, Low: 70}
	}
	if m.DayPass == (PassThresholds{}) {
		m.DayPass = PassThresholds{High: 85, Low: 70}
	}

	if c.Server.Addr == "" {
		c.Server.Addr = ":8765"
	}
	if c.Redis.SnapshotTTL <= 0 {
		c.Redis.SnapshotTTL = 10 * time.Second
	}
}

// EnabledSources returns the names of enabled non-reference sources.
func (c *Config) EnabledSources() []string {
	var names []string
	for name, src := range c.Sources {
		if src.Enabled && name != c.Reference {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}
