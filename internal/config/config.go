// Package config handles application configuration: environment variables
// for deployment concerns, a YAML profile file for the user's interests.
package config

import (
	"fmt"
	"maps"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"opportunist/internal/model"
)

// defaultQuotas apply when the profile omits the quotas map entirely.
// An explicit quotas map zeroes every category it does not list.
var defaultQuotas = map[model.Category]int{
	model.CategoryJob:         10,
	model.CategoryInternship:  5,
	model.CategoryScholarship: 5,
	model.CategoryResearch:    5,
	model.CategoryCompetition: 5,
	model.CategoryGrant:       3,
	model.CategoryOther:       2,
}

// Config holds the application configuration.
type Config struct {
	TelegramBotToken string
	TelegramChatID   int64
	DatabasePath     string
	RedisURL         string // non-empty selects the Redis store backend
	EmbeddingAPIURL  string
	EmbeddingAPIKey  string
	EmbeddingModel   string
	ProfilePath      string
	LogLevel         string
	MetricsAddr      string // non-empty enables the Prometheus listener

	Profile Profile
}

// SourceConfig names one feed to collect from.
type SourceConfig struct {
	Name string `yaml:"name"`
	URL  string `yaml:"url"`
}

// Duration wraps time.Duration so profiles can write "24h" or "45m".
type Duration time.Duration

// UnmarshalYAML parses a Go duration string.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Profile is the user-editable YAML file describing what to collect and
// when to deliver it.
type Profile struct {
	Interests     []string               `yaml:"interests"`
	Threshold     float64                `yaml:"threshold"`
	Quotas        map[model.Category]int `yaml:"quotas"`
	CategoryOrder []model.Category       `yaml:"category_order"`
	Sources       []SourceConfig         `yaml:"sources"`
	DeliveryTime  string                 `yaml:"delivery_time"` // HH:MM
	Timezone      string                 `yaml:"timezone"`
	Freshness     Duration               `yaml:"freshness"`
	Retention     Duration               `yaml:"retention"`

	location *time.Location
}

// Location returns the parsed delivery timezone.
func (p *Profile) Location() *time.Location {
	return p.location
}

// Load reads configuration from environment variables and the profile file.
func Load() (*Config, error) {
	token := os.Getenv("TELEGRAM_BOT_TOKEN")
	if token == "" {
		return nil, fmt.Errorf("TELEGRAM_BOT_TOKEN is required")
	}

	rawChatID := os.Getenv("TELEGRAM_CHAT_ID")
	if rawChatID == "" {
		return nil, fmt.Errorf("TELEGRAM_CHAT_ID is required")
	}
	chatID, err := strconv.ParseInt(rawChatID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid TELEGRAM_CHAT_ID %q: %w", rawChatID, err)
	}

	apiURL := os.Getenv("EMBEDDING_API_URL")
	if apiURL == "" {
		return nil, fmt.Errorf("EMBEDDING_API_URL is required")
	}
	apiKey := os.Getenv("EMBEDDING_API_KEY")
	if apiKey == "" {
		return nil, fmt.Errorf("EMBEDDING_API_KEY is required")
	}

	embeddingModel := os.Getenv("EMBEDDING_MODEL")
	if embeddingModel == "" {
		embeddingModel = "text-embedding-3-small"
	}

	dbPath := os.Getenv("DATABASE_PATH")
	if dbPath == "" {
		dbPath = "./data/opportunist.db"
	}

	profilePath := os.Getenv("PROFILE_PATH")
	if profilePath == "" {
		profilePath = "./profile.yaml"
	}

	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "info"
	}

	profile, err := LoadProfile(profilePath)
	if err != nil {
		return nil, fmt.Errorf("load profile: %w", err)
	}

	return &Config{
		TelegramBotToken: token,
		TelegramChatID:   chatID,
		DatabasePath:     dbPath,
		RedisURL:         os.Getenv("REDIS_URL"),
		EmbeddingAPIURL:  apiURL,
		EmbeddingAPIKey:  apiKey,
		EmbeddingModel:   embeddingModel,
		ProfilePath:      profilePath,
		LogLevel:         logLevel,
		MetricsAddr:      os.Getenv("METRICS_ADDR"),
		Profile:          *profile,
	}, nil
}

// LoadProfile reads, defaults, and validates the YAML profile at path.
func LoadProfile(path string) (*Profile, error) {
	data, err := os.ReadFile(path) //nolint:gosec // operator-supplied path
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	p.applyDefaults()
	if err := p.validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &p, nil
}

func (p *Profile) applyDefaults() {
	if p.Quotas == nil {
		p.Quotas = maps.Clone(defaultQuotas)
	}
	if len(p.CategoryOrder) == 0 {
		p.CategoryOrder = model.Categories
	}
	if p.DeliveryTime == "" {
		p.DeliveryTime = "08:00"
	}
	if p.Timezone == "" {
		p.Timezone = "UTC"
	}
	if p.Freshness == 0 {
		p.Freshness = Duration(24 * time.Hour)
	}
	if p.Retention == 0 {
		p.Retention = Duration(30 * 24 * time.Hour)
	}
}

func (p *Profile) validate() error {
	if len(p.Interests) == 0 {
		return fmt.Errorf("interests must not be empty")
	}
	if p.Threshold < 0 || p.Threshold > 1 {
		return fmt.Errorf("threshold %v out of range [0, 1]", p.Threshold)
	}
	if p.Retention <= p.Freshness {
		return fmt.Errorf("retention %v must exceed freshness %v", p.Retention.Std(), p.Freshness.Std())
	}
	if _, err := time.Parse("15:04", p.DeliveryTime); err != nil {
		return fmt.Errorf("invalid delivery_time %q: %w", p.DeliveryTime, err)
	}
	loc, err := time.LoadLocation(p.Timezone)
	if err != nil {
		return fmt.Errorf("invalid timezone %q: %w", p.Timezone, err)
	}
	p.location = loc

	for cat := range p.Quotas {
		if !cat.Valid() {
			return fmt.Errorf("unknown category %q in quotas", cat)
		}
		if p.Quotas[cat] < 0 {
			return fmt.Errorf("quota for %q must not be negative", cat)
		}
	}
	for _, cat := range p.CategoryOrder {
		if !cat.Valid() {
			return fmt.Errorf("unknown category %q in category_order", cat)
		}
	}
	if len(p.Sources) == 0 {
		return fmt.Errorf("sources must not be empty")
	}
	for i, src := range p.Sources {
		if src.Name == "" || src.URL == "" {
			return fmt.Errorf("source %d: name and url are required", i)
		}
	}
	return nil
}
