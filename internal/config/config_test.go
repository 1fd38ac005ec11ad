package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"opportunist/internal/model"
)

const validProfile = `
interests:
  - backend engineering
  - distributed systems
threshold: 0.6
sources:
  - name: tech-opps
    url: https://opportunities.example.com/rss
`

func writeProfile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "profile.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write profile: %v", err)
	}
	return path
}

func TestLoadProfileDefaults(t *testing.T) {
	p, err := LoadProfile(writeProfile(t, validProfile))
	if err != nil {
		t.Fatalf("LoadProfile: %v", err)
	}

	if diff := cmp.Diff(defaultQuotas, p.Quotas); diff != "" {
		t.Errorf("quotas mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(model.Categories, p.CategoryOrder); diff != "" {
		t.Errorf("category order mismatch (-want +got):\n%s", diff)
	}
	if got := p.Freshness.Std(); got != 24*time.Hour {
		t.Errorf("freshness = %v, want 24h", got)
	}
	if got := p.Retention.Std(); got != 30*24*time.Hour {
		t.Errorf("retention = %v, want 720h", got)
	}
	if p.DeliveryTime != "08:00" || p.Timezone != "UTC" {
		t.Errorf("delivery defaults = %q %q, want 08:00 UTC", p.DeliveryTime, p.Timezone)
	}
	if p.Location() == nil {
		t.Error("Location() is nil after load")
	}
}

func TestLoadProfileExplicitQuotas(t *testing.T) {
	p, err := LoadProfile(writeProfile(t, validProfile+`
quotas:
  job: 3
  grant: 1
`))
	if err != nil {
		t.Fatalf("LoadProfile: %v", err)
	}

	// an explicit quotas map zeroes unlisted categories
	want := map[model.Category]int{model.CategoryJob: 3, model.CategoryGrant: 1}
	if diff := cmp.Diff(want, p.Quotas); diff != "" {
		t.Errorf("quotas mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadProfileDurations(t *testing.T) {
	p, err := LoadProfile(writeProfile(t, validProfile+`
freshness: 36h
retention: 1440h
timezone: Europe/Berlin
delivery_time: "07:30"
`))
	if err != nil {
		t.Fatalf("LoadProfile: %v", err)
	}
	if got := p.Freshness.Std(); got != 36*time.Hour {
		t.Errorf("freshness = %v, want 36h", got)
	}
	if got := p.Retention.Std(); got != 1440*time.Hour {
		t.Errorf("retention = %v, want 1440h", got)
	}
	if got := p.Location().String(); got != "Europe/Berlin" {
		t.Errorf("location = %q, want Europe/Berlin", got)
	}
}

func TestLoadProfileValidation(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{
			name: "empty interests",
			content: `
interests: []
sources:
  - name: a
    url: https://a.example.com/rss
`,
		},
		{
			name:    "threshold out of range",
			content: validProfile + "\nthreshold: 1.5\n",
		},
		{
			name:    "retention not exceeding freshness",
			content: validProfile + "\nfreshness: 48h\nretention: 48h\n",
		},
		{
			name:    "bad delivery time",
			content: validProfile + "\ndelivery_time: \"25:99\"\n",
		},
		{
			name:    "bad timezone",
			content: validProfile + "\ntimezone: Mars/Olympus\n",
		},
		{
			name:    "unknown quota category",
			content: validProfile + "\nquotas:\n  gigs: 4\n",
		},
		{
			name:    "negative quota",
			content: validProfile + "\nquotas:\n  job: -1\n",
		},
		{
			name:    "unknown order category",
			content: validProfile + "\ncategory_order: [job, gigs]\n",
		},
		{
			name: "no sources",
			content: `
interests: [go]
`,
		},
		{
			name:    "source missing url",
			content: "interests: [go]\nsources:\n  - name: a\n",
		},
		{
			name:    "unparseable duration",
			content: validProfile + "\nfreshness: yesterday\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := LoadProfile(writeProfile(t, tt.content)); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}

func TestLoad(t *testing.T) {
	profilePath := writeProfile(t, validProfile)

	t.Setenv("TELEGRAM_BOT_TOKEN", "test-token")
	t.Setenv("TELEGRAM_CHAT_ID", "12345")
	t.Setenv("EMBEDDING_API_URL", "https://api.example.com/v1/embeddings")
	t.Setenv("EMBEDDING_API_KEY", "secret")
	t.Setenv("PROFILE_PATH", profilePath)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.TelegramChatID != 12345 {
		t.Errorf("chat id = %d, want 12345", cfg.TelegramChatID)
	}
	if cfg.EmbeddingModel != "text-embedding-3-small" {
		t.Errorf("model = %q, want default", cfg.EmbeddingModel)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("log level = %q, want info", cfg.LogLevel)
	}
	if len(cfg.Profile.Interests) != 2 {
		t.Errorf("interests = %v", cfg.Profile.Interests)
	}
}

func TestLoadMissingRequired(t *testing.T) {
	tests := []struct {
		name string
		omit string
	}{
		{name: "no token", omit: "TELEGRAM_BOT_TOKEN"},
		{name: "no chat id", omit: "TELEGRAM_CHAT_ID"},
		{name: "no api url", omit: "EMBEDDING_API_URL"},
		{name: "no api key", omit: "EMBEDDING_API_KEY"},
	}

	profilePath := writeProfile(t, validProfile)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := map[string]string{
				"TELEGRAM_BOT_TOKEN": "t",
				"TELEGRAM_CHAT_ID":   "1",
				"EMBEDDING_API_URL":  "https://api.example.com",
				"EMBEDDING_API_KEY":  "k",
				"PROFILE_PATH":       profilePath,
			}
			delete(env, tt.omit)
			t.Setenv(tt.omit, "")
			for k, v := range env {
				t.Setenv(k, v)
			}

			if _, err := Load(); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}
