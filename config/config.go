package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration to support YAML unmarshalling.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses human readable duration strings.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be string")
	}
	raw := value.Value
	if raw == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

// Config captures the runtime settings for the mint gateway.
type Config struct {
	ListenAddress string `yaml:"listen"`
	Environment   string `yaml:"environment"`

	Redis     RedisConfig     `yaml:"redis"`
	Providers ProvidersConfig `yaml:"providers"`
	Rules     RulesConfig     `yaml:"rules"`
	Notify    NotifyConfig    `yaml:"notify"`
}

// RedisConfig locates the durable allowlist and token store. The URL may be
// supplied inline or through the named environment variable.
type RedisConfig struct {
	URL          string `yaml:"url"`
	URLEnv       string `yaml:"url_env"`
	AllowlistKey string `yaml:"allowlist_key"`
}

// ProvidersConfig configures the three upstream reputation providers.
type ProvidersConfig struct {
	Ethos    ProviderConfig `yaml:"ethos"`
	Neynar   ProviderConfig `yaml:"neynar"`
	Quotient ProviderConfig `yaml:"quotient"`
	// Hub is the Farcaster hub used to confirm webhook app keys. Optional;
	// without it, webhook envelopes get only the local signature check.
	Hub ProviderConfig `yaml:"hub"`
}

// ProviderConfig describes one upstream endpoint. API keys are best supplied
// through key_env so credentials stay out of config files.
type ProviderConfig struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
	KeyEnv  string `yaml:"key_env"`
}

// RulesConfig tunes the eligibility decision.
type RulesConfig struct {
	EthosThreshold    float64      `yaml:"ethos_threshold"`
	NeynarThreshold   float64      `yaml:"neynar_threshold"`
	QuotientThreshold float64      `yaml:"quotient_threshold"`
	CheckTimeout      Duration     `yaml:"check_timeout"`
	X                 SocialConfig `yaml:"x"`
	Farcaster         SocialConfig `yaml:"farcaster"`
}

// SocialConfig names one follow target. SelfDeclared accepts the caller's own
// claim of following instead of demanding API verification.
type SocialConfig struct {
	Username     string `yaml:"username"`
	ProfileURL   string `yaml:"profile_url"`
	FID          uint64 `yaml:"fid"`
	SelfDeclared bool   `yaml:"self_declared"`
}

// NotifyConfig tunes the push notification dispatcher.
type NotifyConfig struct {
	HomeURL     string   `yaml:"home_url"`
	DedupWindow Duration `yaml:"dedup_window"`
}

// Load reads the YAML configuration from disk, resolves environment
// indirections, applies defaults, and validates.
func Load(path string) (Config, error) {
	cfg := Config{}
	if path == "" {
		return cfg, fmt.Errorf("config path required")
	}
	file, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()
	dec := yaml.NewDecoder(file)
	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("decode config: %w", err)
	}
	resolveEnv(&cfg)
	applyDefaults(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func resolveEnv(cfg *Config) {
	if cfg.Redis.URL == "" && cfg.Redis.URLEnv != "" {
		cfg.Redis.URL = strings.TrimSpace(os.Getenv(cfg.Redis.URLEnv))
	}
	for _, p := range []*ProviderConfig{&cfg.Providers.Ethos, &cfg.Providers.Neynar, &cfg.Providers.Quotient, &cfg.Providers.Hub} {
		if p.APIKey == "" && p.KeyEnv != "" {
			p.APIKey = strings.TrimSpace(os.Getenv(p.KeyEnv))
		}
	}
}

func applyDefaults(cfg *Config) {
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = ":7090"
	}
	if cfg.Environment == "" {
		cfg.Environment = "development"
	}
	if cfg.Redis.AllowlistKey == "" {
		cfg.Redis.AllowlistKey = "allowlist:addresses"
	}
	if cfg.Providers.Ethos.BaseURL == "" {
		cfg.Providers.Ethos.BaseURL = "https://api.ethos.network/api/v1"
	}
	if cfg.Providers.Neynar.BaseURL == "" {
		cfg.Providers.Neynar.BaseURL = "https://api.neynar.com/v2/farcaster"
	}
	if cfg.Providers.Quotient.BaseURL == "" {
		cfg.Providers.Quotient.BaseURL = "https://api.quotient.social"
	}
	if cfg.Rules.EthosThreshold == 0 {
		cfg.Rules.EthosThreshold = 1300
	}
	if cfg.Rules.NeynarThreshold == 0 {
		cfg.Rules.NeynarThreshold = 0.7
	}
	if cfg.Rules.QuotientThreshold == 0 {
		cfg.Rules.QuotientThreshold = 0.6
	}
	if cfg.Rules.CheckTimeout.Duration == 0 {
		cfg.Rules.CheckTimeout.Duration = 15 * time.Second
	}
	if cfg.Notify.DedupWindow.Duration == 0 {
		cfg.Notify.DedupWindow.Duration = 24 * time.Hour
	}
}

func validate(cfg Config) error {
	if cfg.Redis.URL == "" {
		return fmt.Errorf("redis url is required (set redis.url or redis.url_env)")
	}
	if cfg.Rules.X.Username == "" {
		return fmt.Errorf("rules.x.username is required")
	}
	if cfg.Rules.Farcaster.Username == "" {
		return fmt.Errorf("rules.farcaster.username is required")
	}
	if cfg.Rules.Farcaster.FID == 0 {
		return fmt.Errorf("rules.farcaster.fid is required")
	}
	return nil
}
