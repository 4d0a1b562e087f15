package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var DefaultConfigYAML []byte

type Config struct {
	Feeds     []Feed    `yaml:"feeds"`
	Collector Collector `yaml:"collector"`
	LLM       LLM       `yaml:"llm"`
	Storage   Storage   `yaml:"storage"`
	Scan      Scan      `yaml:"scan"`
	Redis     Redis     `yaml:"redis"`
	Server    Server    `yaml:"server"`
	Logging   Logging   `yaml:"logging"`
}

// Feed is one polled RSS/Atom source and the provider label attached to its entries.
type Feed struct {
	URL      string `yaml:"url"`
	Provider string `yaml:"provider"`
}

type Collector struct {
	MaxPerFeed          int           `yaml:"max_per_feed"`
	MaxContentChars     int           `yaml:"max_content_chars"`
	Timeout             time.Duration `yaml:"timeout"`
	UserAgent           string        `yaml:"user_agent"`
	FetchMissingContent bool          `yaml:"fetch_missing_content"`
}

type LLM struct {
	Provider           string `yaml:"provider"`
	Model              string `yaml:"model"`
	OllamaURL          string `yaml:"ollama_url"`
	APIKeyEnv          string `yaml:"api_key_env"`
	MaxTokens          int    `yaml:"max_tokens"`
	PromptContentChars int    `yaml:"prompt_content_chars"`
}

type Storage struct {
	Driver string `yaml:"driver"`
	URL    string `yaml:"url"`
	URLEnv string `yaml:"url_env"`
	KeyEnv string `yaml:"key_env"`
}

type Scan struct {
	ItemDelay   time.Duration `yaml:"item_delay"`
	SettleDelay time.Duration `yaml:"settle_delay"`
	Interval    time.Duration `yaml:"interval"`
}

type Redis struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Key      string `yaml:"key"`
}

type Server struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type Logging struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// ConfigDir returns the XDG config directory for cloudwatcher.
func ConfigDir() string {
	return filepath.Join(homeDir(), ".config", "cloudwatcher")
}

// ResolveConfigPath finds the config file following priority:
// explicit path > ~/.config/cloudwatcher/config.yaml > ./config.yaml
func ResolveConfigPath(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	xdgConfig := filepath.Join(ConfigDir(), "config.yaml")
	if _, err := os.Stat(xdgConfig); err == nil {
		return xdgConfig, nil
	}

	cwdConfig := "config.yaml"
	if _, err := os.Stat(cwdConfig); err == nil {
		return cwdConfig, nil
	}

	return "", fmt.Errorf(
		"no config file found; searched:\n  %s\n  ./config.yaml\n\nRun 'cloudwatcher init' to create a default config",
		xdgConfig,
	)
}

// Load reads and parses a config YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return parse(data)
}

// parse parses YAML bytes into a Config, applying defaults.
func parse(data []byte) (*Config, error) {
	cfg := &Config{
		Collector: Collector{
			MaxPerFeed:      3,
			MaxContentChars: 5000,
			Timeout:         30 * time.Second,
			UserAgent:       "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		},
		LLM: LLM{
			Provider:           "gemini",
			Model:              "gemini-2.5-flash",
			OllamaURL:          "http://localhost:11434",
			APIKeyEnv:          "GEMINI_API_KEY",
			MaxTokens:          1024,
			PromptContentChars: 3000,
		},
		Storage: Storage{
			Driver: "sqlite",
			URLEnv: "DATABASE_URL",
			KeyEnv: "DATABASE_KEY",
		},
		Scan: Scan{
			ItemDelay:   10 * time.Second,
			SettleDelay: time.Second,
			Interval:    6 * time.Hour,
		},
		Redis:   Redis{Key: "cloudwatcher:links"},
		Server:  Server{Host: "127.0.0.1", Port: 8000},
		Logging: Logging{Level: "info"},
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	return cfg, nil
}

// APIKey returns the inference credential from the configured environment variable.
func (c *Config) APIKey() string {
	if c.LLM.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(c.LLM.APIKeyEnv)
}

// StorageURL returns the persistence URL. The environment variable wins over the file value.
func (c *Config) StorageURL() string {
	if c.Storage.URLEnv != "" {
		if v := os.Getenv(c.Storage.URLEnv); v != "" {
			return v
		}
	}
	return c.Storage.URL
}

// StorageKey returns the persistence credential.
func (c *Config) StorageKey() string {
	if c.Storage.KeyEnv == "" {
		return ""
	}
	return os.Getenv(c.Storage.KeyEnv)
}

// Validate reports every missing mandatory setting at once.
func (c *Config) Validate() error {
	var errs []error

	provider := strings.ToLower(c.LLM.Provider)
	switch provider {
	case "gemini", "openai", "cohere":
		if c.APIKey() == "" {
			errs = append(errs, fmt.Errorf("inference credential missing: set %s", c.LLM.APIKeyEnv))
		}
	case "ollama":
		if c.LLM.OllamaURL == "" {
			errs = append(errs, errors.New("llm.ollama_url is required for the ollama provider"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown llm provider %q", c.LLM.Provider))
	}

	if c.StorageURL() == "" {
		errs = append(errs, fmt.Errorf("storage url missing: set storage.url or %s", c.Storage.URLEnv))
	}
	switch strings.ToLower(c.Storage.Driver) {
	case "sqlite":
	case "postgres":
		if c.StorageKey() == "" {
			errs = append(errs, fmt.Errorf("storage credential missing: set %s", c.Storage.KeyEnv))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage driver %q", c.Storage.Driver))
	}

	if c.Scan.ItemDelay < 0 || c.Scan.SettleDelay < 0 {
		errs = append(errs, errors.New("scan delays must not be negative"))
	}

	return errors.Join(errs...)
}

// Addr returns the listen address of the HTTP server.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
