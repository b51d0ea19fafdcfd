package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"
)

// Defaults applied to any value left empty in the configuration file.
const (
	DefaultBaseURL            = "https://api.plannrcrm.com"
	DefaultClientPath         = "/api/v1/client"
	DefaultRequestTimeout     = 30 * time.Second
	DefaultMinRequestInterval = 300 * time.Millisecond // 200 requests per minute
	DefaultCount              = 100
	DefaultAdvisor            = "parashuram joshi"
	DefaultRequestDelay       = 100 * time.Millisecond
	DefaultResultsFile        = "client_creation_results.json"
	DefaultProgressEvery      = 10
)

// Environment variables which override the file settings.
const (
	EnvAPIToken = "PLANNR_API_TOKEN"
	EnvBaseURL  = "PLANNR_BASE_URL"
)

var (
	// ErrPlaceholderToken reports a missing API token or one still set to a
	// template placeholder.
	ErrPlaceholderToken = errors.New("plannr.api_token is missing or still set to a placeholder")

	// ErrCountNotDivisible reports a seed count which cannot be split evenly
	// across the client statuses.
	ErrCountNotDivisible = errors.New("seed.count must be a positive multiple of 4")
)

// placeholderTokens are the token values shipped in example configurations.
var placeholderTokens = []string{
	"YOUR_PLANNR_CRM_API_KEY",
	"your_actual_plannr_crm_api_key_here",
	"your-api-token-here",
	"YOUR_API_TOKEN",
}

// Config represents the entire application configuration.
type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Plannr   PlannrConfig   `yaml:"plannr"`
	Seed     SeedConfig     `yaml:"seed"`
}

// DatabaseConfig holds the connection settings for the CRM database.
type DatabaseConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// PlannrConfig holds Plannr API settings.
type PlannrConfig struct {
	BaseURL               string        `yaml:"base_url"`
	APIToken              string        `yaml:"api_token"`
	ClientPath            string        `yaml:"client_path"`
	RequestTimeoutStr     string        `yaml:"request_timeout"`
	MinRequestIntervalStr string        `yaml:"min_request_interval"`
	RequestTimeout        time.Duration // Parsed from RequestTimeoutStr
	MinRequestInterval    time.Duration // Parsed from MinRequestIntervalStr
}

// SeedConfig holds the settings for the synthetic client creation run.
type SeedConfig struct {
	CountValue      *int          `yaml:"count"`
	Advisor         string        `yaml:"advisor"`
	RequestDelayStr string        `yaml:"request_delay"`
	ResultsFile     string        `yaml:"results_file"`
	ProgressEvery   int           `yaml:"progress_every"`
	RequestDelay    time.Duration // Parsed from RequestDelayStr

	// Count is CountValue, or DefaultCount when the key is absent.
	Count int `yaml:"-"`
}

// Load loads the configuration from the given file path, applies defaults and
// environment overrides and parses derived values. Sections are validated
// separately by the commands that need them.
func Load(filePath string) (*Config, error) {
	if _, err := os.Stat(filePath); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file does not exist: %s", filePath)
	}

	configFile, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	err = yaml.Unmarshal(configFile, &cfg)
	if err != nil {
		return nil, fmt.Errorf("unable to parse YAML config file: %w", err)
	}

	if err := prepare(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadEnv reads a dotenv file into the process environment if it exists.
// Variables already set in the environment are not overwritten.
func LoadEnv(filePath string) error {
	if _, err := os.Stat(filePath); os.IsNotExist(err) {
		return nil
	}
	if err := godotenv.Load(filePath); err != nil {
		return fmt.Errorf("could not load env file %s: %w", filePath, err)
	}
	return nil
}

// prepare sets defaults, applies environment overrides and parses durations.
func prepare(c *Config) error {
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}

	p := &c.Plannr
	if v := os.Getenv(EnvAPIToken); v != "" {
		p.APIToken = v
	}
	if v := os.Getenv(EnvBaseURL); v != "" {
		p.BaseURL = v
	}
	if p.BaseURL == "" {
		p.BaseURL = DefaultBaseURL
	}
	p.BaseURL = strings.TrimRight(p.BaseURL, "/")
	if p.ClientPath == "" {
		p.ClientPath = DefaultClientPath
	}

	var err error
	p.RequestTimeout, err = parseDuration("plannr.request_timeout", p.RequestTimeoutStr, DefaultRequestTimeout)
	if err != nil {
		return err
	}
	p.MinRequestInterval, err = parseDuration("plannr.min_request_interval", p.MinRequestIntervalStr, DefaultMinRequestInterval)
	if err != nil {
		return err
	}

	s := &c.Seed
	s.Count = DefaultCount
	if s.CountValue != nil {
		s.Count = *s.CountValue
	}
	if s.Advisor == "" {
		s.Advisor = DefaultAdvisor
	}
	if s.ResultsFile == "" {
		s.ResultsFile = DefaultResultsFile
	}
	if s.ProgressEvery <= 0 {
		s.ProgressEvery = DefaultProgressEvery
	}
	s.RequestDelay, err = parseDuration("seed.request_delay", s.RequestDelayStr, DefaultRequestDelay)
	if err != nil {
		return err
	}
	return nil
}

// parseDuration parses a yaml duration string, returning def if it is empty.
func parseDuration(key, s string, def time.Duration) (time.Duration, error) {
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s format: %w", key, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s cannot be negative", key)
	}
	return d, nil
}

// ValidateDatabase checks the settings required by the purge command.
func (c *Config) ValidateDatabase() error {
	switch c.Database.Driver {
	case "sqlite", "postgres", "mysql":
	default:
		return fmt.Errorf("database.driver must be one of sqlite, postgres or mysql, got %q", c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return errors.New("database.dsn is missing")
	}
	return nil
}

// ValidatePlannr checks the settings required to call the Plannr API.
func (c *Config) ValidatePlannr() error {
	if IsPlaceholderToken(c.Plannr.APIToken) {
		return ErrPlaceholderToken
	}
	if !strings.HasPrefix(c.Plannr.BaseURL, "http://") && !strings.HasPrefix(c.Plannr.BaseURL, "https://") {
		return fmt.Errorf("plannr.base_url must be an http(s) url, got %q", c.Plannr.BaseURL)
	}
	if !strings.HasPrefix(c.Plannr.ClientPath, "/") {
		return fmt.Errorf("plannr.client_path must start with '/', got %q", c.Plannr.ClientPath)
	}
	return nil
}

// ValidateSeed checks the settings for a seeding run. The Plannr settings are
// not checked here so that dry runs work without a token.
func (c *Config) ValidateSeed() error {
	if err := ValidateCount(c.Seed.Count); err != nil {
		return err
	}
	if strings.TrimSpace(c.Seed.Advisor) == "" {
		return errors.New("seed.advisor is missing")
	}
	return nil
}

// ValidateCount reports whether count can be split evenly across the four
// client statuses.
func ValidateCount(count int) error {
	if count <= 0 || count%4 != 0 {
		return fmt.Errorf("%w: got %d", ErrCountNotDivisible, count)
	}
	return nil
}

// IsPlaceholderToken reports whether token is empty or one of the example
// placeholder values.
func IsPlaceholderToken(token string) bool {
	token = strings.TrimSpace(token)
	if token == "" {
		return true
	}
	for _, p := range placeholderTokens {
		if strings.EqualFold(token, p) {
			return true
		}
	}
	return false
}
