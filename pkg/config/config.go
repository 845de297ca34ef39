package config

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Telegram  TelegramConfig  `mapstructure:"telegram"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Fetcher   FetcherConfig   `mapstructure:"fetcher"`
	Vision    VisionConfig    `mapstructure:"vision"`
	Enricher  EnricherConfig  `mapstructure:"enricher"`
	Analytics AnalyticsConfig `mapstructure:"analytics"`
}

type TelegramConfig struct {
	BaseURL  string   `mapstructure:"base_url"`
	Channels []string `mapstructure:"channels"`
}

type DatabaseConfig struct {
	Host        string `mapstructure:"host"`
	Port        int    `mapstructure:"port"`
	User        string `mapstructure:"user"`
	Password    string `mapstructure:"password"`
	DBName      string `mapstructure:"dbname"`
	SSLMode     string `mapstructure:"sslmode"`
	UseInMemory bool   `mapstructure:"use_in_memory"`
}

type FetcherConfig struct {
	Limit   int    `mapstructure:"limit"`
	DataDir string `mapstructure:"data_dir"`
}

type VisionConfig struct {
	Provider     string            `mapstructure:"provider"`
	InferenceURL string            `mapstructure:"inference_url"`
	APIKey       string            `mapstructure:"api_key"`
	Model        string            `mapstructure:"model"`
	MaxTokens    int               `mapstructure:"max_tokens"`
	Mapping      map[string]string `mapstructure:"mapping"`
}

type EnricherConfig struct {
	Mode string `mapstructure:"mode"`
}

type AnalyticsConfig struct {
	Products []string `mapstructure:"products"`
}

func parseDatabaseURL(dbURL string) (DatabaseConfig, error) {
	u, err := url.Parse(dbURL)
	if err != nil {
		return DatabaseConfig{}, err
	}

	password, _ := u.User.Password()
	port := 5432 // default PostgreSQL port
	if p := u.Port(); p != "" {
		port, err = strconv.Atoi(p)
		if err != nil {
			return DatabaseConfig{}, fmt.Errorf("invalid port %q: %w", p, err)
		}
	}

	// Remove leading slash from path to get database name
	dbName := strings.TrimPrefix(u.Path, "/")

	return DatabaseConfig{
		Host:     u.Hostname(),
		Port:     port,
		User:     u.User.Username(),
		Password: password,
		DBName:   dbName,
		SSLMode:  "disable",
	}, nil
}

func LoadConfig(path string) (*Config, error) {
	v := viper.New()

	// Set default values
	v.SetDefault("telegram.base_url", "https://t.me")
	v.SetDefault("telegram.channels", []string{"Chemed123", "lobelia4cosmetics", "tikvahpharma"})
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.use_in_memory", false)
	v.SetDefault("fetcher.limit", 50)
	v.SetDefault("fetcher.data_dir", "data/raw/telegram_messages")
	v.SetDefault("vision.provider", "openai")
	v.SetDefault("vision.model", "gpt-4o-mini")
	v.SetDefault("vision.max_tokens", 300)
	v.SetDefault("enricher.mode", "append")
	v.SetDefault("analytics.products", []string{"pill", "cream", "syringe", "bottle"})

	// Enable environment variable support
	v.AutomaticEnv()

	// Read the config file
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	// Check for DATABASE_URL environment variable
	if dbURL := v.GetString("DATABASE_URL"); dbURL != "" {
		dbConfig, err := parseDatabaseURL(dbURL)
		if err != nil {
			return nil, fmt.Errorf("failed to parse DATABASE_URL: %v", err)
		}
		config.Database = dbConfig
	}

	// Get other environment variables
	if apiKey := v.GetString("OPENAI_API_KEY"); apiKey != "" && config.Vision.Provider == "openai" {
		config.Vision.APIKey = apiKey
	}

	if dataDir := v.GetString("TELEPHARM_DATA_DIR"); dataDir != "" {
		config.Fetcher.DataDir = dataDir
	}

	if err := config.validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// validate enforces the startup-time contract: a missing required value is
// fatal before any stage runs.
func (c *Config) validate() error {
	if len(c.Telegram.Channels) == 0 {
		return fmt.Errorf("config: telegram.channels must not be empty")
	}
	if c.Fetcher.Limit <= 0 {
		return fmt.Errorf("config: fetcher.limit must be positive")
	}
	if c.Fetcher.DataDir == "" {
		return fmt.Errorf("config: fetcher.data_dir is required")
	}
	if !c.Database.UseInMemory {
		if c.Database.User == "" || c.Database.DBName == "" {
			return fmt.Errorf("config: database.user and database.dbname are required")
		}
	}
	switch c.Vision.Provider {
	case "openai":
		if c.Vision.Model == "" {
			return fmt.Errorf("config: vision.model is required for the openai provider")
		}
	case "http":
		if c.Vision.InferenceURL == "" {
			return fmt.Errorf("config: vision.inference_url is required for the http provider")
		}
	default:
		return fmt.Errorf("config: unknown vision.provider %q", c.Vision.Provider)
	}
	if len(c.Analytics.Products) == 0 {
		return fmt.Errorf("config: analytics.products must not be empty")
	}
	return nil
}
