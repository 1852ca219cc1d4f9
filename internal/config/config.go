package config

import (
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// Config holds the application configuration
type Config struct {
	LLM      LLMConfig
	Server   ServerConfig
	Storage  StorageConfig
	Client   ClientConfig
	LogLevel string `mapstructure:"log_level"`
}

// LLMConfig holds the upstream completion API configuration
type LLMConfig struct {
	Provider string `mapstructure:"provider"`
	BaseURL  string `mapstructure:"base_url"`
	APIKey   string `mapstructure:"api_key"`
	Model    string `mapstructure:"model"`
}

// ServerConfig holds the gateway proxy configuration
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port string `mapstructure:"port"`
	// RateLimit is requests per second accepted on /api/chat; 0 disables limiting.
	RateLimit float64 `mapstructure:"rate_limit"`
	RateBurst int     `mapstructure:"rate_burst"`
}

// StorageConfig selects the durable conversation backend
type StorageConfig struct {
	Driver string `mapstructure:"driver"` // sqlite, bolt or memory
	Path   string `mapstructure:"path"`
}

// ClientConfig holds the terminal chat client configuration
type ClientConfig struct {
	GatewayURL    string `mapstructure:"gateway_url"`
	Direct        bool   `mapstructure:"direct"`
	MarkdownStyle string `mapstructure:"markdown_style"`
	WordWrap      int    `mapstructure:"word_wrap"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("llm.provider", "openai")
	v.SetDefault("llm.base_url", "https://api.openai.com/v1")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.model", "gpt-3.5-turbo")
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", "3000")
	v.SetDefault("server.rate_limit", 0)
	v.SetDefault("server.rate_burst", 1)
	v.SetDefault("storage.driver", "sqlite")
	v.SetDefault("storage.path", "history.db")
	v.SetDefault("client.gateway_url", "http://127.0.0.1:3000")
	v.SetDefault("client.direct", false)
	v.SetDefault("client.markdown_style", "auto")
	v.SetDefault("client.word_wrap", 80)
	v.SetDefault("log_level", "info")
}

// Load loads the configuration from config.yaml in the working directory, or
// from the file named by CONFIG_PATH. A missing file is not an error. Values
// can be overridden with LANA_* variables, and OPENAI_API_KEY sets the
// upstream credential.
func Load() (*Config, error) {
	return LoadFile(os.Getenv("CONFIG_PATH"))
}

// LoadFile is Load with an explicit config file; an empty path searches ".".
func LoadFile(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, errors.Wrap(err, "read config")
		}
	}

	v.SetEnvPrefix("lana")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("llm.api_key", "OPENAI_API_KEY", "LANA_LLM_API_KEY"); err != nil {
		return nil, errors.Wrap(err, "bind api key")
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, errors.Wrap(err, "decode config")
	}

	return &config, nil
}
