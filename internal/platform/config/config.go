package config

import (
	"log"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all configuration for the call server and the operator console.
// Twilio credentials are optional at load time: the token-issuance and
// webhook-acknowledgment paths report their absence per operation instead of
// failing startup.
type Config struct {
	ServerPort int    `mapstructure:"SERVER_PORT"`
	LogLevel   string `mapstructure:"LOG_LEVEL"`

	// Empty DSN selects the seeded in-memory customer repository.
	PostgresDSN string `mapstructure:"POSTGRES_DSN"`

	TwilioAccountSid   string `mapstructure:"TWILIO_ACCOUNT_SID"`
	TwilioAPIKeySid    string `mapstructure:"TWILIO_API_KEY_SID"`
	TwilioAPIKeySecret string `mapstructure:"TWILIO_API_KEY_SECRET"`
	TwilioTwimlAppSid  string `mapstructure:"TWILIO_TWIML_APP_SID"`

	HoldMusicURL  string `mapstructure:"HOLD_MUSIC_URL"`
	HubSendBuffer int    `mapstructure:"HUB_SEND_BUFFER"`

	// Console-side settings.
	ServerBaseURL    string `mapstructure:"SERVER_BASE_URL"`
	OperatorIdentity string `mapstructure:"OPERATOR_IDENTITY"`
	OperatorGroup    string `mapstructure:"OPERATOR_GROUP"`
}

// Load reads config.defaults.yaml (if present) merged with APP_-prefixed
// environment variables. A missing config file is not an error.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config.defaults")
	v.SetConfigType("yaml")
	v.AddConfigPath("./configs")
	v.AddConfigPath("../configs")
	v.AddConfigPath("../../configs")
	v.AddConfigPath(".")

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.SetEnvPrefix("APP")

	v.SetDefault("SERVER_PORT", 8080)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("POSTGRES_DSN", "")
	v.SetDefault("TWILIO_ACCOUNT_SID", "")
	v.SetDefault("TWILIO_API_KEY_SID", "")
	v.SetDefault("TWILIO_API_KEY_SECRET", "")
	v.SetDefault("TWILIO_TWIML_APP_SID", "")
	v.SetDefault("HOLD_MUSIC_URL", "http://com.twilio.music.classical.s3.amazonaws.com/BusyStrings.wav")
	v.SetDefault("HUB_SEND_BUFFER", 16)
	v.SetDefault("SERVER_BASE_URL", "http://localhost:8080")
	v.SetDefault("OPERATOR_IDENTITY", "agent-1")
	v.SetDefault("OPERATOR_GROUP", "")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			log.Printf("Configuration file not found; using defaults and environment variables.")
		} else {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
