package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const DefaultQuoteURL = "https://api.coingecko.com/api/v3/simple/price?ids=bitcoin&vs_currencies=usd"

type Config struct {
	Environment   string
	Port          string
	JWTSecret     string
	TutorSecret   string
	CORSOrigins   string
	LogFile       string
	StoreDriver   string
	DBDSN         string
	BoltPath      string
	SeedFile      string
	AwardPolicy   string
	SecretStorage string

	RequiredConfirmations int
	BlockInterval         time.Duration
	QuoteURL              string
	QuoteInterval         time.Duration
	PriceInterval         time.Duration
}

// Load reads .env (if present) and then the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(".env"); err != nil {
		log.Println("No .env file found, using environment variables")
	}
	return FromViper(newViper())
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetTypeByDefaultValue(true)
	v.SetDefault("ENV", "development")
	v.SetDefault("PORT", "3000")
	v.SetDefault("JWT_SECRET", "")
	v.SetDefault("TUTOR_SECRET", "Braibit2025")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("LOG_FILE", "")
	v.SetDefault("STORE_DRIVER", "memory")
	v.SetDefault("DB_DSN", "")
	v.SetDefault("BOLT_PATH", "braibit.db")
	v.SetDefault("SEED_FILE", "")
	v.SetDefault("AWARD_POLICY", "mint")
	v.SetDefault("SECRET_STORAGE", "plain")
	v.SetDefault("REQUIRED_CONFIRMATIONS", 3)
	v.SetDefault("BLOCK_INTERVAL", 3*time.Second)
	v.SetDefault("QUOTE_URL", DefaultQuoteURL)
	v.SetDefault("QUOTE_INTERVAL", 30*time.Second)
	v.SetDefault("PRICE_INTERVAL", 10*time.Second)
	v.AutomaticEnv()
	return v
}

// FromViper builds and validates a Config from an already populated viper instance.
func FromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		Environment:           v.GetString("ENV"),
		Port:                  v.GetString("PORT"),
		JWTSecret:             v.GetString("JWT_SECRET"),
		TutorSecret:           v.GetString("TUTOR_SECRET"),
		CORSOrigins:           v.GetString("CORS_ORIGINS"),
		LogFile:               v.GetString("LOG_FILE"),
		StoreDriver:           strings.ToLower(v.GetString("STORE_DRIVER")),
		DBDSN:                 v.GetString("DB_DSN"),
		BoltPath:              v.GetString("BOLT_PATH"),
		SeedFile:              v.GetString("SEED_FILE"),
		AwardPolicy:           strings.ToLower(v.GetString("AWARD_POLICY")),
		SecretStorage:         strings.ToLower(v.GetString("SECRET_STORAGE")),
		RequiredConfirmations: v.GetInt("REQUIRED_CONFIRMATIONS"),
		BlockInterval:         v.GetDuration("BLOCK_INTERVAL"),
		QuoteURL:              v.GetString("QUOTE_URL"),
		QuoteInterval:         v.GetDuration("QUOTE_INTERVAL"),
		PriceInterval:         v.GetDuration("PRICE_INTERVAL"),
	}

	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required but not set")
	}
	switch cfg.StoreDriver {
	case "memory", "bolt":
	case "postgres":
		if cfg.DBDSN == "" {
			return nil, fmt.Errorf("DB_DSN is required when STORE_DRIVER=postgres")
		}
	default:
		return nil, fmt.Errorf("unknown STORE_DRIVER %q", cfg.StoreDriver)
	}
	if cfg.AwardPolicy != "mint" && cfg.AwardPolicy != "transfer" {
		return nil, fmt.Errorf("AWARD_POLICY must be mint or transfer, got %q", cfg.AwardPolicy)
	}
	if cfg.SecretStorage != "plain" && cfg.SecretStorage != "bcrypt" {
		return nil, fmt.Errorf("SECRET_STORAGE must be plain or bcrypt, got %q", cfg.SecretStorage)
	}
	if cfg.RequiredConfirmations <= 0 {
		return nil, fmt.Errorf("REQUIRED_CONFIRMATIONS must be positive")
	}
	if cfg.BlockInterval <= 0 || cfg.QuoteInterval <= 0 || cfg.PriceInterval <= 0 {
		return nil, fmt.Errorf("intervals must be positive durations")
	}

	return cfg, nil
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func (c *Config) HashSecrets() bool {
	return c.SecretStorage == "bcrypt"
}
