package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

const (
	DefaultConfigPath        = "config.toml"
	DefaultEnvFile           = ".env"
	DefaultHTTPAddr          = ":3001"
	DefaultUploadDir         = "./uploads"
	DefaultAppName           = "AO-Process-Builder"
	DefaultTurboPaymentURL   = "https://payment.ardrive.io"
	DefaultTurboToken        = "ethereum"
	DefaultTurboCLI          = "turbo"
	DefaultArweaveGateway    = "https://arweave.net"
	DefaultCheckoutCurrency  = "usd"
	DefaultCheckoutAmount    = 1000
	DefaultAOSBinary         = "aos"
	DefaultTokenPriceBaseURL = "https://kzmzniagsfcfnhgsjkpv.supabase.co/functions/v1"
	DefaultTwitterHost       = "twitter241.p.rapidapi.com"
	DefaultSMTPPort          = 587
	DefaultSweepSchedule     = "@every 10m"
)

type Config struct {
	Log        LogConfig        `toml:"log"`
	Server     ServerConfig     `toml:"server"`
	Telegram   TelegramConfig   `toml:"telegram"`
	ArDrive    ArDriveConfig    `toml:"ardrive"`
	AO         AOConfig         `toml:"ao"`
	TokenPrice TokenPriceConfig `toml:"token_price"`
	Twitter    TwitterConfig    `toml:"twitter"`
	SMTP       SMTPConfig       `toml:"smtp"`
	Sweeper    SweeperConfig    `toml:"sweeper"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

type ServerConfig struct {
	Addr string `toml:"addr"`
}

type TelegramConfig struct {
	BotToken string `toml:"bot_token"`
	// AutoStart starts long polling when the service boots.
	AutoStart              bool   `toml:"auto_start"`
	UploadDir              string `toml:"upload_dir"`
	PollTimeoutSeconds     int    `toml:"poll_timeout_seconds"`
	DownloadTimeoutSeconds int    `toml:"download_timeout_seconds"`
}

func (c TelegramConfig) DownloadTimeout() time.Duration {
	return seconds(c.DownloadTimeoutSeconds, 60)
}

type ArDriveConfig struct {
	PrivateKey       string `toml:"private_key"`
	Address          string `toml:"address"`
	Token            string `toml:"token"`
	PaymentURL       string `toml:"payment_url"`
	GatewayURL       string `toml:"gateway_url"`
	CLIPath          string `toml:"cli_path"`
	AppName          string `toml:"app_name"`
	CheckoutCurrency string `toml:"checkout_currency"`
	CheckoutAmount   int    `toml:"checkout_amount"`
	TimeoutSeconds   int    `toml:"timeout_seconds"`
	UploadTimeout    int    `toml:"upload_timeout_seconds"`
}

func (c ArDriveConfig) RequestTimeout() time.Duration { return seconds(c.TimeoutSeconds, 30) }
func (c ArDriveConfig) UploadDeadline() time.Duration { return seconds(c.UploadTimeout, 300) }

type AOConfig struct {
	Binary         string `toml:"binary"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
	HistorySize    int    `toml:"history_size"`
}

func (c AOConfig) Timeout() time.Duration { return seconds(c.TimeoutSeconds, 60) }

type TokenPriceConfig struct {
	BaseURL           string  `toml:"base_url"`
	APIKey            string  `toml:"api_key"`
	CacheTTLSeconds   int     `toml:"cache_ttl_seconds"`
	CacheSize         int     `toml:"cache_size"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
	TimeoutSeconds    int     `toml:"timeout_seconds"`
}

func (c TokenPriceConfig) CacheTTL() time.Duration { return seconds(c.CacheTTLSeconds, 30) }
func (c TokenPriceConfig) Timeout() time.Duration  { return seconds(c.TimeoutSeconds, 15) }

type TwitterConfig struct {
	APIKey            string  `toml:"api_key"`
	Host              string  `toml:"host"`
	BaseURL           string  `toml:"base_url"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
	TimeoutSeconds    int     `toml:"timeout_seconds"`
}

func (c TwitterConfig) Timeout() time.Duration { return seconds(c.TimeoutSeconds, 20) }

type SMTPConfig struct {
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	Username string `toml:"username"`
	Password string `toml:"password"`
	From     string `toml:"from"`
	// Security is one of "tls", "starttls" or "none".
	Security string `toml:"security"`
}

func (c SMTPConfig) Enabled() bool { return strings.TrimSpace(c.Host) != "" }

type SweeperConfig struct {
	Schedule      string `toml:"schedule"`
	MaxAgeMinutes int    `toml:"max_age_minutes"`
}

func (c SweeperConfig) MaxAge() time.Duration {
	if c.MaxAgeMinutes <= 0 {
		return time.Hour
	}
	return time.Duration(c.MaxAgeMinutes) * time.Minute
}

func seconds(v, fallback int) time.Duration {
	if v <= 0 {
		v = fallback
	}
	return time.Duration(v) * time.Second
}

func defaults() Config {
	return Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Server: ServerConfig{
			Addr: DefaultHTTPAddr,
		},
		Telegram: TelegramConfig{
			AutoStart:              true,
			UploadDir:              DefaultUploadDir,
			PollTimeoutSeconds:     30,
			DownloadTimeoutSeconds: 60,
		},
		ArDrive: ArDriveConfig{
			Token:            DefaultTurboToken,
			PaymentURL:       DefaultTurboPaymentURL,
			GatewayURL:       DefaultArweaveGateway,
			CLIPath:          DefaultTurboCLI,
			AppName:          DefaultAppName,
			CheckoutCurrency: DefaultCheckoutCurrency,
			CheckoutAmount:   DefaultCheckoutAmount,
			TimeoutSeconds:   30,
			UploadTimeout:    300,
		},
		AO: AOConfig{
			Binary:         DefaultAOSBinary,
			TimeoutSeconds: 60,
			HistorySize:    100,
		},
		TokenPrice: TokenPriceConfig{
			BaseURL:           DefaultTokenPriceBaseURL,
			CacheTTLSeconds:   30,
			CacheSize:         64,
			RequestsPerSecond: 5,
			TimeoutSeconds:    15,
		},
		Twitter: TwitterConfig{
			Host:              DefaultTwitterHost,
			RequestsPerSecond: 1,
			TimeoutSeconds:    20,
		},
		SMTP: SMTPConfig{
			Port:     DefaultSMTPPort,
			From:     "noreply@example.com",
			Security: "starttls",
		},
		Sweeper: SweeperConfig{
			Schedule:      DefaultSweepSchedule,
			MaxAgeMinutes: 60,
		},
	}
}

// Load reads the TOML file at path (or DefaultConfigPath) on top of the
// defaults, then applies environment overrides. A missing file is not an error.
func Load(path string) (Config, error) {
	cfg := defaults()

	if path == "" {
		path = DefaultConfigPath
	}

	if _, err := os.Stat(path); err != nil {
		if !os.IsNotExist(err) {
			return cfg, err
		}
	} else if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, fmt.Errorf("decode %s: %w", path, err)
	}

	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadEnvFile loads key=value pairs from a dotenv file into the process
// environment without overriding variables that are already set.
func LoadEnvFile(path string) error {
	if path == "" {
		path = DefaultEnvFile
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

type lookupFunc func(string) (string, bool)

func applyEnv(cfg *Config, lookup lookupFunc) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	str("LOG_LEVEL", &cfg.Log.Level)
	str("LOG_FORMAT", &cfg.Log.Format)
	str("TELEGRAM_BOT_TOKEN", &cfg.Telegram.BotToken)
	str("UPLOAD_DIR", &cfg.Telegram.UploadDir)
	str("PRIVATE_KEY", &cfg.ArDrive.PrivateKey)
	str("ARDRIVE_ADDRESS", &cfg.ArDrive.Address)
	str("TURBO_PAYMENT_URL", &cfg.ArDrive.PaymentURL)
	str("AOS_BINARY", &cfg.AO.Binary)
	str("TOKEN_PRICE_BASE_URL", &cfg.TokenPrice.BaseURL)
	str("TOKEN_PRICE_API_KEY", &cfg.TokenPrice.APIKey)
	str("RAPIDAPI_KEY", &cfg.Twitter.APIKey)
	str("SMTP_HOST", &cfg.SMTP.Host)
	str("SMTP_USERNAME", &cfg.SMTP.Username)
	str("SMTP_PASSWORD", &cfg.SMTP.Password)
	str("SMTP_FROM", &cfg.SMTP.From)

	if v, ok := lookup("SMTP_PORT"); ok && strings.TrimSpace(v) != "" {
		port, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("invalid SMTP_PORT %q: %w", v, err)
		}
		cfg.SMTP.Port = port
	}
	if v, ok := lookup("PORT"); ok && strings.TrimSpace(v) != "" {
		port := strings.TrimSpace(v)
		if _, err := strconv.Atoi(port); err != nil {
			return fmt.Errorf("invalid PORT %q: %w", v, err)
		}
		cfg.Server.Addr = ":" + port
	}
	return nil
}
