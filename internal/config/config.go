package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigPath is the default config file; HEART_CONFIG overrides it.
var ConfigPath = "config.yaml"

const minSessionSecretLen = 16

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port           string   `yaml:"port"`
	LogLevel       string   `yaml:"logLevel"`
	AppURL         string   `yaml:"appURL"`
	AllowedOrigins []string `yaml:"allowedOrigins"`
	TrustedProxies []string `yaml:"trustedProxies"`
	DatabaseURL    string   `yaml:"databaseURL"`
	RedisAddr      string   `yaml:"redisAddr"`
	RedisPassword  string   `yaml:"redisPassword"`

	PubMedBaseURL string `yaml:"pubmedBaseURL"`
	PubMedAPIKey  string `yaml:"pubmedAPIKey"`
	PubMedTimeout string `yaml:"pubmedTimeout"`

	SessionSecret   string `yaml:"sessionSecret"`
	SessionTTL      string `yaml:"sessionTTL"`
	SessionSecure   bool   `yaml:"sessionSecure"`
	VerifyTokenTTL  string `yaml:"verifyTokenTTL"`
	FailOnMailError bool   `yaml:"failOnMailError"`

	SMTPHost     string `yaml:"smtpHost"`
	SMTPPort     int    `yaml:"smtpPort"`
	SMTPUser     string `yaml:"smtpUser"`
	SMTPPassword string `yaml:"smtpPassword"`
	SMTPFrom     string `yaml:"smtpFrom"`

	OCRCommand     string `yaml:"ocrCommand"`
	OCRTimeout     string `yaml:"ocrTimeout"`
	MaxUploadBytes int64  `yaml:"maxUploadBytes"`

	MinioEndpoint  string `yaml:"minioEndpoint"`
	MinioAccessKey string `yaml:"minioAccessKey"`
	MinioSecretKey string `yaml:"minioSecretKey"`
	MinioBucket    string `yaml:"minioBucket"`
	MinioUseSSL    bool   `yaml:"minioUseSSL"`
	UploadDir      string `yaml:"uploadDir"`

	HistoryWorkers int    `yaml:"historyWorkers"`
	HistoryBuffer  int    `yaml:"historyBuffer"`
	HistoryStream  string `yaml:"historyStream"`
}

// Path returns HEART_CONFIG when set, otherwise ConfigPath.
func Path() string {
	if v := strings.TrimSpace(os.Getenv("HEART_CONFIG")); v != "" {
		return v
	}
	return ConfigPath
}

// Load reads config from path (defaults to Path()). A missing file is not an
// error when the environment supplies every required setting.
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{}
	if path == "" {
		path = Path()
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return cfg, fmt.Errorf("read config: %w", err)
	}

	overrideString(&cfg.Port, "PORT")
	overrideString(&cfg.LogLevel, "LOG_LEVEL")
	overrideString(&cfg.AppURL, "APP_URL")
	overrideList(&cfg.AllowedOrigins, "ALLOWED_ORIGINS")
	overrideList(&cfg.TrustedProxies, "TRUSTED_PROXIES")
	overrideString(&cfg.DatabaseURL, "DATABASE_URL")
	overrideString(&cfg.RedisAddr, "REDIS_ADDR")
	overrideString(&cfg.RedisPassword, "REDIS_PASSWORD")
	overrideString(&cfg.PubMedBaseURL, "PUBMED_BASE_URL")
	overrideString(&cfg.PubMedAPIKey, "PUBMED_API_KEY")
	overrideString(&cfg.PubMedTimeout, "PUBMED_TIMEOUT")
	overrideString(&cfg.SessionSecret, "SESSION_SECRET")
	overrideString(&cfg.SessionTTL, "SESSION_TTL")
	overrideBool(&cfg.SessionSecure, "SESSION_SECURE")
	overrideString(&cfg.VerifyTokenTTL, "VERIFY_TOKEN_TTL")
	overrideBool(&cfg.FailOnMailError, "FAIL_ON_MAIL_ERROR")
	overrideString(&cfg.SMTPHost, "SMTP_HOST")
	overrideInt(&cfg.SMTPPort, "SMTP_PORT")
	overrideString(&cfg.SMTPUser, "SMTP_USER")
	overrideString(&cfg.SMTPPassword, "SMTP_PASSWORD")
	overrideString(&cfg.SMTPFrom, "SMTP_FROM")
	overrideString(&cfg.OCRCommand, "OCR_COMMAND")
	overrideString(&cfg.OCRTimeout, "OCR_TIMEOUT")
	if v := os.Getenv("MAX_UPLOAD_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.MaxUploadBytes = n
		}
	}
	overrideString(&cfg.MinioEndpoint, "MINIO_ENDPOINT")
	overrideString(&cfg.MinioAccessKey, "MINIO_ACCESS_KEY")
	overrideString(&cfg.MinioSecretKey, "MINIO_SECRET_KEY")
	overrideString(&cfg.MinioBucket, "MINIO_BUCKET")
	overrideBool(&cfg.MinioUseSSL, "MINIO_USE_SSL")
	overrideString(&cfg.UploadDir, "UPLOAD_DIR")
	overrideInt(&cfg.HistoryWorkers, "HISTORY_WORKERS")
	overrideInt(&cfg.HistoryBuffer, "HISTORY_BUFFER")
	overrideString(&cfg.HistoryStream, "HISTORY_STREAM")

	if cfg.Port == "" {
		cfg.Port = "8080"
	}
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func validateConfig(cfg FileConfig) error {
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		return errors.New("config: databaseURL is required (set DATABASE_URL)")
	}
	if len(strings.TrimSpace(cfg.SessionSecret)) < minSessionSecretLen {
		return fmt.Errorf("config: sessionSecret must be at least %d characters (set SESSION_SECRET)", minSessionSecretLen)
	}
	if cfg.AppURL != "" {
		u, err := url.Parse(cfg.AppURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("config: appURL %q must be an absolute URL", cfg.AppURL)
		}
	}
	for name, raw := range map[string]string{
		"pubmedTimeout":  cfg.PubMedTimeout,
		"sessionTTL":     cfg.SessionTTL,
		"verifyTokenTTL": cfg.VerifyTokenTTL,
		"ocrTimeout":     cfg.OCRTimeout,
	} {
		if _, err := ParseDuration(name, raw); err != nil {
			return fmt.Errorf("config: %w", err)
		}
	}
	if cfg.SMTPHost != "" && strings.TrimSpace(cfg.SMTPFrom) == "" && strings.TrimSpace(cfg.SMTPUser) == "" {
		return errors.New("config: smtpFrom or smtpUser is required when smtpHost is set")
	}
	if cfg.SMTPPort < 0 || cfg.MaxUploadBytes < 0 || cfg.HistoryWorkers < 0 || cfg.HistoryBuffer < 0 {
		return errors.New("config: numeric settings must be >= 0")
	}
	if cfg.MinioEndpoint != "" && (cfg.MinioBucket == "" || cfg.MinioAccessKey == "" || cfg.MinioSecretKey == "") {
		return errors.New("config: minioBucket, minioAccessKey and minioSecretKey are required with minioEndpoint")
	}
	return nil
}

// ParseDuration parses an optional duration setting. Empty means zero.
func ParseDuration(name, raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	dur, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s duration: %w", name, err)
	}
	if dur < 0 {
		return 0, fmt.Errorf("invalid %s duration: must not be negative", name)
	}
	return dur, nil
}

// OCRArgs splits the OCR command line on whitespace.
func (c FileConfig) OCRArgs() []string {
	return strings.Fields(c.OCRCommand)
}

func overrideString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func overrideInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func overrideBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func overrideList(dst *[]string, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	*dst = out
}
