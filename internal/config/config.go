package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Log       LogConfig       `mapstructure:"log"`
	Security  SecurityConfig  `mapstructure:"security"`
	Audit     AuditConfig     `mapstructure:"audit"`
	Detection DetectionConfig `mapstructure:"detection"`
	Emergency EmergencyConfig `mapstructure:"emergency"`
	FileScan  FileScanConfig  `mapstructure:"file_scan"`
	Alerts    AlertsConfig    `mapstructure:"alerts"`
	Ghost     GhostConfig     `mapstructure:"ghost"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	TLS  struct {
		Enabled  bool   `mapstructure:"enabled"`
		CertFile string `mapstructure:"cert_file"`
		KeyFile  string `mapstructure:"key_file"`
	} `mapstructure:"tls"`
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Name           string `mapstructure:"name"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	SSLMode        string `mapstructure:"ssl_mode"`
	MaxConnections int    `mapstructure:"max_connections"`
}

// DSN returns the PostgreSQL connection string
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Addr returns the Redis address
func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// SecurityConfig holds security-related configuration
type SecurityConfig struct {
	// SiteSecret is the shared secret used for token digests, webhook
	// signatures, and the secretbox key. Encryption-dependent features
	// fail closed when it is empty.
	SiteSecret string        `mapstructure:"site_secret"`
	SessionTTL time.Duration `mapstructure:"session_ttl"`
}

// AuditConfig holds audit log configuration
type AuditConfig struct {
	RetentionDays int  `mapstructure:"retention_days"`
	AnonymizeIPs  bool `mapstructure:"anonymize_ips"`
	// PruneEvery triggers retention pruning after every Nth write.
	PruneEvery int `mapstructure:"prune_every"`
	// AlertThreshold is the minimum severity that triggers alert dispatch.
	AlertThreshold int `mapstructure:"alert_threshold"`
}

// DetectionConfig holds brute-force detection configuration
type DetectionConfig struct {
	Enabled   bool `mapstructure:"enabled"`
	Threshold int  `mapstructure:"threshold"`
	// UserWindow and IPWindow are independent counting windows for the
	// per-username and per-origin failure counters.
	UserWindow time.Duration `mapstructure:"user_window"`
	IPWindow   time.Duration `mapstructure:"ip_window"`
	// Mode is "log" or "protect"
	Mode     string        `mapstructure:"mode"`
	BlockTTL time.Duration `mapstructure:"block_ttl"`
}

// EmergencyConfig holds emergency access configuration
type EmergencyConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// UserID is the designated emergency user for password-mode redemption.
	UserID          int64         `mapstructure:"user_id"`
	TokenTTL        time.Duration `mapstructure:"token_ttl"`
	RateLimitWindow time.Duration `mapstructure:"rate_limit_window"`
	OneTimePassword bool          `mapstructure:"one_time_password"`
	// IPAllowlist restricts redemption to these origins; empty allows all.
	IPAllowlist []string `mapstructure:"ip_allowlist"`
	PathSlug    string   `mapstructure:"path_slug"`
}

// FileScanConfig holds file integrity monitoring configuration
type FileScanConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// Mode is "log" or "protect"
	Mode           string   `mapstructure:"mode"`
	Roots          []string `mapstructure:"roots"`
	SkipDirs       []string `mapstructure:"skip_dirs"`
	SkipExtensions []string `mapstructure:"skip_extensions"`
	QuarantineDir  string   `mapstructure:"quarantine_dir"`
	// BlockedUploadExtensions is the executable-script class rejected at the
	// upload gate; AllowedUploadExtensions carves exceptions out of it.
	BlockedUploadExtensions []string      `mapstructure:"blocked_upload_extensions"`
	AllowedUploadExtensions []string      `mapstructure:"allowed_upload_extensions"`
	ScanInterval            time.Duration `mapstructure:"scan_interval"`
}

// AlertsConfig holds alert dispatch configuration
type AlertsConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Channels []string      `mapstructure:"channels"`
	Email    EmailConfig   `mapstructure:"email"`
	Webhook  WebhookConfig `mapstructure:"webhook"`
}

// EmailConfig holds email alert channel configuration
type EmailConfig struct {
	// Recipient is the alert destination address.
	Recipient string `mapstructure:"recipient"`
	// AppName is shown in alert subjects and bodies.
	AppName string `mapstructure:"app_name"`
	// Gmail holds Gmail API credentials for sending.
	Gmail GmailEmailConfig `mapstructure:"gmail"`
}

// GmailEmailConfig holds Gmail API configuration
type GmailEmailConfig struct {
	// CredentialsJSON is the service account credentials JSON content
	CredentialsJSON string `mapstructure:"credentials_json"`
	// ClientID for OAuth2 token-based auth (alternative to service account)
	ClientID string `mapstructure:"client_id"`
	// ClientSecret for OAuth2 token-based auth
	ClientSecret string `mapstructure:"client_secret"`
	// RefreshToken for OAuth2 token-based auth
	RefreshToken string `mapstructure:"refresh_token"`
	// SenderAddress is the "From" email address
	SenderAddress string `mapstructure:"sender_address"`
	// SenderName is the display name for the sender
	SenderName string `mapstructure:"sender_name"`
}

// WebhookConfig holds webhook alert channel configuration
type WebhookConfig struct {
	URL     string        `mapstructure:"url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// GhostConfig holds hidden-user (ghost mode) configuration
type GhostConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// ProxyUserID is the stand-in identity shown for hidden users.
	ProxyUserID int64 `mapstructure:"proxy_user_id"`
}

// Load reads configuration from file and environment variables
func Load() (*Config, error) {
	v := viper.New()

	// Set config file name and paths
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/sitewarden")

	// Set defaults
	setDefaults(v)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found is OK, we'll use defaults and env vars
	}

	// Bind environment variables
	v.SetEnvPrefix("SITEWARDEN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Unmarshal config
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.tls.enabled", false)

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "sitewarden")
	v.SetDefault("database.user", "sitewarden")
	v.SetDefault("database.password", "")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_connections", 25)

	// Redis defaults
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	// Log defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Security defaults
	v.SetDefault("security.site_secret", "")
	v.SetDefault("security.session_ttl", "12h")

	// Audit defaults
	v.SetDefault("audit.retention_days", 90)
	v.SetDefault("audit.anonymize_ips", false)
	v.SetDefault("audit.prune_every", 100)
	v.SetDefault("audit.alert_threshold", 7)

	// Detection defaults
	v.SetDefault("detection.enabled", true)
	v.SetDefault("detection.threshold", 5)
	v.SetDefault("detection.user_window", "15m")
	v.SetDefault("detection.ip_window", "15m")
	v.SetDefault("detection.mode", "log")
	v.SetDefault("detection.block_ttl", "24h")

	// Emergency access defaults
	v.SetDefault("emergency.enabled", false)
	v.SetDefault("emergency.user_id", 1)
	v.SetDefault("emergency.token_ttl", "15m")
	v.SetDefault("emergency.rate_limit_window", "1h")
	v.SetDefault("emergency.one_time_password", true)
	v.SetDefault("emergency.ip_allowlist", []string{})
	v.SetDefault("emergency.path_slug", "warden-emergency")

	// File scan defaults
	v.SetDefault("file_scan.enabled", true)
	v.SetDefault("file_scan.mode", "log")
	v.SetDefault("file_scan.roots", []string{})
	v.SetDefault("file_scan.skip_dirs", []string{"node_modules", "vendor", ".git", ".svn"})
	v.SetDefault("file_scan.skip_extensions", []string{"log", "tmp", "cache", "bak"})
	v.SetDefault("file_scan.quarantine_dir", "quarantine")
	v.SetDefault("file_scan.blocked_upload_extensions", []string{"php", "php3", "php4", "php5", "phtml", "pht"})
	v.SetDefault("file_scan.allowed_upload_extensions", []string{})
	v.SetDefault("file_scan.scan_interval", "24h")

	// Alert defaults
	v.SetDefault("alerts.enabled", true)
	v.SetDefault("alerts.channels", []string{"email"})
	v.SetDefault("alerts.email.recipient", "")
	v.SetDefault("alerts.email.app_name", "Sitewarden")
	v.SetDefault("alerts.email.gmail.sender_address", "")
	v.SetDefault("alerts.email.gmail.sender_name", "Sitewarden")
	v.SetDefault("alerts.webhook.url", "")
	v.SetDefault("alerts.webhook.timeout", "10s")

	// Ghost mode defaults
	v.SetDefault("ghost.enabled", false)
	v.SetDefault("ghost.proxy_user_id", 1)
}
