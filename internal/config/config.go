package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port        int
	DatabaseURL string
	JWTSecret   string

	SignerScript         string
	SignerTimeoutSeconds int
	CertsDir             string
	CRLPath              string

	DefaultValidityDays int
	WarnWindowDays      int
	WarnIntervalHours   int
	ReapIntervalHours   int
	ReportIntervalHours int

	MaxLoginAttempts    int
	LockDurationMinutes int

	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string

	LogLevel string
	LogDev   bool
}

func Load() Config {
	// .env overlay for development; a missing file is fine.
	_ = godotenv.Load()

	cfg := Config{
		Port:                 envInt("VPNPANEL_PORT", 8080),
		DatabaseURL:          os.Getenv("VPNPANEL_DATABASE_URL"),
		JWTSecret:            os.Getenv("VPNPANEL_JWT_SECRET"),
		SignerScript:         envStr("VPNPANEL_SIGNER_SCRIPT", "/etc/openvpn/scripts/cert.sh"),
		SignerTimeoutSeconds: envInt("VPNPANEL_SIGNER_TIMEOUT_SECONDS", 30),
		CertsDir:             envStr("VPNPANEL_CERTS_DIR", "/etc/openvpn/clients"),
		CRLPath:              envStr("VPNPANEL_CRL_PATH", "/etc/openvpn/crl.pem"),
		DefaultValidityDays:  envInt("VPNPANEL_DEFAULT_VALIDITY_DAYS", 30),
		WarnWindowDays:       envInt("VPNPANEL_WARN_WINDOW_DAYS", 30),
		WarnIntervalHours:    envInt("VPNPANEL_WARN_INTERVAL_HOURS", 24),
		ReapIntervalHours:    envInt("VPNPANEL_REAP_INTERVAL_HOURS", 24),
		ReportIntervalHours:  envInt("VPNPANEL_REPORT_INTERVAL_HOURS", 168),
		MaxLoginAttempts:     envInt("VPNPANEL_MAX_LOGIN_ATTEMPTS", 5),
		LockDurationMinutes:  envInt("VPNPANEL_LOCK_DURATION_MINUTES", 15),
		SMTPHost:             os.Getenv("VPNPANEL_SMTP_HOST"),
		SMTPPort:             envInt("VPNPANEL_SMTP_PORT", 587),
		SMTPUsername:         os.Getenv("VPNPANEL_SMTP_USERNAME"),
		SMTPPassword:         os.Getenv("VPNPANEL_SMTP_PASSWORD"),
		SMTPFrom:             envStr("VPNPANEL_SMTP_FROM", "noreply@example.com"),
		LogLevel:             envStr("LOG_LEVEL", "info"),
		LogDev:               os.Getenv("LOG_DEV") == "1",
	}

	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	}
	if cfg.Port <= 0 || cfg.Port >= 65536 {
		cfg.Port = 8080
	}
	if cfg.MaxLoginAttempts < 1 {
		cfg.MaxLoginAttempts = 5
	}

	return cfg
}

func (c Config) ListenAddr() string {
	return ":" + strconv.Itoa(c.Port)
}

func (c Config) SignerTimeout() time.Duration {
	return time.Duration(c.SignerTimeoutSeconds) * time.Second
}

func (c Config) LockDuration() time.Duration {
	return time.Duration(c.LockDurationMinutes) * time.Minute
}

func (c Config) WarnWindow() time.Duration {
	return time.Duration(c.WarnWindowDays) * 24 * time.Hour
}

func (c Config) WarnInterval() time.Duration {
	return time.Duration(c.WarnIntervalHours) * time.Hour
}

func (c Config) ReapInterval() time.Duration {
	return time.Duration(c.ReapIntervalHours) * time.Hour
}

func (c Config) ReportInterval() time.Duration {
	return time.Duration(c.ReportIntervalHours) * time.Hour
}

func envStr(name, def string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return def
}

func envInt(name string, def int) int {
	if v := os.Getenv(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
