package main

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"calsync/security"
)

const (
	defaultPort     = "8080"
	defaultCron     = "*/15 * * * *"
	defaultTimezone = "Europe/Istanbul"
	oauthAccount    = "default"
)

// RuntimeConfig is everything the server and the sync command read from the
// environment.
type RuntimeConfig struct {
	Port     string
	RedisURL string

	SourceCalendarID string
	TargetCalendarID string

	ServiceAccount     security.ServiceAccount
	OAuthClientID      string
	OAuthClientSecret  string
	OAuthRedirectURL   string
	ClassifierRulePath string

	LogDir       string
	LockTTL      time.Duration
	WindowMonths int

	CronSpec    string
	CronEnabled bool
	Timezone    string

	WebhookURL            string
	WebhookRenewEnabled   bool
	WebhookRenewInterval  time.Duration
	WebhookRenewThreshold time.Duration

	WhatsAppPhone  string
	WhatsAppAPIKey string
}

func RuntimeConfigFromEnv() RuntimeConfig {
	return RuntimeConfig{
		Port:     getEnv("PORT", defaultPort),
		RedisURL: strings.TrimSpace(os.Getenv("REDIS_URL")),

		SourceCalendarID: pickEnv("SOURCE_CALENDAR_ID", "GOOGLE_CALENDAR_ID"),
		TargetCalendarID: pickEnv("TARGET_CALENDAR_ID"),

		ServiceAccount:     security.ServiceAccountFromEnv(os.Getenv("GOOGLE_CLIENT_EMAIL"), os.Getenv("GOOGLE_PRIVATE_KEY")),
		OAuthClientID:      pickEnv("GOOGLE_OAUTH_CLIENT_ID"),
		OAuthClientSecret:  pickEnv("GOOGLE_OAUTH_CLIENT_SECRET"),
		OAuthRedirectURL:   getEnv("OAUTH_REDIRECT_URL", "http://localhost:8080/auth/google/callback"),
		ClassifierRulePath: pickEnv("CLASSIFIER_RULES_PATH"),

		LogDir:       getEnv("SYNC_LOG_DIR", defaultLogDir()),
		LockTTL:      parseDurationOrDefault(os.Getenv("SYNC_LOCK_TTL"), 60*time.Second),
		WindowMonths: parseIntOrDefault(os.Getenv("SYNC_WINDOW_MONTHS"), 6),

		CronSpec:    getEnv("SYNC_CRON", defaultCron),
		CronEnabled: strings.ToLower(strings.TrimSpace(os.Getenv("SYNC_CRON_ENABLED"))) != "false",
		Timezone:    getEnv("SYNC_TIMEZONE", defaultTimezone),

		WebhookURL:            pickEnv("CALENDAR_WEBHOOK_URL"),
		WebhookRenewEnabled:   strings.ToLower(strings.TrimSpace(os.Getenv("CALENDAR_WEBHOOK_RENEW_ENABLED"))) != "false",
		WebhookRenewInterval:  parseDurationOrDefault(os.Getenv("CALENDAR_WEBHOOK_RENEW_INTERVAL"), time.Hour),
		WebhookRenewThreshold: parseDurationOrDefault(os.Getenv("CALENDAR_WEBHOOK_RENEW_THRESHOLD"), 12*time.Hour),

		WhatsAppPhone:  pickEnv("WHATSAPP_PHONE"),
		WhatsAppAPIKey: pickEnv("WHATSAPP_API_KEY"),
	}
}

// OAuthConfigured reports whether the user consent flow can be offered.
func (c RuntimeConfig) OAuthConfigured() bool {
	return c.OAuthClientID != "" && c.OAuthClientSecret != ""
}

func (c RuntimeConfig) NotifierConfigured() bool {
	return c.WhatsAppPhone != "" && c.WhatsAppAPIKey != ""
}

// Validate reports missing calendar ids and credentials together.
func (c RuntimeConfig) Validate() error {
	var errs []error
	if c.SourceCalendarID == "" {
		errs = append(errs, errors.New("SOURCE_CALENDAR_ID is required"))
	}
	if c.TargetCalendarID == "" {
		errs = append(errs, errors.New("TARGET_CALENDAR_ID is required"))
	}
	if c.SourceCalendarID != "" && c.SourceCalendarID == c.TargetCalendarID {
		errs = append(errs, errors.New("source and target calendars must differ"))
	}
	if !c.ServiceAccount.Configured() && !c.OAuthConfigured() {
		errs = append(errs, errors.New("GOOGLE_CLIENT_EMAIL/GOOGLE_PRIVATE_KEY or GOOGLE_OAUTH_CLIENT_ID/GOOGLE_OAUTH_CLIENT_SECRET are required"))
	}
	if !c.ServiceAccount.Configured() && c.OAuthConfigured() && c.RedisURL == "" {
		errs = append(errs, errors.New("REDIS_URL is required to store OAuth tokens"))
	}
	if c.LockTTL <= 0 {
		errs = append(errs, errors.New("SYNC_LOCK_TTL must be positive"))
	}
	if c.WindowMonths <= 0 {
		errs = append(errs, errors.New("SYNC_WINDOW_MONTHS must be positive"))
	}
	return errors.Join(errs...)
}

// Location resolves the scheduler timezone, falling back to UTC.
func (c RuntimeConfig) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Serverless deployments only allow writes under /tmp.
func defaultLogDir() string {
	if os.Getenv("VERCEL") != "" || strings.EqualFold(os.Getenv("APP_ENV"), "production") {
		return os.TempDir()
	}
	if wd, err := os.Getwd(); err == nil {
		return wd
	}
	return "."
}

// Helper function to get environment variable with default
func getEnv(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

// pickEnv returns the first non-empty variable among keys.
func pickEnv(keys ...string) string {
	for _, key := range keys {
		if value := strings.TrimSpace(os.Getenv(key)); value != "" {
			return value
		}
	}
	return ""
}

func parseDurationOrDefault(raw string, def time.Duration) time.Duration {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return def
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	return def
}

func parseIntOrDefault(raw string, def int) int {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return def
	}
	if n, err := strconv.Atoi(raw); err == nil {
		return n
	}
	return def
}
