// Package config provides configuration for the outreach orchestrator.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds the orchestrator configuration.
type Config struct {
	// Server settings
	HTTPPort int

	// Database
	DatabaseURL string

	// Driver settings
	BaseURL        string
	Headless       bool
	CookiesFile    string
	AttachmentPath string

	// Classifier
	GeminiAPIKey string
	GeminiModel  string

	// Policy knobs
	DailyLimit       int
	MinDelay         time.Duration
	MaxDelay         time.Duration
	Cooldown         time.Duration
	FirstMessageWait time.Duration
	FollowUpWait     time.Duration

	// Optional rego policy file overriding the built-in action gate.
	GatePolicyFile string

	// Optional YAML file overriding the built-in message templates.
	TemplatesFile string

	// Logging
	LogLevel string
}

// TemplateFile is the YAML shape of the message template override file.
type TemplateFile struct {
	ConnectionNote string            `yaml:"connection_note"`
	FirstMessage   map[string]string `yaml:"first_message"`
	FollowUp       string            `yaml:"follow_up"`
}

// Load loads configuration from a .env file when present, then from
// environment variables.
func Load() *Config {
	// Missing .env is fine, env vars still apply.
	_ = godotenv.Load()

	return &Config{
		HTTPPort:         getEnvInt("HTTP_PORT", 8080),
		DatabaseURL:      getEnv("DATABASE_URL", "file:outreach.db?cache=shared&mode=rwc"),
		BaseURL:          getEnv("TARGET_BASE_URL", "https://www.linkedin.com/"),
		Headless:         getEnvBool("HEADLESS", true),
		CookiesFile:      getEnv("COOKIES_FILE", "cookies/session_cookies.json"),
		AttachmentPath:   getEnv("ATTACHMENT_PATH", ""),
		GeminiAPIKey:     getEnv("GEMINI_API_KEY", ""),
		GeminiModel:      getEnv("GEMINI_MODEL", "gemini-2.5-flash-lite"),
		DailyLimit:       getEnvInt("DAILY_LIMIT", 20),
		MinDelay:         time.Duration(getEnvInt("MIN_DELAY_SECONDS", 60)) * time.Second,
		MaxDelay:         time.Duration(getEnvInt("MAX_DELAY_SECONDS", 120)) * time.Second,
		Cooldown:         time.Duration(getEnvInt("COOLDOWN_DAYS", 60)) * 24 * time.Hour,
		FirstMessageWait: time.Duration(getEnvInt("FIRST_MESSAGE_WAIT_HOURS", 2)) * time.Hour,
		FollowUpWait:     time.Duration(getEnvInt("FOLLOW_UP_WAIT_DAYS", 3)) * 24 * time.Hour,
		GatePolicyFile:   getEnv("GATE_POLICY_FILE", ""),
		TemplatesFile:    getEnv("TEMPLATES_FILE", ""),
		LogLevel:         getEnv("LOG_LEVEL", "info"),
	}
}

// LoadTemplates parses the template override file. Returns nil, nil when no
// file is configured.
func (c *Config) LoadTemplates() (*TemplateFile, error) {
	if c.TemplatesFile == "" {
		return nil, nil
	}
	data, err := os.ReadFile(c.TemplatesFile)
	if err != nil {
		return nil, fmt.Errorf("read templates file: %w", err)
	}
	var tf TemplateFile
	if err := yaml.Unmarshal(data, &tf); err != nil {
		return nil, fmt.Errorf("parse templates file: %w", err)
	}
	return &tf, nil
}

// LoadGatePolicy returns the rego policy content to compile, or "" when the
// built-in policy should be used.
func (c *Config) LoadGatePolicy() (string, error) {
	if c.GatePolicyFile == "" {
		return "", nil
	}
	data, err := os.ReadFile(c.GatePolicyFile)
	if err != nil {
		return "", fmt.Errorf("read gate policy file: %w", err)
	}
	return string(data), nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if boolVal, err := strconv.ParseBool(val); err == nil {
			return boolVal
		}
	}
	return defaultVal
}
