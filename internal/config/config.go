package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// GatewayInstance is one authenticated Z-API account (instance id + token).
type GatewayInstance struct {
	InstanceID string `json:"instance_id"`
	Token      string `json:"token"`
}

// Complete reports whether both credential halves are present.
func (g GatewayInstance) Complete() bool {
	return strings.TrimSpace(g.InstanceID) != "" && strings.TrimSpace(g.Token) != ""
}

// GatewayCredentials holds the up-to-two instances a prospector may run.
type GatewayCredentials struct {
	Primary   GatewayInstance `json:"primary"`
	Secondary GatewayInstance `json:"secondary"`
}

// Config holds application configuration
type Config struct {
	Env      string
	LogLevel string

	MetricsAddr string

	MongoURI      string
	MongoDatabase string

	ZAPIBaseURL     string
	ZAPIClientToken string
	// GatewayCredentialsJSON maps prospector name to primary/secondary
	// gateway credentials, e.g.
	// {"Ana":{"primary":{"instance_id":"i1","token":"t1"}}}
	GatewayCredentialsJSON string

	AgendorBaseURL   string
	AgendorToken     string
	AgendorDealStage int
	AgendorFunnel    string

	SupportNumbers []string

	Timezone          string
	BusinessStartHour int
	BusinessEndHour   int
	RestWeekday       time.Weekday
	DailyQuota        int

	CampaignVariant string
	MessageTemplates []string
	SignupBaseURL    string
	// ProspectorAudioJSON maps prospector name to the voice-note URL sent
	// in the media campaign variant.
	ProspectorAudioJSON string

	SourceFilter string
	DevPhone     string

	ReaperInterval time.Duration
	StaleAfter     time.Duration

	ReconnectInitialDelay time.Duration
	ReconnectMaxDelay     time.Duration
	ReconnectMaxRetries   int
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Env:         getEnv("ENV", "development"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		MetricsAddr: getEnv("METRICS_ADDR", ":9090"),

		MongoURI:      getEnv("MONGODB_URI", ""),
		MongoDatabase: getEnv("MONGODB_NAME", "videoai"),

		ZAPIBaseURL:            getEnv("ZAPI_ENDPOINT", "https://api.z-api.io"),
		ZAPIClientToken:        getEnv("ZAPI_CLIENT_TOKEN", ""),
		GatewayCredentialsJSON: getEnv("ZAPI_CREDENTIALS_JSON", ""),

		AgendorBaseURL:   getEnv("AGENDOR_BASE_URL", "https://api.agendor.com.br/v3"),
		AgendorToken:     getEnv("AGENDOR_TOKEN", ""),
		AgendorDealStage: getEnvAsInt("AGENDOR_DEAL_STAGE", 3),
		AgendorFunnel:    getEnv("AGENDOR_FUNNEL", ""),

		SupportNumbers: getEnvAsSlice("SUPPORT_NUMBERS"),

		Timezone:          getEnv("PROSPECTING_TZ", "America/Sao_Paulo"),
		BusinessStartHour: getEnvAsInt("PROSPECTING_START_HOUR", 8),
		BusinessEndHour:   getEnvAsInt("PROSPECTING_END_HOUR", 20),
		RestWeekday:       time.Weekday(getEnvAsInt("PROSPECTING_REST_WEEKDAY", int(time.Sunday))),
		DailyQuota:        getEnvAsInt("PROSPECTING_DAILY_QUOTA", 300),

		CampaignVariant:     getEnv("CAMPAIGN_VARIANT", "text"),
		MessageTemplates:    getEnvAsSlice("MESSAGE_TEMPLATES"),
		SignupBaseURL:       getEnv("SIGNUP_BASE_URL", ""),
		ProspectorAudioJSON: getEnv("PROSPECTOR_AUDIO_JSON", ""),

		SourceFilter: getEnv("PROSPECTING_SOURCE", ""),
		DevPhone:     getEnv("DEV_PHONE", ""),

		ReaperInterval: getEnvAsDuration("REAPER_INTERVAL", 10*time.Minute),
		StaleAfter:     getEnvAsDuration("REAPER_STALE_AFTER", 10*time.Minute),

		ReconnectInitialDelay: getEnvAsDuration("RECONNECT_INITIAL_DELAY", 250*time.Second),
		ReconnectMaxDelay:     getEnvAsDuration("RECONNECT_MAX_DELAY", time.Hour),
		ReconnectMaxRetries:   getEnvAsInt("RECONNECT_MAX_RETRIES", 0),
	}
}

// Validate checks the settings without which no worker can start. A failure
// here aborts the launch before any task runs.
func (c *Config) Validate() error {
	if c.MongoURI == "" {
		return fmt.Errorf("config: MONGODB_URI is required")
	}
	if c.ZAPIClientToken == "" {
		return fmt.Errorf("config: ZAPI_CLIENT_TOKEN is required")
	}
	if c.GatewayCredentialsJSON == "" {
		return fmt.Errorf("config: ZAPI_CREDENTIALS_JSON is required")
	}
	if c.BusinessStartHour < 0 || c.BusinessStartHour > 23 ||
		c.BusinessEndHour < 0 || c.BusinessEndHour > 23 ||
		c.BusinessStartHour > c.BusinessEndHour {
		return fmt.Errorf("config: invalid business hours window %d-%d", c.BusinessStartHour, c.BusinessEndHour)
	}
	if c.RestWeekday < time.Sunday || c.RestWeekday > time.Saturday {
		return fmt.Errorf("config: invalid rest weekday %d", c.RestWeekday)
	}
	switch c.CampaignVariant {
	case "text", "media":
	default:
		return fmt.Errorf("config: unknown campaign variant %q", c.CampaignVariant)
	}
	return nil
}

// GatewayCredentials parses the per-prospector credential map.
func (c *Config) GatewayCredentials() (map[string]GatewayCredentials, error) {
	if c.GatewayCredentialsJSON == "" {
		return nil, fmt.Errorf("config: ZAPI_CREDENTIALS_JSON is empty")
	}
	creds := map[string]GatewayCredentials{}
	if err := json.Unmarshal([]byte(c.GatewayCredentialsJSON), &creds); err != nil {
		return nil, fmt.Errorf("config: parse ZAPI_CREDENTIALS_JSON: %w", err)
	}
	return creds, nil
}

// ProspectorAudio parses the per-prospector voice-note URL map. An empty
// env value is fine; the text campaign variant never reads it.
func (c *Config) ProspectorAudio() (map[string]string, error) {
	if c.ProspectorAudioJSON == "" {
		return map[string]string{}, nil
	}
	audio := map[string]string{}
	if err := json.Unmarshal([]byte(c.ProspectorAudioJSON), &audio); err != nil {
		return nil, fmt.Errorf("config: parse PROSPECTOR_AUDIO_JSON: %w", err)
	}
	return audio, nil
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsSlice splits a comma-separated environment variable, dropping
// empty entries.
func getEnvAsSlice(key string) []string {
	raw := getEnv(key, "")
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if v := strings.TrimSpace(p); v != "" {
			out = append(out, v)
		}
	}
	return out
}
