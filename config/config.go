package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config carries everything the service reads from the environment. Only the
// MQTT settings are required; every integration below them is enabled by the
// presence of its own settings.
type Config struct {
	ListenAddr string

	// Messaging transport
	MQTTBroker   string
	MQTTUsername string
	MQTTPassword string
	MQTTClientID string

	// Probe cadence and correlation
	ProbeMinDelayMs int
	ProbeMaxDelayMs int
	ProbeTimeoutMs  int
	ProbeMethod     string

	// Targets tracked at startup (comma separated)
	InitialTargets []string

	// Snapshot publishing / control commands
	RabbitMQURL          string
	RabbitMQExchange     string
	RabbitMQCommandQueue string

	// State-change alerts
	TelegramBotToken string
	TelegramChatID   string
	WebhookAlertURL  string

	// Snapshot history archive
	FirebaseDbUrl              string
	FirebaseServiceAccountJSON string
	FirebaseBatchSize          int
	FirebaseBatchTimeout       int
}

func LoadConfig() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	config := &Config{
		ListenAddr:   getEnv("LISTEN_ADDR", ":8080"),
		MQTTBroker:   getEnv("MQTT_BROKER", "localhost:1883"),
		MQTTUsername: getEnv("MQTT_USERNAME", ""),
		MQTTPassword: getEnv("MQTT_PASSWORD", ""),
		MQTTClientID: getEnv("MQTT_CLIENT_ID", "vigil-service"),

		// Defaults give a 2000-2100ms jitter window between probes
		ProbeMinDelayMs: getEnvInt("PROBE_MIN_DELAY_MS", 2000),
		ProbeMaxDelayMs: getEnvInt("PROBE_MAX_DELAY_MS", 2100),
		ProbeTimeoutMs:  getEnvInt("PROBE_TIMEOUT_MS", 30000),
		ProbeMethod:     getEnv("PROBE_METHOD", "text"),

		InitialTargets: splitList(getEnv("TARGETS", "")),

		RabbitMQURL:          getEnv("RABBITMQ_URL", ""),
		RabbitMQExchange:     getEnv("RABBITMQ_EXCHANGE", "vigil.snapshots"),
		RabbitMQCommandQueue: getEnv("RABBITMQ_COMMAND_QUEUE", "vigil.commands"),

		TelegramBotToken: getEnv("TELEGRAM_BOT_TOKEN", ""),
		TelegramChatID:   getEnv("TELEGRAM_CHAT_ID", ""),
		WebhookAlertURL:  getEnv("WEBHOOK_ALERT_URL", ""),

		FirebaseDbUrl:              getEnv("FIREBASE_DB_URL", ""),
		FirebaseServiceAccountJSON: getEnv("FIREBASE_SERVICE_ACCOUNT_JSON", ""),
		FirebaseBatchSize:          getEnvInt("FIREBASE_BATCH_SIZE", 25),
		FirebaseBatchTimeout:       getEnvInt("FIREBASE_BATCH_TIMEOUT", 15),
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate rejects configuration the scheduler would refuse at runtime, so a
// bad delay range never makes it past startup.
func (c *Config) Validate() error {
	if c.ProbeMinDelayMs <= 0 {
		return fmt.Errorf("probe min delay must be positive, got %d", c.ProbeMinDelayMs)
	}
	if c.ProbeMinDelayMs >= c.ProbeMaxDelayMs {
		return fmt.Errorf("invalid probe delay range [%d, %d): min must be below max",
			c.ProbeMinDelayMs, c.ProbeMaxDelayMs)
	}
	if c.ProbeTimeoutMs <= 0 {
		return fmt.Errorf("probe timeout must be positive, got %d", c.ProbeTimeoutMs)
	}
	if c.MQTTBroker == "" {
		return fmt.Errorf("MQTT_BROKER is required")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
