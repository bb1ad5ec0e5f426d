package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Transport modes.
const (
	ModeSim = "sim"
	ModeWS  = "ws"
)

// Config holds all tunables. The timing values are demo defaults, not
// protocol requirements.
type Config struct {
	Addr string
	Env  string

	TransportMode string // sim or ws
	BrokerURL     string
	LocalUserID   string

	TypingExpiry     time.Duration
	DeliveryDelay    time.Duration
	ReadDelay        time.Duration
	ReconnectBackoff time.Duration
	MaxReconnects    int

	AutoReplyEnabled     bool
	AutoReplyProbability float64
	AutoReplyTypingPulse time.Duration
	AutoReplyDelay       time.Duration
}

// Load reads configuration from environment variables, with a .env file
// honoured in development.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		Addr: getEnv("ADDR", "127.0.0.1:3000"),
		Env:  getEnv("ENV", "development"),

		TransportMode: getEnv("TRANSPORT_MODE", ModeSim),
		BrokerURL:     getEnv("BROKER_URL", "ws://127.0.0.1:3000/ws"),
		LocalUserID:   getEnv("LOCAL_USER_ID", "u-local"),

		TypingExpiry:     getDuration("TYPING_EXPIRY", 3*time.Second),
		DeliveryDelay:    getDuration("DELIVERY_DELAY", 1*time.Second),
		ReadDelay:        getDuration("READ_DELAY", 3*time.Second),
		ReconnectBackoff: getDuration("RECONNECT_BACKOFF", 3*time.Second),
		MaxReconnects:    getInt("MAX_RECONNECTS", 10),

		AutoReplyEnabled:     getEnv("AUTO_REPLY", "true") == "true",
		AutoReplyProbability: getFloat("AUTO_REPLY_PROBABILITY", 0.66),
		AutoReplyTypingPulse: getDuration("AUTO_REPLY_TYPING_PULSE", 500*time.Millisecond),
		AutoReplyDelay:       getDuration("AUTO_REPLY_DELAY", 2*time.Second),
	}
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}
