// Package config loads sentinel settings from the environment, an optional
// .env file and overrides persisted through the control API.
package config

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	goa "goa.design/goa/v3/pkg"
)

// RuntimeKey is the app_config key holding live-tunable settings
const RuntimeKey = "runtime_config"

// CameraConfig selects and configures the frame source
type CameraConfig struct {
	Source     string // http, file, ffmpeg or device
	URL        string
	File       string
	Device     int
	Resolution string
}

// LocationConfig selects the position provider
type LocationConfig struct {
	Mode   string // static or http
	Lat    float64
	Lng    float64
	URL    string
	MaxAge time.Duration
}

// KafkaConfig holds broker settings for the kafka dispatch mode
type KafkaConfig struct {
	BootstrapServers string
	Topic            string
	SecurityProtocol string
	SASLMechanism    string
	SASLUsername     string
	SASLPassword     string
	Acks             string
	CompressionType  string
}

// DispatchConfig selects the backend gateway
type DispatchConfig struct {
	Mode          string // http, kafka or none
	BackendURL    string
	Timeout       time.Duration
	Kafka         KafkaConfig
	RetentionDays int
}

// TelegramConfig configures the photo announcer
type TelegramConfig struct {
	Enabled  bool
	BotToken string
	ChatID   string
}

// DeviceConfig configures power and network status polling
type DeviceConfig struct {
	Interval            time.Duration
	LowBatteryThreshold int // Percent
}

// AuthConfig configures control API login
type AuthConfig struct {
	Enabled   bool
	Username  string
	Password  string
	JWTSecret string
	JWTExpiry time.Duration
}

// Runtime holds the settings that can change while the scheduler runs
type Runtime struct {
	ChangeSensitivity float64  `json:"change_sensitivity_percent"`
	MinConfidence     float64  `json:"min_confidence_percent"`
	CooldownMs        int64    `json:"cooldown_ms"`
	ExcludedLabels    []string `json:"excluded_labels"`
}

// Cooldown returns the cooldown as a duration
func (r Runtime) Cooldown() time.Duration {
	return time.Duration(r.CooldownMs) * time.Millisecond
}

// Config is the complete sentinel configuration
type Config struct {
	NodeID           string
	SamplingInterval time.Duration
	WarmupFrames     int
	ModelInputSize   int
	SignatureMode    string
	ExistenceFloor   float64

	ModelArtifact      string
	ModelEndpoint      string
	ModelRetryInterval time.Duration

	Runtime Runtime

	Camera   CameraConfig
	Location LocationConfig
	Dispatch DispatchConfig
	Telegram TelegramConfig
	Device   DeviceConfig
	Auth     AuthConfig

	HTTPAddr string
	DBPath   string
}

// Load reads .env (when present) and the process environment
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Printf("[Config] No .env file found, using environment variables")
	}

	return &Config{
		NodeID:           getEnv("NODE_ID", hostname()),
		SamplingInterval: time.Duration(getEnvInt("SAMPLING_INTERVAL_MS", 1000)) * time.Millisecond,
		WarmupFrames:     getEnvInt("WARMUP_FRAMES", 3),
		ModelInputSize:   getEnvInt("MODEL_INPUT_SIZE", 640),
		SignatureMode:    getEnv("SIGNATURE_MODE", "checksum"),
		ExistenceFloor:   getEnvFloat("EXISTENCE_FLOOR", 0.001),

		ModelArtifact:      getEnv("MODEL_ARTIFACT", "/models/wildlife-yolo11n.tflite"),
		ModelEndpoint:      getEnv("MODEL_ENDPOINT", "localhost:50051"),
		ModelRetryInterval: getEnvDuration("MODEL_RETRY_INTERVAL", time.Minute),

		Runtime: Runtime{
			ChangeSensitivity: getEnvFloat("CHANGE_SENSITIVITY_PERCENT", 5),
			MinConfidence:     getEnvFloat("MIN_CONFIDENCE_PERCENT", 25),
			CooldownMs:        int64(getEnvInt("COOLDOWN_MS", 5*60*1000)),
			ExcludedLabels:    excludedLabels(),
		},

		Camera: CameraConfig{
			Source:     strings.ToLower(getEnv("CAMERA_SOURCE", "http")),
			URL:        getEnv("CAMERA_URL", "http://localhost:8081/snapshot.jpg"),
			File:       getEnv("CAMERA_FILE", ""),
			Device:     getEnvInt("CAMERA_DEVICE", 0),
			Resolution: getEnv("CAMERA_RESOLUTION", ""),
		},
		Location: LocationConfig{
			Mode:   strings.ToLower(getEnv("LOCATION_MODE", "static")),
			Lat:    getEnvFloat("LOCATION_LAT", 0),
			Lng:    getEnvFloat("LOCATION_LNG", 0),
			URL:    getEnv("LOCATION_URL", ""),
			MaxAge: getEnvDuration("LOCATION_MAX_AGE", 10*time.Minute),
		},
		Dispatch: DispatchConfig{
			Mode:       strings.ToLower(getEnv("DISPATCH_MODE", "http")),
			BackendURL: getEnv("BACKEND_URL", ""),
			Timeout:    getEnvDuration("DISPATCH_TIMEOUT", 50*time.Second),
			Kafka: KafkaConfig{
				BootstrapServers: getEnv("KAFKA_BOOTSTRAP_SERVERS", "localhost:9092"),
				Topic:            getEnv("KAFKA_TOPIC", "animal-records"),
				SecurityProtocol: getEnv("KAFKA_SECURITY_PROTOCOL", ""),
				SASLMechanism:    getEnv("KAFKA_SASL_MECHANISM", ""),
				SASLUsername:     getEnv("KAFKA_SASL_USERNAME", ""),
				SASLPassword:     getEnv("KAFKA_SASL_PASSWORD", ""),
				Acks:             getEnv("KAFKA_ACKS", "all"),
				CompressionType:  getEnv("KAFKA_COMPRESSION_TYPE", ""),
			},
			RetentionDays: getEnvInt("DISPATCH_RETENTION_DAYS", 30),
		},
		Telegram: TelegramConfig{
			Enabled:  getEnvBool("TELEGRAM_ENABLED", false),
			BotToken: getEnv("TELEGRAM_BOT_TOKEN", ""),
			ChatID:   getEnv("TELEGRAM_CHAT_ID", ""),
		},
		Device: DeviceConfig{
			Interval:            getEnvDuration("DEVICE_STATUS_INTERVAL", 10*time.Second),
			LowBatteryThreshold: getEnvInt("LOW_BATTERY_THRESHOLD", 20),
		},
		Auth: AuthConfig{
			Enabled:   getEnvBool("AUTH_ENABLED", false),
			Username:  getEnv("AUTH_USERNAME", "admin"),
			Password:  getEnv("AUTH_PASSWORD", ""),
			JWTSecret: getEnv("JWT_SECRET", ""),
			JWTExpiry: getEnvDuration("JWT_EXPIRY", 24*time.Hour),
		},

		HTTPAddr: getEnv("HTTP_ADDR", ":8080"),
		DBPath:   getEnv("DB_PATH", "/data/aranyani.db"),
	}
}

// Validate checks the whole configuration and reports every invalid field
func (c *Config) Validate() error {
	var err error

	if c.NodeID == "" {
		err = goa.MergeErrors(err, goa.MissingFieldError("NODE_ID", "config"))
	}
	if c.SamplingInterval < 100*time.Millisecond {
		err = goa.MergeErrors(err, goa.InvalidRangeError("SAMPLING_INTERVAL_MS", c.SamplingInterval.Milliseconds(), 100, true))
	}
	if c.WarmupFrames < 0 {
		err = goa.MergeErrors(err, goa.InvalidRangeError("WARMUP_FRAMES", c.WarmupFrames, 0, true))
	}
	if c.ModelInputSize < 32 {
		err = goa.MergeErrors(err, goa.InvalidRangeError("MODEL_INPUT_SIZE", c.ModelInputSize, 32, true))
	}
	if c.ExistenceFloor < 0 || c.ExistenceFloor >= 1 {
		err = goa.MergeErrors(err, goa.InvalidRangeError("EXISTENCE_FLOOR", c.ExistenceFloor, 1, false))
	}
	switch strings.ToLower(c.SignatureMode) {
	case "", "checksum", "length":
	default:
		err = goa.MergeErrors(err, goa.InvalidEnumValueError("SIGNATURE_MODE", c.SignatureMode, []any{"checksum", "length"}))
	}
	if c.ModelArtifact == "" {
		err = goa.MergeErrors(err, goa.MissingFieldError("MODEL_ARTIFACT", "config"))
	}

	if e := c.Runtime.Validate(); e != nil {
		err = goa.MergeErrors(err, e)
	}

	switch c.Camera.Source {
	case "http", "ffmpeg":
		if c.Camera.URL == "" {
			err = goa.MergeErrors(err, goa.MissingFieldError("CAMERA_URL", "config"))
		}
	case "file":
		if c.Camera.File == "" {
			err = goa.MergeErrors(err, goa.MissingFieldError("CAMERA_FILE", "config"))
		}
	case "device":
	default:
		err = goa.MergeErrors(err, goa.InvalidEnumValueError("CAMERA_SOURCE", c.Camera.Source, []any{"http", "file", "ffmpeg", "device"}))
	}

	switch c.Location.Mode {
	case "static":
		if c.Location.Lat < -90 || c.Location.Lat > 90 {
			err = goa.MergeErrors(err, goa.InvalidRangeError("LOCATION_LAT", c.Location.Lat, 90, false))
		}
		if c.Location.Lng < -180 || c.Location.Lng > 180 {
			err = goa.MergeErrors(err, goa.InvalidRangeError("LOCATION_LNG", c.Location.Lng, 180, false))
		}
	case "http":
		if c.Location.URL == "" {
			err = goa.MergeErrors(err, goa.MissingFieldError("LOCATION_URL", "config"))
		}
	default:
		err = goa.MergeErrors(err, goa.InvalidEnumValueError("LOCATION_MODE", c.Location.Mode, []any{"static", "http"}))
	}

	switch c.Dispatch.Mode {
	case "http":
		if c.Dispatch.BackendURL == "" {
			err = goa.MergeErrors(err, goa.MissingFieldError("BACKEND_URL", "config"))
		}
	case "kafka":
		if c.Dispatch.Kafka.BootstrapServers == "" {
			err = goa.MergeErrors(err, goa.MissingFieldError("KAFKA_BOOTSTRAP_SERVERS", "config"))
		}
	case "none":
	default:
		err = goa.MergeErrors(err, goa.InvalidEnumValueError("DISPATCH_MODE", c.Dispatch.Mode, []any{"http", "kafka", "none"}))
	}

	if c.Telegram.Enabled && (c.Telegram.BotToken == "" || c.Telegram.ChatID == "") {
		err = goa.MergeErrors(err, goa.MissingFieldError("TELEGRAM_BOT_TOKEN/TELEGRAM_CHAT_ID", "config"))
	}
	if c.Device.Interval < time.Second {
		err = goa.MergeErrors(err, goa.InvalidRangeError("DEVICE_STATUS_INTERVAL", c.Device.Interval.String(), 1, true))
	}
	if c.Device.LowBatteryThreshold < 1 || c.Device.LowBatteryThreshold > 99 {
		err = goa.MergeErrors(err, goa.InvalidRangeError("LOW_BATTERY_THRESHOLD", c.Device.LowBatteryThreshold, 1, true))
	}
	if c.Auth.Enabled && c.Auth.Password == "" {
		err = goa.MergeErrors(err, goa.MissingFieldError("AUTH_PASSWORD", "config"))
	}

	return err
}

// Validate checks the live-tunable settings
func (r Runtime) Validate() error {
	var err error
	if r.ChangeSensitivity < 0 {
		err = goa.MergeErrors(err, goa.InvalidRangeError("change_sensitivity_percent", r.ChangeSensitivity, 0, true))
	}
	if r.MinConfidence < 0 {
		err = goa.MergeErrors(err, goa.InvalidRangeError("min_confidence_percent", r.MinConfidence, 0, true))
	}
	if r.MinConfidence > 100 {
		err = goa.MergeErrors(err, goa.InvalidRangeError("min_confidence_percent", r.MinConfidence, 100, false))
	}
	if r.CooldownMs < 0 {
		err = goa.MergeErrors(err, goa.InvalidRangeError("cooldown_ms", r.CooldownMs, 0, true))
	}
	for _, label := range r.ExcludedLabels {
		if strings.TrimSpace(label) == "" {
			err = goa.MergeErrors(err, goa.MissingFieldError("excluded_labels[]", "runtime config"))
			break
		}
	}
	return err
}

// Store persists configuration values
type Store interface {
	GetConfig(key string) (string, error)
	SaveConfig(key, value string) error
}

// ApplyOverrides replaces the runtime settings with the persisted ones.
// A missing or unreadable record leaves the environment values in place.
func (c *Config) ApplyOverrides(store Store) error {
	raw, err := store.GetConfig(RuntimeKey)
	if err != nil {
		return fmt.Errorf("failed to read runtime config: %w", err)
	}
	if raw == "" {
		return nil
	}

	rt := c.Runtime
	if err := json.Unmarshal([]byte(raw), &rt); err != nil {
		return fmt.Errorf("failed to decode runtime config: %w", err)
	}
	if err := rt.Validate(); err != nil {
		return fmt.Errorf("persisted runtime config is invalid: %w", err)
	}

	c.Runtime = rt
	log.Printf("[Config] Loaded runtime overrides from database")
	return nil
}

// SaveRuntime persists the live-tunable settings
func SaveRuntime(store Store, rt Runtime) error {
	data, err := json.Marshal(rt)
	if err != nil {
		return fmt.Errorf("failed to encode runtime config: %w", err)
	}
	if err := store.SaveConfig(RuntimeKey, string(data)); err != nil {
		return fmt.Errorf("failed to save runtime config: %w", err)
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
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
		log.Printf("[Config] Ignoring invalid %s=%q", key, value)
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
		log.Printf("[Config] Ignoring invalid %s=%q", key, value)
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
		log.Printf("[Config] Ignoring invalid %s=%q", key, value)
	}
	return defaultValue
}

// getEnvDuration accepts Go durations ("45s") or plain milliseconds
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if ms, err := strconv.ParseInt(value, 10, 64); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	log.Printf("[Config] Ignoring invalid %s=%q", key, value)
	return defaultValue
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

// excludedLabels distinguishes an unset variable (defaults) from an empty
// one (nothing excluded)
func excludedLabels() []string {
	if value, ok := os.LookupEnv("EXCLUDED_LABELS"); ok {
		return splitList(value)
	}
	return []string{"Human", "Elephant"}
}

func hostname() string {
	if h, err := os.Hostname(); err == nil && h != "" {
		return h
	}
	return "sentinel-1"
}
