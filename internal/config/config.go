package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port         int
	Password     string
	LogDirectory string
	DatabasePath string

	ModelPath  string
	ConfigPath string

	CamerasPort     int
	CameraNames     map[string]string // sender IP -> camera name
	Cameras         []string          // cameras that get an inference loop
	FrameStaleAfter time.Duration     // a camera with no frame for this long is not advancing

	AnalyticCategory     string
	DebounceWindow       time.Duration
	MinInferenceInterval time.Duration
	ConfidenceFloor      float64
	TickInterval         time.Duration

	KafkaBrokers     []string
	ChangeFeedTopic  string // logical resource the adapter subscribes to
	ChangeFeedGroup  string
	ChangeFeedSource string // optional source-key filter

	MQTTBroker      string
	MQTTTopicPrefix string
	MQTTClientID    string

	JournalFlushInterval time.Duration
	JournalBatchLimit    int
	JournalRetention     time.Duration // 0 keeps every event
}

// Load reads configuration from the environment, after loading .env when present.
func Load() *Config {
	// .env is optional
	_ = godotenv.Load()

	cameraNames := getEnvAsMap("CAMERA_NAMES")

	return &Config{
		Port:         getEnvAsInt("PORT", 8080),
		Password:     getEnv("PASSWORD", "changeme"),
		LogDirectory: getEnv("LOG_DIR", filepath.Join(".", "logs")),
		DatabasePath: getEnv("DB_PATH", filepath.Join(".", "data", "events.db")),

		ModelPath:  getEnv("MODEL_PATH", filepath.Join(".", "models", "frozen_inference_graph.pb")),
		ConfigPath: getEnv("CONFIG_PATH", filepath.Join(".", "models", "ssd_mobilenet_v1_coco_2017_11_17.pbtxt")),

		CamerasPort:     getEnvAsInt("CAMERAS_PORT", 9000),
		CameraNames:     cameraNames,
		Cameras:         getEnvAsList("CAMERAS", mapValues(cameraNames)),
		FrameStaleAfter: getEnvAsMillis("FRAME_STALE_AFTER_MS", 2000),

		AnalyticCategory:     getEnv("ANALYTIC_CATEGORY", "people-count"),
		DebounceWindow:       getEnvAsMillis("DEBOUNCE_WINDOW_MS", 250),
		MinInferenceInterval: getEnvAsMillis("MIN_INFERENCE_INTERVAL_MS", 1000),
		ConfidenceFloor:      getEnvAsFloat("CONFIDENCE_FLOOR", 0.4),
		TickInterval:         getEnvAsMillis("TICK_INTERVAL_MS", 33), // ~30 fps

		KafkaBrokers:     getEnvAsList("KAFKA_BROKERS", nil),
		ChangeFeedTopic:  getEnv("CHANGEFEED_TOPIC", "detection_events"),
		ChangeFeedGroup:  getEnv("CHANGEFEED_GROUP", "detectstream"),
		ChangeFeedSource: getEnv("CHANGEFEED_SOURCE", ""),

		MQTTBroker:      getEnv("MQTT_BROKER", ""),
		MQTTTopicPrefix: getEnv("MQTT_TOPIC_PREFIX", "detectstream/events"),
		MQTTClientID:    getEnv("MQTT_CLIENT_ID", ""),

		JournalFlushInterval: time.Duration(getEnvAsInt("JOURNAL_FLUSH_INTERVAL_S", 5)) * time.Second,
		JournalBatchLimit:    getEnvAsInt("JOURNAL_BATCH_LIMIT", 200),
		JournalRetention:     time.Duration(getEnvAsInt("JOURNAL_RETENTION_H", 0)) * time.Hour,
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvAsMillis(key string, defaultValue int) time.Duration {
	return time.Duration(getEnvAsInt(key, defaultValue)) * time.Millisecond
}

// getEnvAsList splits a comma separated value, dropping empty items.
func getEnvAsList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var items []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}

// getEnvAsMap parses "k1=v1,k2=v2". Malformed pairs are skipped.
func getEnvAsMap(key string) map[string]string {
	out := make(map[string]string)
	for _, pair := range getEnvAsList(key, nil) {
		k, v, ok := strings.Cut(pair, "=")
		if !ok || strings.TrimSpace(k) == "" || strings.TrimSpace(v) == "" {
			continue
		}
		out[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return out
}

func mapValues(m map[string]string) []string {
	seen := make(map[string]bool, len(m))
	values := make([]string, 0, len(m))
	for _, v := range m {
		if seen[v] {
			continue
		}
		seen[v] = true
		values = append(values, v)
	}
	return values
}
