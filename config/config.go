package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Host               string
	Port               string
	RequestTimeout     time.Duration
	MaxRequestBodySize int64

	ModelPath          string
	OnnxRuntimeLib     string
	Device             string
	PoolSize           int
	ConfidenceFloor    float64
	FixtureClass       string
	ClassifierStrategy string

	FixtureHeightM float64
	FocalLengthPx  float64

	CacheSize int

	ColorDB                      string
	AWSRegion                    string
	AzureStorageConnectionString string

	DatabaseURL string
	LogLevel    string
}

func (c *Config) ServerAddress() string {
	host := strings.TrimSpace(c.Host)
	port := strings.TrimSpace(c.Port)
	return net.JoinHostPort(host, port)
}

func LoadFromEnv() (*Config, error) {
	cfg := &Config{
		Host:                         getEnvOrDefault("HOST", "0.0.0.0"),
		Port:                         getEnvOrDefault("PORT", "5000"),
		RequestTimeout:               parseDurationOrDefault("REQUEST_TIMEOUT", 60*time.Second),
		MaxRequestBodySize:           parseIntOrDefault("MAX_REQUEST_BODY_SIZE", 10*1024*1024),
		ModelPath:                    getEnvOrDefault("MODEL_PATH", "models/yolov8n.onnx"),
		OnnxRuntimeLib:               getEnvOrDefault("ONNXRUNTIME_LIB", "/usr/lib/libonnxruntime.so"),
		Device:                       strings.ToLower(getEnvOrDefault("DEVICE", "auto")),
		PoolSize:                     int(parseIntOrDefault("POOL_SIZE", 4)),
		ConfidenceFloor:              parseFloatOrDefault("CONFIDENCE_FLOOR", 0.15),
		FixtureClass:                 getEnvOrDefault("FIXTURE_CLASS", "traffic light"),
		ClassifierStrategy:           strings.ToLower(getEnvOrDefault("CLASSIFIER_STRATEGY", "hsv")),
		FixtureHeightM:               parseFloatOrDefault("FIXTURE_HEIGHT_M", 0.8),
		FocalLengthPx:                parseFloatOrDefault("FOCAL_LENGTH_PX", 650),
		CacheSize:                    int(parseIntOrDefault("CACHE_SIZE", 100)),
		ColorDB:                      getEnvOrDefault("COLOR_DB", "colors.csv"),
		AWSRegion:                    os.Getenv("AWS_REGION"),
		AzureStorageConnectionString: os.Getenv("AZURE_STORAGE_CONNECTION_STRING"),
		DatabaseURL:                  os.Getenv("DATABASE_URL"),
		LogLevel:                     getEnvOrDefault("LOG_LEVEL", "info"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks ranges and enumerations.
func (c *Config) Validate() error {
	p, err := strconv.Atoi(strings.TrimSpace(c.Port))
	if err != nil || p < 1 || p > 65535 {
		return fmt.Errorf("invalid PORT: %q", c.Port)
	}
	if c.MaxRequestBodySize <= 0 {
		return fmt.Errorf("MAX_REQUEST_BODY_SIZE must be > 0 (got %d)", c.MaxRequestBodySize)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("REQUEST_TIMEOUT must be > 0 (got %s)", c.RequestTimeout)
	}
	if c.PoolSize <= 0 {
		return fmt.Errorf("POOL_SIZE must be > 0 (got %d)", c.PoolSize)
	}
	if c.ConfidenceFloor <= 0 || c.ConfidenceFloor > 1 {
		return fmt.Errorf("CONFIDENCE_FLOOR must be within (0,1] (got %g)", c.ConfidenceFloor)
	}
	if c.FixtureHeightM <= 0 || c.FocalLengthPx <= 0 {
		return fmt.Errorf("camera calibration must be > 0 (got height=%g, focal=%g)", c.FixtureHeightM, c.FocalLengthPx)
	}
	switch c.Device {
	case "auto", "cpu", "cuda":
	default:
		return fmt.Errorf("invalid DEVICE: %q", c.Device)
	}
	switch c.ClassifierStrategy {
	case "hsv", "table":
	default:
		return fmt.Errorf("invalid CLASSIFIER_STRATEGY: %q", c.ClassifierStrategy)
	}
	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func parseDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(strings.TrimSpace(value)); err == nil && duration > 0 {
			return duration
		}
	}
	return defaultValue
}

func parseIntOrDefault(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func parseFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(strings.TrimSpace(value), 64); err == nil {
			return f
		}
	}
	return defaultValue
}
