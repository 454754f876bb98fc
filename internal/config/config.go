package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds the application configuration
type Config struct {
	Validation ValidationConfig `json:"validation"`
	Detector   DetectorConfig   `json:"detector"`
	Enhance    EnhanceConfig    `json:"enhance"`
	Upload     UploadConfig     `json:"upload"`
}

// ValidationConfig holds the file and dimension validation rules
type ValidationConfig struct {
	MaxSizeBytes      int64    `json:"max_size_bytes"`
	MinWidth          int      `json:"min_width"`
	MinHeight         int      `json:"min_height"`
	MaxWidth          int      `json:"max_width"`
	MaxHeight         int      `json:"max_height"`
	AllowedTypes      []string `json:"allowed_types"`
	AllowedExtensions []string `json:"allowed_extensions"`
}

// DetectorConfig holds boundary detection tuning
type DetectorConfig struct {
	MaxDetectDim int     `json:"max_detect_dim"`
	MinAreaRatio float64 `json:"min_area_ratio"`
	MinFillRatio float64 `json:"min_fill_ratio"`
}

// EnhanceConfig holds correction and output parameters
type EnhanceConfig struct {
	MaxOutputDim int     `json:"max_output_dim"`
	JPEGQuality  int     `json:"jpeg_quality"`
	Contrast     float64 `json:"contrast"`
	Sharpen      float64 `json:"sharpen"`
	Format       string  `json:"format"`
}

// UploadConfig holds the transport endpoint and retry policy parameters
type UploadConfig struct {
	Endpoint          string  `json:"endpoint"`
	APIKey            string  `json:"api_key"`
	MaxAttempts       int     `json:"max_attempts"`
	InitialDelayMs    int     `json:"initial_delay_ms"`
	BackoffMultiplier float64 `json:"backoff_multiplier"`
	MaxDelayMs        int     `json:"max_delay_ms"`
	PollIntervalMs    int     `json:"poll_interval_ms"`
}

// Default returns a configuration with default values
func Default() *Config {
	return &Config{
		Validation: ValidationConfig{
			MaxSizeBytes:      20 << 20,
			MinWidth:          64,
			MinHeight:         64,
			MaxWidth:          12000,
			MaxHeight:         12000,
			AllowedTypes:      []string{"image/jpeg", "image/png", "image/webp", "image/heic"},
			AllowedExtensions: []string{"jpg", "jpeg", "png", "webp", "heic", "heif"},
		},
		Detector: DetectorConfig{
			MaxDetectDim: 512,
			MinAreaRatio: 0.08,
			MinFillRatio: 0.75,
		},
		Enhance: EnhanceConfig{
			MaxOutputDim: 2048,
			JPEGQuality:  90,
			Contrast:     8,
			Sharpen:      0.4,
			Format:       "jpeg",
		},
		Upload: UploadConfig{
			Endpoint:          "http://localhost:8080",
			MaxAttempts:       3,
			InitialDelayMs:    1000,
			BackoffMultiplier: 2,
			MaxDelayMs:        30000,
			PollIntervalMs:    2000,
		},
	}
}

// LoadFromFile loads configuration from a JSON file
func LoadFromFile(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return &config, nil
}

// LoadEnv overlays environment variables onto the configuration. A .env file
// next to the working directory is read first if present; real environment
// variables win over it.
func (c *Config) LoadEnv() {
	_ = godotenv.Load()

	if v := os.Getenv("PHOTOPREP_ENDPOINT"); v != "" {
		c.Upload.Endpoint = v
	}
	if v := os.Getenv("PHOTOPREP_API_KEY"); v != "" {
		c.Upload.APIKey = v
	}
	if v := os.Getenv("PHOTOPREP_MAX_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Upload.MaxAttempts = n
		}
	}
	if v := os.Getenv("PHOTOPREP_MAX_SIZE_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.Validation.MaxSizeBytes = n
		}
	}
}

// SaveToFile saves configuration to a JSON file
func (c *Config) SaveToFile(filename string) error {
	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Validation.MaxSizeBytes < 0 {
		return fmt.Errorf("validation.max_size_bytes must not be negative")
	}

	if len(c.Validation.AllowedTypes) == 0 && len(c.Validation.AllowedExtensions) == 0 {
		return fmt.Errorf("validation must allow at least one type or extension")
	}

	if c.Detector.MaxDetectDim < 16 {
		return fmt.Errorf("detector.max_detect_dim must be at least 16")
	}

	if c.Detector.MinAreaRatio < 0 || c.Detector.MinAreaRatio > 1 {
		return fmt.Errorf("detector.min_area_ratio must be between 0 and 1")
	}

	if c.Detector.MinFillRatio < 0 || c.Detector.MinFillRatio > 1 {
		return fmt.Errorf("detector.min_fill_ratio must be between 0 and 1")
	}

	if c.Enhance.MaxOutputDim < 1 {
		return fmt.Errorf("enhance.max_output_dim must be positive")
	}

	if c.Enhance.JPEGQuality < 1 || c.Enhance.JPEGQuality > 100 {
		return fmt.Errorf("enhance.jpeg_quality must be between 1 and 100")
	}

	switch c.Enhance.Format {
	case "jpeg", "png", "webp":
	default:
		return fmt.Errorf("enhance.format must be jpeg, png or webp")
	}

	if c.Upload.Endpoint == "" {
		return fmt.Errorf("upload.endpoint cannot be empty")
	}

	if c.Upload.MaxAttempts < 0 {
		return fmt.Errorf("upload.max_attempts must not be negative")
	}

	if c.Upload.MaxAttempts > 0 && c.Upload.BackoffMultiplier < 1 {
		return fmt.Errorf("upload.backoff_multiplier must be at least 1")
	}

	return nil
}

// GetConfigPath returns the default configuration file path
func GetConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./config.json"
	}
	return filepath.Join(home, ".config", "photoprep", "config.json")
}
