package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/menta2k/cropflow/pkg/region"
)

// EnvPrefix prefixes environment overrides, e.g. CROPFLOW_DETECTOR_MODEL
const EnvPrefix = "CROPFLOW"

// Detector backends
const (
	BackendOllama   = "ollama"
	BackendLlamaCpp = "llamacpp"
	BackendContour  = "contour"
	BackendText     = "text"
	BackendSaliency = "saliency"
	BackendNone     = "none"
)

// Config holds the application configuration
type Config struct {
	Viewport ViewportConfig `json:"viewport" mapstructure:"viewport"`
	Region   RegionConfig   `json:"region" mapstructure:"region"`
	Detector DetectorConfig `json:"detector" mapstructure:"detector"`
	Contour  ContourConfig  `json:"contour" mapstructure:"contour"`
	Text     TextConfig     `json:"text" mapstructure:"text"`
	Saliency SaliencyConfig `json:"saliency" mapstructure:"saliency"`
	Output   OutputConfig   `json:"output" mapstructure:"output"`
	Cropper  CropperConfig  `json:"cropper" mapstructure:"cropper"`
	Log      LogConfig      `json:"log" mapstructure:"log"`
}

// ViewportConfig describes the screen the photo is shown on
type ViewportConfig struct {
	MaxHeightRatio float64 `json:"max_height_ratio" mapstructure:"max_height_ratio"`
	Width          float64 `json:"width" mapstructure:"width"`
	Height         float64 `json:"height" mapstructure:"height"`
}

// RegionConfig holds the starting crop rectangle
type RegionConfig struct {
	DefaultInset region.Inset `json:"default_inset" mapstructure:"default_inset"`
}

// DetectorConfig selects and tunes the Auto mode detector
type DetectorConfig struct {
	Backend       string        `json:"backend" mapstructure:"backend"`
	URL           string        `json:"url" mapstructure:"url"`
	Model         string        `json:"model" mapstructure:"model"`
	SendFormat    string        `json:"send_format" mapstructure:"send_format"`
	SendSize      int           `json:"send_size" mapstructure:"send_size"`
	SendQuality   int           `json:"send_quality" mapstructure:"send_quality"`
	MinConfidence float64       `json:"min_confidence" mapstructure:"min_confidence"`
	Timeout       time.Duration `json:"timeout" mapstructure:"timeout"`
}

// ContourConfig tunes the edge/contour detector
type ContourConfig struct {
	CannyLow     float64 `json:"canny_low" mapstructure:"canny_low"`
	CannyHigh    float64 `json:"canny_high" mapstructure:"canny_high"`
	MinAreaRatio float64 `json:"min_area_ratio" mapstructure:"min_area_ratio"`
	MaxAreaRatio float64 `json:"max_area_ratio" mapstructure:"max_area_ratio"`
	Blur         int     `json:"blur" mapstructure:"blur"`
}

// TextConfig tunes the OCR text-block detector
type TextConfig struct {
	Language      string  `json:"language" mapstructure:"language"`
	PaddingRatio  float64 `json:"padding_ratio" mapstructure:"padding_ratio"`
	MinConfidence float64 `json:"min_confidence" mapstructure:"min_confidence"`
}

// SaliencyConfig tunes the edge and contrast saliency detector
type SaliencyConfig struct {
	WorkSize     int     `json:"work_size" mapstructure:"work_size"`
	Threshold    float64 `json:"threshold" mapstructure:"threshold"`
	MinAreaRatio float64 `json:"min_area_ratio" mapstructure:"min_area_ratio"`
	MaxAreaRatio float64 `json:"max_area_ratio" mapstructure:"max_area_ratio"`
	PaddingRatio float64 `json:"padding_ratio" mapstructure:"padding_ratio"`
}

// OutputConfig holds configuration for output generation
type OutputConfig struct {
	Dir      string `json:"dir" mapstructure:"dir"`
	Format   string `json:"format" mapstructure:"format"`
	Quality  int    `json:"quality" mapstructure:"quality"`
	Lossless bool   `json:"lossless" mapstructure:"lossless"`
	Prefix   string `json:"prefix" mapstructure:"prefix"`
	Suffix   string `json:"suffix" mapstructure:"suffix"`
}

// CropperConfig bounds the confirm step
type CropperConfig struct {
	Timeout time.Duration `json:"timeout" mapstructure:"timeout"`
}

// LogConfig selects the slog handler
type LogConfig struct {
	Level  string `json:"level" mapstructure:"level"`
	Format string `json:"format" mapstructure:"format"`
}

// Default returns a configuration with default values
func Default() *Config {
	return &Config{
		Viewport: ViewportConfig{
			MaxHeightRatio: 0.7,
			Width:          390,
			Height:         844,
		},
		Region: RegionConfig{
			DefaultInset: region.DefaultInset,
		},
		Detector: DetectorConfig{
			Backend:       BackendOllama,
			URL:           "http://localhost:11434",
			Model:         "qwen2.5vl:7b",
			SendFormat:    "jpg",
			SendSize:      1024,
			SendQuality:   85,
			MinConfidence: 0.2,
			Timeout:       60 * time.Second,
		},
		Contour: ContourConfig{
			CannyLow:     50,
			CannyHigh:    150,
			MinAreaRatio: 0.05,
			MaxAreaRatio: 0.95,
			Blur:         5,
		},
		Text: TextConfig{
			Language:      "eng",
			PaddingRatio:  0.05,
			MinConfidence: 60,
		},
		Saliency: SaliencyConfig{
			WorkSize:     256,
			Threshold:    0.35,
			MinAreaRatio: 0.02,
			MaxAreaRatio: 0.95,
			PaddingRatio: 0.01,
		},
		Output: OutputConfig{
			Format:  "jpg",
			Quality: 90,
			Suffix:  "_crop",
		},
		Cropper: CropperConfig{
			Timeout: 30 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// settings flattens c into viper keys
func (c *Config) settings() map[string]any {
	return map[string]any{
		"viewport.max_height_ratio":   c.Viewport.MaxHeightRatio,
		"viewport.width":              c.Viewport.Width,
		"viewport.height":             c.Viewport.Height,
		"region.default_inset.x":      c.Region.DefaultInset.X,
		"region.default_inset.y":      c.Region.DefaultInset.Y,
		"region.default_inset.width":  c.Region.DefaultInset.Width,
		"region.default_inset.height": c.Region.DefaultInset.Height,
		"detector.backend":            c.Detector.Backend,
		"detector.url":                c.Detector.URL,
		"detector.model":              c.Detector.Model,
		"detector.send_format":        c.Detector.SendFormat,
		"detector.send_size":          c.Detector.SendSize,
		"detector.send_quality":       c.Detector.SendQuality,
		"detector.min_confidence":     c.Detector.MinConfidence,
		"detector.timeout":            c.Detector.Timeout.String(),
		"contour.canny_low":           c.Contour.CannyLow,
		"contour.canny_high":          c.Contour.CannyHigh,
		"contour.min_area_ratio":      c.Contour.MinAreaRatio,
		"contour.max_area_ratio":      c.Contour.MaxAreaRatio,
		"contour.blur":                c.Contour.Blur,
		"text.language":               c.Text.Language,
		"text.padding_ratio":          c.Text.PaddingRatio,
		"text.min_confidence":         c.Text.MinConfidence,
		"saliency.work_size":          c.Saliency.WorkSize,
		"saliency.threshold":          c.Saliency.Threshold,
		"saliency.min_area_ratio":     c.Saliency.MinAreaRatio,
		"saliency.max_area_ratio":     c.Saliency.MaxAreaRatio,
		"saliency.padding_ratio":      c.Saliency.PaddingRatio,
		"output.dir":                  c.Output.Dir,
		"output.format":               c.Output.Format,
		"output.quality":              c.Output.Quality,
		"output.lossless":             c.Output.Lossless,
		"output.prefix":               c.Output.Prefix,
		"output.suffix":               c.Output.Suffix,
		"cropper.timeout":             c.Cropper.Timeout.String(),
		"log.level":                   c.Log.Level,
		"log.format":                  c.Log.Format,
	}
}

// Load reads configuration from defaults, an optional config file and the
// environment. An empty path falls back to $CROPFLOW_CONFIG and then to
// GetConfigPath; a missing default file is not an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	for key, value := range Default().settings() {
		v.SetDefault(key, value)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path == "" {
		path = os.Getenv(EnvPrefix + "_CONFIG")
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else {
		v.AddConfigPath(filepath.Dir(GetConfigPath()))
		v.SetConfigName("config")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	config.normalize()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// LoadFromFile loads configuration from a JSON, YAML or TOML file on top of
// the defaults
func LoadFromFile(filename string) (*Config, error) {
	if filename == "" {
		return nil, fmt.Errorf("config file name is empty")
	}
	return Load(filename)
}

// SaveToFile saves configuration; the format follows the file extension
func (c *Config) SaveToFile(filename string) error {
	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	v := viper.New()
	for key, value := range c.settings() {
		v.Set(key, value)
	}
	if err := v.WriteConfigAs(filename); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

func (c *Config) normalize() {
	c.Detector.Backend = strings.ToLower(strings.TrimSpace(c.Detector.Backend))
	c.Detector.SendFormat = strings.ToLower(c.Detector.SendFormat)
	c.Output.Format = strings.ToLower(c.Output.Format)
	c.Log.Level = strings.ToLower(c.Log.Level)
	c.Log.Format = strings.ToLower(c.Log.Format)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Viewport.MaxHeightRatio <= 0 || c.Viewport.MaxHeightRatio > 1 {
		return fmt.Errorf("viewport.max_height_ratio must be in (0, 1]")
	}
	if c.Viewport.Width < 0 || c.Viewport.Height < 0 {
		return fmt.Errorf("viewport size cannot be negative")
	}
	if !c.Region.DefaultInset.Valid() {
		return fmt.Errorf("region.default_inset must describe a non-empty rectangle inside the photo")
	}

	switch c.Detector.Backend {
	case BackendOllama, BackendLlamaCpp, BackendContour, BackendText, BackendSaliency, BackendNone:
	default:
		return fmt.Errorf("detector.backend %q is not one of ollama, llamacpp, contour, text, saliency, none", c.Detector.Backend)
	}
	if c.Detector.SendFormat != "jpg" && c.Detector.SendFormat != "png" {
		return fmt.Errorf("detector.send_format must be jpg or png")
	}
	if c.Detector.SendQuality < 1 || c.Detector.SendQuality > 100 {
		return fmt.Errorf("detector.send_quality must be between 1 and 100")
	}
	if c.Detector.SendSize < 0 {
		return fmt.Errorf("detector.send_size cannot be negative")
	}
	if c.Detector.MinConfidence < 0 || c.Detector.MinConfidence > 1 {
		return fmt.Errorf("detector.min_confidence must be between 0 and 1")
	}
	if c.Detector.Timeout < 0 || c.Cropper.Timeout < 0 {
		return fmt.Errorf("timeouts cannot be negative")
	}

	if c.Contour.CannyLow < 0 || c.Contour.CannyHigh <= c.Contour.CannyLow {
		return fmt.Errorf("contour.canny_high must be greater than contour.canny_low")
	}
	if c.Contour.MinAreaRatio < 0 || c.Contour.MaxAreaRatio > 1 || c.Contour.MinAreaRatio >= c.Contour.MaxAreaRatio {
		return fmt.Errorf("contour area ratios must satisfy 0 <= min < max <= 1")
	}
	if c.Contour.Blur < 0 {
		return fmt.Errorf("contour.blur cannot be negative")
	}

	if c.Text.PaddingRatio < 0 || c.Text.PaddingRatio > 1 {
		return fmt.Errorf("text.padding_ratio must be between 0 and 1")
	}
	if c.Text.MinConfidence < 0 || c.Text.MinConfidence > 100 {
		return fmt.Errorf("text.min_confidence must be between 0 and 100")
	}

	if c.Saliency.WorkSize < 16 {
		return fmt.Errorf("saliency.work_size must be at least 16")
	}
	if c.Saliency.Threshold <= 0 || c.Saliency.Threshold > 1 {
		return fmt.Errorf("saliency.threshold must be in (0, 1]")
	}
	if c.Saliency.MinAreaRatio < 0 || c.Saliency.MaxAreaRatio > 1 || c.Saliency.MinAreaRatio >= c.Saliency.MaxAreaRatio {
		return fmt.Errorf("saliency area ratios must satisfy 0 <= min < max <= 1")
	}
	if c.Saliency.PaddingRatio < 0 || c.Saliency.PaddingRatio > 1 {
		return fmt.Errorf("saliency.padding_ratio must be between 0 and 1")
	}

	switch c.Output.Format {
	case "", "jpg", "jpeg", "png", "webp":
	default:
		return fmt.Errorf("output.format %q is not one of jpg, png, webp", c.Output.Format)
	}
	if c.Output.Quality < 1 || c.Output.Quality > 100 {
		return fmt.Errorf("output.quality must be between 1 and 100")
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level %q is not one of debug, info, warn, error", c.Log.Level)
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		return fmt.Errorf("log.format must be text or json")
	}

	return nil
}

// GetConfigPath returns the default configuration file path
func GetConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./config.yaml"
	}
	return filepath.Join(home, ".config", "cropflow", "config.yaml")
}
