package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Backend selects how the inference service is reached.
type Backend string

const (
	BackendHTTP   Backend = "http"
	BackendFlight Backend = "flight"
	BackendStatic Backend = "static"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Inference InferenceConfig `yaml:"inference"`
	Render    RenderConfig    `yaml:"render"`
	Log       LogConfig       `yaml:"log"`
}

type ServerConfig struct {
	Host           string   `yaml:"host"`
	Port           int      `yaml:"port"`
	MetricsPort    int      `yaml:"metrics_port"`
	APIKey         string   `yaml:"api_key"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

type InferenceConfig struct {
	Backend    Backend       `yaml:"backend"`
	URL        string        `yaml:"url"`
	FlightAddr string        `yaml:"flight_addr"`
	Timeout    time.Duration `yaml:"timeout"`
	CacheSize  int           `yaml:"cache_size"`

	// Dumps are Arrow IPC files served by the static backend.
	Dumps []string `yaml:"dumps"`
}

type RenderConfig struct {
	ChartWidth        float64 `yaml:"chart_width"`
	ChartHeight       float64 `yaml:"chart_height"`
	ChartPadding      float64 `yaml:"chart_padding"`
	TextFlipThreshold float64 `yaml:"text_flip_threshold"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d (must be 1-65535)", c.Server.Port)
	}
	if c.Server.MetricsPort < 0 || c.Server.MetricsPort > 65535 {
		return fmt.Errorf("invalid metrics_port: %d (must be 0-65535)", c.Server.MetricsPort)
	}

	switch c.Inference.Backend {
	case BackendHTTP:
		if c.Inference.URL == "" {
			return fmt.Errorf("inference url is required for the http backend")
		}
	case BackendFlight:
		if c.Inference.FlightAddr == "" {
			return fmt.Errorf("inference flight_addr is required for the flight backend")
		}
	case BackendStatic:
	default:
		return fmt.Errorf("invalid inference backend: %q (must be http, flight or static)", c.Inference.Backend)
	}
	if c.Inference.Timeout < 0 {
		return fmt.Errorf("invalid inference timeout: %s (must be non-negative)", c.Inference.Timeout)
	}
	if c.Inference.CacheSize < 0 {
		return fmt.Errorf("invalid cache_size: %d (must be non-negative)", c.Inference.CacheSize)
	}

	return c.Render.Validate()
}

func (r *RenderConfig) Validate() error {
	if r.ChartPadding < 0 {
		return fmt.Errorf("invalid chart_padding: %v (must be non-negative)", r.ChartPadding)
	}
	if r.ChartWidth <= 2*r.ChartPadding {
		return fmt.Errorf("invalid chart_width: %v (must exceed twice the padding %v)", r.ChartWidth, r.ChartPadding)
	}
	if r.ChartHeight <= 2*r.ChartPadding {
		return fmt.Errorf("invalid chart_height: %v (must exceed twice the padding %v)", r.ChartHeight, r.ChartPadding)
	}
	if r.TextFlipThreshold < 0 || r.TextFlipThreshold > 1 {
		return fmt.Errorf("invalid text_flip_threshold: %v (must be within [0, 1])", r.TextFlipThreshold)
	}
	return nil
}

// Addr returns the host:port the HTTP server binds to.
func (s *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// MetricsAddr returns the host:port of the metrics listener, or "" when
// metrics are served on the main port.
func (s *ServerConfig) MetricsAddr() string {
	if s.MetricsPort == 0 {
		return ""
	}
	return fmt.Sprintf("%s:%d", s.Host, s.MetricsPort)
}

// ParseOrigins splits a comma-separated origin list, dropping blanks.
func ParseOrigins(origins string) []string {
	result := []string{}
	for _, origin := range strings.Split(origins, ",") {
		if trimmed := strings.TrimSpace(origin); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func Default() Config {
	return Config{
		Server: ServerConfig{
			Host:        "0.0.0.0",
			Port:        8080,
			MetricsPort: 9090,
		},
		Inference: InferenceConfig{
			Backend:    BackendHTTP,
			URL:        "http://127.0.0.1:8000",
			FlightAddr: "127.0.0.1:3000",
			Timeout:    5 * time.Minute,
			CacheSize:  16,
		},
		Render: RenderConfig{
			ChartWidth:        600,
			ChartHeight:       300,
			ChartPadding:      40,
			TextFlipThreshold: 0.6,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load reads a YAML file on top of Default. Keys missing from the file keep
// their default values.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return cfg, nil
}
