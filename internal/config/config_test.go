package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Server.Port != 8080 {
		t.Errorf("expected Port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Inference.Backend != BackendHTTP {
		t.Errorf("expected http backend, got %q", cfg.Inference.Backend)
	}
	if cfg.Inference.Timeout != 5*time.Minute {
		t.Errorf("expected 5m timeout, got %v", cfg.Inference.Timeout)
	}
	if cfg.Render.TextFlipThreshold != 0.6 {
		t.Errorf("expected TextFlipThreshold 0.6, got %v", cfg.Render.TextFlipThreshold)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{
			name:    "valid config",
			mutate:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:    "invalid port",
			mutate:  func(c *Config) { c.Server.Port = 0 },
			wantErr: true,
		},
		{
			name:    "port too large",
			mutate:  func(c *Config) { c.Server.Port = 70000 },
			wantErr: true,
		},
		{
			name:    "metrics on main port",
			mutate:  func(c *Config) { c.Server.MetricsPort = 0 },
			wantErr: false,
		},
		{
			name:    "unknown backend",
			mutate:  func(c *Config) { c.Inference.Backend = "grpc" },
			wantErr: true,
		},
		{
			name:    "http backend without url",
			mutate:  func(c *Config) { c.Inference.URL = "" },
			wantErr: true,
		},
		{
			name: "flight backend without addr",
			mutate: func(c *Config) {
				c.Inference.Backend = BackendFlight
				c.Inference.FlightAddr = ""
			},
			wantErr: true,
		},
		{
			name: "static backend needs nothing",
			mutate: func(c *Config) {
				c.Inference.Backend = BackendStatic
				c.Inference.URL = ""
			},
			wantErr: false,
		},
		{
			name:    "negative cache size",
			mutate:  func(c *Config) { c.Inference.CacheSize = -1 },
			wantErr: true,
		},
		{
			name:    "padding swallows chart",
			mutate:  func(c *Config) { c.Render.ChartPadding = 300 },
			wantErr: true,
		},
		{
			name:    "threshold above one",
			mutate:  func(c *Config) { c.Render.TextFlipThreshold = 1.5 },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "lens.yaml")
	content := `
server:
  port: 9000
  allowed_origins: ["http://localhost:5173"]
inference:
  backend: flight
  flight_addr: "127.0.0.1:3100"
  timeout: 30s
render:
  text_flip_threshold: 0.45
log:
  level: debug
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Server.Port != 9000 {
		t.Errorf("expected port 9000, got %d", cfg.Server.Port)
	}
	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("expected default host to survive, got %q", cfg.Server.Host)
	}
	if cfg.Inference.Backend != BackendFlight {
		t.Errorf("expected flight backend, got %q", cfg.Inference.Backend)
	}
	if cfg.Inference.Timeout != 30*time.Second {
		t.Errorf("expected 30s timeout, got %v", cfg.Inference.Timeout)
	}
	if cfg.Render.TextFlipThreshold != 0.45 {
		t.Errorf("expected threshold 0.45, got %v", cfg.Render.TextFlipThreshold)
	}
	if cfg.Render.ChartWidth != 600 {
		t.Errorf("expected default chart width, got %v", cfg.Render.ChartWidth)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("expected debug log level, got %q", cfg.Log.Level)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("loaded config should validate: %v", err)
	}
}

func TestLoadStaticDumps(t *testing.T) {
	path := filepath.Join(t.TempDir(), "static.yaml")
	content := `
inference:
  backend: static
  dumps:
    - hello.arrow
    - bye.arrow
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Inference.Backend != BackendStatic {
		t.Errorf("expected static backend, got %q", cfg.Inference.Backend)
	}
	if len(cfg.Inference.Dumps) != 2 || cfg.Inference.Dumps[1] != "bye.arrow" {
		t.Errorf("unexpected dumps %v", cfg.Inference.Dumps)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestLoadErrors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}

	path := filepath.Join(t.TempDir(), "bad.yaml")
	os.WriteFile(path, []byte("server: [unclosed"), 0644)
	if _, err := Load(path); err == nil {
		t.Error("expected error for malformed yaml")
	}
}

func TestParseOrigins(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"", []string{}},
		{"http://a.example", []string{"http://a.example"}},
		{" http://a.example , ,http://b.example ", []string{"http://a.example", "http://b.example"}},
	}
	for _, tt := range tests {
		if got := ParseOrigins(tt.in); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("ParseOrigins(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestAddrs(t *testing.T) {
	s := ServerConfig{Host: "127.0.0.1", Port: 8080, MetricsPort: 9090}
	if s.Addr() != "127.0.0.1:8080" {
		t.Errorf("unexpected addr %q", s.Addr())
	}
	if s.MetricsAddr() != "127.0.0.1:9090" {
		t.Errorf("unexpected metrics addr %q", s.MetricsAddr())
	}
	s.MetricsPort = 0
	if s.MetricsAddr() != "" {
		t.Errorf("expected empty metrics addr, got %q", s.MetricsAddr())
	}
}
