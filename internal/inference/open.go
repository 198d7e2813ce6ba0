package inference

import (
	"fmt"

	"github.com/23skdu/longbow-lens/internal/config"
	"github.com/23skdu/longbow-lens/internal/logger"
	"github.com/23skdu/longbow-lens/internal/tensorio"
)

// Open builds the source selected by cfg, wrapped in a CachedSource when a
// cache size is configured. The returned close function releases any
// connection the source holds.
func Open(cfg config.InferenceConfig) (Source, func() error, error) {
	var src Source
	closeFn := func() error { return nil }

	switch cfg.Backend {
	case config.BackendHTTP:
		c, err := NewHTTPClient(cfg.URL, cfg.Timeout)
		if err != nil {
			return nil, nil, err
		}
		src = c
	case config.BackendFlight:
		f, err := DialFlight(cfg.FlightAddr)
		if err != nil {
			return nil, nil, err
		}
		src, closeFn = f, f.Close
	case config.BackendStatic:
		s, err := LoadStatic(cfg.Dumps)
		if err != nil {
			return nil, nil, err
		}
		src = s
	default:
		return nil, nil, fmt.Errorf("unknown inference backend %q", cfg.Backend)
	}

	logger.Log.Info("Inference source ready", "backend", string(cfg.Backend), "cache_size", cfg.CacheSize)
	if cfg.CacheSize > 0 {
		src = NewCachedSource(src, cfg.CacheSize)
	}
	return src, closeFn, nil
}

// LoadStatic builds a StaticSource from Arrow IPC dumps, keyed by the prompt
// each dump was captured for.
func LoadStatic(paths []string) (*StaticSource, error) {
	s := NewStaticSource(nil)
	for _, path := range paths {
		b, err := tensorio.ReadFile(path)
		if err != nil {
			return nil, err
		}
		_, resp := FromBundle(b)
		s.Set(b.Prompt, resp)
	}
	return s, nil
}
