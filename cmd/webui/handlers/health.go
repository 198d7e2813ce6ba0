package handlers

import (
	"context"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/23skdu/longbow-lens/internal/inference"
)

var Version = "0.1.0"

type HealthStatus struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Version   string            `json:"version"`
	Uptime    string            `json:"uptime"`
	Checks    map[string]Status `json:"checks"`
}

type Status struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

type VersionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit,omitempty"`
	GoVersion string `json:"go_version"`
}

// Check is a named readiness probe.
type Check struct {
	Name string
	Run  func() Status
}

// SourceCheck reports the inference source as unavailable while it cannot
// serve requests.
func SourceCheck(src inference.Source, timeout time.Duration) Check {
	return Check{Name: "inference", Run: func() Status {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := inference.Check(ctx, src); err != nil {
			return Status{Status: "unavailable", Message: err.Error()}
		}
		return Status{Status: "healthy"}
	}}
}

var (
	startTime = time.Now()
	// Commit is set at build time with -ldflags.
	Commit = ""
)

func HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := HealthStatus{
			Status:    "healthy",
			Timestamp: time.Now(),
			Version:   Version,
			Uptime:    formatDuration(time.Since(startTime)),
			Checks: map[string]Status{
				"server": {Status: "healthy"},
			},
		}

		writeJSON(w, http.StatusOK, status)
	}
}

func HealthzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK\n"))
	}
}

// ReadyzHandler runs the built-in memory and goroutine checks plus any
// extra ones.
func ReadyzHandler(extra ...Check) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ready := true
		checks := map[string]Status{
			"memory":     checkMemory(),
			"goroutines": checkGoroutines(),
		}
		for _, c := range extra {
			checks[c.Name] = c.Run()
		}

		for _, check := range checks {
			if check.Status != "healthy" {
				ready = false
				break
			}
		}

		if ready {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("Ready\n"))
			return
		}
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"status": "not ready",
			"checks": checks,
		})
	}
}

func VersionHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, VersionInfo{
			Version:   Version,
			Commit:    Commit,
			GoVersion: runtime.Version(),
		})
	}
}

func checkMemory() Status {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	if m.Alloc > 1024*1024*1024 {
		return Status{
			Status:  "warning",
			Message: "High memory usage",
		}
	}

	return Status{Status: "healthy"}
}

func checkGoroutines() Status {
	if runtime.NumGoroutine() > 10000 {
		return Status{
			Status:  "warning",
			Message: "High number of goroutines",
		}
	}

	return Status{Status: "healthy"}
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	days := int(d / (24 * time.Hour))
	if days == 0 {
		return d.String()
	}
	return fmt.Sprintf("%dd%s", days, d%(24*time.Hour))
}
