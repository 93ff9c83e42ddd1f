package fleet

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"paraglider-sim/internal/config"
	"paraglider-sim/internal/physics"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	dir := t.TempDir()
	oldWd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Chdir(oldWd) })
	t.Setenv("TMPDIR", t.TempDir()) // isolate the instance lock
	cfg := config.New()
	cfg.Devices = 3
	cfg.DurationMinutes = 1
	cfg.Secret = "mfr-secret"
	cfg.Seed = 42
	cfg.ConfigDir = t.TempDir()
	cfg.RegistrationRPS = 1000
	return cfg
}

func testSites() []physics.Site {
	return []physics.Site{{
		Name: "Chamonix", Lat: 45.9237, Lon: 6.8694,
		TakeoffAlt: 2400, LandingAlt: 1030,
	}}
}

// backendServer accepts registrations and telemetry, optionally
// rejecting the first registration with 403.
type backendServer struct {
	mu            sync.Mutex
	registrations int
	rejectFirst   bool
	regTimes      []time.Time
}

func (b *backendServer) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/devices/register" {
			b.mu.Lock()
			b.registrations++
			b.regTimes = append(b.regTimes, time.Now())
			reject := b.rejectFirst && b.registrations == 1
			b.mu.Unlock()
			if reject {
				w.WriteHeader(http.StatusForbidden)
				return
			}
			var req map[string]any
			json.NewDecoder(r.Body).Decode(&req)
			json.NewEncoder(w).Encode(map[string]string{
				"device_id":     req["device_id"].(string),
				"api_key":       "api-key",
				"mqtt_username": "u",
				"mqtt_password": "p",
			})
			return
		}
		// telemetry endpoints
		w.WriteHeader(http.StatusOK)
	}
}

func TestRunDryRunWritesSummary(t *testing.T) {
	cfg := testConfig(t)
	cfg.DryRun = true
	cfg.Devices = 2

	o := New(cfg, testSites())
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	// Silence the stdout publishers by pointing them at a throwaway file.
	old := os.Stdout
	devNull, _ := os.OpenFile(os.DevNull, os.O_WRONLY, 0)
	os.Stdout = devNull
	err := o.Run(ctx)
	os.Stdout = old
	devNull.Close()

	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	data, readErr := os.ReadFile(resultsFile)
	if readErr != nil {
		t.Fatalf("results summary missing: %v", readErr)
	}
	var summary Summary
	if err := json.Unmarshal(data, &summary); err != nil {
		t.Fatalf("summary is not valid JSON: %v", err)
	}
	if summary.Devices != 2 {
		t.Errorf("summary devices = %d, want 2", summary.Devices)
	}
	if summary.Failed != 0 {
		t.Errorf("dry run must not fail devices, got %d", summary.Failed)
	}
}

func TestRunExcludesAuthRejectedDevice(t *testing.T) {
	backend := &backendServer{rejectFirst: true}
	srv := httptest.NewServer(backend.handler())
	defer srv.Close()

	cfg := testConfig(t)
	cfg.Protocol = "http"
	cfg.APIBaseURL = srv.URL

	o := New(cfg, testSites())
	ctx, cancel := context.WithTimeout(context.Background(), 700*time.Millisecond)
	defer cancel()
	if err := o.Run(ctx); err != nil {
		t.Fatalf("fleet must continue past one rejected device: %v", err)
	}

	data, err := os.ReadFile(resultsFile)
	if err != nil {
		t.Fatalf("results summary missing: %v", err)
	}
	var summary Summary
	if err := json.Unmarshal(data, &summary); err != nil {
		t.Fatal(err)
	}
	if summary.Failed != 1 {
		t.Errorf("expected exactly 1 failed device, got %d", summary.Failed)
	}
	if summary.Devices != 3 {
		t.Errorf("summary must cover the whole fleet, got %d", summary.Devices)
	}
}

func TestRunThrottlesRegistrations(t *testing.T) {
	backend := &backendServer{}
	srv := httptest.NewServer(backend.handler())
	defer srv.Close()

	cfg := testConfig(t)
	cfg.Protocol = "http"
	cfg.APIBaseURL = srv.URL
	cfg.Devices = 4
	cfg.RegistrationRPS = 20 // 50ms between requests

	o := New(cfg, testSites())
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := o.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	backend.mu.Lock()
	times := append([]time.Time(nil), backend.regTimes...)
	backend.mu.Unlock()
	if len(times) != 4 {
		t.Fatalf("expected 4 registrations, got %d", len(times))
	}
	elapsed := times[len(times)-1].Sub(times[0])
	if elapsed < 100*time.Millisecond {
		t.Errorf("registrations not throttled: 4 requests in %v", elapsed)
	}
}

func TestRunRefusesSecondInstance(t *testing.T) {
	cfg := testConfig(t)
	cfg.DryRun = true

	lock, err := AcquireLock()
	if err != nil {
		t.Fatalf("AcquireLock: %v", err)
	}
	defer lock.Release()

	o := New(cfg, testSites())
	if err := o.Run(context.Background()); !errors.Is(err, ErrLockHeld) {
		t.Fatalf("expected ErrLockHeld, got %v", err)
	}
}

func TestRunStopsPromptlyOnCancel(t *testing.T) {
	backend := &backendServer{}
	srv := httptest.NewServer(backend.handler())
	defer srv.Close()

	cfg := testConfig(t)
	cfg.Protocol = "http"
	cfg.APIBaseURL = srv.URL

	o := New(cfg, testSites())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- o.Run(ctx) }()
	time.Sleep(300 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run after cancel: %v", err)
		}
	case <-time.After(shutdownGrace + 2*time.Second):
		t.Fatal("Run did not return within the shutdown grace window")
	}
}
