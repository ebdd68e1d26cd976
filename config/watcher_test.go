package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, path, body string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func TestWatcherReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rls.yaml")
	writeConfig(t, path, minimalYAML)

	w, err := NewWatcher(path)
	if err != nil {
		t.Fatalf("NewWatcher() failed: %v", err)
	}
	defer w.Stop()
	w.SetDebounce(10 * time.Millisecond)

	reloaded := make(chan *RouteLookupConfig, 1)
	w.OnChange(func(cfg *RouteLookupConfig) {
		select {
		case reloaded <- cfg:
		default:
		}
	})
	if err := w.Start(); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}

	if got := w.GetConfig().LookupService; got != "rls.example.com:443" {
		t.Fatalf("initial LookupService = %q", got)
	}

	writeConfig(t, path, `
lookup_service: rls-next.example.com:443
request_processing_strategy: SYNC_LOOKUP_CLIENT_SEES_ERROR
`)

	select {
	case cfg := <-reloaded:
		if cfg.LookupService != "rls-next.example.com:443" {
			t.Errorf("reloaded LookupService = %q", cfg.LookupService)
		}
		if cfg.Strategy != StrategySyncClientSeesError {
			t.Errorf("reloaded Strategy = %q", cfg.Strategy)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no reload observed")
	}

	if got := w.GetConfig().LookupService; got != "rls-next.example.com:443" {
		t.Errorf("GetConfig() = %q after reload", got)
	}
}

func TestWatcherKeepsPreviousConfigOnInvalidUpdate(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rls.yaml")
	writeConfig(t, path, minimalYAML)

	w, err := NewWatcher(path)
	if err != nil {
		t.Fatalf("NewWatcher() failed: %v", err)
	}
	defer w.Stop()
	w.SetDebounce(10 * time.Millisecond)

	called := make(chan struct{}, 1)
	w.OnChange(func(*RouteLookupConfig) {
		select {
		case called <- struct{}{}:
		default:
		}
	})
	if err := w.Start(); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}

	// Strategy missing: the update must be rejected.
	writeConfig(t, path, "lookup_service: rls:443\n")

	select {
	case <-called:
		t.Fatal("callback fired for an invalid configuration")
	case <-time.After(500 * time.Millisecond):
	}

	if got := w.GetConfig().LookupService; got != "rls.example.com:443" {
		t.Errorf("GetConfig() = %q, want the previous config to stay live", got)
	}
}

func TestWatcherRejectsInvalidInitialConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rls.yaml")
	writeConfig(t, path, "lookup_service: [broken\n")

	if _, err := NewWatcher(path); err == nil {
		t.Fatal("NewWatcher() succeeded with a broken config file")
	}
}
