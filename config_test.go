package domdrive

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "domdrive.yaml")
	data := `
url: https://example.com/feed
registry: containers.yaml
event_db: data/events.db
browser:
  headful: true
  navigate_timeout: 10s
bus:
  history_size: 64
drivers:
  - container: news.feed
    child: news.feed.post
    operation: read
    max_scrolls: 5
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.URL != "https://example.com/feed" {
		t.Errorf("URL = %q", cfg.URL)
	}
	if !cfg.Browser.Headful {
		t.Error("Headful not set")
	}
	if cfg.Browser.NavigateTimeout != 10*time.Second {
		t.Errorf("NavigateTimeout = %v", cfg.Browser.NavigateTimeout)
	}
	if cfg.Bus.HistorySize != 64 {
		t.Errorf("HistorySize = %d", cfg.Bus.HistorySize)
	}
	if len(cfg.Drivers) != 1 || cfg.Drivers[0].MaxScrolls != 5 {
		t.Errorf("Drivers = %+v", cfg.Drivers)
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "min.yaml")
	if err := os.WriteFile(path, []byte("url: https://example.com\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Browser.NavigateTimeout != 30*time.Second {
		t.Errorf("NavigateTimeout default = %v", cfg.Browser.NavigateTimeout)
	}
	if cfg.Browser.EvalTimeout != 15*time.Second {
		t.Errorf("EvalTimeout default = %v", cfg.Browser.EvalTimeout)
	}
	if cfg.Bus.HistorySize != 256 {
		t.Errorf("HistorySize default = %d", cfg.Bus.HistorySize)
	}
	if cfg.Bus.EventBuffer != 1000 {
		t.Errorf("EventBuffer default = %d", cfg.Bus.EventBuffer)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := LoadConfig("/nonexistent/domdrive.yaml"); err == nil {
		t.Fatal("expected error for missing file")
	}
}
