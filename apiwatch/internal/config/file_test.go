package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const sample = `
browser:
  stealth: true
  resource_blocking: [image, font]
recording:
  domains: ["api.shop.test", " "]
  timeout: 3s
  threshold: 200ms
  exclude_paths: ["https://api.shop.test/cart.updatedAt"]
pages:
  - url: https://shop.test/
  - id: checkout
    url: https://shop.test/checkout
    wait: 10s
sinks:
  - type: stdout
  - type: webhook
    url: http://localhost:9000/hook
store:
  db_path: /tmp/apiwatch.db
`

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "apiwatch.yaml")
	if err := os.WriteFile(path, []byte(sample), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatal(err)
	}

	if !cfg.Browser.Stealth || len(cfg.Browser.ResourceBlocking) != 2 {
		t.Errorf("browser = %+v", cfg.Browser)
	}
	if cfg.Browser.NavTimeout != 30*time.Second {
		t.Errorf("NavTimeout default = %v", cfg.Browser.NavTimeout)
	}
	if cfg.Pages[0].ID != "page-1" || cfg.Pages[0].Wait != 3*time.Second {
		t.Errorf("page defaults = %+v", cfg.Pages[0])
	}
	if cfg.Pages[1].ID != "checkout" || cfg.Pages[1].Wait != 10*time.Second {
		t.Errorf("page[1] = %+v", cfg.Pages[1])
	}
	if cfg.Sinks[1].Retries != 3 {
		t.Errorf("webhook retries default = %d", cfg.Sinks[1].Retries)
	}
	if cfg.Store.DBPath != "/tmp/apiwatch.db" {
		t.Errorf("store = %+v", cfg.Store)
	}

	opts := cfg.Recording.Options()
	if len(opts.Domains) != 1 || opts.Domains[0] != "api.shop.test" {
		t.Errorf("domains = %q", opts.Domains)
	}
	if opts.TimeoutMs != 3000 {
		t.Errorf("TimeoutMs = %v", opts.TimeoutMs)
	}
	if opts.ThresholdMs == nil || *opts.ThresholdMs != 200 {
		t.Errorf("ThresholdMs = %v", opts.ThresholdMs)
	}
}

func TestParse_ThresholdUnsetDisabled(t *testing.T) {
	cfg, err := Parse([]byte("recording:\n  timeout: 1s\n"))
	if err != nil {
		t.Fatal(err)
	}
	if opts := cfg.Recording.Options(); opts.ThresholdMs != nil {
		t.Errorf("ThresholdMs = %v, want nil", *opts.ThresholdMs)
	}
}

func TestParse_Invalid(t *testing.T) {
	cases := map[string]string{
		"page without url": "pages:\n  - id: a\n",
		"unknown sink":     "sinks:\n  - type: nats\n",
		"webhook no url":   "sinks:\n  - type: webhook\n",
		"page bad scheme":  "pages:\n  - url: javascript:alert(1)\n",
		"webhook ftp":      "sinks:\n  - type: webhook\n    url: ftp://x.test/\n",
		"bad yaml":         "pages: [",
	}
	for name, data := range cases {
		if _, err := Parse([]byte(data)); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestLoadFile_Missing(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil || !strings.Contains(err.Error(), "config: read") {
		t.Fatalf("err = %v", err)
	}
}
