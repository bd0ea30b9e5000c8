package main

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hazyhaar/unclip/config"
	"github.com/hazyhaar/unclip/expand"
)

func run(t *testing.T, cfgPath string, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	out := new(bytes.Buffer)
	cmd.SetOut(out)
	cmd.SetErr(out)
	cmd.SetArgs(append([]string{"--config", cfgPath, "--log-level", "error"}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func testConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	p := filepath.Join(dir, "config.yaml")
	body := "storage:\n  path: " + filepath.Join(dir, "unclip.db") + "\n"
	if err := writeTestFile(p, body); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestSettingsSetShowReset(t *testing.T) {
	cfg := testConfig(t)

	if _, err := run(t, cfg, "settings", "set", "debugMode=true", "autoExpandEnabled=false"); err != nil {
		t.Fatal(err)
	}
	out, err := run(t, cfg, "settings", "show")
	if err != nil {
		t.Fatal(err)
	}
	var st map[string]any
	if err := json.Unmarshal([]byte(out), &st); err != nil {
		t.Fatalf("show output %q: %v", out, err)
	}
	if st["debugMode"] != true || st["autoExpandEnabled"] != false {
		t.Errorf("settings = %v", st)
	}

	if _, err := run(t, cfg, "settings", "reset"); err != nil {
		t.Fatal(err)
	}
	out, _ = run(t, cfg, "settings", "show")
	if !strings.Contains(out, `"autoExpandEnabled": true`) {
		t.Errorf("after reset: %s", out)
	}
}

func TestActivateAndStats(t *testing.T) {
	cfg := testConfig(t)

	if _, err := run(t, cfg, "activate", "GM-bad"); err == nil {
		t.Error("invalid key accepted")
	}
	if _, err := run(t, cfg, "activate", "GM-0A1B-2C3D-4E5F-6789-ABCD-EF01"); err != nil {
		t.Fatal(err)
	}
	out, err := run(t, cfg, "stats")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, `"isPremium": true`) {
		t.Errorf("stats = %s", out)
	}
	out, _ = run(t, cfg, "settings", "show")
	if strings.Contains(out, "ABCD-EF01") || !strings.Contains(out, "GM-****-EF01") {
		t.Errorf("license key not masked: %s", out)
	}
}

func TestParsePatch(t *testing.T) {
	p, err := parsePatch([]string{"errorReportingEnabled=1"})
	if err != nil || p.ErrorReportingEnabled == nil || !*p.ErrorReportingEnabled {
		t.Errorf("parsePatch = %+v, %v", p, err)
	}
	for _, bad := range []string{"debugMode", "debugMode=maybe", "isPremium=true"} {
		if _, err := parsePatch([]string{bad}); err == nil {
			t.Errorf("parsePatch(%q) accepted", bad)
		}
	}
}

func TestParseLevel(t *testing.T) {
	if _, err := parseLevel("loud"); err == nil {
		t.Error("unknown level accepted")
	}
	if l, _ := parseLevel("WARN"); l.String() != "WARN" {
		t.Errorf("level = %v", l)
	}
}

func TestLoopbackBackend(t *testing.T) {
	dir := t.TempDir()
	cfg := filepath.Join(dir, "config.yaml")
	body := "storage:\n  path: " + filepath.Join(dir, "unclip.db") + "\n" +
		"license:\n  backend_url: http://localhost:8787\n"
	if err := writeTestFile(cfg, body); err != nil {
		t.Fatal(err)
	}
	if _, err := run(t, cfg, "stats"); err != nil {
		t.Fatalf("stats with a local backend: %v", err)
	}
}

func TestBackendOptions(t *testing.T) {
	for _, tc := range []struct {
		url  string
		want int
	}{
		{"http://localhost:8787", 1},
		{"http://127.0.0.1:8787", 1},
		{"http://[::1]:8787", 1},
		{"https://license.example.com", 0},
		{"http://10.0.0.5", 0},
	} {
		if got := len(backendOptions(tc.url)); got != tc.want {
			t.Errorf("backendOptions(%q) = %d options, want %d", tc.url, got, tc.want)
		}
	}
}

type stubFetcher struct{}

func (stubFetcher) Fetch(context.Context, string) ([]byte, error) { return nil, nil }

func TestNewFetcher(t *testing.T) {
	tab := stubFetcher{}
	e := config.Default().Expander
	if got := newFetcher(e, tab, slog.Default()); got != tab {
		t.Errorf("default fetcher = %T, want the tab", got)
	}
	e.Fetcher = config.FetcherHTTP
	if _, ok := newFetcher(e, tab, slog.Default()).(*expand.HTTPFetcher); !ok {
		t.Error("http fetcher not selected")
	}
}

func writeTestFile(path, body string) error {
	return os.WriteFile(path, []byte(body), 0o600)
}
