package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "drivechat.toml")
	if err := os.WriteFile(path, []byte(body), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
client_id = "cid-123"
client_secret = "shh"
store_path = "/tmp/chat.db"
remote_file = "history.json"
safety_window = "10s"
log_level = "debug"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() = %v", err)
	}
	if cfg.ClientID != "cid-123" || cfg.ClientSecret != "shh" {
		t.Errorf("credentials = %q / %q", cfg.ClientID, cfg.ClientSecret)
	}
	if cfg.StorePath != "/tmp/chat.db" {
		t.Errorf("StorePath = %q", cfg.StorePath)
	}
	if cfg.RemoteFile != "history.json" {
		t.Errorf("RemoteFile = %q", cfg.RemoteFile)
	}
	if cfg.SafetyWindow.Duration != 10*time.Second {
		t.Errorf("SafetyWindow = %v", cfg.SafetyWindow.Duration)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q", cfg.LogLevel)
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `client_id = "cid-123"`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() = %v", err)
	}
	if cfg.RemoteFile != "chat_history.json" {
		t.Errorf("RemoteFile default = %q", cfg.RemoteFile)
	}
	if cfg.SafetyWindow.Duration != 5*time.Second {
		t.Errorf("SafetyWindow default = %v", cfg.SafetyWindow.Duration)
	}
	if cfg.StorePath == "" {
		t.Error("StorePath default is empty")
	}
}

func TestLoadMissingFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	if err != nil {
		t.Fatalf("Load() on a missing file = %v, want defaults", err)
	}
	// The defaults alone are incomplete until a client ID arrives
	// from the command line or the file.
	if err := cfg.Validate(); err == nil {
		t.Error("Validate() on defaults succeeded without client_id")
	}
}

func TestLoadRejectsBadDuration(t *testing.T) {
	path := writeConfig(t, `
client_id = "cid-123"
safety_window = "soon"
`)
	if _, err := Load(path); err == nil {
		t.Error("Load() accepted an unparseable safety_window")
	}
}
