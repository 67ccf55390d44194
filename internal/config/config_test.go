package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSaveAndLoad(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.toml")

	cfg := &Config{
		DefaultAccount: "work",
		Swarm:          Swarm{NodeURL: "wss://node.example:443/storage", PollIntervalSecs: 15},
	}
	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.DefaultAccount != "work" {
		t.Errorf("DefaultAccount = %q, want %q", loaded.DefaultAccount, "work")
	}
	if loaded.Swarm.NodeURL != "wss://node.example:443/storage" {
		t.Errorf("NodeURL = %q", loaded.Swarm.NodeURL)
	}
	if loaded.Swarm.PollIntervalSecs != 15 {
		t.Errorf("PollIntervalSecs = %d, want 15", loaded.Swarm.PollIntervalSecs)
	}
}

func TestLoadMissing(t *testing.T) {
	_, err := Load("/nonexistent/config.toml")
	if err == nil {
		t.Error("Load() expected error for missing file")
	}
}

func TestLoadDefaultsPollInterval(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.toml")

	if err := Save(path, &Config{DefaultAccount: "main"}); err != nil {
		t.Fatal(err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Swarm.PollIntervalSecs != DefaultPollIntervalSecs {
		t.Errorf("PollIntervalSecs = %d, want default %d", loaded.Swarm.PollIntervalSecs, DefaultPollIntervalSecs)
	}
}

func TestSavePermissions(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.toml")

	if err := Save(path, &Config{DefaultAccount: "main"}); err != nil {
		t.Fatal(err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	perm := info.Mode().Perm()
	if perm != 0600 {
		t.Errorf("file permission = %o, want 0600", perm)
	}
}
