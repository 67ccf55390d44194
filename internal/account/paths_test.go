package account

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDir(t *testing.T) {
	home, _ := os.UserHomeDir()
	got := Dir("main")
	want := filepath.Join(home, ".sesh", "accounts", "main")
	if got != want {
		t.Errorf("Dir(main) = %q, want %q", got, want)
	}
}

func TestSocketPath(t *testing.T) {
	got := SocketPath("test")
	if !strings.HasSuffix(got, filepath.Join("accounts", "test", "daemon.sock")) {
		t.Errorf("SocketPath(test) = %q, want suffix accounts/test/daemon.sock", got)
	}
}

func TestLockPath(t *testing.T) {
	got := LockPath("test")
	if !strings.HasSuffix(got, filepath.Join("accounts", "test", "LOCK")) {
		t.Errorf("LockPath(test) = %q, want suffix accounts/test/LOCK", got)
	}
}

func TestDBPath(t *testing.T) {
	got := DBPath("test")
	if !strings.HasSuffix(got, filepath.Join("accounts", "test", "sesh.db")) {
		t.Errorf("DBPath(test) = %q, want suffix accounts/test/sesh.db", got)
	}
}
