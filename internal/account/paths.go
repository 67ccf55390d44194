package account

import (
	"os"
	"path/filepath"
)

// BaseDir returns ~/.sesh.
func BaseDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".sesh")
}

// Dir returns the account-specific directory.
func Dir(name string) string {
	return filepath.Join(BaseDir(), "accounts", name)
}

// SocketPath returns the UDS socket path for an account.
func SocketPath(name string) string {
	return filepath.Join(Dir(name), "daemon.sock")
}

// LockPath returns the lock file path for an account.
func LockPath(name string) string {
	return filepath.Join(Dir(name), "LOCK")
}

// DBPath returns the account-owned sesh.db path.
func DBPath(name string) string {
	return filepath.Join(Dir(name), "sesh.db")
}

// LogDir returns the log directory for an account.
func LogDir(name string) string {
	return filepath.Join(Dir(name), "logs")
}

// LogPath returns the daemon log file path.
func LogPath(name string) string {
	return filepath.Join(LogDir(name), "seshd.log")
}

// ConfigPath returns the global config file path.
func ConfigPath() string {
	return filepath.Join(BaseDir(), "config.toml")
}

// EnsureDir creates the account directory tree with proper permissions.
func EnsureDir(name string) error {
	dirs := []string{
		Dir(name),
		LogDir(name),
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0700); err != nil {
			return err
		}
	}
	return nil
}

// List returns the names of all known account directories.
func List() ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(BaseDir(), "accounts"))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	return names, nil
}
