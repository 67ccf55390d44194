package account

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// IdentityPath returns the file holding the account's public key.
func IdentityPath(name string) string {
	return filepath.Join(Dir(name), "identity")
}

// LoadOrCreateIdentity returns the account's public key, generating and
// persisting a fresh one on first run. Keys are 33 bytes hex with the
// standard 05 prefix.
func LoadOrCreateIdentity(name string) (string, error) {
	path := IdentityPath(name)
	raw, err := os.ReadFile(path)
	if err == nil {
		pubkey := strings.TrimSpace(string(raw))
		if len(pubkey) != 66 || !strings.HasPrefix(pubkey, "05") {
			return "", fmt.Errorf("corrupt identity file %s", path)
		}
		return pubkey, nil
	}
	if !os.IsNotExist(err) {
		return "", err
	}

	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate identity: %w", err)
	}
	pubkey := "05" + hex.EncodeToString(buf)
	if err := os.WriteFile(path, []byte(pubkey+"\n"), 0600); err != nil {
		return "", fmt.Errorf("write identity: %w", err)
	}
	return pubkey, nil
}
