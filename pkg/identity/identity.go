// Package identity manages the daemon's Ed25519 peer identity. Keys live
// in a private directory, one file pair per identity, named by the peer ID
// derived from the public key.
package identity

import (
	"crypto/rand"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/paulschiretz/pgl-mirror/pkg/util"
)

const (
	privateKeyExtension = ".private"
	publicKeyExtension  = ".public"
)

// ErrPeerIDMismatch means a loaded private key does not derive the peer ID
// it was requested under.
var ErrPeerIDMismatch = errors.New("peer ID does not match loaded key")

// DefaultDir returns the default key directory under the user's home.
func DefaultDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve home directory: %w", err)
	}
	return filepath.Join(home, ".pgl-mirror"), nil
}

// CheckDir rejects an existing key directory readable by group or others.
// Windows has no POSIX permission bits; the check passes there.
func CheckDir(dir string) error {
	if runtime.GOOS == "windows" {
		return nil
	}
	info, err := os.Stat(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to inspect key directory: %w", err)
	}
	if info.Mode().Perm()&0o077 != 0 {
		return fmt.Errorf("key directory %s must not be accessible by group or others (mode %o)", dir, info.Mode().Perm())
	}
	return nil
}

// Generate creates a fresh Ed25519 keypair.
func Generate() (crypto.PrivKey, error) {
	priv, _, err := crypto.GenerateEd25519Key(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate keypair: %w", err)
	}
	return priv, nil
}

// Save writes the keypair into dir and returns the peer ID both files are
// named by. The directory is created private if missing.
func Save(dir string, priv crypto.PrivKey) (peer.ID, error) {
	if err := os.MkdirAll(dir, util.PrivateDirPerms); err != nil {
		return "", fmt.Errorf("failed to create key directory: %w", err)
	}

	id, err := peer.IDFromPublicKey(priv.GetPublic())
	if err != nil {
		return "", fmt.Errorf("failed to derive peer ID: %w", err)
	}

	privBytes, err := crypto.MarshalPrivateKey(priv)
	if err != nil {
		return "", fmt.Errorf("failed to encode private key: %w", err)
	}
	pubBytes, err := crypto.MarshalPublicKey(priv.GetPublic())
	if err != nil {
		return "", fmt.Errorf("failed to encode public key: %w", err)
	}

	if err := writeKeyFile(filepath.Join(dir, id.String()+privateKeyExtension), privBytes, util.PrivateFilePerms); err != nil {
		return "", err
	}
	if err := writeKeyFile(filepath.Join(dir, id.String()+publicKeyExtension), pubBytes, util.UserWritableFilePerms); err != nil {
		return "", err
	}
	return id, nil
}

// Load reads the private key stored under peerID and verifies the key
// actually derives that ID.
func Load(dir string, peerID peer.ID) (crypto.PrivKey, error) {
	path := filepath.Join(dir, peerID.String()+privateKeyExtension)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read private key %s: %w", path, err)
	}

	priv, err := crypto.UnmarshalPrivateKey(data)
	if err != nil {
		return nil, fmt.Errorf("invalid private key encoding in %s: %w", path, err)
	}

	derived, err := peer.IDFromPublicKey(priv.GetPublic())
	if err != nil {
		return nil, fmt.Errorf("failed to derive peer ID: %w", err)
	}
	if derived != peerID {
		return nil, fmt.Errorf("%w: expected %s, got %s", ErrPeerIDMismatch, peerID, derived)
	}
	return priv, nil
}

func writeKeyFile(path string, data []byte, perm os.FileMode) error {
	if err := os.WriteFile(path, data, perm); err != nil {
		return fmt.Errorf("failed to write key file %s: %w", path, err)
	}
	// WriteFile applies perm only on create; an existing file keeps its
	// old mode otherwise.
	if err := os.Chmod(path, perm); err != nil {
		return fmt.Errorf("failed to set key file permissions %s: %w", path, err)
	}
	return nil
}
