package identity

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

func TestGenerateSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()

	priv, err := Generate()
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	id, err := Save(dir, priv)
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	privPath := filepath.Join(dir, id.String()+".private")
	pubPath := filepath.Join(dir, id.String()+".public")
	for _, path := range []string{privPath, pubPath} {
		if _, err := os.Stat(path); err != nil {
			t.Fatalf("key file missing: %v", err)
		}
	}

	if runtime.GOOS != "windows" {
		info, err := os.Stat(privPath)
		if err != nil {
			t.Fatal(err)
		}
		if info.Mode().Perm() != 0600 {
			t.Errorf("private key permissions = %o, want 0600", info.Mode().Perm())
		}
	}

	loaded, err := Load(dir, id)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if !loaded.Equals(priv) {
		t.Error("loaded key differs from the saved key")
	}
}

func TestLoadRejectsPeerIDMismatch(t *testing.T) {
	dir := t.TempDir()

	privA, err := Generate()
	if err != nil {
		t.Fatal(err)
	}
	idA, err := Save(dir, privA)
	if err != nil {
		t.Fatal(err)
	}

	privB, err := Generate()
	if err != nil {
		t.Fatal(err)
	}
	idB, err := Save(t.TempDir(), privB)
	if err != nil {
		t.Fatal(err)
	}

	// Plant key A's bytes under key B's peer ID.
	dataA, err := os.ReadFile(filepath.Join(dir, idA.String()+".private"))
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, idB.String()+".private"), dataA, 0600); err != nil {
		t.Fatal(err)
	}

	if _, err := Load(dir, idB); !errors.Is(err, ErrPeerIDMismatch) {
		t.Errorf("error = %v, want ErrPeerIDMismatch", err)
	}
}

func TestLoadMissingKey(t *testing.T) {
	priv, err := Generate()
	if err != nil {
		t.Fatal(err)
	}
	id, err := Save(t.TempDir(), priv)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := Load(t.TempDir(), id); err == nil {
		t.Error("expected an error loading a missing key, got nil")
	}
}

func TestCheckDir(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("POSIX permission check")
	}

	t.Run("Missing directory passes", func(t *testing.T) {
		if err := CheckDir(filepath.Join(t.TempDir(), "missing")); err != nil {
			t.Errorf("CheckDir failed: %v", err)
		}
	})

	t.Run("Private directory passes", func(t *testing.T) {
		dir := t.TempDir()
		if err := os.Chmod(dir, 0700); err != nil {
			t.Fatal(err)
		}
		if err := CheckDir(dir); err != nil {
			t.Errorf("CheckDir failed: %v", err)
		}
	})

	t.Run("Group-accessible directory is rejected", func(t *testing.T) {
		dir := t.TempDir()
		if err := os.Chmod(dir, 0755); err != nil {
			t.Fatal(err)
		}
		if err := CheckDir(dir); err == nil {
			t.Error("expected an error for a group-accessible directory, got nil")
		}
	})
}
