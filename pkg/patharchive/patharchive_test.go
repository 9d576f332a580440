package patharchive

import (
	"archive/tar"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/compress/zstd"
	"github.com/klauspost/pgzip"
)

func TestFormatFromString(t *testing.T) {
	testCases := []struct {
		input     string
		expected  Format
		expectErr bool
	}{
		{"tar.gz", TarGz, false},
		{"gz", TarGz, false},
		{"", TarGz, false},
		{"tar.zst", TarZst, false},
		{"ZSTD", TarZst, false},
		{"rar", TarGz, true},
	}
	for _, tc := range testCases {
		got, err := FormatFromString(tc.input)
		if tc.expectErr {
			if err == nil {
				t.Errorf("FormatFromString(%q): expected error, got nil", tc.input)
			}
			continue
		}
		if err != nil {
			t.Errorf("FormatFromString(%q) failed: %v", tc.input, err)
			continue
		}
		if got != tc.expected {
			t.Errorf("FormatFromString(%q) = %v, want %v", tc.input, got, tc.expected)
		}
	}
}

// readArchiveNames decompresses an archive and returns the tar entry names.
func readArchiveNames(t *testing.T, path string, format Format) map[string]string {
	t.Helper()

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("failed to open archive: %v", err)
	}
	defer f.Close()

	var decompressed io.Reader
	if format == TarZst {
		zr, err := zstd.NewReader(f)
		if err != nil {
			t.Fatalf("failed to open zstd stream: %v", err)
		}
		defer zr.Close()
		decompressed = zr
	} else {
		gr, err := pgzip.NewReader(f)
		if err != nil {
			t.Fatalf("failed to open gzip stream: %v", err)
		}
		defer gr.Close()
		decompressed = gr
	}

	entries := make(map[string]string)
	tr := tar.NewReader(decompressed)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("failed to read tar stream: %v", err)
		}
		var content []byte
		if hdr.Typeflag == tar.TypeReg {
			content, err = io.ReadAll(tr)
			if err != nil {
				t.Fatalf("failed to read tar entry %s: %v", hdr.Name, err)
			}
		}
		entries[hdr.Name] = string(content)
	}
	return entries
}

func TestArchiveRoundTrip(t *testing.T) {
	for _, format := range []Format{TarGz, TarZst} {
		t.Run(format.String(), func(t *testing.T) {
			sourceDir := t.TempDir()
			archiveDir := t.TempDir()

			if err := os.MkdirAll(filepath.Join(sourceDir, "sub"), 0755); err != nil {
				t.Fatal(err)
			}
			if err := os.WriteFile(filepath.Join(sourceDir, "top.txt"), []byte("top content"), 0644); err != nil {
				t.Fatal(err)
			}
			if err := os.WriteFile(filepath.Join(sourceDir, "sub", "nested.txt"), []byte("nested content"), 0644); err != nil {
				t.Fatal(err)
			}

			a := NewArchiver(Options{Format: format})
			path, err := a.Archive(context.Background(), sourceDir, archiveDir)
			if err != nil {
				t.Fatalf("Archive failed: %v", err)
			}
			if !strings.HasSuffix(path, format.Extension()) {
				t.Errorf("archive path %q lacks extension %q", path, format.Extension())
			}

			entries := readArchiveNames(t, path, format)
			if got := entries["top.txt"]; got != "top content" {
				t.Errorf("top.txt content = %q, want %q", got, "top content")
			}
			if got := entries["sub/nested.txt"]; got != "nested content" {
				t.Errorf("sub/nested.txt content = %q, want %q", got, "nested content")
			}
			if _, ok := entries["sub/"]; !ok {
				t.Error("directory entry sub/ missing from archive")
			}

			// The staging temp file must not survive.
			dirEntries, err := os.ReadDir(archiveDir)
			if err != nil {
				t.Fatal(err)
			}
			if len(dirEntries) != 1 {
				t.Errorf("archive dir holds %d entries, want 1", len(dirEntries))
			}
		})
	}
}

func TestArchiveSkipsNamedEntries(t *testing.T) {
	sourceDir := t.TempDir()
	archiveDir := t.TempDir()

	if err := os.WriteFile(filepath.Join(sourceDir, "keep.txt"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(sourceDir, ".~pgl-mirror.lock"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	a := NewArchiver(Options{Format: TarGz, SkipNames: []string{".~pgl-mirror.lock"}})
	path, err := a.Archive(context.Background(), sourceDir, archiveDir)
	if err != nil {
		t.Fatalf("Archive failed: %v", err)
	}

	entries := readArchiveNames(t, path, TarGz)
	if _, ok := entries["keep.txt"]; !ok {
		t.Error("keep.txt missing from archive")
	}
	if _, ok := entries[".~pgl-mirror.lock"]; ok {
		t.Error("skipped entry present in archive")
	}
}

func TestArchiveDryRunWritesNothing(t *testing.T) {
	sourceDir := t.TempDir()
	archiveDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(sourceDir, "file.txt"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	a := NewArchiver(Options{Format: TarGz, DryRun: true})
	if _, err := a.Archive(context.Background(), sourceDir, archiveDir); err != nil {
		t.Fatalf("Archive failed: %v", err)
	}

	entries, err := os.ReadDir(archiveDir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("dry run wrote %d entries to the archive dir", len(entries))
	}
}
