package archive

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

// buildTarGz produces a tar.gz with the given name→content entries. Names
// ending in "/" become directories.
func buildTarGz(t *testing.T, entries map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)

	for name, content := range entries {
		if name[len(name)-1] == '/' {
			if err := tw.WriteHeader(&tar.Header{Name: name, Typeflag: tar.TypeDir, Mode: 0o755}); err != nil {
				t.Fatal(err)
			}
			continue
		}
		hdr := &tar.Header{Name: name, Typeflag: tar.TypeReg, Mode: 0o644, Size: int64(len(content))}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatal(err)
		}
		if _, err := tw.Write([]byte(content)); err != nil {
			t.Fatal(err)
		}
	}

	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := gz.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func writeFixture(t *testing.T, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "artifact.tar.gz")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestVerifyWellFormed(t *testing.T) {
	path := writeFixture(t, buildTarGz(t, map[string]string{
		"qlib_data/calendars/day.txt": "2026-08-28\n",
	}))
	if err := Verify(path); err != nil {
		t.Fatalf("Verify: %v", err)
	}
}

func TestVerifyRejectsGarbage(t *testing.T) {
	path := writeFixture(t, []byte("this is not gzip"))
	if err := Verify(path); !errors.Is(err, ErrMalformed) {
		t.Fatalf("Verify error = %v, want ErrMalformed", err)
	}
}

func TestVerifyRejectsTruncated(t *testing.T) {
	data := buildTarGz(t, map[string]string{
		"qlib_data/calendars/day.txt": "2026-08-28\n",
	})
	path := writeFixture(t, data[:len(data)/2])
	if err := Verify(path); !errors.Is(err, ErrMalformed) {
		t.Fatalf("Verify error = %v, want ErrMalformed", err)
	}
}

func TestVerifyRejectsEmpty(t *testing.T) {
	path := writeFixture(t, buildTarGz(t, nil))
	if err := Verify(path); !errors.Is(err, ErrMalformed) {
		t.Fatalf("Verify error = %v, want ErrMalformed", err)
	}
}

func TestExtractStripsTopDir(t *testing.T) {
	path := writeFixture(t, buildTarGz(t, map[string]string{
		"qlib_data/":                    "",
		"qlib_data/calendars/":          "",
		"qlib_data/calendars/day.txt":   "2026-08-27\n2026-08-28\n",
		"qlib_data/instruments/all.txt": "SH600000\tstart\tend\n",
	}))

	dst := t.TempDir()
	if err := Extract(path, dst); err != nil {
		t.Fatalf("Extract: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dst, "calendars", "day.txt"))
	if err != nil {
		t.Fatalf("calendar index missing after extract: %v", err)
	}
	if string(data) != "2026-08-27\n2026-08-28\n" {
		t.Errorf("calendar contents = %q", data)
	}
	if _, err := os.Stat(filepath.Join(dst, "instruments", "all.txt")); err != nil {
		t.Errorf("instrument index missing after extract: %v", err)
	}
	// The outer directory itself must not appear.
	if _, err := os.Stat(filepath.Join(dst, "qlib_data")); !os.IsNotExist(err) {
		t.Error("outer archive directory was not stripped")
	}
}

func TestExtractRejectsTraversal(t *testing.T) {
	path := writeFixture(t, buildTarGz(t, map[string]string{
		"qlib_data/../../escape.txt": "nope",
	}))
	if err := Extract(path, t.TempDir()); !errors.Is(err, ErrMalformed) {
		t.Fatalf("Extract error = %v, want ErrMalformed for traversal", err)
	}
}
