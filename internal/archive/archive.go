// Package archive verifies and extracts the gzip-compressed tar archives
// the release repository publishes.
package archive

import (
	"archive/tar"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// ErrMalformed reports an archive that is not a well-formed non-empty
// tar.gz container.
var ErrMalformed = errors.New("malformed archive")

// Verify reads the whole archive at path, checking that the gzip stream and
// every tar entry decode cleanly and that the archive is not empty. It
// transfers no data to disk.
func Verify(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening archive: %w", err)
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	entries := 0
	for {
		_, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		if _, err := io.Copy(io.Discard, tr); err != nil {
			return fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		entries++
	}
	if entries == 0 {
		return fmt.Errorf("%w: empty archive", ErrMalformed)
	}
	return nil
}

// Extract unpacks the archive at src into dstDir, stripping the archive's
// single outer directory so contents land directly in dstDir. Entry paths
// that would escape dstDir are rejected.
func Extract(src, dstDir string) error {
	f, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("opening archive: %w", err)
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("%w: %v", ErrMalformed, err)
		}

		rel := stripTopDir(hdr.Name)
		if rel == "" {
			continue
		}
		target, err := securePath(dstDir, rel)
		if err != nil {
			return err
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return fmt.Errorf("creating dir %s: %w", rel, err)
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return fmt.Errorf("creating parent of %s: %w", rel, err)
			}
			if err := writeFile(target, tr, hdr.FileInfo().Mode()); err != nil {
				return fmt.Errorf("extracting %s: %w", rel, err)
			}
		default:
			// Symlinks and specials are not part of the dataset format.
			continue
		}
	}
}

// stripTopDir removes the first path component of a tar entry name.
func stripTopDir(name string) string {
	name = strings.TrimPrefix(filepath.ToSlash(name), "./")
	if i := strings.IndexByte(name, '/'); i >= 0 {
		return name[i+1:]
	}
	return ""
}

// securePath joins rel onto dir, rejecting traversal outside dir.
func securePath(dir, rel string) (string, error) {
	target := filepath.Join(dir, filepath.FromSlash(rel))
	if !strings.HasPrefix(target, filepath.Clean(dir)+string(os.PathSeparator)) {
		return "", fmt.Errorf("%w: entry %q escapes extraction root", ErrMalformed, rel)
	}
	return target, nil
}

func writeFile(target string, r io.Reader, mode os.FileMode) error {
	out, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, mode)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
