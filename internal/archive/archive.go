// Package archive packs a cache entry folder into a gzipped tar and
// extracts one back out, screening every member path before any write
// touches disk.
package archive

import (
	"archive/tar"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
)

// Pack writes a gzip-compressed tar of srcFolder's top-level entries to
// w. The folder itself is not included as a path prefix — each child of
// srcFolder becomes a root-level archive member, matching what Unpack
// expects to find.
func Pack(srcFolder string, w io.Writer) error {
	gzw := gzip.NewWriter(w)
	defer gzw.Close()

	tw := tar.NewWriter(gzw)
	defer tw.Close()

	entries, err := os.ReadDir(srcFolder)
	if err != nil {
		return fmt.Errorf("read %s: %w", srcFolder, err)
	}

	for _, entry := range entries {
		if err := addToTar(tw, filepath.Join(srcFolder, entry.Name()), entry.Name()); err != nil {
			return err
		}
	}

	if err := tw.Close(); err != nil {
		return fmt.Errorf("close tar writer: %w", err)
	}

	return gzw.Close()
}

func addToTar(tw *tar.Writer, fullPath, archiveName string) error {
	info, err := os.Lstat(fullPath)
	if err != nil {
		return fmt.Errorf("stat %s: %w", fullPath, err)
	}

	if info.Mode()&os.ModeSymlink != 0 {
		info, err = os.Stat(fullPath)
		if err != nil {
			return fmt.Errorf("resolve symlink %s: %w", fullPath, err)
		}
	}

	if info.IsDir() {
		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return fmt.Errorf("build tar header for %s: %w", archiveName, err)
		}

		hdr.Name = archiveName + "/"

		if err := tw.WriteHeader(hdr); err != nil {
			return fmt.Errorf("write tar header for %s: %w", archiveName, err)
		}

		children, err := os.ReadDir(fullPath)
		if err != nil {
			return fmt.Errorf("read dir %s: %w", fullPath, err)
		}

		for _, child := range children {
			if err := addToTar(tw, filepath.Join(fullPath, child.Name()), archiveName+"/"+child.Name()); err != nil {
				return err
			}
		}

		return nil
	}

	hdr, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return fmt.Errorf("build tar header for %s: %w", archiveName, err)
	}

	hdr.Name = archiveName

	if err := tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("write tar header for %s: %w", archiveName, err)
	}

	f, err := os.Open(fullPath) //nolint:gosec // G304: path is built from a directory walk rooted at the cache entry
	if err != nil {
		return fmt.Errorf("open %s: %w", fullPath, err)
	}
	defer f.Close()

	if _, err := io.Copy(tw, f); err != nil {
		return fmt.Errorf("write %s contents: %w", archiveName, err)
	}

	return nil
}

// ScreenMember rejects tar member names that could write outside the
// extraction directory: absolute paths, and any path containing a ".."
// segment.
func ScreenMember(name string) error {
	if strings.HasPrefix(name, "/") {
		return fmt.Errorf("absolute tar member path: %s", name)
	}

	if filepath.IsAbs(name) {
		return fmt.Errorf("absolute tar member path: %s", name)
	}

	for _, segment := range strings.Split(filepath.ToSlash(name), "/") {
		if segment == ".." {
			return fmt.Errorf("tar member path contains a traversal segment: %s", name)
		}
	}

	return nil
}

// Unpack streams a gzip-compressed tar from r into destDir. Every
// member is screened via ScreenMember before any write occurs; a
// screening failure aborts with no partial writes beyond what was
// already extracted for prior, safe members. Callers extract into a
// scratch directory precisely so a failure here never touches the
// canonical cache location.
func Unpack(r io.Reader, destDir string) error {
	gzr, err := gzip.NewReader(r)
	if err != nil {
		return fmt.Errorf("open gzip stream: %w", err)
	}
	defer gzr.Close()

	tr := tar.NewReader(gzr)

	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}

		if err != nil {
			return fmt.Errorf("read tar entry: %w", err)
		}

		if err := ScreenMember(hdr.Name); err != nil {
			return &SecurityError{Member: hdr.Name, cause: err}
		}

		target := filepath.Join(destDir, hdr.Name)

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return fmt.Errorf("create directory %s: %w", hdr.Name, err)
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return fmt.Errorf("create parent directory for %s: %w", hdr.Name, err)
			}

			if err := writeRegularFile(tr, target, os.FileMode(hdr.Mode)); err != nil {
				return fmt.Errorf("write %s: %w", hdr.Name, err)
			}
		default:
			// Symlinks, hardlinks, and device entries have no meaning
			// for a cache artifact folder; skip rather than fail.
			continue
		}
	}
}

func writeRegularFile(r io.Reader, target string, mode os.FileMode) error {
	if mode == 0 {
		mode = 0o644
	}

	f, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, mode) //nolint:gosec // G304: target is screened by ScreenMember before this call
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = io.Copy(f, r)

	return err
}

// SecurityError indicates a tar member failed the safety screen
// applied before any write in Unpack.
type SecurityError struct {
	Member string
	cause  error
}

func (e *SecurityError) Error() string {
	return fmt.Sprintf("unsafe tar member %q: %v", e.Member, e.cause)
}

func (e *SecurityError) Unwrap() error {
	return e.cause
}
