// Package digest provides streaming SHA-256 hashing of byte strings,
// files, and whole directories.
//
// DigestDir implements the Input Digester: it walks a directory and
// folds relative paths and file contents into a single digest. The
// traversal order is a deliberate compatibility quirk (see DigestDir).
package digest

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
)

const chunkSize = 8 * 1024

// Hasher streams bytes into a single SHA-256 digest.
type Hasher struct {
	h hash.Hash
}

// NewHasher returns a Hasher ready to accept bytes.
func NewHasher() *Hasher {
	return &Hasher{h: sha256.New()}
}

// Write feeds bytes into the running digest. It never fails.
func (h *Hasher) Write(p []byte) (int, error) {
	return h.h.Write(p)
}

// Sum returns the lowercase-hex digest of everything written so far.
func (h *Hasher) Sum() string {
	return hex.EncodeToString(h.h.Sum(nil))
}

// HashBytes returns the lowercase-hex SHA-256 digest of b.
func HashBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// HashReader streams r through SHA-256 in chunkSize increments and
// returns the lowercase-hex digest.
func HashReader(r io.Reader) (string, error) {
	h := NewHasher()
	buf := make([]byte, chunkSize)

	if _, err := io.CopyBuffer(h, r, buf); err != nil {
		return "", fmt.Errorf("hash stream: %w", err)
	}

	return h.Sum(), nil
}

// DigestDir recursively hashes a directory into a single lowercase-hex
// SHA-256 digest covering both relative paths and file contents.
//
// Traversal order sorts by the *full* walked path string (root-prefixed),
// not the path relative to root — an observable compatibility quirk of
// the reference implementation. Preserve it; changing it reorders the
// hash fold and silently changes every derived URI.
func DigestDir(root string) (string, error) {
	type entry struct {
		fullPath string
		relPath  string
	}

	var entries []entry

	walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		info, statErr := resolveRegularFile(path, d)
		if statErr != nil {
			return statErr
		}

		if info == nil {
			return nil
		}

		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return fmt.Errorf("relativize %s: %w", path, relErr)
		}

		entries = append(entries, entry{fullPath: path, relPath: rel})

		return nil
	})
	if walkErr != nil {
		return "", fmt.Errorf("walk %s: %w", root, walkErr)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].fullPath < entries[j].fullPath
	})

	h := NewHasher()
	buf := make([]byte, chunkSize)

	for _, e := range entries {
		h.Write([]byte(e.relPath))

		if err := hashFile(h, e.fullPath, buf); err != nil {
			return "", err
		}
	}

	return h.Sum(), nil
}

// resolveRegularFile reports whether path should be included in the
// digest. Directories are skipped (not hashed themselves); symlinks are
// followed and included only if they resolve to a regular file.
func resolveRegularFile(path string, d fs.DirEntry) (fs.FileInfo, error) {
	if d.IsDir() {
		return nil, nil
	}

	if d.Type()&fs.ModeSymlink != 0 {
		info, err := os.Stat(path)
		if err != nil {
			// Broken symlink: skip rather than fail the whole digest.
			return nil, nil //nolint:nilerr // broken symlinks are skipped, not fatal
		}

		if !info.Mode().IsRegular() {
			return nil, nil
		}

		return info, nil
	}

	info, err := d.Info()
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}

	if !info.Mode().IsRegular() {
		return nil, nil
	}

	return info, nil
}

func hashFile(h *Hasher, path string, buf []byte) error {
	f, err := os.Open(path) //nolint:gosec // G304: path comes from a directory walk rooted at a caller-supplied directory
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	if _, err := io.CopyBuffer(h, f, buf); err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}

	return nil
}
