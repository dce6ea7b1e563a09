// Package cache implements the Local Cache Store: the authoritative
// on-disk mapping from a content-addressed URI to its artifact folder.
//
// Every write goes through a scratch-then-rename sequence so that a
// cache entry is never partially visible — either the full directory,
// manifest.json included, exists, or it doesn't.
package cache

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rozetyp/ctxpack/internal/contract"
	clierrors "github.com/rozetyp/ctxpack/internal/errors"
	"github.com/rozetyp/ctxpack/internal/identity"
)

// Provenance records who produced a cached entry and when.
type Provenance struct {
	Host      string    `json:"host"`
	User      string    `json:"user"`
	Timestamp time.Time `json:"timestamp"`
}

// Manifest is the required manifest.json embedded in every cache entry.
type Manifest struct {
	URI        string                    `json:"uri"`
	Contract   map[string]contract.Value `json:"contract"`
	Provenance Provenance                `json:"provenance"`
}

const manifestFileName = "manifest.json"

// Store is the local, content-addressed artifact cache rooted at a
// single directory.
type Store struct {
	root string
}

// NewStore opens (creating if necessary) a cache store rooted at root.
func NewStore(root string) (*Store, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create cache root %s: %w", root, err)
	}

	return &Store{root: root}, nil
}

// Root returns the cache's root directory.
func (s *Store) Root() string {
	return s.root
}

// EntryPath returns the canonical on-disk path for a full hex digest,
// regardless of whether an entry exists there yet.
func (s *Store) EntryPath(fullHex string) string {
	return filepath.Join(s.root, fullHex)
}

// ScratchDir creates a fresh, uniquely-prefixed staging directory under
// the cache root for extraction or install work-in-progress. Callers
// must remove it on every exit path; a prior directory with the same
// name (from an aborted run) is wiped first.
func (s *Store) ScratchDir(prefix, fullHex string) (string, error) {
	dir := filepath.Join(s.root, fmt.Sprintf("%s_%s", prefix, fullHex))

	if err := os.RemoveAll(dir); err != nil {
		return "", fmt.Errorf("clear stale scratch dir %s: %w", dir, err)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create scratch dir %s: %w", dir, err)
	}

	return dir, nil
}

// Lookup returns the folder path for uri if it is cached.
func (s *Store) Lookup(uri string) (string, bool, error) {
	fullHex, err := identity.ParseURI(uri)
	if err != nil {
		return "", false, err
	}

	path := s.EntryPath(fullHex)

	info, statErr := os.Stat(filepath.Join(path, manifestFileName))
	if statErr != nil {
		return "", false, nil
	}

	return path, info.Mode().IsRegular(), nil
}

// ReadManifest parses the manifest.json of a cached entry.
func (s *Store) ReadManifest(uri string) (*Manifest, error) {
	fullHex, err := identity.ParseURI(uri)
	if err != nil {
		return nil, err
	}

	return readManifestFile(filepath.Join(s.EntryPath(fullHex), manifestFileName))
}

func readManifestFile(path string) (*Manifest, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is built from a validated URI digest
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	return &m, nil
}

// InstallFromFolder computes the URI of contract, copies srcFolder into
// a scratch directory, writes manifest.json into the copy, and
// atomically moves it into the canonical cache location, replacing any
// prior entry for the same URI.
func (s *Store) InstallFromFolder(srcFolder string, c map[string]contract.Value, user string, digestDir identity.DigestDirFunc) (string, error) {
	uri, err := identity.DeriveURI(c, digestDir)
	if err != nil {
		return "", fmt.Errorf("derive identity: %w", err)
	}

	fullHex, err := identity.ParseURI(uri)
	if err != nil {
		return "", err
	}

	scratch, err := s.ScratchDir("tmp_seed", fullHex)
	if err != nil {
		return "", err
	}
	defer os.RemoveAll(scratch)

	if err := copyTree(srcFolder, scratch); err != nil {
		return "", fmt.Errorf("copy %s into scratch: %w", srcFolder, err)
	}

	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}

	manifest := Manifest{
		URI:      uri,
		Contract: c,
		Provenance: Provenance{
			Host:      host,
			User:      user,
			Timestamp: time.Now().UTC(),
		},
	}

	manifestBytes, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal manifest: %w", err)
	}

	if err := os.WriteFile(filepath.Join(scratch, manifestFileName), manifestBytes, 0o644); err != nil {
		return "", fmt.Errorf("write manifest: %w", err)
	}

	if err := s.commit(scratch, fullHex); err != nil {
		return "", err
	}

	return uri, nil
}

// InstallFromScratch validates that scratchDir/manifest.json exists and
// names the expected uri, then atomically moves scratchDir into the
// canonical cache location.
func (s *Store) InstallFromScratch(scratchDir, uri string) error {
	fullHex, err := identity.ParseURI(uri)
	if err != nil {
		return err
	}

	manifestPath := filepath.Join(scratchDir, manifestFileName)

	manifest, err := readManifestFile(manifestPath)
	if err != nil {
		return clierrors.PackError("downloaded pack missing internal manifest.json", err)
	}

	if manifest.URI != uri {
		return clierrors.PackError(fmt.Sprintf("identity mismatch! expected %s, got %s", uri, manifest.URI), nil)
	}

	return s.commit(scratchDir, fullHex)
}

// commit performs the single rename that makes a cache entry observable.
func (s *Store) commit(scratchDir, fullHex string) error {
	dest := s.EntryPath(fullHex)

	if err := os.RemoveAll(dest); err != nil {
		return fmt.Errorf("remove existing entry %s: %w", dest, err)
	}

	if err := os.Rename(scratchDir, dest); err != nil {
		return fmt.Errorf("install %s: %w", dest, err)
	}

	return nil
}

// copyTree recursively copies src into dst, creating dst if needed.
func copyTree(src, dst string) error {
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return err
	}

	entries, err := os.ReadDir(src)
	if err != nil {
		return fmt.Errorf("read %s: %w", src, err)
	}

	for _, entry := range entries {
		srcPath := filepath.Join(src, entry.Name())
		dstPath := filepath.Join(dst, entry.Name())

		if entry.IsDir() {
			if err := copyTree(srcPath, dstPath); err != nil {
				return err
			}

			continue
		}

		if err := copyFile(srcPath, dstPath); err != nil {
			return err
		}
	}

	return nil
}

func copyFile(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return err
	}

	in, err := os.Open(src) //nolint:gosec // G304: path comes from a directory walk rooted at a caller-supplied folder
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, info.Mode())
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}

	return out.Close()
}
