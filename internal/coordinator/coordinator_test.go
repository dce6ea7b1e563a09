package coordinator

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rozetyp/ctxpack/internal/archive"
	"github.com/rozetyp/ctxpack/internal/cache"
	"github.com/rozetyp/ctxpack/internal/contract"
	"github.com/rozetyp/ctxpack/internal/identity"
	"github.com/rozetyp/ctxpack/internal/output"
	"github.com/rozetyp/ctxpack/internal/terminal"
)

func testWriter() *output.Writer {
	w := output.NewWriter(&bytes.Buffer{}, &bytes.Buffer{}, &terminal.Info{})
	w.Quiet = true

	return w
}

func newTestStore(t *testing.T) *cache.Store {
	t.Helper()

	store, err := cache.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}

	return store
}

func TestGetURI_IsPureAndDeterministic(t *testing.T) {
	co := New(newTestStore(t), RegistryConfig{}, nil)

	c := map[string]contract.Value{"dataset": "X"}

	uri1, err := co.GetURI(t.Context(), c)
	if err != nil {
		t.Fatalf("GetURI() error = %v", err)
	}

	uri2, err := co.GetURI(t.Context(), c)
	if err != nil {
		t.Fatalf("GetURI() error = %v", err)
	}

	if uri1 != uri2 {
		t.Fatalf("GetURI() not deterministic: %s != %s", uri1, uri2)
	}
}

func TestSeedThenPull_CacheHitRequiresNoRegistry(t *testing.T) {
	co := New(newTestStore(t), RegistryConfig{}, nil)

	src := t.TempDir()
	if err := os.WriteFile(filepath.Join(src, "out.txt"), []byte("seeded"), 0o644); err != nil {
		t.Fatalf("write out.txt: %v", err)
	}

	c := map[string]contract.Value{"dataset": "X"}

	uri, err := co.Seed(t.Context(), src, c, "tester", testWriter())
	if err != nil {
		t.Fatalf("Seed() error = %v", err)
	}

	// RegistryConfig is empty, so any attempt to reach the network
	// during Pull would fail fast on registryClient(); a cache hit must
	// never get there.
	path, err := co.Pull(t.Context(), uri, testWriter())
	if err != nil {
		t.Fatalf("Pull() error = %v", err)
	}

	content, err := os.ReadFile(filepath.Join(path, "out.txt"))
	if err != nil {
		t.Fatalf("read out.txt: %v", err)
	}

	if string(content) != "seeded" {
		t.Fatalf("out.txt content = %q", content)
	}
}

func TestPull_MissWithoutRegistryConfigFails(t *testing.T) {
	co := New(newTestStore(t), RegistryConfig{}, nil)

	hex := strings.Repeat("ab", 32)
	uri := identity.URI(hex)

	if _, err := co.Pull(t.Context(), uri, testWriter()); err == nil {
		t.Fatal("Pull() expected error for uncached URI with no registry configured, got nil")
	}
}

func TestInspect_MissIsNotAnError(t *testing.T) {
	co := New(newTestStore(t), RegistryConfig{}, nil)

	hex := strings.Repeat("cd", 32)
	uri := identity.URI(hex)

	manifest, ok, err := co.Inspect(uri)
	if err != nil {
		t.Fatalf("Inspect() unexpected error = %v", err)
	}

	if ok {
		t.Fatal("Inspect() reported a hit for an uncached URI")
	}

	if manifest != nil {
		t.Fatal("Inspect() returned a non-nil manifest for a miss")
	}
}

func TestInspect_HitReturnsManifest(t *testing.T) {
	store := newTestStore(t)
	co := New(store, RegistryConfig{}, nil)

	src := t.TempDir()
	os.WriteFile(filepath.Join(src, "a.txt"), []byte("a"), 0o644) //nolint:errcheck

	c := map[string]contract.Value{"dataset": "X"}

	uri, err := co.Seed(t.Context(), src, c, "tester", testWriter())
	if err != nil {
		t.Fatalf("Seed() error = %v", err)
	}

	manifest, ok, err := co.Inspect(uri)
	if err != nil {
		t.Fatalf("Inspect() error = %v", err)
	}

	if !ok {
		t.Fatal("Inspect() reported a miss after seeding")
	}

	if manifest.URI != uri {
		t.Fatalf("manifest.URI = %s, want %s", manifest.URI, uri)
	}
}

func TestPush_RejectsUncachedURI(t *testing.T) {
	co := New(newTestStore(t), RegistryConfig{URL: "example.invalid", Repo: "org/repo", User: "u", Token: "t"}, nil)

	hex := strings.Repeat("ef", 32)
	uri := identity.URI(hex)

	if err := co.Push(t.Context(), uri, testWriter()); err == nil {
		t.Fatal("Push() expected error for uncached URI, got nil")
	}
}

func TestPullThenPush_FullRoundTripAgainstFakeRegistry(t *testing.T) {
	c := map[string]contract.Value{"dataset": "roundtrip"}

	uri, err := identity.DeriveURI(c, func(string) (string, error) { return "", nil })
	if err != nil {
		t.Fatalf("DeriveURI() error = %v", err)
	}

	fullHex, err := identity.ParseURI(uri)
	if err != nil {
		t.Fatalf("ParseURI() error = %v", err)
	}

	shortID := fullHex[:identity.ShortIDLength]

	folder := t.TempDir()
	manifestBytes, _ := json.Marshal(map[string]string{"uri": uri}) //nolint:errcheck
	os.WriteFile(filepath.Join(folder, "manifest.json"), manifestBytes, 0o644)     //nolint:errcheck
	os.WriteFile(filepath.Join(folder, "payload.bin"), []byte("round trip"), 0o644) //nolint:errcheck

	var layerBuf bytes.Buffer
	if err := archive.Pack(folder, &layerBuf); err != nil {
		t.Fatalf("Pack() error = %v", err)
	}

	layerSum := sha256.Sum256(layerBuf.Bytes())
	layerDigest := "sha256:" + hex.EncodeToString(layerSum[:])

	manifestDoc := map[string]any{
		"mediaType": "application/vnd.oci.image.manifest.v1+json",
		"layers": []map[string]any{
			{"mediaType": "application/vnd.oci.image.layer.v1.tar+gzip", "digest": layerDigest, "size": layerBuf.Len()},
		},
	}
	registryManifestBytes, _ := json.Marshal(manifestDoc) //nolint:errcheck

	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"token":"t"}`)
	})
	mux.HandleFunc(fmt.Sprintf("/v2/org/repo/manifests/%s", shortID), func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPut {
			w.WriteHeader(http.StatusCreated)
			return
		}

		w.Write(registryManifestBytes) //nolint:errcheck
	})
	mux.HandleFunc(fmt.Sprintf("/v2/org/repo/blobs/%s", layerDigest), func(w http.ResponseWriter, r *http.Request) {
		w.Write(layerBuf.Bytes()) //nolint:errcheck
	})
	mux.HandleFunc("/v2/org/repo/blobs/uploads/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Location", "/v2/org/repo/blobs/uploads/done")
		w.WriteHeader(http.StatusAccepted)
	})
	mux.HandleFunc("/v2/org/repo/blobs/uploads/done", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	})

	srv := httptest.NewTLSServer(mux)
	t.Cleanup(srv.Close)

	host := strings.TrimPrefix(srv.URL, "https://")

	store := newTestStore(t)
	co := New(store, RegistryConfig{URL: host, Repo: "org/repo", User: "tester", Token: "secret"}, srv.Client())

	path, err := co.Pull(t.Context(), uri, testWriter())
	if err != nil {
		t.Fatalf("Pull() error = %v", err)
	}

	content, err := os.ReadFile(filepath.Join(path, "payload.bin"))
	if err != nil {
		t.Fatalf("read payload.bin: %v", err)
	}

	if string(content) != "round trip" {
		t.Fatalf("payload.bin content = %q", content)
	}

	if err := co.Push(t.Context(), uri, testWriter()); err != nil {
		t.Fatalf("Push() error = %v", err)
	}
}
