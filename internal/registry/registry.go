// Package registry implements the subset of the OCI Distribution v2
// protocol ctxpack needs: Basic→Bearer token exchange, manifest
// get/put, and streamed, digest-verified blob upload/download.
//
// The wire protocol is hand-rolled over net/http rather than delegated
// to google/go-containerregistry's remote package — see DESIGN.md for
// why. google/go-containerregistry is still used narrowly, for
// reference-string validation (pkg/name) and OCI media-type constants
// (pkg/v1/types).
package registry

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/go-containerregistry/pkg/name"
	"github.com/google/go-containerregistry/pkg/v1/types"

	"github.com/rozetyp/ctxpack/internal/archive"
	"github.com/rozetyp/ctxpack/internal/cache"
	"github.com/rozetyp/ctxpack/internal/digest"
	clierrors "github.com/rozetyp/ctxpack/internal/errors"
	"github.com/rozetyp/ctxpack/internal/identity"
)

// Scope values accepted by the token exchange.
const (
	ScopePull      = "pull"
	ScopePullPush  = "pull,push"
	pullAcceptList = "application/vnd.oci.image.index.v1+json, " +
		"application/vnd.oci.image.manifest.v1+json, " +
		"application/vnd.docker.distribution.manifest.list.v2+json, " +
		"application/vnd.docker.distribution.manifest.v2+json"
)

// Client talks to a single OCI registry/repository pair.
type Client struct {
	httpClient  *http.Client
	registry    string
	repo        string
	user        string
	token       string
	httpTimeout time.Duration
}

// NewClient validates the registry+repo pair as an OCI repository
// reference and returns a Client bound to it. httpTimeout, when
// positive, bounds each individual token-exchange and manifest
// request; it is distinct from httpClient's own Timeout, which bounds
// the (potentially large) streamed blob GET/PUT instead.
func NewClient(httpClient *http.Client, registryURL, repo, user, token string, httpTimeout time.Duration) (*Client, error) {
	if _, err := name.NewRepository(registryURL + "/" + repo); err != nil {
		return nil, fmt.Errorf("invalid repository reference %s/%s: %w", registryURL, repo, err)
	}

	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	return &Client{
		httpClient:  httpClient,
		registry:    registryURL,
		repo:        repo,
		user:        user,
		token:       token,
		httpTimeout: httpTimeout,
	}, nil
}

// withRequestTimeout bounds ctx by c.httpTimeout, when set. Used for
// the short token-exchange and manifest calls, never for the
// streaming blob transfer, which relies on httpClient.Timeout instead.
func (c *Client) withRequestTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.httpTimeout <= 0 {
		return ctx, func() {}
	}

	return context.WithTimeout(ctx, c.httpTimeout)
}

// bearerToken exchanges the client's Basic credentials for a scoped
// bearer token (spec.md §4.5).
func (c *Client) bearerToken(ctx context.Context, scope string) (string, error) {
	ctx, cancel := c.withRequestTimeout(ctx)
	defer cancel()

	creds := base64.StdEncoding.EncodeToString([]byte(c.user + ":" + c.token))

	tokenURL := fmt.Sprintf(
		"https://%s/token?service=%s&scope=repository:%s:%s",
		c.registry, c.registry, c.repo, scope,
	)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, tokenURL, nil)
	if err != nil {
		return "", fmt.Errorf("build token request: %w", err)
	}

	req.Header.Set("Authorization", "Basic "+creds)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("token exchange: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return "", clierrors.AuthFailed(resp.StatusCode, string(body))
	}

	var parsed struct {
		Token string `json:"token"`
	}

	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("parse token response: %w", err)
	}

	return parsed.Token, nil
}

type manifestDoc struct {
	MediaType string `json:"mediaType"`
	Manifests []struct {
		Digest string `json:"digest"`
	} `json:"manifests"`
	Layers []struct {
		Digest string `json:"digest"`
	} `json:"layers"`
}

// Pull fetches uri's manifest and layers, verifies every digest along
// the way, and extracts the artifact into a fresh scratch directory
// under store. It returns the scratch directory path; Pull removes the
// scratch directory itself on its own error paths, and the caller
// (internal/coordinator) is responsible for installing it atomically
// and for removing it if that install fails.
func (c *Client) Pull(ctx context.Context, store *cache.Store, uri string) (scratchDir string, err error) {
	fullHex, err := identity.ParseURI(uri)
	if err != nil {
		return "", err
	}

	shortID := fullHex[:identity.ShortIDLength]

	scratch, err := store.ScratchDir("tmp_extract", fullHex)
	if err != nil {
		return "", err
	}

	defer func() {
		if err != nil {
			os.RemoveAll(scratch)
		}
	}()

	token, err := c.bearerToken(ctx, ScopePull)
	if err != nil {
		return "", err
	}

	manifest, err := c.fetchManifest(ctx, token, shortID)
	if err != nil {
		return "", err
	}

	if isIndexMediaType(manifest.MediaType) {
		if len(manifest.Manifests) == 0 {
			return "", clierrors.PackError("manifest index contains no child manifests", nil)
		}

		// Open question (spec.md §9): multi-architecture indexes are
		// resolved by picking the first child unconditionally. Correct
		// for single-platform artifacts only.
		manifest, err = c.fetchManifest(ctx, token, manifest.Manifests[0].Digest)
		if err != nil {
			return "", err
		}
	}

	for _, layer := range manifest.Layers {
		if err := c.fetchAndExtractLayer(ctx, token, store, layer.Digest, scratch); err != nil {
			return "", err
		}
	}

	if err := validateScratchManifest(scratch, uri); err != nil {
		return "", err
	}

	return scratch, nil
}

func isIndexMediaType(mediaType string) bool {
	return mediaType == string(types.OCIImageIndex) || mediaType == string(types.DockerManifestList)
}

// fetchManifest GETs a manifest by short id or digest and verifies its
// integrity against the Docker-Content-Digest header, when present.
func (c *Client) fetchManifest(ctx context.Context, token, ref string) (*manifestDoc, error) {
	ctx, cancel := c.withRequestTimeout(ctx)
	defer cancel()

	manifestURL := fmt.Sprintf("https://%s/v2/%s/manifests/%s", c.registry, c.repo, ref)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, manifestURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build manifest request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", pullAcceptList)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch manifest %s: %w", ref, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read manifest body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, clierrors.ManifestNotFound(ref, resp.StatusCode, string(body))
	}

	actualDigest := "sha256:" + digest.HashBytes(body)
	if expected := resp.Header.Get("Docker-Content-Digest"); expected != "" && expected != actualDigest {
		return nil, clierrors.DigestMismatch("manifest", actualDigest, expected)
	}

	var manifest manifestDoc
	if err := json.Unmarshal(body, &manifest); err != nil {
		return nil, fmt.Errorf("parse manifest %s: %w", ref, err)
	}

	return &manifest, nil
}

// fetchAndExtractLayer downloads a single layer blob, verifies its
// digest against what the manifest advertised, screens and extracts it
// into dest, and removes the temporary tarball.
func (c *Client) fetchAndExtractLayer(ctx context.Context, token string, store *cache.Store, layerDigest, dest string) error {
	blobURL := fmt.Sprintf("https://%s/v2/%s/blobs/%s", c.registry, c.repo, layerDigest)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, blobURL, nil)
	if err != nil {
		return fmt.Errorf("build blob request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("fetch layer %s: %w", layerDigest, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return clierrors.PackError(fmt.Sprintf("layer fetch for %s failed with status %d", layerDigest, resp.StatusCode), fmt.Errorf("%s", body))
	}

	tarPath := filepath.Join(store.Root(), tempTarballName(layerDigest))

	tarFile, err := os.Create(tarPath) //nolint:gosec // G304: name derived from a digest under the cache root
	if err != nil {
		return fmt.Errorf("create temp tarball: %w", err)
	}

	hasher := digest.NewHasher()
	writer := io.MultiWriter(tarFile, hasher)

	_, copyErr := io.Copy(writer, resp.Body)

	closeErr := tarFile.Close()

	if copyErr != nil {
		os.Remove(tarPath)
		return fmt.Errorf("download layer %s: %w", layerDigest, copyErr)
	}

	if closeErr != nil {
		os.Remove(tarPath)
		return fmt.Errorf("close temp tarball: %w", closeErr)
	}

	defer os.Remove(tarPath)

	if got := "sha256:" + hasher.Sum(); got != layerDigest {
		return clierrors.DigestMismatch("layer", got, layerDigest)
	}

	tarFile, err = os.Open(tarPath) //nolint:gosec // G304: name derived from a digest under the cache root
	if err != nil {
		return fmt.Errorf("reopen temp tarball: %w", err)
	}
	defer tarFile.Close()

	if err := archive.Unpack(tarFile, dest); err != nil {
		return err
	}

	return nil
}

func tempTarballName(layerDigest string) string {
	short := strings.ReplaceAll(layerDigest, ":", "_")
	if len(short) > 12 {
		short = short[:12]
	}

	return fmt.Sprintf("tmp_%s.tar.gz", short)
}

func validateScratchManifest(scratchDir, uri string) error {
	manifestPath := filepath.Join(scratchDir, "manifest.json")

	data, err := os.ReadFile(manifestPath) //nolint:gosec // G304: scratchDir is a cache-root-relative directory we created
	if err != nil {
		return clierrors.PackError("downloaded pack missing internal manifest.json", err)
	}

	var inner struct {
		URI string `json:"uri"`
	}

	if err := json.Unmarshal(data, &inner); err != nil {
		return clierrors.PackError("downloaded pack manifest.json is not valid JSON", err)
	}

	if inner.URI != uri {
		return clierrors.PackError(fmt.Sprintf("identity mismatch! expected %s, got %s", uri, inner.URI), nil)
	}

	return nil
}

// Push packs the cache entry at uri and uploads it as a single-layer
// OCI image: a blob upload for the artifact tarball, a minimal empty
// config blob, and a manifest PUT.
func (c *Client) Push(ctx context.Context, store *cache.Store, uri string) error {
	fullHex, err := identity.ParseURI(uri)
	if err != nil {
		return err
	}

	shortID := fullHex[:identity.ShortIDLength]
	entryPath := store.EntryPath(fullHex)

	var blobBuf bytes.Buffer
	if err := archive.Pack(entryPath, &blobBuf); err != nil {
		return fmt.Errorf("pack %s: %w", entryPath, err)
	}

	blobData := blobBuf.Bytes()
	blobDigest := "sha256:" + digest.HashBytes(blobData)

	token, err := c.bearerToken(ctx, ScopePullPush)
	if err != nil {
		return err
	}

	if err := c.uploadBlob(ctx, token, blobData, blobDigest); err != nil {
		return fmt.Errorf("upload artifact blob: %w", err)
	}

	configData := []byte("{}")
	configDigest := "sha256:" + digest.HashBytes(configData)

	if err := c.uploadBlob(ctx, token, configData, configDigest); err != nil {
		return fmt.Errorf("upload config blob: %w", err)
	}

	manifest := map[string]any{
		"schemaVersion": 2,
		"mediaType":     string(types.OCIManifestSchema1),
		"config": map[string]any{
			"mediaType": string(types.OCIConfigJSON),
			"size":      len(configData),
			"digest":    configDigest,
		},
		"layers": []map[string]any{
			{
				"mediaType": string(types.OCILayer),
				"size":      len(blobData),
				"digest":    blobDigest,
			},
		},
	}

	manifestBytes, err := json.Marshal(manifest)
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}

	manifestURL := fmt.Sprintf("https://%s/v2/%s/manifests/%s", c.registry, c.repo, shortID)

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, manifestURL, bytes.NewReader(manifestBytes))
	if err != nil {
		return fmt.Errorf("build manifest PUT: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", string(types.OCIManifestSchema1))
	req.Header.Set("Accept", string(types.OCIManifestSchema1))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("put manifest: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(resp.Body)
		return clierrors.PackError(fmt.Sprintf("manifest push failed with status %d", resp.StatusCode), fmt.Errorf("%s", body))
	}

	return nil
}

// uploadBlob runs the two-step OCI blob upload: initiate (POST), then
// monolithic PUT to the Location the registry returned. Location may be
// absolute or relative and may already carry a query string.
func (c *Client) uploadBlob(ctx context.Context, token string, data []byte, digest string) error {
	initURL := fmt.Sprintf("https://%s/v2/%s/blobs/uploads/", c.registry, c.repo)

	initReq, err := http.NewRequestWithContext(ctx, http.MethodPost, initURL, nil)
	if err != nil {
		return fmt.Errorf("build upload init request: %w", err)
	}

	initReq.Header.Set("Authorization", "Bearer "+token)
	initReq.Header.Set("Accept", string(types.OCIManifestSchema1))

	initResp, err := c.httpClient.Do(initReq)
	if err != nil {
		return fmt.Errorf("initiate blob upload: %w", err)
	}
	initResp.Body.Close()

	location := initResp.Header.Get("Location")
	if location == "" {
		return clierrors.PackError("registry did not return an upload Location", nil)
	}

	uploadURL, err := resolveUploadURL(c.registry, location, digest)
	if err != nil {
		return err
	}

	putReq, err := http.NewRequestWithContext(ctx, http.MethodPut, uploadURL, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("build upload PUT: %w", err)
	}

	putReq.Header.Set("Authorization", "Bearer "+token)
	putReq.Header.Set("Accept", string(types.OCIManifestSchema1))
	putReq.ContentLength = int64(len(data))

	putResp, err := c.httpClient.Do(putReq)
	if err != nil {
		return fmt.Errorf("upload blob: %w", err)
	}
	defer putResp.Body.Close()

	if putResp.StatusCode != http.StatusCreated && putResp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(putResp.Body)
		return clierrors.PackError(fmt.Sprintf("blob upload failed with status %d", putResp.StatusCode), fmt.Errorf("%s", body))
	}

	return nil
}

// resolveUploadURL turns a (possibly relative) Location header into an
// absolute URL with the digest query parameter appended, preserving any
// query string the registry already attached.
func resolveUploadURL(registryHost, location, digest string) (string, error) {
	absolute := location
	if !strings.HasPrefix(location, "http://") && !strings.HasPrefix(location, "https://") {
		if strings.HasPrefix(location, "/") {
			absolute = fmt.Sprintf("https://%s%s", registryHost, location)
		} else {
			absolute = fmt.Sprintf("https://%s/%s", registryHost, location)
		}
	}

	parsed, err := url.Parse(absolute)
	if err != nil {
		return "", fmt.Errorf("parse upload location %q: %w", location, err)
	}

	query := parsed.Query()
	query.Set("digest", digest)
	parsed.RawQuery = query.Encode()

	return parsed.String(), nil
}
