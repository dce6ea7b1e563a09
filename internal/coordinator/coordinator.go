// Package coordinator wires the Hasher, Input Digester, Identity
// Engine, Tar Packer/Unpacker, Local Cache Store, and Registry Client
// into the five operations ctxpack exposes to its command layer:
// get_uri, seed, pull, push, and inspect.
package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/rozetyp/ctxpack/internal/cache"
	"github.com/rozetyp/ctxpack/internal/contract"
	"github.com/rozetyp/ctxpack/internal/digest"
	clierrors "github.com/rozetyp/ctxpack/internal/errors"
	"github.com/rozetyp/ctxpack/internal/identity"
	"github.com/rozetyp/ctxpack/internal/observability"
	"github.com/rozetyp/ctxpack/internal/output"
	"github.com/rozetyp/ctxpack/internal/registry"
)

// RegistryConfig carries the settings needed to build a registry.Client
// lazily, only when an operation actually needs the network.
type RegistryConfig struct {
	URL   string
	Repo  string
	User  string
	Token string

	// HTTPTimeout bounds each token-exchange/manifest request. The
	// streaming blob GET/PUT is governed by HTTPClient.Timeout instead.
	HTTPTimeout time.Duration
}

// Coordinator composes the cache-facing and registry-facing operations
// into the five verbs the CLI layer calls.
type Coordinator struct {
	Store      *cache.Store
	Registry   RegistryConfig
	HTTPClient *http.Client
}

// New builds a Coordinator backed by store, with registry settings
// supplied lazily — Pull/Push validate them only when actually invoked,
// matching the original tool's behavior of working offline as long as
// every artifact is already cached (invariant: no network I/O on a
// cache hit).
func New(store *cache.Store, reg RegistryConfig, httpClient *http.Client) *Coordinator {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	return &Coordinator{Store: store, Registry: reg, HTTPClient: httpClient}
}

// GetURI computes the content-addressed URI of a contract without
// touching the cache or the network.
func (co *Coordinator) GetURI(ctx context.Context, c map[string]contract.Value) (string, error) {
	logger := observability.FromContext(ctx).With(slog.String("component", "coordinator"))

	uri, err := identity.DeriveURI(c, digest.DigestDir)
	if err != nil {
		logger.Error("identity derivation failed", slog.String("event.type", "identity.derive.error"), slog.String("error", err.Error()))
		return "", fmt.Errorf("derive identity: %w", err)
	}

	logger.Info("identity derived", slog.String("event.type", "identity.derive.ok"), slog.String("ctxpack.uri", uri))

	return uri, nil
}

// Seed installs a locally-produced folder into the cache under its
// derived URI.
func (co *Coordinator) Seed(ctx context.Context, folder string, c map[string]contract.Value, user string, out *output.Writer) (string, error) {
	logger := observability.FromContext(ctx).With(slog.String("component", "coordinator"))

	spin := out.Spinner("Computing identity")
	spin.Start()

	uri, err := co.Store.InstallFromFolder(folder, c, user, digest.DigestDir)
	if err != nil {
		spin.StopWithFailure("Seed failed")
		logger.Error("seed failed", slog.String("event.type", "cache.seed.error"), slog.String("error", err.Error()))

		return "", err
	}

	spin.StopWithSuccess(fmt.Sprintf("Seeded %s", uri))
	logger.Info("seed completed", slog.String("event.type", "cache.seed.ok"), slog.String("ctxpack.uri", uri))

	return uri, nil
}

// Pull returns the cached folder for uri, downloading it from the
// registry first if it is not already cached. A cache hit performs no
// network I/O.
func (co *Coordinator) Pull(ctx context.Context, uri string, out *output.Writer) (string, error) {
	logger := observability.FromContext(ctx).With(slog.String("component", "coordinator"), slog.String("ctxpack.uri", uri))

	if path, ok, err := co.Store.Lookup(uri); err != nil {
		return "", err
	} else if ok {
		out.Success("Using cached artifact")
		logger.Info("cache hit", slog.String("event.type", "cache.hit"), slog.Bool("ctxpack.cache_hit", true))

		return path, nil
	}

	logger.Info("cache miss", slog.String("event.type", "cache.miss"), slog.Bool("ctxpack.cache_hit", false))

	client, err := co.registryClient()
	if err != nil {
		return "", err
	}

	spin := out.Spinner("Pulling from registry")
	spin.Start()

	logger.Info("registry pull starting", slog.String("event.type", "registry.pull.start"))

	scratch, err := client.Pull(ctx, co.Store, uri)
	if err != nil {
		spin.StopWithFailure("Pull failed")
		logger.Error("registry pull failed", slog.String("event.type", "registry.pull.error"), slog.String("error", err.Error()))

		return "", err
	}

	if err := co.Store.InstallFromScratch(scratch, uri); err != nil {
		os.RemoveAll(scratch)
		spin.StopWithFailure("Install failed")
		logger.Error("cache install failed", slog.String("event.type", "cache.install.error"), slog.String("error", err.Error()))

		return "", err
	}

	path, _, err := co.Store.Lookup(uri)
	if err != nil {
		return "", err
	}

	spin.StopWithSuccess("Pulled from registry")
	logger.Info("registry pull completed", slog.String("event.type", "registry.pull.ok"))

	return path, nil
}

// Push uploads the cache entry for uri to the registry.
func (co *Coordinator) Push(ctx context.Context, uri string, out *output.Writer) error {
	logger := observability.FromContext(ctx).With(slog.String("component", "coordinator"), slog.String("ctxpack.uri", uri))

	if _, ok, err := co.Store.Lookup(uri); err != nil {
		return err
	} else if !ok {
		return clierrors.PackError(fmt.Sprintf("%s is not in the local cache; seed or pull it first", uri), nil)
	}

	client, err := co.registryClient()
	if err != nil {
		return err
	}

	spin := out.Spinner("Pushing to registry")
	spin.Start()

	logger.Info("registry push starting", slog.String("event.type", "registry.push.start"))

	if err := client.Push(ctx, co.Store, uri); err != nil {
		spin.StopWithFailure("Push failed")
		logger.Error("registry push failed", slog.String("event.type", "registry.push.error"), slog.String("error", err.Error()))

		return err
	}

	spin.StopWithSuccess("Pushed to registry")
	logger.Info("registry push completed", slog.String("event.type", "registry.push.ok"))

	return nil
}

// Inspect returns the manifest of a cached entry. A miss is reported to
// the caller as ok=false rather than as an error, matching the original
// tool's non-fatal "not cached" reporting for this read-only operation.
func (co *Coordinator) Inspect(uri string) (manifest *cache.Manifest, ok bool, err error) {
	_, ok, err = co.Store.Lookup(uri)
	if err != nil {
		return nil, false, err
	}

	if !ok {
		return nil, false, nil
	}

	manifest, err = co.Store.ReadManifest(uri)
	if err != nil {
		return nil, false, err
	}

	return manifest, true, nil
}

func (co *Coordinator) registryClient() (*registry.Client, error) {
	if co.Registry.Repo == "" {
		return nil, clierrors.RegistryConfigMissing("CTXP_REPO")
	}

	if co.Registry.Token == "" {
		return nil, clierrors.RegistryConfigMissing("CTXP_TOKEN")
	}

	return registry.NewClient(co.HTTPClient, co.Registry.URL, co.Registry.Repo, co.Registry.User, co.Registry.Token, co.Registry.HTTPTimeout)
}
