package main

import (
	"fmt"
	"net/http"

	"github.com/rozetyp/ctxpack/internal/auth"
	"github.com/rozetyp/ctxpack/internal/cache"
	"github.com/rozetyp/ctxpack/internal/config"
	"github.com/rozetyp/ctxpack/internal/contract"
	clierrors "github.com/rozetyp/ctxpack/internal/errors"
	"github.com/rozetyp/ctxpack/internal/coordinator"
)

// newCoordinator loads config, opens the local cache store, and resolves
// registry credentials (env/keyring/config-file, via internal/auth, with
// cfg.Token() as a last-resort fallback for non-interactive environments
// that only set registry.token in the config file).
func newCoordinator() (*coordinator.Coordinator, error) {
	cfg := config.Load()

	store, err := cache.NewStore(cfg.CacheDir())
	if err != nil {
		return nil, fmt.Errorf("open cache store: %w", err)
	}

	_, token := auth.GetToken()
	if token == "" {
		token = cfg.Token()
	}

	reg := coordinator.RegistryConfig{
		URL:         cfg.RegistryURL(),
		Repo:        cfg.Repo(),
		User:        cfg.User(),
		Token:       token,
		HTTPTimeout: cfg.HTTPTimeout(),
	}

	// The client-wide timeout bounds the (potentially large) streamed
	// blob GET/PUT; the shorter, per-request CTXP_HTTP_TIMEOUT above
	// bounds the token exchange and manifest calls instead.
	httpClient := &http.Client{Timeout: cfg.DownloadTimeout()}

	return coordinator.New(store, reg, httpClient), nil
}

// loadContract loads and validates a contract file, wrapping parse
// failures in the CLIError shape the rest of the CLI expects.
func loadContract(path string) (map[string]contract.Value, error) {
	c, err := contract.Load(path)
	if err != nil {
		return nil, clierrors.ContractInvalid(path, err)
	}

	return c, nil
}
