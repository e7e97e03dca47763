package device

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"licensecli/internal/infrastructure"
)

// ErrNoFactors is returned when the probe yields nothing to hash.
var ErrNoFactors = errors.New("device probe returned no factors")

// Cache persists the fingerprint outside the process so it survives
// restarts even if a hardware factor drifts.
type Cache interface {
	CachedFingerprint(ctx context.Context) (string, bool)
	CacheFingerprint(ctx context.Context, fingerprint string) error
}

// Identity computes and caches the device fingerprint.
type Identity struct {
	probe  Probe
	cache  Cache
	logger *slog.Logger

	mu   sync.Mutex
	memo string
}

// NewIdentity wires an Identity. cache may be nil.
func NewIdentity(probe Probe, cache Cache, logger *slog.Logger) *Identity {
	if probe == nil {
		probe = SystemProbe{}
	}
	return &Identity{
		probe:  probe,
		cache:  cache,
		logger: infrastructure.WithComponent(logger, "device_identity"),
	}
}

// Fingerprint returns the stable fingerprint, preferring the in-process
// memo, then the persistent cache, then a fresh probe.
func (i *Identity) Fingerprint(ctx context.Context) (string, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.memo != "" {
		return i.memo, nil
	}

	if i.cache != nil {
		if cached, ok := i.cache.CachedFingerprint(ctx); ok {
			if Classify(cached) != Invalid {
				i.memo = cached
				return cached, nil
			}
			i.logger.WarnContext(ctx, "Ignoring malformed cached fingerprint",
				slog.Int("length", len(cached)))
		}
	}

	start := time.Now()
	factors := i.probe.Factors(ctx)
	if len(factors) == 0 {
		return "", ErrNoFactors
	}
	fingerprint := Hash(factors)

	if i.cache != nil {
		if err := i.cache.CacheFingerprint(ctx, fingerprint); err != nil {
			i.logger.WarnContext(ctx, "Failed to cache fingerprint", slog.String("error", err.Error()))
		}
	}
	i.memo = fingerprint

	i.logger.InfoContext(ctx, "Device fingerprint generated",
		slog.String("fingerprint_prefix", fingerprint[:8]),
		slog.Int("factor_count", len(factors)),
		slog.Duration("generation_time", time.Since(start)),
	)
	return fingerprint, nil
}

// ClearCache drops the in-process memo. The persistent cache is owned by
// the caller.
func (i *Identity) ClearCache() {
	i.mu.Lock()
	i.memo = ""
	i.mu.Unlock()
}
