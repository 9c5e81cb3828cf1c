package harness

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/toolbelt-ai/agent-toolbelt/toolbelt/config"
	"github.com/toolbelt-ai/agent-toolbelt/toolbelt/harness/adapters"
	ports "github.com/toolbelt-ai/agent-toolbelt/toolbelt/harness/ports"
	"github.com/toolbelt-ai/agent-toolbelt/toolbelt/sandbox"
	"github.com/toolbelt-ai/agent-toolbelt/toolbelt/tools/fstool"
	"github.com/toolbelt-ai/agent-toolbelt/toolbelt/tools/webtool"
)

// Factory creates and wires dispatch components from configuration. The
// configuration is read once here; nothing re-reads it after construction.
type Factory struct {
	cfg    *config.Config
	db     *sql.DB // Optional, for the audit journal
	logger zerolog.Logger
}

// NewFactory creates a new component factory.
func NewFactory(cfg *config.Config, db *sql.DB, logger zerolog.Logger) *Factory {
	return &Factory{
		cfg:    cfg,
		db:     db,
		logger: logger,
	}
}

// CreateDispatcher creates a fully wired Dispatcher with the built-in tools
// registered.
func (f *Factory) CreateDispatcher() (*Dispatcher, error) {
	registry, err := f.CreateRegistry()
	if err != nil {
		return nil, err
	}

	return NewDispatcher(
		registry,
		f.CreateGuardrails(),
		f.CreateDispatchPolicy(),
		f.createAuditStore(),
		f.createTracer(),
		f.logger,
	), nil
}

// CreateRegistry creates a registry holding the built-in tools.
func (f *Factory) CreateRegistry() (*Registry, error) {
	guard, err := sandbox.NewPathGuard(f.sandboxPolicy(), f.logger)
	if err != nil {
		return nil, fmt.Errorf("sandbox init failed: %w", err)
	}
	arena := sandbox.NewLockArena()

	registry := NewRegistry()
	if err := registry.Register(fstool.New(guard, arena, f.logger)); err != nil {
		return nil, err
	}

	web := webtool.New(f.searchPolicy(), f.createWebCache(), f.createRateLimiter(), f.logger)
	if err := registry.Register(web); err != nil {
		return nil, err
	}

	return registry, nil
}

// CreateGuardrails creates guardrails from config.
func (f *Factory) CreateGuardrails() *Guardrails {
	return NewGuardrails(f.cfg.Dispatcher.AllowedTools...)
}

// CreateDispatchPolicy creates a dispatch policy from config with validation.
func (f *Factory) CreateDispatchPolicy() *DispatchPolicy {
	policy := &DispatchPolicy{
		MaxConcurrent: f.cfg.Dispatcher.Concurrency,
		CallTimeout:   time.Duration(f.cfg.Dispatcher.CallTimeoutSeconds) * time.Second,
		RetryBackoff:  time.Duration(f.cfg.Dispatcher.RetryBackoffMs) * time.Millisecond,
	}
	if f.cfg.Dispatcher.RetryEnabled {
		policy.RetryCount = 1
	}

	if policy.MaxConcurrent < 1 {
		policy.MaxConcurrent = 1
		f.logger.Warn().Int("concurrency", f.cfg.Dispatcher.Concurrency).Msg("concurrency clamped to minimum of 1")
	}
	if policy.MaxConcurrent > 64 {
		policy.MaxConcurrent = 64
		f.logger.Warn().Int("concurrency", f.cfg.Dispatcher.Concurrency).Msg("concurrency clamped to maximum of 64")
	}
	if policy.CallTimeout <= 0 {
		policy.CallTimeout = 30 * time.Second
		f.logger.Warn().Int("call_timeout_seconds", f.cfg.Dispatcher.CallTimeoutSeconds).Msg("call timeout clamped to 30s")
	}
	if policy.RetryBackoff < 0 {
		policy.RetryBackoff = 0
	}

	return policy
}

// createWebCache creates the web content cache from config.
func (f *Factory) createWebCache() ports.Cache {
	if !f.cfg.Search.CacheEnabled {
		return &noOpCache{}
	}

	ttl := time.Duration(f.cfg.Search.CacheTTLSeconds) * time.Second
	return adapters.NewLRUCache(f.cfg.Search.CacheCapacity, ttl)
}

// createRateLimiter creates the outbound request limiter from config.
func (f *Factory) createRateLimiter() ports.RateLimiter {
	if !f.cfg.Search.RateLimitEnabled {
		return &noOpRateLimiter{}
	}

	refill := time.Duration(f.cfg.Search.RateLimitRefillSeconds) * time.Second
	return adapters.NewTokenBucket(f.cfg.Search.RateLimitCapacity, refill)
}

// createTracer creates the dispatch tracer.
func (f *Factory) createTracer() ports.Tracer {
	return adapters.NewZerologTracer(f.logger)
}

// createAuditStore creates the audit journal from config. With the journal
// disabled or no database handle available, recording is a no-op.
func (f *Factory) createAuditStore() ports.AuditStore {
	if !f.cfg.Audit.Enabled || f.db == nil {
		return &noOpAuditStore{}
	}

	store := adapters.NewLibSQLAuditStore(f.db)

	if days := f.cfg.Audit.RetainDays; days > 0 {
		cutoff := time.Now().AddDate(0, 0, -days)
		if n, err := store.DeleteOlderThan(context.Background(), cutoff); err != nil {
			f.logger.Warn().Err(err).Msg("audit retention sweep failed")
		} else if n > 0 {
			f.logger.Debug().Int64("pruned", n).Msg("audit retention sweep")
		}
	}

	return store
}

// sandboxPolicy maps sandbox configuration onto the sandbox package's view.
func (f *Factory) sandboxPolicy() sandbox.Policy {
	cfg := f.cfg.Sandbox
	return sandbox.Policy{
		AllowedRoots:      cfg.AllowedRoots,
		DeniedPatterns:    cfg.DeniedPatterns,
		DeniedExtensions:  cfg.DeniedExtensions,
		AllowedExtensions: cfg.AllowedExtensions,
		MaxFileSize:       cfg.MaxFileSize,
		MaxDepth:          cfg.MaxDepth,
		BackupDir:         cfg.BackupDir,
		IOTimeout:         time.Duration(cfg.IOTimeoutSeconds) * time.Second,
	}
}

// searchPolicy maps search configuration onto the web tool's view.
func (f *Factory) searchPolicy() webtool.SearchPolicy {
	cfg := f.cfg.Search
	return webtool.SearchPolicy{
		Engine:          cfg.Engine,
		APIKey:          cfg.APIKey,
		MaxResults:      cfg.MaxResults,
		MaxContentBytes: cfg.MaxContentBytes,
		Timeout:         time.Duration(cfg.TimeoutSeconds) * time.Second,
		AllowedDomains:  cfg.AllowedDomains,
		DeniedDomains:   cfg.DeniedDomains,
		UserAgent:       cfg.UserAgent,
		MaxRedirects:    cfg.MaxRedirects,
	}
}

// noOpCache implements Cache with no-op behavior for disabled caching.
type noOpCache struct{}

func (c *noOpCache) Get(ctx context.Context, key string) ([]byte, bool)      { return nil, false }
func (c *noOpCache) Set(ctx context.Context, key string, value []byte) error { return nil }
func (c *noOpCache) Delete(ctx context.Context, key string) error            { return nil }

// noOpRateLimiter implements RateLimiter with no-op behavior.
type noOpRateLimiter struct{}

func (r *noOpRateLimiter) Acquire(ctx context.Context, key string) (release func(), err error) {
	return func() {}, nil
}

// noOpAuditStore implements AuditStore with no-op behavior.
type noOpAuditStore struct{}

func (s *noOpAuditStore) Record(ctx context.Context, entry ports.AuditEntry) error {
	return nil
}

func (s *noOpAuditStore) Recent(ctx context.Context, limit int) ([]ports.AuditEntry, error) {
	return nil, nil
}

// Ensure all no-op types implement their interfaces.
var (
	_ ports.Cache       = (*noOpCache)(nil)
	_ ports.RateLimiter = (*noOpRateLimiter)(nil)
	_ ports.AuditStore  = (*noOpAuditStore)(nil)
)
