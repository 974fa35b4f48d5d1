package pathacl

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"sync"

	"github.com/oarkflow/pathacl/logger"
)

// ============================================================================
// RULE SOURCE
// ============================================================================

// RuleSource is a persistence backend for the raw JSON rule document.
// Implementations live in the stores package; Load must fail when no
// document has ever been written.
type RuleSource interface {
	Load(ctx context.Context) ([]byte, error)
	Save(ctx context.Context, data []byte) error
}

// ============================================================================
// RULE MANAGER
// ============================================================================

// RuleManager pairs a resolver with a rule source and keeps the two in
// step: every accepted update is persisted, and a persisted document that
// fails to load into the resolver is rolled back to the previous revision.
// Update and Refresh run concurrently in practice (the watcher invokes
// Refresh from its own goroutine), so mu serializes the save/reload commit
// sequence and guards raw.
type RuleManager struct {
	resolver     *Resolver
	resolverOpts []Option
	source       RuleSource
	logger       logger.Logger
	mu           sync.Mutex
	raw          []byte
}

// ManagerOption configures a RuleManager.
type ManagerOption func(*RuleManager)

// WithManagerLogger attaches a structured logger to the manager.
func WithManagerLogger(l logger.Logger) ManagerOption {
	return func(m *RuleManager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithResolverOptions forwards options to the resolver the manager builds.
func WithResolverOptions(opts ...Option) ManagerOption {
	return func(m *RuleManager) {
		m.resolverOpts = append(m.resolverOpts, opts...)
	}
}

// NewRuleManager loads the current document from the source and builds the
// resolver from it. A source with no document is fatal: the caller must
// seed one rather than silently start with deny-everything rules.
func NewRuleManager(ctx context.Context, source RuleSource, opts ...ManagerOption) (*RuleManager, error) {
	m := &RuleManager{source: source, logger: logger.NewNullLogger()}
	for _, opt := range opts {
		opt(m)
	}
	data, err := source.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMissingSource, err)
	}
	resolver, err := NewResolverJSON(data, m.resolverOpts...)
	if err != nil {
		return nil, err
	}
	m.resolver = resolver
	m.raw = data
	m.logger.Info("rule manager ready", "bytes", len(data))
	return m, nil
}

// Resolver returns the managed resolver.
func (m *RuleManager) Resolver() *Resolver { return m.resolver }

// Raw returns the last document the manager accepted.
func (m *RuleManager) Raw() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.raw
}

// Validate checks a candidate document without persisting or applying it.
func (m *RuleManager) Validate(data []byte) error {
	return ValidateRules(data)
}

// Update stages a new rule document: parse, persist, then load into the
// resolver. If the load is rejected after the document was persisted, the
// previous document is written back so source and resolver stay aligned.
func (m *RuleManager) Update(ctx context.Context, data []byte) error {
	if _, err := ParseRules(data); err != nil {
		m.logger.Error("update rejected", "stage", "parse", "error", err.Error())
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	previous := m.raw
	if err := m.source.Save(ctx, data); err != nil {
		m.logger.Error("update rejected", "stage", "save", "error", err.Error())
		return err
	}
	if err := m.resolver.ReloadJSON(data); err != nil {
		m.logger.Error("update rolled back", "stage", "reload", "error", err.Error())
		if previous != nil {
			if rbErr := m.source.Save(ctx, previous); rbErr != nil {
				m.logger.Error("rollback failed", "error", rbErr.Error())
				return fmt.Errorf("reload failed: %w; rollback failed: %w", err, rbErr)
			}
		}
		return err
	}
	m.raw = data
	m.logger.Info("rules updated", "bytes", len(data))
	return nil
}

// Refresh re-reads the source and reloads the resolver from it. Used when
// another writer may have changed the backing document.
func (m *RuleManager) Refresh(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, err := m.source.Load(ctx)
	if err != nil {
		m.logger.Error("refresh failed", "stage", "load", "error", err.Error())
		return err
	}
	if err := m.resolver.ReloadJSON(data); err != nil {
		m.logger.Error("refresh rejected", "stage", "reload", "error", err.Error())
		return err
	}
	m.raw = data
	m.logger.Info("rules refreshed", "bytes", len(data))
	return nil
}

// ApplySigned verifies a signed bundle and applies its document through the
// staged update path. Nothing changes when the signature does not verify.
func (m *RuleManager) ApplySigned(ctx context.Context, bundle *SignedRuleBundle, pub ed25519.PublicKey) error {
	if err := VerifyRules(bundle, pub); err != nil {
		m.logger.Error("signed bundle rejected", "error", err.Error())
		return err
	}
	return m.Update(ctx, bundle.Rules)
}
