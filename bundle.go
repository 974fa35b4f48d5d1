package pathacl

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/oarkflow/pathacl/logger"
)

// ============================================================================
// SIGNED RULE BUNDLES
// ============================================================================

// SignedRuleBundle carries a rule document together with an ed25519
// signature over its SHA-256 checksum, so rules can cross trust boundaries.
type SignedRuleBundle struct {
	Rules     []byte         `json:"rules"`
	Checksum  string         `json:"checksum"`
	Signature string         `json:"signature"`
	Meta      map[string]any `json:"meta,omitempty"`
}

func rulesChecksum(data []byte) string {
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}

// SignRules signs a rule document with priv. The document must parse; a
// bundle over garbage would verify and then fail at every consumer.
func SignRules(priv ed25519.PrivateKey, rules []byte) (*SignedRuleBundle, error) {
	if _, err := ParseRules(rules); err != nil {
		return nil, err
	}
	sum := rulesChecksum(rules)
	sig := ed25519.Sign(priv, []byte(sum))
	return &SignedRuleBundle{
		Rules:     append([]byte(nil), rules...),
		Checksum:  sum,
		Signature: base64.StdEncoding.EncodeToString(sig),
	}, nil
}

// VerifyRules checks the bundle's checksum and signature against pub.
func VerifyRules(bundle *SignedRuleBundle, pub ed25519.PublicKey) error {
	if bundle == nil || len(bundle.Rules) == 0 {
		return fmt.Errorf("%w: empty bundle", ErrBadSignature)
	}
	if len(pub) != ed25519.PublicKeySize {
		return fmt.Errorf("%w: public key must be %d bytes", ErrBadSignature, ed25519.PublicKeySize)
	}
	sum := rulesChecksum(bundle.Rules)
	if subtle.ConstantTimeCompare([]byte(sum), []byte(bundle.Checksum)) != 1 {
		return fmt.Errorf("%w: checksum mismatch", ErrBadSignature)
	}
	sig, err := base64.StdEncoding.DecodeString(bundle.Signature)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrBadSignature, err)
	}
	if !ed25519.Verify(pub, []byte(sum), sig) {
		return fmt.Errorf("%w: signature does not verify", ErrBadSignature)
	}
	return nil
}

// ============================================================================
// BUNDLE DISTRIBUTION
// ============================================================================

// BundleSubscriber receives freshly signed rule bundles.
type BundleSubscriber interface {
	OnBundle(ctx context.Context, pub ed25519.PublicKey, bundle *SignedRuleBundle) error
}

// BundleSubscriberFunc adapts a function to the BundleSubscriber interface.
type BundleSubscriberFunc func(ctx context.Context, pub ed25519.PublicKey, bundle *SignedRuleBundle) error

func (f BundleSubscriberFunc) OnBundle(ctx context.Context, pub ed25519.PublicKey, bundle *SignedRuleBundle) error {
	return f(ctx, pub, bundle)
}

// RuleBundleDistributor signs the current rule document from a source and
// fans it out to subscribers on demand. The signing key rotates on a timer.
type RuleBundleDistributor struct {
	source           RuleSource
	pub              ed25519.PublicKey
	priv             ed25519.PrivateKey
	rotationInterval time.Duration
	notifyCh         chan struct{}
	stopCh           chan struct{}
	subscribers      []BundleSubscriber
	logger           logger.Logger
	mu               sync.RWMutex
	started          bool
	wg               sync.WaitGroup
}

type RuleBundleDistributorOption func(*RuleBundleDistributor)

// WithBundleSigningKey pins the signing key instead of generating one.
func WithBundleSigningKey(priv ed25519.PrivateKey) RuleBundleDistributorOption {
	return func(d *RuleBundleDistributor) {
		if priv != nil && len(priv) == ed25519.PrivateKeySize {
			d.priv = append(ed25519.PrivateKey{}, priv...)
			d.pub = priv.Public().(ed25519.PublicKey)
		}
	}
}

// WithBundleRotationInterval overrides the signing key rotation period.
func WithBundleRotationInterval(interval time.Duration) RuleBundleDistributorOption {
	return func(d *RuleBundleDistributor) {
		if interval > 0 {
			d.rotationInterval = interval
		}
	}
}

// WithBundleLogger attaches a structured logger to the distributor.
func WithBundleLogger(l logger.Logger) RuleBundleDistributorOption {
	return func(d *RuleBundleDistributor) {
		if l != nil {
			d.logger = l
		}
	}
}

func NewRuleBundleDistributor(source RuleSource, opts ...RuleBundleDistributorOption) (*RuleBundleDistributor, error) {
	if source == nil {
		return nil, fmt.Errorf("rule source is required")
	}
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate signing key: %w", err)
	}
	dist := &RuleBundleDistributor{
		source:           source,
		priv:             priv,
		pub:              pub,
		rotationInterval: 24 * time.Hour,
		notifyCh:         make(chan struct{}, 1),
		stopCh:           make(chan struct{}),
		logger:           logger.NewNullLogger(),
	}
	for _, opt := range opts {
		opt(dist)
	}
	return dist, nil
}

func (d *RuleBundleDistributor) Start(ctx context.Context) {
	d.mu.Lock()
	if d.started {
		d.mu.Unlock()
		return
	}
	d.started = true
	d.mu.Unlock()

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ticker := time.NewTicker(d.rotationInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-d.stopCh:
				return
			case <-d.notifyCh:
				if err := d.distribute(ctx); err != nil {
					d.logger.Error("bundle distribution failed", "error", err.Error())
				}
			case <-ticker.C:
				if err := d.RotateSigningKey(); err != nil {
					d.logger.Error("bundle key rotation failed", "error", err.Error())
				}
			}
		}
	}()
}

func (d *RuleBundleDistributor) Stop(ctx context.Context) error {
	d.mu.Lock()
	if !d.started {
		d.mu.Unlock()
		return nil
	}
	d.started = false
	d.mu.Unlock()

	close(d.stopCh)
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

// NotifyRuleChange queues a distribution of the source's current document.
// Pending notifications coalesce; the bundle always carries the latest
// document at distribution time.
func (d *RuleBundleDistributor) NotifyRuleChange() {
	select {
	case d.notifyCh <- struct{}{}:
	default:
	}
}

func (d *RuleBundleDistributor) RegisterSubscriber(sub BundleSubscriber) {
	if sub == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.subscribers = append(d.subscribers, sub)
}

func (d *RuleBundleDistributor) RotateSigningKey() error {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return err
	}
	d.mu.Lock()
	d.priv = priv
	d.pub = pub
	d.mu.Unlock()
	return nil
}

func (d *RuleBundleDistributor) CurrentPublicKey() ed25519.PublicKey {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append(ed25519.PublicKey(nil), d.pub...)
}

// keyPair snapshots both halves under one lock so a concurrent rotation
// cannot pair a signature with the wrong public key.
func (d *RuleBundleDistributor) keyPair() (ed25519.PrivateKey, ed25519.PublicKey) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	priv := append(ed25519.PrivateKey(nil), d.priv...)
	pub := append(ed25519.PublicKey(nil), d.pub...)
	return priv, pub
}

func (d *RuleBundleDistributor) distribute(ctx context.Context) error {
	data, err := d.source.Load(ctx)
	if err != nil {
		return err
	}
	priv, pub := d.keyPair()
	bundle, err := SignRules(priv, data)
	if err != nil {
		return err
	}
	if bundle.Meta == nil {
		bundle.Meta = map[string]any{}
	}
	bundle.Meta["generated_at"] = time.Now().UTC().Format(time.RFC3339Nano)
	bundle.Meta["signing_key"] = base64.StdEncoding.EncodeToString(pub)

	for _, sub := range d.collectSubscribers() {
		if err := sub.OnBundle(ctx, pub, bundle); err != nil {
			d.logger.Error("bundle subscriber error", "error", err.Error())
		}
	}
	return nil
}

func (d *RuleBundleDistributor) collectSubscribers() []BundleSubscriber {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]BundleSubscriber(nil), d.subscribers...)
}
