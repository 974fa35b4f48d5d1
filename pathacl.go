package pathacl

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oarkflow/pathacl/logger"
	"github.com/oarkflow/pathacl/utils"
)

// ============================================================================
// DOMAIN OBJECTS
// ============================================================================

// Identity represents who is requesting access
type Identity struct {
	Email string `json:"email"`
}

// Rules is the raw rule document: path prefixes mapped to the ordered list
// of identity patterns granted access at that prefix. "/" denotes the root.
// Serialized form: {"<path>": ["<identity-or-glob>", ...], ...}
type Rules map[string][]string

// Decision represents the outcome of an authorization query
type Decision struct {
	Allowed        bool      `json:"allowed"`
	Email          string    `json:"email"`
	Path           string    `json:"path"`
	MatchedPrefix  string    `json:"matched_prefix,omitempty"`
	MatchedPattern string    `json:"matched_pattern,omitempty"`
	FromCache      bool      `json:"from_cache"`
	TraceID        string    `json:"trace_id,omitempty"`
	Trace          []string  `json:"trace,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// ParseRules decodes a JSON rule document.
func ParseRules(data []byte) (Rules, error) {
	var rules Rules
	if err := json.Unmarshal(data, &rules); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedRules, err)
	}
	return rules, nil
}

// ValidateRules checks that a rule document parses and builds, without
// touching any resolver state.
func ValidateRules(data []byte) error {
	rules, err := ParseRules(data)
	if err != nil {
		return err
	}
	_, err = newRuleTable(rules)
	return err
}

// ============================================================================
// RULE TABLE
// ============================================================================

// ruleTable holds the declared rules of one generation, partitioned per
// prefix into exact identities and wildcard patterns. Wildcard patterns keep
// their input order. Prefixes with no patterns leave no entries: absence
// means "no opinion" and the scan falls through to the next level.
type ruleTable struct {
	exact map[string]map[string]bool
	wild  map[string][]string
}

func newRuleTable(rules Rules) (*ruleTable, error) {
	t := &ruleTable{
		exact: make(map[string]map[string]bool, len(rules)),
		wild:  make(map[string][]string),
	}
	for key, patterns := range rules {
		prefix, err := prefixForKey(key)
		if err != nil {
			return nil, err
		}
		for _, pattern := range patterns {
			if strings.Contains(pattern, "*") {
				t.wild[prefix] = append(t.wild[prefix], pattern)
				continue
			}
			level := t.exact[prefix]
			if level == nil {
				level = make(map[string]bool)
				t.exact[prefix] = level
			}
			level[pattern] = true
		}
	}
	return t, nil
}

// prefixForKey normalizes a rule key to its internal prefix form. "/" maps
// to the root prefix. Any other key is used exactly as it splits on "/", so
// the key string itself already is the joined segment form.
func prefixForKey(key string) (string, error) {
	if key == "/" {
		return "", nil
	}
	if key == "" {
		return "", fmt.Errorf("%w: empty path key", ErrMalformedRules)
	}
	return key, nil
}

func (t *ruleTable) counts() (prefixes, exact, wild int) {
	seen := make(map[string]bool, len(t.exact)+len(t.wild))
	for prefix, level := range t.exact {
		seen[prefix] = true
		exact += len(level)
	}
	for prefix, patterns := range t.wild {
		seen[prefix] = true
		wild += len(patterns)
	}
	return len(seen), exact, wild
}

// ============================================================================
// SEGMENT CACHE
// ============================================================================

// segmentCache memoizes per-prefix resolution results for one generation.
// Writes are idempotent: racing readers may resolve the same (prefix, email)
// pair twice and store the same boolean.
type segmentCache struct {
	mu sync.RWMutex
	m  map[string]map[string]bool
}

func newSegmentCache() *segmentCache {
	return &segmentCache{m: make(map[string]map[string]bool)}
}

func (c *segmentCache) get(prefix, email string) (allowed, ok bool) {
	c.mu.RLock()
	allowed, ok = c.m[prefix][email]
	c.mu.RUnlock()
	return allowed, ok
}

func (c *segmentCache) set(prefix, email string, allowed bool) {
	c.mu.Lock()
	level := c.m[prefix]
	if level == nil {
		level = make(map[string]bool)
		c.m[prefix] = level
	}
	level[email] = allowed
	c.mu.Unlock()
}

// generation is one immutable (table, cache) pair. A reload builds a whole
// new generation and publishes it with a single pointer swap, so a reader
// can never observe a table paired with another generation's cache.
type generation struct {
	id    uint64
	table *ruleTable
	cache *segmentCache
}

var generationSeq atomic.Uint64

func newGeneration(rules Rules) (*generation, error) {
	table, err := newRuleTable(rules)
	if err != nil {
		return nil, err
	}
	return &generation{
		id:    generationSeq.Add(1),
		table: table,
		cache: newSegmentCache(),
	}, nil
}

// ============================================================================
// RESOLVER
// ============================================================================

// Resolver answers path authorization queries against the current rule
// generation. All reads are in-memory and safe for concurrent use.
type Resolver struct {
	generation  atomic.Pointer[generation]
	decisions   atomic.Pointer[decisionCache]
	logger      logger.Logger
	traceIDFunc logger.TraceIDFunc
}

// Option configures a Resolver.
type Option func(*Resolver) error

// NewResolver builds a resolver from an already-parsed rule document. A nil
// document yields a resolver that denies everything.
func NewResolver(rules Rules, opts ...Option) (*Resolver, error) {
	r := &Resolver{logger: logger.NewNullLogger()}
	for _, opt := range opts {
		if err := opt(r); err != nil {
			return nil, err
		}
	}
	gen, err := newGeneration(rules)
	if err != nil {
		return nil, err
	}
	r.publish(gen)
	return r, nil
}

// NewResolverJSON builds a resolver from a raw JSON rule document.
func NewResolverJSON(data []byte, opts ...Option) (*Resolver, error) {
	rules, err := ParseRules(data)
	if err != nil {
		return nil, err
	}
	return NewResolver(rules, opts...)
}

// IsAuthorized reports whether the identity may access the path. A denial
// is the normal false result, not an error; the error return is reserved
// for caller contract violations.
func (r *Resolver) IsAuthorized(id Identity, path string) (bool, error) {
	decision, err := r.authorize(id, path, false)
	if err != nil {
		return false, err
	}
	return decision.Allowed, nil
}

// Authorize evaluates the query and returns the full decision.
func (r *Resolver) Authorize(id Identity, path string) (*Decision, error) {
	return r.authorize(id, path, false)
}

// Explain evaluates the query with a per-prefix trace attached.
func (r *Resolver) Explain(id Identity, path string) (*Decision, error) {
	return r.authorize(id, path, true)
}

// authorize runs the longest-prefix incremental scan: prefixes are checked
// shallowest to deepest; an allow at any level short-circuits, a miss
// resolves that level to false and continues deeper, so a more specific
// rule can grant access even when every shallower prefix declined.
func (r *Resolver) authorize(id Identity, path string, includeTrace bool) (*Decision, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: path must not be empty", ErrInvalidInput)
	}
	if id.Email == "" {
		return nil, fmt.Errorf("%w: identity email must not be empty", ErrInvalidInput)
	}

	gen := r.generation.Load()
	decision := &Decision{Email: id.Email, Path: path, Timestamp: time.Now()}
	if includeTrace {
		decision.Trace = make([]string, 0, 4)
		if r.traceIDFunc != nil {
			decision.TraceID = r.traceIDFunc()
		}
	}

	var dc *decisionCache
	if !includeTrace {
		if dc = r.decisions.Load(); dc != nil {
			if allowed, ok := dc.get(gen.id, id.Email, path); ok {
				decision.Allowed = allowed
				decision.FromCache = true
				return decision, nil
			}
		}
	}

	segments := splitPath(path)
	prefix := segments[0]
	for i := 0; i < len(segments); i++ {
		if i > 0 {
			prefix += "/" + segments[i]
		}
		node := displayPrefix(prefix)

		if allowed, ok := gen.cache.get(prefix, id.Email); ok {
			if allowed {
				decision.Allowed = true
				decision.MatchedPrefix = node
				decision.FromCache = true
				if includeTrace {
					decision.Trace = append(decision.Trace, "ALLOW "+node+": cached")
				}
				break
			}
			// Level already resolved to no; deeper prefixes may still allow.
			if includeTrace {
				decision.Trace = append(decision.Trace, "MISS "+node+": cached")
			}
			continue
		}

		if gen.table.exact[prefix][id.Email] {
			gen.cache.set(prefix, id.Email, true)
			decision.Allowed = true
			decision.MatchedPrefix = node
			decision.MatchedPattern = id.Email
			if includeTrace {
				decision.Trace = append(decision.Trace, "ALLOW "+node+": exact identity")
			}
			break
		}
		if pattern, ok := matchWildcards(gen.table.wild[prefix], id.Email); ok {
			gen.cache.set(prefix, id.Email, true)
			decision.Allowed = true
			decision.MatchedPrefix = node
			decision.MatchedPattern = pattern
			if includeTrace {
				decision.Trace = append(decision.Trace, "ALLOW "+node+": wildcard "+pattern)
			}
			break
		}
		gen.cache.set(prefix, id.Email, false)
		if includeTrace {
			decision.Trace = append(decision.Trace, "MISS "+node+": no rule matched")
		}
	}

	if includeTrace && !decision.Allowed {
		decision.Trace = append(decision.Trace, "DENY: no prefix matched")
	}
	if dc != nil && !decision.FromCache {
		dc.set(gen.id, id.Email, path, decision.Allowed)
	}
	return decision, nil
}

func matchWildcards(patterns []string, email string) (string, bool) {
	for _, pattern := range patterns {
		if utils.MatchIdentity(email, pattern) {
			return pattern, true
		}
	}
	return "", false
}

// splitPath turns a path into its ordered segments. The root path "/" is a
// single empty segment so root rules live at exactly one prefix.
func splitPath(path string) []string {
	if path == "/" {
		return []string{""}
	}
	return strings.Split(path, "/")
}

// displayPrefix renders an internal prefix key for decisions and traces.
func displayPrefix(prefix string) string {
	if prefix == "" {
		return "/"
	}
	return prefix
}

// Reload swaps in a freshly built generation and discards every cached
// result with the old one. On build failure the current generation keeps
// serving untouched.
func (r *Resolver) Reload(rules Rules) error {
	gen, err := newGeneration(rules)
	if err != nil {
		r.logger.Error("rules rejected", "error", err.Error())
		return err
	}
	r.publish(gen)
	return nil
}

// ReloadJSON parses a raw JSON rule document and reloads from it.
func (r *Resolver) ReloadJSON(data []byte) error {
	rules, err := ParseRules(data)
	if err != nil {
		r.logger.Error("rules rejected", "error", err.Error())
		return err
	}
	return r.Reload(rules)
}

func (r *Resolver) publish(gen *generation) {
	r.generation.Store(gen)
	r.invalidateDecisionCache()
	prefixes, exact, wild := gen.table.counts()
	r.logger.Info("rules loaded",
		"generation", int(gen.id),
		"prefixes", prefixes,
		"exact", exact,
		"wildcards", wild,
	)
}

// RuleStats summarizes the rule table of the current generation.
type RuleStats struct {
	Generation       uint64 `json:"generation"`
	Prefixes         int    `json:"prefixes"`
	ExactIdentities  int    `json:"exact_identities"`
	WildcardPatterns int    `json:"wildcard_patterns"`
}

// Stats reports rule counts for the current generation. Prefixes with an
// empty pattern list carry no rules and are not counted.
func (r *Resolver) Stats() RuleStats {
	gen := r.generation.Load()
	prefixes, exact, wild := gen.table.counts()
	return RuleStats{
		Generation:       gen.id,
		Prefixes:         prefixes,
		ExactIdentities:  exact,
		WildcardPatterns: wild,
	}
}
