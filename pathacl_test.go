package pathacl

import (
	"errors"
	"fmt"
	"sync"
	"testing"
)

func TestRootRules(t *testing.T) {
	r, err := NewResolver(Rules{"/": {"alice@x.com"}})
	if err != nil {
		t.Fatalf("new resolver: %v", err)
	}

	ok, _ := r.IsAuthorized(Identity{Email: "alice@x.com"}, "/")
	if !ok {
		t.Fatalf("expected allow for declared root identity")
	}
	ok, _ = r.IsAuthorized(Identity{Email: "bob@x.com"}, "/")
	if ok {
		t.Fatalf("expected deny for undeclared identity at root")
	}

	// No root rule at all: root query is a plain deny.
	r2, _ := NewResolver(Rules{"/a": {"alice@x.com"}})
	ok, _ = r2.IsAuthorized(Identity{Email: "alice@x.com"}, "/")
	if ok {
		t.Fatalf("expected deny at root with no root rule")
	}
}

func TestInheritance(t *testing.T) {
	r, _ := NewResolver(Rules{"/a": {"alice@x.com"}})

	ok, _ := r.IsAuthorized(Identity{Email: "alice@x.com"}, "/a/b/c")
	if !ok {
		t.Fatalf("expected shallower rule at /a to grant /a/b/c")
	}
	ok, _ = r.IsAuthorized(Identity{Email: "bob@x.com"}, "/a/b/c")
	if ok {
		t.Fatalf("expected deny for identity with no rule on any prefix")
	}
}

func TestIndependentDeeperGrant(t *testing.T) {
	r, _ := NewResolver(Rules{
		"/a":   {},
		"/a/b": {"alice@x.com"},
	})

	ok, _ := r.IsAuthorized(Identity{Email: "alice@x.com"}, "/a/b")
	if !ok {
		t.Fatalf("expected deeper rule to grant despite empty /a")
	}
	ok, _ = r.IsAuthorized(Identity{Email: "alice@x.com"}, "/a")
	if ok {
		t.Fatalf("expected deny at /a itself")
	}
}

func TestWildcardMatching(t *testing.T) {
	r, _ := NewResolver(Rules{"/": {"*@example.com"}})

	ok, _ := r.IsAuthorized(Identity{Email: "bob@example.com"}, "/anything")
	if !ok {
		t.Fatalf("expected wildcard to match bob@example.com")
	}
	ok, _ = r.IsAuthorized(Identity{Email: "bob@other.com"}, "/anything")
	if ok {
		t.Fatalf("expected wildcard not to match bob@other.com")
	}
}

func TestCacheIdempotence(t *testing.T) {
	r, _ := NewResolver(Rules{"/docs": {"alice@x.com"}})
	id := Identity{Email: "alice@x.com"}

	first, _ := r.IsAuthorized(id, "/docs/private")
	for i := 0; i < 5; i++ {
		got, _ := r.IsAuthorized(id, "/docs/private")
		if got != first {
			t.Fatalf("repeated query changed result: first=%v got=%v", first, got)
		}
	}
	if !first {
		t.Fatalf("expected allow")
	}

	// A reload that revokes the grant must not serve the stale cached true.
	if err := r.Reload(Rules{"/docs": {"carol@x.com"}}); err != nil {
		t.Fatalf("reload: %v", err)
	}
	got, _ := r.IsAuthorized(id, "/docs/private")
	if got {
		t.Fatalf("expected recomputed deny after reload revoked the rule")
	}
}

func TestReloadRollback(t *testing.T) {
	r, _ := NewResolver(Rules{"/a": {"alice@x.com"}})
	id := Identity{Email: "alice@x.com"}

	if err := r.ReloadJSON([]byte(`{not json`)); !errors.Is(err, ErrMalformedRules) {
		t.Fatalf("expected ErrMalformedRules, got %v", err)
	}
	if err := r.Reload(Rules{"": {"x"}}); !errors.Is(err, ErrMalformedRules) {
		t.Fatalf("expected ErrMalformedRules for empty key, got %v", err)
	}

	// Old generation still serves exactly as before.
	ok, _ := r.IsAuthorized(id, "/a/b")
	if !ok {
		t.Fatalf("expected old rules still enforced after failed reloads")
	}
	ok, _ = r.IsAuthorized(Identity{Email: "bob@x.com"}, "/a/b")
	if ok {
		t.Fatalf("expected old denies still enforced after failed reloads")
	}
}

func TestIdempotentRebuild(t *testing.T) {
	rules := Rules{
		"/":      {"*@example.com"},
		"/admin": {"alice@x.com"},
		"/a/b":   {"bob@x.com", "*@a.b"},
	}
	r1, _ := NewResolver(rules)
	r2, _ := NewResolver(rules)

	identities := []string{"alice@x.com", "bob@x.com", "c@example.com", "d@a.b", "e@nope.io"}
	paths := []string{"/", "/admin", "/admin/x", "/a", "/a/b", "/a/b/c", "/other"}
	for _, email := range identities {
		for _, path := range paths {
			got1, _ := r1.IsAuthorized(Identity{Email: email}, path)
			got2, _ := r2.IsAuthorized(Identity{Email: email}, path)
			if got1 != got2 {
				t.Fatalf("rebuild diverged for (%s, %s): %v vs %v", email, path, got1, got2)
			}
		}
	}
}

func TestInvalidInput(t *testing.T) {
	r, _ := NewResolver(Rules{"/": {"alice@x.com"}})

	if _, err := r.IsAuthorized(Identity{Email: "alice@x.com"}, ""); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for empty path, got %v", err)
	}
	if _, err := r.IsAuthorized(Identity{}, "/"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for empty email, got %v", err)
	}
}

func TestExplainTrace(t *testing.T) {
	r, _ := NewResolver(Rules{
		"/":     {},
		"/docs": {"*@x.com"},
	})

	dec, err := r.Explain(Identity{Email: "alice@x.com"}, "/docs/private")
	if err != nil {
		t.Fatalf("explain: %v", err)
	}
	if !dec.Allowed {
		t.Fatalf("expected allow")
	}
	if dec.MatchedPrefix != "/docs" {
		t.Fatalf("expected matched prefix /docs, got %q", dec.MatchedPrefix)
	}
	if dec.MatchedPattern != "*@x.com" {
		t.Fatalf("expected matched pattern *@x.com, got %q", dec.MatchedPattern)
	}
	if len(dec.Trace) == 0 {
		t.Fatalf("expected a non-empty trace")
	}

	dec2, _ := r.Explain(Identity{Email: "eve@nope.io"}, "/docs")
	if dec2.Allowed {
		t.Fatalf("expected deny")
	}
	last := dec2.Trace[len(dec2.Trace)-1]
	if last != "DENY: no prefix matched" {
		t.Fatalf("expected final deny trace line, got %q", last)
	}
}

func TestExactBeatsWildcardOrderIrrelevant(t *testing.T) {
	// Exact and wildcard entries at the same prefix both grant; the
	// decision records whichever matched.
	r, _ := NewResolver(Rules{"/a": {"*@x.com", "alice@x.com"}})
	dec, _ := r.Authorize(Identity{Email: "alice@x.com"}, "/a")
	if !dec.Allowed {
		t.Fatalf("expected allow")
	}
	if dec.MatchedPattern != "alice@x.com" {
		t.Fatalf("expected exact identity to match first, got %q", dec.MatchedPattern)
	}
}

func TestStats(t *testing.T) {
	r, _ := NewResolver(Rules{
		"/":      {"*@example.com", "root@x.com"},
		"/a":     {"alice@x.com"},
		"/empty": {},
	})
	stats := r.Stats()
	if stats.Prefixes != 2 {
		t.Fatalf("expected 2 prefixes with rules, got %d", stats.Prefixes)
	}
	if stats.ExactIdentities != 2 {
		t.Fatalf("expected 2 exact identities, got %d", stats.ExactIdentities)
	}
	if stats.WildcardPatterns != 1 {
		t.Fatalf("expected 1 wildcard pattern, got %d", stats.WildcardPatterns)
	}
}

func TestConcurrentQueriesDuringReload(t *testing.T) {
	r, _ := NewResolver(Rules{"/a": {"alice@x.com"}})
	id := Identity{Email: "alice@x.com"}

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				if _, err := r.IsAuthorized(id, "/a/b/c"); err != nil {
					t.Errorf("query error: %v", err)
					return
				}
			}
		}()
	}
	for i := 0; i < 200; i++ {
		rules := Rules{"/a": {"alice@x.com"}, fmt.Sprintf("/gen%d", i): {"*@x.com"}}
		if err := r.Reload(rules); err != nil {
			t.Fatalf("reload %d: %v", i, err)
		}
	}
	close(stop)
	wg.Wait()

	// The rule that survived every reload still grants.
	ok, _ := r.IsAuthorized(id, "/a/b/c")
	if !ok {
		t.Fatalf("expected allow after reload churn")
	}
}

func TestDecisionCacheResetOnReload(t *testing.T) {
	r, err := NewResolver(Rules{"/a": {"alice@x.com"}}, WithDecisionCache(DecisionCacheConfig{}))
	if err != nil {
		t.Fatalf("new resolver: %v", err)
	}
	id := Identity{Email: "alice@x.com"}

	// Prime both cache levels.
	for i := 0; i < 10; i++ {
		ok, _ := r.IsAuthorized(id, "/a/deep/path")
		if !ok {
			t.Fatalf("expected allow on iteration %d", i)
		}
	}

	if err := r.Reload(Rules{"/b": {"alice@x.com"}}); err != nil {
		t.Fatalf("reload: %v", err)
	}
	ok, _ := r.IsAuthorized(id, "/a/deep/path")
	if ok {
		t.Fatalf("expected deny after reload removed /a; cached decision leaked")
	}
}
