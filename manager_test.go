package pathacl

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
)

// memSource is an in-memory RuleSource for exercising the staged-commit
// contract without touching disk. Safe for concurrent use so tests can
// drive Update and Refresh from separate goroutines.
type memSource struct {
	mu       sync.Mutex
	data     []byte
	saves    int
	failSave bool
}

func (s *memSource) Load(ctx context.Context) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data == nil {
		return nil, fmt.Errorf("no document")
	}
	return s.data, nil
}

func (s *memSource) Save(ctx context.Context, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failSave {
		return fmt.Errorf("save refused")
	}
	s.saves++
	s.data = append([]byte(nil), data...)
	return nil
}

func (s *memSource) set(data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = data
}

func (s *memSource) bytes() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data
}

func (s *memSource) saveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}

func TestManagerMissingSource(t *testing.T) {
	_, err := NewRuleManager(context.Background(), &memSource{})
	if !errors.Is(err, ErrMissingSource) {
		t.Fatalf("expected ErrMissingSource, got %v", err)
	}
}

func TestManagerMalformedInitialDocument(t *testing.T) {
	src := &memSource{data: []byte(`{broken`)}
	_, err := NewRuleManager(context.Background(), src)
	if !errors.Is(err, ErrMalformedRules) {
		t.Fatalf("expected ErrMalformedRules, got %v", err)
	}
}

func TestManagerValidate(t *testing.T) {
	src := &memSource{data: []byte(`{"/": ["alice@x.com"]}`)}
	m, err := NewRuleManager(context.Background(), src)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	if err := m.Validate([]byte(`{"/a": ["*@x.com"]}`)); err != nil {
		t.Fatalf("expected valid document, got %v", err)
	}
	if err := m.Validate([]byte(`{oops`)); !errors.Is(err, ErrMalformedRules) {
		t.Fatalf("expected ErrMalformedRules, got %v", err)
	}
	// Validate must have no side effects.
	if saves := src.saveCount(); saves != 0 {
		t.Fatalf("validate persisted data: %d saves", saves)
	}
}

func TestManagerUpdate(t *testing.T) {
	ctx := context.Background()
	src := &memSource{data: []byte(`{"/": ["alice@x.com"]}`)}
	m, err := NewRuleManager(ctx, src)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	next := []byte(`{"/": ["bob@x.com"]}`)
	if err := m.Update(ctx, next); err != nil {
		t.Fatalf("update: %v", err)
	}
	if !bytes.Equal(src.bytes(), next) {
		t.Fatalf("source not updated")
	}
	ok, _ := m.Resolver().IsAuthorized(Identity{Email: "bob@x.com"}, "/x")
	if !ok {
		t.Fatalf("expected new rules active after update")
	}
	ok, _ = m.Resolver().IsAuthorized(Identity{Email: "alice@x.com"}, "/x")
	if ok {
		t.Fatalf("expected old rules retired after update")
	}
}

func TestManagerUpdateRollback(t *testing.T) {
	ctx := context.Background()
	previous := []byte(`{"/a": ["alice@x.com"]}`)
	src := &memSource{data: previous}
	m, err := NewRuleManager(ctx, src)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	// Parses as JSON, but the empty path key is rejected at build time, so
	// the failure happens after the document was persisted.
	bad := []byte(`{"": ["x@x.com"]}`)
	if err := m.Update(ctx, bad); !errors.Is(err, ErrMalformedRules) {
		t.Fatalf("expected ErrMalformedRules, got %v", err)
	}

	if !bytes.Equal(src.bytes(), previous) {
		t.Fatalf("rollback did not restore previous document: %s", src.bytes())
	}
	if !bytes.Equal(m.Raw(), previous) {
		t.Fatalf("manager raw document changed on failed update")
	}
	ok, _ := m.Resolver().IsAuthorized(Identity{Email: "alice@x.com"}, "/a/b")
	if !ok {
		t.Fatalf("expected previous rules still enforced after rollback")
	}
}

func TestManagerUpdateRejectsUnparseableBeforeSave(t *testing.T) {
	ctx := context.Background()
	src := &memSource{data: []byte(`{"/": ["alice@x.com"]}`)}
	m, _ := NewRuleManager(ctx, src)

	if err := m.Update(ctx, []byte(`not json`)); !errors.Is(err, ErrMalformedRules) {
		t.Fatalf("expected ErrMalformedRules, got %v", err)
	}
	if src.saveCount() != 0 {
		t.Fatalf("unparseable document reached the source")
	}
}

func TestManagerRefresh(t *testing.T) {
	ctx := context.Background()
	src := &memSource{data: []byte(`{"/": ["alice@x.com"]}`)}
	m, _ := NewRuleManager(ctx, src)

	// Another writer changed the backing document out of band.
	src.set([]byte(`{"/": ["bob@x.com"]}`))
	if err := m.Refresh(ctx); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	ok, _ := m.Resolver().IsAuthorized(Identity{Email: "bob@x.com"}, "/")
	if !ok {
		t.Fatalf("expected refreshed rules active")
	}

	// A refresh against a now-broken document keeps the old generation.
	src.set([]byte(`{broken`))
	if err := m.Refresh(ctx); !errors.Is(err, ErrMalformedRules) {
		t.Fatalf("expected ErrMalformedRules, got %v", err)
	}
	ok, _ = m.Resolver().IsAuthorized(Identity{Email: "bob@x.com"}, "/")
	if !ok {
		t.Fatalf("expected previous generation still serving after failed refresh")
	}
}

func TestManagerConcurrentUpdateRefresh(t *testing.T) {
	ctx := context.Background()
	src := &memSource{data: []byte(`{"/": ["alice@x.com"]}`)}
	m, err := NewRuleManager(ctx, src)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	// The watcher calls Refresh from its own goroutine while an admin API
	// may be mid-Update; the two must interleave without tearing raw.
	var wg sync.WaitGroup
	stop := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			if err := m.Refresh(ctx); err != nil {
				t.Errorf("refresh: %v", err)
				return
			}
		}
	}()

	docs := [][]byte{
		[]byte(`{"/": ["alice@x.com"]}`),
		[]byte(`{"/": ["bob@x.com"]}`),
		[]byte(`{"/": ["*@example.com"]}`),
	}
	for i := 0; i < 200; i++ {
		if err := m.Update(ctx, docs[i%len(docs)]); err != nil {
			t.Fatalf("update %d: %v", i, err)
		}
	}
	close(stop)
	wg.Wait()

	// Whatever interleaving happened, the manager's view matches the source.
	if !bytes.Equal(m.Raw(), src.bytes()) {
		t.Fatalf("manager raw diverged from source:\n%s\n%s", m.Raw(), src.bytes())
	}
	if _, err := ParseRules(m.Raw()); err != nil {
		t.Fatalf("raw document corrupted: %v", err)
	}
}
