package stores

import (
	"context"
	"fmt"
	"time"

	"github.com/oarkflow/pathacl"
	"github.com/oarkflow/squealx"
)

// SQLSource persists rule documents in SQL (squealx). Revisions are
// append-only: Save inserts, Load reads the newest row.
type SQLSource struct {
	db *squealx.DB
}

var _ pathacl.RuleSource = (*SQLSource)(nil)

func NewSQLSource(db *squealx.DB) *SQLSource {
	return &SQLSource{db: db}
}

func (s *SQLSource) Load(ctx context.Context) ([]byte, error) {
	q := `SELECT body FROM rule_documents ORDER BY id DESC LIMIT 1`
	r, err := s.db.NamedQueryContext(ctx, q, map[string]any{})
	if err != nil {
		return nil, err
	}
	defer r.Close()
	if !r.Next() {
		return nil, fmt.Errorf("no rule document stored")
	}
	var body string
	if err := r.Scan(&body); err != nil {
		return nil, err
	}
	return []byte(body), nil
}

func (s *SQLSource) Save(ctx context.Context, data []byte) error {
	q := `INSERT INTO rule_documents(body, created_at) VALUES(:body, :created_at)`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{
		"body":       string(data),
		"created_at": time.Now(),
	})
	return err
}

// RuleRevision is one stored version of the rule document.
type RuleRevision struct {
	ID        int64     `json:"id"`
	Body      []byte    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}

// History returns up to limit revisions, newest first.
func (s *SQLSource) History(ctx context.Context, limit int) ([]*RuleRevision, error) {
	if limit <= 0 {
		limit = 50
	}
	q := `SELECT id, body, created_at FROM rule_documents ORDER BY id DESC LIMIT :limit`
	r, err := s.db.NamedQueryContext(ctx, q, map[string]any{"limit": limit})
	if err != nil {
		return nil, err
	}
	defer r.Close()
	out := make([]*RuleRevision, 0, limit)
	for r.Next() {
		var id int64
		var body string
		var createdRaw any
		if err := r.Scan(&id, &body, &createdRaw); err != nil {
			return nil, err
		}
		out = append(out, &RuleRevision{ID: id, Body: []byte(body), CreatedAt: scanTime(createdRaw)})
	}
	return out, nil
}
