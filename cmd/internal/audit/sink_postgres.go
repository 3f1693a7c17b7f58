package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresSink appends events to <schema>.audit_log.
type PostgresSink struct {
	pool  *pgxpool.Pool
	table string
	sch   string
}

// NewPostgresSink builds a sink over pool. The pool is owned by the caller.
func NewPostgresSink(pool *pgxpool.Pool, schema string) (*PostgresSink, error) {
	if pool == nil {
		return nil, fmt.Errorf("audit: nil pool")
	}
	schema = strings.TrimSpace(schema)
	if schema == "" {
		schema = "assist"
	}
	return &PostgresSink{
		pool:  pool,
		sch:   schema,
		table: pgx.Identifier{schema, "audit_log"}.Sanitize(),
	}, nil
}

// EnsureSchema creates the audit table when missing.
func (s *PostgresSink) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, fmt.Sprintf(`
CREATE SCHEMA IF NOT EXISTS %s;

CREATE TABLE IF NOT EXISTS %s (
  id UUID PRIMARY KEY,
  action TEXT NOT NULL,
  subject_id TEXT NULL,
  ip INET NULL,
  user_agent TEXT NULL,
  meta JSONB NULL,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);`, pgx.Identifier{s.sch}.Sanitize(), s.table))
	return err
}

func (s *PostgresSink) Write(ctx context.Context, ev Event) error {
	var metaVal *string
	if len(ev.Meta) > 0 {
		b, err := json.Marshal(ev.Meta)
		if err != nil {
			return err
		}
		v := string(b)
		metaVal = &v
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO `+s.table+` (
			id, action, subject_id, ip, user_agent, meta, created_at
		) VALUES ($1, $2, $3, $4::inet, $5, $6::jsonb, $7)
	`, ev.ID, ev.Action, trimOrNil(ev.SubjectID), trimOrNil(ev.IP), trimOrNil(ev.UserAgent), metaVal, ev.At)
	return err
}

func trimOrNil(s string) any {
	v := strings.TrimSpace(s)
	if v == "" {
		return nil
	}
	return v
}
