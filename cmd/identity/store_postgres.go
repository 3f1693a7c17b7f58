package identity

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"assist/cmd/identity/ids"
)

// PostgresStore implements Store over PostgreSQL.
//
// - The pgx pool is owned by the caller; this store must NOT close it.
// - Schema/table identifiers are quoted via pgx.Identifier.
// - Unique violations on the email constraint surface as ConflictError{Field: "email"}.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// PostgresOption configures the store.
type PostgresOption func(*PostgresStore) error

var pgIdentRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// WithSchema sets the Postgres schema used by the store (default "assist").
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return fmt.Errorf("identity: empty schema")
		}
		if !pgIdentIsValid(schema) {
			return fmt.Errorf("identity: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{
		pool:   pool,
		schema: "assist",
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, fmt.Errorf("identity: nil pool")
	}
	return st, nil
}

var _ Store = (*PostgresStore)(nil)

// EnsureSchema creates the schema and identities table when missing.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	tbl := s.table()
	ddl := fmt.Sprintf(`
CREATE SCHEMA IF NOT EXISTS %s;

CREATE TABLE IF NOT EXISTS %s (
  id TEXT PRIMARY KEY,
  email TEXT NOT NULL,
  password_hash TEXT NOT NULL,
  role TEXT NOT NULL DEFAULT 'user',
  display_name TEXT NOT NULL DEFAULT '',
  avatar_url TEXT NULL,
  active BOOLEAN NOT NULL DEFAULT TRUE,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  last_login_at TIMESTAMPTZ NULL,

  CONSTRAINT chk_identities_id_ulid_len CHECK (char_length(id) = 26),
  CONSTRAINT chk_identities_role CHECK (role IN ('admin', 'professional', 'user')),
  CONSTRAINT uq_identities_email UNIQUE (email)
);`, pgx.Identifier{s.schema}.Sanitize(), tbl)

	_, err := s.pool.Exec(ctx, ddl)
	return err
}

const identityColumns = `id, email, password_hash, role, display_name, avatar_url, active, created_at, updated_at, last_login_at`

func (s *PostgresStore) FindActiveByEmail(ctx context.Context, email string) (Identity, error) {
	const op = "identity.FindActiveByEmail"
	if err := ctx.Err(); err != nil {
		return Identity{}, err
	}

	row := s.pool.QueryRow(ctx,
		`SELECT `+identityColumns+`
		   FROM `+s.table()+`
		  WHERE email = $1 AND active`,
		NormalizeEmail(email),
	)
	return scanIdentity(op, row)
}

func (s *PostgresStore) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM `+s.table()+` WHERE email = $1)`,
		NormalizeEmail(email),
	).Scan(&exists)
	return exists, err
}

func (s *PostgresStore) FindByID(ctx context.Context, id string) (Identity, error) {
	const op = "identity.FindByID"
	if err := ctx.Err(); err != nil {
		return Identity{}, err
	}

	row := s.pool.QueryRow(ctx,
		`SELECT `+identityColumns+` FROM `+s.table()+` WHERE id = $1`,
		strings.TrimSpace(id),
	)
	return scanIdentity(op, row)
}

func (s *PostgresStore) Create(ctx context.Context, in CreateInput) (Identity, error) {
	const op = "identity.Create"
	if err := ctx.Err(); err != nil {
		return Identity{}, err
	}
	if err := in.validate(op); err != nil {
		return Identity{}, err
	}

	now := nowOr(in.Now)
	id, err := ids.NewULID(now)
	if err != nil {
		return Identity{}, err
	}

	row := s.pool.QueryRow(ctx,
		`INSERT INTO `+s.table()+` (id, email, password_hash, role, display_name, active, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, TRUE, $6, $6)
		 RETURNING `+identityColumns,
		id,
		NormalizeEmail(in.Email),
		in.PasswordHash,
		string(in.Role),
		strings.TrimSpace(in.DisplayName),
		now,
	)
	out, err := scanIdentity(op, row)
	if err != nil {
		if field, ok := pgClassifyUniqueViolation(err); ok {
			return Identity{}, ConflictError{Op: op, Field: field}
		}
		return Identity{}, err
	}
	return out, nil
}

func (s *PostgresStore) UpdateProfile(ctx context.Context, id string, upd ProfileUpdate, now time.Time) (Identity, error) {
	const op = "identity.UpdateProfile"
	if err := ctx.Err(); err != nil {
		return Identity{}, err
	}
	if err := upd.validate(op); err != nil {
		return Identity{}, err
	}

	var displayName *string
	if upd.DisplayName != nil {
		v := strings.TrimSpace(*upd.DisplayName)
		displayName = &v
	}

	// $3 toggles whether avatar_url is written at all; $4 may be NULL to clear it.
	row := s.pool.QueryRow(ctx,
		`UPDATE `+s.table()+`
		    SET display_name = COALESCE($2, display_name),
		        avatar_url   = CASE WHEN $3 THEN $4 ELSE avatar_url END,
		        updated_at   = $5
		  WHERE id = $1
		 RETURNING `+identityColumns,
		id,
		displayName,
		upd.AvatarURL != nil,
		trimPtr(upd.AvatarURL),
		nowOr(now),
	)
	return scanIdentity(op, row)
}

func (s *PostgresStore) UpdatePasswordHash(ctx context.Context, id, hash string, now time.Time) error {
	const op = "identity.UpdatePasswordHash"
	if strings.TrimSpace(hash) == "" {
		return invalid(op, "password hash is required")
	}
	return s.execOne(ctx, op,
		`UPDATE `+s.table()+` SET password_hash = $2, updated_at = $3 WHERE id = $1`,
		id, hash, nowOr(now),
	)
}

func (s *PostgresStore) TouchLastLogin(ctx context.Context, id string, now time.Time) error {
	const op = "identity.TouchLastLogin"
	return s.execOne(ctx, op,
		`UPDATE `+s.table()+` SET last_login_at = $2 WHERE id = $1`,
		id, nowOr(now),
	)
}

func (s *PostgresStore) SetRole(ctx context.Context, id string, role Role, now time.Time) (Identity, error) {
	const op = "identity.SetRole"
	if err := ctx.Err(); err != nil {
		return Identity{}, err
	}
	if !role.Valid() {
		return Identity{}, invalid(op, "unknown role")
	}

	row := s.pool.QueryRow(ctx,
		`UPDATE `+s.table()+` SET role = $2, updated_at = $3 WHERE id = $1 RETURNING `+identityColumns,
		id, string(role), nowOr(now),
	)
	return scanIdentity(op, row)
}

func (s *PostgresStore) SetActive(ctx context.Context, id string, active bool, now time.Time) error {
	const op = "identity.SetActive"
	return s.execOne(ctx, op,
		`UPDATE `+s.table()+` SET active = $2, updated_at = $3 WHERE id = $1`,
		id, active, nowOr(now),
	)
}

// ---- helpers ----

func (s *PostgresStore) table() string {
	return pgIdent(s.schema, "identities")
}

func (s *PostgresStore) execOne(ctx context.Context, op, sql string, args ...any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, sql, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return notFound(op)
	}
	return nil
}

func scanIdentity(op string, row pgx.Row) (Identity, error) {
	var (
		out  Identity
		role string
	)
	err := row.Scan(
		&out.ID,
		&out.Email,
		&out.PasswordHash,
		&role,
		&out.DisplayName,
		&out.AvatarURL,
		&out.Active,
		&out.CreatedAt,
		&out.UpdatedAt,
		&out.LastLoginAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Identity{}, notFound(op)
		}
		return Identity{}, err
	}
	out.Role = Role(role)
	out.CreatedAt = out.CreatedAt.UTC()
	out.UpdatedAt = out.UpdatedAt.UTC()
	return out, nil
}

// pgIdentIsValid checks if a string is a safe Postgres identifier.
func pgIdentIsValid(s string) bool {
	return pgIdentRe.MatchString(s)
}

// pgIdent safely quotes a schema-qualified identifier: "schema"."name".
func pgIdent(schema, name string) string {
	return pgx.Identifier{schema, name}.Sanitize()
}

func pgClassifyUniqueViolation(err error) (field string, ok bool) {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return "", false
	}
	if pgErr.Code != "23505" { // unique_violation
		return "", false
	}

	c := strings.ToLower(strings.TrimSpace(pgErr.ConstraintName))
	switch {
	case c == "uq_identities_email", strings.Contains(c, "email"):
		return "email", true
	default:
		return "unique", true
	}
}
