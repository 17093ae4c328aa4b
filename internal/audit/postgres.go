package audit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

const schema = `
CREATE TABLE IF NOT EXISTS document_unzip_audit (
	id                      VARCHAR(36)  PRIMARY KEY,
	client_id               VARCHAR(255),
	document_link_id        VARCHAR(255) NOT NULL,
	document_name           VARCHAR(255),
	document_type           VARCHAR(100),
	parent_document_link_id VARCHAR(255),
	document_path           TEXT,
	status                  VARCHAR(16)  NOT NULL,
	error                   VARCHAR(3000),
	updated_at              TIMESTAMPTZ  NOT NULL
);
CREATE INDEX IF NOT EXISTS document_unzip_audit_parent_idx
	ON document_unzip_audit (parent_document_link_id);
`

// Postgres is the audit store backed by a document_unzip_audit table.
type Postgres struct {
	db *sql.DB
}

// Open connects to dsn, sizes the pool, and pings.
func Open(ctx context.Context, dsn string) (*Postgres, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open audit database: %w", err)
	}

	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(4)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping audit database: %w", err)
	}
	return &Postgres{db: db}, nil
}

// NewPostgres wraps an existing handle.
func NewPostgres(db *sql.DB) *Postgres { return &Postgres{db: db} }

// Ping backs the readiness check.
func (p *Postgres) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()
	return p.db.PingContext(ctx)
}

func (p *Postgres) Migrate(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate audit table: %w", err)
	}
	return nil
}

func (p *Postgres) Record(ctx context.Context, e Entry) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO document_unzip_audit
		   (id, client_id, document_link_id, document_name, document_type,
		    parent_document_link_id, document_path, status, error, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (id) DO UPDATE SET
		   client_id = EXCLUDED.client_id,
		   document_link_id = EXCLUDED.document_link_id,
		   document_name = EXCLUDED.document_name,
		   document_type = EXCLUDED.document_type,
		   parent_document_link_id = EXCLUDED.parent_document_link_id,
		   document_path = EXCLUDED.document_path,
		   status = EXCLUDED.status,
		   error = EXCLUDED.error,
		   updated_at = EXCLUDED.updated_at`,
		e.ID, nullString(e.ClientID), e.DocumentLinkID, nullString(e.Name), nullString(e.Type),
		nullString(e.ParentDocumentLinkID), nullString(e.Path), e.Status, nullString(Truncate(e.Error)), e.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("record audit entry %s: %w", e.ID, err)
	}
	return nil
}

const selectCols = `id, client_id, document_link_id, document_name, document_type,
	parent_document_link_id, document_path, status, error, updated_at`

func (p *Postgres) Get(ctx context.Context, id string) (Entry, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT `+selectCols+` FROM document_unzip_audit WHERE id = $1`, id)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, ErrNotFound
	}
	if err != nil {
		return Entry{}, fmt.Errorf("get audit entry %s: %w", id, err)
	}
	return e, nil
}

func (p *Postgres) ListByParent(ctx context.Context, parentID string) ([]Entry, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT `+selectCols+` FROM document_unzip_audit
		 WHERE parent_document_link_id = $1 ORDER BY document_path`, parentID)
	if err != nil {
		return nil, fmt.Errorf("list audit entries: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (p *Postgres) Close() error { return p.db.Close() }

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(s scanner) (Entry, error) {
	var e Entry
	var client, name, typ, parent, path, msg sql.NullString
	err := s.Scan(&e.ID, &client, &e.DocumentLinkID, &name, &typ, &parent, &path, &e.Status, &msg, &e.UpdatedAt)
	if err != nil {
		return Entry{}, err
	}
	e.ClientID, e.Name, e.Type = client.String, name.String, typ.String
	e.ParentDocumentLinkID, e.Path, e.Error = parent.String, path.String, msg.String
	return e, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
