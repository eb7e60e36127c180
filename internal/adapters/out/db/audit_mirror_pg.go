package db

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"strings"

	dbcommon "savinggrace/internal/adapters/out/db/common"
	auditdom "savinggrace/internal/domain/audit"
)

// AuditMirrorPG mirrors audit entries into Postgres for reporting.
// The Firestore collection stays canonical; this copy is write-only from the
// application's point of view and is consumed by BI tooling.
type AuditMirrorPG struct {
	DB *sql.DB
}

func NewAuditMirrorPG(db *sql.DB) *AuditMirrorPG {
	return &AuditMirrorPG{DB: db}
}

var _ auditdom.MirrorPort = (*AuditMirrorPG)(nil)

// EnsureSchema creates the mirror table and index if they do not exist.
// Called once at startup.
func (r *AuditMirrorPG) EnsureSchema(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS audit_entries (
  id          TEXT PRIMARY KEY,
  actor_id    TEXT NOT NULL,
  action      TEXT NOT NULL,
  entity_kind TEXT NOT NULL,
  entity_id   TEXT NOT NULL,
  quantity    BIGINT NOT NULL DEFAULT 0,
  reason      TEXT,
  note        TEXT,
  created_at  TIMESTAMPTZ NOT NULL,
  mirrored_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`
	if _, err := r.DB.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("audit mirror: create table: %w", err)
	}

	const idx = `
CREATE INDEX IF NOT EXISTS audit_entries_entity_idx
  ON audit_entries (entity_kind, entity_id, created_at DESC)`
	if _, err := r.DB.ExecContext(ctx, idx); err != nil {
		return fmt.Errorf("audit mirror: create index: %w", err)
	}

	if total, err := dbcommon.QueryCount(ctx, r.DB, `SELECT COUNT(*) FROM audit_entries`); err != nil {
		log.Printf("[audit_pg] WARN: count failed: %v", err)
	} else {
		log.Printf("[audit_pg] mirror ready (rows=%d)", total)
	}
	return nil
}

// Mirror inserts one entry. Re-sending an already mirrored entry is treated
// as success, so writes stay idempotent across retries.
func (r *AuditMirrorPG) Mirror(ctx context.Context, e auditdom.Entry) error {
	id := strings.TrimSpace(e.ID)
	if id == "" {
		return fmt.Errorf("audit mirror: missing entry id")
	}

	const q = `
INSERT INTO audit_entries
  (id, actor_id, action, entity_kind, entity_id, quantity, reason, note, created_at)
VALUES
  ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	_, err := r.DB.ExecContext(ctx, q,
		id,
		strings.TrimSpace(e.ActorID),
		string(e.Action),
		strings.TrimSpace(e.EntityKind),
		strings.TrimSpace(e.EntityID),
		e.Quantity,
		dbcommon.NullableTrim(&e.Reason),
		dbcommon.NullableTrim(&e.Note),
		e.CreatedAt.UTC(),
	)
	if err != nil {
		if dbcommon.IsUniqueViolation(err) {
			return nil
		}
		return fmt.Errorf("audit mirror: insert %s: %w", id, err)
	}
	return nil
}
