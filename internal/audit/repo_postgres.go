package audit

import (
	"context"
	"database/sql"
)

// PostgresRepo appends audit events to the call_audit_events table.
//
// Assumed schema:
//
//	call_audit_events (
//	  id UUID PRIMARY KEY,
//	  organization_id UUID NOT NULL,
//	  type TEXT NOT NULL,
//	  call_log_id UUID NULL,
//	  request_id TEXT NULL,
//	  call_id TEXT NULL,
//	  agent_id UUID NULL,
//	  visitor_id TEXT NULL,
//	  from_status TEXT NULL,
//	  to_status TEXT NULL,
//	  message TEXT NULL,
//	  created_at TIMESTAMPTZ NOT NULL
//	)
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

func (r *PostgresRepo) Append(ctx context.Context, e Event) error {
	const q = `
INSERT INTO call_audit_events (
  id, organization_id, type, call_log_id, request_id, call_id,
  agent_id, visitor_id, from_status, to_status, message, created_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12
)
`
	_, err := r.db.ExecContext(ctx, q,
		e.ID,
		e.OrganizationID,
		e.Type,
		nullString(e.CallLogID),
		nullString(e.RequestID),
		nullString(e.CallID),
		nullString(e.AgentID),
		nullString(e.VisitorID),
		nullString(e.FromStatus),
		nullString(e.ToStatus),
		nullString(e.Message),
		e.CreatedAt,
	)
	return err
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
