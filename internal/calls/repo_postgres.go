package calls

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"videocall-platform/pkg/utils"
)

// PostgresRepo is the production Repository over the call_logs table.
//
// Assumed schema (relevant columns):
//
//	call_logs (
//	  id UUID PRIMARY KEY,
//	  organization_id UUID NOT NULL,
//	  site_id UUID NULL,
//	  agent_id UUID NOT NULL,
//	  visitor_id TEXT NOT NULL,
//	  status TEXT NOT NULL,
//	  page_url TEXT NULL,
//	  visitor_ip TEXT NULL, visitor_city TEXT NULL, visitor_region TEXT NULL,
//	  visitor_country TEXT NULL, visitor_country_code TEXT NULL,
//	  ring_started_at TIMESTAMPTZ NOT NULL,
//	  answered_at TIMESTAMPTZ NULL,
//	  answer_time_seconds INT NULL,
//	  started_at TIMESTAMPTZ NULL,
//	  ended_at TIMESTAMPTZ NULL,
//	  duration_seconds INT NULL,
//	  reconnect_token TEXT NULL,
//	  last_heartbeat_at TIMESTAMPTZ NULL,
//	  reconnect_eligible BOOLEAN NOT NULL DEFAULT FALSE,
//	  recording_url TEXT NULL,
//	  disposition_id UUID NULL
//	)
//
// A partial index on (reconnect_token) WHERE reconnect_token IS NOT NULL
// keeps token lookups cheap.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

const callColumns = `
id, organization_id, site_id, agent_id, visitor_id, status, page_url,
visitor_ip, visitor_city, visitor_region, visitor_country, visitor_country_code,
ring_started_at, answered_at, answer_time_seconds, started_at, ended_at, duration_seconds,
reconnect_token, last_heartbeat_at, reconnect_eligible, recording_url, disposition_id
`

func (r *PostgresRepo) Create(ctx context.Context, rec CallRecord) error {
	const q = `
INSERT INTO call_logs (
  id, organization_id, site_id, agent_id, visitor_id, status, page_url,
  visitor_ip, visitor_city, visitor_region, visitor_country, visitor_country_code,
  ring_started_at, reconnect_eligible
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14
)
`
	_, err := r.db.ExecContext(ctx, q,
		rec.ID,
		rec.OrganizationID,
		nullString(rec.SiteID),
		rec.AgentID,
		rec.VisitorID,
		rec.Status,
		nullString(rec.PageURL),
		nullString(rec.VisitorIP),
		nullString(rec.VisitorCity),
		nullString(rec.VisitorRegion),
		nullString(rec.VisitorCountry),
		nullString(rec.VisitorCountryCode),
		rec.RingStartedAt,
		rec.ReconnectEligible,
	)
	return err
}

func (r *PostgresRepo) Get(ctx context.Context, id string) (CallRecord, error) {
	const q = `SELECT ` + callColumns + ` FROM call_logs WHERE id = $1`
	return scanCallRecord(r.db.QueryRowContext(ctx, q, id))
}

func (r *PostgresRepo) Accept(ctx context.Context, id string, at time.Time, token string) (CallRecord, error) {
	var out CallRecord
	err := utils.WithTx(ctx, r.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		const sel = `SELECT ` + callColumns + ` FROM call_logs WHERE id = $1 AND status = 'pending' FOR UPDATE`
		rec, err := scanCallRecord(tx.QueryRowContext(ctx, sel, id))
		if err != nil {
			return err
		}

		answerTime := secondsBetween(rec.RingStartedAt, at)

		const upd = `
UPDATE call_logs
SET status = 'accepted',
    answered_at = $2,
    answer_time_seconds = $3,
    started_at = $2,
    reconnect_token = $4,
    reconnect_eligible = TRUE,
    last_heartbeat_at = $2
WHERE id = $1
`
		if _, err := tx.ExecContext(ctx, upd, id, at, answerTime, token); err != nil {
			return err
		}

		rec.Status = CallStatusAccepted
		rec.AnsweredAt = &at
		rec.AnswerTimeSeconds = &answerTime
		rec.StartedAt = &at
		rec.ReconnectToken = token
		rec.ReconnectEligible = true
		rec.LastHeartbeatAt = &at
		out = rec
		return nil
	})
	if err != nil {
		return CallRecord{}, err
	}
	return out, nil
}

func (r *PostgresRepo) Complete(ctx context.Context, id string, at time.Time) (CallRecord, error) {
	var out CallRecord
	err := utils.WithTx(ctx, r.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		const sel = `SELECT ` + callColumns + ` FROM call_logs WHERE id = $1 AND status = 'accepted' AND ended_at IS NULL FOR UPDATE`
		rec, err := scanCallRecord(tx.QueryRowContext(ctx, sel, id))
		if err != nil {
			return err
		}

		duration := 0
		if rec.StartedAt != nil {
			duration = secondsBetween(*rec.StartedAt, at)
		}

		const upd = `
UPDATE call_logs
SET status = 'completed',
    ended_at = $2,
    duration_seconds = $3,
    reconnect_token = NULL,
    reconnect_eligible = FALSE
WHERE id = $1
`
		if _, err := tx.ExecContext(ctx, upd, id, at, duration); err != nil {
			return err
		}

		rec.Status = CallStatusCompleted
		rec.EndedAt = &at
		rec.DurationSeconds = &duration
		rec.ReconnectToken = ""
		rec.ReconnectEligible = false
		out = rec
		return nil
	})
	if err != nil {
		return CallRecord{}, err
	}
	return out, nil
}

func (r *PostgresRepo) CompleteExpired(ctx context.Context, id string, at, heartbeatCutoff time.Time) (CallRecord, error) {
	var out CallRecord
	err := utils.WithTx(ctx, r.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		const sel = `SELECT ` + callColumns + ` FROM call_logs
WHERE id = $1 AND status = 'accepted' AND ended_at IS NULL
  AND (last_heartbeat_at IS NULL OR last_heartbeat_at <= $2)
FOR UPDATE`
		rec, err := scanCallRecord(tx.QueryRowContext(ctx, sel, id, heartbeatCutoff))
		if err != nil {
			return err
		}

		duration := 0
		if rec.StartedAt != nil {
			duration = secondsBetween(*rec.StartedAt, at)
		}

		const upd = `
UPDATE call_logs
SET status = 'completed',
    ended_at = $2,
    duration_seconds = $3,
    reconnect_token = NULL,
    reconnect_eligible = FALSE
WHERE id = $1
`
		if _, err := tx.ExecContext(ctx, upd, id, at, duration); err != nil {
			return err
		}

		rec.Status = CallStatusCompleted
		rec.EndedAt = &at
		rec.DurationSeconds = &duration
		rec.ReconnectToken = ""
		rec.ReconnectEligible = false
		out = rec
		return nil
	})
	if err != nil {
		return CallRecord{}, err
	}
	return out, nil
}

func (r *PostgresRepo) MarkMissed(ctx context.Context, id string, at time.Time) error {
	const q = `UPDATE call_logs SET status = 'missed', ended_at = $2 WHERE id = $1 AND status = 'pending'`
	return r.execExpectingRow(ctx, q, id, at)
}

func (r *PostgresRepo) MarkRejected(ctx context.Context, id string, at time.Time) error {
	const q = `UPDATE call_logs SET status = 'rejected', ended_at = $2 WHERE id = $1 AND status = 'pending'`
	return r.execExpectingRow(ctx, q, id, at)
}

func (r *PostgresRepo) Delete(ctx context.Context, id string) error {
	const q = `DELETE FROM call_logs WHERE id = $1`
	return r.execExpectingRow(ctx, q, id)
}

func (r *PostgresRepo) UpdateHeartbeat(ctx context.Context, id string, at time.Time) error {
	const q = `
UPDATE call_logs
SET last_heartbeat_at = $2
WHERE id = $1 AND status = 'accepted' AND ended_at IS NULL
`
	return r.execExpectingRow(ctx, q, id, at)
}

func (r *PostgresRepo) GetByReconnectToken(ctx context.Context, token string) (CallRecord, error) {
	const q = `
SELECT ` + callColumns + `
FROM call_logs
WHERE reconnect_token = $1
  AND status = 'accepted'
  AND reconnect_eligible = TRUE
  AND ended_at IS NULL
`
	return scanCallRecord(r.db.QueryRowContext(ctx, q, token))
}

func (r *PostgresRepo) RotateReconnectToken(ctx context.Context, id, token string, at time.Time) error {
	const q = `
UPDATE call_logs
SET reconnect_token = $2,
    last_heartbeat_at = $3
WHERE id = $1 AND status = 'accepted' AND reconnect_eligible = TRUE AND ended_at IS NULL
`
	return r.execExpectingRow(ctx, q, id, token, at)
}

func (r *PostgresRepo) FindReconnectEligible(ctx context.Context, cutoff time.Time) ([]CallRecord, error) {
	const q = `
SELECT ` + callColumns + `
FROM call_logs
WHERE status = 'accepted'
  AND reconnect_eligible = TRUE
  AND ended_at IS NULL
  AND last_heartbeat_at >= $1
ORDER BY last_heartbeat_at DESC
`
	rows, err := r.db.QueryContext(ctx, q, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CallRecord
	for rows.Next() {
		rec, err := scanCallRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (r *PostgresRepo) execExpectingRow(ctx context.Context, q string, args ...any) error {
	res, err := r.db.ExecContext(ctx, q, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// rowScanner covers both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanCallRecord(row rowScanner) (CallRecord, error) {
	var (
		rec                CallRecord
		siteID             sql.NullString
		pageURL            sql.NullString
		visitorIP          sql.NullString
		visitorCity        sql.NullString
		visitorRegion      sql.NullString
		visitorCountry     sql.NullString
		visitorCountryCode sql.NullString
		answeredAt         sql.NullTime
		answerTime         sql.NullInt64
		startedAt          sql.NullTime
		endedAt            sql.NullTime
		duration           sql.NullInt64
		reconnectToken     sql.NullString
		lastHeartbeatAt    sql.NullTime
		recordingURL       sql.NullString
		dispositionID      sql.NullString
	)

	err := row.Scan(
		&rec.ID,
		&rec.OrganizationID,
		&siteID,
		&rec.AgentID,
		&rec.VisitorID,
		&rec.Status,
		&pageURL,
		&visitorIP,
		&visitorCity,
		&visitorRegion,
		&visitorCountry,
		&visitorCountryCode,
		&rec.RingStartedAt,
		&answeredAt,
		&answerTime,
		&startedAt,
		&endedAt,
		&duration,
		&reconnectToken,
		&lastHeartbeatAt,
		&rec.ReconnectEligible,
		&recordingURL,
		&dispositionID,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return CallRecord{}, ErrNotFound
		}
		return CallRecord{}, err
	}

	rec.SiteID = siteID.String
	rec.PageURL = pageURL.String
	rec.VisitorIP = visitorIP.String
	rec.VisitorCity = visitorCity.String
	rec.VisitorRegion = visitorRegion.String
	rec.VisitorCountry = visitorCountry.String
	rec.VisitorCountryCode = visitorCountryCode.String
	rec.ReconnectToken = reconnectToken.String
	rec.RecordingURL = recordingURL.String
	rec.DispositionID = dispositionID.String
	if answeredAt.Valid {
		t := answeredAt.Time
		rec.AnsweredAt = &t
	}
	if answerTime.Valid {
		n := int(answerTime.Int64)
		rec.AnswerTimeSeconds = &n
	}
	if startedAt.Valid {
		t := startedAt.Time
		rec.StartedAt = &t
	}
	if endedAt.Valid {
		t := endedAt.Time
		rec.EndedAt = &t
	}
	if duration.Valid {
		n := int(duration.Int64)
		rec.DurationSeconds = &n
	}
	if lastHeartbeatAt.Valid {
		t := lastHeartbeatAt.Time
		rec.LastHeartbeatAt = &t
	}
	return rec, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
