package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/pauly7610/ai-evaluation-platform-sub002/internal/model"
)

// SQL is the database/sql backed store. It speaks Postgres through pgx and
// SQLite through modernc. Timestamps are stored as unix milliseconds.
type SQL struct {
	db *sql.DB
	d  dialect
}

// Migrator is implemented by stores that own a schema.
type Migrator interface {
	Migrate(ctx context.Context) error
}

// Open picks a backend from the DSN: empty means memory, postgres:// or
// postgresql:// means Postgres, sqlite://path or file: means SQLite.
func Open(ctx context.Context, dsn string) (Store, error) {
	switch {
	case dsn == "":
		return NewMemory(), nil
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return NewPostgres(ctx, dsn)
	case strings.HasPrefix(dsn, "sqlite://"):
		return NewSQLite(ctx, strings.TrimPrefix(dsn, "sqlite://"))
	case strings.HasPrefix(dsn, "file:"):
		return NewSQLite(ctx, dsn)
	default:
		return nil, fmt.Errorf("unsupported DATABASE_URL scheme")
	}
}

func NewPostgres(ctx context.Context, dsn string) (*SQL, error) {
	return openSQL(ctx, postgresDialect, dsn)
}

func NewSQLite(ctx context.Context, path string) (*SQL, error) {
	s, err := openSQL(ctx, sqliteDialect, path)
	if err != nil {
		return nil, err
	}
	// One writer; also keeps file-less databases on a single connection.
	s.db.SetMaxOpenConns(1)
	if _, err := s.db.ExecContext(ctx, `PRAGMA foreign_keys = ON`); err != nil {
		_ = s.db.Close()
		return nil, fmt.Errorf("sqlite pragma: %w", err)
	}
	return s, nil
}

func openSQL(ctx context.Context, d dialect, dsn string) (*SQL, error) {
	db, err := sql.Open(d.driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", d.name, err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", d.name, err)
	}
	return &SQL{db: db, d: d}, nil
}

func (s *SQL) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *SQL) Close() error { return s.db.Close() }

const endpointColumns = `id, organization_id, url, events, secret, filter_expr, description, status, last_delivered_at, created_at, updated_at`

func (s *SQL) CreateEndpoint(ctx context.Context, ep model.Endpoint) (model.Endpoint, error) {
	events, err := json.Marshal(ep.Events)
	if err != nil {
		return model.Endpoint{}, fmt.Errorf("encode events: %w", err)
	}
	q := s.d.rebind(`INSERT INTO webhook_endpoints (` + endpointColumns + `) VALUES (?,?,?,?,?,?,?,?,?,?,?)`)
	_, err = s.db.ExecContext(ctx, q,
		ep.ID, ep.TenantID, ep.URL, string(events), ep.Secret, ep.Filter, ep.Description,
		string(ep.Status), nullMillis(ep.LastDeliveredAt), ep.CreatedAt.UnixMilli(), ep.UpdatedAt.UnixMilli())
	if err != nil {
		return model.Endpoint{}, fmt.Errorf("insert endpoint: %w", err)
	}
	return ep, nil
}

func (s *SQL) GetEndpoint(ctx context.Context, tenantID, id string) (model.Endpoint, error) {
	q := s.d.rebind(`SELECT ` + endpointColumns + ` FROM webhook_endpoints WHERE organization_id=? AND id=? AND deleted_at IS NULL`)
	ep, err := scanEndpoint(s.db.QueryRowContext(ctx, q, tenantID, id))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Endpoint{}, fmt.Errorf("endpoint %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return model.Endpoint{}, fmt.Errorf("get endpoint: %w", err)
	}
	return ep, nil
}

func (s *SQL) ListEndpoints(ctx context.Context, tenantID string, q model.EndpointQuery) ([]model.Endpoint, error) {
	query := `SELECT ` + endpointColumns + ` FROM webhook_endpoints WHERE organization_id=? AND deleted_at IS NULL`
	args := []any{tenantID}
	if q.Status != "" {
		query += ` AND status=?`
		args = append(args, string(q.Status))
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`
	args = append(args, sqlLimit(q.Limit), max(q.Offset, 0))
	return s.queryEndpoints(ctx, s.d.rebind(query), args...)
}

func (s *SQL) ListActiveEndpoints(ctx context.Context, tenantID string) ([]model.Endpoint, error) {
	q := s.d.rebind(`SELECT ` + endpointColumns + ` FROM webhook_endpoints WHERE organization_id=? AND status=? AND deleted_at IS NULL`)
	return s.queryEndpoints(ctx, q, tenantID, string(model.EndpointActive))
}

func (s *SQL) queryEndpoints(ctx context.Context, q string, args ...any) ([]model.Endpoint, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list endpoints: %w", err)
	}
	defer rows.Close()
	out := []model.Endpoint{}
	for rows.Next() {
		ep, err := scanEndpoint(rows)
		if err != nil {
			return nil, fmt.Errorf("scan endpoint: %w", err)
		}
		out = append(out, ep)
	}
	return out, rows.Err()
}

func (s *SQL) UpdateEndpoint(ctx context.Context, ep model.Endpoint) (model.Endpoint, error) {
	events, err := json.Marshal(ep.Events)
	if err != nil {
		return model.Endpoint{}, fmt.Errorf("encode events: %w", err)
	}
	q := s.d.rebind(`UPDATE webhook_endpoints SET url=?, events=?, status=?, filter_expr=?, description=?, updated_at=?
WHERE organization_id=? AND id=? AND deleted_at IS NULL`)
	res, err := s.db.ExecContext(ctx, q,
		ep.URL, string(events), string(ep.Status), ep.Filter, ep.Description, ep.UpdatedAt.UnixMilli(),
		ep.TenantID, ep.ID)
	if err != nil {
		return model.Endpoint{}, fmt.Errorf("update endpoint: %w", err)
	}
	if err := oneRow(res, ep.ID); err != nil {
		return model.Endpoint{}, err
	}
	return s.GetEndpoint(ctx, ep.TenantID, ep.ID)
}

func (s *SQL) DeleteEndpoint(ctx context.Context, tenantID, id string, at time.Time) error {
	q := s.d.rebind(`UPDATE webhook_endpoints SET deleted_at=? WHERE organization_id=? AND id=? AND deleted_at IS NULL`)
	res, err := s.db.ExecContext(ctx, q, at.UnixMilli(), tenantID, id)
	if err != nil {
		return fmt.Errorf("delete endpoint: %w", err)
	}
	return oneRow(res, id)
}

func (s *SQL) MarkEndpointDelivered(ctx context.Context, tenantID, id string, at time.Time) error {
	q := s.d.rebind(`UPDATE webhook_endpoints SET last_delivered_at=? WHERE organization_id=? AND id=? AND deleted_at IS NULL`)
	res, err := s.db.ExecContext(ctx, q, at.UnixMilli(), tenantID, id)
	if err != nil {
		return fmt.Errorf("mark endpoint delivered: %w", err)
	}
	return oneRow(res, id)
}

func (s *SQL) InsertDeliveryAttempt(ctx context.Context, a model.DeliveryAttempt) (model.DeliveryAttempt, error) {
	q := s.d.rebind(`INSERT INTO webhook_delivery_attempts
(endpoint_id, organization_id, event_type, payload, outcome, response_status, response_body, attempt_count, latency_ms, created_at)
VALUES (?,?,?,?,?,?,?,?,?,?) RETURNING id`)
	var status sql.NullInt64
	if a.ResponseStatus != nil {
		status = sql.NullInt64{Int64: int64(*a.ResponseStatus), Valid: true}
	}
	var body sql.NullString
	if a.ResponseBody != nil {
		body = sql.NullString{String: *a.ResponseBody, Valid: true}
	}
	err := s.db.QueryRowContext(ctx, q,
		a.EndpointID, a.TenantID, a.EventType, string(a.Payload), string(a.Outcome),
		status, body, a.AttemptCount, a.LatencyMs, a.CreatedAt.UnixMilli()).Scan(&a.ID)
	if err != nil {
		return model.DeliveryAttempt{}, fmt.Errorf("insert delivery attempt: %w", err)
	}
	return a, nil
}

func (s *SQL) ListDeliveryAttempts(ctx context.Context, tenantID, endpointID string, page model.Page) ([]model.DeliveryAttempt, error) {
	q := s.d.rebind(`SELECT id, endpoint_id, organization_id, event_type, payload, outcome, response_status, response_body, attempt_count, latency_ms, created_at
FROM webhook_delivery_attempts WHERE organization_id=? AND endpoint_id=?
ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`)
	rows, err := s.db.QueryContext(ctx, q, tenantID, endpointID, sqlLimit(page.Limit), max(page.Offset, 0))
	if err != nil {
		return nil, fmt.Errorf("list delivery attempts: %w", err)
	}
	defer rows.Close()
	out := []model.DeliveryAttempt{}
	for rows.Next() {
		var (
			a       model.DeliveryAttempt
			payload string
			outcome string
			status  sql.NullInt64
			body    sql.NullString
			created int64
		)
		if err := rows.Scan(&a.ID, &a.EndpointID, &a.TenantID, &a.EventType, &payload, &outcome,
			&status, &body, &a.AttemptCount, &a.LatencyMs, &created); err != nil {
			return nil, fmt.Errorf("scan delivery attempt: %w", err)
		}
		a.Payload = json.RawMessage(payload)
		a.Outcome = model.Outcome(outcome)
		if status.Valid {
			v := int(status.Int64)
			a.ResponseStatus = &v
		}
		if body.Valid {
			v := body.String
			a.ResponseBody = &v
		}
		a.CreatedAt = fromMillis(created)
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *SQL) ScheduleRetry(ctx context.Context, t model.RetryTicket) error {
	q := s.d.rebind(`INSERT INTO webhook_retries (attempt_id, organization_id, endpoint_id, due_at) VALUES (?,?,?,?)
ON CONFLICT (attempt_id) DO UPDATE SET due_at = excluded.due_at`)
	if _, err := s.db.ExecContext(ctx, q, t.AttemptID, t.TenantID, t.EndpointID, t.DueAt.UnixMilli()); err != nil {
		return fmt.Errorf("schedule retry: %w", err)
	}
	return nil
}

// ClaimDueRetries selects due tickets and deletes each one. Only tickets
// whose delete affected exactly one row are returned, so concurrent
// sweepers never claim the same ticket.
func (s *SQL) ClaimDueRetries(ctx context.Context, now time.Time, limit int) ([]model.DueRetry, error) {
	q := s.d.rebind(`SELECT r.attempt_id, r.organization_id, r.endpoint_id, r.due_at, a.event_type, a.payload, a.attempt_count
FROM webhook_retries r JOIN webhook_delivery_attempts a ON a.id = r.attempt_id
WHERE r.due_at <= ? ORDER BY r.due_at LIMIT ?`)
	rows, err := s.db.QueryContext(ctx, q, now.UnixMilli(), sqlLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("select due retries: %w", err)
	}
	var due []model.DueRetry
	for rows.Next() {
		var (
			d       model.DueRetry
			dueAt   int64
			payload string
		)
		if err := rows.Scan(&d.AttemptID, &d.TenantID, &d.EndpointID, &dueAt, &d.EventType, &payload, &d.AttemptCount); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan due retry: %w", err)
		}
		d.DueAt = fromMillis(dueAt)
		d.Payload = json.RawMessage(payload)
		due = append(due, d)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	// Close before deleting; SQLite runs on a single connection.
	rows.Close()

	del := s.d.rebind(`DELETE FROM webhook_retries WHERE attempt_id=?`)
	out := make([]model.DueRetry, 0, len(due))
	for _, d := range due {
		res, err := s.db.ExecContext(ctx, del, d.AttemptID)
		if err != nil {
			return out, fmt.Errorf("claim retry %d: %w", d.AttemptID, err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 1 {
			out = append(out, d)
		}
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEndpoint(r rowScanner) (model.Endpoint, error) {
	var (
		ep        model.Endpoint
		events    string
		status    string
		delivered sql.NullInt64
		created   int64
		updated   int64
	)
	if err := r.Scan(&ep.ID, &ep.TenantID, &ep.URL, &events, &ep.Secret, &ep.Filter, &ep.Description,
		&status, &delivered, &created, &updated); err != nil {
		return model.Endpoint{}, err
	}
	if err := json.Unmarshal([]byte(events), &ep.Events); err != nil {
		return model.Endpoint{}, fmt.Errorf("decode events: %w", err)
	}
	ep.Status = model.EndpointStatus(status)
	if delivered.Valid {
		t := fromMillis(delivered.Int64)
		ep.LastDeliveredAt = &t
	}
	ep.CreatedAt = fromMillis(created)
	ep.UpdatedAt = fromMillis(updated)
	return ep, nil
}

func oneRow(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("endpoint %s: %w", id, ErrNotFound)
	}
	return nil
}

func nullMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

// sqlLimit maps "no limit" to a bound both dialects accept.
func sqlLimit(limit int) int {
	if limit <= 0 {
		return 1 << 30
	}
	return limit
}
