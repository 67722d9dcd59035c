package monitor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
)

// ErrStore wraps every persistence-layer failure the State Store surfaces.
// Per the error taxonomy, StoreError never aborts the process: callers log
// and let the next scheduler tick retry.
var ErrStore = errors.New("monitor: store error")

// DBTX is satisfied by both *pgxpool.Pool and pgx.Tx, letting Store
// operations run either directly against the pool or inside a transaction.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store is the State Store: the sole writer of Endpoint runtime fields
// once an endpoint has been admitted by the configuration provider.
type Store struct {
	db DBTX
}

// NewStore constructs a Store bound to a database handle.
func NewStore(db DBTX) *Store {
	return &Store{db: db}
}

const endpointColumns = `id, project_id, name, url, method, headers, body,
	expected_status, interval_s, timeout_ms, max_latency_ms, credential_id,
	enabled, status, last_check_at, next_check_at, consecutive_failures`

func scanEndpoint(row pgx.Row) (Endpoint, error) {
	var e Endpoint
	var maxLatency pgtype.Int8
	var credentialID pgtype.UUID
	var lastCheckAt, nextCheckAt pgtype.Timestamptz

	err := row.Scan(
		&e.ID, &e.ProjectID, &e.Name, &e.URL, &e.Method, &e.Headers, &e.Body,
		&e.ExpectedStatus, &e.IntervalSeconds, &e.TimeoutMS, &maxLatency, &credentialID,
		&e.Enabled, &e.Status, &lastCheckAt, &nextCheckAt, &e.ConsecutiveFailures,
	)
	if err != nil {
		return Endpoint{}, err
	}

	if maxLatency.Valid {
		e.MaxLatencyMS = &maxLatency.Int64
	}
	if credentialID.Valid {
		id := uuid.UUID(credentialID.Bytes)
		e.CredentialID = &id
	}
	if lastCheckAt.Valid {
		e.LastCheckAt = &lastCheckAt.Time
	}
	if nextCheckAt.Valid {
		e.NextCheckAt = &nextCheckAt.Time
	}

	return e, nil
}

// DueEndpoints returns enabled endpoints whose next_check_at has arrived (or
// was never set). Tiebreak order is newest-created-last, matching the
// "no ordering guarantee beyond that" contract.
func (s *Store) DueEndpoints(ctx context.Context, now time.Time) ([]Endpoint, error) {
	query := `SELECT ` + endpointColumns + ` FROM endpoints
		WHERE enabled = true AND (next_check_at IS NULL OR next_check_at <= $1)
		ORDER BY created_at ASC`

	rows, err := s.db.Query(ctx, query, now)
	if err != nil {
		return nil, fmt.Errorf("%w: due_endpoints: %v", ErrStore, err)
	}
	defer rows.Close()

	var endpoints []Endpoint
	for rows.Next() {
		e, err := scanEndpoint(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: scanning endpoint: %v", ErrStore, err)
		}
		endpoints = append(endpoints, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterating due endpoints: %v", ErrStore, err)
	}

	return endpoints, nil
}

// Credential loads a credential by ID.
func (s *Store) Credential(ctx context.Context, id uuid.UUID) (Credential, error) {
	query := `SELECT id, project_id, name, type, value, username, header_name
		FROM credentials WHERE id = $1`

	var c Credential
	var sealedUsername pgtype.Text
	var headerName pgtype.Text

	err := s.db.QueryRow(ctx, query, id).Scan(
		&c.ID, &c.ProjectID, &c.Name, &c.Type, &c.SealedValue, &sealedUsername, &headerName,
	)
	if err != nil {
		return Credential{}, fmt.Errorf("%w: credential: %v", ErrStore, err)
	}

	c.SealedUsername = sealedUsername.String
	c.HeaderName = headerName.String
	return c, nil
}

// AppendCheckResult writes an immutable probe record.
func (s *Store) AppendCheckResult(ctx context.Context, r CheckResult) error {
	query := `INSERT INTO check_results (id, endpoint_id, status_code, latency_ms, success, kind, error_message, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}

	var errMsg pgtype.Text
	if r.ErrorMessage != "" {
		errMsg = pgtype.Text{String: r.ErrorMessage, Valid: true}
	}

	_, err := s.db.Exec(ctx, query, r.ID, r.EndpointID, r.StatusCode, r.LatencyMS, r.Success, r.Kind, errMsg, r.CreatedAt)
	if err != nil {
		return fmt.Errorf("%w: append_check_result: %v", ErrStore, err)
	}
	return nil
}

// UpdateEndpointCheckStatus performs the single logical row update the
// Incident Engine issues after every processed check.
func (s *Store) UpdateEndpointCheckStatus(ctx context.Context, endpointID uuid.UUID, status string, lastCheckAt, nextCheckAt time.Time, consecutiveFailures int) error {
	query := `UPDATE endpoints SET status = $2, last_check_at = $3, next_check_at = $4, consecutive_failures = $5
		WHERE id = $1`

	_, err := s.db.Exec(ctx, query, endpointID, status, lastCheckAt, nextCheckAt, consecutiveFailures)
	if err != nil {
		return fmt.Errorf("%w: update_endpoint_check_status: %v", ErrStore, err)
	}
	return nil
}

const incidentColumns = `id, endpoint_id, state, failure_kind, started_at, resolved_at, failed_check_count, last_error_message`

func scanIncident(row pgx.Row) (Incident, error) {
	var inc Incident
	var resolvedAt pgtype.Timestamptz
	var lastErr pgtype.Text

	err := row.Scan(
		&inc.ID, &inc.EndpointID, &inc.State, &inc.FailureKind,
		&inc.StartedAt, &resolvedAt, &inc.FailedCheckCount, &lastErr,
	)
	if err != nil {
		return Incident{}, err
	}

	if resolvedAt.Valid {
		inc.ResolvedAt = &resolvedAt.Time
	}
	inc.LastErrorMessage = lastErr.String

	return inc, nil
}

// OpenIncident returns the at-most-one non-RESOLVED incident for an
// endpoint, or (Incident{}, false, nil) when none exists.
func (s *Store) OpenIncident(ctx context.Context, endpointID uuid.UUID) (Incident, bool, error) {
	query := `SELECT ` + incidentColumns + ` FROM incidents WHERE endpoint_id = $1 AND state <> 'RESOLVED'`

	inc, err := scanIncident(s.db.QueryRow(ctx, query, endpointID))
	if errors.Is(err, pgx.ErrNoRows) {
		return Incident{}, false, nil
	}
	if err != nil {
		return Incident{}, false, fmt.Errorf("%w: open_incident read: %v", ErrStore, err)
	}
	return inc, true, nil
}

// CreateOpenIncident atomically creates a new OPEN incident for endpointID,
// relying on the partial unique index on (endpoint_id) WHERE state <>
// 'RESOLVED' to keep at most one open incident per endpoint even under a
// race. If a concurrent writer won the race, the existing open incident is
// returned instead.
func (s *Store) CreateOpenIncident(ctx context.Context, endpointID uuid.UUID, kind, errorMessage string) (Incident, error) {
	query := `INSERT INTO incidents (id, endpoint_id, state, failure_kind, started_at, failed_check_count, last_error_message)
		VALUES ($1, $2, 'OPEN', $3, $4, 1, $5)
		ON CONFLICT (endpoint_id) WHERE state <> 'RESOLVED' DO NOTHING
		RETURNING ` + incidentColumns

	row := s.db.QueryRow(ctx, query, uuid.New(), endpointID, kind, time.Now().UTC(), errorMessage)
	inc, err := scanIncident(row)
	if err == nil {
		return inc, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Incident{}, fmt.Errorf("%w: open_incident create: %v", ErrStore, err)
	}

	existing, found, err := s.OpenIncident(ctx, endpointID)
	if err != nil {
		return Incident{}, err
	}
	if !found {
		return Incident{}, fmt.Errorf("%w: open_incident create: lost race but no open incident found", ErrStore)
	}
	return existing, nil
}

// IncrementIncidentFailures atomically bumps failed_check_count and
// overwrites last_error_message.
func (s *Store) IncrementIncidentFailures(ctx context.Context, incidentID uuid.UUID, errorMessage string) error {
	query := `UPDATE incidents SET failed_check_count = failed_check_count + 1, last_error_message = $2
		WHERE id = $1`

	_, err := s.db.Exec(ctx, query, incidentID, errorMessage)
	if err != nil {
		return fmt.Errorf("%w: increment_incident_failures: %v", ErrStore, err)
	}
	return nil
}

// ResolveOpenIncident resolves the open incident for endpointID, if any, and
// reports whether a transition actually occurred (needed so the Incident
// Engine emits ENDPOINT_RECOVERED only on a real OPEN/ACKNOWLEDGED→RESOLVED
// transition).
func (s *Store) ResolveOpenIncident(ctx context.Context, endpointID uuid.UUID, now time.Time) (bool, error) {
	query := `UPDATE incidents SET state = 'RESOLVED', resolved_at = $2
		WHERE endpoint_id = $1 AND state <> 'RESOLVED'`

	tag, err := s.db.Exec(ctx, query, endpointID, now)
	if err != nil {
		return false, fmt.Errorf("%w: resolve_open_incident: %v", ErrStore, err)
	}
	return tag.RowsAffected() > 0, nil
}

// LatestResult returns the most recent CheckResult for an endpoint.
func (s *Store) LatestResult(ctx context.Context, endpointID uuid.UUID) (CheckResult, bool, error) {
	query := `SELECT id, endpoint_id, status_code, latency_ms, success, kind, error_message, created_at
		FROM check_results WHERE endpoint_id = $1 ORDER BY created_at DESC LIMIT 1`

	var r CheckResult
	var errMsg pgtype.Text
	err := s.db.QueryRow(ctx, query, endpointID).Scan(
		&r.ID, &r.EndpointID, &r.StatusCode, &r.LatencyMS, &r.Success, &r.Kind, &errMsg, &r.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return CheckResult{}, false, nil
	}
	if err != nil {
		return CheckResult{}, false, fmt.Errorf("%w: latest_result: %v", ErrStore, err)
	}
	r.ErrorMessage = errMsg.String
	return r, true, nil
}

// UptimePct returns the fraction (0-100) of successful checks since the
// given time.
func (s *Store) UptimePct(ctx context.Context, endpointID uuid.UUID, since time.Time) (float64, error) {
	query := `SELECT COALESCE(100.0 * AVG(CASE WHEN success THEN 1 ELSE 0 END), 0)
		FROM check_results WHERE endpoint_id = $1 AND created_at >= $2`

	var pct float64
	if err := s.db.QueryRow(ctx, query, endpointID, since).Scan(&pct); err != nil {
		return 0, fmt.Errorf("%w: uptime_pct: %v", ErrStore, err)
	}
	return pct, nil
}

// AvgLatency returns the average latency in milliseconds since the given time.
func (s *Store) AvgLatency(ctx context.Context, endpointID uuid.UUID, since time.Time) (float64, error) {
	query := `SELECT COALESCE(AVG(latency_ms), 0) FROM check_results WHERE endpoint_id = $1 AND created_at >= $2`

	var avg float64
	if err := s.db.QueryRow(ctx, query, endpointID, since).Scan(&avg); err != nil {
		return 0, fmt.Errorf("%w: avg_latency: %v", ErrStore, err)
	}
	return avg, nil
}

// FailureBreakdown returns a count of failing check results grouped by kind.
func (s *Store) FailureBreakdown(ctx context.Context, endpointID uuid.UUID, since time.Time) (FailureBreakdown, error) {
	query := `SELECT kind, COUNT(*) FROM check_results
		WHERE endpoint_id = $1 AND created_at >= $2 AND success = false
		GROUP BY kind`

	rows, err := s.db.Query(ctx, query, endpointID, since)
	if err != nil {
		return nil, fmt.Errorf("%w: failure_breakdown: %v", ErrStore, err)
	}
	defer rows.Close()

	breakdown := make(FailureBreakdown)
	for rows.Next() {
		var kind string
		var count int64
		if err := rows.Scan(&kind, &count); err != nil {
			return nil, fmt.Errorf("%w: scanning failure breakdown: %v", ErrStore, err)
		}
		breakdown[kind] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterating failure breakdown: %v", ErrStore, err)
	}

	return breakdown, nil
}

// LastFailureAt returns the created_at of the most recent failing check.
func (s *Store) LastFailureAt(ctx context.Context, endpointID uuid.UUID) (time.Time, bool, error) {
	query := `SELECT created_at FROM check_results
		WHERE endpoint_id = $1 AND success = false ORDER BY created_at DESC LIMIT 1`

	var t time.Time
	err := s.db.QueryRow(ctx, query, endpointID).Scan(&t)
	if errors.Is(err, pgx.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("%w: last_failure_at: %v", ErrStore, err)
	}
	return t, true, nil
}

// RetentionSweep deletes check results and alerts older than the given
// horizons. Called by the retention sweeper, never by request-path code.
func (s *Store) RetentionSweep(ctx context.Context, checkResultHorizon, alertHorizon time.Time) (checkResultsDeleted, alertsDeleted int64, err error) {
	tagResults, err := s.db.Exec(ctx, `DELETE FROM check_results WHERE created_at < $1`, checkResultHorizon)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: retention_sweep check_results: %v", ErrStore, err)
	}

	tagAlerts, err := s.db.Exec(ctx, `DELETE FROM alerts WHERE created_at < $1`, alertHorizon)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: retention_sweep alerts: %v", ErrStore, err)
	}

	return tagResults.RowsAffected(), tagAlerts.RowsAffected(), nil
}

// CreateAlert persists a new alert row, delivered=false until a notifier
// sink confirms delivery.
func (s *Store) CreateAlert(ctx context.Context, a Alert) (Alert, error) {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}

	var incidentID pgtype.UUID
	if a.IncidentID != nil {
		incidentID = pgtype.UUID{Bytes: *a.IncidentID, Valid: true}
	}

	query := `INSERT INTO alerts (id, endpoint_id, incident_id, kind, severity, channel, title, message, delivered, delivery_error, acknowledged, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, false, $11)`

	_, err := s.db.Exec(ctx, query, a.ID, a.EndpointID, incidentID, a.Kind, a.Severity, a.Channel, a.Title, a.Message, a.Delivered, nullText(a.DeliveryError), a.CreatedAt)
	if err != nil {
		return Alert{}, fmt.Errorf("%w: create_alert: %v", ErrStore, err)
	}
	return a, nil
}

// MarkAlertDelivered updates delivery outcome after a notifier sink runs.
func (s *Store) MarkAlertDelivered(ctx context.Context, alertID uuid.UUID, delivered bool, deliveryError string) error {
	query := `UPDATE alerts SET delivered = $2, delivery_error = $3 WHERE id = $1`

	_, err := s.db.Exec(ctx, query, alertID, delivered, nullText(deliveryError))
	if err != nil {
		return fmt.Errorf("%w: mark_alert_delivered: %v", ErrStore, err)
	}
	return nil
}

// RecentAlertExists reports whether an alert of the given kind was created
// for endpointID at or after since — the dedup-window check.
func (s *Store) RecentAlertExists(ctx context.Context, endpointID uuid.UUID, kind string, since time.Time) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM alerts WHERE endpoint_id = $1 AND kind = $2 AND created_at >= $3)`

	var exists bool
	if err := s.db.QueryRow(ctx, query, endpointID, kind, since).Scan(&exists); err != nil {
		return false, fmt.Errorf("%w: recent_alert_exists: %v", ErrStore, err)
	}
	return exists, nil
}

// AcknowledgeAlert sets acknowledged=true on a single alert.
func (s *Store) AcknowledgeAlert(ctx context.Context, alertID uuid.UUID, now time.Time) error {
	query := `UPDATE alerts SET acknowledged = true, acknowledged_at = $2 WHERE id = $1 AND acknowledged = false`

	_, err := s.db.Exec(ctx, query, alertID, now)
	if err != nil {
		return fmt.Errorf("%w: acknowledge_alert: %v", ErrStore, err)
	}
	return nil
}

// AcknowledgeAllAlerts applies the acknowledge update to every unacknowledged
// alert for an endpoint in one atomic operation.
func (s *Store) AcknowledgeAllAlerts(ctx context.Context, endpointID uuid.UUID, now time.Time) (int64, error) {
	query := `UPDATE alerts SET acknowledged = true, acknowledged_at = $2 WHERE endpoint_id = $1 AND acknowledged = false`

	tag, err := s.db.Exec(ctx, query, endpointID, now)
	if err != nil {
		return 0, fmt.Errorf("%w: acknowledge_all_alerts: %v", ErrStore, err)
	}
	return tag.RowsAffected(), nil
}

func nullText(s string) pgtype.Text {
	if s == "" {
		return pgtype.Text{}
	}
	return pgtype.Text{String: s, Valid: true}
}
