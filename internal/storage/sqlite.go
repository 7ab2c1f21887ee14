// Package storage persists checks, monitors, and their append-only history in
// SQLite. All entity mutations are single-row read-modify-write operations;
// state transitions and their history records are written in one transaction
// so a failed write never leaves a transition without its event.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/pilgrim-12/cronowl-sub001/internal/domain"
	"github.com/pilgrim-12/cronowl-sub001/internal/probe"
	"github.com/pilgrim-12/cronowl-sub001/internal/secrets"
)

const schema = `
CREATE TABLE IF NOT EXISTS checks (
    id                TEXT PRIMARY KEY,
    owner_id          TEXT NOT NULL,
    name              TEXT NOT NULL,
    slug              TEXT NOT NULL UNIQUE,
    schedule_type     TEXT NOT NULL,
    schedule_preset   TEXT NOT NULL DEFAULT '',
    schedule_cron     TEXT NOT NULL DEFAULT '',
    schedule_tz       TEXT NOT NULL DEFAULT '',
    grace_period_min  INTEGER NOT NULL DEFAULT 0,
    status            TEXT NOT NULL CHECK(status IN ('new', 'up', 'down')),
    last_ping_at      TEXT,
    last_duration_ms  INTEGER,
    paused            INTEGER NOT NULL DEFAULT 0,
    tags              TEXT NOT NULL DEFAULT '[]',
    webhook_url       TEXT NOT NULL DEFAULT '',
    max_duration_sec  INTEGER,
    created_at        TEXT NOT NULL,
    updated_at        TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_checks_owner ON checks(owner_id);

CREATE TABLE IF NOT EXISTS pings (
    id          TEXT PRIMARY KEY,
    check_id    TEXT NOT NULL REFERENCES checks(id) ON DELETE CASCADE,
    timestamp   TEXT NOT NULL,
    source_ip   TEXT NOT NULL DEFAULT '',
    user_agent  TEXT NOT NULL DEFAULT '',
    duration_ms INTEGER,
    exit_code   INTEGER,
    output      TEXT NOT NULL DEFAULT '',
    kind        TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_pings_check ON pings(check_id, timestamp DESC);

CREATE TABLE IF NOT EXISTS status_events (
    id                 TEXT PRIMARY KEY,
    entity_kind        TEXT NOT NULL,
    entity_id          TEXT NOT NULL,
    status             TEXT NOT NULL,
    timestamp          TEXT NOT NULL,
    prev_status_dur_ms INTEGER
);

CREATE INDEX IF NOT EXISTS idx_status_events_entity ON status_events(entity_kind, entity_id, timestamp DESC);

CREATE TABLE IF NOT EXISTS monitors (
    id                    TEXT PRIMARY KEY,
    owner_id              TEXT NOT NULL,
    name                  TEXT NOT NULL,
    url                   TEXT NOT NULL,
    method                TEXT NOT NULL,
    expected_status_codes TEXT NOT NULL,
    timeout_ms            INTEGER NOT NULL,
    interval_sec          INTEGER NOT NULL,
    headers               TEXT NOT NULL DEFAULT '{}',
    body                  TEXT NOT NULL DEFAULT '',
    content_type          TEXT NOT NULL DEFAULT '',
    assertions            TEXT NOT NULL DEFAULT '{}',
    alert_after_failures  INTEGER NOT NULL,
    consecutive_failures  INTEGER NOT NULL DEFAULT 0,
    status                TEXT NOT NULL CHECK(status IN ('pending', 'up', 'degraded', 'down')),
    last_checked_at       TEXT,
    last_response_time_ms INTEGER,
    last_status_code      INTEGER,
    last_error            TEXT NOT NULL DEFAULT '',
    enabled               INTEGER NOT NULL DEFAULT 1,
    webhook_url           TEXT NOT NULL DEFAULT '',
    tags                  TEXT NOT NULL DEFAULT '[]',
    created_at            TEXT NOT NULL,
    updated_at            TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_monitors_owner ON monitors(owner_id);

CREATE TABLE IF NOT EXISTS monitor_checks (
    id               TEXT PRIMARY KEY,
    monitor_id       TEXT NOT NULL REFERENCES monitors(id) ON DELETE CASCADE,
    timestamp        TEXT NOT NULL,
    success          INTEGER NOT NULL,
    status_code      INTEGER NOT NULL DEFAULT 0,
    response_time_ms INTEGER NOT NULL,
    error            TEXT NOT NULL DEFAULT '',
    body_snippet     TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_monitor_checks_monitor ON monitor_checks(monitor_id, timestamp DESC);
`

// DB wraps a SQLite database. If a secrets box is attached, sensitive monitor
// headers and request bodies are encrypted before they are written.
type DB struct {
	db  *sql.DB
	box *secrets.Box
}

// Open opens (or creates) the SQLite database at path and applies the schema.
// box may be nil, in which case sensitive values are stored as-is.
func Open(path string, box *secrets.Box) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite at %q: %w", path, err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA cache_size=5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("applying pragma %q: %w", p, err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}

	return &DB{db: db, box: box}, nil
}

// Close closes the underlying database connection.
func (d *DB) Close() error {
	return d.db.Close()
}

// --- time and null helpers ---

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		t, err = time.Parse(time.RFC3339, s)
		if err != nil {
			return time.Time{}, fmt.Errorf("parsing timestamp %q: %w", s, err)
		}
	}
	return t, nil
}

func parseTimePtr(s sql.NullString) (*time.Time, error) {
	if !s.Valid {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nullInt64Ptr(n sql.NullInt64) *int64 {
	if !n.Valid {
		return nil
	}
	v := n.Int64
	return &v
}

func nullIntPtr(n sql.NullInt64) *int {
	if !n.Valid {
		return nil
	}
	v := int(n.Int64)
	return &v
}

func marshalJSON(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshaling %T: %w", v, err)
	}
	return string(b), nil
}

// --- checks ---

// CreateCheck inserts a new check.
func (d *DB) CreateCheck(ctx context.Context, c domain.Check) error {
	tags, err := marshalJSON(c.Tags)
	if err != nil {
		return err
	}
	_, err = d.db.ExecContext(ctx, `
		INSERT INTO checks (
			id, owner_id, name, slug,
			schedule_type, schedule_preset, schedule_cron, schedule_tz,
			grace_period_min, status, last_ping_at, last_duration_ms,
			paused, tags, webhook_url, max_duration_sec, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.OwnerID, c.Name, c.Slug,
		string(c.Schedule.Type), c.Schedule.Preset, c.Schedule.CronExpr, c.Schedule.Timezone,
		c.GracePeriodMin, string(c.Status), formatTimePtr(c.LastPingAt), c.LastDurationMs,
		boolToInt(c.Paused), tags, c.WebhookURL, c.MaxDurationSec,
		formatTime(c.CreatedAt), formatTime(c.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting check %q: %w", c.Slug, err)
	}
	return nil
}

const checkColumns = `id, owner_id, name, slug,
	schedule_type, schedule_preset, schedule_cron, schedule_tz,
	grace_period_min, status, last_ping_at, last_duration_ms,
	paused, tags, webhook_url, max_duration_sec, created_at, updated_at`

// GetCheck returns the check with the given id, or nil if absent.
func (d *DB) GetCheck(ctx context.Context, id string) (*domain.Check, error) {
	row := d.db.QueryRowContext(ctx, `SELECT `+checkColumns+` FROM checks WHERE id = ?`, id)
	c, err := scanCheck(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying check %q: %w", id, err)
	}
	return c, nil
}

// GetCheckBySlug returns the check owning the given ping slug, or nil.
func (d *DB) GetCheckBySlug(ctx context.Context, slug string) (*domain.Check, error) {
	row := d.db.QueryRowContext(ctx, `SELECT `+checkColumns+` FROM checks WHERE slug = ?`, slug)
	c, err := scanCheck(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying check by slug %q: %w", slug, err)
	}
	return c, nil
}

// ListActiveChecks returns all non-paused checks, the sweep's candidate set.
func (d *DB) ListActiveChecks(ctx context.Context) ([]domain.Check, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT `+checkColumns+` FROM checks WHERE paused = 0 ORDER BY slug`)
	if err != nil {
		return nil, fmt.Errorf("querying active checks: %w", err)
	}
	defer rows.Close()
	return scanChecks(rows)
}

// ListChecks returns every check, paused or not.
func (d *DB) ListChecks(ctx context.Context) ([]domain.Check, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT `+checkColumns+` FROM checks ORDER BY slug`)
	if err != nil {
		return nil, fmt.Errorf("querying checks: %w", err)
	}
	defer rows.Close()
	return scanChecks(rows)
}

// ListChecksByOwner returns all checks for one owner.
func (d *DB) ListChecksByOwner(ctx context.Context, ownerID string) ([]domain.Check, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT `+checkColumns+` FROM checks WHERE owner_id = ? ORDER BY created_at`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("querying checks for owner %q: %w", ownerID, err)
	}
	defer rows.Close()
	return scanChecks(rows)
}

// CountChecksByOwner returns the number of checks an owner has.
func (d *DB) CountChecksByOwner(ctx context.Context, ownerID string) (int, error) {
	var n int
	err := d.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM checks WHERE owner_id = ?`, ownerID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting checks for owner %q: %w", ownerID, err)
	}
	return n, nil
}

// UpdateCheck rewrites a check's owner-editable configuration.
func (d *DB) UpdateCheck(ctx context.Context, c domain.Check) error {
	tags, err := marshalJSON(c.Tags)
	if err != nil {
		return err
	}
	res, err := d.db.ExecContext(ctx, `
		UPDATE checks SET
			name = ?, slug = ?,
			schedule_type = ?, schedule_preset = ?, schedule_cron = ?, schedule_tz = ?,
			grace_period_min = ?, paused = ?, tags = ?, webhook_url = ?,
			max_duration_sec = ?, updated_at = ?
		WHERE id = ?`,
		c.Name, c.Slug,
		string(c.Schedule.Type), c.Schedule.Preset, c.Schedule.CronExpr, c.Schedule.Timezone,
		c.GracePeriodMin, boolToInt(c.Paused), tags, c.WebhookURL,
		c.MaxDurationSec, formatTime(time.Now()),
		c.ID,
	)
	if err != nil {
		return fmt.Errorf("updating check %q: %w", c.ID, err)
	}
	return requireRow(res, "check", c.ID)
}

// SaveCheckState persists a state-machine decision for one check: the
// updated runtime fields plus the optional status event and ping, atomically.
func (d *DB) SaveCheckState(ctx context.Context, c domain.Check, event *domain.StatusEvent, ping *domain.Ping) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE checks SET status = ?, last_ping_at = ?, last_duration_ms = ?, updated_at = ?
		WHERE id = ?`,
		string(c.Status), formatTimePtr(c.LastPingAt), c.LastDurationMs, formatTime(time.Now()), c.ID,
	)
	if err != nil {
		return fmt.Errorf("updating check state %q: %w", c.ID, err)
	}
	if err := requireRow(res, "check", c.ID); err != nil {
		return err
	}

	if event != nil {
		if err := insertStatusEvent(ctx, tx, *event); err != nil {
			return err
		}
	}
	if ping != nil {
		if err := insertPing(ctx, tx, *ping); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// TransitionCheckDown marks a check down only while the stored row still
// matches the snapshot the overdue decision was made from. A ping processed
// after the snapshot was taken changes status or last_ping_at, the guarded
// update then touches zero rows, and the whole transition is dropped: the
// fresh ping wins. The returned bool reports whether the transition was
// applied.
func (d *DB) TransitionCheckDown(ctx context.Context, c domain.Check, now time.Time, event *domain.StatusEvent) (bool, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE checks SET status = ?, updated_at = ?
		WHERE id = ? AND status = ? AND last_ping_at IS ?`,
		string(domain.CheckStatusDown), formatTime(now),
		c.ID, string(c.Status), formatTimePtr(c.LastPingAt),
	)
	if err != nil {
		return false, fmt.Errorf("marking check %q down: %w", c.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("marking check %q down: %w", c.ID, err)
	}
	if n == 0 {
		return false, nil
	}

	if event != nil {
		if err := insertStatusEvent(ctx, tx, *event); err != nil {
			return false, err
		}
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}

// DeleteCheck removes a check and cascades its pings and status events.
func (d *DB) DeleteCheck(ctx context.Context, id string) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM checks WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting check %q: %w", id, err)
	}
	if err := requireRow(res, "check", id); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM status_events WHERE entity_kind = ? AND entity_id = ?`,
		string(domain.EntityCheck), id); err != nil {
		return fmt.Errorf("deleting status events for check %q: %w", id, err)
	}
	return tx.Commit()
}

func scanCheck(row scanner) (*domain.Check, error) {
	var c domain.Check
	var schedType, tags string
	var lastPing sql.NullString
	var lastDur, maxDur sql.NullInt64
	var paused int
	var createdAt, updatedAt string

	err := row.Scan(
		&c.ID, &c.OwnerID, &c.Name, &c.Slug,
		&schedType, &c.Schedule.Preset, &c.Schedule.CronExpr, &c.Schedule.Timezone,
		&c.GracePeriodMin, &c.Status, &lastPing, &lastDur,
		&paused, &tags, &c.WebhookURL, &maxDur, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	c.Schedule.Type = domain.ScheduleType(schedType)
	c.Paused = paused != 0
	c.LastDurationMs = nullInt64Ptr(lastDur)
	c.MaxDurationSec = nullIntPtr(maxDur)
	if c.LastPingAt, err = parseTimePtr(lastPing); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(tags), &c.Tags); err != nil {
		return nil, fmt.Errorf("unmarshaling tags for check %q: %w", c.ID, err)
	}
	if c.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if c.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &c, nil
}

func scanChecks(rows *sql.Rows) ([]domain.Check, error) {
	var checks []domain.Check
	for rows.Next() {
		c, err := scanCheck(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning check row: %w", err)
		}
		checks = append(checks, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating check rows: %w", err)
	}
	return checks, nil
}

// --- pings ---

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertPing(ctx context.Context, ex execer, p domain.Ping) error {
	_, err := ex.ExecContext(ctx, `
		INSERT INTO pings (id, check_id, timestamp, source_ip, user_agent, duration_ms, exit_code, output, kind)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.CheckID, formatTime(p.Timestamp), p.SourceIP, p.UserAgent,
		p.DurationMs, p.ExitCode, domain.TruncateOutput(p.Output), string(p.Kind),
	)
	if err != nil {
		return fmt.Errorf("inserting ping for check %q: %w", p.CheckID, err)
	}
	return nil
}

// InsertPing appends one ping record.
func (d *DB) InsertPing(ctx context.Context, p domain.Ping) error {
	return insertPing(ctx, d.db, p)
}

// ListPings returns paginated ping history for a check plus the total count.
func (d *DB) ListPings(ctx context.Context, checkID string, limit, offset int) ([]domain.Ping, int, error) {
	var total int
	if err := d.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM pings WHERE check_id = ?`, checkID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting pings for check %q: %w", checkID, err)
	}

	rows, err := d.db.QueryContext(ctx, `
		SELECT id, check_id, timestamp, source_ip, user_agent, duration_ms, exit_code, output, kind
		FROM pings WHERE check_id = ? ORDER BY timestamp DESC LIMIT ? OFFSET ?`,
		checkID, limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("querying pings for check %q: %w", checkID, err)
	}
	defer rows.Close()

	var pings []domain.Ping
	for rows.Next() {
		var p domain.Ping
		var ts, kind string
		var dur, exitCode sql.NullInt64
		if err := rows.Scan(&p.ID, &p.CheckID, &ts, &p.SourceIP, &p.UserAgent, &dur, &exitCode, &p.Output, &kind); err != nil {
			return nil, 0, fmt.Errorf("scanning ping row: %w", err)
		}
		if p.Timestamp, err = parseTime(ts); err != nil {
			return nil, 0, err
		}
		p.DurationMs = nullInt64Ptr(dur)
		p.ExitCode = nullIntPtr(exitCode)
		p.Kind = domain.PingKind(kind)
		pings = append(pings, p)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterating ping rows: %w", err)
	}
	return pings, total, nil
}

// LatestStartPing returns the most recent start ping for a check, or nil when
// none was ever recorded.
func (d *DB) LatestStartPing(ctx context.Context, checkID string) (*domain.Ping, error) {
	row := d.db.QueryRowContext(ctx, `
		SELECT id, check_id, timestamp, source_ip, user_agent, duration_ms, exit_code, output, kind
		FROM pings WHERE check_id = ? AND kind = ? ORDER BY timestamp DESC LIMIT 1`,
		checkID, string(domain.PingStart),
	)

	var p domain.Ping
	var ts, kind string
	var dur, exitCode sql.NullInt64
	err := row.Scan(&p.ID, &p.CheckID, &ts, &p.SourceIP, &p.UserAgent, &dur, &exitCode, &p.Output, &kind)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying start ping for check %q: %w", checkID, err)
	}
	if p.Timestamp, err = parseTime(ts); err != nil {
		return nil, err
	}
	p.DurationMs = nullInt64Ptr(dur)
	p.ExitCode = nullIntPtr(exitCode)
	p.Kind = domain.PingKind(kind)
	return &p, nil
}

// --- status events ---

func insertStatusEvent(ctx context.Context, ex execer, e domain.StatusEvent) error {
	_, err := ex.ExecContext(ctx, `
		INSERT INTO status_events (id, entity_kind, entity_id, status, timestamp, prev_status_dur_ms)
		VALUES (?, ?, ?, ?, ?, ?)`,
		e.ID, string(e.EntityKind), e.EntityID, e.Status, formatTime(e.Timestamp), e.PrevStatusDurMs,
	)
	if err != nil {
		return fmt.Errorf("inserting status event for %s %q: %w", e.EntityKind, e.EntityID, err)
	}
	return nil
}

// LatestStatusEvent returns the most recent event for an entity, or nil.
func (d *DB) LatestStatusEvent(ctx context.Context, kind domain.EntityKind, entityID string) (*domain.StatusEvent, error) {
	row := d.db.QueryRowContext(ctx, `
		SELECT id, entity_kind, entity_id, status, timestamp, prev_status_dur_ms
		FROM status_events WHERE entity_kind = ? AND entity_id = ?
		ORDER BY timestamp DESC LIMIT 1`,
		string(kind), entityID,
	)
	e, err := scanStatusEvent(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying latest status event for %s %q: %w", kind, entityID, err)
	}
	return e, nil
}

// ListStatusEvents returns the newest events for an entity, newest first.
func (d *DB) ListStatusEvents(ctx context.Context, kind domain.EntityKind, entityID string, limit int) ([]domain.StatusEvent, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT id, entity_kind, entity_id, status, timestamp, prev_status_dur_ms
		FROM status_events WHERE entity_kind = ? AND entity_id = ?
		ORDER BY timestamp DESC LIMIT ?`,
		string(kind), entityID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying status events for %s %q: %w", kind, entityID, err)
	}
	defer rows.Close()

	var events []domain.StatusEvent
	for rows.Next() {
		e, err := scanStatusEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning status event row: %w", err)
		}
		events = append(events, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating status event rows: %w", err)
	}
	return events, nil
}

func scanStatusEvent(row scanner) (*domain.StatusEvent, error) {
	var e domain.StatusEvent
	var kind, ts string
	var dur sql.NullInt64
	if err := row.Scan(&e.ID, &kind, &e.EntityID, &e.Status, &ts, &dur); err != nil {
		return nil, err
	}
	e.EntityKind = domain.EntityKind(kind)
	e.PrevStatusDurMs = nullInt64Ptr(dur)
	var err error
	if e.Timestamp, err = parseTime(ts); err != nil {
		return nil, err
	}
	return &e, nil
}

// --- monitors ---

// CreateMonitor inserts a new monitor, encrypting sensitive configuration.
func (d *DB) CreateMonitor(ctx context.Context, m domain.HttpMonitor) error {
	cols, err := d.monitorConfigColumns(m)
	if err != nil {
		return err
	}
	_, err = d.db.ExecContext(ctx, `
		INSERT INTO monitors (
			id, owner_id, name, url, method, expected_status_codes,
			timeout_ms, interval_sec, headers, body, content_type, assertions,
			alert_after_failures, consecutive_failures, status,
			last_checked_at, last_response_time_ms, last_status_code, last_error,
			enabled, webhook_url, tags, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.OwnerID, m.Name, m.URL, m.Method, cols.codes,
		m.TimeoutMs, m.IntervalSec, cols.headers, cols.body, m.ContentType, cols.assertions,
		m.AlertAfterFailures, m.ConsecutiveFailures, string(m.Status),
		formatTimePtr(m.LastCheckedAt), m.LastResponseTimeMs, m.LastStatusCode, m.LastError,
		boolToInt(m.Enabled), m.WebhookURL, cols.tags,
		formatTime(m.CreatedAt), formatTime(m.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting monitor %q: %w", m.Name, err)
	}
	return nil
}

type monitorConfigCols struct {
	codes      string
	headers    string
	body       string
	assertions string
	tags       string
}

func (d *DB) monitorConfigColumns(m domain.HttpMonitor) (monitorConfigCols, error) {
	var cols monitorConfigCols
	var err error

	if cols.codes, err = marshalJSON(m.ExpectedStatusCodes); err != nil {
		return cols, err
	}
	if cols.assertions, err = marshalJSON(m.Assertions); err != nil {
		return cols, err
	}
	if cols.tags, err = marshalJSON(m.Tags); err != nil {
		return cols, err
	}

	headers := m.Headers
	if d.box != nil && len(headers) > 0 {
		sealed := make(map[string]string, len(headers))
		for k, v := range headers {
			if probe.IsSensitiveHeader(k) {
				if sealed[k], err = d.box.EncryptSensitive(v); err != nil {
					return cols, fmt.Errorf("encrypting header %q: %w", k, err)
				}
			} else {
				sealed[k] = v
			}
		}
		headers = sealed
	}
	if cols.headers, err = marshalJSON(headers); err != nil {
		return cols, err
	}

	cols.body = m.Body
	if d.box != nil && m.Body != "" {
		if cols.body, err = d.box.EncryptSensitive(m.Body); err != nil {
			return cols, fmt.Errorf("encrypting body: %w", err)
		}
	}
	return cols, nil
}

const monitorColumns = `id, owner_id, name, url, method, expected_status_codes,
	timeout_ms, interval_sec, headers, body, content_type, assertions,
	alert_after_failures, consecutive_failures, status,
	last_checked_at, last_response_time_ms, last_status_code, last_error,
	enabled, webhook_url, tags, created_at, updated_at`

// GetMonitor returns the monitor with the given id, or nil if absent.
func (d *DB) GetMonitor(ctx context.Context, id string) (*domain.HttpMonitor, error) {
	row := d.db.QueryRowContext(ctx, `SELECT `+monitorColumns+` FROM monitors WHERE id = ?`, id)
	m, err := d.scanMonitor(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying monitor %q: %w", id, err)
	}
	return m, nil
}

// ListMonitors returns every monitor, enabled or not.
func (d *DB) ListMonitors(ctx context.Context) ([]domain.HttpMonitor, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT `+monitorColumns+` FROM monitors ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("querying monitors: %w", err)
	}
	defer rows.Close()
	return d.scanMonitors(rows)
}

// ListMonitorsByOwner returns all monitors for one owner.
func (d *DB) ListMonitorsByOwner(ctx context.Context, ownerID string) ([]domain.HttpMonitor, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT `+monitorColumns+` FROM monitors WHERE owner_id = ? ORDER BY created_at`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("querying monitors for owner %q: %w", ownerID, err)
	}
	defer rows.Close()
	return d.scanMonitors(rows)
}

// CountMonitorsByOwner returns the number of monitors an owner has.
func (d *DB) CountMonitorsByOwner(ctx context.Context, ownerID string) (int, error) {
	var n int
	err := d.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM monitors WHERE owner_id = ?`, ownerID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting monitors for owner %q: %w", ownerID, err)
	}
	return n, nil
}

// DueMonitors returns every enabled monitor whose next probe is due at now.
func (d *DB) DueMonitors(ctx context.Context, now time.Time) ([]domain.HttpMonitor, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT `+monitorColumns+` FROM monitors WHERE enabled = 1`)
	if err != nil {
		return nil, fmt.Errorf("querying due monitors: %w", err)
	}
	defer rows.Close()

	all, err := d.scanMonitors(rows)
	if err != nil {
		return nil, err
	}
	// Due-ness depends on interval arithmetic over a nullable timestamp;
	// filtering in Go keeps the stored timestamps opaque to SQL.
	due := all[:0]
	for _, m := range all {
		if m.Due(now) {
			due = append(due, m)
		}
	}
	return due, nil
}

// UpdateMonitor rewrites a monitor's owner-editable configuration.
func (d *DB) UpdateMonitor(ctx context.Context, m domain.HttpMonitor) error {
	cols, err := d.monitorConfigColumns(m)
	if err != nil {
		return err
	}
	res, err := d.db.ExecContext(ctx, `
		UPDATE monitors SET
			name = ?, url = ?, method = ?, expected_status_codes = ?,
			timeout_ms = ?, interval_sec = ?, headers = ?, body = ?,
			content_type = ?, assertions = ?, alert_after_failures = ?,
			enabled = ?, webhook_url = ?, tags = ?, updated_at = ?
		WHERE id = ?`,
		m.Name, m.URL, m.Method, cols.codes,
		m.TimeoutMs, m.IntervalSec, cols.headers, cols.body,
		m.ContentType, cols.assertions, m.AlertAfterFailures,
		boolToInt(m.Enabled), m.WebhookURL, cols.tags, formatTime(time.Now()),
		m.ID,
	)
	if err != nil {
		return fmt.Errorf("updating monitor %q: %w", m.ID, err)
	}
	return requireRow(res, "monitor", m.ID)
}

// SaveMonitorState persists a state-machine decision for one monitor: the
// updated runtime fields plus the optional status event and probe record,
// atomically.
func (d *DB) SaveMonitorState(ctx context.Context, m domain.HttpMonitor, event *domain.StatusEvent, mc *domain.MonitorCheck) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE monitors SET
			consecutive_failures = ?, status = ?, last_checked_at = ?,
			last_response_time_ms = ?, last_status_code = ?, last_error = ?,
			updated_at = ?
		WHERE id = ?`,
		m.ConsecutiveFailures, string(m.Status), formatTimePtr(m.LastCheckedAt),
		m.LastResponseTimeMs, m.LastStatusCode, m.LastError,
		formatTime(time.Now()),
		m.ID,
	)
	if err != nil {
		return fmt.Errorf("updating monitor state %q: %w", m.ID, err)
	}
	if err := requireRow(res, "monitor", m.ID); err != nil {
		return err
	}

	if event != nil {
		if err := insertStatusEvent(ctx, tx, *event); err != nil {
			return err
		}
	}
	if mc != nil {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO monitor_checks (id, monitor_id, timestamp, success, status_code, response_time_ms, error, body_snippet)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			mc.ID, mc.MonitorID, formatTime(mc.Timestamp), boolToInt(mc.Success),
			mc.StatusCode, mc.ResponseTimeMs, mc.Error, mc.BodySnippet,
		); err != nil {
			return fmt.Errorf("inserting monitor check for %q: %w", mc.MonitorID, err)
		}
	}
	return tx.Commit()
}

// DeleteMonitor removes a monitor and cascades its probe history and events.
func (d *DB) DeleteMonitor(ctx context.Context, id string) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM monitors WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting monitor %q: %w", id, err)
	}
	if err := requireRow(res, "monitor", id); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM status_events WHERE entity_kind = ? AND entity_id = ?`,
		string(domain.EntityMonitor), id); err != nil {
		return fmt.Errorf("deleting status events for monitor %q: %w", id, err)
	}
	return tx.Commit()
}

func (d *DB) scanMonitor(row scanner) (*domain.HttpMonitor, error) {
	var m domain.HttpMonitor
	var codes, headers, body, assertions, status, tags string
	var lastChecked sql.NullString
	var lastResp, lastCode sql.NullInt64
	var enabled int
	var createdAt, updatedAt string

	err := row.Scan(
		&m.ID, &m.OwnerID, &m.Name, &m.URL, &m.Method, &codes,
		&m.TimeoutMs, &m.IntervalSec, &headers, &body, &m.ContentType, &assertions,
		&m.AlertAfterFailures, &m.ConsecutiveFailures, &status,
		&lastChecked, &lastResp, &lastCode, &m.LastError,
		&enabled, &m.WebhookURL, &tags, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	m.Status = domain.MonitorStatus(status)
	m.Enabled = enabled != 0
	m.LastResponseTimeMs = nullInt64Ptr(lastResp)
	m.LastStatusCode = nullIntPtr(lastCode)
	if m.LastCheckedAt, err = parseTimePtr(lastChecked); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(codes), &m.ExpectedStatusCodes); err != nil {
		return nil, fmt.Errorf("unmarshaling status codes for monitor %q: %w", m.ID, err)
	}
	if err := json.Unmarshal([]byte(assertions), &m.Assertions); err != nil {
		return nil, fmt.Errorf("unmarshaling assertions for monitor %q: %w", m.ID, err)
	}
	if err := json.Unmarshal([]byte(tags), &m.Tags); err != nil {
		return nil, fmt.Errorf("unmarshaling tags for monitor %q: %w", m.ID, err)
	}
	if err := json.Unmarshal([]byte(headers), &m.Headers); err != nil {
		return nil, fmt.Errorf("unmarshaling headers for monitor %q: %w", m.ID, err)
	}
	if m.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if m.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}

	if d.box != nil {
		for k, v := range m.Headers {
			if m.Headers[k], err = d.box.Decrypt(v); err != nil {
				return nil, fmt.Errorf("decrypting header %q for monitor %q: %w", k, m.ID, err)
			}
		}
		if m.Body, err = d.box.Decrypt(body); err != nil {
			return nil, fmt.Errorf("decrypting body for monitor %q: %w", m.ID, err)
		}
	} else {
		m.Body = body
	}
	return &m, nil
}

func (d *DB) scanMonitors(rows *sql.Rows) ([]domain.HttpMonitor, error) {
	var monitors []domain.HttpMonitor
	for rows.Next() {
		m, err := d.scanMonitor(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning monitor row: %w", err)
		}
		monitors = append(monitors, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating monitor rows: %w", err)
	}
	return monitors, nil
}

// --- monitor check history ---

// ListMonitorChecks returns paginated probe history plus the total count.
func (d *DB) ListMonitorChecks(ctx context.Context, monitorID string, limit, offset int) ([]domain.MonitorCheck, int, error) {
	var total int
	if err := d.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM monitor_checks WHERE monitor_id = ?`, monitorID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting monitor checks for %q: %w", monitorID, err)
	}

	rows, err := d.db.QueryContext(ctx, `
		SELECT id, monitor_id, timestamp, success, status_code, response_time_ms, error, body_snippet
		FROM monitor_checks WHERE monitor_id = ? ORDER BY timestamp DESC LIMIT ? OFFSET ?`,
		monitorID, limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("querying monitor checks for %q: %w", monitorID, err)
	}
	defer rows.Close()

	var checks []domain.MonitorCheck
	for rows.Next() {
		var mc domain.MonitorCheck
		var ts string
		var success int
		if err := rows.Scan(&mc.ID, &mc.MonitorID, &ts, &success, &mc.StatusCode, &mc.ResponseTimeMs, &mc.Error, &mc.BodySnippet); err != nil {
			return nil, 0, fmt.Errorf("scanning monitor check row: %w", err)
		}
		mc.Success = success != 0
		if mc.Timestamp, err = parseTime(ts); err != nil {
			return nil, 0, err
		}
		checks = append(checks, mc)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterating monitor check rows: %w", err)
	}
	return checks, total, nil
}

// MonitorWindowStats returns the success percentage and mean response time
// over probe records since the given time. Both are nil when the window holds
// no samples.
func (d *DB) MonitorWindowStats(ctx context.Context, monitorID string, since time.Time) (uptimePct, avgMs *float64, err error) {
	var total int
	var successes sql.NullInt64
	var avg sql.NullFloat64
	err = d.db.QueryRowContext(ctx, `
		SELECT COUNT(*), SUM(success), AVG(response_time_ms)
		FROM monitor_checks WHERE monitor_id = ? AND timestamp >= ?`,
		monitorID, formatTime(since),
	).Scan(&total, &successes, &avg)
	if err != nil {
		return nil, nil, fmt.Errorf("computing window stats for %q: %w", monitorID, err)
	}
	if total == 0 {
		return nil, nil, nil
	}
	pct := float64(successes.Int64) / float64(total) * 100
	mean := avg.Float64
	return &pct, &mean, nil
}

// Prune deletes history records older than cutoff across all entities.
func (d *DB) Prune(ctx context.Context, cutoff time.Time) error {
	ts := formatTime(cutoff)
	for _, q := range []string{
		`DELETE FROM pings WHERE timestamp < ?`,
		`DELETE FROM status_events WHERE timestamp < ?`,
		`DELETE FROM monitor_checks WHERE timestamp < ?`,
	} {
		if _, err := d.db.ExecContext(ctx, q, ts); err != nil {
			return fmt.Errorf("pruning history: %w", err)
		}
	}
	return nil
}

// --- shared helpers ---

type scanner interface {
	Scan(dest ...any) error
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func requireRow(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s %q not found", kind, id)
	}
	return nil
}
