package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"sentinel/core"
)

// SQLiteStore persists events, indicators, rules and incidents in a single
// SQLite database. Embedded collections (timeline, actions, communications,
// evidence, attributes) are stored as JSON columns so the incident document
// round-trips without a join fan-out.
type SQLiteStore struct {
	db     *sql.DB
	logger *zap.SugaredLogger
}

const sqliteSchema = `
	CREATE TABLE IF NOT EXISTS events (
		id TEXT PRIMARY KEY,
		type TEXT NOT NULL,
		severity TEXT NOT NULL,
		source TEXT NOT NULL,
		user_id TEXT,
		site_id TEXT,
		session_id TEXT,
		source_ip TEXT,
		resource TEXT,
		attributes TEXT NOT NULL DEFAULT '{}',
		timestamp INTEGER NOT NULL,
		threat_score INTEGER NOT NULL DEFAULT 0,
		processed INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_events_timestamp ON events(timestamp);
	CREATE INDEX IF NOT EXISTS idx_events_type ON events(type);

	CREATE TABLE IF NOT EXISTS indicators (
		id TEXT PRIMARY KEY,
		type TEXT NOT NULL,
		value TEXT NOT NULL,
		source TEXT NOT NULL,
		severity TEXT NOT NULL,
		confidence INTEGER NOT NULL,
		description TEXT,
		active INTEGER NOT NULL DEFAULT 1,
		hit_count INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		expires_at INTEGER
	);
	CREATE INDEX IF NOT EXISTS idx_indicators_active ON indicators(active);

	CREATE TABLE IF NOT EXISTS alert_rules (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		description TEXT,
		enabled INTEGER NOT NULL DEFAULT 1,
		severity TEXT NOT NULL,
		conditions TEXT NOT NULL DEFAULT '[]',
		window_seconds INTEGER NOT NULL DEFAULT 0,
		threshold INTEGER NOT NULL DEFAULT 1,
		actions TEXT NOT NULL DEFAULT '[]',
		suppression_seconds INTEGER NOT NULL DEFAULT 0,
		trigger_count INTEGER NOT NULL DEFAULT 0,
		last_triggered INTEGER,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS incidents (
		id TEXT PRIMARY KEY,
		status TEXT NOT NULL,
		severity TEXT NOT NULL,
		category TEXT NOT NULL,
		assigned_to TEXT,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		document TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_incidents_status ON incidents(status);
	CREATE INDEX IF NOT EXISTS idx_incidents_created ON incidents(created_at);
`

// NewSQLiteStore opens (creating if needed) the database at path and applies
// the schema. ":memory:" is accepted for tests.
func NewSQLiteStore(path string, logger *zap.SugaredLogger) (*SQLiteStore, error) {
	if err := validateDatabasePath(path); err != nil {
		return nil, fmt.Errorf("invalid database path: %w", err)
	}
	if dir := filepath.Dir(path); path != ":memory:" && dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	dsn := path
	if path == ":memory:" {
		// Shared cache so every pooled connection sees the same database.
		dsn = "file::memory:?cache=shared"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	// WAL keeps readers off the writer's back; single writer connection
	// avoids SQLITE_BUSY under concurrent saves.
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to apply %s: %w", pragma, err)
		}
	}
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping sqlite database: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	logger.Infow("sqlite store ready", "path", path)
	return &SQLiteStore{db: db, logger: logger}, nil
}

func validateDatabasePath(path string) error {
	if path == "" {
		return errors.New("path is empty")
	}
	if path == ":memory:" {
		return nil
	}
	if strings.Contains(path, "..") {
		return errors.New("path must not contain '..'")
	}
	return nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func nullableUnix(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Unix()
}

// --- EventStore ---

func (s *SQLiteStore) SaveEvent(ctx context.Context, event *core.SecurityEvent) error {
	attrs, err := json.Marshal(event.Attributes)
	if err != nil {
		return fmt.Errorf("failed to marshal event attributes: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO events
			(id, type, severity, source, user_id, site_id, session_id, source_ip, resource, attributes, timestamp, threat_score, processed)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			threat_score = excluded.threat_score,
			processed = excluded.processed,
			attributes = excluded.attributes`,
		event.ID, string(event.Type), string(event.Severity), event.Source,
		event.UserID, event.SiteID, event.SessionID, event.SourceIP, event.Resource,
		string(attrs), event.Timestamp.UnixNano(), event.ThreatScore, boolToInt(event.Processed))
	if err != nil {
		return fmt.Errorf("failed to save event %s: %w", event.ID, err)
	}
	return nil
}

func (s *SQLiteStore) GetEvent(ctx context.Context, id string) (*core.SecurityEvent, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, type, severity, source, user_id, site_id, session_id, source_ip, resource, attributes, timestamp, threat_score, processed
		FROM events WHERE id = ?`, id)
	event, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrEventNotFound
	}
	return event, err
}

func (s *SQLiteStore) FindRecent(ctx context.Context, conditions []core.Condition, window time.Duration) ([]*core.SecurityEvent, error) {
	cutoff := time.Now().Add(-window).UnixNano()
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, type, severity, source, user_id, site_id, session_id, source_ip, resource, attributes, timestamp, threat_score, processed
		FROM events WHERE timestamp >= ? ORDER BY timestamp ASC`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent events: %w", err)
	}
	defer rows.Close()

	var matched []*core.SecurityEvent
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		ok, err := core.MatchesAll(conditions, event)
		if err != nil {
			s.logger.Warnw("condition evaluation failed during recent scan", "event_id", event.ID, "error", err)
			continue
		}
		if ok {
			matched = append(matched, event)
		}
	}
	return matched, rows.Err()
}

func (s *SQLiteStore) CountByType(ctx context.Context, since time.Time) (map[core.EventType]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT type, COUNT(*) FROM events WHERE timestamp >= ? GROUP BY type`, since.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("failed to count events by type: %w", err)
	}
	defer rows.Close()

	counts := make(map[core.EventType]int64)
	for rows.Next() {
		var typ string
		var n int64
		if err := rows.Scan(&typ, &n); err != nil {
			return nil, err
		}
		counts[core.EventType(typ)] = n
	}
	return counts, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (*core.SecurityEvent, error) {
	var (
		event     core.SecurityEvent
		typ       string
		severity  string
		attrs     string
		ts        int64
		processed int
	)
	err := row.Scan(&event.ID, &typ, &severity, &event.Source, &event.UserID,
		&event.SiteID, &event.SessionID, &event.SourceIP, &event.Resource,
		&attrs, &ts, &event.ThreatScore, &processed)
	if err != nil {
		return nil, err
	}
	event.Type = core.EventType(typ)
	event.Severity = core.Severity(severity)
	event.Timestamp = time.Unix(0, ts)
	event.Processed = processed != 0
	if err := json.Unmarshal([]byte(attrs), &event.Attributes); err != nil {
		return nil, fmt.Errorf("failed to unmarshal event attributes: %w", err)
	}
	return &event, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// --- IndicatorStore ---

func (s *SQLiteStore) SaveIndicator(ctx context.Context, indicator *core.ThreatIndicator) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO indicators
			(id, type, value, source, severity, confidence, description, active, hit_count, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			value = excluded.value,
			source = excluded.source,
			severity = excluded.severity,
			confidence = excluded.confidence,
			description = excluded.description,
			active = excluded.active,
			hit_count = excluded.hit_count,
			expires_at = excluded.expires_at`,
		indicator.ID, string(indicator.Type), indicator.Value, indicator.Source,
		string(indicator.Severity), indicator.Confidence, indicator.Description,
		boolToInt(indicator.Active), indicator.HitCount,
		indicator.CreatedAt.Unix(), nullableUnix(indicator.ExpiresAt))
	if err != nil {
		return fmt.Errorf("failed to save indicator %s: %w", indicator.ID, err)
	}
	return nil
}

func (s *SQLiteStore) GetIndicator(ctx context.Context, id string) (*core.ThreatIndicator, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, type, value, source, severity, confidence, description, active, hit_count, created_at, expires_at
		FROM indicators WHERE id = ?`, id)
	indicator, err := scanIndicator(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrIndicatorNotFound
	}
	return indicator, err
}

func (s *SQLiteStore) ListActive(ctx context.Context) ([]*core.ThreatIndicator, error) {
	now := time.Now().Unix()
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, type, value, source, severity, confidence, description, active, hit_count, created_at, expires_at
		FROM indicators WHERE active = 1 AND (expires_at IS NULL OR expires_at > ?)`, now)
	if err != nil {
		return nil, fmt.Errorf("failed to list active indicators: %w", err)
	}
	defer rows.Close()

	var indicators []*core.ThreatIndicator
	for rows.Next() {
		indicator, err := scanIndicator(rows)
		if err != nil {
			return nil, err
		}
		indicators = append(indicators, indicator)
	}
	return indicators, rows.Err()
}

func (s *SQLiteStore) DeactivateExpired(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE indicators SET active = 0 WHERE active = 1 AND expires_at IS NOT NULL AND expires_at <= ?`,
		time.Now().Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to deactivate expired indicators: %w", err)
	}
	return res.RowsAffected()
}

func (s *SQLiteStore) IncrementHitCount(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE indicators SET hit_count = hit_count + 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to increment hit count for %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrIndicatorNotFound
	}
	return nil
}

func scanIndicator(row rowScanner) (*core.ThreatIndicator, error) {
	var (
		indicator core.ThreatIndicator
		typ       string
		severity  string
		active    int
		created   int64
		expires   sql.NullInt64
	)
	err := row.Scan(&indicator.ID, &typ, &indicator.Value, &indicator.Source,
		&severity, &indicator.Confidence, &indicator.Description,
		&active, &indicator.HitCount, &created, &expires)
	if err != nil {
		return nil, err
	}
	indicator.Type = core.IndicatorType(typ)
	indicator.Severity = core.Severity(severity)
	indicator.Active = active != 0
	indicator.CreatedAt = time.Unix(created, 0)
	if expires.Valid {
		t := time.Unix(expires.Int64, 0)
		indicator.ExpiresAt = &t
	}
	return &indicator, nil
}

// --- RuleStore ---

func (s *SQLiteStore) SaveRule(ctx context.Context, rule *core.AlertRule) error {
	conditions, err := json.Marshal(rule.Conditions)
	if err != nil {
		return fmt.Errorf("failed to marshal rule conditions: %w", err)
	}
	actions, err := json.Marshal(rule.Actions)
	if err != nil {
		return fmt.Errorf("failed to marshal rule actions: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO alert_rules
			(id, name, description, enabled, severity, conditions, window_seconds, threshold, actions, suppression_seconds, trigger_count, last_triggered, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			enabled = excluded.enabled,
			severity = excluded.severity,
			conditions = excluded.conditions,
			window_seconds = excluded.window_seconds,
			threshold = excluded.threshold,
			actions = excluded.actions,
			suppression_seconds = excluded.suppression_seconds,
			updated_at = excluded.updated_at`,
		rule.ID, rule.Name, rule.Description, boolToInt(rule.Enabled), string(rule.Severity),
		string(conditions), int(rule.Window.Seconds()), rule.Threshold, string(actions),
		int(rule.SuppressionTime.Seconds()), rule.TriggerCount, nullableUnix(rule.LastTriggered),
		rule.CreatedAt.Unix(), rule.UpdatedAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to save rule %s: %w", rule.ID, err)
	}
	return nil
}

func (s *SQLiteStore) GetRule(ctx context.Context, id string) (*core.AlertRule, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, description, enabled, severity, conditions, window_seconds, threshold, actions, suppression_seconds, trigger_count, last_triggered, created_at, updated_at
		FROM alert_rules WHERE id = ?`, id)
	rule, err := scanRule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRuleNotFound
	}
	return rule, err
}

func (s *SQLiteStore) ListEnabled(ctx context.Context) ([]*core.AlertRule, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, description, enabled, severity, conditions, window_seconds, threshold, actions, suppression_seconds, trigger_count, last_triggered, created_at, updated_at
		FROM alert_rules WHERE enabled = 1 ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list enabled rules: %w", err)
	}
	defer rows.Close()

	var rules []*core.AlertRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

func (s *SQLiteStore) RecordTrigger(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE alert_rules SET trigger_count = trigger_count + 1, last_triggered = ?, updated_at = ? WHERE id = ?`,
		at.Unix(), time.Now().Unix(), id)
	if err != nil {
		return fmt.Errorf("failed to record trigger for rule %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrRuleNotFound
	}
	return nil
}

func scanRule(row rowScanner) (*core.AlertRule, error) {
	var (
		rule          core.AlertRule
		enabled       int
		severity      string
		conditions    string
		actions       string
		windowSecs    int
		suppressSecs  int
		lastTriggered sql.NullInt64
		created       int64
		updated       int64
	)
	err := row.Scan(&rule.ID, &rule.Name, &rule.Description, &enabled, &severity,
		&conditions, &windowSecs, &rule.Threshold, &actions, &suppressSecs,
		&rule.TriggerCount, &lastTriggered, &created, &updated)
	if err != nil {
		return nil, err
	}
	rule.Enabled = enabled != 0
	rule.Severity = core.Severity(severity)
	rule.Window = time.Duration(windowSecs) * time.Second
	rule.SuppressionTime = time.Duration(suppressSecs) * time.Second
	rule.CreatedAt = time.Unix(created, 0)
	rule.UpdatedAt = time.Unix(updated, 0)
	if lastTriggered.Valid {
		t := time.Unix(lastTriggered.Int64, 0)
		rule.LastTriggered = &t
	}
	if err := json.Unmarshal([]byte(conditions), &rule.Conditions); err != nil {
		return nil, fmt.Errorf("failed to unmarshal rule conditions: %w", err)
	}
	if err := json.Unmarshal([]byte(actions), &rule.Actions); err != nil {
		return nil, fmt.Errorf("failed to unmarshal rule actions: %w", err)
	}
	return &rule, nil
}

// --- IncidentStore ---

func (s *SQLiteStore) SaveIncident(ctx context.Context, incident *core.Incident) error {
	doc, err := json.Marshal(incident)
	if err != nil {
		return fmt.Errorf("failed to marshal incident %s: %w", incident.ID, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO incidents (id, status, severity, category, assigned_to, created_at, updated_at, document)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			severity = excluded.severity,
			category = excluded.category,
			assigned_to = excluded.assigned_to,
			updated_at = excluded.updated_at,
			document = excluded.document`,
		incident.ID, string(incident.Status), string(incident.Severity), string(incident.Category),
		incident.AssignedTo, incident.CreatedAt.Unix(), time.Now().Unix(), string(doc))
	if err != nil {
		return fmt.Errorf("failed to save incident %s: %w", incident.ID, err)
	}
	return nil
}

func (s *SQLiteStore) GetIncident(ctx context.Context, id string) (*core.Incident, error) {
	var doc string
	err := s.db.QueryRowContext(ctx, `SELECT document FROM incidents WHERE id = ?`, id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrIncidentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load incident %s: %w", id, err)
	}
	var incident core.Incident
	if err := json.Unmarshal([]byte(doc), &incident); err != nil {
		return nil, fmt.Errorf("failed to unmarshal incident %s: %w", id, err)
	}
	return &incident, nil
}

func (s *SQLiteStore) ListIncidents(ctx context.Context, filters IncidentFilters) ([]*core.Incident, error) {
	query := `SELECT document FROM incidents`
	var clauses []string
	var args []any
	if filters.Status != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, string(filters.Status))
	}
	if filters.Severity != "" {
		clauses = append(clauses, "severity = ?")
		args = append(args, string(filters.Severity))
	}
	if filters.Category != "" {
		clauses = append(clauses, "category = ?")
		args = append(args, string(filters.Category))
	}
	if filters.AssignedTo != "" {
		clauses = append(clauses, "assigned_to = ?")
		args = append(args, filters.AssignedTo)
	}
	if filters.Since != nil {
		clauses = append(clauses, "created_at >= ?")
		args = append(args, filters.Since.Unix())
	}
	if filters.Until != nil {
		clauses = append(clauses, "created_at < ?")
		args = append(args, filters.Until.Unix())
	}
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY created_at DESC"
	if filters.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filters.Limit)
		if filters.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, filters.Offset)
		}
	} else if filters.Offset > 0 {
		query += " LIMIT -1 OFFSET ?"
		args = append(args, filters.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list incidents: %w", err)
	}
	defer rows.Close()
	return scanIncidentDocs(rows)
}

func (s *SQLiteStore) ListOpen(ctx context.Context) ([]*core.Incident, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT document FROM incidents
		WHERE status NOT IN (?, ?) ORDER BY created_at DESC`,
		string(core.StatusResolved), string(core.StatusClosed))
	if err != nil {
		return nil, fmt.Errorf("failed to list open incidents: %w", err)
	}
	defer rows.Close()
	return scanIncidentDocs(rows)
}

func scanIncidentDocs(rows *sql.Rows) ([]*core.Incident, error) {
	var incidents []*core.Incident
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		var incident core.Incident
		if err := json.Unmarshal([]byte(doc), &incident); err != nil {
			return nil, fmt.Errorf("failed to unmarshal incident document: %w", err)
		}
		incidents = append(incidents, &incident)
	}
	return incidents, rows.Err()
}
