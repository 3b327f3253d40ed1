// Package postgres is the durable pkg/storage.Store backend, grounded on
// the teacher's datastorage server (sqlx.Connect("pgx", ...) with tuned
// pool limits per test/integration/datastorage/suite_test.go) and on
// codeready-toolchain-tarsy's pkg/database for the golang-migrate +
// go:embed migration-runner shape. It skips ent (already dropped per
// DESIGN.md) in favor of sqlx queries against typed rows.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver

	sharederrors "github.com/opsmail/emailpipeline/pkg/shared/errors"
	"github.com/opsmail/emailpipeline/pkg/storage"
	"github.com/opsmail/emailpipeline/pkg/types"
)

//go:embed migrations
var migrationsFS embed.FS

// Config configures the connection pool, mirroring the teacher's
// datastorage integration-test pool tuning (50 max open, 10 idle, 5m
// lifetime) as sane production defaults.
type Config struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxOpenConns == 0 {
		c.MaxOpenConns = 50
	}
	if c.MaxIdleConns == 0 {
		c.MaxIdleConns = 10
	}
	if c.ConnMaxLifetime == 0 {
		c.ConnMaxLifetime = 5 * time.Minute
	}
	return c
}

// Store is the Postgres-backed implementation of storage.Store.
type Store struct {
	db *sqlx.DB
}

// Open connects to Postgres via pgx, applies embedded migrations, and
// returns a ready Store.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	cfg = cfg.withDefaults()

	db, err := sqlx.Connect("pgx", cfg.DSN)
	if err != nil {
		return nil, sharederrors.DatabaseError("connect", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, sharederrors.DatabaseError("ping", err)
	}

	if err := runMigrations(db.DB); err != nil {
		_ = db.Close()
		return nil, sharederrors.DatabaseError("migrate", err)
	}

	return &Store{db: db}, nil
}

// NewWithDB wraps an already-connected *sqlx.DB, skipping migrations; used
// by tests that manage schema setup separately.
func NewWithDB(db *sqlx.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Close() error {
	return s.db.Close()
}

func runMigrations(db *sql.DB) error {
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create postgres migration driver: %w", err)
	}
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("create migrate instance: %w", err)
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return source.Close()
}

// emailRow mirrors the emails table; Recipients is stored as a JSON array.
type emailRow struct {
	ID             string    `db:"id"`
	MessageID      string    `db:"message_id"`
	ConversationID string    `db:"conversation_id"`
	SenderEmail    string    `db:"sender_email"`
	SenderName     string    `db:"sender_name"`
	Recipients     []byte    `db:"recipients"`
	Subject        string    `db:"subject"`
	BodyText       string    `db:"body_text"`
	ReceivedAt     time.Time `db:"received_at"`
	HasAttachments bool      `db:"has_attachments"`
	Importance     string    `db:"importance"`
}

func (s *Store) PutEmail(ctx context.Context, email types.Email) error {
	recipients, err := json.Marshal(email.Recipients)
	if err != nil {
		return sharederrors.ParseError("email recipients", "json", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO emails (id, message_id, conversation_id, sender_email, sender_name,
			recipients, subject, body_text, received_at, has_attachments, importance)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (message_id) DO NOTHING`,
		email.ID, email.MessageID, email.ConversationID, email.SenderEmail, email.SenderName,
		recipients, email.Subject, email.BodyText, email.ReceivedAt, email.HasAttachments, email.Importance)
	if err != nil {
		return sharederrors.DatabaseError("insert email", err)
	}
	return nil
}

func (s *Store) GetEmail(ctx context.Context, emailID string) (types.Email, error) {
	var row emailRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM emails WHERE id = $1`, emailID)
	if err == sql.ErrNoRows {
		return types.Email{}, storage.ErrNotFound
	}
	if err != nil {
		return types.Email{}, sharederrors.DatabaseError("select email", err)
	}
	return emailFromRow(row)
}

func emailFromRow(row emailRow) (types.Email, error) {
	var recipients []string
	if len(row.Recipients) > 0 {
		if err := json.Unmarshal(row.Recipients, &recipients); err != nil {
			return types.Email{}, sharederrors.ParseError("email recipients", "json", err)
		}
	}
	return types.Email{
		ID:             row.ID,
		MessageID:      row.MessageID,
		ConversationID: row.ConversationID,
		SenderEmail:    row.SenderEmail,
		SenderName:     row.SenderName,
		Recipients:     recipients,
		Subject:        row.Subject,
		BodyText:       row.BodyText,
		ReceivedAt:     row.ReceivedAt,
		HasAttachments: row.HasAttachments,
		Importance:     types.Importance(row.Importance),
	}, nil
}

func (s *Store) ListEmails(ctx context.Context) ([]types.Email, error) {
	var rows []emailRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT * FROM emails ORDER BY received_at ASC`); err != nil {
		return nil, sharederrors.DatabaseError("select emails", err)
	}
	out := make([]types.Email, 0, len(rows))
	for _, row := range rows {
		email, err := emailFromRow(row)
		if err != nil {
			return nil, err
		}
		out = append(out, email)
	}
	return out, nil
}

func (s *Store) PutPhaseResult(ctx context.Context, result types.PhaseResult) error {
	return s.putPhaseResult(ctx, s.db, result)
}

func (s *Store) putPhaseResult(ctx context.Context, exec sqlx.ExtContext, result types.PhaseResult) error {
	if result.Phase > types.Phase1 {
		var priorStatus string
		err := sqlx.GetContext(ctx, exec, &priorStatus,
			`SELECT status FROM phase_results WHERE email_id = $1 AND phase = $2`,
			result.EmailID, result.Phase-1)
		if err == sql.ErrNoRows || (err == nil && types.PhaseStatus(priorStatus) != types.PhaseStatusOK) {
			return sharederrors.FailedToWithDetails("write phase result", "storage", result.EmailID,
				sharederrors.FailedTo("invariant violated: prior phase missing or not ok", nil))
		}
		if err != nil && err != sql.ErrNoRows {
			return sharederrors.DatabaseError("select prior phase result", err)
		}
	}

	payload, err := json.Marshal(result.Payload)
	if err != nil {
		return sharederrors.ParseError("phase result payload", "json", err)
	}
	_, err = exec.ExecContext(ctx, `
		INSERT INTO phase_results (email_id, phase, status, duration_ms, model_id, payload, produced_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (email_id, phase) DO NOTHING`,
		result.EmailID, result.Phase, result.Status, result.DurationMS, result.ModelID, payload, result.ProducedAt)
	if err != nil {
		return sharederrors.DatabaseError("insert phase result", err)
	}
	return nil
}

type phaseResultRow struct {
	EmailID    string          `db:"email_id"`
	Phase      int             `db:"phase"`
	Status     string          `db:"status"`
	DurationMS int64           `db:"duration_ms"`
	ModelID    string          `db:"model_id"`
	Payload    json.RawMessage `db:"payload"`
	ProducedAt time.Time       `db:"produced_at"`
}

func (s *Store) GetPhaseResults(ctx context.Context, emailID string) ([]types.PhaseResult, error) {
	var rows []phaseResultRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT * FROM phase_results WHERE email_id = $1 ORDER BY phase`, emailID)
	if err != nil {
		return nil, sharederrors.DatabaseError("select phase results", err)
	}
	out := make([]types.PhaseResult, len(rows))
	for i, r := range rows {
		var payload interface{}
		if len(r.Payload) > 0 {
			if err := json.Unmarshal(r.Payload, &payload); err != nil {
				return nil, sharederrors.ParseError("phase result payload", "json", err)
			}
		}
		out[i] = types.PhaseResult{
			EmailID:    r.EmailID,
			Phase:      types.Phase(r.Phase),
			Status:     types.PhaseStatus(r.Status),
			DurationMS: r.DurationMS,
			ModelID:    r.ModelID,
			Payload:    payload,
			ProducedAt: r.ProducedAt,
		}
	}
	return out, nil
}

func (s *Store) UpsertChain(ctx context.Context, chain types.Chain) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO chains (chain_id, completeness, lifecycle, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (chain_id) DO UPDATE SET completeness = $2, lifecycle = $3, updated_at = now()`,
		chain.ChainID, chain.Completeness, chain.Lifecycle)
	if err != nil {
		return sharederrors.DatabaseError("upsert chain", err)
	}
	return nil
}

func (s *Store) GetChain(ctx context.Context, chainID string) (types.Chain, bool, error) {
	var ch types.Chain
	err := s.db.GetContext(ctx, &ch,
		`SELECT chain_id, completeness, lifecycle FROM chains WHERE chain_id = $1`, chainID)
	if err == sql.ErrNoRows {
		return types.Chain{}, false, nil
	}
	if err != nil {
		return types.Chain{}, false, sharederrors.DatabaseError("select chain", err)
	}
	return ch, true, nil
}

func (s *Store) GetChainsByCompletenessRange(ctx context.Context, lo, hi int) ([]types.Chain, error) {
	var chains []types.Chain
	err := s.db.SelectContext(ctx, &chains,
		`SELECT chain_id, completeness, lifecycle FROM chains WHERE completeness BETWEEN $1 AND $2 ORDER BY chain_id`,
		lo, hi)
	if err != nil {
		return nil, sharederrors.DatabaseError("select chains by completeness", err)
	}
	return chains, nil
}

func (s *Store) UpsertTask(ctx context.Context, task types.WorkflowTask) (types.WorkflowTask, error) {
	return s.upsertTask(ctx, s.db, task)
}

func (s *Store) upsertTask(ctx context.Context, exec sqlx.ExtContext, task types.WorkflowTask) (types.WorkflowTask, error) {
	actionItems, err := json.Marshal(task.ActionItems)
	if err != nil {
		return types.WorkflowTask{}, sharederrors.ParseError("action items", "json", err)
	}

	var currentVersion sql.NullInt64
	if err := sqlx.GetContext(ctx, exec, &currentVersion,
		`SELECT version FROM workflow_tasks WHERE task_id = $1`, task.TaskID); err != nil && err != sql.ErrNoRows {
		return types.WorkflowTask{}, sharederrors.DatabaseError("select task version", err)
	}

	if currentVersion.Valid {
		if int64(task.Version) <= currentVersion.Int64 {
			return types.WorkflowTask{}, sharederrors.FailedToWithDetails("upsert task", "storage", task.TaskID,
				sharederrors.FailedTo("CAS failure: version is not newer than the stored version", nil))
		}
	} else {
		task.Version = 1
	}

	now := time.Now().UTC()
	_, err = exec.ExecContext(ctx, `
		INSERT INTO workflow_tasks (task_id, email_id, chain_id, workflow_type, priority, status, owner,
			received_at, sla_deadline, action_items, routed_phase2, routed_phase3, degraded,
			strategic_notes, revenue_at_risk_minor, version, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$17)
		ON CONFLICT (task_id) DO UPDATE SET
			chain_id = $3, workflow_type = $4, priority = $5, status = $6, owner = $7,
			sla_deadline = $9, action_items = $10, routed_phase2 = $11, routed_phase3 = $12,
			degraded = $13, strategic_notes = $14, revenue_at_risk_minor = $15, version = $16,
			updated_at = $17`,
		task.TaskID, task.EmailID, task.ChainID, task.WorkflowType, task.Priority, task.Status, task.Owner,
		task.ReceivedAt, task.SLADeadline, actionItems, task.RoutedPhase2, task.RoutedPhase3, task.Degraded,
		task.StrategicNotes, task.RevenueAtRiskMinor, task.Version, now)
	if err != nil {
		return types.WorkflowTask{}, sharederrors.DatabaseError("upsert task", err)
	}
	task.UpdatedAt = now
	if !currentVersion.Valid {
		task.CreatedAt = now
	}
	return task, nil
}

type taskRow struct {
	TaskID             string          `db:"task_id"`
	EmailID            string          `db:"email_id"`
	ChainID            string          `db:"chain_id"`
	WorkflowType       string          `db:"workflow_type"`
	Priority           string          `db:"priority"`
	Status             string          `db:"status"`
	Owner              string          `db:"owner"`
	ReceivedAt         time.Time       `db:"received_at"`
	SLADeadline        time.Time       `db:"sla_deadline"`
	ActionItems        json.RawMessage `db:"action_items"`
	RoutedPhase2       bool            `db:"routed_phase2"`
	RoutedPhase3       bool            `db:"routed_phase3"`
	Degraded           bool            `db:"degraded"`
	StrategicNotes     string          `db:"strategic_notes"`
	RevenueAtRiskMinor int64           `db:"revenue_at_risk_minor"`
	Version            int             `db:"version"`
	CreatedAt          time.Time       `db:"created_at"`
	UpdatedAt          time.Time       `db:"updated_at"`
}

func taskFromRow(row taskRow) (types.WorkflowTask, error) {
	var items []types.ActionItem
	if len(row.ActionItems) > 0 {
		if err := json.Unmarshal(row.ActionItems, &items); err != nil {
			return types.WorkflowTask{}, sharederrors.ParseError("action items", "json", err)
		}
	}
	return types.WorkflowTask{
		TaskID:             row.TaskID,
		EmailID:            row.EmailID,
		ChainID:            row.ChainID,
		WorkflowType:       types.WorkflowType(row.WorkflowType),
		Priority:           types.Priority(row.Priority),
		Status:             types.SLAStatus(row.Status),
		Owner:              row.Owner,
		ReceivedAt:         row.ReceivedAt,
		SLADeadline:        row.SLADeadline,
		ActionItems:        items,
		RoutedPhase2:       row.RoutedPhase2,
		RoutedPhase3:       row.RoutedPhase3,
		Degraded:           row.Degraded,
		StrategicNotes:     row.StrategicNotes,
		RevenueAtRiskMinor: row.RevenueAtRiskMinor,
		Version:            row.Version,
		CreatedAt:          row.CreatedAt,
		UpdatedAt:          row.UpdatedAt,
	}, nil
}

func (s *Store) GetTask(ctx context.Context, taskID string) (types.WorkflowTask, error) {
	var row taskRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM workflow_tasks WHERE task_id = $1`, taskID)
	if err == sql.ErrNoRows {
		return types.WorkflowTask{}, storage.ErrNotFound
	}
	if err != nil {
		return types.WorkflowTask{}, sharederrors.DatabaseError("select task", err)
	}
	return taskFromRow(row)
}

func (s *Store) listTasks(ctx context.Context, query string, args ...interface{}) ([]types.WorkflowTask, error) {
	var rows []taskRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, sharederrors.DatabaseError("select tasks", err)
	}
	out := make([]types.WorkflowTask, len(rows))
	for i, r := range rows {
		t, err := taskFromRow(r)
		if err != nil {
			return nil, err
		}
		out[i] = t
	}
	return out, nil
}

func (s *Store) ListTasksByStatus(ctx context.Context, status types.SLAStatus) ([]types.WorkflowTask, error) {
	return s.listTasks(ctx, `SELECT * FROM workflow_tasks WHERE status = $1 ORDER BY task_id`, status)
}

func (s *Store) ListTasksBySlaDeadlineBefore(ctx context.Context, t time.Time) ([]types.WorkflowTask, error) {
	return s.listTasks(ctx, `SELECT * FROM workflow_tasks WHERE sla_deadline < $1 ORDER BY task_id`, t)
}

func (s *Store) ListOpenTasks(ctx context.Context) ([]types.WorkflowTask, error) {
	return s.listTasks(ctx, `SELECT * FROM workflow_tasks ORDER BY task_id`)
}

func (s *Store) UpdateTaskStatus(ctx context.Context, taskID string, status types.SLAStatus) (types.WorkflowTask, error) {
	var row taskRow
	err := s.db.GetContext(ctx, &row, `
		UPDATE workflow_tasks SET status = $2, version = version + 1, updated_at = now()
		WHERE task_id = $1
		RETURNING *`, taskID, status)
	if err == sql.ErrNoRows {
		return types.WorkflowTask{}, storage.ErrNotFound
	}
	if err != nil {
		return types.WorkflowTask{}, sharederrors.DatabaseError("update task status", err)
	}
	return taskFromRow(row)
}

func (s *Store) AppendEvent(ctx context.Context, event types.Event) error {
	return s.appendEvent(ctx, s.db, event)
}

func (s *Store) appendEvent(ctx context.Context, exec sqlx.ExtContext, event types.Event) error {
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return sharederrors.ParseError("event payload", "json", err)
	}
	_, err = exec.ExecContext(ctx, `
		INSERT INTO events (type, timestamp, payload, correlation_id, schema)
		VALUES ($1, $2, $3, $4, $5)`,
		event.Type, event.Timestamp, payload, event.CorrelationID, event.Schema)
	if err != nil {
		return sharederrors.DatabaseError("insert event", err)
	}
	return nil
}

type eventRow struct {
	EventID       uint64          `db:"event_id"`
	Type          string          `db:"type"`
	Timestamp     time.Time       `db:"timestamp"`
	Payload       json.RawMessage `db:"payload"`
	CorrelationID string          `db:"correlation_id"`
	Schema        string          `db:"schema"`
}

func (s *Store) ListEventsAfter(ctx context.Context, eventType types.EventType, afterEventID uint64) ([]types.Event, error) {
	var rows []eventRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT * FROM events WHERE type = $1 AND event_id > $2 ORDER BY event_id`, eventType, afterEventID)
	if err != nil {
		return nil, sharederrors.DatabaseError("select events", err)
	}
	out := make([]types.Event, len(rows))
	for i, r := range rows {
		var payload interface{}
		if len(r.Payload) > 0 {
			if err := json.Unmarshal(r.Payload, &payload); err != nil {
				return nil, sharederrors.ParseError("event payload", "json", err)
			}
		}
		out[i] = types.Event{
			EventID:       r.EventID,
			Type:          types.EventType(r.Type),
			Timestamp:     r.Timestamp,
			Payload:       payload,
			CorrelationID: r.CorrelationID,
			Schema:        r.Schema,
		}
	}
	return out, nil
}

func (s *Store) GetPipelineStats(ctx context.Context) (storage.Stats, error) {
	stats := storage.Stats{
		TasksByStatus:     make(map[types.SLAStatus]int),
		TasksByPriority:   make(map[types.Priority]int),
		ChainsByLifecycle: make(map[types.Lifecycle]int),
		PhaseMix:          make(map[string]int),
	}

	if err := s.db.GetContext(ctx, &stats.TotalEmails, `SELECT count(*) FROM emails`); err != nil {
		return storage.Stats{}, sharederrors.DatabaseError("count emails", err)
	}

	type statusCount struct {
		Status string `db:"status"`
		Count  int    `db:"count"`
	}
	var statusRows []statusCount
	if err := s.db.SelectContext(ctx, &statusRows,
		`SELECT status, count(*) AS count FROM workflow_tasks GROUP BY status`); err != nil {
		return storage.Stats{}, sharederrors.DatabaseError("count tasks by status", err)
	}
	for _, r := range statusRows {
		stats.TasksByStatus[types.SLAStatus(r.Status)] = r.Count
	}

	type priorityCount struct {
		Priority string `db:"priority"`
		Count    int    `db:"count"`
	}
	var priorityRows []priorityCount
	if err := s.db.SelectContext(ctx, &priorityRows,
		`SELECT priority, count(*) AS count FROM workflow_tasks GROUP BY priority`); err != nil {
		return storage.Stats{}, sharederrors.DatabaseError("count tasks by priority", err)
	}
	for _, r := range priorityRows {
		stats.TasksByPriority[types.Priority(r.Priority)] = r.Count
	}

	type lifecycleCount struct {
		Lifecycle string `db:"lifecycle"`
		Count     int    `db:"count"`
	}
	var lifecycleRows []lifecycleCount
	if err := s.db.SelectContext(ctx, &lifecycleRows,
		`SELECT lifecycle, count(*) AS count FROM chains GROUP BY lifecycle`); err != nil {
		return storage.Stats{}, sharederrors.DatabaseError("count chains by lifecycle", err)
	}
	for _, r := range lifecycleRows {
		stats.ChainsByLifecycle[types.Lifecycle(r.Lifecycle)] = r.Count
	}

	type phaseMixRow struct {
		EmailID string `db:"email_id"`
		MaxPhase int   `db:"max_phase"`
	}
	var mixRows []phaseMixRow
	if err := s.db.SelectContext(ctx, &mixRows, `
		SELECT email_id, max(phase) AS max_phase FROM phase_results
		WHERE status = 'ok' GROUP BY email_id`); err != nil {
		return storage.Stats{}, sharederrors.DatabaseError("compute phase mix", err)
	}
	for _, r := range mixRows {
		switch r.MaxPhase {
		case int(types.Phase3):
			stats.PhaseMix["p1_p2_p3"]++
		case int(types.Phase2):
			stats.PhaseMix["p1_p2"]++
		default:
			stats.PhaseMix["p1_only"]++
		}
	}

	return stats, nil
}

// WithTransaction commits group's writes in a single pgx transaction: no
// reader observes a task without its backing phase result or event.
func (s *Store) WithTransaction(ctx context.Context, group storage.TxGroup) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return sharederrors.DatabaseError("begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	if group.PhaseResult != nil {
		if err := s.putPhaseResult(ctx, tx, *group.PhaseResult); err != nil {
			return err
		}
	}
	if group.Task != nil {
		if _, err := s.upsertTask(ctx, tx, *group.Task); err != nil {
			return err
		}
	}
	if group.Event != nil {
		if err := s.appendEvent(ctx, tx, *group.Event); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return sharederrors.DatabaseError("commit transaction", err)
	}
	return nil
}
