package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/signal-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

var sqlb = sq.StatementBuilder.PlaceholderFormat(sq.Question)

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	// A single writer connection avoids SQLITE_BUSY between the scan worker,
	// the reconciler and HTTP handlers sharing one file.
	db.SetMaxOpenConns(1)
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS source_items (
	id           TEXT PRIMARY KEY,
	source       TEXT NOT NULL,
	title        TEXT NOT NULL DEFAULT '',
	body         TEXT NOT NULL DEFAULT '',
	url          TEXT NOT NULL,
	published_at DATETIME,
	processed    BOOLEAN NOT NULL DEFAULT 0,
	created_at   DATETIME NOT NULL,
	UNIQUE (source, url)
);

CREATE INDEX IF NOT EXISTS idx_source_items_processed ON source_items(processed, published_at);

CREATE TABLE IF NOT EXISTS signals (
	id                TEXT PRIMARY KEY,
	company_name      TEXT NOT NULL,
	signal_type       TEXT NOT NULL,
	detail            TEXT NOT NULL DEFAULT '',
	score             INTEGER NOT NULL CHECK (score BETWEEN 1 AND 5),
	source_url        TEXT NOT NULL DEFAULT '',
	source            TEXT NOT NULL,
	source_item_id    TEXT NOT NULL DEFAULT '',
	status            TEXT NOT NULL DEFAULT 'new',
	enrichment_status TEXT NOT NULL DEFAULT 'none',
	company_info      TEXT,
	created_at        DATETIME NOT NULL,
	updated_at        DATETIME NOT NULL,
	UNIQUE (company_name, source_url, source)
);

CREATE INDEX IF NOT EXISTS idx_signals_status ON signals(status);
CREATE INDEX IF NOT EXISTS idx_signals_enrichment_status ON signals(enrichment_status);

CREATE TABLE IF NOT EXISTS scan_runs (
	id              TEXT PRIMARY KEY,
	status          TEXT NOT NULL DEFAULT 'running',
	items_fetched   INTEGER NOT NULL DEFAULT 0,
	items_analyzed  INTEGER NOT NULL DEFAULT 0,
	signals_created INTEGER NOT NULL DEFAULT 0,
	invocations     INTEGER NOT NULL DEFAULT 0,
	error_message   TEXT NOT NULL DEFAULT '',
	started_at      DATETIME NOT NULL,
	updated_at      DATETIME NOT NULL,
	completed_at    DATETIME,
	next_run_at     DATETIME
);

CREATE INDEX IF NOT EXISTS idx_scan_runs_status ON scan_runs(status, next_run_at);

CREATE TABLE IF NOT EXISTS enrichment_tasks (
	id                    TEXT PRIMARY KEY,
	owner_id              TEXT NOT NULL,
	external_task_id      TEXT NOT NULL DEFAULT '',
	last_external_task_id TEXT NOT NULL DEFAULT '',
	external_task_url     TEXT NOT NULL DEFAULT '',
	status                TEXT NOT NULL,
	provider_status       TEXT NOT NULL DEFAULT '',
	raw_output            TEXT,
	company_info          TEXT,
	error_message         TEXT NOT NULL DEFAULT '',
	created_at            DATETIME NOT NULL,
	updated_at            DATETIME NOT NULL,
	completed_at          DATETIME
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_enrichment_tasks_open_owner ON enrichment_tasks(owner_id) WHERE status = 'processing';

CREATE TABLE IF NOT EXISTS contacts (
	id              TEXT PRIMARY KEY,
	owner_id        TEXT NOT NULL,
	full_name       TEXT NOT NULL,
	first_name      TEXT NOT NULL DEFAULT '',
	last_name       TEXT NOT NULL DEFAULT '',
	job_title       TEXT NOT NULL DEFAULT '',
	email           TEXT NOT NULL DEFAULT '',
	phone           TEXT NOT NULL DEFAULT '',
	linkedin_url    TEXT NOT NULL DEFAULT '',
	priority_score  INTEGER NOT NULL DEFAULT 50,
	outreach_status TEXT NOT NULL DEFAULT 'pending',
	source          TEXT NOT NULL DEFAULT 'agent',
	created_at      DATETIME NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_contacts_owner_name ON contacts(owner_id, lower(full_name));
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Source items ---

func (s *SQLiteStore) InsertSourceItems(ctx context.Context, items []model.SourceItem) (int, error) {
	if len(items) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin insert source items")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO source_items (id, source, title, body, url, published_at, processed, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, 0, ?) ON CONFLICT (source, url) DO NOTHING`)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: prepare insert source item")
	}
	defer stmt.Close() //nolint:errcheck

	now := time.Now().UTC()
	inserted := 0
	for _, it := range items {
		id := it.ID
		if id == "" {
			id = uuid.New().String()
		}
		res, err := stmt.ExecContext(ctx, id, it.Source, it.Title, it.Body, it.URL, nullableTime(it.PublishedAt), now)
		if err != nil {
			return 0, eris.Wrapf(err, "sqlite: insert source item %s", it.URL)
		}
		n, _ := res.RowsAffected()
		inserted += int(n)
	}
	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit source items")
	}
	return inserted, nil
}

func (s *SQLiteStore) ListUnprocessedItems(ctx context.Context, limit int) ([]model.SourceItem, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, source, title, body, url, published_at, processed, created_at
		 FROM source_items WHERE processed = 0
		 ORDER BY published_at IS NULL, published_at DESC, created_at DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list unprocessed items")
	}
	defer rows.Close() //nolint:errcheck

	var items []model.SourceItem
	for rows.Next() {
		var (
			it          model.SourceItem
			publishedAt sql.NullTime
		)
		if err := rows.Scan(&it.ID, &it.Source, &it.Title, &it.Body, &it.URL, &publishedAt, &it.Processed, &it.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan source item")
		}
		if publishedAt.Valid {
			it.PublishedAt = publishedAt.Time
		}
		items = append(items, it)
	}
	return items, eris.Wrap(rows.Err(), "sqlite: iterate source items")
}

func (s *SQLiteStore) MarkItemsProcessed(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	query, args, err := sqlb.Update("source_items").Set("processed", 1).Where(sq.Eq{"id": ids}).ToSql()
	if err != nil {
		return eris.Wrap(err, "sqlite: build mark processed")
	}
	_, err = s.db.ExecContext(ctx, query, args...)
	return eris.Wrap(err, "sqlite: mark items processed")
}

func (s *SQLiteStore) CountUnprocessedItems(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM source_items WHERE processed = 0`).Scan(&n)
	return n, eris.Wrap(err, "sqlite: count unprocessed items")
}

// --- Signals ---

func (s *SQLiteStore) SignalExists(ctx context.Context, companyName, sourceURL, source string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM signals WHERE company_name = ? AND source_url = ? AND source = ?)`,
		companyName, sourceURL, source,
	).Scan(&exists)
	return exists, eris.Wrap(err, "sqlite: signal exists")
}

func (s *SQLiteStore) InsertSignal(ctx context.Context, sig *model.Signal) (bool, error) {
	prepareSignal(sig)
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO signals (`+signalColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (company_name, source_url, source) DO NOTHING`,
		sig.ID, sig.CompanyName, string(sig.SignalType), sig.Detail, sig.Score, sig.SourceURL, sig.Source,
		sig.SourceItemID, string(sig.Status), string(sig.EnrichmentStatus), nullableText(sig.CompanyInfo),
		sig.CreatedAt, sig.UpdatedAt,
	)
	if err != nil {
		return false, eris.Wrap(err, "sqlite: insert signal")
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

func (s *SQLiteStore) GetSignal(ctx context.Context, id string) (*model.Signal, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+signalColumns+` FROM signals WHERE id = ?`, id)
	sig, err := scanLiteSignal(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, eris.Wrapf(ErrNotFound, "sqlite: get signal %s", id)
		}
		return nil, eris.Wrapf(err, "sqlite: get signal %s", id)
	}
	return sig, nil
}

func (s *SQLiteStore) ListSignals(ctx context.Context, filter SignalFilter) ([]model.Signal, error) {
	query, args, err := signalListQuery(sqlb, filter).ToSql()
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: build list signals")
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list signals")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.Signal
	for rows.Next() {
		sig, err := scanLiteSignal(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan signal")
		}
		out = append(out, *sig)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate signals")
}

func (s *SQLiteStore) UpdateSignalEnrichment(ctx context.Context, id string, status model.EnrichmentStatus, companyInfo json.RawMessage) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE signals SET enrichment_status = ?, company_info = COALESCE(?, company_info), updated_at = ? WHERE id = ?`,
		string(status), nullableText(companyInfo), time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update signal enrichment %s", id)
	}
	return checkRowsAffected(res, ErrNotFound, "sqlite: update signal enrichment", id)
}

func scanLiteSignal(row rowScanner) (*model.Signal, error) {
	var (
		sig         model.Signal
		signalType  string
		status      string
		enrichment  string
		companyInfo sql.NullString
	)
	if err := row.Scan(&sig.ID, &sig.CompanyName, &signalType, &sig.Detail, &sig.Score, &sig.SourceURL, &sig.Source,
		&sig.SourceItemID, &status, &enrichment, &companyInfo, &sig.CreatedAt, &sig.UpdatedAt); err != nil {
		return nil, err
	}
	sig.SignalType = model.SignalType(signalType)
	sig.Status = model.SignalStatus(status)
	sig.EnrichmentStatus = model.EnrichmentStatus(enrichment)
	if companyInfo.Valid && companyInfo.String != "" {
		sig.CompanyInfo = json.RawMessage(companyInfo.String)
	}
	return &sig, nil
}

// --- Scan runs ---

func (s *SQLiteStore) CreateScan(ctx context.Context) (*model.ScanRun, error) {
	now := time.Now().UTC()
	run := &model.ScanRun{
		ID:        uuid.New().String(),
		Status:    model.ScanStatusRunning,
		StartedAt: now,
		UpdatedAt: now,
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO scan_runs (id, status, started_at, updated_at) VALUES (?, ?, ?, ?)`,
		run.ID, string(run.Status), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: create scan")
	}
	return run, nil
}

func (s *SQLiteStore) GetScan(ctx context.Context, id string) (*model.ScanRun, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+scanColumns+` FROM scan_runs WHERE id = ?`, id)
	run, err := scanLiteScan(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, eris.Wrapf(ErrNotFound, "sqlite: get scan %s", id)
		}
		return nil, eris.Wrapf(err, "sqlite: get scan %s", id)
	}
	return run, nil
}

func (s *SQLiteStore) ListScans(ctx context.Context, filter ScanFilter) ([]model.ScanRun, error) {
	query, args, err := scanListQuery(sqlb, filter).ToSql()
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: build list scans")
	}
	return s.queryScans(ctx, "list scans", query, args...)
}

func (s *SQLiteStore) StartInvocation(ctx context.Context, id string) error {
	return s.guardedScanUpdate(ctx, "start invocation", id,
		`UPDATE scan_runs SET invocations = invocations + 1, updated_at = ? WHERE id = ? AND status = 'running'`,
		time.Now().UTC(), id)
}

func (s *SQLiteStore) SetScanFetched(ctx context.Context, id string, itemsFetched int) error {
	return s.guardedScanUpdate(ctx, "set fetched", id,
		`UPDATE scan_runs SET items_fetched = ?, updated_at = ? WHERE id = ? AND status = 'running'`,
		itemsFetched, time.Now().UTC(), id)
}

func (s *SQLiteStore) CheckpointScan(ctx context.Context, id string, analyzedDelta, createdDelta int) error {
	return s.guardedScanUpdate(ctx, "checkpoint", id,
		`UPDATE scan_runs SET items_analyzed = items_analyzed + ?, signals_created = signals_created + ?, updated_at = ?
		 WHERE id = ? AND status = 'running'`,
		analyzedDelta, createdDelta, time.Now().UTC(), id)
}

func (s *SQLiteStore) CompleteScan(ctx context.Context, id string) error {
	now := time.Now().UTC()
	return s.guardedScanUpdate(ctx, "complete", id,
		`UPDATE scan_runs SET status = 'completed', completed_at = ?, updated_at = ?, next_run_at = NULL
		 WHERE id = ? AND status = 'running'`,
		now, now, id)
}

func (s *SQLiteStore) FailScan(ctx context.Context, id string, message string) error {
	now := time.Now().UTC()
	return s.guardedScanUpdate(ctx, "fail", id,
		`UPDATE scan_runs SET status = 'failed', error_message = ?, completed_at = ?, updated_at = ?, next_run_at = NULL
		 WHERE id = ? AND status = 'running'`,
		message, now, now, id)
}

func (s *SQLiteStore) ScheduleContinuation(ctx context.Context, id string, at time.Time) error {
	return s.guardedScanUpdate(ctx, "schedule continuation", id,
		`UPDATE scan_runs SET next_run_at = ?, updated_at = ? WHERE id = ? AND status = 'running'`,
		at.UTC(), time.Now().UTC(), id)
}

func (s *SQLiteStore) ClaimDueScans(ctx context.Context, now time.Time, limit int) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`UPDATE scan_runs SET next_run_at = NULL, updated_at = ?
		 WHERE id IN (
			SELECT id FROM scan_runs
			WHERE status = 'running' AND next_run_at IS NOT NULL AND next_run_at <= ?
			ORDER BY next_run_at LIMIT ?
		 )
		 RETURNING id`,
		now.UTC(), now.UTC(), limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: claim due scans")
	}
	defer rows.Close() //nolint:errcheck

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan claimed id")
		}
		ids = append(ids, id)
	}
	return ids, eris.Wrap(rows.Err(), "sqlite: iterate claimed scans")
}

func (s *SQLiteStore) ListStaleScans(ctx context.Context, updatedBefore time.Time) ([]model.ScanRun, error) {
	return s.queryScans(ctx, "list stale scans",
		`SELECT `+scanColumns+` FROM scan_runs
		 WHERE status = 'running' AND next_run_at IS NULL AND updated_at < ?
		 ORDER BY updated_at`,
		updatedBefore.UTC(),
	)
}

func (s *SQLiteStore) guardedScanUpdate(ctx context.Context, action, id, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return eris.Wrapf(err, "sqlite: scan %s %s", action, id)
	}
	return checkRowsAffected(res, ErrScanNotRunning, "sqlite: scan "+action, id)
}

func (s *SQLiteStore) queryScans(ctx context.Context, action, query string, args ...any) ([]model.ScanRun, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: %s", action)
	}
	defer rows.Close() //nolint:errcheck

	var out []model.ScanRun
	for rows.Next() {
		run, err := scanLiteScan(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan scan run")
		}
		out = append(out, *run)
	}
	return out, eris.Wrapf(rows.Err(), "sqlite: iterate %s", action)
}

func scanLiteScan(row rowScanner) (*model.ScanRun, error) {
	var (
		run         model.ScanRun
		status      string
		completedAt sql.NullTime
		nextRunAt   sql.NullTime
	)
	if err := row.Scan(&run.ID, &status, &run.ItemsFetched, &run.ItemsAnalyzed, &run.SignalsCreated, &run.Invocations,
		&run.ErrorMessage, &run.StartedAt, &run.UpdatedAt, &completedAt, &nextRunAt); err != nil {
		return nil, err
	}
	run.Status = model.ScanStatus(status)
	if completedAt.Valid {
		run.CompletedAt = &completedAt.Time
	}
	if nextRunAt.Valid {
		run.NextRunAt = &nextRunAt.Time
	}
	return &run, nil
}

// --- Enrichment tasks ---

func (s *SQLiteStore) CreateTask(ctx context.Context, task *model.EnrichmentTask) error {
	prepareTask(task)
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO enrichment_tasks (`+taskColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT DO NOTHING`,
		task.ID, task.OwnerID, task.ExternalTaskID, task.LastExternalTaskID, task.ExternalTaskURL,
		string(task.Status), task.ProviderStatus, nullableText(task.RawOutput), nullableText(task.CompanyInfo),
		task.ErrorMessage, task.CreatedAt, task.UpdatedAt, task.CompletedAt,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: create task for %s", task.OwnerID)
	}
	return checkRowsAffected(res, ErrOpenTaskExists, "sqlite: create task for", task.OwnerID)
}

func (s *SQLiteStore) GetOpenTask(ctx context.Context, ownerID string) (*model.EnrichmentTask, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM enrichment_tasks WHERE owner_id = ? AND status = 'processing'
		 ORDER BY created_at DESC LIMIT 1`,
		ownerID,
	)
	task, err := scanLiteTask(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "sqlite: get open task %s", ownerID)
	}
	return task, nil
}

func (s *SQLiteStore) ListOpenTasks(ctx context.Context) ([]model.EnrichmentTask, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+taskColumns+` FROM enrichment_tasks WHERE status = 'processing' ORDER BY created_at`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list open tasks")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.EnrichmentTask
	for rows.Next() {
		task, err := scanLiteTask(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan task")
		}
		out = append(out, *task)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate tasks")
}

func (s *SQLiteStore) UpdateTaskProviderStatus(ctx context.Context, id, providerStatus string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE enrichment_tasks SET provider_status = ?, updated_at = ? WHERE id = ? AND status = 'processing'`,
		providerStatus, time.Now().UTC(), id,
	)
	return eris.Wrapf(err, "sqlite: update task provider status %s", id)
}

func (s *SQLiteStore) CompleteTask(ctx context.Context, id string, companyInfo, rawOutput json.RawMessage) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE enrichment_tasks
		 SET status = 'completed', provider_status = 'completed', company_info = ?, raw_output = ?,
		     last_external_task_id = external_task_id, external_task_id = '',
		     completed_at = ?, updated_at = ?
		 WHERE id = ? AND status = 'processing'`,
		nullableText(companyInfo), nullableText(rawOutput), now, now, id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete task %s", id)
	}
	return checkRowsAffected(res, ErrNotFound, "sqlite: complete task", id)
}

func (s *SQLiteStore) FailTask(ctx context.Context, id, message string) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE enrichment_tasks
		 SET status = 'error', error_message = ?,
		     last_external_task_id = external_task_id, external_task_id = '',
		     completed_at = ?, updated_at = ?
		 WHERE id = ? AND status = 'processing'`,
		message, now, now, id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: fail task %s", id)
	}
	return checkRowsAffected(res, ErrNotFound, "sqlite: fail task", id)
}

func scanLiteTask(row rowScanner) (*model.EnrichmentTask, error) {
	var (
		task        model.EnrichmentTask
		status      string
		rawOutput   sql.NullString
		companyInfo sql.NullString
		completedAt sql.NullTime
	)
	if err := row.Scan(&task.ID, &task.OwnerID, &task.ExternalTaskID, &task.LastExternalTaskID, &task.ExternalTaskURL,
		&status, &task.ProviderStatus, &rawOutput, &companyInfo, &task.ErrorMessage,
		&task.CreatedAt, &task.UpdatedAt, &completedAt); err != nil {
		return nil, err
	}
	task.Status = model.TaskStatus(status)
	if rawOutput.Valid && rawOutput.String != "" {
		task.RawOutput = json.RawMessage(rawOutput.String)
	}
	if companyInfo.Valid && companyInfo.String != "" {
		task.CompanyInfo = json.RawMessage(companyInfo.String)
	}
	if completedAt.Valid {
		task.CompletedAt = &completedAt.Time
	}
	return &task, nil
}

// --- Contacts ---

func (s *SQLiteStore) CountContacts(ctx context.Context, ownerID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM contacts WHERE owner_id = ?`, ownerID).Scan(&n)
	return n, eris.Wrapf(err, "sqlite: count contacts %s", ownerID)
}

func (s *SQLiteStore) InsertContacts(ctx context.Context, contacts []model.Contact) (int, error) {
	if len(contacts) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin insert contacts")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO contacts (id, owner_id, full_name, first_name, last_name, job_title, email, phone,
		                       linkedin_url, priority_score, outreach_status, source, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?) ON CONFLICT DO NOTHING`)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: prepare insert contact")
	}
	defer stmt.Close() //nolint:errcheck

	inserted := 0
	for i := range contacts {
		c := &contacts[i]
		prepareContact(c)
		res, err := stmt.ExecContext(ctx, c.ID, c.OwnerID, c.FullName, c.FirstName, c.LastName, c.JobTitle, c.Email,
			c.Phone, c.LinkedInURL, c.PriorityScore, string(c.OutreachStatus), string(c.Source), c.CreatedAt)
		if err != nil {
			return 0, eris.Wrapf(err, "sqlite: insert contact %s", c.FullName)
		}
		n, _ := res.RowsAffected()
		inserted += int(n)
	}
	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit contacts")
	}
	return inserted, nil
}

func (s *SQLiteStore) ListContacts(ctx context.Context, ownerID string) ([]model.Contact, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, owner_id, full_name, first_name, last_name, job_title, email, phone,
		        linkedin_url, priority_score, outreach_status, source, created_at
		 FROM contacts WHERE owner_id = ? ORDER BY priority_score DESC, full_name`,
		ownerID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list contacts %s", ownerID)
	}
	defer rows.Close() //nolint:errcheck

	var out []model.Contact
	for rows.Next() {
		var (
			c        model.Contact
			outreach string
			source   string
		)
		if err := rows.Scan(&c.ID, &c.OwnerID, &c.FullName, &c.FirstName, &c.LastName, &c.JobTitle, &c.Email, &c.Phone,
			&c.LinkedInURL, &c.PriorityScore, &outreach, &source, &c.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan contact")
		}
		c.OutreachStatus = model.OutreachStatus(outreach)
		c.Source = model.ContactSource(source)
		out = append(out, c)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate contacts")
}

func checkRowsAffected(res sql.Result, sentinel error, action, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(sentinel, "%s %s", action, id)
	}
	return nil
}

func nullableText(raw json.RawMessage) any {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	return string(raw)
}
