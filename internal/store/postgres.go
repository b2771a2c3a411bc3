package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/signal-cli/internal/db"
	"github.com/sells-group/signal-cli/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// insertChunk bounds the rows per multi-row INSERT to stay well under the
// 65535 bind parameter limit.
const insertChunk = 500

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresWithPool wraps an existing pool.
func NewPostgresWithPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool, closeFn: pool.Close}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS source_items (
	id           TEXT PRIMARY KEY,
	source       TEXT NOT NULL,
	title        TEXT NOT NULL DEFAULT '',
	body         TEXT NOT NULL DEFAULT '',
	url          TEXT NOT NULL,
	published_at TIMESTAMPTZ,
	processed    BOOLEAN NOT NULL DEFAULT false,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (source, url)
);

CREATE INDEX IF NOT EXISTS idx_source_items_unprocessed ON source_items(published_at DESC) WHERE NOT processed;

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
	company_info      JSONB,
	created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
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
	started_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	completed_at    TIMESTAMPTZ,
	next_run_at     TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_scan_runs_due ON scan_runs(next_run_at) WHERE status = 'running';

CREATE TABLE IF NOT EXISTS enrichment_tasks (
	id                    TEXT PRIMARY KEY,
	owner_id              TEXT NOT NULL,
	external_task_id      TEXT NOT NULL DEFAULT '',
	last_external_task_id TEXT NOT NULL DEFAULT '',
	external_task_url     TEXT NOT NULL DEFAULT '',
	status                TEXT NOT NULL,
	provider_status       TEXT NOT NULL DEFAULT '',
	raw_output            JSONB,
	company_info          JSONB,
	error_message         TEXT NOT NULL DEFAULT '',
	created_at            TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at            TIMESTAMPTZ NOT NULL DEFAULT now(),
	completed_at          TIMESTAMPTZ
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_enrichment_tasks_open_owner ON enrichment_tasks(owner_id) WHERE status = 'processing';
CREATE INDEX IF NOT EXISTS idx_enrichment_tasks_owner ON enrichment_tasks(owner_id, created_at DESC);

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
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_contacts_owner_name ON contacts(owner_id, lower(full_name));
`

// Ping checks connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// --- Source items ---

var sourceItemColumns = []string{"id", "source", "title", "body", "url", "published_at", "processed", "created_at"}

func (s *PostgresStore) InsertSourceItems(ctx context.Context, items []model.SourceItem) (int, error) {
	now := time.Now().UTC()
	cfg := db.InsertConfig{
		Table:        "source_items",
		Columns:      sourceItemColumns,
		ConflictKeys: []string{"source", "url"},
	}

	var total int64
	for start := 0; start < len(items); start += insertChunk {
		end := min(start+insertChunk, len(items))
		rows := make([][]any, 0, end-start)
		for _, it := range items[start:end] {
			id := it.ID
			if id == "" {
				id = uuid.New().String()
			}
			rows = append(rows, []any{id, it.Source, it.Title, it.Body, it.URL, nullableTime(it.PublishedAt), false, now})
		}
		n, err := db.BulkInsertIgnore(ctx, s.pool, cfg, rows)
		if err != nil {
			return int(total), eris.Wrap(err, "postgres: insert source items")
		}
		total += n
	}
	return int(total), nil
}

func (s *PostgresStore) ListUnprocessedItems(ctx context.Context, limit int) ([]model.SourceItem, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, source, title, body, url, published_at, processed, created_at
		 FROM source_items WHERE NOT processed
		 ORDER BY published_at DESC NULLS LAST, created_at DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list unprocessed items")
	}
	defer rows.Close()

	var items []model.SourceItem
	for rows.Next() {
		var (
			it          model.SourceItem
			publishedAt *time.Time
		)
		if err := rows.Scan(&it.ID, &it.Source, &it.Title, &it.Body, &it.URL, &publishedAt, &it.Processed, &it.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan source item")
		}
		if publishedAt != nil {
			it.PublishedAt = *publishedAt
		}
		items = append(items, it)
	}
	return items, eris.Wrap(rows.Err(), "postgres: iterate source items")
}

func (s *PostgresStore) MarkItemsProcessed(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx, `UPDATE source_items SET processed = true WHERE id = ANY($1)`, ids)
	return eris.Wrap(err, "postgres: mark items processed")
}

func (s *PostgresStore) CountUnprocessedItems(ctx context.Context) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `SELECT count(*) FROM source_items WHERE NOT processed`).Scan(&n)
	return n, eris.Wrap(err, "postgres: count unprocessed items")
}

// --- Signals ---

const signalColumns = `id, company_name, signal_type, detail, score, source_url, source, source_item_id, status, enrichment_status, company_info, created_at, updated_at`

func (s *PostgresStore) SignalExists(ctx context.Context, companyName, sourceURL, source string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM signals WHERE company_name = $1 AND source_url = $2 AND source = $3)`,
		companyName, sourceURL, source,
	).Scan(&exists)
	return exists, eris.Wrap(err, "postgres: signal exists")
}

func (s *PostgresStore) InsertSignal(ctx context.Context, sig *model.Signal) (bool, error) {
	prepareSignal(sig)
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO signals (`+signalColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		 ON CONFLICT (company_name, source_url, source) DO NOTHING`,
		sig.ID, sig.CompanyName, string(sig.SignalType), sig.Detail, sig.Score, sig.SourceURL, sig.Source,
		sig.SourceItemID, string(sig.Status), string(sig.EnrichmentStatus), nullableJSON(sig.CompanyInfo),
		sig.CreatedAt, sig.UpdatedAt,
	)
	if err != nil {
		return false, eris.Wrap(err, "postgres: insert signal")
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) GetSignal(ctx context.Context, id string) (*model.Signal, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+signalColumns+` FROM signals WHERE id = $1`, id)
	sig, err := scanPgSignal(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, eris.Wrapf(ErrNotFound, "postgres: get signal %s", id)
		}
		return nil, eris.Wrapf(err, "postgres: get signal %s", id)
	}
	return sig, nil
}

func (s *PostgresStore) ListSignals(ctx context.Context, filter SignalFilter) ([]model.Signal, error) {
	query, args, err := signalListQuery(psql, filter).ToSql()
	if err != nil {
		return nil, eris.Wrap(err, "postgres: build list signals")
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list signals")
	}
	defer rows.Close()

	var out []model.Signal
	for rows.Next() {
		sig, err := scanPgSignal(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan signal")
		}
		out = append(out, *sig)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate signals")
}

func (s *PostgresStore) UpdateSignalEnrichment(ctx context.Context, id string, status model.EnrichmentStatus, companyInfo json.RawMessage) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE signals SET enrichment_status = $1, company_info = COALESCE($2, company_info), updated_at = $3 WHERE id = $4`,
		string(status), nullableJSON(companyInfo), time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update signal enrichment %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "postgres: update signal enrichment %s", id)
	}
	return nil
}

func scanPgSignal(row rowScanner) (*model.Signal, error) {
	var (
		sig         model.Signal
		signalType  string
		status      string
		enrichment  string
		companyInfo []byte
	)
	if err := row.Scan(&sig.ID, &sig.CompanyName, &signalType, &sig.Detail, &sig.Score, &sig.SourceURL, &sig.Source,
		&sig.SourceItemID, &status, &enrichment, &companyInfo, &sig.CreatedAt, &sig.UpdatedAt); err != nil {
		return nil, err
	}
	sig.SignalType = model.SignalType(signalType)
	sig.Status = model.SignalStatus(status)
	sig.EnrichmentStatus = model.EnrichmentStatus(enrichment)
	if len(companyInfo) > 0 {
		sig.CompanyInfo = json.RawMessage(companyInfo)
	}
	return &sig, nil
}

// --- Scan runs ---

const scanColumns = `id, status, items_fetched, items_analyzed, signals_created, invocations, error_message, started_at, updated_at, completed_at, next_run_at`

func (s *PostgresStore) CreateScan(ctx context.Context) (*model.ScanRun, error) {
	now := time.Now().UTC()
	run := &model.ScanRun{
		ID:        uuid.New().String(),
		Status:    model.ScanStatusRunning,
		StartedAt: now,
		UpdatedAt: now,
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO scan_runs (id, status, started_at, updated_at) VALUES ($1, $2, $3, $4)`,
		run.ID, string(run.Status), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create scan")
	}
	return run, nil
}

func (s *PostgresStore) GetScan(ctx context.Context, id string) (*model.ScanRun, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+scanColumns+` FROM scan_runs WHERE id = $1`, id)
	run, err := scanPgScan(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, eris.Wrapf(ErrNotFound, "postgres: get scan %s", id)
		}
		return nil, eris.Wrapf(err, "postgres: get scan %s", id)
	}
	return run, nil
}

func (s *PostgresStore) ListScans(ctx context.Context, filter ScanFilter) ([]model.ScanRun, error) {
	query, args, err := scanListQuery(psql, filter).ToSql()
	if err != nil {
		return nil, eris.Wrap(err, "postgres: build list scans")
	}
	return s.queryScans(ctx, "list scans", query, args...)
}

func (s *PostgresStore) StartInvocation(ctx context.Context, id string) error {
	return s.guardedScanUpdate(ctx, "start invocation", id,
		`UPDATE scan_runs SET invocations = invocations + 1, updated_at = $1 WHERE id = $2 AND status = 'running'`,
		time.Now().UTC(), id)
}

func (s *PostgresStore) SetScanFetched(ctx context.Context, id string, itemsFetched int) error {
	return s.guardedScanUpdate(ctx, "set fetched", id,
		`UPDATE scan_runs SET items_fetched = $1, updated_at = $2 WHERE id = $3 AND status = 'running'`,
		itemsFetched, time.Now().UTC(), id)
}

func (s *PostgresStore) CheckpointScan(ctx context.Context, id string, analyzedDelta, createdDelta int) error {
	return s.guardedScanUpdate(ctx, "checkpoint", id,
		`UPDATE scan_runs SET items_analyzed = items_analyzed + $1, signals_created = signals_created + $2, updated_at = $3
		 WHERE id = $4 AND status = 'running'`,
		analyzedDelta, createdDelta, time.Now().UTC(), id)
}

func (s *PostgresStore) CompleteScan(ctx context.Context, id string) error {
	now := time.Now().UTC()
	return s.guardedScanUpdate(ctx, "complete", id,
		`UPDATE scan_runs SET status = 'completed', completed_at = $1, updated_at = $1, next_run_at = NULL
		 WHERE id = $2 AND status = 'running'`,
		now, id)
}

func (s *PostgresStore) FailScan(ctx context.Context, id string, message string) error {
	now := time.Now().UTC()
	return s.guardedScanUpdate(ctx, "fail", id,
		`UPDATE scan_runs SET status = 'failed', error_message = $1, completed_at = $2, updated_at = $2, next_run_at = NULL
		 WHERE id = $3 AND status = 'running'`,
		message, now, id)
}

func (s *PostgresStore) ScheduleContinuation(ctx context.Context, id string, at time.Time) error {
	return s.guardedScanUpdate(ctx, "schedule continuation", id,
		`UPDATE scan_runs SET next_run_at = $1, updated_at = $2 WHERE id = $3 AND status = 'running'`,
		at.UTC(), time.Now().UTC(), id)
}

func (s *PostgresStore) ClaimDueScans(ctx context.Context, now time.Time, limit int) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`UPDATE scan_runs SET next_run_at = NULL, updated_at = $1
		 WHERE id IN (
			SELECT id FROM scan_runs
			WHERE status = 'running' AND next_run_at IS NOT NULL AND next_run_at <= $1
			ORDER BY next_run_at LIMIT $2
			FOR UPDATE SKIP LOCKED
		 )
		 RETURNING id`,
		now.UTC(), limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: claim due scans")
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, eris.Wrap(err, "postgres: scan claimed id")
		}
		ids = append(ids, id)
	}
	return ids, eris.Wrap(rows.Err(), "postgres: iterate claimed scans")
}

func (s *PostgresStore) ListStaleScans(ctx context.Context, updatedBefore time.Time) ([]model.ScanRun, error) {
	return s.queryScans(ctx, "list stale scans",
		`SELECT `+scanColumns+` FROM scan_runs
		 WHERE status = 'running' AND next_run_at IS NULL AND updated_at < $1
		 ORDER BY updated_at`,
		updatedBefore.UTC(),
	)
}

func (s *PostgresStore) guardedScanUpdate(ctx context.Context, action, id, query string, args ...any) error {
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return eris.Wrapf(err, "postgres: scan %s %s", action, id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrScanNotRunning, "postgres: scan %s %s", action, id)
	}
	return nil
}

func (s *PostgresStore) queryScans(ctx context.Context, action, query string, args ...any) ([]model.ScanRun, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: %s", action)
	}
	defer rows.Close()

	var out []model.ScanRun
	for rows.Next() {
		run, err := scanPgScan(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan scan run")
		}
		out = append(out, *run)
	}
	return out, eris.Wrapf(rows.Err(), "postgres: iterate %s", action)
}

func scanPgScan(row rowScanner) (*model.ScanRun, error) {
	var (
		run    model.ScanRun
		status string
	)
	if err := row.Scan(&run.ID, &status, &run.ItemsFetched, &run.ItemsAnalyzed, &run.SignalsCreated, &run.Invocations,
		&run.ErrorMessage, &run.StartedAt, &run.UpdatedAt, &run.CompletedAt, &run.NextRunAt); err != nil {
		return nil, err
	}
	run.Status = model.ScanStatus(status)
	return &run, nil
}

// --- Enrichment tasks ---

const taskColumns = `id, owner_id, external_task_id, last_external_task_id, external_task_url, status, provider_status, raw_output, company_info, error_message, created_at, updated_at, completed_at`

func (s *PostgresStore) CreateTask(ctx context.Context, task *model.EnrichmentTask) error {
	prepareTask(task)
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO enrichment_tasks (`+taskColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		 ON CONFLICT DO NOTHING`,
		task.ID, task.OwnerID, task.ExternalTaskID, task.LastExternalTaskID, task.ExternalTaskURL,
		string(task.Status), task.ProviderStatus, nullableJSON(task.RawOutput), nullableJSON(task.CompanyInfo),
		task.ErrorMessage, task.CreatedAt, task.UpdatedAt, task.CompletedAt,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: create task for %s", task.OwnerID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrOpenTaskExists, "postgres: create task for %s", task.OwnerID)
	}
	return nil
}

func (s *PostgresStore) GetOpenTask(ctx context.Context, ownerID string) (*model.EnrichmentTask, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+taskColumns+` FROM enrichment_tasks WHERE owner_id = $1 AND status = 'processing'
		 ORDER BY created_at DESC LIMIT 1`,
		ownerID,
	)
	task, err := scanPgTask(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: get open task %s", ownerID)
	}
	return task, nil
}

func (s *PostgresStore) ListOpenTasks(ctx context.Context) ([]model.EnrichmentTask, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+taskColumns+` FROM enrichment_tasks WHERE status = 'processing' ORDER BY created_at`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list open tasks")
	}
	defer rows.Close()

	var out []model.EnrichmentTask
	for rows.Next() {
		task, err := scanPgTask(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan task")
		}
		out = append(out, *task)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate tasks")
}

func (s *PostgresStore) UpdateTaskProviderStatus(ctx context.Context, id, providerStatus string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE enrichment_tasks SET provider_status = $1, updated_at = $2 WHERE id = $3 AND status = 'processing'`,
		providerStatus, time.Now().UTC(), id,
	)
	return eris.Wrapf(err, "postgres: update task provider status %s", id)
}

func (s *PostgresStore) CompleteTask(ctx context.Context, id string, companyInfo, rawOutput json.RawMessage) error {
	now := time.Now().UTC()
	tag, err := s.pool.Exec(ctx,
		`UPDATE enrichment_tasks
		 SET status = 'completed', provider_status = 'completed', company_info = $1, raw_output = $2,
		     last_external_task_id = external_task_id, external_task_id = '',
		     completed_at = $3, updated_at = $3
		 WHERE id = $4 AND status = 'processing'`,
		nullableJSON(companyInfo), nullableJSON(rawOutput), now, id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete task %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "postgres: complete task %s", id)
	}
	return nil
}

func (s *PostgresStore) FailTask(ctx context.Context, id, message string) error {
	now := time.Now().UTC()
	tag, err := s.pool.Exec(ctx,
		`UPDATE enrichment_tasks
		 SET status = 'error', error_message = $1,
		     last_external_task_id = external_task_id, external_task_id = '',
		     completed_at = $2, updated_at = $2
		 WHERE id = $3 AND status = 'processing'`,
		message, now, id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: fail task %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "postgres: fail task %s", id)
	}
	return nil
}

func scanPgTask(row rowScanner) (*model.EnrichmentTask, error) {
	var (
		task        model.EnrichmentTask
		status      string
		rawOutput   []byte
		companyInfo []byte
	)
	if err := row.Scan(&task.ID, &task.OwnerID, &task.ExternalTaskID, &task.LastExternalTaskID, &task.ExternalTaskURL,
		&status, &task.ProviderStatus, &rawOutput, &companyInfo, &task.ErrorMessage,
		&task.CreatedAt, &task.UpdatedAt, &task.CompletedAt); err != nil {
		return nil, err
	}
	task.Status = model.TaskStatus(status)
	if len(rawOutput) > 0 {
		task.RawOutput = json.RawMessage(rawOutput)
	}
	if len(companyInfo) > 0 {
		task.CompanyInfo = json.RawMessage(companyInfo)
	}
	return &task, nil
}

// --- Contacts ---

var contactColumns = []string{
	"id", "owner_id", "full_name", "first_name", "last_name", "job_title", "email", "phone",
	"linkedin_url", "priority_score", "outreach_status", "source", "created_at",
}

func (s *PostgresStore) CountContacts(ctx context.Context, ownerID string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `SELECT count(*) FROM contacts WHERE owner_id = $1`, ownerID).Scan(&n)
	return n, eris.Wrapf(err, "postgres: count contacts %s", ownerID)
}

func (s *PostgresStore) InsertContacts(ctx context.Context, contacts []model.Contact) (int, error) {
	rows := make([][]any, 0, len(contacts))
	for i := range contacts {
		c := &contacts[i]
		prepareContact(c)
		rows = append(rows, []any{
			c.ID, c.OwnerID, c.FullName, c.FirstName, c.LastName, c.JobTitle, c.Email, c.Phone,
			c.LinkedInURL, c.PriorityScore, string(c.OutreachStatus), string(c.Source), c.CreatedAt,
		})
	}
	n, err := db.BulkInsertIgnore(ctx, s.pool, db.InsertConfig{Table: "contacts", Columns: contactColumns}, rows)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: insert contacts")
	}
	return int(n), nil
}

func (s *PostgresStore) ListContacts(ctx context.Context, ownerID string) ([]model.Contact, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, owner_id, full_name, first_name, last_name, job_title, email, phone,
		        linkedin_url, priority_score, outreach_status, source, created_at
		 FROM contacts WHERE owner_id = $1 ORDER BY priority_score DESC, full_name`,
		ownerID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list contacts %s", ownerID)
	}
	defer rows.Close()

	var out []model.Contact
	for rows.Next() {
		var (
			c        model.Contact
			outreach string
			source   string
		)
		if err := rows.Scan(&c.ID, &c.OwnerID, &c.FullName, &c.FirstName, &c.LastName, &c.JobTitle, &c.Email, &c.Phone,
			&c.LinkedInURL, &c.PriorityScore, &outreach, &source, &c.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan contact")
		}
		c.OutreachStatus = model.OutreachStatus(outreach)
		c.Source = model.ContactSource(source)
		out = append(out, c)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate contacts")
}

func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC()
}
