package store

import (
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"

	"github.com/sells-group/signal-cli/internal/model"
)

type rowScanner interface {
	Scan(dest ...any) error
}

func signalListQuery(b sq.StatementBuilderType, f SignalFilter) sq.SelectBuilder {
	q := b.Select(signalColumns).From("signals")
	if f.Status != "" {
		q = q.Where(sq.Eq{"status": string(f.Status)})
	}
	if f.EnrichmentStatus != "" {
		q = q.Where(sq.Eq{"enrichment_status": string(f.EnrichmentStatus)})
	}
	if f.SignalType != "" {
		q = q.Where(sq.Eq{"signal_type": string(f.SignalType)})
	}
	if f.MinScore > 0 {
		q = q.Where(sq.GtOrEq{"score": f.MinScore})
	}
	q = q.OrderBy("created_at DESC", "id").Limit(listLimit(f.Limit))
	if f.Offset > 0 {
		q = q.Offset(uint64(f.Offset))
	}
	return q
}

func scanListQuery(b sq.StatementBuilderType, f ScanFilter) sq.SelectBuilder {
	q := b.Select(scanColumns).From("scan_runs")
	if f.Status != "" {
		q = q.Where(sq.Eq{"status": string(f.Status)})
	}
	return q.OrderBy("started_at DESC", "id").Limit(listLimit(f.Limit))
}

// prepareSignal fills identity, defaults and timestamps before insert.
func prepareSignal(sig *model.Signal) {
	now := time.Now().UTC()
	if sig.ID == "" {
		sig.ID = uuid.New().String()
	}
	if sig.Status == "" {
		sig.Status = model.SignalStatusNew
	}
	if sig.EnrichmentStatus == "" {
		sig.EnrichmentStatus = model.EnrichmentNone
	}
	if sig.SignalType == "" {
		sig.SignalType = model.SignalTypeOther
	}
	sig.Score = model.ClampScore(sig.Score)
	if sig.CreatedAt.IsZero() {
		sig.CreatedAt = now
	}
	sig.UpdatedAt = now
}

func prepareTask(task *model.EnrichmentTask) {
	now := time.Now().UTC()
	if task.ID == "" {
		task.ID = uuid.New().String()
	}
	if task.Status == "" {
		task.Status = model.TaskStatusProcessing
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = now
	}
	task.UpdatedAt = now
	if task.Status != model.TaskStatusProcessing && task.CompletedAt == nil {
		task.CompletedAt = &now
	}
}

func prepareContact(c *model.Contact) {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.OutreachStatus == "" {
		c.OutreachStatus = model.OutreachPending
	}
	if c.Source == "" {
		c.Source = model.ContactSourceAgent
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
}
