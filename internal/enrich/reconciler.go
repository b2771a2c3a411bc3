package enrich

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/signal-cli/internal/model"
	"github.com/sells-group/signal-cli/internal/resultparse"
	"github.com/sells-group/signal-cli/internal/store"
	"github.com/sells-group/signal-cli/pkg/agent"
)

// CheckResult reports the state of one owner after a check.
type CheckResult struct {
	OwnerID        string            `json:"owner_id"`
	Status         string            `json:"status"`
	ContactsFound  int               `json:"contacts_found"`
	Message        string            `json:"message,omitempty"`
	ProviderStatus string            `json:"provider_status,omitempty"`
	Shape          resultparse.Shape `json:"shape,omitempty"`
}

// BatchCheckResult summarizes CheckAll.
type BatchCheckResult struct {
	Checked         int           `json:"checked"`
	Completed       int           `json:"completed"`
	StillProcessing int           `json:"still_processing"`
	Errors          int           `json:"errors"`
	Results         []CheckResult `json:"results"`
}

// ReconcilerOptions tunes a Reconciler.
type ReconcilerOptions struct {
	PollPause   time.Duration
	MaxContacts int
}

// Reconciler polls open agent tasks and persists their results.
type Reconciler struct {
	store  store.Store
	agent  agent.Client
	parser *resultparse.Parser
	opts   ReconcilerOptions
}

// NewReconciler creates a Reconciler.
func NewReconciler(st store.Store, ac agent.Client, parser *resultparse.Parser, opts ReconcilerOptions) *Reconciler {
	if parser == nil {
		parser = resultparse.New(nil)
	}
	if opts.MaxContacts <= 0 {
		opts.MaxContacts = defaultMaxCnt
	}
	return &Reconciler{store: st, agent: ac, parser: parser, opts: opts}
}

// Check polls the owner's open task once. Without an open task it reports
// the owner's current enrichment state.
func (r *Reconciler) Check(ctx context.Context, ownerID string) (*CheckResult, error) {
	task, err := r.store.GetOpenTask(ctx, ownerID)
	if err != nil {
		return nil, eris.Wrap(err, "enrich: load open task")
	}
	if task == nil {
		sig, err := r.store.GetSignal(ctx, ownerID)
		if err != nil {
			return nil, eris.Wrap(err, "enrich: load owner")
		}
		n, err := r.store.CountContacts(ctx, ownerID)
		if err != nil {
			return nil, eris.Wrap(err, "enrich: count contacts")
		}
		return &CheckResult{
			OwnerID:       ownerID,
			Status:        string(sig.EnrichmentStatus),
			ContactsFound: n,
			Message:       "no open enrichment task",
		}, nil
	}
	return r.checkTask(ctx, task)
}

// CheckAll polls every open task sequentially, pausing between provider
// calls. A failure for one owner is recorded in its result and does not stop
// the others.
func (r *Reconciler) CheckAll(ctx context.Context) (*BatchCheckResult, error) {
	tasks, err := r.store.ListOpenTasks(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "enrich: list open tasks")
	}

	out := &BatchCheckResult{Results: make([]CheckResult, 0, len(tasks))}
	for i := range tasks {
		if i > 0 && r.opts.PollPause > 0 {
			select {
			case <-ctx.Done():
				return out, ctx.Err()
			case <-time.After(r.opts.PollPause):
			}
		}

		task := tasks[i]
		out.Checked++
		res, err := r.checkTask(ctx, &task)
		if err != nil {
			zap.L().Warn("enrich: check failed",
				zap.String("owner_id", task.OwnerID),
				zap.Error(err),
			)
			out.Errors++
			out.Results = append(out.Results, CheckResult{
				OwnerID: task.OwnerID,
				Status:  string(model.TaskStatusError),
				Message: err.Error(),
			})
			continue
		}

		switch res.Status {
		case string(model.TaskStatusCompleted):
			out.Completed++
		case string(model.TaskStatusProcessing):
			out.StillProcessing++
		default:
			out.Errors++
		}
		out.Results = append(out.Results, *res)
	}

	zap.L().Info("enrich: reconcile pass complete",
		zap.Int("checked", out.Checked),
		zap.Int("completed", out.Completed),
		zap.Int("still_processing", out.StillProcessing),
		zap.Int("errors", out.Errors),
	)
	return out, nil
}

// Run calls CheckAll every interval until ctx is cancelled. A non-positive
// interval disables the loop.
func (r *Reconciler) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		zap.L().Info("enrich: reconcile loop disabled")
		return nil
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := r.CheckAll(ctx); err != nil && ctx.Err() == nil {
				zap.L().Error("enrich: reconcile pass", zap.Error(err))
			}
		}
	}
}

func (r *Reconciler) checkTask(ctx context.Context, task *model.EnrichmentTask) (*CheckResult, error) {
	log := zap.L().With(zap.String("component", "enrich.reconciler"), zap.String("owner_id", task.OwnerID))

	if task.ExternalTaskID == "" {
		return r.failTask(ctx, task, "task has no provider handle")
	}
	if r.agent == nil {
		return nil, eris.Wrap(ErrAgentNotConfigured, "enrich: poll task")
	}

	remote, err := r.agent.GetTask(ctx, task.ExternalTaskID)
	if err != nil {
		return nil, eris.Wrapf(err, "enrich: poll task %s", task.ExternalTaskID)
	}

	switch agent.PhaseOf(remote.Status) {
	case agent.PhaseRunning:
		if remote.Status != task.ProviderStatus {
			if err := r.store.UpdateTaskProviderStatus(ctx, task.ID, remote.Status); err != nil {
				return nil, eris.Wrap(err, "enrich: record provider status")
			}
		}
		return &CheckResult{
			OwnerID:        task.OwnerID,
			Status:         string(model.TaskStatusProcessing),
			ProviderStatus: remote.Status,
			Message:        "agent task still running",
		}, nil

	case agent.PhaseFailed:
		msg := remote.Error
		if msg == "" {
			msg = fmt.Sprintf("agent task ended with status %q", remote.Status)
		}
		log.Warn("enrich: agent task failed", zap.String("error", msg))
		res, err := r.failTask(ctx, task, msg)
		if res != nil {
			res.ProviderStatus = remote.Status
		}
		return res, err
	}

	return r.completeTask(ctx, task, remote, log)
}

func (r *Reconciler) completeTask(ctx context.Context, task *model.EnrichmentTask, remote *agent.TaskResponse, log *zap.Logger) (*CheckResult, error) {
	parsed := r.parser.ParseTask(ctx, remote.Output, remote.OutputFiles)

	existing, err := r.store.CountContacts(ctx, task.OwnerID)
	if err != nil {
		return nil, eris.Wrap(err, "enrich: count contacts")
	}
	inserted := 0
	if existing == 0 {
		rows := normalizeContacts(task.OwnerID, parsed.Contacts, r.opts.MaxContacts)
		if len(rows) > 0 {
			if inserted, err = r.store.InsertContacts(ctx, rows); err != nil {
				return nil, eris.Wrap(err, "enrich: insert contacts")
			}
		}
	}

	var companyInfo json.RawMessage
	if len(parsed.CompanyInfo) > 0 {
		if companyInfo, err = json.Marshal(parsed.CompanyInfo); err != nil {
			return nil, eris.Wrap(err, "enrich: marshal company info")
		}
	}
	raw := remote.Output
	if len(raw) == 0 {
		raw = remote.OutputFiles
	}
	if err := r.store.CompleteTask(ctx, task.ID, companyInfo, raw); err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, eris.Wrap(err, "enrich: complete task")
	}
	if err := r.store.UpdateSignalEnrichment(ctx, task.OwnerID, model.EnrichmentCompleted, companyInfo); err != nil {
		return nil, eris.Wrap(err, "enrich: mark owner completed")
	}

	found := existing + inserted
	msg := fmt.Sprintf("found %d contacts", found)
	if found == 0 && parsed.Error != "" {
		msg = "no contacts: " + parsed.Error
	}
	log.Info("enrich: task completed",
		zap.Int("contacts_inserted", inserted),
		zap.Int("contacts_existing", existing),
		zap.String("shape", string(parsed.Shape)),
		zap.String("search_method", parsed.SearchMethod),
	)
	return &CheckResult{
		OwnerID:        task.OwnerID,
		Status:         string(model.TaskStatusCompleted),
		ContactsFound:  found,
		Message:        msg,
		ProviderStatus: remote.Status,
		Shape:          parsed.Shape,
	}, nil
}

func (r *Reconciler) failTask(ctx context.Context, task *model.EnrichmentTask, msg string) (*CheckResult, error) {
	if err := r.store.FailTask(ctx, task.ID, msg); err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, eris.Wrap(err, "enrich: fail task")
	}
	if err := r.store.UpdateSignalEnrichment(ctx, task.OwnerID, model.EnrichmentFailed, nil); err != nil {
		return nil, eris.Wrap(err, "enrich: mark owner failed")
	}
	return &CheckResult{
		OwnerID: task.OwnerID,
		Status:  string(model.TaskStatusError),
		Message: msg,
	}, nil
}
