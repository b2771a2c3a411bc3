// Package enrich launches external agent tasks that find contacts for a
// signal's company and reconciles their results back into the store.
package enrich

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/signal-cli/internal/model"
	"github.com/sells-group/signal-cli/internal/resilience"
	"github.com/sells-group/signal-cli/internal/store"
	"github.com/sells-group/signal-cli/pkg/agent"
)

// ErrAgentNotConfigured is the cause recorded when no agent key is set.
var ErrAgentNotConfigured = errors.New("agent provider not configured")

// LaunchResult describes what Launch did for an owner.
type LaunchResult struct {
	OwnerID         string                 `json:"owner_id"`
	TaskID          string                 `json:"task_id,omitempty"`
	TaskURL         string                 `json:"task_url,omitempty"`
	Existing        bool                   `json:"existing,omitempty"`
	Fallback        bool                   `json:"fallback,omitempty"`
	ContactsCreated int                    `json:"contacts_created,omitempty"`
	Status          model.EnrichmentStatus `json:"enrichment_status"`
	Message         string                 `json:"message,omitempty"`
}

// Launcher starts enrichment for signals.
type Launcher struct {
	store store.Store
	agent agent.Client
}

// NewLauncher creates a Launcher. A nil agent client sends every launch down
// the fallback path.
func NewLauncher(st store.Store, ac agent.Client) *Launcher {
	return &Launcher{store: st, agent: ac}
}

// Launch starts an agent task for ownerID, or returns the open task if one
// already exists. When the provider cannot be reached a fallback contact is
// recorded synchronously instead; the owner is never left processing
// without a task handle. Quota rejections are returned alongside the
// fallback result so callers can surface them.
func (l *Launcher) Launch(ctx context.Context, ownerID string) (*LaunchResult, error) {
	log := zap.L().With(zap.String("component", "enrich.launcher"), zap.String("owner_id", ownerID))

	sig, err := l.store.GetSignal(ctx, ownerID)
	if err != nil {
		return nil, eris.Wrap(err, "enrich: load owner")
	}

	open, err := l.store.GetOpenTask(ctx, ownerID)
	if err != nil {
		return nil, eris.Wrap(err, "enrich: check open task")
	}
	if open != nil {
		log.Info("enrich: task already open", zap.String("task_id", open.ExternalTaskID))
		return existingResult(open), nil
	}

	if l.agent == nil {
		return l.degrade(ctx, sig, ErrAgentNotConfigured)
	}

	resp, err := l.agent.CreateTask(ctx, agent.CreateTaskRequest{Prompt: buildBrief(sig)})
	if err != nil {
		log.Warn("enrich: agent launch failed, using fallback", zap.Error(err))
		res, derr := l.degrade(ctx, sig, err)
		if derr != nil {
			return nil, derr
		}
		if resilience.IsQuota(err) {
			return res, eris.Wrap(err, "enrich: launch")
		}
		return res, nil
	}

	task := &model.EnrichmentTask{
		OwnerID:         ownerID,
		ExternalTaskID:  resp.ID,
		ExternalTaskURL: resp.URL,
		Status:          model.TaskStatusProcessing,
		ProviderStatus:  "created",
	}
	if err := l.store.CreateTask(ctx, task); err != nil {
		if errors.Is(err, store.ErrOpenTaskExists) {
			// Lost a race with a concurrent launch; report the winner.
			if open, gerr := l.store.GetOpenTask(ctx, ownerID); gerr == nil && open != nil {
				return existingResult(open), nil
			}
		}
		return nil, eris.Wrap(err, "enrich: record task")
	}
	if err := l.store.UpdateSignalEnrichment(ctx, ownerID, model.EnrichmentProcessing, nil); err != nil {
		return nil, eris.Wrap(err, "enrich: mark owner processing")
	}

	log.Info("enrich: task launched", zap.String("task_id", resp.ID))
	return &LaunchResult{
		OwnerID: ownerID,
		TaskID:  resp.ID,
		TaskURL: resp.URL,
		Status:  model.EnrichmentProcessing,
	}, nil
}

func existingResult(t *model.EnrichmentTask) *LaunchResult {
	return &LaunchResult{
		OwnerID:  t.OwnerID,
		TaskID:   t.ExternalTaskID,
		TaskURL:  t.ExternalTaskURL,
		Existing: true,
		Status:   model.EnrichmentProcessing,
	}
}

// degrade records a fallback contact and a terminal error task for sig.
func (l *Launcher) degrade(ctx context.Context, sig *model.Signal, cause error) (*LaunchResult, error) {
	res := &LaunchResult{OwnerID: sig.ID, Fallback: true, Message: cause.Error()}

	existing, err := l.store.CountContacts(ctx, sig.ID)
	if err != nil {
		return nil, eris.Wrap(err, "enrich: count contacts")
	}
	if existing == 0 {
		if c, ok := fallbackContact(sig, companyInfoMap(sig.CompanyInfo)); ok {
			n, err := l.store.InsertContacts(ctx, []model.Contact{c})
			if err != nil {
				return nil, eris.Wrap(err, "enrich: insert fallback contact")
			}
			res.ContactsCreated = n
		}
	}

	task := &model.EnrichmentTask{
		OwnerID:      sig.ID,
		Status:       model.TaskStatusError,
		ErrorMessage: cause.Error(),
	}
	if err := l.store.CreateTask(ctx, task); err != nil {
		return nil, eris.Wrap(err, "enrich: record failed launch")
	}

	res.Status = model.EnrichmentFailed
	if existing+res.ContactsCreated > 0 {
		res.Status = model.EnrichmentCompleted
	}
	if err := l.store.UpdateSignalEnrichment(ctx, sig.ID, res.Status, nil); err != nil {
		return nil, eris.Wrap(err, "enrich: mark owner")
	}

	zap.L().Info("enrich: fallback recorded",
		zap.String("owner_id", sig.ID),
		zap.Int("contacts_created", res.ContactsCreated),
		zap.String("enrichment_status", string(res.Status)),
	)
	return res, nil
}

func companyInfoMap(raw json.RawMessage) map[string]any {
	if len(raw) == 0 {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil
	}
	return m
}
