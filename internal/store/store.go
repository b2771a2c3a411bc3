// Package store persists source items, signals, scan runs, enrichment tasks
// and contacts.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/sells-group/signal-cli/internal/model"
)

var (
	// ErrNotFound is returned when a row addressed by id does not exist.
	ErrNotFound = errors.New("not found")
	// ErrScanNotRunning is returned when a guarded scan update matches no
	// running row, either because the scan is terminal or missing.
	ErrScanNotRunning = errors.New("scan is not running")
	// ErrOpenTaskExists is returned when an owner already has a
	// processing enrichment task.
	ErrOpenTaskExists = errors.New("owner already has an open enrichment task")
)

// SignalFilter specifies criteria for listing signals.
type SignalFilter struct {
	Status           model.SignalStatus     `json:"status,omitempty"`
	EnrichmentStatus model.EnrichmentStatus `json:"enrichment_status,omitempty"`
	SignalType       model.SignalType       `json:"signal_type,omitempty"`
	MinScore         int                    `json:"min_score,omitempty"`
	Limit            int                    `json:"limit,omitempty"`
	Offset           int                    `json:"offset,omitempty"`
}

// ScanFilter specifies criteria for listing scan runs.
type ScanFilter struct {
	Status model.ScanStatus `json:"status,omitempty"`
	Limit  int              `json:"limit,omitempty"`
}

// DefaultListLimit caps list queries that do not specify a limit.
const DefaultListLimit = 100

// Store defines the persistence interface for the signal pipeline.
type Store interface {
	// Source items
	InsertSourceItems(ctx context.Context, items []model.SourceItem) (int, error)
	ListUnprocessedItems(ctx context.Context, limit int) ([]model.SourceItem, error)
	MarkItemsProcessed(ctx context.Context, ids []string) error
	CountUnprocessedItems(ctx context.Context) (int, error)

	// Signals
	SignalExists(ctx context.Context, companyName, sourceURL, source string) (bool, error)
	InsertSignal(ctx context.Context, sig *model.Signal) (bool, error)
	GetSignal(ctx context.Context, id string) (*model.Signal, error)
	ListSignals(ctx context.Context, filter SignalFilter) ([]model.Signal, error)
	UpdateSignalEnrichment(ctx context.Context, id string, status model.EnrichmentStatus, companyInfo json.RawMessage) error

	// Scan runs. Every mutation is guarded by status = 'running' and
	// returns ErrScanNotRunning when nothing matched.
	CreateScan(ctx context.Context) (*model.ScanRun, error)
	GetScan(ctx context.Context, id string) (*model.ScanRun, error)
	ListScans(ctx context.Context, filter ScanFilter) ([]model.ScanRun, error)
	StartInvocation(ctx context.Context, id string) error
	SetScanFetched(ctx context.Context, id string, itemsFetched int) error
	CheckpointScan(ctx context.Context, id string, analyzedDelta, createdDelta int) error
	CompleteScan(ctx context.Context, id string) error
	FailScan(ctx context.Context, id string, message string) error
	ScheduleContinuation(ctx context.Context, id string, at time.Time) error
	ClaimDueScans(ctx context.Context, now time.Time, limit int) ([]string, error)
	ListStaleScans(ctx context.Context, updatedBefore time.Time) ([]model.ScanRun, error)

	// Enrichment tasks
	CreateTask(ctx context.Context, task *model.EnrichmentTask) error
	GetOpenTask(ctx context.Context, ownerID string) (*model.EnrichmentTask, error)
	ListOpenTasks(ctx context.Context) ([]model.EnrichmentTask, error)
	UpdateTaskProviderStatus(ctx context.Context, id, providerStatus string) error
	CompleteTask(ctx context.Context, id string, companyInfo, rawOutput json.RawMessage) error
	FailTask(ctx context.Context, id, message string) error

	// Contacts
	CountContacts(ctx context.Context, ownerID string) (int, error)
	InsertContacts(ctx context.Context, contacts []model.Contact) (int, error)
	ListContacts(ctx context.Context, ownerID string) ([]model.Contact, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

func listLimit(n int) uint64 {
	switch {
	case n <= 0:
		return DefaultListLimit
	case n > 1000:
		return 1000
	default:
		return uint64(n)
	}
}

func nullableJSON(raw json.RawMessage) any {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	return []byte(raw)
}
