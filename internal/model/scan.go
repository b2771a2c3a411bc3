package model

import "time"

// ScanStatus represents the state of a scan run.
type ScanStatus string

const (
	ScanStatusRunning   ScanStatus = "running"
	ScanStatusCompleted ScanStatus = "completed"
	ScanStatusFailed    ScanStatus = "failed"
)

// Terminal reports whether no further writes are allowed for the status.
func (s ScanStatus) Terminal() bool {
	return s == ScanStatusCompleted || s == ScanStatusFailed
}

// ScanRun is one fetch+analyze campaign. It is the checkpoint record shared
// by every invocation that works on the scan.
type ScanRun struct {
	ID             string     `json:"id"`
	Status         ScanStatus `json:"status"`
	ItemsFetched   int        `json:"items_fetched"`
	ItemsAnalyzed  int        `json:"items_analyzed"`
	SignalsCreated int        `json:"signals_created"`
	Invocations    int        `json:"invocations"`
	ErrorMessage   string     `json:"error_message,omitempty"`
	StartedAt      time.Time  `json:"started_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	NextRunAt      *time.Time `json:"next_run_at,omitempty"`
}
