package model

import (
	"encoding/json"
	"time"
)

// TaskStatus is the internal state of an external agent task.
type TaskStatus string

const (
	TaskStatusProcessing TaskStatus = "processing"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusError      TaskStatus = "error"
)

// EnrichmentTask is the handle to an external agent job for one owner signal.
type EnrichmentTask struct {
	ID                 string          `json:"id"`
	OwnerID            string          `json:"owner_id"`
	ExternalTaskID     string          `json:"external_task_id,omitempty"`
	LastExternalTaskID string          `json:"last_external_task_id,omitempty"`
	ExternalTaskURL    string          `json:"external_task_url,omitempty"`
	Status             TaskStatus      `json:"status"`
	ProviderStatus     string          `json:"provider_status,omitempty"`
	RawOutput          json.RawMessage `json:"raw_output,omitempty"`
	CompanyInfo        json.RawMessage `json:"company_info,omitempty"`
	ErrorMessage       string          `json:"error_message,omitempty"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
	CompletedAt        *time.Time      `json:"completed_at,omitempty"`
}

// OutreachStatus tracks sales outreach for a contact.
type OutreachStatus string

const (
	OutreachPending   OutreachStatus = "pending"
	OutreachContacted OutreachStatus = "contacted"
	OutreachReplied   OutreachStatus = "replied"
	OutreachBounced   OutreachStatus = "bounced"
)

// ContactSource records how a contact was produced.
type ContactSource string

const (
	ContactSourceAgent    ContactSource = "agent"
	ContactSourceFallback ContactSource = "fallback"
)

// Contact is a person attached to an enrichment owner.
type Contact struct {
	ID             string         `json:"id"`
	OwnerID        string         `json:"owner_id"`
	FullName       string         `json:"full_name"`
	FirstName      string         `json:"first_name"`
	LastName       string         `json:"last_name"`
	JobTitle       string         `json:"job_title"`
	Email          string         `json:"email"`
	Phone          string         `json:"phone"`
	LinkedInURL    string         `json:"linkedin_url"`
	PriorityScore  int            `json:"priority_score"`
	OutreachStatus OutreachStatus `json:"outreach_status"`
	Source         ContactSource  `json:"source"`
	CreatedAt      time.Time      `json:"created_at"`
}
