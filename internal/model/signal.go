package model

import (
	"encoding/json"
	"strings"
	"time"
)

// SignalType classifies the business event behind a signal.
type SignalType string

const (
	SignalTypeFunding          SignalType = "funding"
	SignalTypeExpansion        SignalType = "expansion"
	SignalTypeHiring           SignalType = "hiring"
	SignalTypeLeadershipChange SignalType = "leadership_change"
	SignalTypeAcquisition      SignalType = "acquisition"
	SignalTypeNewOffice        SignalType = "new_office"
	SignalTypePartnership      SignalType = "partnership"
	SignalTypeRegistryEvent    SignalType = "registry_event"
	SignalTypeEngagement       SignalType = "engagement"
	SignalTypeOther            SignalType = "other"
)

var knownSignalTypes = map[SignalType]bool{
	SignalTypeFunding:          true,
	SignalTypeExpansion:        true,
	SignalTypeHiring:           true,
	SignalTypeLeadershipChange: true,
	SignalTypeAcquisition:      true,
	SignalTypeNewOffice:        true,
	SignalTypePartnership:      true,
	SignalTypeRegistryEvent:    true,
	SignalTypeEngagement:       true,
	SignalTypeOther:            true,
}

// ParseSignalType normalizes free text into a known SignalType, falling back
// to SignalTypeOther.
func ParseSignalType(s string) SignalType {
	t := SignalType(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), " ", "_"))
	if knownSignalTypes[t] {
		return t
	}
	return SignalTypeOther
}

// SignalStatus is the sales lifecycle state of a signal.
type SignalStatus string

const (
	SignalStatusNew       SignalStatus = "new"
	SignalStatusQualified SignalStatus = "qualified"
	SignalStatusContacted SignalStatus = "contacted"
	SignalStatusConverted SignalStatus = "converted"
)

// EnrichmentStatus tracks contact enrichment for a signal.
type EnrichmentStatus string

const (
	EnrichmentNone       EnrichmentStatus = "none"
	EnrichmentProcessing EnrichmentStatus = "processing"
	EnrichmentCompleted  EnrichmentStatus = "completed"
	EnrichmentFailed     EnrichmentStatus = "failed"
)

// Score bounds for signals.
const (
	MinSignalScore = 1
	MaxSignalScore = 5
)

// ClampScore forces a score into the valid 1..5 range.
func ClampScore(score int) int {
	switch {
	case score < MinSignalScore:
		return MinSignalScore
	case score > MaxSignalScore:
		return MaxSignalScore
	default:
		return score
	}
}

// Signal is a scored, company-attributed business event.
type Signal struct {
	ID               string           `json:"id"`
	CompanyName      string           `json:"company_name"`
	SignalType       SignalType       `json:"signal_type"`
	Detail           string           `json:"detail"`
	Score            int              `json:"score"`
	SourceURL        string           `json:"source_url"`
	Source           string           `json:"source"`
	SourceItemID     string           `json:"source_item_id,omitempty"`
	Status           SignalStatus     `json:"status"`
	EnrichmentStatus EnrichmentStatus `json:"enrichment_status"`
	CompanyInfo      json.RawMessage  `json:"company_info,omitempty"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
}
