package source

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/signal-cli/internal/model"
	"github.com/sells-group/signal-cli/internal/store"
)

// Fixed scores for events that skip the LLM.
const (
	RegistryEventScore = 3
	EngagementScore    = 4
)

// RegistryEvent is a company-registry filing (incorporation, officer change,
// address change) about a company.
type RegistryEvent struct {
	CompanyName   string    `json:"company_name"`
	CompanyNumber string    `json:"company_number"`
	EventType     string    `json:"event_type"`
	Description   string    `json:"description"`
	URL           string    `json:"url"`
	Registry      string    `json:"registry"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// Engagement is a social engagement (like, comment, follow) by someone at a
// company with our content.
type Engagement struct {
	CompanyName string `json:"company_name"`
	PersonName  string `json:"person_name"`
	PersonTitle string `json:"person_title"`
	Action      string `json:"action"`
	PostURL     string `json:"post_url"`
	ProfileURL  string `json:"profile_url"`
}

// AdaptRegistryEvent converts a registry event into a Signal.
func AdaptRegistryEvent(ev RegistryEvent) (*model.Signal, error) {
	name := strings.TrimSpace(ev.CompanyName)
	if name == "" {
		return nil, eris.New("source: registry event has no company name")
	}
	url := strings.TrimSpace(ev.URL)
	if url == "" {
		if ev.CompanyNumber == "" {
			return nil, eris.New("source: registry event needs a url or company number")
		}
		url = fmt.Sprintf("registry://%s/%s", registryName(ev.Registry), ev.CompanyNumber)
	}

	detail := strings.TrimSpace(ev.Description)
	if detail == "" {
		detail = strings.TrimSpace(ev.EventType)
	}
	if !ev.OccurredAt.IsZero() {
		detail = fmt.Sprintf("%s (%s)", detail, ev.OccurredAt.Format("2006-01-02"))
	}

	return &model.Signal{
		CompanyName: name,
		SignalType:  model.SignalTypeRegistryEvent,
		Detail:      strings.TrimSpace(detail),
		Score:       RegistryEventScore,
		SourceURL:   url,
		Source:      registryName(ev.Registry),
	}, nil
}

// AdaptEngagement converts an engagement event into a Signal.
func AdaptEngagement(ev Engagement) (*model.Signal, error) {
	name := strings.TrimSpace(ev.CompanyName)
	if name == "" {
		return nil, eris.New("source: engagement has no company name")
	}
	url := strings.TrimSpace(ev.PostURL)
	if url == "" {
		url = strings.TrimSpace(ev.ProfileURL)
	}
	if url == "" {
		return nil, eris.New("source: engagement needs a post or profile url")
	}

	who := strings.TrimSpace(ev.PersonName)
	if who == "" {
		who = "Someone"
	}
	if ev.PersonTitle != "" {
		who = fmt.Sprintf("%s (%s)", who, strings.TrimSpace(ev.PersonTitle))
	}
	action := strings.TrimSpace(ev.Action)
	if action == "" {
		action = "engaged with"
	}

	return &model.Signal{
		CompanyName: name,
		SignalType:  model.SignalTypeEngagement,
		Detail:      fmt.Sprintf("%s %s a post", who, action),
		Score:       EngagementScore,
		SourceURL:   url,
		Source:      "linkedin",
	}, nil
}

func registryName(r string) string {
	if r = strings.ToLower(strings.TrimSpace(r)); r != "" {
		return r
	}
	return "registry"
}

// IngestSignals stores adapted signals through the same dedup gate the
// extractor uses and returns how many were new.
func IngestSignals(ctx context.Context, st store.Store, sigs []*model.Signal) (int, error) {
	created := 0
	for _, sig := range sigs {
		exists, err := st.SignalExists(ctx, sig.CompanyName, sig.SourceURL, sig.Source)
		if err != nil {
			return created, eris.Wrap(err, "source: dedup check")
		}
		if exists {
			continue
		}
		ok, err := st.InsertSignal(ctx, sig)
		if err != nil {
			return created, eris.Wrap(err, "source: insert signal")
		}
		if ok {
			created++
		}
	}
	zap.L().Info("source: signals ingested", zap.Int("received", len(sigs)), zap.Int("created", created))
	return created, nil
}
