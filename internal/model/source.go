package model

import "time"

// SourceItem is a raw ingested unit staged for signal extraction.
type SourceItem struct {
	ID          string    `json:"id"`
	Source      string    `json:"source"`
	Title       string    `json:"title"`
	Body        string    `json:"body"`
	URL         string    `json:"url"`
	PublishedAt time.Time `json:"published_at"`
	Processed   bool      `json:"processed"`
	CreatedAt   time.Time `json:"created_at"`
}
