package models

import "time"

// Pipeline kinds recorded in history entries and metrics labels.
const (
	PipelineMongo = "mongo"
	PipelineSQL   = "sql"
)

// HistoryEntry is one answered question, kept per connection nickname.
type HistoryEntry struct {
	ID        string      `json:"id"`
	Nickname  string      `json:"nickname"`
	Pipeline  string      `json:"pipeline"`
	Question  string      `json:"question"`
	Answer    string      `json:"answer"`
	Query     interface{} `json:"query,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
}
