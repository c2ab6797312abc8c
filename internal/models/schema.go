package models

// SchemaDescriptor describes one collection or table the planner may target. Instances are
// produced by retrieval and never mutated afterwards.
type SchemaDescriptor struct {
	// StoreID identifies the database: the connection nickname for document stores, the
	// connection URL for relational stores.
	StoreID  string   `json:"store_id"`
	DBName   string   `json:"db_name,omitempty"`
	UnitName string   `json:"unit_name"`
	Columns  []string `json:"columns,omitempty"`
	// Sample is one representative document; empty for relational descriptors and empty
	// collections.
	Sample      map[string]interface{} `json:"sample,omitempty"`
	Description string                 `json:"description,omitempty"`
	Content     string                 `json:"content,omitempty"`
	Score       float64                `json:"score,omitempty"`
}

// Catalog metadata keys stored alongside each indexed table.
const (
	MetaTableName   = "table_name"
	MetaColumns     = "columns"
	MetaDBName      = "db_name"
	MetaDBURL       = "db_url"
	MetaDescription = "description"
	MetaContent     = "content"
)
