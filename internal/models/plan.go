package models

import "strings"

// QueryPlan is the document-store plan returned by the model. Absent sections compile to
// no stages.
type QueryPlan struct {
	Collection string                   `json:"collection"`
	Query      map[string]interface{}   `json:"query,omitempty"`
	Lookup     []map[string]interface{} `json:"lookup,omitempty"`
	Project    map[string]interface{}   `json:"project,omitempty"`
}

// Pipeline is an ordered list of aggregation stages.
type Pipeline []map[string]interface{}

// SQLPlanEntry targets one relational database.
type SQLPlanEntry struct {
	DBURL string `json:"db_url"`
	Query string `json:"query"`
}

// ExecutionResult holds either the rendered rows or an inline "Error: <reason>" string.
type ExecutionResult struct {
	DBURL  string `json:"db_url"`
	Query  string `json:"query"`
	Result string `json:"result"`
}

// ErrorResultPrefix marks a relational entry that failed in isolation.
const ErrorResultPrefix = "Error: "

// Failed reports whether the entry carries an inline error.
func (r ExecutionResult) Failed() bool {
	return strings.HasPrefix(r.Result, ErrorResultPrefix)
}
