// Package compiler turns a document query plan into an aggregation pipeline.
package compiler

import (
	"nlquery/internal/models"
)

// Aggregation stage operators emitted by Compile.
const (
	MatchOperator   = "$match"
	LookupOperator  = "$lookup"
	ProjectOperator = "$project"
)

// Compile builds the pipeline for a plan: an optional filter stage, one join stage per
// lookup entry in plan order, then an optional projection stage. A query that already has a
// top-level $match key is appended as is, so compiling a pre-wrapped filter never nests two
// envelopes. The contents of an existing $match are not validated.
func Compile(plan models.QueryPlan) models.Pipeline {
	pipeline := make(models.Pipeline, 0, 2+len(plan.Lookup))

	if len(plan.Query) > 0 {
		if _, wrapped := plan.Query[MatchOperator]; wrapped {
			pipeline = append(pipeline, plan.Query)
		} else {
			pipeline = append(pipeline, map[string]interface{}{MatchOperator: plan.Query})
		}
	}

	for _, lookup := range plan.Lookup {
		if len(lookup) == 0 {
			continue
		}
		pipeline = append(pipeline, map[string]interface{}{LookupOperator: lookup})
	}

	if len(plan.Project) > 0 {
		pipeline = append(pipeline, map[string]interface{}{ProjectOperator: plan.Project})
	}

	return pipeline
}
