// Package synthesis asks the completion service for query plans and coerces the replies
// into typed plans.
package synthesis

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"nlquery/internal/common/config"
	"nlquery/internal/common/database"
	apperrors "nlquery/internal/common/errors"
	"nlquery/internal/common/llm"
	"nlquery/internal/common/logger"
	"nlquery/internal/common/validation"
	"nlquery/internal/models"
	"nlquery/internal/nlq/normalize"
)

// planSchema is the structural contract of a document plan. Unknown keys are tolerated.
var planSchema = validation.MustCompile(map[string]interface{}{
	"type":     "object",
	"required": []interface{}{"collection"},
	"properties": map[string]interface{}{
		"collection": map[string]interface{}{"type": "string", "minLength": 1},
		"query":      map[string]interface{}{"type": "object"},
		"lookup": map[string]interface{}{
			"type":  "array",
			"items": map[string]interface{}{"type": "object"},
		},
		"project": map[string]interface{}{"type": "object"},
	},
})

var optionalPlanKeys = []string{"query", "lookup", "project"}

// sqlPlanSchema is the contract of a relational plan: every entry names a database and a query.
var sqlPlanSchema = validation.MustCompile(map[string]interface{}{
	"type": "array",
	"items": map[string]interface{}{
		"type":     "object",
		"required": []interface{}{"db_url", "query"},
		"properties": map[string]interface{}{
			"db_url": map[string]interface{}{"type": "string", "minLength": 1},
			"query":  map[string]interface{}{"type": "string", "minLength": 1},
		},
	},
})

// Synthesizer runs the selection and planning stages.
type Synthesizer struct {
	llm    llm.StageRunner
	logger logger.Logger
}

func New(runner llm.StageRunner, log logger.Logger) *Synthesizer {
	return &Synthesizer{
		llm:    runner,
		logger: logger.Component(log, "synthesizer"),
	}
}

// SelectUnits asks which of names are relevant to question. The reply goes through the
// identifier normalizer, so any loosely formatted list is accepted.
func (s *Synthesizer) SelectUnits(ctx context.Context, question string, names []string) ([]string, error) {
	listing, err := json.Marshal(names)
	if err != nil {
		return nil, err
	}

	raw, err := s.llm.Run(ctx, config.StageCollectionSelection, llm.PromptData{
		Question:        question,
		CollectionNames: string(listing),
	})
	if err != nil {
		return nil, err
	}

	selected := normalize.Identifiers(raw)
	s.logger.Debug("collections selected", map[string]interface{}{
		"raw":      raw,
		"selected": selected,
	})
	return selected, nil
}

// DocumentPlan asks for a plan over the sampled collections. A reply that is not a plan object
// fails with ErrPlanParse; no default plan is substituted.
func (s *Synthesizer) DocumentPlan(ctx context.Context, question string, descs []models.SchemaDescriptor) (models.QueryPlan, error) {
	raw, err := s.llm.Run(ctx, config.StageMongoPlan, llm.PromptData{
		Question: question,
		Schemas:  renderSamples(descs),
	})
	if err != nil {
		return models.QueryPlan{}, err
	}

	plan, err := ParseDocumentPlan(raw)
	if err != nil {
		s.logger.Warn("unparseable document plan", map[string]interface{}{
			"raw":   raw,
			"error": err.Error(),
		})
		return models.QueryPlan{}, err
	}
	return plan, nil
}

// ParseDocumentPlan coerces model text into a QueryPlan. Null optional sections count as absent.
func ParseDocumentPlan(raw string) (models.QueryPlan, error) {
	res := normalize.CoerceJSON[map[string]interface{}](raw)
	obj, ok := res.Value()
	if !ok {
		return models.QueryPlan{}, fmt.Errorf("%w: %v", apperrors.ErrPlanParse, res.Err())
	}

	for _, key := range optionalPlanKeys {
		if v, present := obj[key]; present && v == nil {
			delete(obj, key)
		}
	}

	if vr := planSchema.Validate(obj); !vr.Valid {
		return models.QueryPlan{}, fmt.Errorf("%w: %s", apperrors.ErrPlanParse, vr.Error())
	}

	encoded, err := json.Marshal(obj)
	if err != nil {
		return models.QueryPlan{}, fmt.Errorf("%w: %v", apperrors.ErrPlanParse, err)
	}
	var plan models.QueryPlan
	if err := json.Unmarshal(encoded, &plan); err != nil {
		return models.QueryPlan{}, fmt.Errorf("%w: %v", apperrors.ErrPlanParse, err)
	}
	return plan, nil
}

// SQLPlan asks for one query per relevant database. Entries naming a database that was not
// retrieved are kept and logged.
func (s *Synthesizer) SQLPlan(ctx context.Context, question string, descs []models.SchemaDescriptor) ([]models.SQLPlanEntry, error) {
	raw, err := s.llm.Run(ctx, config.StageSQLPlan, llm.PromptData{
		Question: question,
		Schemas:  renderTables(descs),
	})
	if err != nil {
		return nil, err
	}

	entries, err := ParseSQLPlan(raw)
	if err != nil {
		s.logger.Warn("unparseable sql plan", map[string]interface{}{
			"raw":   raw,
			"error": err.Error(),
		})
		return nil, err
	}

	known := make(map[string]struct{}, len(descs))
	for _, d := range descs {
		known[d.StoreID] = struct{}{}
	}
	for _, e := range entries {
		if _, ok := known[e.DBURL]; !ok {
			s.logger.Warn("plan targets a database outside the retrieved context", map[string]interface{}{
				"dbUrl": database.RedactURL(e.DBURL),
			})
		}
	}
	return entries, nil
}

// ParseSQLPlan coerces model text into plan entries. A lone object is read as a one-entry list.
// Every entry must carry a non-empty db_url and query.
func ParseSQLPlan(raw string) ([]models.SQLPlanEntry, error) {
	res := normalize.CoerceJSON[interface{}](raw)
	decoded, ok := res.Value()
	if !ok {
		return nil, fmt.Errorf("%w: expected a JSON list of {db_url, query}: %v", apperrors.ErrPlanParse, res.Err())
	}

	var list []interface{}
	switch v := decoded.(type) {
	case []interface{}:
		list = v
	case map[string]interface{}:
		list = []interface{}{v}
	default:
		return nil, fmt.Errorf("%w: expected a JSON list of {db_url, query}", apperrors.ErrPlanParse)
	}

	if vr := sqlPlanSchema.Validate(list); !vr.Valid {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrPlanParse, vr.Error())
	}

	encoded, err := json.Marshal(list)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrPlanParse, err)
	}
	entries := make([]models.SQLPlanEntry, 0, len(list))
	if err := json.Unmarshal(encoded, &entries); err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrPlanParse, err)
	}
	return entries, nil
}

func renderSamples(descs []models.SchemaDescriptor) string {
	var b strings.Builder
	for _, d := range descs {
		sample, err := json.Marshal(d.Sample)
		if err != nil {
			sample = []byte(fmt.Sprintf("%q", fmt.Sprint(d.Sample)))
		}
		fmt.Fprintf(&b, "- %s: %s\n", d.UnitName, sample)
	}
	return strings.TrimRight(b.String(), "\n")
}

func renderTables(descs []models.SchemaDescriptor) string {
	blocks := make([]string, 0, len(descs))
	for _, d := range descs {
		content := d.Content
		if content == "" {
			content = fmt.Sprintf("%s (%s): %s", d.UnitName, strings.Join(d.Columns, ", "), d.Description)
		}
		blocks = append(blocks, fmt.Sprintf("DB: %s\n%s", d.StoreID, content))
	}
	return strings.Join(blocks, "\n\n")
}
