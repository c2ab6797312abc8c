package llm

import (
	"bytes"
	"fmt"
	"text/template"

	"nlquery/internal/common/config"
)

// PromptData is the template input shared by every stage. Stages ignore fields they do not use.
type PromptData struct {
	Question        string
	CollectionNames string
	Schemas         string
	Results         string
}

const fence = "```"

const collectionSelectionPrompt = `## System Role
You are a MongoDB collection selector specialist. Your sole task is to identify which collection names are relevant to answer a natural language question.

## Input Context
- **Available Collections**: {{.CollectionNames}}
- **User Question**: {{.Question}}

## Output Specifications
If the question relates to one or more collections, return a JSON array containing only the relevant collection names, for example ["orders", "products"].
If the question is unrelated to every collection, return exactly: []

## Critical Rules
- Output MUST be a valid JSON array
- Include ONLY collection names that exist in the provided list, using their exact case
- Include collections needed for joins or lookups
- If uncertain about relevance, include the collection
- Do NOT include explanations or reasoning`

const mongoPlanPrompt = `## System Role
You are a MongoDB aggregation query generator specialist. Your task is to describe an aggregation pipeline that can be executed directly in MongoDB for the user's question.

## Input Context
- **User Question**: {{.Question}}
- **Relevant Collections with one sample document each**:
{{.Schemas}}

## Task Requirements
1. Pick the single collection the pipeline runs against. It must be one of the relevant collections above.
2. Describe the filter, the joins and the projection needed to answer the question.
3. Only use operators MongoDB accepts inside $match, $lookup and $project.

## Output Specifications
Return one JSON object and nothing else:
` + fence + `json
{
    "collection": "<one of the relevant collections>",
    "query": { },
    "lookup": [ ],
    "project": { }
}
` + fence + `
"query" is the $match filter, "lookup" lists $lookup stage bodies, "project" is the $project body. Omit or leave empty the sections you do not need.`

const mongoSummaryPrompt = `## System Role
You are a professional database response explainer. Interpret the query results and give a clear, direct answer to the user's question.

## Instructions
- Answer the question directly using the provided results
- Present information in a natural, conversational manner
- Do not reference this prompt or mention that you are interpreting query results
- Use clear formatting for numbers and lists
- If the results are empty or null, say so plainly

## User Question
{{.Question}}

## Query Results
{{.Results}}

## Your Response
Based on the data provided, here is the answer to your question:`

const sqlPlanPrompt = `Given the user's query and the following database schemas, write SQL queries for each relevant DB.

Return your answer as a JSON list with this format:
[
  {"db_url": "...", "query": "SELECT ...;"},
  ...
]

Use the db_url exactly as given for each schema. Return only the JSON list.

### USER QUERY:
{{.Question}}

### RELEVANT SCHEMAS:
{{.Schemas}}`

const sqlSummaryPrompt = `Summarize the following results based on the user query. If a result is empty or reports an error, say so.

Query: {{.Question}}
Results:
{{.Results}}`

// DefaultTemplates returns the built-in prompt for every stage.
func DefaultTemplates() map[string]string {
	return map[string]string{
		config.StageCollectionSelection: collectionSelectionPrompt,
		config.StageMongoPlan:           mongoPlanPrompt,
		config.StageMongoSummary:        mongoSummaryPrompt,
		config.StageSQLPlan:             sqlPlanPrompt,
		config.StageSummary:             sqlSummaryPrompt,
	}
}

// Profiles holds the parsed template and model settings of every stage. Built once at
// start-up and read-only afterwards.
type Profiles struct {
	stages    map[string]config.StageProfile
	templates map[string]*template.Template
}

// NewProfiles parses the configured templates, falling back to the built-in ones.
func NewProfiles(cfg config.LLMConfig) (*Profiles, error) {
	p := &Profiles{
		stages:    make(map[string]config.StageProfile),
		templates: make(map[string]*template.Template),
	}

	for stage, text := range DefaultTemplates() {
		profile := cfg.Stage(stage)
		if profile.Template != "" {
			text = profile.Template
		}
		tmpl, err := template.New(stage).Option("missingkey=error").Parse(text)
		if err != nil {
			return nil, fmt.Errorf("parse template for stage %s: %w", stage, err)
		}
		p.stages[stage] = profile
		p.templates[stage] = tmpl
	}

	return p, nil
}

// Render builds the completion request for a stage.
func (p *Profiles) Render(stage string, data PromptData) (Request, error) {
	tmpl, ok := p.templates[stage]
	if !ok {
		return Request{}, fmt.Errorf("unknown stage %q", stage)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return Request{}, fmt.Errorf("render stage %s: %w", stage, err)
	}

	profile := p.stages[stage]
	return Request{
		Stage:       stage,
		Model:       profile.Model,
		Temperature: profile.Temperature,
		Prompt:      buf.String(),
	}, nil
}
