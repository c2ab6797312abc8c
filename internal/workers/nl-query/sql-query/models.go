package sqlquery

import (
	"nlquery/internal/common/validation"
	"nlquery/internal/models"
)

type Input struct {
	Question           string `json:"question"`
	ConnectionNickname string `json:"connectionNickname,omitempty"`
}

type Output struct {
	Response         string                   `json:"sqlResponse"`
	RelevantTables   []string                 `json:"relevantTables"`
	GeneratedQueries []models.SQLPlanEntry    `json:"generatedQueries"`
	Results          []models.ExecutionResult `json:"sqlResults"`
	FailedQueries    int                      `json:"failedQueries"`
}

var inputSchema = validation.MustCompile(map[string]interface{}{
	"type":     "object",
	"required": []string{"question"},
	"properties": map[string]interface{}{
		"question":           map[string]interface{}{"type": "string", "minLength": 1},
		"connectionNickname": map[string]interface{}{"type": "string"},
	},
})

func GetInputSchema() *validation.Schema {
	return inputSchema
}
