package mongoquery

import (
	"nlquery/internal/common/validation"
	"nlquery/internal/models"
)

type Input struct {
	ConnectionNickname string `json:"connectionNickname"`
	DBURL              string `json:"dbUrl"`
	DBName             string `json:"dbName"`
	Question           string `json:"question"`
}

type Output struct {
	Response            string          `json:"mongoResponse"`
	CollectionNames     []string        `json:"collectionNames"`
	RelevantCollections []string        `json:"relevantCollections"`
	AggregationPipeline models.Pipeline `json:"aggregationPipeline"`
	Results             string          `json:"mongoResults"`
}

var inputSchema = validation.MustCompile(map[string]interface{}{
	"type":     "object",
	"required": []string{"dbUrl", "dbName", "question"},
	"properties": map[string]interface{}{
		"connectionNickname": map[string]interface{}{"type": "string"},
		"dbUrl":              map[string]interface{}{"type": "string", "minLength": 1},
		"dbName":             map[string]interface{}{"type": "string", "minLength": 1},
		"question":           map[string]interface{}{"type": "string", "minLength": 1},
	},
})

// GetInputSchema returns the compiled schema for the job variables.
func GetInputSchema() *validation.Schema {
	return inputSchema
}
