package sqlquery

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/pb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	apperrors "nlquery/internal/common/errors"
	"nlquery/internal/common/logger"
	"nlquery/internal/models"
	"nlquery/internal/nlq/pipeline"
)

type MockService struct {
	mock.Mock
}

func (m *MockService) Ask(ctx context.Context, question, nickname string) (*pipeline.SQLAnswer, error) {
	args := m.Called(ctx, question, nickname)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*pipeline.SQLAnswer), args.Error(1)
}

func createMockJob(variables map[string]interface{}) entities.Job {
	variablesJSON, _ := json.Marshal(variables)
	return entities.Job{ActivatedJob: &pb.ActivatedJob{
		Key:       42,
		Type:      TaskType,
		Retries:   3,
		Variables: string(variablesJSON),
	}}
}

func createTestHandler(t *testing.T, svc Service) *Handler {
	t.Helper()
	h, err := NewHandler(HandlerOptions{
		CustomConfig: &Config{Enabled: true, MaxJobsActive: 1, Timeout: 5 * time.Second},
		Service:      svc,
		Logger:       logger.NewTestLogger(t),
	})
	require.NoError(t, err)
	return h
}

func TestHandler_ParseInput(t *testing.T) {
	h := createTestHandler(t, &MockService{})

	input, err := h.parseInput(createMockJob(map[string]interface{}{"question": "how many orders?"}))
	require.NoError(t, err)
	assert.Equal(t, "how many orders?", input.Question)
	assert.Empty(t, input.ConnectionNickname)

	_, err = h.parseInput(createMockJob(map[string]interface{}{"question": ""}))
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)

	_, err = h.parseInput(createMockJob(map[string]interface{}{"question": 7}))
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

func TestHandler_Execute_CountsFailedEntries(t *testing.T) {
	svc := &MockService{}
	svc.On("Ask", mock.Anything, "how many orders?", "ops").Return(&pipeline.SQLAnswer{
		Response: "12 orders; the HR database was unreachable.",
		RelevantTables: []models.SchemaDescriptor{
			{StoreID: "sqlite:///sales.db", UnitName: "orders"},
			{StoreID: "postgresql://hr", UnitName: "employees"},
		},
		Queries: []models.SQLPlanEntry{
			{DBURL: "sqlite:///sales.db", Query: "SELECT count(*) FROM orders;"},
			{DBURL: "postgresql://hr", Query: "SELECT count(*) FROM employees;"},
		},
		Results: []models.ExecutionResult{
			{DBURL: "sqlite:///sales.db", Result: `[{"count(*)":12}]`},
			{DBURL: "postgresql://hr", Result: "Error: connection refused"},
		},
	}, nil)

	h := createTestHandler(t, svc)
	out, err := h.Execute(context.Background(), &Input{Question: "how many orders?", ConnectionNickname: "ops"})

	require.NoError(t, err)
	assert.Equal(t, []string{"orders", "employees"}, out.RelevantTables)
	assert.Equal(t, 1, out.FailedQueries)
	assert.Len(t, out.GeneratedQueries, 2)
	svc.AssertExpectations(t)
}

func TestHandler_Execute_NoRelevantTables(t *testing.T) {
	svc := &MockService{}
	svc.On("Ask", mock.Anything, mock.Anything, mock.Anything).Return(&pipeline.SQLAnswer{
		Response:       pipeline.NoRelevantTables,
		RelevantTables: []models.SchemaDescriptor{},
		Queries:        []models.SQLPlanEntry{},
		Results:        []models.ExecutionResult{},
	}, nil)

	out, err := createTestHandler(t, svc).Execute(context.Background(), &Input{Question: "weather?"})

	require.NoError(t, err)
	assert.Equal(t, pipeline.NoRelevantTables, out.Response)
	assert.Empty(t, out.RelevantTables)
	assert.Zero(t, out.FailedQueries)
}

func TestHandler_Execute_Error(t *testing.T) {
	svc := &MockService{}
	svc.On("Ask", mock.Anything, mock.Anything, mock.Anything).Return(nil, fmt.Errorf("%w: bad json", apperrors.ErrPlanParse))

	_, err := createTestHandler(t, svc).Execute(context.Background(), &Input{Question: "q"})
	assert.ErrorIs(t, err, apperrors.ErrPlanParse)
}

func TestConfig_Validate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())
	assert.Error(t, (&Config{Timeout: time.Second}).Validate())
}
