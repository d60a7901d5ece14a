package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/medsafe-analysis-server/internal/domain"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel)
	return logger
}

// MockAnalyzer is a mock analysis pipeline
type MockAnalyzer struct {
	mock.Mock
}

func (m *MockAnalyzer) Analyze(ctx context.Context, req domain.AnalysisRequest) (*domain.AnalysisResult, error) {
	args := m.Called(ctx, req)
	if result := args.Get(0); result != nil {
		return result.(*domain.AnalysisResult), args.Error(1)
	}
	return nil, args.Error(1)
}

// MockResolver is a mock medication resolver
type MockResolver struct {
	mock.Mock
}

func (m *MockResolver) Resolve(ctx context.Context, name string) (*domain.MedicationRecord, error) {
	args := m.Called(ctx, name)
	return args.Get(0).(*domain.MedicationRecord), args.Error(1)
}

func resultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.Len(t, result.Content, 1)
	text, ok := result.Content[0].(*mcp.TextContent)
	require.True(t, ok)
	return text.Text
}

func TestNewServer(t *testing.T) {
	server := NewServer(&MockAnalyzer{}, &MockResolver{}, "v1.0.0", quietLogger())
	assert.NotNil(t, server.mcpServer)
	assert.NotNil(t, server.logger)
}

func TestHandleAnalyze(t *testing.T) {
	analyzer := &MockAnalyzer{}
	analyzer.On("Analyze", mock.Anything, domain.AnalysisRequest{MedicationName: "Warfarin"}).
		Return(&domain.AnalysisResult{MedicationName: "Warfarin", RequiresConsultation: true}, nil)

	server := NewServer(analyzer, &MockResolver{}, "v1.0.0", quietLogger())
	result, out, err := server.handleAnalyze(context.Background(), &mcp.CallToolRequest{}, domain.AnalysisRequest{MedicationName: "Warfarin"})
	require.NoError(t, err)
	assert.Nil(t, out)
	assert.False(t, result.IsError)

	var decoded domain.AnalysisResult
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &decoded))
	assert.Equal(t, "Warfarin", decoded.MedicationName)
	assert.True(t, decoded.RequiresConsultation)
}

func TestHandleAnalyze_Errors(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		contains string
		hidden   string
	}{
		{"validation", domain.NewValidationError("medicationName", "disallowed characters", "<b>"), "Invalid medicationName", ""},
		{"unexpected", errors.New("database exploded"), "could not be completed", "exploded"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			analyzer := &MockAnalyzer{}
			analyzer.On("Analyze", mock.Anything, mock.Anything).Return(nil, tt.err)

			server := NewServer(analyzer, &MockResolver{}, "v1.0.0", quietLogger())
			result, _, err := server.handleAnalyze(context.Background(), &mcp.CallToolRequest{}, domain.AnalysisRequest{MedicationName: "x"})
			require.NoError(t, err)
			assert.True(t, result.IsError)

			text := resultText(t, result)
			assert.Contains(t, text, tt.contains)
			if tt.hidden != "" {
				assert.NotContains(t, text, tt.hidden)
			}
		})
	}
}

func TestHandleLookup(t *testing.T) {
	resolver := &MockResolver{}
	resolver.On("Resolve", mock.Anything, "Warfarin").Return(&domain.MedicationRecord{
		Name:       "Warfarin",
		Category:   domain.CategoryAnticoagulant,
		IsCritical: true,
		BrandNames: []string{"Coumadin"},
	}, nil)
	resolver.On("Resolve", mock.Anything, "Zzyzxorin").Return(&domain.MedicationRecord{
		Name:              "Zzyzxorin",
		Category:          domain.CategoryUnknown,
		ValidationWarning: true,
	}, fmt.Errorf("no registry resolved: %w", domain.ErrNotFound))

	server := NewServer(&MockAnalyzer{}, resolver, "v1.0.0", quietLogger())
	ctx := context.Background()

	result, _, err := server.handleLookup(ctx, &mcp.CallToolRequest{}, LookupParams{MedicationName: " Warfarin "})
	require.NoError(t, err)
	var info domain.MedicationInfo
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &info))
	assert.True(t, info.IsCritical)
	assert.Equal(t, domain.CategoryAnticoagulant, info.Category)

	result, _, err = server.handleLookup(ctx, &mcp.CallToolRequest{}, LookupParams{MedicationName: "Zzyzxorin"})
	require.NoError(t, err)
	assert.False(t, result.IsError)
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &info))
	assert.True(t, info.ValidationWarning)

	result, _, err = server.handleLookup(ctx, &mcp.CallToolRequest{}, LookupParams{MedicationName: "<script>"})
	require.NoError(t, err)
	assert.True(t, result.IsError)
	resolver.AssertNumberOfCalls(t, "Resolve", 2)
}
