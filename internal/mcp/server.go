// Package mcp exposes the analysis engine as Model Context Protocol tools.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sirupsen/logrus"

	"github.com/medsafe-analysis-server/internal/domain"
	"github.com/medsafe-analysis-server/pkg/medname"
)

// Tool names
const (
	ToolAnalyzeMedication = "analyze_medication"
	ToolLookupMedication  = "lookup_medication"
)

// Analyzer runs one medication analysis
type Analyzer interface {
	Analyze(ctx context.Context, req domain.AnalysisRequest) (*domain.AnalysisResult, error)
}

// Server represents the medication safety MCP server
type Server struct {
	analyzer  Analyzer
	resolver  domain.MedicationResolver
	mcpServer *mcp.Server
	logger    *logrus.Logger
}

// LookupParams defines parameters for the lookup_medication tool
type LookupParams struct {
	MedicationName string `json:"medicationName" jsonschema:"the medication name to resolve against the registries"`
}

// NewServer creates a new MCP server instance and registers its tools
func NewServer(analyzer Analyzer, resolver domain.MedicationResolver, version string, logger *logrus.Logger) *Server {
	serverInfo := &mcp.Implementation{
		Name:    "medsafe-analysis-server",
		Version: version,
	}

	server := &Server{
		analyzer:  analyzer,
		resolver:  resolver,
		mcpServer: mcp.NewServer(serverInfo, nil),
		logger:    logger,
	}
	server.registerTools()
	return server
}

func (s *Server) registerTools() {
	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name: ToolAnalyzeMedication,
		Description: "Analyze a medication for interactions with current medications, allergies, conditions, " +
			"age and pregnancy, and suggest complementary natural alternatives. Results are informational " +
			"and never replace consultation with a healthcare provider.",
	}, s.handleAnalyze)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        ToolLookupMedication,
		Description: "Resolve a medication name to its generic name, brand names, category and criticality.",
	}, s.handleLookup)

	s.logger.WithField("tool_count", 2).Info("Registered MCP tools")
}

// Run serves the tools over stdio until ctx is cancelled or the client disconnects
func (s *Server) Run(ctx context.Context) error {
	return s.RunTransport(ctx, &mcp.StdioTransport{})
}

// RunTransport serves the tools over transport
func (s *Server) RunTransport(ctx context.Context, transport mcp.Transport) error {
	s.logger.Info("Starting MCP server")
	if err := s.mcpServer.Run(ctx, transport); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("MCP server failed: %w", err)
	}
	return nil
}

// handleAnalyze handles the analyze_medication tool invocation
func (s *Server) handleAnalyze(ctx context.Context, req *mcp.CallToolRequest, params domain.AnalysisRequest) (*mcp.CallToolResult, any, error) {
	s.logger.WithField("tool", ToolAnalyzeMedication).Info("Tool invoked")

	result, err := s.analyzer.Analyze(ctx, params)
	if err != nil {
		var ve *domain.ValidationError
		if errors.As(err, &ve) {
			return s.createErrorResult(fmt.Sprintf("Invalid %s", ve.Field), ve), nil, nil
		}
		s.logger.WithError(err).WithField("tool", ToolAnalyzeMedication).Error("Analysis failed")
		return s.createErrorResult("Analysis could not be completed", nil), nil, nil
	}

	return jsonResult(result)
}

// handleLookup handles the lookup_medication tool invocation
func (s *Server) handleLookup(ctx context.Context, req *mcp.CallToolRequest, params LookupParams) (*mcp.CallToolResult, any, error) {
	s.logger.WithField("tool", ToolLookupMedication).Info("Tool invoked")

	name, err := medname.Validate(params.MedicationName)
	if err != nil {
		return s.createErrorResult("Invalid medicationName", err), nil, nil
	}

	// A soft failure still yields a record flagged with validationWarning
	record, err := s.resolver.Resolve(ctx, name)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		s.logger.WithError(err).WithField("tool", ToolLookupMedication).Warn("Medication lookup degraded")
	}

	return jsonResult(record.Info())
}

func jsonResult(v interface{}) (*mcp.CallToolResult, any, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encode tool result: %w", err)
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: string(data)},
		},
	}, nil, nil
}

// createErrorResult builds a tool-level error the client can show to the user
func (s *Server) createErrorResult(message string, err error) *mcp.CallToolResult {
	text := message
	if err != nil {
		text = fmt.Sprintf("%s: %v", message, err)
	}
	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{
			&mcp.TextContent{Text: text},
		},
	}
}
