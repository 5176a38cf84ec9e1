// Package mcp provides an MCP (Model Context Protocol) server so the agent
// can drill down from the injected memory index into full observations.
package mcp

import (
	"errors"
	"net/http"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/papercomputeco/openmem/pkg/search"
	"github.com/papercomputeco/openmem/pkg/storage"
	"github.com/papercomputeco/openmem/pkg/utils"
)

type Config struct {
	// Store is the memory database handle.
	Store *storage.Store

	// Orchestrator runs hybrid searches for the memory_search tool.
	Orchestrator *search.Orchestrator

	// ProjectPath scopes every tool call.
	ProjectPath string

	// Logger is the configured zap logger
	Logger *zap.Logger
}

type Server struct {
	config    Config
	mcpServer *mcp.Server
	handler   *mcp.StreamableHTTPHandler
}

// NewServer creates a new MCP server with the memory tools.
func NewServer(c Config) (*Server, error) {
	if c.Store == nil {
		return nil, errors.New("store is required")
	}
	if c.Orchestrator == nil {
		return nil, errors.New("search orchestrator is required")
	}
	if c.Logger == nil {
		return nil, errors.New("logger is required")
	}

	s := &Server{config: c}

	mcpServer := mcp.NewServer(
		&mcp.Implementation{
			Name:    "openmem",
			Version: utils.Version,
		},
		&mcp.ServerOptions{},
	)

	mcp.AddTool(mcpServer, &mcp.Tool{
		Name:        searchToolName,
		Description: searchDescription,
	}, s.handleSearch)

	mcp.AddTool(mcpServer, &mcp.Tool{
		Name:        getToolName,
		Description: getDescription,
	}, s.handleGet)

	mcp.AddTool(mcpServer, &mcp.Tool{
		Name:        timelineToolName,
		Description: timelineDescription,
	}, s.handleTimeline)

	s.mcpServer = mcpServer

	// Create a streamable HTTP net/http handler for stateless operations
	s.handler = mcp.NewStreamableHTTPHandler(
		func(_ *http.Request) *mcp.Server {
			return mcpServer
		},
		&mcp.StreamableHTTPOptions{
			Stateless: true,
		},
	)

	return s, nil
}

// Handler returns the HTTP handler for the MCP server.
func (s *Server) Handler() http.Handler {
	return s.handler
}
