// Package mcpserver exposes a notebook session as MCP tools so that agents
// and editors can add cells, evaluate them and observe the results.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/AltairaLabs/notebook-exec/internal/coordinator"
	"github.com/AltairaLabs/notebook-exec/internal/notebook"
)

const (
	// Tool names
	toolWorksheetAdd   = "worksheet.add"
	toolWorksheetClose = "worksheet.close"
	toolCellAdd        = "cell.add"
	toolCellUpdate     = "cell.update"
	toolCellEvaluate   = "cell.evaluate"
	toolCellGet        = "cell.get"
	toolSessionStatus  = "session.status"

	argWorksheetID = "worksheet_id"
	argCellID      = "cell_id"
	argSource      = "source"
)

// Session is the part of a coordinator the tools drive
type Session interface {
	SessionID() string
	Notebook() *notebook.Notebook
	Evaluate(cell *notebook.Cell, worksheetID string) error
	CloseWorksheet(worksheetID string) error
	SessionState() coordinator.SessionState
}

// Config holds configuration for the MCP server
type Config struct {
	Name    string
	Version string
}

// MCPServer wraps the mcp-go server with the notebook tools
type MCPServer struct {
	server      *server.MCPServer
	session     Session
	auditLogger *AuditLogger
}

// NewMCPServer creates and configures a new MCP server
func NewMCPServer(cfg Config, session Session, audit *AuditLogger) *MCPServer {
	if audit == nil {
		audit = NewAuditLogger(nil)
	}

	mcpServer := server.NewMCPServer(
		cfg.Name,
		cfg.Version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
	)

	ms := &MCPServer{
		server:      mcpServer,
		session:     session,
		auditLogger: audit,
	}
	ms.registerTools()
	return ms
}

func worksheetArg() mcp.ToolOption {
	return mcp.WithString(argWorksheetID,
		mcp.Required(),
		mcp.Description("Worksheet identifier"),
	)
}

func cellArg() mcp.ToolOption {
	return mcp.WithString(argCellID,
		mcp.Required(),
		mcp.Description("Cell identifier, unique within its worksheet"),
	)
}

func (ms *MCPServer) registerTools() {
	ms.server.AddTool(mcp.NewTool(toolWorksheetAdd,
		mcp.WithDescription("Create an empty worksheet"),
		worksheetArg(),
	), ms.handleWorksheetAdd)

	ms.server.AddTool(mcp.NewTool(toolWorksheetClose,
		mcp.WithDescription("Close a worksheet, cancelling its outstanding evaluations"),
		worksheetArg(),
	), ms.handleWorksheetClose)

	ms.server.AddTool(mcp.NewTool(toolCellAdd,
		mcp.WithDescription("Append a cell to a worksheet"),
		worksheetArg(),
		cellArg(),
		mcp.WithString(argSource, mcp.Description("Initial cell source")),
	), ms.handleCellAdd)

	ms.server.AddTool(mcp.NewTool(toolCellUpdate,
		mcp.WithDescription("Replace the source of a cell"),
		worksheetArg(),
		cellArg(),
		mcp.WithString(argSource, mcp.Required(), mcp.Description("New cell source")),
	), ms.handleCellUpdate)

	ms.server.AddTool(mcp.NewTool(toolCellEvaluate,
		mcp.WithDescription("Evaluate a cell; the result is observed with cell.get"),
		worksheetArg(),
		cellArg(),
		mcp.WithString(argSource, mcp.Description("Replace the cell source before evaluating")),
	), ms.handleCellEvaluate)

	ms.server.AddTool(mcp.NewTool(toolCellGet,
		mcp.WithDescription("Return the execution state and output of a cell as JSON"),
		worksheetArg(),
		cellArg(),
	), ms.handleCellGet)

	ms.server.AddTool(mcp.NewTool(toolSessionStatus,
		mcp.WithDescription("Return the connection status and pending request count as JSON"),
	), ms.handleSessionStatus)
}

// call wraps a handler body with audit logging
func (ms *MCPServer) call(ctx context.Context, entry *AuditEntry, fn func() (*mcp.CallToolResult, error)) (*mcp.CallToolResult, error) {
	entry.SessionID = ms.session.SessionID()
	ms.auditLogger.LogToolCall(ctx, entry)

	result, err := fn()
	if err != nil {
		entry.ErrorMsg = err.Error()
		ms.auditLogger.LogToolResult(ctx, entry)
		return mcp.NewToolResultError(err.Error()), nil
	}

	ms.auditLogger.LogToolResult(ctx, entry)
	return result, nil
}

func requireIDs(request mcp.CallToolRequest) (string, string, error) {
	worksheetID, err := request.RequireString(argWorksheetID)
	if err != nil {
		return "", "", err
	}
	cellID, err := request.RequireString(argCellID)
	if err != nil {
		return "", "", err
	}
	return worksheetID, cellID, nil
}

func (ms *MCPServer) handleWorksheetAdd(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	worksheetID, err := request.RequireString(argWorksheetID)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	entry := &AuditEntry{ToolName: toolWorksheetAdd, WorksheetID: worksheetID}
	return ms.call(ctx, entry, func() (*mcp.CallToolResult, error) {
		if _, err := ms.session.Notebook().AddWorksheet(worksheetID); err != nil {
			return nil, err
		}
		return mcp.NewToolResultText(fmt.Sprintf("worksheet %s created", worksheetID)), nil
	})
}

func (ms *MCPServer) handleWorksheetClose(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	worksheetID, err := request.RequireString(argWorksheetID)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	entry := &AuditEntry{ToolName: toolWorksheetClose, WorksheetID: worksheetID}
	return ms.call(ctx, entry, func() (*mcp.CallToolResult, error) {
		if _, ok := ms.session.Notebook().Worksheet(worksheetID); !ok {
			return nil, fmt.Errorf("%w: %s", notebook.ErrUnknownWorksheet, worksheetID)
		}
		if err := ms.session.CloseWorksheet(worksheetID); err != nil {
			return nil, err
		}
		return mcp.NewToolResultText(fmt.Sprintf("worksheet %s closed", worksheetID)), nil
	})
}

func (ms *MCPServer) handleCellAdd(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	worksheetID, cellID, err := requireIDs(request)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	source := request.GetString(argSource, "")

	entry := &AuditEntry{ToolName: toolCellAdd, WorksheetID: worksheetID, CellID: cellID}
	return ms.call(ctx, entry, func() (*mcp.CallToolResult, error) {
		ws, ok := ms.session.Notebook().Worksheet(worksheetID)
		if !ok {
			return nil, fmt.Errorf("%w: %s", notebook.ErrUnknownWorksheet, worksheetID)
		}
		if _, err := ws.AddCell(cellID, source); err != nil {
			return nil, err
		}
		return mcp.NewToolResultText(fmt.Sprintf("cell %s added to %s", cellID, worksheetID)), nil
	})
}

func (ms *MCPServer) handleCellUpdate(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	worksheetID, cellID, err := requireIDs(request)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	source, err := request.RequireString(argSource)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	entry := &AuditEntry{ToolName: toolCellUpdate, WorksheetID: worksheetID, CellID: cellID}
	return ms.call(ctx, entry, func() (*mcp.CallToolResult, error) {
		cell, err := ms.session.Notebook().Lookup(worksheetID, cellID)
		if err != nil {
			return nil, err
		}
		cell.SetSource(source)
		return mcp.NewToolResultText(fmt.Sprintf("cell %s updated", cellID)), nil
	})
}

func (ms *MCPServer) handleCellEvaluate(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	worksheetID, cellID, err := requireIDs(request)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	args := request.GetArguments()
	source, replace := args[argSource].(string)

	entry := &AuditEntry{ToolName: toolCellEvaluate, WorksheetID: worksheetID, CellID: cellID}
	return ms.call(ctx, entry, func() (*mcp.CallToolResult, error) {
		cell, err := ms.session.Notebook().Lookup(worksheetID, cellID)
		if err != nil {
			return nil, err
		}
		if replace {
			cell.SetSource(source)
		}
		if err := ms.session.Evaluate(cell, worksheetID); err != nil {
			if errors.Is(err, coordinator.ErrClosed) {
				return nil, fmt.Errorf("session closed: %w", err)
			}
			return nil, err
		}
		return mcp.NewToolResultText(fmt.Sprintf("evaluation of %s/%s requested", worksheetID, cellID)), nil
	})
}

func (ms *MCPServer) handleCellGet(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	worksheetID, cellID, err := requireIDs(request)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	entry := &AuditEntry{ToolName: toolCellGet, WorksheetID: worksheetID, CellID: cellID}
	return ms.call(ctx, entry, func() (*mcp.CallToolResult, error) {
		cell, err := ms.session.Notebook().Lookup(worksheetID, cellID)
		if err != nil {
			return nil, err
		}
		snap := cell.Snapshot()
		entry.Ordinal = snap.Ordinal
		return jsonResult(snap)
	})
}

func (ms *MCPServer) handleSessionStatus(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	entry := &AuditEntry{ToolName: toolSessionStatus}
	return ms.call(ctx, entry, func() (*mcp.CallToolResult, error) {
		return jsonResult(ms.session.SessionState())
	})
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode result: %w", err)
	}
	return mcp.NewToolResultText(string(data)), nil
}
