package mcpserver

import (
	"context"
	"log/slog"
	"time"
)

// AuditEntry represents a logged tool invocation for provenance tracking
type AuditEntry struct {
	Timestamp   time.Time
	SessionID   string
	ToolName    string
	Arguments   map[string]any
	WorksheetID string
	CellID      string
	Ordinal     uint64
	ErrorMsg    string
}

// AuditLogger handles audit logging for MCP tool calls
type AuditLogger struct {
	logger *slog.Logger
}

// NewAuditLogger creates a new audit logger
func NewAuditLogger(logger *slog.Logger) *AuditLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuditLogger{
		logger: logger,
	}
}

// LogToolCall logs a tool invocation with all relevant context
func (al *AuditLogger) LogToolCall(ctx context.Context, entry *AuditEntry) {
	al.logger.InfoContext(ctx, "tool_call",
		"session_id", entry.SessionID,
		"tool_name", entry.ToolName,
		"worksheet_id", entry.WorksheetID,
		"cell_id", entry.CellID,
		"arguments", entry.Arguments,
		"timestamp", stamp(entry.Timestamp),
	)
}

// LogToolResult logs the outcome of a tool invocation
func (al *AuditLogger) LogToolResult(ctx context.Context, entry *AuditEntry) {
	if entry.ErrorMsg != "" {
		al.logger.WarnContext(ctx, "tool_error",
			"session_id", entry.SessionID,
			"tool_name", entry.ToolName,
			"worksheet_id", entry.WorksheetID,
			"cell_id", entry.CellID,
			"error", entry.ErrorMsg,
			"timestamp", stamp(entry.Timestamp),
		)
		return
	}

	al.logger.InfoContext(ctx, "tool_result",
		"session_id", entry.SessionID,
		"tool_name", entry.ToolName,
		"worksheet_id", entry.WorksheetID,
		"cell_id", entry.CellID,
		"ordinal", entry.Ordinal,
		"timestamp", stamp(entry.Timestamp),
	)
}

func stamp(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now()
	}
	return t
}
