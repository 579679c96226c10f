package mcpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AltairaLabs/notebook-exec/internal/channel"
	"github.com/AltairaLabs/notebook-exec/internal/coordinator"
	"github.com/AltairaLabs/notebook-exec/internal/kernel"
	"github.com/AltairaLabs/notebook-exec/internal/notebook"
)

type testEnv struct {
	ms    *MCPServer
	coord *coordinator.Coordinator
	logs  *bytes.Buffer
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	local := channel.NewLocal(kernel.EchoExecutor{}, time.Second, nil)
	coord, err := coordinator.New(coordinator.Config{
		SessionID: "s1",
		Notebook:  notebook.New("nb"),
		Channel:   local,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = coord.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	require.Eventually(t, func() bool {
		return coord.SessionState().ConnectionStatus == channel.StatusConnected
	}, 5*time.Second, 5*time.Millisecond)

	logs := &bytes.Buffer{}
	audit := NewAuditLogger(slog.New(slog.NewJSONHandler(logs, nil)))
	ms := NewMCPServer(Config{Name: "TestServer", Version: "1.0.0"}, coord, audit)
	return &testEnv{ms: ms, coord: coord, logs: logs}
}

func callRequest(name string, args map[string]any) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

func resultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotNil(t, result)
	require.NotEmpty(t, result.Content)
	text, ok := mcp.AsTextContent(result.Content[0])
	require.True(t, ok)
	return text.Text
}

func TestCellLifecycleThroughTools(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	result, err := env.ms.handleWorksheetAdd(ctx, callRequest(toolWorksheetAdd, map[string]any{
		argWorksheetID: "ws1",
	}))
	require.NoError(t, err)
	assert.False(t, result.IsError, resultText(t, result))

	result, err = env.ms.handleCellAdd(ctx, callRequest(toolCellAdd, map[string]any{
		argWorksheetID: "ws1",
		argCellID:      "A",
		argSource:      "first",
	}))
	require.NoError(t, err)
	assert.False(t, result.IsError, resultText(t, result))

	result, err = env.ms.handleCellEvaluate(ctx, callRequest(toolCellEvaluate, map[string]any{
		argWorksheetID: "ws1",
		argCellID:      "A",
		argSource:      "42",
	}))
	require.NoError(t, err)
	assert.False(t, result.IsError, resultText(t, result))

	var snap notebook.CellSnapshot
	require.Eventually(t, func() bool {
		result, err := env.ms.handleCellGet(ctx, callRequest(toolCellGet, map[string]any{
			argWorksheetID: "ws1",
			argCellID:      "A",
		}))
		if err != nil || result.IsError {
			return false
		}
		if json.Unmarshal([]byte(resultText(t, result)), &snap) != nil {
			return false
		}
		return snap.State == notebook.StateCompleted
	}, 5*time.Second, 10*time.Millisecond)

	assert.Equal(t, "42", snap.Source)
	assert.Equal(t, "42", snap.Output.Payload)
	assert.Equal(t, uint64(1), snap.Ordinal)

	result, err = env.ms.handleSessionStatus(ctx, callRequest(toolSessionStatus, nil))
	require.NoError(t, err)
	var state coordinator.SessionState
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &state))
	assert.Equal(t, channel.StatusConnected, state.ConnectionStatus)
	assert.Equal(t, 0, state.PendingCount)

	assert.Contains(t, env.logs.String(), `"tool_name":"cell.evaluate"`)
	assert.Contains(t, env.logs.String(), `"session_id":"s1"`)
}

func TestCellUpdate(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	ws, err := env.coord.Notebook().AddWorksheet("ws1")
	require.NoError(t, err)
	cell, err := ws.AddCell("A", "old")
	require.NoError(t, err)

	result, err := env.ms.handleCellUpdate(ctx, callRequest(toolCellUpdate, map[string]any{
		argWorksheetID: "ws1",
		argCellID:      "A",
		argSource:      "new",
	}))
	require.NoError(t, err)
	assert.False(t, result.IsError)
	assert.Equal(t, "new", cell.Source())
	assert.Equal(t, notebook.StateIdle, cell.State())
}

func TestToolErrors(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.coord.Notebook().AddWorksheet("ws1")
	require.NoError(t, err)

	tests := []struct {
		name    string
		handler func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error)
		args    map[string]any
		want    string
	}{
		{
			name:    "worksheet.add missing id",
			handler: env.ms.handleWorksheetAdd,
			args:    map[string]any{},
			want:    argWorksheetID,
		},
		{
			name:    "worksheet.add duplicate",
			handler: env.ms.handleWorksheetAdd,
			args:    map[string]any{argWorksheetID: "ws1"},
			want:    "ws1",
		},
		{
			name:    "cell.add unknown worksheet",
			handler: env.ms.handleCellAdd,
			args:    map[string]any{argWorksheetID: "nope", argCellID: "A"},
			want:    "nope",
		},
		{
			name:    "cell.update missing source",
			handler: env.ms.handleCellUpdate,
			args:    map[string]any{argWorksheetID: "ws1", argCellID: "A"},
			want:    argSource,
		},
		{
			name:    "cell.evaluate unknown cell",
			handler: env.ms.handleCellEvaluate,
			args:    map[string]any{argWorksheetID: "ws1", argCellID: "missing"},
			want:    "missing",
		},
		{
			name:    "cell.get missing cell id",
			handler: env.ms.handleCellGet,
			args:    map[string]any{argWorksheetID: "ws1"},
			want:    argCellID,
		},
		{
			name:    "worksheet.close unknown",
			handler: env.ms.handleWorksheetClose,
			args:    map[string]any{argWorksheetID: "nope"},
			want:    "nope",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := tt.handler(ctx, callRequest("", tt.args))
			require.NoError(t, err)
			assert.True(t, result.IsError)
			assert.Contains(t, resultText(t, result), tt.want)
		})
	}
}

func TestWorksheetClose(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.coord.Notebook().AddWorksheet("ws1")
	require.NoError(t, err)

	result, err := env.ms.handleWorksheetClose(ctx, callRequest(toolWorksheetClose, map[string]any{
		argWorksheetID: "ws1",
	}))
	require.NoError(t, err)
	assert.False(t, result.IsError, resultText(t, result))

	require.NoError(t, env.coord.Sync(ctx))
	_, ok := env.coord.Notebook().Worksheet("ws1")
	assert.False(t, ok)
}

func TestAuditLogger_LogsErrors(t *testing.T) {
	var buf bytes.Buffer
	al := NewAuditLogger(slog.New(slog.NewJSONHandler(&buf, nil)))

	al.LogToolResult(context.Background(), &AuditEntry{
		SessionID: "s1",
		ToolName:  toolCellGet,
		ErrorMsg:  "boom",
	})

	assert.Contains(t, buf.String(), `"msg":"tool_error"`)
	assert.Contains(t, buf.String(), `"error":"boom"`)
}
