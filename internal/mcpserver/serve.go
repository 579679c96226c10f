package mcpserver

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/mark3labs/mcp-go/server"
)

// This file contains server startup methods that start blocking servers.
// They are exercised through the CLI rather than unit tests.

const shutdownTimeout = 5 * time.Second

// Serve starts the MCP server with stdio transport
func (ms *MCPServer) Serve() error {
	return server.ServeStdio(ms.server)
}

// ServeHTTP starts the MCP server with HTTP/SSE transport on addr and shuts
// it down when ctx is done
func (ms *MCPServer) ServeHTTP(ctx context.Context, addr string, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	sseServer := server.NewSSEServer(ms.server,
		server.WithBaseURL("http://"+addr),
		server.WithStaticBasePath("/mcp"),
	)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting MCP server with HTTP/SSE transport", "address", addr, "base_path", "/mcp")
		errCh <- sseServer.Start(addr)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		logger.Info("Shutting down MCP server")
		return sseServer.Shutdown(shutdownCtx)
	}
}
