// Package mcptool executes assistant tool calls against a Model Context
// Protocol server. It connects via stdio or streamable-HTTP using the
// official MCP Go SDK and maps each call onto the server's CallTool
// operation.
package mcptool

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"sync"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/MrWong99/vesta/internal/tools"
	"github.com/MrWong99/vesta/pkg/live"
)

var _ tools.Executor = (*Executor)(nil)

// Transport selects how the executor reaches its MCP server.
type Transport string

const (
	// TransportStdio launches the server as a subprocess and speaks MCP
	// over its stdin/stdout.
	TransportStdio Transport = "stdio"
	// TransportStreamableHTTP connects to a server's streamable-HTTP
	// endpoint.
	TransportStreamableHTTP Transport = "streamable-http"
)

// Config describes the MCP server the executor connects to.
type Config struct {
	// Transport must be one of [TransportStdio] or [TransportStreamableHTTP].
	Transport Transport
	// Command is the command line for stdio transport, split on spaces
	// into executable and arguments.
	Command string
	// URL is the endpoint address for streamable-HTTP transport.
	URL string
	// Env holds additional environment variables for stdio servers.
	Env map[string]string
}

// Executor is a [tools.Executor] backed by a single MCP server session.
type Executor struct {
	session *mcpsdk.ClientSession

	mu       sync.RWMutex
	catalog  map[string]*mcpsdk.Tool
	closeNow sync.Once
}

// Connect establishes the MCP session described by cfg and loads the
// server's tool catalogue. The returned executor must be closed when no
// longer needed.
func Connect(ctx context.Context, cfg Config) (*Executor, error) {
	var transport mcpsdk.Transport

	switch cfg.Transport {
	case TransportStdio:
		parts := strings.Fields(cfg.Command)
		if len(parts) == 0 {
			return nil, fmt.Errorf("mcptool: stdio transport requires a non-empty command")
		}
		cmd := exec.CommandContext(ctx, parts[0], parts[1:]...)
		for k, v := range cfg.Env {
			cmd.Env = append(cmd.Env, k+"="+v)
		}
		transport = &mcpsdk.CommandTransport{Command: cmd}

	case TransportStreamableHTTP:
		if cfg.URL == "" {
			return nil, fmt.Errorf("mcptool: streamable-http transport requires a URL")
		}
		transport = &mcpsdk.StreamableClientTransport{Endpoint: cfg.URL}

	default:
		return nil, fmt.Errorf("mcptool: unknown transport %q", cfg.Transport)
	}

	client := mcpsdk.NewClient(
		&mcpsdk.Implementation{Name: "vesta", Version: "1.0.0"},
		nil,
	)
	session, err := client.Connect(ctx, transport, nil)
	if err != nil {
		return nil, fmt.Errorf("mcptool: connect: %w", err)
	}

	catalog := make(map[string]*mcpsdk.Tool)
	for tool, err := range session.Tools(ctx, nil) {
		if err != nil {
			_ = session.Close()
			return nil, fmt.Errorf("mcptool: list tools: %w", err)
		}
		catalog[tool.Name] = tool
	}

	return &Executor{session: session, catalog: catalog}, nil
}

// Declarations converts the server's tool catalogue into the function
// declarations advertised to the model during session setup.
func (e *Executor) Declarations() []live.FunctionDeclaration {
	e.mu.RLock()
	defer e.mu.RUnlock()

	decls := make([]live.FunctionDeclaration, 0, len(e.catalog))
	for _, t := range e.catalog {
		decls = append(decls, live.FunctionDeclaration{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  schemaToMap(t.InputSchema),
		})
	}
	return decls
}

// CallTool implements [tools.Executor]. The result is the concatenation
// of the server's text content; a result flagged IsError becomes a Go
// error so the bridge shapes it as an error response.
func (e *Executor) CallTool(ctx context.Context, name, argsJSON string) (string, error) {
	e.mu.RLock()
	_, known := e.catalog[name]
	e.mu.RUnlock()
	if !known {
		return "", fmt.Errorf("mcptool: tool %q not found", name)
	}

	var argsMap map[string]any
	if argsJSON != "" && argsJSON != "{}" {
		if err := json.Unmarshal([]byte(argsJSON), &argsMap); err != nil {
			return "", fmt.Errorf("mcptool: invalid args for %q: %w", name, err)
		}
	}

	result, err := e.session.CallTool(ctx, &mcpsdk.CallToolParams{
		Name:      name,
		Arguments: argsMap,
	})
	if err != nil {
		return "", fmt.Errorf("mcptool: call %q: %w", name, err)
	}

	var sb strings.Builder
	for _, c := range result.Content {
		if tc, ok := c.(*mcpsdk.TextContent); ok {
			sb.WriteString(tc.Text)
		}
	}
	if result.IsError {
		return "", fmt.Errorf("mcptool: %q reported an error: %s", name, sb.String())
	}
	return sb.String(), nil
}

// Close shuts down the server session. Safe to call repeatedly.
func (e *Executor) Close() error {
	var err error
	e.closeNow.Do(func() {
		err = e.session.Close()
	})
	return err
}

// schemaToMap converts an SDK schema value into a plain map for the
// function declaration.
func schemaToMap(schema any) map[string]any {
	if schema == nil {
		return map[string]any{"type": "object"}
	}
	if m, ok := schema.(map[string]any); ok {
		return m
	}
	data, err := json.Marshal(schema)
	if err != nil {
		return map[string]any{"type": "object"}
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return map[string]any{"type": "object"}
	}
	return m
}
