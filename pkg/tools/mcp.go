// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/kadirpekel/sahayak/pkg/config"
	"github.com/kadirpekel/sahayak/pkg/version"
)

// mcpCaller is the part of the MCP client an adapter needs.
type mcpCaller interface {
	CallTool(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error)
}

// MCPServer is a running MCP server process and the tools it exports.
type MCPServer struct {
	Name   string
	Tools  []Tool
	client *client.Client
}

// ConnectMCP launches the configured server over stdio, performs the
// initialize handshake and wraps every listed tool. When cfg.Tools is set
// only those names are kept.
func ConnectMCP(ctx context.Context, cfg config.MCPServerConfig) (*MCPServer, error) {
	mcpClient, err := client.NewStdioMCPClient(cfg.Command, envSlice(cfg.Env), cfg.Args...)
	if err != nil {
		return nil, fmt.Errorf("failed to create MCP client: %w", err)
	}

	if err := mcpClient.Start(ctx); err != nil {
		mcpClient.Close()
		return nil, fmt.Errorf("failed to start MCP client: %w", err)
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ClientInfo = mcp.Implementation{
		Name:    "sahayak",
		Version: version.Version,
	}
	initReq.Params.ProtocolVersion = "2024-11-05"

	if _, err := mcpClient.Initialize(ctx, initReq); err != nil {
		mcpClient.Close()
		return nil, fmt.Errorf("failed to initialize MCP: %w", err)
	}

	listResp, err := mcpClient.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		mcpClient.Close()
		return nil, fmt.Errorf("failed to list tools: %w", err)
	}

	server := &MCPServer{Name: cfg.Name, client: mcpClient}
	server.Tools = wrapMCPTools(mcpClient, cfg, listResp.Tools)

	slog.Info("Connected to MCP server", "name", cfg.Name, "command", cfg.Command, "tools", len(server.Tools))
	return server, nil
}

// Close stops the server process.
func (s *MCPServer) Close() error {
	if s.client == nil {
		return nil
	}
	err := s.client.Close()
	s.client = nil
	return err
}

func wrapMCPTools(caller mcpCaller, cfg config.MCPServerConfig, listed []mcp.Tool) []Tool {
	var allow map[string]bool
	if len(cfg.Tools) > 0 {
		allow = make(map[string]bool, len(cfg.Tools))
		for _, n := range cfg.Tools {
			allow[n] = true
		}
	}

	var out []Tool
	for _, t := range listed {
		if allow != nil && !allow[t.Name] {
			continue
		}
		desc := t.Description
		if desc == "" {
			desc = fmt.Sprintf("Tool %s provided by the %s MCP server.", t.Name, cfg.Name)
		}
		out = append(out, &mcpTool{
			caller: caller,
			server: cfg.Name,
			desc: Descriptor{
				Name:        t.Name,
				Description: desc,
				InputSchema: convertSchema(t.InputSchema),
			},
		})
	}
	return out
}

// mcpTool forwards invocations to an MCP server.
type mcpTool struct {
	caller mcpCaller
	server string
	desc   Descriptor
}

func (m *mcpTool) Descriptor() Descriptor {
	return m.desc
}

func (m *mcpTool) Invoke(ctx context.Context, inv Invocation) Result {
	start := time.Now()

	req := mcp.CallToolRequest{}
	req.Params.Name = m.desc.Name
	req.Params.Arguments = inv.Arguments

	resp, err := m.caller.CallTool(ctx, req)
	if err != nil {
		return Failed(inv, asInvocationError(m.desc.Name, inv.CallID, fmt.Errorf("MCP call to %s failed: %w", m.server, err)), time.Since(start))
	}

	texts := contentTexts(resp.Content)
	if resp.IsError {
		detail := strings.Join(texts, "\n")
		if detail == "" {
			detail = "unknown error"
		}
		return Failed(inv, &ToolInvocationError{Tool: m.desc.Name, CallID: inv.CallID, Kind: KindInternal, Err: errors.New(detail)}, time.Since(start))
	}

	payload := strings.Join(texts, "\n")
	if payload == "" {
		return Failed(inv, &ToolInvocationError{Tool: m.desc.Name, CallID: inv.CallID, Kind: KindEmpty, Err: errors.New("MCP tool returned no text content")}, time.Since(start))
	}

	return Result{
		CallID:   inv.CallID,
		ToolName: m.desc.Name,
		Status:   StatusOK,
		Payload:  payload,
		Data:     texts,
		Duration: time.Since(start),
	}
}

func contentTexts(content []mcp.Content) []string {
	var texts []string
	for _, c := range content {
		switch tc := c.(type) {
		case mcp.TextContent:
			texts = append(texts, tc.Text)
		case *mcp.TextContent:
			texts = append(texts, tc.Text)
		}
	}
	return texts
}

func convertSchema(schema mcp.ToolInputSchema) map[string]any {
	data, err := json.Marshal(schema)
	if err != nil {
		return map[string]any{"type": "object", "properties": map[string]any{}}
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil || out == nil {
		return map[string]any{"type": "object", "properties": map[string]any{}}
	}
	if out["properties"] == nil {
		out["properties"] = map[string]any{}
	}
	return out
}

// envSlice renders env as sorted KEY=VALUE pairs.
func envSlice(env map[string]string) []string {
	if len(env) == 0 {
		return nil
	}
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}
