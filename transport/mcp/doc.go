// Package mcp exposes the simulator to AI agents over the Model Context
// Protocol.
//
// The Client is a thin proxy: every tool call becomes one or more REST
// calls against a running server, and the JSON responses are rendered as
// short text for the agent.
//
// MCP Tools:
//   - play, pause, stop: control requests; rejections are reported as text
//   - telemetry: pose, distances, sensors, status
//   - reposition: begin, place at x/y, optionally set heading
//   - set_heading, set_speed
//   - list_maps, load_map
//   - list_policies, select_policy
//   - list_runs: recorded runs with optional map/policy/limit filters
//
// Usage:
//
//	client := mcp.NewClient("http://localhost:8080")
//	server.ServeStdio(client.GetMCPServer())
package mcp
