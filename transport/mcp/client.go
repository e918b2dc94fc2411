package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/wricardo/mcp-training/linetracer/sim/config"
	"github.com/wricardo/mcp-training/linetracer/sim/engine"
	"github.com/wricardo/mcp-training/linetracer/sim/runlog"
	"github.com/wricardo/mcp-training/linetracer/sim/service"
)

// Client is a thin MCP client that proxies to the REST API
type Client struct {
	baseURL    string
	httpClient *http.Client
	mcpServer  *server.MCPServer
}

// NewClient creates a new MCP client that calls the REST API
func NewClient(baseURL string) *Client {
	c := &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}

	c.initMCPServer()
	return c
}

// initMCPServer initializes the MCP server with all tools
func (c *Client) initMCPServer() {
	c.mcpServer = server.NewMCPServer(
		"Line Tracer Simulator",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithInstructions(`Line Tracer Simulator - MCP Interface

This is a thin client that proxies all requests to the REST API server.

A differential-drive robot with three downward color sensors (A right,
B center, C left) follows a black line on a white map until a sensor
reaches the green goal. A control policy drives it; you start, pause,
stop and place it.

AVAILABLE TOOLS:
- play / pause / stop: control the selected policy
- telemetry: pose, distances, sensor colors and status
- reposition: place the robot by hand (optionally with a heading)
- set_heading: turn the robot in place
- set_speed: pacing speed level 1..100
- list_maps / load_map: choose the map (engine must be stopped)
- list_policies / select_policy: choose the policy (engine must be stopped)
- list_runs: past runs with outcome and distances

Control requests that are not valid in the current state are reported as
rejected, not as errors.`),
	)

	c.registerTools()
}

func emptySchema() mcp.ToolInputSchema {
	return mcp.ToolInputSchema{
		Type:       "object",
		Properties: map[string]interface{}{},
	}
}

// registerTools registers all MCP tools
func (c *Client) registerTools() {
	// Control
	c.mcpServer.AddTool(mcp.Tool{
		Name:        "play",
		Description: "Start the selected policy, or resume it when paused. Starting from stopped resets pose and distances unless the robot was placed by hand.",
		InputSchema: emptySchema(),
	}, c.handleControl("play"))

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "pause",
		Description: "Pause the running policy",
		InputSchema: emptySchema(),
	}, c.handleControl("pause"))

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "stop",
		Description: "Stop the running or paused policy",
		InputSchema: emptySchema(),
	}, c.handleControl("stop"))

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "telemetry",
		Description: "Get the robot pose, distances, sensor colors and engine status",
		InputSchema: emptySchema(),
	}, c.handleTelemetry)

	// Placement
	c.mcpServer.AddTool(mcp.Tool{
		Name:        "reposition",
		Description: "Place the robot at a pixel position. The engine returns to the status it had before.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"x": map[string]interface{}{
					"type":        "number",
					"description": "X in pixels from the left edge",
				},
				"y": map[string]interface{}{
					"type":        "number",
					"description": "Y in pixels from the top edge",
				},
				"heading": map[string]interface{}{
					"type":        "number",
					"description": "Optional heading in degrees, clockwise from up",
				},
			},
			Required: []string{"x", "y"},
		},
	}, c.handleReposition)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "set_heading",
		Description: "Turn the robot in place without moving it",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"heading": map[string]interface{}{
					"type":        "number",
					"description": "Heading in degrees, clockwise from up",
				},
			},
			Required: []string{"heading"},
		},
	}, c.handleSetHeading)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "set_speed",
		Description: "Set the pacing speed level; 1 is slowest, 100 is fastest",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"level": map[string]interface{}{
					"type":        "integer",
					"minimum":     1,
					"maximum":     engine.MaxSpeedLevel,
					"description": "Speed level",
				},
			},
			Required: []string{"level"},
		},
	}, c.handleSetSpeed)

	// Maps and policies
	c.mcpServer.AddTool(mcp.Tool{
		Name:        "list_maps",
		Description: "List available maps",
		InputSchema: emptySchema(),
	}, c.handleListMaps)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "load_map",
		Description: "Load a map by ID. The engine must be stopped.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"map_id": map[string]interface{}{
					"type":        "string",
					"description": "Map ID from list_maps",
				},
			},
			Required: []string{"map_id"},
		},
	}, c.handleLoadMap)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "list_policies",
		Description: "List control policies",
		InputSchema: emptySchema(),
	}, c.handleListPolicies)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "select_policy",
		Description: "Select the control policy. The engine must be stopped.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"name": map[string]interface{}{
					"type":        "string",
					"description": "Policy name from list_policies",
				},
			},
			Required: []string{"name"},
		},
	}, c.handleSelectPolicy)

	// Run log
	c.mcpServer.AddTool(mcp.Tool{
		Name:        "list_runs",
		Description: "List recorded runs, newest first",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"map": map[string]interface{}{
					"type":        "string",
					"description": "Only runs on this map",
				},
				"policy": map[string]interface{}{
					"type":        "string",
					"description": "Only runs of this policy",
				},
				"limit": map[string]interface{}{
					"type":        "integer",
					"description": "Maximum number of runs",
				},
			},
		},
	}, c.handleListRuns)
}

// GetMCPServer returns the underlying MCP server for serving
func (c *Client) GetMCPServer() *server.MCPServer {
	return c.mcpServer
}

// Helper methods for API calls

func (c *Client) apiCall(ctx context.Context, method, path string, body interface{}, result interface{}) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reqBody = bytes.NewBuffer(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return err
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var errResp map[string]string
		json.NewDecoder(resp.Body).Decode(&errResp)
		if msg, ok := errResp["error"]; ok {
			return fmt.Errorf("%s", msg)
		}
		return fmt.Errorf("API error: %d", resp.StatusCode)
	}

	if result != nil {
		return json.NewDecoder(resp.Body).Decode(result)
	}

	return nil
}

func numberArg(args map[string]interface{}, key string) (float64, bool) {
	switch v := args[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

// Tool handlers

func (c *Client) handleControl(name string) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var result service.ControlResult
		if err := c.apiCall(ctx, "POST", "/api/"+name, nil, &result); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultText(formatControlResult(&result)), nil
	}
}

func (c *Client) handleTelemetry(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var tel engine.Telemetry
	if err := c.apiCall(ctx, "GET", "/api/telemetry", nil, &tel); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(formatTelemetry(&tel)), nil
}

func (c *Client) handleReposition(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.GetArguments()
	x, okX := numberArg(args, "x")
	y, okY := numberArg(args, "y")
	if !okX || !okY {
		return mcp.NewToolResultError("x and y are required numbers"), nil
	}

	if err := c.apiCall(ctx, "POST", "/api/reposition/begin", nil, nil); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	var tel engine.Telemetry
	body := map[string]float64{"x": x, "y": y}
	if err := c.apiCall(ctx, "POST", "/api/reposition/end", body, &tel); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	if heading, ok := numberArg(args, "heading"); ok {
		if err := c.apiCall(ctx, "POST", "/api/heading", map[string]float64{"heading": heading}, &tel); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
	}

	return mcp.NewToolResultText("Robot placed.\n\n" + formatTelemetry(&tel)), nil
}

func (c *Client) handleSetHeading(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	heading, ok := numberArg(request.GetArguments(), "heading")
	if !ok {
		return mcp.NewToolResultError("heading is required"), nil
	}

	var tel engine.Telemetry
	if err := c.apiCall(ctx, "POST", "/api/heading", map[string]float64{"heading": heading}, &tel); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(formatTelemetry(&tel)), nil
}

func (c *Client) handleSetSpeed(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	level, ok := numberArg(request.GetArguments(), "level")
	if !ok {
		return mcp.NewToolResultError("level is required"), nil
	}

	var tel engine.Telemetry
	if err := c.apiCall(ctx, "POST", "/api/speed", map[string]int{"level": int(level)}, &tel); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Pacing delay: %v", tel.Delay)), nil
}

func (c *Client) handleListMaps(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var maps []config.MapInfo
	if err := c.apiCall(ctx, "GET", "/api/maps", nil, &maps); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Available Maps (%d):\n\n", len(maps))
	for _, m := range maps {
		fmt.Fprintf(&b, "- %s: %s (%dx%d, start %.0f,%.0f heading %.0f)\n",
			m.MapID, m.Name, m.Width, m.Height, m.Start.X, m.Start.Y, m.Start.Heading)
		if m.Description != "" {
			fmt.Fprintf(&b, "  %s\n", m.Description)
		}
	}
	return mcp.NewToolResultText(b.String()), nil
}

func (c *Client) handleLoadMap(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	mapID, _ := request.GetArguments()["map_id"].(string)
	if mapID == "" {
		return mcp.NewToolResultError("map_id is required"), nil
	}

	var tel engine.Telemetry
	if err := c.apiCall(ctx, "POST", "/api/maps/"+url.PathEscape(mapID), nil, &tel); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Loaded map %s.\n\n%s", tel.Map, formatTelemetry(&tel))), nil
}

func (c *Client) handleListPolicies(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var policies []service.PolicyInfo
	if err := c.apiCall(ctx, "GET", "/api/policies", nil, &policies); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	var b strings.Builder
	b.WriteString("Policies:\n\n")
	for _, p := range policies {
		marker := " "
		if p.Active {
			marker = "*"
		}
		fmt.Fprintf(&b, "%s %s: %s\n", marker, p.Name, p.Description)
	}
	return mcp.NewToolResultText(b.String()), nil
}

func (c *Client) handleSelectPolicy(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, _ := request.GetArguments()["name"].(string)
	if name == "" {
		return mcp.NewToolResultError("name is required"), nil
	}

	var tel engine.Telemetry
	if err := c.apiCall(ctx, "POST", "/api/policies/"+url.PathEscape(name), nil, &tel); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Selected policy %s.", tel.Policy)), nil
}

func (c *Client) handleListRuns(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.GetArguments()
	query := url.Values{}
	if m, _ := args["map"].(string); m != "" {
		query.Set("map", m)
	}
	if p, _ := args["policy"].(string); p != "" {
		query.Set("policy", p)
	}
	if limit, ok := numberArg(args, "limit"); ok && limit > 0 {
		query.Set("limit", fmt.Sprintf("%d", int(limit)))
	}

	path := "/api/runs"
	if len(query) > 0 {
		path += "?" + query.Encode()
	}

	var response struct {
		Count int          `json:"count"`
		Runs  []runlog.Run `json:"runs"`
	}
	if err := c.apiCall(ctx, "GET", path, nil, &response); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(formatRuns(response.Runs)), nil
}

// Formatting

func formatControlResult(result *service.ControlResult) string {
	var b strings.Builder
	if result.Accepted {
		fmt.Fprintf(&b, "%s accepted.\n", strings.ToUpper(result.Request))
	} else {
		fmt.Fprintf(&b, "%s rejected: %s\n", strings.ToUpper(result.Request), result.Message)
	}
	if result.State != nil {
		b.WriteString("\n")
		b.WriteString(formatTelemetry(result.State))
	}
	return b.String()
}

func formatTelemetry(tel *engine.Telemetry) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Status: %s\n", tel.Status)
	fmt.Fprintf(&b, "Map: %s\n", tel.Map)
	if tel.Policy != "" {
		fmt.Fprintf(&b, "Policy: %s\n", tel.Policy)
	}
	fmt.Fprintf(&b, "Pose: (%.1f, %.1f) heading %.1f\n", tel.Pose.X, tel.Pose.Y, tel.Pose.Heading)
	fmt.Fprintf(&b, "Distance: %.1fcm traveled, %.1fcm off line\n",
		tel.Metrics.DistanceTraveled, tel.Metrics.DistanceOffLine)

	onLine := "no"
	if tel.OnLine {
		onLine = "yes"
	}
	fmt.Fprintf(&b, "On line: %s\n", onLine)

	if len(tel.Sensors) > 0 {
		names := make([]string, 0, len(tel.Sensors))
		for name := range tel.Sensors {
			names = append(names, name)
		}
		sort.Strings(names)
		parts := make([]string, 0, len(names))
		for _, name := range names {
			parts = append(parts, fmt.Sprintf("%s=%s", name, tel.Sensors[name]))
		}
		fmt.Fprintf(&b, "Sensors: %s\n", strings.Join(parts, " "))
	}
	return b.String()
}

func formatRuns(runs []runlog.Run) string {
	if len(runs) == 0 {
		return "No runs recorded."
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Runs (%d):\n\n", len(runs))
	for _, r := range runs {
		fmt.Fprintf(&b, "- %s %s on %s: %s, %.1fcm traveled, %.1fcm off line, %dms",
			r.CreatedAt.Format("2006-01-02 15:04:05"), r.Policy, r.Map, r.Outcome,
			r.DistanceTraveled, r.DistanceOffLine, r.DurationMs)
		if r.Error != "" {
			fmt.Fprintf(&b, " (%s)", r.Error)
		}
		b.WriteString("\n")
	}
	return b.String()
}
