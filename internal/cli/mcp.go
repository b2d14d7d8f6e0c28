package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/colthorp/healthsync-go/internal/core"
	"github.com/colthorp/healthsync-go/internal/cycle"
	"github.com/colthorp/healthsync-go/internal/domain"
	"github.com/colthorp/healthsync-go/internal/ratelimit"
)

// MCP Protocol types
type MCPRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type MCPResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *MCPError   `json:"error,omitempty"`
}

type MCPError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

type MCPToolInfo struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"inputSchema"`
}

type MCPServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type MCPInitializeResult struct {
	ProtocolVersion string        `json:"protocolVersion"`
	ServerInfo      MCPServerInfo `json:"serverInfo"`
	Capabilities    interface{}   `json:"capabilities"`
}

// CyclePhaseParams are the parameters for the cycle_phase tool
type CyclePhaseParams struct {
	DateSpec string `json:"date_spec"`
}

// LogMealParams are the parameters for the log_meal tool
type LogMealParams struct {
	Name     string  `json:"name"`
	MealType string  `json:"meal_type"`
	Calories float64 `json:"calories"`
	ProteinG float64 `json:"protein_g"`
	CarbsG   float64 `json:"carbs_g"`
	FatG     float64 `json:"fat_g"`
}

// mcpServer answers JSON-RPC requests, one per line, over the app's services.
type mcpServer struct {
	app *app
	log *logrus.Entry

	mu  sync.Mutex // serializes writes to out
	out io.Writer
}

func newMCPServer(a *app, out io.Writer) *mcpServer {
	return &mcpServer{app: a, log: core.Component(a.log, "mcp"), out: out}
}

// serve reads requests from r until EOF or ctx is done.
func (s *mcpServer) serve(ctx context.Context, r io.Reader) error {
	scanner := bufio.NewScanner(r)
	// Increase buffer size for large messages
	const maxCapacity = 10 * 1024 * 1024 // 10MB
	buf := make([]byte, 64*1024)
	scanner.Buffer(buf, maxCapacity)

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req MCPRequest
		if err := json.Unmarshal(line, &req); err != nil {
			// Without an ID there is nothing to answer; a response with id null confuses clients
			s.log.WithError(err).Warn("parse error")
			continue
		}

		s.handle(ctx, &req)
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("scanner error: %w", err)
	}
	return nil
}

func (s *mcpServer) handle(ctx context.Context, req *MCPRequest) {
	switch req.Method {
	case "initialize":
		s.handleInitialize(req)
	case "initialized", "notifications/initialized":
		// Notifications don't get responses
		return
	case "tools/list":
		s.sendResponse(req.ID, map[string]interface{}{"tools": mcpTools})
	case "tools/call":
		s.handleToolsCall(ctx, req)
	default:
		// Notifications (no ID) are silently ignored
		if req.ID != nil {
			s.sendError(req.ID, -32601, "Method not found", req.Method)
		}
	}
}

func (s *mcpServer) handleInitialize(req *MCPRequest) {
	s.sendResponse(req.ID, MCPInitializeResult{
		ProtocolVersion: "2024-11-05",
		ServerInfo: MCPServerInfo{
			Name:    "healthsync",
			Version: core.Version,
		},
		Capabilities: map[string]interface{}{
			"tools": map[string]interface{}{},
		},
	})
}

var mcpTools = []MCPToolInfo{
	{
		Name:        "cycle_phase",
		Description: "Return the menstrual cycle phase for a day, computed from the profile's cycle anchor.\n\nArgs:\n    date_spec: YYYY-MM-DD, 'today', 'yesterday', M/D or d-N (default: today)\n\nReturns:\n    phase, day_of_cycle and is_predicted_period",
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"date_spec": map[string]interface{}{
					"type":        "string",
					"description": "Date specification - YYYY-MM-DD or shorthand ('today', 'yesterday', 'd-3')",
					"default":     "today",
				},
			},
		},
	},
	{
		Name:        "list_meals",
		Description: "List the meals logged today with calorie and macro totals.",
		InputSchema: map[string]interface{}{"type": "object", "properties": map[string]interface{}{}},
	},
	{
		Name:        "log_meal",
		Description: "Log a meal eaten now.\n\nArgs:\n    name: meal name\n    meal_type: breakfast, lunch, dinner or snack\n    calories, protein_g, carbs_g, fat_g: nutrition values\n\nReturns:\n    The stored meal",
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"name":      map[string]interface{}{"type": "string", "description": "Meal name"},
				"meal_type": map[string]interface{}{"type": "string", "description": "breakfast, lunch, dinner or snack"},
				"calories":  map[string]interface{}{"type": "number"},
				"protein_g": map[string]interface{}{"type": "number"},
				"carbs_g":   map[string]interface{}{"type": "number"},
				"fat_g":     map[string]interface{}{"type": "number"},
			},
			"required": []string{"name"},
		},
	},
	{
		Name:        "cache_stats",
		Description: "Report local cache size, item count and hit/miss counters.",
		InputSchema: map[string]interface{}{"type": "object", "properties": map[string]interface{}{}},
	},
}

func (s *mcpServer) handleToolsCall(ctx context.Context, req *MCPRequest) {
	var params struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	}

	if err := json.Unmarshal(req.Params, &params); err != nil {
		s.sendError(req.ID, -32602, "Invalid params", err.Error())
		return
	}

	switch params.Name {
	case "cycle_phase":
		s.handleCyclePhase(req.ID, params.Arguments)
	case "list_meals":
		s.sendToolResult(req.ID, map[string]interface{}{
			"meals":  s.app.svc.Nutrition.Meals(),
			"totals": s.app.svc.Nutrition.DailyTotals(),
		})
	case "log_meal":
		s.handleLogMeal(ctx, req.ID, params.Arguments)
	case "cache_stats":
		s.sendToolResult(req.ID, s.app.store.Stats())
	default:
		s.sendError(req.ID, -32602, "Unknown tool", params.Name)
	}
}

// decodeArgs treats absent arguments as an empty object.
func decodeArgs(raw json.RawMessage, v interface{}) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	return json.Unmarshal(raw, v)
}

func (s *mcpServer) handleCyclePhase(id interface{}, argsJSON json.RawMessage) {
	var args CyclePhaseParams
	if err := decodeArgs(argsJSON, &args); err != nil {
		s.sendToolError(id, fmt.Sprintf("Invalid arguments: %v", err))
		return
	}
	if args.DateSpec == "" {
		args.DateSpec = "today"
	}

	day, err := core.ParseDateSpec(args.DateSpec, s.app.now())
	if err != nil {
		s.sendToolResult(id, map[string]interface{}{
			"error":         fmt.Sprintf("Invalid date specification: %s", args.DateSpec),
			"valid_formats": []string{"YYYY-MM-DD", "today", "yesterday", "M/D", "d-N"},
			"date_spec":     args.DateSpec,
		})
		return
	}

	res, ok := s.app.svc.Wellness.PhaseOn(day)
	if !ok {
		s.sendToolError(id, "No cycle anchor recorded in the profile")
		return
	}
	s.sendToolResult(id, struct {
		Date string `json:"date"`
		cycle.Result
	}{core.FormatDate(day), res})
}

func (s *mcpServer) handleLogMeal(ctx context.Context, id interface{}, argsJSON json.RawMessage) {
	var args LogMealParams
	if err := decodeArgs(argsJSON, &args); err != nil {
		s.sendToolError(id, fmt.Sprintf("Invalid arguments: %v", err))
		return
	}

	meal, err := s.app.svc.Nutrition.LogMeal(ctx, domain.MealInput{
		Name:     args.Name,
		MealType: args.MealType,
		Calories: args.Calories,
		ProteinG: args.ProteinG,
		CarbsG:   args.CarbsG,
		FatG:     args.FatG,
	})
	if err != nil {
		var limitErr *ratelimit.LimitError
		if errors.As(err, &limitErr) {
			s.sendToolError(id, "Too many meals logged: "+limitErr.RetryMessage())
			return
		}
		s.sendToolError(id, fmt.Sprintf("Failed to log meal: %v", err))
		return
	}
	s.sendToolResult(id, meal)
}

func (s *mcpServer) write(resp MCPResponse) {
	data, err := json.Marshal(resp)
	if err != nil {
		s.log.WithError(err).Error("encode response")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintln(s.out, string(data))
}

func (s *mcpServer) sendResponse(id interface{}, result interface{}) {
	s.write(MCPResponse{JSONRPC: "2.0", ID: id, Result: result})
}

func (s *mcpServer) sendError(id interface{}, code int, message, data string) {
	s.write(MCPResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error: &MCPError{
			Code:    code,
			Message: message,
			Data:    data,
		},
	})
}

func (s *mcpServer) sendToolResult(id interface{}, result interface{}) {
	s.sendResponse(id, map[string]interface{}{
		"content": []map[string]interface{}{
			{
				"type": "text",
				"text": mustMarshal(result),
			},
		},
	})
}

func (s *mcpServer) sendToolError(id interface{}, message string) {
	s.sendResponse(id, map[string]interface{}{
		"content": []map[string]interface{}{
			{
				"type": "text",
				"text": message,
			},
		},
		"isError": true,
	})
}

func mustMarshal(v interface{}) string {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf("error: %v", err)
	}
	return string(data)
}
