// Package tools exposes the operation catalogue the model can invoke
// through function calling. Every operation returns a JSON result even
// on failure; nothing here panics past the dispatch boundary.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/ikamba/ikamba-agent/pkg/logger"
	"github.com/ikamba/ikamba-agent/pkg/providers"
)

// ToolResult separates what the LLM sees from what the user sees.
type ToolResult struct {
	ForLLM  string // content fed back to the model as the tool output
	ForUser string // optional content pushed straight to the user
	Silent  bool   // suppress ForUser delivery
	IsError bool
	Err     error
}

func ErrorResult(msg string) *ToolResult {
	return &ToolResult{ForLLM: msg, IsError: true}
}

func SilentResult(msg string) *ToolResult {
	return &ToolResult{ForLLM: msg, Silent: true}
}

// JSONResult marshals v as the tool output. Marshal failures collapse
// to a structured error payload rather than an exception.
func JSONResult(v interface{}) *ToolResult {
	data, err := json.Marshal(v)
	if err != nil {
		return ErrorResult(fmt.Sprintf(`{"success":false,"error":"encode result: %v"}`, err))
	}
	return &ToolResult{ForLLM: string(data)}
}

func JSONError(format string, args ...interface{}) *ToolResult {
	payload := map[string]interface{}{
		"success": false,
		"error":   fmt.Sprintf(format, args...),
	}
	data, _ := json.Marshal(payload)
	return &ToolResult{ForLLM: string(data), IsError: true}
}

// Turn carries per-request channel context into tools that need it.
// The loop sets it before dispatching a round of calls.
type Turn struct {
	Channel    string
	ChatID     string
	UserID     string   // caller-supplied identity, possibly provisional
	AccountID  string   // verified account id, empty if not linked
	ImagePaths []string // local paths of images attached to this turn
}

// EffectiveUser prefers the verified account over the channel identity.
func (t Turn) EffectiveUser() string {
	if t.AccountID != "" {
		return t.AccountID
	}
	return t.UserID
}

type Tool interface {
	Name() string
	Description() string
	Parameters() map[string]interface{}
	Execute(ctx context.Context, args map[string]interface{}) *ToolResult
}

// TurnAware tools receive the current request's channel context.
type TurnAware interface {
	SetTurn(turn Turn)
}

type ToolRegistry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{tools: map[string]Tool{}}
}

func (r *ToolRegistry) Register(tool Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[tool.Name()] = tool
}

func (r *ToolRegistry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

func (r *ToolRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SetTurn propagates the request context to every turn-aware tool.
func (r *ToolRegistry) SetTurn(turn Turn) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, t := range r.tools {
		if ta, ok := t.(TurnAware); ok {
			ta.SetTurn(turn)
		}
	}
}

// GetDefinitions returns the catalogue in the provider wire shape,
// sorted by name so prompts are stable across runs.
func (r *ToolRegistry) GetDefinitions() []providers.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)

	defs := make([]providers.ToolDefinition, 0, len(names))
	for _, name := range names {
		t := r.tools[name]
		defs = append(defs, providers.ToolDefinition{
			Type: "function",
			Function: providers.FunctionDef{
				Name:        t.Name(),
				Description: t.Description(),
				Parameters:  t.Parameters(),
			},
		})
	}
	return defs
}

// Execute dispatches one tool call. Unknown names and missing required
// parameters come back as structured errors, and a panicking tool is
// recovered into a generic failure so the loop never dies mid-round.
func (r *ToolRegistry) Execute(ctx context.Context, name string, args map[string]interface{}) (result *ToolResult) {
	tool, ok := r.Get(name)
	if !ok {
		return JSONError("unknown operation: %s", name)
	}

	if missing := missingRequired(tool.Parameters(), args); len(missing) > 0 {
		return JSONError("missing required parameters: %v", missing)
	}

	defer func() {
		if rec := recover(); rec != nil {
			logger.ErrorCF("tools", "Tool panicked", map[string]interface{}{
				"tool":  name,
				"panic": fmt.Sprintf("%v", rec),
			})
			result = JSONError("%s failed", name)
		}
	}()

	result = tool.Execute(ctx, args)
	if result == nil {
		result = JSONError("%s returned no result", name)
	}
	return result
}

func missingRequired(schema, args map[string]interface{}) []string {
	required, ok := schema["required"].([]string)
	if !ok {
		if raw, ok2 := schema["required"].([]interface{}); ok2 {
			for _, v := range raw {
				if s, sok := v.(string); sok {
					required = append(required, s)
				}
			}
		}
	}
	var missing []string
	for _, field := range required {
		v, present := args[field]
		if !present || v == nil || v == "" {
			missing = append(missing, field)
		}
	}
	return missing
}

// Argument coercion helpers. Function-call arguments arrive as
// map[string]interface{} decoded from JSON, so numbers are float64 and
// everything else needs a type switch.

func stringArg(args map[string]interface{}, key string) string {
	if v, ok := args[key].(string); ok {
		return v
	}
	return ""
}

func floatArg(args map[string]interface{}, key string) (float64, bool) {
	switch v := args[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	case string:
		var f float64
		if _, err := fmt.Sscanf(v, "%g", &f); err == nil {
			return f, true
		}
	}
	return 0, false
}

func intArg(args map[string]interface{}, key string, fallback int) int {
	if f, ok := floatArg(args, key); ok {
		return int(f)
	}
	return fallback
}
