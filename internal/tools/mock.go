package tools

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"slices"
	"strings"
	"time"
)

// Mock tool names.
const (
	NotifyToolName  = "llamafarm-notify"
	ControlToolName = "llamafarm-control"
	MoveToolName    = "llamafarm-move"
)

var (
	notifyLevels = []string{"info", "warn", "error"}
	moveSpeeds   = []string{"slow", "normal", "fast"}
)

// mock carries what the mock tools share: a logger standing in for the
// side effect and a clock for response timestamps.
type mock struct {
	logger *slog.Logger
	now    func() time.Time
}

func newMock(logger *slog.Logger) mock {
	if logger == nil {
		logger = slog.Default()
	}
	return mock{logger: logger, now: time.Now}
}

func (m mock) timestamp() string {
	return m.now().UTC().Format("2006-01-02T15:04:05.000Z")
}

// MockTools returns the notify, control and move tools. They validate
// their arguments, log what they would have done and answer with a
// canned JSON payload.
func MockTools(logger *slog.Logger) []Tool {
	return []Tool{NewNotifyTool(logger), NewControlTool(logger), NewMoveTool(logger)}
}

// RegisterMocks adds the mock tools to r.
func RegisterMocks(r *Registry, logger *slog.Logger) {
	for _, t := range MockTools(logger) {
		r.Register(t)
	}
}

// NotifyTool pretends to send a notification.
type NotifyTool struct{ mock }

// NewNotifyTool creates the notify tool.
func NewNotifyTool(logger *slog.Logger) *NotifyTool { return &NotifyTool{newMock(logger)} }

func (*NotifyTool) Name() string { return NotifyToolName }

func (*NotifyTool) Description() string {
	return "Send a notification message. Mock implementation for testing."
}

func (*NotifyTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"message": map[string]any{
				"type":        "string",
				"description": "The notification message to send",
			},
			"level": map[string]any{
				"type":        "string",
				"enum":        notifyLevels,
				"description": "Notification level. Default: info",
			},
			"title": map[string]any{
				"type":        "string",
				"description": "Optional notification title",
			},
		},
		"required": []string{"message"},
	}
}

func (t *NotifyTool) Execute(_ context.Context, callID string, args map[string]any) Result {
	message := stringArg(args, "message")
	if strings.TrimSpace(message) == "" {
		return ErrorResult("message is required")
	}
	level := stringArgDefault(args, "level", "info")
	if !slices.Contains(notifyLevels, level) {
		return ErrorResult("level must be one of %s", strings.Join(notifyLevels, ", "))
	}
	title := optionalString(args, "title")

	t.logger.Info("mock notify", "call_id", callID, "level", level, "title", title, "message", message)

	return JSONResult(map[string]any{
		"success":   true,
		"notified":  true,
		"level":     level,
		"message":   message,
		"title":     title,
		"timestamp": t.timestamp(),
	})
}

// ControlTool pretends to run an action against a target.
type ControlTool struct{ mock }

// NewControlTool creates the control tool.
func NewControlTool(logger *slog.Logger) *ControlTool { return &ControlTool{newMock(logger)} }

func (*ControlTool) Name() string { return ControlToolName }

func (*ControlTool) Description() string {
	return "Execute a control action on a target. Mock implementation for testing."
}

func (*ControlTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"action": map[string]any{
				"type":        "string",
				"description": "The action to perform (e.g. start, stop, restart)",
			},
			"target": map[string]any{
				"type":        "string",
				"description": "The target to control (e.g. service, device)",
			},
			"options": map[string]any{
				"type":                 "object",
				"additionalProperties": true,
				"description":          "Optional action parameters",
			},
		},
		"required": []string{"action", "target"},
	}
}

func (t *ControlTool) Execute(_ context.Context, callID string, args map[string]any) Result {
	action := stringArg(args, "action")
	if strings.TrimSpace(action) == "" {
		return ErrorResult("action is required")
	}
	target := stringArg(args, "target")
	if strings.TrimSpace(target) == "" {
		return ErrorResult("target is required")
	}
	options, _ := args["options"].(map[string]any)
	if options == nil {
		options = map[string]any{}
	}

	t.logger.Info("mock control", "call_id", callID, "action", action, "target", target, "options", options)

	return JSONResult(map[string]any{
		"success":   true,
		"action":    action,
		"target":    target,
		"status":    "completed",
		"options":   options,
		"timestamp": t.timestamp(),
	})
}

// MoveTool pretends to navigate to a destination.
type MoveTool struct {
	mock
	distance func() int
}

// NewMoveTool creates the move tool. Reported distances are random
// between 1 and 100.
func NewMoveTool(logger *slog.Logger) *MoveTool {
	return &MoveTool{
		mock:     newMock(logger),
		distance: func() int { return rand.IntN(100) + 1 },
	}
}

func (*MoveTool) Name() string { return MoveToolName }

func (*MoveTool) Description() string {
	return "Navigate or move to a destination. Mock implementation for testing."
}

func (*MoveTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"destination": map[string]any{
				"type":        "string",
				"description": "The destination to move to",
			},
			"speed": map[string]any{
				"type":        "string",
				"enum":        moveSpeeds,
				"description": "Movement speed. Default: normal",
			},
			"path": map[string]any{
				"type":        "string",
				"description": "Optional specific path to follow",
			},
		},
		"required": []string{"destination"},
	}
}

func (t *MoveTool) Execute(_ context.Context, callID string, args map[string]any) Result {
	destination := stringArg(args, "destination")
	if strings.TrimSpace(destination) == "" {
		return ErrorResult("destination is required")
	}
	speed := stringArgDefault(args, "speed", "normal")
	if !slices.Contains(moveSpeeds, speed) {
		return ErrorResult("speed must be one of %s", strings.Join(moveSpeeds, ", "))
	}
	path := optionalString(args, "path")

	t.logger.Info("mock move", "call_id", callID, "destination", destination, "speed", speed, "path", path)

	return JSONResult(map[string]any{
		"success":     true,
		"destination": destination,
		"speed":       speed,
		"path":        path,
		"status":      "arrived",
		"distance":    t.distance(),
		"timestamp":   t.timestamp(),
	})
}

// stringArg returns args[key] as a string. Non-string values are
// formatted; a missing key is "".
func stringArg(args map[string]any, key string) string {
	switch v := args[key].(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}

func stringArgDefault(args map[string]any, key, def string) string {
	if s := stringArg(args, key); s != "" {
		return s
	}
	return def
}

// optionalString returns nil for a missing or empty argument so the
// response carries an explicit null.
func optionalString(args map[string]any, key string) any {
	if s := stringArg(args, key); s != "" {
		return s
	}
	return nil
}
