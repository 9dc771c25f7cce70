package realtime

import (
	"encoding/json"
	"io"
	"net/url"
	"strings"

	"github.com/google/uuid"

	"github.com/rhino88/yui/internal/httpc"
)

// Tool represents a function the assistant can call during conversation.
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
	Handler     func(args map[string]any) (string, error)
}

// RegisterTool adds a tool the assistant can use.
// Must be called before ConfigureSession.
func (c *Client) RegisterTool(tool Tool) {
	c.tools = append(c.tools, tool)
	c.toolsMap[tool.Name] = tool
}

// handleFunctionCall executes a tool and sends the result back so the
// conversation can continue.
func (c *Client) handleFunctionCall(ev ServerEvent) {
	c.logger.Info("tool called", "tool", ev.Name, "args", ev.Arguments)

	var args map[string]any
	if ev.Arguments != "" {
		if err := json.Unmarshal([]byte(ev.Arguments), &args); err != nil {
			c.logger.Warn("tool arguments unparsable", "tool", ev.Name, "error", err)
		}
	}

	var result string
	if tool, ok := c.toolsMap[ev.Name]; ok && tool.Handler != nil {
		var err error
		result, err = tool.Handler(args)
		if err != nil {
			result = "Error: " + err.Error()
		}
		c.logger.Info("tool result", "tool", ev.Name, "result", result)
	} else {
		result = "Function not found"
		c.logger.Warn("tool not found", "tool", ev.Name)
	}

	if err := c.sendJSON(map[string]any{
		"event_id": uuid.NewString(),
		"type":     "conversation.item.create",
		"item": map[string]any{
			"type":    "function_call_output",
			"call_id": ev.CallID,
			"output":  result,
		},
	}); err != nil {
		c.logger.Warn("tool output send failed", "tool", ev.Name, "error", err)
		return
	}

	if err := c.sendJSON(map[string]any{
		"event_id": uuid.NewString(),
		"type":     "response.create",
	}); err != nil {
		c.logger.Warn("response request failed after tool call", "error", err)
	}
}

// WeatherTool is the demo tool yui registers by default. It looks the
// city up on wttr.in and falls back to a canned reply when the lookup
// fails, so the conversation keeps moving offline.
func WeatherTool() Tool {
	return Tool{
		Name:        "get_weather",
		Description: "Get the weather in a city.",
		Parameters: map[string]any{
			"city": map[string]any{
				"type":        "string",
				"description": "City to look up",
			},
		},
		Handler: func(args map[string]any) (string, error) {
			city, _ := args["city"].(string)
			if city == "" {
				city = "your city"
			}
			return lookupWeather(city), nil
		},
	}
}

func lookupWeather(city string) string {
	canned := "The weather in " + city + " is sunny."

	resp, err := httpc.Client.Get("https://wttr.in/" + url.QueryEscape(city) + "?format=3")
	if err != nil {
		return canned
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		return canned
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 256))
	if err != nil {
		return canned
	}
	report := strings.TrimSpace(string(body))
	if report == "" {
		return canned
	}
	return report
}
