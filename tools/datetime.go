package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
	_ "time/tzdata"

	"github.com/sirupsen/logrus"
	"github.com/tmc/langchaingo/tools"

	"metaagent/connector"
)

var datetimeLogger = logrus.WithField("tool", "datetime")

type DateTimeTool struct {
	now func() time.Time
}

func NewDateTimeTool() *DateTimeTool {
	datetimeLogger.Debug("Initializing datetime tool")
	return &DateTimeTool{now: time.Now}
}

func (d *DateTimeTool) Description() string {
	return "Returns the current date and time. Pass an IANA timezone such as \"Asia/Seoul\" to get the local time there; UTC is used otherwise."
}

func (d *DateTimeTool) Name() string {
	return "datetime"
}

func (d *DateTimeTool) Connector() *connector.Connector {
	return &connector.Connector{
		Method:      "get",
		Path:        "/datetime",
		Description: d.Description(),
		Parameters: []json.RawMessage{json.RawMessage(`{
			"type": "object",
			"properties": {
				"timezone": {"type": "string", "description": "IANA timezone name, e.g. Europe/London"}
			}
		}`)},
		Output: json.RawMessage(`{
			"type": "object",
			"properties": {
				"datetime": {"type": "string", "format": "date-time"},
				"timezone": {"type": "string"},
				"unix": {"type": "integer"},
				"weekday": {"type": "string"}
			}
		}`),
	}
}

// Call takes a JSON object with an optional timezone and returns the
// current time as JSON.
func (d *DateTimeTool) Call(ctx context.Context, input string) (string, error) {
	toolLogger := datetimeLogger.WithField("input", input)
	toolLogger.Info("DateTime tool called")

	var args struct {
		Timezone string `json:"timezone"`
	}
	if err := decodeInput(input, &args); err != nil {
		return "", err
	}
	if args.Timezone == "" {
		args.Timezone = "UTC"
	}
	loc, err := time.LoadLocation(args.Timezone)
	if err != nil {
		toolLogger.WithError(err).Warn("Unknown timezone")
		return "", fmt.Errorf("unknown timezone %q", args.Timezone)
	}

	now := d.now().In(loc)
	out, err := json.Marshal(map[string]any{
		"datetime": now.Format(time.RFC3339),
		"timezone": loc.String(),
		"unix":     now.Unix(),
		"weekday":  now.Weekday().String(),
	})
	if err != nil {
		return "", err
	}
	return string(out), nil
}

var _ tools.Tool = (*DateTimeTool)(nil)
