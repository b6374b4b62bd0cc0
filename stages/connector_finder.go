package stages

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"metaagent/connector"
	"metaagent/lmbridge"
	"metaagent/prompts"
)

const finderTemperature = 0.2

// ConnectorFinder selects catalog connectors for one search query.
type ConnectorFinder struct{}

func NewConnectorFinder() *ConnectorFinder {
	return &ConnectorFinder{}
}

type finderResponse struct {
	Thoughts   string `json:"thoughts"`
	Connectors []struct {
		Method string `json:"method"`
		Path   string `json:"path"`
	} `json:"connectors"`
}

// Execute returns the connectors the model picked for q, without
// duplicates.
func (f *ConnectorFinder) Execute(ctx context.Context, sc *Context, q Query) (found []*connector.Connector, err error) {
	ctx, span := sc.startSpan(ctx, StageConnectorFinder)
	defer func() { endSpan(span, err) }()

	systemPrompt, err := sc.Prompts.GetPrompt(prompts.ConnectorFinder, nil)
	if err != nil {
		return nil, err
	}
	var summaries []connector.Summary
	if sc.Functions != nil {
		summaries, err = sc.Functions.QueryFunctions(ctx, sc.SessionID)
		if err != nil {
			return nil, fmt.Errorf("query functions: %w", err)
		}
	}
	if summaries == nil {
		summaries = []connector.Summary{}
	}
	list, err := json.Marshal(summaries)
	if err != nil {
		return nil, err
	}
	request, err := json.Marshal(q)
	if err != nil {
		return nil, err
	}

	base := []lmbridge.Message{
		lmbridge.SystemText(systemPrompt),
		lmbridge.SystemText("<connector-list>\n" + string(list) + "</connector-list>"),
		lmbridge.UserText("<request>\n" + string(request) + "\n</request>"),
	}

	build := func(last *rejection) lmbridge.Request {
		msgs := base
		if last != nil {
			msgs = append(slices.Clip(base), last.followUp()...)
		}
		return lmbridge.Request{
			Messages: msgs,
			Options:  lmbridge.Options{Temperature: finderTemperature, JSONMode: true},
		}
	}
	check := func(ctx context.Context, c *lmbridge.Completion) ([]*connector.Connector, *rejection, error) {
		return f.check(ctx, sc, c)
	}
	return validated(ctx, sc, StageConnectorFinder, build, check)
}

func (f *ConnectorFinder) check(ctx context.Context, sc *Context, c *lmbridge.Completion) ([]*connector.Connector, *rejection, error) {
	text, rej := singleText(c)
	if rej != nil {
		return nil, rej, nil
	}
	if strings.Contains(text, "\n") {
		return nil, rejectText(text, "you didn't escape the response correctly; please correctly escape all strings in the response"), nil
	}
	var resp finderResponse
	if err := json.Unmarshal([]byte(text), &resp); err != nil {
		return nil, rejectText(text, fmt.Sprintf("your response is invalid JSON: %v", err)), nil
	}

	seen := make(map[string]bool)
	found := make([]*connector.Connector, 0, len(resp.Connectors))
	for _, ref := range resp.Connectors {
		id := ref.Method + ":" + ref.Path
		invalid := fmt.Sprintf("your response is containing an invalid connector id `%s`; which does not exist in the list of available connectors", id)
		key, ok := connector.NormalizeID(id)
		if !ok {
			return nil, rejectText(text, invalid), nil
		}
		conn, err := sc.findFunction(ctx, key)
		if err != nil {
			return nil, nil, err
		}
		if conn == nil {
			return nil, rejectText(text, invalid), nil
		}
		if !seen[conn.Key()] {
			seen[conn.Key()] = true
			found = append(found, conn)
		}
	}
	sc.logger(StageConnectorFinder).WithField("connectors", len(found)).Debug("Connectors selected")
	return found, nil, nil
}

// singleText extracts the first message of a JSON-mode answer, which must
// be text.
func singleText(c *lmbridge.Completion) (string, *rejection) {
	if len(c.Messages) == 0 {
		return "", rejectText("<empty response>", "you did not provide a valid response")
	}
	first := c.Messages[0]
	if first.Type != lmbridge.ContentText {
		return "", rejectText("<non-text response>", "expected text message; got something else")
	}
	return strings.TrimSpace(first.Text), nil
}
