package stages

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/sirupsen/logrus/hooks/test"

	"metaagent/connector"
	"metaagent/history"
	"metaagent/lmbridge"
	"metaagent/prompts"
)

type scriptedBridge struct {
	mu       sync.Mutex
	replies  []*lmbridge.Completion
	requests []lmbridge.Request
}

func (s *scriptedBridge) Complete(_ context.Context, _ lmbridge.Connection, req lmbridge.Request) (*lmbridge.Completion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	if len(s.replies) == 0 {
		return nil, errors.New("script exhausted")
	}
	reply := s.replies[0]
	if len(s.replies) > 1 {
		s.replies = s.replies[1:]
	}
	return reply, nil
}

func textReply(s string) *lmbridge.Completion {
	return &lmbridge.Completion{
		Messages: []lmbridge.CompletionMessage{{Type: lmbridge.ContentText, Text: s}},
		Usage:    lmbridge.Usage{InputTokens: 10, OutputTokens: 2},
	}
}

func toolReply(name, args string) *lmbridge.Completion {
	return &lmbridge.Completion{Messages: []lmbridge.CompletionMessage{{
		Type:    lmbridge.ContentToolUse,
		ToolUse: &lmbridge.ToolUse{ID: "call_1", Name: name, Arguments: json.RawMessage(args)},
	}}}
}

type catalogSource struct {
	catalog *connector.Catalog
}

func (s catalogSource) FindFunction(_ context.Context, _ string, id string) (*connector.Connector, error) {
	c, ok := s.catalog.Find(id)
	if !ok {
		return nil, nil
	}
	return c, nil
}

func (s catalogSource) QueryFunctions(context.Context, string) ([]connector.Summary, error) {
	return s.catalog.Summaries(), nil
}

var weather = &connector.Connector{
	Method:      "get",
	Path:        "/weather",
	Description: "Current weather of a city",
	Parameters: []json.RawMessage{json.RawMessage(
		`{"type":"object","properties":{"city":{"type":"string"}},"required":["city"]}`,
	)},
}

func newTestContext(t *testing.T, bridge Completer) *Context {
	t.Helper()
	set, err := prompts.Default()
	if err != nil {
		t.Fatalf("prompts: %v", err)
	}
	catalog, err := connector.NewCatalog(weather, &connector.Connector{Method: "post", Path: "/mail", Parameters: []json.RawMessage{}})
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	logger, _ := test.NewNullLogger()
	return &Context{
		Bridge:     bridge,
		Connection: lmbridge.Connection{Kind: lmbridge.KindOpenAI},
		SessionID:  "s1",
		LangCode:   "ko",
		Prompts:    set,
		Functions:  catalogSource{catalog},
		Logger:     logger,
	}
}

// correction returns the user turn that explains the previous defect.
func correction(t *testing.T, req lmbridge.Request) string {
	t.Helper()
	msgs := req.Messages
	if len(msgs) < 2 || msgs[len(msgs)-1].Content.Text != retryNotice {
		t.Fatalf("request does not end with the retry notice: %+v", msgs)
	}
	return msgs[len(msgs)-2].Content.Text
}

func TestAgentChat(t *testing.T) {
	t.Parallel()

	bridge := &scriptedBridge{replies: []*lmbridge.Completion{textReply("Hi there")}}
	sc := newTestContext(t, bridge)
	var stats []string
	sc.OnUsage = func(stage, model string, usage lmbridge.Usage) {
		stats = append(stats, stage+"/"+model)
	}

	actions, err := NewAgent().Execute(context.Background(), sc, AgentInput{
		PlatformInfo: PlatformInfo{Prompt: "be kind"},
		UserQuery:    "hello",
		History:      []history.Dialog{history.UserText("earlier"), history.AssistantText("agent", "reply")},
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	chat, ok := actions[0].(*ChatAction)
	if len(actions) != 1 || !ok || chat.Message != "Hi there" {
		t.Fatalf("actions = %+v", actions)
	}

	req := bridge.requests[0]
	if req.Stage != StageAgent || req.SessionID != "s1" || len(req.Options.Tools) != 2 || req.Options.Temperature != agentTemperature {
		t.Fatalf("request = %+v", req)
	}
	msgs := req.Messages
	if len(msgs) != 7 || !strings.Contains(msgs[1].Content.Text, "be kind") || !strings.Contains(msgs[3].Content.Text, "<lang_code>\nko\n</lang_code>") {
		t.Fatalf("messages = %+v", msgs)
	}
	if last := msgs[len(msgs)-1]; last.Role != lmbridge.RoleUser || last.Content.Text != "hello" {
		t.Fatalf("user query not last: %+v", last)
	}
	if len(stats) != 1 || stats[0] != "agent/gpt-4o-2024-11-20" {
		t.Fatalf("usage = %v", stats)
	}
}

func TestAgentRunFunctionsRetriesUnknownFunction(t *testing.T) {
	t.Parallel()

	bridge := &scriptedBridge{replies: []*lmbridge.Completion{
		toolReply(ToolRunFunctions, `{"thoughts":"t","items":[{"function_id":"get:/forecast","purpose":"p"}]}`),
		toolReply(ToolRunFunctions, `{"thoughts":"t","items":[{"function_id":"get/weather","purpose":"weather in Seoul"}]}`),
	}}
	sc := newTestContext(t, bridge)

	actions, err := NewAgent().Execute(context.Background(), sc, AgentInput{UserQuery: "What's the weather?"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	run, ok := actions[0].(*RunFunctionsAction)
	if !ok || len(run.Items) != 1 || run.Items[0].Function != weather || run.Items[0].Purpose != "weather in Seoul" {
		t.Fatalf("actions = %+v", actions)
	}
	if run.Call.ID != "call_1" || run.Thoughts != "t" {
		t.Fatalf("call = %+v", run.Call)
	}

	retry := bridge.requests[1]
	if !strings.Contains(correction(t, retry), "invalid function id `get:/forecast`") {
		t.Fatalf("correction = %q", correction(t, retry))
	}
	n := len(retry.Messages)
	use, result := retry.Messages[n-4], retry.Messages[n-3]
	if use.Content.Type != lmbridge.ContentToolUse || result.Content.ToolResult == nil || !result.Content.ToolResult.IsError || result.Content.ToolResult.ToolUseID != "call_1" {
		t.Fatalf("rejected call not replayed as a failed exchange: %+v %+v", use, result)
	}
}

func TestAgentLookupArgumentsAreSchemaChecked(t *testing.T) {
	t.Parallel()

	bridge := &scriptedBridge{replies: []*lmbridge.Completion{
		toolReply(ToolLookupFunctions, `{"thoughts":"t","queries":[]}`),
		toolReply(ToolLookupFunctions, `{"thoughts":"t","queries":[{"query":"weather","specifications":"celsius"}]}`),
	}}
	sc := newTestContext(t, bridge)

	actions, err := NewAgent().Execute(context.Background(), sc, AgentInput{UserQuery: "weather?"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	lookup, ok := actions[0].(*LookupFunctionsAction)
	if !ok || len(lookup.Queries) != 1 || lookup.Queries[0].Specifications != "celsius" {
		t.Fatalf("actions = %+v", actions)
	}
	if got := correction(t, bridge.requests[1]); !strings.HasPrefix(got, "your arguments for `lookup_functions` are invalid:\n\n- /queries") {
		t.Fatalf("correction = %q", got)
	}
}

func TestAgentExhaustsRetries(t *testing.T) {
	t.Parallel()

	bridge := &scriptedBridge{replies: []*lmbridge.Completion{{}}}
	sc := newTestContext(t, bridge)

	_, err := NewAgent().Execute(context.Background(), sc, AgentInput{UserQuery: "hi"})
	var se *Error
	if !errors.As(err, &se) || se.Stage != StageAgent {
		t.Fatalf("err = %v, want a stage error", err)
	}
	if se.Message != "LLM returned invalid response: you did not provide a valid response" {
		t.Fatalf("message = %q", se.Message)
	}
	if len(bridge.requests) != maxRetries {
		t.Fatalf("attempts = %d, want %d", len(bridge.requests), maxRetries)
	}
	if correction(t, bridge.requests[1]) != "you did not provide a valid response" {
		t.Fatalf("correction = %q", correction(t, bridge.requests[1]))
	}
}

func TestAgentPassesLastFailure(t *testing.T) {
	t.Parallel()

	bridge := &scriptedBridge{replies: []*lmbridge.Completion{textReply("ok")}}
	sc := newTestContext(t, bridge)
	if _, err := NewAgent().Execute(context.Background(), sc, AgentInput{LastFailure: "LLM returned invalid response: boom"}); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	msgs := bridge.requests[0].Messages
	last := msgs[len(msgs)-1]
	if last.Role != lmbridge.RoleSystem || !strings.Contains(last.Content.Text, "boom") {
		t.Fatalf("last message = %+v", last)
	}
}

func TestConnectorFinder(t *testing.T) {
	t.Parallel()

	bridge := &scriptedBridge{replies: []*lmbridge.Completion{
		textReply("{\"thoughts\": \"line\nbreak\", \"connectors\": []}"),
		textReply(`{"thoughts":"x","connectors":[{"method":"get","path":"/nope"}]}`),
		textReply(`{"thoughts":"x","connectors":[{"method":"GET","path":"/weather"},{"method":"get","path":"/weather"}]}`),
	}}
	sc := newTestContext(t, bridge)

	found, err := NewConnectorFinder().Execute(context.Background(), sc, Query{Query: "weather"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(found) != 1 || found[0] != weather {
		t.Fatalf("found = %+v", found)
	}

	first := bridge.requests[0]
	if !first.Options.JSONMode || len(first.Messages) != 3 {
		t.Fatalf("first request = %+v", first)
	}
	if !strings.HasPrefix(first.Messages[1].Content.Text, "<connector-list>\n[{\"method\":\"get\",\"path\":\"/weather\"") {
		t.Fatalf("connector list = %q", first.Messages[1].Content.Text)
	}
	if first.Messages[2].Content.Text != "<request>\n{\"query\":\"weather\"}\n</request>" {
		t.Fatalf("request prompt = %q", first.Messages[2].Content.Text)
	}
	if got := correction(t, bridge.requests[1]); !strings.HasPrefix(got, "you didn't escape the response correctly") {
		t.Fatalf("first correction = %q", got)
	}
	if got := correction(t, bridge.requests[2]); !strings.Contains(got, "invalid connector id `get:/nope`") {
		t.Fatalf("second correction = %q", got)
	}
}

func TestConnectorFinderRejectsNonText(t *testing.T) {
	t.Parallel()

	bridge := &scriptedBridge{replies: []*lmbridge.Completion{
		toolReply("x", `{}`),
		textReply(`{"thoughts":"none","connectors":[]}`),
	}}
	sc := newTestContext(t, bridge)
	found, err := NewConnectorFinder().Execute(context.Background(), sc, Query{Query: "q"})
	if err != nil || len(found) != 0 {
		t.Fatalf("found = %v, err = %v", found, err)
	}
	retry := bridge.requests[1].Messages
	if retry[len(retry)-3].Content.Text != "<non-text response>" || correction(t, bridge.requests[1]) != "expected text message; got something else" {
		t.Fatalf("retry = %+v", retry)
	}
}

func TestParamGenerator(t *testing.T) {
	t.Parallel()

	bridge := &scriptedBridge{replies: []*lmbridge.Completion{
		textReply(`{"thought":"t","arguments":[]}`),
		textReply(`{"thought":"t","arguments":[{"city":5}]}`),
		textReply(`{"thought":"Seoul it is","arguments":[{"city":"Seoul"}]}`),
	}}
	sc := newTestContext(t, bridge)

	out, err := NewParamGenerator().Execute(context.Background(), sc, ParamInput{
		Connector: weather,
		Purpose:   "weather in Seoul",
		History:   []history.Dialog{history.UserText("What's the weather in Seoul?")},
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if out.Thought != "Seoul it is" || len(out.Arguments) != 1 || string(out.Arguments[0]) != `{"city":"Seoul"}` {
		t.Fatalf("out = %+v", out)
	}

	first := bridge.requests[0]
	if first.Options.FrequencyPenalty != paramFrequencyPenalty || !first.Options.JSONMode {
		t.Fatalf("options = %+v", first.Options)
	}
	prompt := first.Messages[0].Content.Text
	if first.Messages[0].Role != lmbridge.RoleUser || !strings.Contains(prompt, `"path": "/weather"`) || !strings.Contains(prompt, "User: What's the weather in Seoul?") {
		t.Fatalf("prompt = %q", prompt)
	}
	if got := correction(t, bridge.requests[1]); got != "your response contains 0 arguments, but the connector expects 1" {
		t.Fatalf("first correction = %q", got)
	}
	if got := correction(t, bridge.requests[2]); !strings.HasPrefix(got, "your response is invalid:\n\n- ") || !strings.Contains(got, "/city") {
		t.Fatalf("second correction = %q", got)
	}
}

func TestParseParamOutput(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in      string
		wantErr string
	}{
		{`[1]`, "expected an object"},
		{`{"arguments":[]}`, "expected 'thought' key in object"},
		{`{"thought":"x"}`, "expected 'arguments' key in object"},
		{`{"thought":1,"arguments":[]}`, "expected 'thought' to be a string"},
		{`{"thought":"x","arguments":{}}`, "expected 'arguments' to be an array"},
		{`{"thought":"x","arguments":[1,"a"]}`, ""},
	}
	for _, tc := range cases {
		_, err := parseParamOutput(tc.in)
		switch {
		case tc.wantErr == "" && err != nil:
			t.Errorf("%s: unexpected error %v", tc.in, err)
		case tc.wantErr != "" && (err == nil || err.Error() != tc.wantErr):
			t.Errorf("%s: err = %v, want %q", tc.in, err, tc.wantErr)
		}
	}
	if _, err := parseParamOutput(`{`); err == nil {
		t.Errorf("expected a syntax error")
	}
}
