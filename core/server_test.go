package core

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus/hooks/test"

	"metaagent/connector"
	"metaagent/history"
	"metaagent/lmbridge"
	"metaagent/stages"
	localtools "metaagent/tools"
)

// greetingBridge answers every completion with the same chat reply.
type greetingBridge struct{}

func (greetingBridge) Complete(ctx context.Context, conn lmbridge.Connection, _ lmbridge.Request) (*lmbridge.Completion, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &lmbridge.Completion{
		Model:    conn.ModelName(),
		Messages: []lmbridge.CompletionMessage{{Type: lmbridge.ContentText, Text: "Hello from the agent."}},
		Usage:    lmbridge.Usage{InputTokens: 5, OutputTokens: 3},
	}, nil
}

// panickingBridge fails the way a broken provider adapter would.
type panickingBridge struct{}

func (panickingBridge) Complete(context.Context, lmbridge.Connection, lmbridge.Request) (*lmbridge.Completion, error) {
	panic("adapter bug")
}

func newTestServer(t *testing.T) (*Server, *echo.Echo) {
	t.Helper()
	return newTestServerWithBridge(t, greetingBridge{})
}

func newTestServerWithBridge(t *testing.T, bridge stages.Completer) (*Server, *echo.Echo) {
	t.Helper()
	logger, _ := test.NewNullLogger()

	catalog, err := connector.NewCatalog()
	if err != nil {
		t.Fatalf("NewCatalog: %v", err)
	}
	router := connector.NewRouter(nil)
	if err := localtools.Register(catalog, router, localtools.Builtins()...); err != nil {
		t.Fatalf("Register: %v", err)
	}

	config := &Config{
		LLMProvider:           lmbridge.KindOpenAI,
		SessionMaxAge:         time.Hour,
		MaxConcurrentSessions: 2,
		LogTruncateLength:     100,
	}
	srv, err := NewServerWithDependencies(config, logger, Dependencies{
		Bridge:   bridge,
		Catalog:  catalog,
		Executor: router,
	})
	if err != nil {
		t.Fatalf("NewServerWithDependencies: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			t.Errorf("Shutdown: %v", err)
		}
	})

	e := echo.New()
	srv.RegisterRoutes(e)
	return srv, e
}

func doJSON(e *echo.Echo, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func getSession(t *testing.T, e *echo.Echo, id string) SessionInfo {
	t.Helper()
	rec := doJSON(e, http.MethodGet, "/sessions/"+id, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /sessions/%s = %d %s", id, rec.Code, rec.Body.String())
	}
	var info SessionInfo
	if err := json.Unmarshal(rec.Body.Bytes(), &info); err != nil {
		t.Fatalf("decode session: %v", err)
	}
	return info
}

func TestCreateSessionAndConverse(t *testing.T) {
	t.Parallel()
	_, e := newTestServer(t)

	rec := doJSON(e, http.MethodPost, "/sessions", `{"sessionId":"abc","message":"hi","userContext":{"lang_code":"en"}}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("POST /sessions = %d %s", rec.Code, rec.Body.String())
	}

	waitFor(t, "the first reply", func() bool { return getSession(t, e, "abc").DialogCount == 2 })

	rec = doJSON(e, http.MethodPost, "/sessions/abc/messages", `{"message":"again"}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("POST messages = %d %s", rec.Code, rec.Body.String())
	}
	waitFor(t, "the second reply", func() bool { return getSession(t, e, "abc").DialogCount == 4 })

	info := getSession(t, e, "abc")
	if info.Status != StatusRunning {
		t.Fatalf("status = %s", info.Status)
	}
	if info.Dialogs[0].Message.Text != "hi" || info.Dialogs[1].Message.Text != "Hello from the agent." {
		t.Fatalf("dialogs = %+v", info.Dialogs)
	}
	if info.Dialogs[1].Speaker.Kind != history.SpeakerAssistant || info.Dialogs[2].Message.Text != "again" {
		t.Fatalf("dialogs = %+v", info.Dialogs)
	}
	if info.Cost.Total.InputTokens != 10 || info.Cost.Total.OutputTokens != 6 {
		t.Fatalf("cost = %+v", info.Cost)
	}
}

func TestCreateSessionRejections(t *testing.T) {
	t.Parallel()
	_, e := newTestServer(t)

	if rec := doJSON(e, http.MethodPost, "/sessions", `{"backend":"mainframe"}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("unknown backend = %d", rec.Code)
	}
	bad := `{"dialogs":[{"speaker":{"type":"assistant"},"message":{"type":"tool_result","tool_result":{"tool_use_id":"ghost","content":null}}}]}`
	if rec := doJSON(e, http.MethodPost, "/sessions", bad); rec.Code != http.StatusBadRequest {
		t.Fatalf("orphan tool_result = %d", rec.Code)
	}
	if rec := doJSON(e, http.MethodPost, "/sessions", `{"sessionId":"one"}`); rec.Code != http.StatusCreated {
		t.Fatalf("first session = %d %s", rec.Code, rec.Body.String())
	}
	if rec := doJSON(e, http.MethodPost, "/sessions", `{"sessionId":"one"}`); rec.Code != http.StatusConflict {
		t.Fatalf("duplicate session = %d", rec.Code)
	}
	if rec := doJSON(e, http.MethodPost, "/sessions", `{"sessionId":"two"}`); rec.Code != http.StatusCreated {
		t.Fatalf("second session = %d", rec.Code)
	}
	if rec := doJSON(e, http.MethodPost, "/sessions", `{"sessionId":"three"}`); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("session over the limit = %d", rec.Code)
	}
}

func TestUnknownSession(t *testing.T) {
	t.Parallel()
	_, e := newTestServer(t)

	for _, tc := range []struct{ method, path, body string }{
		{http.MethodGet, "/sessions/nope", ""},
		{http.MethodDelete, "/sessions/nope", ""},
		{http.MethodPost, "/sessions/nope/messages", `{"message":"hi"}`},
		{http.MethodPost, "/sessions/nope/abort", ""},
	} {
		if rec := doJSON(e, tc.method, tc.path, tc.body); rec.Code != http.StatusNotFound {
			t.Errorf("%s %s = %d", tc.method, tc.path, rec.Code)
		}
	}
}

func TestDeleteAndEndedSession(t *testing.T) {
	t.Parallel()
	srv, e := newTestServer(t)

	doJSON(e, http.MethodPost, "/sessions", `{"sessionId":"gone"}`)
	doJSON(e, http.MethodPost, "/sessions", `{"sessionId":"stopped"}`)

	if rec := doJSON(e, http.MethodPost, "/sessions/stopped/abort", ""); rec.Code != http.StatusOK {
		t.Fatalf("abort = %d", rec.Code)
	}
	if !srv.cancelManager.Cancel("stopped") {
		t.Fatalf("launch of 'stopped' was not tracked")
	}
	waitFor(t, "the session to end", func() bool { return getSession(t, e, "stopped").Status == StatusEnded })
	if rec := doJSON(e, http.MethodPost, "/sessions/stopped/messages", `{"message":"hi"}`); rec.Code != http.StatusConflict {
		t.Fatalf("message to ended session = %d", rec.Code)
	}

	if rec := doJSON(e, http.MethodDelete, "/sessions/gone", ""); rec.Code != http.StatusOK {
		t.Fatalf("delete = %d", rec.Code)
	}
	if rec := doJSON(e, http.MethodGet, "/sessions/gone", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("deleted session still served: %d", rec.Code)
	}
	for _, id := range srv.cancelManager.Active() {
		if id == "gone" {
			t.Fatalf("deleted session still running")
		}
	}
}

func TestCatalogAndStatus(t *testing.T) {
	t.Parallel()
	_, e := newTestServer(t)

	rec := doJSON(e, http.MethodGet, "/connectors", "")
	var body struct {
		Connectors []connector.Summary `json:"connectors"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode connectors: %v", err)
	}
	found := false
	for _, c := range body.Connectors {
		if c.Method == "get" && c.Path == "/datetime" {
			found = true
		}
	}
	if !found {
		t.Fatalf("builtin datetime connector missing: %+v", body.Connectors)
	}

	rec = doJSON(e, http.MethodGet, "/status", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"status":"healthy"`) {
		t.Fatalf("status = %d %s", rec.Code, rec.Body.String())
	}
}

func TestWebSocketMirror(t *testing.T) {
	t.Parallel()
	_, e := newTestServer(t)
	ts := httptest.NewServer(e)
	defer ts.Close()

	doJSON(e, http.MethodPost, "/sessions", `{"sessionId":"live"}`)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/sessions/live/ws"
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer ws.Close()

	if err := ws.WriteJSON(MessageRequest{Message: "hello?"}); err != nil {
		t.Fatalf("write: %v", err)
	}

	_ = ws.SetReadDeadline(time.Now().Add(5 * time.Second))
	var texts []string
	for len(texts) < 2 {
		var frame StreamMessage
		if err := ws.ReadJSON(&frame); err != nil {
			t.Fatalf("read: %v (got %v)", err, texts)
		}
		if frame.Type == "dialog" && frame.Dialog.Message.Type == history.MessageText {
			texts = append(texts, frame.Dialog.Message.Text)
		}
	}
	if texts[0] != "hello?" || texts[1] != "Hello from the agent." {
		t.Fatalf("mirrored texts = %v", texts)
	}
}

func TestSessionStoreExpiresEndedSessions(t *testing.T) {
	t.Parallel()
	srv, e := newTestServer(t)

	doJSON(e, http.MethodPost, "/sessions", `{"sessionId":"old"}`)
	doJSON(e, http.MethodPost, "/sessions", `{"sessionId":"busy"}`)
	srv.cancelManager.Cancel("old")
	waitFor(t, "the session to end", func() bool { return getSession(t, e, "old").Status == StatusEnded })

	if n := srv.store.cleanupExpired(time.Now().Add(2 * time.Hour)); n != 1 {
		t.Fatalf("expired %d sessions, want 1", n)
	}
	if _, ok := srv.store.Get("old"); ok {
		t.Fatalf("ended session survived cleanup")
	}
	if _, ok := srv.store.Get("busy"); !ok {
		t.Fatalf("running session was expired")
	}
}

func TestSessionPanicFailsOnlyThatSession(t *testing.T) {
	t.Parallel()
	_, e := newTestServerWithBridge(t, panickingBridge{})

	if rec := doJSON(e, http.MethodPost, "/sessions", `{"sessionId":"doomed","message":"hi"}`); rec.Code != http.StatusCreated {
		t.Fatalf("POST /sessions = %d %s", rec.Code, rec.Body.String())
	}
	waitFor(t, "the session to fail", func() bool { return getSession(t, e, "doomed").Status == StatusFailed })

	info := getSession(t, e, "doomed")
	if !strings.Contains(info.Error, "adapter bug") {
		t.Fatalf("error = %q", info.Error)
	}
	if rec := doJSON(e, http.MethodGet, "/status", ""); rec.Code != http.StatusOK {
		t.Fatalf("host stopped serving: %d", rec.Code)
	}
}
