package connector

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
)

func TestNormalizeID(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want string
		ok   bool
	}{
		{"get:/weather", "get:/weather", true},
		{"GET:/weather", "get:/weather", true},
		{"get/weather", "get:/weather", true},
		{" post/users/:id/mail ", "post:/users/:id/mail", true},
		{"get:weather", "get:/weather", true},
		{"fetch:/weather", "", false},
		{"/weather", "", false},
		{"get:", "", false},
		{"", "", false},
	}
	for _, tc := range cases {
		got, ok := NormalizeID(tc.in)
		if got != tc.want || ok != tc.ok {
			t.Errorf("NormalizeID(%q) = %q, %v; want %q, %v", tc.in, got, ok, tc.want, tc.ok)
		}
	}
}

func TestCatalogFindAndSummaries(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	file := filepath.Join(dir, "connectors.json")
	data := `[
		{"method":"get","path":"/weather","description":"Current weather","parameters":[{"type":"object"}]},
		{"method":"POST","path":"/mail","parameters":[],"prerequisites":[{"method":"get","path":"/contacts","jmesPath":"[].email"}]}
	]`
	if err := os.WriteFile(file, []byte(data), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	cat, err := LoadCatalog(file)
	if err != nil {
		t.Fatalf("LoadCatalog: %v", err)
	}
	if cat.Len() != 2 {
		t.Fatalf("len = %d", cat.Len())
	}
	if c, ok := cat.Find("get/weather"); !ok || c.Description != "Current weather" {
		t.Fatalf("Find(get/weather) = %v, %v", c, ok)
	}
	if _, ok := cat.Find("post:/mail"); !ok {
		t.Fatalf("method case should not matter")
	}
	if _, ok := cat.Find("get:/nope"); ok {
		t.Fatalf("unexpected match")
	}

	sums := cat.Summaries()
	if sums[0].Path != "/weather" || sums[1].Method != "post" || sums[1].Prerequisites[0].JMESPath != "[].email" {
		t.Fatalf("summaries = %+v", sums)
	}
}

func TestCatalogRejectsInvalidConnector(t *testing.T) {
	t.Parallel()

	if _, err := NewCatalog(&Connector{Method: "get", Path: "weather"}); err == nil {
		t.Fatalf("expected an error for a relative path")
	}
	if _, err := NewCatalog(&Connector{Method: "fetch", Path: "/x"}); err == nil {
		t.Fatalf("expected an error for an unknown method")
	}
}

func TestHTTPExecutorGetUsesQueryAndPathParams(t *testing.T) {
	t.Parallel()

	var gotPath, gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath, gotQuery = r.URL.Path, r.URL.RawQuery
		_, _ = io.WriteString(w, `{"temp":5}`)
	}))
	defer srv.Close()

	logger, _ := test.NewNullLogger()
	e := NewHTTPExecutor(srv.URL+"/", time.Second, logger)
	conn := &Connector{Method: "get", Path: "/cities/{city}/weather"}
	out, err := e.Execute(context.Background(), conn, []json.RawMessage{json.RawMessage(`{"city":"Seoul","days":3}`)})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if string(out) != `{"temp":5}` {
		t.Fatalf("out = %s", out)
	}
	if gotPath != "/cities/Seoul/weather" || gotQuery != "days=3" {
		t.Fatalf("path = %s query = %s", gotPath, gotQuery)
	}
}

func TestHTTPExecutorPostSendsBody(t *testing.T) {
	t.Parallel()

	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&body)
		_, _ = io.WriteString(w, "queued")
	}))
	defer srv.Close()

	logger, _ := test.NewNullLogger()
	e := NewHTTPExecutor(srv.URL, time.Second, logger)
	out, err := e.Execute(context.Background(), &Connector{Method: "post", Path: "/mail"},
		[]json.RawMessage{json.RawMessage(`{"to":"a@b.c","subject":"hi"}`)})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if string(out) != `"queued"` {
		t.Fatalf("non-JSON body should be wrapped as a string, got %s", out)
	}
	if body["to"] != "a@b.c" || body["subject"] != "hi" {
		t.Fatalf("body = %v", body)
	}
}

func TestHTTPExecutorStatusError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusNotFound)
	}))
	defer srv.Close()

	logger, _ := test.NewNullLogger()
	e := NewHTTPExecutor(srv.URL, time.Second, logger)
	_, err := e.Execute(context.Background(), &Connector{Method: "get", Path: "/x"}, nil)
	var se *StatusError
	if !errors.As(err, &se) || se.Code != http.StatusNotFound || se.Body != "nope" {
		t.Fatalf("err = %v", err)
	}
}

func TestRouterFallsBack(t *testing.T) {
	t.Parallel()

	builtin := ExecutorFunc(func(context.Context, *Connector, []json.RawMessage) (json.RawMessage, error) {
		return json.RawMessage(`"builtin"`), nil
	})
	r := NewRouter(nil)
	r.Handle("get:/datetime", builtin)

	out, err := r.Execute(context.Background(), &Connector{Method: "GET", Path: "/datetime"}, nil)
	if err != nil || string(out) != `"builtin"` {
		t.Fatalf("routed = %s, %v", out, err)
	}
	if _, err := r.Execute(context.Background(), &Connector{Method: "get", Path: "/other"}, nil); !errors.Is(err, ErrNoExecutor) {
		t.Fatalf("err = %v, want ErrNoExecutor", err)
	}
}
