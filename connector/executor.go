package connector

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const maxResponseBytes = 8 << 20

// ErrNoExecutor is returned when no executor is routed for a connector.
var ErrNoExecutor = errors.New("no executor for connector")

// Executor runs one connector call with already-validated arguments.
type Executor interface {
	Execute(ctx context.Context, conn *Connector, args []json.RawMessage) (json.RawMessage, error)
}

type ExecutorFunc func(ctx context.Context, conn *Connector, args []json.RawMessage) (json.RawMessage, error)

func (f ExecutorFunc) Execute(ctx context.Context, conn *Connector, args []json.RawMessage) (json.RawMessage, error) {
	return f(ctx, conn, args)
}

// Router dispatches calls by connector key, falling back to a default
// executor for unrouted keys.
type Router struct {
	mu       sync.RWMutex
	routes   map[string]Executor
	fallback Executor
}

// NewRouter returns a router. fallback may be nil.
func NewRouter(fallback Executor) *Router {
	return &Router{routes: make(map[string]Executor), fallback: fallback}
}

func (r *Router) Handle(key string, e Executor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.routes[key] = e
}

func (r *Router) Execute(ctx context.Context, conn *Connector, args []json.RawMessage) (json.RawMessage, error) {
	r.mu.RLock()
	e, ok := r.routes[conn.Key()]
	r.mu.RUnlock()
	if !ok {
		e = r.fallback
	}
	if e == nil {
		return nil, fmt.Errorf("%w %s", ErrNoExecutor, conn.Key())
	}
	return e.Execute(ctx, conn, args)
}

// StatusError is a non-2xx connector response.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("connector responded %d: %s", e.Code, e.Body)
}

// HTTPExecutor calls connectors as HTTP endpoints under BaseURL. For GET,
// DELETE and HEAD the first object argument becomes the query string;
// other methods send it as the JSON body. Path segments written as {name}
// or :name are filled from the same object.
type HTTPExecutor struct {
	BaseURL string
	Client  *http.Client
	Logger  logrus.FieldLogger
}

func NewHTTPExecutor(baseURL string, timeout time.Duration, logger logrus.FieldLogger) *HTTPExecutor {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &HTTPExecutor{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Client:  &http.Client{Timeout: timeout},
		Logger:  logger,
	}
}

var pathParam = regexp.MustCompile(`\{([^}/]+)\}|:([A-Za-z_][A-Za-z0-9_]*)`)

func (e *HTTPExecutor) Execute(ctx context.Context, conn *Connector, args []json.RawMessage) (json.RawMessage, error) {
	fields, err := objectArgument(args)
	if err != nil {
		return nil, err
	}

	path := pathParam.ReplaceAllStringFunc(conn.Path, func(m string) string {
		name := strings.Trim(m, "{}:")
		v, ok := fields[name]
		if !ok {
			return m
		}
		delete(fields, name)
		return url.PathEscape(scalarString(v))
	})

	method := strings.ToUpper(conn.Method)
	target := e.BaseURL + path
	var body io.Reader
	switch method {
	case http.MethodGet, http.MethodDelete, http.MethodHead:
		if q := encodeQuery(fields); q != "" {
			target += "?" + q
		}
	default:
		payload, err := requestBody(args, fields)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := e.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", conn.Key(), err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", conn.Key(), err)
	}

	e.Logger.WithFields(logrus.Fields{
		"connector": conn.Key(),
		"status":    resp.StatusCode,
		"duration":  time.Since(start),
	}).Debug("Connector call completed")

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}
	return asJSON(raw), nil
}

// objectArgument decodes the first argument when it is a JSON object.
func objectArgument(args []json.RawMessage) (map[string]any, error) {
	fields := map[string]any{}
	if len(args) == 0 || !bytes.HasPrefix(bytes.TrimSpace(args[0]), []byte("{")) {
		return fields, nil
	}
	dec := json.NewDecoder(bytes.NewReader(args[0]))
	dec.UseNumber()
	if err := dec.Decode(&fields); err != nil {
		return nil, fmt.Errorf("decode arguments: %w", err)
	}
	return fields, nil
}

func requestBody(args []json.RawMessage, fields map[string]any) ([]byte, error) {
	switch {
	case len(args) == 0:
		return []byte("{}"), nil
	case len(args) == 1 && bytes.HasPrefix(bytes.TrimSpace(args[0]), []byte("{")):
		return json.Marshal(fields)
	case len(args) == 1:
		return args[0], nil
	default:
		return json.Marshal(args)
	}
}

func encodeQuery(fields map[string]any) string {
	q := url.Values{}
	for k, v := range fields {
		switch v := v.(type) {
		case nil:
		case []any:
			for _, item := range v {
				q.Add(k, scalarString(item))
			}
		default:
			q.Set(k, scalarString(v))
		}
	}
	return q.Encode()
}

func scalarString(v any) string {
	switch v := v.(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	case bool:
		if v {
			return "true"
		}
		return "false"
	default:
		raw, _ := json.Marshal(v)
		return string(raw)
	}
}

// asJSON keeps JSON responses as they are and wraps anything else as a
// JSON string.
func asJSON(raw []byte) json.RawMessage {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return json.RawMessage("null")
	}
	if json.Valid(trimmed) {
		return json.RawMessage(trimmed)
	}
	quoted, _ := json.Marshal(string(raw))
	return quoted
}
