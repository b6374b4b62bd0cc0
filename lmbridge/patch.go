package lmbridge

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
)

type bodyPatchKey struct{}

// withBodyPatch attaches top-level JSON fields to be merged into the
// outgoing provider request body.
func withBodyPatch(ctx context.Context, patch map[string]any) context.Context {
	return context.WithValue(ctx, bodyPatchKey{}, patch)
}

// patchingDoer sits under the langchaingo HTTP clients and merges the
// request's body patch, covering request fields such as tool_choice that
// the clients do not expose.
type patchingDoer struct {
	next *http.Client
}

func (d *patchingDoer) Do(req *http.Request) (*http.Response, error) {
	patch, _ := req.Context().Value(bodyPatchKey{}).(map[string]any)
	if len(patch) == 0 || req.Body == nil {
		return d.next.Do(req)
	}

	raw, err := io.ReadAll(req.Body)
	req.Body.Close()
	if err != nil {
		return nil, err
	}
	patched, err := patchJSON(raw, patch)
	if err != nil {
		patched = raw
	}
	req.Body = io.NopCloser(bytes.NewReader(patched))
	req.ContentLength = int64(len(patched))
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(patched)), nil
	}
	return d.next.Do(req)
}

func patchJSON(raw []byte, patch map[string]any) ([]byte, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var body map[string]any
	if err := dec.Decode(&body); err != nil {
		return nil, err
	}
	for k, v := range patch {
		body[k] = v
	}
	return json.Marshal(body)
}
