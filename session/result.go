package session

import (
	"bytes"
	"encoding/json"
	"unicode/utf8"

	"github.com/google/uuid"

	"metaagent/stages"
)

// maxResultBytes is how much of a serialized connector result is kept.
const maxResultBytes = 64 << 10

// FunctionCallResult is the record of one run_functions batch.
type FunctionCallResult struct {
	ID    string             `json:"id"`
	Items []FunctionCallItem `json:"items"`
}

// FunctionCallItem is one settled connector call. Exactly one of Result and
// Error is set.
type FunctionCallItem struct {
	Purpose    string            `json:"purpose"`
	FunctionID string            `json:"function_id"`
	Arguments  []json.RawMessage `json:"arguments"`
	IsSuccess  bool              `json:"is_success"`
	Result     *string           `json:"result,omitempty"`
	Error      *string           `json:"error,omitempty"`
}

type settled struct {
	value json.RawMessage
	err   error
}

func buildFunctionCallResult(items []stages.RunItem, params []stages.ParamOutput, outcomes []settled) FunctionCallResult {
	out := FunctionCallResult{ID: uuid.NewString(), Items: make([]FunctionCallItem, len(items))}
	for i, item := range items {
		entry := FunctionCallItem{
			Purpose:    item.Purpose,
			FunctionID: item.Function.Key(),
			Arguments:  params[i].Arguments,
		}
		if outcomes[i].err != nil {
			msg := outcomes[i].err.Error()
			entry.Error = &msg
		} else {
			s := keepTail(serialize(outcomes[i].value), maxResultBytes)
			entry.IsSuccess = true
			entry.Result = &s
		}
		out.Items[i] = entry
	}
	return out
}

func serialize(v json.RawMessage) string {
	if len(v) == 0 {
		return "null"
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, v); err != nil {
		return string(v)
	}
	return buf.String()
}

// keepTail returns the last max bytes of s, starting on a rune boundary.
func keepTail(s string, max int) string {
	if len(s) <= max {
		return s
	}
	i := len(s) - max
	for i < len(s) && !utf8.RuneStart(s[i]) {
		i++
	}
	return s[i:]
}
