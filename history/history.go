package history

import (
	"errors"
	"fmt"
	"iter"
)

// ErrUnknownToolUse is returned when a tool_result does not answer a
// tool_use recorded earlier in the same history.
var ErrUnknownToolUse = errors.New("tool_result references an unknown tool_use")

// ErrMalformedMessage is returned when a message's payload does not match
// its type.
var ErrMalformedMessage = errors.New("message payload does not match its type")

// Range selects whether Rollback keeps the matching entry.
type Range int

const (
	// Inclusive keeps the matching entry as the new last entry.
	Inclusive Range = iota
	// Exclusive removes the matching entry together with everything after it.
	Exclusive
)

// History is the ordered, append-only log of dialogs of one session. It is
// not safe for concurrent mutation; the session driver is its only writer
// and stages work on clones.
type History struct {
	dialogs []Dialog
}

// New builds a history from an initial transcript, checking that every
// tool_result answers an earlier tool_use.
func New(initial []Dialog) (*History, error) {
	h := &History{dialogs: make([]Dialog, 0, len(initial))}
	for i, d := range initial {
		if err := h.Append(d); err != nil {
			return nil, fmt.Errorf("dialog %d: %w", i, err)
		}
	}
	return h, nil
}

// Append adds d as the most recent entry.
func (h *History) Append(d Dialog) error {
	if err := checkPayload(d.Message); err != nil {
		return err
	}
	if d.Message.Type == MessageToolResult && !h.hasToolUse(d.Message.ToolResult.ToolUseID) {
		return ErrUnknownToolUse
	}
	h.dialogs = append(h.dialogs, d)
	return nil
}

func checkPayload(m Message) error {
	switch m.Type {
	case MessageText, MessageJSON:
		return nil
	case MessageToolUse:
		if m.ToolUse == nil {
			return fmt.Errorf("%w: tool_use without payload", ErrMalformedMessage)
		}
	case MessageToolResult:
		if m.ToolResult == nil {
			return fmt.Errorf("%w: tool_result without payload", ErrMalformedMessage)
		}
	case MessageResult:
		if m.Result == nil || (m.Result.Ok == nil) == (m.Result.Err == nil) {
			return fmt.Errorf("%w: result needs exactly one of ok and err", ErrMalformedMessage)
		}
		inner := m.Result.Ok
		if inner == nil {
			inner = m.Result.Err
		}
		return checkPayload(*inner)
	default:
		return fmt.Errorf("%w: unknown type %q", ErrMalformedMessage, m.Type)
	}
	return nil
}

func (h *History) hasToolUse(id string) bool {
	for i := len(h.dialogs) - 1; i >= 0; i-- {
		m := h.dialogs[i].Message
		if m.Type == MessageToolUse && m.ToolUse != nil && m.ToolUse.ID == id {
			return true
		}
	}
	return false
}

// Clone returns a snapshot that shares no slice storage with h. Dialogs are
// immutable once appended so the entries themselves are shared.
func (h *History) Clone() *History {
	dialogs := make([]Dialog, len(h.dialogs))
	copy(dialogs, h.dialogs)
	return &History{dialogs: dialogs}
}

// IsEmpty reports whether no dialog has been recorded.
func (h *History) IsEmpty() bool {
	return len(h.dialogs) == 0
}

// Len returns the number of dialogs.
func (h *History) Len() int {
	return len(h.dialogs)
}

// Last returns the most recent dialog.
func (h *History) Last() (Dialog, bool) {
	if len(h.dialogs) == 0 {
		return Dialog{}, false
	}
	return h.dialogs[len(h.dialogs)-1], true
}

// All iterates the dialogs in insertion order.
func (h *History) All() iter.Seq2[int, Dialog] {
	return func(yield func(int, Dialog) bool) {
		for i, d := range h.dialogs {
			if !yield(i, d) {
				return
			}
		}
	}
}

// Dialogs returns a copy of the transcript.
func (h *History) Dialogs() []Dialog {
	out := make([]Dialog, len(h.dialogs))
	copy(out, h.dialogs)
	return out
}

// Rollback scans from the most recent entry backwards and truncates the
// history at the first entry satisfying match. With Inclusive the entry is
// kept, with Exclusive it is removed. When nothing matches the history is
// emptied. It returns the number of removed dialogs.
func (h *History) Rollback(r Range, match func(Dialog) bool) int {
	before := len(h.dialogs)
	cut := 0
	for i := len(h.dialogs) - 1; i >= 0; i-- {
		if match(h.dialogs[i]) {
			cut = i
			if r == Inclusive {
				cut++
			}
			break
		}
	}
	clear(h.dialogs[cut:])
	h.dialogs = h.dialogs[:cut]
	return before - cut
}

// RollbackToSafePoint truncates back to, and keeping, the most recent entry
// that is not part of a tool exchange, so a session never resumes in the
// middle of an unfinished tool call.
func (h *History) RollbackToSafePoint() int {
	return h.Rollback(Inclusive, func(d Dialog) bool {
		return !d.Message.IsToolExchange()
	})
}
