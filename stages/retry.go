package stages

import (
	"context"
	"errors"
	"fmt"

	"metaagent/lmbridge"
)

const maxRetries = 5

const retryNotice = "your last response was not valid; read the instructions carefully and try again"

// Error is a stage that could not get a valid answer from the model. The
// session feeds Message into the next agent turn.
type Error struct {
	Stage   string
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

// IsStageError reports whether err is, or wraps, an *Error.
func IsStageError(err error) bool {
	var se *Error
	return errors.As(err, &se)
}

// rejection is an invalid answer: the turns to replay to the model and
// what was wrong with them.
type rejection struct {
	reply  []lmbridge.Message
	prompt string
}

func rejectText(response, prompt string) *rejection {
	return &rejection{reply: []lmbridge.Message{lmbridge.AssistantText(response)}, prompt: prompt}
}

// followUp is the correction appended after the offending reply: the
// defect as a user turn and a system reminder.
func (r *rejection) followUp() []lmbridge.Message {
	msgs := append([]lmbridge.Message{}, r.reply...)
	return append(msgs, lmbridge.UserText(r.prompt), lmbridge.SystemText(retryNotice))
}

// validated asks for a completion until check accepts it, at most
// maxRetries times. build receives the previous rejection, nil on the first
// attempt. Errors from the bridge or check end the loop immediately.
func validated[T any](
	ctx context.Context,
	sc *Context,
	stage string,
	build func(last *rejection) lmbridge.Request,
	check func(ctx context.Context, c *lmbridge.Completion) (T, *rejection, error),
) (T, error) {
	var zero T
	log := sc.logger(stage)

	var last *rejection
	for attempt := 0; attempt < maxRetries; attempt++ {
		if last != nil {
			log.WithField("retry", attempt).WithField("validation", last.prompt).Warn("Retrying invalid response")
		}
		completion, err := sc.complete(ctx, stage, build(last))
		if err != nil {
			return zero, err
		}
		out, rej, err := check(ctx, completion)
		if err != nil {
			return zero, err
		}
		if rej == nil {
			return out, nil
		}
		last = rej
	}
	return zero, &Error{Stage: stage, Message: fmt.Sprintf("LLM returned invalid response: %s", last.prompt)}
}
