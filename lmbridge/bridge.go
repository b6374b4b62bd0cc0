package lmbridge

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const defaultMaxContinuations = 16

// BridgeOptions configure a Bridge. Zero values pick the defaults.
type BridgeOptions struct {
	// Resolver builds backends; NewBackend when nil.
	Resolver Resolver
	// Backoff bounds retries on transient failures; DefaultBackoff when zero.
	Backoff BackoffStrategy
	// MaxContinuations caps follow-up requests for truncated answers.
	MaxContinuations int
	// CostLog emits one usage line per completion.
	CostLog bool
	Logger  logrus.FieldLogger
	Tracer  trace.Tracer
}

// Bridge turns a connection and a request into a Completion, retrying rate
// limited requests and stitching truncated answers back together.
type Bridge struct {
	resolve          Resolver
	backoff          BackoffStrategy
	maxContinuations int
	costLog          bool
	logger           logrus.FieldLogger
	tracer           trace.Tracer
	sleep            func(context.Context, time.Duration) error

	mu       sync.Mutex
	backends map[Connection]Backend
}

// New builds a Bridge.
func New(opts BridgeOptions) *Bridge {
	b := &Bridge{
		resolve:          opts.Resolver,
		backoff:          opts.Backoff,
		maxContinuations: opts.MaxContinuations,
		costLog:          opts.CostLog,
		logger:           opts.Logger,
		tracer:           opts.Tracer,
		sleep:            sleepContext,
		backends:         make(map[Connection]Backend),
	}
	if b.resolve == nil {
		b.resolve = NewBackend
	}
	if b.backoff.MaxRetries <= 0 {
		b.backoff = DefaultBackoff()
	}
	if b.maxContinuations <= 0 {
		b.maxContinuations = defaultMaxContinuations
	}
	if b.logger == nil {
		b.logger = logrus.StandardLogger()
	}
	if b.tracer == nil {
		b.tracer = otel.Tracer("metaagent/lmbridge")
	}
	return b
}

func (b *Bridge) backend(ctx context.Context, conn Connection) (Backend, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if be, ok := b.backends[conn]; ok {
		return be, nil
	}
	be, err := b.resolve(ctx, conn)
	if err != nil {
		return nil, err
	}
	b.backends[conn] = be
	return be, nil
}

// Complete requests one completion from the backend serving conn.
func (b *Bridge) Complete(ctx context.Context, conn Connection, req Request) (*Completion, error) {
	ctx, span := b.tracer.Start(ctx, "lmbridge.complete", trace.WithAttributes(
		attribute.String("session.id", req.SessionID),
		attribute.String("stage", req.Stage),
		attribute.String("backend.kind", string(conn.Kind)),
		attribute.String("backend.model", conn.ModelName()),
	))
	defer span.End()

	completion, err := b.complete(ctx, conn, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(
		attribute.Int("usage.input_tokens", completion.Usage.InputTokens),
		attribute.Int("usage.output_tokens", completion.Usage.OutputTokens),
	)
	return completion, nil
}

func (b *Bridge) complete(ctx context.Context, conn Connection, req Request) (*Completion, error) {
	be, err := b.backend(ctx, conn)
	if err != nil {
		return nil, err
	}

	completion, err := b.withBackoff(ctx, be, req)
	if err != nil {
		return nil, err
	}

	if last, ok := completion.Last(); ok && completion.Truncated && last.Type == ContentText {
		completion, err = b.continueTruncated(ctx, be, req, completion)
		if err != nil {
			return nil, err
		}
	}

	if b.costLog {
		b.logger.WithFields(logrus.Fields{
			"model_name":        conn.ModelName(),
			"input_tokens":      completion.Usage.InputTokens,
			"output_tokens":     completion.Usage.OutputTokens,
			"created_at":        time.Now().UTC().Format(time.RFC3339),
			"model_response_ms": completion.ResponseTime.Milliseconds(),
			"model_origin":      string(be.Kind()),
			"origin_resource":   conn.BaseURL,
		}).Info("completion cost")
	}
	return completion, nil
}

// withBackoff makes up to MaxRetries attempts, sleeping between attempts
// that failed with a transient error. Any other error is returned as is.
func (b *Bridge) withBackoff(ctx context.Context, be Backend, req Request) (*Completion, error) {
	log := b.logger.WithFields(logrus.Fields{"session": req.SessionID, "stage": req.Stage})

	var lastErr error
	for attempt := 0; attempt < b.backoff.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		completion, err := be.MakeCompletion(ctx, req)
		if err == nil {
			return completion, nil
		}
		if !IsTransient(err) {
			return nil, err
		}
		lastErr = err
		if attempt+1 == b.backoff.MaxRetries {
			break
		}
		wait := b.backoff.Sleep(attempt)
		log.WithFields(logrus.Fields{"retry": attempt, "wait": wait}).WithError(err).Warn("Provider is rate limiting, backing off")
		if err := b.sleep(ctx, wait); err != nil {
			return nil, err
		}
	}
	log.WithField("retries", b.backoff.MaxRetries).Error("Giving up on provider")
	return nil, fmt.Errorf("%w after %d attempts: %w", ErrBackoffExhausted, b.backoff.MaxRetries, lastErr)
}

// continueTruncated re-asks with the accumulated text as a prior assistant
// turn until the provider stops truncating, then returns the final
// completion carrying the whole text and the summed usage.
func (b *Bridge) continueTruncated(ctx context.Context, be Backend, req Request, first *Completion) (*Completion, error) {
	last, _ := first.Last()
	acc := last.Text
	usage := first.Usage
	elapsed := first.ResponseTime

	for i := 0; i < b.maxContinuations; i++ {
		next := req
		next.Messages = append(append(make([]Message, 0, len(req.Messages)+1), req.Messages...), AssistantText(acc))

		completion, err := b.withBackoff(ctx, be, next)
		if err != nil {
			return nil, err
		}
		usage = usage.Add(completion.Usage)
		elapsed += completion.ResponseTime

		tail, ok := completion.Last()
		if ok && tail.Type == ContentText {
			acc += tail.Text
		}
		if !completion.Truncated {
			if ok && tail.Type == ContentText {
				tail.Text = acc
			}
			completion.Usage = usage
			completion.ResponseTime = elapsed
			return completion, nil
		}
	}
	return nil, fmt.Errorf("%w (%d)", ErrContinuationLimit, b.maxContinuations)
}
