/*
Package session drives meta-agent conversations.

A Session owns one dialog history and loops over steps: read the user's
input when the conversation is at rest, ask the agent stage what to do,
carry the resulting actions out and record everything in the history. The
host is reached only through the Delegate.

Concurrency inside a step is fan-out/fan-in only:
- connector searches of one lookup run side by side; failed ones are dropped
- parameter generation of one run batch must succeed for every item
- connector calls of one run batch settle independently
*/
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"metaagent/history"
	"metaagent/lmbridge"
	"metaagent/prompts"
	"metaagent/stages"
)

// ErrAlreadyLaunched is returned by Launch when the session loop is already
// running or has run.
var ErrAlreadyLaunched = errors.New("session already launched")

// ManagerOptions configures a Manager.
type ManagerOptions struct {
	Bridge          stages.Completer
	Prompts         prompts.Source
	Costs           *lmbridge.CostCalculator
	DefaultTimezone string
	Logger          logrus.FieldLogger
	Tracer          trace.Tracer
}

// Manager creates sessions that share one bridge, prompt set and stage set.
type Manager struct {
	opts     ManagerOptions
	agent    *stages.Agent
	finder   *stages.ConnectorFinder
	paramgen *stages.ParamGenerator
}

// NewManager fills the unset options with defaults. It fails only when the
// embedded prompt templates cannot be parsed.
func NewManager(opts ManagerOptions) (*Manager, error) {
	if opts.Prompts == nil {
		set, err := prompts.Default()
		if err != nil {
			return nil, err
		}
		opts.Prompts = set
	}
	if opts.Costs == nil {
		opts.Costs = lmbridge.NewCostCalculator(nil)
	}
	if opts.DefaultTimezone == "" {
		opts.DefaultTimezone = stages.DefaultTimezone
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	if opts.Tracer == nil {
		opts.Tracer = otel.Tracer("metaagent/session")
	}
	return &Manager{
		opts:     opts,
		agent:    stages.NewAgent(),
		finder:   stages.NewConnectorFinder(),
		paramgen: stages.NewParamGenerator(),
	}, nil
}

// StartOptions describes a new session.
type StartOptions struct {
	Connection   lmbridge.Connection
	SessionID    string
	PlatformInfo stages.PlatformInfo
	UserContext  stages.UserContext
	Dialogs      []history.Dialog
	Delegate     Delegate
}

// Start builds a session from opts without launching it. An empty session
// id is replaced by a random one.
func (m *Manager) Start(opts StartOptions) (*Session, error) {
	if opts.Delegate == nil {
		return nil, errors.New("session delegate is required")
	}
	if m.opts.Bridge == nil {
		return nil, errors.New("completion bridge is required")
	}
	if opts.SessionID == "" {
		opts.SessionID = uuid.NewString()
	}
	h, err := history.New(opts.Dialogs)
	if err != nil {
		return nil, fmt.Errorf("initial dialogs: %w", err)
	}
	uc := opts.UserContext
	if err := uc.NormalizeDatetime(m.opts.DefaultTimezone); err != nil {
		return nil, fmt.Errorf("user context: %w", err)
	}

	logger := m.opts.Logger.WithField("session", opts.SessionID)
	s := &Session{
		id:       opts.SessionID,
		manager:  m,
		delegate: opts.Delegate,
		platform: opts.PlatformInfo,
		logger:   logger,
		emitter: &emitter{
			history:  h,
			delegate: opts.Delegate,
			logger:   logger,
		},
		costs: make(map[string]Cost),
	}
	s.stageCtx = &stages.Context{
		Bridge:      m.opts.Bridge,
		Connection:  opts.Connection,
		SessionID:   opts.SessionID,
		LangCode:    uc.Lang(),
		UserContext: uc,
		Prompts:     m.opts.Prompts,
		Functions:   opts.Delegate,
		OnUsage:     s.recordUsage,
		Logger:      m.opts.Logger,
		Tracer:      m.opts.Tracer,
	}
	return s, nil
}

// Cost is the accumulated usage of one stage, or of the whole session.
type Cost struct {
	Cost         float64 `json:"cost"`
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
}

func (c Cost) add(o Cost) Cost {
	return Cost{
		Cost:         c.Cost + o.Cost,
		InputTokens:  c.InputTokens + o.InputTokens,
		OutputTokens: c.OutputTokens + o.OutputTokens,
	}
}

// CostDetail is the cost of a session since launch.
type CostDetail struct {
	Total  Cost            `json:"total"`
	Stages map[string]Cost `json:"stages"`
}

// Session is one conversation.
type Session struct {
	id       string
	manager  *Manager
	delegate Delegate
	platform stages.PlatformInfo
	stageCtx *stages.Context
	emitter  *emitter
	logger   logrus.FieldLogger

	launched atomic.Bool

	mu        sync.Mutex
	abortStep context.CancelFunc
	costs     map[string]Cost
}

func (s *Session) ID() string {
	return s.id
}

// History returns a snapshot of the transcript.
func (s *Session) History() []history.Dialog {
	return s.emitter.snapshot()
}

// Abort cancels the step in flight. A pending read resolves early; work
// past the read is rolled back. The session keeps running.
func (s *Session) Abort() {
	s.mu.Lock()
	cancel := s.abortStep
	s.mu.Unlock()
	if cancel != nil {
		s.logger.Info("Aborting current step")
		cancel()
	}
}

// ComputeCost sums the usage recorded since launch.
func (s *Session) ComputeCost() CostDetail {
	s.mu.Lock()
	defer s.mu.Unlock()
	detail := CostDetail{Stages: make(map[string]Cost, len(s.costs))}
	for stage, c := range s.costs {
		detail.Stages[stage] = c
		detail.Total = detail.Total.add(c)
	}
	return detail
}

func (s *Session) recordUsage(stage, model string, usage lmbridge.Usage) {
	c := Cost{
		Cost:         s.manager.opts.Costs.Cost(model, usage),
		InputTokens:  usage.InputTokens,
		OutputTokens: usage.OutputTokens,
	}
	s.mu.Lock()
	s.costs[stage] = s.costs[stage].add(c)
	s.mu.Unlock()

	s.delegate.OnStatistics(Statistics{
		SessionID:    s.id,
		Stage:        stage,
		Model:        model,
		InputTokens:  c.InputTokens,
		OutputTokens: c.OutputTokens,
		Cost:         c.Cost,
	})
}

// stepContext derives the cancellable context of one step and registers it
// for Abort.
func (s *Session) stepContext(ctx context.Context) (context.Context, context.CancelFunc) {
	stepCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.abortStep = cancel
	s.mu.Unlock()
	return stepCtx, func() {
		s.mu.Lock()
		s.abortStep = nil
		s.mu.Unlock()
		cancel()
	}
}
