// Package engine implements the orchestration turn loop.
//
// The engine owns the single source of truth for a running session: the event
// log and the active-agent pointer. Each turn it invokes the active Agent
// Unit, passes the raw decision to the handoff router, applies the verdict
// (dispatch a tool call, switch the active agent, or terminate), and durably
// appends the resulting events before the next turn starts, so a crash
// mid-run can resume from the last committed event.
//
// Exactly one turn is active per session at any time. Independent sessions
// run concurrently with fully isolated state. Cancellation is cooperative and
// honored between turns: an in-flight decide or tool invocation completes (or
// hits its own timeout) first.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/decepticon-ai/decepticon/agent"
	"github.com/decepticon-ai/decepticon/config"
	"github.com/decepticon-ai/decepticon/gateway"
	"github.com/decepticon-ai/decepticon/handoff"
	"github.com/decepticon-ai/decepticon/session"
)

// ToolInvoker dispatches tool calls. *gateway.Gateway implements it.
type ToolInvoker interface {
	Invoke(ctx context.Context, call gateway.ToolCall) gateway.ToolResult
}

// Sentinel errors.
var (
	// ErrUnknownSession indicates the session id is not currently running.
	ErrUnknownSession = errors.New("unknown session")

	// ErrSessionExists indicates a session with the same id is already running.
	ErrSessionExists = errors.New("session already running")
)

// SessionResult is the terminal outcome of a session run.
type SessionResult struct {
	SessionID  string
	Status     session.Status
	Result     string
	FailReason string
	Events     int64
}

// Params holds the engine's collaborators.
type Params struct {
	// Store is the durable append-only event log.
	Store session.Store

	// Router validates and applies handoff decisions.
	Router *handoff.Router

	// Gateway dispatches tool calls.
	Gateway ToolInvoker

	// Units is the set of participating agents, keyed by roster name.
	Units []agent.Unit

	// InitialAgent takes the first turn of every session.
	InitialAgent string

	// Limits bounds session execution.
	Limits config.Limits
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithTracer sets the OpenTelemetry tracer for session and turn spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(e *Engine) { e.tracer = tracer }
}

// WithMeter sets the OpenTelemetry meter for engine counters.
func WithMeter(meter metric.Meter) Option {
	return func(e *Engine) { e.meter = meter }
}

// WithObserver registers a callback invoked after every durably appended
// event. The façade uses it to feed live event streams. The callback runs on
// the session's turn-loop goroutine and must not block.
func WithObserver(fn func(sessionID string, ev session.Event)) Option {
	return func(e *Engine) { e.observer = fn }
}

// Engine runs sessions. It is safe for concurrent use; each session's state
// is confined to its own run.
type Engine struct {
	store   session.Store
	router  *handoff.Router
	gateway ToolInvoker
	units   map[string]agent.Unit
	initial string
	limits  config.Limits

	logger   *slog.Logger
	tracer   trace.Tracer
	meter    metric.Meter
	observer func(string, session.Event)

	turnsCtr    metric.Int64Counter
	toolCtr     metric.Int64Counter
	handoffCtr  metric.Int64Counter
	sessionsCtr metric.Int64Counter

	mu        sync.Mutex
	cancelled map[string]bool
	running   map[string]bool
}

// New creates an engine and validates its collaborators.
func New(p Params, opts ...Option) (*Engine, error) {
	if p.Store == nil {
		return nil, errors.New("engine: store is required")
	}
	if p.Router == nil {
		return nil, errors.New("engine: router is required")
	}
	if p.Gateway == nil {
		return nil, errors.New("engine: gateway is required")
	}
	if len(p.Units) == 0 {
		return nil, errors.New("engine: at least one agent unit is required")
	}

	e := &Engine{
		store:     p.Store,
		router:    p.Router,
		gateway:   p.Gateway,
		units:     make(map[string]agent.Unit, len(p.Units)),
		initial:   p.InitialAgent,
		limits:    p.Limits,
		logger:    slog.Default(),
		tracer:    otel.Tracer("decepticon/engine"),
		meter:     otel.Meter("decepticon/engine"),
		cancelled: make(map[string]bool),
		running:   make(map[string]bool),
	}
	for _, u := range p.Units {
		if _, dup := e.units[u.Name()]; dup {
			return nil, fmt.Errorf("engine: duplicate agent unit %q", u.Name())
		}
		e.units[u.Name()] = u
	}
	if e.initial == "" {
		e.initial = string(agent.RolePlanner)
	}
	if _, ok := e.units[e.initial]; !ok {
		return nil, fmt.Errorf("engine: initial agent %q has no unit", e.initial)
	}

	for _, opt := range opts {
		opt(e)
	}

	var err error
	if e.turnsCtr, err = e.meter.Int64Counter("decepticon.turns"); err != nil {
		return nil, fmt.Errorf("engine: create turn counter: %w", err)
	}
	if e.toolCtr, err = e.meter.Int64Counter("decepticon.tool_calls"); err != nil {
		return nil, fmt.Errorf("engine: create tool counter: %w", err)
	}
	if e.handoffCtr, err = e.meter.Int64Counter("decepticon.handoffs"); err != nil {
		return nil, fmt.Errorf("engine: create handoff counter: %w", err)
	}
	if e.sessionsCtr, err = e.meter.Int64Counter("decepticon.sessions"); err != nil {
		return nil, fmt.Errorf("engine: create session counter: %w", err)
	}
	return e, nil
}

// InitialAgent returns the agent that takes the first turn of every session.
func (e *Engine) InitialAgent() string {
	return e.initial
}

// Cancel requests cooperative cancellation of a running session. The request
// is honored between turns; the in-flight call, if any, completes first.
func (e *Engine) Cancel(sessionID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running[sessionID] {
		return fmt.Errorf("%w: %s", ErrUnknownSession, sessionID)
	}
	e.cancelled[sessionID] = true
	return nil
}

func (e *Engine) cancelRequested(sessionID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cancelled[sessionID]
}

// RunSession runs a new session for the task under a generated id.
func (e *Engine) RunSession(ctx context.Context, task string) (*SessionResult, error) {
	return e.Run(ctx, uuid.NewString(), task)
}

// Run executes the turn loop for one session until a terminal condition. It
// returns the terminal result, or an error when the durable log could not be
// written, the one failure the engine cannot record in the log itself.
func (e *Engine) Run(ctx context.Context, sessionID, task string) (*SessionResult, error) {
	e.mu.Lock()
	if e.running[sessionID] {
		e.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrSessionExists, sessionID)
	}
	e.running[sessionID] = true
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		delete(e.running, sessionID)
		delete(e.cancelled, sessionID)
		e.mu.Unlock()
	}()

	ctx, span := e.tracer.Start(ctx, "engine.RunSession",
		trace.WithAttributes(attribute.String("session.id", sessionID)))
	defer span.End()
	e.sessionsCtr.Add(ctx, 1)

	r := &run{
		id:       sessionID,
		task:     task,
		active:   e.initial,
		states:   make(map[string]*agent.State, len(e.units)),
		turns:    make(map[string]int, len(e.units)),
		toolFail: make(map[string]int, len(e.units)),
	}
	for name := range e.units {
		r.states[name] = agent.NewState(name)
	}

	e.logger.Info("session started", "session", sessionID, "task", task, "agent", r.active)

	result, err := e.loop(ctx, r)
	if err != nil {
		e.logger.Error("session aborted", "session", sessionID, "error", err)
		return nil, err
	}
	span.SetAttributes(attribute.String("session.status", string(result.Status)))
	e.logger.Info("session finished",
		"session", sessionID, "status", result.Status, "events", result.Events)
	return result, nil
}

// run is the per-session mutable state, confined to one goroutine.
type run struct {
	id       string
	task     string
	seq      int64
	active   string
	states   map[string]*agent.State
	turns    map[string]int
	bounces  int
	toolFail map[string]int
}

// append assigns the next sequence number, durably persists the event, and
// folds it into every agent's visible history.
func (e *Engine) append(ctx context.Context, r *run, ev session.Event) error {
	r.seq++
	ev.Seq = r.seq
	ev.Timestamp = time.Now().UTC()

	if err := e.store.Append(ctx, r.id, ev); err != nil {
		return fmt.Errorf("persist event seq %d: %w", ev.Seq, err)
	}
	for _, st := range r.states {
		st.Observe(ev)
	}
	if e.observer != nil {
		e.observer(r.id, ev)
	}
	return nil
}

func (e *Engine) terminate(ctx context.Context, r *run, status session.Status, content string) (*SessionResult, error) {
	// The terminal event must still be persisted when the caller's context is
	// already cancelled, so the log ends with a session_terminated record.
	ctx = context.WithoutCancel(ctx)
	ev := session.Event{
		Agent:   r.active,
		Type:    session.EventTerminated,
		Status:  status,
		Content: content,
	}
	if err := e.append(ctx, r, ev); err != nil {
		return nil, err
	}
	res := &SessionResult{
		SessionID: r.id,
		Status:    status,
		Events:    r.seq,
	}
	if status == session.StatusCompleted {
		res.Result = content
	} else {
		res.FailReason = content
	}
	return res, nil
}

func (e *Engine) loop(ctx context.Context, r *run) (*SessionResult, error) {
	for turn := 1; ; turn++ {
		// Cancellation is cooperative and checked between turns only.
		if e.cancelRequested(r.id) || ctx.Err() != nil {
			return e.terminate(ctx, r, session.StatusCancelled, "cancelled")
		}
		if turn > e.limits.MaxTurns {
			return e.terminate(ctx, r, session.StatusFailed, "turn limit")
		}

		unit := e.units[r.active]
		r.turns[r.active]++
		e.turnsCtr.Add(ctx, 1, metric.WithAttributes(attribute.String("agent", r.active)))

		decision, err := e.decide(ctx, r, unit, turn)
		if err != nil {
			// A decider cut short by a cancellation request is not a
			// planning failure.
			if e.cancelRequested(r.id) || ctx.Err() != nil {
				return e.terminate(ctx, r, session.StatusCancelled, "cancelled")
			}
			return e.terminate(ctx, r, session.StatusFailed,
				fmt.Sprintf("agent %s failed to produce a decision", r.active))
		}

		verdict, err := e.router.Route(decision, r.active, handoff.Usage{
			Turns:         r.turns,
			Turn:          turn,
			AnswerBounces: r.bounces,
		})
		if err != nil {
			if errors.Is(err, handoff.ErrAnswerBounceLimit) {
				return e.terminate(ctx, r, session.StatusFailed, "answer bounce limit")
			}
			return e.terminate(ctx, r, session.StatusFailed, "routing failure")
		}

		switch verdict.Kind {
		case handoff.VerdictDispatchTool:
			fatal, err := e.dispatchTool(ctx, r, decision)
			if err != nil {
				return nil, err
			}
			if fatal {
				return e.terminate(ctx, r, session.StatusFailed, "repeated tool failure")
			}

		case handoff.VerdictContinue:
			if err := e.recordCorrection(ctx, r, verdict); err != nil {
				return nil, err
			}

		case handoff.VerdictSwitch:
			if err := e.applySwitch(ctx, r, verdict); err != nil {
				return nil, err
			}

		case handoff.VerdictTerminate:
			if err := e.append(ctx, r, session.Event{
				Agent:   r.active,
				Type:    session.EventAgentMessage,
				Content: verdict.Answer,
			}); err != nil {
				return nil, err
			}
			return e.terminate(ctx, r, session.StatusCompleted, verdict.Answer)

		default:
			return e.terminate(ctx, r, session.StatusFailed,
				fmt.Sprintf("unhandled verdict %q", verdict.Kind))
		}
	}
}

// decide invokes the active agent with bounded retries. Decide and tool
// invocation are the only suspension points in the loop.
func (e *Engine) decide(ctx context.Context, r *run, unit agent.Unit, turn int) (agent.Decision, error) {
	ctx, span := e.tracer.Start(ctx, "engine.Turn",
		trace.WithAttributes(
			attribute.String("session.id", r.id),
			attribute.String("agent.name", unit.Name()),
			attribute.Int("turn", turn),
		))
	defer span.End()

	turnCtx := agent.TurnContext{SessionID: r.id, Task: r.task, Turn: turn}

	var lastErr error
	for attempt := 0; attempt <= e.limits.DecisionRetries; attempt++ {
		decision, err := unit.Decide(ctx, r.states[unit.Name()], turnCtx)
		if err == nil {
			return decision, nil
		}
		lastErr = err
		e.logger.Warn("decision failed",
			"session", r.id, "agent", unit.Name(), "attempt", attempt+1, "error", err)
		if ctx.Err() != nil {
			// No retry can succeed against a dead context.
			break
		}
	}
	return agent.Decision{}, lastErr
}

// dispatchTool appends the tool call event, invokes the gateway, and appends
// the result before the agent's turn resumes. It reports fatal=true when the
// agent's consecutive failed calls reach the configured limit.
func (e *Engine) dispatchTool(ctx context.Context, r *run, d agent.Decision) (fatal bool, err error) {
	call := gateway.ToolCall{
		Tool:          d.Tool,
		Args:          d.Args,
		Agent:         r.active,
		CorrelationID: uuid.NewString(),
	}
	if err := e.append(ctx, r, session.Event{
		Agent:  r.active,
		Type:   session.EventToolCall,
		Tool:   call.Tool,
		Args:   call.Args,
		CallID: call.CorrelationID,
	}); err != nil {
		return false, err
	}

	res := e.gateway.Invoke(ctx, call)
	e.toolCtr.Add(ctx, 1, metric.WithAttributes(
		attribute.String("tool", call.Tool),
		attribute.Bool("success", res.Success),
	))

	if err := e.append(ctx, r, session.Event{
		Agent:   r.active,
		Type:    session.EventToolResult,
		Tool:    call.Tool,
		CallID:  call.CorrelationID,
		Success: res.Success,
		Content: res.Payload,
		Error:   res.Error,
	}); err != nil {
		return false, err
	}

	if res.Success {
		r.toolFail[r.active] = 0
		return false, nil
	}
	r.toolFail[r.active]++
	return e.limits.ToolFailureLimit > 0 && r.toolFail[r.active] >= e.limits.ToolFailureLimit, nil
}

// recordCorrection logs a routing correction that keeps the current agent.
func (e *Engine) recordCorrection(ctx context.Context, r *run, v handoff.Verdict) error {
	if v.Answer != "" {
		// The fallback agent itself produced an unauthorized final answer.
		// Keep the answer as context and count the bounce, the same as when
		// the answer arrives from another agent.
		if err := e.append(ctx, r, session.Event{
			Agent:   r.active,
			Type:    session.EventAgentMessage,
			Content: v.Answer,
		}); err != nil {
			return err
		}
		r.bounces++
	}
	if v.Note == "" {
		return nil
	}
	return e.append(ctx, r, session.Event{
		Agent:   r.active,
		Type:    session.EventRoutingError,
		Target:  v.Rejected,
		Content: v.Note,
	})
}

// applySwitch transfers the active turn, recording any routing correction and
// bounced answer that accompany it.
func (e *Engine) applySwitch(ctx context.Context, r *run, v handoff.Verdict) error {
	if v.Answer != "" {
		// A final answer from an agent without terminate authority: keep the
		// answer as context and route it to the fallback.
		if err := e.append(ctx, r, session.Event{
			Agent:   r.active,
			Type:    session.EventAgentMessage,
			Content: v.Answer,
		}); err != nil {
			return err
		}
		r.bounces++
	}
	if v.Note != "" {
		if err := e.append(ctx, r, session.Event{
			Agent:   r.active,
			Type:    session.EventRoutingError,
			Target:  v.Rejected,
			Content: v.Note,
		}); err != nil {
			return err
		}
	}

	rationale := v.Rationale
	if rationale == "" && v.Note != "" {
		rationale = "returned to " + v.Target + " after routing correction"
	}
	if err := e.append(ctx, r, session.Event{
		Agent:   r.active,
		Type:    session.EventHandoff,
		Target:  v.Target,
		Content: rationale,
	}); err != nil {
		return err
	}
	e.handoffCtr.Add(ctx, 1, metric.WithAttributes(
		attribute.String("from", r.active),
		attribute.String("to", v.Target),
	))
	e.logger.Info("handoff", "session", r.id, "from", r.active, "to", v.Target)
	r.active = v.Target
	return nil
}
