package decepticon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/google/uuid"

	"github.com/decepticon-ai/decepticon/agent"
	"github.com/decepticon-ai/decepticon/config"
	"github.com/decepticon-ai/decepticon/engine"
	"github.com/decepticon-ai/decepticon/gateway"
	"github.com/decepticon-ai/decepticon/handoff"
	"github.com/decepticon-ai/decepticon/session"
)

// Operator is the execution façade: the surface UIs and CLIs drive operations
// through. It owns the wiring of roster, router, gateway, engine and store,
// runs sessions on background goroutines, and exposes their event logs as
// live streams.
//
// All methods are safe for concurrent use.
type Operator struct {
	cfg    *config.Config
	store  session.Store
	engine *engine.Engine
	logger *slog.Logger
	hub    *streamHub

	mu      sync.Mutex
	handles map[string]*sessionHandle
}

// sessionHandle tracks one started session for the lifetime of the Operator.
type sessionHandle struct {
	cancel context.CancelFunc
	done   chan struct{}

	// result and err are set before done closes.
	result *engine.SessionResult
	err    error
}

func (h *sessionHandle) finished() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// New assembles an Operator from the options. Configuration precedence is
// WithConfigFile, then WithConfig, then the standard four-agent defaults.
// Every configured agent must have a decision capability, registered with
// WithDecider or WithUnit.
func New(opts ...Option) (*Operator, error) {
	const op = "New"

	oc := &operatorConfig{
		deciders: make(map[string]agent.Decider),
		servers:  make(map[string][]gateway.Server),
	}
	for _, o := range opts {
		o(oc)
	}

	cfg := oc.cfg
	if oc.configPath != "" {
		loaded, err := config.Load(oc.configPath)
		if err != nil {
			return nil, newError(op, KindConfiguration, fmt.Errorf("%w: %v", ErrInvalidConfig, err))
		}
		cfg = loaded
	}
	if cfg == nil {
		cfg = config.Default()
	} else {
		cfg.ApplyDefaults()
		if err := cfg.Validate(); err != nil {
			return nil, newError(op, KindConfiguration, fmt.Errorf("%w: %v", ErrInvalidConfig, err))
		}
	}

	logger := oc.logger
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}

	store := oc.store
	if store == nil {
		dir := oc.sessionDir
		if dir == "" {
			dir = "sessions"
		}
		fs, err := session.NewFileStore(dir)
		if err != nil {
			return nil, newError(op, KindConfiguration, err)
		}
		store = fs
	}

	units, err := buildUnits(cfg, oc)
	if err != nil {
		return nil, newError(op, KindConfiguration, err)
	}

	router, err := buildRouter(cfg)
	if err != nil {
		return nil, newError(op, KindConfiguration, fmt.Errorf("%w: %v", ErrInvalidConfig, err))
	}

	gw := buildGateway(cfg, oc, logger)

	o := &Operator{
		cfg:     cfg,
		store:   store,
		logger:  logger,
		hub:     newStreamHub(),
		handles: make(map[string]*sessionHandle),
	}

	engOpts := []engine.Option{
		engine.WithLogger(logger),
		engine.WithObserver(o.hub.publish),
	}
	if oc.tracer != nil {
		engOpts = append(engOpts, engine.WithTracer(oc.tracer))
	}
	if oc.meter != nil {
		engOpts = append(engOpts, engine.WithMeter(oc.meter))
	}

	eng, err := engine.New(engine.Params{
		Store:        store,
		Router:       router,
		Gateway:      gw,
		Units:        units,
		InitialAgent: cfg.InitialAgent,
		Limits:       cfg.Limits,
	}, engOpts...)
	if err != nil {
		return nil, newError(op, KindConfiguration, err)
	}
	o.engine = eng
	return o, nil
}

// buildUnits assembles the Agent Units for every configured agent.
func buildUnits(cfg *config.Config, oc *operatorConfig) ([]agent.Unit, error) {
	byName := make(map[string]agent.Unit, len(cfg.Agents))
	for _, u := range oc.units {
		if _, dup := byName[u.Name()]; dup {
			return nil, fmt.Errorf("%w: duplicate unit %q", ErrInvalidConfig, u.Name())
		}
		byName[u.Name()] = u
	}
	for name, d := range oc.deciders {
		if _, dup := byName[name]; dup {
			return nil, fmt.Errorf("%w: agent %q has both a unit and a decider", ErrInvalidConfig, name)
		}
		role := agent.Role(name)
		if !role.IsValid() {
			return nil, fmt.Errorf("%w: agent %q has no canonical role; register it with WithUnit", ErrInvalidConfig, name)
		}
		u, err := agent.NewConfig().SetName(name).SetRole(role).SetDecider(d).Build()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
		byName[name] = u
	}

	units := make([]agent.Unit, 0, len(cfg.Agents))
	for name := range cfg.Agents {
		u, ok := byName[name]
		if !ok {
			return nil, fmt.Errorf("%w: agent %q has no decision capability", ErrAgentNotFound, name)
		}
		units = append(units, u)
		delete(byName, name)
	}
	for name := range byName {
		return nil, fmt.Errorf("%w: unit %q is not in the configured roster", ErrInvalidConfig, name)
	}
	return units, nil
}

// buildRouter compiles the roster from the configuration and wraps it in a
// deterministic router with the initial agent as fallback.
func buildRouter(cfg *config.Config) (*handoff.Router, error) {
	entries := make([]handoff.Entry, 0, len(cfg.Agents))
	for name, a := range cfg.Agents {
		quota := a.Quota
		if quota < 0 {
			// Negative configures an unlimited agent; the roster expresses that
			// as no quota.
			quota = 0
		}
		entries = append(entries, handoff.Entry{
			Name:         name,
			Targets:      a.Targets,
			Quota:        quota,
			CanTerminate: a.CanTerminate,
			Guard:        a.Guard,
		})
	}
	roster, err := handoff.NewRoster(entries)
	if err != nil {
		return nil, err
	}
	return handoff.NewRouter(roster, cfg.InitialAgent, cfg.Limits.MaxAnswerBounces)
}

// buildGateway merges configured tool servers with those supplied through
// WithToolServers (typically registry discoveries).
func buildGateway(cfg *config.Config, oc *operatorConfig, logger *slog.Logger) *gateway.Gateway {
	servers := make(map[string][]gateway.Server)
	for owner, named := range cfg.ToolServers {
		for name, sc := range named {
			servers[owner] = append(servers[owner], gateway.Server{
				Name:    name,
				Command: sc.Command,
				Args:    sc.Args,
				URL:     sc.URL,
				Tools:   sc.Tools,
			})
		}
	}
	for owner, extra := range oc.servers {
		servers[owner] = append(servers[owner], extra...)
	}

	gwOpts := []gateway.Option{gateway.WithLogger(logger)}
	if oc.tracer != nil {
		gwOpts = append(gwOpts, gateway.WithTracer(oc.tracer))
	}
	return gateway.New(servers, cfg.Limits.ToolTimeout.Std(), gwOpts...)
}

// StartSession starts a new session for the task and returns its id
// immediately. The turn loop runs on a background goroutine that outlives the
// caller's context; use CancelSession to stop it.
func (o *Operator) StartSession(ctx context.Context, task string) (string, error) {
	const op = "Operator.StartSession"
	if task == "" {
		return "", newError(op, KindConfiguration, errors.New("task cannot be empty"))
	}

	id := uuid.NewString()
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	h := &sessionHandle{cancel: cancel, done: make(chan struct{})}

	o.mu.Lock()
	o.handles[id] = h
	o.mu.Unlock()

	go func() {
		defer close(h.done)
		defer o.hub.finish(id)
		res, err := o.engine.Run(runCtx, id, task)
		o.mu.Lock()
		h.result, h.err = res, err
		o.mu.Unlock()
	}()

	return id, nil
}

// CancelSession requests cancellation of a running session. A decider that
// honors context cancellation returns early, others finish their turn; either
// way the session's log ends with a session_terminated event in the cancelled
// state.
func (o *Operator) CancelSession(ctx context.Context, sessionID string) error {
	const op = "Operator.CancelSession"

	o.mu.Lock()
	h, ok := o.handles[sessionID]
	o.mu.Unlock()
	if !ok {
		if o.stored(ctx, sessionID) {
			return newError(op, KindCancelled, ErrSessionFinished)
		}
		return newError(op, KindNotFound, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID))
	}
	if h.finished() {
		return newError(op, KindCancelled, ErrSessionFinished)
	}
	// Mark the run cancelled before releasing its context, so a decider that
	// aborts on cancellation ends the session as cancelled rather than failed.
	// The engine does not know the id during the brief startup window; the
	// context covers that case.
	_ = o.engine.Cancel(sessionID)
	h.cancel()
	return nil
}

// stored reports whether the session has a log in the store.
func (o *Operator) stored(ctx context.Context, sessionID string) bool {
	_, err := o.store.Load(ctx, sessionID)
	return err == nil
}

// StreamEvents returns a channel of the session's events starting after
// fromSeq. Stored events are delivered first, then live ones as the session
// progresses; every event is delivered exactly once per stream, in sequence
// order. The channel closes after the session_terminated event, when the run
// aborts, or when the context ends. Pass fromSeq 0 for the full log; a stream
// interrupted after event N resumes with fromSeq=N.
func (o *Operator) StreamEvents(ctx context.Context, sessionID string, fromSeq int64) (<-chan session.Event, error) {
	const op = "Operator.StreamEvents"

	o.mu.Lock()
	h := o.handles[sessionID]
	o.mu.Unlock()

	// Subscribe before loading so no event can fall between the stored log and
	// the live feed; duplicates are dropped by sequence number below. The
	// subscription is force-closed when the run goroutine exits, covering a run
	// that finishes while the subscription is being set up.
	var sub *subscriber
	if h != nil && !h.finished() {
		sub = o.hub.subscribe(sessionID)
		go func() {
			select {
			case <-h.done:
				sub.close()
			case <-ctx.Done():
			}
		}()
	}

	stored, err := o.store.Load(ctx, sessionID)
	if err != nil && !errors.Is(err, session.ErrSessionNotFound) {
		if sub != nil {
			sub.cancel()
		}
		if errors.Is(err, session.ErrStoreCorruption) {
			return nil, newError(op, KindStoreCorruption, err)
		}
		return nil, newError(op, KindInternal, err)
	}
	if err != nil && h == nil {
		return nil, newError(op, KindNotFound, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID))
	}

	out := make(chan session.Event)
	go o.relay(ctx, out, sub, stored, fromSeq)
	return out, nil
}

// relay feeds one stream: stored events first, then the live subscription,
// deduplicated by sequence number.
func (o *Operator) relay(ctx context.Context, out chan<- session.Event, sub *subscriber, stored []session.Event, fromSeq int64) {
	defer close(out)
	if sub != nil {
		defer sub.cancel()
	}

	last := fromSeq
	send := func(ev session.Event) (done bool) {
		if ev.Seq <= last {
			return false
		}
		select {
		case out <- ev:
		case <-ctx.Done():
			return true
		}
		last = ev.Seq
		return ev.Type == session.EventTerminated
	}

	for _, ev := range stored {
		if send(ev) {
			return
		}
	}
	if sub == nil {
		return
	}
	for {
		events, ok := sub.next(ctx)
		if !ok {
			return
		}
		for _, ev := range events {
			if send(ev) {
				return
			}
		}
	}
}

// SessionStatus reconstructs the session's current state from its event log:
// status, active agent, result or failure reason, and the events so far.
func (o *Operator) SessionStatus(ctx context.Context, sessionID string) (*session.Session, error) {
	const op = "Operator.SessionStatus"

	o.mu.Lock()
	h := o.handles[sessionID]
	o.mu.Unlock()

	events, err := o.store.Load(ctx, sessionID)
	if err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			if h != nil {
				// Started, nothing appended yet.
				return &session.Session{
					ID:          sessionID,
					ActiveAgent: o.engine.InitialAgent(),
					Status:      session.StatusRunning,
				}, nil
			}
			return nil, newError(op, KindNotFound, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID))
		}
		if errors.Is(err, session.ErrStoreCorruption) {
			return nil, newError(op, KindStoreCorruption, err)
		}
		return nil, newError(op, KindInternal, err)
	}

	snap, err := session.Replay(sessionID, o.engine.InitialAgent(), events)
	if err != nil {
		return nil, newError(op, KindStoreCorruption, err)
	}
	return &snap.Session, nil
}

// ListSessions returns summaries of all sessions known to the store.
func (o *Operator) ListSessions(ctx context.Context) ([]session.Summary, error) {
	const op = "Operator.ListSessions"
	summaries, err := o.store.List(ctx)
	if err != nil {
		return nil, newError(op, KindInternal, err)
	}
	return summaries, nil
}

// WaitSession blocks until the session's run goroutine finishes and returns
// its terminal result.
func (o *Operator) WaitSession(ctx context.Context, sessionID string) (*engine.SessionResult, error) {
	const op = "Operator.WaitSession"

	o.mu.Lock()
	h, ok := o.handles[sessionID]
	o.mu.Unlock()
	if !ok {
		return nil, newError(op, KindNotFound, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID))
	}

	select {
	case <-h.done:
	case <-ctx.Done():
		return nil, newError(op, KindCancelled, ctx.Err())
	}

	o.mu.Lock()
	res, err := h.result, h.err
	o.mu.Unlock()
	if err != nil {
		return nil, newError(op, KindInternal, err)
	}
	return res, nil
}
