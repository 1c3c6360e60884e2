package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aretw0/parley/internal/actions"
	"github.com/aretw0/parley/internal/condition"
	"github.com/aretw0/parley/internal/flowcache"
	"github.com/aretw0/parley/internal/logging"
	"github.com/aretw0/parley/internal/outbound"
	"github.com/aretw0/parley/internal/timeout"
	"github.com/aretw0/parley/internal/trigger"
	"github.com/aretw0/parley/pkg/domain"
	"github.com/aretw0/parley/pkg/ports"
	"github.com/aretw0/parley/pkg/session"
)

// Timeout policies applied when a node has no OnTimeout target.
// Any other value is read as a node id in the session's current flow.
const (
	TimeoutMainFlow = "main_flow"
	TimeoutEnd      = "end"
)

// Messages are the system texts the engine sends on its own behalf.
// An empty message is not sent.
type Messages struct {
	InvalidOption  string `yaml:"invalid_option"`
	TooManyInvalid string `yaml:"too_many_invalid"`
	Apology        string `yaml:"apology"`
	NoFlow         string `yaml:"no_flow"`
	Timeout        string `yaml:"timeout"`
	Cancelled      string `yaml:"cancelled"`
}

// DefaultMessages returns the built-in system texts.
func DefaultMessages() Messages {
	return Messages{
		InvalidOption:  "Sorry, I did not understand. Please choose one of the options.",
		TooManyInvalid: "Let's start over.",
		Apology:        "Sorry, something went wrong on our side. Please try again in a moment.",
		NoFlow:         "Hello! We cannot handle your request right now.",
		Timeout:        "We did not hear back from you, so we're starting over.",
	}
}

// Config holds the dialog policy knobs.
type Config struct {
	CancelCommand      string
	MaxInvalidAttempts int
	MaxHops            int
	MaxInputSize       int
	// DefaultFlows maps a connection id to its fallback flow.
	DefaultFlows      map[string]string
	GlobalDefaultFlow string
	TimeoutPolicy     string
	HistoryLimit      int
	Messages          Messages
}

// DefaultConfig returns the engine defaults.
func DefaultConfig() Config {
	return Config{
		CancelCommand:      "0",
		MaxInvalidAttempts: 3,
		MaxHops:            32,
		TimeoutPolicy:      TimeoutMainFlow,
		HistoryLimit:       50,
		Messages:           DefaultMessages(),
	}
}

// Reply is the outcome of one inbound message.
// Intents are left for the host to deliver, in order.
type Reply struct {
	Intents []domain.OutboundIntent `json:"intents"`
	// Delivered were already sent through the engine's MessageSender, ahead of
	// a document that had to follow them.
	Delivered []domain.OutboundIntent `json:"delivered,omitempty"`
	// Session is a snapshot after the turn; nil when no session exists.
	Session *domain.Session `json:"session,omitempty"`
	Ended   bool            `json:"ended"`
}

// Engine is the dialog state machine.
// Each session is processed under its session.Manager lock, timer expiry included.
type Engine struct {
	cfg       Config
	flows     *flowcache.Cache
	sessions  *session.Manager
	executor  *actions.Executor
	scheduler *timeout.Scheduler
	resolver  *condition.Resolver
	sender    ports.MessageSender

	interpolate outbound.Interpolator
	hooks       domain.LifecycleHooks
	clock       timeout.Clock
	logger      *slog.Logger
}

// Option configures the Engine.
type Option func(*Engine)

func WithConfig(cfg Config) Option {
	return func(e *Engine) { e.cfg = cfg }
}

func WithExecutor(x *actions.Executor) Option {
	return func(e *Engine) { e.executor = x }
}

// WithScheduler replaces the default scheduler. It must serialize on the engine's session manager.
func WithScheduler(s *timeout.Scheduler) Option {
	return func(e *Engine) { e.scheduler = s }
}

func WithResolver(r *condition.Resolver) Option {
	return func(e *Engine) { e.resolver = r }
}

// WithMessageSender sets where timeout fallbacks are delivered. Messages
// queued by actions are also sent through it ahead of a document.
func WithMessageSender(s ports.MessageSender) Option {
	return func(e *Engine) { e.sender = s }
}

func WithInterpolator(i outbound.Interpolator) Option {
	return func(e *Engine) { e.interpolate = i }
}

func WithLifecycleHooks(h domain.LifecycleHooks) Option {
	return func(e *Engine) { e.hooks = h }
}

// WithClock drives the default scheduler and activity timestamps.
func WithClock(c timeout.Clock) Option {
	return func(e *Engine) { e.clock = c }
}

func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// NewEngine creates an engine over a flow cache and a session manager.
func NewEngine(flows *flowcache.Cache, sessions *session.Manager, opts ...Option) *Engine {
	e := &Engine{
		cfg:         DefaultConfig(),
		flows:       flows,
		sessions:    sessions,
		interpolate: outbound.DefaultInterpolator,
		clock:       timeout.RealClock(),
		logger:      logging.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.cfg = withDefaults(e.cfg)

	if e.executor == nil {
		e.executor = actions.New(
			actions.WithInterpolator(e.interpolate),
			actions.WithActionHook(e.hooks.OnAction),
			actions.WithLogger(e.logger),
		)
	}
	if e.scheduler == nil {
		e.scheduler = timeout.NewScheduler(
			timeout.WithClock(e.clock),
			timeout.WithSerializer(e.sessions),
			timeout.WithLogger(e.logger),
		)
	}
	if e.resolver == nil {
		e.resolver = condition.NewResolver(nil, condition.WithLogger(e.logger))
	}
	return e
}

func withDefaults(cfg Config) Config {
	def := DefaultConfig()
	if cfg.CancelCommand == "" {
		cfg.CancelCommand = def.CancelCommand
	}
	if cfg.MaxInvalidAttempts <= 0 {
		cfg.MaxInvalidAttempts = def.MaxInvalidAttempts
	}
	if cfg.MaxHops <= 0 {
		cfg.MaxHops = def.MaxHops
	}
	if cfg.TimeoutPolicy == "" {
		cfg.TimeoutPolicy = def.TimeoutPolicy
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = def.HistoryLimit
	}
	return cfg
}

// Config returns the effective configuration.
func (e *Engine) Config() Config { return e.cfg }

// HandleInboundMessage runs one turn for the message's session.
func (e *Engine) HandleInboundMessage(ctx context.Context, msg domain.InboundMessage) (*Reply, error) {
	if msg.ContactID == "" || msg.ConnectionID == "" {
		return nil, errors.New("inbound message needs contact and connection ids")
	}
	text, err := SanitizeInput(msg.Text, e.cfg.MaxInputSize)
	if err != nil {
		return nil, fmt.Errorf("sanitize input: %w", err)
	}
	msg.Text = text
	if msg.ReceivedAt.IsZero() {
		msg.ReceivedAt = e.clock.Now()
	}

	id := domain.SessionKey(msg.ContactID, msg.ConnectionID)
	var reply *Reply
	err = e.sessions.WithLock(ctx, id, func(ctx context.Context) error {
		// Inside the scope a pending expiry can no longer run once canceled.
		e.scheduler.Cancel(id)

		var err error
		reply, err = e.handle(ctx, id, msg)
		return err
	})
	if err != nil {
		return nil, err
	}
	return reply, nil
}

func (e *Engine) handle(ctx context.Context, id string, msg domain.InboundMessage) (*Reply, error) {
	store := e.sessions.Store()

	s, err := store.Get(ctx, id)
	switch {
	case errors.Is(err, domain.ErrSessionNotFound):
		s = nil
	case err != nil:
		return nil, fmt.Errorf("load session %s: %w", id, err)
	}
	if s != nil && s.Terminated() {
		s = nil
	}
	if s == nil {
		return e.start(ctx, msg)
	}

	s.LastActivity = msg.ReceivedAt
	if s.Status == domain.StatusHandedOff {
		e.logger.Debug("Session handed off, staying silent", "session_id", id)
		if err := store.Save(ctx, s); err != nil {
			return nil, fmt.Errorf("save session %s: %w", id, err)
		}
		return &Reply{Session: s.Clone()}, nil
	}

	t := &turn{e: e, s: s}
	if strings.TrimSpace(msg.Text) == e.cfg.CancelCommand {
		e.logger.Debug("Cancel command received", "session_id", id, "flow_id", s.FlowID)
		t.say(e.cfg.Messages.Cancelled)
		t.restart(ctx)
		return t.finish(ctx)
	}

	graph, err := e.flows.Get(ctx, s.FlowID)
	if err != nil {
		if !errors.Is(err, domain.ErrFlowNotFound) {
			return nil, err
		}
		// The flow was removed; treat the contact as new.
		e.logger.Warn("Session flow disappeared, starting over", "session_id", id, "flow_id", s.FlowID)
		if err := store.Delete(ctx, id); err != nil {
			return nil, fmt.Errorf("delete session %s: %w", id, err)
		}
		return e.start(ctx, msg)
	}
	t.graph = graph

	node, ok := graph.Node(s.NodeID)
	if !ok {
		e.logger.Warn("Session node missing from flow, restarting at root",
			"session_id", id, "flow_id", s.FlowID, "node_id", s.NodeID)
		t.enter(ctx, graph.RootID())
		return t.finish(ctx)
	}

	t.dispatch(ctx, node, msg)
	return t.finish(ctx)
}

// start selects a flow for a contact without an active session.
// When nothing can be selected the contact gets the NoFlow message and no session is created.
func (e *Engine) start(ctx context.Context, msg domain.InboundMessage) (*Reply, error) {
	s := domain.NewSession(msg.ContactID, msg.ConnectionID)
	s.Stage = domain.StageSelectingFlow
	s.LastActivity = msg.ReceivedAt

	flowID, trig, err := e.selectFlow(ctx, msg.ConnectionID, msg.Text)
	if err == nil {
		var graph *domain.FlowGraph
		graph, err = e.flows.Get(ctx, flowID)
		if err == nil {
			t := &turn{e: e, s: s, graph: graph}
			s.SwitchFlow(flowID)
			e.emitFlowSelected(ctx, s, trig)
			t.enter(ctx, graph.RootID())
			return t.finish(ctx)
		}
	}

	e.logger.Warn("No flow for inbound message",
		"session_id", s.ID, "connection", msg.ConnectionID, "err", err)
	reply := &Reply{}
	if text := e.cfg.Messages.NoFlow; text != "" {
		reply.Intents = append(reply.Intents, outbound.Text(s.Address(), text))
	}
	return reply, nil
}

func (e *Engine) selectFlow(ctx context.Context, connectionID, text string) (string, string, error) {
	flows, err := e.flows.Flows(ctx, connectionID)
	if err != nil {
		return "", "", err
	}
	if m, ok := trigger.Select(flows, connectionID, text); ok {
		return m.FlowID, m.Trigger, nil
	}
	if id := e.defaultFlow(connectionID); id != "" {
		return id, "", nil
	}
	return "", "", domain.ErrNoDefaultFlow
}

func (e *Engine) defaultFlow(connectionID string) string {
	if id := e.cfg.DefaultFlows[connectionID]; id != "" {
		return id
	}
	return e.cfg.GlobalDefaultFlow
}

// Release ends a handed-off conversation so the next message starts a new flow.
func (e *Engine) Release(ctx context.Context, contactID, connectionID string) error {
	id := domain.SessionKey(contactID, connectionID)
	return e.sessions.WithLock(ctx, id, func(ctx context.Context) error {
		e.scheduler.Cancel(id)
		store := e.sessions.Store()
		s, err := store.Get(ctx, id)
		if err != nil {
			return err
		}
		if err := store.Delete(ctx, id); err != nil {
			return fmt.Errorf("delete session %s: %w", id, err)
		}
		e.emitSessionEnded(ctx, s, "released")
		return nil
	})
}

// SetDynamicOptions overlays menu options for one session without touching the cached flow.
func (e *Engine) SetDynamicOptions(ctx context.Context, sessionID, nodeID string, options []domain.Option) error {
	return e.sessions.WithLock(ctx, sessionID, func(ctx context.Context) error {
		store := e.sessions.Store()
		s, err := store.Get(ctx, sessionID)
		if err != nil {
			return err
		}
		s.SetDynamicOptions(nodeID, options)
		return store.Save(ctx, s)
	})
}

// Invalidate drops a cached flow.
func (e *Engine) Invalidate(flowID string) {
	e.flows.Invalidate(flowID)
}

// Close stops every pending timer.
func (e *Engine) Close() {
	e.scheduler.Stop()
}
