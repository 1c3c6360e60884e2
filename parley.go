package parley

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/aretw0/parley/internal/actions"
	"github.com/aretw0/parley/internal/condition"
	"github.com/aretw0/parley/internal/flowcache"
	"github.com/aretw0/parley/internal/logging"
	"github.com/aretw0/parley/internal/outbound"
	"github.com/aretw0/parley/internal/runtime"
	loamAdapter "github.com/aretw0/parley/pkg/adapters/loam"
	"github.com/aretw0/parley/pkg/adapters/memory"
	"github.com/aretw0/parley/pkg/domain"
	"github.com/aretw0/parley/pkg/observability"
	"github.com/aretw0/parley/pkg/ports"
	"github.com/aretw0/parley/pkg/session"
)

type (
	// Config holds the dialog policy knobs.
	Config = runtime.Config
	// Messages are the system texts the engine sends on its own behalf.
	Messages = runtime.Messages
	// Reply is the outcome of one inbound message.
	Reply = runtime.Reply
	// Interpolator renders {{.field}} placeholders in outbound texts.
	Interpolator = outbound.Interpolator
	// ConditionEvaluator decides branches written as free-form expressions.
	ConditionEvaluator = condition.Evaluator
)

var (
	ErrInputTooLarge = runtime.ErrInputTooLarge
	ErrInvalidUTF8   = runtime.ErrInvalidUTF8
)

// DefaultConfig returns the engine defaults.
func DefaultConfig() Config { return runtime.DefaultConfig() }

// Engine is the high-level entry point for the Parley library.
// It wires the flow cache, the session manager and the dialog runtime.
type Engine struct {
	runtime  *runtime.Engine
	flows    *flowcache.Cache
	sessions *session.Manager
	repo     ports.FlowRepository

	cfg          *Config
	hooks        domain.LifecycleHooks
	sender       ports.MessageSender
	documents    ports.DocumentSender
	departments  ports.DepartmentRouter
	agents       ports.AgentRouter
	interpolator Interpolator
	evaluator    ConditionEvaluator
	locker       ports.DistributedLocker
	cacheTTL     time.Duration
	registerer   prometheus.Registerer
	logger       *slog.Logger
	Name         string
}

// Option defines a functional option for configuring the Engine.
type Option func(*Engine)

// WithConfig replaces the dialog policy. Zero fields take their defaults.
func WithConfig(cfg Config) Option {
	return func(e *Engine) {
		e.cfg = &cfg
	}
}

// WithLifecycleHooks registers observability hooks.
func WithLifecycleHooks(hooks domain.LifecycleHooks) Option {
	return func(e *Engine) {
		e.hooks = hooks
	}
}

// WithMessageSender sets the channel used by send_message actions and timeout fallbacks.
func WithMessageSender(s ports.MessageSender) Option {
	return func(e *Engine) {
		e.sender = s
	}
}

// WithDocumentSender enables send_document actions.
func WithDocumentSender(s ports.DocumentSender) Option {
	return func(e *Engine) {
		e.documents = s
	}
}

// WithDepartmentRouter enables transfer_department actions.
func WithDepartmentRouter(r ports.DepartmentRouter) Option {
	return func(e *Engine) {
		e.departments = r
	}
}

// WithAgentRouter enables transfer_agent actions.
func WithAgentRouter(r ports.AgentRouter) Option {
	return func(e *Engine) {
		e.agents = r
	}
}

// WithInterpolator sets a custom interpolator for the engine.
func WithInterpolator(interp Interpolator) Option {
	return func(e *Engine) {
		e.interpolator = interp
	}
}

// WithConditionEvaluator sets the evaluator for free-form branch expressions.
func WithConditionEvaluator(eval ConditionEvaluator) Option {
	return func(e *Engine) {
		e.evaluator = eval
	}
}

// WithLocker coordinates session access across replicas.
func WithLocker(l ports.DistributedLocker) Option {
	return func(e *Engine) {
		e.locker = l
	}
}

// WithCacheTTL sets how long a compiled flow is served before a background refresh.
func WithCacheTTL(ttl time.Duration) Option {
	return func(e *Engine) {
		e.cacheTTL = ttl
	}
}

// WithMetrics registers cache and dialog metrics on reg.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(e *Engine) {
		e.registerer = reg
	}
}

// WithLogger sets a custom structured logger for the engine.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// New builds an engine over a flow repository and a session store.
// A nil store keeps sessions in memory.
func New(repo ports.FlowRepository, store ports.SessionStore, opts ...Option) (*Engine, error) {
	if repo == nil {
		return nil, errors.New("parley: flow repository is required")
	}
	eng := &Engine{repo: repo}
	for _, opt := range opts {
		opt(eng)
	}

	if store == nil {
		store = memory.NewStore()
	}
	if eng.logger == nil {
		eng.logger = logging.NewNop()
	}
	if eng.Name != "" {
		eng.logger = eng.logger.With("flows", eng.Name)
	}

	cacheOpts := []flowcache.Option{flowcache.WithLogger(eng.logger)}
	if eng.cacheTTL > 0 {
		cacheOpts = append(cacheOpts, flowcache.WithTTL(eng.cacheTTL))
	}
	hooks := eng.hooks
	if eng.registerer != nil {
		cacheOpts = append(cacheOpts, flowcache.WithMetrics(eng.registerer))
		m, err := observability.NewMetrics(eng.registerer)
		if err != nil {
			return nil, fmt.Errorf("register metrics: %w", err)
		}
		hooks = observability.Combine(hooks, m.Hooks())
	}

	cache, err := flowcache.New(repo, cacheOpts...)
	if err != nil {
		return nil, fmt.Errorf("create flow cache: %w", err)
	}
	eng.flows = cache

	sessionOpts := []session.Option{session.WithLogger(eng.logger)}
	if eng.locker != nil {
		sessionOpts = append(sessionOpts, session.WithLocker(eng.locker))
	}
	eng.sessions = session.NewManager(store, sessionOpts...)

	interp := eng.interpolator
	if interp == nil {
		interp = outbound.DefaultInterpolator
	}
	executor := actions.New(
		actions.WithDocumentSender(eng.documents),
		actions.WithDepartmentRouter(eng.departments),
		actions.WithAgentRouter(eng.agents),
		actions.WithInterpolator(interp),
		actions.WithActionHook(hooks.OnAction),
		actions.WithLogger(eng.logger),
	)

	runtimeOpts := []runtime.Option{
		runtime.WithExecutor(executor),
		runtime.WithResolver(condition.NewResolver(eng.evaluator, condition.WithLogger(eng.logger))),
		runtime.WithMessageSender(eng.sender),
		runtime.WithInterpolator(interp),
		runtime.WithLifecycleHooks(hooks),
		runtime.WithLogger(eng.logger),
	}
	if eng.cfg != nil {
		runtimeOpts = append(runtimeOpts, runtime.WithConfig(*eng.cfg))
	}
	eng.runtime = runtime.NewEngine(cache, eng.sessions, runtimeOpts...)
	return eng, nil
}

// Open serves the flows of a loam directory with in-memory sessions.
func Open(dir string, opts ...Option) (*Engine, error) {
	absPath, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("invalid path: %w", err)
	}
	repo, err := loamAdapter.Open(absPath)
	if err != nil {
		return nil, err
	}
	opts = append([]Option{func(e *Engine) { e.Name = filepath.Base(absPath) }}, opts...)
	return New(repo, nil, opts...)
}

// HandleInboundMessage runs one conversational turn and returns what to send back.
func (e *Engine) HandleInboundMessage(ctx context.Context, msg domain.InboundMessage) (*Reply, error) {
	return e.runtime.HandleInboundMessage(ctx, msg)
}

// HandleTimeout fires an externally scheduled timeout. Stale tokens are ignored.
func (e *Engine) HandleTimeout(ctx context.Context, sessionID, token string) error {
	return e.runtime.HandleTimeout(ctx, sessionID, token)
}

// Release ends a handed-off conversation.
func (e *Engine) Release(ctx context.Context, contactID, connectionID string) error {
	return e.runtime.Release(ctx, contactID, connectionID)
}

// SetDynamicOptions replaces the menu options of nodeID for one session.
func (e *Engine) SetDynamicOptions(ctx context.Context, sessionID, nodeID string, options []domain.Option) error {
	return e.runtime.SetDynamicOptions(ctx, sessionID, nodeID, options)
}

// Config returns the effective dialog policy.
func (e *Engine) Config() Config {
	return e.runtime.Config()
}

// Sessions exposes the session manager.
func (e *Engine) Sessions() *session.Manager {
	return e.sessions
}

// Flows returns the underlying flow repository.
func (e *Engine) Flows() ports.FlowRepository {
	return e.repo
}

// Invalidate drops a cached flow so the next turn reloads it.
func (e *Engine) Invalidate(flowID string) {
	e.runtime.Invalidate(flowID)
}

// Watch invalidates cached flows as the repository reports changes, until ctx ends.
// Returns error if the repository does not support watching.
func (e *Engine) Watch(ctx context.Context) error {
	w, ok := e.repo.(ports.Watchable)
	if !ok {
		return fmt.Errorf("flow repository %T does not support watching", e.repo)
	}
	return e.flows.Watch(ctx, w)
}

// Close stops pending timers and waits for background cache work.
func (e *Engine) Close() {
	e.runtime.Close()
	e.flows.Close()
}
