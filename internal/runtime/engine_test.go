package runtime_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/parley/internal/actions"
	"github.com/aretw0/parley/internal/flowcache"
	"github.com/aretw0/parley/internal/runtime"
	"github.com/aretw0/parley/internal/timeout"
	"github.com/aretw0/parley/pkg/adapters/memory"
	"github.com/aretw0/parley/pkg/domain"
	"github.com/aretw0/parley/pkg/ports"
	"github.com/aretw0/parley/pkg/session"
)

const conn = "wa"

type recorder struct {
	mu    sync.Mutex
	texts []string
	fail  map[string]error
}

func (r *recorder) SendText(_ context.Context, _ domain.Address, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.texts = append(r.texts, text)
	return r.fail[text]
}

func (r *recorder) SendMedia(_ context.Context, _ domain.Address, ref, _ string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.texts = append(r.texts, "media:"+ref)
	return nil
}

func (r *recorder) SendButtons(_ context.Context, _ domain.Address, text string, _ []domain.Button) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.texts = append(r.texts, text)
	return nil
}

func (r *recorder) sent() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.texts...)
}

type router struct {
	calls atomic.Int32
	err   error
}

func (r *router) Transfer(context.Context, domain.TransferConfig, *domain.Session) error {
	r.calls.Add(1)
	return r.err
}

// documents logs into the same recorder as the sender, so tests see one delivery sequence.
type documents struct {
	rec  *recorder
	fail error
}

func (d *documents) Send(_ context.Context, cfg domain.DocumentConfig, _ *domain.Session) error {
	if d.fail != nil {
		return d.fail
	}
	d.rec.mu.Lock()
	defer d.rec.mu.Unlock()
	d.rec.texts = append(d.rec.texts, "doc:"+cfg.URL)
	return nil
}

func supportFlow() domain.Flow {
	return domain.Flow{
		ID: "support", ConnectionID: conn, Active: true, Triggers: []string{"help"}, RootNodeID: "main",
		Nodes: []domain.Node{
			{ID: "main", Type: domain.NodeMenu, Content: "How can we help?", WaitForInput: true, TimeoutSeconds: 30, Options: []domain.Option{
				{Text: "Option A", Value: "1", NextNodeID: "nodeA", Order: 1},
				{Text: "Deposit", Value: "2", NextNodeID: "deposit", Order: 2},
				{Text: "Finance", Value: "3", NextNodeID: "handoff", Order: 3},
				{Text: "Route", Value: "4", NextNodeID: "route", Order: 4},
				{Text: "Agent", Value: "5", NextNodeID: "agent", Order: 5},
				{Text: "Receipt", Value: "6", NextNodeID: "receipt", Order: 6},
			}},
			{ID: "nodeA", Type: domain.NodeResponse, Content: "You picked A", IsFinal: true},
			{ID: "deposit", Type: domain.NodeForm, Next: "thanks", Fields: []domain.FormField{
				{Key: "amount", Prompt: "How much?", Stage: domain.FieldNumber},
				{Key: "proof_image", Prompt: "Send the receipt", Stage: domain.FieldAttachImage},
			}},
			{ID: "thanks", Type: domain.NodeResponse, Content: "Got {{.amount}}", IsFinal: true},
			{ID: "handoff", Type: domain.NodeResponse, Content: "Transferring", Actions: []domain.NodeAction{
				{Type: domain.ActionSendMessage, Order: 1, Active: true, Config: map[string]any{"text": "Hold on"}},
				{Type: domain.ActionTransferDepartment, Order: 2, Active: true, Config: map[string]any{"department_id": "finance"}},
			}},
			{ID: "agent", Type: domain.NodeResponse, Content: "An agent will reply", Actions: []domain.NodeAction{
				{Type: domain.ActionTransferAgent, Order: 1, Active: true, Config: map[string]any{"agent_id": "ana"}},
			}},
			{ID: "receipt", Type: domain.NodeResponse, Content: "Here is your receipt", IsFinal: true, Actions: []domain.NodeAction{
				{Type: domain.ActionSendMessage, Order: 1, Active: true, Config: map[string]any{"text": "Printing it now"}},
				{Type: domain.ActionSendDocument, Order: 2, Active: true, Config: map[string]any{"url": "https://files/r.pdf"}},
				{Type: domain.ActionSendMessage, Order: 3, Active: true, Config: map[string]any{"text": "Anything else?"}},
			}},
			{ID: "route", Type: domain.NodeCondition, Next: "small", Branches: []domain.Branch{{When: "amount >= 100", Next: "big"}}},
			{ID: "big", Type: domain.NodeResponse, Content: "Big", IsFinal: true},
			{ID: "small", Type: domain.NodeResponse, Content: "Small", IsFinal: true},
		},
	}
}

type harness struct {
	engine *runtime.Engine
	store  *memory.Store
	repo   *memory.Repository
	clock  *timeout.ManualClock
	sender *recorder
	docs   *documents
	dept   *router
	agent  *router
}

func newHarness(t *testing.T, cfg runtime.Config, flows ...domain.Flow) *harness {
	t.Helper()
	if len(flows) == 0 {
		flows = []domain.Flow{supportFlow()}
	}
	h := &harness{
		store:  memory.NewStore(),
		repo:   memory.NewRepository(flows...),
		clock:  timeout.NewManualClock(),
		sender: &recorder{fail: map[string]error{}},
		dept:   &router{},
		agent:  &router{},
	}
	h.docs = &documents{rec: h.sender}
	cache, err := flowcache.New(h.repo)
	require.NoError(t, err)
	mgr := session.NewManager(h.store)

	exec := actions.New(
		actions.WithDocumentSender(h.docs),
		actions.WithDepartmentRouter(h.dept),
		actions.WithAgentRouter(h.agent),
	)
	h.engine = runtime.NewEngine(cache, mgr,
		runtime.WithConfig(cfg),
		runtime.WithExecutor(exec),
		runtime.WithMessageSender(h.sender),
		runtime.WithClock(h.clock),
	)
	t.Cleanup(h.engine.Close)
	return h
}

func defaultConfig() runtime.Config {
	cfg := runtime.DefaultConfig()
	cfg.DefaultFlows = map[string]string{conn: "support"}
	return cfg
}

func (h *harness) send(t *testing.T, contact, text string) *runtime.Reply {
	t.Helper()
	reply, err := h.engine.HandleInboundMessage(context.Background(), domain.InboundMessage{
		ContactID: contact, ConnectionID: conn, Text: text,
	})
	require.NoError(t, err)
	return reply
}

func (h *harness) session(t *testing.T, contact string) (*domain.Session, error) {
	t.Helper()
	return h.store.Get(context.Background(), domain.SessionKey(contact, conn))
}

func texts(r *runtime.Reply) []string {
	out := make([]string, 0, len(r.Intents))
	for _, in := range r.Intents {
		out = append(out, in.Text)
	}
	return out
}

func TestEngine_MenuSelection(t *testing.T) {
	h := newHarness(t, defaultConfig())

	reply := h.send(t, "alice", "I need help")
	require.Len(t, reply.Intents, 1)
	assert.Equal(t, domain.IntentButtons, reply.Intents[0].Kind)
	assert.Equal(t, "How can we help?", reply.Intents[0].Text)
	assert.Len(t, reply.Intents[0].Buttons, 6)
	assert.Equal(t, "main", reply.Session.NodeID)
	assert.Equal(t, domain.StageAwaitingInput, reply.Session.Stage)

	reply = h.send(t, "alice", " 1 ")
	assert.Equal(t, []string{"You picked A"}, texts(reply))
	assert.True(t, reply.Ended)
	assert.Equal(t, "nodeA", reply.Session.NodeID)

	_, err := h.session(t, "alice")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound, "final node removes the session")
}

func TestEngine_FormCompletesOnlyAfterAllFields(t *testing.T) {
	h := newHarness(t, defaultConfig())
	h.send(t, "bob", "help")

	reply := h.send(t, "bob", "2")
	assert.Equal(t, []string{"How much?"}, texts(reply))
	assert.Equal(t, domain.StageCollectingField, reply.Session.Stage)
	assert.Equal(t, 1, reply.Session.Cursor)

	reply = h.send(t, "bob", "abc")
	assert.Len(t, reply.Intents, 2, "reason plus the same prompt")
	assert.Equal(t, "How much?", reply.Intents[1].Text)
	assert.Equal(t, 1, reply.Session.Cursor)

	reply = h.send(t, "bob", "150")
	assert.Equal(t, []string{"Send the receipt"}, texts(reply))
	assert.False(t, reply.Ended)
	assert.Equal(t, "150", reply.Session.Fields["amount"])
	assert.Equal(t, domain.FieldAttachImage, reply.Session.Label)

	reply, err := h.engine.HandleInboundMessage(context.Background(), domain.InboundMessage{
		ContactID: "bob", ConnectionID: conn, MediaRef: "media://receipt", MediaType: "image/jpeg",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"Got 150"}, texts(reply))
	assert.True(t, reply.Ended)
	assert.Equal(t, "media://receipt", reply.Session.Fields["proof_image"])
}

func textsOf(intents []domain.OutboundIntent) []string {
	out := make([]string, 0, len(intents))
	for _, in := range intents {
		out = append(out, in.Text)
	}
	return out
}

func TestEngine_ActionMessagesFollowNodeContent(t *testing.T) {
	h := newHarness(t, defaultConfig())
	h.send(t, "cole", "help")

	reply := h.send(t, "cole", "3")
	assert.Equal(t, []string{"Transferring", "Hold on"}, texts(reply))
	assert.Empty(t, reply.Delivered)
	assert.Equal(t, domain.StatusHandedOff, reply.Session.Status)
}

func TestEngine_DocumentWaitsForQueuedMessages(t *testing.T) {
	h := newHarness(t, defaultConfig())
	h.send(t, "cleo", "help")

	reply := h.send(t, "cleo", "6")
	assert.Equal(t, []string{"Here is your receipt", "Printing it now"}, textsOf(reply.Delivered))
	assert.Equal(t, []string{"Anything else?"}, texts(reply))
	assert.True(t, reply.Ended)

	require.NoError(t, ports.Deliver(context.Background(), h.sender, reply.Intents))
	assert.Equal(t, []string{"Here is your receipt", "Printing it now", "doc:https://files/r.pdf", "Anything else?"}, h.sender.sent())
}

func TestEngine_ActionFailureStopsRemainingActions(t *testing.T) {
	h := newHarness(t, defaultConfig())
	h.docs.fail = errors.New("storage down")

	h.send(t, "carol", "help")
	reply := h.send(t, "carol", "6")

	assert.Equal(t, []string{"Here is your receipt", "Printing it now"}, textsOf(reply.Delivered))
	assert.Equal(t, []string{runtime.DefaultMessages().Apology}, texts(reply), "actions after the failed one never run")
	assert.Equal(t, domain.StageError, reply.Session.Stage)
	assert.Equal(t, string(domain.ActionSendDocument), reply.Session.Label)
	assert.Equal(t, "receipt", reply.Session.NodeID)
	assert.False(t, reply.Ended)
}

func TestEngine_FailedActionsRunAgainOnNextMessage(t *testing.T) {
	h := newHarness(t, defaultConfig())
	h.dept.err = errors.New("crm down")

	h.send(t, "cody", "help")
	reply := h.send(t, "cody", "3")
	assert.Equal(t, []string{"Transferring", "Hold on", runtime.DefaultMessages().Apology}, texts(reply))
	assert.Equal(t, string(domain.ActionTransferDepartment), reply.Session.Label)
	assert.Equal(t, domain.StatusActive, reply.Session.Status)

	h.dept.err = nil
	reply = h.send(t, "cody", "still there?")
	assert.Equal(t, []string{"Transferring", "Hold on"}, texts(reply))
	assert.False(t, reply.Ended, "a node without successor must not end silently after a failure")
	assert.Equal(t, domain.StatusHandedOff, reply.Session.Status)
	assert.Equal(t, int32(2), h.dept.calls.Load())
}

func TestEngine_ConditionPredicateErrorTakesElse(t *testing.T) {
	check := domain.Flow{
		ID: "check", ConnectionID: conn, Active: true, Triggers: []string{"check"}, RootNodeID: "c",
		Nodes: []domain.Node{
			{ID: "c", Type: domain.NodeCondition, Next: "regular", Branches: []domain.Branch{{When: "is_vip()", Next: "vip"}}},
			{ID: "vip", Type: domain.NodeResponse, Content: "VIP", IsFinal: true},
			{ID: "regular", Type: domain.NodeResponse, Content: "Regular", IsFinal: true},
		},
	}
	h := newHarness(t, runtime.DefaultConfig(), check)

	reply := h.send(t, "vic", "check")
	assert.Equal(t, []string{"Regular"}, texts(reply))
	assert.True(t, reply.Ended)
}

func TestEngine_TransferHandsOffAndRelease(t *testing.T) {
	h := newHarness(t, defaultConfig())

	h.send(t, "dan", "help")
	reply := h.send(t, "dan", "5")
	assert.Equal(t, domain.StatusHandedOff, reply.Session.Status)
	assert.Equal(t, int32(1), h.agent.calls.Load())

	reply = h.send(t, "dan", "hello? anyone?")
	assert.Empty(t, reply.Intents, "bot stays silent while an agent owns the conversation")

	require.NoError(t, h.engine.Release(context.Background(), "dan", conn))
	reply = h.send(t, "dan", "help")
	assert.Equal(t, "main", reply.Session.NodeID)
	assert.Equal(t, domain.StatusActive, reply.Session.Status)
}

func TestEngine_TimeoutFiresExactlyOnce(t *testing.T) {
	cfg := defaultConfig()
	cfg.TimeoutPolicy = runtime.TimeoutEnd
	h := newHarness(t, cfg)

	reply := h.send(t, "erin", "help")
	token := reply.Session.TimeoutToken
	require.NotEmpty(t, token)

	h.clock.Advance(29 * time.Second)
	assert.Empty(t, h.sender.sent())

	h.clock.Advance(time.Second)
	assert.Equal(t, []string{runtime.DefaultMessages().Timeout}, h.sender.sent())
	_, err := h.session(t, "erin")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)

	// Repeated expiry checks are no-ops.
	require.NoError(t, h.engine.HandleTimeout(context.Background(), domain.SessionKey("erin", conn), token))
	h.clock.Advance(time.Hour)
	assert.Len(t, h.sender.sent(), 1)
}

func TestEngine_TimeoutNodeTarget(t *testing.T) {
	flow := supportFlow()
	flow.Nodes[0].OnTimeout = "nodeA"
	h := newHarness(t, defaultConfig(), flow)

	h.send(t, "fay", "help")
	h.clock.Advance(30 * time.Second)

	assert.Equal(t, []string{"You picked A"}, h.sender.sent())
	_, err := h.session(t, "fay")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestEngine_FormFieldWithoutTimeoutNeverExpires(t *testing.T) {
	h := newHarness(t, defaultConfig())

	h.send(t, "gus", "help")
	h.send(t, "gus", "2")
	h.send(t, "gus", "80")

	h.clock.Advance(time.Hour)
	assert.Empty(t, h.sender.sent())

	s, err := h.session(t, "gus")
	require.NoError(t, err)
	assert.Equal(t, "deposit", s.NodeID)
	assert.Empty(t, s.TimeoutToken)
}

func TestEngine_TimeoutMainFlowRestarts(t *testing.T) {
	flow := supportFlow()
	flow.Nodes[2].TimeoutSeconds = 60
	h := newHarness(t, defaultConfig(), flow)

	h.send(t, "gil", "help")
	reply := h.send(t, "gil", "2")
	h.send(t, "gil", "80")
	require.NotEmpty(t, reply.Session.TimeoutToken)

	h.clock.Advance(60 * time.Second)
	assert.Equal(t, []string{runtime.DefaultMessages().Timeout, "How can we help?"}, h.sender.sent())

	s, err := h.session(t, "gil")
	require.NoError(t, err)
	assert.Equal(t, "main", s.NodeID)
	assert.Empty(t, s.Fields)
	assert.NotEmpty(t, s.TimeoutToken, "the root menu waits with its own timer")
}

func TestEngine_StaleTokenIgnored(t *testing.T) {
	h := newHarness(t, defaultConfig())
	reply := h.send(t, "hal", "help")

	err := h.engine.HandleTimeout(context.Background(), reply.Session.ID, "not-the-token")
	require.NoError(t, err)
	assert.Empty(t, h.sender.sent())

	s, err := h.session(t, "hal")
	require.NoError(t, err)
	assert.Equal(t, reply.Session.TimeoutToken, s.TimeoutToken)
}

func TestEngine_InputCancelsTimeout(t *testing.T) {
	h := newHarness(t, defaultConfig())

	h.send(t, "ivy", "help")
	h.send(t, "ivy", "9") // invalid, re-armed
	h.clock.Advance(20 * time.Second)
	h.send(t, "ivy", "9")
	h.clock.Advance(20 * time.Second)

	assert.Empty(t, h.sender.sent(), "each reply re-arms the timer")
}

// Either the inbound message or the timer wins; never both.
func TestEngine_InboundVersusExpiry(t *testing.T) {
	cfg := defaultConfig()
	cfg.TimeoutPolicy = runtime.TimeoutEnd
	h := newHarness(t, cfg)

	var fired atomic.Int32
	for i := 0; i < 50; i++ {
		contact := fmt.Sprintf("race-%d", i)
		h.send(t, contact, "help")
		before := len(h.sender.sent())

		var (
			wg    sync.WaitGroup
			reply *runtime.Reply
		)
		wg.Add(2)
		go func() {
			defer wg.Done()
			h.clock.Advance(30 * time.Second)
		}()
		go func() {
			defer wg.Done()
			r, err := h.engine.HandleInboundMessage(context.Background(), domain.InboundMessage{
				ContactID: contact, ConnectionID: conn, Text: "1",
			})
			assert.NoError(t, err)
			reply = r
		}()
		wg.Wait()

		timedOut := len(h.sender.sent()) > before
		if timedOut {
			fired.Add(1)
			assert.False(t, reply.Ended, "after a timeout the reply starts a new session")
		} else {
			assert.True(t, reply.Ended, "inbound won, so the fallback never ran")
		}
		_ = h.engine.Release(context.Background(), contact, conn)
	}
	t.Logf("timer won %d of 50 runs", fired.Load())
}

func TestEngine_CancelCommandResetsToRoot(t *testing.T) {
	h := newHarness(t, defaultConfig())
	h.send(t, "jo", "help")
	h.send(t, "jo", "2")
	reply := h.send(t, "jo", "150")
	require.Equal(t, "150", reply.Session.Fields["amount"])

	reply = h.send(t, "jo", "0")
	assert.Equal(t, "support", reply.Session.FlowID)
	assert.Equal(t, "main", reply.Session.NodeID)
	assert.Empty(t, reply.Session.Fields)
	assert.Zero(t, reply.Session.Cursor)
	assert.Equal(t, domain.IntentButtons, reply.Intents[len(reply.Intents)-1].Kind)
}

func TestEngine_InvalidOptionRetriesThenRestarts(t *testing.T) {
	h := newHarness(t, defaultConfig())
	h.send(t, "kim", "help")

	reply := h.send(t, "kim", "x")
	msgs := runtime.DefaultMessages()
	assert.Equal(t, []string{msgs.InvalidOption, "How can we help?"}, texts(reply))
	assert.Equal(t, 1, reply.Session.InvalidAttempts)

	h.send(t, "kim", "y")
	reply = h.send(t, "kim", "z")
	assert.Equal(t, msgs.TooManyInvalid, reply.Intents[0].Text)
	assert.Equal(t, "main", reply.Session.NodeID)
	assert.Zero(t, reply.Session.InvalidAttempts)
}

func TestEngine_InvalidOptionEscalates(t *testing.T) {
	flow := supportFlow()
	flow.Nodes[0].OnInvalid = "agent"
	cfg := defaultConfig()
	cfg.MaxInvalidAttempts = 1
	h := newHarness(t, cfg, flow)

	h.send(t, "lee", "help")
	reply := h.send(t, "lee", "nope")
	assert.Equal(t, "agent", reply.Session.NodeID)
	assert.Equal(t, domain.StatusHandedOff, reply.Session.Status)
}

func TestEngine_ConditionRoutes(t *testing.T) {
	h := newHarness(t, defaultConfig())
	h.send(t, "max", "help")

	reply := h.send(t, "max", "4")
	assert.Equal(t, []string{"Small"}, texts(reply))
	assert.Equal(t, []string{"main", "route", "small"}, reply.Session.History)
}

func TestEngine_NoFlowCreatesNoSession(t *testing.T) {
	h := newHarness(t, runtime.DefaultConfig())

	reply := h.send(t, "ned", "good morning")
	assert.Equal(t, []string{runtime.DefaultMessages().NoFlow}, texts(reply))
	assert.Nil(t, reply.Session)

	ids, err := h.store.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestEngine_TriggerBeatsDefault(t *testing.T) {
	sales := domain.Flow{
		ID: "sales", ConnectionID: conn, Active: true, Triggers: []string{"price"}, RootNodeID: "hi",
		Nodes: []domain.Node{{ID: "hi", Type: domain.NodeResponse, Content: "Prices!", IsFinal: true}},
	}
	h := newHarness(t, defaultConfig(), supportFlow(), sales)

	reply := h.send(t, "ola", "what's the PRICE")
	assert.Equal(t, []string{"Prices!"}, texts(reply))

	reply = h.send(t, "ola", "whatever")
	assert.Equal(t, "support", reply.Session.FlowID, "default flow when nothing matches")
}

func TestEngine_DynamicOptions(t *testing.T) {
	h := newHarness(t, defaultConfig())
	reply := h.send(t, "pam", "help")

	err := h.engine.SetDynamicOptions(context.Background(), reply.Session.ID, "main", []domain.Option{
		{Text: "Today's special", Value: "7", NextNodeID: "nodeA"},
	})
	require.NoError(t, err)

	reply = h.send(t, "pam", "7")
	assert.Equal(t, []string{"You picked A"}, texts(reply))

	// The overlay never leaks into other sessions.
	h.send(t, "quinn", "help")
	reply = h.send(t, "quinn", "7")
	assert.Equal(t, runtime.DefaultMessages().InvalidOption, reply.Intents[0].Text)
}

func TestEngine_HopLimit(t *testing.T) {
	loop := domain.Flow{
		ID: "loop", ConnectionID: conn, Active: true, Triggers: []string{"loop"}, RootNodeID: "a",
		Nodes: []domain.Node{
			{ID: "a", Type: domain.NodeResponse, Next: "b"},
			{ID: "b", Type: domain.NodeResponse, Next: "a"},
		},
	}
	cfg := runtime.DefaultConfig()
	cfg.MaxHops = 8
	h := newHarness(t, cfg, loop)

	reply := h.send(t, "rex", "loop")
	assert.Equal(t, domain.StageError, reply.Session.Stage)
	assert.Equal(t, runtime.DefaultMessages().Apology, reply.Intents[len(reply.Intents)-1].Text)
}

func TestEngine_MissingNodeRestartsAtRoot(t *testing.T) {
	h := newHarness(t, defaultConfig())
	s := domain.NewSession("sue", conn)
	s.FlowID = "support"
	s.NodeID = "removed-node"
	s.Stage = domain.StageAwaitingInput
	require.NoError(t, h.store.Save(context.Background(), s))

	reply := h.send(t, "sue", "1")
	assert.Equal(t, "main", reply.Session.NodeID)
}

func TestEngine_Hooks(t *testing.T) {
	h := newHarness(t, defaultConfig())

	var (
		mu      sync.Mutex
		entered []string
		ended   []string
		flows   []string
	)
	cache, err := flowcache.New(h.repo)
	require.NoError(t, err)
	eng := runtime.NewEngine(cache, session.NewManager(memory.NewStore()),
		runtime.WithConfig(defaultConfig()),
		runtime.WithClock(timeout.NewManualClock()),
		runtime.WithLifecycleHooks(domain.LifecycleHooks{
			OnFlowSelected: func(_ context.Context, ev *domain.FlowEvent) {
				mu.Lock()
				defer mu.Unlock()
				flows = append(flows, ev.FlowID+"/"+ev.Trigger)
			},
			OnNodeEnter: func(_ context.Context, ev *domain.NodeEvent) {
				mu.Lock()
				defer mu.Unlock()
				entered = append(entered, ev.NodeID)
			},
			OnSessionEnded: func(_ context.Context, ev *domain.SessionEvent) {
				mu.Lock()
				defer mu.Unlock()
				ended = append(ended, ev.Reason)
			},
		}),
	)
	defer eng.Close()

	ctx := context.Background()
	_, err = eng.HandleInboundMessage(ctx, domain.InboundMessage{ContactID: "tom", ConnectionID: conn, Text: "help"})
	require.NoError(t, err)
	_, err = eng.HandleInboundMessage(ctx, domain.InboundMessage{ContactID: "tom", ConnectionID: conn, Text: "1"})
	require.NoError(t, err)

	assert.Equal(t, []string{"support/help"}, flows)
	assert.Equal(t, []string{"main", "nodeA"}, entered)
	assert.Equal(t, []string{"final"}, ended)
}

func TestEngine_RejectsOversizedInput(t *testing.T) {
	h := newHarness(t, defaultConfig())
	big := make([]byte, runtime.DefaultMaxInputSize+1)
	for i := range big {
		big[i] = 'a'
	}
	_, err := h.engine.HandleInboundMessage(context.Background(), domain.InboundMessage{
		ContactID: "uma", ConnectionID: conn, Text: string(big),
	})
	assert.ErrorIs(t, err, runtime.ErrInputTooLarge)
}
