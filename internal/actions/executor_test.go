package actions_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/parley/internal/actions"
	"github.com/aretw0/parley/pkg/domain"
)

type mockDocuments struct{ mock.Mock }

func (m *mockDocuments) Send(ctx context.Context, cfg domain.DocumentConfig, s *domain.Session) error {
	return m.Called(cfg, s.ID).Error(0)
}

type mockRouter struct{ mock.Mock }

func (m *mockRouter) Transfer(ctx context.Context, cfg domain.TransferConfig, s *domain.Session) error {
	return m.Called(cfg, s.ID).Error(0)
}

func newSession() *domain.Session {
	s := domain.NewSession("5511", "wa")
	s.FlowID = "deposit"
	s.Fields["amount"] = "150"
	return s
}

func intentTexts(intents []domain.OutboundIntent) []string {
	out := make([]string, 0, len(intents))
	for _, in := range intents {
		out = append(out, in.Text)
	}
	return out
}

func TestExecute_OrderAndInterpolation(t *testing.T) {
	docs := new(mockDocuments)
	s := newSession()

	docs.On("Send", domain.DocumentConfig{URL: "https://files/receipt.pdf", Caption: "Receipt 150"}, s.ID).Return(nil).Once()

	node := &domain.Node{
		ID: "done",
		Actions: []domain.NodeAction{
			{Type: domain.ActionSendDocument, Order: 2, Active: true, Config: map[string]any{"url": "https://files/receipt.pdf", "caption": "Receipt {{.amount}}"}},
			{Type: domain.ActionSendMessage, Order: 1, Active: true, Config: map[string]any{"text": "Got {{.amount}}"}},
			{Type: domain.ActionSendMessage, Order: 3, Active: true, Config: map[string]any{"text": "Bye"}},
			{Type: domain.ActionTransferAgent, Order: 0, Active: false},
		},
	}

	var events []domain.ActionType
	exec := actions.New(
		actions.WithDocumentSender(docs),
		actions.WithActionHook(func(_ context.Context, ev *domain.ActionEvent) { events = append(events, ev.Action) }),
	)

	var flushed []string
	flush := func(_ context.Context, pending []domain.OutboundIntent) error {
		docs.AssertNotCalled(t, "Send", mock.Anything, mock.Anything)
		flushed = append(flushed, intentTexts(pending)...)
		return nil
	}

	res, err := exec.Execute(context.Background(), node, s, flush)
	require.NoError(t, err)
	assert.Equal(t, []domain.ActionType{domain.ActionSendMessage, domain.ActionSendDocument, domain.ActionSendMessage}, res.Executed)
	assert.Equal(t, res.Executed, events)
	assert.Equal(t, []string{"Got 150"}, flushed, "messages queued before the document are flushed ahead of it")
	assert.Equal(t, []string{"Bye"}, intentTexts(res.Intents))
	docs.AssertExpectations(t)
}

func TestExecute_MessagesAreQueuedWithoutFlush(t *testing.T) {
	node := &domain.Node{ID: "n", Actions: []domain.NodeAction{
		{Type: domain.ActionSendMessage, Order: 1, Active: true, Config: map[string]any{"text": "one"}},
		{Type: domain.ActionSendMessage, Order: 2, Active: true, Config: map[string]any{"text": "two {{.amount}}"}},
	}}
	s := newSession()

	res, err := actions.New().Execute(context.Background(), node, s, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"one", "two 150"}, intentTexts(res.Intents))
	assert.Equal(t, s.Address(), res.Intents[0].To)
}

func TestExecute_MessageWithoutText(t *testing.T) {
	node := &domain.Node{ID: "n", Actions: []domain.NodeAction{
		{Type: domain.ActionSendMessage, Active: true, Config: map[string]any{"text": "{{.nothing}}"}},
	}}
	res, err := actions.New().Execute(context.Background(), node, newSession(), nil)

	var aerr *domain.ActionError
	require.ErrorAs(t, err, &aerr)
	assert.Equal(t, domain.ActionSendMessage, aerr.Action)
	assert.Empty(t, res.Intents)
}

func TestExecute_FailureStopsRemaining(t *testing.T) {
	docs := new(mockDocuments)
	router := new(mockRouter)
	s := newSession()

	docs.On("Send", domain.DocumentConfig{URL: "https://files/x.pdf"}, s.ID).Return(errors.New("storage down")).Once()

	node := &domain.Node{
		ID: "handoff",
		Actions: []domain.NodeAction{
			{Type: domain.ActionSendMessage, Order: 1, Active: true, Config: map[string]any{"text": "Hold on"}},
			{Type: domain.ActionSendDocument, Order: 2, Active: true, Config: map[string]any{"url": "https://files/x.pdf"}},
			{Type: domain.ActionTransferDepartment, Order: 3, Active: true, Config: map[string]any{"department_id": "finance"}},
		},
	}

	exec := actions.New(actions.WithDocumentSender(docs), actions.WithDepartmentRouter(router))
	res, err := exec.Execute(context.Background(), node, s, nil)

	var aerr *domain.ActionError
	require.ErrorAs(t, err, &aerr)
	assert.Equal(t, domain.ActionSendDocument, aerr.Action)
	assert.ErrorContains(t, err, "storage down")
	assert.Equal(t, []domain.ActionType{domain.ActionSendMessage}, res.Executed)
	assert.Equal(t, []string{"Hold on"}, intentTexts(res.Intents))
	assert.Equal(t, domain.StatusActive, s.Status)
	router.AssertNotCalled(t, "Transfer", mock.Anything, mock.Anything)
}

func TestExecute_FlushFailureFailsDocument(t *testing.T) {
	docs := new(mockDocuments)
	node := &domain.Node{ID: "n", Actions: []domain.NodeAction{
		{Type: domain.ActionSendDocument, Active: true, Config: map[string]any{"url": "https://x"}},
	}}
	flush := func(context.Context, []domain.OutboundIntent) error { return errors.New("channel down") }

	_, err := actions.New(actions.WithDocumentSender(docs)).Execute(context.Background(), node, newSession(), flush)
	assert.ErrorContains(t, err, "channel down")
	docs.AssertNotCalled(t, "Send", mock.Anything, mock.Anything)
}

func TestExecute_TransferHandsOff(t *testing.T) {
	router := new(mockRouter)
	s := newSession()
	router.On("Transfer", domain.TransferConfig{DepartmentID: "7", Message: "Connecting you"}, s.ID).Return(nil)

	node := &domain.Node{ID: "n", Actions: []domain.NodeAction{
		{Type: domain.ActionTransferDepartment, Order: 1, Active: true, Config: map[string]any{"department_id": 7, "message": "Connecting you"}},
	}}

	res, err := actions.New(actions.WithDepartmentRouter(router)).Execute(context.Background(), node, s, nil)
	require.NoError(t, err)
	assert.True(t, res.HandedOff)
	assert.Equal(t, domain.StatusHandedOff, s.Status)
	require.Len(t, res.Intents, 1)
	assert.Equal(t, "Connecting you", res.Intents[0].Text)
}

func TestExecute_EndSkipsLaterActions(t *testing.T) {
	node := &domain.Node{ID: "bye", Actions: []domain.NodeAction{
		{Type: domain.ActionEndConversation, Order: 1, Active: true, Config: map[string]any{"message": "Bye"}},
		{Type: domain.ActionSendMessage, Order: 2, Active: true, Config: map[string]any{"text": "never"}},
	}}

	res, err := actions.New().Execute(context.Background(), node, newSession(), nil)
	require.NoError(t, err)
	assert.True(t, res.Ended)
	assert.Equal(t, []domain.ActionType{domain.ActionEndConversation}, res.Executed)
	assert.Equal(t, []string{"Bye"}, intentTexts(res.Intents))
}

func TestExecute_MissingCapability(t *testing.T) {
	node := &domain.Node{ID: "n", Actions: []domain.NodeAction{
		{Type: domain.ActionSendDocument, Active: true, Config: map[string]any{"url": "https://x"}},
	}}
	_, err := actions.New().Execute(context.Background(), node, newSession(), nil)
	assert.ErrorIs(t, err, domain.ErrCapabilityUnavailable)
}

func TestExecute_WaitMarker(t *testing.T) {
	node := &domain.Node{ID: "n", Actions: []domain.NodeAction{{Type: domain.ActionWaitInput, Active: true}}}
	res, err := actions.New().Execute(context.Background(), node, newSession(), nil)
	require.NoError(t, err)
	assert.True(t, res.Wait)
}

func TestExecute_InvalidConfig(t *testing.T) {
	node := &domain.Node{ID: "n", Actions: []domain.NodeAction{
		{Type: domain.ActionTransferAgent, Active: true, Config: map[string]any{"message": "x"}},
	}}
	_, err := actions.New(actions.WithAgentRouter(new(mockRouter))).Execute(context.Background(), node, newSession(), nil)
	assert.ErrorContains(t, err, "agent_id is required")
}
