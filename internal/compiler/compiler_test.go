package compiler_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/parley/internal/compiler"
	"github.com/aretw0/parley/pkg/domain"
)

func validFlow() domain.Flow {
	return domain.Flow{
		ID:         "support",
		RootNodeID: "menu",
		Nodes: []domain.Node{
			{ID: "menu", Type: domain.NodeMenu, Content: "Pick", TimeoutSeconds: 30, Options: []domain.Option{
				{Text: "Second", Value: "2", NextNodeID: "route", Order: 2},
				{Text: "First", Value: "1", NextNodeID: "nodeA", Order: 1},
			}},
			{ID: "nodeA", Type: domain.NodeResponse, Content: "A", TimeoutSeconds: 10, IsFinal: true, Actions: []domain.NodeAction{
				{Type: domain.ActionSendMessage, Order: 3, Active: true},
				{Type: domain.ActionWaitInput, Order: 1, Active: false},
				{Type: domain.ActionEndConversation, Order: 2, Active: true},
			}},
			{ID: "route", Type: domain.NodeCondition, Next: "nodeA", Branches: []domain.Branch{{When: "x exists", Next: "nodeA"}}},
		},
	}
}

func TestCompile_Normalizes(t *testing.T) {
	g, warnings, err := compiler.Compile(validFlow())
	require.NoError(t, err)

	menu, ok := g.Node("menu")
	require.True(t, ok)
	assert.True(t, menu.WaitForInput)
	assert.Equal(t, 30, menu.TimeoutSeconds)
	assert.Equal(t, "1", menu.Options[0].Value)
	assert.Equal(t, "support", menu.FlowID)

	a, _ := g.Node("nodeA")
	assert.Zero(t, a.TimeoutSeconds)
	assert.True(t, a.HasActions)
	require.Len(t, a.Actions, 2)
	assert.Equal(t, domain.ActionEndConversation, a.Actions[0].Type)

	require.NotEmpty(t, warnings)
	assert.Equal(t, "nodeA", warnings[0].NodeID)
}

func TestCompile_GraphIsIsolatedFromInput(t *testing.T) {
	flow := validFlow()
	g, _, err := compiler.Compile(flow)
	require.NoError(t, err)

	flow.Nodes[0].Options[0].NextNodeID = "mutated"
	menu, _ := g.Node("menu")
	for _, o := range menu.Options {
		assert.NotEqual(t, "mutated", o.NextNodeID)
	}
}

func TestValidate_ReportsEveryProblem(t *testing.T) {
	flow := domain.Flow{
		ID:         "broken",
		RootNodeID: "start",
		Nodes: []domain.Node{
			{ID: "start", Type: domain.NodeMenu, Options: []domain.Option{
				{Text: "a", Value: "1", NextNodeID: "ghost"},
				{Text: "b", Value: "1", NextNodeID: "start"},
			}},
			{ID: "cond", Type: domain.NodeCondition, Branches: []domain.Branch{{Field: "x", Op: "eq", Value: "1", Next: "start"}}},
			{ID: "f", Type: domain.NodeForm},
			{ID: "weird", Type: "carousel"},
			{ID: "act", Type: domain.NodeResponse, Actions: []domain.NodeAction{{Type: "launch_rocket", Active: true}}},
		},
	}

	warnings, err := compiler.Validate(flow)

	var verr *compiler.ValidationError
	require.True(t, errors.As(err, &verr))
	joined := verr.Error()
	assert.Contains(t, joined, "missing node 'ghost'")
	assert.Contains(t, joined, "duplicate option value '1'")
	assert.Contains(t, joined, "cond: condition has no else target")
	assert.Contains(t, joined, "f: form has no fields")
	assert.Contains(t, joined, "unknown node type 'carousel'")
	assert.Contains(t, joined, "unknown action type 'launch_rocket'")

	unreachable := 0
	for _, w := range warnings {
		if w.Message == "unreachable from root" {
			unreachable++
		}
	}
	assert.Equal(t, 4, unreachable)
}

func TestValidate_MissingRoot(t *testing.T) {
	_, err := compiler.Validate(domain.Flow{ID: "x", RootNodeID: "nope"})
	assert.ErrorContains(t, err, "root node 'nope' not found")
}

func TestValidate_ConditionPredicates(t *testing.T) {
	flow := domain.Flow{
		ID:         "cond",
		RootNodeID: "c",
		Nodes: []domain.Node{
			{ID: "c", Type: domain.NodeCondition, Next: "end", Branches: []domain.Branch{
				{Field: "x", Op: "greater", Value: "1", Next: "end"},
				{Field: "cpf", Op: "matches", Value: "([0-9", Next: "end"},
				{When: "name matches (", Next: "end"},
				{When: "is_vip()", Next: "end"},
				{Field: "plan", Next: "end"},
			}},
			{ID: "end", Type: domain.NodeResponse, Content: "bye", IsFinal: true},
		},
	}

	warnings, err := compiler.Validate(flow)

	var verr *compiler.ValidationError
	require.ErrorAs(t, err, &verr)
	require.Len(t, verr.Problems, 3)
	assert.Contains(t, verr.Problems[0], "branch 0 has unknown operator 'greater'")
	assert.Contains(t, verr.Problems[1], "branch 1 pattern")
	assert.Contains(t, verr.Problems[2], "branch 2 pattern")

	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0].Message, "branch 3 is left to the host evaluator")
}
