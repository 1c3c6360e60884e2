package ports

import (
	"context"
	"testing"
	"time"

	"github.com/aretw0/parley/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunSessionStoreContract runs a suite of tests to verify that a SessionStore implementation
// adheres to the defined interface contract.
func RunSessionStoreContract(t *testing.T, store SessionStore) {
	ctx := context.Background()
	suffix := time.Now().Format("20060102150405")

	t.Run("Save and Get", func(t *testing.T) {
		s := domain.NewSession("contact-"+suffix, "conn")
		s.FlowID = "support"
		s.NodeID = "ask_amount"
		s.Stage = domain.StageCollectingField
		s.Cursor = 2
		s.Fields["amount"] = "150"
		s.SetDynamicOptions("menu", []domain.Option{{Text: "One", Value: "1", NextNodeID: "a"}})

		require.NoError(t, store.Save(ctx, s), "Save should not return error")

		loaded, err := store.Get(ctx, s.ID)
		require.NoError(t, err, "Get should not return error")
		assert.Equal(t, s.NodeID, loaded.NodeID)
		assert.Equal(t, s.Stage, loaded.Stage)
		assert.Equal(t, 2, loaded.Cursor)
		assert.Equal(t, "150", loaded.Fields["amount"])
		assert.Equal(t, "a", loaded.DynamicOptions["menu"][0].NextNodeID)
	})

	t.Run("Get Non-Existent", func(t *testing.T) {
		_, err := store.Get(ctx, "non-existent-"+suffix)
		assert.ErrorIs(t, err, domain.ErrSessionNotFound)
	})

	t.Run("Stored copy is isolated", func(t *testing.T) {
		s := domain.NewSession("isolated-"+suffix, "conn")
		s.Fields["k"] = "v1"
		require.NoError(t, store.Save(ctx, s))

		s.Fields["k"] = "v2"
		loaded, err := store.Get(ctx, s.ID)
		require.NoError(t, err)
		assert.Equal(t, "v1", loaded.Fields["k"])
		_ = store.Delete(ctx, s.ID)
	})

	t.Run("Delete", func(t *testing.T) {
		s := domain.NewSession("delete-"+suffix, "conn")
		require.NoError(t, store.Save(ctx, s))

		require.NoError(t, store.Delete(ctx, s.ID), "Delete should not return error")

		_, err := store.Get(ctx, s.ID)
		assert.ErrorIs(t, err, domain.ErrSessionNotFound, "Get after Delete should return ErrSessionNotFound")
	})

	t.Run("List", func(t *testing.T) {
		s1 := domain.NewSession("list-1-"+suffix, "conn")
		s2 := domain.NewSession("list-2-"+suffix, "conn")
		_ = store.Save(ctx, s1)
		_ = store.Save(ctx, s2)

		defer func() {
			_ = store.Delete(ctx, s1.ID)
			_ = store.Delete(ctx, s2.ID)
		}()

		ids, err := store.List(ctx)
		require.NoError(t, err)
		assert.Contains(t, ids, s1.ID)
		assert.Contains(t, ids, s2.ID)
	})
}

// ContractFlows returns the fixture every FlowRepository under contract test must serve.
func ContractFlows() []domain.Flow {
	created := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	return []domain.Flow{
		{
			ID:           "contract-support",
			ConnectionID: "conn-a",
			Name:         "Support",
			Active:       true,
			Priority:     1,
			CreatedAt:    created,
			Triggers:     []string{"help", "support"},
			RootNodeID:   "menu",
			Nodes: []domain.Node{
				{
					ID: "menu", Type: domain.NodeMenu, Content: "Choose", WaitForInput: true, TimeoutSeconds: 30,
					Options: []domain.Option{
						{Text: "Talk", Value: "1", NextNodeID: "bye", Order: 1},
					},
				},
				{
					ID: "bye", Type: domain.NodeResponse, Content: "Bye", IsFinal: true, HasActions: true,
					Actions: []domain.NodeAction{
						{Type: domain.ActionSendMessage, Config: map[string]any{"text": "closing"}, Order: 1, Active: true},
					},
				},
			},
		},
		{
			ID:           "contract-sales",
			ConnectionID: "conn-b",
			Name:         "Sales",
			Active:       true,
			Priority:     2,
			CreatedAt:    created,
			Triggers:     []string{"buy"},
			RootNodeID:   "hello",
			Nodes: []domain.Node{
				{ID: "hello", Type: domain.NodeResponse, Content: "Hello", IsFinal: true},
			},
		},
	}
}

// RunFlowRepositoryContract verifies a FlowRepository seeded with ContractFlows.
func RunFlowRepositoryContract(t *testing.T, repo FlowRepository) {
	ctx := context.Background()

	t.Run("LoadFlow", func(t *testing.T) {
		for _, want := range ContractFlows() {
			got, err := repo.LoadFlow(ctx, want.ID)
			require.NoError(t, err, "LoadFlow(%s)", want.ID)
			assert.Equal(t, want.ConnectionID, got.ConnectionID)
			assert.Equal(t, want.RootNodeID, got.RootNodeID)
			assert.ElementsMatch(t, want.Triggers, got.Triggers)
			require.Len(t, got.Nodes, len(want.Nodes))
		}
	})

	t.Run("LoadFlow keeps node details", func(t *testing.T) {
		got, err := repo.LoadFlow(ctx, "contract-support")
		require.NoError(t, err)

		byID := make(map[string]domain.Node)
		for _, n := range got.Nodes {
			byID[n.ID] = n
		}
		menu := byID["menu"]
		assert.Equal(t, domain.NodeMenu, menu.Type)
		assert.True(t, menu.WaitForInput)
		assert.Equal(t, 30, menu.TimeoutSeconds)
		require.Len(t, menu.Options, 1)
		assert.Equal(t, "bye", menu.Options[0].NextNodeID)

		bye := byID["bye"]
		assert.True(t, bye.IsFinal)
		require.Len(t, bye.Actions, 1)
		assert.Equal(t, domain.ActionSendMessage, bye.Actions[0].Type)
		assert.Equal(t, "closing", bye.Actions[0].Config["text"])
	})

	t.Run("LoadFlow Non-Existent", func(t *testing.T) {
		_, err := repo.LoadFlow(ctx, "non-existent-flow")
		assert.ErrorIs(t, err, domain.ErrFlowNotFound)
	})

	t.Run("ListFlows by connection", func(t *testing.T) {
		flows, err := repo.ListFlows(ctx, "conn-a")
		require.NoError(t, err)
		require.Len(t, flows, 1)
		assert.Equal(t, "contract-support", flows[0].ID)
	})

	t.Run("ListFlows all", func(t *testing.T) {
		flows, err := repo.ListFlows(ctx, "")
		require.NoError(t, err)
		ids := make([]string, 0, len(flows))
		for _, f := range flows {
			ids = append(ids, f.ID)
		}
		assert.Contains(t, ids, "contract-support")
		assert.Contains(t, ids, "contract-sales")
	})
}
