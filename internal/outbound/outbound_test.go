package outbound_test

import (
	"context"
	"testing"

	"github.com/aretw0/parley/internal/outbound"
	"github.com/aretw0/parley/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultInterpolator(t *testing.T) {
	ctx := context.Background()

	out, err := outbound.DefaultInterpolator(ctx, "Deposit of {{.amount}} received", map[string]any{"amount": "150"})
	require.NoError(t, err)
	assert.Equal(t, "Deposit of 150 received", out)

	out, err = outbound.DefaultInterpolator(ctx, "Hi {{.name}}!", map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, "Hi !", out)

	_, err = outbound.DefaultInterpolator(ctx, "{{.broken", nil)
	assert.Error(t, err)
}

func TestIntents(t *testing.T) {
	to := domain.Address{ContactID: "c", ConnectionID: "wa"}
	a := outbound.Text(to, "x")
	b := outbound.Text(to, "x")
	assert.NotEqual(t, a.ID, b.ID)
	assert.Equal(t, domain.IntentText, a.Kind)

	menu := outbound.Buttons(to, "Pick", []domain.Option{{Value: "1", Text: "Sales"}})
	assert.Equal(t, []domain.Button{{Value: "1", Text: "Sales"}}, menu.Buttons)
}

func TestMenuText(t *testing.T) {
	got := outbound.MenuText("Choose:", []domain.Option{{Value: "1", Text: "Sales"}, {Value: "2", Text: "Support"}})
	assert.Equal(t, "Choose:\n1 - Sales\n2 - Support", got)
}
