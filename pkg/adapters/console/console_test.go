package console

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/parley/internal/flowcache"
	"github.com/aretw0/parley/internal/runtime"
	"github.com/aretw0/parley/pkg/adapters/memory"
	"github.com/aretw0/parley/pkg/domain"
	"github.com/aretw0/parley/pkg/session"
)

func TestSender_PlainOutput(t *testing.T) {
	var buf bytes.Buffer
	s := NewSender(&buf)
	ctx := context.Background()
	to := domain.Address{ContactID: "me", ConnectionID: "console"}

	require.NoError(t, s.SendText(ctx, to, "Hello"))
	require.NoError(t, s.SendButtons(ctx, to, "Pick one", []domain.Button{{Value: "1", Text: "Sales"}}))
	require.NoError(t, s.SendMedia(ctx, to, "https://x/doc.pdf", "Your invoice"))

	out := buf.String()
	assert.Contains(t, out, "Hello")
	assert.Contains(t, out, "- **1** Sales")
	assert.Contains(t, out, "[attachment] https://x/doc.pdf")
	assert.Contains(t, out, "Your invoice")
}

func TestChat_Run(t *testing.T) {
	flow := domain.Flow{
		ID: "hello", ConnectionID: "console", Active: true, RootNodeID: "ask",
		Nodes: []domain.Node{
			{ID: "ask", Type: domain.NodePrompt, Content: "Your name?", WaitForInput: true, SaveTo: "name", Next: "bye"},
			{ID: "bye", Type: domain.NodeResponse, Content: "Bye {{.name}}", IsFinal: true},
		},
	}
	cache, err := flowcache.New(memory.NewRepository(flow))
	require.NoError(t, err)
	cfg := runtime.DefaultConfig()
	cfg.GlobalDefaultFlow = "hello"
	engine := runtime.NewEngine(cache, session.NewManager(memory.NewStore()), runtime.WithConfig(cfg))
	t.Cleanup(engine.Close)

	var out bytes.Buffer
	chat := &Chat{
		Handler:      engine,
		Sender:       NewSender(&out),
		In:           strings.NewReader("hi\n\nAda\n/quit\nignored\n"),
		ContactID:    "me",
		ConnectionID: "console",
	}
	require.NoError(t, chat.Run(context.Background()))

	assert.Contains(t, out.String(), "Your name?")
	assert.Contains(t, out.String(), "Bye Ada")
	assert.Contains(t, out.String(), "conversation ended")
	assert.NotContains(t, out.String(), "ignored")
}

func TestChat_ParseAttach(t *testing.T) {
	c := &Chat{ContactID: "me", ConnectionID: "console"}

	msg, quit := c.parse("/attach file.png image/png")
	assert.False(t, quit)
	assert.Equal(t, "file.png", msg.MediaRef)
	assert.Equal(t, "image/png", msg.MediaType)
	assert.True(t, msg.IsImage())

	_, quit = c.parse("  /quit ")
	assert.True(t, quit)
}

func TestPrintBanner(t *testing.T) {
	var buf bytes.Buffer
	PrintBanner(&buf)
	assert.Contains(t, buf.String(), "|___/")
}
