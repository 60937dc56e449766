package session_test

import (
	"context"
	"testing"
	"time"

	"github.com/Open-Harness/open-harness-sub011/pkg/domain"
	"github.com/Open-Harness/open-harness-sub011/pkg/hub"
	"github.com/Open-Harness/open-harness-sub011/pkg/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitPending(t *testing.T, c *session.Controller) string {
	t.Helper()
	var id string
	require.Eventually(t, func() bool {
		var ok bool
		id, ok = c.Pending()
		return ok
	}, time.Second, time.Millisecond)
	return id
}

func TestController_PromptAndReply(t *testing.T) {
	h := hub.New()
	c := session.NewController(h)
	h.BindPrompts(c)

	type result struct {
		resp any
		err  error
	}
	done := make(chan result, 1)
	go func() {
		resp, err := c.Prompt(context.Background(), domain.PromptRequest{NodeID: "gate", Text: "Deploy?", Choices: []string{"yes", "no"}})
		done <- result{resp, err}
	}()

	id := waitPending(t, c)
	assert.Equal(t, "prompt-1", id)
	require.Eventually(t, func() bool { return h.Status() == domain.HubPaused }, time.Second, time.Millisecond)

	h.Reply(id, "yes")
	res := <-done
	require.NoError(t, res.err)
	assert.Equal(t, "yes", res.resp)

	history := h.History()
	require.Len(t, history, 2)
	prompt := history[0].Payload.(*domain.SessionPrompt)
	assert.Equal(t, "Deploy?", prompt.Text)
	assert.Equal(t, []string{"yes", "no"}, prompt.Choices)
	reply := history[1].Payload.(*domain.SessionReply)
	assert.Equal(t, "prompt-1", reply.PromptID)
	assert.Equal(t, "yes", reply.Response)

	_, pending := c.Pending()
	assert.False(t, pending)
}

func TestController_SecondPromptIsRejected(t *testing.T) {
	c := session.NewController(hub.New())

	go func() { _, _ = c.Prompt(context.Background(), domain.PromptRequest{Text: "first"}) }()
	first := waitPending(t, c)

	_, err := c.Prompt(context.Background(), domain.PromptRequest{Text: "second"})
	var concurrent *domain.ConcurrentPromptError
	require.ErrorAs(t, err, &concurrent)
	assert.Equal(t, first, concurrent.PendingID)

	require.NoError(t, c.Resolve(first, "ok"))
}

func TestController_ReplyToUnknownPrompt(t *testing.T) {
	c := session.NewController(hub.New())
	assert.ErrorIs(t, c.Resolve("prompt-9", "x"), domain.ErrUnknownPrompt)
}

func TestController_AbortResolvesPendingPrompt(t *testing.T) {
	h := hub.New()
	c := session.NewController(h)
	h.BindPrompts(c)

	errs := make(chan error, 1)
	go func() {
		_, err := c.Prompt(context.Background(), domain.PromptRequest{Text: "wait"})
		errs <- err
	}()
	waitPending(t, c)

	h.Abort("operator")

	select {
	case err := <-errs:
		assert.ErrorIs(t, err, domain.ErrAborted)
	case <-time.After(time.Second):
		t.Fatal("abort did not resolve the prompt")
	}

	_, err := c.Prompt(context.Background(), domain.PromptRequest{Text: "after"})
	assert.ErrorIs(t, err, domain.ErrAborted, "no prompt opens after abort")
}

func TestController_ContextCancellation(t *testing.T) {
	h := hub.New()
	c := session.NewController(h)
	h.Emit(context.Background(), &domain.RunStart{})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := c.Prompt(ctx, domain.PromptRequest{Text: "nobody answers"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	_, pending := c.Pending()
	assert.False(t, pending, "an abandoned prompt does not block the next one")

	history := h.History()
	require.Len(t, history, 3)
	reply, ok := history[2].Payload.(*domain.SessionReply)
	require.True(t, ok)
	assert.Equal(t, "prompt-1", reply.PromptID)
	assert.True(t, reply.Cancelled)
	assert.Nil(t, reply.Response)
	assert.Equal(t, domain.HubRunning, h.Status())
}
