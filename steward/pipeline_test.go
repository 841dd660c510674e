package steward

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakePrompter collects prompt traffic in memory and hands out
// sequential message IDs.
type fakePrompter struct {
	mu        sync.Mutex
	nextID    int
	sent      map[string]string
	updated   map[string]string
	reactions map[string][]string
	cleared   []string
	sendErr   error
}

func newFakePrompter() *fakePrompter {
	return &fakePrompter{
		sent:      map[string]string{},
		updated:   map[string]string{},
		reactions: map[string][]string{},
	}
}

func (f *fakePrompter) SendPrompt(_ string, content string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return "", f.sendErr
	}
	f.nextID++
	id := fmt.Sprintf("prompt-%d", f.nextID)
	f.sent[id] = content
	return id, nil
}

func (f *fakePrompter) UpdatePrompt(_ string, messageID string, content string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updated[messageID] = content
	return nil
}

func (f *fakePrompter) React(_ string, messageID string, emoji string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reactions[messageID] = append(f.reactions[messageID], emoji)
	return nil
}

func (f *fakePrompter) ClearReactions(_ string, messageID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleared = append(f.cleared, messageID)
	return nil
}

type fakeAudits struct {
	mu      sync.Mutex
	records []*ActionAudit
}

func (f *fakeAudits) Record(_ context.Context, audit *ActionAudit) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, audit)
	return nil
}

func (f *fakeAudits) last(t testing.TB) *ActionAudit {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.records)
	return f.records[len(f.records)-1]
}

type pipelineFixture struct {
	interpreter *Interpreter
	session     *mockAdminSession
	prompter    *fakePrompter
	store       *MemoryConfirmationStore
	audits      *fakeAudits
}

func newPipelineFixture(t testing.TB, window time.Duration) *pipelineFixture {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Admins = []string{"admin-1"}
	cfg.Confirmation.Window = window

	session := &mockAdminSession{}
	prompter := newFakePrompter()
	store := NewMemoryConfirmationStore(nil)
	audits := &fakeAudits{}
	interpreter := NewInterpreter(
		cfg, store, NewExecutor(session, nil, nil), prompter, audits, nil,
	)
	return &pipelineFixture{
		interpreter: interpreter,
		session:     session,
		prompter:    prompter,
		store:       store,
		audits:      audits,
	}
}

func (f *pipelineFixture) interpret(
	t testing.TB, rawText string, mentions []Mention,
) *PendingConfirmation {
	t.Helper()
	p, err := f.interpreter.InterpretAdminIntent(
		context.Background(), rawText, "admin-1", "chan-1", mentions, testSnapshot(),
	)
	require.NoError(t, err)
	require.NotNil(t, p)
	return p
}

func (f *pipelineFixture) react(emoji, userID, messageID string) error {
	return f.interpreter.OnReaction(
		context.Background(),
		ReactionEvent{
			MessageID: messageID,
			ChannelID: "chan-1",
			GuildID:   "guild-1",
			UserID:    userID,
			Emoji:     emoji,
		},
		testSnapshot(),
	)
}

// The full approve path: message in, prompt out, reaction in, platform
// call out, audit row written.
func TestPipelineApprove(t *testing.T) {
	f := newPipelineFixture(t, time.Minute)

	p := f.interpret(
		t,
		"<@bot-1> timeout <@alice-1> for 30 minutes for being rude",
		[]Mention{{ID: "bot-1", Bot: true}, {ID: "alice-1"}},
	)

	assert.Equal(t, ActionTimeoutUser, p.Action)
	assert.Equal(t, ConfirmationPending, p.State)
	assert.Equal(t, "alice-1", p.Params.Target.ID)
	assert.Equal(t, 30*time.Minute, p.Params.Duration)
	assert.Equal(t, "being rude", p.Params.Reason)

	prompt := f.prompter.sent[p.PromptMessageID]
	assert.Contains(t, prompt, "Timeout **alice** for 30m")
	assert.Contains(t, prompt, "Reason: being rude")
	assert.Equal(
		t, []string{emojiConfirm, emojiCancel},
		f.prompter.reactions[p.PromptMessageID],
	)

	_, ok := f.store.Get(p.PromptMessageID)
	require.True(t, ok)

	require.NoError(t, f.react(emojiConfirm, "admin-1", p.PromptMessageID))
	f.interpreter.WaitForExecutions()
	require.NotNil(t, f.session.timeoutUntil)

	assert.Contains(t, f.prompter.updated[p.PromptMessageID], "✅ Timed out **alice**")
	assert.Contains(t, f.prompter.cleared, p.PromptMessageID)

	audit := f.audits.last(t)
	assert.Equal(t, ConfirmationConfirmed, audit.State)
	assert.Equal(t, ActionTimeoutUser, audit.Action)
	assert.Equal(t, "alice-1", audit.TargetID)
	assert.Equal(t, 1, audit.Succeeded)

	// the settled prompt no longer accepts reactions
	require.NoError(t, f.react(emojiConfirm, "admin-1", p.PromptMessageID))
	f.interpreter.WaitForExecutions()
	assert.Equal(t, 1, f.session.callCount("GuildMemberTimeout"))
}

func TestPipelineCancel(t *testing.T) {
	f := newPipelineFixture(t, time.Minute)

	p := f.interpret(t, "kick <@alice-1> for spamming", []Mention{{ID: "alice-1"}})

	require.NoError(t, f.react(emojiCancel, "admin-1", p.PromptMessageID))

	assert.Equal(t, 0, f.session.callCount("GuildMemberDeleteWithReason"))
	assert.Equal(t, "❌ Action cancelled.", f.prompter.updated[p.PromptMessageID])

	audit := f.audits.last(t)
	assert.Equal(t, ConfirmationCancelled, audit.State)

	_, ok := f.store.Get(p.PromptMessageID)
	assert.False(t, ok)
}

// A confirmed action that is slow on the platform must not hold up
// other reactions: settling one prompt while another's execution is
// still in flight works.
func TestPipelineSlowExecutionDoesNotBlockReactions(t *testing.T) {
	f := newPipelineFixture(t, time.Minute)
	f.session.gate = make(chan struct{})

	first := f.interpret(t, "kick <@alice-1> for spamming", []Mention{{ID: "alice-1"}})
	second := f.interpret(t, "ban <@bob-1>", []Mention{{ID: "bob-1"}})

	// The kick is parked on the session gate after confirmation.
	require.NoError(t, f.react(emojiConfirm, "admin-1", first.PromptMessageID))

	require.NoError(t, f.react(emojiCancel, "admin-1", second.PromptMessageID))
	assert.Equal(t, "❌ Action cancelled.", f.prompter.updated[second.PromptMessageID])
	assert.Equal(t, 0, f.session.callCount("GuildMemberDeleteWithReason"))

	close(f.session.gate)
	f.interpreter.WaitForExecutions()
	assert.Equal(t, 1, f.session.callCount("GuildMemberDeleteWithReason"))
	assert.Contains(t, f.prompter.updated[first.PromptMessageID], "Kicked **alice**")

	audit := f.audits.last(t)
	assert.Equal(t, ActionKickUser, audit.Action)
	assert.Equal(t, 1, audit.Succeeded)
}

func TestPipelineIgnoresIrrelevantReactions(t *testing.T) {
	f := newPipelineFixture(t, time.Minute)

	p := f.interpret(t, "kick <@alice-1>", []Mention{{ID: "alice-1"}})

	t.Run(
		"non-requester", func(t *testing.T) {
			assert.NoError(t, f.react(emojiConfirm, "alice-1", p.PromptMessageID))
		},
	)
	t.Run(
		"unknown emoji", func(t *testing.T) {
			assert.NoError(t, f.react("🎉", "admin-1", p.PromptMessageID))
		},
	)
	t.Run(
		"unrelated message", func(t *testing.T) {
			assert.NoError(t, f.react(emojiConfirm, "admin-1", "not-a-prompt"))
		},
	)

	// still pending, nothing executed
	_, ok := f.store.Get(p.PromptMessageID)
	assert.True(t, ok)
	assert.Empty(t, f.session.calls)
}

func TestPipelineUnauthorized(t *testing.T) {
	f := newPipelineFixture(t, time.Minute)

	_, err := f.interpreter.InterpretAdminIntent(
		context.Background(),
		"kick <@alice-1>",
		"rando-1", "chan-1",
		[]Mention{{ID: "alice-1"}},
		testSnapshot(),
	)
	assert.ErrorIs(t, err, ErrPermissionDenied)
	assert.Empty(t, f.prompter.sent)
}

func TestPipelineHierarchyBlocksPrompt(t *testing.T) {
	f := newPipelineFixture(t, time.Minute)

	_, err := f.interpreter.InterpretAdminIntent(
		context.Background(),
		"ban <@duke-1>",
		"admin-1", "chan-1",
		[]Mention{{ID: "duke-1"}},
		testSnapshot(),
	)
	var hierarchy *InsufficientHierarchyError
	require.True(t, errors.As(err, &hierarchy))
	assert.Empty(t, f.prompter.sent)
}

func TestPipelineAmbiguousEntityBlocksPrompt(t *testing.T) {
	f := newPipelineFixture(t, time.Minute)

	_, err := f.interpreter.InterpretAdminIntent(
		context.Background(),
		"kick ali",
		"admin-1", "chan-1", nil,
		testSnapshot(),
	)
	var ambiguous *EntityAmbiguousError
	require.True(t, errors.As(err, &ambiguous))
	assert.Empty(t, f.prompter.sent)
}

// A pronoun in a follow-up request refers back to the last resolved
// user from the same requester.
func TestPipelineAntecedent(t *testing.T) {
	f := newPipelineFixture(t, time.Minute)

	f.interpret(t, "kick <@alice-1>", []Mention{{ID: "alice-1"}})

	p := f.interpret(t, "timeout her for 5 minutes", nil)
	assert.Equal(t, ActionTimeoutUser, p.Action)
	assert.Equal(t, "alice-1", p.Params.Target.ID)
	assert.Equal(t, 5*time.Minute, p.Params.Duration)
}

func TestPipelineExpiredReaction(t *testing.T) {
	f := newPipelineFixture(t, time.Millisecond)

	p := f.interpret(t, "kick <@alice-1>", []Mention{{ID: "alice-1"}})

	time.Sleep(5 * time.Millisecond)

	err := f.react(emojiConfirm, "admin-1", p.PromptMessageID)
	assert.ErrorIs(t, err, ErrConfirmationExpired)

	assert.Equal(t, 0, f.session.callCount("GuildMemberDeleteWithReason"))
	assert.Contains(t, f.prompter.updated[p.PromptMessageID], "Confirmation expired")

	audit := f.audits.last(t)
	assert.Equal(t, ConfirmationExpired, audit.State)
}

func TestPipelineSweepExpired(t *testing.T) {
	f := newPipelineFixture(t, time.Millisecond)

	p := f.interpret(t, "kick <@alice-1>", []Mention{{ID: "alice-1"}})

	swept := f.interpreter.SweepExpired(
		context.Background(), time.Now().UTC().Add(time.Second),
	)
	assert.Equal(t, 1, swept)
	assert.Contains(t, f.prompter.updated[p.PromptMessageID], "Confirmation expired")
	assert.Empty(t, f.interpreter.Pending())

	audit := f.audits.last(t)
	assert.Equal(t, ConfirmationExpired, audit.State)

	// second sweep finds nothing
	assert.Equal(
		t, 0,
		f.interpreter.SweepExpired(context.Background(), time.Now().UTC().Add(time.Hour)),
	)
}

func TestPipelinePromptSendFailure(t *testing.T) {
	f := newPipelineFixture(t, time.Minute)
	f.prompter.sendErr = errors.New("channel gone")

	_, err := f.interpreter.InterpretAdminIntent(
		context.Background(),
		"kick <@alice-1>",
		"admin-1", "chan-1",
		[]Mention{{ID: "alice-1"}},
		testSnapshot(),
	)
	require.Error(t, err)
	assert.Empty(t, f.store.Pending())
}

func TestPipelinePendingSnapshot(t *testing.T) {
	f := newPipelineFixture(t, time.Minute)

	f.interpret(t, "kick <@alice-1>", []Mention{{ID: "alice-1"}})
	f.interpret(t, "ban <@bob-1>", []Mention{{ID: "bob-1"}})

	pending := f.interpreter.Pending()
	assert.Len(t, pending, 2)
}
