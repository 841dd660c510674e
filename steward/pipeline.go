package steward

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/lmittmann/tint"
)

const (
	emojiConfirm = "✅"
	emojiCancel  = "❌"
)

// ConfirmationPrompter posts and updates the confirmation prompt
// messages. The gateway layer implements it against the live session;
// tests implement it in memory.
type ConfirmationPrompter interface {
	// SendPrompt posts the confirmation prompt and returns the new
	// message's ID, which becomes the confirmation key.
	SendPrompt(channelID string, content string) (string, error)

	// UpdatePrompt edits a previously posted prompt in place.
	UpdatePrompt(channelID string, messageID string, content string) error

	// React seeds a reaction on the prompt.
	React(channelID string, messageID string, emoji string) error

	// ClearReactions removes all reactions once the prompt is settled.
	ClearReactions(channelID string, messageID string) error
}

// AuditRecorder persists one record per settled confirmation.
type AuditRecorder interface {
	Record(ctx context.Context, audit *ActionAudit) error
}

// ReactionEvent is a reaction add on some message, as seen by the
// gateway. Most of them have nothing to do with us.
type ReactionEvent struct {
	MessageID string
	ChannelID string
	GuildID   string
	UserID    string
	Emoji     string
}

// Interpreter is the admin command pipeline: classify, extract,
// resolve, gate, confirm, execute. One instance serves all guilds.
type Interpreter struct {
	classifier *Classifier
	resolver   *Resolver
	gate       *PermissionGate
	store      ConfirmationStore
	executor   *Executor
	prompter   ConfirmationPrompter
	audits     AuditRecorder
	logger     *slog.Logger

	confirmWindow time.Duration
	executing     sync.WaitGroup
}

func NewInterpreter(
	cfg *Config,
	store ConfirmationStore,
	executor *Executor,
	prompter ConfirmationPrompter,
	audits AuditRecorder,
	logger *slog.Logger,
) *Interpreter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Interpreter{
		classifier:    NewClassifier(&cfg.Interpreter, logger),
		resolver:      NewResolver(&cfg.Interpreter, logger),
		gate:          NewPermissionGate(cfg.Admins, logger),
		store:         store,
		executor:      executor,
		prompter:      prompter,
		audits:        audits,
		logger:        logger.With(loggerNameKey, "interpreter"),
		confirmWindow: cfg.Confirmation.Window,
	}
}

// InterpretAdminIntent runs a message addressed to the bot through the
// full pipeline up to the confirmation prompt. Nothing touches the
// platform until the prompt is posted; every stage failure surfaces as
// a typed error the caller renders with UserMessage.
func (it *Interpreter) InterpretAdminIntent(
	ctx context.Context,
	rawText string,
	requesterID string,
	channelID string,
	mentions []Mention,
	snap GuildSnapshot,
) (*PendingConfirmation, error) {
	logger := it.logger.With(
		"guild_id", snap.GuildID(),
		"requester_id", requesterID,
	)

	if err := it.gate.Authorize(requesterID); err != nil {
		return nil, err
	}

	text := normalizeText(rawText, snap.BotUserID())

	intent, err := it.classifier.Classify(text)
	if err != nil {
		return nil, err
	}
	logger = logger.With("action", intent.Action.String())
	logger.Info(
		"admin intent classified",
		"confidence", intent.Confidence,
		"matched", intent.MatchedKeywords,
	)

	extract := extractorFor(intent.Action)
	if extract == nil {
		return nil, fmt.Errorf("no extractor for action %s", intent.Action)
	}
	params, err := extract(text, mentions)
	if err != nil {
		return nil, err
	}

	resolved, err := it.resolver.Resolve(params, snap, requesterID)
	if err != nil {
		return nil, err
	}

	if err := it.gate.CheckHierarchy(snap, requesterID, resolved.Action, resolved.Target); err != nil {
		return nil, err
	}

	p := NewPendingConfirmation(
		requesterID, snap.GuildID(), channelID, resolved, it.confirmWindow,
	)

	messageID, err := it.prompter.SendPrompt(channelID, p.Prompt())
	if err != nil {
		return nil, fmt.Errorf("sending confirmation prompt: %w", err)
	}
	p.PromptMessageID = messageID

	if err := it.store.Put(p); err != nil {
		return nil, err
	}

	// Seeding the reactions is a convenience; a failure here doesn't
	// invalidate the prompt.
	for _, emoji := range []string{emojiConfirm, emojiCancel} {
		if reactErr := it.prompter.React(channelID, messageID, emoji); reactErr != nil {
			logger.Warn("seeding prompt reaction failed", tint.Err(reactErr))
			break
		}
	}

	logger.Info("confirmation prompt posted", "confirmation", p)
	return p, nil
}

// OnReaction settles a pending confirmation when its requester reacts
// on the prompt message. Reactions from anyone else, unknown emoji, and
// messages that aren't prompts are all silently ignored. A confirmed
// action executes on its own goroutine so a slow one (bulk delete
// pacing, rate-limit retries) never stalls the gateway event loop.
func (it *Interpreter) OnReaction(
	ctx context.Context,
	event ReactionEvent,
	snap GuildSnapshot,
) error {
	p, ok := it.store.Get(event.MessageID)
	if !ok {
		return nil
	}
	if event.UserID != p.RequesterID {
		return nil
	}

	var transition ConfirmationEvent
	switch event.Emoji {
	case emojiConfirm:
		transition = EventApprove
	case emojiCancel:
		transition = EventReject
	default:
		return nil
	}

	p, state, won := it.store.Transition(event.MessageID, transition, time.Now().UTC())
	if !won {
		if state == ConfirmationExpired {
			it.settlePrompt(p, "⏰ Confirmation expired - no action taken.")
			it.record(ctx, p, nil)
			return ErrConfirmationExpired
		}
		// Lost the race to another reaction; the winner handles it.
		return nil
	}

	logger := it.logger.With("confirmation", p)

	if state == ConfirmationCancelled {
		logger.Info("action cancelled by requester")
		it.settlePrompt(p, "❌ Action cancelled.")
		it.record(ctx, p, nil)
		return nil
	}

	// The transition already settled the record exactly once, so this
	// goroutine owns the confirmation. The context is detached: the
	// action must finish even if the event handler's context goes away.
	execCtx := context.WithoutCancel(ctx)
	it.executing.Add(1)
	go func() {
		defer it.executing.Done()
		result := it.executor.Execute(execCtx, p, snap)
		it.settlePrompt(p, result.Message())
		it.record(execCtx, p, result)
		logger.Info(
			"action executed",
			"succeeded", result.Succeeded,
			"failed", result.Failed,
			"error", result.Err != nil,
		)
	}()
	return nil
}

// WaitForExecutions blocks until every confirmed action still in
// flight has settled. Called during shutdown.
func (it *Interpreter) WaitForExecutions() {
	it.executing.Wait()
}

// SweepExpired expires every overdue PENDING confirmation and updates
// their prompts. Run on a ticker by the bot loop.
func (it *Interpreter) SweepExpired(ctx context.Context, now time.Time) int {
	expired := it.store.SweepExpired(now)
	for _, p := range expired {
		it.settlePrompt(p, "⏰ Confirmation expired - no action taken.")
		it.record(ctx, p, nil)
	}
	return len(expired)
}

// Pending exposes the store's pending snapshot for the status API.
func (it *Interpreter) Pending() []*PendingConfirmation {
	return it.store.Pending()
}

func (it *Interpreter) settlePrompt(p *PendingConfirmation, content string) {
	if p == nil || p.PromptMessageID == "" {
		return
	}
	if err := it.prompter.UpdatePrompt(p.ChannelID, p.PromptMessageID, content); err != nil {
		it.logger.Warn("updating settled prompt failed", tint.Err(err))
	}
	if err := it.prompter.ClearReactions(p.ChannelID, p.PromptMessageID); err != nil {
		it.logger.Warn("clearing prompt reactions failed", tint.Err(err))
	}
}

func (it *Interpreter) record(
	ctx context.Context,
	p *PendingConfirmation,
	result *ExecutionResult,
) {
	if it.audits == nil || p == nil {
		return
	}
	audit := NewActionAudit(p, result)
	if err := it.audits.Record(ctx, audit); err != nil {
		it.logger.Error("recording action audit failed", tint.Err(err))
	}
}
