package steward

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ConfirmationState is the lifecycle state of a pending admin action.
// PENDING is the only non-terminal state.
type ConfirmationState string

const (
	ConfirmationPending   ConfirmationState = "pending"
	ConfirmationConfirmed ConfirmationState = "confirmed"
	ConfirmationCancelled ConfirmationState = "cancelled"
	ConfirmationExpired   ConfirmationState = "expired"
)

// Terminal reports whether the state accepts no further transitions.
func (s ConfirmationState) Terminal() bool {
	return s != ConfirmationPending
}

// ConfirmationEvent is an input to the confirmation state machine.
type ConfirmationEvent string

const (
	EventApprove ConfirmationEvent = "approve"
	EventReject  ConfirmationEvent = "reject"
	EventExpire  ConfirmationEvent = "expire"
)

// nextConfirmationState is the pure transition function for the
// confirmation state machine: (current state, event) -> next state.
// Events against a terminal state leave it unchanged.
func nextConfirmationState(
	current ConfirmationState,
	event ConfirmationEvent,
) ConfirmationState {
	if current.Terminal() {
		return current
	}
	switch event {
	case EventApprove:
		return ConfirmationConfirmed
	case EventReject:
		return ConfirmationCancelled
	case EventExpire:
		return ConfirmationExpired
	}
	return current
}

// PendingConfirmation is an admin action awaiting reaction approval.
// By construction it never holds unresolved entity references: it is
// only created after resolution and the permission gate both succeed.
// The prompt message ID is the primary key for matching reactions.
type PendingConfirmation struct {
	ID              string             `json:"id"`
	PromptMessageID string             `json:"prompt_message_id"`
	RequesterID     string             `json:"requester_id"`
	GuildID         string             `json:"guild_id"`
	ChannelID       string             `json:"channel_id"`
	Action          ActionType         `json:"action"`
	Params          ResolvedParameters `json:"params"`
	CreatedAt       time.Time          `json:"created_at"`
	ExpiresAt       time.Time          `json:"expires_at"`
	State           ConfirmationState  `json:"state"`
}

func NewPendingConfirmation(
	requesterID string,
	guildID string,
	channelID string,
	params *ResolvedParameters,
	window time.Duration,
) *PendingConfirmation {
	now := time.Now().UTC()
	return &PendingConfirmation{
		ID:          uuid.NewString(),
		RequesterID: requesterID,
		GuildID:     guildID,
		ChannelID:   channelID,
		Action:      params.Action,
		Params:      *params,
		CreatedAt:   now,
		ExpiresAt:   now.Add(window),
		State:       ConfirmationPending,
	}
}

func (p *PendingConfirmation) ExpiredAt(now time.Time) bool {
	return now.After(p.ExpiresAt)
}

func (p *PendingConfirmation) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("id", p.ID),
		slog.String("prompt_message_id", p.PromptMessageID),
		slog.String("requester_id", p.RequesterID),
		slog.String("guild_id", p.GuildID),
		slog.String("action", p.Action.String()),
		slog.String("state", string(p.State)),
		slog.Time("expires_at", p.ExpiresAt),
	)
}

// Prompt renders the human-readable confirmation message for this
// action, ending with the reaction instructions.
func (p *PendingConfirmation) Prompt() string {
	var summary string
	params := p.Params
	switch p.Action {
	case ActionKickUser:
		summary = fmt.Sprintf("🦵 Kick user **%s**", params.Target.DisplayName)
		if params.Reason != "" {
			summary += fmt.Sprintf(" - Reason: %s", params.Reason)
		}
	case ActionBanUser:
		summary = fmt.Sprintf("🔨 Ban user **%s**", params.Target.DisplayName)
		if params.Reason != "" {
			summary += fmt.Sprintf(" - Reason: %s", params.Reason)
		}
		if params.DeleteDays > 0 {
			summary += fmt.Sprintf(" (deleting %d day(s) of messages)", params.DeleteDays)
		}
	case ActionUnbanUser:
		summary = fmt.Sprintf("✅ Unban user **<@%s>**", params.UserID)
	case ActionTimeoutUser:
		summary = fmt.Sprintf(
			"⏰ Timeout **%s** for %s",
			params.Target.DisplayName,
			formatDuration(params.Duration),
		)
		if params.Reason != "" {
			summary += fmt.Sprintf(" - Reason: %s", params.Reason)
		}
	case ActionRemoveTimeout:
		summary = fmt.Sprintf("✅ Remove timeout from **%s**", params.Target.DisplayName)
	case ActionChangeNickname:
		summary = fmt.Sprintf(
			"✏️ Change **%s**'s nickname to **%s**",
			params.Target.DisplayName, params.Nickname,
		)
	case ActionAddRole:
		summary = fmt.Sprintf(
			"➕ Add role **%s** to **%s**",
			params.Role.DisplayName, params.Target.DisplayName,
		)
	case ActionRemoveRole:
		summary = fmt.Sprintf(
			"➖ Remove role **%s** from **%s**",
			params.Role.DisplayName, params.Target.DisplayName,
		)
	case ActionRenameRole:
		summary = fmt.Sprintf(
			"✏️ Rename role **%s** to **%s**",
			params.Role.DisplayName, params.NewName,
		)
	case ActionReorganizeRoles:
		summary = fmt.Sprintf(
			"🎭 Reorganize all manageable roles (context: %s)", params.Context,
		)
	case ActionBulkDelete:
		summary = fmt.Sprintf("🗑️ Delete %d message(s)", params.Count)
		if params.FilterUser != nil {
			summary += fmt.Sprintf(" from **%s**", params.FilterUser.DisplayName)
		}
	case ActionCreateChannel:
		summary = fmt.Sprintf(
			"➕ Create %s channel **%s**", params.ChannelKind, params.ChannelName,
		)
	case ActionDeleteChannel:
		summary = fmt.Sprintf("🗑️ Delete channel **#%s**", params.Channel.DisplayName)
	default:
		summary = fmt.Sprintf("❓ %s", p.Action)
	}
	return summary + "\n\nReact with ✅ to confirm or ❌ to cancel."
}

// formatDuration renders a duration without trailing zero units
// ("30m0s" -> "30m").
func formatDuration(d time.Duration) string {
	s := d.String()
	if strings.HasSuffix(s, "m0s") {
		s = strings.TrimSuffix(s, "0s")
	}
	if strings.HasSuffix(s, "h0m") {
		s = strings.TrimSuffix(s, "0m")
	}
	return s
}

// ConfirmationStore holds pending confirmations keyed by prompt message
// ID. Implementations must make the PENDING -> terminal transition
// atomic per key: whichever of a reaction or the expiry sweep observes
// PENDING first wins, the other no-ops.
type ConfirmationStore interface {
	// Put stores a confirmation under its prompt message ID.
	Put(p *PendingConfirmation) error

	// Get returns the confirmation for a prompt message, if any.
	Get(promptMessageID string) (*PendingConfirmation, bool)

	// Transition atomically applies the event if the record is still
	// PENDING, removing it from the store when the resulting state is
	// terminal. The returned boolean indicates the event won the
	// transition; on false the returned state is what the record had
	// already reached.
	Transition(
		promptMessageID string,
		event ConfirmationEvent,
		now time.Time,
	) (*PendingConfirmation, ConfirmationState, bool)

	// SweepExpired removes every PENDING record past its deadline and
	// returns them, already transitioned to EXPIRED.
	SweepExpired(now time.Time) []*PendingConfirmation

	// Pending returns a snapshot of the store's PENDING records.
	Pending() []*PendingConfirmation
}

// MemoryConfirmationStore is the in-memory ConfirmationStore used in
// production. Confirmations are deliberately not persisted: after a
// restart a stale prompt simply expires, it is never re-confirmable.
type MemoryConfirmationStore struct {
	mu      sync.Mutex
	records map[string]*PendingConfirmation
	logger  *slog.Logger
}

func NewMemoryConfirmationStore(logger *slog.Logger) *MemoryConfirmationStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &MemoryConfirmationStore{
		records: map[string]*PendingConfirmation{},
		logger:  logger.With(loggerNameKey, "confirmation_store"),
	}
}

func (s *MemoryConfirmationStore) Put(p *PendingConfirmation) error {
	if p.PromptMessageID == "" {
		return fmt.Errorf("confirmation %s has no prompt message id", p.ID)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.records[p.PromptMessageID]; ok {
		return fmt.Errorf(
			"prompt message %s already has confirmation %s",
			p.PromptMessageID, existing.ID,
		)
	}
	s.records[p.PromptMessageID] = p
	return nil
}

func (s *MemoryConfirmationStore) Get(promptMessageID string) (*PendingConfirmation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.records[promptMessageID]
	return p, ok
}

func (s *MemoryConfirmationStore) Transition(
	promptMessageID string,
	event ConfirmationEvent,
	now time.Time,
) (*PendingConfirmation, ConfirmationState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.records[promptMessageID]
	if !ok {
		return nil, "", false
	}
	if p.State.Terminal() {
		return p, p.State, false
	}

	// A reaction arriving after the deadline loses to expiry even if
	// the sweep hasn't run yet.
	if p.ExpiredAt(now) && event != EventExpire {
		p.State = nextConfirmationState(p.State, EventExpire)
		delete(s.records, promptMessageID)
		return p, p.State, false
	}

	p.State = nextConfirmationState(p.State, event)
	if p.State.Terminal() {
		delete(s.records, promptMessageID)
	}
	return p, p.State, true
}

func (s *MemoryConfirmationStore) SweepExpired(now time.Time) []*PendingConfirmation {
	s.mu.Lock()
	defer s.mu.Unlock()

	var expired []*PendingConfirmation
	for key, p := range s.records {
		if p.State == ConfirmationPending && p.ExpiredAt(now) {
			p.State = ConfirmationExpired
			delete(s.records, key)
			expired = append(expired, p)
		}
	}
	if len(expired) > 0 {
		s.logger.Info("swept expired confirmations", "count", len(expired))
	}
	return expired
}

func (s *MemoryConfirmationStore) Pending() []*PendingConfirmation {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*PendingConfirmation, 0, len(s.records))
	for _, p := range s.records {
		if p.State == ConfirmationPending {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out
}
