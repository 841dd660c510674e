package steward

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
	"golang.org/x/time/rate"
)

// AdminSession is the subset of discordgo.Session the executor needs.
// Mirrors the DiscordSessionHandler pattern used for the gateway: the
// executor never talks to discordgo directly, which keeps it mockable.
type AdminSession interface {
	GuildMemberDeleteWithReason(
		guildID string, userID string, reason string,
		options ...discordgo.RequestOption,
	) error
	GuildBanCreateWithReason(
		guildID string, userID string, reason string, days int,
		options ...discordgo.RequestOption,
	) error
	GuildBanDelete(
		guildID string, userID string,
		options ...discordgo.RequestOption,
	) error
	GuildMemberTimeout(
		guildID string, userID string, until *time.Time,
		options ...discordgo.RequestOption,
	) error
	GuildMemberNickname(
		guildID string, userID string, nickname string,
		options ...discordgo.RequestOption,
	) error
	GuildMemberRoleAdd(
		guildID string, userID string, roleID string,
		options ...discordgo.RequestOption,
	) error
	GuildMemberRoleRemove(
		guildID string, userID string, roleID string,
		options ...discordgo.RequestOption,
	) error
	GuildRoleEdit(
		guildID string, roleID string, data *discordgo.RoleParams,
		options ...discordgo.RequestOption,
	) (*discordgo.Role, error)
	GuildChannelCreate(
		guildID string, name string, ctype discordgo.ChannelType,
		options ...discordgo.RequestOption,
	) (*discordgo.Channel, error)
	ChannelDelete(
		channelID string,
		options ...discordgo.RequestOption,
	) (*discordgo.Channel, error)
	ChannelMessages(
		channelID string, limit int, beforeID string, afterID string, aroundID string,
		options ...discordgo.RequestOption,
	) ([]*discordgo.Message, error)
	ChannelMessageDelete(
		channelID string, messageID string,
		options ...discordgo.RequestOption,
	) error
}

// ExecutionResult reports the outcome of a confirmed action back to the
// requester. For multi-target actions Succeeded/Failed carry partial
// counts instead of failing the whole batch opaquely.
type ExecutionResult struct {
	Action    ActionType `json:"action"`
	Summary   string     `json:"summary"`
	Succeeded int        `json:"succeeded"`
	Failed    int        `json:"failed"`
	Err       error      `json:"-"`
}

// Message renders the result for the requester.
func (r *ExecutionResult) Message() string {
	if r.Err != nil {
		return "❌ " + UserMessage(r.Err)
	}
	return "✅ " + r.Summary
}

const (
	// maxRateLimitBackoff caps the single retry wait: this is an
	// interactive flow, not a batch job.
	maxRateLimitBackoff = 5 * time.Second

	// bulkDeleteRate paces individual message deletions.
	bulkDeleteRate = rate.Limit(1)

	// channelMessagesPageSize is the platform's page limit for
	// channel history.
	channelMessagesPageSize = 100
)

// Executor dispatches confirmed actions to the platform. Every call
// gets a single bounded retry on a rate-limit response; permission
// rejections map to ExecutionForbiddenError, distinct from the
// hierarchy check that ran before confirmation.
type Executor struct {
	session       AdminSession
	namer         RoleNamer
	logger        *slog.Logger
	deleteLimiter *rate.Limiter
}

func NewExecutor(session AdminSession, namer RoleNamer, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		session:       session,
		namer:         namer,
		logger:        logger.With(loggerNameKey, "executor"),
		deleteLimiter: rate.NewLimiter(bulkDeleteRate, 1),
	}
}

// Execute dispatches a CONFIRMED confirmation to the platform. The
// caller guarantees it is invoked at most once per confirmation.
func (e *Executor) Execute(
	ctx context.Context,
	p *PendingConfirmation,
	snap GuildSnapshot,
) *ExecutionResult {
	result := &ExecutionResult{Action: p.Action}
	params := p.Params
	reason := auditReason(params.Reason, p.RequesterID)

	var err error
	switch p.Action {
	case ActionKickUser:
		err = e.withRetry(
			ctx, func() error {
				return e.session.GuildMemberDeleteWithReason(
					p.GuildID, params.Target.ID, reason,
				)
			},
		)
		result.Summary = fmt.Sprintf("Kicked **%s**.", params.Target.DisplayName)

	case ActionBanUser:
		err = e.withRetry(
			ctx, func() error {
				return e.session.GuildBanCreateWithReason(
					p.GuildID, params.Target.ID, reason, params.DeleteDays,
				)
			},
		)
		result.Summary = fmt.Sprintf("Banned **%s**.", params.Target.DisplayName)

	case ActionUnbanUser:
		err = e.withRetry(
			ctx, func() error {
				return e.session.GuildBanDelete(p.GuildID, params.UserID)
			},
		)
		result.Summary = fmt.Sprintf("Unbanned <@%s>.", params.UserID)

	case ActionTimeoutUser:
		until := time.Now().UTC().Add(params.Duration)
		err = e.withRetry(
			ctx, func() error {
				return e.session.GuildMemberTimeout(
					p.GuildID, params.Target.ID, &until,
				)
			},
		)
		result.Summary = fmt.Sprintf(
			"Timed out **%s** for %s.",
			params.Target.DisplayName, formatDuration(params.Duration),
		)

	case ActionRemoveTimeout:
		err = e.withRetry(
			ctx, func() error {
				return e.session.GuildMemberTimeout(p.GuildID, params.Target.ID, nil)
			},
		)
		result.Summary = fmt.Sprintf(
			"Removed timeout from **%s**.", params.Target.DisplayName,
		)

	case ActionChangeNickname:
		err = e.withRetry(
			ctx, func() error {
				return e.session.GuildMemberNickname(
					p.GuildID, params.Target.ID, params.Nickname,
				)
			},
		)
		result.Summary = fmt.Sprintf(
			"Changed **%s**'s nickname to **%s**.",
			params.Target.DisplayName, params.Nickname,
		)

	case ActionAddRole:
		err = e.withRetry(
			ctx, func() error {
				return e.session.GuildMemberRoleAdd(
					p.GuildID, params.Target.ID, params.Role.ID,
				)
			},
		)
		result.Summary = fmt.Sprintf(
			"Added role **%s** to **%s**.",
			params.Role.DisplayName, params.Target.DisplayName,
		)

	case ActionRemoveRole:
		err = e.withRetry(
			ctx, func() error {
				return e.session.GuildMemberRoleRemove(
					p.GuildID, params.Target.ID, params.Role.ID,
				)
			},
		)
		result.Summary = fmt.Sprintf(
			"Removed role **%s** from **%s**.",
			params.Role.DisplayName, params.Target.DisplayName,
		)

	case ActionRenameRole:
		err = e.withRetry(
			ctx, func() error {
				_, editErr := e.session.GuildRoleEdit(
					p.GuildID, params.Role.ID,
					&discordgo.RoleParams{Name: params.NewName},
				)
				return editErr
			},
		)
		result.Summary = fmt.Sprintf(
			"Renamed role **%s** to **%s**.",
			params.Role.DisplayName, params.NewName,
		)

	case ActionReorganizeRoles:
		return e.executeReorganizeRoles(ctx, p, snap)

	case ActionBulkDelete:
		return e.executeBulkDelete(ctx, p)

	case ActionCreateChannel:
		chType := discordgo.ChannelTypeGuildText
		if params.ChannelKind == ChannelVoice {
			chType = discordgo.ChannelTypeGuildVoice
		}
		err = e.withRetry(
			ctx, func() error {
				_, createErr := e.session.GuildChannelCreate(
					p.GuildID, params.ChannelName, chType,
				)
				return createErr
			},
		)
		result.Summary = fmt.Sprintf(
			"Created %s channel **%s**.", params.ChannelKind, params.ChannelName,
		)

	case ActionDeleteChannel:
		err = e.withRetry(
			ctx, func() error {
				_, delErr := e.session.ChannelDelete(params.Channel.ID)
				return delErr
			},
		)
		result.Summary = fmt.Sprintf(
			"Deleted channel **#%s**.", params.Channel.DisplayName,
		)

	default:
		err = fmt.Errorf("unknown action type: %s", p.Action)
	}

	if err != nil {
		result.Err = e.mapPlatformError(p.Action, err)
		e.logger.Error(
			"action execution failed",
			"confirmation", p,
			tint.Err(result.Err),
		)
	} else {
		result.Succeeded = 1
	}
	return result
}

// executeReorganizeRoles asks the RoleNamer for rename suggestions and
// applies them one at a time, reporting renamed vs failed counts.
func (e *Executor) executeReorganizeRoles(
	ctx context.Context,
	p *PendingConfirmation,
	snap GuildSnapshot,
) *ExecutionResult {
	result := &ExecutionResult{Action: p.Action}
	if e.namer == nil {
		result.Err = errors.New("no role name source configured")
		return result
	}

	roles := manageableRoles(snap)
	if len(roles) == 0 {
		result.Err = errors.New("no manageable roles to reorganize")
		return result
	}

	renames, err := e.namer.SuggestRenames(ctx, p.Params.Context, roles)
	if err != nil {
		result.Err = fmt.Errorf("role name suggestion failed: %w", err)
		return result
	}
	if len(renames) == 0 {
		result.Summary = "No role changes needed - names already fit the context."
		return result
	}

	var failures []string
	for _, rename := range renames {
		editErr := e.withRetry(
			ctx, func() error {
				_, err := e.session.GuildRoleEdit(
					p.GuildID, rename.RoleID,
					&discordgo.RoleParams{Name: rename.NewName},
				)
				return err
			},
		)
		if editErr != nil {
			result.Failed++
			failures = append(
				failures,
				fmt.Sprintf("'%s': %s", rename.OldName, UserMessage(
					e.mapPlatformError(p.Action, editErr),
				)),
			)
			e.logger.Warn(
				"role rename failed",
				"role_id", rename.RoleID,
				"old_name", rename.OldName,
				"new_name", rename.NewName,
				tint.Err(editErr),
			)
			continue
		}
		result.Succeeded++
	}

	result.Summary = fmt.Sprintf(
		"Role reorganization complete: %d renamed, %d failed.",
		result.Succeeded, result.Failed,
	)
	if len(failures) > 0 {
		result.Summary += "\nFailures:\n• " + joinLimited(failures, 5, "\n• ")
	}
	return result
}

// executeBulkDelete walks channel history pages, deleting matching
// messages until the requested count is reached. Partial failures
// (already-deleted messages, etc.) are counted, not fatal.
func (e *Executor) executeBulkDelete(
	ctx context.Context,
	p *PendingConfirmation,
) *ExecutionResult {
	result := &ExecutionResult{Action: p.Action}
	params := p.Params

	searchLimit := params.Count
	if params.FilterUser != nil {
		searchLimit = params.Count * 10
	}
	if searchLimit > maxBulkDeleteCount {
		searchLimit = maxBulkDeleteCount
	}

	var checked int
	var beforeID string
	for checked < searchLimit && result.Succeeded < params.Count {
		pageSize := channelMessagesPageSize
		if remaining := searchLimit - checked; remaining < pageSize {
			pageSize = remaining
		}

		var page []*discordgo.Message
		err := e.withRetry(
			ctx, func() error {
				var fetchErr error
				page, fetchErr = e.session.ChannelMessages(
					p.ChannelID, pageSize, beforeID, "", "",
				)
				return fetchErr
			},
		)
		if err != nil {
			result.Err = e.mapPlatformError(p.Action, err)
			return result
		}
		if len(page) == 0 {
			break
		}

		for _, msg := range page {
			checked++
			beforeID = msg.ID
			if result.Succeeded >= params.Count {
				break
			}
			if params.FilterUser != nil &&
				(msg.Author == nil || msg.Author.ID != params.FilterUser.ID) {
				continue
			}
			if waitErr := e.deleteLimiter.Wait(ctx); waitErr != nil {
				result.Err = waitErr
				return result
			}
			delErr := e.withRetry(
				ctx, func() error {
					return e.session.ChannelMessageDelete(p.ChannelID, msg.ID)
				},
			)
			if delErr != nil {
				result.Failed++
				continue
			}
			result.Succeeded++
		}
	}

	switch {
	case checked == 0:
		result.Summary = "No messages found to delete."
	case result.Succeeded == 0 && params.FilterUser != nil:
		result.Summary = fmt.Sprintf(
			"Checked %d message(s), none were from **%s**.",
			checked, params.FilterUser.DisplayName,
		)
	default:
		result.Summary = fmt.Sprintf(
			"Deleted %d message(s) (%d failed).", result.Succeeded, result.Failed,
		)
	}
	return result
}

// withRetry runs op, retrying exactly once on a platform rate-limit
// response after waiting out the advertised backoff (capped). Anything
// beyond the single retry surfaces as ErrPlatformRateLimited.
func (e *Executor) withRetry(ctx context.Context, op func() error) error {
	err := op()
	if err == nil {
		return nil
	}

	var rateErr *discordgo.RateLimitError
	if !errors.As(err, &rateErr) {
		return err
	}

	wait := rateErr.RetryAfter
	if wait <= 0 || wait > maxRateLimitBackoff {
		wait = maxRateLimitBackoff
	}
	e.logger.Warn(
		"rate limited, retrying once",
		"retry_after", rateErr.RetryAfter,
		"wait", wait,
	)

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
	}

	err = op()
	if err == nil {
		return nil
	}
	if errors.As(err, &rateErr) {
		return fmt.Errorf("%w: %v", ErrPlatformRateLimited, err)
	}
	return err
}

// mapPlatformError converts platform permission rejections into the
// user-facing ExecutionForbiddenError.
func (e *Executor) mapPlatformError(action ActionType, err error) error {
	var restErr *discordgo.RESTError
	if errors.As(err, &restErr) && restErr.Response != nil &&
		restErr.Response.StatusCode == http.StatusForbidden {
		return &ExecutionForbiddenError{Action: action, Err: err}
	}
	return err
}

// manageableRoles returns the guild's roles that sit below the bot's
// top role, excluding managed roles and @everyone.
func manageableRoles(snap GuildSnapshot) []GuildRole {
	botTop := highestRolePosition(snap, snap.BotUserID())
	var out []GuildRole
	for _, role := range snap.Roles() {
		if role.Managed || role.Name == "@everyone" {
			continue
		}
		if role.Position >= botTop {
			continue
		}
		out = append(out, role)
	}
	return out
}

// auditReason appends the requester to the audit-log reason sent to
// the platform.
func auditReason(reason, requesterID string) string {
	if reason == "" {
		reason = "requested via steward"
	}
	return fmt.Sprintf("%s (requested by %s)", reason, requesterID)
}

// joinLimited joins at most limit items, noting how many were omitted.
func joinLimited(items []string, limit int, sep string) string {
	if len(items) <= limit {
		return join(items, sep)
	}
	out := join(items[:limit], sep)
	return fmt.Sprintf("%s%s... and %d more", out, sep, len(items)-limit)
}

func join(items []string, sep string) string {
	out := ""
	for i, item := range items {
		if i > 0 {
			out += sep
		}
		out += item
	}
	return out
}
