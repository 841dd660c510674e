package steward

import (
	"log/slog"
)

// PermissionGate performs the two pre-confirmation checks: requester
// authorization against the configured allow-list, and role-hierarchy
// validity for member-targeting actions. Both run before any prompt is
// posted, so the user is never shown a confirmation that's doomed to
// fail.
type PermissionGate struct {
	admins map[string]struct{}
	logger *slog.Logger
}

func NewPermissionGate(adminIDs []string, logger *slog.Logger) *PermissionGate {
	if logger == nil {
		logger = slog.Default()
	}
	admins := make(map[string]struct{}, len(adminIDs))
	for _, id := range adminIDs {
		admins[id] = struct{}{}
	}
	return &PermissionGate{
		admins: admins,
		logger: logger.With(loggerNameKey, "permission_gate"),
	}
}

// Authorize checks the requester against the admin allow-list.
// Unauthorized requesters get ErrPermissionDenied and no further
// processing.
func (g *PermissionGate) Authorize(requesterID string) error {
	if _, ok := g.admins[requesterID]; !ok {
		g.logger.Warn("unauthorized admin request", "requester_id", requesterID)
		return ErrPermissionDenied
	}
	return nil
}

// CheckHierarchy validates that the bot outranks the target for
// member-targeting actions, and that the requester isn't targeting
// themselves with an action that isn't self-target safe.
func (g *PermissionGate) CheckHierarchy(
	snap GuildSnapshot,
	requesterID string,
	action ActionType,
	target *ResolvedEntity,
) error {
	if target == nil || !action.TargetsMember() {
		return nil
	}

	if target.ID == requesterID && !action.SelfTargetSafe() {
		return &InsufficientHierarchyError{
			Target: *target,
			Reason: "you can't target yourself with this action",
		}
	}

	if !target.MemberCapable {
		// No membership record means no roles to compare; the
		// capability check has already decided whether the action
		// accepts a bare user.
		return nil
	}

	botTop := highestRolePosition(snap, snap.BotUserID())
	targetTop := highestRolePosition(snap, target.ID)
	if targetTop >= botTop {
		g.logger.Info(
			"hierarchy check failed",
			"target_id", target.ID,
			"target_top_role", targetTop,
			"bot_top_role", botTop,
		)
		return &InsufficientHierarchyError{
			Target: *target,
			Reason: "their highest role is not below mine",
		}
	}
	return nil
}

// highestRolePosition returns the position of the member's
// highest-ranked role, or -1 when the member has none.
func highestRolePosition(snap GuildSnapshot, userID string) int {
	member, ok := snap.Member(userID)
	if !ok {
		return -1
	}
	highest := -1
	for _, roleID := range member.RoleIDs {
		role, ok := snap.Role(roleID)
		if !ok {
			continue
		}
		if role.Position > highest {
			highest = role.Position
		}
	}
	return highest
}
