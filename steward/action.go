package steward

import (
	"database/sql/driver"
	"errors"
	"fmt"
)

// ActionType identifies one of the privileged server-administration
// operations the interpreter understands. The set is closed: every
// extractor, permission rule and executor branch is keyed by it.
type ActionType string

const (
	ActionKickUser        ActionType = "kick_user"
	ActionBanUser         ActionType = "ban_user"
	ActionUnbanUser       ActionType = "unban_user"
	ActionTimeoutUser     ActionType = "timeout_user"
	ActionRemoveTimeout   ActionType = "remove_timeout"
	ActionChangeNickname  ActionType = "change_nickname"
	ActionAddRole         ActionType = "add_role"
	ActionRemoveRole      ActionType = "remove_role"
	ActionRenameRole      ActionType = "rename_role"
	ActionReorganizeRoles ActionType = "reorganize_roles"
	ActionBulkDelete      ActionType = "bulk_delete"
	ActionCreateChannel   ActionType = "create_channel"
	ActionDeleteChannel   ActionType = "delete_channel"
)

// AllActionTypes lists every known action, in the order extractors and
// classifier patterns are registered.
var AllActionTypes = []ActionType{
	ActionKickUser,
	ActionBanUser,
	ActionUnbanUser,
	ActionTimeoutUser,
	ActionRemoveTimeout,
	ActionChangeNickname,
	ActionAddRole,
	ActionRemoveRole,
	ActionRenameRole,
	ActionReorganizeRoles,
	ActionBulkDelete,
	ActionCreateChannel,
	ActionDeleteChannel,
}

func (a ActionType) String() string {
	return string(a)
}

// Valid indicates whether the value is one of the known action types.
func (a ActionType) Valid() bool {
	switch a {
	case ActionKickUser, ActionBanUser, ActionUnbanUser, ActionTimeoutUser,
		ActionRemoveTimeout, ActionChangeNickname, ActionAddRole,
		ActionRemoveRole, ActionRenameRole, ActionReorganizeRoles,
		ActionBulkDelete, ActionCreateChannel, ActionDeleteChannel:
		return true
	}
	return false
}

// TargetsMember reports whether the action operates on a specific guild
// member, and therefore requires a hierarchy check before confirmation.
func (a ActionType) TargetsMember() bool {
	switch a {
	case ActionKickUser, ActionBanUser, ActionTimeoutUser,
		ActionRemoveTimeout, ActionChangeNickname, ActionAddRole,
		ActionRemoveRole:
		return true
	}
	return false
}

// RequiresMemberCapability reports whether the action's user target must
// hold an active membership record in the guild. Bans and unbans accept
// bare user references; nickname/role/timeout edits do not.
func (a ActionType) RequiresMemberCapability() bool {
	switch a {
	case ActionKickUser, ActionTimeoutUser, ActionRemoveTimeout,
		ActionChangeNickname, ActionAddRole, ActionRemoveRole:
		return true
	}
	return false
}

// SelfTargetSafe reports whether the requester may target themselves.
func (a ActionType) SelfTargetSafe() bool {
	return a == ActionChangeNickname
}

// Scan implements the sql.Scanner interface.
func (a *ActionType) Scan(value any) error {
	switch v := value.(type) {
	case []byte:
		*a = ActionType(v)
	case string:
		*a = ActionType(v)
	default:
		return errors.New("invalid type for ActionType")
	}
	if !a.Valid() {
		return fmt.Errorf("unknown action type: %q", string(*a))
	}
	return nil
}

// Value implements the driver.Valuer interface.
func (a ActionType) Value() (driver.Value, error) {
	return a.String(), nil
}

// GormDataType implements the gorm.GormDataTypeInterface interface.
func (ActionType) GormDataType() string {
	return "string"
}
