package steward

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRenameLines(t *testing.T) {
	roles := []GuildRole{
		{ID: "role-mod", Name: "Moderator", Position: 5},
		{ID: "role-vip", Name: "VIP", Position: 2},
		{ID: "role-member", Name: "Member", Position: 1},
	}

	t.Run(
		"arrow lines", func(t *testing.T) {
			content := "Moderator -> Royal Guard\nVIP -> Nobility\nMember -> Peasantry"
			renames := parseRenameLines(content, roles)
			require.Len(t, renames, 3)
			assert.Equal(
				t,
				RoleRename{RoleID: "role-mod", OldName: "Moderator", NewName: "Royal Guard"},
				renames[0],
			)
		},
	)
	t.Run(
		"unicode arrow and list bullets", func(t *testing.T) {
			content := "- Moderator → Royal Guard\n- VIP → Nobility"
			renames := parseRenameLines(content, roles)
			require.Len(t, renames, 2)
			assert.Equal(t, "Royal Guard", renames[0].NewName)
		},
	)
	t.Run(
		"old name matched case-insensitively", func(t *testing.T) {
			renames := parseRenameLines("moderator -> Royal Guard", roles)
			require.Len(t, renames, 1)
			assert.Equal(t, "role-mod", renames[0].RoleID)
			assert.Equal(t, "Moderator", renames[0].OldName)
		},
	)
	t.Run(
		"unknown roles dropped", func(t *testing.T) {
			content := "Ghost -> Phantom\nVIP -> Nobility"
			renames := parseRenameLines(content, roles)
			require.Len(t, renames, 1)
			assert.Equal(t, "role-vip", renames[0].RoleID)
		},
	)
	t.Run(
		"self renames dropped", func(t *testing.T) {
			content := "VIP -> vip\nModerator -> Moderator"
			assert.Empty(t, parseRenameLines(content, roles))
		},
	)
	t.Run(
		"duplicates keep the first", func(t *testing.T) {
			content := "VIP -> Nobility\nVIP -> Gentry"
			renames := parseRenameLines(content, roles)
			require.Len(t, renames, 1)
			assert.Equal(t, "Nobility", renames[0].NewName)
		},
	)
	t.Run(
		"commentary and blank lines ignored", func(t *testing.T) {
			content := "Here are my suggestions:\n\nVIP -> Nobility\n\nEnjoy!"
			renames := parseRenameLines(content, roles)
			require.Len(t, renames, 1)
		},
	)
	t.Run(
		"overlong new names dropped", func(t *testing.T) {
			content := "VIP -> " + strings.Repeat("x", 101)
			assert.Empty(t, parseRenameLines(content, roles))
		},
	)
}
