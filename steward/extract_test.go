package steward

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDuration(t *testing.T) {
	tests := []struct {
		text     string
		expected time.Duration
		ok       bool
	}{
		{"for 30 minutes", 30 * time.Minute, true},
		{"for 30 mins", 30 * time.Minute, true},
		{"for 2 hours", 2 * time.Hour, true},
		{"for 1 day", 24 * time.Hour, true},
		{"for 45 seconds", 45 * time.Second, true},
		{"for 45s", 45 * time.Second, true},
		{"for 10m", 10 * time.Minute, true},
		{"for being rude", 0, false},
		{"", 0, false},
	}
	for _, tc := range tests {
		t.Run(
			tc.text, func(t *testing.T) {
				d, ok := parseDuration(tc.text)
				assert.Equal(t, tc.ok, ok)
				assert.Equal(t, tc.expected, d)
			},
		)
	}
}

// A "for" clause holding a duration is not a reason, but a second "for"
// clause after it is.
func TestReasonClause(t *testing.T) {
	tests := []struct {
		text     string
		expected string
	}{
		{"kick <@123> for spamming", "spamming"},
		{"timeout <@123> for 30 minutes", ""},
		{"timeout <@123> for 30 minutes for being rude", "being rude"},
		{"ban <@123>", ""},
	}
	for _, tc := range tests {
		t.Run(
			tc.text, func(t *testing.T) {
				assert.Equal(t, tc.expected, reasonClause(tc.text))
			},
		)
	}
}

func TestExtractKick(t *testing.T) {
	t.Run(
		"mention", func(t *testing.T) {
			params, err := extractKick(
				"kick <@123> for spamming",
				[]Mention{{ID: "123"}},
			)
			require.NoError(t, err)
			require.NotNil(t, params.Target)
			assert.Equal(t, ResolveExplicitMention, params.Target.Method)
			assert.Equal(t, "123", params.Target.RawToken)
			assert.Equal(t, "spamming", params.Reason)
		},
	)
	t.Run(
		"bot mention ignored", func(t *testing.T) {
			params, err := extractKick(
				"kick <@123>",
				[]Mention{{ID: "999", Bot: true}, {ID: "123"}},
			)
			require.NoError(t, err)
			assert.Equal(t, "123", params.Target.RawToken)
		},
	)
	t.Run(
		"display name", func(t *testing.T) {
			params, err := extractKick("kick bob for spamming", nil)
			require.NoError(t, err)
			require.NotNil(t, params.Target)
			assert.Equal(t, ResolveDisplayName, params.Target.Method)
			assert.Equal(t, "bob", params.Target.RawToken)
		},
	)
	t.Run(
		"pronoun", func(t *testing.T) {
			params, err := extractKick("kick him", nil)
			require.NoError(t, err)
			assert.Equal(t, ResolvePronoun, params.Target.Method)
			assert.Equal(t, "him", params.Target.RawToken)
		},
	)
	t.Run(
		"missing target", func(t *testing.T) {
			_, err := extractKick("kick", nil)
			var missing *MissingParameterError
			require.True(t, errors.As(err, &missing))
			assert.Equal(t, "target", missing.Field)
		},
	)
}

func TestExtractBan(t *testing.T) {
	params, err := extractBan(
		"ban <@123> and clean up after them",
		[]Mention{{ID: "123"}},
	)
	require.NoError(t, err)
	assert.Equal(t, "123", params.Target.RawToken)
	assert.Equal(t, 1, params.DeleteDays)

	params, err = extractBan("ban <@123> for being rude", []Mention{{ID: "123"}})
	require.NoError(t, err)
	assert.Equal(t, 0, params.DeleteDays)
	assert.Equal(t, "being rude", params.Reason)
}

func TestExtractUnban(t *testing.T) {
	t.Run(
		"snowflake", func(t *testing.T) {
			params, err := extractUnban("unban 123456789012345678", nil)
			require.NoError(t, err)
			assert.Equal(t, "123456789012345678", params.UserID)
		},
	)
	t.Run(
		"mention", func(t *testing.T) {
			params, err := extractUnban("unban <@123>", []Mention{{ID: "123"}})
			require.NoError(t, err)
			assert.Equal(t, "123", params.UserID)
		},
	)
	t.Run(
		"missing id", func(t *testing.T) {
			_, err := extractUnban("unban that guy", nil)
			var missing *MissingParameterError
			require.True(t, errors.As(err, &missing))
			assert.Equal(t, "user_id", missing.Field)
		},
	)
}

func TestExtractTimeout(t *testing.T) {
	t.Run(
		"duration and reason", func(t *testing.T) {
			params, err := extractTimeout(
				"timeout <@123> for 30 minutes for being rude",
				[]Mention{{ID: "123"}},
			)
			require.NoError(t, err)
			assert.Equal(t, 30*time.Minute, params.Duration)
			assert.Equal(t, "being rude", params.Reason)
		},
	)
	t.Run(
		"default duration", func(t *testing.T) {
			params, err := extractTimeout("mute <@123>", []Mention{{ID: "123"}})
			require.NoError(t, err)
			assert.Equal(t, defaultTimeoutDuration, params.Duration)
		},
	)
	t.Run(
		"deterministic", func(t *testing.T) {
			first, err := extractTimeout(
				"timeout <@123> for 2 hours", []Mention{{ID: "123"}},
			)
			require.NoError(t, err)
			second, err := extractTimeout(
				"timeout <@123> for 2 hours", []Mention{{ID: "123"}},
			)
			require.NoError(t, err)
			assert.Equal(t, first, second)
		},
	)
}

func TestExtractNickname(t *testing.T) {
	t.Run(
		"quoted", func(t *testing.T) {
			params, err := extractNickname(
				"change <@123> nickname to 'champ'",
				[]Mention{{ID: "123"}},
			)
			require.NoError(t, err)
			assert.Equal(t, "champ", params.Nickname)
		},
	)
	t.Run(
		"trailing to-phrase", func(t *testing.T) {
			params, err := extractNickname(
				"set nickname for <@123> to champ jr.",
				[]Mention{{ID: "123"}},
			)
			require.NoError(t, err)
			assert.Equal(t, "champ jr", params.Nickname)
		},
	)
	t.Run(
		"display name target", func(t *testing.T) {
			params, err := extractNickname("call bob 'bobster'", nil)
			require.NoError(t, err)
			assert.Equal(t, "bob", params.Target.RawToken)
			assert.Equal(t, "bobster", params.Nickname)
		},
	)
	t.Run(
		"missing nickname", func(t *testing.T) {
			_, err := extractNickname("rename <@123>", []Mention{{ID: "123"}})
			var missing *MissingParameterError
			require.True(t, errors.As(err, &missing))
			assert.Equal(t, "nickname", missing.Field)
		},
	)
}

func TestRoleReference(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		expected string
	}{
		{"quoted", "give <@123> the 'super mod' role", "super mod"},
		{"after role keyword", "give <@123> the role moderator", "moderator"},
		{"before role keyword", "add the vip role to <@123>", "vip"},
		{"terminated by from", "remove role vip from <@123>", "vip"},
	}
	for _, tc := range tests {
		t.Run(
			tc.name, func(t *testing.T) {
				ref := roleReference(tc.text)
				require.NotNil(t, ref)
				assert.Equal(t, EntityRole, ref.Kind)
				assert.Equal(t, tc.expected, ref.RawToken)
			},
		)
	}

	assert.Nil(t, roleReference("give <@123> something"))
}

func TestExtractAddRemoveRole(t *testing.T) {
	params, err := extractAddRole(
		"give <@123> the role moderator", []Mention{{ID: "123"}},
	)
	require.NoError(t, err)
	assert.Equal(t, "123", params.Target.RawToken)
	assert.Equal(t, "moderator", params.Role.RawToken)

	params, err = extractRemoveRole(
		"remove role vip from <@123>", []Mention{{ID: "123"}},
	)
	require.NoError(t, err)
	assert.Equal(t, "vip", params.Role.RawToken)

	_, err = extractAddRole("give <@123> something nice", []Mention{{ID: "123"}})
	var missing *MissingParameterError
	require.True(t, errors.As(err, &missing))
	assert.Equal(t, "role", missing.Field)
}

func TestExtractRenameRole(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		oldName string
		newName string
	}{
		{
			name:    "two quoted",
			text:    "rename role 'helpers' to 'support'",
			oldName: "helpers",
			newName: "support",
		},
		{
			name:    "one quoted",
			text:    "rename the role 'helpers' to support",
			oldName: "helpers",
			newName: "support",
		},
		{
			name:    "bare",
			text:    "rename role helpers to support",
			oldName: "helpers",
			newName: "support",
		},
	}
	for _, tc := range tests {
		t.Run(
			tc.name, func(t *testing.T) {
				params, err := extractRenameRole(tc.text, nil)
				require.NoError(t, err)
				assert.Equal(t, tc.oldName, params.OldName)
				assert.Equal(t, tc.newName, params.NewName)
				require.NotNil(t, params.Role)
				assert.Equal(t, tc.oldName, params.Role.RawToken)
			},
		)
	}

	_, err := extractRenameRole("rename role helpers", nil)
	var missing *MissingParameterError
	require.True(t, errors.As(err, &missing))
}

func TestExtractReorganizeRoles(t *testing.T) {
	params, err := extractReorganizeRoles(
		"reorganize the roles based on a medieval kingdom theme", nil,
	)
	require.NoError(t, err)
	assert.Equal(t, "a medieval kingdom theme", params.Context)

	params, err = extractReorganizeRoles("reorganize the roles", nil)
	require.NoError(t, err)
	assert.Equal(t, defaultReorganizeContext, params.Context)
}

func TestExtractBulkDelete(t *testing.T) {
	t.Run(
		"count", func(t *testing.T) {
			params, err := extractBulkDelete("delete 50 messages", nil)
			require.NoError(t, err)
			assert.Equal(t, 50, params.Count)
			assert.Nil(t, params.FilterUser)
		},
	)
	t.Run(
		"default count", func(t *testing.T) {
			params, err := extractBulkDelete("delete that message", nil)
			require.NoError(t, err)
			assert.Equal(t, defaultBulkDeleteCount, params.Count)
		},
	)
	t.Run(
		"count over maximum ignored", func(t *testing.T) {
			params, err := extractBulkDelete("delete 5000 messages", nil)
			require.NoError(t, err)
			assert.Equal(t, defaultBulkDeleteCount, params.Count)
		},
	)
	t.Run(
		"possessive filter", func(t *testing.T) {
			params, err := extractBulkDelete("delete 20 of my messages", nil)
			require.NoError(t, err)
			require.NotNil(t, params.FilterUser)
			assert.Equal(t, ResolvePossessive, params.FilterUser.Method)
		},
	)
	t.Run(
		"bot pronoun filter", func(t *testing.T) {
			params, err := extractBulkDelete("delete your messages", nil)
			require.NoError(t, err)
			require.NotNil(t, params.FilterUser)
			assert.Equal(t, ResolvePronoun, params.FilterUser.Method)
			assert.Equal(t, "your", params.FilterUser.RawToken)
		},
	)
	t.Run(
		"mention filter", func(t *testing.T) {
			params, err := extractBulkDelete(
				"delete 10 messages from <@123>",
				[]Mention{{ID: "123"}},
			)
			require.NoError(t, err)
			require.NotNil(t, params.FilterUser)
			assert.Equal(t, ResolveExplicitMention, params.FilterUser.Method)
			assert.Equal(t, "123", params.FilterUser.RawToken)
		},
	)
}

func TestSlugChannelName(t *testing.T) {
	tests := []struct {
		in       string
		expected string
	}{
		{"My Cool Channel!", "my-cool-channel"},
		{"general", "general"},
		{"music_lounge", "music-lounge"},
		{"  spaced out  ", "spaced-out"},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.expected, slugChannelName(tc.in))
	}
}

func TestExtractCreateChannel(t *testing.T) {
	params, err := extractCreateChannel(
		"create a voice channel called music lounge", nil,
	)
	require.NoError(t, err)
	assert.Equal(t, ChannelVoice, params.ChannelKind)
	assert.Equal(t, "music-lounge", params.ChannelName)

	params, err = extractCreateChannel(
		"create a channel called 'my cool channel!'", nil,
	)
	require.NoError(t, err)
	assert.Equal(t, ChannelText, params.ChannelKind)
	assert.Equal(t, "my-cool-channel", params.ChannelName)

	_, err = extractCreateChannel("create a channel", nil)
	var missing *MissingParameterError
	require.True(t, errors.As(err, &missing))
	assert.Equal(t, "name", missing.Field)
}

func TestExtractDeleteChannel(t *testing.T) {
	t.Run(
		"channel mention", func(t *testing.T) {
			params, err := extractDeleteChannel("delete <#555>", nil)
			require.NoError(t, err)
			require.NotNil(t, params.Channel)
			assert.Equal(t, ResolveExplicitMention, params.Channel.Method)
			assert.Equal(t, "555", params.Channel.RawToken)
		},
	)
	t.Run(
		"hash name", func(t *testing.T) {
			params, err := extractDeleteChannel("delete the channel #old-news", nil)
			require.NoError(t, err)
			assert.Equal(t, ResolveDisplayName, params.Channel.Method)
			assert.Equal(t, "old-news", params.Channel.RawToken)
		},
	)
	t.Run(
		"bare name", func(t *testing.T) {
			params, err := extractDeleteChannel("delete the channel general", nil)
			require.NoError(t, err)
			assert.Equal(t, "general", params.Channel.RawToken)
		},
	)
	t.Run(
		"missing channel", func(t *testing.T) {
			_, err := extractDeleteChannel("delete the channel", nil)
			var missing *MissingParameterError
			require.True(t, errors.As(err, &missing))
		},
	)
}
