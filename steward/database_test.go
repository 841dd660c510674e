package steward

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDB(t testing.TB) DBI {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)

	db, err := CreateDB(ctx, dbTypeSQLite, filepath.Join(t.TempDir(), "test.sqlite3"))
	require.NoError(t, err)
	return NewDatabase(db, nil, false)
}

func auditFixture(guildID string, action ActionType) *ActionAudit {
	p := NewPendingConfirmation(
		"admin-1", guildID, "chan-1",
		&ResolvedParameters{
			Action: action,
			Target: &ResolvedEntity{
				Kind: EntityUser, ID: "alice-1",
				DisplayName: "alice", MemberCapable: true,
			},
		},
		time.Minute,
	)
	p.PromptMessageID = "msg-" + p.ID
	p.State = ConfirmationConfirmed
	return NewActionAudit(
		p, &ExecutionResult{Action: action, Summary: "done", Succeeded: 1},
	)
}

func TestDatabaseRecord(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	audit := auditFixture("guild-1", ActionKickUser)
	require.NoError(t, db.Record(ctx, audit))
	assert.NotZero(t, audit.ID)

	audits, err := db.RecentAudits(ctx, 10)
	require.NoError(t, err)
	require.Len(t, audits, 1)
	assert.Equal(t, ActionKickUser, audits[0].Action)
	assert.Equal(t, ConfirmationConfirmed, audits[0].State)
	assert.Equal(t, "alice-1", audits[0].TargetID)
	assert.Equal(t, 1, audits[0].Succeeded)
	assert.NotEmpty(t, audits[0].Params)
}

func TestDatabaseGuildAudits(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	require.NoError(t, db.Record(ctx, auditFixture("guild-1", ActionKickUser)))
	require.NoError(t, db.Record(ctx, auditFixture("guild-2", ActionBanUser)))
	require.NoError(t, db.Record(ctx, auditFixture("guild-1", ActionBulkDelete)))

	audits, err := db.GuildAudits(ctx, "guild-1", 10)
	require.NoError(t, err)
	require.Len(t, audits, 2)
	for _, a := range audits {
		assert.Equal(t, "guild-1", a.GuildID)
	}

	audits, err = db.GuildAudits(ctx, "guild-3", 10)
	require.NoError(t, err)
	assert.Empty(t, audits)
}

func TestDatabaseRecentAuditsLimit(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, db.Record(ctx, auditFixture("guild-1", ActionKickUser)))
	}

	audits, err := db.RecentAudits(ctx, 3)
	require.NoError(t, err)
	assert.Len(t, audits, 3)
}

// NewActionAudit without a result covers the cancel and expire paths.
func TestNewActionAuditWithoutResult(t *testing.T) {
	p := NewPendingConfirmation(
		"admin-1", "guild-1", "chan-1",
		&ResolvedParameters{Action: ActionBanUser},
		time.Minute,
	)
	p.State = ConfirmationCancelled

	audit := NewActionAudit(p, nil)
	assert.Equal(t, ConfirmationCancelled, audit.State)
	assert.Empty(t, audit.Summary)
	assert.Zero(t, audit.Succeeded)
	assert.Empty(t, audit.Error)
}
