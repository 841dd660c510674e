package steward

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/lmittmann/tint"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

const (
	dbTypeSQLite   = "sqlite"
	dbTypePostgres = "postgres"
)

var (
	sqliteMaxOpenConns    = 1
	sqliteMaxIdleConns    = 1
	sqliteMaxConnLifetime = 5 * time.Minute
	sqliteExecPragma      = []string{
		"pragma journal_mode=WAL;",
		"pragma synchronous = normal;",
		"pragma temp_store = memory;",
		"pragma foreign_keys = ON;",
	}
	dbOperationTimeout = 30 * time.Second
)

// ModelUnixTime is an embeddable model with Unix timestamps for
// creation, update, and deletion.
type ModelUnixTime struct {
	CreatedAt int64          `gorm:"autoCreateTime:milli" json:"created_at,omitempty"`
	UpdatedAt int64          `gorm:"autoUpdateTime:milli" json:"updated_at,omitempty"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

type ModelUintID struct {
	ID uint `gorm:"primaryKey" json:"id"`
}

// ActionAudit is one row per settled confirmation: confirmed (with the
// execution outcome), cancelled, or expired. The audit trail is the
// only thing persisted; pending confirmations themselves live in
// memory and die with the process.
type ActionAudit struct {
	ModelUintID
	ModelUnixTime

	ConfirmationID  string            `json:"confirmation_id" gorm:"index"`
	PromptMessageID string            `json:"prompt_message_id"`
	GuildID         string            `json:"guild_id" gorm:"index"`
	ChannelID       string            `json:"channel_id"`
	RequesterID     string            `json:"requester_id" gorm:"index"`
	Action          ActionType        `json:"action" gorm:"index"`
	State           ConfirmationState `json:"state"`
	TargetID        string            `json:"target_id,omitempty"`
	TargetName      string            `json:"target_name,omitempty"`
	Params          string            `json:"params,omitempty" gorm:"type:text"`
	Summary         string            `json:"summary,omitempty"`
	Error           string            `json:"error,omitempty"`
	Succeeded       int               `json:"succeeded"`
	Failed          int               `json:"failed"`
}

const auditSummaryLimit = 500

// NewActionAudit builds the audit row for a settled confirmation.
// result is nil for cancellations and expiries.
func NewActionAudit(p *PendingConfirmation, result *ExecutionResult) *ActionAudit {
	audit := &ActionAudit{
		ConfirmationID:  p.ID,
		PromptMessageID: p.PromptMessageID,
		GuildID:         p.GuildID,
		ChannelID:       p.ChannelID,
		RequesterID:     p.RequesterID,
		Action:          p.Action,
		State:           p.State,
	}
	if p.Params.Target != nil {
		audit.TargetID = p.Params.Target.ID
		audit.TargetName = p.Params.Target.DisplayName
	}
	if data, err := json.Marshal(p.Params); err == nil {
		audit.Params = string(data)
	}
	if result != nil {
		audit.Summary = truncate(result.Summary, auditSummaryLimit)
		audit.Succeeded = result.Succeeded
		audit.Failed = result.Failed
		if result.Err != nil {
			audit.Error = result.Err.Error()
		}
	}
	return audit
}

func (a ActionAudit) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Uint64("id", uint64(a.ID)),
		slog.String("confirmation_id", a.ConfirmationID),
		slog.String("guild_id", a.GuildID),
		slog.String("action", a.Action.String()),
		slog.String("state", string(a.State)),
	)
}

// DBI is the persistence interface for the audit trail.
type DBI interface {
	AuditRecorder

	DB() *gorm.DB

	// RecentAudits returns the newest audit rows, most recent first.
	RecentAudits(ctx context.Context, limit int) ([]ActionAudit, error)

	// GuildAudits returns the newest audit rows for one guild.
	GuildAudits(ctx context.Context, guildID string, limit int) ([]ActionAudit, error)
}

// database implements DBI over a GORM connection. With SQLite, writes
// are serialized through mu; postgres takes concurrent writes.
type database struct {
	db                     *gorm.DB
	mu                     sync.Mutex
	logger                 *slog.Logger
	enableConcurrentWrites bool
}

func NewDatabase(
	db *gorm.DB,
	log *slog.Logger,
	enableConcurrentWrites bool,
) DBI {
	if log == nil {
		log = slog.Default()
	}
	return &database{
		db:                     db,
		logger:                 log.With(loggerNameKey, "writedb"),
		enableConcurrentWrites: enableConcurrentWrites,
	}
}

func (d *database) DB() *gorm.DB {
	return d.db
}

func (d *database) lock() {
	if !d.enableConcurrentWrites {
		d.mu.Lock()
	}
}

func (d *database) unlock() {
	if !d.enableConcurrentWrites {
		d.mu.Unlock()
	}
}

func (d *database) Record(ctx context.Context, audit *ActionAudit) error {
	d.lock()
	defer d.unlock()

	ctx, cancel := context.WithTimeout(ctx, dbOperationTimeout)
	defer cancel()

	err := d.db.WithContext(ctx).Create(audit).Error
	if err != nil {
		d.logger.ErrorContext(
			ctx, "error recording audit", "audit", audit, tint.Err(err),
		)
	}
	return err
}

func (d *database) RecentAudits(ctx context.Context, limit int) ([]ActionAudit, error) {
	var audits []ActionAudit
	err := d.db.WithContext(ctx).
		Order("created_at desc").
		Limit(limit).
		Find(&audits).Error
	return audits, err
}

func (d *database) GuildAudits(
	ctx context.Context,
	guildID string,
	limit int,
) ([]ActionAudit, error) {
	var audits []ActionAudit
	err := d.db.WithContext(ctx).
		Where("guild_id = ?", guildID).
		Order("created_at desc").
		Limit(limit).
		Find(&audits).Error
	return audits, err
}

// CreateDB initializes the GORM connection and runs migrations.
func CreateDB(ctx context.Context, databaseType string, database string) (*gorm.DB, error) {
	handler := tint.NewHandler(
		os.Stdout,
		&tint.Options{
			Level:     slog.LevelWarn,
			AddSource: true,
		},
	)

	gormLogger := newGORMLogger(handler, 500*time.Millisecond)
	dbLogger := slog.New(handler)

	dbLogger.InfoContext(
		ctx,
		"Initializing database",
		"database_type", databaseType,
		"database", database,
	)
	db, err := getDB(databaseType, database, gormLogger)
	if err != nil {
		return db, err
	}

	txn := db.WithContext(ctx).Begin()

	if err = txn.Migrator().AutoMigrate(&ActionAudit{}); err != nil {
		return db, err
	}

	if commitErr := txn.Commit().Error; commitErr != nil {
		return db, commitErr
	}

	return db, nil
}

// getDB opens a GORM connection for the configured database type. For
// SQLite, the connection pool is pinned to a single connection and the
// usual pragmas are applied.
func getDB(
	databaseType string,
	database string,
	gormLogger *gormStructuredLogger,
) (*gorm.DB, error) {
	switch databaseType {
	case dbTypeSQLite:
		parentDir := filepath.Dir(database)
		if parentDir != "" {
			if err := os.MkdirAll(parentDir, 0755); err != nil {
				if !errors.Is(err, os.ErrExist) {
					return nil, err
				}
			}
		}
		db, err := gorm.Open(
			sqlite.Open(database),
			&gorm.Config{
				Logger: gormLogger,
				NowFunc: func() time.Time {
					return time.Now().UTC()
				},
			},
		)
		if err != nil {
			return nil, err
		}
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(sqliteMaxOpenConns)
		sqlDB.SetMaxIdleConns(sqliteMaxIdleConns)
		sqlDB.SetConnMaxLifetime(sqliteMaxConnLifetime)
		for _, pragma := range sqliteExecPragma {
			if err = db.Exec(pragma).Error; err != nil {
				return nil, fmt.Errorf("error executing %q: %w", pragma, err)
			}
		}
		return db, nil
	case dbTypePostgres:
		return gorm.Open(
			postgres.Open(database), &gorm.Config{
				Logger: gormLogger,
				NowFunc: func() time.Time {
					return time.Now().UTC()
				},
			},
		)
	default:
		return nil, fmt.Errorf(
			"unsupported database type: %s (must be %q or %q)",
			databaseType, dbTypeSQLite, dbTypePostgres,
		)
	}
}
