package steward

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

var (
	// When building, set these like:
	// -ldflags "-X github.com/doombunnyxo/steward/steward.Version=$$(date +'%Y%m%d')"

	Version   = "dev"
	CommitSHA = "unknown"
	BuildTime = "unknown"
)

var (
	defaultLogWriter io.Writer = os.Stdout
)

// Steward is the root application struct: it owns the Discord gateway,
// the admin command interpreter, the audit database, and the status
// API, and coordinates their lifecycles.
type Steward struct {
	config *Config

	logger     *slog.Logger
	logHandler slog.Handler

	discord     *Discord
	api         *API
	db          DBI
	store       ConfirmationStore
	namer       RoleNamer
	interpreter *Interpreter

	runMu      sync.Mutex
	signalStop chan struct{}
	// signalReady receives exactly one value once startup finishes.
	signalReady chan struct{}
	startedAt   time.Time
}

// New assembles a Steward from the given config. The Discord session
// itself isn't opened until Run.
func New(config *Config) (*Steward, error) {
	var errs []error

	switch config.DatabaseType {
	case dbTypeSQLite, dbTypePostgres:
		//
	default:
		errs = append(
			errs,
			errors.New("invalid database type (must be 'sqlite' or 'postgres')"),
		)
	}

	if config.HTTPClient == nil {
		config.HTTPClient = http.DefaultClient
	}

	st := &Steward{
		config:      config,
		signalReady: make(chan struct{}, 1),
	}

	st.logHandler = tint.NewHandler(
		defaultLogWriter, &tint.Options{
			Level:     st.config.LogLevel,
			AddSource: true,
		},
	)
	st.logger = slog.New(st.logHandler)
	slog.SetDefault(st.logger)

	st.store = NewMemoryConfirmationStore(st.logger)

	if config.OpenAI != nil && config.OpenAI.Token != "" {
		st.namer = NewOpenAIRoleNamer(config.OpenAI, st.logger)
	}

	st.config.Discord.httpClient = st.config.HTTPClient

	disc, err := newDiscord(st.config.Discord)
	if err != nil {
		errs = append(errs, err)
	}

	discordgo.Logger = discordgoLoggerFunc(
		context.Background(),
		tint.NewHandler(
			defaultLogWriter, &tint.Options{
				Level:     st.config.Discord.DiscordGoLogLevel,
				AddSource: true,
			},
		).WithAttrs([]slog.Attr{slog.String(loggerNameKey, "discordgo")}),
	)

	if disc != nil {
		disc.logger = slog.New(
			tint.NewHandler(
				defaultLogWriter, &tint.Options{
					Level:     st.config.Discord.LogLevel,
					AddSource: true,
				},
			),
		).With(loggerNameKey, "discord")
		st.discord = disc
		disc.st = st
	}

	if config.API != nil && config.API.Enabled {
		api, apiErr := newAPI(st, config.API)
		if apiErr != nil {
			errs = append(errs, apiErr)
		}
		st.api = api
	}

	return st, errors.Join(errs...)
}

func (st *Steward) ValidateConfig() error {
	return structValidator.Struct(st.config)
}

// Run starts the bot and blocks until the context is canceled or Stop
// is called, then shuts down gracefully.
func (st *Steward) Run(ctx context.Context) error {
	// prevents concurrent runs
	st.runMu.Lock()
	defer st.runMu.Unlock()

	st.signalStop = make(chan struct{}, 1)
	st.startedAt = time.Now()
	logger := st.logger

	if err := st.ValidateConfig(); err != nil {
		logger.Error("invalid config", tint.Err(err))
		return err
	}

	ctx = WithLogger(ctx, logger)
	logger.LogAttrs(ctx, slog.LevelInfo, "starting", slog.Any("config", st.config))

	// the 'runtime' context: canceling it triggers a graceful shutdown
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		select {
		case <-st.signalStop:
			logger.Warn("got stop signal, canceling")
			cancel()
		case <-ctx.Done():
		}
	}()

	startCtx, startCancel := context.WithTimeout(ctx, st.config.StartupTimeout)
	defer startCancel()

	if err := st.initDB(startCtx); err != nil {
		logger.Error("database init failed", tint.Err(err))
		return err
	}

	session, err := st.discord.newSession()
	if err != nil {
		logger.Error("error creating discord session", tint.Err(err))
		return err
	}
	st.discord.session = session

	executor := NewExecutor(session, st.namer, logger)
	st.interpreter = NewInterpreter(
		st.config,
		st.store,
		executor,
		sessionPrompter{session: session},
		st.db,
		logger,
	)

	st.discord.discordgoRemoveHandlerFuncs = []func(){
		session.AddHandler(st.discord.handlerReady()),
		session.AddHandler(st.discord.handlerConnect()),
		session.AddHandler(st.discord.handlerDisconnect()),
		session.AddHandler(st.discord.handlerMessageCreate()),
		session.AddHandler(st.discord.handlerReactionAdd()),
	}

	if err = session.Open(); err != nil {
		return fmt.Errorf("error opening discord session: %w", err)
	}

	runtimeWG := &sync.WaitGroup{}

	runtimeWG.Add(1)
	go func() {
		defer runtimeWG.Done()
		st.runExpirySweeper(ctx)
	}()

	if st.api != nil {
		go func() {
			httpErr := st.api.Serve(ctx)
			if httpErr != nil && !errors.Is(httpErr, http.ErrServerClosed) {
				logger.ErrorContext(ctx, "error serving api HTTP", tint.Err(httpErr))
			}
		}()
	}

	st.signalReady <- struct{}{}
	logger.InfoContext(ctx, "sent ready signal")

	<-ctx.Done()

	return st.shutdown(runtimeWG)
}

// Stop triggers a graceful shutdown of a running bot.
func (st *Steward) Stop() {
	select {
	case st.signalStop <- struct{}{}:
	default:
	}
}

// runExpirySweeper expires overdue confirmations on the configured
// interval until the context is canceled.
func (st *Steward) runExpirySweeper(ctx context.Context) {
	ticker := time.NewTicker(st.config.Confirmation.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if count := st.interpreter.SweepExpired(ctx, now.UTC()); count > 0 {
				st.logger.Info("expired confirmations", "count", count)
			}
		}
	}
}

func (st *Steward) initDB(ctx context.Context) error {
	db, err := CreateDB(ctx, st.config.DatabaseType, st.config.Database)
	if err != nil {
		return err
	}

	dbLogHandler := tint.NewHandler(
		defaultLogWriter, &tint.Options{
			Level:     st.config.DatabaseLogLevel,
			AddSource: true,
		},
	)
	db.Logger = newGORMLogger(
		dbLogHandler,
		st.config.DatabaseSlowThreshold,
	)

	st.db = NewDatabase(
		db,
		slog.New(dbLogHandler),
		st.config.DatabaseType == dbTypePostgres,
	)
	return nil
}

func (st *Steward) shutdown(runtimeWG *sync.WaitGroup) error {
	logger := st.logger
	logger.Warn("shutting down")

	shutdownCtx, cancel := context.WithTimeout(
		context.Background(), st.config.ShutdownTimeout,
	)
	defer cancel()

	var errs []error

	if st.discord != nil && st.discord.session != nil {
		for _, removeHandler := range st.discord.discordgoRemoveHandlerFuncs {
			removeHandler()
		}
		if err := st.discord.session.Close(); err != nil {
			logger.Error("error closing discord session", tint.Err(err))
			errs = append(errs, err)
		}
	}

	if st.api != nil && st.api.httpServer != nil {
		if err := st.api.httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("error shutting down api server", tint.Err(err))
			errs = append(errs, err)
		}
	}

	done := make(chan struct{})
	go func() {
		runtimeWG.Wait()
		if st.interpreter != nil {
			st.interpreter.WaitForExecutions()
		}
		close(done)
	}()
	select {
	case <-done:
	case <-shutdownCtx.Done():
		logger.Warn("shutdown timeout elapsed before workers finished")
	}

	logger.Warn("shutdown complete")
	return errors.Join(errs...)
}
