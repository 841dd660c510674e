package steward

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

// Discord manages the gateway session: it owns the event handlers that
// feed messages and reactions into the interpreter, and implements the
// prompt/reply side of the conversation.
type Discord struct {
	session                     DiscordSessionHandler
	config                      *DiscordConfig
	logger                      *slog.Logger
	metricConnects              atomic.Int64
	metricDisconnects           atomic.Int64
	metricMessagesHandled       atomic.Int64
	connected                   atomic.Bool
	discordgoRemoveHandlerFuncs []func()
	st                          *Steward
}

// newDiscord initializes a new Discord instance with the provided configuration
func newDiscord(config *DiscordConfig) (*Discord, error) {
	if config.Token == "" {
		return nil, fmt.Errorf("discord token is required")
	}
	return &Discord{
		config:                      config,
		discordgoRemoveHandlerFuncs: []func(){},
	}, nil
}

// newSession initializes a new Discord session for the Discord struct.
// State tracking stays enabled: the guild snapshots the resolver and
// permission gate read come straight from discordgo's state cache.
func (d *Discord) newSession() (DiscordSessionHandler, error) {
	session := DiscordSession{logger: d.logger.With(loggerNameKey, "discord_session_handler")}
	disc, err := discordgo.New("Bot " + d.config.Token)
	if err != nil {
		return session, fmt.Errorf("error creating discord session: %w", err)
	}
	disc.SyncEvents = true
	disc.StateEnabled = true
	disc.State.TrackMembers = true
	disc.State.TrackRoles = true
	disc.State.TrackChannels = true
	disc.Identify.Intents = d.config.GatewayIntents
	session.session = disc
	if d.config.httpClient != nil {
		disc.Client = d.config.httpClient
	}

	if err = session.SetLogLevel(d.config.DiscordGoLogLevel.Level()); err != nil {
		return session, err
	}

	return session, nil
}

// channelMessageSend sends the given message to the given discord channel ID
func (d *Discord) channelMessageSend(
	channelID string,
	message string,
	opts ...discordgo.RequestOption,
) error {
	_, err := d.session.ChannelMessageSend(channelID, message, opts...)
	return err
}

func (d *Discord) handlerReady() func(
	s *discordgo.Session,
	r *discordgo.Ready,
) {
	return func(s *discordgo.Session, r *discordgo.Ready) {
		d.logger.Info(
			"Ready",
			"session_id", s.State.SessionID,
			"user_id", s.State.User.ID,
			"username", s.State.User.Username,
		)
	}
}

func (d *Discord) handlerConnect() func(
	s *discordgo.Session,
	r *discordgo.Connect,
) {
	return func(s *discordgo.Session, r *discordgo.Connect) {
		d.metricConnects.Add(1)
		d.connected.Store(true)
		var sessionID string
		var userID string
		var username string

		if s != nil && s.State != nil {
			sessionID = s.State.SessionID
			if s.State.User != nil {
				userID = s.State.User.ID
				username = s.State.User.Username
			}
		}
		d.logger.Info(
			"Connected",
			"session_id", sessionID,
			slog.Group("user", "id", userID, "username", username),
		)
		if d.config.NotificationChannelID != "" && d.config.StartupMessage != "" {
			if sendErr := d.channelMessageSend(
				d.config.NotificationChannelID,
				d.config.StartupMessage,
				discordgo.WithRetryOnRatelimit(false),
				discordgo.WithRestRetries(1),
			); sendErr != nil {
				d.logger.Error("unable to send startup message", tint.Err(sendErr))
			}
		}
	}
}

func (d *Discord) handlerDisconnect() func(
	s *discordgo.Session,
	r *discordgo.Disconnect,
) {
	return func(s *discordgo.Session, r *discordgo.Disconnect) {
		d.connected.Store(false)
		d.metricDisconnects.Add(1)

		var sessionID string
		var userID string
		var username string

		if s != nil && s.State != nil {
			sessionID = s.State.SessionID
			if s.State.User != nil {
				userID = s.State.User.ID
				username = s.State.User.Username
			}
		}
		d.logger.Info(
			"disconnected",
			"session_id", sessionID,
			slog.Group("user", "id", userID, "username", username),
		)
	}
}

// handlerMessageCreate feeds guild messages that mention the bot into
// the interpreter. Everything else is ignored.
func (d *Discord) handlerMessageCreate() func(
	s *discordgo.Session,
	m *discordgo.MessageCreate,
) {
	return func(s *discordgo.Session, m *discordgo.MessageCreate) {
		if m.Author == nil || m.Author.Bot || m.GuildID == "" {
			return
		}
		if s.State.User == nil || !messageMentionsUser(m.Message, s.State.User.ID) {
			return
		}
		d.metricMessagesHandled.Add(1)

		snap, err := newStateSnapshot(s.State, m.GuildID)
		if err != nil {
			d.logger.Error("guild state unavailable", "guild_id", m.GuildID, tint.Err(err))
			return
		}

		mentions := make([]Mention, 0, len(m.Mentions))
		for _, u := range m.Mentions {
			mentions = append(
				mentions,
				Mention{ID: u.ID, Bot: u.Bot || u.ID == s.State.User.ID},
			)
		}

		ctx := WithLogger(context.Background(), d.logger)
		_, err = d.st.interpreter.InterpretAdminIntent(
			ctx, m.Content, m.Author.ID, m.ChannelID, mentions, snap,
		)
		if err != nil {
			d.replyTo(m.Message, UserMessage(err))
		}
	}
}

// handlerReactionAdd routes reaction adds to the confirmation pipeline.
func (d *Discord) handlerReactionAdd() func(
	s *discordgo.Session,
	r *discordgo.MessageReactionAdd,
) {
	return func(s *discordgo.Session, r *discordgo.MessageReactionAdd) {
		if s.State.User != nil && r.UserID == s.State.User.ID {
			return
		}
		if r.GuildID == "" {
			return
		}

		snap, err := newStateSnapshot(s.State, r.GuildID)
		if err != nil {
			d.logger.Error("guild state unavailable", "guild_id", r.GuildID, tint.Err(err))
			return
		}

		ctx := WithLogger(context.Background(), d.logger)
		err = d.st.interpreter.OnReaction(
			ctx,
			ReactionEvent{
				MessageID: r.MessageID,
				ChannelID: r.ChannelID,
				GuildID:   r.GuildID,
				UserID:    r.UserID,
				Emoji:     r.Emoji.Name,
			},
			snap,
		)
		if err != nil {
			d.logger.Warn("reaction handling failed", tint.Err(err))
		}
	}
}

// replyTo replies to the given message, truncating to the platform's
// message length limit.
func (d *Discord) replyTo(m *discordgo.Message, content string) {
	_, err := d.session.ChannelMessageSendReply(
		m.ChannelID,
		truncate(content, discordMaxMessageLength),
		m.Reference(),
	)
	if err != nil {
		d.logger.Error("error sending reply", tint.Err(err))
	}
}

func (d *Discord) updateCustomStatus(status string) error {
	return d.session.UpdateCustomStatus(status)
}

// DiscordSessionHandler abstracts the discordgo session for the
// gateway layer. The executor's AdminSession is a subset, so any
// DiscordSessionHandler also drives the executor.
type DiscordSessionHandler interface {
	AdminSession

	AddHandler(handler any) func()
	Open() error
	Close() error
	State() *discordgo.State
	SetLogLevel(lvl slog.Level) error
	SetHTTPClient(client *http.Client)
	UpdateCustomStatus(status string, options ...discordgo.RequestOption) error

	ChannelMessageSend(
		channelID string,
		content string,
		options ...discordgo.RequestOption,
	) (*discordgo.Message, error)
	ChannelMessageSendReply(
		channelID string,
		content string,
		reference *discordgo.MessageReference,
		options ...discordgo.RequestOption,
	) (*discordgo.Message, error)
	ChannelMessageEdit(
		channelID string,
		messageID string,
		content string,
		options ...discordgo.RequestOption,
	) (*discordgo.Message, error)
	MessageReactionAdd(
		channelID string,
		messageID string,
		emojiID string,
		options ...discordgo.RequestOption,
	) error
	MessageReactionsRemoveAll(
		channelID string,
		messageID string,
		options ...discordgo.RequestOption,
	) error
}

// DiscordSession implements DiscordSessionHandler over a live
// discordgo session.
type DiscordSession struct {
	session *discordgo.Session
	logger  *slog.Logger
}

func (d DiscordSession) AddHandler(handler any) func() {
	return d.session.AddHandler(handler)
}

func (d DiscordSession) Open() error {
	return d.session.Open()
}

func (d DiscordSession) Close() error {
	return d.session.Close()
}

func (d DiscordSession) State() *discordgo.State {
	return d.session.State
}

func (d DiscordSession) SetLogLevel(lvl slog.Level) error {
	switch lvl {
	case slog.LevelDebug:
		d.session.LogLevel = discordgo.LogDebug
	case slog.LevelInfo:
		d.session.LogLevel = discordgo.LogInformational
	case slog.LevelWarn:
		d.session.LogLevel = discordgo.LogWarning
	case slog.LevelError:
		d.session.LogLevel = discordgo.LogError
	default:
		return fmt.Errorf("unknown log level: %s", lvl)
	}
	return nil
}

func (d DiscordSession) SetHTTPClient(client *http.Client) {
	d.session.Client = client
}

func (d DiscordSession) UpdateCustomStatus(
	status string,
	_ ...discordgo.RequestOption,
) error {
	return d.session.UpdateCustomStatus(status)
}

func (d DiscordSession) ChannelMessageSend(
	channelID string,
	content string,
	options ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	return d.session.ChannelMessageSend(channelID, content, options...)
}

func (d DiscordSession) ChannelMessageSendReply(
	channelID string,
	content string,
	reference *discordgo.MessageReference,
	options ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	return d.session.ChannelMessageSendReply(channelID, content, reference, options...)
}

func (d DiscordSession) ChannelMessageEdit(
	channelID string,
	messageID string,
	content string,
	options ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	return d.session.ChannelMessageEdit(channelID, messageID, content, options...)
}

func (d DiscordSession) MessageReactionAdd(
	channelID string,
	messageID string,
	emojiID string,
	options ...discordgo.RequestOption,
) error {
	return d.session.MessageReactionAdd(channelID, messageID, emojiID, options...)
}

func (d DiscordSession) MessageReactionsRemoveAll(
	channelID string,
	messageID string,
	options ...discordgo.RequestOption,
) error {
	return d.session.MessageReactionsRemoveAll(channelID, messageID, options...)
}

func (d DiscordSession) GuildMemberDeleteWithReason(
	guildID string,
	userID string,
	reason string,
	options ...discordgo.RequestOption,
) error {
	return d.session.GuildMemberDeleteWithReason(guildID, userID, reason, options...)
}

func (d DiscordSession) GuildBanCreateWithReason(
	guildID string,
	userID string,
	reason string,
	days int,
	options ...discordgo.RequestOption,
) error {
	return d.session.GuildBanCreateWithReason(guildID, userID, reason, days, options...)
}

func (d DiscordSession) GuildBanDelete(
	guildID string,
	userID string,
	options ...discordgo.RequestOption,
) error {
	return d.session.GuildBanDelete(guildID, userID, options...)
}

func (d DiscordSession) GuildMemberTimeout(
	guildID string,
	userID string,
	until *time.Time,
	options ...discordgo.RequestOption,
) error {
	return d.session.GuildMemberTimeout(guildID, userID, until, options...)
}

func (d DiscordSession) GuildMemberNickname(
	guildID string,
	userID string,
	nickname string,
	options ...discordgo.RequestOption,
) error {
	return d.session.GuildMemberNickname(guildID, userID, nickname, options...)
}

func (d DiscordSession) GuildMemberRoleAdd(
	guildID string,
	userID string,
	roleID string,
	options ...discordgo.RequestOption,
) error {
	return d.session.GuildMemberRoleAdd(guildID, userID, roleID, options...)
}

func (d DiscordSession) GuildMemberRoleRemove(
	guildID string,
	userID string,
	roleID string,
	options ...discordgo.RequestOption,
) error {
	return d.session.GuildMemberRoleRemove(guildID, userID, roleID, options...)
}

func (d DiscordSession) GuildRoleEdit(
	guildID string,
	roleID string,
	data *discordgo.RoleParams,
	options ...discordgo.RequestOption,
) (*discordgo.Role, error) {
	return d.session.GuildRoleEdit(guildID, roleID, data, options...)
}

func (d DiscordSession) GuildChannelCreate(
	guildID string,
	name string,
	ctype discordgo.ChannelType,
	options ...discordgo.RequestOption,
) (*discordgo.Channel, error) {
	return d.session.GuildChannelCreate(guildID, name, ctype, options...)
}

func (d DiscordSession) ChannelDelete(
	channelID string,
	options ...discordgo.RequestOption,
) (*discordgo.Channel, error) {
	return d.session.ChannelDelete(channelID, options...)
}

func (d DiscordSession) ChannelMessages(
	channelID string,
	limit int,
	beforeID string,
	afterID string,
	aroundID string,
	options ...discordgo.RequestOption,
) ([]*discordgo.Message, error) {
	return d.session.ChannelMessages(channelID, limit, beforeID, afterID, aroundID, options...)
}

func (d DiscordSession) ChannelMessageDelete(
	channelID string,
	messageID string,
	options ...discordgo.RequestOption,
) error {
	return d.session.ChannelMessageDelete(channelID, messageID, options...)
}

// sessionPrompter implements ConfirmationPrompter over the session.
type sessionPrompter struct {
	session DiscordSessionHandler
}

func (p sessionPrompter) SendPrompt(channelID string, content string) (string, error) {
	msg, err := p.session.ChannelMessageSend(
		channelID, truncate(content, discordMaxMessageLength),
	)
	if err != nil {
		return "", err
	}
	return msg.ID, nil
}

func (p sessionPrompter) UpdatePrompt(channelID string, messageID string, content string) error {
	_, err := p.session.ChannelMessageEdit(
		channelID, messageID, truncate(content, discordMaxMessageLength),
	)
	return err
}

func (p sessionPrompter) React(channelID string, messageID string, emoji string) error {
	return p.session.MessageReactionAdd(channelID, messageID, emoji)
}

func (p sessionPrompter) ClearReactions(channelID string, messageID string) error {
	return p.session.MessageReactionsRemoveAll(channelID, messageID)
}

// stateSnapshot implements GuildSnapshot over discordgo's state cache.
type stateSnapshot struct {
	guildID   string
	botUserID string
	members   map[string]GuildMember
	roles     map[string]GuildRole
	channels  map[string]GuildChannel
}

func newStateSnapshot(state *discordgo.State, guildID string) (*stateSnapshot, error) {
	guild, err := state.Guild(guildID)
	if err != nil {
		return nil, fmt.Errorf("guild %s not in state: %w", guildID, err)
	}

	snap := &stateSnapshot{
		guildID:  guildID,
		members:  map[string]GuildMember{},
		roles:    map[string]GuildRole{},
		channels: map[string]GuildChannel{},
	}
	if state.User != nil {
		snap.botUserID = state.User.ID
	}

	for _, m := range guild.Members {
		if m.User == nil {
			continue
		}
		snap.members[m.User.ID] = GuildMember{
			ID:       m.User.ID,
			Username: m.User.Username,
			Nick:     m.Nick,
			RoleIDs:  m.Roles,
			Bot:      m.User.Bot,
			Member:   true,
		}
	}
	for _, r := range guild.Roles {
		snap.roles[r.ID] = GuildRole{
			ID:       r.ID,
			Name:     r.Name,
			Position: r.Position,
			Managed:  r.Managed,
		}
	}
	for _, ch := range guild.Channels {
		kind := ChannelText
		if ch.Type == discordgo.ChannelTypeGuildVoice {
			kind = ChannelVoice
		}
		snap.channels[ch.ID] = GuildChannel{ID: ch.ID, Name: ch.Name, Kind: kind}
	}
	return snap, nil
}

func (s *stateSnapshot) GuildID() string   { return s.guildID }
func (s *stateSnapshot) BotUserID() string { return s.botUserID }

func (s *stateSnapshot) Member(id string) (GuildMember, bool) {
	m, ok := s.members[id]
	return m, ok
}

func (s *stateSnapshot) Members() []GuildMember {
	out := make([]GuildMember, 0, len(s.members))
	for _, m := range s.members {
		out = append(out, m)
	}
	return out
}

func (s *stateSnapshot) Role(id string) (GuildRole, bool) {
	r, ok := s.roles[id]
	return r, ok
}

func (s *stateSnapshot) Roles() []GuildRole {
	out := make([]GuildRole, 0, len(s.roles))
	for _, r := range s.roles {
		out = append(out, r)
	}
	return out
}

func (s *stateSnapshot) Channel(id string) (GuildChannel, bool) {
	ch, ok := s.channels[id]
	return ch, ok
}

func (s *stateSnapshot) Channels() []GuildChannel {
	out := make([]GuildChannel, 0, len(s.channels))
	for _, ch := range s.channels {
		out = append(out, ch)
	}
	return out
}

// messageMentionsUser reports whether the message mentions the given
// user directly.
func messageMentionsUser(m *discordgo.Message, userID string) bool {
	if m == nil {
		return false
	}
	for _, u := range m.Mentions {
		if u != nil && u.ID == userID {
			return true
		}
	}
	return false
}
