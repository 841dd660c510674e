package steward

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/agnivade/levenshtein"
)

// GuildMember is one entry in the guild roster snapshot. Member
// indicates an active membership record: only members can have their
// nickname, roles, or timeout edited.
type GuildMember struct {
	ID       string   `json:"id"`
	Username string   `json:"username"`
	Nick     string   `json:"nick,omitempty"`
	RoleIDs  []string `json:"role_ids,omitempty"`
	Bot      bool     `json:"bot,omitempty"`
	Member   bool     `json:"member"`
}

// DisplayName returns the server nickname when set, else the username.
func (m GuildMember) DisplayName() string {
	if m.Nick != "" {
		return m.Nick
	}
	return m.Username
}

type GuildRole struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Position int    `json:"position"`
	Managed  bool   `json:"managed,omitempty"`
}

type GuildChannel struct {
	ID   string      `json:"id"`
	Name string      `json:"name"`
	Kind ChannelKind `json:"kind"`
}

// GuildSnapshot is a read-only view of the guild's current members,
// roles, and channels, kept current by the gateway layer. The resolver
// and permission gate only ever read through this interface, which is
// what makes them testable without a live connection.
type GuildSnapshot interface {
	GuildID() string
	BotUserID() string
	Member(id string) (GuildMember, bool)
	Members() []GuildMember
	Role(id string) (GuildRole, bool)
	Roles() []GuildRole
	Channel(id string) (GuildChannel, bool)
	Channels() []GuildChannel
}

// ResolvedEntity is a concrete platform handle produced by the
// resolver. MemberCapable mirrors the User-vs-Member distinction:
// false means the user is known but holds no membership record here.
type ResolvedEntity struct {
	Kind          EntityKind `json:"kind"`
	ID            string     `json:"id"`
	DisplayName   string     `json:"display_name"`
	MemberCapable bool       `json:"member_capable,omitempty"`
}

// ResolvedParameters mirrors ExtractedParameters with every entity
// reference replaced by a concrete handle. A PendingConfirmation only
// ever holds this form.
type ResolvedParameters struct {
	Action      ActionType      `json:"action"`
	Target      *ResolvedEntity `json:"target,omitempty"`
	Role        *ResolvedEntity `json:"role,omitempty"`
	Channel     *ResolvedEntity `json:"channel,omitempty"`
	FilterUser  *ResolvedEntity `json:"filter_user,omitempty"`
	Duration    time.Duration   `json:"duration,omitempty"`
	Reason      string          `json:"reason,omitempty"`
	Count       int             `json:"count,omitempty"`
	DeleteDays  int             `json:"delete_days,omitempty"`
	OldName     string          `json:"old_name,omitempty"`
	NewName     string          `json:"new_name,omitempty"`
	Nickname    string          `json:"nickname,omitempty"`
	ChannelName string          `json:"channel_name,omitempty"`
	ChannelKind ChannelKind     `json:"channel_kind,omitempty"`
	Context     string          `json:"context,omitempty"`
	UserID      string          `json:"user_id,omitempty"`
}

// Resolver resolves EntityReference placeholders against a guild
// snapshot. It also tracks, per requester, the most recently resolved
// user so third-person pronouns ("him", "their") have an antecedent.
type Resolver struct {
	logger        *slog.Logger
	antecedentTTL time.Duration

	mu          sync.Mutex
	antecedents map[string]antecedent
}

type antecedent struct {
	entity ResolvedEntity
	seen   time.Time
}

func NewResolver(cfg *InterpreterConfig, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		logger:        logger.With(loggerNameKey, "resolver"),
		antecedentTTL: cfg.AntecedentTTL,
		antecedents:   map[string]antecedent{},
	}
}

// Resolve replaces every reference in params with a concrete entity,
// enforcing the member-capability requirement of the action. It does
// not check authorization or hierarchy; that's the permission gate's
// job.
func (r *Resolver) Resolve(
	params *ExtractedParameters,
	snap GuildSnapshot,
	requesterID string,
) (*ResolvedParameters, error) {
	resolved := &ResolvedParameters{
		Action:      params.Action,
		Duration:    params.Duration,
		Reason:      params.Reason,
		Count:       params.Count,
		DeleteDays:  params.DeleteDays,
		OldName:     params.OldName,
		NewName:     params.NewName,
		Nickname:    params.Nickname,
		ChannelName: params.ChannelName,
		ChannelKind: params.ChannelKind,
		Context:     params.Context,
		UserID:      params.UserID,
	}

	if params.Target != nil {
		target, err := r.resolveUser(*params.Target, snap, requesterID)
		if err != nil {
			return nil, err
		}
		if params.Action.RequiresMemberCapability() && !target.MemberCapable {
			return nil, &NotAGuildMemberError{Entity: target, Action: params.Action}
		}
		resolved.Target = &target
		r.recordAntecedent(snap.GuildID(), requesterID, target)
	}

	if params.FilterUser != nil {
		filter, err := r.resolveUser(*params.FilterUser, snap, requesterID)
		if err != nil {
			return nil, err
		}
		resolved.FilterUser = &filter
	}

	if params.Role != nil {
		role, err := resolveRole(*params.Role, snap)
		if err != nil {
			return nil, err
		}
		resolved.Role = &role
	}

	if params.Channel != nil {
		channel, err := resolveChannel(*params.Channel, snap)
		if err != nil {
			return nil, err
		}
		resolved.Channel = &channel
	}

	return resolved, nil
}

func (r *Resolver) resolveUser(
	ref EntityReference,
	snap GuildSnapshot,
	requesterID string,
) (ResolvedEntity, error) {
	switch ref.Method {
	case ResolveExplicitMention:
		// Mentions carry the ID directly and always win.
		if m, ok := snap.Member(ref.RawToken); ok {
			return memberEntity(m), nil
		}
		// A known user without a membership record. Bans and unbans
		// accept this; member-scoped actions reject it upstream.
		return ResolvedEntity{
			Kind:        EntityUser,
			ID:          ref.RawToken,
			DisplayName: fmt.Sprintf("<@%s>", ref.RawToken),
		}, nil

	case ResolvePossessive:
		if m, ok := snap.Member(requesterID); ok {
			return memberEntity(m), nil
		}
		return ResolvedEntity{
			Kind:        EntityUser,
			ID:          requesterID,
			DisplayName: fmt.Sprintf("<@%s>", requesterID),
		}, nil

	case ResolvePronoun:
		if botPronounRe.MatchString(ref.RawToken) {
			if m, ok := snap.Member(snap.BotUserID()); ok {
				return memberEntity(m), nil
			}
			return ResolvedEntity{
				Kind:          EntityUser,
				ID:            snap.BotUserID(),
				DisplayName:   "me",
				MemberCapable: true,
			}, nil
		}
		if ent, ok := r.lookupAntecedent(snap.GuildID(), requesterID); ok {
			return ent, nil
		}
		return ResolvedEntity{}, ErrPronounWithoutAntecedent

	default:
		return resolveUserByName(ref, snap)
	}
}

// resolveUserByName does case-insensitive matching against usernames
// and nicknames: exact matches first, then substring matches. Exactly
// one candidate resolves; zero or several are reported, never guessed.
func resolveUserByName(ref EntityReference, snap GuildSnapshot) (ResolvedEntity, error) {
	token := strings.ToLower(ref.RawToken)

	var exact []GuildMember
	var partial []GuildMember
	for _, m := range snap.Members() {
		username := strings.ToLower(m.Username)
		nick := strings.ToLower(m.Nick)
		switch {
		case username == token || (nick != "" && nick == token):
			exact = append(exact, m)
		case strings.Contains(username, token) || strings.Contains(nick, token):
			partial = append(partial, m)
		}
	}

	candidates := exact
	if len(candidates) == 0 {
		candidates = partial
	}

	switch len(candidates) {
	case 1:
		return memberEntity(candidates[0]), nil
	case 0:
		return ResolvedEntity{}, &EntityNotFoundError{
			Ref:     ref,
			Closest: closestMemberName(token, snap.Members()),
		}
	default:
		resolved := make([]ResolvedEntity, len(candidates))
		for i, m := range candidates {
			resolved[i] = memberEntity(m)
		}
		sortByDistance(token, resolved)
		return ResolvedEntity{}, &EntityAmbiguousError{Ref: ref, Candidates: resolved}
	}
}

func resolveRole(ref EntityReference, snap GuildSnapshot) (ResolvedEntity, error) {
	if ref.Method == ResolveExplicitMention {
		if role, ok := snap.Role(ref.RawToken); ok {
			return roleEntity(role), nil
		}
		return ResolvedEntity{}, &EntityNotFoundError{Ref: ref}
	}

	token := strings.ToLower(ref.RawToken)
	var exact []GuildRole
	var partial []GuildRole
	for _, role := range snap.Roles() {
		if role.Managed || role.Name == "@everyone" {
			continue
		}
		name := strings.ToLower(role.Name)
		switch {
		case name == token:
			exact = append(exact, role)
		case strings.Contains(name, token):
			partial = append(partial, role)
		}
	}

	candidates := exact
	// An exact tie still has to be surfaced: two roles may share a
	// name differing only in case.
	if len(candidates) == 0 {
		candidates = partial
	}

	switch len(candidates) {
	case 1:
		return roleEntity(candidates[0]), nil
	case 0:
		names := make([]string, 0)
		for _, role := range snap.Roles() {
			if !role.Managed {
				names = append(names, role.Name)
			}
		}
		return ResolvedEntity{}, &EntityNotFoundError{
			Ref:     ref,
			Closest: closestName(token, names),
		}
	default:
		resolved := make([]ResolvedEntity, len(candidates))
		for i, role := range candidates {
			resolved[i] = roleEntity(role)
		}
		sortByDistance(token, resolved)
		return ResolvedEntity{}, &EntityAmbiguousError{Ref: ref, Candidates: resolved}
	}
}

func resolveChannel(ref EntityReference, snap GuildSnapshot) (ResolvedEntity, error) {
	if ref.Method == ResolveExplicitMention {
		if ch, ok := snap.Channel(ref.RawToken); ok {
			return channelEntity(ch), nil
		}
		return ResolvedEntity{}, &EntityNotFoundError{Ref: ref}
	}

	token := strings.ToLower(ref.RawToken)
	var exact []GuildChannel
	var partial []GuildChannel
	for _, ch := range snap.Channels() {
		name := strings.ToLower(ch.Name)
		switch {
		case name == token:
			exact = append(exact, ch)
		case strings.Contains(name, token):
			partial = append(partial, ch)
		}
	}

	candidates := exact
	if len(candidates) == 0 {
		candidates = partial
	}

	switch len(candidates) {
	case 1:
		return channelEntity(candidates[0]), nil
	case 0:
		names := make([]string, 0)
		for _, ch := range snap.Channels() {
			names = append(names, ch.Name)
		}
		return ResolvedEntity{}, &EntityNotFoundError{
			Ref:     ref,
			Closest: closestName(token, names),
		}
	default:
		resolved := make([]ResolvedEntity, len(candidates))
		for i, ch := range candidates {
			resolved[i] = channelEntity(ch)
		}
		sortByDistance(token, resolved)
		return ResolvedEntity{}, &EntityAmbiguousError{Ref: ref, Candidates: resolved}
	}
}

func memberEntity(m GuildMember) ResolvedEntity {
	return ResolvedEntity{
		Kind:          EntityUser,
		ID:            m.ID,
		DisplayName:   m.DisplayName(),
		MemberCapable: m.Member,
	}
}

func roleEntity(r GuildRole) ResolvedEntity {
	return ResolvedEntity{Kind: EntityRole, ID: r.ID, DisplayName: r.Name}
}

func channelEntity(c GuildChannel) ResolvedEntity {
	return ResolvedEntity{Kind: EntityChannel, ID: c.ID, DisplayName: c.Name}
}

// sortByDistance orders candidates by edit distance from the raw token,
// nearest first, so ambiguity listings lead with the likeliest match.
func sortByDistance(token string, entities []ResolvedEntity) {
	sort.SliceStable(
		entities, func(i, j int) bool {
			di := levenshtein.ComputeDistance(token, strings.ToLower(entities[i].DisplayName))
			dj := levenshtein.ComputeDistance(token, strings.ToLower(entities[j].DisplayName))
			return di < dj
		},
	)
}

func closestMemberName(token string, members []GuildMember) string {
	names := make([]string, 0, len(members))
	for _, m := range members {
		if m.Bot {
			continue
		}
		names = append(names, m.DisplayName())
	}
	return closestName(token, names)
}

// closestName returns the candidate with the smallest edit distance
// from the token, or "" when nothing is close enough to suggest.
func closestName(token string, names []string) string {
	best := ""
	bestDistance := -1
	for _, name := range names {
		d := levenshtein.ComputeDistance(token, strings.ToLower(name))
		if bestDistance == -1 || d < bestDistance {
			best = name
			bestDistance = d
		}
	}
	// A distance larger than the token itself isn't a suggestion,
	// it's noise.
	if bestDistance < 0 || bestDistance > len(token) {
		return ""
	}
	return best
}

func (r *Resolver) recordAntecedent(guildID, requesterID string, ent ResolvedEntity) {
	if ent.Kind != EntityUser {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.antecedents[guildID+":"+requesterID] = antecedent{
		entity: ent,
		seen:   time.Now().UTC(),
	}
}

func (r *Resolver) lookupAntecedent(guildID, requesterID string) (ResolvedEntity, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := guildID + ":" + requesterID
	a, ok := r.antecedents[key]
	if !ok {
		return ResolvedEntity{}, false
	}
	if r.antecedentTTL > 0 && time.Since(a.seen) > r.antecedentTTL {
		delete(r.antecedents, key)
		return ResolvedEntity{}, false
	}
	return a.entity, true
}
