package steward

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// EntityKind distinguishes the three resolvable reference targets.
type EntityKind string

const (
	EntityUser    EntityKind = "user"
	EntityRole    EntityKind = "role"
	EntityChannel EntityKind = "channel"
)

// ResolutionMethod records how a reference was expressed in the text,
// which determines how the resolver looks it up.
type ResolutionMethod string

const (
	ResolveExplicitMention ResolutionMethod = "explicit_mention"
	ResolveDisplayName     ResolutionMethod = "display_name"
	ResolvePronoun         ResolutionMethod = "pronoun"
	ResolvePossessive      ResolutionMethod = "possessive"
)

// EntityReference is an unresolved placeholder emitted by extraction.
// The resolver consumes it and replaces it with a ResolvedEntity (or an
// error); extractors never touch live guild state.
type EntityReference struct {
	Kind     EntityKind       `json:"kind"`
	RawToken string           `json:"raw_token"`
	Method   ResolutionMethod `json:"method"`
}

// Mention is an explicit user mention parsed out of the message by the
// platform layer before extraction runs.
type Mention struct {
	ID  string
	Bot bool
}

// ChannelKind is the channel type requested by create_channel.
type ChannelKind string

const (
	ChannelText  ChannelKind = "text"
	ChannelVoice ChannelKind = "voice"
)

// ExtractedParameters is the per-action parameter set produced by the
// extractors. Which fields are populated depends on Action; entity
// fields hold unresolved references until the resolver runs.
type ExtractedParameters struct {
	Action ActionType `json:"action"`

	// Target is the user the action operates on.
	Target *EntityReference `json:"target,omitempty"`

	// Role is the role reference for add_role/remove_role/rename_role.
	Role *EntityReference `json:"role,omitempty"`

	// Channel is the channel reference for delete_channel.
	Channel *EntityReference `json:"channel,omitempty"`

	// FilterUser optionally narrows bulk_delete to one author.
	FilterUser *EntityReference `json:"filter_user,omitempty"`

	Duration    time.Duration `json:"duration,omitempty"`
	Reason      string        `json:"reason,omitempty"`
	Count       int           `json:"count,omitempty"`
	DeleteDays  int           `json:"delete_days,omitempty"`
	OldName     string        `json:"old_name,omitempty"`
	NewName     string        `json:"new_name,omitempty"`
	Nickname    string        `json:"nickname,omitempty"`
	ChannelName string        `json:"channel_name,omitempty"`
	ChannelKind ChannelKind   `json:"channel_kind,omitempty"`
	Context     string        `json:"context,omitempty"`
	UserID      string        `json:"user_id,omitempty"`
}

// extractor is a pure function over normalized text and the message's
// mention list. No network, no guild state.
type extractor func(text string, mentions []Mention) (*ExtractedParameters, error)

// extractorFor returns the extraction routine for the given action.
func extractorFor(action ActionType) extractor {
	switch action {
	case ActionKickUser:
		return extractKick
	case ActionBanUser:
		return extractBan
	case ActionUnbanUser:
		return extractUnban
	case ActionTimeoutUser:
		return extractTimeout
	case ActionRemoveTimeout:
		return extractRemoveTimeout
	case ActionChangeNickname:
		return extractNickname
	case ActionAddRole:
		return extractAddRole
	case ActionRemoveRole:
		return extractRemoveRole
	case ActionRenameRole:
		return extractRenameRole
	case ActionReorganizeRoles:
		return extractReorganizeRoles
	case ActionBulkDelete:
		return extractBulkDelete
	case ActionCreateChannel:
		return extractCreateChannel
	case ActionDeleteChannel:
		return extractDeleteChannel
	default:
		return nil
	}
}

const defaultTimeoutDuration = 60 * time.Minute

var (
	quotedRe         = regexp.MustCompile(`["']([^"']+)["']`)
	durationRe       = regexp.MustCompile(`\b(\d+)\s*(seconds?|secs?|minutes?|mins?|hours?|hrs?|days?|[smhd])\b`)
	reasonClauseRe   = regexp.MustCompile(`\bfor\s+([^.!?]+)`)
	channelMentionRe = regexp.MustCompile(`<#(\d+)>`)
	hashChannelRe    = regexp.MustCompile(`#([a-z0-9_-]+)`)
	snowflakeRe      = regexp.MustCompile(`\b(\d{15,20})\b`)
	numberRe         = regexp.MustCompile(`\b(\d+)\b`)

	selfPronounRe  = regexp.MustCompile(`\b(my|me|i|mine)\b`)
	thirdPronounRe = regexp.MustCompile(`\b(him|his|her|hers|she|he|them|their|theirs|they)\b`)
	botPronounRe   = regexp.MustCompile(`\b(your|you|bot|yours)\b`)
)

// nameStopwords end a bare display-name token when scanning words after
// an action verb.
var nameStopwords = map[string]bool{
	"for": true, "from": true, "to": true, "because": true, "in": true,
	"the": true, "a": true, "an": true, "user": true, "member": true,
	"please": true, "out": true, "and": true, "with": true,
}

// userReference finds the action's user target, in resolution priority
// order: explicit mention, possessive/pronoun form, then a bare name
// following one of the action's verbs.
func userReference(text string, mentions []Mention, verbs ...string) *EntityReference {
	for i := len(mentions) - 1; i >= 0; i-- {
		if !mentions[i].Bot {
			return &EntityReference{
				Kind:     EntityUser,
				RawToken: mentions[i].ID,
				Method:   ResolveExplicitMention,
			}
		}
	}
	if m := selfPronounRe.FindString(text); m != "" {
		return &EntityReference{
			Kind:     EntityUser,
			RawToken: m,
			Method:   ResolvePossessive,
		}
	}
	if m := thirdPronounRe.FindString(text); m != "" {
		return &EntityReference{
			Kind:     EntityUser,
			RawToken: m,
			Method:   ResolvePronoun,
		}
	}
	if name := nameAfterVerbs(text, verbs); name != "" {
		return &EntityReference{
			Kind:     EntityUser,
			RawToken: name,
			Method:   ResolveDisplayName,
		}
	}
	return nil
}

// nameAfterVerbs scans for the first verb occurrence and returns the
// word that follows it, skipping leading stopwords. A single token is
// enough: the resolver does substring matching against the roster.
func nameAfterVerbs(text string, verbs []string) string {
	words := strings.Fields(text)
	for i, w := range words {
		w = strings.Trim(w, ".,!?")
		matched := false
		for _, v := range verbs {
			if w == v {
				matched = true
				break
			}
		}
		if !matched {
			continue
		}
		for j := i + 1; j < len(words); j++ {
			candidate := strings.Trim(words[j], ".,!?\"'")
			if candidate == "" || nameStopwords[candidate] {
				continue
			}
			if durationRe.MatchString(candidate) || numberRe.MatchString(candidate) {
				return ""
			}
			return candidate
		}
	}
	return ""
}

// parseDuration finds the first number+unit token and converts it.
// The conversion is pure arithmetic, so equal inputs always produce
// equal second counts.
func parseDuration(text string) (time.Duration, bool) {
	m := durationRe.FindStringSubmatch(text)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	switch m[2][0] {
	case 's':
		return time.Duration(n) * time.Second, true
	case 'm':
		return time.Duration(n) * time.Minute, true
	case 'h':
		return time.Duration(n) * time.Hour, true
	case 'd':
		return time.Duration(n) * 24 * time.Hour, true
	}
	return 0, false
}

// reasonClause returns the first "for ..." clause that isn't a duration
// ("for 30 minutes" is not a reason; "for being rude" is).
func reasonClause(text string) string {
	for _, m := range reasonClauseRe.FindAllStringSubmatch(text, -1) {
		clause := strings.TrimSpace(m[1])
		if clause == "" {
			continue
		}
		if durationRe.MatchString(clause) {
			// "for 30 minutes for being rude": strip the duration and
			// retry on the remainder.
			rest := reasonClauseRe.FindStringSubmatch(clause)
			if rest != nil && !durationRe.MatchString(rest[1]) {
				return strings.TrimSpace(rest[1])
			}
			continue
		}
		return clause
	}
	return ""
}

func extractKick(text string, mentions []Mention) (*ExtractedParameters, error) {
	target := userReference(text, mentions, "kick", "boot", "eject", "remove")
	if target == nil {
		return nil, &MissingParameterError{Action: ActionKickUser, Field: "target"}
	}
	return &ExtractedParameters{
		Action: ActionKickUser,
		Target: target,
		Reason: reasonClause(text),
	}, nil
}

func extractBan(text string, mentions []Mention) (*ExtractedParameters, error) {
	target := userReference(text, mentions, "ban", "banish")
	if target == nil {
		return nil, &MissingParameterError{Action: ActionBanUser, Field: "target"}
	}
	deleteDays := 0
	if strings.Contains(text, "delete messages") || strings.Contains(text, "clean") {
		deleteDays = 1
	}
	return &ExtractedParameters{
		Action:     ActionBanUser,
		Target:     target,
		Reason:     reasonClause(text),
		DeleteDays: deleteDays,
	}, nil
}

func extractUnban(text string, mentions []Mention) (*ExtractedParameters, error) {
	for i := len(mentions) - 1; i >= 0; i-- {
		if !mentions[i].Bot {
			return &ExtractedParameters{
				Action: ActionUnbanUser,
				UserID: mentions[i].ID,
			}, nil
		}
	}
	if m := snowflakeRe.FindStringSubmatch(text); m != nil {
		return &ExtractedParameters{Action: ActionUnbanUser, UserID: m[1]}, nil
	}
	return nil, &MissingParameterError{Action: ActionUnbanUser, Field: "user_id"}
}

func extractTimeout(text string, mentions []Mention) (*ExtractedParameters, error) {
	target := userReference(text, mentions, "timeout", "mute", "silence", "quiet", "shush")
	if target == nil {
		return nil, &MissingParameterError{Action: ActionTimeoutUser, Field: "target"}
	}
	duration, ok := parseDuration(text)
	if !ok {
		duration = defaultTimeoutDuration
	}
	return &ExtractedParameters{
		Action:   ActionTimeoutUser,
		Target:   target,
		Duration: duration,
		Reason:   reasonClause(text),
	}, nil
}

func extractRemoveTimeout(text string, mentions []Mention) (*ExtractedParameters, error) {
	target := userReference(text, mentions, "unmute", "unsilence", "timeout", "from")
	if target == nil {
		return nil, &MissingParameterError{Action: ActionRemoveTimeout, Field: "target"}
	}
	return &ExtractedParameters{Action: ActionRemoveTimeout, Target: target}, nil
}

var nicknamePatterns = []*regexp.Regexp{
	regexp.MustCompile(`\bto\s+(\S+(?:\s+\S+)*?)\s*$`),
	regexp.MustCompile(`\bas\s+(\S+(?:\s+\S+)*?)\s*$`),
	regexp.MustCompile(`\bnickname\s+(\S+(?:\s+\S+)*?)\s*$`),
	regexp.MustCompile(`\bnick\s+(\S+(?:\s+\S+)*?)\s*$`),
}

func extractNickname(text string, mentions []Mention) (*ExtractedParameters, error) {
	target := userReference(text, mentions, "rename", "nickname", "nick", "call")
	if target == nil {
		return nil, &MissingParameterError{Action: ActionChangeNickname, Field: "target"}
	}

	var nickname string
	if m := quotedRe.FindStringSubmatch(text); m != nil {
		nickname = strings.TrimSpace(m[1])
	} else {
		for _, p := range nicknamePatterns {
			if m := p.FindStringSubmatch(text); m != nil {
				nickname = strings.TrimRight(strings.TrimSpace(m[1]), ".!?")
				break
			}
		}
	}
	if nickname == "" {
		return nil, &MissingParameterError{Action: ActionChangeNickname, Field: "nickname"}
	}
	return &ExtractedParameters{
		Action:   ActionChangeNickname,
		Target:   target,
		Nickname: nickname,
	}, nil
}

var (
	roleAfterRe  = regexp.MustCompile(`\brole\s+([a-z0-9][a-z0-9' _-]*?)(?:\s+(?:to|from)\b|\s*$)`)
	roleBeforeRe = regexp.MustCompile(`\b(?:the\s+)?([a-z0-9][a-z0-9_-]*)\s+role\b`)
)

// roleReference extracts the role name: quoted wins, then the token
// after "role", then the token before "role" ("the admin role").
func roleReference(text string) *EntityReference {
	if m := quotedRe.FindStringSubmatch(text); m != nil {
		return &EntityReference{
			Kind:     EntityRole,
			RawToken: strings.TrimSpace(m[1]),
			Method:   ResolveDisplayName,
		}
	}
	if m := roleAfterRe.FindStringSubmatch(text); m != nil {
		return &EntityReference{
			Kind:     EntityRole,
			RawToken: strings.TrimSpace(m[1]),
			Method:   ResolveDisplayName,
		}
	}
	if m := roleBeforeRe.FindStringSubmatch(text); m != nil {
		return &EntityReference{
			Kind:     EntityRole,
			RawToken: strings.TrimSpace(m[1]),
			Method:   ResolveDisplayName,
		}
	}
	return nil
}

func extractAddRole(text string, mentions []Mention) (*ExtractedParameters, error) {
	target := userReference(text, mentions, "give", "add", "assign", "to")
	if target == nil {
		return nil, &MissingParameterError{Action: ActionAddRole, Field: "target"}
	}
	role := roleReference(text)
	if role == nil {
		return nil, &MissingParameterError{Action: ActionAddRole, Field: "role"}
	}
	return &ExtractedParameters{Action: ActionAddRole, Target: target, Role: role}, nil
}

func extractRemoveRole(text string, mentions []Mention) (*ExtractedParameters, error) {
	target := userReference(text, mentions, "remove", "take", "strip", "from")
	if target == nil {
		return nil, &MissingParameterError{Action: ActionRemoveRole, Field: "target"}
	}
	role := roleReference(text)
	if role == nil {
		return nil, &MissingParameterError{Action: ActionRemoveRole, Field: "role"}
	}
	return &ExtractedParameters{Action: ActionRemoveRole, Target: target, Role: role}, nil
}

var renameRolePairRe = regexp.MustCompile(`\brole\s+(?:named\s+|called\s+)?(.+?)\s+to\s+(.+?)\s*$`)

func extractRenameRole(text string, _ []Mention) (*ExtractedParameters, error) {
	var oldName, newName string

	quoted := quotedRe.FindAllStringSubmatch(text, -1)
	switch {
	case len(quoted) >= 2:
		oldName = strings.TrimSpace(quoted[0][1])
		newName = strings.TrimSpace(quoted[len(quoted)-1][1])
	case len(quoted) == 1:
		// One quoted name: figure out which side of "to" it sits on.
		if m := renameRolePairRe.FindStringSubmatch(text); m != nil {
			oldName = strings.Trim(strings.TrimSpace(m[1]), `"'`)
			newName = strings.Trim(strings.TrimSpace(m[2]), `"'.!?`)
		}
	default:
		if m := renameRolePairRe.FindStringSubmatch(text); m != nil {
			oldName = strings.TrimSpace(m[1])
			newName = strings.TrimRight(strings.TrimSpace(m[2]), ".!?")
		}
	}

	if oldName == "" {
		return nil, &MissingParameterError{Action: ActionRenameRole, Field: "old_name"}
	}
	if newName == "" {
		return nil, &MissingParameterError{Action: ActionRenameRole, Field: "new_name"}
	}
	return &ExtractedParameters{
		Action:  ActionRenameRole,
		OldName: oldName,
		NewName: newName,
		Role: &EntityReference{
			Kind:     EntityRole,
			RawToken: oldName,
			Method:   ResolveDisplayName,
		},
	}, nil
}

var reorganizeContextPatterns = []*regexp.Regexp{
	regexp.MustCompile(`roles?\b.*?\b(?:based\s+on|according\s+to|using|with)\s+(.+?)(?:\.|$)`),
	regexp.MustCompile(`roles?\b.*?\blike\s+(.+?)(?:\.|$)`),
	regexp.MustCompile(`roles?\s+for\s+(.+?)(?:\.|$)`),
	regexp.MustCompile(`context(?:\s+is)?[:\s]\s*(.+?)(?:\.|$)`),
}

const defaultReorganizeContext = "general community server"

func extractReorganizeRoles(text string, _ []Mention) (*ExtractedParameters, error) {
	context := defaultReorganizeContext
	for _, p := range reorganizeContextPatterns {
		if m := p.FindStringSubmatch(text); m != nil {
			candidate := strings.TrimRight(strings.TrimSpace(m[1]), ".,!?")
			if len(candidate) > 10 {
				context = candidate
				break
			}
		}
	}
	if context == defaultReorganizeContext {
		for _, m := range quotedRe.FindAllStringSubmatch(text, -1) {
			if len(m[1]) >= 15 {
				context = strings.TrimSpace(m[1])
				break
			}
		}
	}
	return &ExtractedParameters{Action: ActionReorganizeRoles, Context: context}, nil
}

const (
	defaultBulkDeleteCount = 1
	maxBulkDeleteCount     = 1000
)

func extractBulkDelete(text string, mentions []Mention) (*ExtractedParameters, error) {
	count := defaultBulkDeleteCount
	for _, m := range numberRe.FindAllStringSubmatch(text, -1) {
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		if n >= 1 && n <= maxBulkDeleteCount {
			count = n
			break
		}
	}

	params := &ExtractedParameters{Action: ActionBulkDelete, Count: count}

	switch {
	case botPronounRe.MatchString(text):
		params.FilterUser = &EntityReference{
			Kind:     EntityUser,
			RawToken: botPronounRe.FindString(text),
			Method:   ResolvePronoun,
		}
	case selfPronounRe.MatchString(text):
		params.FilterUser = &EntityReference{
			Kind:     EntityUser,
			RawToken: selfPronounRe.FindString(text),
			Method:   ResolvePossessive,
		}
	default:
		for i := len(mentions) - 1; i >= 0; i-- {
			if !mentions[i].Bot {
				params.FilterUser = &EntityReference{
					Kind:     EntityUser,
					RawToken: mentions[i].ID,
					Method:   ResolveExplicitMention,
				}
				break
			}
		}
	}
	return params, nil
}

var (
	channelCalledRe = regexp.MustCompile(`channel\b.*?\b(?:called|named)\s+(\S+(?:\s+\S+)*?)\s*$`)
	channelCreateRe = regexp.MustCompile(`create\b.*?\bchannel\s+(\S+(?:\s+\S+)*?)\s*$`)
	channelSlugRe   = regexp.MustCompile(`[^a-z0-9-]`)
)

// slugChannelName lowers, hyphenates, and strips characters that aren't
// valid in a Discord channel name.
func slugChannelName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	name = strings.NewReplacer(" ", "-", "_", "-").Replace(name)
	return channelSlugRe.ReplaceAllString(name, "")
}

func extractCreateChannel(text string, _ []Mention) (*ExtractedParameters, error) {
	kind := ChannelText
	if strings.Contains(text, "voice") {
		kind = ChannelVoice
	}

	var name string
	if m := quotedRe.FindStringSubmatch(text); m != nil {
		name = m[1]
	} else if m := channelCalledRe.FindStringSubmatch(text); m != nil {
		name = strings.TrimRight(m[1], ".!?")
	} else if m := channelCreateRe.FindStringSubmatch(text); m != nil {
		name = strings.TrimRight(m[1], ".!?")
	}

	name = slugChannelName(name)
	if name == "" {
		return nil, &MissingParameterError{Action: ActionCreateChannel, Field: "name"}
	}
	return &ExtractedParameters{
		Action:      ActionCreateChannel,
		ChannelName: name,
		ChannelKind: kind,
	}, nil
}

var channelAfterRe = regexp.MustCompile(`channel\s+(?:called\s+|named\s+)?([a-z0-9_-]+)`)

func extractDeleteChannel(text string, _ []Mention) (*ExtractedParameters, error) {
	if m := channelMentionRe.FindStringSubmatch(text); m != nil {
		return &ExtractedParameters{
			Action: ActionDeleteChannel,
			Channel: &EntityReference{
				Kind:     EntityChannel,
				RawToken: m[1],
				Method:   ResolveExplicitMention,
			},
		}, nil
	}
	if m := hashChannelRe.FindStringSubmatch(text); m != nil {
		return &ExtractedParameters{
			Action: ActionDeleteChannel,
			Channel: &EntityReference{
				Kind:     EntityChannel,
				RawToken: m[1],
				Method:   ResolveDisplayName,
			},
		}, nil
	}
	if m := channelAfterRe.FindStringSubmatch(text); m != nil {
		return &ExtractedParameters{
			Action: ActionDeleteChannel,
			Channel: &EntityReference{
				Kind:     EntityChannel,
				RawToken: m[1],
				Method:   ResolveDisplayName,
			},
		}, nil
	}
	return nil, &MissingParameterError{Action: ActionDeleteChannel, Field: "channel"}
}
