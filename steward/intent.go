package steward

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"
)

// ParsedIntent is the result of a single classification pass. It's
// produced once per message and never mutated afterwards.
type ParsedIntent struct {
	RawText         string     `json:"raw_text"`
	Action          ActionType `json:"action"`
	Confidence      float64    `json:"confidence"`
	MatchedKeywords []string   `json:"matched_keywords"`
}

// triggerPattern is a single weighted trigger for an action type.
// Specificity is the number of significant tokens in the trigger and is
// used as the tie-break when two actions score within the configured
// epsilon of each other.
type triggerPattern struct {
	phrase      string
	weight      float64
	specificity int
	re          *regexp.Regexp
}

// phrasePattern compiles a trigger from a literal phrase: word
// boundaries on both ends, any whitespace between words.
func phrasePattern(phrase string, weight float64) triggerPattern {
	words := strings.Fields(phrase)
	quoted := make([]string, len(words))
	for i, w := range words {
		quoted[i] = regexp.QuoteMeta(w)
	}
	return triggerPattern{
		phrase:      phrase,
		weight:      weight,
		specificity: len(words),
		re:          regexp.MustCompile(`\b` + strings.Join(quoted, `\s+`) + `\b`),
	}
}

// gapPattern compiles a trigger from two phrase halves with up to
// maxGap filler words between them (ex: "remove ... from the server").
func gapPattern(lead, tail string, maxGap int, weight float64) triggerPattern {
	leadWords := strings.Fields(lead)
	tailWords := strings.Fields(tail)
	expr := fmt.Sprintf(
		`\b%s(?:\s+\S+){0,%d}?\s+%s\b`,
		strings.Join(quoteAll(leadWords), `\s+`),
		maxGap,
		strings.Join(quoteAll(tailWords), `\s+`),
	)
	return triggerPattern{
		phrase:      lead + " ... " + tail,
		weight:      weight,
		specificity: len(leadWords) + len(tailWords),
		re:          regexp.MustCompile(expr),
	}
}

func quoteAll(words []string) []string {
	out := make([]string, len(words))
	for i, w := range words {
		out[i] = regexp.QuoteMeta(w)
	}
	return out
}

// actionTriggers maps each action type to its weighted trigger table,
// plus an optional guard that must hold for any of its patterns to
// count. The tables are package-level and immutable, which keeps
// classification deterministic and side-effect free.
type actionTriggerSet struct {
	patterns []triggerPattern

	// guard, when set, must return true for the action to be scored at
	// all. Used to keep generic verbs like "delete" from matching
	// without message context.
	guard func(text string) bool
}

var messageWordRe = regexp.MustCompile(`\b(?:messages?|msgs?)\b`)

var actionTriggers = map[ActionType]actionTriggerSet{
	ActionKickUser: {
		patterns: []triggerPattern{
			phrasePattern("kick", 1.0),
			phrasePattern("boot", 0.8),
			phrasePattern("eject", 0.8),
			gapPattern("remove", "from the server", 3, 0.8),
			gapPattern("remove", "from server", 3, 0.8),
		},
	},
	ActionBanUser: {
		patterns: []triggerPattern{
			phrasePattern("ban", 1.0),
			phrasePattern("banish", 0.8),
		},
	},
	ActionUnbanUser: {
		patterns: []triggerPattern{
			phrasePattern("unban", 1.0),
			phrasePattern("lift the ban", 1.0),
		},
	},
	ActionTimeoutUser: {
		patterns: []triggerPattern{
			phrasePattern("timeout", 1.0),
			phrasePattern("time out", 1.0),
			phrasePattern("mute", 1.0),
			phrasePattern("silence", 0.8),
			phrasePattern("quiet", 0.6),
			phrasePattern("shush", 0.6),
		},
	},
	ActionRemoveTimeout: {
		patterns: []triggerPattern{
			phrasePattern("remove timeout", 1.0),
			phrasePattern("remove the timeout", 1.0),
			phrasePattern("unmute", 1.0),
			phrasePattern("unsilence", 1.0),
			phrasePattern("lift timeout", 0.9),
		},
	},
	ActionChangeNickname: {
		patterns: []triggerPattern{
			phrasePattern("nickname", 1.0),
			phrasePattern("nick", 0.9),
			phrasePattern("rename user", 1.0),
			phrasePattern("rename member", 1.0),
			phrasePattern("change name of", 1.0),
			phrasePattern("set nickname", 1.0),
			phrasePattern("update nickname", 1.0),
			phrasePattern("rename", 0.5),
		},
	},
	ActionAddRole: {
		patterns: []triggerPattern{
			phrasePattern("add role", 1.0),
			phrasePattern("give role", 1.0),
			gapPattern("add", "role", 2, 0.9),
			gapPattern("give", "role", 3, 0.9),
			gapPattern("assign", "role", 3, 0.9),
		},
	},
	ActionRemoveRole: {
		patterns: []triggerPattern{
			phrasePattern("remove role", 1.0),
			phrasePattern("remove the role", 1.0),
			phrasePattern("take role", 1.0),
			phrasePattern("take away role", 1.0),
			phrasePattern("strip role", 0.8),
		},
	},
	ActionRenameRole: {
		patterns: []triggerPattern{
			phrasePattern("rename role", 1.0),
			phrasePattern("rename the role", 1.0),
			phrasePattern("change role name", 1.0),
			phrasePattern("update role name", 1.0),
			phrasePattern("update the role name", 1.0),
		},
	},
	ActionReorganizeRoles: {
		patterns: []triggerPattern{
			phrasePattern("reorganize roles", 1.0),
			phrasePattern("reorganize the roles", 1.0),
			phrasePattern("fix role names", 1.0),
			phrasePattern("improve role names", 1.0),
			phrasePattern("clean up roles", 1.0),
			gapPattern("rename", "roles", 2, 0.8),
		},
	},
	ActionBulkDelete: {
		patterns: []triggerPattern{
			phrasePattern("delete", 1.0),
			phrasePattern("purge", 1.0),
			phrasePattern("clear", 0.8),
			phrasePattern("remove", 0.6),
			phrasePattern("clean", 0.6),
			phrasePattern("wipe", 0.6),
		},
		// "delete" with no message context is probably a channel or
		// role operation, not a bulk delete.
		guard: func(text string) bool {
			return messageWordRe.MatchString(text)
		},
	},
	ActionCreateChannel: {
		patterns: []triggerPattern{
			phrasePattern("create channel", 1.0),
			gapPattern("create", "channel", 3, 0.9),
			gapPattern("make", "channel", 3, 0.8),
		},
	},
	ActionDeleteChannel: {
		patterns: []triggerPattern{
			phrasePattern("delete channel", 1.0),
			gapPattern("delete", "channel", 2, 0.9),
			gapPattern("remove", "channel", 2, 0.8),
		},
	},
}

// Classifier maps normalized message text to an action type using the
// static trigger tables. It holds no mutable state: identical input
// always yields identical output.
type Classifier struct {
	confidenceThreshold float64
	tieEpsilon          float64
	logger              *slog.Logger
}

func NewClassifier(cfg *InterpreterConfig, logger *slog.Logger) *Classifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Classifier{
		confidenceThreshold: cfg.ConfidenceThreshold,
		tieEpsilon:          cfg.TieEpsilon,
		logger:              logger.With(loggerNameKey, "classifier"),
	}
}

type actionScore struct {
	action      ActionType
	score       float64
	specificity int
	matched     []string
}

// Classify scores the normalized text against every action's trigger
// table and returns the winning intent. It fails with
// ErrNoActionDetected when the winner doesn't clear the confidence
// threshold, or with AmbiguousClassificationError when more than one
// action scores within the tie epsilon of the top at equal maximum
// specificity.
func (c *Classifier) Classify(text string) (*ParsedIntent, error) {
	scores := make([]actionScore, 0, len(AllActionTypes))

	for _, action := range AllActionTypes {
		triggers := actionTriggers[action]
		if triggers.guard != nil && !triggers.guard(text) {
			continue
		}
		s := actionScore{action: action}
		for _, p := range triggers.patterns {
			if !p.re.MatchString(text) {
				continue
			}
			s.score += p.weight
			s.matched = append(s.matched, p.phrase)
			if p.specificity > s.specificity {
				s.specificity = p.specificity
			}
		}
		if s.score > 0 {
			scores = append(scores, s)
		}
	}

	if len(scores) == 0 {
		return nil, ErrNoActionDetected
	}

	top := scores[0].score
	for _, s := range scores[1:] {
		if s.score > top {
			top = s.score
		}
	}

	// Every candidate within the epsilon of the top score competes;
	// the most specific trigger wins (ex: "remove timeout" over a bare
	// "timeout"). Iteration follows AllActionTypes registration order,
	// keeping the result deterministic.
	var tied []actionScore
	maxSpecificity := 0
	for _, s := range scores {
		if top-s.score > c.tieEpsilon {
			continue
		}
		tied = append(tied, s)
		if s.specificity > maxSpecificity {
			maxSpecificity = s.specificity
		}
	}

	winners := tied[:0]
	for _, s := range tied {
		if s.specificity == maxSpecificity {
			winners = append(winners, s)
		}
	}
	if len(winners) > 1 {
		candidates := make([]ActionType, len(winners))
		for i, s := range winners {
			candidates[i] = s.action
		}
		return nil, &AmbiguousClassificationError{Candidates: candidates}
	}

	best := winners[0]
	confidence := best.score
	if confidence > 1.0 {
		confidence = 1.0
	}
	if confidence < c.confidenceThreshold {
		c.logger.Debug(
			"score below threshold",
			"action", best.action,
			"score", best.score,
			"threshold", c.confidenceThreshold,
		)
		return nil, ErrNoActionDetected
	}

	return &ParsedIntent{
		RawText:         text,
		Action:          best.action,
		Confidence:      confidence,
		MatchedKeywords: best.matched,
	}, nil
}

var (
	botMentionRe = regexp.MustCompile(`<@!?\d+>`)
	whitespaceRe = regexp.MustCompile(`\s+`)
)

// normalizeText prepares raw message content for classification:
// the bot's own mention is stripped, the text is lower-cased, and
// whitespace is collapsed. Other user mentions are left in place for
// the extractors.
func normalizeText(raw string, botUserID string) string {
	out := raw
	if botUserID != "" {
		mention := regexp.MustCompile(`<@!?` + regexp.QuoteMeta(botUserID) + `>`)
		out = mention.ReplaceAllString(out, " ")
	}
	out = strings.ToLower(out)
	out = whitespaceRe.ReplaceAllString(out, " ")
	return strings.TrimSpace(out)
}
