package steward

import (
	"errors"
	"fmt"
	"strings"
)

// The interpreter surfaces a closed set of typed failures. Each stage of
// the pipeline short-circuits with exactly one of these; nothing in this
// package panics across a stage boundary. Every error in the taxonomy
// implements userFacing so the Discord layer can reply with a message
// suitable for the requester.
var (
	// ErrNoActionDetected indicates no action pattern scored above the
	// configured confidence threshold.
	ErrNoActionDetected = errors.New("no admin action detected")

	// ErrPronounWithoutAntecedent indicates a third-person pronoun was
	// used with no previously resolved user in the session.
	ErrPronounWithoutAntecedent = errors.New("pronoun used with no prior reference")

	// ErrPermissionDenied indicates the requester is not on the admin
	// allow-list.
	ErrPermissionDenied = errors.New("requester is not an authorized admin")

	// ErrConfirmationExpired indicates a reaction arrived for a prompt
	// whose confirmation window already closed.
	ErrConfirmationExpired = errors.New("confirmation expired")

	// ErrPlatformRateLimited indicates the platform rate limit was hit
	// and the single bounded retry also failed.
	ErrPlatformRateLimited = errors.New("platform rate limited")
)

type userFacing interface {
	UserMessage() string
}

// AmbiguousClassificationError is returned when two action types score
// within the configured epsilon of each other and the tie-break on
// matched pattern length cannot separate them.
type AmbiguousClassificationError struct {
	Candidates []ActionType
}

func (e *AmbiguousClassificationError) Error() string {
	names := make([]string, len(e.Candidates))
	for i, c := range e.Candidates {
		names[i] = c.String()
	}
	return fmt.Sprintf("ambiguous classification: %s", strings.Join(names, ", "))
}

func (e *AmbiguousClassificationError) UserMessage() string {
	names := make([]string, len(e.Candidates))
	for i, c := range e.Candidates {
		names[i] = "`" + c.String() + "`"
	}
	return fmt.Sprintf(
		"I can't tell which of these you mean: %s. Please rephrase.",
		strings.Join(names, " or "),
	)
}

// MissingParameterError is returned by an extractor when a mandatory
// field for the detected action could not be found in the text.
type MissingParameterError struct {
	Action ActionType
	Field  string
}

func (e *MissingParameterError) Error() string {
	return fmt.Sprintf("%s: missing required parameter %q", e.Action, e.Field)
}

func (e *MissingParameterError) UserMessage() string {
	return fmt.Sprintf(
		"I understood `%s`, but couldn't find the `%s` in your message.",
		e.Action, e.Field,
	)
}

// EntityNotFoundError is returned by the resolver when a reference
// matches nothing in the guild.
type EntityNotFoundError struct {
	Ref EntityReference

	// Closest holds the nearest-named entity, when one exists, so the
	// user can be offered a suggestion.
	Closest string
}

func (e *EntityNotFoundError) Error() string {
	return fmt.Sprintf("no %s found matching %q", e.Ref.Kind, e.Ref.RawToken)
}

func (e *EntityNotFoundError) UserMessage() string {
	msg := fmt.Sprintf("I couldn't find a %s matching **%s**.", e.Ref.Kind, e.Ref.RawToken)
	if e.Closest != "" {
		msg += fmt.Sprintf(" Did you mean **%s**?", e.Closest)
	}
	return msg
}

// EntityAmbiguousError is returned by the resolver when a reference
// matches more than one candidate. Candidates are ordered by edit
// distance from the raw token, nearest first.
type EntityAmbiguousError struct {
	Ref        EntityReference
	Candidates []ResolvedEntity
}

func (e *EntityAmbiguousError) Error() string {
	return fmt.Sprintf(
		"%q matches %d %ss", e.Ref.RawToken, len(e.Candidates), e.Ref.Kind,
	)
}

func (e *EntityAmbiguousError) UserMessage() string {
	names := make([]string, len(e.Candidates))
	for i, c := range e.Candidates {
		names[i] = "**" + c.DisplayName + "**"
	}
	return fmt.Sprintf(
		"**%s** matches more than one %s: %s. Please be more specific.",
		e.Ref.RawToken, e.Ref.Kind, strings.Join(names, ", "),
	)
}

// NotAGuildMemberError is returned when a user reference resolved, but
// the action requires an active guild membership the user doesn't have.
type NotAGuildMemberError struct {
	Entity ResolvedEntity
	Action ActionType
}

func (e *NotAGuildMemberError) Error() string {
	return fmt.Sprintf(
		"%s requires a guild member, %q is not one", e.Action, e.Entity.DisplayName,
	)
}

func (e *NotAGuildMemberError) UserMessage() string {
	return fmt.Sprintf(
		"**%s** isn't a member of this server, so I can't `%s` them.",
		e.Entity.DisplayName, e.Action,
	)
}

// InsufficientHierarchyError is returned when the bot's highest role
// does not outrank the target's highest role, or the requester targeted
// themselves with an action that isn't self-target safe.
type InsufficientHierarchyError struct {
	Target ResolvedEntity
	Reason string
}

func (e *InsufficientHierarchyError) Error() string {
	return fmt.Sprintf("insufficient hierarchy over %q: %s", e.Target.DisplayName, e.Reason)
}

func (e *InsufficientHierarchyError) UserMessage() string {
	return fmt.Sprintf("I can't act on **%s**: %s.", e.Target.DisplayName, e.Reason)
}

// ExecutionForbiddenError is returned when the platform rejects a
// confirmed action because the bot lacks the required permission bit.
// Distinct from InsufficientHierarchyError, which is checked before the
// confirmation prompt is ever shown.
type ExecutionForbiddenError struct {
	Action ActionType
	Err    error
}

func (e *ExecutionForbiddenError) Error() string {
	return fmt.Sprintf("platform forbade %s: %v", e.Action, e.Err)
}

func (e *ExecutionForbiddenError) Unwrap() error {
	return e.Err
}

func (e *ExecutionForbiddenError) UserMessage() string {
	return fmt.Sprintf(
		"The server rejected `%s` - I'm missing a permission I need for it.",
		e.Action,
	)
}

// UserMessage maps any pipeline error to text suitable for sending back
// to the requester. Unknown errors get a generic message rather than
// leaking internals.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var uf userFacing
	if errors.As(err, &uf) {
		return uf.UserMessage()
	}
	switch {
	case errors.Is(err, ErrNoActionDetected):
		return "I didn't recognize an admin action in that message."
	case errors.Is(err, ErrPronounWithoutAntecedent):
		return "I'm not sure who you mean - please mention them or use their name."
	case errors.Is(err, ErrPermissionDenied):
		return "You don't have permission to use admin commands."
	case errors.Is(err, ErrConfirmationExpired):
		return "That confirmation has expired. Please repeat the request."
	case errors.Is(err, ErrPlatformRateLimited):
		return "Discord is rate limiting me right now - please try again shortly."
	}
	return "Sorry, something went wrong."
}
