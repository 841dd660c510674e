package steward

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// RoleRename is a single suggested role rename.
type RoleRename struct {
	RoleID  string `json:"role_id"`
	OldName string `json:"old_name"`
	NewName string `json:"new_name"`
}

// RoleNamer produces rename suggestions for a guild's manageable roles
// given a freeform theme ("medieval kingdom", "space crew", ...).
type RoleNamer interface {
	SuggestRenames(
		ctx context.Context,
		guildContext string,
		roles []GuildRole,
	) ([]RoleRename, error)
}

const roleNamerSystemPrompt = `You rename chat server roles to fit a theme.
Given the current role names and a theme, propose a new name for each role
that should change. Keep names short (under 32 characters) and keep the
relative seniority of the roles recognizable.

Respond with one line per rename, in exactly this format:
OLD NAME -> NEW NAME

Only include roles whose name should change. Do not add commentary.`

// OpenAIRoleNamer asks a chat completion model for themed role names
// and parses the "OLD -> NEW" lines out of the reply.
type OpenAIRoleNamer struct {
	client      *openai.Client
	model       string
	temperature float32
	maxTokens   int
	logger      *slog.Logger
}

func NewOpenAIRoleNamer(cfg *OpenAIConfig, logger *slog.Logger) *OpenAIRoleNamer {
	if logger == nil {
		logger = slog.Default()
	}
	return &OpenAIRoleNamer{
		client:      openai.NewClient(cfg.Token),
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		logger:      logger.With(loggerNameKey, "role_namer"),
	}
}

func (n *OpenAIRoleNamer) SuggestRenames(
	ctx context.Context,
	guildContext string,
	roles []GuildRole,
) ([]RoleRename, error) {
	if len(roles) == 0 {
		return nil, nil
	}

	var sb strings.Builder
	sb.WriteString("Theme: ")
	if guildContext == "" {
		guildContext = "tidy, consistent naming"
	}
	sb.WriteString(guildContext)
	sb.WriteString("\n\nCurrent roles (highest first):\n")
	for _, role := range roles {
		fmt.Fprintf(&sb, "- %s\n", role.Name)
	}

	resp, err := n.client.CreateChatCompletion(
		ctx,
		openai.ChatCompletionRequest{
			Model:       n.model,
			Temperature: n.temperature,
			MaxTokens:   n.maxTokens,
			Messages: []openai.ChatCompletionMessage{
				{
					Role:    openai.ChatMessageRoleSystem,
					Content: roleNamerSystemPrompt,
				},
				{
					Role:    openai.ChatMessageRoleUser,
					Content: sb.String(),
				},
			},
		},
	)
	if err != nil {
		return nil, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("chat completion returned no choices")
	}

	content := resp.Choices[0].Message.Content
	n.logger.Debug(
		"rename suggestions received",
		"model", resp.Model,
		"prompt_tokens", resp.Usage.PromptTokens,
		"completion_tokens", resp.Usage.CompletionTokens,
	)
	return parseRenameLines(content, roles), nil
}

// parseRenameLines extracts "OLD -> NEW" pairs from the model reply and
// matches OLD against the known roles case-insensitively. Lines that
// don't match a known role, or that rename a role to itself, are
// dropped.
func parseRenameLines(content string, roles []GuildRole) []RoleRename {
	byName := make(map[string]GuildRole, len(roles))
	for _, role := range roles {
		byName[strings.ToLower(role.Name)] = role
	}

	var out []RoleRename
	seen := map[string]bool{}
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), "-"))
		if line == "" {
			continue
		}

		sep := " -> "
		idx := strings.Index(line, sep)
		if idx < 0 {
			sep = " → "
			idx = strings.Index(line, sep)
		}
		if idx < 0 {
			continue
		}

		oldName := strings.TrimSpace(line[:idx])
		newName := strings.TrimSpace(line[idx+len(sep):])
		if oldName == "" || newName == "" || len(newName) > 100 {
			continue
		}

		role, ok := byName[strings.ToLower(oldName)]
		if !ok || seen[role.ID] {
			continue
		}
		if strings.EqualFold(role.Name, newName) {
			continue
		}
		seen[role.ID] = true
		out = append(
			out, RoleRename{
				RoleID:  role.ID,
				OldName: role.Name,
				NewName: newName,
			},
		)
	}
	return out
}
