// Package steward implements a Discord moderation bot that interprets
// natural-language admin requests and executes them after explicit
// reaction confirmation.
//
// Messages that mention the bot run through a pipeline: a weighted
// keyword classifier picks the intended action, per-action extractors
// pull out parameters, the resolver turns names, mentions, and pronouns
// into concrete guild entities, and a permission gate checks the
// requester's authorization and the bot's role hierarchy. Only then is
// a confirmation prompt posted; the requester approves with a reaction
// inside a bounded window, after which the action is executed against
// the Discord API and recorded in the audit trail.
//
// Key components of the package include:
//
//   - Steward: The main struct that ties the components together.
//   - Interpreter: The classify/extract/resolve/gate/confirm pipeline.
//   - Executor: Dispatches confirmed actions to Discord.
//   - Discord: Gateway session management and event handlers.
//   - API: A read-only status and audit HTTP server.
//
// Supported actions cover member moderation (kick, ban, unban, timeout,
// nickname), role management (assign, remove, rename, themed
// reorganization), message cleanup, and channel management.
package steward
