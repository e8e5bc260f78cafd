// Package command implements the broker's Slash Command Service.
//
// A consumer-originated "/name args" instruction is resolved through
// three tiers, tried in order (spec §4.6):
//
//  1. Adapter-specific executor: a backend that exposes a native
//     command channel gets first refusal. A claimed command returns
//     its content with Source "adapter"; an unclaimed one falls
//     through.
//  2. Emulated: the local Registry's built-ins (/help, /clear,
//     /compact) run directly against the session via the Ops
//     interface, Source "emulated".
//  3. Native passthrough: when the adapter's capability descriptor
//     reports slashCommands=true, the raw "/name args" text is sent to
//     the backend as an ordinary user_message, and a
//     PassthroughDescriptor is handed back for the caller to track.
//     The next backend-echoed user message matching the command is
//     intercepted, its <local-command-stdout> wrapper stripped via
//     StripEcho, and turned into a slash_command_result with Source
//     "cli".
//
// Registry is rebuilt on every session_init from the backend's
// reported slash_commands and skills, seeded with the fixed built-in
// set.
package command
