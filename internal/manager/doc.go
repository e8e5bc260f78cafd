// Package manager implements the Session Manager facade (spec §4.9):
// the single entry point that creates sessions, connects them to a
// backend through the adapter registry, restores persisted state on
// startup, watches for dropped backend connections and relaunches
// them with backoff, reaps idle sessions, and coordinates an orderly
// shutdown. Nothing outside this package decides whether a session's
// backend connection lives or dies.
package manager
