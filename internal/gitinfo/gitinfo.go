// Package gitinfo resolves and watches the git state of a session's
// working directory, surfacing it as types.GitInfo on SessionState.
package gitinfo

import (
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"

	"github.com/sessionbroker/broker/internal/event"
	"github.com/sessionbroker/broker/pkg/types"
)

// Resolve computes the current GitInfo for workDir. Returns nil if
// workDir is not inside a git repository.
func Resolve(workDir string) *types.GitInfo {
	gitDir := findGitDir(workDir)
	if gitDir == "" {
		return nil
	}

	return &types.GitInfo{
		Branch:       getCurrentBranch(workDir),
		Commit:       getCurrentCommit(workDir),
		Dirty:        isDirty(workDir),
		AheadBehind:  getAheadBehind(workDir),
		RemoteURL:    getRemoteURL(workDir),
		ResolvedAtMs: time.Now().UnixMilli(),
	}
}

// Watcher watches a session's working directory for git state changes
// (branch switches, commits, staged/unstaged edits) by monitoring its
// .git directory, and publishes session:git_updated when the resolved
// GitInfo changes.
type Watcher struct {
	watcher   *fsnotify.Watcher
	sessionID string
	workDir   string
	gitDir    string
	current   *types.GitInfo
	stopCh    chan struct{}
	doneCh    chan struct{}
	started   bool
	mu        sync.RWMutex
}

// NewWatcher creates a git-info watcher for sessionID's workDir.
// Returns nil, nil if workDir is not a git repository.
func NewWatcher(sessionID, workDir string) (*Watcher, error) {
	gitDir := findGitDir(workDir)
	if gitDir == "" {
		log.Debug().Str("sessionId", sessionID).Str("workDir", workDir).Msg("not a git repository, git-info watcher disabled")
		return nil, nil
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	if err := w.Add(gitDir); err != nil {
		w.Close()
		return nil, err
	}

	info := Resolve(workDir)
	log.Info().Str("sessionId", sessionID).Str("branch", info.Branch).Str("gitDir", gitDir).Msg("git-info watcher initialized")

	return &Watcher{
		watcher:   w,
		sessionID: sessionID,
		workDir:   workDir,
		gitDir:    gitDir,
		current:   info,
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}, nil
}

// Start begins watching for git state changes.
func (w *Watcher) Start() {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return
	}
	w.started = true
	w.mu.Unlock()
	go w.run()
}

func (w *Watcher) run() {
	defer close(w.doneCh)

	for {
		select {
		case <-w.stopCh:
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				if strings.HasSuffix(ev.Name, "HEAD") || strings.Contains(ev.Name, "index") || strings.Contains(ev.Name, "refs") {
					w.refresh()
				}
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Error().Err(err).Str("sessionId", w.sessionID).Msg("git-info watcher error")
		}
	}
}

func (w *Watcher) refresh() {
	next := Resolve(w.workDir)

	w.mu.Lock()
	prev := w.current
	changed := gitInfoChanged(prev, next)
	if changed {
		w.current = next
	}
	w.mu.Unlock()

	if changed {
		log.Info().Str("sessionId", w.sessionID).Str("branch", next.Branch).Msg("git state changed")
		event.Publish(event.Event{
			Type: event.SessionGitUpdated,
			Data: event.SessionGitUpdatedData{SessionID: w.sessionID, Git: next},
		})
	}
}

func gitInfoChanged(a, b *types.GitInfo) bool {
	if a == nil || b == nil {
		return a != b
	}
	return a.Branch != b.Branch || a.Commit != b.Commit || a.Dirty != b.Dirty || a.AheadBehind != b.AheadBehind
}

// Current returns the most recently resolved GitInfo.
func (w *Watcher) Current() *types.GitInfo {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// Stop stops the watcher.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	started := w.started
	w.mu.Unlock()

	select {
	case <-w.stopCh:
	default:
		close(w.stopCh)
	}

	if started {
		<-w.doneCh
	}

	return w.watcher.Close()
}

// findGitDir finds the .git directory for a given work directory.
// Handles both regular repos (.git directory) and worktrees (.git file).
func findGitDir(workDir string) string {
	cmd := exec.Command("git", "rev-parse", "--git-dir")
	cmd.Dir = workDir
	out, err := cmd.Output()
	if err != nil {
		return ""
	}

	gitDir := strings.TrimSpace(string(out))
	if !filepath.IsAbs(gitDir) {
		gitDir = filepath.Join(workDir, gitDir)
	}
	return gitDir
}

func getCurrentBranch(workDir string) string {
	cmd := exec.Command("git", "rev-parse", "--abbrev-ref", "HEAD")
	cmd.Dir = workDir
	out, err := cmd.Output()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(out))
}

func getCurrentCommit(workDir string) string {
	cmd := exec.Command("git", "rev-parse", "--short", "HEAD")
	cmd.Dir = workDir
	out, err := cmd.Output()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(out))
}

func isDirty(workDir string) bool {
	cmd := exec.Command("git", "status", "--porcelain")
	cmd.Dir = workDir
	out, err := cmd.Output()
	if err != nil {
		return false
	}
	return len(strings.TrimSpace(string(out))) > 0
}

// getAheadBehind returns "ahead,behind" counts relative to the branch's
// upstream, or "" if there is no upstream configured.
func getAheadBehind(workDir string) string {
	cmd := exec.Command("git", "rev-list", "--left-right", "--count", "HEAD...@{upstream}")
	cmd.Dir = workDir
	out, err := cmd.Output()
	if err != nil {
		return ""
	}
	fields := strings.Fields(strings.TrimSpace(string(out)))
	if len(fields) != 2 {
		return ""
	}
	ahead, err1 := strconv.Atoi(fields[0])
	behind, err2 := strconv.Atoi(fields[1])
	if err1 != nil || err2 != nil {
		return ""
	}
	return strconv.Itoa(ahead) + "," + strconv.Itoa(behind)
}

func getRemoteURL(workDir string) string {
	cmd := exec.Command("git", "remote", "get-url", "origin")
	cmd.Dir = workDir
	out, err := cmd.Output()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(out))
}
