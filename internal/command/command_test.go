package command

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeOps struct {
	cleared   bool
	compacted bool
	compactErr error
}

func (f *fakeOps) ClearHistory()          { f.cleared = true }
func (f *fakeOps) RequestCompaction() error { f.compacted = true; return f.compactErr }
func (f *fakeOps) ListCommands() []Descriptor { return Builtins() }

type fakeAdapter struct {
	claim   bool
	content string
	err     error
}

func (f *fakeAdapter) ExecuteSlashCommand(_ context.Context, _, _ string) (string, bool, error) {
	return f.content, f.claim, f.err
}

func TestRegistry_ResetAndLookup(t *testing.T) {
	r := NewRegistry()
	_, ok := r.Lookup("help")
	assert.True(t, ok)

	r.Reset([]string{"review"}, []string{"deploy"})
	_, ok = r.Lookup("help")
	assert.True(t, ok, "builtins survive a reset")
	d, ok := r.Lookup("review")
	require.True(t, ok)
	assert.Equal(t, "slash_commands", d.Origin)
	d, ok = r.Lookup("deploy")
	require.True(t, ok)
	assert.Equal(t, "skill", d.Origin)
}

func TestRegistry_IsBuiltin(t *testing.T) {
	r := NewRegistry()
	assert.True(t, r.IsBuiltin("clear"))
	assert.False(t, r.IsBuiltin("nonexistent"))
}

func TestResolve_AdapterTierWins(t *testing.T) {
	r := NewRegistry()
	ops := &fakeOps{}
	adapter := &fakeAdapter{claim: true, content: "adapter output"}

	result, desc, err := Resolve(context.Background(), r, "help", "", adapter, ops, true)
	require.NoError(t, err)
	require.Nil(t, desc)
	require.NotNil(t, result)
	assert.Equal(t, SourceAdapter, result.Source)
	assert.Equal(t, "adapter output", result.Content)
}

func TestResolve_AdapterError(t *testing.T) {
	r := NewRegistry()
	ops := &fakeOps{}
	adapter := &fakeAdapter{claim: true, err: errors.New("boom")}

	_, _, err := Resolve(context.Background(), r, "help", "", adapter, ops, true)
	assert.Error(t, err)
}

func TestResolve_FallsThroughToEmulated(t *testing.T) {
	r := NewRegistry()
	ops := &fakeOps{}
	adapter := &fakeAdapter{claim: false}

	result, desc, err := Resolve(context.Background(), r, "clear", "", adapter, ops, true)
	require.NoError(t, err)
	require.Nil(t, desc)
	require.NotNil(t, result)
	assert.Equal(t, SourceEmulated, result.Source)
	assert.True(t, ops.cleared)
}

func TestResolve_Passthrough(t *testing.T) {
	r := NewRegistry()
	ops := &fakeOps{}

	result, desc, err := Resolve(context.Background(), r, "review", "pr 42", nil, ops, true)
	require.NoError(t, err)
	require.Nil(t, result)
	require.NotNil(t, desc)
	assert.Equal(t, "/review pr 42", desc.Command)
	assert.NotEmpty(t, desc.SlashRequestID)
	assert.NotEmpty(t, desc.TraceID)
}

func TestResolve_UnknownCommandNoPassthrough(t *testing.T) {
	r := NewRegistry()
	ops := &fakeOps{}

	_, _, err := Resolve(context.Background(), r, "nonexistent", "", nil, ops, false)
	assert.ErrorIs(t, err, ErrUnknownCommand)
}

func TestParseCommand(t *testing.T) {
	name, args := ParseCommand("/review pr 42")
	assert.Equal(t, "review", name)
	assert.Equal(t, "pr 42", args)

	name, args = ParseCommand("help")
	assert.Equal(t, "help", name)
	assert.Empty(t, args)
}

func TestRawCommand(t *testing.T) {
	assert.Equal(t, "/help", RawCommand("help", ""))
	assert.Equal(t, "/review pr 42", RawCommand("review", "pr 42"))
}

func TestStripEcho(t *testing.T) {
	wrapped := "prefix <local-command-stdout>  the real output  </local-command-stdout> suffix"
	assert.Equal(t, "the real output", StripEcho(wrapped))
	assert.Equal(t, "no wrapper here", StripEcho("no wrapper here"))
}

func TestMatchesEcho(t *testing.T) {
	assert.True(t, MatchesEcho("/review pr 42\nmore text", "/review pr 42"))
	assert.False(t, MatchesEcho("something else", "/review pr 42"))
}

func TestExecuteBuiltin_CompactError(t *testing.T) {
	ops := &fakeOps{compactErr: errors.New("no budget")}
	_, handled, err := ExecuteBuiltin("compact", "", ops)
	assert.True(t, handled)
	assert.Error(t, err)
}

func TestExecuteBuiltin_Unknown(t *testing.T) {
	ops := &fakeOps{}
	_, handled, err := ExecuteBuiltin("nonexistent", "", ops)
	assert.False(t, handled)
	assert.NoError(t, err)
}
