package gemini

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sessionbroker/broker/internal/launcher"
	"github.com/sessionbroker/broker/internal/session"
	"github.com/sessionbroker/broker/pkg/types"
)

func TestConnectStreamsStdoutAsMessages(t *testing.T) {
	a := New(launcher.New(), Config{Command: []string{"sh", "-c",
		`printf '{"type":"session_start","sessionId":"b1","cwd":"/tmp"}\n{"type":"text","text":"hello"}\n'`,
	}})

	bs, err := a.Connect(context.Background(), "sess-1", session.ConnectOptions{})
	require.NoError(t, err)
	defer bs.Close()

	var got []*types.UnifiedMessage
	for i := 0; i < 2; i++ {
		select {
		case msg := <-bs.Messages():
			require.NotNil(t, msg)
			got = append(got, msg)
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for message")
		}
	}

	assert.Equal(t, types.TypeSessionInit, got[0].Type)
	assert.Equal(t, "b1", got[0].MetaString("backend_session_id"))
	assert.Equal(t, types.TypeAssistant, got[1].Type)
	assert.Equal(t, "hello", got[1].Text())
}

func TestSendWritesToStdin(t *testing.T) {
	a := New(launcher.New(), Config{Command: []string{"cat"}})
	bs, err := a.Connect(context.Background(), "sess-2", session.ConnectOptions{})
	require.NoError(t, err)
	defer bs.Close()

	err = bs.Send(&types.UnifiedMessage{
		Type:    types.TypeUserMessage,
		Content: []types.UnifiedContent{types.ContentText{Text: "ping"}},
	})
	assert.NoError(t, err)
}

func TestMessagesClosesOnExit(t *testing.T) {
	a := New(launcher.New(), Config{Command: []string{"true"}})
	bs, err := a.Connect(context.Background(), "sess-3", session.ConnectOptions{})
	require.NoError(t, err)

	select {
	case _, ok := <-bs.Messages():
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for channel close")
	}
}

func TestCapabilities(t *testing.T) {
	a := New(launcher.New(), Config{})
	assert.Equal(t, "gemini", a.Name())
	caps := a.Capabilities()
	assert.Equal(t, session.AvailabilityLocal, caps.Availability)
	assert.True(t, caps.SlashCommands)
}
