package relay

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/koscakluka/ema-chat/core/events"
	"github.com/koscakluka/ema-chat/core/llms"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dial(t *testing.T, server *httptest.Server) *websocket.Conn {
	t.Helper()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestBroadcasterRelaysTranscriptEvents(t *testing.T) {
	b := NewBroadcaster()
	server := httptest.NewServer(b.Handler())
	defer server.Close()
	defer b.Close()

	first, second := dial(t, server), dial(t, server)
	require.Eventually(t, func() bool { return b.SubscriberCount() == 2 }, time.Second, 5*time.Millisecond)

	message := llms.Message{ID: "m1", Role: llms.MessageRoleAssistant, Content: "partial", Stage: llms.MessageStageErrorFinalized}
	b.Handle(events.NewAssistantMessageFailed(message, errors.New("boom"), []llms.Message{message}))

	for _, conn := range []*websocket.Conn{first, second} {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))

		var frame Frame
		require.NoError(t, conn.ReadJSON(&frame))
		assert.Equal(t, string(events.KindAssistantMessageFailed), frame.Kind)
		assert.Equal(t, "m1", frame.Message.ID)
		assert.Equal(t, "error_finalized", frame.Message.Stage)
		assert.Equal(t, "boom", frame.Error)
		assert.Len(t, frame.Transcript, 1)
	}
}

func TestBroadcasterForgetsClosedSubscribers(t *testing.T) {
	b := NewBroadcaster()
	server := httptest.NewServer(b.Handler())
	defer server.Close()

	conn := dial(t, server)
	require.Eventually(t, func() bool { return b.SubscriberCount() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool { return b.SubscriberCount() == 0 }, time.Second, 5*time.Millisecond)
}

func TestBroadcasterRejectsSubscribersAfterClose(t *testing.T) {
	b := NewBroadcaster()
	server := httptest.NewServer(b.Handler())
	defer server.Close()

	b.Close()
	conn := dial(t, server)
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))

	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "expected going away close, got %v", err)
	assert.Zero(t, b.SubscriberCount())
}

func TestFrameFromEventCarriesCitations(t *testing.T) {
	message := llms.Message{ID: "m1", Role: llms.MessageRoleAssistant, Stage: llms.MessageStageStreaming}

	frame, ok := FrameFromEvent(events.NewAssistantMessageCitationsUpdated(message, []string{"a.pdf"}, nil))
	require.True(t, ok)
	assert.Equal(t, []string{"a.pdf"}, frame.Citations)
	assert.Equal(t, "streaming", frame.Message.Stage)
	assert.Empty(t, frame.Transcript)
}

func TestSchemaEndpoint(t *testing.T) {
	server := httptest.NewServer(NewBroadcaster().Handler())
	defer server.Close()

	resp, err := http.Get(server.URL + "/schema")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var schema struct {
		Type       string                     `json:"type"`
		Properties map[string]json.RawMessage `json:"properties"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&schema))
	assert.Equal(t, "object", schema.Type)
	assert.Contains(t, schema.Properties, "kind")
	assert.Contains(t, schema.Properties, "message")
	assert.Contains(t, string(schema.Properties["kind"]), "assistant_message.finalized")
}
