package integration

import (
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"aiscript/pkg/types"
)

const waitTimeout = 5 * time.Second

// testClient is a WebSocket peer that collects every frame the server sends.
type testClient struct {
	t        *testing.T
	userID   string
	conn     *websocket.Conn
	messages chan types.Envelope
}

func dialURL(serverURL string) string {
	return "ws" + strings.TrimPrefix(serverURL, "http") + "/ws"
}

func connect(t *testing.T, serverURL, userID, token string) *testClient {
	t.Helper()

	header := http.Header{}
	header.Set("authorization", "Bearer "+token)
	header.Set("userId", userID)

	conn, resp, err := websocket.DefaultDialer.Dial(dialURL(serverURL), header)
	require.NoError(t, err)
	resp.Body.Close()

	c := &testClient{
		t:        t,
		userID:   userID,
		conn:     conn,
		messages: make(chan types.Envelope, 256),
	}
	go c.readLoop()
	t.Cleanup(func() { _ = conn.Close() })
	return c
}

func (c *testClient) readLoop() {
	defer close(c.messages)
	for {
		var envelope types.Envelope
		if err := c.conn.ReadJSON(&envelope); err != nil {
			return
		}
		select {
		case c.messages <- envelope:
		default:
			c.t.Logf("client %s dropped %s", c.userID, envelope.Event)
		}
	}
}

func (c *testClient) send(event string, data interface{}) {
	c.t.Helper()
	require.NoError(c.t, c.conn.WriteJSON(map[string]interface{}{"event": event, "data": data}))
}

// waitFor skips frames until one named event satisfies match and returns its payload.
func (c *testClient) waitFor(event string, match func(data json.RawMessage) bool) json.RawMessage {
	c.t.Helper()
	deadline := time.After(waitTimeout)
	for {
		select {
		case envelope, ok := <-c.messages:
			require.True(c.t, ok, "%s: connection closed while waiting for %s", c.userID, event)
			if envelope.Event == event && (match == nil || match(envelope.Data)) {
				return envelope.Data
			}
		case <-deadline:
			c.t.Fatalf("%s: timed out waiting for %s", c.userID, event)
			return nil
		}
	}
}

func decode[T any](t *testing.T, data json.RawMessage) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(data, &out))
	return out
}

// waitStatus waits for a status event about this client's user.
func (c *testClient) waitStatus(class types.QueueClass, status types.QueueStatus) types.QueueStatusEvent {
	c.t.Helper()
	data := c.waitFor(class.StatusEvent(), func(data json.RawMessage) bool {
		var got types.QueueStatusEvent
		return json.Unmarshal(data, &got) == nil && got.Status == status && got.UserID == c.userID
	})
	return decode[types.QueueStatusEvent](c.t, data)
}
