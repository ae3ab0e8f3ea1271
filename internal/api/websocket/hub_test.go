package websocket

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/KevinKickass/OpenHarnessCore/internal/boards"
	"github.com/KevinKickass/OpenHarnessCore/internal/protocol"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type staticBoards []boards.BoardSnapshot

func (s staticBoards) Snapshot() []boards.BoardSnapshot { return s }

type received struct {
	Type MessageType     `json:"type"`
	Data json.RawMessage `json:"data"`
}

func startHub(t *testing.T) (*Hub, *websocket.Conn) {
	t.Helper()
	hub := NewHub(zaptest.NewLogger(t), staticBoards{{Address: 1, ControllerID: "c1"}})

	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ServeWs(hub, w, r)
	}))

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)

	t.Cleanup(func() {
		conn.Close()
		cancel()
		srv.Close()
	})
	return hub, conn
}

// readUntil returns the first message of the wanted type, skipping others.
func readUntil(t *testing.T, conn *websocket.Conn, want MessageType) received {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		for _, line := range bytes.Split(data, []byte{'\n'}) {
			var msg received
			require.NoError(t, json.Unmarshal(line, &msg))
			if msg.Type == want {
				return msg
			}
		}
	}
}

func TestHubSendsSnapshotOnConnect(t *testing.T) {
	hub, conn := startHub(t)

	msg := readUntil(t, conn, MessageTypeSnapshot)
	var snap []boards.BoardSnapshot
	require.NoError(t, json.Unmarshal(msg.Data, &snap))
	require.Len(t, snap, 1)
	assert.Equal(t, uint8(1), snap[0].Address)

	assert.Eventually(t, func() bool { return hub.GetClientCount() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "snapshot"}))
	readUntil(t, conn, MessageTypeSnapshot)
}

func TestHubForwardsAggregatorEvents(t *testing.T) {
	hub, conn := startHub(t)
	readUntil(t, conn, MessageTypeSnapshot)

	events := make(chan boards.Event, 2)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Forward(ctx, events)

	pin := boards.PinSnapshot{Descriptor: boards.PinDescriptor{Ref: protocol.PinRef{Board: 1, Index: 3}}, Healthy: true}
	events <- boards.Event{Type: boards.EventPinUpdated, ControllerID: "c1", Pin: &pin}

	msg := readUntil(t, conn, MessageTypePinUpdated)
	var got boards.PinSnapshot
	require.NoError(t, json.Unmarshal(msg.Data, &got))
	assert.Equal(t, pin.Descriptor.Ref, got.Descriptor.Ref)
	assert.True(t, got.Healthy)

	hub.NotifyError("controller lost")
	msg = readUntil(t, conn, MessageTypeError)
	assert.JSONEq(t, `{"message":"controller lost"}`, string(msg.Data))
}

func TestNewBoardsEventMessage(t *testing.T) {
	msg, ok := NewBoardsEventMessage(boards.Event{Type: boards.EventBoardsUpdated, Boards: []uint8{1, 2}})
	require.True(t, ok)
	assert.Equal(t, MessageTypeBoardsUpdated, msg.Type)
	assert.Equal(t, BoardsUpdatedData{Boards: []uint8{1, 2}}, msg.Data)

	_, ok = NewBoardsEventMessage(boards.Event{Type: boards.EventPinUpdated})
	assert.False(t, ok)
}
