package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/roomchat/internal/stats"
	"github.com/npezzotti/roomchat/internal/testutil"
	"github.com/npezzotti/roomchat/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_queueMessage(t *testing.T) {
	t.Run("successful queue", func(t *testing.T) {
		s := &Session{
			send: make(chan *ServerMessage, 1),
			log:  testutil.TestLogger(t),
		}

		res := s.queueMessage(&ServerMessage{})
		assert.True(t, res, "expected queueMessage to return true when channel is not full")

		select {
		case msg := <-s.send:
			assert.NotNil(t, msg, "expected a message to be sent to the session")
		default:
			t.Error("expected a message to be sent to the session, but none was sent")
		}
	})
	t.Run("channel full", func(t *testing.T) {
		su := &stats.MockStatsUpdater{}
		defer su.AssertExpectations(t)
		su.On("Incr", stats.EventsDropped).Once()

		s := &Session{
			send: make(chan *ServerMessage, 1),
			log:  testutil.TestLogger(t),
			cs:   &ChatServer{stats: su},
		}

		s.send <- &ServerMessage{} // Pre-fill the send channel to simulate a full channel
		res := s.queueMessage(&ServerMessage{Event: EventTypingIndicator})
		assert.False(t, res, "expected queueMessage to return false when channel is full")
	})
	t.Run("closed session", func(t *testing.T) {
		s := &Session{
			send: make(chan *ServerMessage, 1),
			log:  testutil.TestLogger(t),
		}
		s.closed.Store(true)

		assert.False(t, s.queueMessage(&ServerMessage{}), "expected closed session to drop messages")
		assert.Empty(t, s.send)
	})
}

func Test_serializeMessage(t *testing.T) {
	message := &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        1,
			Timestamp: Now(),
		},
		Event: EventAck,
		Response: &Response{
			ResponseCode: 200,
			Data:         "test data",
		},
	}

	expected := `{"id":1,"timestamp":"` + message.Timestamp.Format(time.RFC3339Nano) +
		`","event":"ack","response":{"code":200,"data":"test data"}}`

	bytes, err := serializeMessage(message)
	assert.NoError(t, err, "expected no error during serialization")
	assert.Equal(t, expected, string(bytes), "expected serialized message to match the expected format")
}

func TestSession_handleInvalidFrames(t *testing.T) {
	env := newTestEnv(t)
	s := env.session(t, env.users[0])

	tcases := []struct {
		name    string
		raw     string
		id      int
		message string
	}{
		{
			name:    "malformed json",
			raw:     `{"event":`,
			message: "invalid message format",
		},
		{
			name:    "unknown event",
			raw:     `{"id":4,"event":"dance","room_id":"r"}`,
			id:      4,
			message: `unknown event "dance"`,
		},
		{
			name:    "missing room",
			raw:     `{"id":5,"event":"join-room"}`,
			id:      5,
			message: "room_id is required",
		},
		{
			name:    "internal events are rejected",
			raw:     `{"id":6,"event":"disconnect","room_id":"r"}`,
			id:      6,
			message: `unknown event "disconnect"`,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			s.handle([]byte(tc.raw))
			msg := expectEvent(t, s, EventError)
			assert.Equal(t, tc.id, msg.Id)
			assert.Equal(t, types.CodeValidation, msg.Error.Code)
			assert.Contains(t, msg.Error.Message, tc.message)
		})
	}
}

func TestSession_closeWithoutRooms(t *testing.T) {
	env := newTestEnv(t)
	s := env.session(t, env.users[0])

	s.close()
	s.close()

	select {
	case <-s.stop:
	default:
		t.Error("expected stop channel to be closed")
	}
	assert.False(t, s.addRoom(&Room{id: "late"}), "expected closed session to refuse rooms")
	assert.Empty(t, s.JoinedRooms())
}

func TestSession_Pumps(t *testing.T) {
	env := newTestEnv(t)
	principal := types.Principal{UserId: env.users[0], Role: types.RoleUser}

	attached := make(chan *Session, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := (&websocket.Upgrader{}).Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		s, err := env.cs.Attach(principal, conn)
		if err != nil {
			t.Errorf("attach: %v", err)
			conn.Close()
			return
		}
		attached <- s
		go s.Write()
		go s.Read()
	}))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()
	s := <-attached

	require.NoError(t, conn.WriteJSON(map[string]any{"id": 1, "event": EventJoinRoom, "room_id": env.room.Id}))

	conn.SetReadDeadline(time.Now().Add(time.Second))
	var ack struct {
		Id       int       `json:"id"`
		Event    EventType `json:"event"`
		Response struct {
			Code int `json:"code"`
			Data struct {
				Room   types.Room `json:"room"`
				Typing []int      `json:"typing"`
			} `json:"data"`
		} `json:"response"`
	}
	require.NoError(t, conn.ReadJSON(&ack))
	assert.Equal(t, 1, ack.Id)
	assert.Equal(t, EventAck, ack.Event)
	assert.Equal(t, 200, ack.Response.Code)
	assert.Equal(t, env.room.Id, ack.Response.Data.Room.Id)
	assert.Equal(t, []int{}, ack.Response.Data.Typing)

	require.NoError(t, conn.WriteJSON(map[string]any{
		"id": 2, "event": EventSendMessage, "room_id": env.room.Id, "content": "over the wire",
	}))
	var sent map[string]json.RawMessage
	require.NoError(t, conn.ReadJSON(&sent))
	assert.JSONEq(t, `"ack"`, string(sent["event"]))

	// closing the client connection tears the session down
	conn.Close()
	assert.Eventually(t, s.isClosed, time.Second, 10*time.Millisecond, "expected session to close with its connection")
	assert.Eventually(t, func() bool {
		return env.cs.Registry().Get(s.Id()) == nil
	}, time.Second, 10*time.Millisecond)
}
