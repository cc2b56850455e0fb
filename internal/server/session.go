package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/npezzotti/roomchat/internal/stats"
	"github.com/npezzotti/roomchat/internal/types"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = (pongWait * 9) / 10
	maxMessageSize = 8192
	sendBufferSize = 256
)

// Session binds one websocket connection to an authenticated principal and
// tracks the rooms it has joined.
type Session struct {
	id        string
	conn      *websocket.Conn
	cs        *ChatServer
	log       *log.Logger
	principal types.Principal
	send      chan *ServerMessage
	rooms     map[string]*Room
	roomsLock sync.RWMutex
	closed    atomic.Bool
	closeOnce sync.Once
	stop      chan struct{}
}

type sessionHandler func(s *Session, msg *ClientMessage)

var sessionHandlers = map[EventType]sessionHandler{
	EventJoinRoom:    (*Session).joinRoom,
	EventLeaveRoom:   (*Session).leaveRoom,
	EventSendMessage: (*Session).routeToRoom,
	EventTypingStart: (*Session).routeToRoom,
	EventTypingStop:  (*Session).routeToRoom,
}

func newSession(cs *ChatServer, principal types.Principal, conn *websocket.Conn) *Session {
	return &Session{
		id:        uuid.NewString(),
		conn:      conn,
		cs:        cs,
		log:       cs.log,
		principal: principal,
		send:      make(chan *ServerMessage, sendBufferSize),
		rooms:     make(map[string]*Room),
		stop:      make(chan struct{}),
	}
}

func (s *Session) Id() string {
	return s.id
}

func (s *Session) Principal() types.Principal {
	return s.principal
}

func (s *Session) Write() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case msg := <-s.send:
			if !s.writeServerMessage(msg) {
				return
			}
		case <-s.stop:
			s.flush()
			s.sendMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case <-ticker.C:
			if !s.sendMessage(websocket.PingMessage, nil) {
				return
			}
		}
	}
}

// flush writes whatever was queued before the session closed.
func (s *Session) flush() {
	for {
		select {
		case msg := <-s.send:
			if !s.writeServerMessage(msg) {
				return
			}
		default:
			return
		}
	}
}

func (s *Session) Read() {
	defer func() {
		s.conn.Close()
		s.close()
	}()

	s.conn.SetReadLimit(maxMessageSize)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error { s.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				s.log.Printf("ws: read: %v", err)
			}
			return
		}

		s.handle(raw)
		if s.closed.Load() {
			return
		}
	}
}

// handle decodes one client frame and dispatches it.
func (s *Session) handle(raw []byte) {
	var msg ClientMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		s.log.Println("error parsing message:", err)
		s.queueMessage(ErrInvalidMessage(0))
		return
	}

	handler, ok := sessionHandlers[msg.Event]
	if !ok {
		s.queueMessage(ErrorMessage(msg.Id, fmt.Errorf("%w: unknown event %q", types.ErrValidation, msg.Event)))
		return
	}
	if msg.RoomId == "" {
		s.queueMessage(ErrorMessage(msg.Id, fmt.Errorf("%w: room_id is required", types.ErrValidation)))
		return
	}

	msg.session = s
	msg.UserId = s.principal.UserId
	msg.Timestamp = Now()

	if err := s.cs.checkActive(s.principal.UserId); err != nil {
		s.queueMessage(ErrorMessage(msg.Id, err))
		if errors.Is(err, types.ErrAccountInactive) {
			s.log.Printf("closing session %s: %v", s.id, err)
			s.close()
		}
		return
	}

	handler(s, &msg)
}

func (s *Session) joinRoom(msg *ClientMessage) {
	ctx, cancel := context.WithTimeout(context.Background(), s.cs.storageTimeout)
	defer cancel()

	room, err := s.cs.members.GetRoom(ctx, msg.RoomId, msg.UserId)
	if err != nil {
		s.queueMessage(ErrorMessage(msg.Id, err))
		return
	}

	msg.room = &room
	if !s.cs.route(msg) {
		s.queueMessage(ErrServiceUnavailable(msg.Id))
	}
}

func (s *Session) leaveRoom(msg *ClientMessage) {
	r := s.getRoom(msg.RoomId)
	if r == nil {
		s.queueMessage(NoErrOK(msg.Id, nil))
		return
	}

	if !r.enqueue(msg) {
		s.log.Printf("inbox full for room %q", r.id)
		s.queueMessage(ErrServiceUnavailable(msg.Id))
	}
}

// routeToRoom authorizes a room-scoped event and hands it to the room.
func (s *Session) routeToRoom(msg *ClientMessage) {
	ctx, cancel := context.WithTimeout(context.Background(), s.cs.storageTimeout)
	defer cancel()

	if err := s.cs.members.Authorize(ctx, msg.RoomId, msg.UserId); err != nil {
		s.queueMessage(ErrorMessage(msg.Id, err))
		return
	}

	if !s.cs.route(msg) {
		s.queueMessage(ErrServiceUnavailable(msg.Id))
	}
}

// queueMessage hands msg to the writer without blocking. Messages to a
// closed session or a full buffer are dropped.
func (s *Session) queueMessage(msg *ServerMessage) bool {
	if s.closed.Load() {
		return false
	}

	select {
	case s.send <- msg:
	default:
		s.log.Printf("send buffer full for session %s, dropping %s", s.id, msg.Event)
		s.cs.stats.Incr(stats.EventsDropped)
		return false
	}

	return true
}

func (s *Session) writeServerMessage(msg *ServerMessage) bool {
	bytes, err := serializeMessage(msg)
	if err != nil {
		s.log.Println("failed to serialize message:", err)
		return true
	}
	return s.sendMessage(websocket.TextMessage, bytes)
}

func serializeMessage(msg *ServerMessage) ([]byte, error) {
	return json.Marshal(msg)
}

func (s *Session) sendMessage(msgType int, msg []byte) bool {
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))

	if err := s.conn.WriteMessage(msgType, msg); err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
			websocket.CloseNormalClosure) {
			s.log.Printf("write message: %s", err)
		}
		return false
	}

	return true
}

// close tears the session down. It is safe to call more than once and from
// any goroutine other than a room's.
func (s *Session) close() {
	s.closeOnce.Do(func() {
		s.roomsLock.Lock()
		s.closed.Store(true)
		rooms := make([]*Room, 0, len(s.rooms))
		for _, r := range s.rooms {
			rooms = append(rooms, r)
		}
		s.roomsLock.Unlock()

		s.cs.unregister(s)

		for _, r := range rooms {
			msg := &ClientMessage{
				Event:   eventDisconnect,
				RoomId:  r.id,
				UserId:  s.principal.UserId,
				session: s,
			}
			select {
			case r.inbox <- msg:
			case <-r.done:
			}
		}

		close(s.stop)
	})
}

func (s *Session) isClosed() bool {
	return s.closed.Load()
}

// addRoom records r as joined. It fails once the session is closed.
func (s *Session) addRoom(r *Room) bool {
	s.roomsLock.Lock()
	defer s.roomsLock.Unlock()

	if s.closed.Load() {
		return false
	}
	s.rooms[r.id] = r
	return true
}

func (s *Session) delRoom(id string) {
	s.roomsLock.Lock()
	defer s.roomsLock.Unlock()
	delete(s.rooms, id)
}

func (s *Session) getRoom(id string) *Room {
	s.roomsLock.RLock()
	defer s.roomsLock.RUnlock()
	return s.rooms[id]
}

// JoinedRooms returns the ids of the rooms the session is in.
func (s *Session) JoinedRooms() []string {
	s.roomsLock.RLock()
	defer s.roomsLock.RUnlock()

	ids := make([]string, 0, len(s.rooms))
	for id := range s.rooms {
		ids = append(ids, id)
	}
	return ids
}
